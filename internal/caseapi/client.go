// Package caseapi is a core.CaseGateway that talks to a remote case service
// over HTTP. The remote side is the collaborator API served by cmd/server.
package caseapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/JonMunkholm/intake/internal/core"
)

// APIError is a non-2xx answer from the case service.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("case service: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("case service: %d: %s", e.Status, e.Message)
}

// Client implements core.CaseGateway over HTTP.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a client for the service at baseURL, authenticating with a
// bearer token when token is non-empty.
func New(baseURL, token string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid case service URL %q", baseURL)
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		// Per-request deadlines come from the caller's context.
		http: &http.Client{Timeout: 2 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type createImportResponse struct {
	ID string `json:"id"`
}

// CreateImport implements core.CaseGateway.
func (c *Client) CreateImport(ctx context.Context, rec core.ImportRecord) (string, error) {
	var out createImportResponse
	if err := c.do(ctx, http.MethodPost, "/api/imports", rec, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", errors.New("case service returned no import id")
	}
	return out.ID, nil
}

// UpdateImport implements core.CaseGateway.
func (c *Client) UpdateImport(ctx context.Context, id string, upd core.ImportUpdate) error {
	return c.do(ctx, http.MethodPatch, "/api/imports/"+url.PathEscape(id), upd, nil)
}

// BatchRequest is the body of a case batch request.
type BatchRequest struct {
	ImportID string             `json:"import_id"`
	Cases    []core.CasePayload `json:"cases"`
}

// BatchResponse is the body of a case batch answer.
type BatchResponse struct {
	Results []core.BatchResult `json:"results"`
}

// CreateCases implements core.CaseGateway.
func (c *Client) CreateCases(ctx context.Context, importID string, cases []core.CasePayload) ([]core.BatchResult, error) {
	var out BatchResponse
	if err := c.do(ctx, http.MethodPost, "/api/cases/batch", BatchRequest{ImportID: importID, Cases: cases}, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// CaseHistory fetches a case's history.
func (c *Client) CaseHistory(ctx context.Context, caseID string) ([]core.HistoryEntry, error) {
	var out struct {
		History []core.HistoryEntry `json:"history"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/cases/"+url.PathEscape(caseID)+"/history", nil, &out); err != nil {
		return nil, err
	}
	return out.History, nil
}

// ErrorBody is the error envelope returned by the service.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// decodeError maps an error answer onto core sentinels where one applies.
func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	var eb ErrorBody
	if json.Unmarshal(data, &eb) == nil && eb.Code != "" {
		apiErr.Code = eb.Code
		apiErr.Message = eb.Message
	}

	switch {
	case apiErr.Code == "SUB007" || resp.StatusCode == http.StatusRequestEntityTooLarge:
		return fmt.Errorf("%w: %s", core.ErrBatchTooLarge, apiErr)
	case resp.StatusCode == http.StatusNotFound && apiErr.Code == "DB004":
		if strings.Contains(strings.ToLower(apiErr.Message), "case") {
			return fmt.Errorf("%w: %s", core.ErrCaseNotFound, apiErr)
		}
		return fmt.Errorf("%w: %s", core.ErrImportNotFound, apiErr)
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", core.ErrNotAuthenticated, apiErr)
	}
	return apiErr
}

var _ core.CaseGateway = (*Client)(nil)
