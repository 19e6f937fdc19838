// Package sqlite implements the case gateway on SQLite (modernc.org/sqlite,
// no cgo). It backs single-binary deployments and tests.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/JonMunkholm/intake/internal/core"
)

// Store is a core.CaseGateway backed by SQLite.
type Store struct {
	db *sql.DB
}

// Open opens the database at dataSourceName (a file path or ":memory:").
func Open(dataSourceName string) (*Store, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite has a single writer; one connection also keeps ":memory:"
	// databases from splitting across connections.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

const schema = `
CREATE TABLE IF NOT EXISTS imports (
    id            TEXT PRIMARY KEY,
    file_name     TEXT NOT NULL,
    total_rows    INTEGER NOT NULL,
    status        TEXT NOT NULL CHECK(status IN ('PROCESSING', 'COMPLETED', 'FAILED')),
    success_count INTEGER NOT NULL DEFAULT 0,
    failure_count INTEGER NOT NULL DEFAULT 0,
    created_by    TEXT NOT NULL,
    created_at    TIMESTAMP NOT NULL,
    updated_at    TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS cases (
    id             TEXT PRIMARY KEY,
    import_id      TEXT NOT NULL,
    case_id        TEXT NOT NULL UNIQUE,
    applicant_name TEXT NOT NULL,
    dob            TEXT NOT NULL,
    email          TEXT,
    phone          TEXT,
    category       TEXT NOT NULL,
    priority       TEXT NOT NULL,
    created_by     TEXT NOT NULL,
    created_at     TIMESTAMP NOT NULL,
    FOREIGN KEY (import_id) REFERENCES imports(id)
);
CREATE INDEX IF NOT EXISTS idx_cases_import ON cases(import_id);

CREATE TABLE IF NOT EXISTS case_history (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    case_id    TEXT NOT NULL,
    action     TEXT NOT NULL,
    detail     TEXT,
    operator   TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_case_history_case ON case_history(case_id);
`

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// CreateImport implements core.CaseGateway.
func (s *Store) CreateImport(ctx context.Context, rec core.ImportRecord) (string, error) {
	if err := core.CheckImportRecord(rec); err != nil {
		return "", err
	}
	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO imports (id, file_name, total_rows, status, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, rec.FileName, rec.TotalRows, string(core.ImportProcessing), core.CreatedBy(ctx, rec.CreatedBy), now, now,
	)
	if err != nil {
		return "", fmt.Errorf("failed to create import: %w", err)
	}
	return id, nil
}

// UpdateImport implements core.CaseGateway.
func (s *Store) UpdateImport(ctx context.Context, id string, upd core.ImportUpdate) error {
	if !upd.Status.Valid() {
		return fmt.Errorf("invalid import status %q", upd.Status)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE imports
		SET status = ?, success_count = ?, failure_count = ?, updated_at = ?
		WHERE id = ?`,
		string(upd.Status), upd.SuccessCount, upd.FailureCount, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update import: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update import: %w", err)
	}
	if n == 0 {
		return core.ErrImportNotFound
	}
	return nil
}

// GetImport returns a stored import record.
func (s *Store) GetImport(ctx context.Context, id string) (core.Import, error) {
	var (
		imp    core.Import
		status string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, file_name, total_rows, status, success_count, failure_count, created_by, created_at, updated_at
		FROM imports WHERE id = ?`, id,
	).Scan(&imp.ID, &imp.FileName, &imp.TotalRows, &status, &imp.SuccessCount, &imp.FailureCount,
		&imp.CreatedBy, &imp.CreatedAt, &imp.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Import{}, core.ErrImportNotFound
	}
	if err != nil {
		return core.Import{}, fmt.Errorf("failed to get import: %w", err)
	}
	imp.Status = core.ImportStatus(status)
	return imp, nil
}

// CreateCases implements core.CaseGateway. Each row runs under its own
// savepoint so a rejected row leaves the rest of the batch intact.
func (s *Store) CreateCases(ctx context.Context, importID string, cases []core.CasePayload) ([]core.BatchResult, error) {
	if err := core.CheckBatch(cases); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var owner string
	err = tx.QueryRowContext(ctx, `SELECT created_by FROM imports WHERE id = ?`, importID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrImportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup import: %w", err)
	}
	operator := core.CreatedBy(ctx, owner)

	results := make([]core.BatchResult, len(cases))
	for i, c := range cases {
		results[i] = core.BatchResult{CaseID: c.CaseID}
		if msg := core.CheckPayload(c); msg != "" {
			results[i].Error = msg
			continue
		}

		savepoint := fmt.Sprintf("sp_%d", i)
		if _, err := tx.ExecContext(ctx, "SAVEPOINT "+savepoint); err != nil {
			return nil, fmt.Errorf("create savepoint: %w", err)
		}

		createdID, err := insertCase(ctx, tx, importID, c, operator)
		if err != nil {
			if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+savepoint); rbErr != nil {
				return nil, fmt.Errorf("rollback savepoint: %w", rbErr)
			}
			results[i].Error = rowError(err)
			if !isUniqueViolation(err) {
				slog.Warn("case insert failed", "import_id", importID, "case_id", c.CaseID, "error", err)
			}
			continue
		}

		if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+savepoint); err != nil {
			return nil, fmt.Errorf("release savepoint: %w", err)
		}
		results[i].Success = true
		results[i].CreatedID = createdID
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return results, nil
}

func insertCase(ctx context.Context, tx *sql.Tx, importID string, c core.CasePayload, operator string) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO cases (id, import_id, case_id, applicant_name, dob, email, phone, category, priority, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, importID, c.CaseID, c.ApplicantName, c.DOB,
		nullString(c.Email), nullString(c.Phone), c.Category, c.Priority, operator, now,
	)
	if err != nil {
		return "", err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO case_history (case_id, action, detail, operator, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		c.CaseID, core.ActionCreated, "Created from import "+importID, operator, now,
	)
	if err != nil {
		return "", fmt.Errorf("insert history: %w", err)
	}
	return id, nil
}

// CaseHistory returns a case's history, oldest first.
func (s *Store) CaseHistory(ctx context.Context, caseID string) ([]core.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT case_id, action, COALESCE(detail, ''), operator, created_at
		FROM case_history
		WHERE case_id = ?
		ORDER BY created_at, id`, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []core.HistoryEntry
	for rows.Next() {
		var e core.HistoryEntry
		if err := rows.Scan(&e.CaseID, &e.Action, &e.Detail, &e.Operator, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	if len(entries) == 0 {
		return nil, core.ErrCaseNotFound
	}
	return entries, nil
}

func nullString(s string) sql.NullString {
	s = strings.TrimSpace(s)
	return sql.NullString{String: s, Valid: s != ""}
}

func rowError(err error) string {
	if isUniqueViolation(err) {
		return core.DuplicateCaseMessage
	}
	return core.MapError(err).Message
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var _ core.CaseGateway = (*Store)(nil)
