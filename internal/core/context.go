package core

import "context"

type contextKey string

const (
	ctxKeyOperator  contextKey = "operator"
	ctxKeyIPAddress contextKey = "client_ip"
)

// Operator identifies the authenticated user driving an import.
type Operator struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// ContextWithOperator attaches the authenticated operator to ctx.
func ContextWithOperator(ctx context.Context, op Operator) context.Context {
	return context.WithValue(ctx, ctxKeyOperator, op)
}

// OperatorFromContext returns the operator attached to ctx, if any.
func OperatorFromContext(ctx context.Context) (Operator, bool) {
	op, ok := ctx.Value(ctxKeyOperator).(Operator)
	if !ok || op.ID == "" {
		return Operator{}, false
	}
	return op, true
}

// ContextWithIPAddress adds the client IP to context for attribution logs.
func ContextWithIPAddress(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ctxKeyIPAddress, ip)
}

// GetIPAddressFromContext extracts the client IP from context.
func GetIPAddressFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyIPAddress).(string); ok {
		return v
	}
	return ""
}
