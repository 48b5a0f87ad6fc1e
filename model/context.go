package model

import (
	"context"
	"fmt"
	"strings"
)

// RequestContext is the caller identity the configurator acts on behalf of.
// Sessions are scoped to TenantID and audit events carry SubjectID.
type RequestContext struct {
	SubjectID     string
	Email         string
	TenantID      string
	Roles         []string
	CorrelationID string
	TraceID       string
	SpanID        string
}

// Validate reports the identity fields a session operation cannot do without.
func (rc *RequestContext) Validate() error {
	var missing []string
	if rc.SubjectID == "" {
		missing = append(missing, "subject")
	}
	if rc.TenantID == "" {
		missing = append(missing, "tenant")
	}
	if len(missing) > 0 {
		return fmt.Errorf("request context: missing %s", strings.Join(missing, " and "))
	}
	return nil
}

type requestContextKey struct{}

// WithRequestContext attaches rctx to ctx.
func WithRequestContext(ctx context.Context, rctx *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rctx)
}

// RequestContextFrom returns the RequestContext stored in ctx, or nil.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rctx, _ := ctx.Value(requestContextKey{}).(*RequestContext)
	return rctx
}
