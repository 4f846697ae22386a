package httpserver

import (
	"context"

	"github.com/and161185/homestock/internal/model"
)

type ctxKey string

const principalKey ctxKey = "hs.principal"

// WithPrincipal stores the authenticated principal in context.
func WithPrincipal(ctx context.Context, p model.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromCtx fetches the principal; ok is false for unauthenticated requests.
func PrincipalFromCtx(ctx context.Context) (model.Principal, bool) {
	p, ok := ctx.Value(principalKey).(model.Principal)
	return p, ok
}
