// Package auth is the identity glue between the external auth collaborator
// and the core: it verifies the bearer token signature and hands the
// operator identity to handlers via context. It never checks credentials.
package auth

import (
	"net/http"
	"strconv"
	"strings"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/cambix/cambix/internal/platform/httpx"
	"github.com/cambix/cambix/internal/shared"
)

type operatorClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

// Middleware verifies bearer tokens and stores the operator in context.
type Middleware struct {
	secret []byte
}

// NewMiddleware builds the auth middleware around the shared HMAC secret.
func NewMiddleware(secret string) *Middleware {
	return &Middleware{secret: []byte(secret)}
}

// Require rejects requests without a valid bearer token.
func (m *Middleware) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		op, err := m.operatorFromRequest(r)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithOperator(r.Context(), op)))
	})
}

func (m *Middleware) operatorFromRequest(r *http.Request) (shared.Operator, error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return shared.Operator{}, shared.ErrUnauthorized
	}
	raw := strings.TrimPrefix(header, "Bearer ")

	var claims operatorClaims
	token, err := jwtlib.ParseWithClaims(raw, &claims, func(t *jwtlib.Token) (any, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, shared.ErrUnauthorized
		}
		return m.secret, nil
	})
	if err != nil || !token.Valid {
		return shared.Operator{}, shared.ErrUnauthorized
	}

	operatorID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || operatorID <= 0 {
		return shared.Operator{}, shared.ErrUnauthorized
	}
	return shared.Operator{ID: operatorID, Role: claims.Role}, nil
}
