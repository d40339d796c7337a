package http

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/viralforge/affiliate-ledger/internal/domain"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	adminKey     contextKey = "admin_subject"
)

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func requestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

func adminSubjectFromContext(ctx context.Context) string {
	if v := ctx.Value(adminKey); v != nil {
		if subject, ok := v.(string); ok {
			return subject
		}
	}
	return ""
}

// AdminAuth accepts either the static Admin-Token header or an HS256 bearer
// token whose role claim is admin. With neither configured every request
// is rejected.
type AdminAuth struct {
	Token     string
	JWTSecret []byte
}

type adminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

func (a AdminAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, err := a.authenticate(r)
		if err != nil {
			status, code := mapDomainError(err)
			writeError(w, status, code, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), adminKey, subject)))
	})
}

func (a AdminAuth) authenticate(r *http.Request) (string, error) {
	if token := strings.TrimSpace(r.Header.Get("Admin-Token")); token != "" {
		if a.Token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(a.Token)) != 1 {
			return "", fmt.Errorf("%w: invalid admin token", domain.ErrUnauthorized)
		}
		return "admin-token", nil
	}
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return "", fmt.Errorf("%w: missing admin credentials", domain.ErrUnauthorized)
	}
	if len(a.JWTSecret) == 0 {
		return "", fmt.Errorf("%w: bearer tokens are not accepted", domain.ErrUnauthorized)
	}
	raw := strings.TrimSpace(auth[7:])
	parsed, err := jwt.ParseWithClaims(raw, &adminClaims{}, func(token *jwt.Token) (any, error) {
		return a.JWTSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired(), jwt.WithLeeway(30*time.Second))
	if err != nil {
		return "", fmt.Errorf("%w: invalid bearer token: %v", domain.ErrUnauthorized, err)
	}
	claims, ok := parsed.Claims.(*adminClaims)
	if !ok || !parsed.Valid {
		return "", fmt.Errorf("%w: invalid bearer token claims", domain.ErrUnauthorized)
	}
	if !strings.EqualFold(claims.Role, "admin") {
		return "", fmt.Errorf("%w: admin role required", domain.ErrForbidden)
	}
	return claims.Subject, nil
}
