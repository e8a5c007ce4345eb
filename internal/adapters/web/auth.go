package web

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"pos-ledger/internal/core"

	"github.com/golang-jwt/jwt/v5"
)

type actorKey struct{}

// actorFromContext returns the authenticated actor stored in ctx, or nil.
func actorFromContext(ctx context.Context) *core.Actor {
	v, _ := ctx.Value(actorKey{}).(*core.Actor)
	return v
}

// jwtClaims is the token payload issued by the external auth service.
type jwtClaims struct {
	UserID int    `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// SignToken issues an HS256 token for actor. Production tokens come from the
// auth service; this is used by operator tooling and tests.
func SignToken(secret string, actor core.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &jwtClaims{
		UserID: actor.UserID,
		Role:   string(actor.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprint(actor.UserID),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// parseActor validates a token and returns the actor it names.
func parseActor(secret, raw string) (*core.Actor, error) {
	claims := &jwtClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid or expired token: %w", err)
	}
	if claims.UserID <= 0 {
		return nil, fmt.Errorf("token has no user")
	}
	switch core.Role(claims.Role) {
	case core.RoleAdmin, core.RoleManager, core.RoleWaiter, core.RoleKitchen, core.RoleCashier:
	default:
		return nil, fmt.Errorf("token has unknown role %q", claims.Role)
	}
	return &core.Actor{UserID: claims.UserID, Role: core.Role(claims.Role)}, nil
}

// bearerToken reads the Authorization header, falling back to the auth_token cookie.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if cookie, err := r.Cookie("auth_token"); err == nil {
		return cookie.Value
	}
	return ""
}

// RequireAuth validates the caller's token and injects the actor into the
// request context. Returns 401 if the token is absent or invalid.
func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			writeError(w, r, "authentication required", "UNAUTHORIZED", http.StatusUnauthorized)
			return
		}
		actor, err := parseActor(h.jwtSecret, raw)
		if err != nil {
			writeError(w, r, "invalid or expired token", "UNAUTHORIZED", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), actorKey{}, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// me handles GET /api/auth/me: returns the current user's profile.
func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	if actor == nil {
		writeError(w, r, "not authenticated", "UNAUTHORIZED", http.StatusUnauthorized)
		return
	}

	user, err := h.svc.GetUser(r.Context(), actor.UserID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	type meResponse struct {
		UserID   int    `json:"user_id"`
		Username string `json:"username"`
		FullName string `json:"full_name"`
		Role     string `json:"role"`
	}
	writeJSON(w, meResponse{
		UserID:   user.ID,
		Username: user.Username,
		FullName: user.FullName,
		Role:     string(actor.Role),
	})
}
