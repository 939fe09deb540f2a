package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type Role string

const (
	RoleAdmin      Role = "ADMIN"
	RoleMember     Role = "MEMBER"
	RoleAccounting Role = "ACCOUNTING"
	RoleMerchant   Role = "MERCHANT"
)

func (r Role) valid() bool {
	switch r {
	case RoleAdmin, RoleMember, RoleAccounting, RoleMerchant:
		return true
	}
	return false
}

// Claims is what the identity provider signs: sub is the member id.
type Claims struct {
	Username string `json:"username"`
	Role     Role   `json:"role"`
	jwt.RegisteredClaims
}

// Principal is the authenticated caller.
type Principal struct {
	ID       uuid.UUID
	Username string
	Role     Role
}

// Is reports whether the caller holds one of roles.
func (p Principal) Is(roles ...Role) bool {
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}

// SelfOr reports whether the caller is memberID or holds one of roles.
func (p Principal) SelfOr(memberID uuid.UUID, roles ...Role) bool {
	return p.ID == memberID || p.Is(roles...)
}

type principalKey struct{}

func principalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := s.authenticate(extractBearerToken(r.Header.Get("Authorization")))
		if err != nil {
			s.logEvent("unauthorized", map[string]any{
				"path":   r.URL.Path,
				"reason": err.Error(),
			})
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
	})
}

func (s *Server) authenticate(token string) (Principal, error) {
	if token == "" {
		return Principal{}, errors.New("missing bearer token")
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Principal{}, err
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Principal{}, errors.New("subject is not a member id")
	}
	if !claims.Role.valid() {
		return Principal{}, errors.New("unknown role")
	}
	return Principal{ID: id, Username: claims.Username, Role: claims.Role}, nil
}

func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// forbid writes 403 and logs the denied capability.
func (s *Server) forbid(w http.ResponseWriter, p Principal, action string) {
	s.logEvent("forbidden", map[string]any{
		"member_id": p.ID.String(),
		"role":      string(p.Role),
		"action":    action,
	})
	writeError(w, http.StatusForbidden, "forbidden")
}
