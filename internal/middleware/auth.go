package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	apperrors "github.com/dou-wallet/dou-gateway/pkg/errors"
)

// ContextKey is a type for context keys
type ContextKey string

// principalKey is the context key for the authenticated principal
const principalKey ContextKey = "principal"

// Principal identifies the authenticated user of a request
type Principal struct {
	UserID uuid.UUID
	Phone  string
}

// Claims is the JWT payload issued at login
type Claims struct {
	UserID string `json:"uid"`
	Phone  string `json:"phone"`
	jwt.RegisteredClaims
}

// AuthMiddleware validates HS256 session tokens issued by the login flow
type AuthMiddleware struct {
	secret []byte
	ttl    time.Duration
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(secret string, ttl time.Duration) *AuthMiddleware {
	return &AuthMiddleware{
		secret: []byte(secret),
		ttl:    ttl,
	}
}

// IssueToken creates a session token for a logged-in user
func (m *AuthMiddleware) IssueToken(userID uuid.UUID, phone string) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID.String(),
		Phone:  phone,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Authenticate validates the Bearer token and stores the principal in context
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			m.writeError(w, apperrors.ErrUnauthorized)
			return
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return m.secret, nil
		})
		if err != nil || !token.Valid {
			m.writeError(w, apperrors.NewWithDetail(
				apperrors.ErrCodeUnauthorized,
				"Invalid or expired token",
				"",
				http.StatusUnauthorized,
			))
			return
		}

		userID, err := uuid.Parse(claims.UserID)
		if err != nil {
			m.writeError(w, apperrors.ErrUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), principalKey, &Principal{
			UserID: userID,
			Phone:  claims.Phone,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetPrincipal returns the authenticated principal stored in ctx
func GetPrincipal(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey).(*Principal)
	return p, ok
}

func (m *AuthMiddleware) writeError(w http.ResponseWriter, appErr *apperrors.AppError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.StatusCode)
	_ = json.NewEncoder(w).Encode(appErr)
}
