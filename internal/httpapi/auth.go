package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims identify the caller of the API.
type Claims struct {
	Admin bool `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

// Principal is the authenticated caller stored on the request context.
type Principal struct {
	UserID string
	Admin  bool
}

type principalKey struct{}

// WithPrincipal stores p on ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the caller stored on ctx.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// JWTAuth signs and validates HS256 bearer tokens.
type JWTAuth struct {
	secret []byte
	ttl    time.Duration
}

// NewJWTAuth creates a token service. ttl defaults to 24 hours.
func NewJWTAuth(secret string, ttl time.Duration) *JWTAuth {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &JWTAuth{secret: []byte(secret), ttl: ttl}
}

// GenerateToken issues a token for userID.
func (a *JWTAuth) GenerateToken(userID string, admin bool) (string, error) {
	now := time.Now()
	claims := &Claims{
		Admin: admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses a token and returns its principal.
func (a *JWTAuth) ValidateToken(tokenString string) (Principal, error) {
	if tokenString == "" {
		return Principal{}, errors.New("token string is empty")
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return Principal{}, fmt.Errorf("token expired: %w", err)
		case errors.Is(err, jwt.ErrTokenMalformed):
			return Principal{}, fmt.Errorf("malformed token: %w", err)
		default:
			return Principal{}, fmt.Errorf("parse token: %w", err)
		}
	}
	if !token.Valid || claims.Subject == "" {
		return Principal{}, errors.New("token is not valid")
	}
	return Principal{UserID: claims.Subject, Admin: claims.Admin}, nil
}

// Middleware rejects requests without a valid bearer token.
func (a *JWTAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Fields(r.Header.Get("Authorization"))
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token")
			return
		}
		p, err := a.ValidateToken(parts[1])
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}
