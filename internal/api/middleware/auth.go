package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/report-api/internal/api/shared"
	"github.com/phrazzld/report-api/internal/platform/logger"
)

// DefaultClockSkew is the leeway allowed on token time claims.
const DefaultClockSkew = 30 * time.Second

var (
	// ErrInvalidToken indicates a malformed, unsigned or tampered token.
	ErrInvalidToken = errors.New("invalid token")

	// ErrExpiredToken indicates a token past its expiry.
	ErrExpiredToken = errors.New("token expired")
)

// Claims are the bearer token claims the service reads. Tokens are issued
// elsewhere; the subject or uid claim carries the user ID.
type Claims struct {
	UserID string   `json:"uid,omitempty"`
	Roles  []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// AuthMiddleware verifies HS256 bearer tokens.
type AuthMiddleware struct {
	signingKey []byte
	clockSkew  time.Duration
	timeFunc   func() time.Time
}

// NewAuthMiddleware creates an AuthMiddleware verifying tokens signed with secret.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	return &AuthMiddleware{
		signingKey: []byte(secret),
		clockSkew:  DefaultClockSkew,
		timeFunc:   time.Now,
	}
}

// Verify parses tokenString and returns the caller's identity.
func (m *AuthMiddleware) Verify(tokenString string) (shared.Identity, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return m.signingKey, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithLeeway(m.clockSkew),
		jwt.WithTimeFunc(m.timeFunc),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return shared.Identity{}, ErrExpiredToken
		}
		return shared.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return shared.Identity{}, ErrInvalidToken
	}

	raw := claims.UserID
	if raw == "" {
		raw = claims.Subject
	}
	userID, err := uuid.Parse(raw)
	if err != nil || userID == uuid.Nil {
		return shared.Identity{}, fmt.Errorf("%w: missing or malformed user id", ErrInvalidToken)
	}

	return shared.Identity{UserID: userID, Roles: claims.Roles}, nil
}

// Authenticate validates the Authorization header and stores the caller's
// identity in the request context.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Authorization header required")
			return
		}

		scheme, token, found := strings.Cut(authHeader, " ")
		if !found || scheme != "Bearer" || token == "" {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Invalid authorization format")
			return
		}

		identity, err := m.Verify(token)
		if err != nil {
			msg := "Invalid token"
			if errors.Is(err, ErrExpiredToken) {
				msg = "Token expired"
			}
			shared.RespondWithErrorAndLog(w, r, http.StatusUnauthorized, msg, err)
			return
		}

		ctx := shared.WithIdentity(r.Context(), identity)
		log := logger.FromContext(ctx).With("user_id", identity.UserID.String())
		ctx = logger.WithLogger(ctx, log)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
