package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"flashvault/crypto"
)

type contextKey string

const contextKeyCaller contextKey = "flashvault.caller"

// Authenticator resolves the caller identity from an HS256 bearer token.
// The token subject is the caller address.
type Authenticator struct {
	secret    []byte
	issuer    string
	clockSkew time.Duration
	logger    *slog.Logger
}

// NewAuthenticator returns an authenticator for secret. An empty issuer
// accepts tokens from any issuer.
func NewAuthenticator(secret, issuer string, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		secret:    []byte(strings.TrimSpace(secret)),
		issuer:    strings.TrimSpace(issuer),
		clockSkew: 2 * time.Minute,
		logger:    logger,
	}
}

// IssueToken mints a caller token valid for ttl.
func IssueToken(secret, issuer string, caller crypto.Address, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:  caller.String(),
		IssuedAt: jwt.NewNumericDate(now),
	}
	if issuer = strings.TrimSpace(issuer); issuer != "" {
		claims.Issuer = issuer
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(strings.TrimSpace(secret)))
}

// Middleware rejects requests without a valid caller token.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := extractBearer(r.Header.Get("Authorization"))
		if tokenString == "" {
			writeStatusError(w, http.StatusUnauthorized, kindUnauthorized, "missing bearer token")
			return
		}
		caller, err := a.parse(tokenString)
		if err != nil {
			a.logger.Debug("token validation failed", "error", err)
			writeStatusError(w, http.StatusUnauthorized, kindUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), contextKeyCaller, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) parse(tokenString string) (crypto.Address, error) {
	if len(a.secret) == 0 {
		return crypto.ZeroAddress, errors.New("auth secret not configured")
	}
	opts := []jwt.ParserOption{
		jwt.WithLeeway(a.clockSkew),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return crypto.ZeroAddress, err
	}
	if !token.Valid {
		return crypto.ZeroAddress, errors.New("token invalid")
	}
	caller, err := crypto.DecodeAddress(claims.Subject)
	if err != nil {
		return crypto.ZeroAddress, fmt.Errorf("subject: %w", err)
	}
	if caller.IsZero() {
		return crypto.ZeroAddress, errors.New("subject is the zero address")
	}
	return caller, nil
}

// CallerFromContext returns the authenticated caller.
func CallerFromContext(ctx context.Context) (crypto.Address, bool) {
	caller, ok := ctx.Value(contextKeyCaller).(crypto.Address)
	return caller, ok
}

func extractBearer(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
