// Package auth implements the handshake gate: token extraction from the
// upgrade request and verification against the platform's credential issuer.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrAuthRejected is the terminal handshake failure. A connection that hits
// it is closed before any session state exists.
var ErrAuthRejected = errors.New("auth rejected")

// Claims is the identity extracted from a verified credential token.
type Claims struct {
	UserID    string
	ExpiresAt time.Time
}

// TokenVerifier validates a credential token. Implementations must honor the
// context deadline so a stalled verifier cannot hang the handshake.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (Claims, error)
}

type jwtClaims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// JWTVerifier verifies HS256 tokens issued by the main API.
type JWTVerifier struct {
	secret []byte
	leeway time.Duration
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), leeway: 30 * time.Second}
}

func (v *JWTVerifier) Verify(_ context.Context, token string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(
		token,
		&jwtClaims{},
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return v.secret, nil
		},
		jwt.WithLeeway(v.leeway),
	)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrAuthRejected, err)
	}

	claims, ok := parsed.Claims.(*jwtClaims)
	if !ok || !parsed.Valid {
		return Claims{}, fmt.Errorf("%w: invalid claims", ErrAuthRejected)
	}

	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return Claims{}, fmt.Errorf("%w: token carries no user id", ErrAuthRejected)
	}

	out := Claims{UserID: userID}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

// TokenFromRequest extracts the credential token from an upgrade request.
// Browsers cannot set headers on WebSocket connects, so the query parameter
// is tried first and the Authorization header is the fallback.
func TokenFromRequest(r *http.Request) (string, error) {
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", fmt.Errorf("%w: no credential token supplied", ErrAuthRejected)
	}

	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return "", fmt.Errorf("%w: malformed authorization header", ErrAuthRejected)
	}
	return strings.TrimPrefix(authHeader, bearerPrefix), nil
}

// Gate pairs token extraction with verification under a bounded timeout.
type Gate struct {
	verifier TokenVerifier
	timeout  time.Duration
}

func NewGate(verifier TokenVerifier, timeout time.Duration) *Gate {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Gate{verifier: verifier, timeout: timeout}
}

// Admit authenticates an upgrade request. On any failure the caller refuses
// the upgrade; no partial admission state is possible.
func (g *Gate) Admit(r *http.Request) (Claims, error) {
	token, err := TokenFromRequest(r)
	if err != nil {
		return Claims{}, err
	}

	ctx, cancel := context.WithTimeout(r.Context(), g.timeout)
	defer cancel()

	claims, err := g.verifier.Verify(ctx, token)
	if err != nil {
		if errors.Is(err, ErrAuthRejected) {
			return Claims{}, err
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrAuthRejected, err)
	}
	return claims, nil
}
