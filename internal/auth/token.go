// Package auth supplies bearer tokens to the signaling transport. Tokens are
// issued by the backend's login endpoint; acquiring or refreshing them is
// outside this client.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenExpired = errors.New("token expired")
	ErrNoToken      = errors.New("no token")
)

// TokenSource returns the bearer token for the next request. An empty
// token with a nil error means the request is sent without Authorization.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Claims are the fields the backend puts in its JWTs.
type Claims struct {
	UserID    string
	Role      string
	ExpiresAt time.Time
}

// None sends requests unauthenticated.
type None struct{}

func (None) Token(context.Context) (string, error) { return "", nil }

// StaticToken is a token supplied once via flag, env or config file.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	token := strings.TrimSpace(string(t))
	if err := CheckExpiry(token, time.Now()); err != nil {
		return "", err
	}
	return token, nil
}

// FileToken re-reads the token file on every request so an external
// process can rotate it.
type FileToken struct {
	Path string
}

func (f FileToken) Token(context.Context) (string, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("%s: %w", f.Path, ErrNoToken)
	}
	if err := CheckExpiry(token, time.Now()); err != nil {
		return "", err
	}
	return token, nil
}

// FromConfig picks a token source: a token file wins over an inline token,
// and neither means unauthenticated.
func FromConfig(token, tokenFile string) TokenSource {
	switch {
	case tokenFile != "":
		return FileToken{Path: tokenFile}
	case strings.TrimSpace(token) != "":
		return StaticToken(token)
	default:
		return None{}
	}
}

// Inspect decodes the token's claims without verifying the signature; the
// server is the one that verifies. Opaque (non-JWT) tokens return an error.
func Inspect(token string) (Claims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Claims{}, fmt.Errorf("parse token: %w", err)
	}

	var out Claims
	if v, ok := claims["userId"].(string); ok {
		out.UserID = v
	}
	if v, ok := claims["role"].(string); ok {
		out.Role = v
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return Claims{}, fmt.Errorf("parse token expiry: %w", err)
	}
	if exp != nil {
		out.ExpiresAt = exp.Time
	}
	return out, nil
}

// CheckExpiry fails with ErrTokenExpired when token is a JWT whose exp is
// before now. Opaque tokens and JWTs without exp pass.
func CheckExpiry(token string, now time.Time) error {
	if token == "" {
		return nil
	}
	claims, err := Inspect(token)
	if err != nil || claims.ExpiresAt.IsZero() {
		return nil
	}
	if !now.Before(claims.ExpiresAt) {
		return fmt.Errorf("%w at %s", ErrTokenExpired, claims.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}
