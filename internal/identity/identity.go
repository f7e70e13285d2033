package identity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoToken means the session is signed out.
	ErrNoToken = errors.New("no stored token")
	// ErrNoUserID means the token decoded but carries no user_id claim.
	ErrNoUserID = errors.New("token has no user_id claim")
)

// TokenSource returns the stored bearer token, or "" when there is none.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Claims are the fields this client reads from the bearer token.
type Claims struct {
	UserID    string
	ExpiresAt time.Time
}

// Resolver extracts the current user's id from the stored token.
type Resolver struct {
	tokens TokenSource
}

// NewResolver creates a resolver reading tokens from ts.
func NewResolver(ts TokenSource) *Resolver {
	return &Resolver{tokens: ts}
}

// Resolve decodes the stored token.
func (r *Resolver) Resolve(ctx context.Context) (Claims, error) {
	tok, err := r.tokens.Token(ctx)
	if err != nil {
		return Claims{}, fmt.Errorf("read token: %w", err)
	}
	if tok == "" {
		return Claims{}, ErrNoToken
	}
	return Decode(tok)
}

// CurrentUserID returns the user_id claim of the stored token.
func (r *Resolver) CurrentUserID(ctx context.Context) (string, error) {
	c, err := r.Resolve(ctx)
	if err != nil {
		return "", err
	}
	return c.UserID, nil
}

// Decode reads the claims of token without checking its signature. The
// server is the only party holding the key; the client only needs the id.
func Decode(token string) (Claims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Claims{}, fmt.Errorf("decode token: %w", err)
	}

	var c Claims
	switch v := claims["user_id"].(type) {
	case float64:
		c.UserID = strconv.FormatInt(int64(v), 10)
	case string:
		c.UserID = v
	}
	if c.UserID == "" {
		return Claims{}, ErrNoUserID
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	return c, nil
}

// Expired reports whether the claims carry an expiry at or before now.
func (c Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}
