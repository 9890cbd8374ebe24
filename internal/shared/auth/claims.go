package auth

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidToken = errors.New("invalid token format")

// Claims is the subset of the backend's access token payload the client
// reads. Signatures are the server's concern and are not checked here.
type Claims struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
	Sub    string `json:"sub"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	Exp    int64  `json:"exp"`
	Iat    int64  `json:"iat"`
}

// Subject returns the first non-empty user identifier claim.
func (c *Claims) Subject() string {
	switch {
	case c.UserID != "":
		return c.UserID
	case c.ID != "":
		return c.ID
	default:
		return c.Sub
	}
}

// Expired reports whether the token carries an expiry at or before now.
func (c *Claims) Expired(now time.Time) bool {
	return c.Exp != 0 && now.Unix() >= c.Exp
}

// ParseClaims decodes the payload segment of a JWT without verifying it.
func ParseClaims(token string) (*Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrInvalidToken
	}

	claimsJSON, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return nil, fmt.Errorf("failed to decode claims: %w", err)
	}

	var claims Claims
	if err := json.Unmarshal(claimsJSON, &claims); err != nil {
		return nil, fmt.Errorf("failed to unmarshal claims: %w", err)
	}

	return &claims, nil
}
