// Package auth issues and validates the bearer tokens that guard the board
// and editor endpoints when a shared secret is configured.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "appexplorer"

// Claims holds the JWT token payload. Workspace scopes a token to one
// workspace; an empty Workspace is accepted by every workspace.
type Claims struct {
	jwt.RegisteredClaims
	Workspace string `json:"ws,omitempty"`
}

// ErrInvalidToken is returned when a JWT cannot be parsed or has expired.
var ErrInvalidToken = errors.New("auth: invalid or expired token") //nolint:gochecknoglobals // sentinel error

// ErrWrongWorkspace is returned when a token was issued for another workspace.
var ErrWrongWorkspace = errors.New("auth: token issued for another workspace") //nolint:gochecknoglobals // sentinel error

// IssueToken creates a signed HS256 token for subject.
func IssueToken(secret, subject, workspace string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    issuer,
		},
		Workspace: workspace,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("auth.IssueToken: %w", err)
	}

	return signed, nil
}

// ValidateToken parses and validates a JWT token string. Returns the embedded claims.
func ValidateToken(secret, tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithIssuer(issuer))
	if err != nil {
		return nil, fmt.Errorf("auth.ValidateToken: %w", ErrInvalidToken)
	}

	if !token.Valid {
		return nil, fmt.Errorf("auth.ValidateToken: %w", ErrInvalidToken)
	}

	return claims, nil
}

// ValidateWorkspaceToken validates tokenString and checks that it may be
// used in workspace.
func ValidateWorkspaceToken(secret, workspace, tokenString string) (*Claims, error) {
	claims, err := ValidateToken(secret, tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Workspace != "" && claims.Workspace != workspace {
		return nil, fmt.Errorf("auth.ValidateWorkspaceToken(%s): %w", workspace, ErrWrongWorkspace)
	}
	return claims, nil
}
