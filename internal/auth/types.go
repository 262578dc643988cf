package auth

import (
	"time"
)

// OperatorClaims identifies the caller of a control endpoint.
type OperatorClaims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

// RoleOperator may pause, resume and emergency-close.
const RoleOperator = "operator"

// LoginRequest represents an operator login request
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// TokenResponse represents a successful login response
type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresIn   int64     `json:"expires_in"` // seconds
	ExpiresAt   time.Time `json:"expires_at"`
	TokenType   string    `json:"token_type"` // always "Bearer"
}

// Config holds authentication configuration
type Config struct {
	JWTSecret           string
	AccessTokenDuration time.Duration
	OperatorUser        string
	// OperatorPassword is a bcrypt hash, or plain text for local setups.
	OperatorPassword string
}

// DefaultAccessTokenDuration applies when Config leaves it unset.
const DefaultAccessTokenDuration = 12 * time.Hour

// Error types for authentication
type AuthError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e AuthError) Error() string {
	return e.Message
}

// Common authentication errors
var (
	ErrInvalidCredentials = AuthError{Code: "INVALID_CREDENTIALS", Message: "invalid username or password"}
	ErrInvalidToken       = AuthError{Code: "INVALID_TOKEN", Message: "invalid or expired token"}
	ErrTokenExpired       = AuthError{Code: "TOKEN_EXPIRED", Message: "token has expired"}
	ErrUnauthorized       = AuthError{Code: "UNAUTHORIZED", Message: "unauthorized access"}
	ErrForbidden          = AuthError{Code: "FORBIDDEN", Message: "access forbidden"}
	ErrNotConfigured      = AuthError{Code: "AUTH_NOT_CONFIGURED", Message: "operator login is not configured"}
)
