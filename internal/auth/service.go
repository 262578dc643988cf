package auth

import (
	"crypto/subtle"
	"time"

	"golang.org/x/time/rate"

	"futures-trading-agent/internal/logging"
)

// ErrRateLimited is returned when login attempts arrive too quickly.
var ErrRateLimited = AuthError{Code: "RATE_LIMITED", Message: "too many login attempts, please try again later"}

// Service authenticates the single configured operator.
type Service struct {
	config  Config
	jwt     *JWTManager
	limiter *rate.Limiter
	logger  *logging.Logger
}

// NewService creates an auth service. Login is refused when no operator
// credentials are configured.
func NewService(config Config, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Service{
		config:  config,
		jwt:     NewJWTManager(config.JWTSecret, config.AccessTokenDuration),
		limiter: rate.NewLimiter(rate.Every(time.Second), 5),
		logger:  logger.WithComponent("auth"),
	}
}

// JWT returns the token manager used by the middleware.
func (s *Service) JWT() *JWTManager {
	return s.jwt
}

// Login checks credentials and issues an access token.
func (s *Service) Login(req LoginRequest) (*TokenResponse, error) {
	if s.config.OperatorUser == "" || s.config.OperatorPassword == "" || s.config.JWTSecret == "" {
		return nil, ErrNotConfigured
	}
	if !s.limiter.Allow() {
		s.logger.Warn("login rate limited", "username", req.Username)
		return nil, ErrRateLimited
	}

	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(s.config.OperatorUser)) == 1
	passOK := VerifyPassword(req.Password, s.config.OperatorPassword)
	if !userOK || !passOK {
		s.logger.Warn("failed operator login", "username", req.Username)
		return nil, ErrInvalidCredentials
	}

	token, expiresAt, err := s.jwt.GenerateAccessToken(OperatorClaims{Username: req.Username, Role: RoleOperator})
	if err != nil {
		return nil, err
	}
	s.logger.Info("operator logged in", "username", req.Username)
	return &TokenResponse{
		AccessToken: token,
		ExpiresIn:   s.jwt.GetAccessTokenDuration(),
		ExpiresAt:   expiresAt,
		TokenType:   "Bearer",
	}, nil
}
