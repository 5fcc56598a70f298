package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"triplab/internal/domain"
	"triplab/internal/service"
	"triplab/pkg/errors"
	"triplab/pkg/logger"
)

const issuer = "triplab"

// Service implements the AuthService interface with HS256 tokens
type Service struct {
	secret []byte
	ttl    time.Duration
	logger *logger.Logger
	now    func() time.Time
}

// NewService creates a new auth service
func NewService(secret string, ttl time.Duration, logger *logger.Logger) service.AuthService {
	return &Service{
		secret: []byte(secret),
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// SignInAnonymously issues a token for a new random user id
func (s *Service) SignInAnonymously(ctx context.Context, name string) (*domain.AuthTokenResponse, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.NewValidationError("Name is required", nil)
	}
	if len(s.secret) == 0 {
		s.logger.Error("JWT secret not configured")
		return nil, errors.NewInternalError("Token signing not configured", nil)
	}

	userID := uuid.NewString()
	now := s.now()
	expires := now.Add(s.ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  userID,
		"name": name,
		"iss":  issuer,
		"iat":  now.Unix(),
		"exp":  expires.Unix(),
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		s.logger.WithError(err).Error("Failed to sign token")
		return nil, errors.NewInternalError("Failed to issue token", err)
	}

	s.logger.WithField("user_id", userID).Info("Anonymous identity issued")
	return &domain.AuthTokenResponse{
		Token:     signed,
		UserID:    userID,
		Name:      name,
		ExpiresAt: domain.TimestampOf(expires),
	}, nil
}

// ValidateToken verifies signature and expiry and returns the identity
func (s *Service) ValidateToken(ctx context.Context, tokenString string) (*domain.Identity, error) {
	if !isJWTToken(tokenString) {
		return nil, errors.NewAuthenticationError("Unrecognized token format")
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		s.logger.WithError(err).Debug("Failed to validate JWT token")
		return nil, errors.NewAuthenticationError("Invalid or expired token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.NewAuthenticationError("Invalid or expired token")
	}

	ident := &domain.Identity{
		UserID: getStringValue(claims, "sub"),
		Name:   getStringValue(claims, "name"),
	}
	if ident.UserID == "" {
		return nil, errors.NewAuthenticationError("Invalid token: no user identifier")
	}
	return ident, nil
}

func isJWTToken(token string) bool {
	return token != "" && strings.Count(token, ".") == 2
}

func getStringValue(m map[string]interface{}, key string) string {
	if val, ok := m[key].(string); ok {
		return val
	}
	return ""
}
