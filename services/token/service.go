package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/tutorstack/authcore/config"
	"github.com/tutorstack/authcore/services/logging"
	"go.uber.org/zap"
)

var (
	ErrInvalidToken       = errors.New("invalid token")
	ErrExpiredToken       = errors.New("token has expired")
	ErrMalformedToken     = errors.New("malformed token")
	ErrInvalidSignature   = errors.New("invalid token signature")
	ErrTokenRevoked       = errors.New("token has been revoked")
	ErrWrongTokenType     = errors.New("wrong token type")
	ErrStoreNotConfigured = errors.New("session store not configured")
	ErrSessionCheckFailed = errors.New("session liveness check failed")
)

const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

type Claims struct {
	UserID    uint   `json:"user_id"`
	Role      string `json:"role,omitempty"`
	TokenType string `json:"token_type"`
	FamilyID  string `json:"family_id,omitempty"`
	JTI       string `json:"jti"`
	jwt.RegisteredClaims
}

// Pair is a freshly issued access/refresh token pair. Issue is pure: the
// caller is responsible for persisting the JTIs into the session store.
type Pair struct {
	AccessToken      string
	RefreshToken     string
	AccessJTI        string
	RefreshJTI       string
	FamilyID         string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// SessionStore is the slice of the session registry Rotate needs. The full
// store lives in services/session; keeping the dependency an interface
// makes rotation races trivially testable.
type SessionStore interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
	ConsumeRefresh(ctx context.Context, userID uint, jti string) (bool, error)
	Blacklist(ctx context.Context, jti string, ttl time.Duration) error
	RevokeFamily(ctx context.Context, userID uint, familyID string) error
	RegisterPair(ctx context.Context, userID uint, pair *Pair) error
}

type Service struct {
	config   *config.Config
	logger   *logging.Service
	sessions SessionStore
	now      func() time.Time
}

func NewService(cfg *config.Config, logger *logging.Service) *Service {
	return &Service{
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
}

func (s *Service) SetSessionStore(store SessionStore) {
	s.sessions = store
}

func (s *Service) AccessExpiry() time.Duration {
	return s.config.JWT.AccessExpiry
}

func (s *Service) RefreshExpiry() time.Duration {
	return s.config.JWT.RefreshExpiry
}

// Issue generates a fresh access/refresh pair for the user. Both tokens get
// their own JTI; the refresh token starts a new rotation family.
func (s *Service) Issue(userID uint, role string) (*Pair, error) {
	return s.issuePair(userID, role, uuid.New().String())
}

func (s *Service) issuePair(userID uint, role string, familyID string) (*Pair, error) {
	now := s.now()
	accessJTI := uuid.New().String()
	refreshJTI := uuid.New().String()
	accessExp := now.Add(s.config.JWT.AccessExpiry)
	refreshExp := now.Add(s.config.JWT.RefreshExpiry)

	accessToken, err := s.sign(Claims{
		UserID:           userID,
		Role:             role,
		TokenType:        TypeAccess,
		JTI:              accessJTI,
		RegisteredClaims: s.registeredClaims(userID, accessJTI, now, accessExp),
	})
	if err != nil {
		s.logger.Error("failed to sign access token", zap.Error(err))
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	refreshToken, err := s.sign(Claims{
		UserID:           userID,
		Role:             role,
		TokenType:        TypeRefresh,
		FamilyID:         familyID,
		JTI:              refreshJTI,
		RegisteredClaims: s.registeredClaims(userID, refreshJTI, now, refreshExp),
	})
	if err != nil {
		s.logger.Error("failed to sign refresh token", zap.Error(err))
		return nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}

	return &Pair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessJTI:        accessJTI,
		RefreshJTI:       refreshJTI,
		FamilyID:         familyID,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (s *Service) registeredClaims(userID uint, jti string, now, exp time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		ID:        jti,
		Issuer:    s.config.JWT.Issuer,
		Subject:   fmt.Sprintf("%d", userID),
		Audience:  []string{s.config.JWT.Issuer},
		ExpiresAt: jwt.NewNumericDate(exp),
		NotBefore: jwt.NewNumericDate(now),
		IssuedAt:  jwt.NewNumericDate(now),
	}
}

func (s *Service) sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.config.JWT.SecretKey))
}

// Verify checks signature, algorithm allow-list, and expiry. It is pure and
// never touches the session store; callers that need liveness go through
// the tokenauth middleware or Rotate.
func (s *Service) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if token.Method.Alg() == "none" {
			return nil, errors.New("'none' algorithm is not allowed")
		}

		if token.Method.Alg() != "HS256" {
			return nil, fmt.Errorf("unexpected algorithm: expected HS256, got %s", token.Method.Alg())
		}

		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("invalid algorithm family: %v", token.Header["alg"])
		}

		return []byte(s.config.JWT.SecretKey), nil
	}, jwt.WithTimeFunc(func() time.Time { return s.now() }))

	if err != nil {
		s.logger.Warn("token verification failed", zap.Error(err))

		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpiredToken
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, ErrMalformedToken
		case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrSignatureInvalid):
			return nil, ErrInvalidSignature
		default:
			return nil, ErrInvalidToken
		}
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, ErrInvalidToken
}

// VerifyAccess is Verify plus a token-type check, for request admission.
func (s *Service) VerifyAccess(tokenString string) (*Claims, error) {
	claims, err := s.Verify(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != TypeAccess {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}

// Rotate redeems a refresh token for a new pair in the same family.
//
// The old JTI is consumed atomically, so of two concurrent rotations with
// the same token exactly one wins. A refresh token found on the blacklist,
// or whose JTI has already been consumed, is treated as a reuse-detection
// signal: the entire family is revoked before the caller is rejected.
func (s *Service) Rotate(ctx context.Context, refreshTokenString string) (*Pair, error) {
	if s.sessions == nil {
		return nil, ErrStoreNotConfigured
	}

	claims, err := s.Verify(refreshTokenString)
	if err != nil {
		return nil, err
	}

	if claims.TokenType != TypeRefresh {
		s.logger.Warn("rotation attempted with non-refresh token",
			zap.Uint("user_id", claims.UserID))
		return nil, ErrWrongTokenType
	}

	revoked, err := s.sessions.IsRevoked(ctx, claims.JTI)
	if err != nil {
		// Fail closed: an unreachable store must never admit a rotation.
		s.logger.Error("revocation check failed during rotation", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrSessionCheckFailed, err)
	}
	if revoked {
		s.logger.Warn("refresh token reuse detected, revoking family",
			zap.Uint("user_id", claims.UserID),
			zap.String("family_id", claims.FamilyID))
		if err := s.sessions.RevokeFamily(ctx, claims.UserID, claims.FamilyID); err != nil {
			s.logger.Error("failed to revoke token family", zap.Error(err))
		}
		return nil, ErrTokenRevoked
	}

	consumed, err := s.sessions.ConsumeRefresh(ctx, claims.UserID, claims.JTI)
	if err != nil {
		s.logger.Error("refresh consumption failed during rotation", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrSessionCheckFailed, err)
	}
	if !consumed {
		// Lost a concurrent-rotation race, or the session is gone. Either
		// way the presented token was already spent.
		s.logger.Warn("rotation with already-consumed refresh token, revoking family",
			zap.Uint("user_id", claims.UserID),
			zap.String("family_id", claims.FamilyID))
		if err := s.sessions.RevokeFamily(ctx, claims.UserID, claims.FamilyID); err != nil {
			s.logger.Error("failed to revoke token family", zap.Error(err))
		}
		return nil, ErrTokenRevoked
	}

	if remaining := claims.ExpiresAt.Time.Sub(s.now()); remaining > 0 {
		if err := s.sessions.Blacklist(ctx, claims.JTI, remaining); err != nil {
			s.logger.Error("failed to blacklist rotated-out refresh token", zap.Error(err))
		}
	}

	pair, err := s.issuePair(claims.UserID, claims.Role, claims.FamilyID)
	if err != nil {
		return nil, err
	}

	if err := s.sessions.RegisterPair(ctx, claims.UserID, pair); err != nil {
		s.logger.Error("failed to register rotated pair", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrSessionCheckFailed, err)
	}

	s.logger.Info("refresh token rotated",
		zap.Uint("user_id", claims.UserID),
		zap.String("family_id", claims.FamilyID))

	return pair, nil
}
