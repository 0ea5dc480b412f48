package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/tutorstack/authcore/services/logging"
	"github.com/tutorstack/authcore/services/oauth"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrUserNotFound          = errors.New("user not found")
	ErrPasswordHashingFailed = errors.New("failed to hash password")
)

// dummyHash keeps Authenticate constant-shape when the email is unknown:
// a bcrypt comparison runs either way, so response timing does not reveal
// whether the account exists.
var dummyHash = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")

type Service struct {
	db     *gorm.DB
	logger *logging.Service
}

func NewService(db *gorm.DB, logger *logging.Service) *Service {
	return &Service{db: db, logger: logger}
}

func (s *Service) GetByID(ctx context.Context, userID uint) (*User, error) {
	var user User
	err := s.db.WithContext(ctx).First(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	return &user, nil
}

func (s *Service) GetByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	return &user, nil
}

// Authenticate checks a password login. Unknown email and wrong password
// are indistinguishable to the caller.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.GetByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.logger.Warn("password login failed", zap.Uint("user_id", user.ID))
		return nil, ErrInvalidCredentials
	}

	return user, nil
}

// IsEmailVerified reads the verification flag. Lookup errors propagate so
// the verification gate can fail closed.
func (s *Service) IsEmailVerified(ctx context.Context, userID uint) (bool, error) {
	user, err := s.GetByID(ctx, userID)
	if err != nil {
		return false, err
	}
	return user.EmailVerified, nil
}

// UpdatePassword rehashes and stores a new password. Callers are
// responsible for revoking the user's sessions afterwards.
func (s *Service) UpdatePassword(ctx context.Context, userID uint, newPassword string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		s.logger.Error("failed to hash password", zap.Error(err))
		return ErrPasswordHashingFailed
	}

	result := s.db.WithContext(ctx).Model(&User{}).
		Where("id = ?", userID).
		Update("password_hash", string(hash))
	if result.Error != nil {
		return fmt.Errorf("failed to update password: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}

	return nil
}

// ResolveOAuthUser maps a provider profile onto a platform user, creating
// one on first login. Provider-asserted emails count as verified.
func (s *Service) ResolveOAuthUser(ctx context.Context, provider string, profile *oauth.Profile) (uint, string, error) {
	user, err := s.GetByEmail(ctx, profile.Email)
	if err == nil {
		if !user.EmailVerified {
			// The provider vouched for this address.
			if err := s.db.WithContext(ctx).Model(user).Update("email_verified", true).Error; err != nil {
				s.logger.Warn("failed to mark oauth email verified",
					zap.Uint("user_id", user.ID),
					zap.Error(err))
			}
		}
		return user.ID, user.Role, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return 0, "", err
	}

	newUser := User{
		Email:         profile.Email,
		Role:          "user",
		EmailVerified: true,
	}
	if err := s.db.WithContext(ctx).Create(&newUser).Error; err != nil {
		return 0, "", fmt.Errorf("failed to create oauth user: %w", err)
	}

	s.logger.Info("created user from oauth login",
		zap.String("provider", provider),
		zap.Uint("user_id", newUser.ID))

	return newUser.ID, newUser.Role, nil
}
