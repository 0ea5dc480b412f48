package users

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrResetTokenInvalid = errors.New("invalid or expired password reset token")
	ErrResetTokenUsed    = errors.New("password reset token has already been used")
)

const resetTokenExpiry = time.Hour

type PasswordResetToken struct {
	ID        uint       `json:"id" gorm:"primaryKey"`
	UserID    uint       `json:"user_id" gorm:"not null;index"`
	TokenHash string     `json:"-" gorm:"uniqueIndex;size:64;not null"`
	ExpiresAt time.Time  `json:"expires_at" gorm:"not null;index"`
	UsedAt    *time.Time `json:"used_at"`
	CreatedAt time.Time  `json:"created_at"`
}

func (PasswordResetToken) TableName() string {
	return "password_reset_tokens"
}

// GenerateResetToken mints a single-use reset token for the user. Only the
// SHA-256 hash is stored; delivery of the raw token is a collaborator
// concern.
func (s *Service) GenerateResetToken(ctx context.Context, userID uint) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate reset token: %w", err)
	}
	raw := base64.RawURLEncoding.EncodeToString(buf)

	record := PasswordResetToken{
		UserID:    userID,
		TokenHash: hashResetToken(raw),
		ExpiresAt: time.Now().Add(resetTokenExpiry),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return "", fmt.Errorf("failed to store reset token: %w", err)
	}

	s.logger.Info("password reset token generated", zap.Uint("user_id", userID))

	return raw, nil
}

// VerifyResetToken validates and consumes a reset token. Marking it used
// is guarded by a used_at IS NULL condition, so of two concurrent resets
// with the same token exactly one succeeds.
func (s *Service) VerifyResetToken(ctx context.Context, rawToken string) (uint, error) {
	var record PasswordResetToken
	err := s.db.WithContext(ctx).
		Where("token_hash = ?", hashResetToken(rawToken)).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, ErrResetTokenInvalid
	}
	if err != nil {
		return 0, fmt.Errorf("database error: %w", err)
	}

	if record.UsedAt != nil {
		return 0, ErrResetTokenUsed
	}
	if time.Now().After(record.ExpiresAt) {
		return 0, ErrResetTokenInvalid
	}

	now := time.Now()
	result := s.db.WithContext(ctx).Model(&PasswordResetToken{}).
		Where("id = ? AND used_at IS NULL", record.ID).
		Update("used_at", now)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to consume reset token: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return 0, ErrResetTokenUsed
	}

	return record.UserID, nil
}

func hashResetToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}
