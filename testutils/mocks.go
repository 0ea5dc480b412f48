package testutils

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

type MockSessionChecker struct {
	mock.Mock
}

func (m *MockSessionChecker) IsLive(ctx context.Context, userID uint, jti string) (bool, error) {
	args := m.Called(ctx, userID, jti)
	return args.Bool(0), args.Error(1)
}

type MockVerificationSource struct {
	mock.Mock
}

func (m *MockVerificationSource) IsEmailVerified(ctx context.Context, userID uint) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

type MockMailService struct {
	mock.Mock
}

func (m *MockMailService) SendPasswordChangedNotice(to string, appName string) error {
	args := m.Called(to, appName)
	return args.Error(0)
}

type MockRateLimitStore struct {
	mock.Mock
}

func (m *MockRateLimitStore) Increment(ctx context.Context, key string, period time.Duration) (int, time.Duration, error) {
	args := m.Called(ctx, key, period)
	return args.Int(0), args.Get(1).(time.Duration), args.Error(2)
}
