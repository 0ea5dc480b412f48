package cost

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tutorstack/authcore/testutils"
)

func setupService(t *testing.T) *Service {
	client, _ := testutils.SetupTestRedis(t)
	return NewService(client, testutils.GetTestConfig(), nil)
}

func TestService_Charge(t *testing.T) {
	ctx := context.Background()

	// Test cap for role "user" is 1.00.
	t.Run("admits within budget, rejects over it", func(t *testing.T) {
		service := setupService(t)

		require.NoError(t, service.Charge(ctx, 1, "user", 0.60))

		err := service.Charge(ctx, 1, "user", 0.50)
		assert.ErrorIs(t, err, ErrBudgetExceeded)

		// The rejected request left the ledger untouched.
		spent, err := service.SpentToday(ctx, 1)
		require.NoError(t, err)
		assert.InDelta(t, 0.60, spent, 1e-9)

		// A smaller request still fits.
		require.NoError(t, service.Charge(ctx, 1, "user", 0.40))
	})

	t.Run("exact cap is admitted", func(t *testing.T) {
		service := setupService(t)

		assert.NoError(t, service.Charge(ctx, 1, "user", 1.00))
		assert.ErrorIs(t, service.Charge(ctx, 1, "user", 0.01), ErrBudgetExceeded)
	})

	t.Run("caps are per role", func(t *testing.T) {
		service := setupService(t)

		assert.ErrorIs(t, service.Charge(ctx, 1, "user", 5.00), ErrBudgetExceeded)
		assert.NoError(t, service.Charge(ctx, 2, "admin", 5.00))
	})

	t.Run("unknown role falls back to default cap", func(t *testing.T) {
		service := setupService(t)

		// Default cap is 0.50.
		assert.NoError(t, service.Charge(ctx, 3, "trial", 0.50))
		assert.ErrorIs(t, service.Charge(ctx, 3, "trial", 0.01), ErrBudgetExceeded)
	})

	t.Run("ledgers are per user", func(t *testing.T) {
		service := setupService(t)

		require.NoError(t, service.Charge(ctx, 1, "user", 1.00))
		assert.NoError(t, service.Charge(ctx, 2, "user", 1.00))
	})

	t.Run("negative estimate is rejected", func(t *testing.T) {
		service := setupService(t)

		assert.Error(t, service.Charge(ctx, 1, "user", -0.10))
	})

	t.Run("disabled tracker admits everything", func(t *testing.T) {
		client, _ := testutils.SetupTestRedis(t)
		cfg := testutils.GetTestConfig()
		cfg.Cost.Enabled = false
		service := NewService(client, cfg, nil)

		assert.NoError(t, service.Charge(ctx, 1, "user", 100.00))
	})

	t.Run("fails closed when the ledger is down", func(t *testing.T) {
		client, mr := testutils.SetupTestRedis(t)
		service := NewService(client, testutils.GetTestConfig(), nil)

		mr.Close()

		err := service.Charge(ctx, 1, "user", 0.10)
		assert.ErrorIs(t, err, ErrStoreUnavailable)
	})
}

func TestService_Reconcile(t *testing.T) {
	ctx := context.Background()

	t.Run("adjusts estimate down and frees budget", func(t *testing.T) {
		service := setupService(t)

		require.NoError(t, service.Charge(ctx, 1, "user", 0.60))
		require.NoError(t, service.Reconcile(ctx, 1, "req-1", 0.60, 0.45))

		spent, err := service.SpentToday(ctx, 1)
		require.NoError(t, err)
		assert.InDelta(t, 0.45, spent, 1e-9)

		// The freed budget admits a request that would have been rejected.
		assert.NoError(t, service.Charge(ctx, 1, "user", 0.50))
	})

	t.Run("retry is a no-op", func(t *testing.T) {
		service := setupService(t)

		require.NoError(t, service.Charge(ctx, 1, "user", 0.60))
		require.NoError(t, service.Reconcile(ctx, 1, "req-1", 0.60, 0.45))
		require.NoError(t, service.Reconcile(ctx, 1, "req-1", 0.60, 0.45))

		spent, err := service.SpentToday(ctx, 1)
		require.NoError(t, err)
		assert.InDelta(t, 0.45, spent, 1e-9)
	})

	t.Run("adjusts upward when the call ran over", func(t *testing.T) {
		service := setupService(t)

		require.NoError(t, service.Charge(ctx, 1, "user", 0.30))
		require.NoError(t, service.Reconcile(ctx, 1, "req-2", 0.30, 0.55))

		spent, err := service.SpentToday(ctx, 1)
		require.NoError(t, err)
		assert.InDelta(t, 0.55, spent, 1e-9)
	})

	t.Run("ledger never goes negative", func(t *testing.T) {
		service := setupService(t)

		require.NoError(t, service.Charge(ctx, 1, "user", 0.10))
		require.NoError(t, service.Reconcile(ctx, 1, "req-3", 0.50, 0.05))

		spent, err := service.SpentToday(ctx, 1)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, spent, 0.0)
	})

	t.Run("fails closed when the ledger is down", func(t *testing.T) {
		client, mr := testutils.SetupTestRedis(t)
		service := NewService(client, testutils.GetTestConfig(), nil)

		mr.Close()

		err := service.Reconcile(ctx, 1, "req-4", 0.10, 0.10)
		assert.ErrorIs(t, err, ErrStoreUnavailable)
	})
}

func TestService_SpentToday(t *testing.T) {
	ctx := context.Background()
	service := setupService(t)

	spent, err := service.SpentToday(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, spent)

	require.NoError(t, service.Charge(ctx, 1, "user", 0.25))

	spent, err = service.SpentToday(ctx, 1)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, spent, 1e-9)
}
