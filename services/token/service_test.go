package token

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tutorstack/authcore/testutils"
)

// fakeStore is an in-memory SessionStore for exercising rotation logic
// without Redis.
type fakeStore struct {
	mu        sync.Mutex
	live      map[string]bool
	blacklist map[string]bool
	families  map[string][]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		live:      make(map[string]bool),
		blacklist: make(map[string]bool),
		families:  make(map[string][]string),
	}
}

func (f *fakeStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blacklist[jti], nil
}

func (f *fakeStore) ConsumeRefresh(ctx context.Context, userID uint, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.live[jti] {
		delete(f.live, jti)
		return true, nil
	}
	return false, nil
}

func (f *fakeStore) Blacklist(ctx context.Context, jti string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blacklist[jti] = true
	return nil
}

func (f *fakeStore) RevokeFamily(ctx context.Context, userID uint, familyID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, jti := range f.families[familyID] {
		f.blacklist[jti] = true
		delete(f.live, jti)
	}
	delete(f.families, familyID)
	return nil
}

func (f *fakeStore) RegisterPair(ctx context.Context, userID uint, pair *Pair) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.live[pair.AccessJTI] = true
	f.live[pair.RefreshJTI] = true
	f.families[pair.FamilyID] = append(f.families[pair.FamilyID], pair.AccessJTI, pair.RefreshJTI)
	return nil
}

func TestService_Issue(t *testing.T) {
	cfg := testutils.GetTestConfig()
	service := NewService(cfg, nil)

	pair, err := service.Issue(42, "user")
	require.NoError(t, err)

	t.Run("access token claims", func(t *testing.T) {
		claims, err := service.Verify(pair.AccessToken)
		require.NoError(t, err)

		assert.Equal(t, uint(42), claims.UserID)
		assert.Equal(t, "user", claims.Role)
		assert.Equal(t, TypeAccess, claims.TokenType)
		assert.Equal(t, pair.AccessJTI, claims.JTI)
		assert.Empty(t, claims.FamilyID)
		assert.Equal(t, cfg.JWT.Issuer, claims.Issuer)
	})

	t.Run("refresh token claims", func(t *testing.T) {
		claims, err := service.Verify(pair.RefreshToken)
		require.NoError(t, err)

		assert.Equal(t, TypeRefresh, claims.TokenType)
		assert.Equal(t, pair.RefreshJTI, claims.JTI)
		assert.Equal(t, pair.FamilyID, claims.FamilyID)
	})

	t.Run("distinct JTIs", func(t *testing.T) {
		assert.NotEqual(t, pair.AccessJTI, pair.RefreshJTI)

		pair2, err := service.Issue(42, "user")
		require.NoError(t, err)
		assert.NotEqual(t, pair.AccessJTI, pair2.AccessJTI)
		assert.NotEqual(t, pair.FamilyID, pair2.FamilyID)
	})

	t.Run("expiry per token class", func(t *testing.T) {
		assert.True(t, pair.RefreshExpiresAt.After(pair.AccessExpiresAt))
	})
}

func TestService_Verify(t *testing.T) {
	cfg := testutils.GetTestConfig()
	service := NewService(cfg, nil)

	t.Run("expired token", func(t *testing.T) {
		pair, err := service.Issue(1, "user")
		require.NoError(t, err)

		late := NewService(cfg, nil)
		late.now = func() time.Time { return time.Now().Add(cfg.JWT.AccessExpiry + time.Minute) }

		_, err = late.Verify(pair.AccessToken)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})

	t.Run("malformed token", func(t *testing.T) {
		_, err := service.Verify("not-a-token")
		assert.ErrorIs(t, err, ErrMalformedToken)
	})

	t.Run("wrong signing key", func(t *testing.T) {
		otherCfg := testutils.GetTestConfig()
		otherCfg.JWT.SecretKey = "a-completely-different-secret-key"
		other := NewService(otherCfg, nil)

		pair, err := other.Issue(1, "user")
		require.NoError(t, err)

		_, err = service.Verify(pair.AccessToken)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("none algorithm rejected", func(t *testing.T) {
		unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
			Subject:   "1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		})
		tokenString, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = service.Verify(tokenString)
		assert.Error(t, err)
	})
}

func TestService_VerifyAccess(t *testing.T) {
	cfg := testutils.GetTestConfig()
	service := NewService(cfg, nil)

	pair, err := service.Issue(1, "user")
	require.NoError(t, err)

	_, err = service.VerifyAccess(pair.AccessToken)
	assert.NoError(t, err)

	_, err = service.VerifyAccess(pair.RefreshToken)
	assert.ErrorIs(t, err, ErrWrongTokenType)
}

func TestService_Rotate(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*Service, *fakeStore, *Pair) {
		cfg := testutils.GetTestConfig()
		service := NewService(cfg, nil)
		store := newFakeStore()
		service.SetSessionStore(store)

		pair, err := service.Issue(7, "user")
		require.NoError(t, err)
		require.NoError(t, store.RegisterPair(ctx, 7, pair))

		return service, store, pair
	}

	t.Run("successful rotation keeps family", func(t *testing.T) {
		service, store, pair := setup(t)

		newPair, err := service.Rotate(ctx, pair.RefreshToken)
		require.NoError(t, err)

		assert.Equal(t, pair.FamilyID, newPair.FamilyID)
		assert.NotEqual(t, pair.RefreshJTI, newPair.RefreshJTI)
		assert.True(t, store.live[newPair.RefreshJTI])
		assert.False(t, store.live[pair.RefreshJTI])
		assert.True(t, store.blacklist[pair.RefreshJTI])
	})

	t.Run("reuse after rotation revokes whole family", func(t *testing.T) {
		service, store, pair := setup(t)

		newPair, err := service.Rotate(ctx, pair.RefreshToken)
		require.NoError(t, err)

		// Replay the rotated-out token.
		_, err = service.Rotate(ctx, pair.RefreshToken)
		assert.ErrorIs(t, err, ErrTokenRevoked)

		// The legitimate successor is dead too.
		assert.True(t, store.blacklist[newPair.RefreshJTI])
		_, err = service.Rotate(ctx, newPair.RefreshToken)
		assert.ErrorIs(t, err, ErrTokenRevoked)
	})

	t.Run("concurrent rotations resolve to one winner", func(t *testing.T) {
		service, _, pair := setup(t)

		var wg sync.WaitGroup
		results := make([]error, 2)
		for i := 0; i < 2; i++ {
			wg.Add(1)
			i := i
			go func() {
				defer wg.Done()
				_, results[i] = service.Rotate(ctx, pair.RefreshToken)
			}()
		}
		wg.Wait()

		var successes, revoked int
		for _, err := range results {
			switch {
			case err == nil:
				successes++
			case assert.ErrorIs(t, err, ErrTokenRevoked):
				revoked++
			}
		}
		assert.Equal(t, 1, successes)
		assert.Equal(t, 1, revoked)
	})

	t.Run("access token cannot rotate", func(t *testing.T) {
		service, _, pair := setup(t)

		_, err := service.Rotate(ctx, pair.AccessToken)
		assert.ErrorIs(t, err, ErrWrongTokenType)
	})

	t.Run("no session store configured", func(t *testing.T) {
		cfg := testutils.GetTestConfig()
		service := NewService(cfg, nil)

		pair, err := service.Issue(7, "user")
		require.NoError(t, err)

		_, err = service.Rotate(ctx, pair.RefreshToken)
		assert.ErrorIs(t, err, ErrStoreNotConfigured)
	})
}
