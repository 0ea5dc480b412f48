package verified

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tutorstack/authcore/middleware/tokenauth"
	"github.com/tutorstack/authcore/testutils"
)

func runGate(t *testing.T, users VerificationSource, userID uint) (error, bool) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/tutor/ask", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if userID != 0 {
		c.Set(tokenauth.UserIDKey, userID)
	}

	handlerCalled := false
	handler := RequireVerifiedEmail(users, nil)(func(c echo.Context) error {
		handlerCalled = true
		return c.NoContent(http.StatusOK)
	})

	return handler(c), handlerCalled
}

func TestRequireVerifiedEmail(t *testing.T) {
	t.Run("verified user passes", func(t *testing.T) {
		users := &testutils.MockVerificationSource{}
		users.On("IsEmailVerified", mock.Anything, uint(1)).Return(true, nil)

		err, called := runGate(t, users, 1)
		require.NoError(t, err)
		assert.True(t, called)
	})

	t.Run("unverified user is blocked before the handler", func(t *testing.T) {
		users := &testutils.MockVerificationSource{}
		users.On("IsEmailVerified", mock.Anything, uint(1)).Return(false, nil)

		err, called := runGate(t, users, 1)
		assert.False(t, called)

		var he *echo.HTTPError
		require.ErrorAs(t, err, &he)
		assert.Equal(t, http.StatusForbidden, he.Code)
	})

	t.Run("lookup failure fails closed", func(t *testing.T) {
		users := &testutils.MockVerificationSource{}
		users.On("IsEmailVerified", mock.Anything, uint(1)).
			Return(false, errors.New("database gone"))

		err, called := runGate(t, users, 1)
		assert.False(t, called)

		var he *echo.HTTPError
		require.ErrorAs(t, err, &he)
		assert.Equal(t, http.StatusServiceUnavailable, he.Code)
	})

	t.Run("unauthenticated request is rejected", func(t *testing.T) {
		err, called := runGate(t, &testutils.MockVerificationSource{}, 0)
		assert.False(t, called)

		var he *echo.HTTPError
		require.ErrorAs(t, err, &he)
		assert.Equal(t, http.StatusUnauthorized, he.Code)
	})
}
