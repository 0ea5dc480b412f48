package tokenauth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tutorstack/authcore/services/token"
	"github.com/tutorstack/authcore/testutils"
)

func issuePair(t *testing.T) (*token.Service, *token.Pair) {
	tokens := token.NewService(testutils.GetTestConfig(), nil)
	pair, err := tokens.Issue(42, "user")
	require.NoError(t, err)
	return tokens, pair
}

func runMiddleware(t *testing.T, tokens *token.Service, checker SessionChecker, decorate func(*http.Request)) (error, bool) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if decorate != nil {
		decorate(req)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handlerCalled := false
	handler := RequireAuth(tokens, checker, nil)(func(c echo.Context) error {
		handlerCalled = true
		return c.NoContent(http.StatusOK)
	})

	return handler(c), handlerCalled
}

func assertHTTPCode(t *testing.T, err error, status int, code string) {
	t.Helper()

	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, status, he.Code)

	body, ok := he.Message.(echo.Map)
	require.True(t, ok)
	assert.Equal(t, code, body["code"])
}

func TestRequireAuth(t *testing.T) {
	t.Run("admits live token from cookie", func(t *testing.T) {
		tokens, pair := issuePair(t)

		checker := &testutils.MockSessionChecker{}
		checker.On("IsLive", mock.Anything, uint(42), pair.AccessJTI).Return(true, nil)

		e := echo.New()
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.AddCookie(&http.Cookie{Name: AccessCookieName, Value: pair.AccessToken})
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		handler := RequireAuth(tokens, checker, nil)(func(c echo.Context) error {
			assert.Equal(t, uint(42), GetUserID(c))
			assert.Equal(t, "user", GetRole(c))
			require.NotNil(t, GetClaims(c))
			return c.NoContent(http.StatusOK)
		})

		require.NoError(t, handler(c))
		assert.Equal(t, http.StatusOK, rec.Code)
		checker.AssertExpectations(t)
	})

	t.Run("admits live token from bearer header", func(t *testing.T) {
		tokens, pair := issuePair(t)

		checker := &testutils.MockSessionChecker{}
		checker.On("IsLive", mock.Anything, uint(42), pair.AccessJTI).Return(true, nil)

		err, called := runMiddleware(t, tokens, checker, func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
		})
		require.NoError(t, err)
		assert.True(t, called)
	})

	t.Run("missing token", func(t *testing.T) {
		tokens, _ := issuePair(t)

		err, called := runMiddleware(t, tokens, &testutils.MockSessionChecker{}, nil)
		assert.False(t, called)
		assertHTTPCode(t, err, http.StatusUnauthorized, "token_missing")
	})

	t.Run("expired token", func(t *testing.T) {
		cfg := testutils.GetTestConfig()
		cfg.JWT.AccessExpiry = -time.Minute
		tokens := token.NewService(cfg, nil)
		pair, err := tokens.Issue(42, "user")
		require.NoError(t, err)

		verifier := token.NewService(testutils.GetTestConfig(), nil)
		err, called := runMiddleware(t, verifier, &testutils.MockSessionChecker{}, func(req *http.Request) {
			req.AddCookie(&http.Cookie{Name: AccessCookieName, Value: pair.AccessToken})
		})
		assert.False(t, called)
		assertHTTPCode(t, err, http.StatusUnauthorized, "token_expired")
	})

	t.Run("refresh token rejected on access routes", func(t *testing.T) {
		tokens, pair := issuePair(t)

		err, called := runMiddleware(t, tokens, &testutils.MockSessionChecker{}, func(req *http.Request) {
			req.AddCookie(&http.Cookie{Name: AccessCookieName, Value: pair.RefreshToken})
		})
		assert.False(t, called)
		assertHTTPCode(t, err, http.StatusUnauthorized, "token_invalid")
	})

	t.Run("revoked token", func(t *testing.T) {
		tokens, pair := issuePair(t)

		checker := &testutils.MockSessionChecker{}
		checker.On("IsLive", mock.Anything, uint(42), pair.AccessJTI).Return(false, nil)

		err, called := runMiddleware(t, tokens, checker, func(req *http.Request) {
			req.AddCookie(&http.Cookie{Name: AccessCookieName, Value: pair.AccessToken})
		})
		assert.False(t, called)
		assertHTTPCode(t, err, http.StatusUnauthorized, "token_revoked")
	})

	t.Run("fails closed when the session store errors", func(t *testing.T) {
		tokens, pair := issuePair(t)

		checker := &testutils.MockSessionChecker{}
		checker.On("IsLive", mock.Anything, uint(42), pair.AccessJTI).
			Return(false, errors.New("redis: connection refused"))

		err, called := runMiddleware(t, tokens, checker, func(req *http.Request) {
			req.AddCookie(&http.Cookie{Name: AccessCookieName, Value: pair.AccessToken})
		})
		assert.False(t, called)
		assertHTTPCode(t, err, http.StatusUnauthorized, "session_unavailable")
	})

	t.Run("garbage token", func(t *testing.T) {
		tokens, _ := issuePair(t)

		err, called := runMiddleware(t, tokens, &testutils.MockSessionChecker{}, func(req *http.Request) {
			req.AddCookie(&http.Cookie{Name: AccessCookieName, Value: "garbage"})
		})
		assert.False(t, called)
		assertHTTPCode(t, err, http.StatusUnauthorized, "token_malformed")
	})
}
