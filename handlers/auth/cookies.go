package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/tutorstack/authcore/middleware/tokenauth"
	"github.com/tutorstack/authcore/services/token"
)

// Tokens travel only as HttpOnly, Secure, SameSite=Strict cookies. They
// never appear in a response body or URL.
func setAuthCookies(c echo.Context, pair *token.Pair, accessMaxAge, refreshMaxAge int) {
	c.SetCookie(&http.Cookie{
		Name:     tokenauth.AccessCookieName,
		Value:    pair.AccessToken,
		Path:     "/",
		MaxAge:   accessMaxAge,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})

	c.SetCookie(&http.Cookie{
		Name:     tokenauth.RefreshCookieName,
		Value:    pair.RefreshToken,
		Path:     "/",
		MaxAge:   refreshMaxAge,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

func clearAuthCookies(c echo.Context) {
	for _, name := range []string{tokenauth.AccessCookieName, tokenauth.RefreshCookieName} {
		c.SetCookie(&http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   true,
			SameSite: http.SameSiteStrictMode,
		})
	}
}
