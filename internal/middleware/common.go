package middleware

import (
	"net/http"
	"slices"

	"github.com/labstack/echo/v4"
	ecM "github.com/labstack/echo/v4/middleware"
)

const (
	CSRFCookie = "XSRF-TOKEN"
	CSRFHeader = "X-CSRF-Token"
)

func Common() []echo.MiddlewareFunc {
	return []echo.MiddlewareFunc{
		ecM.Recover(),
		ecM.RequestID(),
		ecM.Secure(),
	}
}

// CSRF is the double-submit cookie check for state-changing requests. Safe
// methods receive the token cookie; paths in skip are not checked.
func CSRF(secure bool, skip ...string) echo.MiddlewareFunc {
	return ecM.CSRFWithConfig(ecM.CSRFConfig{
		Skipper: func(c echo.Context) bool {
			return slices.Contains(skip, c.Path())
		},
		TokenLookup:    "header:" + CSRFHeader + ",form:csrf_token",
		CookieName:     CSRFCookie,
		CookiePath:     "/",
		CookieSecure:   secure,
		CookieHTTPOnly: false,
		CookieSameSite: http.SameSiteLaxMode,
		CookieMaxAge:   86400,
	})
}
