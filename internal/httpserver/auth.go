package httpserver

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/marketplace/internal/logging"
	mw "github.com/Skotchmaster/marketplace/internal/middleware"
	"github.com/Skotchmaster/marketplace/internal/models"
	"github.com/Skotchmaster/marketplace/internal/service"
	"github.com/Skotchmaster/marketplace/internal/tokens"
)

type AuthHTTP struct {
	Svc          *service.IdentityService
	CookieSecure bool
}

type credentials struct {
	Username string      `json:"username"`
	Password string      `json:"password"`
	Role     models.Role `json:"role"`
}

func (h *AuthHTTP) setSession(c echo.Context, p *tokens.Pair) {
	for _, ck := range tokens.SessionCookies(p, h.CookieSecure) {
		c.SetCookie(ck)
	}
}

func (h *AuthHTTP) clearSession(c echo.Context) {
	for _, ck := range tokens.ClearSessionCookies(h.CookieSecure) {
		c.SetCookie(ck)
	}
}

func (h *AuthHTTP) Register(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth.register")

	var req credentials
	if err := c.Bind(&req); err != nil {
		return badRequest(l, "register_error", "invalid body", err)
	}
	if req.Role != "" && !req.Role.SelfRegistrable() {
		return fail(l, "register_error", fmt.Errorf("%w: %q cannot be chosen at sign-up", service.ErrInvalidRole, req.Role))
	}

	user, err := h.Svc.Register(ctx, req.Username, req.Password, req.Role)
	if err != nil {
		return fail(l, "register_error", err)
	}

	return c.JSON(http.StatusCreated, user)
}

func (h *AuthHTTP) Login(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth.login")

	var req credentials
	if err := c.Bind(&req); err != nil {
		return badRequest(l, "login_error", "invalid body", err)
	}

	sess, err := h.Svc.Login(ctx, req.Username, req.Password, req.Role)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			err = fmt.Errorf("%w: invalid username or password", service.ErrBadCredential)
		}
		return fail(l, "login_failed", err)
	}

	h.setSession(c, sess.Tokens)
	return c.JSON(http.StatusOK, echo.Map{
		"user":        sess.User,
		"access_exp":  sess.Tokens.AccessExp.Unix(),
		"refresh_exp": sess.Tokens.RefreshExp.Unix(),
	})
}

// presentedRefresh is the refresh token the client currently holds.
func presentedRefresh(c echo.Context) string {
	if p := mw.Refreshed(c); p != nil {
		return p.RefreshToken
	}
	if ck, err := c.Cookie(tokens.RefreshCookie); err == nil {
		return ck.Value
	}
	return ""
}

func (h *AuthHTTP) Refresh(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth.refresh")

	if p := mw.Refreshed(c); p != nil {
		return c.JSON(http.StatusOK, echo.Map{
			"access_exp":  p.AccessExp.Unix(),
			"refresh_exp": p.RefreshExp.Unix(),
		})
	}

	refreshCookie, err := c.Cookie(tokens.RefreshCookie)
	if err != nil || refreshCookie.Value == "" {
		return fail(l, "refresh_failed", fmt.Errorf("%w: refresh token missing", service.ErrInvalidRefreshToken))
	}

	sess, err := h.Svc.Refresh(ctx, refreshCookie.Value)
	if err != nil {
		h.clearSession(c)
		return fail(l, "refresh_failed", err)
	}

	h.setSession(c, sess.Tokens)
	return c.JSON(http.StatusOK, echo.Map{
		"access_exp":  sess.Tokens.AccessExp.Unix(),
		"refresh_exp": sess.Tokens.RefreshExp.Unix(),
	})
}

func (h *AuthHTTP) Logout(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth.logout")

	err := h.Svc.Logout(ctx, mw.ActorFrom(c), presentedRefresh(c))
	h.clearSession(c)
	if err != nil {
		return fail(l, "logout_failed", err)
	}

	l.Info("logout_success")
	return c.JSON(http.StatusOK, echo.Map{"message": "logged out"})
}
