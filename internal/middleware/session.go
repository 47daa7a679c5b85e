package middleware

import (
	"context"
	"errors"
	"log/slog"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/marketplace/internal/authz"
	"github.com/Skotchmaster/marketplace/internal/logging"
	"github.com/Skotchmaster/marketplace/internal/service"
	"github.com/Skotchmaster/marketplace/internal/tokens"
)

const (
	ctxActor     = "actor"
	ctxRefreshed = "session_refreshed"
)

// Identity is the part of the identity service the session needs.
type Identity interface {
	ResolveActor(ctx context.Context, userID uint) (authz.Actor, error)
	Refresh(ctx context.Context, refreshToken string) (*service.Session, error)
}

// Session resolves the request's actor from the session cookies. Requests
// without a usable session continue as the anonymous actor; authorization is
// left to the services. An expired access token is renewed from the refresh
// cookie.
type Session struct {
	Tokens   *tokens.Issuer
	Identity Identity
	Secure   bool
}

func (m *Session) Middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Set(ctxActor, m.resolve(c))
		return next(c)
	}
}

func (m *Session) resolve(c echo.Context) authz.Actor {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("mw", "session")

	accessCookie, err := c.Cookie(tokens.AccessCookie)
	if err != nil || accessCookie.Value == "" {
		return m.refresh(c, l)
	}

	claims, err := m.Tokens.ParseAccess(accessCookie.Value)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return m.refresh(c, l)
		}
		l.Warn("session_invalid", "reason", "invalid access token", "error", err)
		m.clear(c)
		return authz.Actor{}
	}

	userID, err := tokens.SubjectID(claims.RegisteredClaims)
	if err != nil {
		m.clear(c)
		return authz.Actor{}
	}
	actor, err := m.Identity.ResolveActor(ctx, userID)
	if err != nil {
		l.Warn("session_invalid", "reason", "user not resolvable", "user_id", userID, "error", err)
		m.clear(c)
		return authz.Actor{}
	}
	return actor
}

func (m *Session) refresh(c echo.Context, l *slog.Logger) authz.Actor {
	refreshCookie, err := c.Cookie(tokens.RefreshCookie)
	if err != nil || refreshCookie.Value == "" {
		return authz.Actor{}
	}

	sess, err := m.Identity.Refresh(c.Request().Context(), refreshCookie.Value)
	if err != nil {
		l.Warn("session_refresh_failed", "error", err)
		m.clear(c)
		return authz.Actor{}
	}

	for _, ck := range tokens.SessionCookies(sess.Tokens, m.Secure) {
		c.SetCookie(ck)
	}
	c.Set(ctxRefreshed, sess.Tokens)
	return authz.FromUser(sess.User)
}

func (m *Session) clear(c echo.Context) {
	for _, ck := range tokens.ClearSessionCookies(m.Secure) {
		c.SetCookie(ck)
	}
}

// ActorFrom returns the actor resolved for this request.
func ActorFrom(c echo.Context) authz.Actor {
	a, _ := c.Get(ctxActor).(authz.Actor)
	return a
}

// Refreshed returns the pair issued when the session was renewed during this
// request. The refresh cookie on the request is already revoked in that case.
func Refreshed(c echo.Context) *tokens.Pair {
	p, _ := c.Get(ctxRefreshed).(*tokens.Pair)
	return p
}
