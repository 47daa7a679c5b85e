package middleware

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skotchmaster/marketplace/internal/authz"
	"github.com/Skotchmaster/marketplace/internal/logging"
	"github.com/Skotchmaster/marketplace/internal/models"
	"github.com/Skotchmaster/marketplace/internal/service"
	"github.com/Skotchmaster/marketplace/internal/tokens"
)

type fakeIdentity struct {
	issuer    *tokens.Issuer
	refreshed int
}

func (f *fakeIdentity) ResolveActor(_ context.Context, id uint) (authz.Actor, error) {
	if id != 7 {
		return authz.Actor{}, errors.New("no such user")
	}
	return authz.Actor{ID: 7, Role: models.RoleCustomer, Approved: true}, nil
}

func (f *fakeIdentity) Refresh(_ context.Context, token string) (*service.Session, error) {
	if _, err := f.issuer.ParseRefresh(token); err != nil {
		return nil, err
	}
	f.refreshed++
	pair, err := f.issuer.Issue(7, string(models.RoleCustomer))
	if err != nil {
		return nil, err
	}
	return &service.Session{User: &models.User{ID: 7, Role: models.RoleCustomer, Approved: true}, Tokens: pair}, nil
}

type sessionCase struct {
	e      *echo.Echo
	issuer *tokens.Issuer
	ident  *fakeIdentity
	now    time.Time
	seen   authz.Actor
	pair   *tokens.Pair
}

func newSessionCase(t *testing.T) *sessionCase {
	t.Helper()
	sc := &sessionCase{now: time.Now()}
	sc.issuer = &tokens.Issuer{
		AccessSecret:  []byte("a"),
		RefreshSecret: []byte("r"),
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
		Now:           func() time.Time { return sc.now },
	}
	sc.ident = &fakeIdentity{issuer: sc.issuer}
	session := &Session{Tokens: sc.issuer, Identity: sc.ident}

	sc.e = echo.New()
	sc.e.GET("/", func(c echo.Context) error {
		sc.seen = ActorFrom(c)
		sc.pair = Refreshed(c)
		return c.NoContent(http.StatusOK)
	}, session.Middleware)
	return sc
}

func (sc *sessionCase) get(cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	rec := httptest.NewRecorder()
	sc.e.ServeHTTP(rec, req)
	return rec
}

func TestSessionAnonymous(t *testing.T) {
	sc := newSessionCase(t)
	rec := sc.get()
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, sc.seen.Authenticated())
	assert.Empty(t, rec.Result().Cookies())
}

func TestSessionResolvesAccessToken(t *testing.T) {
	sc := newSessionCase(t)
	pair, err := sc.issuer.Issue(7, string(models.RoleCustomer))
	require.NoError(t, err)

	sc.get(&http.Cookie{Name: tokens.AccessCookie, Value: pair.AccessToken})
	assert.Equal(t, uint(7), sc.seen.ID)
	assert.Nil(t, sc.pair)
	assert.Zero(t, sc.ident.refreshed)
}

func TestSessionRenewsExpiredAccessToken(t *testing.T) {
	sc := newSessionCase(t)
	pair, err := sc.issuer.Issue(7, string(models.RoleCustomer))
	require.NoError(t, err)
	sc.now = sc.now.Add(2 * time.Minute)

	rec := sc.get(
		&http.Cookie{Name: tokens.AccessCookie, Value: pair.AccessToken},
		&http.Cookie{Name: tokens.RefreshCookie, Value: pair.RefreshToken},
	)
	assert.Equal(t, uint(7), sc.seen.ID)
	assert.Equal(t, 1, sc.ident.refreshed)
	require.NotNil(t, sc.pair)

	names := map[string]string{}
	for _, ck := range rec.Result().Cookies() {
		names[ck.Name] = ck.Value
	}
	assert.Equal(t, sc.pair.AccessToken, names[tokens.AccessCookie])
	assert.Equal(t, sc.pair.RefreshToken, names[tokens.RefreshCookie])
}

func TestSessionClearsGarbage(t *testing.T) {
	sc := newSessionCase(t)
	rec := sc.get(&http.Cookie{Name: tokens.AccessCookie, Value: "garbage"})
	assert.False(t, sc.seen.Authenticated())

	cleared := 0
	for _, ck := range rec.Result().Cookies() {
		if ck.MaxAge < 0 {
			cleared++
		}
	}
	assert.Equal(t, 2, cleared)
}

func TestSessionUnknownUserIsAnonymous(t *testing.T) {
	sc := newSessionCase(t)
	pair, err := sc.issuer.Issue(99, string(models.RoleCustomer))
	require.NoError(t, err)

	sc.get(&http.Cookie{Name: tokens.AccessCookie, Value: pair.AccessToken})
	assert.False(t, sc.seen.Authenticated())
}

func TestRequestLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	e := echo.New()
	e.Use(Common()...)
	e.Use(RequestLogger(logging.NewWithWriter(buf, "info")))
	e.GET("/ok", func(c echo.Context) error {
		logging.FromContext(c.Request().Context()).Info("inside_handler")
		return c.NoContent(http.StatusOK)
	})
	e.GET("/boom", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusTeapot, "nope")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, buf.String(), `"msg":"inside_handler"`)
	assert.Contains(t, buf.String(), `"request_id"`)
	assert.Contains(t, buf.String(), `"path":"/ok"`)

	buf.Reset()
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Contains(t, buf.String(), `"level":"WARN"`)
	assert.Contains(t, buf.String(), `"status":418`)
}

func TestRequestLoggerTagsActorAndErrorKind(t *testing.T) {
	buf := &bytes.Buffer{}
	e := echo.New()
	e.Use(RequestLogger(logging.NewWithWriter(buf, "info")))
	signedIn := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(ctxActor, authz.Actor{ID: 7, Role: models.RoleCustomer, Approved: true})
			return next(c)
		}
	}
	e.GET("/mine", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}, signedIn)
	e.GET("/sold-out", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusConflict, "sold out").SetInternal(service.ErrInsufficientStock)
	}, signedIn)
	e.GET("/public", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/mine", nil))
	assert.Contains(t, buf.String(), `"msg":"http_request"`)
	assert.Contains(t, buf.String(), `"actor_id":7`)
	assert.Contains(t, buf.String(), `"role":"customer"`)
	assert.NotContains(t, buf.String(), `"kind"`)

	buf.Reset()
	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/sold-out", nil))
	assert.Contains(t, buf.String(), `"kind":"insufficient_stock"`)
	assert.Contains(t, buf.String(), `"status":409`)

	buf.Reset()
	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/public", nil))
	assert.NotContains(t, buf.String(), `"actor_id"`)
}

func TestRequestLoggerMarksRenewedSession(t *testing.T) {
	sc := newSessionCase(t)
	buf := &bytes.Buffer{}
	sc.e.Use(RequestLogger(logging.NewWithWriter(buf, "info")))
	pair, err := sc.issuer.Issue(7, string(models.RoleCustomer))
	require.NoError(t, err)
	sc.now = sc.now.Add(2 * time.Minute)

	sc.get(
		&http.Cookie{Name: tokens.AccessCookie, Value: pair.AccessToken},
		&http.Cookie{Name: tokens.RefreshCookie, Value: pair.RefreshToken},
	)
	assert.Contains(t, buf.String(), `"session_renewed":true`)
	assert.Contains(t, buf.String(), `"actor_id":7`)
}
