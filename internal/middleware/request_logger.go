package middleware

import (
	"errors"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/marketplace/internal/logging"
	"github.com/Skotchmaster/marketplace/internal/service"
)

// RequestLogger puts a request-scoped logger into the request context and
// writes one http_request line per request, tagged with the actor the session
// resolved and the error kind of a failed call.
func RequestLogger(base *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			rid := c.Response().Header().Get(echo.HeaderXRequestID)
			if rid == "" {
				rid = req.Header.Get(echo.HeaderXRequestID)
			}

			l := base.With("method", req.Method, "path", req.URL.Path, "route", c.Path())
			if rid != "" {
				l = l.With("request_id", rid)
			}
			c.SetRequest(req.WithContext(logging.IntoContext(req.Context(), l)))

			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			attrs := []any{
				"status", status,
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_ip", c.RealIP(),
			}
			if a := ActorFrom(c); a.Authenticated() {
				attrs = append(attrs, "actor_id", a.ID, "role", a.Role)
			}
			if Refreshed(c) != nil {
				attrs = append(attrs, "session_renewed", true)
			}
			if kind := errorKind(err); kind != "" {
				attrs = append(attrs, "kind", kind)
			}

			switch {
			case status >= 500:
				l.Error("http_request", append(attrs, "error", err)...)
			case status >= 400:
				l.Warn("http_request", attrs...)
			default:
				l.Info("http_request", append(attrs, "bytes", c.Response().Size)...)
			}
			return nil
		}
	}
}

// errorKind names the domain error behind a failed request. Errors outside
// the service vocabulary yield "".
func errorKind(err error) string {
	if err == nil {
		return ""
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if he.Internal == nil {
			return ""
		}
		err = he.Internal
	}
	if kind := service.KindOf(err); kind != service.KindInternal {
		return kind
	}
	return ""
}
