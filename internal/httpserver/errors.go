package httpserver

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/marketplace/internal/service"
)

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

var kindStatus = map[string]int{
	"not_found":             http.StatusNotFound,
	"unauthorized":          http.StatusForbidden,
	"unauthenticated":       http.StatusUnauthorized,
	"pending_approval":      http.StatusForbidden,
	"duplicate_username":    http.StatusConflict,
	"invalid_input":         http.StatusBadRequest,
	"invalid_role":          http.StatusBadRequest,
	"insufficient_stock":    http.StatusConflict,
	"bad_credential":        http.StatusUnauthorized,
	"invalid_refresh_token": http.StatusUnauthorized,
}

// StatusOf maps a service error to its HTTP status.
func StatusOf(err error) int {
	if code, ok := kindStatus[service.KindOf(err)]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// fail logs err under event and turns it into an HTTP error with the
// {"error": {"kind", "message"}} body. Internal errors keep their detail out
// of the response.
func fail(l *slog.Logger, event string, err error) error {
	kind := service.KindOf(err)
	code := StatusOf(err)
	msg := err.Error()
	if code >= 500 {
		l.Error(event, "status", code, "error", err)
		msg = "internal server error"
	} else {
		l.Warn(event, "status", code, "reason", kind, "error", err)
	}
	return echo.NewHTTPError(code, errorBody{Error: errorDetail{Kind: kind, Message: msg}}).SetInternal(err)
}

func badRequest(l *slog.Logger, event, msg string, err error) error {
	l.Warn(event, "status", 400, "reason", msg, "error", err)
	return echo.NewHTTPError(http.StatusBadRequest, errorBody{Error: errorDetail{Kind: "invalid_input", Message: msg}})
}

// ErrorHandler renders every error in the {"error": ...} shape, including
// echo's own routing, binding and CSRF errors.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	body := errorBody{Error: errorDetail{Kind: service.KindInternal, Message: "internal server error"}}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		switch m := he.Message.(type) {
		case errorBody:
			body = m
		case string:
			body = errorBody{Error: errorDetail{Kind: kindForStatus(code), Message: m}}
		default:
			body = errorBody{Error: errorDetail{Kind: kindForStatus(code), Message: http.StatusText(code)}}
		}
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, body)
}

func kindForStatus(code int) string {
	switch code {
	case http.StatusNotFound:
		return "not_found"
	case http.StatusUnauthorized:
		return "unauthenticated"
	case http.StatusForbidden:
		return "unauthorized"
	case http.StatusBadRequest:
		return "invalid_input"
	}
	if code >= 500 {
		return service.KindInternal
	}
	return "http_" + strconv.Itoa(code)
}
