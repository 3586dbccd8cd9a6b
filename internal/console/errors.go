package console

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/packageml/packageml/internal/gateway"
	"github.com/packageml/packageml/internal/guard"
	"github.com/packageml/packageml/internal/resource"
)

// statusOf maps a failure onto the status the console answers with.
func statusOf(err error) int {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he.Code
	case errors.Is(err, gateway.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, gateway.ErrValidationFailed):
		return http.StatusBadRequest
	case errors.Is(err, gateway.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, gateway.ErrUnreachable):
		return http.StatusBadGateway
	case errors.Is(err, resource.ErrNotConfirmed), errors.Is(err, resource.ErrInFlight):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// messageOf is what the user sees: the backend's own message when there is one.
func messageOf(err error) string {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if msg, ok := he.Message.(string); ok {
			return msg
		}
		return http.StatusText(he.Code)
	}
	if errors.Is(err, gateway.ErrUnreachable) {
		return "The server could not be reached. Nothing was changed; try again."
	}
	return gateway.Detail(err)
}

// JSONErrorHandler sends a JSON response with a single "message" key. A page request that fails
// for lack of a session is sent to the login page instead.
func JSONErrorHandler(err error, c echo.Context) {
	code := statusOf(err)
	if code >= http.StatusInternalServerError {
		c.Logger().Error(err)
	}
	if c.Response().Committed {
		return
	}

	req := c.Request()
	switch {
	case code == http.StatusUnauthorized && req.Method == http.MethodGet && !c.IsWebSocket():
		err = c.Redirect(http.StatusFound, guard.LoginURL(loginPath, req.URL.RequestURI()))
	case req.Method == http.MethodHead:
		// For the HEAD method, the server MUST NOT return a message-body in the response.
		err = c.NoContent(code)
	default:
		err = c.JSON(code, map[string]interface{}{"message": messageOf(err)})
	}
	if err != nil {
		c.Logger().Error(err)
	}
}
