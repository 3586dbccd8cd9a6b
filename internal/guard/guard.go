// Package guard gates routes and commands on an authenticated session.
package guard

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/packageml/packageml/internal/session"
	"github.com/packageml/packageml/pkg/model"
)

const (
	userKey = "packageml-user"
	// NextParam carries the originally requested location through the login page.
	NextParam = "next"
)

// Session is the part of the session store the guard reads.
type Session interface {
	EnsureResolved(ctx context.Context) session.State
	User() *model.User
}

// Loading is the body sent while the stored token is being validated.
type Loading struct {
	State   string `json:"state"`
	Message string `json:"message"`
}

// Middleware lets a request through only when the session is authenticated. While a stored
// token is being validated it answers 202 with a Loading body and never redirects; the first
// request to find an unvalidated token starts that validation. Without a session, reads are
// redirected to loginPath with the requested URI in the next parameter and other methods get 401.
func Middleware(store Session, loginPath string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			state := store.EnsureResolved(c.Request().Context())
			switch state {
			case session.Authenticated:
				if user := store.User(); user != nil {
					c.Set(userKey, user)
					return next(c)
				}
				// Logged out between the two reads.
			case session.Resolving, session.Unresolved:
				c.Response().Header().Set("Retry-After", "1")
				return c.JSON(http.StatusAccepted, Loading{
					State:   session.Resolving.String(),
					Message: "Loading...",
				})
			}

			switch c.Request().Method {
			case http.MethodGet, http.MethodHead:
				return c.Redirect(http.StatusFound, LoginURL(loginPath, c.Request().URL.RequestURI()))
			default:
				return echo.NewHTTPError(http.StatusUnauthorized, "not logged in")
			}
		}
	}
}

// LoginURL is the login location that returns to next afterwards.
func LoginURL(loginPath, next string) string {
	return loginPath + "?" + url.Values{NextParam: {next}}.Encode()
}

// SafeNext returns next if it is a local path, otherwise fallback. It keeps the login page from
// redirecting to another host. Browsers read a backslash as a slash and drop tabs and newlines,
// so "/\host" and "/%5Chost" count as other hosts too.
func SafeNext(next, fallback string) string {
	u, err := url.Parse(next)
	if next == "" || err != nil || u.IsAbs() || u.Host != "" || len(u.Path) == 0 || u.Path[0] != '/' {
		return fallback
	}
	for _, p := range []string{next, u.Path} {
		if strings.HasPrefix(p, "//") || strings.ContainsAny(p, "\\\t\r\n") {
			return fallback
		}
	}
	return next
}

// User returns the user the middleware let through.
func User(c echo.Context) *model.User {
	user, _ := c.Get(userKey).(*model.User)
	return user
}

// ErrLoginRequired is returned by RequireSession when nobody is logged in.
var ErrLoginRequired = errors.New("not logged in; run `packageml login` first")

// Resolver is the part of the session store RequireSession needs.
type Resolver interface {
	Require(ctx context.Context) (*model.User, error)
}

// RequireSession resolves the session synchronously, for commands that cannot show a loading
// state, and fails with ErrLoginRequired when it is anonymous.
func RequireSession(ctx context.Context, store Resolver) (*model.User, error) {
	user, err := store.Require(ctx)
	if errors.Is(err, session.ErrNoSession) {
		return nil, ErrLoginRequired
	}
	return user, err
}
