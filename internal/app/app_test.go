package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/packageml/packageml/internal/config"
	"github.com/packageml/packageml/internal/gateway"
	"github.com/packageml/packageml/internal/session"
	"github.com/packageml/packageml/pkg/model"
	"github.com/packageml/packageml/test/testutils"
)

func newApp(t *testing.T, url string, tokens session.TokenStore) *App {
	cfg := config.DefaultConfig()
	cfg.APIURL = url
	require.NoError(t, cfg.Resolve())
	a, err := New(cfg, WithTokenStore(tokens))
	require.NoError(t, err)
	return a
}

func TestLoginScenario(t *testing.T) {
	e := echo.New()
	e.POST("/token", func(c echo.Context) error {
		if c.FormValue("username") != "a@b.com" || c.FormValue("password") != "secret1" {
			return c.JSON(http.StatusUnauthorized, map[string]string{"detail": "Incorrect username or password"})
		}
		return c.JSON(http.StatusOK, map[string]string{"access_token": "T", "token_type": "bearer"})
	})
	e.GET("/users/me/", func(c echo.Context) error {
		if c.Request().Header.Get("Authorization") != "Bearer T" {
			return c.NoContent(http.StatusUnauthorized)
		}
		return c.JSON(http.StatusOK, model.User{ID: 1, Email: "a@b.com"})
	})
	srv := httptest.NewServer(e)
	defer srv.Close()

	tokens := session.NewMemoryTokenStore("")
	a := newApp(t, srv.URL, tokens)

	_, err := a.Login(context.Background(), "a@b.com", "wrong")
	require.ErrorIs(t, err, gateway.ErrUnauthenticated)
	require.False(t, a.Session.IsAuthenticated())

	user, err := a.Login(context.Background(), "a@b.com", "secret1")
	require.NoError(t, err)
	require.Equal(t, &model.User{ID: 1, Email: "a@b.com"}, user)

	snap := a.Session.Snapshot()
	require.Equal(t, session.Authenticated, snap.State)
	require.Equal(t, user, snap.User)
	token, ok := a.Session.Token()
	require.True(t, ok)
	require.Equal(t, "T", token)
	stored, err := tokens.Load()
	require.NoError(t, err)
	require.Equal(t, "T", stored)

	require.NoError(t, a.Logout())
	stored, err = tokens.Load()
	require.NoError(t, err)
	require.Empty(t, stored)
}

func TestLoginRequiresFields(t *testing.T) {
	a := newApp(t, "http://127.0.0.1:1", session.NewMemoryTokenStore(""))
	_, err := a.Login(context.Background(), "", "")
	require.ErrorIs(t, err, gateway.ErrValidationFailed)
	require.Contains(t, gateway.Detail(err), "email")
}

func TestRegister(t *testing.T) {
	backend := testutils.NewBackend(t)
	a := newApp(t, backend.URL(), session.NewMemoryTokenStore(""))
	ctx := context.Background()

	_, err := a.Register(ctx, "new@b.com", "longenough", "different")
	require.EqualError(t, err, "Passwords do not match")
	_, err = a.Register(ctx, "new@b.com", "short", "short")
	require.EqualError(t, err, "Password must be at least 8 characters long")
	require.Zero(t, backend.Count(http.MethodPost, "/users/"))

	user, err := a.Register(ctx, "new@b.com", "longenough", "longenough")
	require.NoError(t, err)
	require.Equal(t, "new@b.com", user.Email)
	require.False(t, a.Session.IsAuthenticated(), "registration does not log in")

	_, err = a.Register(ctx, "new@b.com", "longenough", "longenough")
	require.ErrorIs(t, err, gateway.ErrValidationFailed)
	require.Equal(t, "Email already registered", gateway.Detail(err))

	_, err = a.Login(ctx, "new@b.com", "longenough")
	require.NoError(t, err)
}

func TestRejectedTokenLogsOut(t *testing.T) {
	backend := testutils.NewBackend(t)
	token := backend.LoggedIn("a@b.com")
	tokens := session.NewMemoryTokenStore(string(token))
	a := newApp(t, backend.URL(), tokens)

	_, err := a.Session.Require(context.Background())
	require.NoError(t, err)

	backend.RevokeToken(string(token))
	_, err = a.Datasets.List(context.Background())
	require.ErrorIs(t, err, gateway.ErrUnauthenticated)
	require.Equal(t, session.Anonymous, a.Session.State())
	stored, err := tokens.Load()
	require.NoError(t, err)
	require.Empty(t, stored)

	// Without a token nothing is sent at all.
	before := len(backend.Requests())
	_, err = a.Jobs.List(context.Background())
	require.ErrorIs(t, err, gateway.ErrUnauthenticated)
	require.Len(t, backend.Requests(), before)
}

func TestPollerUsesConfiguredInterval(t *testing.T) {
	a := newApp(t, "http://127.0.0.1:1", session.NewMemoryTokenStore(""))
	require.Equal(t, config.DefaultPollInterval, a.NewPoller().Interval())
}
