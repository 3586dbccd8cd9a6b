package ws_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/packageml/packageml/pkg/ws"
)

type command struct {
	Action string `json:"action"`
}

type snapshot struct {
	Seq   int      `json:"seq"`
	Names []string `json:"names"`
}

// echoServer answers every "refresh" with a numbered snapshot.
func echoServer(t *testing.T) string {
	e := echo.New()
	e.GET("/stream", func(c echo.Context) error {
		conn, err := ws.Upgrade[command, snapshot](c, "test-server", ws.Options{})
		if err != nil {
			return err
		}
		defer conn.Close() //nolint:errcheck

		seq := 0
		for cmd := range conn.Inbox {
			if cmd.Action != "refresh" {
				continue
			}
			seq++
			if err := conn.Send(c.Request().Context(), snapshot{Seq: seq, Names: []string{"a", "b"}}); err != nil {
				return err
			}
		}
		return nil
	})
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream"
}

func TestRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := ws.Dial[snapshot, command](ctx, "test-client", echoServer(t), nil, ws.Options{})
	require.NoError(t, err)

	for want := 1; want <= 3; want++ {
		require.NoError(t, conn.Send(ctx, command{Action: "refresh"}))
		select {
		case got := <-conn.Inbox:
			require.Equal(t, snapshot{Seq: want, Names: []string{"a", "b"}}, got)
		case <-ctx.Done():
			t.Fatal("no snapshot received")
		}
	}

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Wait())
	require.ErrorIs(t, conn.Send(ctx, command{Action: "refresh"}), ws.ErrClosed)
	// Closing twice reports the same outcome.
	require.NoError(t, conn.Close())
}

func TestPeerCloseEndsInbox(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	e := echo.New()
	e.GET("/stream", func(c echo.Context) error {
		conn, err := ws.Upgrade[command, snapshot](c, "closing-server", ws.Options{})
		if err != nil {
			return err
		}
		return conn.Close()
	})
	srv := httptest.NewServer(e)
	defer srv.Close()

	conn, err := ws.Dial[snapshot, command](ctx, "test-client",
		"ws"+strings.TrimPrefix(srv.URL, "http")+"/stream", nil, ws.Options{})
	require.NoError(t, err)
	defer conn.Close() //nolint:errcheck

	select {
	case _, ok := <-conn.Inbox:
		require.False(t, ok, "inbox closes when the peer says goodbye")
	case <-ctx.Done():
		t.Fatal("inbox never closed")
	}
	require.NoError(t, conn.Wait())
}

func TestDialFailure(t *testing.T) {
	srv := httptest.NewServer(echo.New())
	defer srv.Close()

	_, err := ws.Dial[snapshot, command](context.Background(), "test-client",
		"ws"+strings.TrimPrefix(srv.URL, "http")+"/missing", nil, ws.Options{})
	require.ErrorContains(t, err, "404")
}
