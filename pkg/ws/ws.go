// Package ws turns a gorilla websocket into a pair of typed JSON channels.
package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-multierror"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/packageml/packageml/pkg/logger"
)

const (
	defaultPingInterval = 15 * time.Second
	defaultPongWait     = time.Minute
	closeWait           = 5 * time.Second
	inboxSize           = 8
	outboxSize          = 32
	// maxMessageSize bounds every frame in both directions. A full job list is far below it.
	maxMessageSize = 4 * 1024 * 1024
)

// ErrClosed is returned by Send once the connection is finished.
var ErrClosed = errors.New("websocket closed")

// Options tunes keepalive. Zero values mean the defaults.
type Options struct {
	PingInterval time.Duration
	PongWait     time.Duration
}

func (o Options) withDefaults() Options {
	if o.PingInterval <= 0 {
		o.PingInterval = defaultPingInterval
	}
	if o.PongWait <= 0 {
		o.PongWait = defaultPongWait
	}
	return o
}

// Conn is a thread-safe, typed websocket. Messages read from the peer are decoded into TIn and
// delivered on Inbox; values sent with Send are encoded and written as text frames.
type Conn[TIn, TOut any] struct {
	// System dependencies.
	log  *logrus.Entry
	conn *websocket.Conn
	opts Options

	// Internal state.
	cancel    context.CancelFunc
	errMu     sync.Mutex
	err       *multierror.Error
	closeOnce sync.Once
	closeErr  error
	outbox    chan TOut

	// Done is closed once both loops have exited. Close must still be called.
	Done <-chan struct{}
	// Inbox delivers decoded messages and is closed when the read side ends.
	Inbox <-chan TIn
}

// Wrap starts the read and write loops of conn.
func Wrap[TIn, TOut any](name string, conn *websocket.Conn, opts Options) *Conn[TIn, TOut] {
	ctx, cancel := context.WithCancel(context.Background())
	inbox := make(chan TIn, inboxSize)
	done := make(chan struct{})

	c := &Conn[TIn, TOut]{
		log: logger.Component("websocket", logger.Context{
			"name":        name,
			"remote-addr": conn.RemoteAddr().String(),
		}),
		conn:   conn,
		opts:   opts.withDefaults(),
		cancel: cancel,
		outbox: make(chan TOut, outboxSize),
		Done:   done,
		Inbox:  inbox,
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := c.writeLoop(ctx); err != nil {
			c.setError(errors.Wrap(err, "write loop"))
		}
	}()
	go func() {
		defer wg.Done()
		if err := c.readLoop(ctx, inbox); err != nil {
			c.setError(errors.Wrap(err, "read loop"))
		}
	}()
	go func() {
		wg.Wait()
		close(done)
	}()
	return c
}

var upgrader = websocket.Upgrader{
	// The console is served to a browser on the same machine; the guard has already checked the
	// session, so any origin of the console itself is accepted.
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || strings.HasSuffix(origin, "://"+r.Host)
	},
}

// Upgrade switches an echo request to a websocket.
func Upgrade[TIn, TOut any](c echo.Context, name string, opts Options) (*Conn[TIn, TOut], error) {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "upgrading to websocket")
	}
	return Wrap[TIn, TOut](name, conn, opts), nil
}

// Dial connects to a websocket URL (ws:// or wss://).
func Dial[TIn, TOut any](
	ctx context.Context, name, url string, header http.Header, opts Options,
) (*Conn[TIn, TOut], error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close() //nolint:errcheck
	}
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "dialing %s: %s", url, resp.Status)
		}
		return nil, errors.Wrapf(err, "dialing %s", url)
	}
	return Wrap[TIn, TOut](name, conn, opts), nil
}

// Send queues msg for writing. It blocks while the outbox is full and fails once the connection
// is finished or ctx ends.
func (c *Conn[TIn, TOut]) Send(ctx context.Context, msg TOut) error {
	select {
	case <-c.Done:
		return ErrClosed
	default:
	}
	select {
	case c.outbox <- msg:
		return nil
	case <-c.Done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the connection is finished and returns what ended it, if it was an error.
func (c *Conn[TIn, TOut]) Wait() error {
	<-c.Done
	return c.Error()
}

// Error returns the failures of the loops so far. Errors from Close are not included.
func (c *Conn[TIn, TOut]) Error() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err.ErrorOrNil()
}

func (c *Conn[TIn, TOut]) setError(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	c.err = multierror.Append(c.err, err)
}

// Close performs the close handshake and releases the connection. If the handshake fails the
// connection is closed forcibly. It is safe to call more than once.
func (c *Conn[TIn, TOut]) Close() error {
	c.closeOnce.Do(func() {
		before := c.Error()
		var merr *multierror.Error
		if err := c.closeGraceful(); err != nil {
			merr = multierror.Append(merr, errors.Wrap(err, "closing gracefully"))
			if err := c.closeForced(); err != nil {
				merr = multierror.Append(merr, errors.Wrap(err, "closing forcibly"))
			}
		}
		if after := c.Error(); before == nil && after != nil {
			merr = multierror.Append(merr, after)
		}
		c.closeErr = merr.ErrorOrNil()
		c.log.Trace("websocket closed")
	})
	return c.closeErr
}

func (c *Conn[TIn, TOut]) readLoop(ctx context.Context, inbox chan<- TIn) error {
	defer c.cancel()
	defer close(inbox)

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait)); err != nil {
		return errors.Wrap(err, "setting read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		kind, data, err := c.conn.ReadMessage()
		switch {
		case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
			return nil
		case err != nil:
			return errors.Wrap(err, "reading message")
		case kind != websocket.TextMessage && kind != websocket.BinaryMessage:
			return errors.Errorf("unexpected message type %d", kind)
		case ctx.Err() != nil:
			// Closing: drain until the peer's close frame arrives.
			continue
		}

		var msg TIn
		if err := json.Unmarshal(data, &msg); err != nil {
			return errors.Wrap(err, "decoding message")
		}
		select {
		case inbox <- msg:
		case <-ctx.Done():
		}
	}
}

func (c *Conn[TIn, TOut]) writeLoop(ctx context.Context) error {
	defer c.cancel()

	ping := time.NewTicker(c.opts.PingInterval)
	defer ping.Stop()
	for {
		select {
		case msg := <-c.outbox:
			var buf bytes.Buffer
			if err := json.NewEncoder(&buf).Encode(msg); err != nil {
				return errors.Wrap(err, "encoding message")
			}
			if buf.Len() > maxMessageSize {
				return errors.Errorf("message of %d bytes exceeds %d", buf.Len(), maxMessageSize)
			}
			err := c.conn.WriteMessage(websocket.TextMessage, buf.Bytes())
			if errors.Is(err, websocket.ErrCloseSent) {
				return nil
			} else if err != nil {
				return errors.Wrap(err, "writing message")
			}
		case <-ping.C:
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.PongWait))
			var netErr net.Error
			switch {
			case errors.As(err, &netErr) && netErr.Timeout():
				continue
			case errors.Is(err, websocket.ErrCloseSent):
				return nil
			case err != nil:
				return errors.Wrap(err, "sending ping")
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Conn[TIn, TOut]) closeGraceful() error {
	c.cancel()
	deadline := time.Now().Add(closeWait)
	// The pong handler must not push the deadline back while closing.
	c.conn.SetPongHandler(nil)
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return errors.Wrap(err, "setting read deadline")
	}
	// Starts the handshake; the read loop then drains until the peer's close or the deadline.
	err := c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), deadline)
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return errors.Wrap(err, "sending close")
	}
	<-c.Done
	return errors.Wrap(c.conn.Close(), "closing connection")
}

func (c *Conn[TIn, TOut]) closeForced() error {
	c.cancel()
	err := c.conn.Close()
	<-c.Done
	return errors.Wrap(err, "closing connection")
}
