package console

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/packageml/packageml/pkg/model"
	"github.com/packageml/packageml/pkg/ws"
)

// streamCommand is sent by the browser over the job stream.
type streamCommand struct {
	// Action is "refresh" to ask for a snapshot now.
	Action string `json:"action"`
}

// jobSnapshot is one update of the job stream.
type jobSnapshot struct {
	Jobs  []model.Job `json:"jobs"`
	Error string      `json:"error,omitempty"`
	At    time.Time   `json:"at"`
}

func snapshotOf(items []model.Job, err error) jobSnapshot {
	snap := jobSnapshot{Jobs: nonNil(items), At: time.Now().UTC()}
	if err != nil {
		snap.Error = messageOf(err)
	}
	return snap
}

// streamJobs pushes the job list to the socket on every poll. The poller exists only for the
// lifetime of the connection.
func (s *Server) streamJobs(c echo.Context) error {
	conn, err := ws.Upgrade[streamCommand, jobSnapshot](c, "job-stream", s.streamOpts)
	if err != nil {
		return err
	}
	s.streams.Inc()
	defer s.streams.Dec()

	ctx, cancel := context.WithCancel(context.Background())
	log := s.log.WithField("stream", c.Get("request-id"))
	send := func(items []model.Job, err error) {
		if sErr := conn.Send(ctx, snapshotOf(items, err)); sErr != nil && ctx.Err() == nil {
			log.WithError(sErr).Debug("dropping job snapshot")
		}
	}

	poller := s.app.NewPoller(s.pollerOpts...)
	poller.Subscribe(send)
	defer func() {
		cancel()
		poller.Stop()
		if err := conn.Close(); err != nil {
			log.WithError(err).Debug("job stream closed uncleanly")
		}
	}()

	send(s.app.Jobs.List(ctx))
	poller.Start(ctx)
	log.Debug("job stream connected")

	for cmd := range conn.Inbox {
		switch cmd.Action {
		case "refresh":
			send(s.app.Jobs.Refresh(ctx))
		default:
			log.WithFields(logrus.Fields{"action": cmd.Action}).Debug("ignoring stream command")
		}
	}
	if err := conn.Error(); err != nil {
		log.WithError(err).Debug("job stream ended")
	}
	return nil
}
