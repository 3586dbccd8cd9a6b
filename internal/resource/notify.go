package resource

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Level is the severity of a notice.
type Level int

const (
	// Info reports a completed action.
	Info Level = iota
	// Warning reports something the user did not cause, like an item deleted elsewhere.
	Warning
	// Failure reports an action that did not happen.
	Failure
)

func (l Level) String() string {
	switch l {
	case Info:
		return "info"
	case Warning:
		return "warning"
	default:
		return "error"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(text []byte) error {
	switch string(text) {
	case "info":
		*l = Info
	case "warning":
		*l = Warning
	default:
		*l = Failure
	}
	return nil
}

// Notifier shows transient notices to the user.
type Notifier interface {
	Notify(level Level, msg string)
}

// LogNotifier writes notices to a logger.
type LogNotifier struct {
	Log *logrus.Entry
}

// Notify implements Notifier.
func (n LogNotifier) Notify(level Level, msg string) {
	switch level {
	case Info:
		n.Log.Info(msg)
	case Warning:
		n.Log.Warn(msg)
	default:
		n.Log.Error(msg)
	}
}

// Notice is one recorded notice.
type Notice struct {
	Level   Level  `json:"level"`
	Message string `json:"message"`
}

// Recorder keeps notices in memory, for tests and for surfaces that render them later.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

// Notify implements Notifier.
func (r *Recorder) Notify(level Level, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, Notice{Level: level, Message: msg})
}

// Drain returns the recorded notices and forgets them.
func (r *Recorder) Drain() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.notices
	r.notices = nil
	return out
}

// Confirmer asks the user to approve a destructive action.
type Confirmer interface {
	Confirm(prompt string) bool
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(prompt string) bool

// Confirm implements Confirmer.
func (f ConfirmFunc) Confirm(prompt string) bool {
	return f(prompt)
}

// Confirmed approves without asking, for callers that already obtained consent (a --yes flag,
// a confirm=true form field).
var Confirmed Confirmer = ConfirmFunc(func(string) bool { return true })

// Declined refuses without asking.
var Declined Confirmer = ConfirmFunc(func(string) bool { return false })
