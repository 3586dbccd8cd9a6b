package logger

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"github.com/sirupsen/logrus"
)

// NewEchoLogger returns an echo logger that writes through the given logrus entry. The console
// server installs it so request and handler errors land in the same stream (and LogBuffer) as
// the rest of the client.
func NewEchoLogger(entry *logrus.Entry) echo.Logger {
	return &echoLogger{entry: entry}
}

type echoLogger struct {
	entry  *logrus.Entry
	prefix string
}

func marshalJSON(j log.JSON) string {
	b, err := json.Marshal(j)
	if err != nil {
		return fmt.Sprintf("%v", map[string]interface{}(j))
	}
	return string(b)
}

func (l *echoLogger) with() *logrus.Entry {
	if l.prefix == "" {
		return l.entry
	}
	return l.entry.WithField("prefix", l.prefix)
}

// SetLevel is a no-op; the level is owned by SetLogrus.
func (l *echoLogger) SetLevel(log.Lvl) {}

func (l *echoLogger) Level() log.Lvl {
	switch l.entry.Logger.GetLevel() {
	case logrus.TraceLevel, logrus.DebugLevel:
		return log.DEBUG
	case logrus.InfoLevel:
		return log.INFO
	case logrus.WarnLevel:
		return log.WARN
	default:
		return log.ERROR
	}
}

func (l *echoLogger) SetOutput(w io.Writer) { l.entry.Logger.SetOutput(w) }
func (l *echoLogger) Output() io.Writer     { return l.entry.Logger.Out }

func (l *echoLogger) SetPrefix(p string) { l.prefix = p }
func (l *echoLogger) Prefix() string     { return l.prefix }

// SetHeader is a no-op; logrus formats entries with its own formatter.
func (l *echoLogger) SetHeader(string) {}

func (l *echoLogger) Print(i ...interface{})                    { l.with().Print(i...) }
func (l *echoLogger) Printf(format string, args ...interface{}) { l.with().Printf(format, args...) }
func (l *echoLogger) Printj(j log.JSON)                         { l.with().Print(marshalJSON(j)) }
func (l *echoLogger) Debug(i ...interface{})                    { l.with().Debug(i...) }
func (l *echoLogger) Debugf(format string, args ...interface{}) { l.with().Debugf(format, args...) }
func (l *echoLogger) Debugj(j log.JSON)                         { l.with().Debug(marshalJSON(j)) }
func (l *echoLogger) Info(i ...interface{})                     { l.with().Info(i...) }
func (l *echoLogger) Infof(format string, args ...interface{})  { l.with().Infof(format, args...) }
func (l *echoLogger) Infoj(j log.JSON)                          { l.with().Info(marshalJSON(j)) }
func (l *echoLogger) Warn(i ...interface{})                     { l.with().Warn(i...) }
func (l *echoLogger) Warnf(format string, args ...interface{})  { l.with().Warnf(format, args...) }
func (l *echoLogger) Warnj(j log.JSON)                          { l.with().Warn(marshalJSON(j)) }
func (l *echoLogger) Error(i ...interface{})                    { l.with().Error(i...) }
func (l *echoLogger) Errorf(format string, args ...interface{}) { l.with().Errorf(format, args...) }
func (l *echoLogger) Errorj(j log.JSON)                         { l.with().Error(marshalJSON(j)) }
func (l *echoLogger) Fatal(i ...interface{})                    { l.with().Fatal(i...) }
func (l *echoLogger) Fatalf(format string, args ...interface{}) { l.with().Fatalf(format, args...) }
func (l *echoLogger) Fatalj(j log.JSON)                         { l.with().Fatal(marshalJSON(j)) }
func (l *echoLogger) Panic(i ...interface{})                    { l.with().Panic(i...) }
func (l *echoLogger) Panicf(format string, args ...interface{}) { l.with().Panicf(format, args...) }
func (l *echoLogger) Panicj(j log.JSON)                         { l.with().Panic(marshalJSON(j)) }
