package logger

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// DefaultConfig returns the default configuration of logger.
func DefaultConfig() *Config {
	return &Config{
		Level: "info",
		Color: true,
	}
}

// Config is the configuration of logger.
type Config struct {
	Level string `json:"level"`
	Color bool   `json:"color"`
	// Diagnostic forces debug level output regardless of Level. It is set when the client runs
	// in development mode.
	Diagnostic bool `json:"-"`
}

// Validate implements the check.Validatable interface.
func (c Config) Validate() []error {
	if _, err := logrus.ParseLevel(c.Level); err != nil {
		return []error{err}
	}
	return nil
}

// EffectiveLevel is the level SetLogrus will apply.
func (c Config) EffectiveLevel() logrus.Level {
	if c.Diagnostic {
		return logrus.DebugLevel
	}
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		panic(fmt.Sprintf("invalid log level: %s", c.Level))
	}
	return level
}

// SetLogrus sets logrus globally.
func SetLogrus(c Config) {
	logrus.SetLevel(c.EffectiveLevel())
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
		ForceColors:   c.Color,
		DisableColors: !c.Color,
	})
}
