package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/packageml/packageml/pkg/check"
	"github.com/packageml/packageml/pkg/logger"
	"github.com/packageml/packageml/pkg/model"
)

// Build modes. Development mode emits diagnostic (debug) logging.
const (
	ModeDevelopment = "development"
	ModeProduction  = "production"
)

const (
	// DefaultAPIURL is the backend used when nothing else is configured.
	DefaultAPIURL = "http://localhost:8000"
	// DefaultPollInterval is how often the jobs view refreshes.
	DefaultPollInterval = 5 * time.Second
	// DefaultRequestTimeout bounds a single backend call.
	DefaultRequestTimeout = 30 * time.Second

	configDirName = ".packageml"
	tokenFileName = "token"
)

// ConsoleConfig hosts configuration fields of the local web console.
type ConsoleConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Validate implements the check.Validatable interface.
func (c ConsoleConfig) Validate() []error {
	return []error{
		check.Between(c.Port, 1, 65535, "console port"),
	}
}

// Address is the listen address of the console.
func (c ConsoleConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Config is the configuration of the client.
//
// It is populated, in the following order, by the configuration file, environment variables
// and command line arguments.
type Config struct {
	ConfigFile     string         `json:"config_file"`
	APIURL         string         `json:"api_url"`
	Mode           string         `json:"mode"`
	Log            logger.Config  `json:"log"`
	TokenFile      string         `json:"token_file"`
	PollInterval   model.Duration `json:"poll_interval"`
	RequestTimeout model.Duration `json:"request_timeout"`
	Console        ConsoleConfig  `json:"console"`
}

// DefaultConfig returns the default configuration of the client.
func DefaultConfig() *Config {
	return &Config{
		APIURL:         DefaultAPIURL,
		Mode:           ModeProduction,
		Log:            *logger.DefaultConfig(),
		PollInterval:   model.Duration(DefaultPollInterval),
		RequestTimeout: model.Duration(DefaultRequestTimeout),
		Console: ConsoleConfig{
			Host: "127.0.0.1",
			Port: 8686,
		},
	}
}

// Dir is the per-user directory holding the config file and the stored token.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return configDirName
	}
	return filepath.Join(home, configDirName)
}

// DefaultConfigFile is the config file read when none is given.
func DefaultConfigFile() string {
	return filepath.Join(Dir(), "config.yaml")
}

// Resolve fills in derived values after all sources have been merged.
func (c *Config) Resolve() error {
	c.APIURL = strings.TrimRight(strings.TrimSpace(c.APIURL), "/")
	if c.TokenFile == "" {
		c.TokenFile = filepath.Join(Dir(), tokenFileName)
	}
	c.Log.Diagnostic = c.Development()
	return nil
}

// Development reports whether diagnostic logging is on.
func (c Config) Development() bool {
	return c.Mode == ModeDevelopment
}

// Validate implements the check.Validatable interface.
func (c Config) Validate() []error {
	var errs []error
	u, err := url.Parse(c.APIURL)
	switch {
	case err != nil:
		errs = append(errs, errors.Wrap(err, "invalid api url"))
	case u.Scheme != "http" && u.Scheme != "https":
		errs = append(errs, errors.Errorf("api url must be http or https, got %q", c.APIURL))
	case u.Host == "":
		errs = append(errs, errors.Errorf("api url has no host: %q", c.APIURL))
	}
	errs = append(errs,
		check.Contains(c.Mode, []string{ModeDevelopment, ModeProduction}, "mode"),
		check.GreaterThan(int64(c.PollInterval), 0, "poll interval must be positive"),
		check.GreaterThan(int64(c.RequestTimeout), 0, "request timeout must be positive"),
	)
	return errs
}

// Printable returns the configuration as indented JSON for startup logging.
func (c Config) Printable() ([]byte, error) {
	bs, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "unable to convert config to JSON")
	}
	return bs, nil
}
