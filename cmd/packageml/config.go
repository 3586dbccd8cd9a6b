package main

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/ghodss/yaml"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/packageml/packageml/internal/config"
	"github.com/packageml/packageml/pkg/check"
)

const envPrefix = "PACKAGEML_"

// configKey names one setting. Its components form the nested path in the config file, and
// joined by "-" they form the flag name.
type configKey []string

func (c configKey) EnvName() string {
	return envPrefix + strings.ReplaceAll(strings.ToUpper(c.FlagName()), "-", "_")
}

func (c configKey) AccessPath() string {
	return strings.ReplaceAll(strings.Join(c, "."), "-", "_")
}

func (c configKey) FlagName() string {
	return strings.Join(c, "-")
}

func name(components ...string) configKey { return components }

// settings binds every configuration value to a flag, an environment variable and a default.
type settings struct {
	v     *viper.Viper
	flags *pflag.FlagSet
}

func (s settings) bind(key configKey, value interface{}) {
	_ = s.v.BindEnv(key.AccessPath(), key.EnvName())
	_ = s.v.BindPFlag(key.AccessPath(), s.flags.Lookup(key.FlagName()))
	s.v.SetDefault(key.AccessPath(), value)
}

func (s settings) registerString(key configKey, value string, usage string) {
	s.flags.String(key.FlagName(), value, usage)
	s.bind(key, value)
}

func (s settings) registerBool(key configKey, value bool, usage string) {
	s.flags.Bool(key.FlagName(), value, usage)
	s.bind(key, value)
}

func (s settings) registerInt(key configKey, value int, usage string) {
	s.flags.Int(key.FlagName(), value, usage)
	s.bind(key, value)
}

// registerConfig returns a viper instance backed by flags registered on flags.
func registerConfig(flags *pflag.FlagSet) *viper.Viper {
	v := viper.New()
	v.SetTypeByDefaultValue(true)
	s := settings{v: v, flags: flags}

	defaults := config.DefaultConfig()

	s.registerString(name("config-file"), defaults.ConfigFile,
		"location of config file (default "+config.DefaultConfigFile()+")")
	s.registerString(name("api-url"), defaults.APIURL, "base URL of the PackageML API")
	s.registerString(name("mode"), defaults.Mode,
		"build mode, development turns on diagnostic logging (development, production)")

	s.registerString(name("log", "level"), defaults.Log.Level,
		"choose logging level from [trace, debug, info, warn, error, fatal]")
	s.registerBool(name("log", "color"), defaults.Log.Color, "output logs and tables in color")

	s.registerString(name("token-file"), defaults.TokenFile,
		"where the session token is kept (default ~/.packageml/token)")
	s.registerString(name("poll-interval"), defaults.PollInterval.String(),
		"how often job views refresh")
	s.registerString(name("request-timeout"), defaults.RequestTimeout.String(),
		"time limit of a single API request")

	s.registerString(name("console", "host"), defaults.Console.Host, "console listen host")
	s.registerInt(name("console", "port"), defaults.Console.Port, "console listen port")
	return v
}

// initializeConfig returns the validated configuration populated from the config file,
// environment variables and command line flags.
func initializeConfig(v *viper.Viper) (*config.Config, error) {
	// Fetch an initial config to get the config file path and read its settings into viper.
	initial, err := getConfig(v.AllSettings())
	if err != nil {
		return nil, err
	}

	bs, err := readConfigFile(initial.ConfigFile)
	if err != nil {
		return nil, err
	}
	if err = mergeConfigBytesIntoViper(v, bs); err != nil {
		return nil, err
	}

	cfg, err := getConfig(v.AllSettings())
	if err != nil {
		return nil, err
	}
	if err := check.Validate(cfg); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

func readConfigFile(configPath string) ([]byte, error) {
	isDefault := configPath == ""
	if isDefault {
		configPath = config.DefaultConfigFile()
	}

	if _, err := os.Stat(configPath); err != nil {
		if isDefault && os.IsNotExist(err) {
			log.Debugf("no configuration file at %s, skipping", configPath)
			return nil, nil
		}
		return nil, errors.Wrap(err, "error finding configuration file")
	}
	bs, err := os.ReadFile(configPath) // #nosec G304
	if err != nil {
		return nil, errors.Wrap(err, "error reading configuration file")
	}
	return bs, nil
}

func mergeConfigBytesIntoViper(v *viper.Viper, bs []byte) error {
	var configMap map[string]interface{}
	if err := yaml.Unmarshal(bs, &configMap); err != nil {
		return errors.Wrap(err, "error unmarshal yaml configuration file")
	}
	if err := v.MergeConfigMap(configMap); err != nil {
		return errors.Wrap(err, "error merge configuration to viper")
	}
	return nil
}

func getConfig(configMap map[string]interface{}) (*config.Config, error) {
	cfg := config.DefaultConfig()
	bs, err := json.Marshal(configMap)
	if err != nil {
		return nil, errors.Wrap(err, "cannot marshal configuration map into json bytes")
	}
	if err = yaml.Unmarshal(bs, cfg, yaml.DisallowUnknownFields); err != nil {
		return nil, errors.Wrap(err, "cannot unmarshal configuration")
	}
	if err := cfg.Resolve(); err != nil {
		return nil, err
	}
	return cfg, nil
}
