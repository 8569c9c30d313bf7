package config

import (
	"os"
	"strings"
	"time"

	"github.com/aserto-dev/logger"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/acmecorp/people-sync/pkg/auth"
	"github.com/acmecorp/people-sync/pkg/index"
	"github.com/acmecorp/people-sync/pkg/keycloak"
	syncer "github.com/acmecorp/people-sync/pkg/sync"
)

type Config struct {
	Logging logger.Config `json:"logging"`
	Server  struct {
		ListenAddress     string        `json:"listen_address"`
		ReadTimeout       time.Duration `json:"read_timeout"`
		ReadHeaderTimeout time.Duration `json:"read_header_timeout"`
		WriteTimeout      time.Duration `json:"write_timeout"`
		IdleTimeout       time.Duration `json:"idle_timeout"`
	} `json:"server"`

	Source keycloak.Config `json:"source"`
	Target index.Config    `json:"target"`
	Sync   syncer.Config   `json:"sync"`
	Auth   auth.Config     `json:"auth"`
}

// NewConfig reads the optional YAML file at configPath and applies
// PEOPLE_SYNC_* environment overrides, so the service also runs fully
// env-configured.
func NewConfig(configPath string) (*Config, error) {
	file := "config.yaml"
	v := viper.New()

	if configPath != "" {
		exists, err := fileExists(configPath)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to determine if config file '%s' exists", configPath)
		}

		if !exists {
			return nil, errors.Errorf("config file '%s' doesn't exist", configPath)
		}

		file = configPath
	}

	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetConfigFile(file)
	v.SetEnvPrefix("PEOPLE_SYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set defaults.
	v.SetDefault("server.listen_address", ":8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.read_header_timeout", 5*time.Second)
	// the sync trigger responds synchronously, so writes may outlast the run
	v.SetDefault("server.write_timeout", 20*time.Minute)
	v.SetDefault("server.idle_timeout", time.Minute)

	v.SetDefault("source.timeout", 30*time.Second)
	v.SetDefault("source.page_size", keycloak.DefaultPageSize)

	v.SetDefault("target.timeout", 30*time.Second)
	v.SetDefault("target.mode", index.ModeBulk)
	v.SetDefault("target.page_size", index.DefaultPageSize)

	v.SetDefault("sync.run_timeout", 15*time.Minute)

	v.SetDefault("auth.enabled", true)
	v.SetDefault("auth.tokeninfo_url", auth.DefaultTokenInfoURL)
	v.SetDefault("auth.iam_url", auth.DefaultIAMURL)
	v.SetDefault("auth.required_permission", auth.DefaultPermission)
	v.SetDefault("auth.timeout", 10*time.Second)

	// Allow setting secrets via env vars.
	v.SetDefault("source.client_secret", "")
	v.SetDefault("target.api_token", "")

	configExists, err := fileExists(file)
	if err != nil {
		return nil, errors.Wrapf(err, "filesystem error")
	}

	if configExists {
		if err = v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file '%s'", file)
		}
	}
	v.AutomaticEnv()

	cfg := new(Config)

	err = v.UnmarshalExact(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "json"
		dc.DecodeHook = mapstructure.StringToTimeDurationHookFunc()
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config file")
	}

	if cfg.Logging.LogLevel == "" {
		cfg.Logging.LogLevelParsed = zerolog.InfoLevel
	} else {
		cfg.Logging.LogLevelParsed, err = zerolog.ParseLevel(cfg.Logging.LogLevel)
		if err != nil {
			return nil, errors.Wrapf(err, "logging.log_level failed to parse")
		}
	}

	if err := cfg.Source.Validate(); err != nil {
		return nil, err
	}

	if err := cfg.Target.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func fileExists(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return true, nil
	} else if os.IsNotExist(err) {
		return false, nil
	} else {
		return false, errors.Wrapf(err, "failed to stat file '%s'", path)
	}
}
