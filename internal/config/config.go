// Package config loads docmigrate settings from defaults, an optional config
// file and DOCMIGRATE_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/systemshift/docmigrate/internal/core"
	"github.com/systemshift/docmigrate/internal/notify"
)

// Config holds all configuration for docmigrate
type Config struct {
	APIURL           string        `mapstructure:"api_url"`
	Project          string        `mapstructure:"project"`
	Dataset          string        `mapstructure:"dataset"`
	Token            string        `mapstructure:"token"`
	RateLimit        float64       `mapstructure:"rate_limit"` // requests per second
	Concurrency      int           `mapstructure:"concurrency"`
	Timeout          time.Duration `mapstructure:"timeout"` // per remote call
	MaxAttempts      int           `mapstructure:"max_attempts"`
	WindowPause      time.Duration `mapstructure:"window_pause"`
	PageSize         int           `mapstructure:"page_size"`
	Catalog          []string      `mapstructure:"catalog"`
	SnapshotDir      string        `mapstructure:"snapshot_dir"`
	ReportDir        string        `mapstructure:"report_dir"`
	FailureThreshold float64       `mapstructure:"failure_threshold"`
	Server           ServerConfig  `mapstructure:"server"`
	Webhooks         []notify.Hook `mapstructure:"webhooks"`
}

// ServerConfig configures the local content API
type ServerConfig struct {
	Addr          string `mapstructure:"addr"`
	Backend       string `mapstructure:"backend"` // sqlite or neo4j
	DBPath        string `mapstructure:"db_path"`
	Neo4jURI      string `mapstructure:"neo4j_uri"`
	Neo4jUser     string `mapstructure:"neo4j_user"`
	Neo4jPassword string `mapstructure:"neo4j_password"`
	Neo4jDatabase string `mapstructure:"neo4j_database"`
}

var defaultConfig = Config{
	APIURL:      "http://localhost:8080",
	RateLimit:   10,
	Concurrency: 5,
	Timeout:     20 * time.Second,
	MaxAttempts: 4,
	WindowPause: 250 * time.Millisecond,
	PageSize:    200,
	SnapshotDir: "snapshots",
	ReportDir:   "reports",
	Server: ServerConfig{
		Addr:          ":8080",
		Backend:       "sqlite",
		DBPath:        "content.db",
		Neo4jURI:      "bolt://localhost:7687",
		Neo4jUser:     "neo4j",
		Neo4jDatabase: "neo4j",
	},
}

// Default returns a copy of the built-in defaults
func Default() Config {
	c := defaultConfig
	c.Catalog = append([]string(nil), defaultConfig.Catalog...)
	return c
}

// Load reads configuration. An explicit path must exist; otherwise
// docmigrate.yaml is looked up in the working directory and the user config dir.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("api_url", defaultConfig.APIURL)
	v.SetDefault("project", "")
	v.SetDefault("dataset", "")
	v.SetDefault("token", "")
	v.SetDefault("rate_limit", defaultConfig.RateLimit)
	v.SetDefault("concurrency", defaultConfig.Concurrency)
	v.SetDefault("timeout", defaultConfig.Timeout)
	v.SetDefault("max_attempts", defaultConfig.MaxAttempts)
	v.SetDefault("window_pause", defaultConfig.WindowPause)
	v.SetDefault("page_size", defaultConfig.PageSize)
	v.SetDefault("catalog", []string{})
	v.SetDefault("snapshot_dir", defaultConfig.SnapshotDir)
	v.SetDefault("report_dir", defaultConfig.ReportDir)
	v.SetDefault("failure_threshold", 0.0)
	v.SetDefault("server.addr", defaultConfig.Server.Addr)
	v.SetDefault("server.backend", defaultConfig.Server.Backend)
	v.SetDefault("server.db_path", defaultConfig.Server.DBPath)
	v.SetDefault("server.neo4j_uri", defaultConfig.Server.Neo4jURI)
	v.SetDefault("server.neo4j_user", defaultConfig.Server.Neo4jUser)
	v.SetDefault("server.neo4j_password", "")
	v.SetDefault("server.neo4j_database", defaultConfig.Server.Neo4jDatabase)

	v.SetEnvPrefix("DOCMIGRATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, &core.ConfigurationError{Reason: fmt.Sprintf("reading config %s: %v", path, err)}
		}
	} else {
		v.SetConfigName("docmigrate")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "docmigrate"))
		}
		// Config file is optional
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, &core.ConfigurationError{Reason: fmt.Sprintf("reading config: %v", err)}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &core.ConfigurationError{Reason: fmt.Sprintf("unmarshaling config: %v", err)}
	}
	cfg.clamp()
	return &cfg, nil
}

// clamp keeps tunables inside the ranges the remote API tolerates
func (c *Config) clamp() {
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.Concurrency > 25 {
		c.Concurrency = 25
	}
	if c.Timeout < time.Second {
		c.Timeout = time.Second
	}
	if c.Timeout > 2*time.Minute {
		c.Timeout = 2 * time.Minute
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.RateLimit <= 0 {
		c.RateLimit = defaultConfig.RateLimit
	}
	if c.PageSize <= 0 {
		c.PageSize = defaultConfig.PageSize
	}
	if c.WindowPause < 0 {
		c.WindowPause = 0
	}
}

// Validate checks the settings needed to talk to the remote store
func (c *Config) Validate() error {
	var missing []string
	if c.APIURL == "" {
		missing = append(missing, "api_url")
	}
	if c.Project == "" {
		missing = append(missing, "project")
	}
	if c.Dataset == "" {
		missing = append(missing, "dataset")
	}
	if c.Token == "" {
		missing = append(missing, "token")
	}
	if len(missing) > 0 {
		return &core.ConfigurationError{
			Reason: fmt.Sprintf("missing required setting(s): %s (set DOCMIGRATE_%s)",
				strings.Join(missing, ", "), strings.ToUpper(missing[0])),
		}
	}
	for i, h := range c.Webhooks {
		if h.URL == "" {
			return &core.ConfigurationError{Reason: fmt.Sprintf("webhooks[%d] has no url", i)}
		}
	}
	if c.FailureThreshold < 0 || c.FailureThreshold > 1 {
		return &core.ConfigurationError{Reason: "failure_threshold must be between 0 and 1"}
	}
	return nil
}
