// Package config contains the file-based configuration consumed by the
// ectotest command: where the field descriptor lives, which table the record
// belongs to, which fields are required, and how logging behaves. Every flag
// the command accepts can instead be set here, with flags winning on conflict.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/WernerBuchert/ecto/logging"
	"gopkg.in/yaml.v3"
)

// Log contains logging options. If logging is enabled, messages about the
// change-set pipeline and every statement the persistence layer issues are
// written through the configured provider.
type Log struct {
	// Enabled is whether to enable built-in logging statements.
	Enabled bool

	// Provider must be the name of one of the logging providers. If set to
	// None or unset, it will default to logging.Jellog.
	Provider logging.Provider

	// File to log to. If not set, all logging will be done to stderr and it
	// will display all logging statements. If set, the file will receive all
	// levels of log messages and stderr will show only those of Info level or
	// higher.
	File string
}

// Create builds the configured logger. A disabled Log yields a logger that
// discards everything.
func (log Log) Create() (logging.Logger, error) {
	if !log.Enabled {
		return logging.NoOpLogger{}, nil
	}
	return logging.New(log.Provider, log.File)
}

func (log Log) FillDefaults() Log {
	newLog := log

	if newLog.Provider == logging.None {
		newLog.Provider = logging.Jellog
	}

	return newLog
}

func (log Log) Validate() error {
	if log.Enabled && log.Provider == logging.None {
		return fmt.Errorf("provider: must not be empty")
	}

	return nil
}

// Config is a complete configuration for a change-set run. It contains all
// parameters that can be used to configure its operation.
type Config struct {
	// Schema is the path to the field descriptor file. It will default to
	// "schema.yml" if none is given.
	Schema string

	// Source is the table or collection the record belongs to. It will
	// default to "records" if none is given.
	Source string

	// Required lists the fields that must be present and non-empty for the
	// change-set to be valid.
	Required []string

	// DB is the SQLite database file to commit to. If not set, the change-set
	// is built and reported but never committed.
	DB string

	// Log is used to configure the built-in logging system. It can be left
	// blank to disable logging entirely.
	Log Log
}

// FillDefaults returns a new Config identical to cfg but with unset values
// set to their defaults.
func (cfg Config) FillDefaults() Config {
	newCFG := cfg

	if newCFG.Schema == "" {
		newCFG.Schema = "schema.yml"
	}
	if newCFG.Source == "" {
		newCFG.Source = "records"
	}
	newCFG.Log = newCFG.Log.FillDefaults()

	return newCFG
}

// Validate returns an error if the Config has invalid field values set. Empty
// and unset values are considered invalid; if defaults are intended to be
// used, call Validate on the return value of FillDefaults.
func (cfg Config) Validate() error {
	if cfg.Schema == "" {
		return fmt.Errorf("schema: must not be empty")
	}
	if cfg.Source == "" {
		return fmt.Errorf("source: must not be empty")
	}
	if err := cfg.Log.Validate(); err != nil {
		return fmt.Errorf("logs: %w", err)
	}

	return nil
}

type marshaledConfig struct {
	Schema   string   `yaml:"schema" json:"schema"`
	Source   string   `yaml:"source" json:"source"`
	Required []string `yaml:"required" json:"required"`
	DB       string   `yaml:"db" json:"db"`
	Logs     struct {
		Enabled  bool   `yaml:"enabled" json:"enabled"`
		Provider string `yaml:"provider" json:"provider"`
		File     string `yaml:"file" json:"file"`
	} `yaml:"logs" json:"logs"`
}

// Load reads the configuration file at the given path. YAML and JSON are
// supported, selected by file extension.
func Load(file string) (Config, error) {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".yml", ".yaml", ".json":
	default:
		return Config{}, fmt.Errorf("%q: incompatible format; must be a .json, .yml, or .yaml file", file)
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return Config{}, fmt.Errorf("%q: %w", file, err)
	}

	// JSON is a subset of YAML, so one decoder covers both formats
	var mc marshaledConfig
	if err := yaml.Unmarshal(data, &mc); err != nil {
		return Config{}, fmt.Errorf("%q: %w", file, err)
	}

	provider, err := logging.ParseProvider(mc.Logs.Provider)
	if err != nil {
		return Config{}, fmt.Errorf("%q: logs: %w", file, err)
	}

	return Config{
		Schema:   mc.Schema,
		Source:   mc.Source,
		Required: mc.Required,
		DB:       mc.DB,
		Log: Log{
			Enabled:  mc.Logs.Enabled,
			Provider: provider,
			File:     mc.Logs.File,
		},
	}, nil
}
