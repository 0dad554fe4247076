// Package kvdocconfig loads kvdoc's process-level configuration from
// flags, environment variables (KVDOC_*), and an optional YAML config
// file, layering them with spf13/viper: defaults, then config file,
// then environment, then flags, highest precedence last.
package kvdocconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Backend selects which kvstore.Store implementation a process should
// open.
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendSQLite Backend = "sqlite"
)

// Options is kvdoc's process-level configuration: which store backend to
// open, where its data lives, and how its loggers behave. It is not a
// schema-construction DSL; it configures the runtime, not document shape.
type Options struct {
	Backend          Backend `mapstructure:"backend"`
	SQLiteDSN        string  `mapstructure:"sqlite_dsn"`
	LogDir           string  `mapstructure:"log_dir"`
	LogLevel         string  `mapstructure:"log_level"`
	LogCommits       bool    `mapstructure:"log_commits"`
	LogIndexMaint    bool    `mapstructure:"log_index_maint"`
	DefaultSegment   int     `mapstructure:"default_segment_limit"`
	DefaultListBatch int     `mapstructure:"default_list_batch_size"`
}

// flagAliases maps an Options mapstructure key to the conventional
// dashed flag name a cobra command would register for it.
var flagAliases = map[string]string{
	"sqlite_dsn":              "sqlite-dsn",
	"log_dir":                 "log-dir",
	"log_level":               "log-level",
	"log_commits":             "log-commits",
	"log_index_maint":         "log-index-maint",
	"default_segment_limit":   "default-segment-limit",
	"default_list_batch_size": "default-list-batch-size",
}

func defaults() Options {
	return Options{
		Backend:          BackendMemory,
		SQLiteDSN:        "kvdoc.db",
		LogDir:           ".",
		LogLevel:         "warn",
		DefaultSegment:   64 * 1024,
		DefaultListBatch: 100,
	}
}

// Load builds Options from, in ascending precedence: built-in defaults,
// an optional YAML config file (configPath, ignored if empty or absent),
// KVDOC_* environment variables, and flags already parsed into fs (nil
// means skip flag binding, e.g. for tests or library callers that have no
// CLI surface of their own).
func Load(configPath string, fs *pflag.FlagSet) (Options, error) {
	v := viper.New()

	d := defaults()
	v.SetDefault("backend", string(d.Backend))
	v.SetDefault("sqlite_dsn", d.SQLiteDSN)
	v.SetDefault("log_dir", d.LogDir)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_commits", d.LogCommits)
	v.SetDefault("log_index_maint", d.LogIndexMaint)
	v.SetDefault("default_segment_limit", d.DefaultSegment)
	v.SetDefault("default_list_batch_size", d.DefaultListBatch)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
				return Options{}, fmt.Errorf("kvdocconfig: read config file %s: %w", configPath, err)
			}
		}
	}

	v.SetEnvPrefix("KVDOC")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return Options{}, fmt.Errorf("kvdocconfig: bind flags: %w", err)
		}
		// BindPFlags registers each flag under its own (dashed) name; alias
		// the underscored Options keys onto any matching dashed flag so a
		// conventional CLI flag name still reaches the right struct field.
		for key, flagName := range flagAliases {
			if fs.Lookup(flagName) != nil {
				v.RegisterAlias(key, flagName)
			}
		}
	}

	var opts Options
	if err := v.Unmarshal(&opts); err != nil {
		return Options{}, fmt.Errorf("kvdocconfig: unmarshal: %w", err)
	}

	if err := Validate(opts); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// Validate checks opts for internal consistency before a store is
// opened, so a bad backend name or DSN fails fast instead of surfacing
// as an opaque error partway through a workload.
func Validate(opts Options) error {
	switch opts.Backend {
	case BackendMemory, BackendSQLite:
	default:
		return fmt.Errorf("kvdocconfig: unknown backend %q", opts.Backend)
	}
	if opts.Backend == BackendSQLite && opts.SQLiteDSN == "" {
		return fmt.Errorf("kvdocconfig: sqlite backend requires sqlite_dsn")
	}
	if opts.DefaultSegment <= 0 {
		return fmt.Errorf("kvdocconfig: default_segment_limit must be positive, got %d", opts.DefaultSegment)
	}
	if opts.DefaultListBatch <= 0 {
		return fmt.Errorf("kvdocconfig: default_list_batch_size must be positive, got %d", opts.DefaultListBatch)
	}
	return nil
}
