// Package config loads settings from defaults, an optional YAML file,
// COMBINATOR_* environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"projects/solver"
)

const EnvPrefix = "COMBINATOR"

type Config struct {
	Solver SolverConfig `mapstructure:"solver"`
	Input  InputConfig  `mapstructure:"input"`
	Output OutputConfig `mapstructure:"output"`
	Log    LogConfig    `mapstructure:"log"`
	Server ServerConfig `mapstructure:"server"`
}

type SolverConfig struct {
	NumChoicesP   int `mapstructure:"numChoicesP"`
	NumChoicesW   int `mapstructure:"numChoicesW"`
	solver.Params `mapstructure:",squash"`
}

type InputConfig struct {
	Slots       string `mapstructure:"slots"`
	Preferences string `mapstructure:"preferences"`
	Delimiter   string `mapstructure:"delimiter"`
}

type OutputConfig struct {
	Assignments string `mapstructure:"assignments"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	File   string `mapstructure:"file"`
	Format string `mapstructure:"format"`
}

// ServerConfig keeps the environment names the service has always read.
type ServerConfig struct {
	Addr         string `mapstructure:"addr"`
	PGConn       string `mapstructure:"pgconn"`
	ClientID     string `mapstructure:"clientID"`
	ClientSecret string `mapstructure:"clientSecret"`
	Admins       string `mapstructure:"admins"`
}

var flagKeys = map[string]string{
	"num-choices-p":  "solver.numChoicesP",
	"num-choices-w":  "solver.numChoicesW",
	"max-iterations": "solver.maxIterations",
	"workers":        "solver.workers",
	"seed":           "solver.seed",
	"max-rounds":     "solver.maxRounds",
	"penalty-p":      "solver.penaltyP",
	"penalty-w":      "solver.penaltyW",
	"penalty-cross":  "solver.penaltyCross",
	"penalty-over":   "solver.penaltyOver",
	"slots":          "input.slots",
	"preferences":    "input.preferences",
	"delimiter":      "input.delimiter",
	"output":         "output.assignments",
	"log-level":      "log.level",
	"log-file":       "log.file",
	"log-format":     "log.format",
	"addr":           "server.addr",
}

func setDefaults(v *viper.Viper) {
	p := solver.DefaultParams
	v.SetDefault("solver.numChoicesP", 3)
	v.SetDefault("solver.numChoicesW", 3)
	v.SetDefault("solver.maxIterations", p.Trials)
	v.SetDefault("solver.workers", p.Workers)
	v.SetDefault("solver.seed", 0)
	v.SetDefault("solver.maxRounds", p.MaxRounds)
	v.SetDefault("solver.penaltyP", p.Penalties.P)
	v.SetDefault("solver.penaltyW", p.Penalties.W)
	v.SetDefault("solver.penaltyCross", p.Penalties.Cross)
	v.SetDefault("solver.penaltyOver", p.Penalties.Over)
	v.SetDefault("input.slots", "Slots.csv")
	v.SetDefault("input.preferences", "Preferences.csv")
	v.SetDefault("input.delimiter", ";")
	v.SetDefault("output.assignments", "ASSIGNMENTS.csv")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "log.txt")
	v.SetDefault("log.format", "console")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.pgconn", "")
	v.SetDefault("server.clientID", "")
	v.SetDefault("server.clientSecret", "")
	v.SetDefault("server.admins", "")
}

// RegisterFlags adds the solver, input, output and log flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	p := solver.DefaultParams
	fs.Int("num-choices-p", 3, "number of ranked project choices per student")
	fs.Int("num-choices-w", 3, "number of ranked work-package choices per student")
	fs.Int("max-iterations", p.Trials, "number of randomized restarts")
	fs.Int("workers", p.Workers, "number of trials run in parallel")
	fs.Uint64("seed", 0, "random seed (0 picks one from the clock)")
	fs.Int("max-rounds", p.MaxRounds, "swap optimizer rounds before a trial is discarded")
	fs.Float64("penalty-p", p.Penalties.P, "exponent of the project rank term")
	fs.Float64("penalty-w", p.Penalties.W, "exponent of the work-package rank term")
	fs.Float64("penalty-cross", p.Penalties.Cross, "exponent of the cross term")
	fs.Float64("penalty-over", p.Penalties.Over, "exponent of the overflow term")
	fs.String("slots", "Slots.csv", "slot/capacity table")
	fs.String("preferences", "Preferences.csv", "preference table")
	fs.String("delimiter", ";", "field delimiter of all tables")
	fs.String("output", "ASSIGNMENTS.csv", "result table")
	fs.String("log-level", "info", "debug, info, warn or error")
	fs.String("log-file", "log.txt", "file receiving a copy of the log (empty to disable)")
	fs.String("log-format", "console", "console or json")
}

func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range map[string]string{
		"server.pgconn":       "PGCONN",
		"server.clientID":     "CLIENT_ID",
		"server.clientSecret": "CLIENT_SECRET",
		"server.admins":       "ADMINS",
	} {
		if err := v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, err
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, err
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Solver.NumChoicesP < 1 {
		errs = append(errs, fmt.Errorf("solver.numChoicesP must be at least 1, got %d", c.Solver.NumChoicesP))
	}
	if c.Solver.NumChoicesW < 1 {
		errs = append(errs, fmt.Errorf("solver.numChoicesW must be at least 1, got %d", c.Solver.NumChoicesW))
	}
	if c.Solver.Trials < 1 {
		errs = append(errs, fmt.Errorf("solver.maxIterations must be at least 1, got %d", c.Solver.Trials))
	}
	if c.Solver.Workers < 1 {
		errs = append(errs, fmt.Errorf("solver.workers must be at least 1, got %d", c.Solver.Workers))
	}
	if c.Solver.MaxRounds < 1 {
		errs = append(errs, fmt.Errorf("solver.maxRounds must be at least 1, got %d", c.Solver.MaxRounds))
	}
	if utf8.RuneCountInString(c.Input.Delimiter) != 1 {
		errs = append(errs, fmt.Errorf("input.delimiter must be a single character, got %q", c.Input.Delimiter))
	}
	return errors.Join(errs...)
}

func (c *Config) Comma() rune {
	r, _ := utf8.DecodeRuneInString(c.Input.Delimiter)
	return r
}

// Validate checks the settings only the web service needs.
func (s ServerConfig) Validate() error {
	var errs []error
	for name, value := range map[string]string{
		"PGCONN":        s.PGConn,
		"CLIENT_ID":     s.ClientID,
		"CLIENT_SECRET": s.ClientSecret,
		"ADMINS":        s.Admins,
	} {
		if value == "" {
			errs = append(errs, fmt.Errorf("%s environment variable is required", name))
		}
	}
	return errors.Join(errs...)
}
