// Package config loads tandem settings in layers: built-in defaults, an
// optional YAML file, TANDEM_* environment variables and finally the
// positional command-line arguments. The merged result is checked against
// an embedded CUE schema.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// Error codes for configuration failures.
const (
	ErrCodeRead   = "E_CONFIG_READ"
	ErrCodeParse  = "E_CONFIG_PARSE"
	ErrCodeEnv    = "E_CONFIG_ENV"
	ErrCodeArgs   = "E_CONFIG_ARGS"
	ErrCodeSchema = "E_CONFIG_SCHEMA"
)

// Error describes a configuration layer that could not be applied.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// IsUsage reports whether err came from malformed command-line arguments.
func IsUsage(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Code == ErrCodeArgs
}

// Config is the merged configuration of one process.
type Config struct {
	Listen          string  `yaml:"listen" json:"listen" env:"TANDEM_LISTEN"`
	LoopRate        int     `yaml:"loop_rate" json:"loop_rate" env:"TANDEM_LOOP_RATE"`
	Mode            string  `yaml:"mode" json:"mode" env:"TANDEM_MODE"`
	StaticPlatforms int     `yaml:"static_platforms" json:"static_platforms" env:"TANDEM_STATIC_PLATFORMS"`
	MovingPlatforms int     `yaml:"moving_platforms" json:"moving_platforms" env:"TANDEM_MOVING_PLATFORMS"`
	SpawnPoints     int     `yaml:"spawn_points" json:"spawn_points" env:"TANDEM_SPAWN_POINTS"`
	SpawnRetries    int     `yaml:"spawn_retries" json:"spawn_retries" env:"TANDEM_SPAWN_RETRIES"`
	SpawnRadius     float64 `yaml:"spawn_radius" json:"spawn_radius" env:"TANDEM_SPAWN_RADIUS"`
	TickSize        float64 `yaml:"tick_size" json:"tick_size" env:"TANDEM_TICK_SIZE"`
	LogDir          string  `yaml:"log_dir" json:"log_dir" env:"TANDEM_LOG_DIR"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Listen:          ":7777",
		LoopRate:        60,
		Mode:            "centralized",
		StaticPlatforms: 8,
		MovingPlatforms: 2,
		SpawnPoints:     4,
		SpawnRetries:    10,
		SpawnRadius:     24,
		TickSize:        1,
		LogDir:          "logs",
	}
}

// Load merges defaults, the YAML file at path (skipped when empty) and the
// environment. Call ApplyArgs and then Validate for the remaining layers.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, &Error{Code: ErrCodeEnv, Message: fmt.Sprintf("parse env: %v", err), Err: err}
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &Error{Code: ErrCodeRead, Message: fmt.Sprintf("read %s: %v", path, err), Err: err}
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(c); err != nil {
		return &Error{Code: ErrCodeParse, Message: fmt.Sprintf("parse %s: %v", path, err), Err: err}
	}
	return nil
}

// ServerArgsUsage names the positional arguments ApplyArgs accepts.
const ServerArgsUsage = "[loop-rate] [distributed|centralized] [static-platforms] [moving-platforms] [spawn-points]"

// MaxServerArgs is the number of positional server arguments.
const MaxServerArgs = 5

// ApplyArgs overrides settings from the positional server arguments:
// loop rate, propagation mode, static platforms, moving platforms, spawn
// points. Omitted trailing arguments keep their current value.
func (c *Config) ApplyArgs(args []string) error {
	if len(args) > MaxServerArgs {
		return &Error{Code: ErrCodeArgs, Message: fmt.Sprintf("expected at most %d arguments, got %d", MaxServerArgs, len(args))}
	}
	ints := map[int]*int{0: &c.LoopRate, 2: &c.StaticPlatforms, 3: &c.MovingPlatforms, 4: &c.SpawnPoints}
	for i, arg := range args {
		if i == 1 {
			if arg != "distributed" && arg != "centralized" {
				return &Error{Code: ErrCodeArgs, Message: fmt.Sprintf("mode %q is not distributed or centralized", arg)}
			}
			c.Mode = arg
			continue
		}
		n, err := strconv.Atoi(arg)
		if err != nil {
			return &Error{Code: ErrCodeArgs, Message: fmt.Sprintf("argument %d: %q is not a number", i+1, arg), Err: err}
		}
		*ints[i] = n
	}
	return nil
}

// Validate checks c against the embedded schema.
func (c Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return &Error{Code: ErrCodeSchema, Message: fmt.Sprintf("compile schema: %v", err), Err: err}
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))
	merged := def.Unify(ctx.Encode(c))
	if err := merged.Validate(cue.Concrete(true)); err != nil {
		return &Error{Code: ErrCodeSchema, Message: err.Error(), Err: err}
	}
	return nil
}
