package dbpool

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

const defaultValidationQuery = "SELECT 1"

// Config describes one pool. It is copied when the pool is opened, so later
// changes have no effect on a running pool.
type Config struct {
	// Engine selects the registered connector ("postgres", "mysql", "sqlite3").
	Engine string `yaml:"engine" toml:"engine"`
	Target Target `yaml:"target" toml:"target"`

	// MinSize connections are opened eagerly and kept open.
	MinSize int `yaml:"min_size" toml:"min_size"`
	// MaxSize bounds idle plus in-use connections. Zero disables the pool:
	// every acquire times out.
	MaxSize int `yaml:"max_size" toml:"max_size"`

	// ConnectTimeout bounds a single connect or validation round trip.
	// Zero means no bound beyond the caller's context.
	ConnectTimeout Duration `yaml:"connect_timeout" toml:"connect_timeout"`
	// AcquireTimeout applies to Acquire calls whose context has no deadline.
	// Zero means such calls wait until a connection is available.
	AcquireTimeout Duration `yaml:"acquire_timeout" toml:"acquire_timeout"`
	// IdleKeepaliveInterval is how long a connection may sit idle before it
	// is validated on acquire. Zero disables validation on acquire.
	IdleKeepaliveInterval Duration `yaml:"idle_keepalive_interval" toml:"idle_keepalive_interval"`
	// HealthCheckInterval is the period of the background sweep over idle
	// connections. Zero disables the sweep.
	HealthCheckInterval Duration `yaml:"health_check_interval" toml:"health_check_interval"`
	// MaxIdleTime closes connections idle for longer, never going below
	// MinSize. Zero disables it.
	MaxIdleTime Duration `yaml:"max_idle_time" toml:"max_idle_time"`
	// MaxLifetime closes connections older than this. Zero disables it.
	MaxLifetime Duration `yaml:"max_lifetime" toml:"max_lifetime"`
	// CloseGracePeriod is how long Close waits for in-use connections
	// before destroying them.
	CloseGracePeriod Duration `yaml:"close_grace_period" toml:"close_grace_period"`
	// ValidationQuery is used for connections that do not implement Pinger.
	ValidationQuery string `yaml:"validation_query" toml:"validation_query"`
}

// DefaultConfig returns the settings used for values absent from a config
// file.
func DefaultConfig() Config {
	return Config{
		Engine:                "postgres",
		Target:                Target{Host: "localhost", AppName: "dbpool"},
		MinSize:               5,
		MaxSize:               20,
		ConnectTimeout:        Duration(5 * time.Second),
		AcquireTimeout:        Duration(30 * time.Second),
		IdleKeepaliveInterval: Duration(30 * time.Second),
		HealthCheckInterval:   Duration(time.Minute),
		MaxIdleTime:           Duration(10 * time.Minute),
		CloseGracePeriod:      Duration(10 * time.Second),
		ValidationQuery:       defaultValidationQuery,
	}
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if c.MinSize < 0 {
		return fmt.Errorf("%w: min_size %d is negative", ErrInvalidConfig, c.MinSize)
	}
	if c.MinSize > c.MaxSize {
		return fmt.Errorf("%w: min_size %d exceeds max_size %d", ErrInvalidConfig, c.MinSize, c.MaxSize)
	}
	for name, d := range map[string]Duration{
		"connect_timeout":         c.ConnectTimeout,
		"acquire_timeout":         c.AcquireTimeout,
		"idle_keepalive_interval": c.IdleKeepaliveInterval,
		"health_check_interval":   c.HealthCheckInterval,
		"max_idle_time":           c.MaxIdleTime,
		"max_lifetime":            c.MaxLifetime,
		"close_grace_period":      c.CloseGracePeriod,
	} {
		if d < 0 {
			return fmt.Errorf("%w: %s is negative", ErrInvalidConfig, name)
		}
	}
	return nil
}

// LoadConfig reads a pool configuration from a YAML or TOML file (chosen by
// extension), applies DB_* environment overrides and validates the result.
// Fields missing from the file keep their DefaultConfig values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, &cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		return Config{}, fmt.Errorf("%w: unsupported config format %q", ErrInvalidConfig, filepath.Ext(path))
	}
	if err != nil {
		return Config{}, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overrides target settings from DB_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("DB_ENGINE"); ok {
		c.Engine = v
	}
	if v, ok := lookup("DB_HOST"); ok {
		c.Target.Host = v
	}
	if v, ok := lookup("DB_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: DB_PORT %q: %v", ErrInvalidConfig, v, err)
		}
		c.Target.Port = port
	}
	if v, ok := lookup("DB_NAME"); ok {
		c.Target.Database = v
	}
	if v, ok := lookup("DB_USER"); ok {
		c.Target.Username = v
	}
	if v, ok := lookup("DB_PASSWORD"); ok {
		c.Target.Password = v
	}
	return nil
}

// Duration is a time.Duration that reads "5s"-style strings from config
// files. Bare integers in YAML are seconds.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", value.Line)
	}
	if secs, err := strconv.Atoi(value.Value); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	return d.UnmarshalText([]byte(value.Value))
}
