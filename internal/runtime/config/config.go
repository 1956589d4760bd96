package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	errspkg "github.com/drblury/bulkbus/internal/runtime/errors"
)

// Store codec names accepted by Config.StoreCodec.
const (
	CodecMsgpack = "msgpack"
	CodecJSON    = "json"
	CodecProto   = "proto"
)

const (
	DefaultPollInterval     = time.Second
	DefaultAbandonAfter     = 10 * time.Minute
	DefaultSweepInterval    = 30 * time.Second
	DefaultMetricsNamespace = "bulkbus"

	envPrefix = "BULKBUS"
)

// Config groups the tunables shared by buses, queues and the hibernator. Zero
// values fall back to the defaults applied by WithDefaults.
type Config struct {
	// PollInterval bounds each Get issued by a queue's lazy item sequence.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// HibernateDir is where the hibernator creates spill files. Empty means
	// os.TempDir().
	HibernateDir string `mapstructure:"hibernate_dir"`

	// StoreCodec selects the record encoding of hibernation stores:
	// "msgpack" (default), "json" or "proto".
	StoreCodec string `mapstructure:"store_codec"`

	// AbandonAfter is how long a queue may go without a Get before the
	// hibernator spills it.
	AbandonAfter time.Duration `mapstructure:"abandon_after"`

	// SweepInterval is how often the hibernator looks for abandoned queues.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`

	MetricsEnabled   bool   `mapstructure:"metrics_enabled"`
	MetricsNamespace string `mapstructure:"metrics_namespace"`
}

// WithDefaults returns a copy of c with zero values replaced by defaults.
// A nil receiver yields the default configuration.
func (c *Config) WithDefaults() Config {
	var cfg Config
	if c != nil {
		cfg = *c
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.HibernateDir == "" {
		cfg.HibernateDir = os.TempDir()
	}
	if cfg.StoreCodec == "" {
		cfg.StoreCodec = CodecMsgpack
	}
	if cfg.AbandonAfter <= 0 {
		cfg.AbandonAfter = DefaultAbandonAfter
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.MetricsNamespace == "" {
		cfg.MetricsNamespace = DefaultMetricsNamespace
	}
	return cfg
}

func (c Config) String() string {
	type configAlias Config
	return fmt.Sprintf("%+v", configAlias(c))
}

// Validate checks that the configuration values are usable.
func (c *Config) Validate() error {
	var errs []error

	errs = append(errs, c.validateDurations()...)
	errs = append(errs, c.validateCodec()...)

	return errspkg.NewConfigValidationError(errors.Join(errs...))
}

func (c *Config) validateDurations() []error {
	var errs []error
	if c.PollInterval < 0 {
		errs = append(errs, errors.New("queue: poll interval cannot be negative"))
	}
	if c.AbandonAfter < 0 {
		errs = append(errs, errors.New("hibernator: abandon-after cannot be negative"))
	}
	if c.SweepInterval < 0 {
		errs = append(errs, errors.New("hibernator: sweep interval cannot be negative"))
	}
	return errs
}

func (c *Config) validateCodec() []error {
	switch strings.ToLower(c.StoreCodec) {
	case "", CodecMsgpack, CodecJSON, CodecProto:
		return nil
	default:
		return []error{fmt.Errorf("store: %w %q", errspkg.ErrUnknownCodec, c.StoreCodec)}
	}
}

// ValidateConfig is a convenience function to validate a config pointer.
func ValidateConfig(c *Config) error {
	if c == nil {
		return errspkg.ErrConfigRequired
	}
	return c.Validate()
}

// Load reads configuration from path (YAML, TOML or JSON, chosen by
// extension) and from BULKBUS_* environment variables, which take precedence.
// An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := (*Config)(nil).WithDefaults()
	v.SetDefault("poll_interval", defaults.PollInterval)
	v.SetDefault("hibernate_dir", defaults.HibernateDir)
	v.SetDefault("store_codec", defaults.StoreCodec)
	v.SetDefault("abandon_after", defaults.AbandonAfter)
	v.SetDefault("sweep_interval", defaults.SweepInterval)
	v.SetDefault("metrics_enabled", false)
	v.SetDefault("metrics_namespace", defaults.MetricsNamespace)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
