package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"codeberg.org/mutker/cpufreqd/internal/errors"
	"codeberg.org/mutker/cpufreqd/internal/logger"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultEnvPrefix  = "CPUFREQD"
	DefaultConfigName = "cpufreqd"
	DefaultConfigDir  = "/etc"
	DefaultLogLevel   = string(LogLevelInfo)
	DefaultSysfsRoot  = "/sys/devices/system/cpu"
	DefaultMetricsDB  = "/var/lib/cpufreqd/metrics.db"

	DefaultInterval      = 2
	DefaultTimerRate     = 20000
	DefaultMinSampleTime = 20000
	DefaultGoHispeedLoad = 95
	DefaultBoostFactor   = 2
	DefaultIdlePoll      = 10000
	DefaultIdleThreshold = 90

	minTimerRate       = 1000
	maxLoadPercent     = 100
	configFileFlagName = "config"
)

type Config struct {
	Interval         int    `mapstructure:"interval"`
	TimerRate        int    `mapstructure:"timer_rate"`
	MinSampleTime    int    `mapstructure:"min_sample_time"`
	GoHispeedLoad    int    `mapstructure:"go_hispeed_load"`
	HispeedFreq      int    `mapstructure:"hispeed_freq"`
	BoostFactor      int    `mapstructure:"boost_factor"`
	PowerSaving      bool   `mapstructure:"power_saving"`
	Suspended        bool   `mapstructure:"suspended"`
	PowerSaveMaxFreq int    `mapstructure:"powersave_max_freq"`
	SleepMaxFreq     int    `mapstructure:"sleep_max_freq"`
	IdlePoll         int    `mapstructure:"idle_poll"`
	IdleThreshold    int    `mapstructure:"idle_threshold"`
	Realtime         bool   `mapstructure:"realtime"`
	SysfsRoot        string `mapstructure:"sysfs_root"`
	Monitor          bool   `mapstructure:"monitor"`
	Debug            bool   `mapstructure:"debug"`
	Verbose          bool   `mapstructure:"verbose"`
	LogLevel         string `mapstructure:"log_level"`
	Metrics          bool   `mapstructure:"metrics"`
	MetricsDB        string `mapstructure:"metrics_db"`
}

// Loader owns the viper instance so a loaded configuration can be watched later.
type Loader struct {
	v    *viper.Viper
	opts options
}

// Load loads configuration from defaults, the config file, environment and flags.
func Load(opts ...Option) (*Config, error) {
	l, err := NewLoader(opts...)
	if err != nil {
		return nil, err
	}

	return l.Load()
}

func NewLoader(opts ...Option) (*Loader, error) {
	o := options{
		envPrefix: DefaultEnvPrefix,
		args:      os.Args[1:],
	}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, err
		}
	}

	return &Loader{v: viper.New(), opts: o}, nil
}

func (l *Loader) Load() (*Config, error) {
	errFactory := errors.New()
	v := l.v

	setDefaults(v)

	// Define flags
	fs := pflag.NewFlagSet("cpufreqd", pflag.ContinueOnError)
	fs.String(configFileFlagName, "", "Path to the configuration file")
	fs.Int("interval", DefaultInterval, "Seconds between status logs and policy limit checks")
	fs.Int("timer-rate", DefaultTimerRate, "Sampling period in microseconds")
	fs.Int("min-sample-time", DefaultMinSampleTime, "Minimum time at a frequency before scaling down, in microseconds")
	fs.Int("go-hispeed-load", DefaultGoHispeedLoad, "Load percentage that triggers a hispeed jump or boost")
	fs.Int("hispeed-freq", 0, "Frequency in kHz to jump to from minimum under load (0 = domain max)")
	fs.Int("boost-factor", DefaultBoostFactor, "Multiplier applied to the current frequency under load")
	fs.Bool("power-saving", false, "Clamp the ceiling to powersave-max-freq")
	fs.Int("powersave-max-freq", 0, "Ceiling in kHz while power saving (0 = no clamp)")
	fs.Int("sleep-max-freq", 0, "Ceiling in kHz while suspended (0 = no clamp)")
	fs.Int("idle-poll", DefaultIdlePoll, "Idle detection period in microseconds")
	fs.Int("idle-threshold", DefaultIdleThreshold, "Idle share in percent above which a core counts as idle")
	fs.Bool("realtime", true, "Run the scale-up worker with real-time priority")
	fs.String("sysfs-root", DefaultSysfsRoot, "Root of the cpufreq sysfs tree")
	fs.Bool("monitor", false, "Only decide and log frequencies, never write them")
	fs.Bool("debug", false, "Enable debugging mode")
	fs.Bool("verbose", false, "Enable verbose logging")
	fs.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	fs.Bool("metrics", false, "Record frequency transitions in the metrics database")
	fs.String("metrics-db", DefaultMetricsDB, "Path to the metrics database")

	// Parse flags
	if err := fs.Parse(l.opts.args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	var bindErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Name == configFileFlagName || bindErr != nil {
			return
		}
		bindErr = v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
	})
	if bindErr != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, bindErr)
	}

	v.SetEnvPrefix(l.opts.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	// Load configuration from file
	path := l.opts.configPath
	if path == "" {
		path, _ = fs.GetString(configFileFlagName)
	}
	if path == "" {
		path = os.Getenv(l.opts.envPrefix + "_CONFIG")
	}

	v.SetConfigType("toml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(DefaultConfigName)
		v.AddConfigPath(DefaultConfigDir)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	return l.unmarshal()
}

func (l *Loader) unmarshal() (*Config, error) {
	errFactory := errors.New()

	config := &Config{}
	if err := l.v.Unmarshal(config); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	// --debug wins over whatever level was configured
	if config.Debug {
		config.LogLevel = string(LogLevelDebug)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Watch reloads the configuration file whenever it changes and hands every
// valid result to callback. Invalid edits are logged and skipped.
func (l *Loader) Watch(ctx context.Context, callback func(*Config)) error {
	if l.v.ConfigFileUsed() == "" {
		return errors.New().New(errors.ErrMissingConfig)
	}

	log := logger.New("config")

	l.v.OnConfigChange(func(e fsnotify.Event) {
		if ctx.Err() != nil {
			return
		}

		config, err := l.unmarshal()
		if err != nil {
			log.Warn().Err(err).Str("file", e.Name).Msg("Ignoring invalid configuration change")
			return
		}

		log.Info().Str("file", e.Name).Msg("Configuration reloaded")
		callback(config)
	})
	l.v.WatchConfig()

	return nil
}

// Validate checks the tunables the controller trusts once received.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel,
			newValidationError("log_level", c.LogLevel, "unknown log level"))
	}

	if c.Interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval,
			newValidationError("interval", c.Interval, "must be positive"))
	}

	nonNegative := []struct {
		field string
		value int
	}{
		{"timer_rate", c.TimerRate},
		{"min_sample_time", c.MinSampleTime},
		{"go_hispeed_load", c.GoHispeedLoad},
		{"hispeed_freq", c.HispeedFreq},
		{"boost_factor", c.BoostFactor},
		{"powersave_max_freq", c.PowerSaveMaxFreq},
		{"sleep_max_freq", c.SleepMaxFreq},
		{"idle_poll", c.IdlePoll},
		{"idle_threshold", c.IdleThreshold},
	}
	for _, f := range nonNegative {
		if f.value < 0 {
			return errFactory.WithData(errors.ErrInvalidTunable,
				newValidationError(f.field, f.value, "must not be negative"))
		}
	}

	if c.BoostFactor == 0 {
		return errFactory.WithData(errors.ErrInvalidTunable,
			newValidationError("boost_factor", c.BoostFactor, "must be at least 1"))
	}

	if c.GoHispeedLoad > maxLoadPercent {
		return errFactory.WithData(errors.ErrInvalidTunable,
			newValidationError("go_hispeed_load", c.GoHispeedLoad, "must not exceed 100"))
	}

	if c.IdleThreshold > maxLoadPercent {
		return errFactory.WithData(errors.ErrInvalidTunable,
			newValidationError("idle_threshold", c.IdleThreshold, "must not exceed 100"))
	}

	if c.TimerRate < minTimerRate {
		return errFactory.WithData(errors.ErrInvalidTunable,
			newValidationError("timer_rate", c.TimerRate, "must be at least 1000us"))
	}

	if c.IdlePoll == 0 {
		return errFactory.WithData(errors.ErrInvalidTunable,
			newValidationError("idle_poll", c.IdlePoll, "must be positive"))
	}

	if c.Metrics && c.MetricsDB == "" {
		return errFactory.WithData(errors.ErrInvalidConfig,
			newValidationError("metrics_db", c.MetricsDB, "required when metrics are enabled"))
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("interval", DefaultInterval)
	v.SetDefault("timer_rate", DefaultTimerRate)
	v.SetDefault("min_sample_time", DefaultMinSampleTime)
	v.SetDefault("go_hispeed_load", DefaultGoHispeedLoad)
	v.SetDefault("hispeed_freq", 0)
	v.SetDefault("boost_factor", DefaultBoostFactor)
	v.SetDefault("power_saving", false)
	v.SetDefault("suspended", false)
	v.SetDefault("powersave_max_freq", 0)
	v.SetDefault("sleep_max_freq", 0)
	v.SetDefault("idle_poll", DefaultIdlePoll)
	v.SetDefault("idle_threshold", DefaultIdleThreshold)
	v.SetDefault("realtime", true)
	v.SetDefault("sysfs_root", DefaultSysfsRoot)
	v.SetDefault("monitor", false)
	v.SetDefault("debug", false)
	v.SetDefault("verbose", false)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("metrics", false)
	v.SetDefault("metrics_db", DefaultMetricsDB)
}

type validationError struct {
	field  string
	value  interface{}
	reason string
}

func newValidationError(field string, value interface{}, reason string) ValidationError {
	return &validationError{field: field, value: value, reason: reason}
}

func (e *validationError) Error() string {
	return fmt.Sprintf("%s=%v: %s", e.field, e.value, e.reason)
}

func (e *validationError) Field() string      { return e.field }
func (e *validationError) Value() interface{} { return e.value }
func (e *validationError) Reason() string     { return e.reason }
