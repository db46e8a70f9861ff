// Package config loads process configuration.
//
// Sources, highest priority first: command-line flags applied by the caller,
// USAGEWATCH_* environment variables, an optional YAML file, built-in defaults.
// Nested keys map to env names by replacing "." with "_", so detection.min_readings
// is read from USAGEWATCH_DETECTION_MIN_READINGS.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/milad/usagewatch/internal/anomaly"
)

const EnvPrefix = "USAGEWATCH"

type Config struct {
	GRPC      GRPCConfig      `mapstructure:"grpc"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Store     StoreConfig     `mapstructure:"store"`
	Detection DetectionConfig `mapstructure:"detection"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type GRPCConfig struct {
	Addr string `mapstructure:"addr"`
}

type HTTPConfig struct {
	Addr       string        `mapstructure:"addr"`
	GRPCTarget string        `mapstructure:"grpc_target"`
	GRPCWait   time.Duration `mapstructure:"grpc_wait"`
}

type StoreConfig struct {
	// Driver is "memory" or "sqlite".
	Driver     string `mapstructure:"driver"`
	SQLitePath string `mapstructure:"sqlite_path"`
	// SeedCSV optionally preloads readings at startup.
	SeedCSV string `mapstructure:"seed_csv"`
}

type DetectionConfig struct {
	RelativeThreshold float64               `mapstructure:"relative_threshold"`
	ZScoreThreshold   float64               `mapstructure:"zscore_threshold"`
	MediumRatio       float64               `mapstructure:"medium_ratio"`
	HighRatio         float64               `mapstructure:"high_ratio"`
	MinReadings       int                   `mapstructure:"min_readings"`
	BaselineWindow    int                   `mapstructure:"baseline_window"`
	HistoryLimit      int                   `mapstructure:"history_limit"`
	Parallelism       int                   `mapstructure:"parallelism"`
	UtilityTypes      []anomaly.UtilityType `mapstructure:"utility_types"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type ScheduleConfig struct {
	// PortfolioCron is a five-field cron expression; empty disables scheduled runs.
	PortfolioCron string `mapstructure:"portfolio_cron"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	// File enables a rotating log file in addition to stdout.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

func Default() Config {
	d := anomaly.DefaultConfig()
	return Config{
		GRPC: GRPCConfig{Addr: ":50051"},
		HTTP: HTTPConfig{
			Addr:       ":8080",
			GRPCTarget: "localhost:50051",
			GRPCWait:   10 * time.Second,
		},
		Store: StoreConfig{
			Driver:     "memory",
			SQLitePath: "usagewatch.db",
		},
		Detection: DetectionConfig{
			RelativeThreshold: d.RelativeThreshold,
			ZScoreThreshold:   d.ZScoreThreshold,
			MediumRatio:       d.MediumRatio,
			HighRatio:         d.HighRatio,
			MinReadings:       d.MinReadings,
			BaselineWindow:    d.BaselineWindow,
			HistoryLimit:      100,
			Parallelism:       d.Parallelism,
			UtilityTypes:      d.UtilityTypes,
		},
		Kafka: KafkaConfig{Topic: "usagewatch.alerts"},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 5,
		},
	}
}

// Load reads configuration from path (optional, may be empty or missing) and the
// environment, on top of Default.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("read config %q: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Kafka.Brokers = splitList(cfg.Kafka.Brokers)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("grpc.addr", d.GRPC.Addr)

	v.SetDefault("http.addr", d.HTTP.Addr)
	v.SetDefault("http.grpc_target", d.HTTP.GRPCTarget)
	v.SetDefault("http.grpc_wait", d.HTTP.GRPCWait)

	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.sqlite_path", d.Store.SQLitePath)
	v.SetDefault("store.seed_csv", d.Store.SeedCSV)

	v.SetDefault("detection.relative_threshold", d.Detection.RelativeThreshold)
	v.SetDefault("detection.zscore_threshold", d.Detection.ZScoreThreshold)
	v.SetDefault("detection.medium_ratio", d.Detection.MediumRatio)
	v.SetDefault("detection.high_ratio", d.Detection.HighRatio)
	v.SetDefault("detection.min_readings", d.Detection.MinReadings)
	v.SetDefault("detection.baseline_window", d.Detection.BaselineWindow)
	v.SetDefault("detection.history_limit", d.Detection.HistoryLimit)
	v.SetDefault("detection.parallelism", d.Detection.Parallelism)
	types := make([]map[string]any, 0, len(d.Detection.UtilityTypes))
	for _, ut := range d.Detection.UtilityTypes {
		types = append(types, map[string]any{"name": ut.Name, "unit": ut.Unit})
	}
	v.SetDefault("detection.utility_types", types)

	v.SetDefault("kafka.brokers", append([]string{}, d.Kafka.Brokers...))
	v.SetDefault("kafka.topic", d.Kafka.Topic)

	v.SetDefault("schedule.portfolio_cron", d.Schedule.PortfolioCron)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
}

func (c Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("store.sqlite_path is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q must be memory or sqlite", c.Store.Driver))
	}
	if c.Detection.HistoryLimit < 0 {
		errs = append(errs, errors.New("detection.history_limit must be >= 0"))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka.topic is required when brokers are set"))
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q must be json or console", c.Logging.Format))
	}
	if err := c.Anomaly().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("detection: %w", err))
	}
	return errors.Join(errs...)
}

// Anomaly returns the engine policy described by the detection section.
func (c Config) Anomaly() anomaly.Config {
	d := c.Detection
	return anomaly.Config{
		RelativeThreshold: d.RelativeThreshold,
		ZScoreThreshold:   d.ZScoreThreshold,
		MediumRatio:       d.MediumRatio,
		HighRatio:         d.HighRatio,
		MinReadings:       d.MinReadings,
		BaselineWindow:    d.BaselineWindow,
		Parallelism:       d.Parallelism,
		UtilityTypes:      d.UtilityTypes,
	}
}

// splitList accepts both YAML lists and a single comma separated env value.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
