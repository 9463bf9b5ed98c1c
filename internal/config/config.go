package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultPageURL          = "https://fast.com/"
	defaultAPIURL           = "https://api.fast.com/netflix/speedtest/v2"
	defaultURLCount         = 5
	defaultDiscoveryTimeout = 15 * time.Second
	defaultUserAgent        = "speedprobe/1.0"
	defaultMaxDuration      = 30 * time.Second
	defaultReadBufferSize   = 32 * 1024
	defaultMetadataTimeout  = 5 * time.Second
	defaultSampleInterval   = 500 * time.Millisecond
	defaultPingCount        = 3
	defaultReportFormat     = "console"
	defaultKafkaTopic       = "speedprobe-reports"
	defaultLogLevel         = "warn"
	defaultLogFormat        = "console"
	defaultLogFileEnabled   = false
	defaultLogDirectory     = "log"
	defaultLogFilename      = "speedprobe.log"
	defaultLogMaxSizeMB     = 10
	defaultLogMaxBackups    = 3
	defaultLogMaxAgeDays    = 7
	defaultLogCompress      = false

	// Environment variable prefix
	envPrefix = "SPEEDPROBE"
)

type Config struct {
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Measure   MeasureConfig   `mapstructure:"measure"`
	Metadata  MetadataConfig  `mapstructure:"metadata"`
	Report    ReportConfig    `mapstructure:"report"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Log       LogConfig       `mapstructure:"log"`
}

type DiscoveryConfig struct {
	PageURL   string        `mapstructure:"pageURL"`
	APIURL    string        `mapstructure:"apiURL"`
	URLCount  int           `mapstructure:"urlCount"`
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"userAgent"`
}

type MeasureConfig struct {
	MaxDuration    time.Duration `mapstructure:"maxDuration"` // 0 disables the limit
	ReadBufferSize int           `mapstructure:"readBufferSize"`
	Seed           uint64        `mapstructure:"seed"` // 0 picks a time based seed
}

type MetadataConfig struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	SampleInterval time.Duration `mapstructure:"sampleInterval"`
	Ping           PingConfig    `mapstructure:"ping"`
	GeoIPDatabase  string        `mapstructure:"geoipDatabase"`
	ResolvConf     string        `mapstructure:"resolvConf"`
}

type PingConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	Count      int  `mapstructure:"count"`
	Privileged bool `mapstructure:"privileged"`
}

type ReportConfig struct {
	Format    string      `mapstructure:"format"`
	SubmitURL string      `mapstructure:"submitURL"` // empty disables submission
	ResultURL string      `mapstructure:"resultURL"`
	History   bool        `mapstructure:"history"`
	Kafka     KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type MetricsConfig struct {
	Listen string `mapstructure:"listen"` // empty disables the /metrics endpoint
}

type LogConfig struct {
	Level              string `mapstructure:"level"`
	Format             string `mapstructure:"format"`
	FileLoggingEnabled bool   `mapstructure:"fileLoggingEnabled"`
	Directory          string `mapstructure:"directory"`
	Filename           string `mapstructure:"filename"`
	MaxSize            int    `mapstructure:"maxSize"`    // Max size in MB
	MaxBackups         int    `mapstructure:"maxBackups"` // Max backup files
	MaxAge             int    `mapstructure:"maxAge"`     // Max days to retain
	Compress           bool   `mapstructure:"compress"`
}

// Load applies defaults, the optional config file and SPEEDPROBE_* environment
// overrides, then validates the result. An empty configPath skips the file.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	configureViper(v, configPath)

	setDefaults(v)

	if configPath != "" {
		if err := readConfigFile(v); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnmarshallingConfig, err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func configureViper(v *viper.Viper, configPath string) {
	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// setDefaults registers every key so that environment overrides reach Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("discovery.pageURL", defaultPageURL)
	v.SetDefault("discovery.apiURL", defaultAPIURL)
	v.SetDefault("discovery.urlCount", defaultURLCount)
	v.SetDefault("discovery.timeout", defaultDiscoveryTimeout)
	v.SetDefault("discovery.userAgent", defaultUserAgent)
	v.SetDefault("measure.maxDuration", defaultMaxDuration)
	v.SetDefault("measure.readBufferSize", defaultReadBufferSize)
	v.SetDefault("measure.seed", 0)
	v.SetDefault("metadata.timeout", defaultMetadataTimeout)
	v.SetDefault("metadata.sampleInterval", defaultSampleInterval)
	v.SetDefault("metadata.ping.enabled", true)
	v.SetDefault("metadata.ping.count", defaultPingCount)
	v.SetDefault("metadata.ping.privileged", false)
	v.SetDefault("metadata.geoipDatabase", "")
	v.SetDefault("metadata.resolvConf", "")
	v.SetDefault("report.format", defaultReportFormat)
	v.SetDefault("report.submitURL", "")
	v.SetDefault("report.resultURL", "")
	v.SetDefault("report.history", true)
	v.SetDefault("report.kafka.brokers", []string{})
	v.SetDefault("report.kafka.topic", defaultKafkaTopic)
	v.SetDefault("metrics.listen", "")
	v.SetDefault("log.level", defaultLogLevel)
	v.SetDefault("log.format", defaultLogFormat)
	v.SetDefault("log.fileLoggingEnabled", defaultLogFileEnabled)
	v.SetDefault("log.directory", defaultLogDirectory)
	v.SetDefault("log.filename", defaultLogFilename)
	v.SetDefault("log.maxSize", defaultLogMaxSizeMB)
	v.SetDefault("log.maxBackups", defaultLogMaxBackups)
	v.SetDefault("log.maxAge", defaultLogMaxAgeDays)
	v.SetDefault("log.compress", defaultLogCompress)
}

func readConfigFile(v *viper.Viper) error {
	err := v.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) || errors.Is(err, fs.ErrNotExist) {
			return ErrConfigFileMissing
		}
		return fmt.Errorf("%w: %w", ErrReadingConfigFile, err)
	}
	return nil
}

func validateConfig(cfg *Config) error {
	if cfg.Discovery.URLCount <= 0 {
		return ErrInvalidURLCount
	}
	if cfg.Discovery.Timeout < 0 || cfg.Measure.MaxDuration < 0 || cfg.Metadata.Timeout < 0 {
		return ErrInvalidTimeout
	}
	if cfg.Measure.ReadBufferSize <= 0 {
		return ErrInvalidBufferSize
	}
	if cfg.Metadata.SampleInterval <= 0 {
		return ErrInvalidSampleInterval
	}
	if cfg.Metadata.Ping.Enabled && cfg.Metadata.Ping.Count <= 0 {
		return ErrInvalidPingCount
	}
	switch cfg.Report.Format {
	case "console", "json", "csv":
	default:
		return ErrInvalidReportFormat
	}
	if len(cfg.Report.Kafka.Brokers) > 0 && cfg.Report.Kafka.Topic == "" {
		return ErrEmptyKafkaTopic
	}
	return nil
}
