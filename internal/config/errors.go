package config

import "errors"

var (
	ErrReadingConfigFile     = errors.New("failed to read config file")
	ErrUnmarshallingConfig   = errors.New("failed to unmarshal config")
	ErrConfigFileMissing     = errors.New("config file not found")
	ErrInvalidURLCount       = errors.New("discovery urlCount must be positive")
	ErrInvalidTimeout        = errors.New("timeouts must not be negative")
	ErrInvalidBufferSize     = errors.New("measure readBufferSize must be positive")
	ErrInvalidSampleInterval = errors.New("metadata sampleInterval must be positive")
	ErrInvalidPingCount      = errors.New("metadata ping count must be positive")
	ErrInvalidReportFormat   = errors.New("report format must be console, json or csv")
	ErrEmptyKafkaTopic       = errors.New("kafka topic cannot be empty when brokers are set")
)
