package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`
	NodeID   string `yaml:"nodeID"`

	// empty databaseURL runs the in-memory store (dev mode)
	DatabaseURL string `yaml:"databaseURL"`

	// empty redisAddr backs queues with the relational store
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	// empty minioEndpoint runs the in-memory cold store
	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	// empty amqpURL logs telemetry instead of publishing it
	AMQPURL           string `yaml:"amqpURL"`
	TelemetryExchange string `yaml:"telemetryExchange"`

	RulesPath string `yaml:"rulesPath"`

	EncodeWorkers          int    `yaml:"encodeWorkers"`
	ModerationWorkers      int    `yaml:"moderationWorkers"`
	QueueBatchSize         int    `yaml:"queueBatchSize"`
	QueueMaxAttempts       int    `yaml:"queueMaxAttempts"`
	QueueReclaimMinutes    int    `yaml:"queueReclaimMinutes"`
	RetentionCron          string `yaml:"retentionCron"`
	RetentionBatchSize     int    `yaml:"retentionBatchSize"`
	PurgeOnRetentionDelete bool   `yaml:"purgeOnRetentionDelete"`

	// rate limiting needs redisAddr; zero disables it
	IngestRateLimitPerMinute int `yaml:"ingestRateLimitPerMinute"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v == "true" {
		cfg.MinioUseSSL = true
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.AMQPURL = v
	}
	if v := os.Getenv("ARCHIVE_NODE_ID"); v != "" {
		cfg.NodeID = v
	}
	if v := os.Getenv("ARCHIVE_RULES_PATH"); v != "" {
		cfg.RulesPath = v
	}
	if v := os.Getenv("ARCHIVE_ENCODE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.EncodeWorkers = n
		}
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.NodeID == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.NodeID = host
		} else {
			cfg.NodeID = "archive"
		}
	}
	if cfg.EncodeWorkers <= 0 {
		cfg.EncodeWorkers = 4
	}
	if cfg.ModerationWorkers <= 0 {
		cfg.ModerationWorkers = 2
	}
	if cfg.QueueBatchSize <= 0 {
		cfg.QueueBatchSize = 10
	}
	if cfg.QueueMaxAttempts <= 0 {
		cfg.QueueMaxAttempts = 3
	}
	if cfg.QueueReclaimMinutes <= 0 {
		cfg.QueueReclaimMinutes = 5
	}
	if cfg.RetentionCron == "" {
		cfg.RetentionCron = "*/15 * * * *"
	}
	if cfg.RetentionBatchSize <= 0 {
		cfg.RetentionBatchSize = 100
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.MinioEndpoint != "" {
		if cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" || cfg.MinioBucket == "" {
			return errors.New("config: minio credentials and bucket are required with minioEndpoint")
		}
	}
	return nil
}
