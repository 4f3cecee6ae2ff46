package common

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all pipeline configuration.
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Queue    QueueConfig
	Monitor  MonitorConfig
}

// DatabaseConfig holds database-related configuration.
type DatabaseConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	DialTimeout     time.Duration
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr string
}

// QueueConfig holds dispatch and retry configuration.
type QueueConfig struct {
	MaxConcurrency  int
	MaxAttempts     int           `toml:"max_attempts"`
	BaseDelay       time.Duration `toml:"-"`
	MaxDelay        time.Duration `toml:"-"`
	ShutdownTimeout time.Duration
	DLQAlertDepth   int `toml:"dlq_alert_depth"`
}

// MonitorConfig holds health-check thresholds. The success-rate floor is only
// enforced once MinSampleSize jobs have completed.
type MonitorConfig struct {
	Interval         time.Duration `toml:"-"`
	MaxQueueDepth    int           `toml:"max_queue_depth"`
	MaxDLQSize       int           `toml:"max_dlq_size"`
	MinSuccessRate   float64       `toml:"min_success_rate"`
	MinSampleSize    int           `toml:"min_sample_size"`
	MaxAvgDuration   time.Duration `toml:"-"`
	MaxUnattendedDLQ int           `toml:"max_unattended_dlq"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DSN:             getEnv("DB_URL", ""),
			MaxConns:        getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:        getEnvAsInt32("DB_MIN_CONNS", 5),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:     getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
		},
		Server: ServerConfig{
			Addr: getEnv("HTTP_ADDR", ":8080"),
		},
		Queue: QueueConfig{
			MaxConcurrency:  getEnvAsInt("EXTRACTION_MAX_CONCURRENCY", 3),
			MaxAttempts:     getEnvAsInt("EXTRACTION_MAX_ATTEMPTS", 3),
			BaseDelay:       getEnvAsDuration("EXTRACTION_RETRY_BASE", time.Second),
			MaxDelay:        getEnvAsDuration("EXTRACTION_RETRY_CAP", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("EXTRACTION_SHUTDOWN_TIMEOUT", time.Minute),
			DLQAlertDepth:   getEnvAsInt("EXTRACTION_DLQ_ALERT_DEPTH", 10),
		},
		Monitor: MonitorConfig{
			Interval:         getEnvAsDuration("MONITOR_INTERVAL", 30*time.Second),
			MaxQueueDepth:    getEnvAsInt("MONITOR_MAX_QUEUE_DEPTH", 50),
			MaxDLQSize:       getEnvAsInt("MONITOR_MAX_DLQ_SIZE", 10),
			MinSuccessRate:   getEnvAsFloat64("MONITOR_MIN_SUCCESS_RATE", 0.90),
			MinSampleSize:    getEnvAsInt("MONITOR_MIN_SAMPLE_SIZE", 10),
			MaxAvgDuration:   getEnvAsDuration("MONITOR_MAX_AVG_DURATION", 2*time.Minute),
			MaxUnattendedDLQ: getEnvAsInt("MONITOR_MAX_UNATTENDED_DLQ", 5),
		},
	}
}

// thresholdsFile mirrors the optional TOML overrides for operators who tune
// monitoring without redeploying.
type thresholdsFile struct {
	Queue   QueueConfig   `toml:"queue"`
	Monitor MonitorConfig `toml:"monitor"`
}

// ApplyThresholdsFile overlays values from a TOML file onto the config.
// Missing file is not an error; zero values leave the config untouched.
func (c *Config) ApplyThresholdsFile(path string) error {
	if path == "" {
		return nil
	}
	var f thresholdsFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return NewError(CodeInvalidConfig, "parsing thresholds file "+path, err)
	}
	if f.Queue.MaxAttempts > 0 {
		c.Queue.MaxAttempts = f.Queue.MaxAttempts
	}
	if f.Queue.DLQAlertDepth > 0 {
		c.Queue.DLQAlertDepth = f.Queue.DLQAlertDepth
	}
	if f.Monitor.MaxQueueDepth > 0 {
		c.Monitor.MaxQueueDepth = f.Monitor.MaxQueueDepth
	}
	if f.Monitor.MaxDLQSize > 0 {
		c.Monitor.MaxDLQSize = f.Monitor.MaxDLQSize
	}
	if f.Monitor.MinSuccessRate > 0 {
		c.Monitor.MinSuccessRate = f.Monitor.MinSuccessRate
	}
	if f.Monitor.MinSampleSize > 0 {
		c.Monitor.MinSampleSize = f.Monitor.MinSampleSize
	}
	if f.Monitor.MaxUnattendedDLQ > 0 {
		c.Monitor.MaxUnattendedDLQ = f.Monitor.MaxUnattendedDLQ
	}
	return nil
}

// Validate validates the loaded configuration.
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return NewError(CodeInvalidConfig, "DB_URL is required", nil)
	}
	if c.Queue.MaxConcurrency < 1 {
		return NewError(CodeInvalidConfig, "EXTRACTION_MAX_CONCURRENCY must be >= 1", nil)
	}
	if c.Queue.MaxAttempts < 1 {
		return NewError(CodeInvalidConfig, "EXTRACTION_MAX_ATTEMPTS must be >= 1", nil)
	}
	return nil
}

// Helper functions for environment variable parsing.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
