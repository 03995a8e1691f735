package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix namespaces every environment variable read by Load.
const EnvPrefix = "NOTIFLOGGER"

// Store backends.
const (
	StoreFile   = "file"
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config represents the complete application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server" envconfig:"SERVER"`
	Security   SecurityConfig   `yaml:"security" envconfig:"SECURITY"`
	Logging    LoggingConfig    `yaml:"logging" envconfig:"LOGGING"`
	Paths      PathsConfig      `yaml:"paths" envconfig:"PATHS"`
	Activation ActivationConfig `yaml:"activation" envconfig:"ACTIVATION"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" envconfig:"TELEMETRY"`
	WebSocket  WebSocketConfig  `yaml:"websocket" envconfig:"WEBSOCKET"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host" envconfig:"HOST"`
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	RequestTimeout  time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	AllowedOrigins []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig limits token submissions per client.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS"`
	Burst   int     `yaml:"burst" envconfig:"BURST"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`
	Format   string `yaml:"format" envconfig:"FORMAT"`
	Output   string `yaml:"output" envconfig:"OUTPUT"` // console, file or both
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// PathsConfig contains file system locations.
type PathsConfig struct {
	DataDir string `yaml:"data_dir" envconfig:"DATA_DIR"`
	LogsDir string `yaml:"logs_dir" envconfig:"LOGS_DIR"`
}

// ActivationConfig configures the activation engine and its collaborators.
type ActivationConfig struct {
	Store  StoreConfig  `yaml:"store" envconfig:"STORE"`
	Device DeviceConfig `yaml:"device" envconfig:"DEVICE"`

	// AllowOffline exposes token-less activation over the API.
	AllowOffline bool   `yaml:"allow_offline" envconfig:"ALLOW_OFFLINE"`
	DebugLog     bool   `yaml:"debug_log" envconfig:"DEBUG_LOG"`
	DebugLogFile string `yaml:"debug_log_file" envconfig:"DEBUG_LOG_FILE"`
}

// StoreConfig selects where the activation record is persisted.
type StoreConfig struct {
	Backend    string      `yaml:"backend" envconfig:"BACKEND"`
	File       string      `yaml:"file" envconfig:"FILE"`
	Passphrase string      `yaml:"passphrase" envconfig:"PASSPHRASE"`
	Redis      RedisConfig `yaml:"redis" envconfig:"REDIS"`
}

// RedisConfig holds connection settings for the redis backend.
type RedisConfig struct {
	Addr     string `yaml:"addr" envconfig:"ADDR"`
	Password string `yaml:"password" envconfig:"PASSWORD"`
	DB       int    `yaml:"db" envconfig:"DB"`
	Key      string `yaml:"key" envconfig:"KEY"`
}

// DeviceConfig selects the device identifier source.
type DeviceConfig struct {
	Source   string        `yaml:"source" envconfig:"SOURCE"`
	ID       string        `yaml:"id" envconfig:"ID"`
	EnvVar   string        `yaml:"env_var" envconfig:"ENV_VAR"`
	File     string        `yaml:"file" envconfig:"FILE"`
	CacheTTL time.Duration `yaml:"cache_ttl" envconfig:"CACHE_TTL"`
}

// TelemetryConfig configures OpenTelemetry exporters.
type TelemetryConfig struct {
	ServiceName    string  `yaml:"service_name" envconfig:"SERVICE_NAME"`
	Environment    string  `yaml:"environment" envconfig:"ENVIRONMENT"`
	TraceExporter  string  `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER"`   // stdout or none
	MetricExporter string  `yaml:"metric_exporter" envconfig:"METRIC_EXPORTER"` // prometheus or none
	SampleRatio    float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO"`
}

// WebSocketConfig contains WebSocket configuration
type WebSocketConfig struct {
	ReadBufferSize  int           `yaml:"read_buffer_size" envconfig:"READ_BUFFER_SIZE"`
	WriteBufferSize int           `yaml:"write_buffer_size" envconfig:"WRITE_BUFFER_SIZE"`
	PingPeriod      time.Duration `yaml:"ping_period" envconfig:"PING_PERIOD"`
	PongWait        time.Duration `yaml:"pong_wait" envconfig:"PONG_WAIT"`
}

// Load builds the configuration from defaults, the optional YAML file
// and the environment, then validates it.
func Load() (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()

	if path := configFilePath(); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadDotEnv loads .env from the working directory when present.
// Variables already set in the environment are left alone.
func loadDotEnv() error {
	path := os.Getenv(EnvPrefix + "_DOTENV")
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

// loadFromFile overlays the keys present in a YAML file onto cfg.
func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// configFilePath returns the explicitly configured file or the first
// conventional location that exists.
func configFilePath() string {
	if path := os.Getenv(EnvPrefix + "_CONFIG_FILE"); path != "" {
		return path
	}
	for _, location := range []string{"config.yaml", "configs/config.yaml"} {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}
	return ""
}

// validate checks the configuration and normalizes enumerations.
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 {
		return errors.New("server read and write timeouts must be positive")
	}
	if c.Server.RequestTimeout <= 0 {
		return errors.New("server request timeout must be positive")
	}

	c.Logging.Format = "json"
	c.Logging.Output = strings.ToLower(c.Logging.Output)
	switch c.Logging.Output {
	case "console", "file", "both":
	default:
		return fmt.Errorf("invalid logging output %q", c.Logging.Output)
	}
	if c.Logging.Output != "console" && c.Logging.FilePath == "" {
		return errors.New("logging file path is required for file output")
	}

	if c.Security.RateLimit.Enabled && (c.Security.RateLimit.RPS <= 0 || c.Security.RateLimit.Burst <= 0) {
		return errors.New("rate limit rps and burst must be positive when enabled")
	}

	store := &c.Activation.Store
	store.Backend = strings.ToLower(store.Backend)
	switch store.Backend {
	case StoreFile:
		if store.File == "" {
			return errors.New("activation store file is required for the file backend")
		}
	case StoreMemory:
	case StoreRedis:
		if store.Redis.Addr == "" {
			return errors.New("activation store redis addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("invalid activation store backend %q", store.Backend)
	}

	dev := &c.Activation.Device
	dev.Source = strings.ToLower(dev.Source)
	switch dev.Source {
	case "static":
		if strings.TrimSpace(dev.ID) == "" {
			return errors.New("activation device id is required for the static source")
		}
	case "env":
		if dev.EnvVar == "" {
			return errors.New("activation device env_var is required for the env source")
		}
	case "file":
		if dev.File == "" {
			return errors.New("activation device file is required for the file source")
		}
	case "fingerprint":
	default:
		return fmt.Errorf("invalid activation device source %q", dev.Source)
	}

	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry sample ratio must be within [0,1]: %v", c.Telemetry.SampleRatio)
	}
	return nil
}

// StorePath returns the resolved activation record file.
func (c *Config) StorePath() string {
	return c.resolveData(c.Activation.Store.File)
}

// DebugLogPath returns the resolved debug report log.
func (c *Config) DebugLogPath() string {
	return c.resolveData(c.Activation.DebugLogFile)
}

// LogFilePath returns the log file resolved against the logs directory.
func (c *Config) LogFilePath() string {
	return resolveIn(c.Paths.LogsDir, c.Logging.FilePath)
}

func (c *Config) resolveData(path string) string {
	return resolveIn(c.Paths.DataDir, path)
}

func resolveIn(dir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8787,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  10 * time.Second,
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"http://localhost:8787"},
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     5,
				Burst:   10,
			},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: "activation.log",
		},
		Paths: PathsConfig{
			DataDir: "data",
			LogsDir: "logs",
		},
		Activation: ActivationConfig{
			Store: StoreConfig{
				Backend: StoreFile,
				File:    "activation.json",
				Redis: RedisConfig{
					Addr: "localhost:6379",
					Key:  "notiflogger:activation",
				},
			},
			Device: DeviceConfig{
				Source: "file",
				EnvVar: EnvPrefix + "_DEVICE_ID",
				File:   "/etc/machine-id",
			},
			DebugLogFile: "debug_activation.log",
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "notiflogger-activation",
			Environment:    "development",
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			SampleRatio:    1.0,
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			PingPeriod:      54 * time.Second,
			PongWait:        60 * time.Second,
		},
	}
}
