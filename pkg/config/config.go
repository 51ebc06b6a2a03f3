package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	BackendCSV      = "csv"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"

	WriteModeSerialized = "serialized"
	WriteModeNaive      = "naive"
)

type Config struct {
	Port         string `yaml:"port"`
	RedirectPort string `yaml:"redirect_port"`
	BaseURL      string `yaml:"base_url"`
	LogLevel     string `yaml:"log_level"`

	StoreBackend string `yaml:"store_backend"`
	DataDir      string `yaml:"data_dir"`
	DatabaseURL  string `yaml:"database_url"`
	WriteMode    string `yaml:"write_mode"`

	RedisURL string        `yaml:"redis_url"`
	CacheTTL time.Duration `yaml:"cache_ttl"`

	CloakSecret       string        `yaml:"cloak_secret"`
	InterstitialDelay time.Duration `yaml:"interstitial_delay"`

	RecorderWorkers   int `yaml:"recorder_workers"`
	RecorderQueueSize int `yaml:"recorder_queue_size"`
	RecorderRetries   int `yaml:"recorder_retries"`

	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	StorageTimeout time.Duration `yaml:"storage_timeout"`
}

func Default() *Config {
	return &Config{
		Port:              "8080",
		RedirectPort:      "8081",
		BaseURL:           "http://localhost:8080",
		LogLevel:          "info",
		StoreBackend:      BackendCSV,
		DataDir:           "./data",
		WriteMode:         WriteModeSerialized,
		CacheTTL:          30 * time.Second,
		InterstitialDelay: time.Second,
		RecorderWorkers:   4,
		RecorderQueueSize: 1024,
		RecorderRetries:   3,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		StorageTimeout:    5 * time.Second,
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// CONFIG_FILE, then the environment. A .env file in the working directory
// is loaded into the environment first when present. Malformed numeric or
// duration variables keep the previous value.
func Load() (*Config, error) {
	_ = godotenv.Load() // Ignore error if .env not found (e.g. prod)

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	cfg.StoreBackend = strings.ToLower(cfg.StoreBackend)
	cfg.WriteMode = strings.ToLower(cfg.WriteMode)
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.RedirectPort = getEnv("REDIRECT_PORT", c.RedirectPort)
	c.BaseURL = getEnv("BASE_URL", c.BaseURL)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.StoreBackend = getEnv("STORE_BACKEND", c.StoreBackend)
	c.DataDir = getEnv("DATA_DIR", c.DataDir)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.WriteMode = getEnv("WRITE_MODE", c.WriteMode)
	c.RedisURL = getEnv("REDIS_URL", c.RedisURL)
	c.CacheTTL = getEnvDuration("CACHE_TTL", c.CacheTTL)
	c.CloakSecret = getEnv("CLOAK_SECRET", c.CloakSecret)
	c.InterstitialDelay = getEnvDuration("INTERSTITIAL_DELAY", c.InterstitialDelay)
	c.RecorderWorkers = getEnvInt("RECORDER_WORKERS", c.RecorderWorkers)
	c.RecorderQueueSize = getEnvInt("RECORDER_QUEUE_SIZE", c.RecorderQueueSize)
	c.RecorderRetries = getEnvInt("RECORDER_RETRIES", c.RecorderRetries)
	c.ReadTimeout = getEnvDuration("READ_TIMEOUT", c.ReadTimeout)
	c.WriteTimeout = getEnvDuration("WRITE_TIMEOUT", c.WriteTimeout)
	c.StorageTimeout = getEnvDuration("STORAGE_TIMEOUT", c.StorageTimeout)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	n, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return d
}
