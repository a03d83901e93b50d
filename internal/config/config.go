package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds service configuration loaded from YAML, .env and env.
type Config struct {
	ServerPort string

	WeatherAPIKey     string
	WeatherAPIURL     string
	WeatherAPITimeout time.Duration // 0 = no client timeout
	WeatherCountry    string
	WeatherLanguage   string
	IconURLTemplate   string
	ValidateAPIKey    bool

	CircuitBreakerEnabled   bool
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration

	RequestTimeout time.Duration

	CacheBackend      string // "in_memory", "memcached" or "redis"
	CacheTTL          time.Duration
	CacheCapacity     int
	CacheRetention    time.Duration
	CacheWarmOnStart  bool
	CacheWarmInterval time.Duration // 0 disables periodic warming

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RedisURL       string
	RedisKeyPrefix string

	StorageBackend string // "memory", "sqlite", "postgres", "redis" or "dynamodb"
	SQLitePath     string
	PostgresDSN    string
	DynamoTable    string
	DynamoRegion   string
	DynamoEndpoint string
	SaveTimeout    time.Duration

	DefaultCities []string

	AuthBaseURL string
	AuthTimeout time.Duration

	RateLimitRPS   int
	RateLimitBurst int

	ShutdownTimeout  time.Duration
	HealthWindow     time.Duration
	DegradedErrorPct int

	TrackedLocations []string
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	WeatherAPI struct {
		URL             string `yaml:"url"`
		Timeout         string `yaml:"timeout"`
		Country         string `yaml:"country"`
		Language        string `yaml:"language"`
		IconURL         string `yaml:"icon_url"`
		ValidateOnStart *bool  `yaml:"validate_on_start"`
		CircuitBreaker struct {
			Enabled          bool   `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"weather_api"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend      string `yaml:"backend"`
		TTL          string `yaml:"ttl"`
		Capacity     int    `yaml:"capacity"`
		Retention    string `yaml:"retention"`
		WarmOnStart  bool   `yaml:"warm_on_start"`
		WarmInterval string `yaml:"warm_interval"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Redis struct {
		URL       string `yaml:"url"`
		KeyPrefix string `yaml:"key_prefix"`
	} `yaml:"redis"`

	Storage struct {
		Backend     string `yaml:"backend"`
		SaveTimeout string `yaml:"save_timeout"`
		SQLite struct {
			Path string `yaml:"path"`
		} `yaml:"sqlite"`
		Postgres struct {
			DSN string `yaml:"dsn"`
		} `yaml:"postgres"`
		DynamoDB struct {
			Table    string `yaml:"table"`
			Region   string `yaml:"region"`
			Endpoint string `yaml:"endpoint"`
		} `yaml:"dynamodb"`
	} `yaml:"storage"`

	Cities struct {
		Defaults []string `yaml:"defaults"`
	} `yaml:"cities"`

	Auth struct {
		BaseURL string `yaml:"base_url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"auth"`

	Reliability struct {
		RateLimitRPS   int `yaml:"rate_limit_rps"`
		RateLimitBurst int `yaml:"rate_limit_burst"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Health struct {
		Window           string `yaml:"window"`
		DegradedErrorPct int    `yaml:"degraded_error_pct"`
	} `yaml:"health"`

	Metrics struct {
		TrackedLocations []string `yaml:"tracked_locations"`
	} `yaml:"metrics"`
}

type secretsFile struct {
	WeatherAPIKey string `yaml:"weather_api_key"`
	PostgresDSN   string `yaml:"postgres_dsn"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) and config/secrets.yaml.
// A .env file in the working directory is loaded first without overriding the real environment.
// API key comes from WEATHER_API_KEY env or secrets file. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	if err := loadDotEnv(filepath.Join(cwd, ".env")); err != nil {
		return nil, err
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	sec, err := loadSecrets(filepath.Join(cwd, "config", "secrets.yaml"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{}

	cfg.ServerPort = firstNonEmpty(os.Getenv("PORT"), fc.Server.Port, "8080")

	cfg.WeatherAPIKey = firstNonEmpty(os.Getenv("WEATHER_API_KEY"), sec.WeatherAPIKey)
	if cfg.WeatherAPIKey == "" {
		return nil, fmt.Errorf("WEATHER_API_KEY required (set env or config/secrets.yaml weather_api_key)")
	}
	cfg.WeatherAPIURL = firstNonEmpty(fc.WeatherAPI.URL, "https://api.openweathermap.org/data/2.5/weather")
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 0)
	cfg.WeatherCountry = firstNonEmpty(fc.WeatherAPI.Country, "VN")
	cfg.WeatherLanguage = firstNonEmpty(fc.WeatherAPI.Language, "vi")
	cfg.IconURLTemplate = firstNonEmpty(fc.WeatherAPI.IconURL, "https://openweathermap.org/img/wn/%s@4x.png")
	cfg.ValidateAPIKey = true
	if fc.WeatherAPI.ValidateOnStart != nil {
		cfg.ValidateAPIKey = *fc.WeatherAPI.ValidateOnStart
	}
	cfg.CircuitBreakerEnabled = fc.WeatherAPI.CircuitBreaker.Enabled
	cfg.CircuitBreakerThreshold = fc.WeatherAPI.CircuitBreaker.FailureThreshold
	if cfg.CircuitBreakerThreshold <= 0 {
		cfg.CircuitBreakerThreshold = 5
	}
	cfg.CircuitBreakerTimeout = parseDuration(fc.WeatherAPI.CircuitBreaker.Timeout, 30*time.Second)

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 10*time.Second)

	cfg.CacheBackend = normalizeBackend(firstNonEmpty(os.Getenv("CACHE_BACKEND"), fc.Cache.Backend, "in_memory"))
	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 10*time.Minute)
	cfg.CacheCapacity = fc.Cache.Capacity
	if cfg.CacheCapacity <= 0 {
		cfg.CacheCapacity = 1000
	}
	cfg.CacheRetention = parseDuration(fc.Cache.Retention, time.Hour)
	cfg.CacheWarmOnStart = fc.Cache.WarmOnStart
	cfg.CacheWarmInterval = parseDurationOrZero(fc.Cache.WarmInterval, 0)

	cfg.MemcachedAddrs = firstNonEmpty(os.Getenv("MEMCACHED_ADDRS"), fc.Cache.Memcached.Addrs, "localhost:11211")
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.RedisURL = firstNonEmpty(os.Getenv("REDIS_URL"), fc.Redis.URL, "redis://localhost:6379/0")
	cfg.RedisKeyPrefix = fc.Redis.KeyPrefix

	cfg.StorageBackend = normalizeBackend(firstNonEmpty(os.Getenv("STORAGE_BACKEND"), fc.Storage.Backend, "sqlite"))
	cfg.SQLitePath = firstNonEmpty(os.Getenv("SQLITE_PATH"), fc.Storage.SQLite.Path, "data/cities.db")
	cfg.PostgresDSN = firstNonEmpty(os.Getenv("DATABASE_URL"), sec.PostgresDSN, fc.Storage.Postgres.DSN)
	cfg.DynamoTable = firstNonEmpty(fc.Storage.DynamoDB.Table, "city-weather")
	cfg.DynamoRegion = firstNonEmpty(os.Getenv("AWS_REGION"), fc.Storage.DynamoDB.Region, "us-east-1")
	cfg.DynamoEndpoint = firstNonEmpty(os.Getenv("DYNAMODB_ENDPOINT"), fc.Storage.DynamoDB.Endpoint)
	cfg.SaveTimeout = parseDuration(fc.Storage.SaveTimeout, 10*time.Second)

	cfg.DefaultCities = fc.Cities.Defaults
	if len(cfg.DefaultCities) == 0 {
		cfg.DefaultCities = []string{"Hà Nội", "Hồ Chí Minh"}
	}

	cfg.AuthBaseURL = firstNonEmpty(os.Getenv("AUTH_BASE_URL"), fc.Auth.BaseURL, "http://localhost:5000")
	cfg.AuthTimeout = parseDuration(fc.Auth.Timeout, 5*time.Second)

	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.HealthWindow = parseDuration(fc.Health.Window, 60*time.Second)
	cfg.DegradedErrorPct = fc.Health.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 50
	}

	cfg.TrackedLocations = fc.Metrics.TrackedLocations
	if len(cfg.TrackedLocations) == 0 {
		cfg.TrackedLocations = cfg.DefaultCities
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func loadSecrets(path string) (secretsFile, error) {
	var sec secretsFile
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return sec, nil
		}
		return sec, fmt.Errorf("read secrets file: %w", err)
	}
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return sec, fmt.Errorf("parse secrets file: %w", err)
	}
	return sec, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func normalizeBackend(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation of configuration values.
// A bounded weather timeout pushes RequestTimeout above it so handlers can
// still answer after an upstream timeout.
func validate(cfg *Config) error {
	if cfg.WeatherAPITimeout < 0 {
		return fmt.Errorf("weather_api.timeout must not be negative")
	}
	if cfg.CacheWarmInterval < 0 {
		return fmt.Errorf("cache.warm_interval must not be negative")
	}
	if cfg.WeatherAPITimeout > 0 && cfg.RequestTimeout <= cfg.WeatherAPITimeout {
		cfg.RequestTimeout = cfg.WeatherAPITimeout + time.Second
	}
	if cfg.CacheRetention < cfg.CacheTTL {
		cfg.CacheRetention = cfg.CacheTTL
	}
	if !strings.Contains(cfg.IconURLTemplate, "%s") {
		return fmt.Errorf("weather_api.icon_url must contain %%s, got %q", cfg.IconURLTemplate)
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached", "redis":
	default:
		return fmt.Errorf("cache.backend must be in_memory, memcached or redis, got %q", cfg.CacheBackend)
	}
	switch cfg.StorageBackend {
	case "memory", "sqlite", "redis", "dynamodb":
	case "postgres":
		if cfg.PostgresDSN == "" {
			return fmt.Errorf("storage.backend postgres requires DATABASE_URL or storage.postgres.dsn")
		}
	default:
		return fmt.Errorf("storage.backend must be memory, sqlite, postgres, redis or dynamodb, got %q", cfg.StorageBackend)
	}
	return nil
}
