package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is read when neither Load's argument nor CATALOG_CONFIG names a file.
const ConfigPath = "config.yaml"

// MemoryDatabaseURL selects the in-process store instead of Postgres.
const MemoryDatabaseURL = "memory://"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port        string `yaml:"port"`
	DatabaseURL string `yaml:"databaseURL"`
	LogLevel    string `yaml:"logLevel"`
	ServiceName string `yaml:"serviceName"`
	Environment string `yaml:"environment"`

	JWTSecret   string `yaml:"jwtSecret"`
	JWTIssuer   string `yaml:"jwtIssuer"`
	JWTAudience string `yaml:"jwtAudience"`
	JWTLeeway   string `yaml:"jwtLeeway"`
	SessionTTL  string `yaml:"sessionTTL"`

	RedisAddr      string `yaml:"redisAddr"`
	RedisPassword  string `yaml:"redisPassword"`
	DeletionStream string `yaml:"deletionStream"`
	DeletionGroup  string `yaml:"deletionGroup"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`
	MaxImageBytes  int64  `yaml:"maxImageBytes"`
	ImageURLTTL    string `yaml:"imageURLTTL"`

	OTLPEndpoint   string   `yaml:"otlpEndpoint"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// Settings is FileConfig with defaults applied and durations parsed.
type Settings struct {
	FileConfig
	SessionTTLDuration  time.Duration
	JWTLeewayDuration   time.Duration
	ImageURLTTLDuration time.Duration
}

// Load reads config from path, CATALOG_CONFIG, or config.yaml, in that order,
// then applies environment overrides and validates the result.
func Load(path string) (Settings, error) {
	cfg := FileConfig{}
	if path == "" {
		path = os.Getenv("CATALOG_CONFIG")
	}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Settings{}, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return Settings{}, err
	}
	return resolve(cfg)
}

func applyEnv(cfg *FileConfig) {
	overrides := map[string]*string{
		"PORT":                        &cfg.Port,
		"DATABASE_URL":                &cfg.DatabaseURL,
		"LOG_LEVEL":                   &cfg.LogLevel,
		"CATALOG_ENVIRONMENT":         &cfg.Environment,
		"CATALOG_JWT_SECRET":          &cfg.JWTSecret,
		"CATALOG_SESSION_TTL":         &cfg.SessionTTL,
		"REDIS_ADDR":                  &cfg.RedisAddr,
		"REDIS_PASSWORD":              &cfg.RedisPassword,
		"MINIO_ENDPOINT":              &cfg.MinioEndpoint,
		"MINIO_ACCESS_KEY":            &cfg.MinioAccessKey,
		"MINIO_SECRET_KEY":            &cfg.MinioSecretKey,
		"MINIO_BUCKET":                &cfg.MinioBucket,
		"OTEL_EXPORTER_OTLP_ENDPOINT": &cfg.OTLPEndpoint,
	}
	for env, field := range overrides {
		if v := os.Getenv(env); v != "" {
			*field = v
		}
	}
	if v := os.Getenv("MINIO_USE_SSL"); v == "true" {
		cfg.MinioUseSSL = true
	}
	if v := os.Getenv("CATALOG_MAX_IMAGE_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxImageBytes = n
		}
	}
	if v := os.Getenv("CATALOG_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitCSV(v)
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "catalog"
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.SessionTTL == "" {
		cfg.SessionTTL = "24h"
	}
	if cfg.JWTLeeway == "" {
		cfg.JWTLeeway = "30s"
	}
	if cfg.DeletionStream == "" {
		cfg.DeletionStream = "catalog:deletions"
	}
	if cfg.DeletionGroup == "" {
		cfg.DeletionGroup = "cover-cleanup"
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = 5 << 20
	}
	if cfg.ImageURLTTL == "" {
		cfg.ImageURLTTL = "15m"
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or PORT)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if len(cfg.JWTSecret) < 32 {
		return errors.New("config: jwtSecret must be at least 32 bytes (set in config.yaml or CATALOG_JWT_SECRET)")
	}
	minio := []string{cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket}
	set := 0
	for _, v := range minio {
		if v != "" {
			set++
		}
	}
	if set != 0 && set != len(minio) {
		return errors.New("config: minioEndpoint, minioAccessKey, minioSecretKey and minioBucket must be set together")
	}
	return nil
}

func resolve(cfg FileConfig) (Settings, error) {
	s := Settings{FileConfig: cfg}
	var err error
	if s.SessionTTLDuration, err = positiveDuration("sessionTTL", cfg.SessionTTL); err != nil {
		return Settings{}, err
	}
	if s.JWTLeewayDuration, err = positiveDuration("jwtLeeway", cfg.JWTLeeway); err != nil {
		return Settings{}, err
	}
	if s.ImageURLTTLDuration, err = positiveDuration("imageURLTTL", cfg.ImageURLTTL); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func positiveDuration(name, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("config: %s must be positive", name)
	}
	return d, nil
}

// UsesMemoryStore reports whether the in-process store was requested.
func (s Settings) UsesMemoryStore() bool {
	return strings.EqualFold(strings.TrimSpace(s.DatabaseURL), MemoryDatabaseURL)
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
