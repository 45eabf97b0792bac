package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Store     StoreConfig     `yaml:"store"`
	Template  TemplateConfig  `yaml:"template"`
	Minio     MinioConfig     `yaml:"minio"`
	Auth      AuthConfig      `yaml:"auth"`
	Users     []User          `yaml:"users"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
	// PublicURL prefixes the links handed to both parties. When empty the
	// base URL is derived from the request.
	PublicURL string `yaml:"public_url"`
	StaticDir string `yaml:"static_dir"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Store drivers
const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverRedis    = "redis"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type StoreConfig struct {
	Driver       string      `yaml:"driver"`
	MaxContracts int         `yaml:"max_contracts"` // memory driver only, 0 = unlimited
	FilePath     string      `yaml:"file_path"`
	DSN          string      `yaml:"dsn"`
	Redis        RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// Template sources
const (
	SourceFS    = "fs"
	SourceMinio = "minio"
)

type TemplateConfig struct {
	Source     string   `yaml:"source"`
	PDF        string   `yaml:"pdf"`
	Mapping    string   `yaml:"mapping"`
	SearchDirs []string `yaml:"search_dirs"`
}

type MinioConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Endpoint   string `yaml:"endpoint"`
	AccessKey  string `yaml:"access_key"`
	SecretKey  string `yaml:"secret_key"`
	Bucket     string `yaml:"bucket"`
	Region     string `yaml:"region"` // skips bucket location lookup when set
	UseSSL     bool   `yaml:"use_ssl"`
	ExpireDays int    `yaml:"expire_days"`
	// Archive stores every generated PDF in the bucket.
	Archive bool `yaml:"archive"`
}

type AuthConfig struct {
	JWTSecret        string `yaml:"jwt_secret"`
	TokenExpireHours int    `yaml:"token_expire_hours"`
}

// Enabled reports whether admin routes require a token.
func (a AuthConfig) Enabled() bool {
	return a.JWTSecret != ""
}

type User struct {
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	PasswordHash string `yaml:"password_hash"` // bcrypt, preferred over Password
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyEnv()
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.StaticDir == "" {
		c.Server.StaticDir = "public"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = DriverMemory
	}
	if c.Store.FilePath == "" {
		c.Store.FilePath = "data/contracts.json"
	}
	if c.Store.Redis.Prefix == "" {
		c.Store.Redis.Prefix = "cerfa:"
	}
	if c.Template.Source == "" {
		c.Template.Source = SourceFS
	}
	if c.Template.PDF == "" {
		c.Template.PDF = "cerfa_ apprentissage_10103-14.pdf"
	}
	if c.Template.Mapping == "" {
		c.Template.Mapping = "mapping_complet_v2.json"
	}
	if c.Minio.ExpireDays == 0 {
		c.Minio.ExpireDays = 7
	}
	if c.Auth.TokenExpireHours == 0 {
		c.Auth.TokenExpireHours = 24
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 5
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 20
	}
}

// applyEnv overrides file values with CERFA_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("CERFA_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	setString(&c.Server.PublicURL, "CERFA_PUBLIC_URL")
	setString(&c.Log.Level, "CERFA_LOG_LEVEL")
	setString(&c.Log.Format, "CERFA_LOG_FORMAT")
	setString(&c.Store.Driver, "CERFA_STORE_DRIVER")
	setString(&c.Store.FilePath, "CERFA_STORE_FILE")
	setString(&c.Store.DSN, "CERFA_STORE_DSN")
	setString(&c.Store.Redis.Addr, "CERFA_REDIS_ADDR")
	setString(&c.Store.Redis.Password, "CERFA_REDIS_PASSWORD")
	setString(&c.Minio.AccessKey, "CERFA_MINIO_ACCESS_KEY")
	setString(&c.Minio.SecretKey, "CERFA_MINIO_SECRET_KEY")
	setString(&c.Auth.JWTSecret, "CERFA_JWT_SECRET")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate checks the settings that defaults cannot repair.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory, DriverFile:
	case DriverRedis:
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("store.redis.addr is required for the %s driver", c.Store.Driver)
		}
	case DriverSQLite, DriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the %s driver", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	switch c.Template.Source {
	case SourceFS:
	case SourceMinio:
		if !c.Minio.Enabled {
			return fmt.Errorf("template.source %q requires minio.enabled", SourceMinio)
		}
	default:
		return fmt.Errorf("unknown template source %q", c.Template.Source)
	}

	if c.Minio.Enabled && (c.Minio.Endpoint == "" || c.Minio.Bucket == "") {
		return fmt.Errorf("minio.endpoint and minio.bucket are required when minio is enabled")
	}
	return nil
}

// FindUser finds a user by username
func (c *Config) FindUser(username string) *User {
	for i := range c.Users {
		if c.Users[i].Username == username {
			return &c.Users[i]
		}
	}
	return nil
}
