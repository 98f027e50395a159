package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/noah-isme/docvault-api/pkg/storage"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	Storage  StorageConfig
	S3       S3Config
	Upload   UploadConfig
	Audit    AuditConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	AutoMigrate  bool
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	CacheTTL time.Duration
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
	MaxAge         time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// StorageConfig selects the default disk and configures local storage and key layout.
type StorageConfig struct {
	DefaultDisk     string
	LocalDir        string
	SignedURLSecret string
	SignedURLTTL    time.Duration
	PathTemplate    string
}

// S3Config configures the s3 disk. An empty bucket disables it.
type S3Config struct {
	Bucket             string
	Region             string
	Endpoint           string
	AccessKey          string
	SecretKey          string
	MultipartThreshold int64
}

// UploadConfig bounds chunked uploads.
type UploadConfig struct {
	ChunkSize     int64
	MaxFileSize   int64
	MaxChunks     int
	SessionTTL    time.Duration
	SweepInterval time.Duration
	CASRetries    int
}

// AuditConfig sizes the asynchronous audit writer.
type AuditConfig struct {
	Workers int
	Retries int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		AutoMigrate:  v.GetBool("DB_AUTO_MIGRATE"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
		CacheTTL: parseDuration(v.GetString("REDIS_CACHE_TTL"), 10*time.Minute),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
	}

	cfg.CORS = CORSConfig{
		AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS")),
		MaxAge:         parseDuration(v.GetString("CORS_MAX_AGE"), 10*time.Minute),
	}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Storage = StorageConfig{
		DefaultDisk:     strings.ToLower(v.GetString("STORAGE_DEFAULT_DISK")),
		LocalDir:        v.GetString("STORAGE_LOCAL_DIR"),
		SignedURLSecret: v.GetString("STORAGE_SIGNED_URL_SECRET"),
		SignedURLTTL:    parseDuration(v.GetString("STORAGE_SIGNED_URL_TTL"), 15*time.Minute),
		PathTemplate:    v.GetString("STORAGE_PATH_TEMPLATE"),
	}

	cfg.S3 = S3Config{
		Bucket:             v.GetString("S3_BUCKET"),
		Region:             v.GetString("S3_REGION"),
		Endpoint:           v.GetString("S3_ENDPOINT"),
		AccessKey:          v.GetString("S3_ACCESS_KEY"),
		SecretKey:          v.GetString("S3_SECRET_KEY"),
		MultipartThreshold: v.GetInt64("S3_MULTIPART_THRESHOLD"),
	}

	cfg.Upload = UploadConfig{
		ChunkSize:     v.GetInt64("UPLOAD_CHUNK_SIZE"),
		MaxFileSize:   v.GetInt64("UPLOAD_MAX_FILE_SIZE"),
		MaxChunks:     v.GetInt("UPLOAD_MAX_CHUNKS"),
		SessionTTL:    parseDuration(v.GetString("UPLOAD_SESSION_TTL"), 24*time.Hour),
		SweepInterval: parseDuration(v.GetString("UPLOAD_SWEEP_INTERVAL"), 15*time.Minute),
		CASRetries:    v.GetInt("UPLOAD_CAS_RETRIES"),
	}

	cfg.Audit = AuditConfig{
		Workers: v.GetInt("AUDIT_WORKERS"),
		Retries: v.GetInt("AUDIT_RETRIES"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if _, err := storage.NewPathGenerator(c.Storage.PathTemplate); err != nil {
		return fmt.Errorf("STORAGE_PATH_TEMPLATE: %w", err)
	}
	switch c.Storage.DefaultDisk {
	case storage.DiskLocal:
	case storage.DiskS3:
		if c.S3.Bucket == "" {
			return fmt.Errorf("STORAGE_DEFAULT_DISK=s3 requires S3_BUCKET")
		}
	default:
		return fmt.Errorf("STORAGE_DEFAULT_DISK: unknown disk %q", c.Storage.DefaultDisk)
	}
	if c.Upload.ChunkSize <= 0 {
		return fmt.Errorf("UPLOAD_CHUNK_SIZE must be positive")
	}
	if c.Upload.MaxFileSize <= 0 || c.Upload.MaxChunks <= 0 {
		return fmt.Errorf("UPLOAD_MAX_FILE_SIZE and UPLOAD_MAX_CHUNKS must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "docvault")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", true)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_CACHE_TTL", "10m")

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("CORS_MAX_AGE", "10m")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("STORAGE_DEFAULT_DISK", storage.DiskLocal)
	v.SetDefault("STORAGE_LOCAL_DIR", "./storage")
	v.SetDefault("STORAGE_SIGNED_URL_SECRET", "dev_storage_secret")
	v.SetDefault("STORAGE_SIGNED_URL_TTL", "15m")
	v.SetDefault("STORAGE_PATH_TEMPLATE", storage.DefaultPathTemplate)

	v.SetDefault("S3_BUCKET", "")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("S3_ENDPOINT", "")
	v.SetDefault("S3_ACCESS_KEY", "")
	v.SetDefault("S3_SECRET_KEY", "")
	v.SetDefault("S3_MULTIPART_THRESHOLD", 5*1024*1024)

	v.SetDefault("UPLOAD_CHUNK_SIZE", 5*1024*1024)
	v.SetDefault("UPLOAD_MAX_FILE_SIZE", 5*1024*1024*1024)
	v.SetDefault("UPLOAD_MAX_CHUNKS", 10000)
	v.SetDefault("UPLOAD_SESSION_TTL", "24h")
	v.SetDefault("UPLOAD_SWEEP_INTERVAL", "15m")
	v.SetDefault("UPLOAD_CAS_RETRIES", 16)

	v.SetDefault("AUDIT_WORKERS", 2)
	v.SetDefault("AUDIT_RETRIES", 3)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
