package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// DatabaseConfig holds PostgreSQL database connection settings.
type DatabaseConfig struct {
	Host               string
	Port               string
	User               string
	Password           string
	Name               string
	SSLMode            string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetimeSec int
}

// MinIOConfig holds object storage settings for MinIO.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// StorageConfig selects where accepted files are kept.
// Driver is "local" (rename into Root) or "minio".
type StorageConfig struct {
	Driver string
	Root   string
}

// UploadConfig controls the quarantine area and file limits.
type UploadConfig struct {
	TempDir          string
	StagingTTL       time.Duration
	DefaultMaxSizeMB float64
	ScanReadLimitMB  float64
	ReconcileGrace   time.Duration
	JanitorInterval  time.Duration
}

// RedisConfig configures the shared limiter/CSRF store. Empty Addr means in-memory stores.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// SessionConfig configures the signed session cookie that scopes CSRF tokens.
type SessionConfig struct {
	Secret     string
	CookieName string
	TTL        time.Duration
	Secure     bool
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level          string
	SuspiciousFile string
	MaxSizeMB      int
	MaxBackups     int
	MaxAgeDays     int
}

// ServerConfig holds transport-level limits. Timeouts belong to the transport, not the pipeline.
type ServerConfig struct {
	BodyLimitMB  int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	FloodRPS     int
	FloodBurst   int
}

// AppConfig is the centralized configuration struct for the application.
// It is populated from environment variables. Sensitive values are not hardcoded.
type AppConfig struct {
	AppHost  string
	Port     string
	Database DatabaseConfig
	MinIO    MinIOConfig
	Storage  StorageConfig
	Upload   UploadConfig
	Redis    RedisConfig
	Session  SessionConfig
	Log      LogConfig
	Server   ServerConfig
	Security SecurityPolicy
}

// Load reads configuration from environment variables.
// A .env file can be auto-loaded by importing: _ "github.com/joho/godotenv/autoload"
// If SECURITY_POLICY_FILE is set, the YAML policy it names overrides the built-in security defaults.
func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		AppHost: getEnv("APP_HOST", "localhost:8080"),
		Port:    getEnv("PORT", "8080"),
		Database: DatabaseConfig{
			Host:               getEnv("DB_HOST", ""),
			Port:               getEnv("DB_PORT", "5432"),
			User:               getEnv("DB_USER", ""),
			Password:           getEnv("DB_PASSWORD", ""),
			Name:               getEnv("DB_NAME", ""),
			SSLMode:            getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:       getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:       getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetimeSec: getEnvInt("DB_CONN_MAX_LIFETIME_SEC", 300),
		},
		MinIO: MinIOConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", ""),
			AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey: getEnv("MINIO_SECRET_KEY", ""),
			Bucket:    getEnv("MINIO_BUCKET", ""),
			UseSSL:    getEnvBool("MINIO_USE_SSL", false),
		},
		Storage: StorageConfig{
			Driver: strings.ToLower(getEnv("STORAGE_DRIVER", "local")),
			Root:   getEnv("STORAGE_ROOT", "./var/storage"),
		},
		Upload: UploadConfig{
			TempDir:          getEnv("UPLOAD_TEMP_DIR", "./var/quarantine"),
			StagingTTL:       getEnvDuration("UPLOAD_STAGING_TTL", time.Hour),
			DefaultMaxSizeMB: getEnvFloat("UPLOAD_DEFAULT_MAX_MB", 10),
			ScanReadLimitMB:  getEnvFloat("UPLOAD_SCAN_LIMIT_MB", 50),
			ReconcileGrace:   getEnvDuration("RECONCILE_GRACE", 24*time.Hour),
			JanitorInterval:  getEnvDuration("JANITOR_INTERVAL", 15*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Session: SessionConfig{
			Secret:     getEnv("SESSION_SECRET", ""),
			CookieName: getEnv("SESSION_COOKIE", "formgate_session"),
			TTL:        getEnvDuration("SESSION_TTL", 12*time.Hour),
			Secure:     getEnvBool("SESSION_COOKIE_SECURE", true),
		},
		Log: LogConfig{
			Level:          getEnv("LOG_LEVEL", "info"),
			SuspiciousFile: getEnv("LOG_SUSPICIOUS_FILE", "./var/log/suspicious.log"),
			MaxSizeMB:      getEnvInt("LOG_MAX_SIZE_MB", 50),
			MaxBackups:     getEnvInt("LOG_MAX_BACKUPS", 5),
			MaxAgeDays:     getEnvInt("LOG_MAX_AGE_DAYS", 30),
		},
		Server: ServerConfig{
			BodyLimitMB:  getEnvInt("SERVER_BODY_LIMIT_MB", 64),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 60*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			FloodRPS:     getEnvInt("FLOOD_GUARD_RPS", 10),
			FloodBurst:   getEnvInt("FLOOD_GUARD_BURST", 20),
		},
		Security: DefaultSecurityPolicy(),
	}

	if path := getEnv("SECURITY_POLICY_FILE", ""); path != "" {
		policy, err := LoadSecurityPolicy(path)
		if err != nil {
			return nil, err
		}
		cfg.Security = policy
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil && f > 0 {
			return f
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err == nil && d > 0 {
			return d
		}
	}
	return def
}
