package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Secret sealer backends.
const (
	SealerAES     = "aes"
	SealerKeyring = "keyring"
)

// Blob storage backends.
const (
	BlobBackendFilesystem = "filesystem"
	BlobBackendS3         = "s3"
)

type Config struct {
	Environment string
	Port        string
	Timezone    string

	DBHost     string
	DBPort     string
	DBUsername string
	DBPassword string
	DBName     string
	DBSSLMode  string

	DBMaxConns        int
	DBMinConns        int
	DBMaxConnLifetime time.Duration

	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	SecretSealer        string
	EncryptionKeyBase64 string
	KeyringDir          string
	KeyringPassword     string

	RelayAddr          string
	MailDomain         string
	MailDialTimeout    time.Duration
	MailCommandTimeout time.Duration

	SendRatePerMinute int
	SendBurst         int
	MaxWSPerAccount   int

	BlobBackend     string
	BlobDir         string
	S3Bucket        string
	S3Region        string
	S3Endpoint      string
	S3AccessKey     string
	S3SecretKey     string
	S3UsePathStyle  bool
	MaxUploadSizeMB int64
}

func NewConfig() (*Config, error) {
	env := os.Getenv("YESMAIL_ENV")
	if env == "" {
		env = "development"
	}

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			fmt.Println("Warning: .env file not found, using environment variables")
		}
	}

	config := &Config{
		Environment: env,
		Port:        getEnvOrDefault("PORT", "8000"),
		Timezone:    getEnvOrDefault("TZ", "UTC"),

		DBHost:     getEnvOrDefault("YESMAIL_DB_HOST", "localhost"),
		DBPort:     getEnvOrDefault("YESMAIL_DB_PORT", "5432"),
		DBUsername: getEnvOrDefault("YESMAIL_DB_USER", "yesmail"),
		DBPassword: os.Getenv("YESMAIL_DB_PASSWORD"),
		DBName:     getEnvOrDefault("YESMAIL_DB_NAME", "yesmail"),
		DBSSLMode:  getEnvOrDefault("YESMAIL_DB_SSLMODE", "disable"),

		DBMaxConns:        getIntOrDefault("YESMAIL_DB_MAX_CONNS", 25),
		DBMinConns:        getIntOrDefault("YESMAIL_DB_MIN_CONNS", 5),
		DBMaxConnLifetime: getDurationOrDefault("YESMAIL_DB_MAX_CONN_LIFETIME", time.Hour),

		JWTSecret:       os.Getenv("YESMAIL_JWT_SECRET"),
		AccessTokenTTL:  getDurationOrDefault("YESMAIL_ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL: getDurationOrDefault("YESMAIL_REFRESH_TOKEN_TTL", 7*24*time.Hour),

		SecretSealer:        getEnvOrDefault("YESMAIL_SECRET_SEALER", SealerAES),
		EncryptionKeyBase64: os.Getenv("YESMAIL_ENCRYPTION_KEY_BASE64"),
		KeyringDir:          getEnvOrDefault("YESMAIL_KEYRING_DIR", "./data/keyring"),
		KeyringPassword:     os.Getenv("YESMAIL_KEYRING_PASSWORD"),

		RelayAddr:          getEnvOrDefault("YESMAIL_RELAY_ADDR", "localhost:25"),
		MailDomain:         getEnvOrDefault("YESMAIL_MAIL_DOMAIN", "yesmail.local"),
		MailDialTimeout:    getDurationOrDefault("YESMAIL_MAIL_DIAL_TIMEOUT", 5*time.Second),
		MailCommandTimeout: getDurationOrDefault("YESMAIL_MAIL_COMMAND_TIMEOUT", 60*time.Second),

		SendRatePerMinute: getIntOrDefault("YESMAIL_SEND_RATE_PER_MINUTE", 30),
		SendBurst:         getIntOrDefault("YESMAIL_SEND_BURST", 10),
		MaxWSPerAccount:   getIntOrDefault("YESMAIL_MAX_WS_PER_ACCOUNT", 10),

		BlobBackend:     getEnvOrDefault("YESMAIL_BLOB_BACKEND", BlobBackendFilesystem),
		BlobDir:         getEnvOrDefault("YESMAIL_BLOB_DIR", "./data/blobs"),
		S3Bucket:        os.Getenv("YESMAIL_S3_BUCKET"),
		S3Region:        getEnvOrDefault("YESMAIL_S3_REGION", "us-east-1"),
		S3Endpoint:      os.Getenv("YESMAIL_S3_ENDPOINT"),
		S3AccessKey:     os.Getenv("YESMAIL_S3_ACCESS_KEY"),
		S3SecretKey:     os.Getenv("YESMAIL_S3_SECRET_KEY"),
		S3UsePathStyle:  os.Getenv("YESMAIL_S3_USE_PATH_STYLE") == "true",
		MaxUploadSizeMB: int64(getIntOrDefault("YESMAIL_MAX_UPLOAD_SIZE_MB", 25)),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("YESMAIL_JWT_SECRET is required")
	}

	switch c.SecretSealer {
	case SealerAES:
		if c.EncryptionKeyBase64 == "" {
			return fmt.Errorf("YESMAIL_ENCRYPTION_KEY_BASE64 is required")
		}
	case SealerKeyring:
		if c.KeyringPassword == "" {
			return fmt.Errorf("YESMAIL_KEYRING_PASSWORD is required for the keyring sealer")
		}
	default:
		return fmt.Errorf("YESMAIL_SECRET_SEALER must be %q or %q", SealerAES, SealerKeyring)
	}

	if c.DBPassword == "" {
		return fmt.Errorf("YESMAIL_DB_PASSWORD is required")
	}

	switch c.BlobBackend {
	case BlobBackendFilesystem:
	case BlobBackendS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("YESMAIL_S3_BUCKET is required for the s3 blob backend")
		}
	default:
		return fmt.Errorf("YESMAIL_BLOB_BACKEND must be %q or %q", BlobBackendFilesystem, BlobBackendS3)
	}

	if c.DBMaxConns < 1 {
		return fmt.Errorf("YESMAIL_DB_MAX_CONNS must be at least 1")
	}
	if c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("YESMAIL_DB_MIN_CONNS must be between 0 and YESMAIL_DB_MAX_CONNS")
	}

	if c.MailDialTimeout <= 0 || c.MailCommandTimeout <= 0 {
		return fmt.Errorf("mail timeouts must be positive")
	}

	return nil
}

func (c *Config) GetDatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUsername,
		c.DBPassword,
		c.DBHost,
		c.DBPort,
		c.DBName,
		c.DBSSLMode,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		fmt.Printf("Warning: %s=%q is not a number, using %d\n", key, value, defaultValue)
		return defaultValue
	}
	return n
}

// getDurationOrDefault accepts Go durations ("90s") or a plain number of seconds.
func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	fmt.Printf("Warning: %s=%q is not a duration, using %s\n", key, value, defaultValue)
	return defaultValue
}
