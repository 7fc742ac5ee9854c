package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort     string
	DBHost         string
	DBPort         string
	DBUser         string
	DBPassword     string
	DBName         string
	RedisURL       string
	RedisPassword  string
	JWTSecret      string
	UploadDir      string
	UploadMaxBytes int64
	StoreTimeout   time.Duration
	PresenceTTL    time.Duration
}

func Load() *Config {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "courier"),
		DBPassword:     getEnv("DB_PASSWORD", "courier_dev_password"),
		DBName:         getEnv("DB_NAME", "courier"),
		RedisURL:       getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		JWTSecret:      getEnv("JWT_SECRET", "dev-secret-change-me"),
		UploadDir:      getEnv("UPLOAD_DIR", "./uploads"),
		UploadMaxBytes: getInt64("UPLOAD_MAX_BYTES", 20<<20),
		StoreTimeout:   getDuration("STORE_TIMEOUT", 5*time.Second),
		PresenceTTL:    getDuration("PRESENCE_TTL", 60*time.Second),
	}
}

func getEnv(key, fallback string) string {
	if val, exists := os.LookupEnv(key); exists {
		return val
	}
	return fallback
}

func getInt64(key string, fallback int64) int64 {
	if val, exists := os.LookupEnv(key); exists {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if val, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}
