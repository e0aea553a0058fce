package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                 string
	AllowedOrigin        string
	DatabaseURL          string
	AutoMigrate          bool
	RedisAddr            string
	RedisPassword        string
	RedisDB              int
	StockCacheTTLSeconds int
	LockTTLSeconds       int
	AuthSecret           string
	AuthIssuer           string
	ManagerPIN           string
	LogLevel             string
	RateLimit            string
	UnitOfWorkRetries    int
}

// Load reads the environment, after merging a .env file from the working
// directory if one exists. Variables already set win over the file.
func Load() Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	cfg := Config{
		Port:                 getEnv("PORT", "8080"),
		AllowedOrigin:        getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		AutoMigrate:          getBool("AUTO_MIGRATE", false),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		RedisDB:              redisDB,
		StockCacheTTLSeconds: getPositiveInt("STOCK_CACHE_TTL_SECONDS", 30),
		LockTTLSeconds:       getPositiveInt("LOCK_TTL_SECONDS", 10),
		AuthSecret:           strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AuthIssuer:           strings.TrimSpace(os.Getenv("AUTH_ISSUER")),
		ManagerPIN:           strings.TrimSpace(os.Getenv("MANAGER_PIN")),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		RateLimit:            getEnv("RATE_LIMIT", "120-M"),
		UnitOfWorkRetries:    getPositiveInt("UOW_MAX_RETRIES", 5),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) StockCacheTTL() time.Duration {
	return time.Duration(c.StockCacheTTLSeconds) * time.Second
}

func (c Config) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getPositiveInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || v < 1 {
		return fallback
	}
	return v
}

func getBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return v
}
