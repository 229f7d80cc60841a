package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends selectable with STORE_BACKEND.
const (
	BackendGorm   = "gorm"
	BackendRedis  = "redis"
	BackendDynamo = "dynamodb"
)

type Config struct {
	Env     string
	Backend string

	Log struct {
		Level     string
		Format    string
		Component string
		Source    bool
	}

	DB struct {
		DSN      string
		Host     string
		Port     string
		User     string
		Password string
		Name     string
	}

	Redis struct {
		Addr     string
		Password string
		DB       int
	}

	Dynamo struct {
		Region      string
		Endpoint    string
		UsersTable  string
		QuotasTable string
		TitlesTable string
	}

	GRPC struct {
		Host string
		Port string
	}

	Admin struct {
		Addr string
	}

	Quota struct {
		ChangeThreshold int
		MatchThreshold  int
		Cooldown        time.Duration
		ResetPeriod     time.Duration
		SweepInterval   time.Duration
		StatusCacheTTL  time.Duration
	}

	Match struct {
		ContentThreshold   int
		DiscoverOnFavorite bool
	}

	Tx struct {
		MaxAttempts    int
		BackoffInitial time.Duration
	}
}

func New() *Config {
	cfg := &Config{}

	cfg.Env = getEnvDefault("APP_ENV", "production")
	cfg.Backend = strings.ToLower(getEnvDefault("STORE_BACKEND", BackendGorm))

	// Logger
	cfg.Log.Level = getEnvDefault("LOG_LEVEL", "info")
	cfg.Log.Format = getEnvDefault("LOG_FORMAT", "text")
	cfg.Log.Component = os.Getenv("LOG_COMPONENT") // empty: each binary names itself
	cfg.Log.Source = isTruthy(os.Getenv("LOG_SOURCE"))

	// Database
	cfg.DB.DSN = os.Getenv("MYSQL_DSN")
	if cfg.DB.DSN == "" {
		cfg.DB.Host = getEnvDefault("DB_HOST", "localhost")
		cfg.DB.Port = getEnvDefault("DB_PORT", "3306")
		cfg.DB.User = getEnvDefault("DB_USER", "root")
		cfg.DB.Password = getEnvDefault("DB_PASSWORD", "root")
		cfg.DB.Name = getEnvDefault("DB_NAME", "cinematch")

		cfg.DB.DSN = fmt.Sprintf(
			"%s:%s@tcp(%s:%s)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
			cfg.DB.User, cfg.DB.Password, cfg.DB.Host, cfg.DB.Port, cfg.DB.Name,
		)
	}

	// Redis
	cfg.Redis.Addr = getEnvDefault("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnvDefault("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	// DynamoDB
	cfg.Dynamo.Region = getEnvDefault("AWS_REGION", "eu-west-1")
	cfg.Dynamo.Endpoint = os.Getenv("DYNAMO_ENDPOINT")
	cfg.Dynamo.UsersTable = getEnvDefault("DYNAMO_USERS_TABLE", "cinematch-users")
	cfg.Dynamo.QuotasTable = getEnvDefault("DYNAMO_QUOTAS_TABLE", "cinematch-quotas")
	cfg.Dynamo.TitlesTable = getEnvDefault("DYNAMO_TITLES_TABLE", "cinematch-titles")

	// gRPC
	cfg.GRPC.Host = getEnvDefault("GRPC_HOST", "127.0.0.1")
	cfg.GRPC.Port = getEnvDefault("GRPC_PORT", "50051")
	cfg.Admin.Addr = getEnvDefault("ADMIN_ADDR", ":9090")

	// Quota
	cfg.Quota.ChangeThreshold = getEnvInt("QUOTA_CHANGE_THRESHOLD", 2)
	cfg.Quota.MatchThreshold = getEnvInt("QUOTA_MATCH_THRESHOLD", 2)
	cfg.Quota.Cooldown = getEnvDuration("QUOTA_COOLDOWN", 120*time.Second)
	cfg.Quota.ResetPeriod = getEnvDuration("QUOTA_RESET_PERIOD", 7*24*time.Hour)
	cfg.Quota.SweepInterval = getEnvDuration("QUOTA_SWEEP_INTERVAL", 30*time.Second)
	cfg.Quota.StatusCacheTTL = getEnvDuration("QUOTA_STATUS_CACHE_TTL", 30*time.Second)

	// Matching
	cfg.Match.ContentThreshold = getEnvInt("MATCH_CONTENT_THRESHOLD", 3)
	cfg.Match.DiscoverOnFavorite = isTruthy(os.Getenv("MATCH_DISCOVER_ON_FAVORITE"))

	// Transactions
	cfg.Tx.MaxAttempts = getEnvInt("TX_MAX_ATTEMPTS", 3)
	if cfg.Tx.MaxAttempts < 1 {
		cfg.Tx.MaxAttempts = 1
	}
	cfg.Tx.BackoffInitial = getEnvDuration("TX_BACKOFF_INITIAL", 25*time.Millisecond)

	return cfg
}

// IsDevelopment reports whether demo data should be seeded on boot.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnvDefault(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getEnvInt(k string, def int) int {
	if v, err := strconv.Atoi(getEnvDefault(k, "")); err == nil {
		return v
	}
	return def
}

func getEnvDuration(k string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(getEnvDefault(k, "")); err == nil {
		return d
	}
	return def
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}
