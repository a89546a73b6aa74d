package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type Config struct {
	Port        string `yaml:"port"`
	BindAddress string `yaml:"bind_address"`
	AppEnv      string `yaml:"app_env"`
	AppURL      string `yaml:"app_url"`
	LogLevel    string `yaml:"log_level"`

	DBDriver   string `yaml:"db_driver"` // postgres, sqlite
	DBHost     string `yaml:"db_host"`
	DBPort     string `yaml:"db_port"`
	DBUser     string `yaml:"db_user"`
	DBPassword string `yaml:"db_password"`
	DBName     string `yaml:"db_name"`
	SQLitePath string `yaml:"sqlite_path"`

	RedisHost     string `yaml:"redis_host"`
	RedisPort     string `yaml:"redis_port"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	BroadcastDriver string `yaml:"broadcast_driver"` // redis, nats, none
	NATSURL         string `yaml:"nats_url"`

	HostTokenSecret string        `yaml:"host_token_secret"`
	HostTokenTTL    time.Duration `yaml:"host_token_ttl"`

	AllowedOrigins []string `yaml:"allowed_origins"`
	VoteRatePerMin int      `yaml:"vote_rate_per_min"`
	VoteRateBurst  int      `yaml:"vote_rate_burst"`
}

const defaultHostTokenSecret = "your-secret-key-change-in-production"

func defaults() *Config {
	return &Config{
		Port:            "8080",
		BindAddress:     "localhost",
		AppEnv:          "development",
		AppURL:          "http://localhost:3000",
		LogLevel:        "info",
		DBDriver:        "postgres",
		DBHost:          "localhost",
		DBPort:          "5432",
		DBUser:          "revealroom",
		DBPassword:      "revealroom123",
		DBName:          "revealroom",
		SQLitePath:      "revealroom.db",
		RedisHost:       "localhost",
		RedisPort:       "6379",
		BroadcastDriver: "redis",
		NATSURL:         "nats://localhost:4222",
		HostTokenSecret: defaultHostTokenSecret,
		HostTokenTTL:    12 * time.Hour,
		AllowedOrigins:  []string{"http://localhost:3000"},
		VoteRatePerMin:  30,
		VoteRateBurst:   10,
	}
}

// Load builds the configuration from defaults, then the optional YAML file named by
// CONFIG_FILE, then environment variables.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.BindAddress = getEnv("BIND_ADDRESS", cfg.BindAddress)
	cfg.AppEnv = getEnv("APP_ENV", cfg.AppEnv)
	cfg.AppURL = strings.TrimRight(getEnv("APP_URL", cfg.AppURL), "/")
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.DBDriver = getEnv("DB_DRIVER", cfg.DBDriver)
	cfg.DBHost = getEnv("DB_HOST", cfg.DBHost)
	cfg.DBPort = getEnv("DB_PORT", cfg.DBPort)
	cfg.DBUser = getEnv("DB_USER", cfg.DBUser)
	cfg.DBPassword = getEnv("DB_PASSWORD", cfg.DBPassword)
	cfg.DBName = getEnv("DB_NAME", cfg.DBName)
	cfg.SQLitePath = getEnv("SQLITE_PATH", cfg.SQLitePath)
	cfg.RedisHost = getEnv("REDIS_HOST", cfg.RedisHost)
	cfg.RedisPort = getEnv("REDIS_PORT", cfg.RedisPort)
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = getEnvAsInt("REDIS_DB", cfg.RedisDB)
	cfg.BroadcastDriver = strings.ToLower(getEnv("BROADCAST_DRIVER", cfg.BroadcastDriver))
	cfg.NATSURL = getEnv("NATS_URL", cfg.NATSURL)
	cfg.HostTokenSecret = getEnv("HOST_TOKEN_SECRET", cfg.HostTokenSecret)
	cfg.HostTokenTTL = getEnvAsDuration("HOST_TOKEN_TTL", cfg.HostTokenTTL)
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = splitList(origins)
	}
	cfg.VoteRatePerMin = getEnvAsInt("VOTE_RATE_PER_MIN", cfg.VoteRatePerMin)
	cfg.VoteRateBurst = getEnvAsInt("VOTE_RATE_BURST", cfg.VoteRateBurst)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DBDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	switch c.BroadcastDriver {
	case "redis", "nats", "none":
	default:
		return fmt.Errorf("unsupported BROADCAST_DRIVER %q", c.BroadcastDriver)
	}
	if c.HostTokenTTL <= 0 {
		return fmt.Errorf("HOST_TOKEN_TTL must be positive")
	}
	if c.HostTokenSecret == "" {
		return fmt.Errorf("HOST_TOKEN_SECRET must not be empty")
	}
	if !c.IsDevelopment() && c.HostTokenSecret == defaultHostTokenSecret {
		return fmt.Errorf("HOST_TOKEN_SECRET must be set when APP_ENV is %q", c.AppEnv)
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// InitLogger configures the global zerolog logger.
func InitLogger(cfg *Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.IsDevelopment() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}

func InitDB(cfg *Config) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	}

	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "sqlite":
		dialector = sqlite.Open(cfg.SQLitePath + "?_foreign_keys=on&_busy_timeout=5000")
	default:
		dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
			cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort)
		dialector = postgres.Open(dsn)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

func InitRedis(cfg *Config) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	return client
}
