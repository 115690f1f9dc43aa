package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App        AppConfig
	DB         DBConfig
	Redis      RedisConfig
	Auth       AuthConfig
	RateLimit  RateLimitConfig
	Validation ValidationConfig
}

type AppConfig struct {
	Port    string
	BaseURL string
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

type RedisConfig struct {
	Host string
	Port string
}

type AuthConfig struct {
	APIKeys map[string]string // API key -> name/description
}

type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

// ValidationConfig параметры генерации кодов и фоновой проверки ссылок
type ValidationConfig struct {
	CodeLength          int           // длина генерируемого кода
	MaxAttempts         int           // лимит попыток генерации уникального кода
	CheckInterval       time.Duration // период между тиками валидатора
	CheckPeriod         time.Duration // окно, за которое каждая ссылка проверяется хотя бы раз
	Timeout             time.Duration // таймаут одной сетевой проверки
	MaxConcurrentChecks int           // параллелизм проверок внутри одного тика
	Enabled             bool          // проверять ли URL в момент создания
}

func Load() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	cfg.App.Port = viper.GetString("APP_PORT")
	cfg.App.BaseURL = viper.GetString("APP_BASE_URL")
	if cfg.App.BaseURL == "" {
		cfg.App.BaseURL = "http://localhost:" + cfg.App.Port
	}
	cfg.DB.Host = viper.GetString("DB_HOST")
	cfg.DB.Port = viper.GetString("DB_PORT")
	cfg.DB.User = viper.GetString("DB_USER")
	cfg.DB.Password = viper.GetString("DB_PASSWORD")
	cfg.DB.Name = viper.GetString("DB_NAME")
	cfg.Redis.Host = viper.GetString("REDIS_HOST")
	cfg.Redis.Port = viper.GetString("REDIS_PORT")

	// Auth config - parse API keys from comma-separated string
	// Format: key1:name1,key2:name2
	apiKeysRaw := viper.GetString("API_KEYS")
	cfg.Auth.APIKeys = parseAPIKeys(apiKeysRaw)

	// Rate limit config
	cfg.RateLimit.RequestsPerSecond = viper.GetFloat64("RATE_LIMIT_RPS")
	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 10
	}
	cfg.RateLimit.BurstSize = viper.GetInt("RATE_LIMIT_BURST")
	if cfg.RateLimit.BurstSize == 0 {
		cfg.RateLimit.BurstSize = 20
	}

	cfg.Validation = loadValidation()

	return &cfg, nil
}

func loadValidation() ValidationConfig {
	v := ValidationConfig{
		CodeLength:          viper.GetInt("CODE_LENGTH"),
		MaxAttempts:         viper.GetInt("MAX_GENERATION_ATTEMPTS"),
		CheckInterval:       time.Duration(viper.GetInt("CHECK_INTERVAL_MINUTES")) * time.Minute,
		CheckPeriod:         time.Duration(viper.GetInt("CHECK_PERIOD_MINUTES")) * time.Minute,
		Timeout:             time.Duration(viper.GetInt("VALIDATION_TIMEOUT_SECONDS")) * time.Second,
		MaxConcurrentChecks: viper.GetInt("MAX_CONCURRENT_CHECKS"),
	}
	viper.SetDefault("VALIDATION_ENABLED", true)
	v.Enabled = viper.GetBool("VALIDATION_ENABLED")

	if v.CodeLength == 0 {
		v.CodeLength = 6
	}
	if v.MaxAttempts == 0 {
		v.MaxAttempts = 10
	}
	if v.CheckInterval == 0 {
		v.CheckInterval = 10 * time.Minute
	}
	if v.CheckPeriod == 0 {
		v.CheckPeriod = 300 * time.Minute
	}
	if v.Timeout == 0 {
		v.Timeout = 8 * time.Second
	}
	if v.MaxConcurrentChecks == 0 {
		v.MaxConcurrentChecks = 4
	}
	return v
}

// parseAPIKeys parses comma-separated API keys in format "key1:name1,key2:name2"
func parseAPIKeys(raw string) map[string]string {
	keys := make(map[string]string)
	if raw == "" {
		return keys
	}

	pairs := strings.Split(raw, ",")
	for _, pair := range pairs {
		parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		if len(parts) == 2 {
			keys[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}

	return keys
}
