package shared

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog/log"
)

// ConfigPathEnv names an optional YAML file layered between defaults and env.
const ConfigPathEnv = "CONFIG_PATH"

type Config struct {
	AppEnv      string `koanf:"app_env" validate:"oneof=dev development test prod production"`
	LogLevel    string `koanf:"log_level"`
	HTTPAddr    string `koanf:"http_addr" validate:"required"`
	MetricsAddr string `koanf:"metrics_addr"`

	MySQLDSN  string `koanf:"mysql_dsn" validate:"required"`
	RedisAddr string `koanf:"redis_addr"`
	RedisPass string `koanf:"redis_password"`
	RedisDB   int    `koanf:"redis_db" validate:"min=0"`

	PlacesBase string `koanf:"places_base_url" validate:"required,url"`
	PlacesKey  string `koanf:"places_api_key" validate:"required"`
	PlacesLang string `koanf:"places_language"`
	PlacesRPS  int    `koanf:"places_rps" validate:"min=1"`

	GeminiBase  string `koanf:"gemini_base_url" validate:"required,url"`
	GeminiKey   string `koanf:"gemini_api_key" validate:"required"`
	GeminiModel string `koanf:"gemini_model" validate:"required"`
	GeminiRPS   int    `koanf:"gemini_rps" validate:"min=1"`

	// An empty secret closes the matching routes; Load warns about it.
	SyncSecret string `koanf:"sync_secret"`
	CronSecret string `koanf:"cron_secret"`

	StaleAfter     time.Duration `koanf:"stale_after" validate:"gt=0"`
	MaxAttempts    int           `koanf:"max_attempts" validate:"min=1,max=10"`
	RetryBaseDelay time.Duration `koanf:"retry_base_delay" validate:"gte=0"`
	AIPacing       time.Duration `koanf:"ai_pacing" validate:"gte=0"`
	PhotoPacing    time.Duration `koanf:"photo_batch_pacing" validate:"gte=0"`
	AttemptTimeout time.Duration `koanf:"attempt_timeout" validate:"gt=0"`
	LockTTL        time.Duration `koanf:"lock_ttl" validate:"gt=0"`

	SweepPacing   time.Duration `koanf:"sweep_pacing" validate:"gte=0"`
	SweepWorkers  int           `koanf:"sweep_workers" validate:"min=1,max=16"`
	SweepInterval time.Duration `koanf:"sweep_interval" validate:"gt=0"`
	SweepEnabled  bool          `koanf:"sweep_enabled"`
	SweepLimit    int           `koanf:"sweep_limit" validate:"min=1"`

	CacheTTLSeconds int `koanf:"cache_ttl_seconds" validate:"min=0"`
	SyncRateLimit   int `koanf:"sync_rate_limit" validate:"min=1"`
}

func (c Config) CacheTTL() time.Duration { return time.Duration(c.CacheTTLSeconds) * time.Second }

func defaultConfig() Config {
	return Config{
		AppEnv:      "prod",
		LogLevel:    "info",
		HTTPAddr:    ":8080",
		MetricsAddr: ":9100",
		MySQLDSN:    "root:root@tcp(localhost:3306)/veganmap?parseTime=true&charset=utf8mb4&loc=UTC",
		RedisAddr:   "localhost:6379",

		PlacesBase: "https://maps.googleapis.com/maps/api/place",
		PlacesLang: "ja",
		PlacesRPS:  5,

		GeminiBase:  "https://generativelanguage.googleapis.com/v1beta",
		GeminiModel: "gemini-2.0-flash",
		GeminiRPS:   1,

		StaleAfter:     72 * time.Hour,
		MaxAttempts:    3,
		RetryBaseDelay: 2 * time.Second,
		AIPacing:       time.Second,
		PhotoPacing:    1500 * time.Millisecond,
		AttemptTimeout: 4 * time.Minute,
		LockTTL:        15 * time.Minute,

		SweepPacing:   3 * time.Second,
		SweepWorkers:  1,
		SweepInterval: 7 * 24 * time.Hour,
		SweepLimit:    1000,

		CacheTTLSeconds: 900,
		SyncRateLimit:   30,
	}
}

// Load layers defaults, the optional YAML file at $CONFIG_PATH and the
// environment (HTTP_ADDR -> http_addr), then validates the result.
func Load() (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}
	if p := os.Getenv(ConfigPathEnv); p != "" {
		if err := k.Load(file.Provider(p), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", p, err)
		}
	}
	if err := k.Load(env.Provider("", ".", strings.ToLower), nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	var c Config
	if err := k.Unmarshal("", &c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	if c.SyncSecret == "" {
		log.Warn().Msg("SYNC_SECRET is empty; sync routes will reject every request")
	}
	if c.CronSecret == "" {
		log.Warn().Msg("CRON_SECRET is empty; cron route will reject every request")
	}
	return c, nil
}
