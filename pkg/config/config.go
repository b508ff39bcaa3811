package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Eligibility modes accepted by ELIGIBILITY_MODE.
const (
	EligibilityAll     = "all"
	EligibilityMinimum = "minimum"
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
	Policy   PolicyConfig
	Cache    CacheConfig
	Batch    BatchConfig
	Reports  ReportsConfig
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
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig only carries verification settings; tokens are issued by the school CRUD service.
type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience []string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// PolicyConfig holds the defaults used when no school-year policy row exists.
type PolicyConfig struct {
	GradeScaleMin          float64
	GradeScaleMax          float64
	PromotionThreshold     float64
	InterrogationsPlanned  int
	HomeworksPlanned       int
	FinalEvaluationPlanned bool
	EligibilityMode        string
	MinInterrogations      int
	MinHomeworks           int
	RequireFinalEvaluation bool
}

// CacheConfig governs caching of policy lookups.
type CacheConfig struct {
	PolicyTTL time.Duration
	KeyPrefix string
}

// BatchConfig sizes the per-student worker pool used by class batches.
type BatchConfig struct {
	Workers int
}

// ReportsConfig configures asynchronous register generation.
type ReportsConfig struct {
	Enabled           bool
	StorageDir        string
	SignedURLSecret   string
	SignedURLTTL      time.Duration
	CleanupInterval   time.Duration
	WorkerConcurrency int
	WorkerRetries     int
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

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
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
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("ENABLE_REDIS"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:   v.GetString("JWT_SECRET"),
		Issuer:   v.GetString("JWT_ISSUER"),
		Audience: splitAndTrim(v.GetString("JWT_AUDIENCE")),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Policy = PolicyConfig{
		GradeScaleMin:          v.GetFloat64("GRADE_SCALE_MIN"),
		GradeScaleMax:          v.GetFloat64("GRADE_SCALE_MAX"),
		PromotionThreshold:     v.GetFloat64("PROMOTION_THRESHOLD"),
		InterrogationsPlanned:  v.GetInt("PLAN_INTERROGATIONS"),
		HomeworksPlanned:       v.GetInt("PLAN_HOMEWORKS"),
		FinalEvaluationPlanned: v.GetBool("PLAN_FINAL_EVALUATION"),
		EligibilityMode:        strings.ToLower(v.GetString("ELIGIBILITY_MODE")),
		MinInterrogations:      v.GetInt("ELIGIBILITY_MIN_INTERROGATIONS"),
		MinHomeworks:           v.GetInt("ELIGIBILITY_MIN_HOMEWORKS"),
		RequireFinalEvaluation: v.GetBool("ELIGIBILITY_REQUIRE_FINAL"),
	}
	if cfg.Policy.EligibilityMode != EligibilityMinimum {
		cfg.Policy.EligibilityMode = EligibilityAll
	}

	cfg.Cache = CacheConfig{
		PolicyTTL: parseDuration(v.GetString("POLICY_CACHE_TTL"), 15*time.Minute),
		KeyPrefix: v.GetString("CACHE_KEY_PREFIX"),
	}

	workers := v.GetInt("BATCH_WORKERS")
	if workers <= 0 {
		workers = 4
	}
	cfg.Batch = BatchConfig{Workers: workers}

	cfg.Reports = ReportsConfig{
		Enabled:           v.GetBool("ENABLE_REPORTS"),
		StorageDir:        v.GetString("REPORTS_STORAGE_DIR"),
		SignedURLSecret:   v.GetString("REPORTS_SIGNED_URL_SECRET"),
		SignedURLTTL:      parseDuration(v.GetString("REPORTS_SIGNED_URL_TTL"), 24*time.Hour),
		CleanupInterval:   parseDuration(v.GetString("REPORTS_CLEANUP_INTERVAL"), time.Hour),
		WorkerConcurrency: v.GetInt("REPORTS_WORKER_CONCURRENCY"),
		WorkerRetries:     v.GetInt("REPORTS_WORKER_RETRIES"),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "sma_records")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("ENABLE_REDIS", true)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")
	v.SetDefault("JWT_AUDIENCE", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("GRADE_SCALE_MIN", 0)
	v.SetDefault("GRADE_SCALE_MAX", 20)
	v.SetDefault("PROMOTION_THRESHOLD", 10)
	v.SetDefault("PLAN_INTERROGATIONS", 2)
	v.SetDefault("PLAN_HOMEWORKS", 2)
	v.SetDefault("PLAN_FINAL_EVALUATION", true)
	v.SetDefault("ELIGIBILITY_MODE", EligibilityAll)
	v.SetDefault("ELIGIBILITY_MIN_INTERROGATIONS", 1)
	v.SetDefault("ELIGIBILITY_MIN_HOMEWORKS", 1)
	v.SetDefault("ELIGIBILITY_REQUIRE_FINAL", true)

	v.SetDefault("POLICY_CACHE_TTL", "15m")
	v.SetDefault("CACHE_KEY_PREFIX", "records:")
	v.SetDefault("BATCH_WORKERS", 4)

	v.SetDefault("ENABLE_REPORTS", false)
	v.SetDefault("REPORTS_STORAGE_DIR", "./exports")
	v.SetDefault("REPORTS_SIGNED_URL_SECRET", "dev_reports_secret")
	v.SetDefault("REPORTS_SIGNED_URL_TTL", "24h")
	v.SetDefault("REPORTS_CLEANUP_INTERVAL", "1h")
	v.SetDefault("REPORTS_WORKER_CONCURRENCY", 1)
	v.SetDefault("REPORTS_WORKER_RETRIES", 3)
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
