package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Config holds all application configuration.
type Config struct {
	// Server
	Port        string
	Environment string

	// Database (audit event sink)
	Database DatabaseConfig

	// Redis (audit pub/sub sink)
	Redis RedisConfig

	// JWT (operator authentication for MANUAL_OVERRIDE)
	JWT JWTConfig

	// Admin
	Admin AdminConfig

	// Execution algorithm defaults
	TWAP    TWAPConfig
	VWAP    VWAPConfig
	Iceberg IcebergConfig

	// Risk supervisor
	Risk RiskConfig

	// Audit ledger
	Audit AuditConfig

	// CORS
	CORS CORSConfig

	// Encryption
	Encryption EncryptionConfig
}

type DatabaseConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	SSLMode  string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	Channel  string
}

type JWTConfig struct {
	Secret string
	Expiry string
}

type AdminConfig struct {
	Email       string
	IPWhitelist []string
	Password    string // Bcrypt hashed password
}

// TWAPConfig mirrors execution.TWAPConfig as loadable defaults.
type TWAPConfig struct {
	MaxSliceQty        int64
	MinSliceQty        int64
	PriceTolerance     float64
	TimeoutSeconds     float64
	RetryCount         int
	DurationSeconds    float64
	SliceCount         int
	MinIntervalSeconds float64
	RandomizeInterval  bool
}

// VWAPConfig mirrors execution.VWAPConfig; VolumeProfile is loaded from a
// separate YAML file (see LoadVolumeProfile) rather than an env var.
type VWAPConfig struct {
	TWAPConfig
	VolumeProfilePath string
	MinSliceQtyRatio  float64
	ParticipationRate float64
}

// IcebergConfig mirrors execution.IcebergConfig.
type IcebergConfig struct {
	MaxSliceQty      int64
	MinSliceQty      int64
	TimeoutSeconds   float64
	RetryCount       int
	DisplayQtyRatio  float64
	RefreshOnPartial bool
	MinRefreshQty    int64
}

// RiskConfig configures the VaR engine defaults and circuit breaker trigger
// thresholds.
type RiskConfig struct {
	DefaultConfidenceLevel float64
	MonteCarloSims         int
	DailyLossPctLimit      float64
	PositionLossPctLimit   float64
	MarginUsagePctLimit    float64
	ConsecutiveLossesLimit int
}

// AuditConfig configures the append-only event ledger's file sink.
type AuditConfig struct {
	LogDir          string
	FlushInterval   time.Duration
	RotateThreshold int64
}

type CORSConfig struct {
	AllowedOrigins []string
}

type EncryptionConfig struct {
	MasterKey string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	// Try to load .env file (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", "7999"),
		Environment: getEnv("ENVIRONMENT", "development"),

		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			Name:     getEnv("DB_NAME", "execalgo"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},

		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			Channel:  getEnv("REDIS_AUDIT_CHANNEL", "execalgo:audit"),
		},

		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", ""),
			Expiry: getEnv("JWT_EXPIRY", "24h"),
		},

		Admin: AdminConfig{
			Email:       getEnv("ADMIN_EMAIL", "admin@example.com"),
			IPWhitelist: getEnvAsSlice("ADMIN_IP_WHITELIST", []string{"127.0.0.1", "::1"}, ","),
			Password:    getEnv("ADMIN_PASSWORD_HASH", ""),
		},

		TWAP: TWAPConfig{
			MaxSliceQty:        getEnvAsInt64("TWAP_MAX_SLICE_QTY", 100000),
			MinSliceQty:        getEnvAsInt64("TWAP_MIN_SLICE_QTY", 1),
			PriceTolerance:     getEnvAsFloat("TWAP_PRICE_TOLERANCE", 0.0),
			TimeoutSeconds:     getEnvAsFloat("TWAP_TIMEOUT_SECONDS", 30),
			RetryCount:         getEnvAsInt("TWAP_RETRY_COUNT", 3),
			DurationSeconds:    getEnvAsFloat("TWAP_DURATION_SECONDS", 300),
			SliceCount:         getEnvAsInt("TWAP_SLICE_COUNT", 10),
			MinIntervalSeconds: getEnvAsFloat("TWAP_MIN_INTERVAL_SECONDS", 1),
			RandomizeInterval:  getEnvAsBool("TWAP_RANDOMIZE_INTERVAL", false),
		},

		VWAP: VWAPConfig{
			TWAPConfig: TWAPConfig{
				MaxSliceQty:     getEnvAsInt64("VWAP_MAX_SLICE_QTY", 100000),
				MinSliceQty:     getEnvAsInt64("VWAP_MIN_SLICE_QTY", 1),
				TimeoutSeconds:  getEnvAsFloat("VWAP_TIMEOUT_SECONDS", 30),
				RetryCount:      getEnvAsInt("VWAP_RETRY_COUNT", 3),
				DurationSeconds: getEnvAsFloat("VWAP_DURATION_SECONDS", 23400),
			},
			VolumeProfilePath: getEnv("VWAP_VOLUME_PROFILE_PATH", ""),
			MinSliceQtyRatio:  getEnvAsFloat("VWAP_MIN_SLICE_QTY_RATIO", 0.0),
			ParticipationRate: getEnvAsFloat("VWAP_PARTICIPATION_RATE", 0.1),
		},

		Iceberg: IcebergConfig{
			MaxSliceQty:      getEnvAsInt64("ICEBERG_MAX_SLICE_QTY", 100000),
			MinSliceQty:      getEnvAsInt64("ICEBERG_MIN_SLICE_QTY", 1),
			TimeoutSeconds:   getEnvAsFloat("ICEBERG_TIMEOUT_SECONDS", 30),
			RetryCount:       getEnvAsInt("ICEBERG_RETRY_COUNT", 3),
			DisplayQtyRatio:  getEnvAsFloat("ICEBERG_DISPLAY_QTY_RATIO", 0.1),
			RefreshOnPartial: getEnvAsBool("ICEBERG_REFRESH_ON_PARTIAL", true),
			MinRefreshQty:    getEnvAsInt64("ICEBERG_MIN_REFRESH_QTY", 1),
		},

		Risk: RiskConfig{
			DefaultConfidenceLevel: getEnvAsFloat("RISK_DEFAULT_CONFIDENCE_LEVEL", 0.99),
			MonteCarloSims:         getEnvAsInt("RISK_MONTE_CARLO_SIMS", 10000),
			DailyLossPctLimit:      getEnvAsFloat("RISK_DAILY_LOSS_PCT_LIMIT", 0.03),
			PositionLossPctLimit:   getEnvAsFloat("RISK_POSITION_LOSS_PCT_LIMIT", 0.05),
			MarginUsagePctLimit:    getEnvAsFloat("RISK_MARGIN_USAGE_PCT_LIMIT", 0.85),
			ConsecutiveLossesLimit: getEnvAsInt("RISK_CONSECUTIVE_LOSSES_LIMIT", 5),
		},

		Audit: AuditConfig{
			LogDir:          getEnv("AUDIT_LOG_DIR", "./data/audit"),
			FlushInterval:   getEnvAsDuration("AUDIT_FLUSH_INTERVAL", 5*time.Second),
			RotateThreshold: getEnvAsInt64("AUDIT_ROTATE_THRESHOLD_BYTES", 100*1024*1024),
		},

		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000"}, ","),
		},

		Encryption: EncryptionConfig{
			MasterKey: getEnv("MASTER_ENCRYPTION_KEY", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present.
func (c *Config) Validate() error {
	if c.Environment == "production" {
		if c.JWT.Secret == "" {
			return fmt.Errorf("JWT_SECRET is required in production")
		}
		if c.Encryption.MasterKey == "" {
			return fmt.Errorf("MASTER_ENCRYPTION_KEY is required in production")
		}
		if c.Admin.Password == "" {
			log.Println("WARNING: ADMIN_PASSWORD_HASH not set - admin login will use default password")
		}
	}
	return nil
}

// VolumeProfileFile is the on-disk shape LoadVolumeProfile reads: a named
// set of bucket weights an operator can swap per instrument or session
// without a redeploy.
type VolumeProfileFile struct {
	Name    string    `yaml:"name"`
	Weights []float64 `yaml:"weights"`
}

// LoadVolumeProfile reads a VWAP volume profile from a YAML file. An empty
// path is not an error; callers fall back to execution.DefaultVolumeProfile.
func LoadVolumeProfile(path string) ([]float64, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading volume profile %s: %w", path, err)
	}
	var f VolumeProfileFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: parsing volume profile %s: %w", path, err)
	}
	if len(f.Weights) == 0 {
		return nil, fmt.Errorf("config: volume profile %s has no weights", path)
	}
	return f.Weights, nil
}

// Helper functions
func getEnv(key string, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultVal
}

func getEnvAsInt64(key string, defaultVal int64) int64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
		return value
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultVal
}

func getEnvAsSlice(key string, defaultVal []string, sep string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultVal
	}
	return strings.Split(valueStr, sep)
}

func getEnvAsBool(key string, defaultVal bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultVal
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultVal
	}
	return value
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultVal
	}
	return d
}
