package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"http_server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Security      SecurityConfig      `mapstructure:"security"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Verification  VerificationConfig  `mapstructure:"verification"`
	Fraud         FraudConfig         `mapstructure:"fraud"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Notification  NotificationConfig  `mapstructure:"notification"`
	Worker        WorkerConfig        `mapstructure:"worker"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	BaseURL           string        `mapstructure:"base_url"`
	AllowedOrigins    string        `mapstructure:"allowed_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Source          string        `mapstructure:"source"`
}

type SecurityConfig struct {
	JWTSecret           string        `mapstructure:"jwt_secret"`
	JWTIssuer           string        `mapstructure:"jwt_issuer"`
	AccessTokenDuration time.Duration `mapstructure:"access_token_duration"`
}

type ObservabilityConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// VerificationConfig holds deadline and upload tunables.
type VerificationConfig struct {
	DeadlineDays          int           `mapstructure:"deadline_days"`
	MaxExtensionHours     int           `mapstructure:"max_extension_hours"`
	MaxUploadBytes        int64         `mapstructure:"max_upload_bytes"`
	AutoApprovalMaxAmount string        `mapstructure:"auto_approval_max_amount"`
	AutoApprovalMaxCount  int           `mapstructure:"auto_approval_max_count"`
	Holidays              []string      `mapstructure:"holidays"`
	DownloadURLTTL        time.Duration `mapstructure:"download_url_ttl"`
	DefaultAutoApproval   bool          `mapstructure:"default_auto_approval"`
	BusinessDayDeadline   bool          `mapstructure:"business_day_deadline"`
}

type FraudConfig struct {
	LowRiskMax     int           `mapstructure:"low_risk_max"`
	HighRiskMin    int           `mapstructure:"high_risk_min"`
	StaleAfter     time.Duration `mapstructure:"stale_after"`
	ClockSkew      time.Duration `mapstructure:"clock_skew"`
	Timezone       string        `mapstructure:"timezone"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	AdvisorEnabled bool          `mapstructure:"advisor_enabled"`
	AdvisorURL     string        `mapstructure:"advisor_url"`
	AdvisorAPIKey  string        `mapstructure:"advisor_api_key"`
	AdvisorModel   string        `mapstructure:"advisor_model"`
	AdvisorTimeout time.Duration `mapstructure:"advisor_timeout"`
	AdvisorRetries int           `mapstructure:"advisor_retries"`
}

type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type StorageConfig struct {
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

type NotificationConfig struct {
	SMTPHost      string        `mapstructure:"smtp_host"`
	SMTPPort      string        `mapstructure:"smtp_port"`
	SMTPUser      string        `mapstructure:"smtp_user"`
	SMTPPassword  string        `mapstructure:"smtp_password"`
	From          string        `mapstructure:"from"`
	FromName      string        `mapstructure:"from_name"`
	CheckInterval time.Duration `mapstructure:"check_interval"`
	MaxWorkers    int           `mapstructure:"max_workers"`
	QueueSize     int           `mapstructure:"queue_size"`
}

type WorkerConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	LockTTL       time.Duration `mapstructure:"lock_ttl"`
}

// ----------------- HELPERS -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvAsList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// LoadConfigFromEnv builds the configuration for container deployments.
func LoadConfigFromEnv() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:              getEnvAsInt("HTTP_PORT", 8080),
			BaseURL:           getEnv("BASE_URL", ""),
			AllowedOrigins:    getEnv("ALLOWED_ORIGINS", "*"),
			ReadHeaderTimeout: getEnvAsDuration("HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
			ReadTimeout:       getEnvAsDuration("HTTP_READ_TIMEOUT", 30*time.Second),
			IdleTimeout:       getEnvAsDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
			WriteTimeout:      getEnvAsDuration("HTTP_WRITE_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
			Source:          getEnv("DATABASE_URL", ""),
		},
		Security: SecurityConfig{
			JWTSecret:           getEnv("JWT_SECRET", ""),
			JWTIssuer:           getEnv("JWT_ISSUER", "cashback-settlement"),
			AccessTokenDuration: getEnvAsDuration("ACCESS_TOKEN_DURATION", time.Hour),
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: getEnvAsBool("METRICS_ENABLED", true),
				Path:    getEnv("METRICS_PATH", "/metrics"),
			},
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
		},
		Verification: VerificationConfig{
			DeadlineDays:          getEnvAsInt("VERIFICATION_DEADLINE_DAYS", 7),
			MaxExtensionHours:     getEnvAsInt("VERIFICATION_MAX_EXTENSION_HOURS", 168),
			MaxUploadBytes:        int64(getEnvAsInt("VERIFICATION_MAX_UPLOAD_BYTES", 10<<20)),
			AutoApprovalMaxAmount: getEnv("AUTO_APPROVAL_MAX_AMOUNT", "100000"),
			AutoApprovalMaxCount:  getEnvAsInt("AUTO_APPROVAL_MAX_COUNT", 1000),
			Holidays:              getEnvAsList("VERIFICATION_HOLIDAYS"),
			DownloadURLTTL:        getEnvAsDuration("DOWNLOAD_URL_TTL", 15*time.Minute),
			DefaultAutoApproval:   getEnvAsBool("DEFAULT_AUTO_APPROVAL", true),
			BusinessDayDeadline:   getEnvAsBool("VERIFICATION_BUSINESS_DAY_DEADLINE", false),
		},
		Fraud: FraudConfig{
			LowRiskMax:     getEnvAsInt("FRAUD_LOW_RISK_MAX", 30),
			HighRiskMin:    getEnvAsInt("FRAUD_HIGH_RISK_MIN", 70),
			StaleAfter:     getEnvAsDuration("FRAUD_STALE_AFTER", 30*24*time.Hour),
			ClockSkew:      getEnvAsDuration("FRAUD_CLOCK_SKEW", 5*time.Minute),
			Timezone:       getEnv("FRAUD_TIMEZONE", "Europe/Stockholm"),
			CacheTTL:       getEnvAsDuration("FRAUD_CACHE_TTL", 15*time.Minute),
			AdvisorEnabled: getEnvAsBool("FRAUD_ADVISOR_ENABLED", false),
			AdvisorURL:     getEnv("FRAUD_ADVISOR_URL", "https://api.anthropic.com"),
			AdvisorAPIKey:  getEnv("FRAUD_ADVISOR_API_KEY", ""),
			AdvisorModel:   getEnv("FRAUD_ADVISOR_MODEL", ""),
			AdvisorTimeout: getEnvAsDuration("FRAUD_ADVISOR_TIMEOUT", 10*time.Second),
			AdvisorRetries: getEnvAsInt("FRAUD_ADVISOR_RETRIES", 2),
		},
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", "localhost:6379"),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvAsInt("REDIS_DB", 0),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "settlement:"),
		},
		Storage: StorageConfig{
			Bucket:    getEnv("S3_BUCKET", ""),
			Prefix:    getEnv("S3_PREFIX", ""),
			Region:    getEnv("S3_REGION", "eu-north-1"),
			Endpoint:  getEnv("S3_ENDPOINT", ""),
			AccessKey: getEnv("S3_ACCESS_KEY", ""),
			SecretKey: getEnv("S3_SECRET_KEY", ""),
		},
		Notification: NotificationConfig{
			SMTPHost:      getEnv("SMTP_HOST", "localhost"),
			SMTPPort:      getEnv("SMTP_PORT", "25"),
			SMTPUser:      getEnv("SMTP_USER", ""),
			SMTPPassword:  getEnv("SMTP_PASSWORD", ""),
			From:          getEnv("SMTP_FROM", "no-reply@example.com"),
			FromName:      getEnv("SMTP_FROM_NAME", "Cashback Settlement"),
			CheckInterval: getEnvAsDuration("NOTIFICATION_CHECK_INTERVAL", 5*time.Minute),
			MaxWorkers:    getEnvAsInt("NOTIFICATION_MAX_WORKERS", 4),
			QueueSize:     getEnvAsInt("NOTIFICATION_QUEUE_SIZE", 100),
		},
		Worker: WorkerConfig{
			SweepInterval: getEnvAsDuration("SWEEP_INTERVAL", time.Minute),
			LockTTL:       getEnvAsDuration("SWEEP_LOCK_TTL", 2*time.Minute),
		},
	}
	return cfg
}

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Security.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("security config: %v", err))
	}

	if err := c.Verification.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("verification config: %v", err))
	}

	if err := c.Fraud.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("fraud config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.AllowedOrigins != "" {
		origins := strings.Split(c.AllowedOrigins, ",")
		for _, origin := range origins {
			origin = strings.TrimSpace(origin)
			if origin == "*" {
				continue
			}
			if _, err := url.Parse(origin); err != nil {
				return fmt.Errorf("invalid allowed origin %s: %w", origin, err)
			}
		}
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.Source == "" {
		return errors.New("source is required")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

func (c *SecurityConfig) Validate() error {
	if len(c.JWTSecret) < 32 {
		return errors.New("jwt_secret must be at least 32 characters")
	}
	return nil
}

func (c *VerificationConfig) Validate() error {
	if c.DeadlineDays <= 0 {
		return errors.New("deadline_days must be positive")
	}
	if c.MaxExtensionHours <= 0 {
		return errors.New("max_extension_hours must be positive")
	}
	if c.MaxUploadBytes <= 0 {
		return errors.New("max_upload_bytes must be positive")
	}
	if _, err := c.AutoApprovalAmountCeiling(); err != nil {
		return err
	}
	if c.AutoApprovalMaxCount <= 0 {
		return errors.New("auto_approval_max_count must be positive")
	}
	if _, err := c.HolidayDates(); err != nil {
		return err
	}
	return nil
}

// AutoApprovalAmountCeiling parses the configured value ceiling.
func (c *VerificationConfig) AutoApprovalAmountCeiling() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(c.AutoApprovalMaxAmount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid auto_approval_max_amount %q: %w", c.AutoApprovalMaxAmount, err)
	}
	if d.IsNegative() {
		return decimal.Zero, errors.New("auto_approval_max_amount cannot be negative")
	}
	return d, nil
}

// HolidayDates parses the holiday calendar (YYYY-MM-DD).
func (c *VerificationConfig) HolidayDates() ([]time.Time, error) {
	out := make([]time.Time, 0, len(c.Holidays))
	for _, h := range c.Holidays {
		t, err := time.Parse(time.DateOnly, strings.TrimSpace(h))
		if err != nil {
			return nil, fmt.Errorf("invalid holiday %q: %w", h, err)
		}
		out = append(out, t)
	}
	return out, nil
}

func (c *FraudConfig) Validate() error {
	if c.LowRiskMax < 0 || c.HighRiskMin > 100 || c.LowRiskMax > c.HighRiskMin {
		return errors.New("risk thresholds must satisfy 0 <= low_risk_max <= high_risk_min <= 100")
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
		}
	}
	if c.AdvisorEnabled && c.AdvisorModel == "" {
		return errors.New("advisor_model is required when the advisor is enabled")
	}
	return nil
}

// Location returns the configured timezone, defaulting to UTC.
func (c *FraudConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
