package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	// EnvPrefix namespaces every environment variable consumed by the service.
	EnvPrefix = "NYUMBAPAY"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "NYUMBAPAY_DB_DSN"
	EnvDBHost = "NYUMBAPAY_DB_HOST"
	EnvDBUser = "NYUMBAPAY_DB_USER"
	EnvDBName = "NYUMBAPAY_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	Retry    RetryConfig
	Batch    BatchConfig
	Phone    PhoneConfig
	Mpesa    MpesaConfig
	Airtel   AirtelConfig
	Pesalink PesalinkConfig
	SMS      SMSConfig
	Cron     CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"NYUMBAPAY_APP_ENV" required:"true"`
	Port         string `envconfig:"NYUMBAPAY_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"NYUMBAPAY_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"NYUMBAPAY_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"NYUMBAPAY_DB_DSN"`
	Driver string `envconfig:"NYUMBAPAY_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"NYUMBAPAY_DB_HOST"`
	LegacyPort     int    `envconfig:"NYUMBAPAY_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"NYUMBAPAY_DB_USER"`
	LegacyPassword string `envconfig:"NYUMBAPAY_DB_PASSWORD"`
	LegacyName     string `envconfig:"NYUMBAPAY_DB_NAME"`
	LegacySSLMode  string `envconfig:"NYUMBAPAY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"NYUMBAPAY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"NYUMBAPAY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"NYUMBAPAY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"NYUMBAPAY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"NYUMBAPAY_REDIS_URL" required:"true"`
	Address      string        `envconfig:"NYUMBAPAY_REDIS_ADDR"`
	Password     string        `envconfig:"NYUMBAPAY_REDIS_PASSWORD"`
	DB           int           `envconfig:"NYUMBAPAY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"NYUMBAPAY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"NYUMBAPAY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"NYUMBAPAY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"NYUMBAPAY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"NYUMBAPAY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// RetryConfig shapes the backoff policy applied to outbound provider calls.
type RetryConfig struct {
	MaxAttempts  int           `envconfig:"NYUMBAPAY_RETRY_MAX_ATTEMPTS" default:"5"`
	InitialDelay time.Duration `envconfig:"NYUMBAPAY_RETRY_INITIAL_DELAY" default:"500ms"`
	MaxDelay     time.Duration `envconfig:"NYUMBAPAY_RETRY_MAX_DELAY" default:"30s"`
	Multiplier   float64       `envconfig:"NYUMBAPAY_RETRY_MULTIPLIER" default:"2.0"`
}

// BatchConfig shapes rent-collection batch dispatch.
type BatchConfig struct {
	TestMode        bool          `envconfig:"NYUMBAPAY_BATCH_TEST_MODE" default:"false"`
	DefaultProvider string        `envconfig:"NYUMBAPAY_BATCH_DEFAULT_PROVIDER" default:"mpesa"`
	InterItemDelay  time.Duration `envconfig:"NYUMBAPAY_BATCH_INTER_ITEM_DELAY" default:"200ms"`
	SubBatchSize    int           `envconfig:"NYUMBAPAY_BATCH_SUB_BATCH_SIZE" default:"25"`
	InterBatchDelay time.Duration `envconfig:"NYUMBAPAY_BATCH_INTER_BATCH_DELAY" default:"2s"`
}

// PhoneConfig shapes subscriber number normalization.
type PhoneConfig struct {
	CountryCode   string `envconfig:"NYUMBAPAY_PHONE_COUNTRY_CODE" default:"254"`
	RepairEnabled bool   `envconfig:"NYUMBAPAY_PHONE_REPAIR_ENABLED" default:"true"`
}

type MpesaConfig struct {
	Enabled         bool          `envconfig:"NYUMBAPAY_MPESA_ENABLED" default:"true"`
	BaseURL         string        `envconfig:"NYUMBAPAY_MPESA_BASE_URL" default:"https://api.safaricom.co.ke"`
	ConsumerKey     string        `envconfig:"NYUMBAPAY_MPESA_CONSUMER_KEY"`
	ConsumerSecret  string        `envconfig:"NYUMBAPAY_MPESA_CONSUMER_SECRET"`
	ShortCode       string        `envconfig:"NYUMBAPAY_MPESA_SHORT_CODE"`
	PassKey         string        `envconfig:"NYUMBAPAY_MPESA_PASS_KEY"`
	CallbackBaseURL string        `envconfig:"NYUMBAPAY_MPESA_CALLBACK_BASE_URL"`
	Timeout         time.Duration `envconfig:"NYUMBAPAY_MPESA_TIMEOUT" default:"30s"`
}

type AirtelConfig struct {
	Enabled         bool          `envconfig:"NYUMBAPAY_AIRTEL_ENABLED" default:"true"`
	BaseURL         string        `envconfig:"NYUMBAPAY_AIRTEL_BASE_URL" default:"https://openapi.airtel.africa"`
	ClientID        string        `envconfig:"NYUMBAPAY_AIRTEL_CLIENT_ID"`
	ClientSecret    string        `envconfig:"NYUMBAPAY_AIRTEL_CLIENT_SECRET"`
	SigningSecret   string        `envconfig:"NYUMBAPAY_AIRTEL_SIGNING_SECRET"`
	CallbackBaseURL string        `envconfig:"NYUMBAPAY_AIRTEL_CALLBACK_BASE_URL"`
	Timeout         time.Duration `envconfig:"NYUMBAPAY_AIRTEL_TIMEOUT" default:"30s"`
}

type PesalinkConfig struct {
	Enabled       bool          `envconfig:"NYUMBAPAY_PESALINK_ENABLED" default:"false"`
	BaseURL       string        `envconfig:"NYUMBAPAY_PESALINK_BASE_URL"`
	APIKey        string        `envconfig:"NYUMBAPAY_PESALINK_API_KEY"`
	AccountNumber string        `envconfig:"NYUMBAPAY_PESALINK_ACCOUNT_NUMBER"`
	Timeout       time.Duration `envconfig:"NYUMBAPAY_PESALINK_TIMEOUT" default:"45s"`
}

type SMSConfig struct {
	Enabled  bool   `envconfig:"NYUMBAPAY_SMS_ENABLED" default:"false"`
	BaseURL  string `envconfig:"NYUMBAPAY_SMS_BASE_URL" default:"https://api.africastalking.com"`
	Username string `envconfig:"NYUMBAPAY_SMS_USERNAME"`
	APIKey   string `envconfig:"NYUMBAPAY_SMS_API_KEY"`
	SenderID string `envconfig:"NYUMBAPAY_SMS_SENDER_ID"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"NYUMBAPAY_CRON_INTERVAL" default:"24h"`
	// RentRunDay is the day of month the rent-collection job fires on.
	RentRunDay int `envconfig:"NYUMBAPAY_CRON_RENT_RUN_DAY" default:"1"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
