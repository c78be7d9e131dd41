package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "LEARNEXITY"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "LEARNEXITY_DB_DSN"
	EnvDBHost = "LEARNEXITY_DB_HOST"
	EnvDBUser = "LEARNEXITY_DB_USER"
	EnvDBName = "LEARNEXITY_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	Sendgrid     SendgridConfig
	Geo          GeoConfig
	Cron         CronConfig
	Messaging    MessagingConfig
	FeatureFlags FeatureFlagsConfig
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
	Env          string `envconfig:"LEARNEXITY_APP_ENV" required:"true"`
	Port         string `envconfig:"LEARNEXITY_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"LEARNEXITY_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"LEARNEXITY_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"LEARNEXITY_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"LEARNEXITY_DB_DSN"`
	Driver string `envconfig:"LEARNEXITY_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"LEARNEXITY_DB_HOST"`
	LegacyPort     int    `envconfig:"LEARNEXITY_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"LEARNEXITY_DB_USER"`
	LegacyPassword string `envconfig:"LEARNEXITY_DB_PASSWORD"`
	LegacyName     string `envconfig:"LEARNEXITY_DB_NAME"`
	LegacySSLMode  string `envconfig:"LEARNEXITY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"LEARNEXITY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"LEARNEXITY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"LEARNEXITY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"LEARNEXITY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"LEARNEXITY_REDIS_URL" required:"true"`
	Address      string        `envconfig:"LEARNEXITY_REDIS_ADDR"`
	Password     string        `envconfig:"LEARNEXITY_REDIS_PASSWORD"`
	DB           int           `envconfig:"LEARNEXITY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"LEARNEXITY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"LEARNEXITY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"LEARNEXITY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"LEARNEXITY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"LEARNEXITY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type SendgridConfig struct {
	APIKey      string `envconfig:"LEARNEXITY_SENDGRID_API_KEY"`
	DefaultFrom string `envconfig:"LEARNEXITY_SENDGRID_FROM_EMAIL" default:"no-reply@learnexity.com"`
	FromName    string `envconfig:"LEARNEXITY_SENDGRID_FROM_NAME" default:"Learnexity"`
}

type GeoConfig struct {
	BaseURL  string        `envconfig:"LEARNEXITY_GEO_BASE_URL" default:"https://ipapi.co"`
	Timeout  time.Duration `envconfig:"LEARNEXITY_GEO_TIMEOUT" default:"5s"`
	CacheTTL time.Duration `envconfig:"LEARNEXITY_GEO_CACHE_TTL" default:"24h"`
}

type CronConfig struct {
	// Cron expressions use the standard five-field format.
	OverdueSchedule       string `envconfig:"LEARNEXITY_CRON_OVERDUE_SCHEDULE" default:"0 2 * * *"`
	ReminderSchedule      string `envconfig:"LEARNEXITY_CRON_REMINDER_SCHEDULE" default:"0 9 * * *"`
	AccessRefreshSchedule string `envconfig:"LEARNEXITY_CRON_ACCESS_REFRESH_SCHEDULE" default:"0 */6 * * *"`
	BatchSize             int    `envconfig:"LEARNEXITY_CRON_BATCH_SIZE" default:"250"`
}

type MessagingConfig struct {
	ChunkSize   int           `envconfig:"LEARNEXITY_MESSAGING_CHUNK_SIZE" default:"50"`
	ChunkPause  time.Duration `envconfig:"LEARNEXITY_MESSAGING_CHUNK_PAUSE" default:"1s"`
	MaxAttempts int           `envconfig:"LEARNEXITY_MESSAGING_MAX_ATTEMPTS" default:"3"`
	Timeout     time.Duration `envconfig:"LEARNEXITY_MESSAGING_TIMEOUT" default:"10m"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"LEARNEXITY_FEATURE_AUTO_MIGRATE" default:"false"`
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
