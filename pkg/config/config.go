package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Square       SquareConfig
	Booking      BookingConfig
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
	Env          string `envconfig:"HOMERUN_APP_ENV" required:"true"`
	Port         string `envconfig:"HOMERUN_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"HOMERUN_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"HOMERUN_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"HOMERUN_DB_DSN"`
	Driver string `envconfig:"HOMERUN_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"HOMERUN_DB_HOST"`
	LegacyPort     int    `envconfig:"HOMERUN_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"HOMERUN_DB_USER"`
	LegacyPassword string `envconfig:"HOMERUN_DB_PASSWORD"`
	LegacyName     string `envconfig:"HOMERUN_DB_NAME"`
	LegacySSLMode  string `envconfig:"HOMERUN_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"HOMERUN_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"HOMERUN_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"HOMERUN_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"HOMERUN_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"HOMERUN_REDIS_URL" required:"true"`
	Address      string        `envconfig:"HOMERUN_REDIS_ADDR"`
	Password     string        `envconfig:"HOMERUN_REDIS_PASSWORD"`
	DB           int           `envconfig:"HOMERUN_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"HOMERUN_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"HOMERUN_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"HOMERUN_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"HOMERUN_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"HOMERUN_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"HOMERUN_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"HOMERUN_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"HOMERUN_JWT_EXPIRATION_MINUTES" required:"true"`
}

type SquareConfig struct {
	AccessToken string        `envconfig:"HOMERUN_SQUARE_ACCESS_TOKEN"`
	Env         string        `envconfig:"HOMERUN_SQUARE_ENV" default:"sandbox"`
	LocationID  string        `envconfig:"HOMERUN_SQUARE_LOCATION_ID"`
	Timeout     time.Duration `envconfig:"HOMERUN_SQUARE_TIMEOUT" default:"15s"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

type BookingConfig struct {
	CancellationWindow time.Duration `envconfig:"HOMERUN_BOOKING_CANCELLATION_WINDOW" default:"24h"`
	RescheduleWindow   time.Duration `envconfig:"HOMERUN_BOOKING_RESCHEDULE_WINDOW" default:"48h"`
	LockTTL            time.Duration `envconfig:"HOMERUN_BOOKING_LOCK_TTL" default:"10s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"HOMERUN_AUTO_MIGRATE" default:"false"`
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
