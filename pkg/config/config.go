package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/multierr"
)

// Config is the whole process configuration, read from PFMETRICS_* variables.
type Config struct {
	App        AppConfig
	DB         DBConfig
	Redis      RedisConfig
	GCP        GCPConfig
	BigQuery   BigQueryConfig
	PubSub     PubSubConfig
	Build      BuildConfig
	Validation ValidationConfig
	Metrics    MetricsConfig
	Features   FeatureFlagsConfig
}

// Load reads the environment and reports every invalid combination at once.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.Build.Source = strings.ToLower(strings.TrimSpace(cfg.Build.Source))
	if cfg.DB.DSN == "" {
		dsn, err := cfg.DB.legacyDSN()
		if err != nil {
			return nil, err
		}
		cfg.DB.DSN = dsn
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	var errs error
	switch c.Build.Source {
	case BuildSourcePostgres:
	case BuildSourceBigQuery:
		errs = multierr.Append(errs, c.GCP.require(EnvBuildSource+"="+BuildSourceBigQuery))
	default:
		errs = multierr.Append(errs, fmt.Errorf("%s must be %q or %q", EnvBuildSource, BuildSourcePostgres, BuildSourceBigQuery))
	}
	if c.Features.ExportMarts {
		errs = multierr.Append(errs, c.GCP.require(EnvExportMarts))
	}
	if c.Features.NotifyOnPublish {
		errs = multierr.Append(errs, c.GCP.require(EnvNotifyOnPublish))
		if strings.TrimSpace(c.PubSub.BuildsTopic) == "" {
			errs = multierr.Append(errs, fmt.Errorf("%s requires %s", EnvNotifyOnPublish, EnvBuildsTopic))
		}
	}
	if c.Build.LockTTL > 0 && c.Build.Timeout > c.Build.LockTTL {
		errs = multierr.Append(errs, fmt.Errorf("build timeout %v outlives the lock ttl %v", c.Build.Timeout, c.Build.LockTTL))
	}
	return errs
}

type AppConfig struct {
	Env          string `envconfig:"PFMETRICS_APP_ENV" required:"true"`
	Port         string `envconfig:"PFMETRICS_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"PFMETRICS_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"PFMETRICS_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN string `envconfig:"PFMETRICS_DB_DSN"`

	LegacyHost     string `envconfig:"PFMETRICS_DB_HOST"`
	LegacyPort     int    `envconfig:"PFMETRICS_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"PFMETRICS_DB_USER"`
	LegacyPassword string `envconfig:"PFMETRICS_DB_PASSWORD"`
	LegacyName     string `envconfig:"PFMETRICS_DB_NAME"`
	LegacySSLMode  string `envconfig:"PFMETRICS_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PFMETRICS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PFMETRICS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PFMETRICS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PFMETRICS_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"PFMETRICS_DB_SLOW_QUERY" default:"2s"`
}

type RedisConfig struct {
	URL          string        `envconfig:"PFMETRICS_REDIS_URL"`
	Address      string        `envconfig:"PFMETRICS_REDIS_ADDR"`
	Password     string        `envconfig:"PFMETRICS_REDIS_PASSWORD"`
	DB           int           `envconfig:"PFMETRICS_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PFMETRICS_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PFMETRICS_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PFMETRICS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PFMETRICS_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PFMETRICS_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether a Redis endpoint is configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type GCPConfig struct {
	ProjectID              string `envconfig:"PFMETRICS_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"PFMETRICS_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"PFMETRICS_GOOGLE_APPLICATION_CREDENTIALS"`
}

func (g GCPConfig) require(feature string) error {
	if strings.TrimSpace(g.ProjectID) == "" {
		return fmt.Errorf("%s requires %s", feature, EnvGCPProjectID)
	}
	return nil
}

type BigQueryConfig struct {
	Dataset         string `envconfig:"PFMETRICS_BIGQUERY_DATASET" default:"pf_metrics"`
	RawTablePrefix  string `envconfig:"PFMETRICS_BIGQUERY_RAW_PREFIX" default:"raw_"`
	MartTablePrefix string `envconfig:"PFMETRICS_BIGQUERY_MART_PREFIX" default:"export_"`
	ExportBatchSize int    `envconfig:"PFMETRICS_BIGQUERY_EXPORT_BATCH_SIZE" default:"500"`
}

// RawTable names the warehouse table holding one raw source.
func (b BigQueryConfig) RawTable(source string) string {
	return b.RawTablePrefix + source
}

// ExportTable names the warehouse table a mart is exported to.
func (b BigQueryConfig) ExportTable(mart string) string {
	return b.MartTablePrefix + mart
}

type PubSubConfig struct {
	BuildsTopic    string        `envconfig:"PFMETRICS_PUBSUB_BUILDS_TOPIC"`
	PublishTimeout time.Duration `envconfig:"PFMETRICS_PUBSUB_PUBLISH_TIMEOUT" default:"10s"`
}

// BuildConfig.Source selects where raw events are read from: "postgres" or "bigquery".
type BuildConfig struct {
	Source           string        `envconfig:"PFMETRICS_BUILD_SOURCE" default:"postgres"`
	LockTTL          time.Duration `envconfig:"PFMETRICS_BUILD_LOCK_TTL" default:"2h"`
	LockPollInterval time.Duration `envconfig:"PFMETRICS_BUILD_LOCK_POLL" default:"2s"`
	Timeout          time.Duration `envconfig:"PFMETRICS_BUILD_TIMEOUT" default:"30m"`
}

// ValidationConfig.RegistryPath overrides the embedded invariant registry when set.
type ValidationConfig struct {
	RegistryPath string `envconfig:"PFMETRICS_VALIDATION_REGISTRY_PATH"`
}

// MetricsConfig.PushgatewayURL receives build metrics from cmd/build when set.
type MetricsConfig struct {
	PushgatewayURL string `envconfig:"PFMETRICS_PUSHGATEWAY_URL"`
}

type FeatureFlagsConfig struct {
	AutoMigrate     bool `envconfig:"PFMETRICS_AUTO_MIGRATE" default:"false"`
	ExportMarts     bool `envconfig:"PFMETRICS_EXPORT_MARTS" default:"false"`
	NotifyOnPublish bool `envconfig:"PFMETRICS_NOTIFY_ON_PUBLISH" default:"false"`
}

// legacyDSN assembles a postgres URL from the discrete PFMETRICS_DB_* variables.
func (db DBConfig) legacyDSN() (string, error) {
	values := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	var missing []string
	for _, env := range legacyDBEnvVars {
		if strings.TrimSpace(values[env]) == "" {
			missing = append(missing, env)
		}
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   url.User(db.LegacyUser),
		Host:   net.JoinHostPort(db.LegacyHost, strconv.Itoa(db.LegacyPort)),
		Path:   db.LegacyName,
	}
	if db.LegacyPassword != "" {
		u.User = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}
	if db.LegacySSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {db.LegacySSLMode}}.Encode()
	}
	return u.String(), nil
}
