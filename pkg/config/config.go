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
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Outbox       OutboxConfig
	Gateway      GatewayConfig
	Payments     PaymentsConfig
	Fees         FeesConfig
	Cron         CronConfig
	Admin        AdminConfig
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
	Env          string   `envconfig:"YEMISSHOP_APP_ENV" required:"true"`
	Port         string   `envconfig:"YEMISSHOP_APP_PORT" default:"8080"`
	LogLevel     string   `envconfig:"YEMISSHOP_LOG_LEVEL" default:"info"`
	LogFormat    string   `envconfig:"YEMISSHOP_LOG_FORMAT" default:"json"`
	LogWarnStack bool     `envconfig:"YEMISSHOP_LOG_WARN_STACK" default:"false"`
	CORSOrigins  []string `envconfig:"YEMISSHOP_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"YEMISSHOP_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"YEMISSHOP_DB_DSN"`
	Driver string `envconfig:"YEMISSHOP_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"YEMISSHOP_DB_HOST"`
	LegacyPort     int    `envconfig:"YEMISSHOP_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"YEMISSHOP_DB_USER"`
	LegacyPassword string `envconfig:"YEMISSHOP_DB_PASSWORD"`
	LegacyName     string `envconfig:"YEMISSHOP_DB_NAME"`
	LegacySSLMode  string `envconfig:"YEMISSHOP_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"YEMISSHOP_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"YEMISSHOP_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"YEMISSHOP_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"YEMISSHOP_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	// SerializationRetries bounds how often a serializable transaction is
	// replayed after Postgres reports a serialization failure.
	SerializationRetries int `envconfig:"YEMISSHOP_DB_SERIALIZATION_RETRIES" default:"3"`

	// SlowQueryThreshold logs statements slower than this at warn. Zero
	// turns the slow query log off.
	SlowQueryThreshold time.Duration `envconfig:"YEMISSHOP_DB_SLOW_QUERY_THRESHOLD" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"YEMISSHOP_REDIS_URL"`
	Address      string        `envconfig:"YEMISSHOP_REDIS_ADDR"`
	Password     string        `envconfig:"YEMISSHOP_REDIS_PASSWORD"`
	DB           int           `envconfig:"YEMISSHOP_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"YEMISSHOP_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"YEMISSHOP_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"YEMISSHOP_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"YEMISSHOP_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"YEMISSHOP_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate  bool `envconfig:"YEMISSHOP_AUTO_MIGRATE" default:"false"`
	SplitEnabled bool `envconfig:"YEMISSHOP_FEATURE_SPLIT_ENABLED" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL  time.Duration `envconfig:"YEMISSHOP_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	ConsumerLease         time.Duration `envconfig:"YEMISSHOP_EVENTING_CONSUMER_LEASE" default:"5m"`
	WebhookIdempotencyTTL time.Duration `envconfig:"YEMISSHOP_WEBHOOK_IDEMPOTENCY_TTL" default:"72h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"YEMISSHOP_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"YEMISSHOP_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"YEMISSHOP_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	PaymentsTopic         string `envconfig:"YEMISSHOP_PUBSUB_PAYMENTS_TOPIC" default:"ys-payment-events"`
	PaymentsSubscription  string `envconfig:"YEMISSHOP_PUBSUB_PAYMENTS_SUBSCRIPTION" default:"ys-payment-events-finalizer"`
	NotificationTopic     string `envconfig:"YEMISSHOP_PUBSUB_NOTIFICATION_TOPIC" default:"ys-notification-events"`
	AnalyticsTopic        string `envconfig:"YEMISSHOP_PUBSUB_ANALYTICS_TOPIC" default:"ys-analytics-events"`
	AnalyticsSubscription string `envconfig:"YEMISSHOP_PUBSUB_ANALYTICS_SUBSCRIPTION" default:"ys-analytics-events-bq"`
}

type BigQueryConfig struct {
	Dataset            string `envconfig:"YEMISSHOP_BIGQUERY_DATASET" default:"yemisshop"`
	ProfitTable        string `envconfig:"YEMISSHOP_BIGQUERY_PROFIT_TABLE" default:"profit_breakdowns"`
	PaymentEventsTable string `envconfig:"YEMISSHOP_BIGQUERY_PAYMENT_EVENTS_TABLE" default:"payment_events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"YEMISSHOP_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"YEMISSHOP_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"YEMISSHOP_OUTBOX_MAX_ATTEMPTS" default:"10"`

	// MetricsAddr exposes the publisher's /metrics when set, e.g. ":9102".
	MetricsAddr string `envconfig:"YEMISSHOP_OUTBOX_METRICS_ADDR"`
}

// GatewayConfig points at the hosted-checkout payment gateway.
type GatewayConfig struct {
	BaseURL       string        `envconfig:"YEMISSHOP_GATEWAY_BASE_URL" default:"https://api.paystack.co"`
	SecretKey     string        `envconfig:"YEMISSHOP_GATEWAY_SECRET_KEY"`
	WebhookSecret string        `envconfig:"YEMISSHOP_GATEWAY_WEBHOOK_SECRET"`
	CallbackURL   string        `envconfig:"YEMISSHOP_GATEWAY_CALLBACK_URL"`
	Currency      string        `envconfig:"YEMISSHOP_GATEWAY_CURRENCY" default:"NGN"`
	Timeout       time.Duration `envconfig:"YEMISSHOP_GATEWAY_TIMEOUT" default:"10s"`
	Sandbox       bool          `envconfig:"YEMISSHOP_GATEWAY_SANDBOX" default:"true"`

	// BreakerFailures is the consecutive failure count that opens the breaker.
	BreakerFailures uint32        `envconfig:"YEMISSHOP_GATEWAY_BREAKER_FAILURES" default:"5"`
	BreakerTimeout  time.Duration `envconfig:"YEMISSHOP_GATEWAY_BREAKER_TIMEOUT" default:"30s"`
}

// SigningSecret returns the secret used to authenticate push events. The
// gateway signs with the API secret unless a dedicated one is configured.
func (g GatewayConfig) SigningSecret() string {
	if s := strings.TrimSpace(g.WebhookSecret); s != "" {
		return s
	}
	return strings.TrimSpace(g.SecretKey)
}

type PaymentsConfig struct {
	IntentTTL         time.Duration `envconfig:"YEMISSHOP_PAYMENT_INTENT_TTL" default:"30m"`
	ReferenceAttempts int           `envconfig:"YEMISSHOP_REFERENCE_ATTEMPTS" default:"5"`
}

// FeesConfig carries the defaults for operator-tunable settings. Values in
// the settings table override these at runtime.
type FeesConfig struct {
	GatewayPercent              string `envconfig:"YEMISSHOP_FEE_GATEWAY_PERCENT" default:"0.015"`
	GatewayInternationalPercent string `envconfig:"YEMISSHOP_FEE_GATEWAY_INTL_PERCENT" default:"0.039"`
	GatewayFlatMinor            int64  `envconfig:"YEMISSHOP_FEE_GATEWAY_FLAT_MINOR" default:"10000"`
	GatewayFlatWaiverMinor      int64  `envconfig:"YEMISSHOP_FEE_GATEWAY_FLAT_WAIVER_MINOR" default:"250000"`
	GatewayCapMinor             int64  `envconfig:"YEMISSHOP_FEE_GATEWAY_CAP_MINOR" default:"200000"`
	BaseFeeMinor                int64  `envconfig:"YEMISSHOP_FEE_BASE_MINOR" default:"0"`
	CommsCostPerMessageMinor    int64  `envconfig:"YEMISSHOP_FEE_COMMS_PER_MESSAGE_MINOR" default:"0"`
	ProfitMode                  string `envconfig:"YEMISSHOP_PROFIT_MODE" default:"accurate"`
}

type CronConfig struct {
	Interval            time.Duration `envconfig:"YEMISSHOP_CRON_INTERVAL" default:"5m"`
	JobTimeout          time.Duration `envconfig:"YEMISSHOP_CRON_JOB_TIMEOUT" default:"3m"`
	LockTTL             time.Duration `envconfig:"YEMISSHOP_CRON_LOCK_TTL" default:"10m"`
	SweepLookback       time.Duration `envconfig:"YEMISSHOP_CRON_SWEEP_LOOKBACK" default:"72h"`
	SweepBatchSize      int           `envconfig:"YEMISSHOP_CRON_SWEEP_BATCH_SIZE" default:"100"`
	IntentTTLBatchSize  int           `envconfig:"YEMISSHOP_CRON_INTENT_TTL_BATCH_SIZE" default:"500"`
	OutboxRetentionDays int           `envconfig:"YEMISSHOP_CRON_OUTBOX_RETENTION_DAYS" default:"30"`
}

type AdminConfig struct {
	APIKey string `envconfig:"YEMISSHOP_ADMIN_API_KEY"`
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
