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
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Replicate    ReplicateConfig
	Webhook      WebhookConfig
	Storage      StorageConfig
	Credits      CreditsConfig
	Gallery      GalleryConfig
	RateLimit    RateLimitConfig
	Cron         CronConfig
	Tracing      TracingConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Webhook.TimestampTolerance <= 0 {
		return fmt.Errorf("webhook timestamp tolerance must be positive")
	}
	if c.Credits.AdminGrantMaxRequests <= 0 || c.Credits.AdminGrantWindow <= 0 {
		return fmt.Errorf("admin grant rate limit must be positive")
	}
	if c.Gallery.PollCacheSize <= 0 {
		return fmt.Errorf("poll cache size must be positive")
	}
	return nil
}

type AppConfig struct {
	Env          string   `envconfig:"PALETTE_APP_ENV" required:"true"`
	Port         string   `envconfig:"PALETTE_APP_PORT" required:"true"`
	LogLevel     string   `envconfig:"PALETTE_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"PALETTE_LOG_WARN_STACK" default:"false"`
	Version      string   `envconfig:"PALETTE_APP_VERSION" default:"dev"`
	CORSOrigins  []string `envconfig:"PALETTE_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"PALETTE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"PALETTE_DB_DSN"`
	Driver string `envconfig:"PALETTE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"PALETTE_DB_HOST"`
	LegacyPort     int    `envconfig:"PALETTE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"PALETTE_DB_USER"`
	LegacyPassword string `envconfig:"PALETTE_DB_PASSWORD"`
	LegacyName     string `envconfig:"PALETTE_DB_NAME"`
	LegacySSLMode  string `envconfig:"PALETTE_DB_SSLMODE" default:"require"`

	MaxOpenConns    int           `envconfig:"PALETTE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PALETTE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PALETTE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PALETTE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"PALETTE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"PALETTE_REDIS_ADDR"`
	Password     string        `envconfig:"PALETTE_REDIS_PASSWORD"`
	DB           int           `envconfig:"PALETTE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PALETTE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PALETTE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PALETTE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PALETTE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PALETTE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig configures verification of access tokens minted by the identity provider.
type JWTConfig struct {
	Secret   string `envconfig:"PALETTE_JWT_SECRET" required:"true"`
	Issuer   string `envconfig:"PALETTE_JWT_ISSUER"`
	Audience string `envconfig:"PALETTE_JWT_AUDIENCE" default:"authenticated"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"PALETTE_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"PALETTE_AUTO_MIGRATE" default:"false"`
}

type ReplicateConfig struct {
	APIToken       string        `envconfig:"PALETTE_REPLICATE_API_TOKEN" required:"true"`
	BaseURL        string        `envconfig:"PALETTE_REPLICATE_BASE_URL" default:"https://api.replicate.com/v1"`
	WebhookBaseURL string        `envconfig:"PALETTE_REPLICATE_WEBHOOK_BASE_URL"`
	RequestTimeout time.Duration `envconfig:"PALETTE_REPLICATE_REQUEST_TIMEOUT" default:"15s"`
}

// WebhookURL returns the absolute callback URL, or empty when webhooks are disabled
// (local development falls back to the poll path).
func (r ReplicateConfig) WebhookURL() string {
	base := strings.TrimRight(strings.TrimSpace(r.WebhookBaseURL), "/")
	if base == "" {
		return ""
	}
	return base + "/api/v1/webhooks/replicate"
}

type WebhookConfig struct {
	TimestampTolerance time.Duration `envconfig:"PALETTE_WEBHOOK_TIMESTAMP_TOLERANCE" default:"5m"`
	SecretCacheTTL     time.Duration `envconfig:"PALETTE_WEBHOOK_SECRET_CACHE_TTL" default:"1h"`
	SecretRefetchMin   time.Duration `envconfig:"PALETTE_WEBHOOK_SECRET_REFETCH_INTERVAL" default:"1m"`
	SigningSecret      string        `envconfig:"PALETTE_WEBHOOK_SIGNING_SECRET"`
	IdempotencyTTL     time.Duration `envconfig:"PALETTE_WEBHOOK_IDEMPOTENCY_TTL" default:"24h"`
	ProcessingTimeout  time.Duration `envconfig:"PALETTE_WEBHOOK_PROCESSING_TIMEOUT" default:"25s"`
}

type StorageConfig struct {
	Bucket          string        `envconfig:"PALETTE_STORAGE_BUCKET" required:"true"`
	Region          string        `envconfig:"PALETTE_STORAGE_REGION" default:"us-east-1"`
	Endpoint        string        `envconfig:"PALETTE_STORAGE_ENDPOINT"`
	AccessKeyID     string        `envconfig:"PALETTE_STORAGE_ACCESS_KEY_ID"`
	SecretAccessKey string        `envconfig:"PALETTE_STORAGE_SECRET_ACCESS_KEY"`
	UsePathStyle    bool          `envconfig:"PALETTE_STORAGE_USE_PATH_STYLE" default:"true"`
	PublicBaseURL   string        `envconfig:"PALETTE_STORAGE_PUBLIC_BASE_URL" required:"true"`
	KeyPrefix       string        `envconfig:"PALETTE_STORAGE_KEY_PREFIX" default:"generations"`
	MaxAssetMB      int           `envconfig:"PALETTE_STORAGE_MAX_ASSET_MB" default:"200"`
	DownloadTimeout time.Duration `envconfig:"PALETTE_STORAGE_DOWNLOAD_TIMEOUT" default:"20s"`
}

// MaxAssetBytes converts the configured megabyte cap to bytes.
func (s StorageConfig) MaxAssetBytes() int64 {
	if s.MaxAssetMB <= 0 {
		return 0
	}
	return int64(s.MaxAssetMB) << 20
}

type CreditsConfig struct {
	RefundOnProviderFailure bool          `envconfig:"PALETTE_CREDITS_REFUND_ON_FAILURE" default:"false"`
	AdminGrantMaxRequests   int           `envconfig:"PALETTE_CREDITS_ADMIN_GRANT_MAX_REQUESTS" default:"5"`
	AdminGrantWindow        time.Duration `envconfig:"PALETTE_CREDITS_ADMIN_GRANT_WINDOW" default:"60s"`
	CouponMaxRequests       int           `envconfig:"PALETTE_CREDITS_COUPON_MAX_REQUESTS" default:"5"`
	CouponWindow            time.Duration `envconfig:"PALETTE_CREDITS_COUPON_WINDOW" default:"60s"`
}

type GalleryConfig struct {
	VideoRetention  time.Duration `envconfig:"PALETTE_GALLERY_VIDEO_RETENTION" default:"168h"`
	ImageCapPerUser int           `envconfig:"PALETTE_GALLERY_IMAGE_CAP_PER_USER" default:"500"`
	PollCacheSize   int           `envconfig:"PALETTE_GALLERY_POLL_CACHE_SIZE" default:"500"`
	SweepBatchSize  int           `envconfig:"PALETTE_GALLERY_SWEEP_BATCH_SIZE" default:"200"`
}

type RateLimitConfig struct {
	SweepInterval  time.Duration `envconfig:"PALETTE_RATE_LIMIT_SWEEP_INTERVAL" default:"5m"`
	PollPerSecond  float64       `envconfig:"PALETTE_RATE_LIMIT_POLL_PER_SECOND" default:"2"`
	PollBurst      int           `envconfig:"PALETTE_RATE_LIMIT_POLL_BURST" default:"10"`
	PollVisitorTTL time.Duration `envconfig:"PALETTE_RATE_LIMIT_POLL_VISITOR_TTL" default:"10m"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"PALETTE_CRON_INTERVAL" default:"1h"`
	LockTTL  time.Duration `envconfig:"PALETTE_CRON_LOCK_TTL" default:"55m"`
}

type TracingConfig struct {
	Enabled     bool    `envconfig:"PALETTE_TRACING_ENABLED" default:"false"`
	Endpoint    string  `envconfig:"PALETTE_TRACING_ENDPOINT" default:"localhost:4317"`
	Insecure    bool    `envconfig:"PALETTE_TRACING_INSECURE" default:"true"`
	SampleRatio float64 `envconfig:"PALETTE_TRACING_SAMPLE_RATIO" default:"0.1"`
}

func (db *DBConfig) ensureDSN(sqlite bool) error {
	if db.DSN != "" {
		return nil
	}
	if sqlite {
		db.DSN = "file:palette.db?cache=shared"
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
