package config

// EnvPrefix is the envconfig prefix. Field tags carry fully-qualified names, so the
// prefix only matters for fields without an explicit envconfig tag.
const EnvPrefix = "PALETTE"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "PALETTE_APP_ENV"
	EnvPort     = "PALETTE_APP_PORT"
	EnvLogLevel = "PALETTE_LOG_LEVEL"

	EnvDBDSN  = "PALETTE_DB_DSN"
	EnvDBHost = "PALETTE_DB_HOST"
	EnvDBUser = "PALETTE_DB_USER"
	EnvDBName = "PALETTE_DB_NAME"

	EnvRedisURL = "PALETTE_REDIS_URL"

	EnvJWTSecret = "PALETTE_JWT_SECRET"
	EnvJWTIssuer = "PALETTE_JWT_ISSUER"

	EnvReplicateAPIToken   = "PALETTE_REPLICATE_API_TOKEN"
	EnvReplicateWebhookURL = "PALETTE_REPLICATE_WEBHOOK_BASE_URL"

	EnvStorageBucket        = "PALETTE_STORAGE_BUCKET"
	EnvStoragePublicBaseURL = "PALETTE_STORAGE_PUBLIC_BASE_URL"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
