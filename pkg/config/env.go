package config

const (
	EnvPrefix = "PFMETRICS"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	BuildSourcePostgres = "postgres"
	BuildSourceBigQuery = "bigquery"

	EnvAppEnv          = "PFMETRICS_APP_ENV"
	EnvPort            = "PFMETRICS_APP_PORT"
	EnvDBDSN           = "PFMETRICS_DB_DSN"
	EnvDBHost          = "PFMETRICS_DB_HOST"
	EnvDBUser          = "PFMETRICS_DB_USER"
	EnvDBName          = "PFMETRICS_DB_NAME"
	EnvRedisURL        = "PFMETRICS_REDIS_URL"
	EnvGCPProjectID    = "PFMETRICS_GCP_PROJECT_ID"
	EnvBuildSource     = "PFMETRICS_BUILD_SOURCE"
	EnvBuildLockTTL    = "PFMETRICS_BUILD_LOCK_TTL"
	EnvBuildTimeout    = "PFMETRICS_BUILD_TIMEOUT"
	EnvBuildsTopic     = "PFMETRICS_PUBSUB_BUILDS_TOPIC"
	EnvExportMarts     = "PFMETRICS_EXPORT_MARTS"
	EnvNotifyOnPublish = "PFMETRICS_NOTIFY_ON_PUBLISH"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
