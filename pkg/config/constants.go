package config

const (
	// EnvPrefix scopes every environment variable consumed by the service.
	EnvPrefix = "homerun"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "HOMERUN_DB_DSN"
	EnvDBHost = "HOMERUN_DB_HOST"
	EnvDBUser = "HOMERUN_DB_USER"
	EnvDBName = "HOMERUN_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
