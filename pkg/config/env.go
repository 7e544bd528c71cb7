package config

const (
	EnvPrefix = "YEMISSHOP"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "YEMISSHOP_DB_DSN"
	EnvDBHost = "YEMISSHOP_DB_HOST"
	EnvDBUser = "YEMISSHOP_DB_USER"
	EnvDBName = "YEMISSHOP_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
