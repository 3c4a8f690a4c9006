package config

type Config interface {
	EnvConfig
	OAuthConfig
	StoreConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
	GetAPIBaseURL() string
	GetMetricsAddr() string
}

type mainConfig struct {
	EnvVars
	OAuth
	Store
}

func New() Config {
	return mainConfig{}
}
