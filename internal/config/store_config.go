package config

type StoreType string

const (
	MemoryStore StoreType = "memory"
	RedisStore  StoreType = "redis"
	FileStore   StoreType = "file"
)

type StoreConfig interface {
	GetStoreType() StoreType
	GetRedisAddr() string
	GetRedisKeyPrefix() string
	GetCredentialFile() string
	GetCredentialPassphrase() string
}

type Store struct{}

var _ StoreConfig = Store{}

func (Store) GetStoreType() StoreType {
	return StoreType(GetEnv("CREDENTIAL_STORE", string(MemoryStore)))
}

func (Store) GetRedisAddr() string {
	return GetEnv("REDIS_ADDR", "localhost:6379")
}

func (Store) GetRedisKeyPrefix() string {
	return GetEnv("REDIS_KEY_PREFIX", "authclient:")
}

func (Store) GetCredentialFile() string {
	return GetEnv("CREDENTIAL_FILE", "./data/credentials.enc")
}

func (Store) GetCredentialPassphrase() string {
	return GetEnv("CREDENTIAL_PASSPHRASE", "")
}
