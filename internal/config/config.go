package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Datasets      DatasetsConfig
	Query         QueryConfig
	Engine        EngineConfig
	History       HistoryConfig
	ObjectStore   ObjectStoreConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	CORSAllowOrigin string
}

type DatasetsConfig struct {
	Root             string
	CacheSize        int
	InMemoryMaxBytes int64
}

type QueryConfig struct {
	DefaultLimit int
	MaxLimit     int
}

type EngineConfig struct {
	PoolSize int
	Threads  int
}

// HistoryConfig enables the Postgres query-history sink when DSN is set.
// Without a DSN, history is kept in memory.
type HistoryConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
	MemoryEntries   int
}

type ObjectStoreConfig struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("DATASETVIZ_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid DATASETVIZ_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	if err := applyString(lookup, "DATASETVIZ_SERVICE_NAME", &cfg.Service.Name); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DATASETVIZ_HTTP_ADDR", &cfg.HTTP.Address); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "DATASETVIZ_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "DATASETVIZ_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "DATASETVIZ_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DATASETVIZ_CORS_ALLOW_ORIGIN", &cfg.HTTP.CORSAllowOrigin); err != nil {
		return Config{}, err
	}
	// DATASETS_DIR is the historical name; the prefixed key wins when both are set.
	if err := applyString(lookup, "DATASETS_DIR", &cfg.Datasets.Root); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DATASETVIZ_DATASETS_DIR", &cfg.Datasets.Root); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "DATASETVIZ_DATASET_CACHE_SIZE", &cfg.Datasets.CacheSize); err != nil {
		return Config{}, err
	}
	if err := applyInt64(lookup, "DATASETVIZ_IN_MEMORY_MAX_BYTES", &cfg.Datasets.InMemoryMaxBytes); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "QUERY_DEFAULT_LIMIT", &cfg.Query.DefaultLimit); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "QUERY_MAX_LIMIT", &cfg.Query.MaxLimit); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "DUCKDB_POOL_SIZE", &cfg.Engine.PoolSize); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "DATASETVIZ_DUCKDB_THREADS", &cfg.Engine.Threads); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DATASETVIZ_HISTORY_DSN", &cfg.History.DSN); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "DATASETVIZ_HISTORY_MAX_OPEN_CONNS", &cfg.History.MaxOpenConns); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "DATASETVIZ_HISTORY_MAX_IDLE_CONNS", &cfg.History.MaxIdleConns); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "DATASETVIZ_HISTORY_CONN_MAX_IDLE_TIME", &cfg.History.ConnMaxIdleTime); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "DATASETVIZ_HISTORY_CONN_MAX_LIFETIME", &cfg.History.ConnMaxLifetime); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "DATASETVIZ_HISTORY_AUTO_MIGRATE", &cfg.History.AutoMigrate); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "DATASETVIZ_HISTORY_MEMORY_ENTRIES", &cfg.History.MemoryEntries); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DATASETVIZ_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DATASETVIZ_OBJECTSTORE_REGION", &cfg.ObjectStore.Region); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DATASETVIZ_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DATASETVIZ_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DATASETVIZ_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "DATASETVIZ_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DATASETVIZ_OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "DATASETVIZ_OBJECTSTORE_AUTO_CREATE_BUCKET", &cfg.ObjectStore.AutoCreateBucket); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "DATASETVIZ_LOG_JSON", &cfg.Observability.LogJSON); err != nil {
		return Config{}, err
	}
	if err := applyLogLevel(lookup, "DATASETVIZ_LOG_LEVEL", &cfg.Observability.LogLevel); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Service.Name == "" {
		return fmt.Errorf("service name is required")
	}
	if c.HTTP.Address == "" {
		return fmt.Errorf("http address is required")
	}
	if c.Datasets.Root == "" {
		return fmt.Errorf("datasets root is required")
	}
	if c.Datasets.CacheSize < 1 {
		return fmt.Errorf("dataset cache size must be >= 1, got %d", c.Datasets.CacheSize)
	}
	if c.Datasets.InMemoryMaxBytes < 0 {
		return fmt.Errorf("in-memory max bytes must be >= 0, got %d", c.Datasets.InMemoryMaxBytes)
	}
	if c.Query.DefaultLimit < 1 {
		return fmt.Errorf("QUERY_DEFAULT_LIMIT must be >= 1, got %d", c.Query.DefaultLimit)
	}
	if c.Query.MaxLimit < 1 {
		return fmt.Errorf("QUERY_MAX_LIMIT must be >= 1, got %d", c.Query.MaxLimit)
	}
	if c.Query.DefaultLimit > c.Query.MaxLimit {
		return fmt.Errorf("QUERY_DEFAULT_LIMIT (%d) exceeds QUERY_MAX_LIMIT (%d)", c.Query.DefaultLimit, c.Query.MaxLimit)
	}
	if c.Engine.PoolSize < 1 {
		return fmt.Errorf("DUCKDB_POOL_SIZE must be >= 1, got %d", c.Engine.PoolSize)
	}
	if c.Engine.Threads < 0 {
		return fmt.Errorf("duckdb threads must be >= 0, got %d", c.Engine.Threads)
	}
	if c.History.MemoryEntries < 0 {
		return fmt.Errorf("history memory entries must be >= 0, got %d", c.History.MemoryEntries)
	}
	return nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "datasetviz-api"},
		HTTP: HTTPConfig{
			Address:         ":8080",
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     60 * time.Second,
			CORSAllowOrigin: "*",
		},
		Datasets: DatasetsConfig{
			Root:      "./datasets",
			CacheSize: 8,
		},
		Query: QueryConfig{
			DefaultLimit: 1000,
			MaxLimit:     5000,
		},
		Engine: EngineConfig{
			PoolSize: 4,
		},
		History: HistoryConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    10,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
			AutoMigrate:     true,
			MemoryEntries:   500,
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "datasets",
			AccessKeyID:      "minio",
			SecretAccessKey:  "miniostorage",
			AutoCreateBucket: true,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Observability.LogLevel = slog.LevelWarn
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.ObjectStore.UseSSL = true
		cfg.History.AutoMigrate = false
		cfg.ObjectStore.AutoCreateBucket = false
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt64(lookup LookupFunc, key string, dst *int64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
