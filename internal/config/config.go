package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dataphantom/adhocsql/internal/session"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

type WarehouseCatalog string

const (
	WarehouseCatalogNone     WarehouseCatalog = "none"
	WarehouseCatalogStatic   WarehouseCatalog = "static"
	WarehouseCatalogPostgres WarehouseCatalog = "postgres"
)

const envPrefix = "ADHOCSQL_"

var (
	nowFunc    = time.Now
	newRunID   = uuid.NewString
	dateLayout = "2006-01-02"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	Run           RunConfig
	Session       SessionConfig
	ObjectStore   ObjectStoreConfig
	Warehouse     WarehouseConfig
	Metrics       MetricsConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Name string
}

type RunConfig struct {
	PlaygroundID string
	QueryID      string
	UniqueID     string
	SQL          string
	SQLFile      string
	OutputBucket string
	PathPrefix   string
	CurrentDate  string
	PreviewRows  int
}

type SessionConfig struct {
	AppName         string
	EnableWarehouse bool
	EngineFlags     []session.Flag
	Runtime         string
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

type WarehouseConfig struct {
	Catalog         WarehouseCatalog
	Tables          string
	DSN             string
	TenantID        string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

type MetricsConfig struct {
	PushgatewayURL string
	Job            string
	PushTimeout    time.Duration
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
	if raw, ok := lookup(envPrefix + "PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid %sPROFILE: %q", envPrefix, profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	var engineFlags string
	appliers := []func() error{
		func() error { return applyString(lookup, "SERVICE_NAME", &cfg.Service.Name) },
		func() error { return applyString(lookup, "PLAYGROUND_ID", &cfg.Run.PlaygroundID) },
		func() error { return applyString(lookup, "QUERY_ID", &cfg.Run.QueryID) },
		func() error { return applyString(lookup, "UNIQUE_ID", &cfg.Run.UniqueID) },
		func() error { return applyRaw(lookup, "SQL", &cfg.Run.SQL) },
		func() error { return applyString(lookup, "SQL_FILE", &cfg.Run.SQLFile) },
		func() error { return applyString(lookup, "OUTPUT_BUCKET", &cfg.Run.OutputBucket) },
		func() error { return applyString(lookup, "PATH_PREFIX", &cfg.Run.PathPrefix) },
		func() error { return applyString(lookup, "CURRENT_DATE", &cfg.Run.CurrentDate) },
		func() error { return applyInt(lookup, "PREVIEW_ROWS", &cfg.Run.PreviewRows) },
		func() error { return applyString(lookup, "APP_NAME", &cfg.Session.AppName) },
		func() error { return applyBool(lookup, "WAREHOUSE_ENABLED", &cfg.Session.EnableWarehouse) },
		func() error { return applyRaw(lookup, "ENGINE_FLAGS", &engineFlags) },
		func() error { return applyString(lookup, "RUNTIME", &cfg.Session.Runtime) },
		func() error { return applyString(lookup, "OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint) },
		func() error { return applyString(lookup, "OBJECTSTORE_REGION", &cfg.ObjectStore.Region) },
		func() error { return applyString(lookup, "OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket) },
		func() error { return applyString(lookup, "OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID) },
		func() error { return applyString(lookup, "OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey) },
		func() error { return applyBool(lookup, "OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL) },
		func() error { return applyString(lookup, "OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix) },
		func() error {
			return applyBool(lookup, "OBJECTSTORE_AUTO_CREATE_BUCKET", &cfg.ObjectStore.AutoCreateBucket)
		},
		func() error { return applyCatalog(lookup, "WAREHOUSE_CATALOG", &cfg.Warehouse.Catalog) },
		func() error { return applyString(lookup, "WAREHOUSE_TABLES", &cfg.Warehouse.Tables) },
		func() error { return applyString(lookup, "WAREHOUSE_DSN", &cfg.Warehouse.DSN) },
		func() error { return applyString(lookup, "WAREHOUSE_TENANT_ID", &cfg.Warehouse.TenantID) },
		func() error { return applyInt(lookup, "WAREHOUSE_MAX_OPEN_CONNS", &cfg.Warehouse.MaxOpenConns) },
		func() error { return applyInt(lookup, "WAREHOUSE_MAX_IDLE_CONNS", &cfg.Warehouse.MaxIdleConns) },
		func() error {
			return applyDuration(lookup, "WAREHOUSE_CONN_MAX_IDLE_TIME", &cfg.Warehouse.ConnMaxIdleTime)
		},
		func() error {
			return applyDuration(lookup, "WAREHOUSE_CONN_MAX_LIFETIME", &cfg.Warehouse.ConnMaxLifetime)
		},
		func() error { return applyString(lookup, "METRICS_PUSHGATEWAY_URL", &cfg.Metrics.PushgatewayURL) },
		func() error { return applyString(lookup, "METRICS_JOB", &cfg.Metrics.Job) },
		func() error { return applyDuration(lookup, "METRICS_PUSH_TIMEOUT", &cfg.Metrics.PushTimeout) },
		func() error { return applyBool(lookup, "LOG_JSON", &cfg.Observability.LogJSON) },
		func() error { return applyLogLevel(lookup, "LOG_LEVEL", &cfg.Observability.LogLevel) },
	}
	for _, apply := range appliers {
		if err := apply(); err != nil {
			return Config{}, err
		}
	}

	if engineFlags != "" {
		flags, err := session.ParseFlags(engineFlags)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %sENGINE_FLAGS: %w", envPrefix, err)
		}
		cfg.Session.EngineFlags = flags
	}
	if cfg.Run.UniqueID == "" {
		cfg.Run.UniqueID = newRunID()
	}
	if cfg.Run.CurrentDate == "" {
		cfg.Run.CurrentDate = nowFunc().UTC().Format(dateLayout)
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
	if c.Run.PlaygroundID == "" {
		return fmt.Errorf("%sPLAYGROUND_ID is required", envPrefix)
	}
	if c.Run.QueryID == "" {
		return fmt.Errorf("%sQUERY_ID is required", envPrefix)
	}
	if c.Run.OutputBucket == "" {
		return fmt.Errorf("%sOUTPUT_BUCKET is required", envPrefix)
	}
	hasSQL := strings.TrimSpace(c.Run.SQL) != ""
	hasFile := c.Run.SQLFile != ""
	if hasSQL == hasFile {
		return fmt.Errorf("exactly one of %sSQL and %sSQL_FILE is required", envPrefix, envPrefix)
	}
	if _, err := time.Parse(dateLayout, c.Run.CurrentDate); err != nil {
		return fmt.Errorf("invalid %sCURRENT_DATE %q: want YYYY-MM-DD", envPrefix, c.Run.CurrentDate)
	}
	if c.Run.PreviewRows < 0 {
		return fmt.Errorf("%sPREVIEW_ROWS must be >= 0", envPrefix)
	}
	if c.Session.EnableWarehouse {
		switch c.Warehouse.Catalog {
		case WarehouseCatalogStatic:
			if c.Warehouse.Tables == "" {
				return fmt.Errorf("%sWAREHOUSE_TABLES is required for the static catalog", envPrefix)
			}
		case WarehouseCatalogPostgres:
			if c.Warehouse.DSN == "" || c.Warehouse.TenantID == "" {
				return fmt.Errorf("%sWAREHOUSE_DSN and %sWAREHOUSE_TENANT_ID are required for the postgres catalog", envPrefix, envPrefix)
			}
		}
	}
	return nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "adhocsql-run"},
		Run: RunConfig{
			PathPrefix:  "",
			PreviewRows: 5,
		},
		Session: SessionConfig{
			AppName:         session.DefaultAppName,
			EnableWarehouse: true,
			EngineFlags:     session.DefaultEngineFlags(),
			Runtime:         "duckdb",
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "warehouse",
			AccessKeyID:      "minio",
			SecretAccessKey:  "miniostorage",
			UseSSL:           false,
			Prefix:           "",
			AutoCreateBucket: true,
		},
		Warehouse: WarehouseConfig{
			Catalog:         WarehouseCatalogNone,
			MaxOpenConns:    4,
			MaxIdleConns:    4,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Metrics: MetricsConfig{
			Job:         "adhocsql_run",
			PushTimeout: 5 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
	}

	switch profile {
	case ProfileTest:
		cfg.Observability.LogLevel = slog.LevelWarn
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.ObjectStore.UseSSL = true
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

func applyRaw(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(envPrefix + key)
	if !ok {
		return nil
	}
	*dst = raw
	return nil
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(envPrefix + key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyCatalog(lookup LookupFunc, key string, dst *WarehouseCatalog) error {
	raw, ok := lookup(envPrefix + key)
	if !ok {
		return nil
	}
	value := WarehouseCatalog(strings.ToLower(strings.TrimSpace(raw)))
	switch value {
	case WarehouseCatalogNone, WarehouseCatalogStatic, WarehouseCatalogPostgres:
		*dst = value
		return nil
	default:
		return fmt.Errorf("invalid %s%s: %q", envPrefix, key, raw)
	}
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(envPrefix + key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s%s: %w", envPrefix, key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(envPrefix + key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s%s: %w", envPrefix, key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(envPrefix + key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s%s: %w", envPrefix, key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(envPrefix + key)
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
		return fmt.Errorf("invalid %s%s: %q", envPrefix, key, raw)
	}
	return nil
}
