package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const envPrefix = "APPEXPLORER_"

// Store drivers accepted by APPEXPLORER_STORE_DRIVER.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Server    ServerConfig
	Workspace WorkspaceConfig
	Store     StoreConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	RPC       RPCConfig
	Reconcile ReconcileConfig
	Log       LogConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	CORSOrigins       []string
	StaticDir         string
	WSRatePerSecond   float64
	WSBurst           int
}

// WorkspaceConfig names the source tree cards are anchored in.
type WorkspaceConfig struct {
	Root  string
	Name  string
	Watch bool
}

// StoreConfig selects and tunes the card store backend.
type StoreConfig struct {
	Driver       string
	SQLitePath   string
	QueueSize    int
	WriteTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string //nolint:gosec // G117: DB connection config
	DBName   string
	SSLMode  string
	MaxConns int
}

// RedisConfig holds Redis connection settings. Mirror publishes bus events
// to Redis even when another store driver is active.
type RedisConfig struct {
	Addr     string
	Password string //nolint:gosec // G117: Redis connection config
	DB       int
	Mirror   bool
}

// AuthConfig enables bearer token checks on /ws and /api when Secret is set.
type AuthConfig struct {
	Secret string //nolint:gosec // G117: JWT signing secret config
}

// RPCConfig bounds board queries.
type RPCConfig struct {
	QueryTimeout time.Duration
	PollInterval time.Duration
}

// ReconcileConfig controls background reconciliation.
type ReconcileConfig struct {
	Schedule string
	Debounce time.Duration
}

// LogConfig selects the zerolog level and output format.
type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from environment variables. When
// APPEXPLORER_CONFIG names a YAML file, its entries fill in variables the
// environment leaves unset.
func Load() (*Config, error) {
	if path := os.Getenv(envPrefix + "CONFIG"); path != "" {
		if err := applyFile(path); err != nil {
			return nil, fmt.Errorf("config.Load: %w", err)
		}
	}

	readHeaderTimeout, err := getEnvDuration("APPEXPLORER_SERVER_READ_HEADER_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	shutdownTimeout, err := getEnvDuration("APPEXPLORER_SERVER_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	wsRate, err := getEnvFloat("APPEXPLORER_WS_RATE", 2)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	wsBurst, err := getEnvInt("APPEXPLORER_WS_BURST", 10)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	watch, err := getEnvBool("APPEXPLORER_WORKSPACE_WATCH", true)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	queueSize, err := getEnvInt("APPEXPLORER_STORE_QUEUE_SIZE", 256)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	storeWriteTimeout, err := getEnvDuration("APPEXPLORER_STORE_WRITE_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	dbPort, err := getEnvInt("APPEXPLORER_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	dbMaxConns, err := getEnvInt("APPEXPLORER_DB_MAX_CONNS", 4)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	redisDB, err := getEnvInt("APPEXPLORER_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	redisMirror, err := getEnvBool("APPEXPLORER_REDIS_MIRROR", false)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	queryTimeout, err := getEnvDuration("APPEXPLORER_QUERY_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	pollInterval, err := getEnvDuration("APPEXPLORER_POLL_INTERVAL", 500*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	debounce, err := getEnvDuration("APPEXPLORER_RECONCILE_DEBOUNCE", 300*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Addr:              getEnv("APPEXPLORER_SERVER_ADDR", "localhost:50505"),
			ReadHeaderTimeout: readHeaderTimeout,
			ShutdownTimeout:   shutdownTimeout,
			CORSOrigins:       getEnvList("APPEXPLORER_CORS_ORIGINS", []string{"https://miro.com"}),
			StaticDir:         getEnv("APPEXPLORER_STATIC_DIR", ""),
			WSRatePerSecond:   wsRate,
			WSBurst:           wsBurst,
		},
		Workspace: WorkspaceConfig{
			Root:  getEnv("APPEXPLORER_WORKSPACE_ROOT", "."),
			Name:  getEnv("APPEXPLORER_WORKSPACE", "default"),
			Watch: watch,
		},
		Store: StoreConfig{
			Driver:       getEnv("APPEXPLORER_STORE_DRIVER", DriverSQLite),
			SQLitePath:   getEnv("APPEXPLORER_SQLITE_PATH", ".appexplorer/cards.db"),
			QueueSize:    queueSize,
			WriteTimeout: storeWriteTimeout,
		},
		Database: DatabaseConfig{
			Host:     getEnv("APPEXPLORER_DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("APPEXPLORER_DB_USER", "appexplorer"),
			Password: getEnv("APPEXPLORER_DB_PASSWORD", ""),
			DBName:   getEnv("APPEXPLORER_DB_NAME", "appexplorer"),
			SSLMode:  getEnv("APPEXPLORER_DB_SSLMODE", "disable"),
			MaxConns: dbMaxConns,
		},
		Redis: RedisConfig{
			Addr:     getEnv("APPEXPLORER_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("APPEXPLORER_REDIS_PASSWORD", ""),
			DB:       redisDB,
			Mirror:   redisMirror,
		},
		Auth: AuthConfig{
			Secret: getEnv("APPEXPLORER_AUTH_SECRET", ""),
		},
		RPC: RPCConfig{
			QueryTimeout: queryTimeout,
			PollInterval: pollInterval,
		},
		Reconcile: ReconcileConfig{
			Schedule: getEnvRaw("APPEXPLORER_RECONCILE_SCHEDULE", "@every 10m"),
			Debounce: debounce,
		},
		Log: LogConfig{
			Level:  getEnv("APPEXPLORER_LOG_LEVEL", "info"),
			Format: getEnv("APPEXPLORER_LOG_FORMAT", "text"),
		},
	}

	err = cfg.validate()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	drivers := []string{DriverMemory, DriverSQLite, DriverPostgres, DriverRedis}
	if !slices.Contains(drivers, c.Store.Driver) {
		return fmt.Errorf("APPEXPLORER_STORE_DRIVER must be one of %s, got %q", strings.Join(drivers, ", "), c.Store.Driver)
	}

	// An auth secret is optional, but a short one is worse than none.
	if c.Auth.Secret != "" && len(c.Auth.Secret) < 32 {
		return errors.New("APPEXPLORER_AUTH_SECRET must be at least 32 characters")
	}

	if c.Store.Driver == DriverPostgres {
		if c.Database.SSLMode == "disable" && !isLoopback(c.Database.Host) {
			log.Warn().Msg("APPEXPLORER_DB_SSLMODE=disable is insecure for remote databases; set to 'require' or 'verify-full'")
		}
		if c.Database.Port < 1 || c.Database.Port > 65535 {
			return fmt.Errorf("APPEXPLORER_DB_PORT must be 1-65535, got %d", c.Database.Port)
		}
		if c.Database.MaxConns < 1 {
			return fmt.Errorf("APPEXPLORER_DB_MAX_CONNS must be >= 1, got %d", c.Database.MaxConns)
		}
	}

	if c.Workspace.Name == "" {
		return errors.New("APPEXPLORER_WORKSPACE must not be empty")
	}
	if c.Store.QueueSize < 1 {
		return fmt.Errorf("APPEXPLORER_STORE_QUEUE_SIZE must be >= 1, got %d", c.Store.QueueSize)
	}
	if c.Store.WriteTimeout <= 0 {
		return fmt.Errorf("APPEXPLORER_STORE_WRITE_TIMEOUT must be positive, got %s", c.Store.WriteTimeout)
	}
	if c.Server.ReadHeaderTimeout <= 0 {
		return fmt.Errorf("APPEXPLORER_SERVER_READ_HEADER_TIMEOUT must be positive, got %s", c.Server.ReadHeaderTimeout)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("APPEXPLORER_SERVER_SHUTDOWN_TIMEOUT must be positive, got %s", c.Server.ShutdownTimeout)
	}
	if c.Server.WSRatePerSecond <= 0 || c.Server.WSBurst < 1 {
		return fmt.Errorf("APPEXPLORER_WS_RATE and APPEXPLORER_WS_BURST must be positive, got %g/%d", c.Server.WSRatePerSecond, c.Server.WSBurst)
	}
	if c.RPC.QueryTimeout < 0 {
		return fmt.Errorf("APPEXPLORER_QUERY_TIMEOUT must not be negative, got %s", c.RPC.QueryTimeout)
	}
	if c.RPC.PollInterval <= 0 {
		return fmt.Errorf("APPEXPLORER_POLL_INTERVAL must be positive, got %s", c.RPC.PollInterval)
	}
	if c.Reconcile.Debounce <= 0 {
		return fmt.Errorf("APPEXPLORER_RECONCILE_DEBOUNCE must be positive, got %s", c.Reconcile.Debounce)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("APPEXPLORER_LOG_FORMAT must be text or json, got %q", c.Log.Format)
	}

	return nil
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func isLoopback(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// applyFile copies entries of a YAML mapping into the environment for keys
// that are not already set. Keys may omit the APPEXPLORER_ prefix and are
// matched case-insensitively.
func applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var entries map[string]any
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	for k, v := range entries {
		key := strings.ToUpper(strings.TrimSpace(k))
		if !strings.HasPrefix(key, envPrefix) {
			key = envPrefix + key
		}
		if _, set := os.LookupEnv(key); set {
			continue
		}

		var val string
		switch tv := v.(type) {
		case nil:
			continue
		case []any:
			parts := make([]string, 0, len(tv))
			for _, p := range tv {
				parts = append(parts, fmt.Sprint(p))
			}
			val = strings.Join(parts, ",")
		case map[string]any:
			return fmt.Errorf("parsing %s: key %s: nested mappings are not supported", path, k)
		default:
			val = fmt.Sprint(tv)
		}
		if err := os.Setenv(key, val); err != nil {
			return fmt.Errorf("setting %s: %w", key, err)
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvRaw is getEnv except that an explicitly empty value is kept.
func getEnvRaw(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as float: %w", key, v, err)
	}
	return f, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parsing %s=%q as bool: %w", key, v, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
