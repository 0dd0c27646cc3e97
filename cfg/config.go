package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// DatabaseDriver selects the SQL backend
type DatabaseDriver string

const (
	DriverMySQL  DatabaseDriver = "mysql"   // WordPress MySQL/MariaDB
	DriverSQLite DatabaseDriver = "sqlite3" // Single-file SQLite (tests, local copies)
)

// CacheBackend selects the Cache Manager backend
type CacheBackend string

const (
	CacheMemory    CacheBackend = "memory"    // In-process LRU (object cache)
	CacheRedis     CacheBackend = "redis"     // Redis
	CacheMemcached CacheBackend = "memcached" // Memcached
	CacheNone      CacheBackend = "none"      // Disabled
)

// DatabaseConfiguration controls the WordPress database connection
type DatabaseConfiguration struct {
	Driver             DatabaseDriver `toml:"driver"`
	DSN                string         `toml:"dsn"`
	TablePrefix        string         `toml:"table_prefix"`
	MaxOpenConns       int            `toml:"max_open_conns"`
	MaxIdleConns       int            `toml:"max_idle_conns"`
	MaxLifetimeSeconds int            `toml:"max_lifetime_seconds"` // Max lifetime of a connection
}

// HTTPConfiguration for the admin-ajax endpoint server
type HTTPConfiguration struct {
	BindAddress         string `toml:"bind_address"`
	Port                int    `toml:"port"`
	ReadTimeoutSeconds  int    `toml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `toml:"write_timeout_seconds"`
}

// UserConfiguration maps a bearer token to a WordPress user and its capabilities
type UserConfiguration struct {
	ID           uint64   `toml:"id"`
	Name         string   `toml:"name"`
	Token        string   `toml:"token"`
	Capabilities []string `toml:"capabilities"`
}

// AuthConfiguration controls authentication, nonces and capabilities
type AuthConfiguration struct {
	Enabled              bool                `toml:"enabled"`
	NonceSecret          string              `toml:"nonce_secret"`
	NonceLifetimeSeconds int                 `toml:"nonce_lifetime_seconds"` // Nonce is valid for up to this long
	Users                []UserConfiguration `toml:"users"`
}

// RedisConfiguration for the redis cache backend
type RedisConfiguration struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	PoolSize int    `toml:"pool_size"`
}

// MemcachedConfiguration for the memcached cache backend
type MemcachedConfiguration struct {
	Servers   []string `toml:"servers"`
	TimeoutMS int      `toml:"timeout_ms"`
}

// CacheConfiguration controls the Cache Manager
type CacheConfiguration struct {
	Backend    CacheBackend           `toml:"backend"`
	Prefix     string                 `toml:"prefix"`
	MemorySize int                    `toml:"memory_size"` // Max entries for the memory backend
	Redis      RedisConfiguration     `toml:"redis"`
	Memcached  MemcachedConfiguration `toml:"memcached"`
}

// SearchConfiguration controls the Search Engine
type SearchConfiguration struct {
	PublicPostTypes   []string `toml:"public_post_types"`   // Empty = every non-internal type found in posts
	ExcludedPostTypes []string `toml:"excluded_post_types"` // Never searched or listed
	MetaKeysLimit     int      `toml:"meta_keys_limit"`
	DefaultPerPage    int      `toml:"default_per_page"`
}

// ReplaceConfiguration controls the Replace Engine
type ReplaceConfiguration struct {
	RegexTimeoutMS int `toml:"regex_timeout_ms"` // Deadline for a single regex evaluation
	DefaultLimit   int `toml:"default_limit"`
	HardMaxRows    int `toml:"hard_max_rows"` // Upper bound regardless of settings
}

// MaintenanceConfiguration controls scheduled cleanup
type MaintenanceConfiguration struct {
	Enabled          bool   `toml:"enabled"`
	CleanupSchedule  string `toml:"cleanup_schedule"` // cron spec
	LogRetentionDays int    `toml:"log_retention_days"`
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose   bool   `toml:"verbose"`
	Format    string `toml:"format"`     // "console" or "json"
	AuditFile string `toml:"audit_file"` // Optional file mirror of the operation log
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
}

// SinkConfiguration configures one change-event sink
type SinkConfiguration struct {
	Name            string   `toml:"name"`
	Type            string   `toml:"type"` // "kafka", "nats" or "log"
	TopicPrefix     string   `toml:"topic_prefix"`
	Brokers         []string `toml:"brokers"`
	NatsURL         string   `toml:"nats_url"`
	BatchSize       int      `toml:"batch_size"`
	Format          string   `toml:"format"` // payload format, "debezium" (default) or "json"
	FilterMetaKeys  []string `toml:"filter_meta_keys"`
	FilterPostTypes []string `toml:"filter_post_types"`
	PollIntervalMS  int      `toml:"poll_interval_ms"`
	RetryInitialMS  int      `toml:"retry_initial_ms"`
	RetryMaxMS      int      `toml:"retry_max_ms"`
	RetryMultiplier float64  `toml:"retry_multiplier"`
}

// Configuration is the main configuration structure
type Configuration struct {
	InstanceID uint64 `toml:"instance_id"` // Mixed into revision ids; 0 = derive from machine id
	DataDir    string `toml:"data_dir"`

	Database    DatabaseConfiguration    `toml:"database"`
	HTTP        HTTPConfiguration        `toml:"http"`
	Auth        AuthConfiguration        `toml:"auth"`
	Cache       CacheConfiguration       `toml:"cache"`
	Search      SearchConfiguration      `toml:"search"`
	Replace     ReplaceConfiguration     `toml:"replace"`
	Maintenance MaintenanceConfiguration `toml:"maintenance"`
	Logging     LoggingConfiguration     `toml:"logging"`
	Prometheus  PrometheusConfiguration  `toml:"prometheus"`
	Sinks       []SinkConfiguration      `toml:"sinks"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	DataDirFlag    = flag.String("data-dir", "", "Data directory (overrides config)")
	DSNFlag        = flag.String("dsn", "", "Database DSN (overrides config)")
	PortFlag       = flag.Int("port", 0, "HTTP port (overrides config)")
	InstanceIDFlag = flag.Uint64("instance-id", 0, "Instance ID (overrides config, 0=auto)")
)

// DefaultExcludedPostTypes are WordPress/ACF internal post types
var DefaultExcludedPostTypes = []string{
	"revision",
	"nav_menu_item",
	"custom_css",
	"customize_changeset",
	"oembed_cache",
	"user_request",
	"wp_block",
	"wp_template",
	"wp_template_part",
	"wp_global_styles",
	"wp_navigation",
	"acf-field",
	"acf-field-group",
	"acf-post-type",
	"acf-taxonomy",
}

// Default configuration
var Config = &Configuration{
	DataDir: "./wpmeta-data",

	Database: DatabaseConfiguration{
		Driver:             DriverMySQL,
		DSN:                "root:@tcp(127.0.0.1:3306)/wordpress?parseTime=true&loc=UTC",
		TablePrefix:        "wp_",
		MaxOpenConns:       8,
		MaxIdleConns:       4,
		MaxLifetimeSeconds: 300, // Max 5 minute connection lifetime
	},

	HTTP: HTTPConfiguration{
		BindAddress:         "127.0.0.1",
		Port:                8088,
		ReadTimeoutSeconds:  30,
		WriteTimeoutSeconds: 120, // Bulk replace of 5000 rows can take a while
	},

	Auth: AuthConfiguration{
		Enabled:              true,
		NonceLifetimeSeconds: 86400, // WordPress default
		Users:                []UserConfiguration{},
	},

	Cache: CacheConfiguration{
		Backend:    CacheMemory,
		Prefix:     "wpmeta",
		MemorySize: 4096,
		Redis: RedisConfiguration{
			Addr:     "127.0.0.1:6379",
			PoolSize: 10,
		},
		Memcached: MemcachedConfiguration{
			Servers:   []string{"127.0.0.1:11211"},
			TimeoutMS: 500,
		},
	},

	Search: SearchConfiguration{
		PublicPostTypes:   []string{},
		ExcludedPostTypes: DefaultExcludedPostTypes,
		MetaKeysLimit:     500,
		DefaultPerPage:    20,
	},

	Replace: ReplaceConfiguration{
		RegexTimeoutMS: 2000,
		DefaultLimit:   1000,
		HardMaxRows:    5000,
	},

	Maintenance: MaintenanceConfiguration{
		Enabled:          true,
		CleanupSchedule:  "@daily",
		LogRetentionDays: 30,
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled: false,
		Address: "127.0.0.1",
		Port:    9090,
	},
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	// Apply CLI overrides
	if *DataDirFlag != "" {
		Config.DataDir = *DataDirFlag
	}
	if *DSNFlag != "" {
		Config.Database.DSN = *DSNFlag
	}
	if *PortFlag != 0 {
		Config.HTTP.Port = *PortFlag
	}
	if *InstanceIDFlag != 0 {
		Config.InstanceID = *InstanceIDFlag
	}

	if Config.InstanceID == 0 {
		var err error
		Config.InstanceID, err = generateInstanceID()
		if err != nil {
			return fmt.Errorf("failed to generate instance ID: %w", err)
		}
		log.Debug().Uint64("instance_id", Config.InstanceID).Msg("Auto-generated instance ID")
	}

	if err := os.MkdirAll(Config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	return nil
}

// generateInstanceID derives a stable instance ID from the machine ID
func generateInstanceID() (uint64, error) {
	id, err := machineid.ProtectedID("wpmeta")
	if err != nil {
		return 0, err
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64(), nil
}

// Validate checks configuration for errors
func Validate() error {
	switch Config.Database.Driver {
	case DriverMySQL, DriverSQLite:
	default:
		return fmt.Errorf("unsupported database driver: %s", Config.Database.Driver)
	}

	if Config.Database.DSN == "" {
		return fmt.Errorf("database dsn is required")
	}

	if Config.Database.TablePrefix == "" || strings.ContainsAny(Config.Database.TablePrefix, " `'\".;") {
		return fmt.Errorf("invalid table prefix: %q", Config.Database.TablePrefix)
	}

	if Config.Database.MaxOpenConns < 1 {
		return fmt.Errorf("database max open connections must be >= 1")
	}

	if Config.Database.MaxLifetimeSeconds < 0 {
		return fmt.Errorf("database connection max lifetime must be >= 0")
	}

	if Config.HTTP.Port < 1 || Config.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", Config.HTTP.Port)
	}

	if Config.Auth.Enabled {
		if len(Config.Auth.NonceSecret) < 16 {
			return fmt.Errorf("auth nonce secret must be at least 16 characters")
		}
		if Config.Auth.NonceLifetimeSeconds < 60 {
			return fmt.Errorf("auth nonce lifetime must be >= 60 seconds")
		}
		seen := make(map[string]bool, len(Config.Auth.Users))
		for _, u := range Config.Auth.Users {
			if u.ID == 0 || u.Token == "" {
				return fmt.Errorf("auth user %q requires id and token", u.Name)
			}
			if seen[u.Token] {
				return fmt.Errorf("duplicate token for auth user %q", u.Name)
			}
			seen[u.Token] = true
		}
	}

	switch Config.Cache.Backend {
	case CacheMemory:
		if Config.Cache.MemorySize < 1 {
			return fmt.Errorf("cache memory size must be >= 1")
		}
	case CacheRedis:
		if Config.Cache.Redis.Addr == "" {
			return fmt.Errorf("redis cache requires addr")
		}
	case CacheMemcached:
		if len(Config.Cache.Memcached.Servers) == 0 {
			return fmt.Errorf("memcached cache requires at least one server")
		}
	case CacheNone:
	default:
		return fmt.Errorf("unsupported cache backend: %s", Config.Cache.Backend)
	}

	if Config.Search.MetaKeysLimit < 1 {
		return fmt.Errorf("search meta keys limit must be >= 1")
	}

	if Config.Search.DefaultPerPage < 1 {
		return fmt.Errorf("search default per page must be >= 1")
	}

	if Config.Replace.RegexTimeoutMS < 1 {
		return fmt.Errorf("replace regex timeout must be >= 1ms")
	}

	if Config.Replace.HardMaxRows < 1 {
		return fmt.Errorf("replace hard max rows must be >= 1")
	}

	if Config.Replace.DefaultLimit < 1 || Config.Replace.DefaultLimit > Config.Replace.HardMaxRows {
		return fmt.Errorf("replace default limit must be between 1 and %d", Config.Replace.HardMaxRows)
	}

	if Config.Maintenance.Enabled && Config.Maintenance.CleanupSchedule == "" {
		return fmt.Errorf("maintenance cleanup schedule is required when enabled")
	}

	if Config.Maintenance.LogRetentionDays < 1 {
		return fmt.Errorf("log retention days must be >= 1")
	}

	if Config.Prometheus.Enabled && (Config.Prometheus.Port < 1 || Config.Prometheus.Port > 65535) {
		return fmt.Errorf("invalid prometheus port: %d", Config.Prometheus.Port)
	}

	names := make(map[string]bool, len(Config.Sinks))
	for _, s := range Config.Sinks {
		if s.Name == "" {
			return fmt.Errorf("sink name is required")
		}
		if names[s.Name] {
			return fmt.Errorf("duplicate sink name: %s", s.Name)
		}
		names[s.Name] = true
	}

	return nil
}

// FindUserByToken returns the configured user owning token
func FindUserByToken(token string) (UserConfiguration, bool) {
	for _, u := range Config.Auth.Users {
		if u.Token == token {
			return u, true
		}
	}
	return UserConfiguration{}, false
}
