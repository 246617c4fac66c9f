package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server  ServerConfig
	Logging LoggingConfig
	Storage StorageConfig
	Engine  EngineConfig
	Sync    SyncConfig
	Notify  NotifyConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port            string
	Environment     string
	ShutdownTimeout time.Duration
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string
	Format  string // json or console
	Service string
}

// StorageConfig selects and configures the durable key-value store
type StorageConfig struct {
	Backend          string // memory, sqlite, redis, postgres, blob
	KeyPrefix        string
	EncryptionSecret string

	SQLitePath string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	DatabaseURL     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	Blob BlobConfig
}

// BlobConfig holds Azure Blob Storage configuration
type BlobConfig struct {
	AccountName string
	AccountKey  string
	Container   string
}

// EngineConfig holds dose scheduling configuration
type EngineConfig struct {
	Timezone        string
	Lookahead       time.Duration
	MaxSnoozes      int
	ReminderOffsets []int // minutes before the scheduled time
	QuietHoursStart string
	QuietHoursEnd   string
	ConflictWindow  time.Duration
	OverdueInterval time.Duration
	MissedGrace     time.Duration // zero disables automatic missed marking
	AdherenceWindow time.Duration
	AdherenceWeeks  int
}

// SyncConfig holds offline sync configuration
type SyncConfig struct {
	Interval             time.Duration
	ConnectivityInterval time.Duration
	ProbeTimeout         time.Duration
	HealthURL            string
	RemoteBaseURL        string
	RemoteTimeout        time.Duration
	BatchSize            int
	PowerSavingBatchSize int
	LowBatteryThreshold  int
	QueueCapacity        int
	ResolvePolicy        string
	DeviceID             string
	BatteryPath          string
}

// NotifyConfig selects the notification transport
type NotifyConfig struct {
	Transport string // memory or mqtt
	MQTT      MQTTConfig
}

// MQTTConfig holds MQTT broker configuration
type MQTTConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

// Load reads configuration from environment variables and config files
func Load() (*Config, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	// Optional config file
	v.BindEnv("config", "MEDENGINE_CONFIG")
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Read from environment variables
	v.AutomaticEnv()

	// Bind specific environment variables
	bindEnvVars(v)

	// Unmarshal into config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.shutdowntimeout", 30*time.Second)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.service", "medication-engine")

	// Storage defaults
	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.keyprefix", "medengine:")
	v.SetDefault("storage.sqlitepath", "medengine.db")
	v.SetDefault("storage.redisaddr", "localhost:6379")
	v.SetDefault("storage.redisdb", 0)
	v.SetDefault("storage.maxopenconns", 10)
	v.SetDefault("storage.maxidleconns", 2)
	v.SetDefault("storage.connmaxlifetime", 5*time.Minute)
	v.SetDefault("storage.blob.container", "medengine-state")

	// Engine defaults
	v.SetDefault("engine.timezone", "Local")
	v.SetDefault("engine.lookahead", 30*24*time.Hour)
	v.SetDefault("engine.maxsnoozes", 3)
	v.SetDefault("engine.reminderoffsets", []int{15, 5, 0})
	v.SetDefault("engine.quiethoursstart", "")
	v.SetDefault("engine.quiethoursend", "")
	v.SetDefault("engine.conflictwindow", 15*time.Minute)
	v.SetDefault("engine.overdueinterval", 60*time.Second)
	v.SetDefault("engine.missedgrace", time.Duration(0))
	v.SetDefault("engine.adherencewindow", 30*24*time.Hour)
	v.SetDefault("engine.adherenceweeks", 4)

	// Sync defaults
	v.SetDefault("sync.interval", 15*time.Minute)
	v.SetDefault("sync.connectivityinterval", 30*time.Second)
	v.SetDefault("sync.probetimeout", 5*time.Second)
	v.SetDefault("sync.remotetimeout", 15*time.Second)
	v.SetDefault("sync.batchsize", 50)
	v.SetDefault("sync.powersavingbatchsize", 10)
	v.SetDefault("sync.lowbatterythreshold", 20)
	v.SetDefault("sync.queuecapacity", 500)
	v.SetDefault("sync.resolvepolicy", "medical_priority")
	v.SetDefault("sync.deviceid", "default")
	v.SetDefault("sync.batterypath", "/sys/class/power_supply/BAT0")

	// Notification defaults
	v.SetDefault("notify.transport", "memory")
	v.SetDefault("notify.mqtt.clientid", "medication-engine")
	v.SetDefault("notify.mqtt.topicprefix", "medengine/notifications")
}

// bindEnvVars binds environment variables to config keys
func bindEnvVars(v *viper.Viper) {
	// Server
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.environment", "ENV", "ENVIRONMENT")

	// Logging
	v.BindEnv("logging.level", "LOG_LEVEL")
	v.BindEnv("logging.format", "LOG_FORMAT")

	// Storage
	v.BindEnv("storage.backend", "STORAGE_BACKEND")
	v.BindEnv("storage.encryptionsecret", "STORAGE_ENCRYPTION_SECRET")
	v.BindEnv("storage.sqlitepath", "SQLITE_PATH")
	v.BindEnv("storage.redisaddr", "REDIS_ADDR")
	v.BindEnv("storage.redispassword", "REDIS_PASSWORD")
	v.BindEnv("storage.databaseurl", "DATABASE_URL")
	v.BindEnv("storage.blob.accountname", "AZURE_STORAGE_ACCOUNT_NAME")
	v.BindEnv("storage.blob.accountkey", "AZURE_STORAGE_ACCOUNT_KEY")
	v.BindEnv("storage.blob.container", "AZURE_STORAGE_CONTAINER")

	// Engine
	v.BindEnv("engine.timezone", "TZ_NAME")
	v.BindEnv("engine.maxsnoozes", "MAX_SNOOZES")
	v.BindEnv("engine.reminderoffsets", "REMINDER_OFFSETS")
	v.BindEnv("engine.quiethoursstart", "QUIET_HOURS_START")
	v.BindEnv("engine.quiethoursend", "QUIET_HOURS_END")

	// Sync
	v.BindEnv("sync.healthurl", "SYNC_HEALTH_URL")
	v.BindEnv("sync.remotebaseurl", "SYNC_REMOTE_URL")
	v.BindEnv("sync.interval", "SYNC_INTERVAL")
	v.BindEnv("sync.deviceid", "DEVICE_ID")

	// Notifications
	v.BindEnv("notify.transport", "NOTIFY_TRANSPORT")
	v.BindEnv("notify.mqtt.broker", "MQTT_BROKER")
	v.BindEnv("notify.mqtt.username", "MQTT_USERNAME")
	v.BindEnv("notify.mqtt.password", "MQTT_PASSWORD")
}

// Location resolves the configured timezone
func (c *EngineConfig) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "memory":
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlitepath is required for the sqlite backend")
		}
	case "redis":
		if c.Storage.RedisAddr == "" {
			return fmt.Errorf("storage.redisaddr is required for the redis backend")
		}
	case "postgres":
		if c.Storage.DatabaseURL == "" {
			return fmt.Errorf("storage.databaseurl is required for the postgres backend")
		}
	case "blob":
		if c.Storage.Blob.AccountName == "" || c.Storage.Blob.AccountKey == "" {
			return fmt.Errorf("azure storage credentials are required for the blob backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	if _, err := c.Engine.Location(); err != nil {
		return fmt.Errorf("engine.timezone is invalid: %w", err)
	}

	if c.Engine.MaxSnoozes < 0 {
		return fmt.Errorf("engine.maxsnoozes must not be negative")
	}

	for _, offset := range c.Engine.ReminderOffsets {
		if offset < 0 {
			return fmt.Errorf("engine.reminderoffsets must not contain negative values")
		}
	}

	if (c.Engine.QuietHoursStart == "") != (c.Engine.QuietHoursEnd == "") {
		return fmt.Errorf("engine.quiethoursstart and engine.quiethoursend must be set together")
	}

	if c.Sync.BatchSize < 1 || c.Sync.PowerSavingBatchSize < 1 {
		return fmt.Errorf("sync batch sizes must be positive")
	}

	if c.Sync.QueueCapacity < 1 {
		return fmt.Errorf("sync.queuecapacity must be positive")
	}

	switch c.Notify.Transport {
	case "memory":
	case "mqtt":
		if c.Notify.MQTT.Broker == "" {
			return fmt.Errorf("notify.mqtt.broker is required for the mqtt transport")
		}
	default:
		return fmt.Errorf("unknown notification transport %q", c.Notify.Transport)
	}

	return nil
}
