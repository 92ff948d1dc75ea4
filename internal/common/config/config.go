// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig          `mapstructure:"app"`
	Backend       BackendConfig      `mapstructure:"backend"`
	Database      DatabaseConfig     `mapstructure:"database"`
	Overrides     OverridesConfig    `mapstructure:"overrides"`
	Reconciler    ReconcilerConfig   `mapstructure:"reconciler"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Broadcast     BroadcastConfig    `mapstructure:"broadcast"`
	Server        ServerConfig       `mapstructure:"server"`
	Logging       LoggingConfig      `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// BackendConfig describes the REST backend holding businesses and products.
type BackendConfig struct {
	BaseURL           string         `mapstructure:"base_url"`
	AuthToken         string         `mapstructure:"auth_token"`
	Timeout           int            `mapstructure:"timeout"` // milliseconds
	NotificationsPath string         `mapstructure:"notifications_path"`
	CommandMethod     string         `mapstructure:"command_method"`
	Business          ResourceConfig `mapstructure:"business"`
	Product           ResourceConfig `mapstructure:"product"`
}

// ResourceConfig holds the per-kind route layout. OwnerListPath uses "{id}"
// as the placeholder for the owner or parent ID.
type ResourceConfig struct {
	Segment       string `mapstructure:"segment"`
	CreatePath    string `mapstructure:"create_path"`
	OwnerListPath string `mapstructure:"owner_list_path"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// OverridesConfig selects the local override store backend.
type OverridesConfig struct {
	Driver    string `mapstructure:"driver"` // memory | redis | postgres
	Namespace string `mapstructure:"namespace"`
	Table     string `mapstructure:"table"`
}

// ReconcilerConfig holds the refresh timing of mounted views. All values in
// milliseconds.
type ReconcilerConfig struct {
	OwnerPollInterval    int    `mapstructure:"owner_poll_interval"`
	AdminPollInterval    int    `mapstructure:"admin_poll_interval"`
	DebounceDelay        int    `mapstructure:"debounce_delay"`
	MinRefreshInterval   int    `mapstructure:"min_refresh_interval"`
	RetainStaleOnFailure bool   `mapstructure:"retain_stale_on_failure"`
	SkipStaleFlagCollect bool   `mapstructure:"skip_stale_flag_collection"`
	Visibility           string `mapstructure:"visibility"` // hide_pending | approved_only
	MaxOwnerViews        int    `mapstructure:"max_owner_views"`
}

// NotificationConfig controls the pending-submission feed. A nil
// RecencyWindow means the 24h default; 0 disables the recency filter.
type NotificationConfig struct {
	EndpointEnabled *bool `mapstructure:"endpoint_enabled"`
	RecencyWindow   *int  `mapstructure:"recency_window"` // milliseconds
}

// BroadcastConfig configures the outbound SNS mirror of bus events.
type BroadcastConfig struct {
	SNS struct {
		Enabled  bool   `mapstructure:"enabled"`
		TopicARN string `mapstructure:"topic_arn"`
		Region   string `mapstructure:"region"`
	} `mapstructure:"sns"`
}

type ServerConfig struct {
	Address         string `mapstructure:"address"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"` // milliseconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
