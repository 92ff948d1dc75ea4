// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DefaultOwnerPollInterval  = 10000
	DefaultAdminPollInterval  = 30000
	DefaultDebounceDelay      = 500
	DefaultMinRefreshInterval = 5000
	DefaultRecencyWindow      = 24 * 60 * 60 * 1000
	DefaultMaxOwnerViews      = 256
)

func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	// BACKEND_AUTH_TOKEN overrides backend.auth_token, and so on.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig() // optional

	expandEnvVars(v)

	return finish(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	expandEnvVars(v)

	return finish(v)
}

func finish(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
		"../../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// Find project root by looking for go.mod
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// expandEnvVars resolves ${VAR} placeholders in string values.
func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
			expanded := os.ExpandEnv(strVal)
			if expanded != strVal && expanded != "" {
				v.Set(key, expanded)
			}
		}
	}
}

// overrideEmptyConfig fills secrets that are commonly provided only through
// the environment.
func overrideEmptyConfig(cfg *Config) {
	if cfg.Backend.AuthToken == "" {
		if val := os.Getenv("ADMIN_TOKEN"); val != "" {
			cfg.Backend.AuthToken = val
		}
	}
	if cfg.Backend.BaseURL == "" {
		if val := os.Getenv("API_BASE_URL"); val != "" {
			cfg.Backend.BaseURL = val
		}
	}
	if cfg.Database.Postgres.User == "" {
		if val := os.Getenv("DB_USER"); val != "" {
			cfg.Database.Postgres.User = val
		}
	}
	if cfg.Database.Postgres.Password == "" {
		if val := os.Getenv("DB_PASSWORD"); val != "" {
			cfg.Database.Postgres.Password = val
		}
	}
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "approval-sync"
	}

	// Backend defaults
	if cfg.Backend.Timeout == 0 {
		cfg.Backend.Timeout = 15000
	}
	if cfg.Backend.NotificationsPath == "" {
		cfg.Backend.NotificationsPath = "/notifications"
	}
	if cfg.Backend.CommandMethod == "" {
		cfg.Backend.CommandMethod = "PUT"
	}
	cfg.Backend.CommandMethod = strings.ToUpper(cfg.Backend.CommandMethod)
	if cfg.Backend.Business.Segment == "" {
		cfg.Backend.Business.Segment = "bussiness"
	}
	if cfg.Backend.Business.CreatePath == "" {
		cfg.Backend.Business.CreatePath = "/bussiness/registerBuss"
	}
	if cfg.Backend.Business.OwnerListPath == "" {
		cfg.Backend.Business.OwnerListPath = "/bussiness/getBussById/{id}"
	}
	if cfg.Backend.Product.Segment == "" {
		cfg.Backend.Product.Segment = "product"
	}
	if cfg.Backend.Product.CreatePath == "" {
		cfg.Backend.Product.CreatePath = "/product/createproduct"
	}
	if cfg.Backend.Product.OwnerListPath == "" {
		cfg.Backend.Product.OwnerListPath = "/product/business/{id}"
	}

	// Database defaults
	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}

	// Override store defaults
	if cfg.Overrides.Driver == "" {
		cfg.Overrides.Driver = "memory"
	}
	if cfg.Overrides.Table == "" {
		cfg.Overrides.Table = "local_overrides"
	}

	// Reconciler defaults
	if cfg.Reconciler.OwnerPollInterval == 0 {
		cfg.Reconciler.OwnerPollInterval = DefaultOwnerPollInterval
	}
	if cfg.Reconciler.MaxOwnerViews == 0 {
		cfg.Reconciler.MaxOwnerViews = DefaultMaxOwnerViews
	}
	if cfg.Reconciler.AdminPollInterval == 0 {
		cfg.Reconciler.AdminPollInterval = DefaultAdminPollInterval
	}
	if cfg.Reconciler.DebounceDelay == 0 {
		cfg.Reconciler.DebounceDelay = DefaultDebounceDelay
	}
	if cfg.Reconciler.MinRefreshInterval == 0 {
		cfg.Reconciler.MinRefreshInterval = DefaultMinRefreshInterval
	}
	if cfg.Reconciler.Visibility == "" {
		cfg.Reconciler.Visibility = "hide_pending"
	}

	// Notification defaults
	if cfg.Notifications.RecencyWindow == nil {
		window := DefaultRecencyWindow
		cfg.Notifications.RecencyWindow = &window
	}
	if cfg.Notifications.EndpointEnabled == nil {
		enabled := true
		cfg.Notifications.EndpointEnabled = &enabled
	}

	// Server defaults
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10000
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}

// validateConfig validates critical configuration fields
func validateConfig(cfg *Config) error {
	if cfg.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	if cfg.Backend.CommandMethod != "PUT" && cfg.Backend.CommandMethod != "POST" {
		return fmt.Errorf("backend.command_method must be PUT or POST, got %q", cfg.Backend.CommandMethod)
	}

	switch cfg.Overrides.Driver {
	case "memory":
	case "redis":
		if cfg.Database.Redis.Address == "" {
			return fmt.Errorf("database.redis.address is required for the redis override driver")
		}
	case "postgres":
		if cfg.Database.Postgres.Host == "" {
			return fmt.Errorf("database.postgres.host is required for the postgres override driver")
		}
		if cfg.Database.Postgres.Database == "" {
			return fmt.Errorf("database.postgres.database is required for the postgres override driver")
		}
		if cfg.Database.Postgres.User == "" {
			return fmt.Errorf("database.postgres.user is required for the postgres override driver")
		}
	default:
		return fmt.Errorf("overrides.driver must be memory, redis or postgres, got %q", cfg.Overrides.Driver)
	}

	switch cfg.Reconciler.Visibility {
	case "hide_pending", "approved_only":
	default:
		return fmt.Errorf("reconciler.visibility must be hide_pending or approved_only, got %q", cfg.Reconciler.Visibility)
	}

	if cfg.Reconciler.MinRefreshInterval < 0 || cfg.Reconciler.DebounceDelay < 0 {
		return fmt.Errorf("reconciler intervals must not be negative")
	}
	if cfg.Notifications.RecencyWindow != nil && *cfg.Notifications.RecencyWindow < 0 {
		return fmt.Errorf("notifications.recency_window must not be negative")
	}

	if cfg.Broadcast.SNS.Enabled && cfg.Broadcast.SNS.TopicARN == "" {
		return fmt.Errorf("broadcast.sns.topic_arn is required when SNS broadcast is enabled")
	}

	return nil
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}

// RecencyWindowDuration returns the configured recency window; 0 means disabled.
func (n NotificationConfig) RecencyWindowDuration() time.Duration {
	if n.RecencyWindow == nil {
		return GetDuration(DefaultRecencyWindow)
	}
	return GetDuration(*n.RecencyWindow)
}

// UseEndpoint reports whether the notifications endpoint is consulted first.
func (n NotificationConfig) UseEndpoint() bool {
	return n.EndpointEnabled == nil || *n.EndpointEnabled
}
