package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// flagKeys maps CLI flag names onto viper keys for BindFlags.
var flagKeys = map[string]string{
	"tenant-token":   "runtime.tenant_token",
	"config-version": "runtime.config_version",
	"db-url":         "runtime.db_url",
	"data-dir":       "runtime.data_dir",
	"deadline":       "runtime.notification_deadline",
}

// LoadConfig loads configuration from file using viper.
// CLI flags > environment > config file > defaults precedence.
func LoadConfig(configPath string) (*RuntimeConfig, error) {
	return LoadConfigWithFlags(configPath, nil)
}

// LoadConfigWithFlags is LoadConfig with flag overrides. Only flags that were
// explicitly set take precedence over the environment.
func LoadConfigWithFlags(configPath string, flags *pflag.FlagSet) (*RuntimeConfig, error) {
	v := viper.New()

	d := DefaultRuntimeConfig()
	v.SetDefault("runtime.tenant_token", "")
	v.SetDefault("runtime.config_version", "")
	v.SetDefault("runtime.config_endpoint", d.ConfigEndpoint)
	v.SetDefault("runtime.data_dir", d.DataDir)
	v.SetDefault("runtime.db_url", "")
	v.SetDefault("runtime.app_id", d.AppID)
	v.SetDefault("runtime.platform", d.Platform)
	v.SetDefault("runtime.user_agent", d.UserAgent)
	v.SetDefault("runtime.locale", d.Locale)
	v.SetDefault("runtime.request_timeout", d.RequestTimeout.String())
	v.SetDefault("runtime.notification_deadline", d.NotificationDeadline.String())
	v.SetDefault("runtime.delivery_workers", d.DeliveryWorkers)
	v.SetDefault("runtime.delivery_queue_size", d.DeliveryQueueSize)
	v.SetDefault("runtime.max_config_size", d.MaxConfigSize)
	v.SetDefault("server.host", d.HealthHost)
	v.SetDefault("server.port", d.HealthPort)

	// Bind environment variables with RK_ prefix
	v.SetEnvPrefix("RK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Realtime tokens come from the tenant configuration, never local files
	if err := validateNoSecretsInConfig(v); err != nil {
		return nil, err
	}

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil || !f.Changed {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
			}
		}
	}

	cfg := &RuntimeConfig{
		TenantToken:          v.GetString("runtime.tenant_token"),
		ConfigVersion:        v.GetString("runtime.config_version"),
		ConfigEndpoint:       v.GetString("runtime.config_endpoint"),
		DataDir:              v.GetString("runtime.data_dir"),
		DBURL:                v.GetString("runtime.db_url"),
		AppID:                v.GetString("runtime.app_id"),
		Platform:             v.GetString("runtime.platform"),
		UserAgent:            v.GetString("runtime.user_agent"),
		Locale:               v.GetString("runtime.locale"),
		RequestTimeout:       v.GetDuration("runtime.request_timeout"),
		NotificationDeadline: v.GetDuration("runtime.notification_deadline"),
		DeliveryWorkers:      v.GetInt("runtime.delivery_workers"),
		DeliveryQueueSize:    v.GetInt("runtime.delivery_queue_size"),
		MaxConfigSize:        v.GetInt64("runtime.max_config_size"),
		HealthHost:           v.GetString("server.host"),
		HealthPort:           v.GetInt("server.port"),
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig checks endpoint shape, positive durations and pool sizes.
// Tenant token and version are checked by the commands that need them.
func validateConfig(cfg *RuntimeConfig) error {
	u, err := url.Parse(cfg.ConfigEndpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config_endpoint must be an absolute http(s) URL, got %q", cfg.ConfigEndpoint)
	}
	if cfg.AppID == "" {
		return fmt.Errorf("app_id must not be empty")
	}
	if cfg.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %v", cfg.RequestTimeout)
	}
	if cfg.NotificationDeadline <= 0 {
		return fmt.Errorf("notification_deadline must be positive, got %v", cfg.NotificationDeadline)
	}
	if cfg.DeliveryWorkers <= 0 {
		return fmt.Errorf("delivery_workers must be positive, got %d", cfg.DeliveryWorkers)
	}
	if cfg.DeliveryQueueSize <= 0 {
		return fmt.Errorf("delivery_queue_size must be positive, got %d", cfg.DeliveryQueueSize)
	}
	if cfg.MaxConfigSize <= 0 {
		return fmt.Errorf("max_config_size must be positive, got %d", cfg.MaxConfigSize)
	}
	if cfg.HealthPort <= 0 || cfg.HealthPort > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", cfg.HealthPort)
	}
	return nil
}

// validateNoSecretsInConfig rejects realtime credentials in settings files.
func validateNoSecretsInConfig(v *viper.Viper) error {
	if v.InConfig("realtime_token") || v.InConfig("runtime.realtime_token") || v.InConfig("realtime.token") {
		return fmt.Errorf("realtime tokens not allowed in config files (they are delivered by the tenant configuration)")
	}
	return nil
}

// RequireTenant checks the settings needed to fetch a tenant configuration.
func (c *RuntimeConfig) RequireTenant() error {
	if c.TenantToken == "" {
		return fmt.Errorf("tenant_token is required (set RK_RUNTIME_TENANT_TOKEN or --tenant-token)")
	}
	if c.ConfigVersion == "" {
		return fmt.Errorf("config_version is required (set RK_RUNTIME_CONFIG_VERSION or --config-version)")
	}
	return nil
}
