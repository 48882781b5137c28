// Package config provides runtime settings for relaykit.
package config

import (
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

// RuntimeConfig holds the settings the SDK runtime needs before it has
// fetched any tenant configuration.
type RuntimeConfig struct {
	TenantToken          string
	ConfigVersion        string
	ConfigEndpoint       string
	DataDir              string
	DBURL                string
	AppID                string
	Platform             string
	UserAgent            string
	Locale               string
	RequestTimeout       time.Duration
	NotificationDeadline time.Duration
	DeliveryWorkers      int
	DeliveryQueueSize    int
	MaxConfigSize        int64
	HealthHost           string
	HealthPort           int
}

// DefaultRuntimeConfig returns configuration with default values.
// TenantToken and ConfigVersion have no defaults and must be supplied.
func DefaultRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		ConfigEndpoint:       "https://config.example.com/sdkconfig/",
		DataDir:              "./data",
		AppID:                "com.example.app",
		Platform:             "ios",
		UserAgent:            "relaykit",
		Locale:               "en-US",
		RequestTimeout:       30 * time.Second,
		NotificationDeadline: 25 * time.Second,
		DeliveryWorkers:      2,
		DeliveryQueueSize:    256,
		MaxConfigSize:        4 << 20,
		HealthHost:           "127.0.0.1",
		HealthPort:           50052,
	}
}

// DatabaseURL returns DBURL, or the default sqlite file under DataDir.
func (c *RuntimeConfig) DatabaseURL() string {
	if c.DBURL != "" {
		return c.DBURL
	}
	return "sqlite://" + filepath.Join(c.DataDir, "relaykit.db")
}

// ConfigCacheDir is where fetched tenant configurations are cached.
func (c *RuntimeConfig) ConfigCacheDir() string {
	return filepath.Join(c.DataDir, "config")
}

// ConfigURL builds {endpoint}{tenantToken}/{version}.json.
func (c *RuntimeConfig) ConfigURL() string {
	endpoint := c.ConfigEndpoint
	if !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}
	return endpoint + url.PathEscape(c.TenantToken) + "/" + url.PathEscape(c.ConfigVersion) + ".json"
}
