package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "HUB"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabasePath      = "hub.db"
	defaultLogLevel          = "info"
	defaultTokenTTLMinutes   = 60
	defaultLogRetentionDays  = 180
	defaultTransformFunction = "fn:json-transformer"
	defaultBillingQueue      = "queue:workflow-billing"
)

// AppConfig captures runtime configuration for the management API server.
type AppConfig struct {
	HTTPAddress       string
	DatabasePath      string
	LogLevel          string
	AuthSigningSecret string
	TokenTTL          time.Duration
	LogRetentionDays  int
	TransformFunction string
	BillingQueue      string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("pipeline.log_retention_days", defaultLogRetentionDays)
	configViper.SetDefault("pipeline.transform_function", defaultTransformFunction)
	configViper.SetDefault("pipeline.billing_queue", defaultBillingQueue)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		DatabasePath:      configViper.GetString("database.path"),
		LogLevel:          configViper.GetString("log.level"),
		AuthSigningSecret: configViper.GetString("auth.signing_secret"),
		TokenTTL:          time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		LogRetentionDays:  configViper.GetInt("pipeline.log_retention_days"),
		TransformFunction: configViper.GetString("pipeline.transform_function"),
		BillingQueue:      configViper.GetString("pipeline.billing_queue"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.AuthSigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.LogRetentionDays <= 0 {
		return fmt.Errorf("pipeline.log_retention_days must be positive")
	}
	if strings.TrimSpace(c.TransformFunction) == "" {
		return fmt.Errorf("pipeline.transform_function is required")
	}
	if strings.TrimSpace(c.BillingQueue) == "" {
		return fmt.Errorf("pipeline.billing_queue is required")
	}
	return nil
}
