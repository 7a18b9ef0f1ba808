// Package config loads and validates tool configuration from an optional
// config file and MLSTACK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/mlstack-io/mlstack/internal/stack"
)

// Config is the fully resolved tool configuration.
type Config struct {
	// Name is the stack name; every derived resource name starts with it.
	Name   string `mapstructure:"name" validate:"required,hostname_rfc1123,max=32"`
	Region string `mapstructure:"region" validate:"required"`

	// AccountID is resolved from STS when empty.
	AccountID string `mapstructure:"account_id" validate:"omitempty,len=12,numeric"`

	ContainerPort int    `mapstructure:"container_port" validate:"min=1,max=65535"`
	CPU           int    `mapstructure:"cpu" validate:"oneof=256 512 1024 2048 4096"`
	Memory        int    `mapstructure:"memory" validate:"min=512,max=30720"`
	Image         string `mapstructure:"image"`

	TrainingDataURI string `mapstructure:"training_data_uri" validate:"omitempty,uri"`
	TrainingImage   string `mapstructure:"training_image"`

	StateDir    string `mapstructure:"state_dir"`
	Parallelism int    `mapstructure:"parallelism" validate:"min=1,max=16"`

	LogLevel  string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `mapstructure:"log_format" validate:"oneof=console json"`
}

// Load reads configuration with precedence overrides > env > config file >
// defaults and validates the result. path overrides the default config file
// lookup; an absent config file is not an error. overrides carry values set
// on the command line.
func Load(path string, overrides ...map[string]any) (*Config, error) {
	v := viper.New()

	v.SetDefault("region", "us-west-2")
	v.SetDefault("container_port", 8080)
	v.SetDefault("cpu", 256)
	v.SetDefault("memory", 512)
	v.SetDefault("parallelism", 4)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("mlstack")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("MLSTACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal only sees keys viper knows about, so bind the ones without
	// defaults explicitly.
	for _, key := range []string{
		"name", "account_id", "image",
		"training_data_uri", "training_image", "state_dir",
	} {
		_ = v.BindEnv(key)
	}

	for _, set := range overrides {
		for key, val := range set {
			v.Set(key, val)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration and reports every violated field.
func (c *Config) Validate() error {
	err := validator.New(validator.WithRequiredStructEnabled()).Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q constraint", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

// Topology derives the stack layout from the configuration. accountID is
// the resolved account when Config.AccountID was empty.
func (c *Config) Topology(accountID string) *stack.Topology {
	if accountID == "" {
		accountID = c.AccountID
	}
	return &stack.Topology{
		Name:          c.Name,
		Region:        c.Region,
		AccountID:     accountID,
		ContainerPort: c.ContainerPort,
		CPU:           c.CPU,
		Memory:        c.Memory,
		Image:         c.Image,
	}
}
