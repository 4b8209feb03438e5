package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"webup/borgmon"

	"github.com/spf13/viper"
)

// ServerConfig mirrors the server config file (config.yml).
type ServerConfig struct {
	Listen        string     `mapstructure:"listen"`
	PrivateListen string     `mapstructure:"private_listen"`
	DataDir       string     `mapstructure:"data_dir"`
	ConfigDir     string     `mapstructure:"config_dir"`
	Auth          AuthConfig `mapstructure:"auth"`
}

// AuthConfig holds the dashboard credentials.
type AuthConfig struct {
	Username      string `mapstructure:"username"`
	Password      string `mapstructure:"password"`
	SecretFile    string `mapstructure:"secret_file"`
	TokenTTLHours int    `mapstructure:"token_ttl_hours"`
}

// Load reads the server configuration from an optional config file and the
// environment (BORGMON_* variables override file values).
func Load(configPath string) (*ServerConfig, error) {
	v := viper.New()

	v.SetDefault("listen", ":22257")
	v.SetDefault("private_listen", "127.0.0.1:22258")
	v.SetDefault("data_dir", "data")
	v.SetDefault("config_dir", "config")
	v.SetDefault("auth.username", "admin")
	v.SetDefault("auth.password", "")
	v.SetDefault("auth.secret_file", "~/.borgmon/jwt_secret")
	v.SetDefault("auth.token_ttl_hours", 24)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/borgmon")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("borgmon")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := new(ServerConfig)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// Settings converts the loaded config into runtime settings.
func (c *ServerConfig) Settings() borgmon.Settings {
	settings := borgmon.NewDefaultSettings()
	settings.APIListen = c.Listen
	settings.PrivateAPIListen = c.PrivateListen
	settings.DataDir = c.DataDir
	settings.ConfigDir = c.ConfigDir
	settings.Auth.Username = c.Auth.Username
	settings.Auth.Password = c.Auth.Password
	settings.Auth.SecretFilepath = c.Auth.SecretFile
	if c.Auth.TokenTTLHours > 0 {
		settings.Auth.TokenTTL = time.Duration(c.Auth.TokenTTLHours) * time.Hour
	}
	return settings
}
