package borgmon

import (
	"context"
	"time"
)

type key int

const settingsKey key = 0

// Settings represents the settings that can be configured with CLI and config file
type Settings struct {
	APIListen        string
	PrivateAPIListen string
	DataDir          string
	ConfigDir        string
	Auth             AuthSettings
	StartupTime      time.Time
}

// AuthSettings holds the dashboard credentials and session token settings.
type AuthSettings struct {
	Username       string
	Password       string // plaintext or bcrypt hash ($2 prefix)
	SecretFilepath string // file holding the HS256 signing secret
	TokenTTL       time.Duration
}

// NewDefaultSettings returns default settings
func NewDefaultSettings() Settings {
	return Settings{
		APIListen:        ":22257",
		PrivateAPIListen: "127.0.0.1:22258",
		DataDir:          "data",
		ConfigDir:        "config",
		Auth: AuthSettings{
			Username: "admin",
			TokenTTL: 24 * time.Hour,
		},
		StartupTime: time.Now(),
	}
}

// NewContextWithSettings returns a context with associated settings
func NewContextWithSettings(ctx context.Context, settings Settings) context.Context {
	return context.WithValue(ctx, settingsKey, settings)
}

// SettingsFromContext returns the settings associated to a context
func SettingsFromContext(ctx context.Context) (Settings, bool) {
	settings, ok := ctx.Value(settingsKey).(Settings)
	return settings, ok
}
