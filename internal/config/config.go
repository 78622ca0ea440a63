package config

import (
	"time"

	"github.com/spf13/viper"
)

// SetDefaults registers default values for every configuration key the
// service reads. Keys can be overridden by config file, flag or env var.
func SetDefaults() {
	viper.SetDefault("http.addr", ":8080")
	viper.SetDefault("database.path", "data/mailsync.db")

	viper.SetDefault("provider.api_url", "https://api.aurinko.io/v1")
	viper.SetDefault("provider.days_within", 1)
	viper.SetDefault("provider.poll_interval", time.Second)
	viper.SetDefault("provider.poll_timeout", 2*time.Minute)

	viper.SetDefault("sync.concurrency", 20)
	viper.SetDefault("sync.interval", 30*time.Second)

	viper.SetDefault("nats.url", "")
	viper.SetDefault("auth.jwks_url", "")
	viper.SetDefault("auth.token_url", "")
	viper.SetDefault("openai.api_key", "")
}

// HTTPAddr is the listen address for the API server.
func HTTPAddr() string { return viper.GetString("http.addr") }

// DatabasePath is the SQLite database location.
func DatabasePath() string { return viper.GetString("database.path") }

// ProviderURL is the remote mail provider API base URL.
func ProviderURL() string { return viper.GetString("provider.api_url") }

// DaysWithin bounds how far back an initial sync reaches.
func DaysWithin() int { return viper.GetInt("provider.days_within") }

// PollInterval is the delay between sync readiness checks.
func PollInterval() time.Duration { return viper.GetDuration("provider.poll_interval") }

// PollTimeout bounds how long a readiness poll may run in total.
func PollTimeout() time.Duration { return viper.GetDuration("provider.poll_timeout") }

// SyncConcurrency caps in-flight per-email reconciliation tasks.
func SyncConcurrency() int { return viper.GetInt("sync.concurrency") }

// SyncInterval is the period of the continuous delta-sync loop.
func SyncInterval() time.Duration { return viper.GetDuration("sync.interval") }

// NATSURL is the JetStream server address; empty disables publishing.
func NATSURL() string { return viper.GetString("nats.url") }

// JWKSURL is where API JWTs are verified against; empty disables auth.
func JWKSURL() string { return viper.GetString("auth.jwks_url") }

// TokenURL is the auth-service endpoint that serves provider tokens.
func TokenURL() string { return viper.GetString("auth.token_url") }

// OpenAIKey enables embedding computation when non-empty.
func OpenAIKey() string { return viper.GetString("openai.api_key") }
