// Package config loads the taskcast config file: YAML or JSON, with
// ${VAR} environment interpolation.
package config

import (
	"github.com/taskcast/taskcast/pkg/models"
)

// Config is the complete taskcast config file structure. Every section is
// optional; a missing file yields the zero value.
type Config struct {
	Port     *int            `json:"port,omitempty"`
	LogLevel string          `json:"logLevel,omitempty"`
	Auth     *AuthConfig     `json:"auth,omitempty"`
	Adapters *AdaptersConfig `json:"adapters,omitempty"`
	Webhook  *WebhookConfig  `json:"webhook,omitempty"`
	Cleanup  *CleanupConfig  `json:"cleanup,omitempty"`
}

// AuthConfig selects the authentication mode.
type AuthConfig struct {
	Mode string     `json:"mode"`
	JWT  *JWTConfig `json:"jwt,omitempty"`
}

// JWTConfig holds token verification settings for token-based auth.
type JWTConfig struct {
	Algorithm     string `json:"algorithm,omitempty"`
	Secret        string `json:"secret,omitempty"`
	PublicKey     string `json:"publicKey,omitempty"`
	PublicKeyFile string `json:"publicKeyFile,omitempty"`
	Issuer        string `json:"issuer,omitempty"`
	Audience      string `json:"audience,omitempty"`
}

// AdaptersConfig selects the store and broadcast implementations.
type AdaptersConfig struct {
	Broadcast *AdapterEntry `json:"broadcast,omitempty"`
	ShortTerm *AdapterEntry `json:"shortTerm,omitempty"`
	LongTerm  *AdapterEntry `json:"longTerm,omitempty"`
}

// AdapterEntry names one adapter implementation, e.g. {provider: "redis",
// url: "redis://localhost:6379"}.
type AdapterEntry struct {
	Provider string `json:"provider"`
	URL      string `json:"url,omitempty"`
}

// WebhookConfig holds process-wide webhook settings.
type WebhookConfig struct {
	DefaultRetry *models.RetryConfig `json:"defaultRetry,omitempty"`
}

// CleanupConfig holds the global retention rules.
type CleanupConfig struct {
	Rules []models.CleanupRule `json:"rules,omitempty"`
}
