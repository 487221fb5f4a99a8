package models

// BackoffStrategy selects how retry delays grow between webhook attempts.
type BackoffStrategy string

const (
	BackoffFixed       BackoffStrategy = "fixed"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffExponential BackoffStrategy = "exponential"
)

// RetryConfig bounds webhook delivery attempts. Delays and the per-attempt
// timeout are milliseconds.
type RetryConfig struct {
	Retries        int             `json:"retries"`
	Backoff        BackoffStrategy `json:"backoff"`
	InitialDelayMs int64           `json:"initialDelayMs"`
	MaxDelayMs     int64           `json:"maxDelayMs"`
	TimeoutMs      int64           `json:"timeoutMs"`
}

// WebhookConfig is a per-task outbound delivery target.
type WebhookConfig struct {
	URL    string           `json:"url"`
	Filter *SubscribeFilter `json:"filter,omitempty"`
	Secret string           `json:"secret,omitempty"`
	Wrap   *bool            `json:"wrap,omitempty"`
	Retry  *RetryConfig     `json:"retry,omitempty"`
}
