package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port   string `envconfig:"PORT" default:"2121"`
	APIKey string `envconfig:"AUTHENTICATION_API_KEY" required:"true"`

	SessionsDir    string `envconfig:"SESSIONS_DIR" default:"sessions"`
	AppDatabaseURL string `envconfig:"APP_DATABASE_URL"`
	RestoreOnStart bool   `envconfig:"RESTORE_ON_START" default:"true"`

	CORSAllowOrigins []string      `envconfig:"CORS_ALLOW_ORIGINS" default:"*"`
	RateLimitPerSec  float64       `envconfig:"RATE_LIMIT_PER_SECOND" default:"10"`
	RateLimitBurst   int           `envconfig:"RATE_LIMIT_BURST" default:"10"`
	RateLimitWindow  int           `envconfig:"RATE_LIMIT_WINDOW_MINUTES" default:"3"`
	LogLevel         string        `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat        string        `envconfig:"LOG_FORMAT" default:"console"`
	EnableWebsocket  bool          `envconfig:"ENABLE_WEBSOCKET" default:"true"`
	ShutdownTimeout  time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`

	KeepAliveInterval   time.Duration `envconfig:"KEEPALIVE_INTERVAL" default:"60s"`
	IdleThreshold       time.Duration `envconfig:"IDLE_THRESHOLD" default:"10m"`
	ReaperSchedule      string        `envconfig:"REAPER_SCHEDULE" default:"@every 5m"`
	ConsolidateSchedule string        `envconfig:"CONSOLIDATE_SCHEDULE"`
	QRWait              time.Duration `envconfig:"QR_WAIT" default:"2s"`
	TenantPattern       string        `envconfig:"TENANT_PATTERN" default:"^client[_-]([0-9]+)"`

	MaxReconnectAttempts    int           `envconfig:"MAX_RECONNECT_ATTEMPTS" default:"10"`
	UnclassifiedRetryDelay  time.Duration `envconfig:"UNCLASSIFIED_RETRY_DELAY" default:"5s"`
	UnclassifiedMaxAttempts int           `envconfig:"UNCLASSIFIED_MAX_ATTEMPTS" default:"0"`
	ConnectTimeout          time.Duration `envconfig:"CONNECT_TIMEOUT" default:"120s"`
	QueryTimeout            time.Duration `envconfig:"QUERY_TIMEOUT" default:"120s"`
	MsgRetryDelay           time.Duration `envconfig:"MSG_RETRY_DELAY" default:"1s"`
	MaxMsgRetries           int           `envconfig:"MAX_MSG_RETRIES" default:"5"`
	SyncFullHistory         bool          `envconfig:"SYNC_FULL_HISTORY" default:"false"`
	CommitRetries           int           `envconfig:"COMMIT_RETRIES" default:"10"`
	CommitRetryDelay        time.Duration `envconfig:"COMMIT_RETRY_DELAY" default:"3s"`
	DeviceName              string        `envconfig:"DEVICE_NAME" default:"GOWA Gateway"`

	WebhookURL    string   `envconfig:"WEBHOOK_URL"`
	WebhookSecret string   `envconfig:"WEBHOOK_SECRET"`
	WebhookEvents []string `envconfig:"WEBHOOK_EVENTS"`
}

// Load reads .env when present, then the environment.
func Load() (*Config, error) {
	// .env is optional, production sets real env vars
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	for i, o := range cfg.CORSAllowOrigins {
		cfg.CORSAllowOrigins[i] = strings.TrimSpace(o)
	}
	for i, e := range cfg.WebhookEvents {
		cfg.WebhookEvents[i] = strings.TrimSpace(e)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("load config: AUTHENTICATION_API_KEY is empty")
	}
	if cfg.MaxReconnectAttempts <= 0 {
		return nil, fmt.Errorf("load config: MAX_RECONNECT_ATTEMPTS must be positive")
	}
	return &cfg, nil
}
