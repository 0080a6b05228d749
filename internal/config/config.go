package config

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects which adapters the process runs.
type Mode string

const (
	ModeAll     Mode = "all"
	ModeBot     Mode = "bot"
	ModeTrigger Mode = "trigger"
)

// ParseMode validates a mode string from the command line.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeAll, ModeBot, ModeTrigger:
		return m, nil
	case "":
		return ModeAll, nil
	default:
		return "", fmt.Errorf("unknown mode %q (want all, bot or trigger)", s)
	}
}

// RunsBot reports whether the chat adapter is active in this mode.
func (m Mode) RunsBot() bool { return m == ModeAll || m == ModeBot }

// RunsTrigger reports whether the HTTP trigger endpoints are active in this mode.
func (m Mode) RunsTrigger() bool { return m == ModeAll || m == ModeTrigger }

// Config is the main configuration.
type Config struct {
	// Server HTTP server settings
	Server ServerConfig `yaml:"server"`

	// Security HTTP access control
	Security SecurityConfig `yaml:"security"`

	// Broker publish-subscribe broker connection
	Broker BrokerConfig `yaml:"broker"`

	// Channels chat channels
	Channels ChannelsConfig `yaml:"channels"`

	// Log logging settings
	Log LogConfig `yaml:"log"`

	// Metrics Prometheus exposition
	Metrics MetricsConfig `yaml:"metrics"`
}

// SecurityConfig guards the HTTP surface.
type SecurityConfig struct {
	// APIToken protects /api/v1 routes: Authorization: Bearer <token>.
	// The plain /wol and /ping trigger routes stay open.
	APIToken string `yaml:"api_token"`

	// IPWhitelist accepts single IPs and CIDRs, e.g. ["192.168.1.0/24", "10.0.0.1"].
	// Empty means no restriction.
	IPWhitelist []string `yaml:"ip_whitelist"`

	// RateLimitPerMinute per client IP, 0 disables.
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`

	// TrustedProxies used by gin to resolve the client IP.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// ServerConfig HTTP server settings
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// ShutdownTimeout bounds graceful shutdown, including in-flight trigger publishes.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// BrokerConfig describes the broker both adapters talk to.
type BrokerConfig struct {
	// Driver is mqtt or kafka.
	Driver string `yaml:"driver"`

	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// DisableTLS connects in plain text. TLS with the system trust store is the default.
	DisableTLS bool `yaml:"disable_tls"`

	// ClientID prefix; a random suffix is appended per connection.
	ClientID string `yaml:"client_id"`

	// QoS for MQTT publish and subscribe.
	QoS int `yaml:"qos"`

	// CommandsTopic is consumed by the agent.
	CommandsTopic string `yaml:"commands_topic"`

	// ResponseTopic is published by the agent.
	ResponseTopic string `yaml:"response_topic"`

	// TriggerTopic is where GET /wol publishes; defaults to CommandsTopic.
	TriggerTopic string `yaml:"trigger_topic"`

	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`

	// AutoReconnect applies to the long-lived bot connection only.
	AutoReconnect bool `yaml:"auto_reconnect"`
}

// Address returns host:port.
func (b BrokerConfig) Address() string {
	return fmt.Sprintf("%s:%d", b.Host, b.Port)
}

// ChannelsConfig chat channels
type ChannelsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig Telegram bot settings
type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`

	// AllowedID is the only user whose commands are accepted.
	AllowedID int64 `yaml:"allowed_id"`

	// UpdatesMode is polling or webhook.
	UpdatesMode string `yaml:"updates_mode"`

	// WebhookSecret is checked against X-Telegram-Bot-Api-Secret-Token.
	WebhookSecret string `yaml:"webhook_secret"`

	// PollTimeout is the long polling timeout in seconds.
	PollTimeout int `yaml:"poll_timeout"`

	// SendTimeout bounds a single outbound message.
	SendTimeout time.Duration `yaml:"send_timeout"`
}

const (
	UpdatesPolling = "polling"
	UpdatesWebhook = "webhook"
)

// LogConfig logging settings
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `yaml:"level"`

	// Format: json, text
	Format string `yaml:"format"`
}

// MetricsConfig Prometheus settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// setDefaults fills zero values.
func setDefaults(config *Config) {
	if config.Server.Host == "" {
		config.Server.Host = "0.0.0.0"
	}
	if config.Server.Port == 0 {
		config.Server.Port = 8000
	}
	if config.Server.ReadTimeout == 0 {
		config.Server.ReadTimeout = 30 * time.Second
	}
	if config.Server.WriteTimeout == 0 {
		config.Server.WriteTimeout = 30 * time.Second
	}
	if config.Server.ShutdownTimeout == 0 {
		config.Server.ShutdownTimeout = 10 * time.Second
	}

	if config.Broker.Driver == "" {
		config.Broker.Driver = "mqtt"
	}
	config.Broker.Driver = strings.ToLower(config.Broker.Driver)
	if config.Broker.Port == 0 {
		config.Broker.Port = 8883
	}
	if config.Broker.ClientID == "" {
		config.Broker.ClientID = "wol-gateway"
	}
	if config.Broker.TriggerTopic == "" {
		config.Broker.TriggerTopic = config.Broker.CommandsTopic
	}
	if config.Broker.ConnectTimeout == 0 {
		config.Broker.ConnectTimeout = 10 * time.Second
	}
	if config.Broker.PublishTimeout == 0 {
		config.Broker.PublishTimeout = 10 * time.Second
	}

	if config.Channels.Telegram.UpdatesMode == "" {
		config.Channels.Telegram.UpdatesMode = UpdatesPolling
	}
	if config.Channels.Telegram.PollTimeout == 0 {
		config.Channels.Telegram.PollTimeout = 60
	}
	if config.Channels.Telegram.SendTimeout == 0 {
		config.Channels.Telegram.SendTimeout = 15 * time.Second
	}

	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "json"
	}

	if config.Metrics.Path == "" {
		config.Metrics.Path = "/metrics"
	}
}

// Validate checks the settings the given mode needs before anything is served.
func (c *Config) Validate(mode Mode) error {
	var errs []string

	missing := func(v string) bool {
		return strings.TrimSpace(v) == "" || strings.HasPrefix(v, "${")
	}

	if missing(c.Broker.Host) {
		errs = append(errs, "broker.host is empty or its environment variable is not set (MQTT_HOST)")
	}
	if c.Broker.Port <= 0 || c.Broker.Port > 65535 {
		errs = append(errs, fmt.Sprintf("broker.port %d out of range", c.Broker.Port))
	}
	switch c.Broker.Driver {
	case "mqtt", "kafka":
	default:
		errs = append(errs, fmt.Sprintf("broker.driver %q is not supported (mqtt, kafka)", c.Broker.Driver))
	}
	if c.Broker.QoS < 0 || c.Broker.QoS > 2 {
		errs = append(errs, fmt.Sprintf("broker.qos %d out of range 0-2", c.Broker.QoS))
	}
	if strings.HasPrefix(c.Broker.Username, "${") || strings.HasPrefix(c.Broker.Password, "${") {
		errs = append(errs, "broker credentials reference an unset environment variable (MQTT_USER, MQTT_PASS)")
	}

	if mode.RunsTrigger() && missing(c.Broker.TriggerTopic) {
		errs = append(errs, "broker.trigger_topic is empty (MQTT_TOPIC or MQTT_TOPIC_COMMANDS)")
	}

	if mode.RunsBot() {
		tg := c.Channels.Telegram
		if missing(tg.BotToken) {
			errs = append(errs, "channels.telegram.bot_token is empty (BOT_TOKEN)")
		}
		if tg.AllowedID == 0 {
			errs = append(errs, "channels.telegram.allowed_id is not set (ALLOWED_ID)")
		}
		if missing(c.Broker.CommandsTopic) {
			errs = append(errs, "broker.commands_topic is empty (MQTT_TOPIC_COMMANDS)")
		}
		if missing(c.Broker.ResponseTopic) {
			errs = append(errs, "broker.response_topic is empty (MQTT_TOPIC_RESPONSE)")
		}
		switch tg.UpdatesMode {
		case UpdatesPolling, UpdatesWebhook:
		default:
			errs = append(errs, fmt.Sprintf("channels.telegram.updates_mode %q is not supported (polling, webhook)", tg.UpdatesMode))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}
