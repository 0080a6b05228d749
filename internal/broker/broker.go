// Package broker wraps a single authenticated publish-subscribe connection.
//
// Two drivers exist: MQTT (what the machine-side agent speaks) and Kafka.
// Both report every connectivity problem as ErrUnavailable and expose their
// connection state through Client.State instead of a shared flag.
package broker

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/yoyo3287258/wol-gateway/internal/config"
	xlog "github.com/yoyo3287258/wol-gateway/internal/log"
)

// ErrUnavailable covers authentication rejection, TLS failures, network
// errors and acknowledgement timeouts.
var ErrUnavailable = errors.New("broker unavailable")

var errAckTimeout = errors.New("timed out waiting for broker acknowledgement")

func unavailable(err error) error {
	if err == nil || errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

// Message is one payload received on a subscribed topic.
type Message struct {
	Topic   string
	Payload []byte
}

// Handler is invoked once per received message.
type Handler func(Message)

// Client is a live broker connection. Close must be called when done.
type Client interface {
	// Publish blocks until the broker acknowledges, the publish timeout
	// elapses or ctx is done.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers h for topic for the lifetime of the connection.
	Subscribe(topic string, h Handler) error

	State() State
	Connected() bool
	Close() error
}

// Dialer opens a new connection, e.g. one per HTTP request.
type Dialer func(ctx context.Context) (Client, error)

// State of a broker connection.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// stateValue is the connection state owned by a client.
type stateValue struct {
	v        atomic.Int32
	onChange func(State)
}

func (s *stateValue) load() State {
	return State(s.v.Load())
}

func (s *stateValue) set(next State) {
	prev := State(s.v.Swap(int32(next)))
	if prev != next && s.onChange != nil {
		s.onChange(next)
	}
}

// Options for a single connection.
type Options struct {
	Driver   string
	Host     string
	Port     int
	Username string
	Password string

	// TLSConfig enables TLS when non-nil.
	TLSConfig *tls.Config

	// ClientID prefix; a random suffix is added per connection.
	ClientID string
	QoS      byte

	ConnectTimeout time.Duration
	PublishTimeout time.Duration
	AutoReconnect  bool

	// OnStateChange is called from the client's goroutines.
	OnStateChange func(State)

	Logger zerolog.Logger
}

// OptionsFromConfig builds connection options. TLS uses the system trust store.
func OptionsFromConfig(cfg config.BrokerConfig) Options {
	opts := Options{
		Driver:         cfg.Driver,
		Host:           cfg.Host,
		Port:           cfg.Port,
		Username:       cfg.Username,
		Password:       cfg.Password,
		ClientID:       cfg.ClientID,
		QoS:            byte(cfg.QoS),
		ConnectTimeout: cfg.ConnectTimeout,
		PublishTimeout: cfg.PublishTimeout,
		AutoReconnect:  cfg.AutoReconnect,
		Logger:         xlog.WithComponent("broker"),
	}
	if !cfg.DisableTLS {
		opts.TLSConfig = &tls.Config{
			ServerName: cfg.Host,
			MinVersion: tls.VersionTLS12,
		}
	}
	return opts
}

// Dial connects with the configured driver.
func Dial(ctx context.Context, opts Options) (Client, error) {
	switch opts.Driver {
	case "", "mqtt":
		return dialMQTT(ctx, opts)
	case "kafka":
		return dialKafka(ctx, opts)
	default:
		return nil, fmt.Errorf("unknown broker driver %q", opts.Driver)
	}
}

// NewDialer returns a Dialer that opens a fresh connection on every call.
// Auto-reconnect is disabled since those connections are short-lived.
func NewDialer(opts Options) Dialer {
	opts.AutoReconnect = false
	return func(ctx context.Context) (Client, error) {
		return Dial(ctx, opts)
	}
}

func clientID(prefix string) string {
	if prefix == "" {
		prefix = "wol-gateway"
	}
	return prefix + "-" + uuid.NewString()[:8]
}

// afterTimeout returns a channel that fires after d, or never when d <= 0.
func afterTimeout(d time.Duration) (<-chan time.Time, func()) {
	if d <= 0 {
		return nil, func() {}
	}
	t := time.NewTimer(d)
	return t.C, func() { t.Stop() }
}
