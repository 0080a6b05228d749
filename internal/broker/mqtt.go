package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	xlog "github.com/yoyo3287258/wol-gateway/internal/log"
)

var errNotConnected = errors.New("not connected")

// MQTTClient is a paho connection.
type MQTTClient struct {
	client  mqtt.Client
	opts    Options
	state   stateValue
	deliver *dispatcher

	mu   sync.Mutex
	subs map[string]Handler
}

func dialMQTT(ctx context.Context, opts Options) (*MQTTClient, error) {
	c := &MQTTClient{
		opts:    opts,
		subs:    make(map[string]Handler),
		deliver: newDispatcher(),
	}
	c.state.onChange = opts.OnStateChange
	c.client = mqtt.NewClient(c.clientOptions())

	c.state.set(StateConnecting)
	if err := waitToken(ctx, c.client.Connect(), opts.ConnectTimeout); err != nil {
		c.client.Disconnect(0)
		c.deliver.stop()
		c.state.set(StateDisconnected)
		return nil, unavailable(fmt.Errorf("connect %s: %w", brokerURL(opts), err))
	}
	c.state.set(StateConnected)

	opts.Logger.Debug().
		Str(xlog.FieldEvent, "broker.connected").
		Str(xlog.FieldDriver, "mqtt").
		Str(xlog.FieldBroker, brokerURL(opts)).
		Msg("connected to broker")
	return c, nil
}

func (c *MQTTClient) clientOptions() *mqtt.ClientOptions {
	o := mqtt.NewClientOptions()
	o.AddBroker(brokerURL(c.opts))
	o.SetClientID(clientID(c.opts.ClientID))
	o.SetUsername(c.opts.Username)
	o.SetPassword(c.opts.Password)
	if c.opts.TLSConfig != nil {
		o.SetTLSConfig(c.opts.TLSConfig)
	}
	if c.opts.ConnectTimeout > 0 {
		o.SetConnectTimeout(c.opts.ConnectTimeout)
	}
	if c.opts.PublishTimeout > 0 {
		o.SetWriteTimeout(c.opts.PublishTimeout)
	}
	o.SetCleanSession(true)
	o.SetConnectRetry(false)
	o.SetAutoReconnect(c.opts.AutoReconnect)
	// handlers only enqueue, see wrap
	o.SetOrderMatters(true)
	o.SetOnConnectHandler(c.onConnect)
	o.SetConnectionLostHandler(c.onConnectionLost)
	o.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		c.state.set(StateConnecting)
	})
	return o
}

// brokerURL builds ssl://host:port, or tcp:// without TLS.
func brokerURL(opts Options) string {
	scheme := "tcp"
	if opts.TLSConfig != nil {
		scheme = "ssl"
	}
	return scheme + "://" + net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
}

// onConnect runs on the first connect and after every automatic reconnect.
func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.state.set(StateConnected)

	c.mu.Lock()
	subs := make(map[string]Handler, len(c.subs))
	for topic, h := range c.subs {
		subs[topic] = h
	}
	c.mu.Unlock()

	for topic, h := range subs {
		tok := client.Subscribe(topic, c.opts.QoS, c.wrap(h))
		if err := waitToken(context.Background(), tok, c.opts.ConnectTimeout); err != nil {
			c.opts.Logger.Error().Err(err).
				Str(xlog.FieldEvent, "broker.resubscribe_failed").
				Str(xlog.FieldTopic, topic).
				Msg("failed to resubscribe after reconnect")
		}
	}
}

func (c *MQTTClient) onConnectionLost(_ mqtt.Client, err error) {
	c.state.set(StateDisconnected)
	c.opts.Logger.Warn().Err(err).
		Str(xlog.FieldEvent, "broker.connection_lost").
		Bool("auto_reconnect", c.opts.AutoReconnect).
		Msg("broker connection lost")
}

// wrap hands messages to the dispatcher. paho's router must return quickly:
// with ordered delivery it shares a goroutine with PUBACK processing.
func (c *MQTTClient) wrap(h Handler) mqtt.MessageHandler {
	return func(_ mqtt.Client, m mqtt.Message) {
		c.deliver.enqueue(h, Message{Topic: m.Topic(), Payload: m.Payload()})
	}
}

// Publish sends payload and waits for the acknowledgement matching the QoS.
func (c *MQTTClient) Publish(ctx context.Context, topic string, payload []byte) error {
	if !c.Connected() {
		return unavailable(errNotConnected)
	}
	tok := c.client.Publish(topic, c.opts.QoS, false, payload)
	if err := waitToken(ctx, tok, c.opts.PublishTimeout); err != nil {
		return unavailable(fmt.Errorf("publish to %s: %w", topic, err))
	}
	return nil
}

// Subscribe registers h and subscribes immediately when connected. The
// subscription is restored after automatic reconnects.
func (c *MQTTClient) Subscribe(topic string, h Handler) error {
	c.mu.Lock()
	c.subs[topic] = h
	c.mu.Unlock()

	if !c.Connected() {
		return nil
	}
	tok := c.client.Subscribe(topic, c.opts.QoS, c.wrap(h))
	if err := waitToken(context.Background(), tok, c.opts.ConnectTimeout); err != nil {
		return unavailable(fmt.Errorf("subscribe to %s: %w", topic, err))
	}
	return nil
}

func (c *MQTTClient) State() State {
	return c.state.load()
}

func (c *MQTTClient) Connected() bool {
	return c.state.load() == StateConnected
}

// Close disconnects, allowing a short grace period for in-flight work.
func (c *MQTTClient) Close() error {
	if c.state.load() == StateClosed {
		return nil
	}
	c.state.set(StateClosed)
	c.client.Disconnect(250)
	c.deliver.stop()
	return nil
}

func waitToken(ctx context.Context, tok mqtt.Token, timeout time.Duration) error {
	timer, stop := afterTimeout(timeout)
	defer stop()

	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer:
		return errAckTimeout
	}
}
