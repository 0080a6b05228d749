package broker

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/IBM/sarama"
	xlog "github.com/yoyo3287258/wol-gateway/internal/log"
)

// KafkaClient publishes with a sync producer and consumes every partition of
// a subscribed topic from the newest offset.
type KafkaClient struct {
	client   io.Closer
	producer sarama.SyncProducer
	consumer sarama.Consumer
	opts     Options
	state    stateValue
	deliver  *dispatcher

	mu         sync.Mutex
	partitions []sarama.PartitionConsumer
	wg         sync.WaitGroup
}

func newSaramaConfig(opts Options) *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = clientID(opts.ClientID)

	if opts.ConnectTimeout > 0 {
		config.Net.DialTimeout = opts.ConnectTimeout
	}
	if opts.Username != "" {
		config.Net.SASL.Enable = true
		config.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		config.Net.SASL.User = opts.Username
		config.Net.SASL.Password = opts.Password
	}
	if opts.TLSConfig != nil {
		config.Net.TLS.Enable = true
		config.Net.TLS.Config = opts.TLSConfig
	}

	// the caller decides about retries
	config.Metadata.Retry.Max = 0
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 0
	config.Producer.Return.Successes = true
	if opts.PublishTimeout > 0 {
		config.Producer.Timeout = opts.PublishTimeout
	}

	config.Consumer.Return.Errors = true
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	return config
}

func dialKafka(ctx context.Context, opts Options) (*KafkaClient, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable(err)
	}

	addr := net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
	client, err := sarama.NewClient([]string{addr}, newSaramaConfig(opts))
	if err != nil {
		return nil, unavailable(fmt.Errorf("connect %s: %w", addr, err))
	}

	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		client.Close()
		return nil, unavailable(fmt.Errorf("create producer: %w", err))
	}

	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		producer.Close()
		client.Close()
		return nil, unavailable(fmt.Errorf("create consumer: %w", err))
	}

	opts.Logger.Debug().
		Str(xlog.FieldEvent, "broker.connected").
		Str(xlog.FieldDriver, "kafka").
		Str(xlog.FieldBroker, addr).
		Msg("connected to broker")

	return newKafkaClient(client, producer, consumer, opts), nil
}

func newKafkaClient(client io.Closer, producer sarama.SyncProducer, consumer sarama.Consumer, opts Options) *KafkaClient {
	c := &KafkaClient{
		client:   client,
		producer: producer,
		consumer: consumer,
		opts:     opts,
		deliver:  newDispatcher(),
	}
	c.state.onChange = opts.OnStateChange
	c.state.set(StateConnected)
	return c
}

// Publish sends payload as the record value. sarama's producer timeout bounds the wait.
func (c *KafkaClient) Publish(ctx context.Context, topic string, payload []byte) error {
	if !c.Connected() {
		return unavailable(errNotConnected)
	}
	if err := ctx.Err(); err != nil {
		return unavailable(err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(payload),
	}
	if _, _, err := c.producer.SendMessage(msg); err != nil {
		return unavailable(fmt.Errorf("publish to %s: %w", topic, err))
	}
	return nil
}

// Subscribe consumes every partition of topic from the newest offset. All
// partitions feed one dispatcher, so h is never called concurrently.
func (c *KafkaClient) Subscribe(topic string, h Handler) error {
	if c.consumer == nil {
		return unavailable(errNotConnected)
	}

	partitions, err := c.consumer.Partitions(topic)
	if err != nil {
		return unavailable(fmt.Errorf("list partitions of %s: %w", topic, err))
	}

	for _, partition := range partitions {
		pc, err := c.consumer.ConsumePartition(topic, partition, sarama.OffsetNewest)
		if err != nil {
			return unavailable(fmt.Errorf("consume %s/%d: %w", topic, partition, err))
		}

		c.mu.Lock()
		c.partitions = append(c.partitions, pc)
		c.mu.Unlock()

		c.wg.Add(2)
		go func() {
			defer c.wg.Done()
			for msg := range pc.Messages() {
				c.deliver.enqueue(h, Message{Topic: msg.Topic, Payload: msg.Value})
			}
		}()
		go func() {
			defer c.wg.Done()
			for err := range pc.Errors() {
				c.opts.Logger.Warn().Err(err).
					Str(xlog.FieldEvent, "broker.consume_error").
					Str(xlog.FieldTopic, topic).
					Msg("partition consumer error")
			}
		}()
	}
	return nil
}

func (c *KafkaClient) State() State {
	return c.state.load()
}

func (c *KafkaClient) Connected() bool {
	return c.state.load() == StateConnected
}

// Close stops partition consumers first, as sarama requires, then the rest.
func (c *KafkaClient) Close() error {
	if c.state.load() == StateClosed {
		return nil
	}
	c.state.set(StateClosed)

	var errs []error
	c.mu.Lock()
	partitions := c.partitions
	c.partitions = nil
	c.mu.Unlock()

	for _, pc := range partitions {
		pc.AsyncClose()
	}
	c.wg.Wait()
	c.deliver.stop()

	if c.consumer != nil {
		if err := c.consumer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.producer != nil {
		if err := c.producer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.client != nil {
		if err := c.client.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close kafka client: %v", errs)
	}
	return nil
}
