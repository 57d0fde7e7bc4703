package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/twmb/franz-go/pkg/kgo"
)

// ---------------------------------------------------------------------------
// Event bus producer — Kafka (franz-go) with an in-memory stub
// ---------------------------------------------------------------------------

// Message is one record on the bus.
type Message struct {
	Topic     string
	Key       string // partition key
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// Producer publishes swap lifecycle, risk and audit events.
type Producer interface {
	// Publish sends synchronously and waits for broker acknowledgement.
	Publish(ctx context.Context, msg Message) error
	// PublishJSON marshals value and publishes synchronously.
	PublishJSON(ctx context.Context, topic, key string, value any) error
	// Flush delivers buffered records, returning how many were lost.
	Flush(timeout time.Duration) int
	// Close flushes and shuts the producer down.
	Close()
}

// ProducerOption configures a KafkaProducer.
type ProducerOption func(*producerConfig)

type producerConfig struct {
	instanceID         string
	schemaVersion      string
	maxBufferedRecords int
	linger             time.Duration
}

// WithInstanceID sets the client ID and the producer header value.
func WithInstanceID(id string) ProducerOption {
	return func(c *producerConfig) { c.instanceID = id }
}

// WithSchemaVersion sets the schema_version header on every record.
func WithSchemaVersion(v string) ProducerOption {
	return func(c *producerConfig) { c.schemaVersion = v }
}

// WithMaxBufferedRecords caps the records buffered before Produce blocks.
func WithMaxBufferedRecords(n int) ProducerOption {
	return func(c *producerConfig) { c.maxBufferedRecords = n }
}

// WithLinger sets the batching delay.
func WithLinger(d time.Duration) ProducerOption {
	return func(c *producerConfig) { c.linger = d }
}

// KafkaProducer publishes through franz-go with snappy compression and
// all-ISR acknowledgements. Every record carries producer,
// schema_version and event_id headers.
type KafkaProducer struct {
	client  *kgo.Client
	headers map[string]string

	closed    atomic.Bool
	published atomic.Int64
}

func NewProducer(brokers []string, opts ...ProducerOption) (*KafkaProducer, error) {
	cfg := &producerConfig{
		instanceID:         "solflow-producer",
		schemaVersion:      "1.0.0",
		maxBufferedRecords: 10000,
		linger:             5 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(cfg.instanceID),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(cfg.linger),
		kgo.MaxBufferedRecords(cfg.maxBufferedRecords),
	)
	if err != nil {
		return nil, fmt.Errorf("bus: create producer: %w", err)
	}

	log.Info().
		Strs("brokers", brokers).
		Str("client_id", cfg.instanceID).
		Msg("bus: kafka producer ready")

	return &KafkaProducer{
		client: client,
		headers: map[string]string{
			"producer":       cfg.instanceID,
			"schema_version": cfg.schemaVersion,
		},
	}, nil
}

func (p *KafkaProducer) Publish(ctx context.Context, msg Message) error {
	if p.closed.Load() {
		return fmt.Errorf("bus: producer closed")
	}

	results := p.client.ProduceSync(ctx, p.toRecord(msg))
	if err := results.FirstErr(); err != nil {
		log.Error().Err(err).Str("topic", msg.Topic).Str("key", msg.Key).Msg("bus: publish failed")
		return fmt.Errorf("bus: publish to %s: %w", msg.Topic, err)
	}
	p.published.Add(1)

	rec := results[0].Record
	log.Debug().
		Str("topic", rec.Topic).
		Int32("partition", rec.Partition).
		Int64("offset", rec.Offset).
		Msg("bus: published")
	return nil
}

func (p *KafkaProducer) PublishJSON(ctx context.Context, topic, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("bus: marshal event: %w", err)
	}
	return p.Publish(ctx, Message{Topic: topic, Key: key, Value: data})
}

// Flush waits up to timeout for buffered records. A non-zero return is
// the count of records that could not be delivered.
func (p *KafkaProducer) Flush(timeout time.Duration) int {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := p.client.Flush(ctx); err != nil {
		remaining := int(p.client.BufferedProduceRecords())
		log.Error().Err(err).Int("remaining", remaining).Msg("bus: flush failed")
		if remaining == 0 {
			remaining = 1
		}
		return remaining
	}
	return 0
}

func (p *KafkaProducer) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	p.client.Close()
	log.Info().Int64("published", p.published.Load()).Msg("bus: producer closed")
}

// toRecord builds the kgo record, merging the default headers under
// any caller-provided ones and stamping an event_id when absent.
func (p *KafkaProducer) toRecord(msg Message) *kgo.Record {
	headers := make([]kgo.RecordHeader, 0, len(msg.Headers)+3)
	seen := make(map[string]bool, len(msg.Headers))
	for k, v := range msg.Headers {
		headers = append(headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
		seen[k] = true
	}
	for k, v := range p.headers {
		if !seen[k] {
			headers = append(headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
		}
	}
	if !seen["event_id"] {
		headers = append(headers, kgo.RecordHeader{Key: "event_id", Value: []byte(uuid.New().String())})
	}

	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	return &kgo.Record{
		Topic:     msg.Topic,
		Key:       []byte(msg.Key),
		Value:     msg.Value,
		Headers:   headers,
		Timestamp: ts,
	}
}

// ---------------------------------------------------------------------------
// Stub
// ---------------------------------------------------------------------------

// StubProducer buffers messages in memory. Used when the bus is
// disabled and in tests.
type StubProducer struct {
	mu       sync.Mutex
	messages []StubMessage
}

// StubMessage is a captured publish.
type StubMessage struct {
	Topic string
	Key   string
	Value []byte
}

func NewStubProducer() *StubProducer {
	return &StubProducer{messages: make([]StubMessage, 0, 1024)}
}

// Messages returns a copy of everything published so far.
func (p *StubProducer) Messages() []StubMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]StubMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// MessagesFor returns the messages published to one topic.
func (p *StubProducer) MessagesFor(topic string) []StubMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []StubMessage
	for _, m := range p.messages {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

func (p *StubProducer) Publish(_ context.Context, msg Message) error {
	p.mu.Lock()
	p.messages = append(p.messages, StubMessage{Topic: msg.Topic, Key: msg.Key, Value: msg.Value})
	p.mu.Unlock()
	log.Debug().Str("topic", msg.Topic).Int("bytes", len(msg.Value)).Msg("bus: stub publish")
	return nil
}

func (p *StubProducer) PublishJSON(ctx context.Context, topic, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return p.Publish(ctx, Message{Topic: topic, Key: key, Value: data})
}

func (p *StubProducer) Flush(_ time.Duration) int { return 0 }

func (p *StubProducer) Close() {}
