// Package kafka forwards moderation audit events to a Kafka topic. The sink
// sits behind a circuit breaker so a dead broker costs one failed produce per
// cooldown instead of one per event.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	audit "warden/pkg/platform/audit"
	"warden/pkg/platform/circuit"
)

// ErrCircuitOpen is returned by Append while the breaker rejects calls.
var ErrCircuitOpen = errors.New("kafka audit sink circuit open")

const defaultProduceTimeout = 5 * time.Second

type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Ping(ctx context.Context) error
	Close()
}

// Sink implements audit.Store on top of a franz-go client.
type Sink struct {
	producer producer
	topic    string
	breaker  *circuit.Breaker
	logger   *slog.Logger
	timeout  time.Duration
}

type Option func(*Sink)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sink) {
		s.logger = logger
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(s *Sink) {
		if b != nil {
			s.breaker = b
		}
	}
}

// WithProduceTimeout bounds each synchronous produce.
func WithProduceTimeout(d time.Duration) Option {
	return func(s *Sink) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// New connects to brokers and produces to topic.
func New(brokers []string, topic string, opts ...Option) (*Sink, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ClientID("warden-audit"),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}
	return newSink(client, topic, opts...), nil
}

func newSink(p producer, topic string, opts ...Option) *Sink {
	s := &Sink{
		producer: p,
		topic:    topic,
		breaker:  circuit.New("kafka-audit"),
		logger:   slog.New(slog.DiscardHandler),
		timeout:  defaultProduceTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append produces event keyed by subject id so one subject's history stays
// ordered within a partition.
func (s *Sink) Append(ctx context.Context, event audit.Event) error {
	if !s.breaker.Allow() {
		return ErrCircuitOpen
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode audit event: %w", err)
	}
	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(event.Subject.String()),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: "action", Value: []byte(event.Action)},
			{Key: "category", Value: []byte(event.Category)},
		},
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		if _, change := s.breaker.RecordFailure(); change.Opened {
			s.logger.WarnContext(ctx, "kafka audit sink circuit opened", "topic", s.topic, "error", err)
		}
		return fmt.Errorf("failed to produce audit event: %w", err)
	}
	if _, change := s.breaker.RecordSuccess(); change.Closed {
		s.logger.InfoContext(ctx, "kafka audit sink circuit closed", "topic", s.topic)
	}
	return nil
}

// Health pings the cluster.
func (s *Sink) Health(ctx context.Context) error {
	return s.producer.Ping(ctx)
}

func (s *Sink) Close() {
	s.producer.Close()
}
