// Package kafkasink exports bus events to a Kafka topic.
package kafkasink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/soyeahso/envieii/internal/domain"
	"github.com/soyeahso/envieii/internal/events"
	"github.com/soyeahso/envieii/internal/logging"
)

const handlerName = "kafkasink"

// Config selects the cluster and topic.
type Config struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// Record is the JSON value written for each exported event.
type Record struct {
	Event   string          `json:"event"`
	UserID  string          `json:"userId"`
	At      int64           `json:"at"`
	Message *domain.Message `json:"message,omitempty"`
	IdleMs  int64           `json:"idleMs,omitempty"`
}

// Sink publishes message status and session cleanup events, keyed by user
// so one user's records stay ordered within a partition.
type Sink struct {
	producer sarama.SyncProducer
	topic    string
	log      *logging.Logger
	now      func() time.Time
}

// NewProducerConfig returns the producer settings Sink expects.
func NewProducerConfig(clientID string) *sarama.Config {
	cfg := sarama.NewConfig()
	if clientID != "" {
		cfg.ClientID = clientID
	}
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Retry.Max = 3
	cfg.Version = sarama.V2_8_0_0
	return cfg
}

// New dials the brokers and returns a Sink.
func New(cfg Config, log *logging.Logger) (*Sink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	producer, err := sarama.NewSyncProducer(cfg.Brokers, NewProducerConfig(cfg.ClientID))
	if err != nil {
		return nil, fmt.Errorf("kafka: creating producer: %w", err)
	}
	return NewWithProducer(producer, cfg.Topic, log), nil
}

// NewWithProducer wraps an existing producer.
func NewWithProducer(p sarama.SyncProducer, topic string, log *logging.Logger) *Sink {
	return &Sink{producer: p, topic: topic, log: log.Sub("kafka"), now: time.Now}
}

// Attach subscribes the sink to bus.
func (s *Sink) Attach(bus *events.Bus) {
	events.Subscribe(bus, handlerName, func(_ context.Context, ev events.MessageStatus) error {
		msg := ev.Message
		return s.send(Record{Event: string(ev.Kind()), UserID: msg.UserID, Message: &msg})
	})
	events.Subscribe(bus, handlerName, func(_ context.Context, ev events.SessionCleaned) error {
		return s.send(Record{Event: string(ev.Kind()), UserID: ev.UserID, IdleMs: ev.IdleFor.Milliseconds()})
	})
}

// Detach unsubscribes the sink from bus.
func (s *Sink) Detach(bus *events.Bus) {
	bus.Off(events.KindMessageStatus, handlerName)
	bus.Off(events.KindSessionCleaned, handlerName)
}

func (s *Sink) send(rec Record) error {
	rec.At = s.now().UnixMilli()
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("kafka: encoding %s: %w", rec.Event, err)
	}
	partition, offset, err := s.producer.SendMessage(&sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(rec.UserID),
		Value: sarama.ByteEncoder(data),
	})
	if err != nil {
		return fmt.Errorf("kafka: producing %s: %w", rec.Event, err)
	}
	s.log.Trace().Str("event", rec.Event).Int32("partition", partition).Int64("offset", offset).Msg("exported")
	return nil
}

// Close flushes and closes the producer.
func (s *Sink) Close() error {
	return s.producer.Close()
}
