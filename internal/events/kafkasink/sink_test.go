package kafkasink

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/envieii/internal/domain"
	"github.com/soyeahso/envieii/internal/events"
	"github.com/soyeahso/envieii/internal/logging"
)

func newSink(t *testing.T) (*Sink, *mocks.SyncProducer, *events.Bus) {
	t.Helper()
	log := logging.New(nil, "silent")
	producer := mocks.NewSyncProducer(t, NewProducerConfig("test"))
	sink := NewWithProducer(producer, "envieii.message-status", log)
	sink.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	bus := events.NewBus(log)
	sink.Attach(bus)
	return sink, producer, bus
}

func TestExportsMessageStatus(t *testing.T) {
	sink, producer, bus := newSink(t)

	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(pm *sarama.ProducerMessage) error {
		assert.Equal(t, "envieii.message-status", pm.Topic)
		key, err := pm.Key.Encode()
		require.NoError(t, err)
		assert.Equal(t, "u1", string(key))

		value, err := pm.Value.Encode()
		require.NoError(t, err)
		var rec Record
		require.NoError(t, json.Unmarshal(value, &rec))
		assert.Equal(t, "message:status", rec.Event)
		assert.Equal(t, int64(1_700_000_000_000), rec.At)
		require.NotNil(t, rec.Message)
		assert.Equal(t, domain.StatusCompleted, rec.Message.Status)
		return nil
	})

	bus.Publish(context.Background(), events.MessageStatus{Message: domain.Message{
		ID: "m1", UserID: "u1", Content: "oi", Status: domain.StatusCompleted, Source: domain.SourceChannel,
	}})
	require.NoError(t, sink.Close())
}

func TestExportsSessionCleaned(t *testing.T) {
	sink, producer, bus := newSink(t)

	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
		var rec Record
		if err := json.Unmarshal(value, &rec); err != nil {
			return err
		}
		if rec.Event != "session:cleaned" || rec.UserID != "u9" || rec.IdleMs != 90_000 {
			return errors.New("unexpected record")
		}
		return nil
	})

	bus.Publish(context.Background(), events.SessionCleaned{UserID: "u9", IdleFor: 90 * time.Second})
	require.NoError(t, sink.Close())
}

func TestProducerErrorIsReturned(t *testing.T) {
	sink, producer, _ := newSink(t)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	err := sink.send(Record{Event: "message:status", UserID: "u1"})
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, sink.Close())
}

func TestDetach(t *testing.T) {
	sink, _, bus := newSink(t)
	sink.Detach(bus)

	// No expectation is set, so a send would fail the mock producer.
	bus.Publish(context.Background(), events.SessionCleaned{UserID: "u1"})
	require.NoError(t, sink.Close())
}

func TestNewRequiresBrokers(t *testing.T) {
	_, err := New(Config{Topic: "x"}, logging.New(nil, "silent"))
	assert.Error(t, err)
}
