package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/justiciasalta/sian-sync/internal/broker/messages"
)

type fakeWriter struct {
	last []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.last = append([]kafka.Message{}, msgs...)
	return w.err
}

func TestProducer_Publish(t *testing.T) {
	fw := &fakeWriter{}
	p := newProducerWithWriter(fw)

	require.NoError(t, p.Publish(context.Background(), "t", []byte("k"), []byte("v")))
	require.Len(t, fw.last, 1)
	require.Equal(t, "t", fw.last[0].Topic)
	require.Equal(t, []byte("k"), fw.last[0].Key)
	require.Equal(t, []byte("v"), fw.last[0].Value)
}

func TestProducer_PublishStatusChanged(t *testing.T) {
	fw := &fakeWriter{}
	p := newProducerWithWriter(fw)

	at := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	err := p.PublishStatusChanged(context.Background(), messages.StatusChanged{
		MovementID:        101,
		ActionID:          7,
		ElectronicAddress: "20123456789@pjsalta",
		TrackingCode:      "SIAN-0001",
		PreviousState:     "EN NOTIFICACIONES",
		State:             "ENTREGADA",
		StateAt:           &at,
		Finished:          true,
		ChangedAt:         at,
	})
	require.NoError(t, err)
	require.Len(t, fw.last, 1)
	require.Equal(t, messages.TopicStatusChanged, fw.last[0].Topic)
	require.Equal(t, []byte("SIAN-0001"), fw.last[0].Key)

	var got messages.StatusChanged
	require.NoError(t, json.Unmarshal(fw.last[0].Value, &got))
	require.Equal(t, "ENTREGADA", got.State)
	require.True(t, got.Finished)
}

func TestNewProducer(t *testing.T) {
	p := NewProducer([]string{"localhost:0"})
	require.NotNil(t, p)
}
