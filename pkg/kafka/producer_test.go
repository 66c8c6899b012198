package kafka

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kueri-lab/trecpipe/pkg/config"
)

type payload struct {
	Topic string  `json:"topic"`
	Score float64 `json:"score"`
}

func TestEncodeBatchRoundTrip(t *testing.T) {
	msgs, err := EncodeBatch([]Event{
		{Key: "1", Value: payload{Topic: "1", Score: 0.5}},
		{Key: "2", Value: payload{Topic: "2", Score: 1.25}},
	})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, []byte("2"), msgs[1].Key)

	got, err := DecodeJSON[payload](msgs[1].Value)
	require.NoError(t, err)
	assert.Equal(t, payload{Topic: "2", Score: 1.25}, got)
}

func TestEncodeBatchRejectsUnmarshalable(t *testing.T) {
	_, err := EncodeBatch([]Event{{Key: "x", Value: make(chan int)}})
	require.Error(t, err)
}

func TestPublishBatchEmptyIsNoop(t *testing.T) {
	p := NewProducer(config.KafkaConfig{Brokers: []string{"127.0.0.1:1"}}, "run-entries")
	defer p.Close()
	require.NoError(t, p.PublishBatch(context.Background(), nil))
}

func TestPublishAgainstBroker(t *testing.T) {
	broker := os.Getenv("TP_TEST_KAFKA_BROKER")
	if broker == "" {
		broker = "localhost:9092"
	}
	conn, err := net.DialTimeout("tcp", broker, 500*time.Millisecond)
	if err != nil {
		t.Skipf("kafka not reachable at %s: %v", broker, err)
	}
	conn.Close()

	p := NewProducer(config.KafkaConfig{Brokers: []string{broker}}, "trecpipe-test")
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, p.Ping(ctx))
	require.NoError(t, p.Publish(ctx, Event{Key: "1", Value: payload{Topic: "1", Score: 2}}))
}
