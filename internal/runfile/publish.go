package runfile

import (
	"context"

	"github.com/kueri-lab/trecpipe/pkg/kafka"
)

const publishBatchSize = 100

// Publisher is the subset of kafka.Producer the publishing sink uses.
type Publisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// Published is the message value written for every entry.
type Published struct {
	PassID string `json:"pass_id,omitempty"`
	Stage  string `json:"stage"`
	Entry
}

// PublishSink streams entries to Kafka keyed by topic id, batching writes.
// A failed publish fails the pass like a failed file write would.
type PublishSink struct {
	ctx     context.Context
	pub     Publisher
	passID  string
	stage   string
	pending []kafka.Event
}

func NewPublishSink(ctx context.Context, pub Publisher, passID, stage string) *PublishSink {
	return &PublishSink{
		ctx:     ctx,
		pub:     pub,
		passID:  passID,
		stage:   stage,
		pending: make([]kafka.Event, 0, publishBatchSize),
	}
}

func (s *PublishSink) Write(e Entry) error {
	s.pending = append(s.pending, kafka.Event{
		Key:   e.TopicID,
		Value: Published{PassID: s.passID, Stage: s.stage, Entry: e},
	})
	if len(s.pending) >= publishBatchSize {
		return s.flush()
	}
	return nil
}

func (s *PublishSink) flush() error {
	if len(s.pending) == 0 {
		return nil
	}
	err := s.pub.PublishBatch(s.ctx, s.pending)
	s.pending = s.pending[:0]
	return err
}

func (s *PublishSink) Close() error {
	return s.flush()
}

// Abort drops unpublished entries. Batches already sent stay published.
func (s *PublishSink) Abort() error {
	s.pending = s.pending[:0]
	return nil
}
