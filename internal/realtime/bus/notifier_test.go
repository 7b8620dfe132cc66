package bus

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	types "github.com/yungbote/postsecret-pipeline/internal/domain"
	"github.com/yungbote/postsecret-pipeline/internal/platform/logger"
	"github.com/yungbote/postsecret-pipeline/internal/realtime"
)

type recordingBus struct {
	msgs []realtime.Message
	err  error
}

func (b *recordingBus) Publish(_ context.Context, msg realtime.Message) error {
	b.msgs = append(b.msgs, msg)
	return b.err
}

func (b *recordingBus) Last(context.Context, string) (*realtime.Message, error) { return nil, nil }

func (b *recordingBus) StartForwarder(context.Context, func(realtime.Message), ...string) error {
	return nil
}

func (b *recordingBus) Close() error { return nil }

func TestJobNotifierPublishesSnapshot(t *testing.T) {
	rb := &recordingBus{}
	n := NewJobNotifier(logger.NewNop(), rb)
	job := &types.Job{ID: 7, UUID: uuid.New(), Kind: "upload", Status: "running", TotalItems: 3, ProcessedItems: 1}

	n.JobUpdated(context.Background(), job)
	if len(rb.msgs) != 1 {
		t.Fatalf("messages: want=1 got=%d", len(rb.msgs))
	}
	msg := rb.msgs[0]
	if msg.Channel != "job:"+job.UUID.String() || msg.Event != realtime.EventJobUpdated {
		t.Fatalf("message: got=%+v", msg)
	}
	snap, ok := msg.Data.(JobSnapshot)
	if !ok || snap.ID != 7 || snap.ProcessedItems != 1 || snap.Status != "running" {
		t.Fatalf("snapshot: got=%+v", msg.Data)
	}

	rb.err = errors.New("redis down")
	n.JobUpdated(context.Background(), job)
	n.JobUpdated(context.Background(), nil)
	if len(rb.msgs) != 2 {
		t.Fatalf("publish errors must be swallowed: got=%d", len(rb.msgs))
	}
}

func TestNewWithoutAddrIsNoop(t *testing.T) {
	b, err := New(logger.NewNop(), RedisConfig{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := b.Publish(context.Background(), realtime.Message{}); err != nil {
		t.Fatalf("noop publish: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("noop close: %v", err)
	}
}
