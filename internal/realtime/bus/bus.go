package bus

import (
	"context"

	"github.com/yungbote/postsecret-pipeline/internal/realtime"
)

// Bus carries job progress events between the server, workers and watchers.
type Bus interface {
	Publish(ctx context.Context, msg realtime.Message) error
	// Last returns the latest retained event on channel, or nil.
	Last(ctx context.Context, channel string) (*realtime.Message, error)
	// StartForwarder streams events on channels, or on every job channel when none are given.
	StartForwarder(ctx context.Context, onMsg func(m realtime.Message), channels ...string) error
	Close() error
}

type noopBus struct{}

// NewNoopBus drops every message; it is used when Redis is not configured.
func NewNoopBus() Bus { return noopBus{} }

func (noopBus) Publish(context.Context, realtime.Message) error { return nil }

func (noopBus) Last(context.Context, string) (*realtime.Message, error) { return nil, nil }

func (noopBus) StartForwarder(context.Context, func(m realtime.Message), ...string) error { return nil }

func (noopBus) Close() error { return nil }
