// Package source implements channel stream backends.
package source

import (
	"context"
	"time"

	"channel_monitor/internal/model"
)

// RawMessage is an unnormalized message delivered by a stream.
type RawMessage struct {
	MessageID string
	Text      string
	Link      string
	At        time.Time
}

// Stream delivers raw messages for subscribed channels. The returned
// channel is closed by the stream once delivery has ended; a close while
// the caller's context is still live signals a stream failure.
// Unsubscribe stops delivery but need not close the channel immediately.
type Stream interface {
	Subscribe(ctx context.Context, ch model.Channel) (<-chan RawMessage, error)
	Unsubscribe(ch model.Channel)
}
