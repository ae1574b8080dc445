// Package listener connects channel streams to the match pipeline.
package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"channel_monitor/internal/model"
	"channel_monitor/internal/source"
	"channel_monitor/internal/storage"
)

// ErrStreamClosed reports a source stream that died while monitoring was
// still supposed to run.
var ErrStreamClosed = errors.New("stream closed")

// Sink consumes normalized messages, one at a time per channel.
type Sink interface {
	Process(ctx context.Context, msg model.Message) error
}

// Listener subscribes every active channel on its stream backend and
// feeds arriving messages to the sink. Messages from one channel are
// processed sequentially; channels proceed independently.
type Listener struct {
	store   storage.Storage
	streams map[model.ChannelKind]source.Stream
	sink    Sink
	log     *slog.Logger
}

// New creates a Listener over the given stream backends.
func New(store storage.Storage, streams map[model.ChannelKind]source.Stream, sink Sink, log *slog.Logger) *Listener {
	return &Listener{store: store, streams: streams, sink: sink, log: log}
}

// Run subscribes all active channels and blocks until the context is
// cancelled or a stream fails. A stream failure returns an error so the
// caller can treat the whole session as failed and restart it.
func (l *Listener) Run(ctx context.Context) error {
	channels, err := l.store.ListChannels(ctx, true)
	if err != nil {
		return fmt.Errorf("list channels: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errc := make(chan error, len(channels)+1)
	var subscribed []subscription

	for _, ch := range channels {
		stream, ok := l.streams[ch.Kind]
		if !ok {
			l.log.Warn("no stream backend for channel", "channel", ch.ChannelID, "kind", ch.Kind)
			continue
		}
		msgs, err := stream.Subscribe(ctx, ch)
		if err != nil {
			cancel()
			wg.Wait()
			l.unsubscribe(subscribed)
			return fmt.Errorf("subscribe %s: %w", ch.ChannelID, err)
		}
		subscribed = append(subscribed, subscription{ch: ch, stream: stream})

		l.log.Info("listening", "channel", ch.ChannelID, "kind", ch.Kind)
		wg.Add(1)
		go func(ch model.Channel, msgs <-chan source.RawMessage) {
			defer wg.Done()
			if err := l.consume(ctx, ch, msgs); err != nil {
				errc <- err
			}
		}(ch, msgs)
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errc:
		cancel()
	}
	wg.Wait()
	l.unsubscribe(subscribed)
	return runErr
}

type subscription struct {
	ch     model.Channel
	stream source.Stream
}

func (l *Listener) unsubscribe(subs []subscription) {
	for _, s := range subs {
		s.stream.Unsubscribe(s.ch)
	}
}

func (l *Listener) consume(ctx context.Context, ch model.Channel, msgs <-chan source.RawMessage) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("channel %s: %w", ch.ChannelID, ErrStreamClosed)
			}
			msg := model.Message{
				ChannelID:  ch.ID,
				MessageID:  raw.MessageID,
				Text:       raw.Text,
				Link:       raw.Link,
				ReceivedAt: raw.At,
			}
			// A failed message is logged and skipped so one bad input
			// cannot wedge the whole channel.
			if err := l.sink.Process(ctx, msg); err != nil {
				l.log.Error("process message",
					"channel", ch.ChannelID, "message_id", raw.MessageID, "error", err)
			}
			if err := l.store.UpdateChannelCursor(ctx, ch.ID, raw.MessageID); err != nil && ctx.Err() == nil {
				l.log.Error("update cursor", "channel", ch.ChannelID, "error", err)
			}
		}
	}
}
