package watch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"pebblerun-bridge/internal/protocol"
	"pebblerun-bridge/internal/transport"
)

const (
	outboxCapacity   = 16
	outboxMaxRetries = 3
	outboxRetryDelay = 200 * time.Millisecond
)

// Outbox the watch's outbound message queue. Send failures (link busy,
// buffer full) are retried here rather than specially handled per field;
// messages that still fail after the retry budget are dropped with a log.
type Outbox struct {
	tr     transport.Transport
	logger *zap.Logger
	queue  chan protocol.Message
}

// NewOutbox creates a bounded outbound queue over the given transport.
func NewOutbox(tr transport.Transport, logger *zap.Logger) *Outbox {
	return &Outbox{
		tr:     tr,
		logger: logger,
		queue:  make(chan protocol.Message, outboxCapacity),
	}
}

// Enqueue queues a message for delivery. When the queue is full the message
// is dropped; heart-rate values are superseded by the next reading anyway.
func (o *Outbox) Enqueue(msg protocol.Message) {
	select {
	case o.queue <- msg:
	default:
		o.logger.Warn("Outbox full, dropping message")
	}
}

// Run pumps the queue until the context is cancelled.
func (o *Outbox) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-o.queue:
			o.deliver(ctx, msg)
		}
	}
}

// deliver sends one message, retrying transient failures.
func (o *Outbox) deliver(ctx context.Context, msg protocol.Message) {
	payload, err := msg.Encode()
	if err != nil {
		o.logger.Error("Failed to encode outbound message", zap.Error(err))
		return
	}

	for attempt := 1; attempt <= outboxMaxRetries; attempt++ {
		if err := o.tr.Send(ctx, payload); err == nil {
			return
		} else if attempt == outboxMaxRetries {
			o.logger.Warn("Dropping outbound message after retries",
				zap.Int("attempts", attempt),
				zap.Error(err),
			)
			return
		}

		timer := time.NewTimer(outboxRetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
