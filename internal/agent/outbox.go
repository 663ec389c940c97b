package agent

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mossy-p/fabcam/internal/models"
)

const (
	outboxSize  = 64
	sendTimeout = 5 * time.Second
)

// outbox delivers local ICE candidates in order without blocking the pion
// callback that produced them. Messages queue until open is called and are
// dropped when the queue is full.
type outbox struct {
	queue    chan models.SignalMessage
	send     func(context.Context, models.SignalMessage) error
	logger   zerolog.Logger
	gate     chan struct{}
	openOnce sync.Once
	done     chan struct{}
}

func newOutbox(ctx context.Context, send func(context.Context, models.SignalMessage) error, logger zerolog.Logger) *outbox {
	o := &outbox{
		queue:  make(chan models.SignalMessage, outboxSize),
		send:   send,
		logger: logger,
		gate:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go o.run(ctx)
	return o
}

// open lets queued and future messages through.
func (o *outbox) open() {
	o.openOnce.Do(func() { close(o.gate) })
}

func (o *outbox) enqueue(msg models.SignalMessage) bool {
	select {
	case o.queue <- msg:
		return true
	default:
		o.logger.Warn().Str("type", string(msg.Type)).Msg("outbox full, dropping message")
		return false
	}
}

func (o *outbox) run(ctx context.Context) {
	defer close(o.done)
	select {
	case <-ctx.Done():
		return
	case <-o.gate:
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-o.queue:
			sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
			if err := o.send(sendCtx, msg); err != nil {
				o.logger.Warn().Err(err).Str("type", string(msg.Type)).Msg("failed to post signal")
			}
			cancel()
		}
	}
}

// wait blocks until the worker has exited; the context given to newOutbox
// must be cancelled first.
func (o *outbox) wait() {
	<-o.done
}
