package agent

import (
	"context"
	"time"
)

// poller calls tick every interval until stopped.
type poller struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func startPoller(parent context.Context, interval time.Duration, tick func(context.Context)) *poller {
	ctx, cancel := context.WithCancel(parent)
	p := &poller{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tick(ctx)
			}
		}
	}()
	return p
}

// stop cancels the poller and waits for an in-flight tick to return.
func (p *poller) stop() {
	p.cancel()
	<-p.done
}
