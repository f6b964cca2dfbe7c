package reconcile

import (
	"context"
	"sync"
	"time"
)

// Poller refreshes the active conversation on a fixed interval. Ticks never
// overlap: a slow fetch delays the next one.
type Poller struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// StartPolling runs until ctx is cancelled or Stop is called.
func (e *Engine) StartPolling(ctx context.Context) *Poller {
	ctx, cancel := context.WithCancel(ctx)
	p := &Poller{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(e.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.poll(ctx)
			}
		}
	}()
	return p
}

// Stop cancels any in-flight fetch and waits for the loop to exit.
func (p *Poller) Stop() {
	p.once.Do(p.cancel)
	<-p.done
}
