package syncapi

import (
	"context"
	"sync"
	"time"

	"github.com/emarzona/backend/internal/errors"
	"github.com/emarzona/backend/internal/logging"
)

// DefaultIdempotencyRetention keeps keys well past the client's 7 day
// MaxAge, so a key is never forgotten while its action may still be retried.
const DefaultIdempotencyRetention = 30 * 24 * time.Hour

// KeyPruner deletes idempotency records older than a cutoff.
type KeyPruner interface {
	PruneIdempotencyKeys(ctx context.Context, cutoff time.Time) (int64, error)
}

// Pruner periodically deletes expired idempotency records.
type Pruner struct {
	store     KeyPruner
	retention time.Duration
	interval  time.Duration
	now       func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewPruner creates a Pruner. Zero durations select the defaults
// (30 days retention, hourly runs).
func NewPruner(s KeyPruner, retention, interval time.Duration) *Pruner {
	if retention <= 0 {
		retention = DefaultIdempotencyRetention
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Pruner{store: s, retention: retention, interval: interval, now: time.Now}
}

// PruneOnce deletes records older than the retention window.
func (p *Pruner) PruneOnce(ctx context.Context) (int64, error) {
	cutoff := p.now().Add(-p.retention)
	n, err := p.store.PruneIdempotencyKeys(ctx, cutoff)
	if err != nil {
		logging.ErrorWithCode("Pruning idempotency keys failed", string(errors.CodeOf(err)), err, nil)
		return 0, err
	}
	if n > 0 {
		logging.Info("Pruned idempotency keys", map[string]interface{}{
			"removed": n,
			"cutoff":  cutoff.UTC().Format(time.RFC3339),
		})
	}
	return n, nil
}

// Start runs PruneOnce now and then every interval until Stop.
func (p *Pruner) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		p.PruneOnce(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.PruneOnce(ctx)
			}
		}
	}()
}

// Stop halts the loop and waits for it to exit.
func (p *Pruner) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
}
