package sync

import (
	"context"
	"sync"
	"time"

	"github.com/emarzona/backend/internal/logging"
)

// Pinger checks whether the sync endpoint is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Prober polls a Pinger and reports connectivity transitions. It stands in
// for the host platform's online/offline signal when none is available.
type Prober struct {
	pinger   Pinger
	interval time.Duration
	timeout  time.Duration
	onChange func(online bool)

	mu      sync.Mutex
	known   bool
	online  bool
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewProber creates a Prober. onChange runs on every transition, including
// the first successful or failed probe.
func NewProber(pinger Pinger, interval time.Duration, onChange func(online bool)) *Prober {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Prober{
		pinger:   pinger,
		interval: interval,
		timeout:  5 * time.Second,
		onChange: onChange,
	}
}

// Start begins polling until Stop is called or ctx is done.
func (p *Prober) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	p.wg.Add(1)
	go p.loop(ctx)
}

// Stop halts polling and waits for the loop to exit.
func (p *Prober) Stop() {
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

// Online returns the last probe result.
func (p *Prober) Online() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

// Check probes once and returns the result, firing onChange on a transition.
func (p *Prober) Check(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	online := p.pinger.Ping(pingCtx) == nil

	p.mu.Lock()
	changed := !p.known || p.online != online
	p.known = true
	p.online = online
	p.mu.Unlock()

	if changed {
		logging.Debug("Connectivity probe changed", map[string]interface{}{"online": online})
		if p.onChange != nil {
			p.onChange(online)
		}
	}
	return online
}

func (p *Prober) loop(ctx context.Context) {
	defer p.wg.Done()

	p.Check(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.Check(ctx)
		}
	}
}
