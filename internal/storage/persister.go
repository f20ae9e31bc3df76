package storage

import (
	"context"
	"sync"
	"time"

	"github.com/kestrelsec/kestrel-correlate/internal/behavioral"
	"github.com/kestrelsec/kestrel-correlate/internal/logging"
	"github.com/kestrelsec/kestrel-correlate/internal/metrics"
	"github.com/kestrelsec/kestrel-correlate/internal/model"
)

const persistTimeout = 5 * time.Second

// Persister applies writes asynchronously so persistence never blocks
// the event pipeline. When the queue is full, writes are dropped and
// counted: in-memory state remains canonical and the next snapshot
// reconciles.
type Persister struct {
	repo    Repository
	log     *logging.Logger
	queue   chan func(context.Context) error
	stopped chan struct{}

	// mu orders enqueues against Stop's close of the queue; a write
	// arriving during shutdown is dropped instead of panicking.
	mu     sync.RWMutex
	closed bool
}

// NewPersister creates and starts a persister over the repository.
func NewPersister(repo Repository, queueSize int, log *logging.Logger) *Persister {
	p := &Persister{
		repo:    repo,
		log:     log.With("component", "persister"),
		queue:   make(chan func(context.Context) error, queueSize),
		stopped: make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *Persister) run() {
	defer close(p.stopped)
	for op := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if err := op(ctx); err != nil {
			metrics.StorageFailures.Inc()
			p.log.Warn("persist failed", "error", err)
		}
		cancel()
	}
}

func (p *Persister) enqueue(op func(context.Context) error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		metrics.StorageFailures.Inc()
		p.log.Warn("persister stopped, dropping write")
		return
	}
	select {
	case p.queue <- op:
	default:
		metrics.StorageFailures.Inc()
		p.log.Warn("persist queue full, dropping write")
	}
}

// QueueBaseline schedules a baseline write.
func (p *Persister) QueueBaseline(b *behavioral.Baseline) {
	p.enqueue(func(ctx context.Context) error { return p.repo.SaveBaseline(ctx, b) })
}

// QueueEdge schedules an edge write.
func (p *Persister) QueueEdge(e model.CorrelationEdge) {
	p.enqueue(func(ctx context.Context) error { return p.repo.SaveEdge(ctx, e) })
}

// QueueRule schedules a rule write.
func (p *Persister) QueueRule(r *model.DetectionRule) {
	p.enqueue(func(ctx context.Context) error { return p.repo.SaveRule(ctx, r) })
}

// QueueRecommendation schedules a recommendation write.
func (p *Persister) QueueRecommendation(rec *model.Recommendation) {
	p.enqueue(func(ctx context.Context) error { return p.repo.SaveRecommendation(ctx, rec) })
}

// Stop drains outstanding writes and waits for the worker to finish.
// Writes queued after Stop are dropped.
func (p *Persister) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.stopped
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()
	<-p.stopped
}
