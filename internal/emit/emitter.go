// Package emit fans emitted verdicts and recommendations out to
// subscribers: in-process callbacks, NATS subjects and index sinks.
// Emission failures are logged and never block the event pipeline.
package emit

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/kestrelsec/kestrel-correlate/internal/logging"
	"github.com/kestrelsec/kestrel-correlate/internal/metrics"
	"github.com/kestrelsec/kestrel-correlate/internal/model"
)

// VerdictSink receives emitted verdicts for out-of-process consumption.
type VerdictSink interface {
	IndexVerdict(ctx context.Context, verdict *model.Verdict) error
}

// Emitter is the single emission point for verdicts and recommendations.
type Emitter struct {
	log            *logging.Logger
	conn           *nats.Conn
	verdictSubject string
	recSubject     string
	sinks          []VerdictSink

	mu            sync.RWMutex
	onVerdict     []func(*model.Verdict)
	onRec         []func(*model.Recommendation)
	recent        []*model.Verdict
	recentLimit   int
	verdictCount  uint64
	recCount      uint64
}

// Option configures an Emitter.
type Option func(*Emitter)

// WithNATS publishes verdicts and recommendations to the given subjects.
func WithNATS(conn *nats.Conn, verdictSubject, recSubject string) Option {
	return func(e *Emitter) {
		e.conn = conn
		e.verdictSubject = verdictSubject
		e.recSubject = recSubject
	}
}

// WithSink adds an index sink.
func WithSink(sink VerdictSink) Option {
	return func(e *Emitter) {
		e.sinks = append(e.sinks, sink)
	}
}

// NewEmitter creates an emitter keeping the most recent verdicts for the
// API surface.
func NewEmitter(log *logging.Logger, opts ...Option) *Emitter {
	e := &Emitter{
		log:         log.With("component", "emit"),
		recentLimit: 100,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OnVerdict registers a callback invoked for every emitted verdict.
func (e *Emitter) OnVerdict(fn func(*model.Verdict)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onVerdict = append(e.onVerdict, fn)
}

// OnRecommendationCreated registers a callback invoked for every new
// recommendation.
func (e *Emitter) OnRecommendationCreated(fn func(*model.Recommendation)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onRec = append(e.onRec, fn)
}

// EmitVerdict delivers the verdict to every registered consumer.
func (e *Emitter) EmitVerdict(ctx context.Context, verdict *model.Verdict) {
	metrics.VerdictsEmitted.WithLabelValues(strconv.FormatBool(len(verdict.Degraded) > 0)).Inc()

	e.mu.Lock()
	e.verdictCount++
	e.recent = append(e.recent, verdict)
	if len(e.recent) > e.recentLimit {
		e.recent = e.recent[len(e.recent)-e.recentLimit:]
	}
	callbacks := append(([]func(*model.Verdict))(nil), e.onVerdict...)
	e.mu.Unlock()

	for _, fn := range callbacks {
		fn(verdict)
	}

	if e.conn != nil && e.verdictSubject != "" {
		if data, err := json.Marshal(verdict); err == nil {
			if err := e.conn.Publish(e.verdictSubject, data); err != nil {
				e.log.WarnContext(ctx, "failed to publish verdict", "event_id", verdict.EventID, "error", err)
			}
		}
	}

	for _, sink := range e.sinks {
		if err := sink.IndexVerdict(ctx, verdict); err != nil {
			metrics.StorageFailures.Inc()
			e.log.WarnContext(ctx, "verdict sink failed", "event_id", verdict.EventID, "error", err)
		}
	}
}

// EmitRecommendation delivers a recommendation to every registered
// consumer.
func (e *Emitter) EmitRecommendation(ctx context.Context, rec *model.Recommendation) {
	metrics.RecommendationsCreated.Inc()

	e.mu.Lock()
	e.recCount++
	callbacks := append(([]func(*model.Recommendation))(nil), e.onRec...)
	e.mu.Unlock()

	for _, fn := range callbacks {
		fn(rec)
	}

	if e.conn != nil && e.recSubject != "" {
		if data, err := json.Marshal(rec); err == nil {
			if err := e.conn.Publish(e.recSubject, data); err != nil {
				e.log.WarnContext(ctx, "failed to publish recommendation", "id", rec.ID, "error", err)
			}
		}
	}
}

// Recent returns the most recently emitted verdicts, newest last.
func (e *Emitter) Recent() []*model.Verdict {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]*model.Verdict(nil), e.recent...)
}

// Counts returns the running totals of emitted verdicts and
// recommendations.
func (e *Emitter) Counts() (uint64, uint64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.verdictCount, e.recCount
}
