// Package orchestrator is the serialization point of the pipeline: it
// pulls events off sharded intake queues, runs behavioral and graph
// analysis, consults the enrichment and rule-oracle collaborators and
// emits exactly one verdict per event.
package orchestrator

import (
	"context"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kestrelsec/kestrel-correlate/internal/behavioral"
	"github.com/kestrelsec/kestrel-correlate/internal/config"
	"github.com/kestrelsec/kestrel-correlate/internal/dedup"
	"github.com/kestrelsec/kestrel-correlate/internal/emit"
	"github.com/kestrelsec/kestrel-correlate/internal/enrichment"
	"github.com/kestrelsec/kestrel-correlate/internal/graph"
	"github.com/kestrelsec/kestrel-correlate/internal/intake"
	"github.com/kestrelsec/kestrel-correlate/internal/logging"
	"github.com/kestrelsec/kestrel-correlate/internal/metrics"
	"github.com/kestrelsec/kestrel-correlate/internal/model"
	"github.com/kestrelsec/kestrel-correlate/internal/oracle"
	"github.com/kestrelsec/kestrel-correlate/internal/rules"
	"github.com/kestrelsec/kestrel-correlate/internal/storage"
)

// Degradation markers recorded on verdicts whose collaborators failed.
const (
	DegradedGraph      = "graph_query_timeout"
	DegradedEnrichment = "enrichment_failure"
	DegradedOracle     = "oracle_timeout"
)

// ErrQueueFull is returned when a worker queue cannot accept the event.
var ErrQueueFull = fmt.Errorf("intake queue full")

// Deps bundles the orchestrator's collaborators. Persister and Dedup may
// be nil when persistence or Redis are disabled.
type Deps struct {
	Behavioral *behavioral.Engine
	Graph      *graph.Engine
	Registry   *rules.Registry
	Oracle     oracle.RuleOracle
	Enricher   enrichment.Enricher
	Emitter    *emit.Emitter
	Dedup      *dedup.Cache
	Persister  *storage.Persister
}

// Orchestrator owns the worker pool. Workers are sharded by a hash of
// the event's primary entity ID so all events touching the same entity
// are processed in arrival order; there is no ordering across entities.
type Orchestrator struct {
	cfg     config.Config
	log     *logging.Logger
	deps    Deps
	queues  []chan *model.NormalizedEvent
	wg      sync.WaitGroup
	baseCtx context.Context
	cancel  context.CancelFunc

	// mu orders queue sends against Stop's close: Submit holds the read
	// lock across the accepting check and the send, Stop holds the write
	// lock while closing. Without it a submission racing Stop could send
	// on a closed channel.
	mu        sync.RWMutex
	accepting atomic.Bool
	stopOnce  sync.Once
}

// New creates a stopped orchestrator.
func New(cfg config.Config, deps Deps, log *logging.Logger) *Orchestrator {
	baseCtx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:     cfg,
		log:     log.With("component", "orchestrator"),
		deps:    deps,
		baseCtx: baseCtx,
		cancel:  cancel,
	}
	o.queues = make([]chan *model.NormalizedEvent, cfg.Pipeline.Workers)
	for i := range o.queues {
		o.queues[i] = make(chan *model.NormalizedEvent, cfg.Pipeline.QueueSize)
	}
	metrics.QueueCapacity.Set(float64(cfg.Pipeline.QueueSize))
	return o
}

// Start launches the worker pool.
func (o *Orchestrator) Start() {
	for i := range o.queues {
		o.wg.Add(1)
		go o.worker(i)
	}
	o.accepting.Store(true)
	o.log.Info("orchestrator started", "workers", len(o.queues))
}

// Submit validates and enqueues an event. Validation failures are
// counted and rejected; events whose verdict already exists are skipped.
func (o *Orchestrator) Submit(ctx context.Context, event *model.NormalizedEvent) error {
	if !o.accepting.Load() {
		return fmt.Errorf("orchestrator is shutting down")
	}

	if err := intake.Validate(event); err != nil {
		metrics.ValidationFailures.Inc()
		return err
	}

	if o.deps.Dedup != nil {
		seen, err := o.deps.Dedup.Seen(ctx, event.ID)
		if err != nil {
			// Fail open: a broken dedup cache must not stall intake.
			o.log.WarnContext(ctx, "dedup check failed", "event_id", event.ID, "error", err)
		} else if seen {
			metrics.DuplicateEvents.Inc()
			return nil
		}
	}

	shard := shardFor(event.PrimaryEntity(), len(o.queues))

	o.mu.RLock()
	defer o.mu.RUnlock()
	if !o.accepting.Load() {
		return fmt.Errorf("orchestrator is shutting down")
	}
	select {
	case o.queues[shard] <- event:
		metrics.QueueDepth.WithLabelValues(strconv.Itoa(shard)).Set(float64(len(o.queues[shard])))
		return nil
	default:
		return ErrQueueFull
	}
}

func (o *Orchestrator) worker(id int) {
	defer o.wg.Done()
	label := strconv.Itoa(id)
	for event := range o.queues[id] {
		metrics.QueueDepth.WithLabelValues(label).Set(float64(len(o.queues[id])))
		o.process(event)
	}
}

// process runs the full per-event pipeline: behavioral and graph
// analysis concurrently, a join barrier, enrichment, rule evaluation,
// verdict assembly and emission. Collaborator failures degrade to
// neutral results; once past intake validation an event always yields a
// verdict.
func (o *Orchestrator) process(event *model.NormalizedEvent) {
	start := time.Now()
	ctx := o.baseCtx

	var (
		behavioralResult *model.BehavioralResult
		corrResult       *model.CorrelationResult
		graphDegraded    bool
		wg               sync.WaitGroup
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		// Score first, then learn: analysis must read the pre-update
		// baseline.
		behavioralResult = o.deps.Behavioral.Analyze(event)
		o.deps.Behavioral.UpdateBaseline(event)
	}()
	go func() {
		defer wg.Done()
		gctx, cancel := context.WithTimeout(ctx, o.cfg.Graph.QueryTimeout)
		defer cancel()
		res, err := o.deps.Graph.Correlate(gctx, event)
		if err != nil {
			o.log.WarnContext(ctx, "graph correlation skipped", "event_id", event.ID, "error", err)
			graphDegraded = true
			res = &model.CorrelationResult{
				Correlations: []model.CorrelationEdge{},
				ThreatChains: []model.ThreatChain{},
			}
		}
		corrResult = res
	}()
	wg.Wait()

	var degraded []string
	if graphDegraded {
		degraded = append(degraded, DegradedGraph)
	}

	enrichmentResult, ok := o.enrich(ctx, event)
	if !ok {
		degraded = append(degraded, DegradedEnrichment)
	}

	matched, oracleDegraded := o.evaluateRules(ctx, event, behavioralResult, corrResult, enrichmentResult)
	if oracleDegraded {
		degraded = append(degraded, DegradedOracle)
	}

	verdict := &model.Verdict{
		EventID:           event.ID,
		Timestamp:         time.Now().UTC(),
		MatchedRules:      matched,
		FalsePositiveRisk: falsePositiveRisk(behavioralResult, corrResult),
		Behavioral:        behavioralResult,
		Correlation:       corrResult,
		Enrichment:        enrichmentResult,
		Degraded:          degraded,
	}

	if event.Risk.Confidence > o.cfg.Pipeline.RecommendationConfidence &&
		!o.deps.Registry.CoversEventType(event.EventType) {
		verdict.NeedsRecommendation = true
	}

	if o.deps.Dedup != nil {
		first, err := o.deps.Dedup.MarkProcessed(ctx, event.ID)
		if err != nil {
			o.log.WarnContext(ctx, "dedup mark failed", "event_id", event.ID, "error", err)
		} else if !first {
			metrics.DuplicateEvents.Inc()
			return
		}
	}

	o.deps.Emitter.EmitVerdict(ctx, verdict)

	if verdict.NeedsRecommendation {
		o.recommend(ctx, event, matched, enrichmentResult)
	}

	o.persistEventState(event)
	metrics.EventDuration.Observe(time.Since(start).Seconds())
}

func (o *Orchestrator) enrich(ctx context.Context, event *model.NormalizedEvent) (*model.Enrichment, bool) {
	ectx, cancel := context.WithTimeout(ctx, o.cfg.Enrichment.Timeout)
	defer cancel()

	result, err := o.deps.Enricher.Enrich(ectx, event)
	if err != nil {
		metrics.EnrichmentFailures.Inc()
		o.log.WarnContext(ctx, "enrichment failed", "event_id", event.ID, "error", err)
		return &model.Enrichment{}, false
	}
	return result, true
}

// evaluateRules scores every enabled rule via the oracle. A timed-out or
// failed call degrades to a non-match for that rule; the event is still
// fully processed.
func (o *Orchestrator) evaluateRules(ctx context.Context, event *model.NormalizedEvent, br *model.BehavioralResult, cr *model.CorrelationResult, enr *model.Enrichment) ([]model.RuleMatch, bool) {
	evalCtx := &oracle.EvalContext{Behavioral: br, Graph: cr, Enrichment: enr}

	matched := []model.RuleMatch{}
	anyDegraded := false
	for _, rule := range o.deps.Registry.Enabled() {
		octx, cancel := context.WithTimeout(ctx, o.cfg.Oracle.Timeout)
		result, err := o.deps.Oracle.Evaluate(octx, rule, event, evalCtx)
		cancel()
		if err != nil {
			metrics.OracleTimeouts.Inc()
			anyDegraded = true
			result = oracle.NonMatch(rule.ID)
		}
		if result.Matches {
			matched = append(matched, *result)
		}
	}
	return matched, anyDegraded
}

func (o *Orchestrator) recommend(ctx context.Context, event *model.NormalizedEvent, matched []model.RuleMatch, enr *model.Enrichment) {
	octx, cancel := context.WithTimeout(ctx, o.cfg.Oracle.Timeout)
	defer cancel()

	recs, err := o.deps.Oracle.GenerateRecommendations(octx, event, matched, o.deps.Registry.Enabled(), enr)
	if err != nil {
		metrics.OracleTimeouts.Inc()
		o.log.WarnContext(ctx, "recommendation generation failed", "event_id", event.ID, "error", err)
		return
	}
	for i := range recs {
		rec := recs[i]
		o.deps.Emitter.EmitRecommendation(ctx, &rec)
		if o.deps.Persister != nil {
			o.deps.Persister.QueueRecommendation(&rec)
		}
	}
}

// persistEventState schedules fire-and-forget writes for the baselines
// the event touched. Edges are flushed in bulk by the scheduler.
func (o *Orchestrator) persistEventState(event *model.NormalizedEvent) {
	if o.deps.Persister == nil {
		return
	}
	for _, ref := range event.EntityRefs() {
		if b, ok := o.deps.Behavioral.Store().View(ref.ID); ok {
			o.deps.Persister.QueueBaseline(b)
		}
	}
}

// falsePositiveRisk estimates how likely the verdict is noise from the
// behavioral confidence and graph risk alone. Oracle results do not feed
// it, so a degraded oracle leaves it unchanged.
func falsePositiveRisk(br *model.BehavioralResult, cr *model.CorrelationResult) float64 {
	signal := 0.0
	if br != nil {
		signal += 0.5 * br.Confidence
	}
	if cr != nil {
		signal += 0.5 * cr.RiskScore
	}
	risk := 1 - signal
	if risk < 0 {
		return 0
	}
	if risk > 1 {
		return 1
	}
	return risk
}

// Stop closes intake, drains in-flight events up to the grace period and
// then cancels the remainder; collaborator calls in flight are cancelled
// and treated as timeouts.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		o.mu.Lock()
		o.accepting.Store(false)
		for _, q := range o.queues {
			close(q)
		}
		o.mu.Unlock()

		done := make(chan struct{})
		go func() {
			o.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(o.cfg.Pipeline.ShutdownGrace):
			o.log.Warn("shutdown grace expired, cancelling in-flight events")
			o.cancel()
			<-done
		}
		o.cancel()
	})
}

func shardFor(entityID string, workers int) int {
	h := fnv.New32a()
	h.Write([]byte(entityID))
	return int(h.Sum32() % uint32(workers))
}
