package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelsec/kestrel-correlate/internal/behavioral"
	"github.com/kestrelsec/kestrel-correlate/internal/config"
	"github.com/kestrelsec/kestrel-correlate/internal/emit"
	"github.com/kestrelsec/kestrel-correlate/internal/enrichment"
	"github.com/kestrelsec/kestrel-correlate/internal/graph"
	"github.com/kestrelsec/kestrel-correlate/internal/intake"
	"github.com/kestrelsec/kestrel-correlate/internal/logging"
	"github.com/kestrelsec/kestrel-correlate/internal/model"
	"github.com/kestrelsec/kestrel-correlate/internal/oracle"
	"github.com/kestrelsec/kestrel-correlate/internal/rules"
)

// failingOracle simulates a timed-out or unreachable oracle.
type failingOracle struct{}

func (failingOracle) Evaluate(ctx context.Context, rule *model.DetectionRule, event *model.NormalizedEvent, evalCtx *oracle.EvalContext) (*model.RuleMatch, error) {
	return nil, errors.New("oracle unreachable")
}

func (failingOracle) GenerateRecommendations(ctx context.Context, event *model.NormalizedEvent, results []model.RuleMatch, existing []*model.DetectionRule, knowledge *model.Enrichment) ([]model.Recommendation, error) {
	return nil, errors.New("oracle unreachable")
}

// failingEnricher simulates an enrichment outage.
type failingEnricher struct{}

func (failingEnricher) Enrich(ctx context.Context, event *model.NormalizedEvent) (*model.Enrichment, error) {
	return nil, errors.New("enrichment unavailable")
}

type harness struct {
	orch      *Orchestrator
	emitter   *emit.Emitter
	registry  *rules.Registry
	baselines *behavioral.Store
	verdicts  chan *model.Verdict
	recs      chan *model.Recommendation
}

func newHarness(t *testing.T, mutate func(*config.Config, *Deps)) *harness {
	t.Helper()
	cfg := *config.Default()
	cfg.Pipeline.Workers = 2
	cfg.Pipeline.QueueSize = 64
	cfg.Pipeline.ShutdownGrace = 2 * time.Second

	log := logging.Default()
	baselines := behavioral.NewStore(cfg.Behavioral.InitialConfidence)
	registry := rules.NewRegistry()
	emitter := emit.NewEmitter(log)

	deps := Deps{
		Behavioral: behavioral.NewEngine(baselines, cfg.Behavioral, log),
		Graph:      graph.NewEngine(graph.NewStore(), cfg.Graph, log),
		Registry:   registry,
		Oracle:     oracle.NewHeuristicOracle(),
		Enricher:   enrichment.Noop{},
		Emitter:    emitter,
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}

	h := &harness{
		emitter:   emitter,
		registry:  registry,
		baselines: baselines,
		verdicts:  make(chan *model.Verdict, 128),
		recs:      make(chan *model.Recommendation, 128),
	}
	emitter.OnVerdict(func(v *model.Verdict) { h.verdicts <- v })
	emitter.OnRecommendationCreated(func(r *model.Recommendation) { h.recs <- r })

	h.orch = New(cfg, deps, log)
	h.orch.Start()
	t.Cleanup(h.orch.Stop)
	return h
}

func (h *harness) awaitVerdict(t *testing.T) *model.Verdict {
	t.Helper()
	select {
	case v := <-h.verdicts:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for verdict")
		return nil
	}
}

func testEvent(id string) *model.NormalizedEvent {
	return &model.NormalizedEvent{
		ID:        id,
		Timestamp: time.Now().UTC(),
		EventType: "authentication.login",
		Entities: model.EventEntities{
			Users: []string{"alice"},
			Hosts: []string{"web-01"},
		},
		Context: model.EventContext{Action: "login"},
		Risk:    model.RiskAssessment{Score: 0.4, Confidence: 0.6},
	}
}

func TestOrchestrator_EmitsVerdictPerEvent(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.orch.Submit(context.Background(), testEvent("evt-1")))
	verdict := h.awaitVerdict(t)

	assert.Equal(t, "evt-1", verdict.EventID)
	require.NotNil(t, verdict.Behavioral)
	require.NotNil(t, verdict.Correlation)
	require.NotNil(t, verdict.Enrichment)
	assert.Empty(t, verdict.Degraded)
	assert.Equal(t, []model.RuleMatch{}, verdict.MatchedRules)
	assert.GreaterOrEqual(t, verdict.FalsePositiveRisk, 0.0)
	assert.LessOrEqual(t, verdict.FalsePositiveRisk, 1.0)

	// The event's entities now have baselines.
	_, ok := h.baselines.View("alice")
	assert.True(t, ok)
	_, ok = h.baselines.View("web-01")
	assert.True(t, ok)
}

func TestOrchestrator_RejectsInvalidEvent(t *testing.T) {
	h := newHarness(t, nil)

	event := testEvent("evt-1")
	event.EventType = ""
	err := h.orch.Submit(context.Background(), event)
	assert.ErrorIs(t, err, intake.ErrValidation)
}

func TestOrchestrator_OracleFailureDegradesNotDrops(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config, deps *Deps) {
		deps.Oracle = failingOracle{}
	})
	h.registry.Upsert(&model.DetectionRule{
		ID: "R-1", Enabled: true, MitreTechniques: []string{"brute-force"},
	})

	require.NoError(t, h.orch.Submit(context.Background(), testEvent("evt-1")))
	verdict := h.awaitVerdict(t)

	// The verdict is still produced, just without rule matches.
	assert.Equal(t, "evt-1", verdict.EventID)
	assert.Empty(t, verdict.MatchedRules)
	assert.Contains(t, verdict.Degraded, DegradedOracle)
}

func TestOrchestrator_FalsePositiveRiskIgnoresOracle(t *testing.T) {
	br := &model.BehavioralResult{Confidence: 0.8}
	cr := &model.CorrelationResult{RiskScore: 0.6}

	// 1 - 0.5*0.8 - 0.5*0.6
	assert.InDelta(t, 0.3, falsePositiveRisk(br, cr), 1e-9)
	assert.Equal(t, 1.0, falsePositiveRisk(nil, nil))
	assert.Equal(t, 0.0, falsePositiveRisk(
		&model.BehavioralResult{Confidence: 1},
		&model.CorrelationResult{RiskScore: 1}))
}

func TestOrchestrator_EnrichmentFailureDegrades(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config, deps *Deps) {
		deps.Enricher = failingEnricher{}
	})

	require.NoError(t, h.orch.Submit(context.Background(), testEvent("evt-1")))
	verdict := h.awaitVerdict(t)

	assert.Contains(t, verdict.Degraded, DegradedEnrichment)
	// Degraded enrichment yields an empty result, not a missing one.
	require.NotNil(t, verdict.Enrichment)
	assert.Empty(t, verdict.Enrichment.ThreatMatches)
}

func TestOrchestrator_RecommendationForUncoveredHighConfidence(t *testing.T) {
	h := newHarness(t, nil)

	event := testEvent("evt-1")
	event.EventType = "dns.tunneling"
	event.Risk.Confidence = 0.95

	require.NoError(t, h.orch.Submit(context.Background(), event))
	verdict := h.awaitVerdict(t)
	assert.True(t, verdict.NeedsRecommendation)

	select {
	case rec := <-h.recs:
		assert.Equal(t, "evt-1", rec.EventID)
		assert.Contains(t, rec.Title, "dns.tunneling")
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for recommendation")
	}
}

func TestOrchestrator_NoRecommendationWhenCovered(t *testing.T) {
	h := newHarness(t, nil)
	h.registry.Upsert(&model.DetectionRule{
		ID: "R-1", Enabled: true, MitreTechniques: []string{"dns-tunneling"},
	})

	event := testEvent("evt-1")
	event.EventType = "dns_tunneling"
	event.Risk.Confidence = 0.95

	require.NoError(t, h.orch.Submit(context.Background(), event))
	verdict := h.awaitVerdict(t)
	assert.False(t, verdict.NeedsRecommendation)
}

func TestOrchestrator_NoRecommendationBelowConfidence(t *testing.T) {
	h := newHarness(t, nil)

	event := testEvent("evt-1")
	event.EventType = "dns.tunneling"
	event.Risk.Confidence = 0.5

	require.NoError(t, h.orch.Submit(context.Background(), event))
	verdict := h.awaitVerdict(t)
	assert.False(t, verdict.NeedsRecommendation)
}

func TestOrchestrator_QueueFull(t *testing.T) {
	cfg := *config.Default()
	cfg.Pipeline.Workers = 1
	cfg.Pipeline.QueueSize = 1

	log := logging.Default()
	baselines := behavioral.NewStore(cfg.Behavioral.InitialConfidence)
	deps := Deps{
		Behavioral: behavioral.NewEngine(baselines, cfg.Behavioral, log),
		Graph:      graph.NewEngine(graph.NewStore(), cfg.Graph, log),
		Registry:   rules.NewRegistry(),
		Oracle:     oracle.NewHeuristicOracle(),
		Enricher:   enrichment.Noop{},
		Emitter:    emit.NewEmitter(log),
	}

	// Workers never started: the single queue slot fills immediately.
	o := New(cfg, deps, log)
	o.accepting.Store(true)

	require.NoError(t, o.Submit(context.Background(), testEvent("evt-1")))
	err := o.Submit(context.Background(), testEvent("evt-2"))
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestOrchestrator_RejectsAfterStop(t *testing.T) {
	h := newHarness(t, nil)
	h.orch.Stop()

	err := h.orch.Submit(context.Background(), testEvent("evt-1"))
	assert.Error(t, err)
}

func TestOrchestrator_StopDrainsInFlightEvents(t *testing.T) {
	h := newHarness(t, nil)

	for i := 0; i < 10; i++ {
		require.NoError(t, h.orch.Submit(context.Background(), testEvent(fmt.Sprintf("evt-%d", i))))
	}
	h.orch.Stop()

	verdicts, _ := h.emitter.Counts()
	assert.Equal(t, uint64(10), verdicts)
}

func TestOrchestrator_SubmitRacingStopDoesNotPanic(t *testing.T) {
	h := newHarness(t, nil)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; ; i++ {
				select {
				case <-stop:
					return
				default:
				}
				// Errors are expected once shutdown begins; a send on a
				// closed queue would panic and fail the test.
				_ = h.orch.Submit(context.Background(), testEvent(fmt.Sprintf("evt-%d-%d", g, i)))
			}
		}(g)
	}

	time.Sleep(10 * time.Millisecond)
	h.orch.Stop()
	close(stop)
	wg.Wait()

	err := h.orch.Submit(context.Background(), testEvent("evt-late"))
	assert.Error(t, err)
}

func TestOrchestrator_PerEntityOrdering(t *testing.T) {
	// Same primary entity always hashes to the same shard.
	shard := shardFor("alice", 4)
	for i := 0; i < 10; i++ {
		assert.Equal(t, shard, shardFor("alice", 4))
	}
	assert.Less(t, shardFor("alice", 4), 4)
	assert.GreaterOrEqual(t, shardFor("alice", 4), 0)
}

func TestApplyFeedback(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	// Seed a baseline and a rule.
	require.NoError(t, h.orch.Submit(ctx, testEvent("evt-1")))
	h.awaitVerdict(t)
	h.registry.Upsert(&model.DetectionRule{ID: "R-1", Enabled: true})

	// Lift the baseline well clear of the floor so the first penalty is
	// visible in full.
	h.baselines.Mutate(model.EntityRef{ID: "alice", Type: model.EntityUser},
		time.Now().UTC(), func(b *behavioral.Baseline) { b.Confidence = 0.5 })

	require.NoError(t, h.orch.ApplyFeedback(ctx, &model.Feedback{
		EntityID:        "alice",
		IsFalsePositive: true,
	}))
	after, _ := h.baselines.View("alice")
	assert.InDelta(t, 0.45, after.Confidence, 1e-9)

	// Penalties never push confidence below the floor.
	for i := 0; i < 30; i++ {
		require.NoError(t, h.orch.ApplyFeedback(ctx, &model.Feedback{
			EntityID:        "alice",
			IsFalsePositive: true,
		}))
	}
	after, _ = h.baselines.View("alice")
	assert.InDelta(t, 0.1, after.Confidence, 1e-9)

	// Rule feedback updates accuracy counters.
	require.NoError(t, h.orch.ApplyFeedback(ctx, &model.Feedback{
		RuleID:          "R-1",
		IsFalsePositive: false,
	}))
	rule, _ := h.registry.Get("R-1")
	assert.Equal(t, int64(1), rule.TruePositives)

	// Feedback must name something actionable.
	assert.Error(t, h.orch.ApplyFeedback(ctx, &model.Feedback{IsFalsePositive: true}))
	assert.Error(t, h.orch.ApplyFeedback(ctx, &model.Feedback{RuleID: "missing"}))
	assert.Error(t, h.orch.ApplyFeedback(ctx, nil))
}
