package behavioral

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelsec/kestrel-correlate/internal/config"
	"github.com/kestrelsec/kestrel-correlate/internal/logging"
	"github.com/kestrelsec/kestrel-correlate/internal/model"
)

func testEngine(t *testing.T) (*Engine, *Store) {
	t.Helper()
	cfg := config.Default().Behavioral
	store := NewStore(cfg.InitialConfidence)
	return NewEngine(store, cfg, logging.Default()), store
}

func accessEventWithFiles(user string, fileCount int, ts time.Time) *model.NormalizedEvent {
	files := make([]string, fileCount)
	for i := range files {
		files[i] = fmt.Sprintf("/srv/data/report-%d.db", i)
	}
	return &model.NormalizedEvent{
		ID:        fmt.Sprintf("evt-%s-%d", user, ts.UnixNano()),
		Timestamp: ts,
		EventType: "file.access",
		Entities:  model.EventEntities{Users: []string{user}, Files: files},
		Context:   model.EventContext{Action: "read"},
		Risk:      model.RiskAssessment{Score: 0.3, Confidence: 0.8},
	}
}

func TestEngine_ColdStartCreatesBaselineWithoutAnomalies(t *testing.T) {
	engine, store := testEngine(t)
	event := accessEventWithFiles("alice", 50, time.Now().UTC())

	result := engine.Analyze(event)

	assert.Empty(t, result.Anomalies)
	assert.Zero(t, result.RiskScore)

	// First sighting registers the entity at initial confidence.
	b, ok := store.View("alice")
	require.True(t, ok)
	assert.Equal(t, 0.1, b.Confidence)
}

func TestEngine_DetectsDeviationAfterLearning(t *testing.T) {
	engine, _ := testEngine(t)
	ts := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	// Train on alternating 4 and 6 file reads so the variance settles
	// well above zero.
	for i := 0; i < 30; i++ {
		count := 4
		if i%2 == 1 {
			count = 6
		}
		event := accessEventWithFiles("alice", count, ts.Add(time.Duration(i)*time.Minute))
		engine.Analyze(event)
		engine.UpdateBaseline(event)
	}

	// A typical read is not anomalous for the user.
	normal := accessEventWithFiles("alice", 5, ts.Add(time.Hour))
	result := engine.Analyze(normal)
	assert.Nil(t, anomalyFor(result, "alice", model.PatternDataAccess))

	// A burst far outside the learned band is.
	spike := accessEventWithFiles("alice", 50, ts.Add(2*time.Hour))
	result = engine.Analyze(spike)

	found := anomalyFor(result, "alice", model.PatternDataAccess)
	require.NotNil(t, found, "expected a data_access anomaly")
	assert.Equal(t, "alice", found.EntityID)
	assert.Equal(t, 50.0, found.Current)
	assert.Greater(t, found.Deviation, 3.0)
	assert.Equal(t, 1.0, found.Severity)
	assert.Contains(t, found.Description, "Extreme")
	assert.Equal(t, 1.0, result.RiskScore)
}

func anomalyFor(result *model.BehavioralResult, entityID string, pattern model.PatternType) *model.Anomaly {
	for i := range result.Anomalies {
		a := &result.Anomalies[i]
		if a.EntityID == entityID && a.Pattern == pattern {
			return a
		}
	}
	return nil
}

func TestEngine_AnalyzeReadsPreUpdateState(t *testing.T) {
	engine, store := testEngine(t)
	ts := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		count := 4 + i%2*2
		event := accessEventWithFiles("alice", count, ts.Add(time.Duration(i)*time.Minute))
		engine.Analyze(event)
		engine.UpdateBaseline(event)
	}

	before, _ := store.View("alice")
	spike := accessEventWithFiles("alice", 40, ts.Add(time.Hour))

	result := engine.Analyze(spike)
	found := anomalyFor(result, "alice", model.PatternDataAccess)
	require.NotNil(t, found)

	// The anomaly's expectation must come from the baseline as it stood
	// before this event shifted it.
	assert.Equal(t, before.Patterns[model.PatternDataAccess].MeanEMA, found.Expected)

	engine.UpdateBaseline(spike)
	after, _ := store.View("alice")
	assert.Greater(t, after.Patterns[model.PatternDataAccess].MeanEMA,
		before.Patterns[model.PatternDataAccess].MeanEMA)
}

func TestEngine_ZeroVarianceScoresNothing(t *testing.T) {
	engine, _ := testEngine(t)
	ts := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	// Identical observations drive the deviation EMA toward zero; the
	// engine refuses to score against a collapsed band.
	stats := &PatternStats{MeanEMA: 5, VarianceEMA: 0, SampleWeight: 10}
	assert.Zero(t, boundedDeviation(50, stats))

	for i := 0; i < 20; i++ {
		event := accessEventWithFiles("bob", 5, ts.Add(time.Duration(i)*time.Minute))
		engine.Analyze(event)
		engine.UpdateBaseline(event)
	}

	result := engine.Analyze(accessEventWithFiles("bob", 5, ts.Add(time.Hour)))
	assert.Empty(t, result.Anomalies)
}

func TestEngine_MeanConvergesMonotonicallyOnIdenticalEvents(t *testing.T) {
	engine, store := testEngine(t)
	ts := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	const observed = 10.0

	// With learning rate lr and identical observations x, the mean after
	// n updates is x·(1−(1−lr)^n): the gap to x shrinks by a factor of
	// (1−lr) every update and never widens.
	prevGap := observed
	for i := 0; i < 15; i++ {
		event := accessEventWithFiles("carol", int(observed), ts.Add(time.Duration(i)*time.Minute))
		engine.Analyze(event)
		engine.UpdateBaseline(event)

		b, ok := store.View("carol")
		require.True(t, ok)
		stats, ok := b.Patterns[model.PatternDataAccess]
		require.True(t, ok)

		gap := math.Abs(stats.MeanEMA - observed)
		assert.Less(t, gap, prevGap, "gap must shrink on update %d", i+1)
		assert.InDelta(t, prevGap*(1-engine.cfg.LearningRate), gap, 1e-9)
		prevGap = gap
	}

	// After 15 updates the mean is within (1-lr)^15 of the observed value.
	assert.InDelta(t, observed, observed-prevGap, observed*math.Pow(1-engine.cfg.LearningRate, 15)+1e-9)
	b, _ := store.View("carol")
	assert.InDelta(t, observed, b.Patterns[model.PatternDataAccess].MeanEMA, 0.05)
}

func TestEngine_ConfidenceGrowsAndCaps(t *testing.T) {
	engine, store := testEngine(t)
	ts := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	event := accessEventWithFiles("alice", 1, ts)
	engine.Analyze(event)
	engine.UpdateBaseline(event)

	b, _ := store.View("alice")
	assert.InDelta(t, 0.11, b.Confidence, 1e-9)

	for i := 0; i < 200; i++ {
		e := accessEventWithFiles("alice", 1, ts.Add(time.Duration(i)*time.Minute))
		engine.UpdateBaseline(e)
	}
	b, _ = store.View("alice")
	assert.Equal(t, 1.0, b.Confidence)
}

func TestEngine_ResultConfidenceAveragesEntities(t *testing.T) {
	engine, store := testEngine(t)
	ts := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	store.Mutate(model.EntityRef{ID: "alice", Type: model.EntityUser}, ts, func(b *Baseline) {
		b.Confidence = 0.9
	})

	event := &model.NormalizedEvent{
		ID:        "evt-1",
		Timestamp: ts,
		EventType: "authentication.login",
		Entities:  model.EventEntities{Users: []string{"alice"}, Hosts: []string{"web-01"}},
		Context:   model.EventContext{Action: "login"},
	}

	result := engine.Analyze(event)
	// alice at 0.9, web-01 cold at 0.1.
	assert.InDelta(t, 0.5, result.Confidence, 1e-9)
}

func TestApplicablePatterns(t *testing.T) {
	tests := []struct {
		entityType model.EntityType
		want       []model.PatternType
	}{
		{model.EntityUser, []model.PatternType{model.PatternLogin, model.PatternDataAccess, model.PatternPrivilegeEscalation}},
		{model.EntityHost, []model.PatternType{model.PatternNetworkCommunication, model.PatternProcessExecution}},
		{model.EntityProcess, []model.PatternType{model.PatternProcessExecution, model.PatternFileOperations}},
		{model.EntityFile, []model.PatternType{model.PatternFileOperations}},
		{model.EntityNetwork, []model.PatternType{model.PatternNetworkCommunication}},
		{model.EntityType("unknown"), nil},
	}

	for _, tt := range tests {
		t.Run(string(tt.entityType), func(t *testing.T) {
			assert.Equal(t, tt.want, applicablePatterns(tt.entityType))
		})
	}
}

func TestPatternValue(t *testing.T) {
	ts := time.Now().UTC()

	tests := []struct {
		name    string
		event   *model.NormalizedEvent
		pattern model.PatternType
		want    float64
	}{
		{
			name: "login action",
			event: &model.NormalizedEvent{
				EventType: "session.start",
				Context:   model.EventContext{Action: "login"},
			},
			pattern: model.PatternLogin,
			want:    1,
		},
		{
			name: "auth event type",
			event: &model.NormalizedEvent{
				EventType: "authentication.success",
			},
			pattern: model.PatternLogin,
			want:    1,
		},
		{
			name: "data access counts files",
			event: &model.NormalizedEvent{
				EventType: "file.access",
				Entities:  model.EventEntities{Files: []string{"/a", "/b", "/c"}},
				Context:   model.EventContext{Action: "read"},
			},
			pattern: model.PatternDataAccess,
			want:    3,
		},
		{
			name: "network counts endpoints",
			event: &model.NormalizedEvent{
				EventType: "network.connection",
				Entities:  model.EventEntities{Networks: []string{"10.0.0.1", "10.0.0.2"}},
			},
			pattern: model.PatternNetworkCommunication,
			want:    2,
		},
		{
			name: "network context without entities",
			event: &model.NormalizedEvent{
				EventType: "network.connection",
				Context:   model.EventContext{Network: &model.NetworkContext{Protocol: "tcp"}},
			},
			pattern: model.PatternNetworkCommunication,
			want:    1,
		},
		{
			name: "sudo action is privilege escalation",
			event: &model.NormalizedEvent{
				EventType: "process.exec",
				Context:   model.EventContext{Action: "sudo"},
			},
			pattern: model.PatternPrivilegeEscalation,
			want:    1,
		},
		{
			name: "absent pattern yields zero",
			event: &model.NormalizedEvent{
				EventType: "file.access",
				Context:   model.EventContext{Action: "read"},
			},
			pattern: model.PatternProcessExecution,
			want:    0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.event.Timestamp = ts
			assert.Equal(t, tt.want, patternValue(tt.event, tt.pattern))
		})
	}
}

func TestAnomalySeverityDescription(t *testing.T) {
	assert.Equal(t, "Extreme", model.AnomalySeverityDescription(250))
	assert.Equal(t, "High", model.AnomalySeverityDescription(150))
	assert.Equal(t, "Elevated", model.AnomalySeverityDescription(75))
	assert.Equal(t, "Unusual", model.AnomalySeverityDescription(20))
}
