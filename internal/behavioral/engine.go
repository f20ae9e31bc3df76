package behavioral

import (
	"math"
	"strings"

	"github.com/kestrelsec/kestrel-correlate/internal/config"
	"github.com/kestrelsec/kestrel-correlate/internal/logging"
	"github.com/kestrelsec/kestrel-correlate/internal/metrics"
	"github.com/kestrelsec/kestrel-correlate/internal/model"
)

// Engine scores events against entity baselines and maintains them.
//
// Analyze and UpdateBaseline are two distinct calls invoked in that order
// by the orchestrator: analysis always reads the pre-update baseline so an
// event is never compared against state it has already shifted.
type Engine struct {
	store *Store
	cfg   config.BehavioralConfig
	log   *logging.Logger
}

// NewEngine creates a behavioral engine over the given store.
func NewEngine(store *Store, cfg config.BehavioralConfig, log *logging.Logger) *Engine {
	return &Engine{store: store, cfg: cfg, log: log.With("component", "behavioral")}
}

// Store exposes the underlying baseline store for feedback and sweeps.
func (e *Engine) Store() *Store {
	return e.store
}

// Analyze scores the event against the pre-update baselines of every
// entity it references. A missing baseline is not an error: it is created
// lazily and contributes zero anomalies (cold start).
func (e *Engine) Analyze(event *model.NormalizedEvent) *model.BehavioralResult {
	result := &model.BehavioralResult{Anomalies: []model.Anomaly{}}

	refs := event.EntityRefs()
	if len(refs) == 0 {
		return result
	}

	var confidenceSum float64
	for _, ref := range refs {
		baseline, ok := e.store.View(ref.ID)
		if !ok {
			// Cold start: create the baseline, score nothing.
			e.store.Ensure(ref, event.Timestamp)
			confidenceSum += e.cfg.InitialConfidence
			continue
		}
		confidenceSum += baseline.Confidence

		for _, pattern := range applicablePatterns(ref.Type) {
			current := patternValue(event, pattern)
			if current <= 0 {
				continue
			}
			stats, ok := baseline.Patterns[pattern]
			if !ok || stats.SampleWeight == 0 {
				continue
			}

			deviation := boundedDeviation(current, stats)
			if deviation <= e.cfg.AnomalyThreshold {
				continue
			}

			anomaly := model.Anomaly{
				EntityID:    ref.ID,
				EntityType:  ref.Type,
				Pattern:     pattern,
				Current:     current,
				Expected:    stats.MeanEMA,
				Deviation:   deviation,
				Severity:    math.Min(1, deviation/3),
				Confidence:  math.Min(1, stats.SampleWeight/100),
				Description: describeAnomaly(pattern, current, stats.MeanEMA),
			}
			result.Anomalies = append(result.Anomalies, anomaly)
			metrics.AnomaliesDetected.WithLabelValues(string(pattern)).Inc()

			if anomaly.Severity > result.RiskScore {
				result.RiskScore = anomaly.Severity
			}
		}
	}

	result.Confidence = clamp01(confidenceSum / float64(len(refs)))
	return result
}

// UpdateBaseline folds the event into the baselines of every entity it
// references. Must be called after Analyze for the same event.
func (e *Engine) UpdateBaseline(event *model.NormalizedEvent) {
	lr := e.cfg.LearningRate
	for _, ref := range event.EntityRefs() {
		e.store.Mutate(ref, event.Timestamp, func(b *Baseline) {
			for _, pattern := range applicablePatterns(ref.Type) {
				current := patternValue(event, pattern)
				if current <= 0 {
					continue
				}
				stats := b.Patterns[pattern]
				if stats == nil {
					stats = &PatternStats{}
					b.Patterns[pattern] = stats
				}
				stats.MeanEMA = (1-lr)*stats.MeanEMA + lr*current
				stats.VarianceEMA = (1-lr)*stats.VarianceEMA + lr*math.Abs(current-stats.MeanEMA)
				stats.SampleWeight++
				stats.Timing.Observe(event.Timestamp)
			}
			b.Confidence = math.Min(1, b.Confidence+e.cfg.ConfidenceIncrement)
		})
	}
}

// boundedDeviation computes the normalized deviation compared against the
// anomaly threshold. This deliberately divides by the EMA variance (a
// mean absolute deviation, itself on the scale of the data), yielding a
// bounded ratio rather than a classical z-score. Zero variance means no
// deviation can be established yet.
func boundedDeviation(current float64, stats *PatternStats) float64 {
	if stats.VarianceEMA == 0 {
		return 0
	}
	return math.Abs(current-stats.MeanEMA) / stats.VarianceEMA
}

func describeAnomaly(pattern model.PatternType, current, mean float64) string {
	var pct float64
	if mean > 0 {
		pct = math.Abs(current-mean) / mean * 100
	} else {
		pct = current * 100
	}
	tier := model.AnomalySeverityDescription(pct)
	return tier + " deviation in " + strings.ReplaceAll(string(pattern), "_", " ") + " activity"
}

// applicablePatterns maps an entity's role to the pattern types scored
// for it.
func applicablePatterns(t model.EntityType) []model.PatternType {
	switch t {
	case model.EntityUser:
		return []model.PatternType{model.PatternLogin, model.PatternDataAccess, model.PatternPrivilegeEscalation}
	case model.EntityHost:
		return []model.PatternType{model.PatternNetworkCommunication, model.PatternProcessExecution}
	case model.EntityProcess:
		return []model.PatternType{model.PatternProcessExecution, model.PatternFileOperations}
	case model.EntityFile:
		return []model.PatternType{model.PatternFileOperations}
	case model.EntityNetwork:
		return []model.PatternType{model.PatternNetworkCommunication}
	default:
		return nil
	}
}

// patternValue extracts the scalar observation for a pattern type from
// the event. A zero value means the pattern did not manifest in this
// event and is neither scored nor learned.
func patternValue(event *model.NormalizedEvent, pattern model.PatternType) float64 {
	action := strings.ToLower(event.Context.Action)
	eventType := strings.ToLower(event.EventType)

	switch pattern {
	case model.PatternLogin:
		if strings.Contains(action, "login") || strings.Contains(action, "logon") ||
			strings.Contains(eventType, "login") || strings.Contains(eventType, "auth") {
			return 1
		}
	case model.PatternDataAccess:
		if strings.Contains(action, "read") || strings.Contains(action, "access") ||
			strings.Contains(action, "download") || strings.Contains(eventType, "data-access") {
			if n := len(event.Entities.Files); n > 0 {
				return float64(n)
			}
			return 1
		}
	case model.PatternNetworkCommunication:
		if n := len(event.Entities.Networks); n > 0 {
			return float64(n)
		}
		if event.Context.Network != nil {
			return 1
		}
	case model.PatternFileOperations:
		return float64(len(event.Entities.Files))
	case model.PatternProcessExecution:
		return float64(len(event.Entities.Processes))
	case model.PatternPrivilegeEscalation:
		if strings.Contains(action, "sudo") || strings.Contains(action, "escalat") ||
			strings.Contains(eventType, "privilege") {
			return 1
		}
	}
	return 0
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
