package orchestrator

import (
	"context"
	"fmt"

	"github.com/kestrelsec/kestrel-correlate/internal/metrics"
	"github.com/kestrelsec/kestrel-correlate/internal/model"
)

// ApplyFeedback folds an analyst disposition back into pipeline state:
// a false positive lowers the named entity's baseline confidence (floored),
// and a rule reference updates that rule's accuracy counters.
func (o *Orchestrator) ApplyFeedback(ctx context.Context, fb *model.Feedback) error {
	if fb == nil {
		return fmt.Errorf("nil feedback")
	}
	if fb.EntityID == "" && fb.RuleID == "" {
		return fmt.Errorf("feedback names neither an entity nor a rule")
	}

	if fb.IsFalsePositive && fb.EntityID != "" {
		if o.deps.Behavioral.Store().PenalizeConfidence(fb.EntityID,
			o.cfg.Behavioral.FeedbackPenalty, o.cfg.Behavioral.ConfidenceFloor) {
			metrics.FeedbackApplied.WithLabelValues("baseline").Inc()
			if b, ok := o.deps.Behavioral.Store().View(fb.EntityID); ok && o.deps.Persister != nil {
				o.deps.Persister.QueueBaseline(b)
			}
		} else {
			o.log.InfoContext(ctx, "feedback for unknown entity", "entity_id", fb.EntityID)
		}
	}

	if fb.RuleID != "" {
		rule, ok := o.deps.Registry.RecordOutcome(fb.RuleID, fb.IsFalsePositive)
		if !ok {
			return fmt.Errorf("unknown rule %q", fb.RuleID)
		}
		metrics.FeedbackApplied.WithLabelValues("rule").Inc()
		if o.deps.Persister != nil {
			o.deps.Persister.QueueRule(rule)
		}
	}

	return nil
}
