package model

import "time"

// DetectionRule is a deployed detection rule with analyst feedback counters.
type DetectionRule struct {
	ID              string    `json:"id" yaml:"id"`
	Name            string    `json:"name" yaml:"name"`
	Description     string    `json:"description,omitempty" yaml:"description,omitempty"`
	Severity        string    `json:"severity,omitempty" yaml:"severity,omitempty"`
	MitreTechniques []string  `json:"mitre_techniques,omitempty" yaml:"mitre_techniques,omitempty"`
	Enabled         bool      `json:"enabled" yaml:"enabled"`
	TruePositives   int64     `json:"true_positives" yaml:"-"`
	FalsePositives  int64     `json:"false_positives" yaml:"-"`
	Accuracy        float64   `json:"accuracy" yaml:"-"`
	Precision       float64   `json:"precision" yaml:"-"`
	CreatedAt       time.Time `json:"created_at,omitempty" yaml:"-"`
	UpdatedAt       time.Time `json:"updated_at,omitempty" yaml:"-"`
}

// TopTechnique returns the rule's first MITRE technique, or "" when the
// rule has none.
func (r *DetectionRule) TopTechnique() string {
	if len(r.MitreTechniques) == 0 {
		return ""
	}
	return r.MitreTechniques[0]
}

// RecordOutcome applies one analyst disposition and recomputes the
// accuracy and precision figures. Precision is the raw true-positive
// ratio; accuracy is Laplace-smoothed so a single outcome does not pin
// the figure to 0 or 1.
func (r *DetectionRule) RecordOutcome(falsePositive bool) {
	if falsePositive {
		r.FalsePositives++
	} else {
		r.TruePositives++
	}
	total := r.TruePositives + r.FalsePositives
	r.Precision = float64(r.TruePositives) / float64(total)
	r.Accuracy = float64(r.TruePositives+1) / float64(total+2)
	r.UpdatedAt = time.Now().UTC()
}
