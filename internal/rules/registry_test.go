package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelsec/kestrel-correlate/internal/model"
)

func TestRegistry_UpsertAndGet(t *testing.T) {
	r := NewRegistry()
	r.Upsert(&model.DetectionRule{ID: "R-1", Name: "Brute force", Enabled: true})

	rule, ok := r.Get("R-1")
	require.True(t, ok)
	assert.Equal(t, "Brute force", rule.Name)
	assert.False(t, rule.CreatedAt.IsZero())

	// Returned copies do not alias registry state.
	rule.Name = "changed"
	again, _ := r.Get("R-1")
	assert.Equal(t, "Brute force", again.Name)

	_, ok = r.Get("nope")
	assert.False(t, ok)
}

func TestRegistry_EnabledFiltersDisabled(t *testing.T) {
	r := NewRegistry()
	r.Upsert(&model.DetectionRule{ID: "R-1", Enabled: true})
	r.Upsert(&model.DetectionRule{ID: "R-2", Enabled: false})
	r.Upsert(&model.DetectionRule{ID: "R-3", Enabled: true})

	assert.Len(t, r.Enabled(), 2)
	assert.Len(t, r.All(), 3)
	assert.Equal(t, 3, r.Len())
}

func TestRegistry_RecordOutcome(t *testing.T) {
	r := NewRegistry()
	r.Upsert(&model.DetectionRule{ID: "R-1", Enabled: true})

	rule, ok := r.RecordOutcome("R-1", false)
	require.True(t, ok)
	assert.Equal(t, int64(1), rule.TruePositives)
	assert.Equal(t, 1.0, rule.Precision)
	// Laplace smoothing keeps a single outcome off the extremes.
	assert.InDelta(t, 2.0/3.0, rule.Accuracy, 1e-9)

	rule, _ = r.RecordOutcome("R-1", true)
	assert.Equal(t, int64(1), rule.FalsePositives)
	assert.Equal(t, 0.5, rule.Precision)
	assert.Equal(t, 0.5, rule.Accuracy)

	_, ok = r.RecordOutcome("missing", true)
	assert.False(t, ok)
}

func TestRegistry_CoversEventType(t *testing.T) {
	r := NewRegistry()
	r.Upsert(&model.DetectionRule{
		ID:              "R-1",
		Enabled:         true,
		MitreTechniques: []string{"brute-force", "credential-access"},
	})
	r.Upsert(&model.DetectionRule{
		ID:              "R-2",
		Enabled:         false,
		MitreTechniques: []string{"lateral-movement"},
	})
	r.Upsert(&model.DetectionRule{ID: "R-3", Enabled: true})

	tests := []struct {
		eventType string
		want      bool
	}{
		{"brute_force", true},           // normalization bridges -/_
		{"brute-force-attempt", true},   // technique contained in event type
		{"force", true},                 // token overlap, len >= 4
		{"lateral_movement", false},     // only a disabled rule covers it
		{"dns_tunneling", false},        // nothing covers it
		{"", false},                     // empty never matches
	}

	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			assert.Equal(t, tt.want, r.CoversEventType(tt.eventType))
		})
	}
}

func TestLoadCatalog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	catalog := `rules:
  - id: R-100
    name: Suspicious sudo burst
    severity: high
    mitre_techniques: [privilege-escalation]
    enabled: true
  - id: R-101
    name: Off-hours data pull
    enabled: false
`
	require.NoError(t, os.WriteFile(path, []byte(catalog), 0o644))

	r := NewRegistry()
	n, err := LoadCatalog(path, r)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rule, ok := r.Get("R-100")
	require.True(t, ok)
	assert.Equal(t, "Suspicious sudo burst", rule.Name)
	assert.Equal(t, []string{"privilege-escalation"}, rule.MitreTechniques)
	assert.True(t, rule.Enabled)

	assert.Len(t, r.Enabled(), 1)
}

func TestLoadCatalog_Errors(t *testing.T) {
	r := NewRegistry()

	_, err := LoadCatalog("/does/not/exist.yaml", r)
	assert.Error(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - name: no id\n"), 0o644))
	_, err = LoadCatalog(path, r)
	assert.ErrorContains(t, err, "no id")
}
