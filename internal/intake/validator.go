// Package intake validates incoming events and feeds them to the
// orchestrator from the NATS intake subject.
package intake

import (
	"errors"
	"fmt"
	"time"

	"github.com/kestrelsec/kestrel-correlate/internal/model"
)

// ErrValidation marks an event rejected at intake. Such events never
// enter baseline or graph state; they are counted, not retried.
var ErrValidation = errors.New("event validation failed")

// Validate checks the structural invariants an event must satisfy before
// it may enter analysis.
func Validate(event *model.NormalizedEvent) error {
	if event == nil {
		return fmt.Errorf("%w: nil event", ErrValidation)
	}
	if event.ID == "" {
		return fmt.Errorf("%w: missing event id", ErrValidation)
	}
	if event.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrValidation)
	}
	if event.Timestamp.After(time.Now().Add(24 * time.Hour)) {
		return fmt.Errorf("%w: timestamp too far in the future", ErrValidation)
	}
	if event.EventType == "" {
		return fmt.Errorf("%w: missing event type", ErrValidation)
	}
	if len(event.EntityRefs()) == 0 {
		return fmt.Errorf("%w: event references no entities", ErrValidation)
	}
	if event.Risk.Score < 0 || event.Risk.Score > 1 {
		return fmt.Errorf("%w: risk score out of range", ErrValidation)
	}
	if event.Risk.Confidence < 0 || event.Risk.Confidence > 1 {
		return fmt.Errorf("%w: risk confidence out of range", ErrValidation)
	}
	return nil
}
