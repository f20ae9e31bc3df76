package intake

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/kestrelsec/kestrel-correlate/internal/logging"
	"github.com/kestrelsec/kestrel-correlate/internal/metrics"
	"github.com/kestrelsec/kestrel-correlate/internal/model"
)

// Submitter accepts validated events for processing.
type Submitter interface {
	Submit(ctx context.Context, event *model.NormalizedEvent) error
}

// Subscriber consumes normalized events from NATS and feeds them to the
// orchestrator. Multiple correlate instances share a queue group so each
// event is delivered to exactly one of them.
type Subscriber struct {
	conn      *nats.Conn
	subject   string
	queue     string
	submitter Submitter
	log       *logging.Logger
	sub       *nats.Subscription
}

// NewSubscriber creates an intake subscriber.
func NewSubscriber(conn *nats.Conn, subject, queue string, submitter Submitter, log *logging.Logger) *Subscriber {
	return &Subscriber{
		conn:      conn,
		subject:   subject,
		queue:     queue,
		submitter: submitter,
		log:       log.With("component", "intake"),
	}
}

// Start subscribes to the intake subject. Malformed payloads and
// validation failures are counted and dropped; queue-full submissions are
// logged and dropped (the producer side is responsible for retry).
func (s *Subscriber) Start(ctx context.Context) error {
	sub, err := s.conn.QueueSubscribe(s.subject, s.queue, func(msg *nats.Msg) {
		var event model.NormalizedEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			metrics.ValidationFailures.Inc()
			metrics.EventsReceived.WithLabelValues("nats", "malformed").Inc()
			s.log.WarnContext(ctx, "dropping malformed event", "error", err)
			return
		}

		if err := s.submitter.Submit(ctx, &event); err != nil {
			s.log.WarnContext(ctx, "event not accepted", "event_id", event.ID, "error", err)
			return
		}
		metrics.EventsReceived.WithLabelValues("nats", "accepted").Inc()
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.subject, err)
	}

	s.sub = sub
	s.log.InfoContext(ctx, "intake subscriber started", "subject", s.subject, "queue", s.queue)
	return nil
}

// Stop drains the subscription so no new events arrive.
func (s *Subscriber) Stop() error {
	if s.sub == nil {
		return nil
	}
	if err := s.sub.Drain(); err != nil {
		return fmt.Errorf("failed to drain intake subscription: %w", err)
	}
	return nil
}
