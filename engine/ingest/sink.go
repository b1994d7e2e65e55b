package ingest

import (
	"context"
	"time"

	"github.com/WessleyAI/moviesearch/pkg/metrics"
	"github.com/WessleyAI/moviesearch/pkg/natsutil"
)

// DLQSubject is the NATS subject failed records are published to.
const DLQSubject = "movies.import.dlq"

// Failure describes one record the import could not index.
type Failure struct {
	MovieID string    `json:"movie_id"`
	Title   string    `json:"title,omitempty"`
	Stage   string    `json:"stage"`
	Error   string    `json:"error"`
	At      time.Time `json:"at"`
}

// FailureSink receives failed records for later inspection or replay.
type FailureSink interface {
	Send(ctx context.Context, f Failure) error
}

// NATSSink publishes failures as JSON to a NATS subject.
type NATSSink struct {
	nc      natsutil.Publisher
	subject string
}

// NewNATSSink publishes to DLQSubject on nc.
func NewNATSSink(nc natsutil.Publisher) *NATSSink {
	return &NATSSink{nc: nc, subject: DLQSubject}
}

// Send implements FailureSink.
func (s *NATSSink) Send(ctx context.Context, f Failure) error {
	if err := natsutil.Publish(ctx, s.nc, s.subject, f); err != nil {
		return err
	}
	metrics.DeadLettersTotal.Inc()
	return nil
}
