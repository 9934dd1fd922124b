package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/emarzona/backend/internal/models"
)

// Per-action outcomes recorded by the sync endpoint.
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
)

// SyncMetrics holds the instruments for both sides of the sync protocol.
type SyncMetrics struct {
	actions        metric.Int64Counter
	batches        metric.Int64Counter
	batchDuration  metric.Float64Histogram
	clientAttempts metric.Int64Counter
	clientActions  metric.Int64Counter
}

// NewSyncMetrics creates the sync instruments on meter.
func NewSyncMetrics(meter metric.Meter) (*SyncMetrics, error) {
	m := &SyncMetrics{}
	var err error

	if m.actions, err = meter.Int64Counter(
		"sync_actions_total",
		metric.WithDescription("Actions processed by the sync endpoint"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, fmt.Errorf("failed to create actions counter: %w", err)
	}

	if m.batches, err = meter.Int64Counter(
		"sync_batches_total",
		metric.WithDescription("Batches accepted by the sync endpoint"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, fmt.Errorf("failed to create batches counter: %w", err)
	}

	if m.batchDuration, err = meter.Float64Histogram(
		"sync_batch_duration_seconds",
		metric.WithDescription("Time to process one batch"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create batch duration histogram: %w", err)
	}

	if m.clientAttempts, err = meter.Int64Counter(
		"sync_client_attempts_total",
		metric.WithDescription("Sync attempts made by the local agent"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, fmt.Errorf("failed to create client attempts counter: %w", err)
	}

	if m.clientActions, err = meter.Int64Counter(
		"sync_client_actions_total",
		metric.WithDescription("Actions reconciled by the local agent"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, fmt.Errorf("failed to create client actions counter: %w", err)
	}

	return m, nil
}

// RecordAction counts one action outcome on the sync endpoint.
func (m *SyncMetrics) RecordAction(ctx context.Context, actionType models.ActionType, outcome string) {
	if m == nil {
		return
	}
	m.actions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action_type", string(actionType)),
		attribute.String("outcome", outcome),
	))
}

// RecordBatch records one processed batch.
func (m *SyncMetrics) RecordBatch(ctx context.Context, size int, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Int("size_bucket", sizeBucket(size)))
	m.batches.Add(ctx, 1, attrs)
	m.batchDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordClientSync records one scheduler attempt.
func (m *SyncMetrics) RecordClientSync(ctx context.Context, r models.SyncResult) {
	if m == nil {
		return
	}
	m.clientAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", clientOutcome(r))))
	if r.Synced > 0 {
		m.clientActions.Add(ctx, int64(r.Synced), metric.WithAttributes(attribute.String("outcome", "synced")))
	}
	if r.Failed > 0 {
		m.clientActions.Add(ctx, int64(r.Failed), metric.WithAttributes(attribute.String("outcome", "failed")))
	}
}

func clientOutcome(r models.SyncResult) string {
	switch {
	case r.Skipped != models.SkipNone:
		return "skipped_" + string(r.Skipped)
	case r.AuthRequired:
		return "auth_required"
	case r.BatchError != "":
		return "batch_error"
	case r.Failed > 0:
		return "partial"
	default:
		return "success"
	}
}

// sizeBucket keeps the batch size attribute low-cardinality.
func sizeBucket(n int) int {
	switch {
	case n <= 1:
		return 1
	case n <= 10:
		return 10
	case n <= 20:
		return 20
	default:
		return 50
	}
}
