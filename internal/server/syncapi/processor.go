// Package syncapi is the remote sync endpoint: it applies batches of queued
// actions exactly once per idempotency key and reports a result per action.
package syncapi

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/emarzona/backend/internal/actions"
	"github.com/emarzona/backend/internal/errors"
	"github.com/emarzona/backend/internal/logging"
	"github.com/emarzona/backend/internal/models"
	"github.com/emarzona/backend/internal/server/handlers"
	"github.com/emarzona/backend/internal/server/store"
	"github.com/emarzona/backend/internal/telemetry"
)

// DefaultMaxBatchSize is the largest batch accepted when none is configured.
const DefaultMaxBatchSize = 50

var validate = validator.New()

// ProcessorConfig holds Processor settings.
type ProcessorConfig struct {
	MaxBatchSize int
	Now          func() time.Time
	Metrics      *telemetry.SyncMetrics
}

// Processor applies action batches.
type Processor struct {
	store    store.Store
	registry *handlers.Registry
	maxBatch int
	now      func() time.Time
	metrics  *telemetry.SyncMetrics
}

// NewProcessor creates a Processor.
func NewProcessor(s store.Store, registry *handlers.Registry, cfg *ProcessorConfig) *Processor {
	var c ProcessorConfig
	if cfg != nil {
		c = *cfg
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = DefaultMaxBatchSize
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return &Processor{
		store:    s,
		registry: registry,
		maxBatch: c.MaxBatchSize,
		now:      c.Now,
		metrics:  c.Metrics,
	}
}

// MaxBatchSize returns the configured batch limit.
func (p *Processor) MaxBatchSize() int {
	return p.maxBatch
}

// ProcessBatch applies each action in order and independently. One action's
// failure never affects another. An error is returned only when the batch
// as a whole is unacceptable.
func (p *Processor) ProcessBatch(ctx context.Context, actx models.ActionContext, batch []models.ActionEnvelope) (*models.SyncBatchResponse, error) {
	if len(batch) == 0 {
		return nil, errors.New(errors.ErrInvalid, "actions must not be empty")
	}
	if len(batch) > p.maxBatch {
		return nil, errors.Newf(errors.ErrBatchTooLarge, "batch of %d exceeds the limit of %d", len(batch), p.maxBatch)
	}

	start := time.Now()
	resp := &models.SyncBatchResponse{Results: make([]models.ActionResult, 0, len(batch))}
	for _, env := range batch {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(errors.ErrSyncTimeout, "request cancelled", err)
		}
		r := p.processAction(ctx, actx, env)
		if r.Success {
			resp.Synced++
		} else {
			resp.Failed++
		}
		resp.Results = append(resp.Results, r)
	}
	resp.Success = resp.Failed == 0

	p.metrics.RecordBatch(ctx, len(batch), time.Since(start))
	logging.Info("Sync batch processed", map[string]interface{}{
		"user_id": actx.UserID,
		"batch":   len(batch),
		"synced":  resp.Synced,
		"failed":  resp.Failed,
	})
	return resp, nil
}

func (p *Processor) processAction(ctx context.Context, actx models.ActionContext, env models.ActionEnvelope) (result models.ActionResult) {
	result.ID = env.ID

	fail := func(err error) models.ActionResult {
		code := errors.CodeOf(err)
		if code == errors.ErrInternal || code == errors.ErrDatabase {
			logging.ErrorWithCode("Action failed", string(code), err, map[string]interface{}{
				"action_id":   env.ID,
				"action_type": string(env.ActionType),
			})
		}
		p.metrics.RecordAction(ctx, env.ActionType, telemetry.OutcomeRejected)
		result.Success = false
		result.Error = errors.Public(err)
		return result
	}

	defer func() {
		if rec := recover(); rec != nil {
			result = fail(errors.Wrap(errors.ErrInternal, "handler panicked", fmt.Errorf("%v", rec)))
		}
	}()

	if err := validate.Struct(env); err != nil {
		return fail(errors.Wrap(errors.ErrValidation, "malformed action envelope", err))
	}
	payload, err := actions.DecodeAndValidate(env.ActionType, env.Payload)
	if err != nil {
		return fail(err)
	}

	now := p.now().UTC()
	var existing *models.IdempotencyKeyRecord
	err = p.store.WithTx(ctx, func(tx store.Tx) error {
		claimed, prior, err := tx.ClaimIdempotencyKey(ctx, models.IdempotencyKeyRecord{
			Key:        env.IdempotencyKey,
			ActionType: env.ActionType,
			UserID:     actx.UserID,
			CreatedAt:  now,
		})
		if err != nil {
			return err
		}
		if !claimed {
			existing = prior
			return nil
		}
		return p.registry.Dispatch(ctx, tx, payload, actx)
	})
	if err != nil {
		return fail(err)
	}

	if existing != nil {
		if existing.UserID != actx.UserID {
			return fail(errors.New(errors.ErrDuplicate, "idempotency key was used by another caller"))
		}
		logging.Debug("Duplicate action acknowledged", map[string]interface{}{
			"action_id":       env.ID,
			"idempotency_key": env.IdempotencyKey,
		})
		p.metrics.RecordAction(ctx, env.ActionType, telemetry.OutcomeDuplicate)
		applied := existing.CreatedAt.UTC()
		result.Success = true
		result.Duplicate = true
		result.AppliedAt = &applied
		return result
	}

	p.metrics.RecordAction(ctx, env.ActionType, telemetry.OutcomeApplied)
	result.Success = true
	result.AppliedAt = &now
	return result
}
