// Package scheduler drives delivery of queued local actions to the sync endpoint.
//
// A Scheduler is constructed explicitly and does nothing until Start is
// called. At most one sync attempt runs at a time; triggers that arrive while
// an attempt is in flight are dropped, not queued.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/emarzona/backend/internal/errors"
	"github.com/emarzona/backend/internal/logging"
	"github.com/emarzona/backend/internal/models"
	syncpkg "github.com/emarzona/backend/internal/sync"
	"github.com/emarzona/backend/internal/sync/queue"
)

// Events published to the EventSink.
const (
	EventSyncStarted         = "sync.started"
	EventSyncCompleted       = "sync.completed"
	EventSyncFailed          = "sync.failed"
	EventSyncAuthRequired    = "sync.auth_required"
	EventConnectivityChanged = "connectivity.changed"
)

// ActionStore is the subset of the local queue the scheduler mutates.
type ActionStore interface {
	GetPendingActions(ctx context.Context, limit int) ([]*models.LocalAction, error)
	MarkAsSynced(ctx context.Context, id string) error
	UpdateRetryInfo(ctx context.Context, id string, message string) error
	ResetError(ctx context.Context, id string) error
	GetFailedActions(ctx context.Context, minRetryCount int) ([]*models.LocalAction, error)
	CleanupFailedActions(ctx context.Context) (int, error)
	Stats(ctx context.Context) (models.QueueStats, error)
}

var _ ActionStore = (*queue.LocalQueue)(nil)

// EventSink receives sync lifecycle events, e.g. to push them to the UI.
type EventSink interface {
	Publish(eventType string, data map[string]interface{})
}

// Metrics records client-side sync attempts.
type Metrics interface {
	RecordClientSync(ctx context.Context, result models.SyncResult)
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	SyncInterval   time.Duration // Periodic tick while online (default: 30 seconds)
	ReconnectDelay time.Duration // Settle delay after coming online (default: 2 seconds)
	BatchSize      int           // Actions per request (default: 20)
	RequestTimeout time.Duration // Bound on one batch submission (default: 30 seconds)
	RetryMinCount  int           // RetryFailed resets actions with at least this many retries (default: 0)
	StartOnline    bool          // Initial connectivity assumption
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		SyncInterval:   30 * time.Second,
		ReconnectDelay: 2 * time.Second,
		BatchSize:      20,
		RequestTimeout: 30 * time.Second,
		RetryMinCount:  0,
		StartOnline:    true,
	}
}

// Scheduler manages background delivery of local actions.
type Scheduler struct {
	store     ActionStore
	transport syncpkg.Transport
	events    EventSink
	metrics   Metrics
	cfg       SchedulerConfig
	now       func() time.Time

	mu             sync.RWMutex
	isRunning      bool
	isOnline       bool
	syncInProgress bool
	authRequired   bool
	lastSyncTime   time.Time
	lastResult     *models.SyncResult
	reconnectTimer *time.Timer

	stopCh    chan struct{}
	triggerCh chan struct{}
	wg        sync.WaitGroup
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithEventSink publishes lifecycle events to sink.
func WithEventSink(sink EventSink) Option {
	return func(s *Scheduler) { s.events = sink }
}

// WithMetrics records every attempt to m.
func WithMetrics(m Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// NewScheduler creates a new Scheduler. It has no side effects; call Start
// to begin periodic and event-driven syncing.
func NewScheduler(store ActionStore, transport syncpkg.Transport, config *SchedulerConfig, opts ...Option) *Scheduler {
	def := DefaultSchedulerConfig()
	if config == nil {
		config = def
	}
	cfg := *config
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = def.SyncInterval
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = def.ReconnectDelay
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}

	s := &Scheduler{
		store:     store,
		transport: transport,
		cfg:       cfg,
		now:       time.Now,
		isOnline:  cfg.StartOnline,
		triggerCh: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start starts the background loop. An initial sync is triggered when online.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.stopCh = make(chan struct{})
	online := s.isOnline
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)

	logging.Info("Background sync scheduler started", map[string]interface{}{
		"interval_seconds": s.cfg.SyncInterval.Seconds(),
		"batch_size":       s.cfg.BatchSize,
		"online":           online,
	})

	if online {
		s.trigger()
	}
}

// Stop stops the background loop and waits for an in-flight attempt to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()

	logging.Info("Background sync scheduler stopped", nil)
}

// SetOnlineStatus mirrors the platform connectivity signal. Going online
// schedules one sync after ReconnectDelay; a further change re-arms the delay.
func (s *Scheduler) SetOnlineStatus(isOnline bool) {
	s.mu.Lock()
	wasOnline := s.isOnline
	s.isOnline = isOnline
	if wasOnline == isOnline {
		s.mu.Unlock()
		return
	}

	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	if isOnline && s.isRunning {
		s.reconnectTimer = time.AfterFunc(s.cfg.ReconnectDelay, s.trigger)
	}
	s.mu.Unlock()

	logging.Info("Online status changed", map[string]interface{}{
		"was_online": wasOnline,
		"is_online":  isOnline,
	})
	s.publish(EventConnectivityChanged, map[string]interface{}{"online": isOnline})
}

// NotifyForeground signals that the application regained visibility.
func (s *Scheduler) NotifyForeground() {
	if s.IsOnline() {
		s.trigger()
	}
}

// trigger asks the loop for a sync. It never blocks, and it is dropped when
// an attempt is already running or another trigger is pending.
func (s *Scheduler) trigger() {
	s.mu.RLock()
	busy := s.syncInProgress
	s.mu.RUnlock()
	if busy {
		return
	}
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if !s.IsOnline() {
				continue
			}
			s.SyncLocalQueue(ctx)
		case <-s.triggerCh:
			s.SyncLocalQueue(ctx)
		}
	}
}

// ForceSync runs one sync attempt now and returns its result.
func (s *Scheduler) ForceSync(ctx context.Context) models.SyncResult {
	logging.Info("Manual sync requested", nil)
	return s.SyncLocalQueue(ctx)
}

// RetryFailed clears the error on failed actions with at least RetryMinCount
// retries and runs a sync attempt. Idempotency keys are unchanged.
func (s *Scheduler) RetryFailed(ctx context.Context) models.SyncResult {
	failed, err := s.store.GetFailedActions(ctx, s.cfg.RetryMinCount)
	if err != nil {
		logging.ErrorWithCode("Failed to list failed actions", string(errors.CodeOf(err)), err, nil)
		return models.SyncResult{BatchError: errors.Public(err)}
	}
	for _, a := range failed {
		if err := s.store.ResetError(ctx, a.ID); err != nil {
			logging.ErrorWithCode("Failed to reset action error", string(errors.CodeOf(err)), err,
				map[string]interface{}{"action_id": a.ID})
			return models.SyncResult{BatchError: errors.Public(err)}
		}
	}
	logging.Info("Retrying failed actions", map[string]interface{}{"count": len(failed)})
	return s.SyncLocalQueue(ctx)
}

// SyncLocalQueue runs one sync attempt: submit up to BatchSize of the oldest
// pending or failed actions and reconcile the per-action results by id.
func (s *Scheduler) SyncLocalQueue(ctx context.Context) models.SyncResult {
	start := s.now()

	s.mu.Lock()
	if s.syncInProgress {
		s.mu.Unlock()
		logging.Debug("Sync already in progress, skipping", nil)
		return models.SyncResult{Skipped: models.SkipInProgress, Errors: []models.SyncError{}}
	}
	if !s.isOnline {
		s.mu.Unlock()
		logging.Debug("Skipping sync - scheduler is offline", nil)
		return models.SyncResult{Skipped: models.SkipOffline, Errors: []models.SyncError{}}
	}
	s.syncInProgress = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.syncInProgress = false
		s.mu.Unlock()
	}()

	result := s.attempt(ctx)
	result.Duration = s.now().Sub(start)

	s.mu.Lock()
	if result.BatchError == "" && result.Skipped == models.SkipNone {
		s.lastSyncTime = s.now()
	}
	stored := result
	s.lastResult = &stored
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordClientSync(ctx, result)
	}
	return result
}

func (s *Scheduler) attempt(ctx context.Context) models.SyncResult {
	result := models.SyncResult{Errors: []models.SyncError{}}

	batch, err := s.store.GetPendingActions(ctx, s.cfg.BatchSize)
	if err != nil {
		logging.ErrorWithCode("Failed to read pending actions", string(errors.CodeOf(err)), err, nil)
		result.BatchError = errors.Public(err)
		s.publish(EventSyncFailed, map[string]interface{}{"error_code": string(errors.CodeOf(err))})
		return result
	}
	if len(batch) == 0 {
		result.Success = true
		result.Skipped = models.SkipEmpty
		return result
	}

	s.publish(EventSyncStarted, map[string]interface{}{"count": len(batch)})

	req := models.SyncBatchRequest{Actions: make([]models.ActionEnvelope, 0, len(batch))}
	byID := make(map[string]*models.LocalAction, len(batch))
	for _, a := range batch {
		req.Actions = append(req.Actions, a.Envelope())
		byID[a.ID] = a
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	resp, err := s.transport.SubmitBatch(reqCtx, req)
	cancel()
	if err != nil {
		return s.batchFailed(result, len(batch), err)
	}

	s.mu.Lock()
	s.authRequired = false
	s.mu.Unlock()

	for _, r := range resp.Results {
		action, ok := byID[r.ID]
		if !ok {
			logging.Warn("Sync result for unknown action ignored", map[string]interface{}{"action_id": r.ID})
			continue
		}
		delete(byID, r.ID)

		if r.Success {
			if err := s.store.MarkAsSynced(ctx, action.ID); err != nil {
				logging.ErrorWithCode("Failed to mark action synced", string(errors.CodeOf(err)), err,
					map[string]interface{}{"action_id": action.ID})
				result.Failed++
				result.Errors = append(result.Errors, models.SyncError{ActionID: action.ID, Error: errors.Public(err)})
				continue
			}
			result.Synced++
			continue
		}

		msg := r.Error
		if msg == "" {
			msg = "action rejected by sync endpoint"
		}
		if err := s.store.UpdateRetryInfo(ctx, action.ID, msg); err != nil {
			logging.ErrorWithCode("Failed to record action failure", string(errors.CodeOf(err)), err,
				map[string]interface{}{"action_id": action.ID})
		}
		result.Failed++
		result.Errors = append(result.Errors, models.SyncError{ActionID: action.ID, Error: msg})
	}

	for id := range byID {
		logging.Warn("No sync result returned for action", map[string]interface{}{"action_id": id})
	}

	if removed, err := s.store.CleanupFailedActions(ctx); err != nil {
		logging.ErrorWithCode("Local queue cleanup failed", string(errors.CodeOf(err)), err, nil)
	} else if removed > 0 {
		logging.Info("Discarded stale actions", map[string]interface{}{"removed": removed})
	}

	result.Success = result.Failed == 0
	logging.Info("Sync completed", map[string]interface{}{
		"batch":  len(batch),
		"synced": result.Synced,
		"failed": result.Failed,
	})
	s.publish(EventSyncCompleted, map[string]interface{}{
		"synced": result.Synced,
		"failed": result.Failed,
	})
	return result
}

// batchFailed handles an attempt where no per-action outcome is known. No
// local action changes state.
func (s *Scheduler) batchFailed(result models.SyncResult, size int, err error) models.SyncResult {
	code := errors.CodeOf(err)
	result.BatchError = errors.Public(err)

	if code == errors.ErrSyncAuthFailed {
		s.mu.Lock()
		s.authRequired = true
		s.mu.Unlock()
		result.AuthRequired = true
		logging.Warn("Sync endpoint requires re-authentication", map[string]interface{}{"batch": size})
		s.publish(EventSyncAuthRequired, nil)
		return result
	}

	logging.ErrorWithCode("Sync batch failed", string(code), err, map[string]interface{}{"batch": size})
	s.publish(EventSyncFailed, map[string]interface{}{
		"error_code": string(code),
		"retryable":  true,
	})
	return result
}

func (s *Scheduler) publish(eventType string, data map[string]interface{}) {
	if s.events != nil {
		s.events.Publish(eventType, data)
	}
}

// SyncStatus is the scheduler state shown to the UI.
type SyncStatus struct {
	IsRunning      bool               `json:"is_running"`
	IsOnline       bool               `json:"is_online"`
	SyncInProgress bool               `json:"sync_in_progress"`
	AuthRequired   bool               `json:"auth_required"`
	PendingActions int                `json:"pending_actions"`
	QueueStats     models.QueueStats  `json:"queue_stats"`
	LastSyncTime   *time.Time         `json:"last_sync_time,omitempty"`
	LastResult     *models.SyncResult `json:"last_result,omitempty"`
}

// GetSyncStatus returns the current status of the scheduler and queue.
func (s *Scheduler) GetSyncStatus(ctx context.Context) (SyncStatus, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return SyncStatus{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	status := SyncStatus{
		IsRunning:      s.isRunning,
		IsOnline:       s.isOnline,
		SyncInProgress: s.syncInProgress,
		AuthRequired:   s.authRequired,
		PendingActions: stats.Unsynced(),
		QueueStats:     stats,
	}
	if !s.lastSyncTime.IsZero() {
		t := s.lastSyncTime
		status.LastSyncTime = &t
	}
	if s.lastResult != nil {
		r := *s.lastResult
		status.LastResult = &r
	}
	return status, nil
}

// IsOnline returns whether the scheduler is in online mode.
func (s *Scheduler) IsOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isOnline
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// AuthRequired reports whether the last attempt was rejected for its credential.
func (s *Scheduler) AuthRequired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authRequired
}
