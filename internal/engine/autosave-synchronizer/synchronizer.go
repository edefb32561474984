// internal/engine/autosave-synchronizer/synchronizer.go
package autosavesynchronizer

import (
	"context"
	"errors"
	"sync"
	"time"

	apperrors "enrollment-sync/internal/common/errors"
	"enrollment-sync/internal/common/logger"
	"enrollment-sync/internal/common/metrics"
	eventbus "enrollment-sync/internal/engine/event-bus"
	fieldtransformer "enrollment-sync/internal/engine/field-transformer"
	"enrollment-sync/internal/gateway"
	"enrollment-sync/internal/models"
)

const (
	DefaultQuietPeriod  = 3000 * time.Millisecond
	DefaultSavedDisplay = 2000 * time.Millisecond
	defaultSaveTimeout  = 30 * time.Second
)

// IdentityProvider resolves the application id before a write.
type IdentityProvider interface {
	EnsureIdentity(ctx context.Context) (string, error)
}

// CredentialInvalidator drops credentials the backend rejected.
type CredentialInvalidator interface {
	Invalidate()
}

type Config struct {
	QuietPeriod  time.Duration
	SavedDisplay time.Duration
	SaveTimeout  time.Duration
}

// Synchronizer debounces edits into partial updates. It is the only writer of
// the saving status and of incremental remote writes.
type Synchronizer struct {
	gateway  gateway.Gateway
	identity IdentityProvider
	auth     CredentialInvalidator
	bus      *eventbus.Bus
	notices  *apperrors.NoticeHandler
	logger   logger.Logger
	cfg      Config

	mu         sync.Mutex
	pending    models.ApplicationRecord
	timer      *time.Timer
	timerSeq   uint64
	savedTimer *time.Timer
	inFlight   bool
	followUp   bool
	status     models.SavingStatus
	generation uint64

	// saveMu serializes writes so at most one partial update is in flight.
	saveMu sync.Mutex
}

func New(gw gateway.Gateway, identity IdentityProvider, auth CredentialInvalidator, bus *eventbus.Bus, log logger.Logger, cfg Config) *Synchronizer {
	if cfg.QuietPeriod <= 0 {
		cfg.QuietPeriod = DefaultQuietPeriod
	}
	if cfg.SavedDisplay <= 0 {
		cfg.SavedDisplay = DefaultSavedDisplay
	}
	if cfg.SaveTimeout <= 0 {
		cfg.SaveTimeout = defaultSaveTimeout
	}
	log = logger.ForComponent(log, "autosave-synchronizer")
	return &Synchronizer{
		gateway:  gw,
		identity: identity,
		auth:     auth,
		bus:      bus,
		notices:  apperrors.NewNoticeHandler(log, bus),
		logger:   log,
		cfg:      cfg,
		status:   models.SavingIdle,
	}
}

// Status returns the current saving status.
func (s *Synchronizer) Status() models.SavingStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// HasPending reports whether edits are waiting to be saved.
func (s *Synchronizer) HasPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.HasData()
}

// NotifyChanged merges changed sections into the pending set (last write wins
// per section) and restarts the quiet-period timer.
func (s *Synchronizer) NotifyChanged(sections models.ApplicationRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending.Merge(sections.Clone())
	if s.inFlight || s.timer != nil {
		metrics.AutosaveCoalescedEdits.Inc()
	}
	if s.inFlight {
		s.followUp = true
	}
	s.stopTimerLocked()
	s.timerSeq++
	seq := s.timerSeq
	s.timer = time.AfterFunc(s.cfg.QuietPeriod, func() { s.fire(seq) })
}

// stopTimerLocked cancels the quiet-period timer. A callback that already
// started sees a stale sequence number and returns.
func (s *Synchronizer) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerSeq++
}

// fire runs when the quiet period elapses. A save already in flight absorbs
// the trigger as its single follow-up.
func (s *Synchronizer) fire(seq uint64) {
	s.mu.Lock()
	if seq != s.timerSeq {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	if s.inFlight {
		s.followUp = true
		s.mu.Unlock()
		return
	}
	s.inFlight = true
	s.mu.Unlock()

	for {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SaveTimeout)
		_ = s.saveOnce(ctx)
		cancel()

		s.mu.Lock()
		again := s.followUp && s.timer == nil
		s.followUp = false
		if !again {
			s.inFlight = false
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
	}
}

// Flush cancels the pending timer and saves immediately, waiting for any save
// already in flight first.
func (s *Synchronizer) Flush(ctx context.Context) error {
	s.mu.Lock()
	s.stopTimerLocked()
	s.mu.Unlock()

	return s.saveOnce(ctx)
}

func (s *Synchronizer) saveOnce(ctx context.Context) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	batch := s.pending
	s.pending = models.ApplicationRecord{}
	generation := s.generation
	s.mu.Unlock()

	if !batch.HasData() {
		metrics.AutosaveAttempts.WithLabelValues("skipped").Inc()
		return nil
	}

	s.setStatus(models.SavingSaving)
	metrics.AutosaveInFlight.Inc()
	defer metrics.AutosaveInFlight.Dec()

	id, err := s.identity.EnsureIdentity(ctx)
	if err != nil {
		return s.fail(generation, batch, err)
	}

	doc, err := fieldtransformer.Forward(batch)
	if err != nil {
		return s.fail(generation, batch, apperrors.NewInternalError(err))
	}
	doc = fieldtransformer.Sanitize(doc)
	if len(doc) == 0 {
		metrics.AutosaveAttempts.WithLabelValues("skipped").Inc()
		s.setStatus(models.SavingIdle)
		return nil
	}

	start := time.Now()
	err = s.gateway.PartialUpdate(ctx, id, doc)
	metrics.AutosaveDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, gateway.ErrUnauthorized) {
			return s.fail(generation, batch, apperrors.NewAuthenticationExpiredError(err))
		}
		return s.fail(generation, batch, apperrors.NewSaveFailedError(err))
	}

	metrics.AutosaveAttempts.WithLabelValues("success").Inc()
	s.logger.Debug("autosave completed", map[string]interface{}{
		"applicationId": id,
		"sections":      len(doc),
		"durationMs":    time.Since(start).Milliseconds(),
	})
	s.markSaved()
	return nil
}

// fail puts the batch back under any newer edits so nothing typed is lost,
// then surfaces a notice.
func (s *Synchronizer) fail(generation uint64, batch models.ApplicationRecord, err error) error {
	metrics.AutosaveAttempts.WithLabelValues("failure").Inc()

	s.mu.Lock()
	if s.generation == generation {
		restored := batch
		restored.Merge(s.pending)
		s.pending = restored
	}
	s.mu.Unlock()

	if errors.Is(err, apperrors.ErrAuthenticationExpired) && s.auth != nil {
		s.auth.Invalidate()
	}

	s.setStatus(models.SavingIdle)
	s.notices.Handle("autosave", err)
	return err
}

func (s *Synchronizer) setStatus(status models.SavingStatus) {
	s.mu.Lock()
	if status == models.SavingSaving && s.savedTimer != nil {
		s.savedTimer.Stop()
		s.savedTimer = nil
	}
	changed := s.status != status
	s.status = status
	s.mu.Unlock()

	if changed {
		s.bus.Publish(eventbus.SavingStatusChanged, status)
	}
}

// markSaved sets "saved" and schedules the revert to "idle".
func (s *Synchronizer) markSaved() {
	s.setStatus(models.SavingSaved)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.savedTimer != nil {
		s.savedTimer.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(s.cfg.SavedDisplay, func() {
		s.mu.Lock()
		if s.savedTimer != t || s.status != models.SavingSaved {
			s.mu.Unlock()
			return
		}
		s.savedTimer = nil
		s.mu.Unlock()
		s.setStatus(models.SavingIdle)
	})
	s.savedTimer = t
}

// Reset drops pending edits and timers. A save in flight finishes but its
// failure no longer restores the discarded batch.
func (s *Synchronizer) Reset() {
	s.mu.Lock()
	s.stopTimerLocked()
	if s.savedTimer != nil {
		s.savedTimer.Stop()
		s.savedTimer = nil
	}
	s.pending = models.ApplicationRecord{}
	s.followUp = false
	s.generation++
	s.mu.Unlock()

	s.setStatus(models.SavingIdle)
}

// Stop cancels the timers without touching pending edits.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimerLocked()
	if s.savedTimer != nil {
		s.savedTimer.Stop()
		s.savedTimer = nil
	}
}
