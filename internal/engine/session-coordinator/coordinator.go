// internal/engine/session-coordinator/coordinator.go
package sessioncoordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"enrollment-sync/internal/common/auth"
	apperrors "enrollment-sync/internal/common/errors"
	"enrollment-sync/internal/common/logger"
	autosavesynchronizer "enrollment-sync/internal/engine/autosave-synchronizer"
	eventbus "enrollment-sync/internal/engine/event-bus"
	identitymanager "enrollment-sync/internal/engine/identity-manager"
	stepcontroller "enrollment-sync/internal/engine/step-controller"
	submissionnotifier "enrollment-sync/internal/engine/submission-notifier"
	validationengine "enrollment-sync/internal/engine/validation-engine"
	"enrollment-sync/internal/engine/workspace"
	"enrollment-sync/internal/gateway"
	"enrollment-sync/internal/models"
)

const defaultOperationTimeout = 30 * time.Second

// Notifier is told about every successful full submission.
type Notifier interface {
	Notify(ctx context.Context, sub submissionnotifier.Submission) error
}

// Deps are the components the coordinator wires together. Notifier is optional.
type Deps struct {
	Auth      auth.Authenticator
	Gateway   gateway.Gateway
	Identity  *identitymanager.Manager
	Autosave  *autosavesynchronizer.Synchronizer
	Steps     *stepcontroller.Controller
	Workspace *workspace.Workspace
	Validator *validationengine.Engine
	Notifier  Notifier
	Bus       *eventbus.Bus
	Logger    logger.Logger

	// OperationTimeout bounds work started by auth transitions.
	OperationTimeout time.Duration
}

// Coordinator owns the session-level flows: reacting to auth transitions,
// routing edits to the workspace and autosave, step completion, submission
// and document upload.
type Coordinator struct {
	auth      auth.Authenticator
	gateway   gateway.Gateway
	identity  *identitymanager.Manager
	autosave  *autosavesynchronizer.Synchronizer
	steps     *stepcontroller.Controller
	workspace *workspace.Workspace
	validator *validationengine.Engine
	notifier  Notifier
	bus       *eventbus.Bus
	notices   *apperrors.NoticeHandler
	logger    logger.Logger
	timeout   time.Duration
	now       func() time.Time

	// sessionMu serializes auth transitions, resets and writes to the workspace.
	sessionMu sync.Mutex
	// epoch counts resets; work started in an earlier session is dropped.
	epoch uint64
	// restored holds drafts reloaded on Start that still have to reach the server.
	restored models.ApplicationRecord

	summaryMu sync.RWMutex
	summary   ReviewSummary

	unsubscribe   []func()
	notifications sync.WaitGroup
}

// State is a point-in-time view of the whole session.
type State struct {
	ApplicationID string                   `json:"applicationId,omitempty"`
	Record        models.ApplicationRecord `json:"record"`
	Steps         models.StepState         `json:"steps"`
	Saving        models.SavingStatus      `json:"saving"`
	Summary       ReviewSummary            `json:"summary"`
}

func New(deps Deps) *Coordinator {
	log := logger.ForComponent(deps.Logger, "session-coordinator")
	timeout := deps.OperationTimeout
	if timeout <= 0 {
		timeout = defaultOperationTimeout
	}
	validator := deps.Validator
	if validator == nil {
		validator = validationengine.New()
	}

	c := &Coordinator{
		auth:      deps.Auth,
		gateway:   deps.Gateway,
		identity:  deps.Identity,
		autosave:  deps.Autosave,
		steps:     deps.Steps,
		workspace: deps.Workspace,
		validator: validator,
		notifier:  deps.Notifier,
		bus:       deps.Bus,
		notices:   apperrors.NewNoticeHandler(log, deps.Bus),
		logger:    log,
		timeout:   timeout,
		now:       time.Now,
	}

	c.unsubscribe = append(c.unsubscribe,
		c.bus.Subscribe(c.onRecordEvent,
			eventbus.SectionChanged,
			eventbus.RecordHydrated,
			eventbus.StepChanged,
			eventbus.SessionReset,
		),
	)
	if c.auth != nil {
		c.unsubscribe = append(c.unsubscribe, c.auth.Subscribe(c.onTransition))
	}
	return c
}

// Start restores the local session: step state and section drafts. When a user
// is already signed in, their remote record is hydrated as well.
func (c *Coordinator) Start(ctx context.Context) error {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	c.steps.Load(ctx)
	c.restored = c.workspace.Restore(ctx)
	c.refreshSummary()

	if c.auth == nil || !c.auth.IsAuthenticated() {
		return nil
	}
	return c.hydrate(ctx)
}

// Close stops timers, detaches from the bus and the authenticator and waits
// for notifications still being sent.
func (c *Coordinator) Close() {
	for _, unsubscribe := range c.unsubscribe {
		unsubscribe()
	}
	c.unsubscribe = nil
	c.autosave.Stop()
	c.notifications.Wait()
}

// Flush saves pending edits now instead of waiting for the quiet period.
func (c *Coordinator) Flush(ctx context.Context) error {
	return c.autosave.Flush(ctx)
}

// Snapshot returns the current session state.
func (c *Coordinator) Snapshot() State {
	return State{
		ApplicationID: c.identity.Identity().ID,
		Record:        c.workspace.Snapshot(),
		Steps:         c.steps.State(),
		Saving:        c.autosave.Status(),
		Summary:       c.ReviewSummary(),
	}
}

func (c *Coordinator) onTransition(tr auth.Transition) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	_ = c.HandleTransition(ctx, tr)
}

// HandleTransition applies an auth transition: signed-in hydrates, signed-out
// resets the session and clears local data, changed-user does both.
func (c *Coordinator) HandleTransition(ctx context.Context, tr auth.Transition) error {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	c.logger.Info("auth transition", map[string]interface{}{
		"kind":     string(tr.Kind),
		"previous": tr.Previous.Subject,
		"current":  tr.Current.Subject,
	})

	switch tr.Kind {
	case auth.SignedIn:
		return c.hydrate(ctx)
	case auth.SignedOut:
		return c.reset(ctx, true)
	case auth.ChangedUser:
		if err := c.reset(ctx, true); err != nil {
			return err
		}
		return c.hydrate(ctx)
	}
	return nil
}

// hydrate resolves the application id and seeds the workspace from the remote record.
func (c *Coordinator) hydrate(ctx context.Context) error {
	id, err := c.identity.EnsureIdentity(ctx)
	if err != nil {
		return c.fail("hydrate", err)
	}

	rec, err := c.identity.Hydrate(ctx, id)
	if err != nil {
		return c.fail("hydrate", err)
	}

	seeded := c.workspace.Seed(ctx, rec)
	if rec.IsSubmitted() {
		c.steps.MarkSubmitted(ctx)
	} else if c.restored.HasData() {
		c.autosave.NotifyChanged(c.restored)
	}
	c.restored = models.ApplicationRecord{}
	c.logger.Info("session hydrated", map[string]interface{}{
		"applicationId": id,
		"sections":      len(seeded),
		"submitted":     rec.IsSubmitted(),
	})
	return nil
}

// reset returns every component to a fresh session. With forgetIdentity the
// application id is cleared too, as on sign-out.
func (c *Coordinator) reset(ctx context.Context, forgetIdentity bool) error {
	c.epoch++
	c.restored = models.ApplicationRecord{}
	c.autosave.Reset()

	var errs []error
	if err := c.steps.Reset(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := c.workspace.Clear(ctx); err != nil {
		errs = append(errs, err)
	}
	if forgetIdentity {
		if err := c.identity.Reset(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.bus.Publish(eventbus.SessionReset, forgetIdentity)

	if err := errors.Join(errs...); err != nil {
		c.logger.Warn("session reset left local data behind", map[string]interface{}{"error": err})
		return err
	}
	return nil
}

// StartOver discards the working record and step progress but keeps the application id.
func (c *Coordinator) StartOver(ctx context.Context) error {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	if c.steps.State().Submitted {
		return c.fail("start_over", submittedError(c.steps.State().ActiveStep))
	}
	return c.reset(ctx, false)
}

// Edit applies a user change to one section, schedules an autosave and returns
// the section's fresh validation state.
func (c *Coordinator) Edit(ctx context.Context, section models.SectionName, fn func(*models.ApplicationRecord) error) (models.ValidationState, error) {
	if err := c.applyEdit(ctx, "edit", c.currentEpoch(), section, fn); err != nil {
		return models.ValidationState{}, err
	}
	return c.validator.ValidateSection(section, c.workspace.Snapshot()), nil
}

// applyEdit writes to the workspace and schedules an autosave, unless the
// session has been reset since epoch.
func (c *Coordinator) applyEdit(ctx context.Context, operation string, epoch uint64, section models.SectionName, fn func(*models.ApplicationRecord) error) error {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	if state := c.steps.State(); state.Submitted {
		return c.fail(operation, submittedError(state.ActiveStep))
	}
	if c.epoch != epoch {
		return c.fail(operation, apperrors.NewStepLockedError(c.steps.State().ActiveStep, "The session ended before this change could be applied"))
	}

	changed, err := c.workspace.Edit(ctx, section, fn)
	if err != nil {
		return c.fail(operation, apperrors.NewInternalError(err))
	}
	c.autosave.NotifyChanged(changed)
	return nil
}

func (c *Coordinator) currentEpoch() uint64 {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	return c.epoch
}

// Advance navigates to step when the gating rule allows it.
func (c *Coordinator) Advance(ctx context.Context, step int) bool {
	return c.steps.Advance(ctx, step)
}

// EditFrom reopens a completed step for editing.
func (c *Coordinator) EditFrom(ctx context.Context, step int) error {
	if err := c.steps.EditFrom(ctx, step); err != nil {
		return c.fail("edit_from", err)
	}
	return nil
}

// fail funnels err through the notice handler. Expired credentials are dropped
// so the user is asked to sign in again.
func (c *Coordinator) fail(operation string, err error) error {
	if errors.Is(err, apperrors.ErrAuthenticationExpired) && c.auth != nil {
		c.auth.Invalidate()
	}
	c.notices.Handle(operation, err)
	return err
}

func submittedError(step int) error {
	return apperrors.NewStepLockedError(step, "The application has been submitted and can no longer be changed")
}
