// internal/engine/step-controller/controller.go
package stepcontroller

import (
	"context"
	"fmt"
	"sync"

	apperrors "enrollment-sync/internal/common/errors"
	"enrollment-sync/internal/common/logger"
	"enrollment-sync/internal/common/metrics"
	eventbus "enrollment-sync/internal/engine/event-bus"
	localstore "enrollment-sync/internal/engine/local-store"
	"enrollment-sync/internal/models"
)

// Controller is the step state machine. It is the only writer of the active
// step and completed steps keys.
type Controller struct {
	store  localstore.Store
	bus    *eventbus.Bus
	logger logger.Logger
	total  int

	mu    sync.Mutex
	state models.StepState
}

func New(store localstore.Store, bus *eventbus.Bus, log logger.Logger, totalSteps int) *Controller {
	if totalSteps <= 0 {
		totalSteps = models.TotalSteps
	}
	return &Controller{
		store:  store,
		bus:    bus,
		logger: logger.ForComponent(log, "step-controller"),
		total:  totalSteps,
		state:  models.StepState{ActiveStep: 1, CompletedSteps: []int{}},
	}
}

// Load restores the step state from the local store, defaulting to step 1 with
// nothing completed. Out-of-range values are dropped.
func (c *Controller) Load(ctx context.Context) models.StepState {
	active := localstore.GetJSON(ctx, c.store, localstore.KeyActiveStep, 1)
	completed := localstore.GetJSON(ctx, c.store, localstore.KeyCompletedSteps, []int{})

	valid := make([]int, 0, len(completed))
	for _, s := range completed {
		if c.inRange(s) {
			valid = append(valid, s)
		}
	}
	if !c.inRange(active) {
		active = 1
	}

	c.mu.Lock()
	c.state = models.StepState{ActiveStep: active, CompletedSteps: models.SortedSteps(valid)}
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	c.bus.Publish(eventbus.StepChanged, snapshot)
	return snapshot
}

// State returns a copy of the current step state.
func (c *Controller) State() models.StepState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// CanAdvance reports whether step is navigable from the current state.
func (c *Controller) CanAdvance(step int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canAdvanceLocked(step)
}

func (c *Controller) canAdvanceLocked(step int) bool {
	if !c.inRange(step) {
		return false
	}
	return step <= c.state.ActiveStep+1 || c.state.IsCompleted(step) || c.state.IsCompleted(step-1)
}

// Advance navigates to step when the gating rule allows it. Rejected targets are a no-op.
func (c *Controller) Advance(ctx context.Context, step int) bool {
	c.mu.Lock()
	if !c.canAdvanceLocked(step) {
		current := c.state.ActiveStep
		c.mu.Unlock()
		metrics.StepTransitions.WithLabelValues("advance", "rejected").Inc()
		c.logger.Debug("step navigation rejected", map[string]interface{}{"step": step, "activeStep": current})
		return false
	}
	c.state.ActiveStep = step
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	metrics.StepTransitions.WithLabelValues("advance", "accepted").Inc()
	c.persist(ctx, snapshot)
	return true
}

// Complete records step as completed without moving the active step. Callers
// must have validated the step first.
func (c *Controller) Complete(ctx context.Context, step int) error {
	c.mu.Lock()
	if err := c.checkWritableLocked(step); err != nil {
		c.mu.Unlock()
		metrics.StepTransitions.WithLabelValues("complete", "rejected").Inc()
		return err
	}
	c.completeLocked(step)
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	metrics.StepTransitions.WithLabelValues("complete", "accepted").Inc()
	c.persist(ctx, snapshot)
	return nil
}

func (c *Controller) completeLocked(step int) {
	if !c.state.IsCompleted(step) {
		c.state.CompletedSteps = models.SortedSteps(append(c.state.CompletedSteps, step))
	}
}

// EditFrom jumps back to a completed step and remembers where to return.
func (c *Controller) EditFrom(ctx context.Context, step int) error {
	c.mu.Lock()
	if err := c.checkWritableLocked(step); err != nil {
		c.mu.Unlock()
		metrics.StepTransitions.WithLabelValues("edit", "rejected").Inc()
		return err
	}
	if !c.state.IsCompleted(step) && step >= c.state.ActiveStep {
		c.mu.Unlock()
		metrics.StepTransitions.WithLabelValues("edit", "rejected").Inc()
		return apperrors.NewStepLockedError(step, "Only a step you have already filled in can be edited")
	}
	if !c.state.Editing {
		c.state.ReturnStep = c.state.ActiveStep
	}
	c.state.Editing = true
	c.state.ActiveStep = step
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	metrics.StepTransitions.WithLabelValues("edit", "accepted").Inc()
	c.persist(ctx, snapshot)
	return nil
}

// Finish completes step and navigates: back to the return step while editing,
// otherwise to the next step. It returns the new active step.
func (c *Controller) Finish(ctx context.Context, step int) (int, error) {
	c.mu.Lock()
	if err := c.checkWritableLocked(step); err != nil {
		c.mu.Unlock()
		metrics.StepTransitions.WithLabelValues("finish", "rejected").Inc()
		return 0, err
	}
	c.completeLocked(step)

	next := step + 1
	if c.state.Editing && c.state.ReturnStep > 0 {
		next = c.state.ReturnStep
		c.state.Editing = false
		c.state.ReturnStep = 0
	}
	if next > c.total {
		next = c.total
	}
	c.state.ActiveStep = next
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	metrics.StepTransitions.WithLabelValues("finish", "accepted").Inc()
	c.persist(ctx, snapshot)
	return next, nil
}

// MarkSubmitted puts the wizard in its read-only terminal state on the review step.
func (c *Controller) MarkSubmitted(ctx context.Context) {
	c.mu.Lock()
	c.state.Submitted = true
	c.state.Editing = false
	c.state.ReturnStep = 0
	c.completeLocked(c.total)
	c.state.ActiveStep = c.total
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	c.persist(ctx, snapshot)
}

// Reset returns to step 1 with nothing completed and clears the persisted keys.
func (c *Controller) Reset(ctx context.Context) error {
	c.mu.Lock()
	c.state = models.StepState{ActiveStep: 1, CompletedSteps: []int{}}
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	metrics.StepTransitions.WithLabelValues("reset", "accepted").Inc()
	err := c.store.Remove(ctx, localstore.KeyActiveStep, localstore.KeyCompletedSteps)
	c.bus.Publish(eventbus.StepChanged, snapshot)
	if err != nil {
		return fmt.Errorf("clear step state: %w", err)
	}
	return nil
}

func (c *Controller) checkWritableLocked(step int) error {
	if !c.inRange(step) {
		return apperrors.NewStepLockedError(step, fmt.Sprintf("Step %d does not exist", step))
	}
	if c.state.Submitted {
		return apperrors.NewStepLockedError(step, "The application has been submitted and can no longer be changed")
	}
	return nil
}

func (c *Controller) inRange(step int) bool {
	return step >= 1 && step <= c.total
}

func (c *Controller) snapshotLocked() models.StepState {
	s := c.state
	s.CompletedSteps = append([]int{}, c.state.CompletedSteps...)
	return s
}

// persist writes the step keys and announces the change. Write failures are
// logged; the in-memory state stays authoritative for the session.
func (c *Controller) persist(ctx context.Context, snapshot models.StepState) {
	if err := localstore.SetJSON(ctx, c.store, localstore.KeyActiveStep, snapshot.ActiveStep); err != nil {
		c.logger.Warn("failed to persist active step", map[string]interface{}{"error": err})
	}
	if err := localstore.SetJSON(ctx, c.store, localstore.KeyCompletedSteps, snapshot.CompletedSteps); err != nil {
		c.logger.Warn("failed to persist completed steps", map[string]interface{}{"error": err})
	}
	c.bus.Publish(eventbus.StepChanged, snapshot)
}
