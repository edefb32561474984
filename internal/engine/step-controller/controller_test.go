package stepcontroller

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "enrollment-sync/internal/common/errors"
	"enrollment-sync/internal/common/logger"
	eventbus "enrollment-sync/internal/engine/event-bus"
	localstore "enrollment-sync/internal/engine/local-store"
	"enrollment-sync/internal/models"
)

func newController(t *testing.T) (*Controller, *localstore.MemoryStore, *[]models.StepState) {
	t.Helper()
	log := logger.NewTestLogger(t)
	store := localstore.NewMemoryStore()
	bus := eventbus.New(log)
	var events []models.StepState
	bus.Subscribe(func(evt eventbus.Event) {
		events = append(events, evt.Payload.(models.StepState))
	}, eventbus.StepChanged)
	return New(store, bus, log, models.TotalSteps), store, &events
}

// ==========================
// Load
// ==========================

func TestLoad_Defaults(t *testing.T) {
	c, _, _ := newController(t)
	state := c.Load(context.Background())
	assert.Equal(t, 1, state.ActiveStep)
	assert.Empty(t, state.CompletedSteps)
	assert.False(t, state.Editing)
}

func TestLoad_RestoresPersistedState(t *testing.T) {
	c, store, _ := newController(t)
	ctx := context.Background()
	require.NoError(t, localstore.SetJSON(ctx, store, localstore.KeyActiveStep, 3))
	require.NoError(t, localstore.SetJSON(ctx, store, localstore.KeyCompletedSteps, []int{2, 1, 9, 2}))

	state := c.Load(ctx)
	assert.Equal(t, 3, state.ActiveStep)
	assert.Equal(t, []int{1, 2}, state.CompletedSteps)
}

func TestLoad_CorruptValuesFallBack(t *testing.T) {
	c, store, _ := newController(t)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, localstore.KeyActiveStep, "not-json"))
	require.NoError(t, localstore.SetJSON(ctx, store, localstore.KeyCompletedSteps, "oops"))

	state := c.Load(ctx)
	assert.Equal(t, 1, state.ActiveStep)
	assert.Empty(t, state.CompletedSteps)
}

// ==========================
// Gating
// ==========================

func TestAdvance_Gating(t *testing.T) {
	c, _, _ := newController(t)
	ctx := context.Background()
	c.Load(ctx)

	assert.False(t, c.Advance(ctx, 3), "step 3 is locked from step 1")
	assert.Equal(t, 1, c.State().ActiveStep)

	assert.True(t, c.Advance(ctx, 2))
	assert.True(t, c.Advance(ctx, 3), "step 3 follows the active step")
}

func TestAdvance_CompletedStepsUnlockNeighbours(t *testing.T) {
	c, _, _ := newController(t)
	ctx := context.Background()
	c.Load(ctx)

	require.NoError(t, c.Complete(ctx, 1))
	require.NoError(t, c.Complete(ctx, 2))
	assert.Equal(t, 1, c.State().ActiveStep, "complete does not move the active step")

	assert.True(t, c.Advance(ctx, 3))
	assert.True(t, c.Advance(ctx, 1))
	assert.False(t, c.Advance(ctx, 4))
	assert.False(t, c.Advance(ctx, 0))
	assert.False(t, c.Advance(ctx, 7))
}

func TestAdvance_PersistsActiveStep(t *testing.T) {
	c, store, events := newController(t)
	ctx := context.Background()
	c.Load(ctx)

	require.True(t, c.Advance(ctx, 2))
	assert.Equal(t, 2, localstore.GetJSON(ctx, store, localstore.KeyActiveStep, 0))
	assert.Equal(t, 2, (*events)[len(*events)-1].ActiveStep)
}

// ==========================
// Finish and edit flow
// ==========================

func TestFinish_AdvancesLinearly(t *testing.T) {
	c, store, _ := newController(t)
	ctx := context.Background()
	c.Load(ctx)

	next, err := c.Finish(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, next)
	assert.Equal(t, []int{1}, localstore.GetJSON(ctx, store, localstore.KeyCompletedSteps, []int{}))

	next, err = c.Finish(ctx, models.TotalSteps)
	require.NoError(t, err)
	assert.Equal(t, models.TotalSteps, next)
}

func TestEditFrom_ReturnsToOriginStep(t *testing.T) {
	c, _, _ := newController(t)
	ctx := context.Background()
	c.Load(ctx)
	for step := 1; step <= 4; step++ {
		_, err := c.Finish(ctx, step)
		require.NoError(t, err)
	}
	require.Equal(t, 5, c.State().ActiveStep)

	require.NoError(t, c.EditFrom(ctx, 2))
	state := c.State()
	assert.True(t, state.Editing)
	assert.Equal(t, 5, state.ReturnStep)
	assert.Equal(t, 2, state.ActiveStep)

	next, err := c.Finish(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, next)
	state = c.State()
	assert.False(t, state.Editing)
	assert.Zero(t, state.ReturnStep)
}

func TestEditFrom_NestedEditKeepsFirstReturnStep(t *testing.T) {
	c, _, _ := newController(t)
	ctx := context.Background()
	c.Load(ctx)
	for step := 1; step <= 3; step++ {
		_, err := c.Finish(ctx, step)
		require.NoError(t, err)
	}

	require.NoError(t, c.EditFrom(ctx, 2))
	require.NoError(t, c.EditFrom(ctx, 1))
	assert.Equal(t, 4, c.State().ReturnStep)
}

func TestEditFrom_RejectsUnvisitedStep(t *testing.T) {
	c, _, _ := newController(t)
	ctx := context.Background()
	c.Load(ctx)

	err := c.EditFrom(ctx, 4)
	assert.ErrorIs(t, err, apperrors.ErrStepLocked)
	assert.False(t, c.State().Editing)
}

// ==========================
// Submission and reset
// ==========================

func TestMarkSubmitted_ReadOnly(t *testing.T) {
	c, _, _ := newController(t)
	ctx := context.Background()
	c.Load(ctx)
	for step := 1; step < models.TotalSteps; step++ {
		_, err := c.Finish(ctx, step)
		require.NoError(t, err)
	}

	c.MarkSubmitted(ctx)
	state := c.State()
	assert.True(t, state.Submitted)
	assert.Equal(t, models.TotalSteps, state.ActiveStep)
	assert.True(t, state.IsCompleted(models.TotalSteps))

	assert.ErrorIs(t, c.Complete(ctx, 3), apperrors.ErrStepLocked)
	assert.ErrorIs(t, c.EditFrom(ctx, 2), apperrors.ErrStepLocked)
	_, err := c.Finish(ctx, models.TotalSteps)
	assert.ErrorIs(t, err, apperrors.ErrStepLocked)

	assert.True(t, c.Advance(ctx, 2), "viewing is still allowed")
	assert.True(t, c.Advance(ctx, models.TotalSteps))
}

func TestReset_ClearsStateAndKeys(t *testing.T) {
	c, store, _ := newController(t)
	ctx := context.Background()
	c.Load(ctx)
	_, err := c.Finish(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, c.EditFrom(ctx, 1))

	require.NoError(t, c.Reset(ctx))

	state := c.State()
	assert.Equal(t, 1, state.ActiveStep)
	assert.Empty(t, state.CompletedSteps)
	assert.False(t, state.Editing)
	assert.Zero(t, store.Len())
}

func TestComplete_RejectsOutOfRange(t *testing.T) {
	c, _, _ := newController(t)
	assert.ErrorIs(t, c.Complete(context.Background(), 0), apperrors.ErrStepLocked)
	assert.ErrorIs(t, c.Complete(context.Background(), models.TotalSteps+1), apperrors.ErrStepLocked)
}
