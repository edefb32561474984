// internal/engine/session-coordinator/summary.go
package sessioncoordinator

import (
	eventbus "enrollment-sync/internal/engine/event-bus"
	"enrollment-sync/internal/models"
)

// StepSummary is the review-page view of one wizard step.
type StepSummary struct {
	Step     int               `json:"step"`
	Title    string            `json:"title"`
	Complete bool              `json:"complete"`
	Errors   map[string]string `json:"errors,omitempty"`
}

// ReviewSummary is recomputed whenever the record or the step state changes.
type ReviewSummary struct {
	Steps         []StepSummary `json:"steps"`
	ReadyToSubmit bool          `json:"readyToSubmit"`
	Submitted     bool          `json:"submitted"`
}

// ReviewSummary returns the latest summary.
func (c *Coordinator) ReviewSummary() ReviewSummary {
	c.summaryMu.RLock()
	defer c.summaryMu.RUnlock()

	out := c.summary
	out.Steps = append([]StepSummary(nil), c.summary.Steps...)
	return out
}

func (c *Coordinator) onRecordEvent(eventbus.Event) {
	c.refreshSummary()
}

func (c *Coordinator) refreshSummary() {
	rec := c.workspace.Snapshot()
	state := c.steps.State()

	summary := ReviewSummary{
		Steps:         make([]StepSummary, 0, models.StepDeclaration),
		ReadyToSubmit: !state.Submitted,
		Submitted:     state.Submitted,
	}
	for step := models.StepStudentGuardian; step <= models.StepDeclaration; step++ {
		result := c.validator.ValidateStep(step, rec)
		summary.Steps = append(summary.Steps, StepSummary{
			Step:     step,
			Title:    models.StepTitles[step],
			Complete: result.IsComplete,
			Errors:   result.Errors,
		})
		if !result.IsComplete {
			summary.ReadyToSubmit = false
		}
	}

	c.summaryMu.Lock()
	c.summary = summary
	c.summaryMu.Unlock()
}
