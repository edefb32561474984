// internal/engine/validation-engine/engine.go
package validationengine

import (
	"fmt"
	"time"

	"enrollment-sync/internal/common/validation"
	"enrollment-sync/internal/models"
)

// Engine evaluates per-section rule sets. It holds no state besides the
// reference clock used for date-range bounds, so equal drafts give equal results.
type Engine struct {
	now func() time.Time
}

type Option func(*Engine)

// WithClock fixes the reference time used by date and year bounds.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(opts ...Option) *Engine {
	e := &Engine{now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func result(errs validation.FieldErrors, complete bool) models.ValidationState {
	return models.ValidationState{Errors: map[string]string(errs), IsComplete: complete && len(errs) == 0}
}

// ValidateSection dispatches to the rule set of one section of rec.
func (e *Engine) ValidateSection(section models.SectionName, rec models.ApplicationRecord) models.ValidationState {
	switch section {
	case models.SectionStudent:
		return e.ValidateStudent(rec.Student)
	case models.SectionMedical:
		return e.ValidateMedical(rec.Medical)
	case models.SectionFamily:
		return e.ValidateFamily(rec.Family)
	case models.SectionFee:
		return e.ValidateFee(rec.Fee)
	case models.SectionAcademicHistory:
		return e.ValidateAcademicHistory(rec.AcademicHistory)
	case models.SectionSubjects:
		return e.ValidateSubjects(rec.Subjects)
	case models.SectionFinancing:
		return e.ValidateFinancing(rec.Financing)
	case models.SectionDeclaration:
		return e.ValidateDeclaration(rec.Declaration)
	case models.SectionDocuments:
		return e.ValidateDocuments(rec.Documents)
	}
	return result(validation.FieldErrors{"section": fmt.Sprintf("unknown section %q", section)}, false)
}

// StepSections lists the sections that gate each step. Optional sections are not listed.
var StepSections = map[int][]models.SectionName{
	models.StepStudentGuardian: {models.SectionStudent, models.SectionFamily, models.SectionFee},
	models.StepDocuments:       {models.SectionDocuments},
	models.StepAcademicHistory: {models.SectionAcademicHistory},
	models.StepFeeAgreement:    {models.SectionFinancing},
	models.StepDeclaration:     {models.SectionDeclaration},
}

// ValidateStep evaluates every section gating step. Errors are keyed "section.field".
// The review step is complete when every earlier step is.
func (e *Engine) ValidateStep(step int, rec models.ApplicationRecord) models.ValidationState {
	errs := validation.FieldErrors{}

	if step == models.StepReviewSubmit {
		for s := models.StepStudentGuardian; s < models.StepReviewSubmit; s++ {
			if !e.ValidateStep(s, rec).IsComplete {
				errs.Add(fmt.Sprintf("step%d", s), fmt.Sprintf("%s is incomplete", models.StepTitles[s]))
			}
		}
		return result(errs, true)
	}

	sections, ok := StepSections[step]
	if !ok {
		errs.Add("step", fmt.Sprintf("unknown step %d", step))
		return result(errs, false)
	}

	complete := true
	for _, section := range sections {
		state := e.ValidateSection(section, rec)
		for field, msg := range state.Errors {
			errs.Add(string(section)+"."+field, msg)
		}
		complete = complete && state.IsComplete
	}
	return result(errs, complete)
}
