package models

import "sort"

// Wizard steps.
const (
	StepStudentGuardian = 1
	StepDocuments       = 2
	StepAcademicHistory = 3
	StepFeeAgreement    = 4
	StepDeclaration     = 5
	StepReviewSubmit    = 6

	TotalSteps = 6
)

// StepTitles maps step numbers to their display titles.
var StepTitles = map[int]string{
	StepStudentGuardian: "Student & Guardian Info",
	StepDocuments:       "Document Upload",
	StepAcademicHistory: "Academic History",
	StepFeeAgreement:    "Fee Agreement",
	StepDeclaration:     "Declaration",
	StepReviewSubmit:    "Review & Submit",
}

// StepState is the navigation state of the wizard. ReturnStep is 0 when not editing.
type StepState struct {
	ActiveStep     int   `json:"activeStep"`
	CompletedSteps []int `json:"completedSteps"`
	Editing        bool  `json:"editing"`
	ReturnStep     int   `json:"returnStep,omitempty"`
	Submitted      bool  `json:"submitted"`
}

// IsCompleted reports whether step is in CompletedSteps.
func (s StepState) IsCompleted(step int) bool {
	for _, c := range s.CompletedSteps {
		if c == step {
			return true
		}
	}
	return false
}

// SortedSteps returns a sorted, de-duplicated copy of steps.
func SortedSteps(steps []int) []int {
	seen := make(map[int]struct{}, len(steps))
	out := make([]int, 0, len(steps))
	for _, s := range steps {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Ints(out)
	return out
}

// SavingStatus is the transient autosave indicator. Never persisted.
type SavingStatus string

const (
	SavingIdle   SavingStatus = "idle"
	SavingSaving SavingStatus = "saving"
	SavingSaved  SavingStatus = "saved"
)

// ApplicationIdentity is the lifecycle state of the application id.
type ApplicationIdentity struct {
	ID        string `json:"id,omitempty"`
	Confirmed bool   `json:"confirmed"`
}

// ValidationState is the derived validation result of one section.
type ValidationState struct {
	Errors     map[string]string `json:"errors"`
	IsComplete bool              `json:"isComplete"`
}
