package fieldtransformer

import "strings"

// DefaultPlanCode is used when no financing plan was chosen.
const DefaultPlanCode = "annual_discount"

var planCodes = map[string]string{
	"Pay Monthly Debit":  "monthly_flat",
	"Pay Per Term":       "termly_discount",
	"Pay Once Per Year":  "annual_discount",
	"Buy Now, Pay Later": "bnpl",
	"Forward Funding":    "forward_funding",
	"Sibling Benefit":    "sibling_discount",
}

// PlanCode maps a financing plan display label to the backend plan code.
func PlanCode(label string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return DefaultPlanCode
	}
	if code, ok := planCodes[label]; ok {
		return code
	}
	return strings.ReplaceAll(strings.ToLower(label), " ", "_")
}

// PlanLabel maps a backend plan code back to its display label.
func PlanLabel(code string) (string, bool) {
	for label, c := range planCodes {
		if c == code {
			return label, true
		}
	}
	return "", false
}

// KnownPlanCode reports whether code is one of the offered plans.
func KnownPlanCode(code string) bool {
	_, ok := PlanLabel(code)
	return ok
}
