package fieldtransformer

import (
	"testing"

	"enrollment-sync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

func normalizedRecord() models.ApplicationRecord {
	return models.ApplicationRecord{
		Student: &models.Student{
			Surname:         "Mokoena",
			FirstName:       "Lerato",
			IdNumber:        "1503095012089",
			Dob:             "2015-03-09",
			Gender:          "female",
			HomeLanguage:    "Sesotho",
			PreviousGrade:   "Grade 3",
			GradeAppliedFor: "Grade 4",
			PreviousSchool:  "Riverside Primary",
		},
		Medical: &models.Medical{MedicalAidName: "Discovery", Conditions: []string{"asthma", "eczema"}},
		Family: &models.Family{
			FatherSurname:   "Mokoena",
			FatherFirstName: "Thabo",
			FatherIdNumber:  "8001015009087",
			FatherMobile:    "+27821234567",
			FatherEmail:     "thabo@example.com",
		},
		Fee:             &models.Fee{FeePerson: "Father", Relationship: "Parent", FeeTermsAccepted: true},
		AcademicHistory: &models.AcademicHistory{SchoolName: "Riverside Primary", AcademicYearCompleted: 2024},
		Financing:       &models.Financing{Plan: "bnpl", PlanLabel: "Buy Now, Pay Later"},
		Declaration:     &models.Declaration{AgreeTruth: true, FullName: "Thabo Mokoena", Status: "completed"},
		Documents: []models.Document{
			{ID: "doc-1", Filename: "payslip.pdf", Size: 2048, DocumentType: "payslips", UploadedAt: "2025-01-10T08:00:00Z"},
		},
		Status: models.StatusInProgress,
	}
}

// ==========================
// Core Functionality Tests
// ==========================

func TestForward_MapsKeysRecursively(t *testing.T) {
	doc, err := Forward(normalizedRecord())
	require.NoError(t, err)

	student := doc["student"].(map[string]interface{})
	assert.Equal(t, "Lerato", student["first_name"])
	assert.Equal(t, "2015-03-09", student["date_of_birth"])
	assert.Equal(t, "Grade 4", student["grade_applied_for"])
	assert.NotContains(t, student, "dob")

	history := doc["academic_history"].(map[string]interface{})
	assert.Equal(t, "Riverside Primary", history["school_name"])

	family := doc["family"].(map[string]interface{})
	assert.Equal(t, "8001015009087", family["father_id_number"])

	docs := doc["documents"].([]interface{})
	first := docs[0].(map[string]interface{})
	assert.Equal(t, "payslip.pdf", first["filename"])
	assert.Equal(t, "payslips", first["document_type"])
}

func TestForward_NormalizesDatesAndEnums(t *testing.T) {
	rec := models.ApplicationRecord{Student: &models.Student{Dob: "2015-03-09T22:15:00Z", Gender: "Female"}}

	doc, err := Forward(rec)
	require.NoError(t, err)

	student := doc["student"].(map[string]interface{})
	assert.Equal(t, "2015-03-09", student["date_of_birth"])
	assert.Equal(t, "female", student["gender"])
}

func TestForward_OmitsAbsentSections(t *testing.T) {
	doc, err := Forward(models.ApplicationRecord{Fee: &models.Fee{FeePerson: "Mother"}})
	require.NoError(t, err)

	assert.Len(t, doc, 1)
	assert.Contains(t, doc, "fee")
}

func TestRoundTrip_NormalizedRecord(t *testing.T) {
	rec := normalizedRecord()

	doc, err := Forward(rec)
	require.NoError(t, err)
	back, err := Inverse(doc)
	require.NoError(t, err)

	assert.Equal(t, rec, back)
}

func TestRoundTrip_PerSection(t *testing.T) {
	full := normalizedRecord()
	for _, section := range models.AllSections {
		t.Run(string(section), func(t *testing.T) {
			rec := full.Only(section)
			doc, err := Forward(rec)
			require.NoError(t, err)
			back, err := Inverse(doc)
			require.NoError(t, err)
			assert.Equal(t, rec, back)
		})
	}
}

func TestInverse_StripsTimeAndIgnoresUnknownFields(t *testing.T) {
	rec, err := Inverse(Document{
		"application_id": "app-1",
		"status":         "submitted",
		"student": map[string]interface{}{
			"date_of_birth": "2014-11-30T00:00:00.000Z",
			"gender":        "MALE",
			"created_at":    "2025-01-01",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "2014-11-30", rec.Student.Dob)
	assert.Equal(t, "male", rec.Student.Gender)
	assert.True(t, rec.IsSubmitted())
}

func TestInverse_Nil(t *testing.T) {
	rec, err := Inverse(nil)
	require.NoError(t, err)
	assert.False(t, rec.HasData())
}

func TestForwardSection(t *testing.T) {
	rec := normalizedRecord()

	doc, err := ForwardSection(rec, models.SectionAcademicHistory)
	require.NoError(t, err)
	assert.Equal(t, "Riverside Primary", doc["school_name"])

	doc, err = ForwardSection(models.ApplicationRecord{}, models.SectionDeclaration)
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestKeyMapping(t *testing.T) {
	tests := []struct {
		internal string
		remote   string
	}{
		{"firstName", "first_name"},
		{"dob", "date_of_birth"},
		{"nextOfKinFirstName", "next_of_kin_first_name"},
		{"agreeAffordabilityProcessing", "agree_affordability_processing"},
		{"surname", "surname"},
	}
	for _, tt := range tests {
		t.Run(tt.internal, func(t *testing.T) {
			assert.Equal(t, tt.remote, ToRemoteKey(tt.internal))
			assert.Equal(t, tt.internal, ToInternalKey(tt.remote))
		})
	}
}

func TestNormalizeDate(t *testing.T) {
	assert.Equal(t, "2015-03-09", NormalizeDate("2015-03-09"))
	assert.Equal(t, "2015-03-09", NormalizeDate("2015-03-09 10:00:00"))
	assert.Equal(t, "09/03/2015", NormalizeDate("09/03/2015"))
}

// ==========================
// Sanitize Tests
// ==========================

func TestSanitize_DropsBadFieldsNotSections(t *testing.T) {
	doc := Document{
		"student": map[string]interface{}{
			"surname":       "  Dlamini ",
			"id_number":     "12345",
			"date_of_birth": "09/03/2015",
			"gender":        "Unknown",
			"first_name":    "",
		},
		"family": map[string]interface{}{
			"father_id_number": "8001015009087",
			"mother_id_number": "",
			"mother_email":     "   ",
			"father_mobile":    " +27821234567 ",
		},
	}

	clean := Sanitize(doc)

	assert.Equal(t, map[string]interface{}{"surname": "Dlamini"}, clean["student"])
	assert.Equal(t, map[string]interface{}{
		"father_id_number": "8001015009087",
		"father_mobile":    "+27821234567",
	}, clean["family"])
}

func TestSanitize_PrunesEmptyContainers(t *testing.T) {
	clean := Sanitize(Document{
		"medical":  map[string]interface{}{"conditions": []interface{}{"", " "}},
		"subjects": map[string]interface{}{"core": []interface{}{"Mathematics", ""}},
		"fee":      map[string]interface{}{"fee_terms_accepted": true},
	})

	assert.NotContains(t, clean, "medical")
	assert.Equal(t, []interface{}{"Mathematics"}, clean["subjects"].(map[string]interface{})["core"])
	assert.Equal(t, true, clean["fee"].(map[string]interface{})["fee_terms_accepted"])
}

func TestSanitize_AcceptsValidValues(t *testing.T) {
	clean := Sanitize(Document{"student": map[string]interface{}{
		"id_number":     "1503095012089",
		"date_of_birth": "2015-03-09",
		"gender":        "Other",
	}})

	assert.Equal(t, map[string]interface{}{
		"id_number":     "1503095012089",
		"date_of_birth": "2015-03-09",
		"gender":        "other",
	}, clean["student"])
}

func TestSanitize_RejectsImpossibleDate(t *testing.T) {
	clean := Sanitize(Document{"student": map[string]interface{}{"date_of_birth": "2015-02-30", "surname": "A"}})
	assert.Equal(t, map[string]interface{}{"surname": "A"}, clean["student"])
}

// ==========================
// Plan Mapping Tests
// ==========================

func TestPlanCode(t *testing.T) {
	tests := map[string]string{
		"Pay Monthly Debit":  "monthly_flat",
		"Pay Per Term":       "termly_discount",
		"Pay Once Per Year":  "annual_discount",
		"Buy Now, Pay Later": "bnpl",
		"Forward Funding":    "forward_funding",
		"Sibling Benefit":    "sibling_discount",
		"Staff Rebate Plan":  "staff_rebate_plan",
		"":                   "annual_discount",
	}
	for label, want := range tests {
		assert.Equal(t, want, PlanCode(label), label)
	}

	label, ok := PlanLabel("bnpl")
	assert.True(t, ok)
	assert.Equal(t, "Buy Now, Pay Later", label)
	assert.False(t, KnownPlanCode("staff_rebate_plan"))
}
