package validationengine

import (
	"fmt"
	"strings"

	"enrollment-sync/internal/common/validation"
	fieldtransformer "enrollment-sync/internal/engine/field-transformer"
	"enrollment-sync/internal/models"
)

const minBirthYear = 1900

var genders = map[string]bool{"male": true, "female": true, "other": true}

func (e *Engine) ValidateStudent(s *models.Student) models.ValidationState {
	if s == nil {
		s = &models.Student{}
	}
	errs := validation.FieldErrors{}

	errs.Require("surname", s.Surname, "Surname is required")
	errs.Require("firstName", s.FirstName, "First name is required")
	if errs.Require("idNumber", s.IdNumber, "ID number is required") && !validation.ValidateNationalID(s.IdNumber) {
		errs.Add("idNumber", "ID number must be 13 digits")
	}
	if errs.Require("dob", s.Dob, "Date of birth is required") {
		e.checkBirthDate(errs, "dob", s.Dob)
	}
	if errs.Require("gender", s.Gender, "Gender is required") && !genders[strings.ToLower(strings.TrimSpace(s.Gender))] {
		errs.Add("gender", "Gender must be male, female or other")
	}
	errs.Require("homeLanguage", s.HomeLanguage, "Home language is required")
	errs.Require("previousGrade", s.PreviousGrade, "Previous grade is required")
	errs.Require("gradeAppliedFor", s.GradeAppliedFor, "Grade applied for is required")
	errs.Require("previousSchool", s.PreviousSchool, "Previous school is required")

	return result(errs, true)
}

func (e *Engine) checkBirthDate(errs validation.FieldErrors, field, value string) {
	dob, ok := validation.ParseDate(value)
	if !ok {
		errs.Add(field, "Date of birth must be a valid date (YYYY-MM-DD)")
		return
	}
	if dob.After(e.now()) {
		errs.Add(field, "Date of birth cannot be in the future")
		return
	}
	if dob.Year() < minBirthYear {
		errs.Add(field, fmt.Sprintf("Date of birth cannot be before %d", minBirthYear))
	}
}

// ValidateMedical never reports errors; the section is complete once anything is filled.
func (e *Engine) ValidateMedical(m *models.Medical) models.ValidationState {
	rec := models.ApplicationRecord{Medical: m}
	return result(validation.FieldErrors{}, rec.HasData())
}

// contactGroup is an all-or-nothing block of family fields.
type contactGroup struct {
	label  string
	fields []groupField
}

type groupField struct {
	key   string
	label string
	value string
	check func(string) bool
	hint  string
}

func (g contactGroup) anyFilled() bool {
	for _, f := range g.fields {
		if !validation.Blank(f.value) {
			return true
		}
	}
	return false
}

// validate applies the conditional-required rule and reports whether the group is fully valid.
func (g contactGroup) validate(errs validation.FieldErrors) bool {
	if !g.anyFilled() {
		return false
	}
	ok := true
	for _, f := range g.fields {
		if !errs.Require(f.key, f.value, fmt.Sprintf("%s %s is required", g.label, f.label)) {
			ok = false
			continue
		}
		if f.check != nil && !f.check(f.value) {
			errs.Add(f.key, fmt.Sprintf("%s %s %s", g.label, f.label, f.hint))
			ok = false
		}
	}
	return ok
}

func parentGroup(label, surname, firstName, idNumber, mobile, email string, prefix string) contactGroup {
	return contactGroup{
		label: label,
		fields: []groupField{
			{key: prefix + "Surname", label: "surname", value: surname},
			{key: prefix + "FirstName", label: "first name", value: firstName},
			{key: prefix + "IdNumber", label: "ID number", value: idNumber, check: validation.ValidateNationalID, hint: "must be 13 digits"},
			{key: prefix + "Mobile", label: "mobile", value: mobile, check: validation.ValidatePhone, hint: "must be a valid phone number"},
			{key: prefix + "Email", label: "email", value: email, check: validation.ValidateEmail, hint: "must be a valid email address"},
		},
	}
}

// ValidateFamily requires at least one complete parent block. Any partially
// filled block (father, mother or next of kin) must be completed.
func (e *Engine) ValidateFamily(f *models.Family) models.ValidationState {
	if f == nil {
		f = &models.Family{}
	}
	errs := validation.FieldErrors{}

	father := parentGroup("Father's", f.FatherSurname, f.FatherFirstName, f.FatherIdNumber, f.FatherMobile, f.FatherEmail, "father")
	mother := parentGroup("Mother's", f.MotherSurname, f.MotherFirstName, f.MotherIdNumber, f.MotherMobile, f.MotherEmail, "mother")
	nextOfKin := contactGroup{
		label: "Next of kin",
		fields: []groupField{
			{key: "nextOfKinRelationship", label: "relationship", value: f.NextOfKinRelationship},
			{key: "nextOfKinSurname", label: "surname", value: f.NextOfKinSurname},
			{key: "nextOfKinFirstName", label: "first name", value: f.NextOfKinFirstName},
			{key: "nextOfKinMobile", label: "mobile", value: f.NextOfKinMobile, check: validation.ValidatePhone, hint: "must be a valid phone number"},
			{key: "nextOfKinEmail", label: "email", value: f.NextOfKinEmail, check: validation.ValidateEmail, hint: "must be a valid email address"},
		},
	}

	fatherComplete := father.validate(errs)
	motherComplete := mother.validate(errs)
	nextOfKin.validate(errs)

	if !father.anyFilled() && !mother.anyFilled() {
		errs.Add("parents", "Provide the details of at least one parent or guardian")
	}

	return result(errs, fatherComplete || motherComplete)
}

func (e *Engine) ValidateFee(f *models.Fee) models.ValidationState {
	if f == nil {
		f = &models.Fee{}
	}
	errs := validation.FieldErrors{}

	errs.Require("feePerson", f.FeePerson, "Person responsible for fees is required")
	errs.Require("relationship", f.Relationship, "Relationship to learner is required")
	if !f.FeeTermsAccepted {
		errs.Add("feeTermsAccepted", "You must accept the fee terms")
	}

	bank := contactGroup{
		label: "Bank",
		fields: []groupField{
			{key: "bankName", label: "name", value: f.BankName},
			{key: "branchCode", label: "branch code", value: f.BranchCode, check: digits(6, 6), hint: "must be 6 digits"},
			{key: "accountNumber", label: "account number", value: f.AccountNumber, check: digits(6, 16), hint: "must be 6 to 16 digits"},
		},
	}
	bank.validate(errs)

	return result(errs, true)
}

func digits(min, max int) func(string) bool {
	return func(s string) bool {
		s = strings.TrimSpace(s)
		if len(s) < min || len(s) > max {
			return false
		}
		for _, r := range s {
			if r < '0' || r > '9' {
				return false
			}
		}
		return true
	}
}

func (e *Engine) ValidateAcademicHistory(a *models.AcademicHistory) models.ValidationState {
	if a == nil {
		a = &models.AcademicHistory{}
	}
	errs := validation.FieldErrors{}

	if errs.Require("schoolName", a.SchoolName, "School name is required") && !validation.MinLength(a.SchoolName, 3) {
		errs.Add("schoolName", "School name must be at least 3 characters")
	}
	errs.Require("schoolType", a.SchoolType, "School type is required")
	errs.Require("lastGradeCompleted", a.LastGradeCompleted, "Last grade completed is required")

	currentYear := e.now().Year()
	switch {
	case a.AcademicYearCompleted == 0:
		errs.Add("academicYearCompleted", "Academic year completed is required")
	case a.AcademicYearCompleted < minBirthYear || a.AcademicYearCompleted > currentYear:
		errs.Add("academicYearCompleted", fmt.Sprintf("Academic year must be between %d and %d", minBirthYear, currentYear))
	}

	errs.Require("reportCard", a.ReportCard, "Report card is required")

	if !validation.Blank(a.SchoolEmail) && !validation.ValidateEmail(a.SchoolEmail) {
		errs.Add("schoolEmail", "School email must be a valid email address")
	}
	if !validation.Blank(a.SchoolPhoneNumber) && !validation.ValidateSchoolPhone(a.SchoolPhoneNumber) {
		errs.Add("schoolPhoneNumber", "School phone number must be a valid +27 number")
	}
	if !validation.Blank(a.PrincipalName) && !validation.MinLength(a.PrincipalName, 2) {
		errs.Add("principalName", "Principal name must be at least 2 characters")
	}
	if !validation.Blank(a.SchoolAddress) && !validation.MinLength(a.SchoolAddress, 10) {
		errs.Add("schoolAddress", "School address must be at least 10 characters")
	}

	return result(errs, true)
}

// ValidateSubjects never reports errors; the section is complete once a subject is chosen.
func (e *Engine) ValidateSubjects(s *models.Subjects) models.ValidationState {
	rec := models.ApplicationRecord{Subjects: s}
	return result(validation.FieldErrors{}, rec.HasData())
}

func (e *Engine) ValidateFinancing(f *models.Financing) models.ValidationState {
	if f == nil {
		f = &models.Financing{}
	}
	errs := validation.FieldErrors{}
	if errs.Require("plan", f.Plan, "Select a financing plan") && !fieldtransformer.KnownPlanCode(f.Plan) {
		errs.Add("plan", "Select one of the offered financing plans")
	}
	return result(errs, true)
}

func (e *Engine) ValidateDeclaration(d *models.Declaration) models.ValidationState {
	if d == nil {
		d = &models.Declaration{}
	}
	errs := validation.FieldErrors{}

	confirmations := []struct {
		key     string
		checked bool
		message string
	}{
		{"agreeTruth", d.AgreeTruth, "Confirm that the information provided is true"},
		{"agreePolicies", d.AgreePolicies, "Accept the school policies"},
		{"agreeFinancial", d.AgreeFinancial, "Accept the financial obligations"},
		{"agreeVerification", d.AgreeVerification, "Consent to verification of the information"},
		{"agreeDataProcessing", d.AgreeDataProcessing, "Consent to data processing"},
		{"agreeAuditStorage", d.AgreeAuditStorage, "Consent to audit storage"},
		{"agreeAffordabilityProcessing", d.AgreeAffordabilityProcessing, "Consent to affordability processing"},
	}
	for _, c := range confirmations {
		if !c.checked {
			errs.Add(c.key, c.message)
		}
	}

	if errs.Require("fullName", d.FullName, "Full name is required") && !validation.MinLength(d.FullName, 3) {
		errs.Add("fullName", "Full name must be at least 3 characters")
	}

	return result(errs, true)
}

// ValidateDocuments checks the uploaded count of every required category.
func (e *Engine) ValidateDocuments(docs []models.Document) models.ValidationState {
	counts := make(map[string]int, len(models.DocumentCategories))
	for _, d := range docs {
		if c, ok := models.CategoryFor(d); ok {
			counts[c.Key]++
		}
	}

	errs := validation.FieldErrors{}
	for _, c := range models.DocumentCategories {
		if counts[c.Key] < c.Required {
			errs.Add(c.Key, fmt.Sprintf("Upload at least %d %s (%d uploaded)", c.Required, c.Title, counts[c.Key]))
		}
	}
	return result(errs, true)
}
