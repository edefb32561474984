// internal/models/application.go
package models

import "strings"

// SectionName identifies one section of the application record.
type SectionName string

const (
	SectionStudent         SectionName = "student"
	SectionMedical         SectionName = "medical"
	SectionFamily          SectionName = "family"
	SectionFee             SectionName = "fee"
	SectionAcademicHistory SectionName = "academicHistory"
	SectionSubjects        SectionName = "subjects"
	SectionFinancing       SectionName = "financing"
	SectionDeclaration     SectionName = "declaration"
	SectionDocuments       SectionName = "documents"
)

// AllSections lists every section in record order.
var AllSections = []SectionName{
	SectionStudent,
	SectionMedical,
	SectionFamily,
	SectionFee,
	SectionAcademicHistory,
	SectionSubjects,
	SectionFinancing,
	SectionDeclaration,
	SectionDocuments,
}

// Application statuses reported by the backend.
const (
	StatusInProgress = "in_progress"
	StatusSubmitted  = "submitted"
)

// ApplicationRecord is the aggregate enrollment document. A nil section has not been started.
type ApplicationRecord struct {
	Student         *Student         `json:"student,omitempty"`
	Medical         *Medical         `json:"medical,omitempty"`
	Family          *Family          `json:"family,omitempty"`
	Fee             *Fee             `json:"fee,omitempty"`
	AcademicHistory *AcademicHistory `json:"academicHistory,omitempty"`
	Subjects        *Subjects        `json:"subjects,omitempty"`
	Financing       *Financing       `json:"financing,omitempty"`
	Declaration     *Declaration     `json:"declaration,omitempty"`
	Documents       []Document       `json:"documents,omitempty"`

	Status string `json:"status,omitempty"`
}

type Student struct {
	Surname         string `json:"surname,omitempty"`
	FirstName       string `json:"firstName,omitempty"`
	MiddleName      string `json:"middleName,omitempty"`
	PreferredName   string `json:"preferredName,omitempty"`
	IdNumber        string `json:"idNumber,omitempty"`
	Dob             string `json:"dob,omitempty"`
	Gender          string `json:"gender,omitempty"`
	HomeLanguage    string `json:"homeLanguage,omitempty"`
	PreviousGrade   string `json:"previousGrade,omitempty"`
	GradeAppliedFor string `json:"gradeAppliedFor,omitempty"`
	PreviousSchool  string `json:"previousSchool,omitempty"`
}

type Medical struct {
	MedicalAidName string   `json:"medicalAidName,omitempty"`
	MemberNumber   string   `json:"memberNumber,omitempty"`
	Conditions     []string `json:"conditions,omitempty"`
	Allergies      string   `json:"allergies,omitempty"`
}

// Family holds the guardian contact blocks. Each block is all-or-nothing.
type Family struct {
	FatherSurname   string `json:"fatherSurname,omitempty"`
	FatherFirstName string `json:"fatherFirstName,omitempty"`
	FatherIdNumber  string `json:"fatherIdNumber,omitempty"`
	FatherMobile    string `json:"fatherMobile,omitempty"`
	FatherEmail     string `json:"fatherEmail,omitempty"`

	MotherSurname   string `json:"motherSurname,omitempty"`
	MotherFirstName string `json:"motherFirstName,omitempty"`
	MotherIdNumber  string `json:"motherIdNumber,omitempty"`
	MotherMobile    string `json:"motherMobile,omitempty"`
	MotherEmail     string `json:"motherEmail,omitempty"`

	NextOfKinRelationship string `json:"nextOfKinRelationship,omitempty"`
	NextOfKinSurname      string `json:"nextOfKinSurname,omitempty"`
	NextOfKinFirstName    string `json:"nextOfKinFirstName,omitempty"`
	NextOfKinMobile       string `json:"nextOfKinMobile,omitempty"`
	NextOfKinEmail        string `json:"nextOfKinEmail,omitempty"`
}

type Fee struct {
	FeePerson        string `json:"feePerson,omitempty"`
	Relationship     string `json:"relationship,omitempty"`
	FeeTermsAccepted bool   `json:"feeTermsAccepted,omitempty"`
	BankName         string `json:"bankName,omitempty"`
	BranchCode       string `json:"branchCode,omitempty"`
	AccountNumber    string `json:"accountNumber,omitempty"`
}

type AcademicHistory struct {
	SchoolName            string `json:"schoolName,omitempty"`
	SchoolType            string `json:"schoolType,omitempty"`
	LastGradeCompleted    string `json:"lastGradeCompleted,omitempty"`
	AcademicYearCompleted int    `json:"academicYearCompleted,omitempty"`
	ReportCard            string `json:"reportCard,omitempty"`
	SchoolEmail           string `json:"schoolEmail,omitempty"`
	SchoolPhoneNumber     string `json:"schoolPhoneNumber,omitempty"`
	PrincipalName         string `json:"principalName,omitempty"`
	SchoolAddress         string `json:"schoolAddress,omitempty"`
	AdditionalNotes       string `json:"additionalNotes,omitempty"`
}

type Subjects struct {
	Core      []string `json:"core,omitempty"`
	Electives []string `json:"electives,omitempty"`
}

type Financing struct {
	Plan      string `json:"plan,omitempty"`
	PlanLabel string `json:"planLabel,omitempty"`
}

type Declaration struct {
	AgreeTruth                   bool   `json:"agreeTruth,omitempty"`
	AgreePolicies                bool   `json:"agreePolicies,omitempty"`
	AgreeFinancial               bool   `json:"agreeFinancial,omitempty"`
	AgreeVerification            bool   `json:"agreeVerification,omitempty"`
	AgreeDataProcessing          bool   `json:"agreeDataProcessing,omitempty"`
	AgreeAuditStorage            bool   `json:"agreeAuditStorage,omitempty"`
	AgreeAffordabilityProcessing bool   `json:"agreeAffordabilityProcessing,omitempty"`
	FullName                     string `json:"fullName,omitempty"`
	City                         string `json:"city,omitempty"`
	SignedAt                     string `json:"signedAt,omitempty"`
	Status                       string `json:"status,omitempty"`
}

// Declaration statuses.
const (
	DeclarationInProgress = "in_progress"
	DeclarationCompleted  = "completed"
)

// IsSubmitted reports whether the backend has marked the record submitted.
func (r ApplicationRecord) IsSubmitted() bool {
	return r.Status == StatusSubmitted
}

// Merge overlays every non-nil section of other onto r (last write wins per section).
func (r *ApplicationRecord) Merge(other ApplicationRecord) {
	if other.Student != nil {
		r.Student = other.Student
	}
	if other.Medical != nil {
		r.Medical = other.Medical
	}
	if other.Family != nil {
		r.Family = other.Family
	}
	if other.Fee != nil {
		r.Fee = other.Fee
	}
	if other.AcademicHistory != nil {
		r.AcademicHistory = other.AcademicHistory
	}
	if other.Subjects != nil {
		r.Subjects = other.Subjects
	}
	if other.Financing != nil {
		r.Financing = other.Financing
	}
	if other.Declaration != nil {
		r.Declaration = other.Declaration
	}
	if other.Documents != nil {
		r.Documents = other.Documents
	}
	if other.Status != "" {
		r.Status = other.Status
	}
}

// Sections returns the names of the sections present in r.
func (r ApplicationRecord) Sections() []SectionName {
	var out []SectionName
	for _, name := range AllSections {
		if r.Has(name) {
			out = append(out, name)
		}
	}
	return out
}

// Has reports whether section name is present.
func (r ApplicationRecord) Has(name SectionName) bool {
	switch name {
	case SectionStudent:
		return r.Student != nil
	case SectionMedical:
		return r.Medical != nil
	case SectionFamily:
		return r.Family != nil
	case SectionFee:
		return r.Fee != nil
	case SectionAcademicHistory:
		return r.AcademicHistory != nil
	case SectionSubjects:
		return r.Subjects != nil
	case SectionFinancing:
		return r.Financing != nil
	case SectionDeclaration:
		return r.Declaration != nil
	case SectionDocuments:
		return r.Documents != nil
	}
	return false
}

// Only returns a record containing just the named section of r.
func (r ApplicationRecord) Only(name SectionName) ApplicationRecord {
	var out ApplicationRecord
	switch name {
	case SectionStudent:
		out.Student = r.Student
	case SectionMedical:
		out.Medical = r.Medical
	case SectionFamily:
		out.Family = r.Family
	case SectionFee:
		out.Fee = r.Fee
	case SectionAcademicHistory:
		out.AcademicHistory = r.AcademicHistory
	case SectionSubjects:
		out.Subjects = r.Subjects
	case SectionFinancing:
		out.Financing = r.Financing
	case SectionDeclaration:
		out.Declaration = r.Declaration
	case SectionDocuments:
		out.Documents = r.Documents
	}
	return out
}

// Clone returns a deep copy so callers can mutate without sharing section pointers.
func (r ApplicationRecord) Clone() ApplicationRecord {
	out := ApplicationRecord{Status: r.Status}
	if r.Student != nil {
		s := *r.Student
		out.Student = &s
	}
	if r.Medical != nil {
		m := *r.Medical
		m.Conditions = cloneStrings(r.Medical.Conditions)
		out.Medical = &m
	}
	if r.Family != nil {
		f := *r.Family
		out.Family = &f
	}
	if r.Fee != nil {
		f := *r.Fee
		out.Fee = &f
	}
	if r.AcademicHistory != nil {
		a := *r.AcademicHistory
		out.AcademicHistory = &a
	}
	if r.Subjects != nil {
		s := Subjects{Core: cloneStrings(r.Subjects.Core), Electives: cloneStrings(r.Subjects.Electives)}
		out.Subjects = &s
	}
	if r.Financing != nil {
		f := *r.Financing
		out.Financing = &f
	}
	if r.Declaration != nil {
		d := *r.Declaration
		out.Declaration = &d
	}
	if r.Documents != nil {
		out.Documents = append([]Document{}, r.Documents...)
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string{}, in...)
}

// HasData reports whether any section carries at least one populated field.
func (r ApplicationRecord) HasData() bool {
	return r.Student.populated() || r.Medical.populated() || r.Family.populated() ||
		r.Fee.populated() || r.AcademicHistory.populated() || r.Subjects.populated() ||
		r.Financing.populated() || r.Declaration.populated() || len(r.Documents) > 0
}

func filled(values ...string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return true
		}
	}
	return false
}

func (s *Student) populated() bool {
	return s != nil && filled(s.Surname, s.FirstName, s.MiddleName, s.PreferredName, s.IdNumber,
		s.Dob, s.Gender, s.HomeLanguage, s.PreviousGrade, s.GradeAppliedFor, s.PreviousSchool)
}

func (m *Medical) populated() bool {
	return m != nil && (filled(m.MedicalAidName, m.MemberNumber, m.Allergies) || filled(m.Conditions...))
}

func (f *Family) populated() bool {
	return f != nil && filled(
		f.FatherSurname, f.FatherFirstName, f.FatherIdNumber, f.FatherMobile, f.FatherEmail,
		f.MotherSurname, f.MotherFirstName, f.MotherIdNumber, f.MotherMobile, f.MotherEmail,
		f.NextOfKinRelationship, f.NextOfKinSurname, f.NextOfKinFirstName, f.NextOfKinMobile, f.NextOfKinEmail)
}

func (f *Fee) populated() bool {
	return f != nil && (f.FeeTermsAccepted || filled(f.FeePerson, f.Relationship, f.BankName, f.BranchCode, f.AccountNumber))
}

func (a *AcademicHistory) populated() bool {
	return a != nil && (a.AcademicYearCompleted != 0 || filled(a.SchoolName, a.SchoolType, a.LastGradeCompleted,
		a.ReportCard, a.SchoolEmail, a.SchoolPhoneNumber, a.PrincipalName, a.SchoolAddress, a.AdditionalNotes))
}

func (s *Subjects) populated() bool {
	return s != nil && (filled(s.Core...) || filled(s.Electives...))
}

func (f *Financing) populated() bool {
	return f != nil && filled(f.Plan, f.PlanLabel)
}

func (d *Declaration) populated() bool {
	return d != nil && (d.AgreeTruth || d.AgreePolicies || d.AgreeFinancial || d.AgreeVerification ||
		d.AgreeDataProcessing || d.AgreeAuditStorage || d.AgreeAffordabilityProcessing ||
		filled(d.FullName, d.City, d.SignedAt))
}
