package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ApplicationStatus captures workflow states for enrollment applications.
type ApplicationStatus string

const (
	ApplicationStatusPendingPayment  ApplicationStatus = "pending_payment"
	ApplicationStatusPaymentApproved ApplicationStatus = "payment_approved"
	ApplicationStatusPendingReview   ApplicationStatus = "pending_registrar_review"
	ApplicationStatusApproved        ApplicationStatus = "approved"
	ApplicationStatusRejected        ApplicationStatus = "rejected"
)

// applicationTransitions is the full edge set of the approval pipeline.
// Forward edges are role-gated by the services; rejected is the side exit
// from every non-terminal state.
var applicationTransitions = map[ApplicationStatus][]ApplicationStatus{
	ApplicationStatusPendingPayment:  {ApplicationStatusPaymentApproved, ApplicationStatusPendingReview, ApplicationStatusRejected},
	ApplicationStatusPaymentApproved: {ApplicationStatusPendingReview, ApplicationStatusRejected},
	ApplicationStatusPendingReview:   {ApplicationStatusApproved, ApplicationStatusRejected},
}

// Valid reports whether the status is one of the five defined values.
func (s ApplicationStatus) Valid() bool {
	switch s {
	case ApplicationStatusPendingPayment, ApplicationStatusPaymentApproved,
		ApplicationStatusPendingReview, ApplicationStatusApproved, ApplicationStatusRejected:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s ApplicationStatus) Terminal() bool {
	return s == ApplicationStatusApproved || s == ApplicationStatusRejected
}

// CanTransitionTo reports whether target is reachable from s in one step.
func (s ApplicationStatus) CanTransitionTo(target ApplicationStatus) bool {
	for _, next := range applicationTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// SubjectSelection is one entry of a student's ordered subject pick list.
type SubjectSelection struct {
	Code  string `json:"code" validate:"required"`
	Name  string `json:"name" validate:"required"`
	Units int    `json:"units" validate:"required,min=1"`
}

// SubjectSelections stores the ordered pick list as a JSONB column.
type SubjectSelections []SubjectSelection

// Value implements driver.Valuer.
func (s SubjectSelections) Value() (driver.Value, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s)
}

// Scan implements sql.Scanner.
func (s *SubjectSelections) Scan(src interface{}) error {
	if src == nil {
		*s = nil
		return nil
	}
	switch raw := src.(type) {
	case []byte:
		return json.Unmarshal(raw, s)
	case string:
		return json.Unmarshal([]byte(raw), s)
	default:
		return fmt.Errorf("unsupported type %T for subject selections", src)
	}
}

// TotalUnits sums the units of all selected subjects.
func (s SubjectSelections) TotalUnits() int {
	total := 0
	for _, sel := range s {
		total += sel.Units
	}
	return total
}

// EnrollmentApplication is the workflow-bearing record of the registrar.
type EnrollmentApplication struct {
	ID                   string            `db:"id" json:"id"`
	StudentID            string            `db:"student_id" json:"student_id"`
	CourseID             string            `db:"course_id" json:"course_id"`
	AcademicYear         string            `db:"academic_year" json:"academic_year"`
	Semester             string            `db:"semester" json:"semester"`
	SelectedSubjects     SubjectSelections `db:"selected_subjects" json:"selected_subjects"`
	Status               ApplicationStatus `db:"status" json:"status"`
	SubmittedAt          time.Time         `db:"submitted_at" json:"submitted_at"`
	AccountingApprovedBy *string           `db:"accounting_approved_by" json:"accounting_approved_by,omitempty"`
	RegistrarApprovedBy  *string           `db:"registrar_approved_by" json:"registrar_approved_by,omitempty"`
	Notes                *string           `db:"notes" json:"notes,omitempty"`
	UpdatedAt            time.Time         `db:"updated_at" json:"updated_at"`
}

// ApplicationDetail enriches an application with student and course info.
type ApplicationDetail struct {
	EnrollmentApplication
	StudentName   string `db:"student_name" json:"student_name"`
	StudentNumber string `db:"student_number" json:"student_number"`
	CourseCode    string `db:"course_code" json:"course_code"`
	CourseName    string `db:"course_name" json:"course_name"`
}

// ApplicationFilter narrows application listings.
type ApplicationFilter struct {
	StudentID    string
	Status       ApplicationStatus
	AcademicYear string
	Semester     string
	Page         int
	PageSize     int
}
