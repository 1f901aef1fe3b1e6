package models

import "time"

// Enrollment is one subject the registrar enrolled a student into,
// created when an application reaches final approval.
type Enrollment struct {
	ID            string    `db:"id" json:"id"`
	ApplicationID string    `db:"application_id" json:"application_id"`
	StudentID     string    `db:"student_id" json:"student_id"`
	CourseID      string    `db:"course_id" json:"course_id"`
	AcademicYear  string    `db:"academic_year" json:"academic_year"`
	Semester      string    `db:"semester" json:"semester"`
	SubjectCode   string    `db:"subject_code" json:"subject_code"`
	SubjectName   string    `db:"subject_name" json:"subject_name"`
	Units         int       `db:"units" json:"units"`
	EnrolledAt    time.Time `db:"enrolled_at" json:"enrolled_at"`
}

// EnrollmentFilter narrows enrollment listings.
type EnrollmentFilter struct {
	StudentID    string
	AcademicYear string
	Semester     string
	SubjectCode  string
	Page         int
	PageSize     int
}
