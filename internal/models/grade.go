package models

import "time"

// Grade is a final subject grade on a student's record.
type Grade struct {
	ID           string    `db:"id" json:"id"`
	StudentID    string    `db:"student_id" json:"student_id"`
	SubjectCode  string    `db:"subject_code" json:"subject_code"`
	SubjectName  string    `db:"subject_name" json:"subject_name"`
	Units        int       `db:"units" json:"units"`
	AcademicYear string    `db:"academic_year" json:"academic_year"`
	Semester     string    `db:"semester" json:"semester"`
	Grade        float64   `db:"grade" json:"grade"`
	Remarks      string    `db:"remarks" json:"remarks"`
	EncodedBy    string    `db:"encoded_by" json:"encoded_by"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// GradeFilter narrows grade listings.
type GradeFilter struct {
	StudentID    string
	AcademicYear string
	Semester     string
	Page         int
	PageSize     int
}
