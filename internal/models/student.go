package models

import "time"

// Student holds registrar records for an enrolled person, linked to a User account.
type Student struct {
	ID            string    `db:"id" json:"id"`
	UserID        string    `db:"user_id" json:"user_id"`
	StudentNumber string    `db:"student_number" json:"student_number"`
	FullName      string    `db:"full_name" json:"full_name"`
	CourseID      *string   `db:"course_id" json:"course_id,omitempty"`
	YearLevel     int       `db:"year_level" json:"year_level"`
	Active        bool      `db:"active" json:"active"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// StudentDetail enriches Student with course and department names.
type StudentDetail struct {
	Student
	CourseCode     *string `db:"course_code" json:"course_code,omitempty"`
	CourseName     *string `db:"course_name" json:"course_name,omitempty"`
	DepartmentName *string `db:"department_name" json:"department_name,omitempty"`
	Email          string  `db:"email" json:"email"`
}

// StudentFilter captures filtering criteria for listing students.
type StudentFilter struct {
	CourseID  string
	YearLevel int
	Active    *bool
	Search    string
	Page      int
	PageSize  int
}
