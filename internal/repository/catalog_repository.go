package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/registrar-api/internal/models"
)

// CatalogRepository handles the non-workflow relational entities:
// departments, courses, subjects, and terms.
type CatalogRepository struct {
	db *sqlx.DB
}

// NewCatalogRepository constructs the repository.
func NewCatalogRepository(db *sqlx.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// ListDepartments returns all departments ordered by name.
func (r *CatalogRepository) ListDepartments(ctx context.Context) ([]models.Department, error) {
	const query = `SELECT id, code, name, created_at, updated_at FROM departments ORDER BY name ASC`
	var departments []models.Department
	if err := r.db.SelectContext(ctx, &departments, query); err != nil {
		return nil, fmt.Errorf("list departments: %w", err)
	}
	return departments, nil
}

// CreateDepartment inserts a department.
func (r *CatalogRepository) CreateDepartment(ctx context.Context, dep *models.Department) error {
	if dep.ID == "" {
		dep.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	dep.CreatedAt, dep.UpdatedAt = now, now
	const query = `INSERT INTO departments (id, code, name, created_at, updated_at) VALUES (:id, :code, :name, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, dep); err != nil {
		return fmt.Errorf("create department: %w", err)
	}
	return nil
}

// DeleteDepartment removes a department.
func (r *CatalogRepository) DeleteDepartment(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM departments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete department: %w", err)
	}
	return requireRowsAffected(result)
}

// ListCourses returns courses, optionally scoped to one department.
func (r *CatalogRepository) ListCourses(ctx context.Context, departmentID string) ([]models.Course, error) {
	query := `SELECT id, department_id, code, name, years, created_at, updated_at FROM courses`
	var args []interface{}
	if departmentID != "" {
		query += ` WHERE department_id = $1`
		args = append(args, departmentID)
	}
	query += ` ORDER BY code ASC`
	var courses []models.Course
	if err := r.db.SelectContext(ctx, &courses, query, args...); err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	return courses, nil
}

// FindCourseByID returns one course.
func (r *CatalogRepository) FindCourseByID(ctx context.Context, id string) (*models.Course, error) {
	const query = `SELECT id, department_id, code, name, years, created_at, updated_at FROM courses WHERE id = $1`
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		return nil, err
	}
	return &course, nil
}

// CreateCourse inserts a course.
func (r *CatalogRepository) CreateCourse(ctx context.Context, course *models.Course) error {
	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	course.CreatedAt, course.UpdatedAt = now, now
	const query = `INSERT INTO courses (id, department_id, code, name, years, created_at, updated_at)
	VALUES (:id, :department_id, :code, :name, :years, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, course); err != nil {
		return fmt.Errorf("create course: %w", err)
	}
	return nil
}

// UpdateCourse rewrites the mutable course columns.
func (r *CatalogRepository) UpdateCourse(ctx context.Context, course *models.Course) error {
	course.UpdatedAt = time.Now().UTC()
	const query = `UPDATE courses SET department_id = :department_id, code = :code, name = :name, years = :years, updated_at = :updated_at WHERE id = :id`
	result, err := r.db.NamedExecContext(ctx, query, course)
	if err != nil {
		return fmt.Errorf("update course: %w", err)
	}
	return requireRowsAffected(result)
}

// DeleteCourse removes a course.
func (r *CatalogRepository) DeleteCourse(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM courses WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete course: %w", err)
	}
	return requireRowsAffected(result)
}

// ListSubjects returns subjects, optionally scoped to one course.
func (r *CatalogRepository) ListSubjects(ctx context.Context, courseID string) ([]models.Subject, error) {
	query := `SELECT id, course_id, code, name, units, year_level, semester, created_at, updated_at FROM subjects`
	var args []interface{}
	if courseID != "" {
		query += ` WHERE course_id = $1`
		args = append(args, courseID)
	}
	query += ` ORDER BY code ASC`
	var subjects []models.Subject
	if err := r.db.SelectContext(ctx, &subjects, query, args...); err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	return subjects, nil
}

// FindSubjectsByCodes resolves subjects by code for selection validation.
func (r *CatalogRepository) FindSubjectsByCodes(ctx context.Context, courseID string, codes []string) ([]models.Subject, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT id, course_id, code, name, units, year_level, semester, created_at, updated_at
	FROM subjects WHERE course_id = ? AND code IN (?)`, courseID, codes)
	if err != nil {
		return nil, fmt.Errorf("build subject code query: %w", err)
	}
	query = r.db.Rebind(query)
	var subjects []models.Subject
	if err := r.db.SelectContext(ctx, &subjects, query, args...); err != nil {
		return nil, fmt.Errorf("find subjects by code: %w", err)
	}
	return subjects, nil
}

// CreateSubject inserts a subject.
func (r *CatalogRepository) CreateSubject(ctx context.Context, subject *models.Subject) error {
	if subject.ID == "" {
		subject.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	subject.CreatedAt, subject.UpdatedAt = now, now
	const query = `INSERT INTO subjects (id, course_id, code, name, units, year_level, semester, created_at, updated_at)
	VALUES (:id, :course_id, :code, :name, :units, :year_level, :semester, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, subject); err != nil {
		return fmt.Errorf("create subject: %w", err)
	}
	return nil
}

// UpdateSubject rewrites the mutable subject columns.
func (r *CatalogRepository) UpdateSubject(ctx context.Context, subject *models.Subject) error {
	subject.UpdatedAt = time.Now().UTC()
	const query = `UPDATE subjects SET course_id = :course_id, code = :code, name = :name, units = :units, year_level = :year_level, semester = :semester, updated_at = :updated_at WHERE id = :id`
	result, err := r.db.NamedExecContext(ctx, query, subject)
	if err != nil {
		return fmt.Errorf("update subject: %w", err)
	}
	return requireRowsAffected(result)
}

// DeleteSubject removes a subject.
func (r *CatalogRepository) DeleteSubject(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM subjects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete subject: %w", err)
	}
	return requireRowsAffected(result)
}

// ListTerms returns terms newest first.
func (r *CatalogRepository) ListTerms(ctx context.Context) ([]models.Term, error) {
	const query = `SELECT id, academic_year, semester, active, created_at FROM terms ORDER BY academic_year DESC, semester ASC`
	var terms []models.Term
	if err := r.db.SelectContext(ctx, &terms, query); err != nil {
		return nil, fmt.Errorf("list terms: %w", err)
	}
	return terms, nil
}

// FindTerm returns the term matching an academic year + semester pair.
func (r *CatalogRepository) FindTerm(ctx context.Context, academicYear, semester string) (*models.Term, error) {
	const query = `SELECT id, academic_year, semester, active, created_at FROM terms WHERE academic_year = $1 AND semester = $2 LIMIT 1`
	var term models.Term
	if err := r.db.GetContext(ctx, &term, query, academicYear, semester); err != nil {
		return nil, err
	}
	return &term, nil
}

// CreateTerm inserts a term.
func (r *CatalogRepository) CreateTerm(ctx context.Context, term *models.Term) error {
	if term.ID == "" {
		term.ID = uuid.NewString()
	}
	if term.CreatedAt.IsZero() {
		term.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO terms (id, academic_year, semester, active, created_at) VALUES (:id, :academic_year, :semester, :active, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, term); err != nil {
		return fmt.Errorf("create term: %w", err)
	}
	return nil
}

// SetActiveTerm marks one term active and deactivates every other term
// in a single transaction, so at most one term is ever active.
func (r *CatalogRepository) SetActiveTerm(ctx context.Context, id string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin activate term: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `UPDATE terms SET active = FALSE WHERE active = TRUE AND id <> $1`, id); err != nil {
		return fmt.Errorf("deactivate terms: %w", err)
	}

	result, err := tx.ExecContext(ctx, `UPDATE terms SET active = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("activate term: %w", err)
	}
	if err := requireRowsAffected(result); err != nil {
		return err
	}
	return tx.Commit()
}
