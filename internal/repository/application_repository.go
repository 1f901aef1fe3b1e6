package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/registrar-api/internal/models"
)

// ApplicationRepository persists enrollment applications and executes
// their workflow transitions atomically.
type ApplicationRepository struct {
	db *sqlx.DB
}

// NewApplicationRepository constructs the repository.
func NewApplicationRepository(db *sqlx.DB) *ApplicationRepository {
	return &ApplicationRepository{db: db}
}

const applicationColumns = `id, student_id, course_id, academic_year, semester, selected_subjects, status, submitted_at, accounting_approved_by, registrar_approved_by, notes, updated_at`

// Create inserts a new application.
func (r *ApplicationRepository) Create(ctx context.Context, app *models.EnrollmentApplication) error {
	if app.ID == "" {
		app.ID = uuid.NewString()
	}
	if app.Status == "" {
		app.Status = models.ApplicationStatusPendingPayment
	}
	now := time.Now().UTC()
	if app.SubmittedAt.IsZero() {
		app.SubmittedAt = now
	}
	app.UpdatedAt = now
	const query = `INSERT INTO enrollment_applications
	(id, student_id, course_id, academic_year, semester, selected_subjects, status, submitted_at, accounting_approved_by, registrar_approved_by, notes, updated_at)
	VALUES (:id, :student_id, :course_id, :academic_year, :semester, :selected_subjects, :status, :submitted_at, :accounting_approved_by, :registrar_approved_by, :notes, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, app); err != nil {
		return fmt.Errorf("create application: %w", err)
	}
	return nil
}

// GetByID fetches an application by identifier.
func (r *ApplicationRepository) GetByID(ctx context.Context, id string) (*models.EnrollmentApplication, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollment_applications WHERE id = $1`, applicationColumns)
	var app models.EnrollmentApplication
	if err := r.db.GetContext(ctx, &app, query, id); err != nil {
		return nil, err
	}
	return &app, nil
}

// List returns applications matching the filter ordered by submission
// time ascending so reviewers work a stable queue.
func (r *ApplicationRepository) List(ctx context.Context, filter models.ApplicationFilter) ([]models.ApplicationDetail, int, error) {
	base := `FROM enrollment_applications a
	JOIN students s ON s.id = a.student_id
	JOIN courses c ON c.id = a.course_id`
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("a.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("a.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.AcademicYear != "" {
		conditions = append(conditions, fmt.Sprintf("a.academic_year = $%d", len(args)+1))
		args = append(args, filter.AcademicYear)
	}
	if filter.Semester != "" {
		conditions = append(conditions, fmt.Sprintf("a.semester = $%d", len(args)+1))
		args = append(args, filter.Semester)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT a.id, a.student_id, a.course_id, a.academic_year, a.semester, a.selected_subjects, a.status, a.submitted_at,
	a.accounting_approved_by, a.registrar_approved_by, a.notes, a.updated_at,
	s.full_name AS student_name, s.student_number AS student_number, c.code AS course_code, c.name AS course_name
	%s%s ORDER BY a.submitted_at ASC LIMIT %d OFFSET %d`, base, clause, size, offset)

	var applications []models.ApplicationDetail
	if err := r.db.SelectContext(ctx, &applications, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list applications: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s%s", base, clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count applications: %w", err)
	}
	return applications, total, nil
}

// ExistsOpenForTerm reports whether the student already holds a
// non-terminal application for the given term.
func (r *ApplicationRepository) ExistsOpenForTerm(ctx context.Context, studentID, academicYear, semester string) (bool, error) {
	const query = `SELECT 1 FROM enrollment_applications
	WHERE student_id = $1 AND academic_year = $2 AND semester = $3 AND status NOT IN ($4, $5) LIMIT 1`
	var exists int
	err := r.db.GetContext(ctx, &exists, query, studentID, academicYear, semester,
		models.ApplicationStatusApproved, models.ApplicationStatusRejected)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check open application: %w", err)
	}
	return true, nil
}

// TransitionParams groups everything one workflow step writes.
type TransitionParams struct {
	ID         string
	FromStatus models.ApplicationStatus
	ToStatus   models.ApplicationStatus

	AccountingApprovedBy *string
	RegistrarApprovedBy  *string
	Notes                *string

	// Notification is inserted in the same transaction so a transition is
	// never visible without its mailbox side effect.
	Notification *models.Notification

	// Enrollments are created atomically with the terminal approval.
	Enrollments []models.Enrollment
}

// Transition applies one workflow step. The UPDATE is guarded by the
// expected source status; when another writer got there first, zero rows
// match and sql.ErrNoRows is returned so the caller can reject the
// transition without partial writes.
func (r *ApplicationRepository) Transition(ctx context.Context, params TransitionParams) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	setParts := []string{"status = :status", "updated_at = :updated_at"}
	updateArgs := map[string]interface{}{
		"id":          params.ID,
		"from_status": params.FromStatus,
		"status":      params.ToStatus,
		"updated_at":  time.Now().UTC(),
	}
	if params.AccountingApprovedBy != nil {
		setParts = append(setParts, "accounting_approved_by = :accounting_approved_by")
		updateArgs["accounting_approved_by"] = params.AccountingApprovedBy
	}
	if params.RegistrarApprovedBy != nil {
		setParts = append(setParts, "registrar_approved_by = :registrar_approved_by")
		updateArgs["registrar_approved_by"] = params.RegistrarApprovedBy
	}
	if params.Notes != nil {
		setParts = append(setParts, "notes = :notes")
		updateArgs["notes"] = params.Notes
	}

	query := fmt.Sprintf("UPDATE enrollment_applications SET %s WHERE id = :id AND status = :from_status",
		strings.Join(setParts, ", "))
	result, err := tx.NamedExecContext(ctx, query, updateArgs)
	if err != nil {
		return fmt.Errorf("transition application: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition application: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	if params.Notification != nil {
		if err := insertNotificationTx(ctx, tx, params.Notification); err != nil {
			return err
		}
	}

	for i := range params.Enrollments {
		if err := insertEnrollmentTx(ctx, tx, &params.Enrollments[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transition: %w", err)
	}
	return nil
}

func insertNotificationTx(ctx context.Context, tx *sqlx.Tx, notification *models.Notification) error {
	if notification.ID == "" {
		notification.ID = uuid.NewString()
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO notifications (id, user_id, message, read, created_at)
	VALUES (:id, :user_id, :message, :read, :created_at)`
	if _, err := tx.NamedExecContext(ctx, query, notification); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

func insertEnrollmentTx(ctx context.Context, tx *sqlx.Tx, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = time.Now().UTC()
	}
	const query = `INSERT INTO enrollments (id, application_id, student_id, course_id, academic_year, semester, subject_code, subject_name, units, enrolled_at)
	VALUES (:id, :application_id, :student_id, :course_id, :academic_year, :semester, :subject_code, :subject_name, :units, :enrolled_at)`
	if _, err := tx.NamedExecContext(ctx, query, enrollment); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}
