package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/registrar-api/internal/models"
)

func newApplicationRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestApplicationRepositoryCreateAndGet(t *testing.T) {
	db, mock, cleanup := newApplicationRepoMock(t)
	defer cleanup()

	repo := NewApplicationRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO enrollment_applications")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	app := &models.EnrollmentApplication{
		StudentID:    "student-1",
		CourseID:     "course-1",
		AcademicYear: "2025-2026",
		Semester:     "1st",
		SelectedSubjects: models.SubjectSelections{
			{Code: "CS101", Name: "Intro to Computing", Units: 3},
		},
	}
	require.NoError(t, repo.Create(context.Background(), app))
	require.NotEmpty(t, app.ID)
	require.Equal(t, models.ApplicationStatusPendingPayment, app.Status)

	rows := sqlmock.NewRows([]string{"id", "student_id", "course_id", "academic_year", "semester", "selected_subjects", "status", "submitted_at", "accounting_approved_by", "registrar_approved_by", "notes", "updated_at"}).
		AddRow(app.ID, "student-1", "course-1", "2025-2026", "1st", `[{"code":"CS101","name":"Intro to Computing","units":3}]`, "pending_payment", time.Now(), nil, nil, nil, time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, student_id, course_id")).
		WithArgs(app.ID).
		WillReturnRows(rows)

	found, err := repo.GetByID(context.Background(), app.ID)
	require.NoError(t, err)
	require.Equal(t, app.ID, found.ID)
	require.Len(t, found.SelectedSubjects, 1)
	require.Equal(t, "CS101", found.SelectedSubjects[0].Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationRepositoryExistsOpenForTerm(t *testing.T) {
	db, mock, cleanup := newApplicationRepoMock(t)
	defer cleanup()

	repo := NewApplicationRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM enrollment_applications")).
		WithArgs("student-1", "2025-2026", "1st", "approved", "rejected").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	exists, err := repo.ExistsOpenForTerm(context.Background(), "student-1", "2025-2026", "1st")
	require.NoError(t, err)
	require.True(t, exists)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM enrollment_applications")).
		WithArgs("student-1", "2025-2026", "2nd", "approved", "rejected").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))

	exists, err = repo.ExistsOpenForTerm(context.Background(), "student-1", "2025-2026", "2nd")
	require.NoError(t, err)
	require.False(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationRepositoryTransition(t *testing.T) {
	db, mock, cleanup := newApplicationRepoMock(t)
	defer cleanup()

	repo := NewApplicationRepository(db)
	reviewer := "user-accounting"

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollment_applications SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notifications")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.Transition(context.Background(), TransitionParams{
		ID:                   "app-1",
		FromStatus:           models.ApplicationStatusPendingPayment,
		ToStatus:             models.ApplicationStatusPendingReview,
		AccountingApprovedBy: &reviewer,
		Notification: &models.Notification{
			UserID:  "user-student",
			Message: "Your payment was approved.",
		},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationRepositoryTransitionLostRace(t *testing.T) {
	db, mock, cleanup := newApplicationRepoMock(t)
	defer cleanup()

	repo := NewApplicationRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollment_applications SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Transition(context.Background(), TransitionParams{
		ID:         "app-1",
		FromStatus: models.ApplicationStatusPendingReview,
		ToStatus:   models.ApplicationStatusApproved,
	})
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationRepositoryTransitionApprovalCreatesEnrollments(t *testing.T) {
	db, mock, cleanup := newApplicationRepoMock(t)
	defer cleanup()

	repo := NewApplicationRepository(db)
	registrar := "user-admin"

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollment_applications SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notifications")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO enrollments")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO enrollments")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.Transition(context.Background(), TransitionParams{
		ID:                  "app-1",
		FromStatus:          models.ApplicationStatusPendingReview,
		ToStatus:            models.ApplicationStatusApproved,
		RegistrarApprovedBy: &registrar,
		Notification: &models.Notification{
			UserID:  "user-student",
			Message: "Your enrollment was approved.",
		},
		Enrollments: []models.Enrollment{
			{ApplicationID: "app-1", StudentID: "student-1", CourseID: "course-1", AcademicYear: "2025-2026", Semester: "1st", SubjectCode: "CS101", SubjectName: "Intro to Computing", Units: 3},
			{ApplicationID: "app-1", StudentID: "student-1", CourseID: "course-1", AcademicYear: "2025-2026", Semester: "1st", SubjectCode: "MATH101", SubjectName: "College Algebra", Units: 3},
		},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
