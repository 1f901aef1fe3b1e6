package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/noah-isme/registrar-api/internal/models"
	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
)

type enrollmentRepository interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error)
	ListByStudentTerm(ctx context.Context, studentID, academicYear, semester string) ([]models.Enrollment, error)
}

// EnrollmentService reads finalized enrollments. Rows are only ever
// written by the application approval transaction.
type EnrollmentService struct {
	repo     enrollmentRepository
	students applicationStudentRepository
	logger   *zap.Logger
}

// NewEnrollmentService constructs an EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, students applicationStudentRepository, logger *zap.Logger) *EnrollmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{repo: repo, students: students, logger: logger}
}

// List returns enrollments for staff, filtered freely.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error) {
	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	return enrollments, total, nil
}

// ListMine returns the authenticated student's enrollments.
func (s *EnrollmentService) ListMine(ctx context.Context, claims *models.JWTClaims, filter models.EnrollmentFilter) ([]models.Enrollment, int, error) {
	student, err := s.students.FindByUserID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, appErrors.Clone(appErrors.ErrNotFound, "no student record for this account")
		}
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	filter.StudentID = student.ID
	return s.List(ctx, filter)
}
