package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/registrar-api/internal/models"
	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
)

type gradeRepository interface {
	List(ctx context.Context, filter models.GradeFilter) ([]models.Grade, int, error)
	Upsert(ctx context.Context, grade *models.Grade) error
}

// GradeRequest records a final grade for one subject and term.
type GradeRequest struct {
	StudentID    string  `json:"student_id" validate:"required"`
	SubjectCode  string  `json:"subject_code" validate:"required"`
	SubjectName  string  `json:"subject_name" validate:"required"`
	Units        int     `json:"units" validate:"required,min=1,max=6"`
	AcademicYear string  `json:"academic_year" validate:"required"`
	Semester     string  `json:"semester" validate:"required"`
	Grade        float64 `json:"grade" validate:"required,min=1,max=5"`
	Remarks      string  `json:"remarks"`
}

// GradeService manages final grade records.
type GradeService struct {
	repo      gradeRepository
	students  applicationStudentRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewGradeService constructs a GradeService.
func NewGradeService(repo gradeRepository, students applicationStudentRepository, validate *validator.Validate, logger *zap.Logger) *GradeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &GradeService{repo: repo, students: students, validator: validate, logger: logger}
}

// List returns grades for staff, filtered freely.
func (s *GradeService) List(ctx context.Context, filter models.GradeFilter) ([]models.Grade, int, error) {
	grades, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list grades")
	}
	return grades, total, nil
}

// ListMine returns the authenticated student's own grades.
func (s *GradeService) ListMine(ctx context.Context, claims *models.JWTClaims, filter models.GradeFilter) ([]models.Grade, int, error) {
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

// Record creates or replaces a final grade.
func (s *GradeService) Record(ctx context.Context, claims *models.JWTClaims, req GradeRequest) (*models.Grade, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grade payload")
	}

	if _, err := s.students.FindByID(ctx, req.StudentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	grade := &models.Grade{
		StudentID:    req.StudentID,
		SubjectCode:  req.SubjectCode,
		SubjectName:  req.SubjectName,
		Units:        req.Units,
		AcademicYear: req.AcademicYear,
		Semester:     req.Semester,
		Grade:        req.Grade,
		Remarks:      req.Remarks,
		EncodedBy:    claims.UserID,
	}
	if err := s.repo.Upsert(ctx, grade); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record grade")
	}
	return grade, nil
}
