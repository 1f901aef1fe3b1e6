package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/registrar-api/internal/models"
	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
)

type catalogRepository interface {
	ListDepartments(ctx context.Context) ([]models.Department, error)
	CreateDepartment(ctx context.Context, dep *models.Department) error
	DeleteDepartment(ctx context.Context, id string) error
	ListCourses(ctx context.Context, departmentID string) ([]models.Course, error)
	FindCourseByID(ctx context.Context, id string) (*models.Course, error)
	CreateCourse(ctx context.Context, course *models.Course) error
	UpdateCourse(ctx context.Context, course *models.Course) error
	DeleteCourse(ctx context.Context, id string) error
	ListSubjects(ctx context.Context, courseID string) ([]models.Subject, error)
	CreateSubject(ctx context.Context, subject *models.Subject) error
	UpdateSubject(ctx context.Context, subject *models.Subject) error
	DeleteSubject(ctx context.Context, id string) error
	ListTerms(ctx context.Context) ([]models.Term, error)
	CreateTerm(ctx context.Context, term *models.Term) error
	SetActiveTerm(ctx context.Context, id string) error
}

// DepartmentRequest creates a department.
type DepartmentRequest struct {
	Code string `json:"code" validate:"required"`
	Name string `json:"name" validate:"required"`
}

// CourseRequest creates or updates a course.
type CourseRequest struct {
	DepartmentID string `json:"department_id" validate:"required"`
	Code         string `json:"code" validate:"required"`
	Name         string `json:"name" validate:"required"`
	Years        int    `json:"years" validate:"required,min=1,max=6"`
}

// SubjectRequest creates or updates a subject.
type SubjectRequest struct {
	CourseID  string `json:"course_id" validate:"required"`
	Code      string `json:"code" validate:"required"`
	Name      string `json:"name" validate:"required"`
	Units     int    `json:"units" validate:"required,min=1,max=6"`
	YearLevel int    `json:"year_level" validate:"required,min=1,max=6"`
	Semester  string `json:"semester" validate:"required"`
}

// TermRequest opens a new academic term.
type TermRequest struct {
	AcademicYear string `json:"academic_year" validate:"required"`
	Semester     string `json:"semester" validate:"required"`
	Active       bool   `json:"active"`
}

// CatalogService manages departments, courses, subjects and terms.
type CatalogService struct {
	repo      catalogRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCatalogService constructs a CatalogService.
func NewCatalogService(repo catalogRepository, validate *validator.Validate, logger *zap.Logger) *CatalogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &CatalogService{repo: repo, validator: validate, logger: logger}
}

// ListDepartments returns every department.
func (s *CatalogService) ListDepartments(ctx context.Context) ([]models.Department, error) {
	deps, err := s.repo.ListDepartments(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list departments")
	}
	return deps, nil
}

// CreateDepartment adds a department.
func (s *CatalogService) CreateDepartment(ctx context.Context, req DepartmentRequest) (*models.Department, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid department payload")
	}
	dep := &models.Department{ID: uuid.NewString(), Code: req.Code, Name: req.Name}
	if err := s.repo.CreateDepartment(ctx, dep); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create department")
	}
	return dep, nil
}

// DeleteDepartment removes a department.
func (s *CatalogService) DeleteDepartment(ctx context.Context, id string) error {
	if err := s.repo.DeleteDepartment(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "department not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete department")
	}
	return nil
}

// ListCourses returns courses, optionally scoped to a department.
func (s *CatalogService) ListCourses(ctx context.Context, departmentID string) ([]models.Course, error) {
	courses, err := s.repo.ListCourses(ctx, departmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	return courses, nil
}

// CreateCourse adds a degree program.
func (s *CatalogService) CreateCourse(ctx context.Context, req CourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}
	course := &models.Course{
		ID:           uuid.NewString(),
		DepartmentID: req.DepartmentID,
		Code:         req.Code,
		Name:         req.Name,
		Years:        req.Years,
	}
	if err := s.repo.CreateCourse(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course")
	}
	return course, nil
}

// UpdateCourse edits a course.
func (s *CatalogService) UpdateCourse(ctx context.Context, id string, req CourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}
	course := &models.Course{
		ID:           id,
		DepartmentID: req.DepartmentID,
		Code:         req.Code,
		Name:         req.Name,
		Years:        req.Years,
	}
	if err := s.repo.UpdateCourse(ctx, course); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update course")
	}
	return course, nil
}

// DeleteCourse removes a course.
func (s *CatalogService) DeleteCourse(ctx context.Context, id string) error {
	if err := s.repo.DeleteCourse(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete course")
	}
	return nil
}

// ListSubjects returns subjects, optionally scoped to a course.
func (s *CatalogService) ListSubjects(ctx context.Context, courseID string) ([]models.Subject, error) {
	subjects, err := s.repo.ListSubjects(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list subjects")
	}
	return subjects, nil
}

// CreateSubject adds a subject to a course curriculum.
func (s *CatalogService) CreateSubject(ctx context.Context, req SubjectRequest) (*models.Subject, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid subject payload")
	}
	subject := &models.Subject{
		ID:        uuid.NewString(),
		CourseID:  req.CourseID,
		Code:      req.Code,
		Name:      req.Name,
		Units:     req.Units,
		YearLevel: req.YearLevel,
		Semester:  req.Semester,
	}
	if err := s.repo.CreateSubject(ctx, subject); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create subject")
	}
	return subject, nil
}

// UpdateSubject edits a subject.
func (s *CatalogService) UpdateSubject(ctx context.Context, id string, req SubjectRequest) (*models.Subject, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid subject payload")
	}
	subject := &models.Subject{
		ID:        id,
		CourseID:  req.CourseID,
		Code:      req.Code,
		Name:      req.Name,
		Units:     req.Units,
		YearLevel: req.YearLevel,
		Semester:  req.Semester,
	}
	if err := s.repo.UpdateSubject(ctx, subject); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "subject not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update subject")
	}
	return subject, nil
}

// DeleteSubject removes a subject.
func (s *CatalogService) DeleteSubject(ctx context.Context, id string) error {
	if err := s.repo.DeleteSubject(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "subject not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete subject")
	}
	return nil
}

// ListTerms returns academic terms newest first.
func (s *CatalogService) ListTerms(ctx context.Context) ([]models.Term, error) {
	terms, err := s.repo.ListTerms(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list terms")
	}
	return terms, nil
}

// CreateTerm opens a new academic term.
func (s *CatalogService) CreateTerm(ctx context.Context, req TermRequest) (*models.Term, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid term payload")
	}
	term := &models.Term{
		ID:           uuid.NewString(),
		AcademicYear: req.AcademicYear,
		Semester:     req.Semester,
		Active:       req.Active,
	}
	if err := s.repo.CreateTerm(ctx, term); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create term")
	}
	return term, nil
}

// ActivateTerm makes the given term the single active one. Enrollment
// applications are always submitted against the active term.
func (s *CatalogService) ActivateTerm(ctx context.Context, id string) error {
	if err := s.repo.SetActiveTerm(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to activate term")
	}
	return nil
}
