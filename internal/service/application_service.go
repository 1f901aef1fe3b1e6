package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/registrar-api/internal/models"
	"github.com/noah-isme/registrar-api/internal/repository"
	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
	"github.com/noah-isme/registrar-api/pkg/export"
)

type applicationRepository interface {
	Create(ctx context.Context, app *models.EnrollmentApplication) error
	GetByID(ctx context.Context, id string) (*models.EnrollmentApplication, error)
	List(ctx context.Context, filter models.ApplicationFilter) ([]models.ApplicationDetail, int, error)
	ExistsOpenForTerm(ctx context.Context, studentID, academicYear, semester string) (bool, error)
	Transition(ctx context.Context, params repository.TransitionParams) error
}

type applicationStudentRepository interface {
	FindByID(ctx context.Context, id string) (*models.StudentDetail, error)
	FindByUserID(ctx context.Context, userID string) (*models.StudentDetail, error)
}

type applicationCatalogRepository interface {
	FindSubjectsByCodes(ctx context.Context, courseID string, codes []string) ([]models.Subject, error)
	FindTerm(ctx context.Context, academicYear, semester string) (*models.Term, error)
}

type applicationAuditRepository interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type applicationNotifier interface {
	Notify(ctx context.Context, userID, message string) error
	InvalidateUnreadCount(userID string)
}

// SubmitApplicationRequest files an enrollment application for a term.
type SubmitApplicationRequest struct {
	AcademicYear string   `json:"academic_year" validate:"required"`
	Semester     string   `json:"semester" validate:"required"`
	SubjectCodes []string `json:"subject_codes" validate:"required,min=1,dive,required"`
}

// ReviewApplicationRequest is the registrar's final decision.
type ReviewApplicationRequest struct {
	Approve bool    `json:"approve"`
	Notes   *string `json:"notes,omitempty"`
}

// RejectApplicationRequest drops an application out of the pipeline.
type RejectApplicationRequest struct {
	Notes *string `json:"notes,omitempty"`
}

// ApplicationService drives the enrollment approval workflow.
type ApplicationService struct {
	applications applicationRepository
	students     applicationStudentRepository
	catalog      applicationCatalogRepository
	audit        applicationAuditRepository
	notifier     applicationNotifier
	validator    *validator.Validate
	logger       *zap.Logger
	csv          *export.CSVExporter
}

// NewApplicationService constructs an ApplicationService.
func NewApplicationService(
	applications applicationRepository,
	students applicationStudentRepository,
	catalog applicationCatalogRepository,
	audit applicationAuditRepository,
	notifier applicationNotifier,
	validate *validator.Validate,
	logger *zap.Logger,
) *ApplicationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &ApplicationService{
		applications: applications,
		students:     students,
		catalog:      catalog,
		audit:        audit,
		notifier:     notifier,
		validator:    validate,
		logger:       logger,
		csv:          export.NewCSVExporter(),
	}
}

// Submit files a new application for the authenticated student. A
// student may hold at most one open application per term.
func (s *ApplicationService) Submit(ctx context.Context, claims *models.JWTClaims, req SubmitApplicationRequest) (*models.EnrollmentApplication, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid application payload")
	}

	student, err := s.students.FindByUserID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no student record for this account")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if student.CourseID == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student has no course assigned")
	}

	term, err := s.catalog.FindTerm(ctx, req.AcademicYear, req.Semester)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "unknown academic term")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
	}
	if !term.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "term is not open for enrollment")
	}

	open, err := s.applications.ExistsOpenForTerm(ctx, student.ID, req.AcademicYear, req.Semester)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing applications")
	}
	if open {
		return nil, appErrors.Clone(appErrors.ErrConflict, "an application for this term is already in progress")
	}

	selections, err := s.resolveSubjects(ctx, *student.CourseID, req.SubjectCodes)
	if err != nil {
		return nil, err
	}

	app := &models.EnrollmentApplication{
		StudentID:        student.ID,
		CourseID:         *student.CourseID,
		AcademicYear:     req.AcademicYear,
		Semester:         req.Semester,
		SelectedSubjects: selections,
		Status:           models.ApplicationStatusPendingPayment,
	}
	if err := s.applications.Create(ctx, app); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create application")
	}

	s.recordAudit(ctx, claims.UserID, models.AuditActionApplicationSubmit, app.ID,
		fmt.Sprintf(`{"status":%q}`, app.Status))

	if err := s.notifier.Notify(ctx, claims.UserID,
		fmt.Sprintf("Your enrollment application for %s %s was received and is awaiting payment.", req.AcademicYear, req.Semester)); err != nil {
		s.logger.Warn("failed to notify applicant", zap.Error(err))
	}

	return app, nil
}

// ApprovePayment verifies the student's payment and forwards the
// application to registrar review. Only accounting may call it, and
// only while the application is awaiting payment.
func (s *ApplicationService) ApprovePayment(ctx context.Context, claims *models.JWTClaims, id string, notes *string) (*models.EnrollmentApplication, error) {
	if claims.Role != models.RoleAccounting {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "payment approval requires accounting privileges")
	}

	app, student, err := s.loadForTransition(ctx, id)
	if err != nil {
		return nil, err
	}
	if app.Status != models.ApplicationStatusPendingPayment {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition,
			fmt.Sprintf("payment cannot be approved from status %q", app.Status))
	}

	err = s.applications.Transition(ctx, repository.TransitionParams{
		ID:                   app.ID,
		FromStatus:           models.ApplicationStatusPendingPayment,
		ToStatus:             models.ApplicationStatusPendingReview,
		AccountingApprovedBy: &claims.UserID,
		Notes:                notes,
		Notification: &models.Notification{
			UserID:  student.UserID,
			Message: "Your enrollment payment was verified. The registrar is now reviewing your application.",
		},
	})
	if err != nil {
		return nil, s.transitionError(err)
	}

	s.notifier.InvalidateUnreadCount(student.UserID)
	s.recordAudit(ctx, claims.UserID, models.AuditActionPaymentApprove, app.ID,
		fmt.Sprintf(`{"from":%q,"to":%q}`, models.ApplicationStatusPendingPayment, models.ApplicationStatusPendingReview))

	return s.applications.GetByID(ctx, app.ID)
}

// Review records the registrar's decision. Approval finalizes the
// application and creates the enrollment rows in the same transaction.
func (s *ApplicationService) Review(ctx context.Context, claims *models.JWTClaims, id string, req ReviewApplicationRequest) (*models.EnrollmentApplication, error) {
	if claims.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "registrar review requires admin privileges")
	}

	app, student, err := s.loadForTransition(ctx, id)
	if err != nil {
		return nil, err
	}
	if app.Status != models.ApplicationStatusPendingReview {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition,
			fmt.Sprintf("application in status %q is not awaiting registrar review", app.Status))
	}

	params := repository.TransitionParams{
		ID:                  app.ID,
		FromStatus:          models.ApplicationStatusPendingReview,
		RegistrarApprovedBy: &claims.UserID,
		Notes:               req.Notes,
	}
	if req.Approve {
		params.ToStatus = models.ApplicationStatusApproved
		params.Notification = &models.Notification{
			UserID:  student.UserID,
			Message: fmt.Sprintf("Your enrollment for %s %s was approved. You are officially enrolled.", app.AcademicYear, app.Semester),
		}
		params.Enrollments = buildEnrollments(app)
	} else {
		params.ToStatus = models.ApplicationStatusRejected
		params.Notification = &models.Notification{
			UserID:  student.UserID,
			Message: "Your enrollment application was not approved by the registrar. Please contact the registrar's office.",
		}
	}

	if err := s.applications.Transition(ctx, params); err != nil {
		return nil, s.transitionError(err)
	}

	s.notifier.InvalidateUnreadCount(student.UserID)
	action := models.AuditActionRegistrarReview
	if !req.Approve {
		action = models.AuditActionApplicationReject
	}
	s.recordAudit(ctx, claims.UserID, action, app.ID,
		fmt.Sprintf(`{"from":%q,"to":%q}`, models.ApplicationStatusPendingReview, params.ToStatus))

	return s.applications.GetByID(ctx, app.ID)
}

// Reject drops an application out of the pipeline from any non-terminal
// state. Accounting staff may only reject applications still awaiting
// payment.
func (s *ApplicationService) Reject(ctx context.Context, claims *models.JWTClaims, id string, req RejectApplicationRequest) (*models.EnrollmentApplication, error) {
	if claims.Role != models.RoleAccounting && claims.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "rejecting applications requires staff privileges")
	}

	app, student, err := s.loadForTransition(ctx, id)
	if err != nil {
		return nil, err
	}
	if app.Status.Terminal() {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition,
			fmt.Sprintf("application in status %q can no longer be rejected", app.Status))
	}
	if claims.Role == models.RoleAccounting && app.Status != models.ApplicationStatusPendingPayment {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "accounting may only reject applications awaiting payment")
	}

	err = s.applications.Transition(ctx, repository.TransitionParams{
		ID:         app.ID,
		FromStatus: app.Status,
		ToStatus:   models.ApplicationStatusRejected,
		Notes:      req.Notes,
		Notification: &models.Notification{
			UserID:  student.UserID,
			Message: "Your enrollment application was rejected. Please contact the registrar's office.",
		},
	})
	if err != nil {
		return nil, s.transitionError(err)
	}

	s.notifier.InvalidateUnreadCount(student.UserID)
	s.recordAudit(ctx, claims.UserID, models.AuditActionApplicationReject, app.ID,
		fmt.Sprintf(`{"from":%q,"to":%q}`, app.Status, models.ApplicationStatusRejected))

	return s.applications.GetByID(ctx, app.ID)
}

// List returns applications for staff review. The repository orders the
// queue by submission time so reviewers see oldest first.
func (s *ApplicationService) List(ctx context.Context, filter models.ApplicationFilter) ([]models.ApplicationDetail, int, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown application status %q", filter.Status))
	}
	applications, total, err := s.applications.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list applications")
	}
	return applications, total, nil
}

// ListMine returns the authenticated student's own applications.
func (s *ApplicationService) ListMine(ctx context.Context, claims *models.JWTClaims, page, pageSize int) ([]models.ApplicationDetail, int, error) {
	student, err := s.students.FindByUserID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, appErrors.Clone(appErrors.ErrNotFound, "no student record for this account")
		}
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return s.List(ctx, models.ApplicationFilter{StudentID: student.ID, Page: page, PageSize: pageSize})
}

// Get fetches one application. Students may only view their own.
func (s *ApplicationService) Get(ctx context.Context, claims *models.JWTClaims, id string) (*models.EnrollmentApplication, error) {
	app, err := s.applications.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
	}

	if claims.Role == models.RoleStudent {
		student, err := s.students.FindByUserID(ctx, claims.UserID)
		if err != nil || student.ID != app.StudentID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "application belongs to another student")
		}
	}
	return app, nil
}

// ExportCSV renders the filtered application queue as CSV for offline
// processing by the registrar's office.
func (s *ApplicationService) ExportCSV(ctx context.Context, filter models.ApplicationFilter) ([]byte, error) {
	filter.Page = 1
	filter.PageSize = 100
	var rows []map[string]string
	for {
		applications, total, err := s.List(ctx, filter)
		if err != nil {
			return nil, err
		}
		for _, app := range applications {
			rows = append(rows, map[string]string{
				"id":             app.ID,
				"student_number": app.StudentNumber,
				"student_name":   app.StudentName,
				"course":         app.CourseCode,
				"academic_year":  app.AcademicYear,
				"semester":       app.Semester,
				"units":          fmt.Sprintf("%d", app.SelectedSubjects.TotalUnits()),
				"status":         string(app.Status),
				"submitted_at":   app.SubmittedAt.Format("2006-01-02 15:04:05"),
			})
		}
		if len(rows) >= total || len(applications) == 0 {
			break
		}
		filter.Page++
	}

	payload, err := s.csv.Render(export.Dataset{
		Headers: []string{"id", "student_number", "student_name", "course", "academic_year", "semester", "units", "status", "submitted_at"},
		Rows:    rows,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	return payload, nil
}

func (s *ApplicationService) resolveSubjects(ctx context.Context, courseID string, codes []string) (models.SubjectSelections, error) {
	seen := make(map[string]bool, len(codes))
	unique := make([]string, 0, len(codes))
	for _, code := range codes {
		if seen[code] {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("subject %q selected more than once", code))
		}
		seen[code] = true
		unique = append(unique, code)
	}

	subjects, err := s.catalog.FindSubjectsByCodes(ctx, courseID, unique)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve subjects")
	}

	byCode := make(map[string]models.Subject, len(subjects))
	for _, subject := range subjects {
		byCode[subject.Code] = subject
	}

	selections := make(models.SubjectSelections, 0, len(unique))
	for _, code := range unique {
		subject, ok := byCode[code]
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("subject %q is not in the course curriculum", code))
		}
		selections = append(selections, models.SubjectSelection{
			Code:  subject.Code,
			Name:  subject.Name,
			Units: subject.Units,
		})
	}
	return selections, nil
}

func (s *ApplicationService) loadForTransition(ctx context.Context, id string) (*models.EnrollmentApplication, *models.StudentDetail, error) {
	app, err := s.applications.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
	}

	student, err := s.students.FindByID(ctx, app.StudentID)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load applicant")
	}
	return app, student, nil
}

// transitionError maps a lost status-guard race to the invalid
// transition error so concurrent approvals fail loudly instead of
// double applying.
func (s *ApplicationService) transitionError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrInvalidTransition, "application status changed while processing, reload and retry")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update application")
}

func (s *ApplicationService) recordAudit(ctx context.Context, userID, action, resourceID, payload string) {
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   "enrollment_application",
		ResourceID: &resourceID,
		NewValues:  []byte(payload),
	}); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}

func buildEnrollments(app *models.EnrollmentApplication) []models.Enrollment {
	enrollments := make([]models.Enrollment, 0, len(app.SelectedSubjects))
	for _, subject := range app.SelectedSubjects {
		enrollments = append(enrollments, models.Enrollment{
			ApplicationID: app.ID,
			StudentID:     app.StudentID,
			CourseID:      app.CourseID,
			AcademicYear:  app.AcademicYear,
			Semester:      app.Semester,
			SubjectCode:   subject.Code,
			SubjectName:   subject.Name,
			Units:         subject.Units,
		})
	}
	return enrollments
}
