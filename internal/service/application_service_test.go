package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/registrar-api/internal/models"
	"github.com/noah-isme/registrar-api/internal/repository"
	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
)

type mockApplicationRepo struct {
	applications map[string]models.EnrollmentApplication
	open         bool
	created      *models.EnrollmentApplication
	enrollments  []models.Enrollment
	transitions  []repository.TransitionParams
}

func (m *mockApplicationRepo) Create(ctx context.Context, app *models.EnrollmentApplication) error {
	if m.applications == nil {
		m.applications = make(map[string]models.EnrollmentApplication)
	}
	if app.ID == "" {
		app.ID = "new-app"
	}
	m.applications[app.ID] = *app
	m.created = app
	return nil
}

func (m *mockApplicationRepo) GetByID(ctx context.Context, id string) (*models.EnrollmentApplication, error) {
	if app, ok := m.applications[id]; ok {
		return &app, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockApplicationRepo) List(ctx context.Context, filter models.ApplicationFilter) ([]models.ApplicationDetail, int, error) {
	var list []models.ApplicationDetail
	for _, app := range m.applications {
		if filter.StudentID != "" && app.StudentID != filter.StudentID {
			continue
		}
		list = append(list, models.ApplicationDetail{EnrollmentApplication: app})
	}
	return list, len(list), nil
}

func (m *mockApplicationRepo) ExistsOpenForTerm(ctx context.Context, studentID, academicYear, semester string) (bool, error) {
	return m.open, nil
}

func (m *mockApplicationRepo) Transition(ctx context.Context, params repository.TransitionParams) error {
	app, ok := m.applications[params.ID]
	if !ok || app.Status != params.FromStatus {
		return sql.ErrNoRows
	}
	app.Status = params.ToStatus
	if params.AccountingApprovedBy != nil {
		app.AccountingApprovedBy = params.AccountingApprovedBy
	}
	if params.RegistrarApprovedBy != nil {
		app.RegistrarApprovedBy = params.RegistrarApprovedBy
	}
	if params.Notes != nil {
		app.Notes = params.Notes
	}
	m.applications[params.ID] = app
	m.enrollments = append(m.enrollments, params.Enrollments...)
	m.transitions = append(m.transitions, params)
	return nil
}

type mockApplicationStudents struct {
	students map[string]*models.StudentDetail
}

func (m *mockApplicationStudents) FindByID(ctx context.Context, id string) (*models.StudentDetail, error) {
	for _, s := range m.students {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockApplicationStudents) FindByUserID(ctx context.Context, userID string) (*models.StudentDetail, error) {
	if s, ok := m.students[userID]; ok {
		return s, nil
	}
	return nil, sql.ErrNoRows
}

type mockApplicationCatalog struct {
	subjects map[string]models.Subject
	term     *models.Term
}

func (m *mockApplicationCatalog) FindSubjectsByCodes(ctx context.Context, courseID string, codes []string) ([]models.Subject, error) {
	var list []models.Subject
	for _, code := range codes {
		if subject, ok := m.subjects[code]; ok {
			list = append(list, subject)
		}
	}
	return list, nil
}

func (m *mockApplicationCatalog) FindTerm(ctx context.Context, academicYear, semester string) (*models.Term, error) {
	if m.term == nil {
		return nil, sql.ErrNoRows
	}
	return m.term, nil
}

type mockAuditSink struct {
	logs []models.AuditLog
}

func (m *mockAuditSink) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.logs = append(m.logs, *log)
	return nil
}

type mockNotifier struct {
	messages    map[string][]string
	invalidated []string
}

func (m *mockNotifier) Notify(ctx context.Context, userID, message string) error {
	if m.messages == nil {
		m.messages = make(map[string][]string)
	}
	m.messages[userID] = append(m.messages[userID], message)
	return nil
}

func (m *mockNotifier) InvalidateUnreadCount(userID string) {
	m.invalidated = append(m.invalidated, userID)
}

func strPtr(s string) *string { return &s }

func studentFixture() map[string]*models.StudentDetail {
	return map[string]*models.StudentDetail{
		"u-student": {Student: models.Student{
			ID:            "s1",
			UserID:        "u-student",
			StudentNumber: "2026-0001",
			FullName:      "Maria Santos",
			CourseID:      strPtr("bscs"),
			Active:        true,
		}},
	}
}

func catalogFixture() *mockApplicationCatalog {
	return &mockApplicationCatalog{
		subjects: map[string]models.Subject{
			"CS101":  {CourseID: "bscs", Code: "CS101", Name: "Intro to Computing", Units: 3},
			"MATH01": {CourseID: "bscs", Code: "MATH01", Name: "College Algebra", Units: 3},
		},
		term: &models.Term{AcademicYear: "2026-2027", Semester: "1st", Active: true},
	}
}

func newApplicationServiceForTest(repo *mockApplicationRepo, notifier *mockNotifier) (*ApplicationService, *mockAuditSink) {
	audit := &mockAuditSink{}
	svc := NewApplicationService(repo,
		&mockApplicationStudents{students: studentFixture()},
		catalogFixture(), audit, notifier, validator.New(), zap.NewNop())
	return svc, audit
}

func TestApplicationServiceSubmit(t *testing.T) {
	repo := &mockApplicationRepo{}
	notifier := &mockNotifier{}
	svc, audit := newApplicationServiceForTest(repo, notifier)

	claims := &models.JWTClaims{UserID: "u-student", Role: models.RoleStudent}
	app, err := svc.Submit(context.Background(), claims, SubmitApplicationRequest{
		AcademicYear: "2026-2027",
		Semester:     "1st",
		SubjectCodes: []string{"MATH01", "CS101"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationStatusPendingPayment, app.Status)
	assert.Equal(t, "s1", app.StudentID)
	// selections keep the order the student picked them in
	require.Len(t, app.SelectedSubjects, 2)
	assert.Equal(t, "MATH01", app.SelectedSubjects[0].Code)
	assert.Equal(t, "CS101", app.SelectedSubjects[1].Code)
	assert.Len(t, notifier.messages["u-student"], 1)
	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionApplicationSubmit, audit.logs[0].Action)
}

func TestApplicationServiceSubmitDuplicateOpenApplication(t *testing.T) {
	repo := &mockApplicationRepo{open: true}
	svc, _ := newApplicationServiceForTest(repo, &mockNotifier{})

	claims := &models.JWTClaims{UserID: "u-student", Role: models.RoleStudent}
	_, err := svc.Submit(context.Background(), claims, SubmitApplicationRequest{
		AcademicYear: "2026-2027",
		Semester:     "1st",
		SubjectCodes: []string{"CS101"},
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestApplicationServiceSubmitUnknownSubject(t *testing.T) {
	svc, _ := newApplicationServiceForTest(&mockApplicationRepo{}, &mockNotifier{})

	claims := &models.JWTClaims{UserID: "u-student", Role: models.RoleStudent}
	_, err := svc.Submit(context.Background(), claims, SubmitApplicationRequest{
		AcademicYear: "2026-2027",
		Semester:     "1st",
		SubjectCodes: []string{"CS101", "PHYS99"},
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestApplicationServiceSubmitDuplicateSubjectCode(t *testing.T) {
	svc, _ := newApplicationServiceForTest(&mockApplicationRepo{}, &mockNotifier{})

	claims := &models.JWTClaims{UserID: "u-student", Role: models.RoleStudent}
	_, err := svc.Submit(context.Background(), claims, SubmitApplicationRequest{
		AcademicYear: "2026-2027",
		Semester:     "1st",
		SubjectCodes: []string{"CS101", "CS101"},
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestApplicationServiceApprovePayment(t *testing.T) {
	repo := &mockApplicationRepo{applications: map[string]models.EnrollmentApplication{
		"a1": {ID: "a1", StudentID: "s1", CourseID: "bscs", AcademicYear: "2026-2027", Semester: "1st", Status: models.ApplicationStatusPendingPayment},
	}}
	notifier := &mockNotifier{}
	svc, audit := newApplicationServiceForTest(repo, notifier)

	claims := &models.JWTClaims{UserID: "u-acct", Role: models.RoleAccounting}
	app, err := svc.ApprovePayment(context.Background(), claims, "a1", nil)
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationStatusPendingReview, app.Status)
	require.NotNil(t, app.AccountingApprovedBy)
	assert.Equal(t, "u-acct", *app.AccountingApprovedBy)
	assert.Contains(t, notifier.invalidated, "u-student")
	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionPaymentApprove, audit.logs[0].Action)
}

func TestApplicationServiceApprovePaymentAccountingOnly(t *testing.T) {
	cases := []struct {
		name string
		role models.UserRole
	}{
		{name: "students", role: models.RoleStudent},
		{name: "admins", role: models.RoleAdmin},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &mockApplicationRepo{applications: map[string]models.EnrollmentApplication{
				"a1": {ID: "a1", StudentID: "s1", Status: models.ApplicationStatusPendingPayment},
			}}
			svc, audit := newApplicationServiceForTest(repo, &mockNotifier{})

			claims := &models.JWTClaims{UserID: "u-caller", Role: tc.role}
			_, err := svc.ApprovePayment(context.Background(), claims, "a1", nil)
			require.Error(t, err)
			assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
			assert.Equal(t, models.ApplicationStatusPendingPayment, repo.applications["a1"].Status)
			assert.Empty(t, repo.transitions)
			assert.Empty(t, audit.logs)
		})
	}
}

func TestApplicationServiceApprovePaymentWrongStatus(t *testing.T) {
	repo := &mockApplicationRepo{applications: map[string]models.EnrollmentApplication{
		"a1": {ID: "a1", StudentID: "s1", Status: models.ApplicationStatusPendingReview},
	}}
	svc, _ := newApplicationServiceForTest(repo, &mockNotifier{})

	claims := &models.JWTClaims{UserID: "u-acct", Role: models.RoleAccounting}
	_, err := svc.ApprovePayment(context.Background(), claims, "a1", nil)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
}

func TestApplicationServiceReviewApproveCreatesEnrollments(t *testing.T) {
	selections := models.SubjectSelections{
		{Code: "CS101", Name: "Intro to Computing", Units: 3},
		{Code: "MATH01", Name: "College Algebra", Units: 3},
	}
	repo := &mockApplicationRepo{applications: map[string]models.EnrollmentApplication{
		"a1": {ID: "a1", StudentID: "s1", CourseID: "bscs", AcademicYear: "2026-2027", Semester: "1st",
			SelectedSubjects: selections, Status: models.ApplicationStatusPendingReview},
	}}
	notifier := &mockNotifier{}
	svc, _ := newApplicationServiceForTest(repo, notifier)

	claims := &models.JWTClaims{UserID: "u-admin", Role: models.RoleAdmin}
	app, err := svc.Review(context.Background(), claims, "a1", ReviewApplicationRequest{Approve: true})
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationStatusApproved, app.Status)
	require.Len(t, repo.enrollments, 2)
	assert.Equal(t, "a1", repo.enrollments[0].ApplicationID)
	assert.Equal(t, "CS101", repo.enrollments[0].SubjectCode)
	// the approval notification commits inside the same transaction
	require.Len(t, repo.transitions, 1)
	require.NotNil(t, repo.transitions[0].Notification)
	assert.Equal(t, "u-student", repo.transitions[0].Notification.UserID)
	assert.Contains(t, notifier.invalidated, "u-student")
}

func TestApplicationServiceReviewRejectSkipsEnrollments(t *testing.T) {
	repo := &mockApplicationRepo{applications: map[string]models.EnrollmentApplication{
		"a1": {ID: "a1", StudentID: "s1", Status: models.ApplicationStatusPendingReview},
	}}
	svc, _ := newApplicationServiceForTest(repo, &mockNotifier{})

	claims := &models.JWTClaims{UserID: "u-admin", Role: models.RoleAdmin}
	app, err := svc.Review(context.Background(), claims, "a1", ReviewApplicationRequest{Approve: false, Notes: strPtr("incomplete payment records")})
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationStatusRejected, app.Status)
	assert.Empty(t, repo.enrollments)
	// A rejection records which registrar made the decision.
	require.NotNil(t, app.RegistrarApprovedBy)
	assert.Equal(t, "u-admin", *app.RegistrarApprovedBy)
}

func TestApplicationServiceReviewRequiresAdmin(t *testing.T) {
	repo := &mockApplicationRepo{applications: map[string]models.EnrollmentApplication{
		"a1": {ID: "a1", StudentID: "s1", Status: models.ApplicationStatusPendingReview},
	}}
	svc, _ := newApplicationServiceForTest(repo, &mockNotifier{})

	claims := &models.JWTClaims{UserID: "u-acct", Role: models.RoleAccounting}
	_, err := svc.Review(context.Background(), claims, "a1", ReviewApplicationRequest{Approve: true})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestApplicationServiceRejectAccountingLimitedToPendingPayment(t *testing.T) {
	repo := &mockApplicationRepo{applications: map[string]models.EnrollmentApplication{
		"a1": {ID: "a1", StudentID: "s1", Status: models.ApplicationStatusPendingReview},
	}}
	svc, _ := newApplicationServiceForTest(repo, &mockNotifier{})

	claims := &models.JWTClaims{UserID: "u-acct", Role: models.RoleAccounting}
	_, err := svc.Reject(context.Background(), claims, "a1", RejectApplicationRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestApplicationServiceRejectTerminalApplication(t *testing.T) {
	repo := &mockApplicationRepo{applications: map[string]models.EnrollmentApplication{
		"a1": {ID: "a1", StudentID: "s1", Status: models.ApplicationStatusApproved},
	}}
	svc, _ := newApplicationServiceForTest(repo, &mockNotifier{})

	claims := &models.JWTClaims{UserID: "u-admin", Role: models.RoleAdmin}
	_, err := svc.Reject(context.Background(), claims, "a1", RejectApplicationRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
}

// lostRaceRepo reports the stale status on read so the in-service guard
// passes, then loses the guarded UPDATE the way a concurrent approval
// would.
type lostRaceRepo struct {
	mockApplicationRepo
}

func (m *lostRaceRepo) Transition(ctx context.Context, params repository.TransitionParams) error {
	return sql.ErrNoRows
}

func TestApplicationServiceApprovePaymentLostRace(t *testing.T) {
	repo := &lostRaceRepo{mockApplicationRepo{applications: map[string]models.EnrollmentApplication{
		"a1": {ID: "a1", StudentID: "s1", Status: models.ApplicationStatusPendingPayment},
	}}}
	audit := &mockAuditSink{}
	svc := NewApplicationService(repo,
		&mockApplicationStudents{students: studentFixture()},
		catalogFixture(), audit, &mockNotifier{}, validator.New(), zap.NewNop())

	claims := &models.JWTClaims{UserID: "u-acct", Role: models.RoleAccounting}
	_, err := svc.ApprovePayment(context.Background(), claims, "a1", nil)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
	assert.Empty(t, audit.logs)
}

func TestApplicationServiceFullPipeline(t *testing.T) {
	repo := &mockApplicationRepo{}
	notifier := &mockNotifier{}
	svc, _ := newApplicationServiceForTest(repo, notifier)

	student := &models.JWTClaims{UserID: "u-student", Role: models.RoleStudent}
	app, err := svc.Submit(context.Background(), student, SubmitApplicationRequest{
		AcademicYear: "2026-2027",
		Semester:     "1st",
		SubjectCodes: []string{"CS101", "MATH01"},
	})
	require.NoError(t, err)

	accounting := &models.JWTClaims{UserID: "u-acct", Role: models.RoleAccounting}
	app, err = svc.ApprovePayment(context.Background(), accounting, app.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationStatusPendingReview, app.Status)

	admin := &models.JWTClaims{UserID: "u-admin", Role: models.RoleAdmin}
	app, err = svc.Review(context.Background(), admin, app.ID, ReviewApplicationRequest{Approve: true})
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationStatusApproved, app.Status)
	assert.Len(t, repo.enrollments, 2)
	// submission notifies directly, each transition carries one
	assert.Len(t, notifier.messages["u-student"], 1)
	require.Len(t, repo.transitions, 2)
	assert.NotNil(t, repo.transitions[0].Notification)
	assert.NotNil(t, repo.transitions[1].Notification)
}
