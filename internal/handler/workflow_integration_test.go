package handler

import (
	"bytes"
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	internalmiddleware "github.com/noah-isme/registrar-api/internal/middleware"
	"github.com/noah-isme/registrar-api/internal/models"
	"github.com/noah-isme/registrar-api/internal/repository"
	"github.com/noah-isme/registrar-api/internal/service"
)

func TestWorkflowRoutesIntegration(t *testing.T) {
	router, apps := buildWorkflowRouter()

	t.Run("submit unauthorized without claims", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, "/enrollment-applications", bytes.NewBufferString(defaultApplicationPayload))
		req.Header.Set("Content-Type", "application/json")
		resp := performRequest(router, req)
		require.Equal(t, http.StatusUnauthorized, resp.Code)
	})

	t.Run("submit forbidden for staff", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, "/enrollment-applications", bytes.NewBufferString(defaultApplicationPayload))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Test-Role", string(models.RoleAdmin))
		resp := performRequest(router, req)
		require.Equal(t, http.StatusForbidden, resp.Code)
	})

	t.Run("submit success", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, "/enrollment-applications", bytes.NewBufferString(defaultApplicationPayload))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Test-Role", string(models.RoleStudent))
		resp := performRequest(router, req)
		require.Equal(t, http.StatusCreated, resp.Code)
		require.Contains(t, resp.Body.String(), `"status":"pending_payment"`)
	})

	t.Run("list forbidden for students", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, "/enrollment-applications", nil)
		req.Header.Set("X-Test-Role", string(models.RoleStudent))
		resp := performRequest(router, req)
		require.Equal(t, http.StatusForbidden, resp.Code)
	})

	t.Run("approve payment forbidden for admins", func(t *testing.T) {
		appID := submittedApplicationID(t, apps)
		req, _ := http.NewRequest(http.MethodPatch, "/enrollment-applications/"+appID+"/approve-payment", nil)
		req.Header.Set("X-Test-Role", string(models.RoleAdmin))
		resp := performRequest(router, req)
		require.Equal(t, http.StatusForbidden, resp.Code)
		require.Equal(t, models.ApplicationStatusPendingPayment, apps.applications[appID].Status)
	})

	t.Run("approve payment as accounting", func(t *testing.T) {
		appID := submittedApplicationID(t, apps)
		req, _ := http.NewRequest(http.MethodPatch, "/enrollment-applications/"+appID+"/approve-payment", nil)
		req.Header.Set("X-Test-Role", string(models.RoleAccounting))
		resp := performRequest(router, req)
		require.Equal(t, http.StatusOK, resp.Code)
		require.Contains(t, resp.Body.String(), `"status":"pending_registrar_review"`)
	})

	t.Run("approve payment twice conflicts", func(t *testing.T) {
		appID := submittedApplicationID(t, apps)
		req, _ := http.NewRequest(http.MethodPatch, "/enrollment-applications/"+appID+"/approve-payment", nil)
		req.Header.Set("X-Test-Role", string(models.RoleAccounting))
		resp := performRequest(router, req)
		require.Equal(t, http.StatusBadRequest, resp.Code)
		require.Contains(t, resp.Body.String(), "INVALID_STATE_TRANSITION")
	})

	t.Run("review requires admin", func(t *testing.T) {
		appID := submittedApplicationID(t, apps)
		req, _ := http.NewRequest(http.MethodPatch, "/enrollment-applications/"+appID+"/review", bytes.NewBufferString(`{"approve":true}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Test-Role", string(models.RoleAccounting))
		resp := performRequest(router, req)
		require.Equal(t, http.StatusForbidden, resp.Code)
	})

	t.Run("review approves as admin", func(t *testing.T) {
		appID := submittedApplicationID(t, apps)
		req, _ := http.NewRequest(http.MethodPatch, "/enrollment-applications/"+appID+"/review", bytes.NewBufferString(`{"approve":true}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Test-Role", string(models.RoleAdmin))
		resp := performRequest(router, req)
		require.Equal(t, http.StatusOK, resp.Code)
		require.Contains(t, resp.Body.String(), `"status":"approved"`)
		require.NotEmpty(t, apps.enrollments)
	})
}

func buildWorkflowRouter() (*gin.Engine, *workflowApplicationRepoMock) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		if role := c.GetHeader("X-Test-Role"); role != "" {
			userID := "test-user"
			if models.UserRole(role) == models.RoleStudent {
				userID = "u-student"
			}
			c.Set(internalmiddleware.ContextUserKey, &models.JWTClaims{
				UserID: userID,
				Role:   models.UserRole(role),
			})
		}
		c.Next()
	})

	apps := &workflowApplicationRepoMock{}
	svc := service.NewApplicationService(apps,
		&workflowStudentRepoMock{}, &workflowCatalogRepoMock{},
		&workflowAuditRepoMock{}, &workflowNotifierMock{},
		validator.New(), zap.NewNop())
	applicationHandler := NewApplicationHandler(svc, service.NewMetricsService())

	secured := router.Group("")
	secured.POST("/enrollment-applications", internalmiddleware.StudentOnly.Middleware(), applicationHandler.Submit)
	secured.GET("/enrollment-applications", internalmiddleware.StaffOnly.Middleware(), applicationHandler.List)
	secured.PATCH("/enrollment-applications/:id/approve-payment", internalmiddleware.AccountingGate.Middleware(), applicationHandler.ApprovePayment)
	secured.PATCH("/enrollment-applications/:id/review", internalmiddleware.RequireRoles(models.RoleAdmin, models.RoleAccounting), applicationHandler.Review)

	return router, apps
}

func performRequest(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// submittedApplicationID lazily files one application for the workflow
// subtests that act on an existing record.
func submittedApplicationID(t *testing.T, apps *workflowApplicationRepoMock) string {
	t.Helper()
	if len(apps.applications) == 0 {
		apps.applications = map[string]models.EnrollmentApplication{
			"seed": {ID: "seed", StudentID: "s1", CourseID: "bscs", AcademicYear: "2026-2027", Semester: "1st",
				SelectedSubjects: models.SubjectSelections{{Code: "CS101", Name: "Intro to Computing", Units: 3}},
				Status:           models.ApplicationStatusPendingPayment},
		}
	}
	for id := range apps.applications {
		return id
	}
	return ""
}

type workflowApplicationRepoMock struct {
	applications map[string]models.EnrollmentApplication
	enrollments  []models.Enrollment
}

func (m *workflowApplicationRepoMock) Create(ctx context.Context, app *models.EnrollmentApplication) error {
	if m.applications == nil {
		m.applications = make(map[string]models.EnrollmentApplication)
	}
	if app.ID == "" {
		app.ID = "app-1"
	}
	m.applications[app.ID] = *app
	return nil
}

func (m *workflowApplicationRepoMock) GetByID(ctx context.Context, id string) (*models.EnrollmentApplication, error) {
	if app, ok := m.applications[id]; ok {
		return &app, nil
	}
	return nil, sql.ErrNoRows
}

func (m *workflowApplicationRepoMock) List(ctx context.Context, filter models.ApplicationFilter) ([]models.ApplicationDetail, int, error) {
	var list []models.ApplicationDetail
	for _, app := range m.applications {
		list = append(list, models.ApplicationDetail{EnrollmentApplication: app})
	}
	return list, len(list), nil
}

func (m *workflowApplicationRepoMock) ExistsOpenForTerm(ctx context.Context, studentID, academicYear, semester string) (bool, error) {
	return false, nil
}

func (m *workflowApplicationRepoMock) Transition(ctx context.Context, params repository.TransitionParams) error {
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
	m.applications[params.ID] = app
	m.enrollments = append(m.enrollments, params.Enrollments...)
	return nil
}

type workflowStudentRepoMock struct{}

func (workflowStudentRepoMock) FindByID(ctx context.Context, id string) (*models.StudentDetail, error) {
	if id != "s1" {
		return nil, sql.ErrNoRows
	}
	courseID := "bscs"
	return &models.StudentDetail{Student: models.Student{ID: "s1", UserID: "u-student", CourseID: &courseID, Active: true}}, nil
}

func (workflowStudentRepoMock) FindByUserID(ctx context.Context, userID string) (*models.StudentDetail, error) {
	if userID != "u-student" {
		return nil, sql.ErrNoRows
	}
	courseID := "bscs"
	return &models.StudentDetail{Student: models.Student{ID: "s1", UserID: "u-student", CourseID: &courseID, Active: true}}, nil
}

type workflowCatalogRepoMock struct{}

func (workflowCatalogRepoMock) FindSubjectsByCodes(ctx context.Context, courseID string, codes []string) ([]models.Subject, error) {
	var list []models.Subject
	for _, code := range codes {
		list = append(list, models.Subject{CourseID: courseID, Code: code, Name: "Subject " + code, Units: 3})
	}
	return list, nil
}

func (workflowCatalogRepoMock) FindTerm(ctx context.Context, academicYear, semester string) (*models.Term, error) {
	return &models.Term{AcademicYear: academicYear, Semester: semester, Active: true}, nil
}

type workflowAuditRepoMock struct{}

func (workflowAuditRepoMock) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	return nil
}

type workflowNotifierMock struct{}

func (workflowNotifierMock) Notify(ctx context.Context, userID, message string) error { return nil }

func (workflowNotifierMock) InvalidateUnreadCount(userID string) {}

const defaultApplicationPayload = `{"academic_year":"2026-2027","semester":"1st","subject_codes":["CS101","MATH01"]}`
