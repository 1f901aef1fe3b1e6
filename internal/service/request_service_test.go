package service

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/registrar-api/internal/models"
	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
	"github.com/noah-isme/registrar-api/pkg/storage"
	"github.com/noah-isme/registrar-api/pkg/upload"
)

type mockRequestRepo struct {
	requests map[string]models.Request
	failure  error
}

func (m *mockRequestRepo) Create(ctx context.Context, request *models.Request) error {
	if m.failure != nil {
		return m.failure
	}
	if m.requests == nil {
		m.requests = make(map[string]models.Request)
	}
	if request.ID == "" {
		request.ID = "new-request"
	}
	m.requests[request.ID] = *request
	return nil
}

func (m *mockRequestRepo) GetByID(ctx context.Context, id string) (*models.Request, error) {
	if r, ok := m.requests[id]; ok {
		return &r, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockRequestRepo) List(ctx context.Context, filter models.RequestFilter) ([]models.Request, int, error) {
	var list []models.Request
	for _, r := range m.requests {
		if filter.StudentID != "" && r.StudentID != filter.StudentID {
			continue
		}
		list = append(list, r)
	}
	return list, len(list), nil
}

func (m *mockRequestRepo) UpdateStatus(ctx context.Context, id string, status models.RequestStatus, handledBy string, remarks *string) error {
	r, ok := m.requests[id]
	if !ok {
		return sql.ErrNoRows
	}
	r.Status = status
	r.HandledBy = &handledBy
	r.Remarks = remarks
	m.requests[id] = r
	return nil
}

func multipartFiles(t *testing.T, names map[string][]byte) []*multipart.FileHeader {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for name, content := range names {
		part, err := writer.CreateFormFile("documents", name)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/requests", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	require.NoError(t, req.ParseMultipartForm(32<<20))
	return req.MultipartForm.File["documents"]
}

func newRequestServiceForTest(t *testing.T, repo *mockRequestRepo, notifier *mockNotifier) (*RequestService, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewLocalStorage(dir)
	require.NoError(t, err)
	policy := upload.NewPolicy(1024, 2, []string{"pdf", "png"})
	svc := NewRequestService(repo,
		&mockApplicationStudents{students: studentFixture()},
		&mockAuditSink{}, notifier, store, policy, validator.New(), zap.NewNop())
	return svc, dir
}

func TestRequestServiceCreate(t *testing.T) {
	repo := &mockRequestRepo{}
	notifier := &mockNotifier{}
	svc, dir := newRequestServiceForTest(t, repo, notifier)

	claims := &models.JWTClaims{UserID: "u-student", Role: models.RoleStudent}
	files := multipartFiles(t, map[string][]byte{"receipt.pdf": []byte("%PDF-1.4 payment")})
	request, err := svc.Create(context.Background(), claims, CreateRequestRequest{
		Type:    models.RequestTypeTranscript,
		Purpose: "employment abroad",
	}, files)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusPending, request.Status)
	assert.Equal(t, "s1", request.StudentID)
	require.Len(t, request.Documents, 1)
	assert.Equal(t, "receipt.pdf", request.Documents[0].OriginalName)

	stored, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
	assert.Len(t, notifier.messages["u-student"], 1)
}

func TestRequestServiceCreateRejectsDisallowedType(t *testing.T) {
	repo := &mockRequestRepo{}
	svc, dir := newRequestServiceForTest(t, repo, &mockNotifier{})

	claims := &models.JWTClaims{UserID: "u-student", Role: models.RoleStudent}
	files := multipartFiles(t, map[string][]byte{"virus.exe": []byte("MZ")})
	_, err := svc.Create(context.Background(), claims, CreateRequestRequest{
		Type:    models.RequestTypeGoodMoral,
		Purpose: "scholarship",
	}, files)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	// nothing reaches disk when validation fails
	stored, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, stored)
	assert.Empty(t, repo.requests)
}

func TestRequestServiceCreateRejectsTooManyFiles(t *testing.T) {
	svc, _ := newRequestServiceForTest(t, &mockRequestRepo{}, &mockNotifier{})

	claims := &models.JWTClaims{UserID: "u-student", Role: models.RoleStudent}
	files := multipartFiles(t, map[string][]byte{
		"a.pdf": []byte("one"),
		"b.pdf": []byte("two"),
		"c.pdf": []byte("three"),
	})
	_, err := svc.Create(context.Background(), claims, CreateRequestRequest{
		Type:    models.RequestTypeDiploma,
		Purpose: "records",
	}, files)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestRequestServiceCreateRollsBackStoredFiles(t *testing.T) {
	repo := &mockRequestRepo{failure: sql.ErrConnDone}
	svc, dir := newRequestServiceForTest(t, repo, &mockNotifier{})

	claims := &models.JWTClaims{UserID: "u-student", Role: models.RoleStudent}
	files := multipartFiles(t, map[string][]byte{"form.pdf": []byte("%PDF-1.4")})
	_, err := svc.Create(context.Background(), claims, CreateRequestRequest{
		Type:    models.RequestTypeCOR,
		Purpose: "visa application",
	}, files)
	require.Error(t, err)

	stored, readErr := os.ReadDir(dir)
	require.NoError(t, readErr)
	assert.Empty(t, stored)
}

func TestRequestServiceGetDocument(t *testing.T) {
	repo := &mockRequestRepo{}
	svc, _ := newRequestServiceForTest(t, repo, &mockNotifier{})

	claims := &models.JWTClaims{UserID: "u-student", Role: models.RoleStudent}
	files := multipartFiles(t, map[string][]byte{"receipt.pdf": []byte("%PDF-1.4 paid")})
	request, err := svc.Create(context.Background(), claims, CreateRequestRequest{
		Type:    models.RequestTypeTranscript,
		Purpose: "board exam",
	}, files)
	require.NoError(t, err)

	ref, file, err := svc.GetDocument(context.Background(), claims, request.ID, 0)
	require.NoError(t, err)
	defer file.Close()
	assert.Equal(t, "receipt.pdf", ref.OriginalName)
	content, err := io.ReadAll(file)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 paid", string(content))

	_, _, err = svc.GetDocument(context.Background(), claims, request.ID, 1)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestRequestServiceStudentCannotReadOthers(t *testing.T) {
	repo := &mockRequestRepo{requests: map[string]models.Request{
		"r1": {ID: "r1", StudentID: "someone-else", Type: models.RequestTypeTranscript, Status: models.RequestStatusPending},
	}}
	svc, _ := newRequestServiceForTest(t, repo, &mockNotifier{})

	claims := &models.JWTClaims{UserID: "u-student", Role: models.RoleStudent}
	_, err := svc.Get(context.Background(), claims, "r1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestRequestServiceUpdateStatusNotifiesStudent(t *testing.T) {
	repo := &mockRequestRepo{requests: map[string]models.Request{
		"r1": {ID: "r1", StudentID: "s1", Type: models.RequestTypeTranscript, Status: models.RequestStatusPending},
	}}
	notifier := &mockNotifier{}
	svc, _ := newRequestServiceForTest(t, repo, notifier)

	claims := &models.JWTClaims{UserID: "u-admin", Role: models.RoleAdmin}
	request, err := svc.UpdateStatus(context.Background(), claims, "r1", UpdateRequestStatusRequest{
		Status: models.RequestStatusReadyForPickup,
	})
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusReadyForPickup, request.Status)
	require.NotNil(t, request.HandledBy)
	assert.Equal(t, "u-admin", *request.HandledBy)
	assert.Len(t, notifier.messages["u-student"], 1)
}

func TestRequestServiceListScopesStudents(t *testing.T) {
	repo := &mockRequestRepo{requests: map[string]models.Request{
		"r1": {ID: "r1", StudentID: "s1", Status: models.RequestStatusPending},
		"r2": {ID: "r2", StudentID: "other", Status: models.RequestStatusPending},
	}}
	svc, _ := newRequestServiceForTest(t, repo, &mockNotifier{})

	student := &models.JWTClaims{UserID: "u-student", Role: models.RoleStudent}
	list, total, err := svc.List(context.Background(), student, models.RequestFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, list, 1)
	assert.Equal(t, "r1", list[0].ID)

	admin := &models.JWTClaims{UserID: "u-admin", Role: models.RoleAdmin}
	_, total, err = svc.List(context.Background(), admin, models.RequestFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestUploadPolicyFilenameOnDisk(t *testing.T) {
	name := storage.GenerateFilename("My Receipt.PDF")
	assert.Equal(t, ".pdf", filepath.Ext(name))
	assert.NotContains(t, name, " ")
}
