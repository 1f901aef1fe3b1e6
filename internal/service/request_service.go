package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/registrar-api/internal/models"
	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
	"github.com/noah-isme/registrar-api/pkg/storage"
	"github.com/noah-isme/registrar-api/pkg/upload"
)

type requestRepository interface {
	Create(ctx context.Context, request *models.Request) error
	GetByID(ctx context.Context, id string) (*models.Request, error)
	List(ctx context.Context, filter models.RequestFilter) ([]models.Request, int, error)
	UpdateStatus(ctx context.Context, id string, status models.RequestStatus, handledBy string, remarks *string) error
}

type documentStore interface {
	SaveStream(filename string, r io.Reader) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
}

// CreateRequestRequest files a document request. Supporting files ride
// along in the multipart form and are validated before anything is
// persisted.
type CreateRequestRequest struct {
	Type    models.RequestType `form:"request_type" validate:"required,oneof=TRANSCRIPT CERTIFICATE_OF_REGISTRATION GOOD_MORAL DIPLOMA OTHER"`
	Purpose string             `form:"purpose" validate:"required"`
}

// UpdateRequestStatusRequest moves a request through its lifecycle.
type UpdateRequestStatusRequest struct {
	Status  models.RequestStatus `json:"status" validate:"required"`
	Remarks *string              `json:"remarks,omitempty"`
}

// RequestService manages document requests and their uploads.
type RequestService struct {
	requests  requestRepository
	students  applicationStudentRepository
	audit     applicationAuditRepository
	notifier  applicationNotifier
	store     documentStore
	policy    *upload.Policy
	validator *validator.Validate
	logger    *zap.Logger
}

// NewRequestService constructs a RequestService.
func NewRequestService(
	requests requestRepository,
	students applicationStudentRepository,
	audit applicationAuditRepository,
	notifier applicationNotifier,
	store documentStore,
	policy *upload.Policy,
	validate *validator.Validate,
	logger *zap.Logger,
) *RequestService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &RequestService{
		requests:  requests,
		students:  students,
		audit:     audit,
		notifier:  notifier,
		store:     store,
		policy:    policy,
		validator: validate,
		logger:    logger,
	}
}

// Create files a document request for the authenticated student. All
// uploads are validated against the policy before the first byte is
// written, and already-stored files are removed if a later one fails.
func (s *RequestService) Create(ctx context.Context, claims *models.JWTClaims, req CreateRequestRequest, files []*multipart.FileHeader) (*models.Request, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request payload")
	}

	student, err := s.students.FindByUserID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no student record for this account")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	if result := s.policy.CheckCount(len(files)); !result.OK {
		return nil, appErrors.Clone(appErrors.ErrValidation, result.Reason)
	}
	for _, header := range files {
		result := s.policy.CheckFile(header.Filename, header.Header.Get("Content-Type"), header.Size)
		if !result.OK {
			return nil, appErrors.Clone(appErrors.ErrValidation, result.Reason)
		}
	}

	documents, err := s.storeFiles(files)
	if err != nil {
		return nil, err
	}

	request := &models.Request{
		StudentID: student.ID,
		Type:      req.Type,
		Purpose:   req.Purpose,
		Documents: documents,
		Status:    models.RequestStatusPending,
	}
	if err := s.requests.Create(ctx, request); err != nil {
		s.removeFiles(documents)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create request")
	}

	s.recordRequestAudit(ctx, claims.UserID, models.AuditActionRequestCreate, request.ID,
		fmt.Sprintf(`{"type":%q}`, request.Type))

	if err := s.notifier.Notify(ctx, claims.UserID,
		fmt.Sprintf("Your %s request was received and is pending processing.", request.Type)); err != nil {
		s.logger.Warn("failed to notify requester", zap.Error(err))
	}

	return request, nil
}

// Get fetches one request. Students may only view their own.
func (s *RequestService) Get(ctx context.Context, claims *models.JWTClaims, id string) (*models.Request, error) {
	request, err := s.requests.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	if err := s.checkOwnership(ctx, claims, request); err != nil {
		return nil, err
	}
	return request, nil
}

// List returns requests. Students are always scoped to their own.
func (s *RequestService) List(ctx context.Context, claims *models.JWTClaims, filter models.RequestFilter) ([]models.Request, int, error) {
	if filter.Status != "" && !models.ValidRequestStatus(filter.Status) {
		return nil, 0, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown request status %q", filter.Status))
	}

	if claims.Role == models.RoleStudent {
		student, err := s.students.FindByUserID(ctx, claims.UserID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, 0, appErrors.Clone(appErrors.ErrNotFound, "no student record for this account")
			}
			return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
		}
		filter.StudentID = student.ID
	}

	requests, total, err := s.requests.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list requests")
	}
	return requests, total, nil
}

// GetDocument opens the stored upload at docIndex for streaming back to
// the client. The caller owns closing the file.
func (s *RequestService) GetDocument(ctx context.Context, claims *models.JWTClaims, id string, docIndex int) (models.DocumentRef, *os.File, error) {
	request, err := s.Get(ctx, claims, id)
	if err != nil {
		return models.DocumentRef{}, nil, err
	}

	if docIndex < 0 || docIndex >= len(request.Documents) {
		return models.DocumentRef{}, nil, appErrors.Clone(appErrors.ErrNotFound,
			fmt.Sprintf("request has no document at index %d", docIndex))
	}

	ref := request.Documents[docIndex]
	file, err := s.store.Open(ref.StoredName)
	if err != nil {
		return models.DocumentRef{}, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open stored document")
	}
	return ref, file, nil
}

// UpdateStatus moves a request through its lifecycle and notifies the
// owning student.
func (s *RequestService) UpdateStatus(ctx context.Context, claims *models.JWTClaims, id string, req UpdateRequestStatusRequest) (*models.Request, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid status payload")
	}
	if !models.ValidRequestStatus(req.Status) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown request status %q", req.Status))
	}

	request, err := s.requests.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}

	if err := s.requests.UpdateStatus(ctx, id, req.Status, claims.UserID, req.Remarks); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update request")
	}

	s.recordRequestAudit(ctx, claims.UserID, models.AuditActionRequestStatusChange, id,
		fmt.Sprintf(`{"from":%q,"to":%q}`, request.Status, req.Status))

	if student, err := s.students.FindByID(ctx, request.StudentID); err == nil {
		if err := s.notifier.Notify(ctx, student.UserID,
			fmt.Sprintf("Your %s request is now %s.", request.Type, req.Status)); err != nil {
			s.logger.Warn("failed to notify requester of status change", zap.Error(err))
		}
	}

	return s.requests.GetByID(ctx, id)
}

func (s *RequestService) storeFiles(files []*multipart.FileHeader) (models.DocumentRefs, error) {
	documents := make(models.DocumentRefs, 0, len(files))
	for _, header := range files {
		src, err := header.Open()
		if err != nil {
			s.removeFiles(documents)
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read upload")
		}

		storedName := storage.GenerateFilename(header.Filename)
		if _, err := s.store.SaveStream(storedName, src); err != nil {
			src.Close()
			s.removeFiles(documents)
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store upload")
		}
		src.Close()

		documents = append(documents, models.DocumentRef{
			StoredName:   storedName,
			OriginalName: header.Filename,
			ContentType:  header.Header.Get("Content-Type"),
			SizeBytes:    header.Size,
		})
	}
	return documents, nil
}

func (s *RequestService) removeFiles(documents models.DocumentRefs) {
	for _, ref := range documents {
		if err := s.store.Delete(ref.StoredName); err != nil {
			s.logger.Warn("failed to remove stored upload", zap.String("file", ref.StoredName), zap.Error(err))
		}
	}
}

func (s *RequestService) checkOwnership(ctx context.Context, claims *models.JWTClaims, request *models.Request) error {
	if claims.Role != models.RoleStudent {
		return nil
	}
	student, err := s.students.FindByUserID(ctx, claims.UserID)
	if err != nil || student.ID != request.StudentID {
		return appErrors.Clone(appErrors.ErrForbidden, "request belongs to another student")
	}
	return nil
}

func (s *RequestService) recordRequestAudit(ctx context.Context, userID, action, resourceID, payload string) {
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   "document_request",
		ResourceID: &resourceID,
		NewValues:  []byte(payload),
	}); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}
