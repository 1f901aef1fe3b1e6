package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/registrar-api/internal/models"
	"github.com/noah-isme/registrar-api/internal/repository"
	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
	"github.com/noah-isme/registrar-api/pkg/jobs"
)

type notificationRepository interface {
	Create(ctx context.Context, notification *models.Notification) error
	ListByUser(ctx context.Context, userID string, page, pageSize int) ([]models.Notification, int, error)
	MarkAllRead(ctx context.Context, userID string) error
	CountUnread(ctx context.Context, userID string) (int, error)
}

type notificationCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// NotificationConfig tunes the unread counter cache and its refresh
// worker pool.
type NotificationConfig struct {
	UnreadCacheTTL    time.Duration
	WorkerConcurrency int
	WorkerRetries     int
}

// NotificationService serves user notifications and keeps the unread
// counter cache warm through a retrying background queue.
type NotificationService struct {
	repo   notificationRepository
	cache  notificationCache
	logger *zap.Logger
	config NotificationConfig
	queue  *jobs.Queue
}

// NewNotificationService constructs the service and its refresh queue.
// Start must be called before counter invalidations are enqueued.
func NewNotificationService(repo notificationRepository, cache notificationCache, logger *zap.Logger, config NotificationConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.UnreadCacheTTL <= 0 {
		config.UnreadCacheTTL = 5 * time.Minute
	}
	s := &NotificationService{repo: repo, cache: cache, logger: logger, config: config}
	s.queue = jobs.NewQueue("notification-unread-refresh", s.handleRefreshJob, jobs.QueueConfig{
		Workers:    config.WorkerConcurrency,
		MaxRetries: config.WorkerRetries,
		Logger:     logger,
	})
	return s
}

// Start launches the refresh workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the refresh workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// List returns a user's notifications, newest first.
func (s *NotificationService) List(ctx context.Context, userID string, page, pageSize int) ([]models.Notification, int, error) {
	notifications, total, err := s.repo.ListByUser(ctx, userID, page, pageSize)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notifications")
	}
	return notifications, total, nil
}

// Notify creates a notification outside of a workflow transaction and
// refreshes the recipient's unread counter.
func (s *NotificationService) Notify(ctx context.Context, userID, message string) error {
	notification := &models.Notification{
		ID:      uuid.NewString(),
		UserID:  userID,
		Message: message,
	}
	if err := s.repo.Create(ctx, notification); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create notification")
	}
	s.InvalidateUnreadCount(userID)
	return nil
}

// MarkAllRead flags every unread notification owned by the user. Calling
// it twice is harmless.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) error {
	if err := s.repo.MarkAllRead(ctx, userID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notifications read")
	}
	s.InvalidateUnreadCount(userID)
	return nil
}

// UnreadCount returns the number of unread notifications, served from
// cache when warm.
func (s *NotificationService) UnreadCount(ctx context.Context, userID string) (int, error) {
	key := unreadCountKey(userID)
	if s.cache != nil {
		var cached int
		err := s.cache.Get(ctx, key, &cached)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, repository.ErrCacheMiss) {
			s.logger.Warn("unread counter cache read failed", zap.Error(err))
		}
	}

	count, err := s.repo.CountUnread(ctx, userID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count unread notifications")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, count, s.config.UnreadCacheTTL); err != nil {
			s.logger.Warn("unread counter cache write failed", zap.Error(err))
		}
	}
	return count, nil
}

// InvalidateUnreadCount schedules a counter refresh for the user. The
// refresh runs on the queue so transient cache failures are retried
// without blocking the request path.
func (s *NotificationService) InvalidateUnreadCount(userID string) {
	if err := s.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    "refresh-unread-count",
		Payload: userID,
	}); err != nil {
		s.logger.Warn("failed to enqueue unread counter refresh", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *NotificationService) handleRefreshJob(ctx context.Context, job jobs.Job) error {
	userID, ok := job.Payload.(string)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", job.Payload)
	}

	count, err := s.repo.CountUnread(ctx, userID)
	if err != nil {
		return fmt.Errorf("count unread for refresh: %w", err)
	}
	if s.cache == nil {
		return nil
	}
	if err := s.cache.Set(ctx, unreadCountKey(userID), count, s.config.UnreadCacheTTL); err != nil {
		return fmt.Errorf("refresh unread counter cache: %w", err)
	}
	return nil
}

func unreadCountKey(userID string) string {
	return "notifications:unread:" + userID
}
