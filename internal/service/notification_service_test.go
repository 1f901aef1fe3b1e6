package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/registrar-api/internal/models"
	"github.com/noah-isme/registrar-api/internal/repository"
)

type mockNotificationRepo struct {
	mu            sync.Mutex
	notifications []models.Notification
}

func (m *mockNotificationRepo) Create(ctx context.Context, notification *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, *notification)
	return nil
}

func (m *mockNotificationRepo) ListByUser(ctx context.Context, userID string, page, pageSize int) ([]models.Notification, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []models.Notification
	for _, n := range m.notifications {
		if n.UserID == userID {
			list = append(list, n)
		}
	}
	return list, len(list), nil
}

func (m *mockNotificationRepo) MarkAllRead(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.notifications {
		if m.notifications[i].UserID == userID {
			m.notifications[i].Read = true
		}
	}
	return nil
}

func (m *mockNotificationRepo) CountUnread(ctx context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, n := range m.notifications {
		if n.UserID == userID && !n.Read {
			count++
		}
	}
	return count, nil
}

type memCache struct {
	mu     sync.Mutex
	values map[string]int
}

func newMemCache() *memCache {
	return &memCache{values: make(map[string]int)}
}

func (c *memCache) Get(ctx context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	value, ok := c.values[key]
	if !ok {
		return repository.ErrCacheMiss
	}
	target, ok := dest.(*int)
	if !ok {
		return fmt.Errorf("unexpected dest type %T", dest)
	}
	*target = value
	return nil
}

func (c *memCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	count, ok := value.(int)
	if !ok {
		return fmt.Errorf("unexpected value type %T", value)
	}
	c.values[key] = count
	return nil
}

func (c *memCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
	return nil
}

func (c *memCache) get(key string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	value, ok := c.values[key]
	return value, ok
}

func seedUnread(repo *mockNotificationRepo, userID string, n int) {
	for i := 0; i < n; i++ {
		repo.notifications = append(repo.notifications, models.Notification{
			ID:      fmt.Sprintf("n%d", i),
			UserID:  userID,
			Message: "test",
		})
	}
}

func TestNotificationServiceUnreadCountCacheMiss(t *testing.T) {
	repo := &mockNotificationRepo{}
	seedUnread(repo, "u1", 3)
	cache := newMemCache()
	svc := NewNotificationService(repo, cache, zap.NewNop(), NotificationConfig{})

	count, err := svc.UnreadCount(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	// the miss warms the cache
	cached, ok := cache.get(unreadCountKey("u1"))
	require.True(t, ok)
	assert.Equal(t, 3, cached)
}

func TestNotificationServiceUnreadCountServedFromCache(t *testing.T) {
	repo := &mockNotificationRepo{}
	seedUnread(repo, "u1", 3)
	cache := newMemCache()
	cache.values[unreadCountKey("u1")] = 7
	svc := NewNotificationService(repo, cache, zap.NewNop(), NotificationConfig{})

	count, err := svc.UnreadCount(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 7, count)
}

func TestNotificationServiceMarkAllReadIdempotent(t *testing.T) {
	repo := &mockNotificationRepo{}
	seedUnread(repo, "u1", 2)
	svc := NewNotificationService(repo, newMemCache(), zap.NewNop(), NotificationConfig{})

	require.NoError(t, svc.MarkAllRead(context.Background(), "u1"))
	require.NoError(t, svc.MarkAllRead(context.Background(), "u1"))

	count, err := repo.CountUnread(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestNotificationServiceNotifyRefreshesCounter(t *testing.T) {
	repo := &mockNotificationRepo{}
	cache := newMemCache()
	svc := NewNotificationService(repo, cache, zap.NewNop(), NotificationConfig{WorkerConcurrency: 1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)
	defer svc.Stop()

	require.NoError(t, svc.Notify(ctx, "u1", "Your enrollment payment was verified."))

	require.Eventually(t, func() bool {
		cached, ok := cache.get(unreadCountKey("u1"))
		return ok && cached == 1
	}, 2*time.Second, 10*time.Millisecond)

	list, total, err := svc.List(ctx, "u1", 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, list, 1)
	assert.Equal(t, "Your enrollment payment was verified.", list[0].Message)
}
