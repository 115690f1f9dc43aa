package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/SergeiKhy/tinylinks/internal/models"
	"github.com/SergeiKhy/tinylinks/internal/repository"
)

// MockLinkRepository implements repository.LinkRepository for testing
type MockLinkRepository struct {
	mu     sync.RWMutex
	links  map[string]*models.Link
	nextID int64

	// FailReads заставляет Count/OldestChecked возвращать ошибку,
	// имитируя недоступность store
	FailReads error
	// FailMarkFor коды, для которых MarkChecked вернёт ошибку
	FailMarkFor map[string]error
}

func NewMockLinkRepository() *MockLinkRepository {
	return &MockLinkRepository{
		links:  make(map[string]*models.Link),
		nextID: 1,
	}
}

func (m *MockLinkRepository) Create(ctx context.Context, link *models.Link) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.links[link.Code]; exists {
		return repository.ErrCodeExists
	}

	link.ID = m.nextID
	m.nextID++
	stored := *link
	m.links[link.Code] = &stored
	return nil
}

func (m *MockLinkRepository) GetByCode(ctx context.Context, code string) (*models.Link, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	link, exists := m.links[code]
	if !exists {
		return nil, repository.ErrLinkNotFound
	}
	copied := *link
	return &copied, nil
}

func (m *MockLinkRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, exists := m.links[code]
	return exists, nil
}

func (m *MockLinkRepository) ResolveAndCount(ctx context.Context, code string) (*models.Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	link, exists := m.links[code]
	if !exists {
		return nil, repository.ErrLinkNotFound
	}
	link.ClickCount++
	copied := *link
	return &copied, nil
}

func (m *MockLinkRepository) OldestChecked(ctx context.Context, limit int) ([]*models.Link, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.FailReads != nil {
		return nil, m.FailReads
	}

	all := make([]*models.Link, 0, len(m.links))
	for _, link := range m.links {
		all = append(all, link)
	}

	// Тот же порядок, что и ranked query в Postgres: NULLS FIRST,
	// затем created_at, затем code
	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		switch {
		case a.LastCheckedAt == nil && b.LastCheckedAt != nil:
			return true
		case a.LastCheckedAt != nil && b.LastCheckedAt == nil:
			return false
		case a.LastCheckedAt != nil && b.LastCheckedAt != nil && !a.LastCheckedAt.Equal(*b.LastCheckedAt):
			return a.LastCheckedAt.Before(*b.LastCheckedAt)
		case !a.CreatedAt.Equal(b.CreatedAt):
			return a.CreatedAt.Before(b.CreatedAt)
		default:
			return a.Code < b.Code
		}
	})

	if limit < len(all) {
		all = all[:limit]
	}

	result := make([]*models.Link, 0, len(all))
	for _, link := range all {
		copied := *link
		result = append(result, &copied)
	}
	return result, nil
}

func (m *MockLinkRepository) MarkChecked(ctx context.Context, id int64, status models.LinkStatus, reason string, checkedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, link := range m.links {
		if link.ID != id {
			continue
		}
		if err, ok := m.FailMarkFor[link.Code]; ok {
			return err
		}
		link.Status = status
		link.ValidationError = reason
		if link.LastCheckedAt == nil || link.LastCheckedAt.Before(checkedAt) {
			t := checkedAt
			link.LastCheckedAt = &t
		}
		return nil
	}
	return repository.ErrLinkNotFound
}

func (m *MockLinkRepository) Count(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.FailReads != nil {
		return 0, m.FailReads
	}
	return int64(len(m.links)), nil
}

func (m *MockLinkRepository) Delete(ctx context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.links[code]; !exists {
		return repository.ErrLinkNotFound
	}
	delete(m.links, code)
	return nil
}

// MockCacheRepository implements repository.CacheRepository for testing
type MockCacheRepository struct {
	mu    sync.RWMutex
	cache map[string]*models.Link
}

func NewMockCacheRepository() *MockCacheRepository {
	return &MockCacheRepository{
		cache: make(map[string]*models.Link),
	}
}

func (m *MockCacheRepository) Get(ctx context.Context, key string) (*models.Link, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	link, exists := m.cache[key]
	if !exists {
		return nil, repository.ErrLinkNotFound
	}
	return link, nil
}

func (m *MockCacheRepository) Set(ctx context.Context, key string, link *models.Link, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache[key] = link
	return nil
}

func (m *MockCacheRepository) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cache, key)
	return nil
}

// MockClickRepository implements repository.ClickRepository for testing
type MockClickRepository struct {
	mu     sync.RWMutex
	clicks []*models.Click
}

func NewMockClickRepository() *MockClickRepository {
	return &MockClickRepository{}
}

func (m *MockClickRepository) RecordClick(ctx context.Context, click *models.Click) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clicks = append(m.clicks, click)
	return nil
}

func (m *MockClickRepository) GetStats(ctx context.Context, code string) (*models.ClickStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total int64
	uniqueIPs := make(map[string]bool)
	for _, click := range m.clicks {
		if click.Code == code {
			total++
			uniqueIPs[click.IPAddress] = true
		}
	}

	return &models.ClickStats{
		Code:         code,
		TotalClicks:  total,
		UniqueClicks: int64(len(uniqueIPs)),
	}, nil
}

func (m *MockClickRepository) GetDailyStats(ctx context.Context, code string, days int) ([]models.DailyClickStats, error) {
	return []models.DailyClickStats{}, nil
}

func (m *MockClickRepository) Recorded() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clicks)
}

// MockSchedulerLock implements repository.SchedulerLock for testing
type MockSchedulerLock struct {
	mu        sync.Mutex
	held      bool
	Acquires  int
	Skips     int
	Refreshes int
}

func NewMockSchedulerLock() *MockSchedulerLock {
	return &MockSchedulerLock{}
}

func (m *MockSchedulerLock) TryAcquire(ctx context.Context, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held {
		m.Skips++
		return false, nil
	}
	m.held = true
	m.Acquires++
	return true, nil
}

func (m *MockSchedulerLock) Refresh(ctx context.Context, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.held {
		return false, nil
	}
	m.Refreshes++
	return true, nil
}

func (m *MockSchedulerLock) RefreshCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Refreshes
}

func (m *MockSchedulerLock) Release(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.held = false
	return nil
}
