package service_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/SergeiKhy/tinylinks/internal/config"
	"github.com/SergeiKhy/tinylinks/internal/models"
	"github.com/SergeiKhy/tinylinks/internal/repository"
	"github.com/SergeiKhy/tinylinks/internal/service"
	"github.com/SergeiKhy/tinylinks/internal/service/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubValidator детерминированный валидатор для тестов: статус берётся из
// statuses по URL, по умолчанию Valid; все проверенные URL запоминаются.
// delay замедляет каждую проверку - для сценариев с долгим проходом.
type stubValidator struct {
	mu       sync.Mutex
	statuses map[string]models.LinkStatus
	checked  []string
	delay    time.Duration
}

func newStubValidator() *stubValidator {
	return &stubValidator{statuses: make(map[string]models.LinkStatus)}
}

func (v *stubValidator) Check(ctx context.Context, targetURL string) service.CheckResult {
	if v.delay > 0 {
		select {
		case <-time.After(v.delay):
		case <-ctx.Done():
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.checked = append(v.checked, targetURL)

	status, ok := v.statuses[targetURL]
	if !ok {
		status = models.StatusValid
	}
	result := service.CheckResult{Status: status}
	if status == models.StatusInvalid {
		result.Reason = "URL not accessible."
	}
	return result
}

func (v *stubValidator) checkedURLs() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.checked...)
}

func testValidationConfig() config.ValidationConfig {
	return config.ValidationConfig{
		CodeLength:          6,
		MaxAttempts:         10,
		CheckInterval:       10 * time.Minute,
		CheckPeriod:         300 * time.Minute,
		Timeout:             time.Second,
		MaxConcurrentChecks: 4,
		Enabled:             false, // без сетевых проверок при создании
	}
}

// setupTestService создаёт тестовое окружение с моковыми репозиториями
func setupTestService() (service.LinkService, *mocks.MockLinkRepository, *mocks.MockCacheRepository) {
	linkRepo := mocks.NewMockLinkRepository()
	cacheRepo := mocks.NewMockCacheRepository()
	logger := zap.NewNop()
	linkService := service.NewLinkService(linkRepo, cacheRepo, newStubValidator(), logger, testValidationConfig())
	return linkService, linkRepo, cacheRepo
}

// TestLinkService_CreateLink_Success проверяет успешное создание ссылки
func TestLinkService_CreateLink_Success(t *testing.T) {
	linkService, _, _ := setupTestService()

	input := &models.CreateLinkInput{
		LongURL: "https://example.com/test",
	}

	ctx := context.Background()
	link, err := linkService.CreateLink(ctx, input)

	require.NoError(t, err)
	assert.Len(t, link.Code, 6, "Длина сгенерированного кода должна совпадать с конфигом")
	assert.Equal(t, input.LongURL, link.LongURL)
	assert.Equal(t, models.StatusUnknown, link.Status, "До первой проверки статус unknown")
	assert.Nil(t, link.LastCheckedAt)
	assert.NotZero(t, link.CreatedAt)
}

// TestLinkService_CreateLink_WithCustomCode проверяет создание ссылки с кастомным кодом
func TestLinkService_CreateLink_WithCustomCode(t *testing.T) {
	linkService, _, _ := setupTestService()

	customCode := "my-custom"
	input := &models.CreateLinkInput{
		LongURL:    "https://example.com/test",
		CustomCode: &customCode,
	}

	ctx := context.Background()
	link, err := linkService.CreateLink(ctx, input)

	require.NoError(t, err)
	assert.Equal(t, customCode, link.Code)
}

// TestLinkService_CreateLink_CustomCodeConflict проверяет, что занятый
// кастомный код отдаётся вызывающему как конфликт, без повторных попыток
func TestLinkService_CreateLink_CustomCodeConflict(t *testing.T) {
	linkService, _, _ := setupTestService()
	ctx := context.Background()

	customCode := "taken1"
	_, err := linkService.CreateLink(ctx, &models.CreateLinkInput{
		LongURL:    "https://example.com/first",
		CustomCode: &customCode,
	})
	require.NoError(t, err)

	link, err := linkService.CreateLink(ctx, &models.CreateLinkInput{
		LongURL:    "https://example.com/second",
		CustomCode: &customCode,
	})
	assert.ErrorIs(t, err, service.ErrCodeTaken)
	assert.Nil(t, link)
}

// TestLinkService_CreateLink_InvalidURL проверяет отклонение невалидного URL
func TestLinkService_CreateLink_InvalidURL(t *testing.T) {
	linkService, _, _ := setupTestService()

	invalidURLs := []string{
		"not-a-url",
		"ftp://example.com",
		"",
		"example.com",
	}

	for _, url := range invalidURLs {
		input := &models.CreateLinkInput{
			LongURL: url,
		}
		link, err := linkService.CreateLink(context.Background(), input)

		assert.ErrorIs(t, err, service.ErrInvalidURL, "URL должен быть отклонён: %s", url)
		assert.Nil(t, link)
	}
}

// TestLinkService_CreateLink_InvalidCustomCode проверяет валидацию кастомного кода
func TestLinkService_CreateLink_InvalidCustomCode(t *testing.T) {
	linkService, _, _ := setupTestService()

	// Невалидные коды: длиннее 32 символов, с недопустимыми символами
	invalidCodes := []string{
		strings.Repeat("a", 33),
		"invalid@code",
		"пробел нет",
	}

	for _, code := range invalidCodes {
		customCode := code
		input := &models.CreateLinkInput{
			LongURL:    "https://example.com/test",
			CustomCode: &customCode,
		}

		link, err := linkService.CreateLink(context.Background(), input)

		assert.ErrorIs(t, err, service.ErrInvalidCode, "Код должен быть отклонён: %s", code)
		assert.Nil(t, link)
	}
}

// TestLinkService_CreateLink_MaxLengthCustomCode проверяет, что код в 32
// символа ещё допустим
func TestLinkService_CreateLink_MaxLengthCustomCode(t *testing.T) {
	linkService, _, _ := setupTestService()

	customCode := strings.Repeat("z", 32)
	input := &models.CreateLinkInput{
		LongURL:    "https://example.com/test",
		CustomCode: &customCode,
	}

	link, err := linkService.CreateLink(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, customCode, link.Code)
}

// TestLinkService_CreateLink_ProbesWhenEnabled проверяет, что при включённой
// валидации свежая ссылка получает первую проверку сразу после создания
func TestLinkService_CreateLink_ProbesWhenEnabled(t *testing.T) {
	linkRepo := mocks.NewMockLinkRepository()
	cacheRepo := mocks.NewMockCacheRepository()
	validator := newStubValidator()
	cfg := testValidationConfig()
	cfg.Enabled = true
	linkService := service.NewLinkService(linkRepo, cacheRepo, validator, zap.NewNop(), cfg)

	link, err := linkService.CreateLink(context.Background(), &models.CreateLinkInput{
		LongURL: "https://example.com/probe-me",
	})
	require.NoError(t, err)

	// Проверка асинхронная, ждём её результата
	require.Eventually(t, func() bool {
		stored, err := linkRepo.GetByCode(context.Background(), link.Code)
		return err == nil && stored.LastCheckedAt != nil
	}, 2*time.Second, 10*time.Millisecond)

	stored, err := linkRepo.GetByCode(context.Background(), link.Code)
	require.NoError(t, err)
	assert.Equal(t, models.StatusValid, stored.Status)
	assert.Contains(t, validator.checkedURLs(), "https://example.com/probe-me")
}

// TestLinkService_GetLink_FromCache проверяет получение ссылки из кэша
func TestLinkService_GetLink_FromCache(t *testing.T) {
	linkService, _, cacheRepo := setupTestService()

	input := &models.CreateLinkInput{
		LongURL: "https://example.com/test",
	}
	ctx := context.Background()
	createdLink, err := linkService.CreateLink(ctx, input)
	require.NoError(t, err)

	// Проверяем, что ссылка попала в кэш
	cachedLink, err := cacheRepo.Get(ctx, createdLink.Code)
	require.NoError(t, err)
	assert.Equal(t, createdLink.Code, cachedLink.Code)

	retrievedLink, err := linkService.GetLink(ctx, createdLink.Code)
	require.NoError(t, err)
	assert.Equal(t, createdLink.Code, retrievedLink.Code)
}

// TestLinkService_GetLink_NotFound проверяет обработку несуществующей ссылки
func TestLinkService_GetLink_NotFound(t *testing.T) {
	linkService, _, _ := setupTestService()

	link, err := linkService.GetLink(context.Background(), "nonexistent")

	assert.Error(t, err)
	assert.Nil(t, link)
}

// TestLinkService_Resolve_CountsClick проверяет, что резолв увеличивает
// счётчик ровно на единицу
func TestLinkService_Resolve_CountsClick(t *testing.T) {
	linkService, linkRepo, _ := setupTestService()
	ctx := context.Background()

	created, err := linkService.CreateLink(ctx, &models.CreateLinkInput{
		LongURL: "https://example.com/counted",
	})
	require.NoError(t, err)

	resolved, err := linkService.Resolve(ctx, created.Code)
	require.NoError(t, err)
	assert.Equal(t, created.LongURL, resolved.LongURL)
	assert.Equal(t, int64(1), resolved.ClickCount)

	stored, err := linkRepo.GetByCode(ctx, created.Code)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.ClickCount)
}

// TestLinkService_Resolve_Concurrent проверяет отсутствие потерянных
// обновлений: N конкурентных резолвов дают ровно N кликов
func TestLinkService_Resolve_Concurrent(t *testing.T) {
	linkService, linkRepo, _ := setupTestService()
	ctx := context.Background()

	customCode := "goog"
	created, err := linkService.CreateLink(ctx, &models.CreateLinkInput{
		LongURL:    "http://google.com/",
		CustomCode: &customCode,
	})
	require.NoError(t, err)
	require.Equal(t, int64(0), created.ClickCount)

	const resolves = 5
	var wg sync.WaitGroup
	for i := 0; i < resolves; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := linkService.Resolve(ctx, "goog")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stored, err := linkRepo.GetByCode(ctx, "goog")
	require.NoError(t, err)
	assert.Equal(t, int64(resolves), stored.ClickCount)
}

// TestLinkService_Resolve_NotFound проверяет резолв несуществующего кода
func TestLinkService_Resolve_NotFound(t *testing.T) {
	linkService, _, _ := setupTestService()

	link, err := linkService.Resolve(context.Background(), "missing")
	assert.ErrorIs(t, err, repository.ErrLinkNotFound)
	assert.Nil(t, link)
}

// TestLinkService_Resolve_InvalidLinkStillResolves проверяет, что ссылка
// со статусом invalid всё равно редиректит: валидация информационная
func TestLinkService_Resolve_InvalidLinkStillResolves(t *testing.T) {
	linkService, linkRepo, _ := setupTestService()
	ctx := context.Background()

	created, err := linkService.CreateLink(ctx, &models.CreateLinkInput{
		LongURL: "https://dead.example.com/page",
	})
	require.NoError(t, err)

	require.NoError(t, linkRepo.MarkChecked(ctx, created.ID, models.StatusInvalid, "URL not accessible.", time.Now()))

	resolved, err := linkService.Resolve(ctx, created.Code)
	require.NoError(t, err)
	assert.Equal(t, created.LongURL, resolved.LongURL)
}

// TestLinkService_DeleteLink_Success проверяет успешное удаление ссылки
func TestLinkService_DeleteLink_Success(t *testing.T) {
	linkService, linkRepo, cacheRepo := setupTestService()

	input := &models.CreateLinkInput{
		LongURL: "https://example.com/test",
	}
	ctx := context.Background()
	createdLink, err := linkService.CreateLink(ctx, input)
	require.NoError(t, err)

	err = linkService.DeleteLink(ctx, createdLink.Code)
	require.NoError(t, err)

	// Проверяем, что ссылка удалена из кэша
	_, err = cacheRepo.Get(ctx, createdLink.Code)
	assert.Error(t, err)

	// Проверяем, что ссылка удалена из БД
	_, err = linkRepo.GetByCode(ctx, createdLink.Code)
	assert.Error(t, err)
}

// TestLinkService_DeleteLink_NotFound проверяет удаление несуществующей ссылки
func TestLinkService_DeleteLink_NotFound(t *testing.T) {
	linkService, _, _ := setupTestService()

	err := linkService.DeleteLink(context.Background(), "nonexistent")

	assert.ErrorIs(t, err, repository.ErrLinkNotFound)
}

// TestLinkService_GeneratedCodesUnique проверяет генерацию уникальных коротких кодов
func TestLinkService_GeneratedCodesUnique(t *testing.T) {
	linkService, _, _ := setupTestService()

	codes := make(map[string]bool)
	for i := 0; i < 100; i++ {
		input := &models.CreateLinkInput{
			LongURL: fmt.Sprintf("https://example.com/test%d", i),
		}
		link, err := linkService.CreateLink(context.Background(), input)
		require.NoError(t, err)
		assert.Len(t, link.Code, 6, "Длина короткого кода должна быть 6 символов")
		assert.NotContains(t, codes, link.Code, "Короткие коды должны быть уникальными")
		codes[link.Code] = true
	}
}

// TestLinkService_ConcurrentAccess проверяет потокобезопасность при одновременном создании
func TestLinkService_ConcurrentAccess(t *testing.T) {
	linkService, _, _ := setupTestService()

	ctx := context.Background()
	done := make(chan bool, 10)

	for i := 0; i < 10; i++ {
		go func(id int) {
			input := &models.CreateLinkInput{
				LongURL: fmt.Sprintf("https://example.com/test%d", id),
			}
			link, err := linkService.CreateLink(ctx, input)
			assert.NoError(t, err)
			assert.NotNil(t, link)
			done <- true
		}(i)
	}

	for i := 0; i < 10; i++ {
		<-done
	}
}
