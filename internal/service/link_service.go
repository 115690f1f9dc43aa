package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/SergeiKhy/tinylinks/internal/config"
	"github.com/SergeiKhy/tinylinks/internal/models"
	"github.com/SergeiKhy/tinylinks/internal/repository"
	"go.uber.org/zap"
)

// Ошибки сервиса
var (
	ErrInvalidURL  = errors.New("невалидный URL")
	ErrInvalidCode = errors.New("невалидный кастомный код")
	ErrCodeTaken   = errors.New("кастомный код уже занят")
)

const (
	cacheTTL      = 24 * time.Hour
	createRetries = 3  // повторные вставки при проигранной гонке за код
	maxCodeLength = 32 // лимит длины кастомного кода
)

var (
	urlPattern  = regexp.MustCompile(`^https?://[^\s]+$`)
	codePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// LinkService интерфейс сервиса ссылок
type LinkService interface {
	CreateLink(ctx context.Context, input *models.CreateLinkInput) (*models.Link, error)
	GetLink(ctx context.Context, code string) (*models.Link, error)
	// Resolve возвращает ссылку по коду, атомарно увеличив счётчик кликов.
	// Статус валидации редирект не блокирует.
	Resolve(ctx context.Context, code string) (*models.Link, error)
	DeleteLink(ctx context.Context, code string) error
}

// linkService реализация сервиса ссылок
type linkService struct {
	linkRepo  repository.LinkRepository
	cacheRepo repository.CacheRepository
	generator *CodeGenerator
	validator LinkValidator
	logger    *zap.Logger
	cfg       config.ValidationConfig
}

// NewLinkService создаёт новый экземпляр сервиса
func NewLinkService(
	linkRepo repository.LinkRepository,
	cacheRepo repository.CacheRepository,
	validator LinkValidator,
	logger *zap.Logger,
	cfg config.ValidationConfig,
) LinkService {
	return &linkService{
		linkRepo:  linkRepo,
		cacheRepo: cacheRepo,
		generator: NewCodeGenerator(linkRepo.CodeExists),
		validator: validator,
		logger:    logger,
		cfg:       cfg,
	}
}

// CreateLink создаёт новую короткую ссылку
func (s *linkService) CreateLink(ctx context.Context, input *models.CreateLinkInput) (*models.Link, error) {
	if !urlPattern.MatchString(input.LongURL) {
		return nil, ErrInvalidURL
	}

	custom := input.CustomCode != nil && *input.CustomCode != ""
	if custom {
		if err := validateCustomCode(*input.CustomCode); err != nil {
			return nil, err
		}
	}

	for attempt := 0; attempt < createRetries; attempt++ {
		code := ""
		if custom {
			code = *input.CustomCode
		} else {
			generated, err := s.generateCode(ctx)
			if err != nil {
				return nil, err
			}
			code = generated
		}

		link := &models.Link{
			Code:      code,
			LongURL:   input.LongURL,
			OwnerID:   input.OwnerID,
			Status:    models.StatusUnknown,
			CreatedAt: time.Now(),
		}

		err := s.linkRepo.Create(ctx, link)
		if err == nil {
			if cerr := s.cacheRepo.Set(ctx, link.Code, link, cacheTTL); cerr != nil {
				s.logger.Warn("Не удалось закэшировать ссылку", zap.String("code", link.Code), zap.Error(cerr))
			}
			if s.cfg.Enabled {
				// Первая проверка живости - вне пути запроса
				go s.probeNewLink(link)
			}
			return link, nil
		}

		if errors.Is(err, repository.ErrCodeExists) {
			if custom {
				return nil, ErrCodeTaken
			}
			// Проиграна гонка за сгенерированный код - новая попытка
			continue
		}
		return nil, err
	}

	return nil, ErrCodesExhausted
}

// generateCode подбирает свободный код; при исчерпании попыток один раз
// удлиняет код на символ
func (s *linkService) generateCode(ctx context.Context) (string, error) {
	code, err := s.generator.Generate(ctx, s.cfg.CodeLength, s.cfg.MaxAttempts)
	if errors.Is(err, ErrCodesExhausted) {
		s.logger.Warn("Свободные коды исчерпаны, пробуем длину побольше",
			zap.Int("length", s.cfg.CodeLength+1))
		code, err = s.generator.Generate(ctx, s.cfg.CodeLength+1, s.cfg.MaxAttempts)
	}
	if err != nil {
		return "", err
	}
	return code, nil
}

// probeNewLink проверяет свежесозданную ссылку, чтобы та не ждала полного
// периода фоновой валидации
func (s *linkService) probeNewLink(link *models.Link) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout+5*time.Second)
	defer cancel()

	result := s.validator.Check(ctx, link.LongURL)
	if err := s.linkRepo.MarkChecked(ctx, link.ID, result.Status, result.Reason, time.Now()); err != nil {
		s.logger.Warn("Не удалось записать результат первой проверки",
			zap.String("code", link.Code),
			zap.Error(err),
		)
		return
	}
	if cerr := s.cacheRepo.Delete(ctx, link.Code); cerr != nil {
		s.logger.Warn("Не удалось сбросить кэш ссылки", zap.String("code", link.Code), zap.Error(cerr))
	}
}

// GetLink получает ссылку по короткому коду (сначала из кэша, затем из БД)
func (s *linkService) GetLink(ctx context.Context, code string) (*models.Link, error) {
	link, err := s.cacheRepo.Get(ctx, code)
	if err == nil {
		return link, nil
	}

	link, err = s.linkRepo.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	if cerr := s.cacheRepo.Set(ctx, code, link, cacheTTL); cerr != nil {
		s.logger.Warn("Не удалось закэшировать ссылку", zap.String("code", code), zap.Error(cerr))
	}

	return link, nil
}

// Resolve инкремент и чтение выполняются одним запросом к БД, поэтому кэш
// здесь не используется: потерянных обновлений счётчика не бывает даже при
// конкурентных резолвах одного кода
func (s *linkService) Resolve(ctx context.Context, code string) (*models.Link, error) {
	link, err := s.linkRepo.ResolveAndCount(ctx, code)
	if err != nil {
		return nil, err
	}
	return link, nil
}

// DeleteLink удаляет ссылку по короткому коду
func (s *linkService) DeleteLink(ctx context.Context, code string) error {
	if cerr := s.cacheRepo.Delete(ctx, code); cerr != nil {
		s.logger.Warn("Не удалось сбросить кэш ссылки", zap.String("code", code), zap.Error(cerr))
	}
	return s.linkRepo.Delete(ctx, code)
}

// validateCustomCode проверяет формат кастомного кода (1-32 символа,
// буквы, цифры, '-' и '_')
func validateCustomCode(code string) error {
	if len(code) < 1 || len(code) > maxCodeLength {
		return ErrInvalidCode
	}
	if !codePattern.MatchString(code) {
		return fmt.Errorf("%w: недопустимые символы", ErrInvalidCode)
	}
	return nil
}
