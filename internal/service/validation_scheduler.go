package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SergeiKhy/tinylinks/internal/config"
	"github.com/SergeiKhy/tinylinks/internal/models"
	"github.com/SergeiKhy/tinylinks/internal/repository"
	"go.uber.org/zap"
)

// ValidationScheduler раз в CheckInterval проверяет пачку самых давно
// проверенных ссылок. Размер пачки пересчитывается на каждом тике так,
// чтобы за CheckPeriod каждая ссылка была проверена хотя бы раз:
// batch = ceil(links / ceil(period / interval)). Порядок "самые давние
// первыми" исключает голодание - фронт непроверенных ссылок двигается
// каждым тиком.
type ValidationScheduler interface {
	Start()
	Stop()
	// RunTick выполняет один проход немедленно - под теми же замками, что
	// и тик по таймеру. Если проход уже идёт (в этом процессе или в другом),
	// возвращается ErrTickInFlight. Ошибка store прерывает проход:
	// непройденный остаток не получает last_checked_at и будет выбран
	// следующим тиком первым.
	RunTick(ctx context.Context, now time.Time) (models.TickStats, error)
}

// ErrTickInFlight проход валидации уже выполняется
var ErrTickInFlight = errors.New("проход валидации уже выполняется")

type validationScheduler struct {
	linkRepo  repository.LinkRepository
	validator LinkValidator
	lock      repository.SchedulerLock
	logger    *zap.Logger
	cfg       config.ValidationConfig

	inFlight atomic.Bool // не более одного прохода на процесс
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewValidationScheduler(
	linkRepo repository.LinkRepository,
	validator LinkValidator,
	lock repository.SchedulerLock,
	logger *zap.Logger,
	cfg config.ValidationConfig,
) ValidationScheduler {
	return &validationScheduler{
		linkRepo:  linkRepo,
		validator: validator,
		lock:      lock,
		logger:    logger,
		cfg:       cfg,
	}
}

// Start запускает периодические проходы в фоне
func (s *validationScheduler) Start() {
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.logger.Info("Запуск планировщика валидации",
		zap.Duration("interval", s.cfg.CheckInterval),
		zap.Duration("period", s.cfg.CheckPeriod),
	)

	s.wg.Add(1)
	go s.loop()
}

// Stop останавливает планировщик; текущий проход завершается или
// прерывается, частично пройденная пачка не дозаписывается.
func (s *validationScheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.logger.Info("Остановка планировщика валидации...")
	s.cancel()
	s.wg.Wait()
	s.logger.Info("Планировщик валидации остановлен")
}

func (s *validationScheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-ticker.C:
			s.scheduledTick(now)
		}
	}
}

func (s *validationScheduler) scheduledTick(now time.Time) {
	stats, err := s.RunTick(s.ctx, now)
	switch {
	case errors.Is(err, ErrTickInFlight):
		s.logger.Warn("Предыдущий проход ещё не завершён, тик пропущен")
	case err != nil:
		s.logger.Error("Проход валидации прерван", zap.Error(err))
	default:
		s.logger.Info("Проход валидации завершён",
			zap.Int("checked", stats.Checked),
			zap.Int("valid", stats.Valid),
			zap.Int("invalid", stats.Invalid),
			zap.Int("unknown", stats.Unknown),
		)
	}
}

// RunTick обеспечивает "не более одного прохода": сначала внутри процесса
// (CAS), затем в кластере (замок в Redis). Пересечение проходов - в том
// числе принудительного с плановым - ломало бы инвариант "самые давние
// первыми": один фронт выбирался бы дважды.
func (s *validationScheduler) RunTick(ctx context.Context, now time.Time) (models.TickStats, error) {
	var stats models.TickStats

	if !s.inFlight.CompareAndSwap(false, true) {
		return stats, ErrTickInFlight
	}
	defer s.inFlight.Store(false)

	// TTL замка равен интервалу: замок упавшего процесса истечёт к
	// следующему тику сам. Живой долгий проход продлевает его через
	// keepLockAlive.
	ttl := s.cfg.CheckInterval
	acquired, err := s.lock.TryAcquire(ctx, ttl)
	if err != nil {
		return stats, fmt.Errorf("не удалось захватить замок планировщика: %w", err)
	}
	if !acquired {
		return stats, ErrTickInFlight
	}
	stopKeepAlive := s.keepLockAlive(ttl)
	defer func() {
		stopKeepAlive()
		if rerr := s.lock.Release(context.Background()); rerr != nil {
			s.logger.Warn("Не удалось снять замок планировщика", zap.Error(rerr))
		}
	}()

	return s.tick(ctx, now)
}

// keepLockAlive продлевает TTL замка, пока идёт проход: большая популяция
// проверяется дольше интервала, и без продления замок истёк бы посреди
// прохода, впустив второй процесс
func (s *validationScheduler) keepLockAlive(ttl time.Duration) func() {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				refreshCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				ok, err := s.lock.Refresh(refreshCtx, ttl)
				cancel()
				if err != nil {
					s.logger.Warn("Не удалось продлить замок планировщика", zap.Error(err))
				} else if !ok {
					s.logger.Warn("Замок планировщика больше не наш")
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func (s *validationScheduler) tick(ctx context.Context, now time.Time) (models.TickStats, error) {
	var stats models.TickStats

	total, err := s.linkRepo.Count(ctx)
	if err != nil {
		return stats, err
	}
	if total == 0 {
		return stats, nil
	}

	batchSize := batchSize(total, s.cfg.CheckPeriod, s.cfg.CheckInterval)

	links, err := s.linkRepo.OldestChecked(ctx, batchSize)
	if err != nil {
		return stats, err
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, s.cfg.MaxConcurrentChecks)
	)

	for _, link := range links {
		select {
		case <-ctx.Done():
			// Остановка: остаток пачки не трогаем, его дата проверки не
			// сдвинута и следующий проход выберет его первым
			wg.Wait()
			return stats, ctx.Err()
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(link *models.Link) {
			defer wg.Done()
			defer func() { <-sem }()

			result := s.validator.Check(ctx, link.LongURL)

			// Завершённая проверка записывается даже при остановке:
			// отдельный контекст, чтобы не бросить результат на полпути
			commitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			// Неудачная проверка тоже двигает last_checked_at, иначе
			// мёртвый хост проверялся бы каждый тик
			if err := s.linkRepo.MarkChecked(commitCtx, link.ID, result.Status, result.Reason, now); err != nil {
				s.logger.Warn("Не удалось записать результат проверки",
					zap.String("code", link.Code),
					zap.Error(err),
				)
				return
			}

			mu.Lock()
			stats.Checked++
			switch result.Status {
			case models.StatusValid:
				stats.Valid++
			case models.StatusInvalid:
				stats.Invalid++
			default:
				stats.Unknown++
			}
			mu.Unlock()
		}(link)
	}

	wg.Wait()
	return stats, nil
}

// batchSize считает размер пачки одного тика: ceil(total / ticksPerPeriod),
// где ticksPerPeriod = ceil(period / interval). При interval >= period
// вырождается в полную пачку за тик.
func batchSize(total int64, period, interval time.Duration) int {
	ticksPerPeriod := int64((period + interval - 1) / interval)
	if ticksPerPeriod < 1 {
		ticksPerPeriod = 1
	}
	return int((total + ticksPerPeriod - 1) / ticksPerPeriod)
}
