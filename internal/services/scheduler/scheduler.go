// Package scheduler заранее применяет правила, которые движок прав и так
// применяет лениво: обнуление дневных счётчиков в полночь и снятие
// истёкших подписок. Результат совпадает с ленивым путём.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/media-relay/internal/lib/day"
	"github.com/magabrotheeeer/media-relay/internal/lib/sl"
)

// DefaultSweepInterval — период проверки истёкших подписок.
const DefaultSweepInterval = 10 * time.Minute

// Engine — операции движка прав для массовой обработки.
type Engine interface {
	ResetDailyQuotas(ctx context.Context, now time.Time) (int64, error)
	ExpireSubscriptions(ctx context.Context, now time.Time) (int, error)
}

// Service запускает обработку по расписанию.
type Service struct {
	engine Engine
	loc    *time.Location
	sweep  time.Duration
	log    *slog.Logger
	now    func() time.Time
}

// New создаёт Service. Полночь считается в часовом поясе loc.
func New(engine Engine, loc *time.Location, sweep time.Duration, log *slog.Logger) *Service {
	if loc == nil {
		loc = time.Local
	}
	if sweep <= 0 {
		sweep = DefaultSweepInterval
	}
	return &Service{
		engine: engine,
		loc:    loc,
		sweep:  sweep,
		log:    log,
		now:    time.Now,
	}
}

// Run выполняет обе задачи сразу, затем по расписанию до отмены ctx.
func (s *Service) Run(ctx context.Context) error {
	s.log.Info("scheduler started",
		slog.String("location", s.loc.String()),
		slog.Duration("sweep_interval", s.sweep))

	s.ExpireSubscriptions(ctx)
	s.ResetDailyQuotas(ctx)

	midnight := time.NewTimer(s.untilMidnight())
	defer midnight.Stop()
	ticker := time.NewTicker(s.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.ExpireSubscriptions(ctx)
		case <-midnight.C:
			s.ResetDailyQuotas(ctx)
			midnight.Reset(s.untilMidnight())
		}
	}
}

// ResetDailyQuotas обнуляет счётчики всех пользователей, у которых записана другая дата.
func (s *Service) ResetDailyQuotas(ctx context.Context) {
	n, err := s.engine.ResetDailyQuotas(ctx, s.now())
	if err != nil {
		s.log.Error("failed to reset daily quotas", sl.Err(err))
		return
	}
	s.log.Info("daily quotas reset", slog.Int64("users", n))
}

// ExpireSubscriptions снимает истёкшие подписки.
func (s *Service) ExpireSubscriptions(ctx context.Context) {
	n, err := s.engine.ExpireSubscriptions(ctx, s.now())
	if err != nil {
		s.log.Error("failed to expire subscriptions", sl.Err(err))
		return
	}
	if n > 0 {
		s.log.Info("subscriptions expired", slog.Int("users", n))
	}
}

func (s *Service) untilMidnight() time.Duration {
	now := s.now().In(s.loc)
	return day.NextMidnight(now).Sub(now)
}
