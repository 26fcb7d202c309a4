package transfer

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/magabrotheeeer/media-relay/internal/lib/sl"
)

// Progress — событие хода передачи. Percent равен -1, если размер неизвестен.
type Progress struct {
	Stage   Stage
	Percent int
	Bytes   int64
	Total   int64
}

// Observer получает промежуточные события. Его ошибки не прерывают передачу.
type Observer interface {
	OnStage(ctx context.Context, stage Stage, media MediaInfo) error
	OnProgress(ctx context.Context, p Progress) error
}

// MediaInfo — то, что известно о файле на текущей стадии.
type MediaInfo struct {
	Name string
	Size int64
}

// nopObserver используется, когда наблюдатель не задан.
type nopObserver struct{}

func (nopObserver) OnStage(context.Context, Stage, MediaInfo) error { return nil }
func (nopObserver) OnProgress(context.Context, Progress) error     { return nil }

// throttle решает, какие события прогресса отправлять: не чаще чем раз в
// step процентов и не чаще, чем позволяет limiter.
type throttle struct {
	step    int
	last    int
	limiter *rate.Limiter
}

func newThrottle(step int, interval time.Duration) *throttle {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &throttle{step: step, last: -1, limiter: rate.NewLimiter(limit, 1)}
}

func (t *throttle) allow(p Progress) bool {
	if p.Percent >= 0 {
		if t.last >= 0 && p.Percent < t.last+t.step {
			return false
		}
		if !t.limiter.Allow() {
			return false
		}
		t.last = p.Percent - p.Percent%t.step
		return true
	}
	return t.limiter.Allow()
}

// reporter доставляет события наблюдателю в отдельной горутине. Если
// наблюдатель не успевает, устаревшее событие заменяется новым.
type reporter struct {
	ch   chan Progress
	done chan struct{}
}

func startReporter(ctx context.Context, obs Observer, log *slog.Logger) *reporter {
	r := &reporter{ch: make(chan Progress, 1), done: make(chan struct{})}
	go func() {
		defer close(r.done)
		for p := range r.ch {
			if err := obs.OnProgress(ctx, p); err != nil {
				log.Debug("progress report dropped", sl.Err(err))
			}
		}
	}()
	return r
}

func (r *reporter) offer(p Progress) {
	select {
	case r.ch <- p:
		return
	default:
	}
	select {
	case <-r.ch:
	default:
	}
	select {
	case r.ch <- p:
	default:
	}
}

func (r *reporter) stop() {
	close(r.ch)
	<-r.done
}
