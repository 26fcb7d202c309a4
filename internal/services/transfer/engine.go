// Package transfer ведёт одну передачу файла по стадиям
// Resolving → SizeCheck → Fetching → Delivering → Done: разрешает ссылку,
// проверяет размер до загрузки, потоково скачивает файл во временный
// каталог и потоково отдаёт его в чат. Временный файл удаляется на любом
// пути выхода. Права пользователя движок не трогает.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/media-relay/internal/lib/sl"
	"github.com/magabrotheeeer/media-relay/internal/metrics"
	"github.com/magabrotheeeer/media-relay/internal/models"
)

// DefaultChunkSize — размер буфера при потоковой загрузке.
const DefaultChunkSize = 8192

// Resolver превращает ссылку пользователя в описание файла.
type Resolver interface {
	Resolve(ctx context.Context, rawURL string) (models.MediaDescriptor, error)
}

// Upload — файл, передаваемый в чат.
type Upload struct {
	Name              string
	Size              int64
	Caption           string
	Body              io.Reader
	SupportsStreaming bool
}

// Sink принимает поток файла. Реализация привязана к конкретному чату.
type Sink interface {
	SendVideo(ctx context.Context, u Upload) error
}

// Config — параметры движка.
type Config struct {
	ScratchDir       string
	ChunkSize        int
	ProgressStep     int
	ProgressInterval time.Duration
}

// Limits — ограничения из настроек бота, читаются на каждый запуск.
type Limits struct {
	MaxBytes int64
	Timeout  time.Duration
}

// Request — один запуск передачи.
type Request struct {
	Link     string
	Limits   Limits
	Sink     Sink
	Caption  func(md models.MediaDescriptor) string
	Observer Observer
}

// Result — что удалось узнать и передать. Media заполняется после разрешения
// ссылки и в том числе при ошибке на последующих стадиях.
type Result struct {
	Media models.MediaDescriptor
	Bytes int64
}

// Engine выполняет передачи. Безопасен для одновременного использования.
type Engine struct {
	cfg        Config
	resolver   Resolver
	httpClient *http.Client
	metrics    *metrics.Metrics
	log        *slog.Logger
}

// New создаёт Engine и каталог для временных файлов.
func New(cfg Config, resolver Resolver, httpClient *http.Client, m *metrics.Metrics, log *slog.Logger) (*Engine, error) {
	const op = "transfer.New"
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ProgressStep <= 0 {
		cfg.ProgressStep = 5
	}
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = filepath.Join(os.TempDir(), "media-relay")
	}
	if err := os.MkdirAll(cfg.ScratchDir, 0o750); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Engine{
		cfg:        cfg,
		resolver:   resolver,
		httpClient: httpClient,
		metrics:    m,
		log:        log,
	}, nil
}

// Run проводит запрос через все стадии. Ошибка всегда имеет тип *Failure.
func (e *Engine) Run(ctx context.Context, req Request) (Result, error) {
	obs := req.Observer
	if obs == nil {
		obs = nopObserver{}
	}
	var res Result

	e.stage(ctx, obs, StageResolving, MediaInfo{})
	md, err := e.resolver.Resolve(ctx, req.Link)
	if err != nil {
		return res, fail(StageResolving, err)
	}
	res.Media = md

	e.stage(ctx, obs, StageSizeCheck, MediaInfo{Name: md.Name, Size: md.Size})
	if err := CheckSize(md.Size, req.Limits.MaxBytes); err != nil {
		return res, fail(StageSizeCheck, err)
	}

	e.stage(ctx, obs, StageFetching, MediaInfo{Name: md.Name, Size: md.Size})
	scratch, err := e.fetch(ctx, md, req.Limits, obs)
	if err != nil {
		if errors.Is(err, models.ErrTooLarge) && scratch.size > res.Media.Size {
			res.Media.Size = scratch.size
		}
		return res, fail(StageFetching, err)
	}
	defer e.remove(scratch.path)
	res.Bytes = scratch.size

	e.stage(ctx, obs, StageDelivering, MediaInfo{Name: md.Name, Size: scratch.size})
	caption := ""
	if req.Caption != nil {
		caption = req.Caption(md)
	}
	if err := e.deliver(ctx, scratch, caption, req.Limits.Timeout, req.Sink); err != nil {
		return res, fail(StageDelivering, err)
	}
	e.metrics.DeliveredBytes.Observe(float64(scratch.size))

	e.stage(ctx, obs, StageDone, MediaInfo{Name: md.Name, Size: scratch.size})
	return res, nil
}

// CheckSize возвращает models.ErrTooLarge, если известный размер превышает предел.
// Нулевой размер считается неизвестным.
func CheckSize(size, maxBytes int64) error {
	if maxBytes > 0 && size > maxBytes {
		return models.ErrTooLarge
	}
	return nil
}

func (e *Engine) stage(ctx context.Context, obs Observer, stage Stage, info MediaInfo) {
	if err := obs.OnStage(ctx, stage, info); err != nil {
		e.log.Debug("stage report dropped", slog.String("stage", string(stage)), sl.Err(err))
	}
}

type scratchFile struct {
	path string
	name string
	size int64
}

// fetch скачивает файл во временный каталог. При любой ошибке файл удаляется.
// При models.ErrTooLarge размер в scratchFile равен наблюдённому: Content-Length
// или число байт, полученных до превышения предела.
func (e *Engine) fetch(ctx context.Context, md models.MediaDescriptor, limits Limits, obs Observer) (scratchFile, error) {
	fetchCtx, cancel := withTimeout(ctx, limits.Timeout)
	defer cancel()

	name := SanitizeName(md.Name, "video.mp4")
	path := filepath.Join(e.cfg.ScratchDir, uuid.NewString()+"-"+name)
	sf := scratchFile{path: path, name: name}

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, md.DirectURL, nil)
	if err != nil {
		return sf, fmt.Errorf("%w: %s", models.ErrFetchFailed, err.Error())
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return sf, classify(ctx, err, models.ErrFetchTimeout, models.ErrFetchFailed)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return sf, fmt.Errorf("%w: unexpected status %d", models.ErrFetchFailed, resp.StatusCode)
	}

	total := md.Size
	if resp.ContentLength > 0 {
		total = resp.ContentLength
	}
	if err := CheckSize(total, limits.MaxBytes); err != nil {
		sf.size = total
		return sf, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return sf, fmt.Errorf("%w: %s", models.ErrFetchFailed, err.Error())
	}

	rep := startReporter(ctx, obs, e.log)
	n, copyErr := e.copyChunks(f, resp.Body, total, limits.MaxBytes, rep)
	rep.stop()
	closeErr := f.Close()
	sf.size = n

	switch {
	case copyErr != nil && errors.Is(copyErr, models.ErrTooLarge):
		err = copyErr
	case copyErr != nil:
		err = classify(ctx, copyErr, models.ErrFetchTimeout, models.ErrFetchFailed)
	case closeErr != nil:
		err = fmt.Errorf("%w: %s", models.ErrFetchFailed, closeErr.Error())
	}
	if err != nil {
		e.remove(path)
		return sf, err
	}
	return sf, nil
}

// copyChunks копирует тело ответа блоками, считая байты и сообщая прогресс.
func (e *Engine) copyChunks(dst io.Writer, src io.Reader, total, maxBytes int64, rep *reporter) (int64, error) {
	buf := make([]byte, e.cfg.ChunkSize)
	th := newThrottle(e.cfg.ProgressStep, e.cfg.ProgressInterval)
	var written int64
	for {
		nr, rerr := src.Read(buf)
		if nr > 0 {
			if maxBytes > 0 && written+int64(nr) > maxBytes {
				return written + int64(nr), models.ErrTooLarge
			}
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			p := Progress{Stage: StageFetching, Percent: -1, Bytes: written, Total: total}
			if total > 0 {
				p.Percent = int(min(written*100/total, 100))
			}
			if th.allow(p) {
				rep.offer(p)
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

// deliver отдаёт файл в sink с таймаутом.
func (e *Engine) deliver(ctx context.Context, sf scratchFile, caption string, timeout time.Duration, sink Sink) error {
	deliverCtx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	f, err := os.Open(sf.path)
	if err != nil {
		return fmt.Errorf("%w: %s", models.ErrDeliveryFailed, err.Error())
	}
	defer func() {
		_ = f.Close()
	}()

	err = sink.SendVideo(deliverCtx, Upload{
		Name:              sf.name,
		Size:              sf.size,
		Caption:           caption,
		Body:              f,
		SupportsStreaming: true,
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s", models.ErrDeliveryFailed, err.Error())
	}
	return nil
}

// remove удаляет временный файл. Ошибки только логируются.
func (e *Engine) remove(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		e.log.Warn("failed to remove scratch file", slog.String("path", path), sl.Err(err))
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// classify отличает собственный таймаут стадии от прочих ошибок.
// Отмена внешнего контекста возвращается как есть.
func classify(parent context.Context, err, timeoutKind, failKind error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return timeoutKind
	}
	return fmt.Errorf("%w: %s", failKind, err.Error())
}
