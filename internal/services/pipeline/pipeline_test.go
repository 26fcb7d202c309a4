package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/media-relay/internal/cache"
	"github.com/magabrotheeeer/media-relay/internal/config"
	"github.com/magabrotheeeer/media-relay/internal/metrics"
	"github.com/magabrotheeeer/media-relay/internal/models"
	"github.com/magabrotheeeer/media-relay/internal/services/entitlement"
	"github.com/magabrotheeeer/media-relay/internal/services/resolver"
	"github.com/magabrotheeeer/media-relay/internal/services/settings"
	"github.com/magabrotheeeer/media-relay/internal/services/transfer"
	"github.com/magabrotheeeer/media-relay/internal/storage/memory"
)

const (
	userID = int64(42)
	chatID = int64(4242)
	link   = "please get https://terabox.com/s/1abc for me"
)

var t0 = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeMessenger struct {
	mu     sync.Mutex
	nextID int64
	texts  []string
	edits  []string
	videos [][]byte
	upload []transfer.Upload
}

func (f *fakeMessenger) SendText(_ context.Context, _ int64, text string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.texts = append(f.texts, text)
	return f.nextID, nil
}

func (f *fakeMessenger) EditText(_ context.Context, _, _ int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, text)
	return nil
}

func (f *fakeMessenger) SendVideo(_ context.Context, _ int64, u transfer.Upload) error {
	data, err := io.ReadAll(u.Body)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.videos = append(f.videos, data)
	f.upload = append(f.upload, u)
	return nil
}

// said возвращает все тексты, которые увидел пользователь.
func (f *fakeMessenger) said() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append(append([]string(nil), f.texts...), f.edits...)
}

type fixture struct {
	svc         *Service
	store       *memory.Storage
	cache       *cache.Cache
	msgr        *fakeMessenger
	scratch     string
	resolveHits atomic.Int32
	originHits  atomic.Int32
	payload     []byte
	// resolveStatus и resolveSize задают ответ сервиса разрешения.
	resolveStatus atomic.Int32
	resolveSize   atomic.Int64
	// resolveSizeJSON, если задан, подставляется в поле size как есть.
	resolveSizeJSON atomic.Pointer[string]
	// originStall заставляет источник отдать часть файла и ждать отмены.
	originStall atomic.Bool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{payload: []byte(strings.Repeat("frame", 4096))}
	f.resolveStatus.Store(http.StatusOK)
	f.resolveSize.Store(int64(len(f.payload)))

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.originHits.Add(1)
		if f.originStall.Load() {
			_, _ = w.Write(f.payload[:1024])
			w.(http.Flusher).Flush()
			<-r.Context().Done()
			return
		}
		_, _ = w.Write(f.payload)
	}))
	t.Cleanup(origin.Close)

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		f.resolveHits.Add(1)
		if status := int(f.resolveStatus.Load()); status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		var size any = f.resolveSize.Load()
		if raw := f.resolveSizeJSON.Load(); raw != nil {
			size = json.RawMessage(*raw)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"url":  origin.URL + "/v.mp4",
			"name": "holiday.mp4",
			"size": size,
		})
	}))
	t.Cleanup(api.Close)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	c, err := cache.InitServer(context.Background(), config.RedisConnection{AddressRedis: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	m := metrics.New()
	f.store = memory.New()
	settingsSvc := settings.New(f.store, log)
	ent := entitlement.New(f.store, settingsSvc, nil, m, time.UTC, log)
	res := resolver.New(resolver.Config{Endpoint: api.URL, Domains: []string{"terabox.com"}}, nil, log)

	f.scratch = t.TempDir()
	engine, err := transfer.New(transfer.Config{ScratchDir: f.scratch, ChunkSize: 1024, ProgressStep: 5}, res, nil, m, log)
	require.NoError(t, err)

	f.msgr = &fakeMessenger{}
	f.cache = c
	f.svc = New(c, ent, settingsSvc, res, engine, f.msgr, m, log)
	f.svc.now = func() time.Time { return t0 }
	return f
}

func (f *fixture) user(t *testing.T) *models.User {
	t.Helper()
	u, err := f.store.GetUser(context.Background(), userID)
	require.NoError(t, err)
	return u
}

func (f *fixture) assertScratchEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(f.scratch)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestProcess_Delivered(t *testing.T) {
	f := newFixture(t)

	out, err := f.svc.Process(context.Background(), Job{UserID: userID, ChatID: chatID, Text: link})
	require.NoError(t, err)

	assert.NoError(t, out.Err)
	assert.Equal(t, transfer.StageDone, out.Stage)
	assert.NotEmpty(t, out.RunID)
	require.Len(t, f.msgr.videos, 1)
	assert.Equal(t, f.payload, f.msgr.videos[0])
	assert.Equal(t, "holiday.mp4\n\nFree user", f.msgr.upload[0].Caption)
	assert.Contains(t, f.msgr.said(), "Downloads remaining today: 4/5")

	u := f.user(t)
	assert.Equal(t, 1, u.DailyDownloads)
	assert.Equal(t, 1, u.TotalDownloads)
	require.Len(t, u.History, 1)
	assert.Equal(t, "holiday.mp4", u.History[0].MediaName)
	assert.Equal(t, int64(len(f.payload)), u.History[0].ByteSize)
	assert.Equal(t, "https://terabox.com/s/1abc", u.History[0].SourceURL)
	f.assertScratchEmpty(t)
}

func TestProcess_QuotaExceededSkipsResolver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for range 5 {
		out, err := f.svc.Process(ctx, Job{UserID: userID, ChatID: chatID, Text: link})
		require.NoError(t, err)
		require.NoError(t, out.Err)
	}
	require.Equal(t, int32(5), f.resolveHits.Load())

	out, err := f.svc.Process(ctx, Job{UserID: userID, ChatID: chatID, Text: link})
	require.NoError(t, err)
	assert.ErrorIs(t, out.Err, models.ErrQuotaExceeded)
	assert.Equal(t, int32(5), f.resolveHits.Load())
	assert.Contains(t, f.msgr.said(),
		"Daily limit reached (5 videos/day for free users). Upgrade to paid for unlimited downloads!")
	assert.Equal(t, 5, f.user(t).DailyDownloads)
}

func TestProcess_PaidUserUnlimited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.MutateUser(ctx, userID, t0, func(u *models.User) (bool, error) {
		u.Subscription = models.Lifetime()
		u.DailyDownloads = 5
		u.LastDownloadDate = t0
		return true, nil
	})
	require.NoError(t, err)

	out, err := f.svc.Process(ctx, Job{UserID: userID, ChatID: chatID, Text: link})
	require.NoError(t, err)
	require.NoError(t, out.Err)
	assert.Equal(t, "holiday.mp4\n\nPaid user", f.msgr.upload[0].Caption)
	assert.Contains(t, f.msgr.said(), "You have unlimited downloads.")

	u := f.user(t)
	assert.Equal(t, 5, u.DailyDownloads)
	assert.Equal(t, 1, u.TotalDownloads)
}

func TestProcess_ResolverErrorLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	f.resolveStatus.Store(http.StatusInternalServerError)

	out, err := f.svc.Process(context.Background(), Job{UserID: userID, ChatID: chatID, Text: link})
	require.NoError(t, err)

	assert.ErrorIs(t, out.Err, models.ErrResolutionFailed)
	assert.Equal(t, transfer.StageResolving, out.Stage)
	assert.Contains(t, f.msgr.said(), models.DefaultBotSettings().MsgResolutionFailed)
	assert.Zero(t, f.originHits.Load())
	assert.Empty(t, f.msgr.videos)

	u := f.user(t)
	assert.Zero(t, u.DailyDownloads)
	assert.Zero(t, u.TotalDownloads)
	assert.Empty(t, u.History)
	f.assertScratchEmpty(t)
}

func TestProcess_TooLargeNeverFetches(t *testing.T) {
	f := newFixture(t)
	f.resolveSize.Store(2100 * models.BytesPerMB)

	out, err := f.svc.Process(context.Background(), Job{UserID: userID, ChatID: chatID, Text: link})
	require.NoError(t, err)

	assert.ErrorIs(t, out.Err, models.ErrTooLarge)
	assert.Equal(t, transfer.StageSizeCheck, out.Stage)
	assert.Zero(t, f.originHits.Load())
	assert.Contains(t, f.msgr.said(), "Video is too large (2100.0 MB). Maximum allowed size is 2000 MB.")
	assert.Zero(t, f.user(t).DailyDownloads)
	f.assertScratchEmpty(t)
}

func TestProcess_HugeReportedSizeNeverFetches(t *testing.T) {
	f := newFixture(t)
	huge := "1e19"
	f.resolveSizeJSON.Store(&huge)

	out, err := f.svc.Process(context.Background(), Job{UserID: userID, ChatID: chatID, Text: link})
	require.NoError(t, err)

	assert.ErrorIs(t, out.Err, models.ErrTooLarge)
	assert.Equal(t, transfer.StageSizeCheck, out.Stage)
	assert.Equal(t, int64(math.MaxInt64), out.Media.Size)
	assert.Zero(t, f.originHits.Load())
	assert.Empty(t, f.msgr.videos)
	assert.Zero(t, f.user(t).DailyDownloads)
	f.assertScratchEmpty(t)
}

func TestProcess_InterruptedRunNotifiesUser(t *testing.T) {
	f := newFixture(t)
	f.originStall.Store(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		for f.originHits.Load() == 0 {
			time.Sleep(5 * time.Millisecond)
		}
		cancel()
	}()

	out, err := f.svc.Process(ctx, Job{UserID: userID, ChatID: chatID, Text: link})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, transfer.StageFetching, out.Stage)
	assert.Contains(t, f.msgr.said(), models.DefaultBotSettings().MsgGenericError)
	assert.Empty(t, f.msgr.videos)
	assert.Zero(t, f.user(t).DailyDownloads)
	f.assertScratchEmpty(t)

	_, locked, err := f.cache.TryLock(context.Background(), "pipeline:42", time.Minute)
	require.NoError(t, err)
	assert.True(t, locked, "lock must be released after an interrupted run")
}

func TestProcess_InvalidLink(t *testing.T) {
	f := newFixture(t)

	out, err := f.svc.Process(context.Background(), Job{UserID: userID, ChatID: chatID, Text: "https://example.com/video"})
	require.NoError(t, err)

	assert.ErrorIs(t, out.Err, models.ErrInvalidLink)
	assert.Zero(t, f.resolveHits.Load())
	assert.Equal(t, []string{models.DefaultBotSettings().MsgInvalidLink}, f.msgr.said())
}

func TestProcess_OneRunPerUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	token, ok, err := f.cache.TryLock(ctx, "pipeline:42", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	out, err := f.svc.Process(ctx, Job{UserID: userID, ChatID: chatID, Text: link})
	require.NoError(t, err)
	assert.ErrorIs(t, out.Err, models.ErrDownloadInProgress)
	assert.Zero(t, f.resolveHits.Load())
	assert.Equal(t, []string{models.DefaultBotSettings().MsgInProgress}, f.msgr.said())

	require.NoError(t, f.cache.Unlock(ctx, "pipeline:42", token))
	out, err = f.svc.Process(ctx, Job{UserID: userID, ChatID: chatID, Text: link})
	require.NoError(t, err)
	assert.NoError(t, out.Err)
}

type mockEntitlements struct {
	mock.Mock
}

func (m *mockEntitlements) CanDownload(ctx context.Context, userID int64, now time.Time) (entitlement.Decision, error) {
	args := m.Called(ctx, userID, now)
	return args.Get(0).(entitlement.Decision), args.Error(1)
}

func (m *mockEntitlements) CommitDownload(ctx context.Context, userID int64, rec models.DownloadRecord, now time.Time) (*models.User, error) {
	args := m.Called(ctx, userID, rec, now)
	u, _ := args.Get(0).(*models.User)
	return u, args.Error(1)
}

func TestProcess_StoreUnavailable(t *testing.T) {
	f := newFixture(t)
	ent := new(mockEntitlements)
	ent.On("CanDownload", mock.Anything, userID, t0).
		Return(entitlement.Decision{}, errors.New("connection refused"))
	f.svc.ent = ent

	_, err := f.svc.Process(context.Background(), Job{UserID: userID, ChatID: chatID, Text: link})
	require.Error(t, err)

	assert.Zero(t, f.resolveHits.Load())
	assert.Equal(t, []string{models.DefaultBotSettings().MsgGenericError}, f.msgr.said())
	ent.AssertExpectations(t)
	ent.AssertNotCalled(t, "CommitDownload", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	_, locked, err := f.cache.TryLock(context.Background(), "pipeline:42", time.Minute)
	require.NoError(t, err)
	assert.True(t, locked, "lock must be released after a failed run")
}

func TestUserMessage(t *testing.T) {
	cfg := models.DefaultBotSettings()
	assert.Equal(t, cfg.MsgFetchTimeout, UserMessage(cfg, models.ErrFetchTimeout, models.MediaDescriptor{}))
	assert.Equal(t, cfg.MsgResolutionTimeout, UserMessage(cfg, models.ErrResolutionTimeout, models.MediaDescriptor{}))
	assert.Equal(t, cfg.MsgKeyInvalid, UserMessage(cfg, models.ErrKeyInvalidOrUsed, models.MediaDescriptor{}))
	assert.Equal(t, cfg.MsgGenericError, UserMessage(cfg, errors.New("boom"), models.MediaDescriptor{}))
	assert.Equal(t, "Video is too large (2100.0 MB). Maximum allowed size is 2000 MB.",
		UserMessage(cfg, &transfer.Failure{Stage: transfer.StageFetching, Err: models.ErrTooLarge},
			models.MediaDescriptor{Size: 2100 * models.BytesPerMB}))
	assert.Equal(t, cfg.MsgDeliveryFailed,
		UserMessage(cfg, &transfer.Failure{Stage: transfer.StageDelivering, Err: models.ErrDeliveryFailed}, models.MediaDescriptor{}))
}
