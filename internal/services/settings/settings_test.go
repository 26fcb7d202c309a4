package settings

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/media-relay/internal/models"
	"github.com/magabrotheeeer/media-relay/internal/storage/memory"
)

type StoreMock struct{ mock.Mock }

func (m *StoreMock) Settings(ctx context.Context) (map[string]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]string), args.Error(1)
}

func (m *StoreMock) SetSetting(ctx context.Context, key, value string) error {
	return m.Called(ctx, key, value).Error(0)
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestService_GetDefaults(t *testing.T) {
	svc := New(memory.New(), newLogger())

	cfg, err := svc.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.DefaultBotSettings(), cfg)
	assert.Equal(t, 5, cfg.FreeDailyLimit)
	assert.Equal(t, 2000, cfg.MaxDeliverableSizeMB)
	assert.Equal(t, 300, cfg.TransferTimeoutSeconds)
}

func TestService_SetIsVisibleImmediately(t *testing.T) {
	svc := New(memory.New(), newLogger())
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, "free_daily_limit", "3"))
	require.NoError(t, svc.Set(ctx, "bot_name", "Relay"))

	cfg, err := svc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.FreeDailyLimit)
	assert.Equal(t, "Relay", cfg.BotName)
}

func TestService_SetErrors(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr error
	}{
		{name: "unknown key", key: "nope", value: "1", wantErr: models.ErrUnknownSetting},
		{name: "not an integer", key: "free_daily_limit", value: "five", wantErr: models.ErrInvalidSetting},
		{name: "negative limit", key: "free_daily_limit", value: "-1", wantErr: models.ErrInvalidSetting},
		{name: "zero size", key: "max_deliverable_size_mb", value: "0", wantErr: models.ErrInvalidSetting},
		{name: "empty template", key: "msg_too_large", value: "", wantErr: models.ErrInvalidSetting},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &StoreMock{}
			store.On("Settings", mock.Anything).Return(map[string]string{}, nil)
			svc := New(store, newLogger())

			err := svc.Set(context.Background(), tt.key, tt.value)
			assert.ErrorIs(t, err, tt.wantErr)
			store.AssertNotCalled(t, "SetSetting", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestService_GetSkipsCorruptValues(t *testing.T) {
	store := &StoreMock{}
	store.On("Settings", mock.Anything).Return(map[string]string{
		"free_daily_limit": "garbage",
		"legacy_key":       "x",
		"owner_username":   "boss",
	}, nil)
	svc := New(store, newLogger())

	cfg, err := svc.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.FreeDailyLimit)
	assert.Equal(t, "boss", cfg.OwnerUsername)
}

func TestService_StoreError(t *testing.T) {
	store := &StoreMock{}
	store.On("Settings", mock.Anything).Return(nil, errors.New("db down"))
	svc := New(store, newLogger())

	_, err := svc.Get(context.Background())
	assert.Error(t, err)
	assert.Error(t, svc.Set(context.Background(), "bot_name", "x"))
}

func TestService_List(t *testing.T) {
	svc := New(memory.New(), newLogger())
	entries, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, len(Keys()))

	byKey := map[string]string{}
	for _, e := range entries {
		byKey[e.Key] = e.Value
	}
	assert.Equal(t, "5", byKey["free_daily_limit"])
	assert.Contains(t, Keys(), "transfer_timeout_seconds")
}

func TestRender(t *testing.T) {
	got := Render("Video is too large ({size_mb} MB). Maximum allowed size is {limit_mb} MB.",
		map[string]string{"size_mb": "2100.5", "limit_mb": "2000"})
	assert.Equal(t, "Video is too large (2100.5 MB). Maximum allowed size is 2000 MB.", got)
	assert.Equal(t, "{x}", Render("{x}", nil))
}
