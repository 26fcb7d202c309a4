package storage

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/media-relay/internal/config"
	"github.com/magabrotheeeer/media-relay/internal/storage/memory"
)

func TestOpen_Memory(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := Open(context.Background(), &config.Config{StorageDriver: config.StorageMemory}, true, log)
	require.NoError(t, err)
	assert.IsType(t, &memory.Storage{}, s)
	assert.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, s.Close())
}

func TestOpen_UnknownDriver(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := Open(context.Background(), &config.Config{StorageDriver: "sqlite"}, true, log)
	assert.ErrorContains(t, err, "unknown driver")
}
