package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"task-timer/internal/config"
	"task-timer/internal/domain"
)

func TestOpenStore_SQLite(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Defaults()
	cfg.Store.SQLitePath = filepath.Join(t.TempDir(), "nested", "timer.db")

	store, err := OpenStore(context.Background(), log, cfg)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.PutTask(ctx, domain.Task{ID: "t1", UserID: "u1", Name: "Seeded"}))
	task, err := store.FindOwnedTask(ctx, "t1", "u1")
	require.NoError(t, err)
	assert.Equal(t, "Seeded", task.Name)
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	cfg := config.Defaults()
	cfg.Store.Driver = "postgres"
	_, err := OpenStore(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)), cfg)
	assert.ErrorContains(t, err, "unknown store driver")
}

func TestNew_RequiresSecret(t *testing.T) {
	cfg := config.Defaults()
	cfg.Store.SQLitePath = filepath.Join(t.TempDir(), "timer.db")
	_, err := New(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)), cfg)
	assert.ErrorContains(t, err, "JWT_SECRET")
}
