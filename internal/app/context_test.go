package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskpilot/internal/config"
)

func TestOpenSQLiteSeedsOnce(t *testing.T) {
	ctx := context.Background()
	workspace := t.TempDir()
	cfg := config.Default()
	cfg.Seed = true

	a, err := Open(ctx, workspace, cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, a.SQLite)
	tasks, err := a.Tasks.List(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	require.NoError(t, a.Close())

	again, err := Open(ctx, workspace, cfg, nil)
	require.NoError(t, err)
	defer again.Close()
	tasks, err = again.Tasks.List(ctx)
	require.NoError(t, err)
	assert.Len(t, tasks, 3)

	evts, err := again.SQLite.LatestEvents(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, evts, 3)
}

func TestOpenMemoryWithoutSeed(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Driver = config.StorageMemory
	a, err := Open(context.Background(), t.TempDir(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()
	assert.Nil(t, a.SQLite)
	tasks, err := a.Tasks.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestSeedRanksProposalFirst(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Driver = config.StorageMemory
	cfg.Seed = true
	a, err := Open(context.Background(), "", cfg, nil)
	require.NoError(t, err)

	calcs, err := a.Tasks.Priorities(context.Background())
	require.NoError(t, err)
	require.Len(t, calcs, 3)
	first, err := a.Tasks.Get(context.Background(), calcs[0].TaskID)
	require.NoError(t, err)
	assert.Equal(t, "Complete project proposal", first.Title)
	assert.Contains(t, calcs[0].Recommendation, "Other tasks depend on this")
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Driver = "redis"
	_, err := Open(context.Background(), t.TempDir(), cfg, nil)
	assert.Error(t, err)
}
