package repo_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskpilot/internal/db"
	"taskpilot/internal/domain"
	"taskpilot/internal/migrate"
	"taskpilot/internal/repo"
)

var base = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

func newSQLite(t *testing.T) repo.SQLite {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	version, err := migrate.Migrate(context.Background(), conn)
	require.NoError(t, err)
	require.Equal(t, 2, version)
	r := repo.NewSQLite(conn)
	r.Events.Now = func() time.Time { return base }
	return r
}

func backends(t *testing.T) map[string]repo.Repository {
	return map[string]repo.Repository{
		"sqlite": newSQLite(t),
		"memory": repo.NewMemory(),
	}
}

func sample(id string, offset time.Duration, deps ...string) domain.Task {
	return domain.Task{
		ID:              id,
		Title:           "Task " + id,
		Description:     "about " + id,
		Deadline:        base.Add(72 * time.Hour),
		EstimatedEffort: 3,
		Impact:          7.5,
		Dependencies:    deps,
		CreatedAt:       base.Add(offset),
	}
}

func TestRepositoryContract(t *testing.T) {
	for name, r := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, r.Insert(ctx, sample("b", 2*time.Minute, "a", "ghost")))
			require.NoError(t, r.Insert(ctx, sample("a", time.Minute)))
			assert.ErrorIs(t, r.Insert(ctx, sample("a", time.Minute)), repo.ErrExists)

			got, err := r.Get(ctx, "b")
			require.NoError(t, err)
			assert.Equal(t, "Task b", got.Title)
			assert.Equal(t, []string{"a", "ghost"}, got.Dependencies)
			assert.True(t, got.Deadline.Equal(base.Add(72*time.Hour)))
			assert.Equal(t, 7.5, got.Impact)
			assert.Nil(t, got.CompletedAt)

			a, err := r.Get(ctx, "a")
			require.NoError(t, err)
			assert.NotNil(t, a.Dependencies)
			assert.Empty(t, a.Dependencies)

			list, err := r.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "a", list[0].ID)
			assert.Equal(t, "b", list[1].ID)

			done := base.Add(time.Hour)
			got.CompletedAt = &done
			got.Dependencies = []string{"a"}
			got.Title = "Renamed"
			require.NoError(t, r.Update(ctx, got))
			updated, err := r.Get(ctx, "b")
			require.NoError(t, err)
			assert.Equal(t, "Renamed", updated.Title)
			assert.Equal(t, []string{"a"}, updated.Dependencies)
			require.NotNil(t, updated.CompletedAt)
			assert.True(t, updated.CompletedAt.Equal(done))
			assert.True(t, updated.CreatedAt.Equal(base.Add(2*time.Minute)))

			assert.ErrorIs(t, r.Update(ctx, sample("nope", 0)), repo.ErrNotFound)

			require.NoError(t, r.Delete(ctx, "a"))
			assert.ErrorIs(t, r.Delete(ctx, "a"), repo.ErrNotFound)
			_, err = r.Get(ctx, "a")
			assert.ErrorIs(t, err, repo.ErrNotFound)

			remaining, err := r.Get(ctx, "b")
			require.NoError(t, err)
			assert.Equal(t, []string{"a"}, remaining.Dependencies, "dangling dependency survives delete")
		})
	}
}

func TestRepositoryReturnsCopies(t *testing.T) {
	for name, r := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			in := sample("x", 0, "y")
			require.NoError(t, r.Insert(ctx, in))
			in.Dependencies[0] = "mutated"

			got, err := r.Get(ctx, "x")
			require.NoError(t, err)
			assert.Equal(t, []string{"y"}, got.Dependencies)

			got.Dependencies[0] = "mutated-again"
			again, err := r.Get(ctx, "x")
			require.NoError(t, err)
			assert.Equal(t, []string{"y"}, again.Dependencies)
		})
	}
}

func TestSQLiteRecordsEvents(t *testing.T) {
	r := newSQLite(t)
	ctx := context.Background()
	require.NoError(t, r.Insert(ctx, sample("e1", 0)))
	task, err := r.Get(ctx, "e1")
	require.NoError(t, err)
	require.NoError(t, r.Update(ctx, task))
	require.NoError(t, r.Delete(ctx, "e1"))

	evts, err := r.LatestEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, evts, 3)
	assert.Equal(t, "task.deleted", evts[0].Type)
	assert.Equal(t, "task.updated", evts[1].Type)
	assert.Equal(t, "task.created", evts[2].Type)
	assert.Equal(t, "e1", evts[2].EntityID)
	assert.JSONEq(t, `{"title":"Task e1"}`, evts[2].Payload)
	assert.Equal(t, base.Format(time.RFC3339), evts[0].TS)
}

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()
	ctx := context.Background()
	first, err := migrate.Migrate(ctx, conn)
	require.NoError(t, err)
	second, err := migrate.Migrate(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestListOrdersBySubSecondCreatedAt(t *testing.T) {
	for name, r := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, r.Insert(ctx, sample("a-second", 500*time.Millisecond)))
			require.NoError(t, r.Insert(ctx, sample("z-first", 0)))
			require.NoError(t, r.Insert(ctx, sample("m-third", time.Second+time.Nanosecond)))
			require.NoError(t, r.Insert(ctx, sample("b-tied", 0)))

			all, err := r.List(ctx)
			require.NoError(t, err)
			var ids []string
			for _, task := range all {
				ids = append(ids, task.ID)
			}
			assert.Equal(t, []string{"b-tied", "z-first", "a-second", "m-third"}, ids)
			assert.True(t, all[2].CreatedAt.Equal(base.Add(500*time.Millisecond)))
		})
	}
}
