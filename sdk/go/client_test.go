package taskpilotsdk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskpilot/internal/repo"
	"taskpilot/internal/server"
	"taskpilot/internal/service"
)

func newClient(t *testing.T) *Client {
	t.Helper()
	handler, err := server.New(server.Config{Tasks: service.New(repo.NewMemory(), nil)})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL)
}

func ptr[T any](v T) *T { return &v }

func TestClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)

	first, err := c.CreateTask(ctx, TaskInput{
		Title:           ptr("Complete project proposal"),
		Description:     ptr("Q1"),
		Deadline:        ptr(time.Now().Add(48 * time.Hour)),
		EstimatedEffort: ptr(5.0),
		Impact:          ptr(9.0),
	})
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)

	second, err := c.CreateTask(ctx, TaskInput{
		Title:           ptr("Review team feedback"),
		Description:     ptr("sprint"),
		Deadline:        ptr(time.Now().Add(7 * 24 * time.Hour)),
		EstimatedEffort: ptr(3.0),
		Impact:          ptr(6.0),
		Dependencies:    []string{first.ID},
	})
	require.NoError(t, err)

	tasks, err := c.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.NotEmpty(t, tasks[0].Priority)
	require.NotNil(t, tasks[0].PriorityScore)

	prios, err := c.Priorities(ctx)
	require.NoError(t, err)
	require.Len(t, prios, 2)
	assert.Equal(t, first.ID, prios[0].TaskID)

	steps, err := c.Plan(ctx)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, first.ID, steps[0].TaskID)
	assert.Equal(t, []string{first.ID}, steps[1].WaitingOn)

	updated, err := c.UpdateTask(ctx, second.ID, TaskInput{Title: ptr("Review feedback")})
	require.NoError(t, err)
	assert.Equal(t, "Review feedback", updated.Title)
	assert.Equal(t, []string{first.ID}, updated.Dependencies)

	done, err := c.CompleteTask(ctx, first.ID)
	require.NoError(t, err)
	assert.NotNil(t, done.CompletedAt)

	prios, err = c.Priorities(ctx)
	require.NoError(t, err)
	require.Len(t, prios, 1)
	assert.Equal(t, second.ID, prios[0].TaskID)

	require.NoError(t, c.DeleteTask(ctx, second.ID))
	got, err := c.GetTask(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
}

func TestClientErrors(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)

	_, err := c.GetTask(ctx, "missing")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "Task not found", apiErr.Message)

	_, err = c.CreateTask(ctx, TaskInput{Description: ptr("no title"), Deadline: ptr(time.Now())})
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
}

func TestClientInsightsAndReopen(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)

	in, err := c.Insights(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, in.Total)
	assert.Equal(t, "All clear! No pending tasks", in.Headline)
	assert.Empty(t, in.Top)

	finished := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	done, err := c.CreateTask(ctx, TaskInput{
		Title:       ptr("Archive notes"),
		Description: ptr("old"),
		Deadline:    ptr(time.Now().Add(24 * time.Hour)),
		Impact:      ptr(4.0),
		CompletedAt: &finished,
	})
	require.NoError(t, err)
	require.NotNil(t, done.CompletedAt)
	assert.True(t, finished.Equal(*done.CompletedAt))

	open, err := c.CreateTask(ctx, TaskInput{
		Title:           ptr("Fix outage"),
		Description:     ptr("prod"),
		Deadline:        ptr(time.Now().Add(2 * time.Hour)),
		EstimatedEffort: ptr(2.0),
		Impact:          ptr(10.0),
	})
	require.NoError(t, err)

	in, err = c.Insights(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, in.Total)
	assert.Equal(t, 1, in.Completed)
	assert.Equal(t, 1, in.Incomplete)
	require.Len(t, in.Top, 1)
	assert.Equal(t, open.ID, in.Top[0].TaskID)
	assert.Equal(t, open.ID, in.TopTaskID)
	assert.InDelta(t, 100.0, in.TierPercent[in.Top[0].Priority], 0.001)
	assert.NotEmpty(t, in.Headline)

	reopened, err := c.ReopenTask(ctx, done.ID)
	require.NoError(t, err)
	assert.Nil(t, reopened.CompletedAt)
	assert.Equal(t, "Archive notes", reopened.Title)

	in, err = c.Insights(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, in.Completed)
	assert.Equal(t, 2, in.Incomplete)
	assert.Len(t, in.Top, 2)
}
