package main

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskpilot/internal/repo"
	"taskpilot/internal/service"
)

func TestParseDeadline(t *testing.T) {
	now := time.Date(2024, 5, 10, 10, 0, 0, 0, time.UTC)
	cases := []struct {
		in   string
		want time.Time
	}{
		{"2024-06-01T12:30:00Z", time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC)},
		{"2024-06-01T14:30:00+02:00", time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC)},
		{"2024-06-01", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)},
		{"+3d", now.Add(72 * time.Hour)},
		{" +0d ", now},
	}
	for _, tc := range cases {
		got, err := parseDeadline(tc.in, now)
		require.NoError(t, err, tc.in)
		assert.True(t, tc.want.Equal(got), "%s: got %s", tc.in, got)
	}

	for _, bad := range []string{"", "tomorrow", "+xd", "06/01/2024"} {
		_, err := parseDeadline(bad, now)
		assert.Error(t, err, bad)
	}
}

func TestCreateInputForwardsOnlySetFlags(t *testing.T) {
	now := time.Date(2024, 5, 10, 10, 0, 0, 0, time.UTC)
	parse := func(args ...string) service.CreateInput {
		t.Helper()
		var f taskFlags
		cmd := &cobra.Command{Use: "create"}
		f.register(cmd)
		require.NoError(t, cmd.ParseFlags(args))
		in, err := f.createInput(cmd, now)
		require.NoError(t, err)
		return in
	}

	in := parse("--title", "Write report", "--deadline", "+2d")
	require.NotNil(t, in.Title)
	require.NotNil(t, in.Deadline)
	assert.True(t, now.Add(48*time.Hour).Equal(*in.Deadline))
	assert.Nil(t, in.Description)
	assert.Nil(t, in.EstimatedEffort)
	assert.Nil(t, in.Impact)

	svc := service.New(repo.NewMemory(), nil)
	svc.Now = func() time.Time { return now }
	_, err := svc.Create(context.Background(), in)
	assert.ErrorContains(t, err, "description")

	in = parse("--title", "Write report", "--description", "", "--deadline", "2024-06-01",
		"--effort", "0", "--impact", "7", "--depends-on", "a")
	require.NotNil(t, in.Description)
	assert.Equal(t, "", *in.Description)
	require.NotNil(t, in.EstimatedEffort)
	assert.Equal(t, 0.0, *in.EstimatedEffort)
	assert.Equal(t, 7.0, *in.Impact)
	assert.Equal(t, []string{"a"}, in.Dependencies)
}

func TestCreateInputRejectsBadDeadline(t *testing.T) {
	var f taskFlags
	cmd := &cobra.Command{Use: "create"}
	f.register(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"--deadline", "tomorrow"}))
	_, err := f.createInput(cmd, time.Now())
	assert.Error(t, err)
}
