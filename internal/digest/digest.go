// Package digest logs a periodic summary of the task list: counts per tier,
// overdue work and the highest ranked tasks.
package digest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"taskpilot/internal/domain"
)

const defaultTop = 3

// Source supplies the data a digest summarizes. *service.Tasks satisfies it.
type Source interface {
	Insights(ctx context.Context) (domain.Insights, error)
	Priorities(ctx context.Context) ([]domain.PriorityCalculation, error)
}

// Summary is what one digest run reports.
type Summary struct {
	Insights domain.Insights
	Top      []domain.PriorityCalculation
}

type Digest struct {
	Source Source
	Logger *slog.Logger
	// Top caps how many ranked tasks are listed; zero means three.
	Top int

	mu   sync.Mutex
	cron *cron.Cron
	done chan struct{}
}

func New(src Source, logger *slog.Logger, top int) *Digest {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Digest{Source: src, Logger: logger, Top: top}
}

// Run builds one summary and logs it.
func (d *Digest) Run(ctx context.Context) (Summary, error) {
	in, err := d.Source.Insights(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("digest insights: %w", err)
	}
	calcs, err := d.Source.Priorities(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("digest priorities: %w", err)
	}
	top := d.Top
	if top <= 0 {
		top = defaultTop
	}
	if len(calcs) > top {
		calcs = calcs[:top]
	}
	s := Summary{Insights: in, Top: calcs}

	d.Logger.InfoContext(ctx, "priority digest",
		"headline", in.Headline,
		"total", in.Total,
		"open", in.Incomplete,
		"overdue", in.Overdue,
		"critical", in.ByTier[domain.TierCritical],
		"high", in.ByTier[domain.TierHigh],
	)
	for i, c := range calcs {
		d.Logger.InfoContext(ctx, "priority digest entry",
			"rank", i+1,
			"task_id", c.TaskID,
			"priority", c.Priority,
			"score", c.Score,
			"recommendation", c.Recommendation,
		)
	}
	return s, nil
}

// Start schedules Run on a standard five-field cron spec until ctx is done
// or Stop is called.
func (d *Digest) Start(ctx context.Context, spec string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cron != nil {
		return fmt.Errorf("digest already started")
	}
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		if _, err := d.Run(ctx); err != nil {
			d.Logger.ErrorContext(ctx, "digest failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("digest schedule %q: %w", spec, err)
	}
	done := make(chan struct{})
	c.Start()
	d.cron = c
	d.done = done
	d.Logger.InfoContext(ctx, "digest scheduled", "schedule", spec)
	go func() {
		select {
		case <-ctx.Done():
			d.stop(c)
		case <-done:
		}
	}()
	return nil
}

// Stop halts the schedule, waiting briefly for a running digest.
func (d *Digest) Stop() {
	d.mu.Lock()
	c := d.cron
	d.mu.Unlock()
	d.stop(c)
}

// stop halts c only if it is still the active schedule.
func (d *Digest) stop(c *cron.Cron) {
	d.mu.Lock()
	if c == nil || d.cron != c {
		d.mu.Unlock()
		return
	}
	d.cron = nil
	close(d.done)
	d.done = nil
	d.mu.Unlock()
	select {
	case <-c.Stop().Done():
	case <-time.After(5 * time.Second):
		d.Logger.Warn("digest stop timed out")
	}
}

// running reports whether a schedule is active.
func (d *Digest) running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cron != nil
}
