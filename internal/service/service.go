package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskpilot/internal/domain"
	"taskpilot/internal/plan"
	"taskpilot/internal/priority"
	"taskpilot/internal/repo"
)

// ErrNotFound is returned for unknown task ids.
var ErrNotFound = repo.ErrNotFound

// ValidationError describes a rejected field in a create or update request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// Tasks is the task use-case layer. It reads snapshots from the repository
// and hands them to the priority engine; the engine never sees the store.
type Tasks struct {
	Repo   repo.Repository
	Engine priority.Engine
	Logger *slog.Logger
	Now    func() time.Time
	NewID  func() string
}

func New(r repo.Repository, logger *slog.Logger) *Tasks {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Tasks{
		Repo:   r,
		Engine: priority.New(),
		Logger: logger,
		Now:    time.Now,
		NewID:  uuid.NewString,
	}
}

func (s *Tasks) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// CreateInput carries the submitted fields of a new task. Pointer fields are
// optional at the wire level; Create enforces which are required.
type CreateInput struct {
	Title           *string
	Description     *string
	Deadline        *time.Time
	EstimatedEffort *float64
	Impact          *float64
	Dependencies    []string
	CompletedAt     *time.Time
}

// UpdateInput carries the fields to merge into an existing task. Nil means
// "leave unchanged"; ClearCompletedAt reopens a finished task.
type UpdateInput struct {
	Title            *string
	Description      *string
	Deadline         *time.Time
	EstimatedEffort  *float64
	Impact           *float64
	Dependencies     *[]string
	CompletedAt      *time.Time
	ClearCompletedAt bool
}

func (s *Tasks) Create(ctx context.Context, in CreateInput) (domain.Task, error) {
	if in.Title == nil || strings.TrimSpace(*in.Title) == "" {
		return domain.Task{}, invalid("title", "is required")
	}
	if in.Description == nil {
		return domain.Task{}, invalid("description", "is required")
	}
	if in.Deadline == nil || in.Deadline.IsZero() {
		return domain.Task{}, invalid("deadline", "is required")
	}
	if err := validateNumbers(in.EstimatedEffort, in.Impact); err != nil {
		return domain.Task{}, err
	}
	t := domain.Task{
		ID:           s.NewID(),
		Title:        *in.Title,
		Description:  *in.Description,
		Deadline:     in.Deadline.UTC(),
		Dependencies: cleanDependencies(in.Dependencies),
		CreatedAt:    s.now().UTC(),
		CompletedAt:  utcPtr(in.CompletedAt),
	}
	if in.EstimatedEffort != nil {
		t.EstimatedEffort = *in.EstimatedEffort
	}
	if in.Impact != nil {
		t.Impact = *in.Impact
	}
	if err := s.Repo.Insert(ctx, t); err != nil {
		return domain.Task{}, fmt.Errorf("create task: %w", err)
	}
	s.Logger.InfoContext(ctx, "task created", "task_id", t.ID, "title", t.Title, "dependencies", len(t.Dependencies))
	return t, nil
}

func (s *Tasks) Get(ctx context.Context, id string) (domain.Task, error) {
	return s.Repo.Get(ctx, id)
}

func (s *Tasks) Update(ctx context.Context, id string, in UpdateInput) (domain.Task, error) {
	t, err := s.Repo.Get(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if in.Title != nil {
		if strings.TrimSpace(*in.Title) == "" {
			return domain.Task{}, invalid("title", "must not be empty")
		}
		t.Title = *in.Title
	}
	if in.Description != nil {
		t.Description = *in.Description
	}
	if in.Deadline != nil {
		if in.Deadline.IsZero() {
			return domain.Task{}, invalid("deadline", "must be a valid time")
		}
		t.Deadline = in.Deadline.UTC()
	}
	if err := validateNumbers(in.EstimatedEffort, in.Impact); err != nil {
		return domain.Task{}, err
	}
	if in.EstimatedEffort != nil {
		t.EstimatedEffort = *in.EstimatedEffort
	}
	if in.Impact != nil {
		t.Impact = *in.Impact
	}
	if in.Dependencies != nil {
		t.Dependencies = cleanDependencies(*in.Dependencies)
	}
	switch {
	case in.ClearCompletedAt:
		t.CompletedAt = nil
	case in.CompletedAt != nil:
		t.CompletedAt = utcPtr(in.CompletedAt)
	}
	if err := s.Repo.Update(ctx, t); err != nil {
		return domain.Task{}, fmt.Errorf("update task %s: %w", id, err)
	}
	s.Logger.InfoContext(ctx, "task updated", "task_id", t.ID, "completed", t.Completed())
	return t, nil
}

// Complete marks a task finished now. Completing an already finished task
// keeps its original completion time.
func (s *Tasks) Complete(ctx context.Context, id string) (domain.Task, error) {
	t, err := s.Repo.Get(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if t.Completed() {
		return t, nil
	}
	at := s.now().UTC()
	return s.Update(ctx, id, UpdateInput{CompletedAt: &at})
}

func (s *Tasks) Delete(ctx context.Context, id string) error {
	if err := s.Repo.Delete(ctx, id); err != nil {
		return err
	}
	s.Logger.InfoContext(ctx, "task deleted", "task_id", id)
	return nil
}

// List returns every task; incomplete ones carry their tier and score.
func (s *Tasks) List(ctx context.Context) ([]domain.AnnotatedTask, error) {
	tasks, err := s.Repo.List(ctx)
	if err != nil {
		return nil, err
	}
	calcs := s.engine().ScoreAll(tasks)
	byID := make(map[string]domain.PriorityCalculation, len(calcs))
	for _, c := range calcs {
		byID[c.TaskID] = c
	}
	res := make([]domain.AnnotatedTask, 0, len(tasks))
	for _, t := range tasks {
		at := domain.AnnotatedTask{Task: t}
		if c, ok := byID[t.ID]; ok {
			tier, score := c.Priority, c.Score
			at.Priority = &tier
			at.PriorityScore = &score
		}
		res = append(res, at)
	}
	return res, nil
}

func (s *Tasks) Priorities(ctx context.Context) ([]domain.PriorityCalculation, error) {
	tasks, err := s.Repo.List(ctx)
	if err != nil {
		return nil, err
	}
	return s.engine().ScoreAll(tasks), nil
}

func (s *Tasks) Plan(ctx context.Context) ([]domain.PlanStep, error) {
	tasks, err := s.Repo.List(ctx)
	if err != nil {
		return nil, err
	}
	steps, err := plan.Order(tasks, s.engine().ScoreAll(tasks))
	if err != nil {
		var cycle plan.CycleError
		if errors.As(err, &cycle) {
			s.Logger.WarnContext(ctx, "plan blocked by dependency cycle", "tasks", cycle.TaskIDs)
		}
		return nil, err
	}
	return steps, nil
}

func (s *Tasks) Insights(ctx context.Context) (domain.Insights, error) {
	tasks, err := s.Repo.List(ctx)
	if err != nil {
		return domain.Insights{}, err
	}
	now := s.now()
	res := domain.Insights{
		Total:       len(tasks),
		ByTier:      map[domain.Tier]int{},
		TierPercent: map[domain.Tier]float64{},
	}
	for _, tier := range tiers {
		res.ByTier[tier] = 0
		res.TierPercent[tier] = 0
	}
	for _, t := range tasks {
		if t.Completed() {
			res.Completed++
			continue
		}
		res.Incomplete++
		if t.Deadline.Before(now) {
			res.Overdue++
		}
	}
	calcs := s.engine().ScoreAll(tasks)
	for _, c := range calcs {
		res.ByTier[c.Priority]++
	}
	if len(calcs) > 0 {
		for _, tier := range tiers {
			res.TierPercent[tier] = float64(res.ByTier[tier]) / float64(len(calcs)) * 100
		}
	}
	res.Headline = Headline(calcs)
	res.Top = calcs
	if len(res.Top) > topInsights {
		res.Top = res.Top[:topInsights]
	}
	if len(calcs) > 0 {
		res.TopTaskID = calcs[0].TaskID
		res.TopRecommendation = calcs[0].Recommendation
	}
	return res, nil
}

const topInsights = 5

var tiers = []domain.Tier{domain.TierCritical, domain.TierHigh, domain.TierMedium, domain.TierLow}

// Headline is a one-line read of the workload. The first matching rule wins:
// any critical task, then more than two high tasks, then an empty list.
func Headline(calcs []domain.PriorityCalculation) string {
	var critical, high int
	for _, c := range calcs {
		switch c.Priority {
		case domain.TierCritical:
			critical++
		case domain.TierHigh:
			high++
		}
	}
	switch {
	case critical == 1:
		return "You have 1 critical task requiring immediate attention"
	case critical > 1:
		return fmt.Sprintf("You have %d critical tasks requiring immediate attention", critical)
	case high > 2:
		return fmt.Sprintf("%d high-priority tasks detected. Consider delegating or breaking them down", high)
	case len(calcs) == 0:
		return "All clear! No pending tasks"
	default:
		return "Workload is balanced. Focus on high-impact tasks first"
	}
}

// engine returns the priority engine bound to the service clock.
func (s *Tasks) engine() priority.Engine {
	e := s.Engine
	if s.Now != nil {
		e.Now = s.Now
	}
	return e
}

func validateNumbers(effort, impact *float64) error {
	if effort != nil && *effort < 0 {
		return invalid("estimatedEffort", "must not be negative")
	}
	if impact != nil && *impact < 0 {
		return invalid("impact", "must not be negative")
	}
	return nil
}

func cleanDependencies(deps []string) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, d := range deps {
		d = strings.TrimSpace(d)
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
