package domain

import "time"

type Tier string

const (
	TierCritical Tier = "critical"
	TierHigh     Tier = "high"
	TierMedium   Tier = "medium"
	TierLow      Tier = "low"
)

type Task struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Deadline        time.Time  `json:"deadline" format:"date-time"`
	EstimatedEffort float64    `json:"estimatedEffort"`
	Impact          float64    `json:"impact"`
	Dependencies    []string   `json:"dependencies"`
	CreatedAt       time.Time  `json:"createdAt" format:"date-time"`
	CompletedAt     *time.Time `json:"completedAt,omitempty" format:"date-time"`
}

// Completed reports whether the task has been marked finished.
func (t Task) Completed() bool {
	return t.CompletedAt != nil
}

// DependsOn reports whether id is one of the task's prerequisites.
func (t Task) DependsOn(id string) bool {
	for _, dep := range t.Dependencies {
		if dep == id {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no slices or pointers with t.
func (t Task) Clone() Task {
	out := t
	if t.Dependencies != nil {
		out.Dependencies = append([]string{}, t.Dependencies...)
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		out.CompletedAt = &at
	}
	return out
}

type Factors struct {
	DeadlineUrgency  float64 `json:"deadlineUrgency"`
	DependencyWeight float64 `json:"dependencyWeight"`
	ImpactScore      float64 `json:"impactScore"`
	EffortRatio      float64 `json:"effortRatio"`
}

type PriorityCalculation struct {
	TaskID         string  `json:"taskId"`
	Priority       Tier    `json:"priority" enum:"critical,high,medium,low"`
	Score          int     `json:"score"`
	Factors        Factors `json:"factors"`
	Recommendation string  `json:"recommendation"`
}

// AnnotatedTask is a task decorated with its current tier and score.
// Completed tasks carry no annotation.
type AnnotatedTask struct {
	Task
	Priority      *Tier `json:"priority,omitempty" enum:"critical,high,medium,low"`
	PriorityScore *int  `json:"priorityScore,omitempty"`
}

type PlanStep struct {
	Position  int      `json:"position"`
	TaskID    string   `json:"taskId"`
	Title     string   `json:"title"`
	Priority  Tier     `json:"priority" enum:"critical,high,medium,low"`
	Score     int      `json:"score"`
	WaitingOn []string `json:"waitingOn"`
}

// Insights summarizes the task list. TierPercent is each tier's share of
// incomplete tasks (0-100); Top holds at most five calculations.
type Insights struct {
	Total             int                   `json:"total"`
	Completed         int                   `json:"completed"`
	Incomplete        int                   `json:"incomplete"`
	Overdue           int                   `json:"overdue"`
	ByTier            map[Tier]int          `json:"byTier"`
	TierPercent       map[Tier]float64      `json:"tierPercent"`
	Headline          string                `json:"headline"`
	Top               []PriorityCalculation `json:"top"`
	TopTaskID         string                `json:"topTaskId,omitempty"`
	TopRecommendation string                `json:"topRecommendation,omitempty"`
}

type Event struct {
	ID       int64  `json:"id"`
	TS       string `json:"ts" format:"date-time"`
	Type     string `json:"type"`
	EntityID string `json:"entity_id,omitempty"`
	Payload  string `json:"payload_json"`
}
