// Package priority ranks tasks by deadline urgency, dependency pressure,
// impact and effort efficiency. Scoring is a pure function of the task set
// and the engine clock; nothing here mutates or retains caller data.
package priority

import (
	"math"
	"sort"
	"strings"
	"time"

	"taskpilot/internal/domain"
)

const (
	weightDeadline   = 0.35
	weightDependency = 0.25
	weightImpact     = 0.25
	weightEffort     = 0.15
)

const (
	RecUrgentDeadline  = "Urgent deadline approaching"
	RecUnblocksOthers  = "Other tasks depend on this"
	RecHighImpact      = "High impact with good effort ratio"
	RecHasDependencies = "Has dependencies to resolve first"
	RecImportant       = "Important task to prioritize"
	RecWhenCapacity    = "Schedule when capacity allows"
)

type Engine struct {
	Now func() time.Time
}

func New() Engine {
	return Engine{Now: time.Now}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// ScoreAll scores every incomplete task against the full task set and
// returns the results ordered by descending score. Ties keep input order.
func (e Engine) ScoreAll(tasks []domain.Task) []domain.PriorityCalculation {
	now := e.now()
	res := make([]domain.PriorityCalculation, 0, len(tasks))
	for _, t := range tasks {
		if t.Completed() {
			continue
		}
		res = append(res, score(t, tasks, now))
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].Score > res[j].Score })
	return res
}

// Score computes the priority calculation for a single task. allTasks is the
// peer context used for dependency analysis and may include task itself.
func (e Engine) Score(task domain.Task, allTasks []domain.Task) domain.PriorityCalculation {
	return score(task, allTasks, e.now())
}

func score(task domain.Task, allTasks []domain.Task, now time.Time) domain.PriorityCalculation {
	f := domain.Factors{
		DeadlineUrgency:  DeadlineUrgency(task.Deadline.Sub(now).Hours() / 24),
		DependencyWeight: DependencyWeight(task, allTasks),
		ImpactScore:      ImpactScore(task.Impact),
		EffortRatio:      EffortRatio(task.EstimatedEffort, task.Impact),
	}
	overall := Overall(f)
	return domain.PriorityCalculation{
		TaskID:         task.ID,
		Priority:       TierFor(overall),
		Score:          int(math.Round(overall)),
		Factors:        f,
		Recommendation: Recommend(task, f, overall),
	}
}

// DeadlineUrgency maps days until the deadline onto a step function.
// Bucket edges are inclusive on the upper end.
func DeadlineUrgency(days float64) float64 {
	switch {
	case days < 0:
		return 100
	case days <= 1:
		return 90
	case days <= 3:
		return 75
	case days <= 7:
		return 50
	case days <= 14:
		return 30
	default:
		return 10
	}
}

// DependencyWeight is 20 while the task waits on unfinished prerequisites,
// 80 when unfinished peers wait on it, and 50 otherwise.
func DependencyWeight(task domain.Task, allTasks []domain.Task) float64 {
	var blocking, blockedBy int
	for _, peer := range allTasks {
		if peer.Completed() {
			continue
		}
		if task.DependsOn(peer.ID) {
			blocking++
		}
		if peer.DependsOn(task.ID) {
			blockedBy++
		}
	}
	switch {
	case blocking > 0:
		return 20
	case blockedBy > 0:
		return 80
	default:
		return 50
	}
}

func ImpactScore(impact float64) float64 {
	return math.Min(100, impact*10)
}

// EffortRatio rewards impact per unit of effort. Zero effort counts as
// maximally efficient.
func EffortRatio(effort, impact float64) float64 {
	if effort == 0 {
		return 100
	}
	return math.Min(100, impact/effort*20)
}

func Overall(f domain.Factors) float64 {
	return f.DeadlineUrgency*weightDeadline +
		f.DependencyWeight*weightDependency +
		f.ImpactScore*weightImpact +
		f.EffortRatio*weightEffort
}

// TierFor maps an unrounded score to a tier; thresholds are inclusive.
func TierFor(score float64) domain.Tier {
	switch {
	case score >= 75:
		return domain.TierCritical
	case score >= 55:
		return domain.TierHigh
	case score >= 35:
		return domain.TierMedium
	default:
		return domain.TierLow
	}
}

func Recommend(task domain.Task, f domain.Factors, score float64) string {
	var recs []string
	if f.DeadlineUrgency > 70 {
		recs = append(recs, RecUrgentDeadline)
	}
	if f.DependencyWeight > 70 {
		recs = append(recs, RecUnblocksOthers)
	}
	if f.ImpactScore > 70 && f.EffortRatio > 60 {
		recs = append(recs, RecHighImpact)
	}
	if len(task.Dependencies) > 0 {
		recs = append(recs, RecHasDependencies)
	}
	if len(recs) == 0 {
		if score >= 55 {
			return RecImportant
		}
		return RecWhenCapacity
	}
	return strings.Join(recs, ". ")
}
