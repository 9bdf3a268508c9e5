// Package plan turns scored tasks into a work order that respects
// dependencies between unfinished tasks.
package plan

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gammazero/toposort"

	"taskpilot/internal/domain"
)

// CycleError reports incomplete tasks whose dependencies can never be satisfied.
type CycleError struct {
	TaskIDs []string
}

func (e CycleError) Error() string {
	return fmt.Sprintf("dependency cycle among tasks: %s", strings.Join(e.TaskIDs, ", "))
}

// Order returns incomplete tasks so that every prerequisite precedes the
// tasks waiting on it. Tasks at the same dependency depth are ordered by
// descending score, then by their position in tasks. Completed and unknown
// dependencies are ignored.
func Order(tasks []domain.Task, calcs []domain.PriorityCalculation) ([]domain.PlanStep, error) {
	open := map[string]domain.Task{}
	position := map[string]int{}
	for _, t := range tasks {
		if t.Completed() {
			continue
		}
		open[t.ID] = t
		position[t.ID] = len(position)
	}
	byID := make(map[string]domain.PriorityCalculation, len(calcs))
	for _, c := range calcs {
		byID[c.TaskID] = c
	}

	waiting := map[string][]string{}
	var edges []toposort.Edge
	for _, t := range tasks {
		if _, ok := open[t.ID]; !ok {
			continue
		}
		seen := map[string]bool{}
		for _, dep := range t.Dependencies {
			if _, ok := open[dep]; !ok || seen[dep] {
				continue
			}
			seen[dep] = true
			waiting[t.ID] = append(waiting[t.ID], dep)
			edges = append(edges, toposort.Edge{dep, t.ID})
		}
	}

	depth := map[string]int{}
	if len(edges) > 0 {
		sorted, err := toposort.Toposort(edges)
		if err != nil {
			return nil, CycleError{TaskIDs: stuck(open, waiting, position)}
		}
		for _, node := range sorted {
			id := node.(string)
			for _, dep := range waiting[id] {
				if depth[dep]+1 > depth[id] {
					depth[id] = depth[dep] + 1
				}
			}
		}
	}

	ids := make([]string, 0, len(open))
	for id := range open {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := ids[i], ids[j]
		if depth[a] != depth[b] {
			return depth[a] < depth[b]
		}
		if byID[a].Score != byID[b].Score {
			return byID[a].Score > byID[b].Score
		}
		return position[a] < position[b]
	})

	steps := make([]domain.PlanStep, 0, len(ids))
	for i, id := range ids {
		calc := byID[id]
		waitingOn := waiting[id]
		if waitingOn == nil {
			waitingOn = []string{}
		}
		steps = append(steps, domain.PlanStep{
			Position:  i + 1,
			TaskID:    id,
			Title:     open[id].Title,
			Priority:  calc.Priority,
			Score:     calc.Score,
			WaitingOn: waitingOn,
		})
	}
	return steps, nil
}

// stuck peels off tasks whose prerequisites can all be met and returns the
// rest, in input order.
func stuck(open map[string]domain.Task, waiting map[string][]string, position map[string]int) []string {
	pending := map[string]int{}
	dependents := map[string][]string{}
	for id := range open {
		pending[id] = len(waiting[id])
		for _, dep := range waiting[id] {
			dependents[dep] = append(dependents[dep], id)
		}
	}
	var queue []string
	for id, n := range pending {
		if n == 0 {
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		delete(pending, id)
		for _, next := range dependents[id] {
			pending[next]--
			if pending[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	res := make([]string, 0, len(pending))
	for id := range pending {
		res = append(res, id)
	}
	sort.Slice(res, func(i, j int) bool { return position[res[i]] < position[res[j]] })
	return res
}
