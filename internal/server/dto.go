package server

import (
	"time"

	"taskpilot/internal/domain"
	"taskpilot/internal/service"
)

// Request payloads

type CreateTaskRequest struct {
	Title           *string    `json:"title,omitempty"`
	Description     *string    `json:"description,omitempty"`
	Deadline        *time.Time `json:"deadline,omitempty" format:"date-time"`
	EstimatedEffort *float64   `json:"estimatedEffort,omitempty"`
	Impact          *float64   `json:"impact,omitempty"`
	Dependencies    []string   `json:"dependencies,omitempty"`
	CompletedAt     *time.Time `json:"completedAt,omitempty" format:"date-time"`
}

func (r CreateTaskRequest) input() service.CreateInput {
	return service.CreateInput{
		Title:           r.Title,
		Description:     r.Description,
		Deadline:        r.Deadline,
		EstimatedEffort: r.EstimatedEffort,
		Impact:          r.Impact,
		Dependencies:    r.Dependencies,
		CompletedAt:     r.CompletedAt,
	}
}

type UpdateTaskRequest struct {
	Title           *string    `json:"title,omitempty"`
	Description     *string    `json:"description,omitempty"`
	Deadline        *time.Time `json:"deadline,omitempty" format:"date-time"`
	EstimatedEffort *float64   `json:"estimatedEffort,omitempty"`
	Impact          *float64   `json:"impact,omitempty"`
	Dependencies    []string   `json:"dependencies,omitempty"`
	CompletedAt     *time.Time `json:"completedAt,omitempty" format:"date-time"`
}

// Response payloads. Every body is wrapped in the same success envelope.

type TaskEnvelope struct {
	Success bool        `json:"success"`
	Data    domain.Task `json:"data"`
}

type TaskListEnvelope struct {
	Success bool                   `json:"success"`
	Data    []domain.AnnotatedTask `json:"data"`
}

type PrioritiesEnvelope struct {
	Success bool                         `json:"success"`
	Data    []domain.PriorityCalculation `json:"data"`
}

type PlanEnvelope struct {
	Success bool              `json:"success"`
	Data    []domain.PlanStep `json:"data"`
}

type InsightsEnvelope struct {
	Success bool            `json:"success"`
	Data    domain.Insights `json:"data"`
}

type EmptyEnvelope struct {
	Success bool `json:"success"`
}

type HealthEnvelope struct {
	Success bool              `json:"success"`
	Data    map[string]string `json:"data"`
}
