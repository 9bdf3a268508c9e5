package taskpilotsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Taskpilot HTTP API client.
type Client struct {
	BaseURL    string
	BasePath   string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/api",
		Timeout:  10 * time.Second,
	}
}

// Task is the API task model. Priority and PriorityScore are only set on
// unfinished tasks returned by ListTasks.
type Task struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Deadline        time.Time  `json:"deadline"`
	EstimatedEffort float64    `json:"estimatedEffort"`
	Impact          float64    `json:"impact"`
	Dependencies    []string   `json:"dependencies"`
	CreatedAt       time.Time  `json:"createdAt"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	Priority        string     `json:"priority,omitempty"`
	PriorityScore   *int       `json:"priorityScore,omitempty"`
}

// TaskInput carries the fields sent on create and update. Nil fields are
// omitted; on update they keep their stored value.
type TaskInput struct {
	Title           *string    `json:"title,omitempty"`
	Description     *string    `json:"description,omitempty"`
	Deadline        *time.Time `json:"deadline,omitempty"`
	EstimatedEffort *float64   `json:"estimatedEffort,omitempty"`
	Impact          *float64   `json:"impact,omitempty"`
	Dependencies    []string   `json:"dependencies,omitempty"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
}

// Factors are the four 0-100 components of a score.
type Factors struct {
	DeadlineUrgency  float64 `json:"deadlineUrgency"`
	DependencyWeight float64 `json:"dependencyWeight"`
	ImpactScore      float64 `json:"impactScore"`
	EffortRatio      float64 `json:"effortRatio"`
}

// Priority is one ranked task.
type Priority struct {
	TaskID         string  `json:"taskId"`
	Priority       string  `json:"priority"`
	Score          int     `json:"score"`
	Factors        Factors `json:"factors"`
	Recommendation string  `json:"recommendation"`
}

// PlanStep is one entry of the work plan.
type PlanStep struct {
	Position  int      `json:"position"`
	TaskID    string   `json:"taskId"`
	Title     string   `json:"title"`
	Priority  string   `json:"priority"`
	Score     int      `json:"score"`
	WaitingOn []string `json:"waitingOn"`
}

// Insights summarizes the task list. TierPercent is each tier's share of
// unfinished tasks; Top holds at most five ranked tasks.
type Insights struct {
	Total             int                `json:"total"`
	Completed         int                `json:"completed"`
	Incomplete        int                `json:"incomplete"`
	Overdue           int                `json:"overdue"`
	ByTier            map[string]int     `json:"byTier"`
	TierPercent       map[string]float64 `json:"tierPercent"`
	Headline          string             `json:"headline"`
	Top               []Priority         `json:"top"`
	TopTaskID         string             `json:"topTaskId,omitempty"`
	TopRecommendation string             `json:"topRecommendation,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d message=%s", e.Status, e.Message)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// ListTasks returns every task, unfinished ones annotated with their priority.
func (c *Client) ListTasks(ctx context.Context) ([]Task, error) {
	var resp []Task
	err := c.do(ctx, http.MethodGet, "tasks", nil, &resp)
	return resp, err
}

func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, taskPath(id), nil, &resp)
	return resp, err
}

func (c *Client) CreateTask(ctx context.Context, in TaskInput) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks", in, &resp)
	return resp, err
}

// UpdateTask merges the set fields of in into the task.
func (c *Client) UpdateTask(ctx context.Context, id string, in TaskInput) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPut, taskPath(id), in, &resp)
	return resp, err
}

func (c *Client) CompleteTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, taskPath(id)+"/complete", nil, &resp)
	return resp, err
}

// ReopenTask clears the completion time of a finished task.
func (c *Client) ReopenTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPut, taskPath(id), map[string]any{"completedAt": nil}, &resp)
	return resp, err
}

func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, taskPath(id), nil, nil)
}

// Priorities returns unfinished tasks ranked highest first.
func (c *Client) Priorities(ctx context.Context) ([]Priority, error) {
	var resp []Priority
	err := c.do(ctx, http.MethodGet, "priorities", nil, &resp)
	return resp, err
}

// Plan returns the dependency-ordered work plan. A dependency cycle yields
// an *APIError with status 409.
func (c *Client) Plan(ctx context.Context) ([]PlanStep, error) {
	var resp []PlanStep
	err := c.do(ctx, http.MethodGet, "plan", nil, &resp)
	return resp, err
}

// Insights returns the workload summary.
func (c *Client) Insights(ctx context.Context) (Insights, error) {
	var resp Insights
	err := c.do(ctx, http.MethodGet, "insights", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= 300 {
			return &APIError{Status: resp.StatusCode, Message: string(raw)}
		}
		return err
	}
	if resp.StatusCode >= 300 || !env.Success {
		return &APIError{Status: resp.StatusCode, Message: env.Error}
	}
	if out != nil && len(env.Data) > 0 {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}

func taskPath(id string) string {
	return "tasks/" + url.PathEscape(id)
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
