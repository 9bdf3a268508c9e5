package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"reflect"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"taskpilot/internal/plan"
	"taskpilot/internal/repo"
	"taskpilot/internal/service"
)

// Config for the HTTP API handler.
type Config struct {
	Tasks       *service.Tasks
	BasePath    string
	CORSOrigins []string
	Logger      *slog.Logger
}

type bodyBytesKey struct{}

// apiError is the failure form of the response envelope.
type apiError struct {
	status  int
	Success bool   `json:"success"`
	Message string `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Message }

func newAPIError(status int, message string) huma.StatusError {
	return &apiError{status: status, Message: message}
}

// New returns an HTTP handler exposing the task API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Tasks == nil {
		return nil, errors.New("server: task service is required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/api"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, msg)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			// Malformed bodies are client errors in this API.
			status = http.StatusBadRequest
		}
		if len(errs) > 0 {
			parts := make([]string, 0, len(errs))
			for _, e := range errs {
				parts = append(parts, e.Error())
			}
			msg = msg + ": " + strings.Join(parts, "; ")
		}
		return newAPIError(status, msg)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(requestLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(corsMiddleware(cfg.CORSOrigins))
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				data, _ := io.ReadAll(r.Body)
				r.Body = io.NopCloser(bytes.NewBuffer(data))
				r = r.WithContext(context.WithValue(r.Context(), bodyBytesKey{}, data))
			}
			next.ServeHTTP(w, r)
		})
	})

	hcfg := huma.DefaultConfig("Taskpilot API", "1.0.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	h := handlers{tasks: cfg.Tasks, logger: logger}
	registerDocs(router, basePath)
	registerOpenAPI(router, api, basePath)
	registerHealth(group)
	h.registerTasks(group)
	h.registerPriorities(group)

	return router, nil
}

type handlers struct {
	tasks  *service.Tasks
	logger *slog.Logger
}

func (h handlers) handleError(ctx context.Context, err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var verr *service.ValidationError
	var cycle plan.CycleError
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "Task not found")
	case errors.As(err, &verr):
		return newAPIError(http.StatusBadRequest, verr.Error())
	case errors.Is(err, repo.ErrExists):
		return newAPIError(http.StatusConflict, err.Error())
	case errors.As(err, &cycle):
		return newAPIError(http.StatusConflict, cycle.Error())
	default:
		h.logger.ErrorContext(ctx, "request failed", "error", err)
		return newAPIError(http.StatusInternalServerError, "internal error")
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body HealthEnvelope `json:"body"`
	}, error) {
		return &struct {
			Body HealthEnvelope `json:"body"`
		}{Body: HealthEnvelope{Success: true, Data: map[string]string{"status": "ok"}}}, nil
	})
}

func (h handlers) registerTasks(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks annotated with priority",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body TaskListEnvelope `json:"body"`
	}, error) {
		tasks, err := h.tasks.List(ctx)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return &struct {
			Body TaskListEnvelope `json:"body"`
		}{Body: TaskListEnvelope{Success: true, Data: tasks}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body TaskEnvelope `json:"body"`
	}, error) {
		t, err := h.tasks.Get(ctx, input.ID)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return &struct {
			Body TaskEnvelope `json:"body"`
		}{Body: TaskEnvelope{Success: true, Data: t}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:      "create-task",
		Method:           http.MethodPost,
		Path:             "/tasks",
		Summary:          "Create task",
		DefaultStatus:    http.StatusCreated,
		SkipValidateBody: true,
		Errors:           []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskEnvelope `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "body required")
		}
		t, err := h.tasks.Create(ctx, input.Body.input())
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return &struct {
			Body TaskEnvelope `json:"body"`
		}{Body: TaskEnvelope{Success: true, Data: t}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:      "update-task",
		Method:           http.MethodPut,
		Path:             "/tasks/{id}",
		Summary:          "Merge fields into a task",
		SkipValidateBody: true,
		Errors:           []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskEnvelope `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "body required")
		}
		bodyMap := rawBodyMap(ctx)
		in := service.UpdateInput{
			Title:           input.Body.Title,
			Description:     input.Body.Description,
			Deadline:        input.Body.Deadline,
			EstimatedEffort: input.Body.EstimatedEffort,
			Impact:          input.Body.Impact,
			CompletedAt:     input.Body.CompletedAt,
		}
		if raw, ok := bodyMap["dependencies"]; ok {
			deps := input.Body.Dependencies
			if isNullRaw(raw) || deps == nil {
				deps = []string{}
			}
			in.Dependencies = &deps
		}
		if raw, ok := bodyMap["completedAt"]; ok && isNullRaw(raw) {
			in.ClearCompletedAt = true
		}
		t, err := h.tasks.Update(ctx, input.ID, in)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return &struct {
			Body TaskEnvelope `json:"body"`
		}{Body: TaskEnvelope{Success: true, Data: t}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/complete",
		Summary:     "Mark task completed",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body TaskEnvelope `json:"body"`
	}, error) {
		t, err := h.tasks.Complete(ctx, input.ID)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return &struct {
			Body TaskEnvelope `json:"body"`
		}{Body: TaskEnvelope{Success: true, Data: t}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-task",
		Method:      http.MethodDelete,
		Path:        "/tasks/{id}",
		Summary:     "Delete task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body EmptyEnvelope `json:"body"`
	}, error) {
		if err := h.tasks.Delete(ctx, input.ID); err != nil {
			return nil, h.handleError(ctx, err)
		}
		return &struct {
			Body EmptyEnvelope `json:"body"`
		}{Body: EmptyEnvelope{Success: true}}, nil
	})
}

func (h handlers) registerPriorities(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-priorities",
		Method:      http.MethodGet,
		Path:        "/priorities",
		Summary:     "Priority calculations for incomplete tasks, highest first",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body PrioritiesEnvelope `json:"body"`
	}, error) {
		calcs, err := h.tasks.Priorities(ctx)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return &struct {
			Body PrioritiesEnvelope `json:"body"`
		}{Body: PrioritiesEnvelope{Success: true, Data: calcs}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-plan",
		Method:      http.MethodGet,
		Path:        "/plan",
		Summary:     "Dependency-ordered work plan",
		Errors:      []int{http.StatusConflict},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body PlanEnvelope `json:"body"`
	}, error) {
		steps, err := h.tasks.Plan(ctx)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return &struct {
			Body PlanEnvelope `json:"body"`
		}{Body: PlanEnvelope{Success: true, Data: steps}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-insights",
		Method:      http.MethodGet,
		Path:        "/insights",
		Summary:     "Task summary counts and top recommendation",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body InsightsEnvelope `json:"body"`
	}, error) {
		in, err := h.tasks.Insights(ctx)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return &struct {
			Body InsightsEnvelope `json:"body"`
		}{Body: InsightsEnvelope{Success: true, Data: in}}, nil
	})
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

// ensureDefaultErrorResponses documents the error envelope on every operation.
func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	var ref *huma.Schema
	if oas.Components != nil && oas.Components.Schemas != nil {
		ref = oas.Components.Schemas.Schema(reflect.TypeOf(apiError{}), true, "ApiError")
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			resp := &huma.Response{Description: "Error"}
			if ref != nil {
				resp.Content = map[string]*huma.MediaType{"application/json": {Schema: ref}}
			}
			op.Responses["default"] = resp
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", basePath, "openapi.json")
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Taskpilot API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.InfoContext(r.Context(), "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// corsMiddleware allows browser front-ends on origins to call the API.
// No origins disables CORS entirely.
func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	return nil
}

func rawBodyMap(ctx context.Context) map[string]json.RawMessage {
	data := bodyBytes(ctx)
	if len(data) == 0 {
		return map[string]json.RawMessage{}
	}
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(data, &outer); err != nil {
		return map[string]json.RawMessage{}
	}
	return outer
}

func isNullRaw(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && bytes.Equal(trimmed, []byte("null"))
}
