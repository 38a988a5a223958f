package server

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"rollcall/internal/app"
	"rollcall/internal/domain"
	"rollcall/internal/locks"
	"rollcall/internal/orchestrator"
	"rollcall/internal/repo"
)

// Config for the read-only report API handler.
type Config struct {
	App      *app.App
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"reminder not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the reporting API. Every endpoint
// is read-only; mutations stay on the CLI where the coarse locks live.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Rollcall API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerDashboard(group, cfg.App)
	registerSnapshot(group, cfg.App)
	registerGaps(group, cfg.App)
	registerReminders(group, cfg.App)
	registerEvents(group, cfg.App)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{Code: code, Message: message, Details: details},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, locks.ErrBusy) {
		return newAPIError(http.StatusConflict, "lock_busy", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerDashboard(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "dashboard",
		Method:      http.MethodGet,
		Path:        "/dashboard",
		Summary:     "Per-rep expected vs acknowledged counts for today",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body struct {
			Date string                     `json:"date"`
			Reps []orchestrator.DashboardRow `json:"reps"`
		} `json:"body"`
	}, error) {
		runner := &orchestrator.Runner{App: a}
		rows, err := runner.DashboardRows(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Date string                     `json:"date"`
				Reps []orchestrator.DashboardRow `json:"reps"`
			} `json:"body"`
		}{}
		out.Body.Date = a.Today()
		out.Body.Reps = rows
		return out, nil
	})
}

func registerSnapshot(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "snapshot-today",
		Method:      http.MethodGet,
		Path:        "/snapshot",
		Summary:     "Today's frozen duty snapshot",
	}, func(ctx context.Context, input *struct {
		Rep string `query:"rep"`
	}) (*struct {
		Body struct {
			Date string               `json:"date"`
			Rows []domain.SnapshotRow `json:"rows"`
		} `json:"body"`
	}, error) {
		rows, err := a.Snapshot.ReadToday()
		if err != nil {
			return nil, handleError(err)
		}
		if input.Rep != "" {
			filtered := rows[:0]
			for _, r := range rows {
				if r.Rep == input.Rep {
					filtered = append(filtered, r)
				}
			}
			rows = filtered
		}
		out := &struct {
			Body struct {
				Date string               `json:"date"`
				Rows []domain.SnapshotRow `json:"rows"`
			} `json:"body"`
		}{}
		out.Body.Date = a.Today()
		out.Body.Rows = rows
		return out, nil
	})
}

func registerGaps(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "gaps",
		Method:      http.MethodGet,
		Path:        "/gaps",
		Summary:     "Today's assigned and assisted coverage gaps",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body struct {
			Date     string               `json:"date"`
			Assigned []domain.AssignedGap `json:"assigned"`
			Assisted []domain.AssistedGap `json:"assisted"`
		} `json:"body"`
	}, error) {
		res, err := a.ResolveToday()
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Date     string               `json:"date"`
				Assigned []domain.AssignedGap `json:"assigned"`
				Assisted []domain.AssistedGap `json:"assisted"`
			} `json:"body"`
		}{}
		out.Body.Date = a.Today()
		out.Body.Assigned = []domain.AssignedGap{}
		out.Body.Assisted = []domain.AssistedGap{}
		for _, caseID := range sortedKeysAG(res.Duty.AssignedGaps) {
			out.Body.Assigned = append(out.Body.Assigned, res.Duty.AssignedGaps[caseID])
		}
		for _, caseID := range sortedKeysSG(res.Duty.AssistedGaps) {
			out.Body.Assisted = append(out.Body.Assisted, res.Duty.AssistedGaps[caseID])
		}
		return out, nil
	})
}

func registerReminders(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "list-reminders",
		Method:      http.MethodGet,
		Path:        "/reminders",
		Summary:     "List durable reminders",
	}, func(ctx context.Context, input *struct {
		Rep    string `query:"rep"`
		CaseID string `query:"case_id"`
		Status string `query:"status" enum:",PENDING,CONFIRMED,SNOOZED,CANCELLED"`
		Limit  int    `query:"limit" default:"50"`
	}) (*struct {
		Body struct {
			Items []domain.Reminder `json:"items"`
		} `json:"body"`
	}, error) {
		items, err := a.Repo.ListReminders(ctx, repo.ReminderFilters{
			Rep:    input.Rep,
			CaseID: input.CaseID,
			Status: input.Status,
			Limit:  input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Items []domain.Reminder `json:"items"`
			} `json:"body"`
		}{}
		out.Body.Items = items
		if out.Body.Items == nil {
			out.Body.Items = []domain.Reminder{}
		}
		return out, nil
	})
}

func registerEvents(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent audit events",
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:",snapshot,queue,reminder,orchestrator"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body struct {
			Items []domain.Event `json:"items"`
		} `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 || limit > 500 {
			limit = 50
		}
		items, err := a.Repo.LatestEvents(ctx, limit, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Items []domain.Event `json:"items"`
			} `json:"body"`
		}{}
		out.Body.Items = items
		if out.Body.Items == nil {
			out.Body.Items = []domain.Event{}
		}
		return out, nil
	})
}

func sortedKeysAG(m map[string]domain.AssignedGap) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedKeysSG(m map[string]domain.AssistedGap) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
