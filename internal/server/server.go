package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"stride/internal/coach"
	"stride/internal/domain"
	"stride/internal/ledger"
	"stride/internal/policy"
	"stride/internal/registry"
	"stride/internal/rollback"
)

// Config for the HTTP API handler.
type Config struct {
	Coach    *coach.Coach
	Rollback *rollback.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"policy not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Stride API. The API is a
// read-and-control surface: domain writes stay on the CLI except policy
// activation and test runs, and rollback over HTTP is always a dry run.
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
	hcfg := huma.DefaultConfig("Stride API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerEvents(group, cfg.Coach)
	registerPolicies(group, cfg.Coach)
	registerReadiness(group, cfg.Coach)
	registerDecisions(group, cfg.Coach)
	registerRollback(group, cfg.Rollback)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, registry.ErrNotFound) || errors.Is(err, ledger.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, registry.ErrValidationFailed) {
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required") || strings.Contains(lowered, "unknown") {
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
	case http.StatusUnprocessableEntity:
		return "validation_failed"
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

func registerEvents(api huma.API, c *coach.Coach) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent ledger events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		EntityType string `query:"entity_type"`
		Action     string `query:"action" enum:",create,update,delete,rollback_applied"`
		Source     string `query:"source"`
		Limit      int    `query:"limit" default:"50" maximum:"500"`
	}) (*struct {
		Body struct {
			Items []domain.Event `json:"items"`
		} `json:"body"`
	}, error) {
		items, err := c.Ledger.Recent(ctx, ledger.Filters{
			EntityType: input.EntityType,
			Action:     input.Action,
			Source:     input.Source,
			Limit:      input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := &struct {
			Body struct {
				Items []domain.Event `json:"items"`
			} `json:"body"`
		}{}
		resp.Body.Items = items
		if resp.Body.Items == nil {
			resp.Body.Items = []domain.Event{}
		}
		return resp, nil
	})
}

func registerPolicies(api huma.API, c *coach.Coach) {
	huma.Register(api, huma.Operation{
		OperationID: "list-policies",
		Method:      http.MethodGet,
		Path:        "/policies",
		Summary:     "List policy versions",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body struct {
			Items []policy.Policy `json:"items"`
		} `json:"body"`
	}, error) {
		items, err := c.Registry.List(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		resp := &struct {
			Body struct {
				Items []policy.Policy `json:"items"`
			} `json:"body"`
		}{}
		resp.Body.Items = items
		if resp.Body.Items == nil {
			resp.Body.Items = []policy.Policy{}
		}
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-policy",
		Method:      http.MethodGet,
		Path:        "/policies/{id}",
		Summary:     "Get one policy version",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body policy.Policy `json:"body"`
	}, error) {
		p, err := c.Registry.Get(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body policy.Policy `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "activate-policy",
		Method:      http.MethodPost,
		Path:        "/policies/{id}/activate",
		Summary:     "Activate a policy version",
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID      int64  `path:"id"`
		TraceID string `header:"X-Trace-Id"`
	}) (*struct {
		Body policy.Policy `json:"body"`
	}, error) {
		p, err := c.Registry.Activate(ctx, input.ID, input.TraceID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body policy.Policy `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "run-policy-tests",
		Method:      http.MethodPost,
		Path:        "/policies/{id}/tests/run",
		Summary:     "Run a policy's test fixtures",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID      int64  `path:"id"`
		TraceID string `header:"X-Trace-Id"`
	}) (*struct {
		Body registry.TestReport `json:"body"`
	}, error) {
		report, err := c.Registry.RunTests(ctx, input.ID, input.TraceID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body registry.TestReport `json:"body"`
		}{Body: report}, nil
	})
}

func registerReadiness(api huma.API, c *coach.Coach) {
	huma.Register(api, huma.Operation{
		OperationID: "check-readiness",
		Method:      http.MethodPost,
		Path:        "/readiness",
		Summary:     "Evaluate active policies against current metrics",
	}, func(ctx context.Context, input *struct {
		TraceID string `header:"X-Trace-Id"`
		Body    struct {
			Overrides []string `json:"overrides,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body coach.ReadinessReport `json:"body"`
	}, error) {
		report, err := c.CheckReadiness(ctx, coach.ReadinessOptions{
			Overrides: input.Body.Overrides,
			TraceID:   input.TraceID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body coach.ReadinessReport `json:"body"`
		}{Body: report}, nil
	})
}

func registerDecisions(api huma.API, c *coach.Coach) {
	huma.Register(api, huma.Operation{
		OperationID: "list-decisions",
		Method:      http.MethodGet,
		Path:        "/decisions",
		Summary:     "List recent decision records",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"20" maximum:"200"`
	}) (*struct {
		Body struct {
			Items []domain.DecisionRecord `json:"items"`
		} `json:"body"`
	}, error) {
		items, err := c.Decisions.List(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		resp := &struct {
			Body struct {
				Items []domain.DecisionRecord `json:"items"`
			} `json:"body"`
		}{}
		resp.Body.Items = items
		if resp.Body.Items == nil {
			resp.Body.Items = []domain.DecisionRecord{}
		}
		return resp, nil
	})
}

func registerRollback(api huma.API, eng *rollback.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "preview-rollback",
		Method:      http.MethodPost,
		Path:        "/rollback/preview",
		Summary:     "Preview a rollback (dry run only)",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TraceID string `header:"X-Trace-Id"`
		Body    struct {
			ToEventID int64 `json:"to_event_id,omitempty"`
			Last      int   `json:"last,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body rollback.Outcome `json:"body"`
	}, error) {
		// Applying a rollback is a CLI-only operation.
		out, err := eng.Run(ctx, rollback.Options{
			ToEventID: input.Body.ToEventID,
			Last:      input.Body.Last,
			DryRun:    true,
			TraceID:   input.TraceID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body rollback.Outcome `json:"body"`
		}{Body: out}, nil
	})
}
