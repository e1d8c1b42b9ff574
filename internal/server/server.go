package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"farehop/internal/domain"
	"farehop/internal/engine"
	"farehop/internal/netmon"
	"farehop/internal/repo"
	"farehop/internal/syncer"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Syncer   *syncer.Syncer
	Net      *netmon.Monitor
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"offline"`
	Message string         `json:"message" example:"action requires connectivity"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Farehop API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Farehop API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerReports(group, cfg.Engine)
	registerTickets(group, cfg.Engine)
	registerSync(group, cfg.Engine, cfg.Syncer)
	registerNet(group, cfg.Net)
	registerReference(group, cfg.Engine)
	registerProfile(group, cfg.Engine)

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
	switch {
	case errors.Is(err, engine.ErrOffline):
		return newAPIError(http.StatusConflict, "offline", err.Error(), nil)
	case errors.Is(err, engine.ErrTicketValidated):
		return newAPIError(http.StatusConflict, "already_validated", err.Error(), nil)
	case errors.Is(err, engine.ErrTicketExpired):
		return newAPIError(http.StatusUnprocessableEntity, "ticket_expired", err.Error(), nil)
	case errors.Is(err, engine.ErrInvalidInput):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
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

// SubmitReportRequest is the write payload for a crowd-sourced report.
type SubmitReportRequest struct {
	Type        domain.ReportType `json:"type" enum:"Traffic,Breakdown,Overcrowded,Other"`
	Location    string            `json:"location"`
	Description string            `json:"description,omitempty"`
	VehicleID   string            `json:"vehicle_id,omitempty"`
}

func registerReports(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-report",
		Method:        http.MethodPost,
		Path:          "/reports",
		Summary:       "Submit an incident report",
		Description:   "Online the report goes straight to the remote store; offline it is queued and synced on reconnect.",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body SubmitReportRequest `json:"body"`
	}) (*struct {
		Body domain.Report `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		r, err := e.SubmitReport(ctx, engine.ReportOptions{
			Type:        input.Body.Type,
			Location:    input.Body.Location,
			Description: input.Body.Description,
			VehicleID:   input.Body.VehicleID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Report `json:"body"`
		}{Body: r}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-reports",
		Method:      http.MethodGet,
		Path:        "/reports",
		Summary:     "List reports",
		Description: "Merged view: pending (unsynced) reports first, then confirmed records.",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Report `json:"body"`
	}, error) {
		items, err := e.ListReports(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Report `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-vehicle-reports",
		Method:      http.MethodGet,
		Path:        "/vehicles/{vehicle_id}/reports",
		Summary:     "List reports for a vehicle",
		Description: "Inspection view over a single vehicle's reports. Requires the authority role.",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		VehicleID string `path:"vehicle_id"`
	}) (*struct {
		Body []domain.Report `json:"body"`
	}, error) {
		if authErr := requireRole(ctx, RoleAuthority); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListVehicleReports(ctx, input.VehicleID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Report `json:"body"`
		}{Body: items}, nil
	})
}

// BuyTicketRequest is the purchase payload.
type BuyTicketRequest struct {
	RouteID    string `json:"route_id"`
	FromStop   string `json:"from_stop"`
	ToStop     string `json:"to_stop"`
	Passengers int    `json:"passenger_count" minimum:"1" maximum:"10"`
}

func registerTickets(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "buy-ticket",
		Method:        http.MethodPost,
		Path:          "/tickets",
		Summary:       "Buy a ticket",
		Description:   "Online-only: purchase needs server-side identity assignment.",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body BuyTicketRequest `json:"body"`
	}) (*struct {
		Body domain.Ticket `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		t, err := e.BuyTicket(ctx, engine.TicketOptions{
			RouteID:    input.Body.RouteID,
			FromStop:   input.Body.FromStop,
			ToStop:     input.Body.ToStop,
			Passengers: input.Body.Passengers,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Ticket `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "validate-ticket",
		Method:      http.MethodPost,
		Path:        "/tickets/{ticket_id}/validate",
		Summary:     "Validate a ticket",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		TicketID string `path:"ticket_id"`
		Body     struct {
			Vehicle string `json:"vehicle,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body domain.Ticket `json:"body"`
	}, error) {
		t, err := e.ValidateTicket(ctx, input.TicketID, input.Body.Vehicle)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Ticket `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tickets",
		Method:      http.MethodGet,
		Path:        "/tickets",
		Summary:     "List tickets",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Ticket `json:"body"`
	}, error) {
		if err := e.RefreshTickets(ctx); err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListTickets(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Ticket `json:"body"`
		}{Body: items}, nil
	})
}

func registerSync(api huma.API, e engine.Engine, s *syncer.Syncer) {
	type syncResult struct {
		Synced  int  `json:"synced"`
		Pending int  `json:"pending"`
		Online  bool `json:"online"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "sync-now",
		Method:      http.MethodPost,
		Path:        "/sync",
		Summary:     "Drain the pending write queue",
		Description: "No-op while a drain is already in flight.",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body syncResult `json:"body"`
	}, error) {
		synced, err := s.Drain(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		pending, err := e.Repo.QueueLen(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body syncResult `json:"body"`
		}{Body: syncResult{Synced: synced, Pending: pending, Online: e.Net.Online()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sync-status",
		Method:      http.MethodGet,
		Path:        "/sync",
		Summary:     "Queue status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body struct {
			Pending  []domain.PendingEntry `json:"pending"`
			Draining bool                  `json:"draining"`
		} `json:"body"`
	}, error) {
		entries, err := e.Repo.PendingEntries(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Pending  []domain.PendingEntry `json:"pending"`
				Draining bool                  `json:"draining"`
			} `json:"body"`
		}{}
		out.Body.Pending = entries
		out.Body.Draining = s.Draining()
		return out, nil
	})
}

func registerNet(api huma.API, m *netmon.Monitor) {
	type netState struct {
		Online bool `json:"online"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "net-status",
		Method:      http.MethodGet,
		Path:        "/net",
		Summary:     "Connectivity state",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body netState `json:"body"`
	}, error) {
		return &struct {
			Body netState `json:"body"`
		}{Body: netState{Online: m.Online()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "net-set",
		Method:      http.MethodPut,
		Path:        "/net",
		Summary:     "Set connectivity state",
		Description: "Transition notifications (and the reconnect sync) fire before the response is written.",
	}, func(ctx context.Context, input *struct {
		Body netState `json:"body"`
	}) (*struct {
		Body netState `json:"body"`
	}, error) {
		if err := m.Set(input.Body.Online); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body netState `json:"body"`
		}{Body: netState{Online: m.Online()}}, nil
	})
}

func registerReference(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-routes",
		Method:      http.MethodGet,
		Path:        "/routes",
		Summary:     "List routes",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Route `json:"body"`
	}, error) {
		items, err := e.Repo.ListRoutes(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Route `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-vehicles",
		Method:      http.MethodGet,
		Path:        "/vehicles",
		Summary:     "List vehicles",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Vehicle `json:"body"`
	}, error) {
		items, err := e.Repo.ListVehicles(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Vehicle `json:"body"`
		}{Body: items}, nil
	})
}

func registerProfile(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-profile",
		Method:      http.MethodGet,
		Path:        "/profile",
		Summary:     "Get profile",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.Profile `json:"body"`
	}, error) {
		p, err := e.Profile(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Profile `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-profile",
		Method:      http.MethodPut,
		Path:        "/profile",
		Summary:     "Update profile",
		Errors:      []int{http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body domain.Profile `json:"body"`
	}) (*struct {
		Body domain.Profile `json:"body"`
	}, error) {
		if err := e.UpdateProfile(ctx, input.Body); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Profile `json:"body"`
		}{Body: input.Body}, nil
	})
}
