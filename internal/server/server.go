package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"gasline/internal/config"
	"gasline/internal/domain"
	"gasline/internal/engine"
	"gasline/internal/engine/gate"
	"gasline/internal/ledger"
	"gasline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	// DepotConfig, when set, enables the webhook dispatcher for that depot.
	DepotConfig *config.Config
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"invalid order status transition created -> dispatched"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"from\":\"created\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Gasline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors are 400 bad_request.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Gasline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerDepots(group, cfg.Engine)
	registerStock(group, cfg.Engine)
	registerQuotes(group, cfg.Engine)
	registerOrders(group, cfg.Engine)
	registerRuns(group, cfg.Engine)
	registerBatches(group, cfg.Engine)
	registerCounts(group, cfg.Engine)
	registerChecklists(group, cfg.Engine)
	registerFleet(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerDevAuth(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine, cfg.DepotConfig)

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
	if se, ok := err.(huma.StatusError); ok {
		return se
	}
	var stale *engine.StaleTransitionError
	if errors.As(err, &stale) {
		return newAPIError(http.StatusConflict, "stale_transition", err.Error(), map[string]any{
			"entity": stale.Entity, "id": stale.ID, "expected_status": stale.Expected,
		})
	}
	var blocked *gate.BlockedError
	if errors.As(err, &blocked) {
		details := map[string]any{
			"template_id": blocked.TemplateID,
			"entity_type": blocked.EntityType,
			"entity_id":   blocked.EntityID,
		}
		if blocked.ResponseID != "" {
			details["response_id"] = blocked.ResponseID
		}
		if len(blocked.FailedItems) > 0 {
			details["failed_items"] = blocked.FailedItems
		}
		return newAPIError(http.StatusConflict, "checklist_blocked", err.Error(), details)
	}
	var invalid *engine.InvalidTransitionError
	if errors.As(err, &invalid) {
		return newAPIError(http.StatusUnprocessableEntity, "invalid_transition", err.Error(), map[string]any{
			"entity": invalid.Entity, "from": invalid.From, "to": invalid.To,
		})
	}
	var movement ledger.InvalidMovementError
	if errors.As(err, &movement) {
		details := map[string]any{}
		if movement.Reason == "" {
			details["cylinder_size"] = string(movement.CylinderSize)
			details["stock_status"] = string(movement.StockStatus)
			details["requested"] = movement.Requested
			details["available"] = movement.Available
		}
		return newAPIError(http.StatusUnprocessableEntity, "invalid_movement", err.Error(), details)
	}
	var qty *engine.InvalidQuantityError
	if errors.As(err, &qty) {
		return newAPIError(http.StatusBadRequest, "invalid_quantity", err.Error(), map[string]any{
			"field": qty.Field, "requested": qty.Requested, "allowed": qty.Allowed,
		})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "already"):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") ||
		strings.Contains(lowered, "required") || strings.Contains(lowered, "unknown"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
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
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

var writeErrors = []int{
	http.StatusBadRequest,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	devLoginPath := path.Join(basePath, "auth/dev/login")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	if !strings.HasPrefix(devLoginPath, "/") {
		devLoginPath = "/" + devLoginPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath || route == devLoginPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Gasline API Docs</title>
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
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
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

type depotPath struct {
	DepotID string `path:"depot_id"`
}

func registerDepots(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-depot",
		Method:        http.MethodPost,
		Path:          "/depots",
		Summary:       "Create depot",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateDepotRequest `json:"body"`
	}) (*struct {
		Body DepotResponse `json:"body"`
	}, error) {
		if input.Body.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.InitDepot(ctx, input.Body.ID, input.Body.Name, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DepotResponse `json:"body"`
		}{Body: depotResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-depots",
		Method:      http.MethodGet,
		Path:        "/depots",
		Summary:     "List depots",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []DepotResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListDepots(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []DepotResponse `json:"body"`
		}{Body: mapDepots(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-depot",
		Method:      http.MethodGet,
		Path:        "/depots/{depot_id}",
		Summary:     "Get depot",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *depotPath) (*struct {
		Body DepotResponse `json:"body"`
	}, error) {
		d, err := e.Repo.GetDepot(ctx, input.DepotID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DepotResponse `json:"body"`
		}{Body: depotResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "depot-status",
		Method:      http.MethodGet,
		Path:        "/depots/{depot_id}/status",
		Summary:     "Depot status",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *depotPath) (*struct {
		Body StatusResponse `json:"body"`
	}, error) {
		d, err := e.Repo.GetDepot(ctx, input.DepotID)
		if err != nil {
			return nil, handleError(err)
		}
		counts, err := e.Repo.CountOrdersByStatus(ctx, d.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StatusResponse `json:"body"`
		}{Body: StatusResponse{DepotID: d.ID, Status: d.Status, OrderCounts: counts}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-depot-config",
		Method:      http.MethodGet,
		Path:        "/depots/{depot_id}/config",
		Summary:     "Get depot config",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *depotPath) (*struct {
		Body config.Config `json:"body"`
	}, error) {
		if _, err := e.Repo.GetDepot(ctx, input.DepotID); err != nil {
			return nil, handleError(err)
		}
		cfg, err := e.Repo.GetDepotConfig(ctx, input.DepotID)
		if errors.Is(err, repo.ErrNotFound) {
			cfg = config.Default(input.DepotID)
		} else if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body config.Config `json:"body"`
		}{Body: *cfg}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-depot-config",
		Method:      http.MethodPut,
		Path:        "/depots/{depot_id}/config",
		Summary:     "Replace depot config",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		DepotID string        `path:"depot_id"`
		Body    config.Config `json:"body"`
	}) (*struct {
		Body config.Config `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		cfg := input.Body
		if err := e.ImportDepotConfig(ctx, input.DepotID, &cfg, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body config.Config `json:"body"`
		}{Body: cfg}, nil
	})
}

func registerStock(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-stock",
		Method:      http.MethodGet,
		Path:        "/depots/{depot_id}/stock",
		Summary:     "Current stock levels",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *depotPath) (*struct {
		Body []StockLevelResponse `json:"body"`
	}, error) {
		proj, err := e.GetStock(ctx, input.DepotID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []StockLevelResponse `json:"body"`
		}{Body: stockResponse(proj)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-stock",
		Method:      http.MethodGet,
		Path:        "/depots/{depot_id}/stock/projection",
		Summary:     "Project stock from the movement ledger",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DepotID string `path:"depot_id"`
		AsOf    string `query:"as_of" format:"date-time"`
	}) (*struct {
		Body []StockLevelResponse `json:"body"`
	}, error) {
		proj, err := e.ProjectStock(ctx, input.DepotID, input.AsOf)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []StockLevelResponse `json:"body"`
		}{Body: stockResponse(proj)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "verify-stock",
		Method:      http.MethodGet,
		Path:        "/depots/{depot_id}/stock/verify",
		Summary:     "Verify stock levels against the movement ledger",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *depotPath) (*struct {
		Body VerifyStockResponse `json:"body"`
	}, error) {
		diff, err := e.VerifyStock(ctx, input.DepotID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body VerifyStockResponse `json:"body"`
		}{Body: verifyResponse(diff)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "record-movement",
		Method:        http.MethodPost,
		Path:          "/depots/{depot_id}/movements",
		Summary:       "Record a cylinder movement",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		DepotID string                `path:"depot_id"`
		Body    RecordMovementRequest `json:"body"`
	}) (*struct {
		Body MovementResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m := domain.CylinderMovement{
			DepotID:        input.DepotID,
			CylinderSize:   domain.CylinderSize(input.Body.CylinderSize),
			MovementType:   domain.MovementType(input.Body.MovementType),
			Quantity:       input.Body.Quantity,
			RelatedOrderID: input.Body.RelatedOrderID,
			ActorID:        actorID,
			Notes:          input.Body.Notes,
		}
		if input.Body.PreviousStatus != nil {
			s := domain.StockStatus(*input.Body.PreviousStatus)
			m.PreviousStatus = &s
		}
		if input.Body.NewStatus != nil {
			s := domain.StockStatus(*input.Body.NewStatus)
			m.NewStatus = &s
		}
		out, err := e.AppendMovement(ctx, m)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MovementResponse `json:"body"`
		}{Body: movementResponse(out)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-movements",
		Method:      http.MethodGet,
		Path:        "/depots/{depot_id}/movements",
		Summary:     "List cylinder movements",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		DepotID      string `path:"depot_id"`
		CylinderSize string `query:"cylinder_size" enum:"9kg,14kg,19kg,48kg"`
		MovementType string `query:"movement_type"`
		OrderID      string `query:"order_id"`
		BatchID      string `query:"batch_id"`
		Since        string `query:"since" format:"date-time"`
		Until        string `query:"until" format:"date-time"`
		Limit        int    `query:"limit" default:"50"`
	}) (*struct {
		Body []MovementResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListMovements(ctx, repo.MovementFilters{
			DepotID:      input.DepotID,
			CylinderSize: input.CylinderSize,
			MovementType: input.MovementType,
			OrderID:      input.OrderID,
			BatchID:      input.BatchID,
			Since:        input.Since,
			Until:        input.Until,
			Limit:        normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []MovementResponse `json:"body"`
		}{Body: mapMovements(items)}, nil
	})
}

func registerQuotes(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-quote",
		Method:        http.MethodPost,
		Path:          "/depots/{depot_id}/quotes",
		Summary:       "Create quote",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		DepotID string             `path:"depot_id"`
		Body    CreateQuoteRequest `json:"body"`
	}) (*struct {
		Body domain.Quote `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetDepot(ctx, input.DepotID); err != nil {
			return nil, handleError(err)
		}
		q, err := e.CreateQuote(ctx, input.DepotID, input.Body.CustomerID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Quote `json:"body"`
		}{Body: q}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-quotes",
		Method:      http.MethodGet,
		Path:        "/depots/{depot_id}/quotes",
		Summary:     "List quotes",
	}, func(ctx context.Context, input *struct {
		DepotID string `path:"depot_id"`
		Status  string `query:"status" enum:"draft,sent,accepted,rejected,expired,converted"`
		Limit   int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Quote `json:"body"`
	}, error) {
		items, err := e.Repo.ListQuotes(ctx, input.DepotID, input.Status, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Quote `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-quote",
		Method:      http.MethodGet,
		Path:        "/depots/{depot_id}/quotes/{quote_id}",
		Summary:     "Get quote",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DepotID string `path:"depot_id"`
		QuoteID string `path:"quote_id"`
	}) (*struct {
		Body domain.Quote `json:"body"`
	}, error) {
		q, err := e.Repo.GetQuote(ctx, input.QuoteID)
		if err != nil {
			return nil, handleError(err)
		}
		if q.DepotID != input.DepotID {
			return nil, handleError(repo.ErrNotFound)
		}
		return &struct {
			Body domain.Quote `json:"body"`
		}{Body: q}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-quote",
		Method:      http.MethodPost,
		Path:        "/depots/{depot_id}/quotes/{quote_id}/transition",
		Summary:     "Transition quote status",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		DepotID string `path:"depot_id"`
		QuoteID string `path:"quote_id"`
		Body    struct {
			Status string `json:"status" enum:"sent,accepted,rejected,expired"`
		} `json:"body"`
	}) (*struct {
		Body domain.Quote `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := depotMatchesQuote(ctx, e, input.DepotID, input.QuoteID); err != nil {
			return nil, handleError(err)
		}
		q, err := e.TransitionQuote(ctx, input.QuoteID, domain.QuoteStatus(input.Body.Status), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Quote `json:"body"`
		}{Body: q}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "convert-quote",
		Method:        http.MethodPost,
		Path:          "/depots/{depot_id}/quotes/{quote_id}/convert",
		Summary:       "Convert accepted quote into an order",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		DepotID string              `path:"depot_id"`
		QuoteID string              `path:"quote_id"`
		Body    ConvertQuoteRequest `json:"body"`
	}) (*struct {
		Body domain.Order `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := depotMatchesQuote(ctx, e, input.DepotID, input.QuoteID); err != nil {
			return nil, handleError(err)
		}
		o, err := e.ConvertQuote(ctx, input.QuoteID, input.Body.SiteID, orderItems(input.Body.Items), input.Body.Priority, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Order `json:"body"`
		}{Body: o}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "expire-quotes",
		Method:      http.MethodPost,
		Path:        "/depots/{depot_id}/quotes/expire",
		Summary:     "Expire overdue quotes",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *depotPath) (*struct {
		Body map[string]int `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.ExpireQuotes(ctx, input.DepotID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]int `json:"body"`
		}{Body: map[string]int{"expired": n}}, nil
	})
}

func depotMatchesQuote(ctx context.Context, e engine.Engine, depotID, quoteID string) error {
	q, err := e.Repo.GetQuote(ctx, quoteID)
	if err != nil {
		return err
	}
	if q.DepotID != depotID {
		return repo.ErrNotFound
	}
	return nil
}

func depotMatchesOrder(ctx context.Context, e engine.Engine, depotID, orderID string) error {
	o, err := e.Repo.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if o.DepotID != depotID {
		return repo.ErrNotFound
	}
	return nil
}

func registerOrders(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-order",
		Method:        http.MethodPost,
		Path:          "/depots/{depot_id}/orders",
		Summary:       "Create order",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		DepotID string             `path:"depot_id"`
		Body    CreateOrderRequest `json:"body"`
	}) (*struct {
		Body domain.Order `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetDepot(ctx, input.DepotID); err != nil {
			return nil, handleError(err)
		}
		o, err := e.CreateOrder(ctx, engine.OrderCreateOptions{
			DepotID:    input.DepotID,
			CustomerID: input.Body.CustomerID,
			SiteID:     input.Body.SiteID,
			Priority:   input.Body.Priority,
			Items:      orderItems(input.Body.Items),
			ActorID:    actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Order `json:"body"`
		}{Body: o}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-orders",
		Method:      http.MethodGet,
		Path:        "/depots/{depot_id}/orders",
		Summary:     "List orders",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		DepotID    string `path:"depot_id"`
		Status     string `query:"status"`
		CustomerID string `query:"customer_id"`
		RunID      string `query:"run_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedOrders `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		cursorTS, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.Repo.ListOrders(ctx, repo.OrderFilters{
			DepotID:         input.DepotID,
			Status:          input.Status,
			CustomerID:      input.CustomerID,
			RunID:           input.RunID,
			Limit:           limit + 1,
			CursorCreatedAt: cursorTS,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedOrders{Items: []domain.Order{}}
		if len(items) > limit {
			last := items[limit-1]
			resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
			items = items[:limit]
		}
		resp.Items = items
		return &struct {
			Body paginatedOrders `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-order",
		Method:      http.MethodGet,
		Path:        "/depots/{depot_id}/orders/{order_id}",
		Summary:     "Get order",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DepotID string `path:"depot_id"`
		OrderID string `path:"order_id"`
	}) (*struct {
		Body domain.Order `json:"body"`
	}, error) {
		o, err := e.Repo.GetOrder(ctx, input.OrderID)
		if err != nil {
			return nil, handleError(err)
		}
		if o.DepotID != input.DepotID {
			return nil, handleError(repo.ErrNotFound)
		}
		return &struct {
			Body domain.Order `json:"body"`
		}{Body: o}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "schedule-order",
		Method:      http.MethodPost,
		Path:        "/depots/{depot_id}/orders/{order_id}/schedule",
		Summary:     "Schedule order",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		DepotID string               `path:"depot_id"`
		OrderID string               `path:"order_id"`
		Body    ScheduleOrderRequest `json:"body"`
	}) (*struct {
		Body domain.Order `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := depotMatchesOrder(ctx, e, input.DepotID, input.OrderID); err != nil {
			return nil, handleError(err)
		}
		o, err := e.ScheduleOrder(ctx, input.OrderID, input.Body.DriverID, input.Body.VehicleID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Order `json:"body"`
		}{Body: o}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-order",
		Method:      http.MethodPost,
		Path:        "/depots/{depot_id}/orders/{order_id}/transition",
		Summary:     "Transition order status",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		DepotID string `path:"depot_id"`
		OrderID string `path:"order_id"`
		Body    struct {
			Status string `json:"status" enum:"scheduled,prepared,loading,in_transit,arrived,cancelled"`
		} `json:"body"`
	}) (*struct {
		Body domain.Order `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := depotMatchesOrder(ctx, e, input.DepotID, input.OrderID); err != nil {
			return nil, handleError(err)
		}
		o, err := e.TransitionOrder(ctx, input.OrderID, domain.OrderStatus(input.Body.Status), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Order `json:"body"`
		}{Body: o}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "dispatch-order",
		Method:      http.MethodPost,
		Path:        "/depots/{depot_id}/orders/{order_id}/dispatch",
		Summary:     "Dispatch loaded order",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		DepotID string `path:"depot_id"`
		OrderID string `path:"order_id"`
	}) (*struct {
		Body domain.Order `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := depotMatchesOrder(ctx, e, input.DepotID, input.OrderID); err != nil {
			return nil, handleError(err)
		}
		o, err := e.DispatchOrder(ctx, input.OrderID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Order `json:"body"`
		}{Body: o}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-delivery",
		Method:      http.MethodPost,
		Path:        "/depots/{depot_id}/orders/{order_id}/delivery",
		Summary:     "Record delivery outcome",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		DepotID string                  `path:"depot_id"`
		OrderID string                  `path:"order_id"`
		Body    CompleteDeliveryRequest `json:"body"`
	}) (*struct {
		Body domain.Order `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := depotMatchesOrder(ctx, e, input.DepotID, input.OrderID); err != nil {
			return nil, handleError(err)
		}
		o, err := e.CompleteDelivery(ctx, input.OrderID, deliveryLines(input.Body.Lines), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Order `json:"body"`
		}{Body: o}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "close-order",
		Method:      http.MethodPost,
		Path:        "/depots/{depot_id}/orders/{order_id}/close",
		Summary:     "Close order",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		DepotID string `path:"depot_id"`
		OrderID string `path:"order_id"`
	}) (*struct {
		Body domain.Order `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := depotMatchesOrder(ctx, e, input.DepotID, input.OrderID); err != nil {
			return nil, handleError(err)
		}
		o, err := e.CloseOrder(ctx, input.OrderID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Order `json:"body"`
		}{Body: o}, nil
	})
}

func registerRuns(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-run",
		Method:        http.MethodPost,
		Path:          "/depots/{depot_id}/runs",
		Summary:       "Create delivery run",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		DepotID string           `path:"depot_id"`
		Body    CreateRunRequest `json:"body"`
	}) (*struct {
		Body domain.ScheduleRun `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetDepot(ctx, input.DepotID); err != nil {
			return nil, handleError(err)
		}
		run, err := e.CreateRun(ctx, input.DepotID, input.Body.VehicleID, input.Body.DriverID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ScheduleRun `json:"body"`
		}{Body: run}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/depots/{depot_id}/runs",
		Summary:     "List delivery runs",
	}, func(ctx context.Context, input *struct {
		DepotID string `path:"depot_id"`
		Status  string `query:"status" enum:"planned,ready,in_progress,completed,cancelled"`
		Limit   int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.ScheduleRun `json:"body"`
	}, error) {
		items, err := e.Repo.ListRuns(ctx, input.DepotID, input.Status, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ScheduleRun `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-run",
		Method:      http.MethodGet,
		Path:        "/depots/{depot_id}/runs/{run_id}",
		Summary:     "Get delivery run",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DepotID string `path:"depot_id"`
		RunID   string `path:"run_id"`
	}) (*struct {
		Body domain.ScheduleRun `json:"body"`
	}, error) {
		run, err := e.Repo.GetRun(ctx, input.RunID)
		if err != nil {
			return nil, handleError(err)
		}
		if run.DepotID != input.DepotID {
			return nil, handleError(repo.ErrNotFound)
		}
		return &struct {
			Body domain.ScheduleRun `json:"body"`
		}{Body: run}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-stop",
		Method:        http.MethodPost,
		Path:          "/depots/{depot_id}/runs/{run_id}/stops",
		Summary:       "Add stop to run",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		DepotID string         `path:"depot_id"`
		RunID   string         `path:"run_id"`
		Body    AddStopRequest `json:"body"`
	}) (*struct {
		Body domain.ScheduleStop `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		stop, err := e.AddStop(ctx, input.RunID, input.Body.OrderID, input.Body.Sequence, input.Body.EstimatedArrival, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ScheduleStop `json:"body"`
		}{Body: stop}, nil
	})

	for _, op := range []struct {
		id, pathSuffix, summary string
		fn                      func(ctx context.Context, runID, actorID string) (domain.ScheduleRun, error)
	}{
		{"ready-run", "ready", "Mark run ready", e.ReadyRun},
		{"start-run", "start", "Start run", e.StartRun},
		{"cancel-run", "cancel", "Cancel run", e.CancelRun},
	} {
		fn := op.fn
		huma.Register(api, huma.Operation{
			OperationID: op.id,
			Method:      http.MethodPost,
			Path:        "/depots/{depot_id}/runs/{run_id}/" + op.pathSuffix,
			Summary:     op.summary,
			Errors:      writeErrors,
		}, func(ctx context.Context, input *struct {
			DepotID string `path:"depot_id"`
			RunID   string `path:"run_id"`
		}) (*struct {
			Body domain.ScheduleRun `json:"body"`
		}, error) {
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			run, err := fn(ctx, input.RunID, actorID)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body domain.ScheduleRun `json:"body"`
			}{Body: run}, nil
		})
	}

	huma.Register(api, huma.Operation{
		OperationID: "complete-run-loading",
		Method:      http.MethodPost,
		Path:        "/depots/{depot_id}/runs/{run_id}/complete-loading",
		Summary:     "Load and dispatch every order on a ready run",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		DepotID string                 `path:"depot_id"`
		RunID   string                 `path:"run_id"`
		Body    CompleteLoadingRequest `json:"body"`
	}) (*struct {
		Body domain.ScheduleRun `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var loaded map[domain.CylinderSize]int
		if len(input.Body.LoadedQuantities) > 0 {
			loaded = make(map[domain.CylinderSize]int, len(input.Body.LoadedQuantities))
			for size, qty := range input.Body.LoadedQuantities {
				loaded[domain.CylinderSize(size)] = qty
			}
		}
		run, err := e.CompleteLoading(ctx, input.RunID, loaded, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ScheduleRun `json:"body"`
		}{Body: run}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "arrive-stop",
		Method:      http.MethodPost,
		Path:        "/depots/{depot_id}/runs/{run_id}/stops/{stop_id}/arrive",
		Summary:     "Record arrival at stop",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		DepotID string `path:"depot_id"`
		RunID   string `path:"run_id"`
		StopID  string `path:"stop_id"`
	}) (*struct {
		Body domain.ScheduleStop `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		stop, err := e.ArriveStop(ctx, input.StopID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ScheduleStop `json:"body"`
		}{Body: stop}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-stop",
		Method:      http.MethodPost,
		Path:        "/depots/{depot_id}/runs/{run_id}/stops/{stop_id}/complete",
		Summary:     "Complete stop with delivery outcome",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		DepotID string                  `path:"depot_id"`
		RunID   string                  `path:"run_id"`
		StopID  string                  `path:"stop_id"`
		Body    CompleteDeliveryRequest `json:"body"`
	}) (*struct {
		Body domain.ScheduleStop `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		stop, err := e.CompleteStop(ctx, input.StopID, deliveryLines(input.Body.Lines), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ScheduleStop `json:"body"`
		}{Body: stop}, nil
	})

	for _, op := range []struct {
		id, pathSuffix, summary string
		fn                      func(ctx context.Context, stopID, actorID string) (domain.ScheduleStop, error)
	}{
		{"fail-stop", "fail", "Fail stop", e.FailStop},
		{"skip-stop", "skip", "Skip stop", e.SkipStop},
	} {
		fn := op.fn
		huma.Register(api, huma.Operation{
			OperationID: op.id,
			Method:      http.MethodPost,
			Path:        "/depots/{depot_id}/runs/{run_id}/stops/{stop_id}/" + op.pathSuffix,
			Summary:     op.summary,
			Errors:      writeErrors,
		}, func(ctx context.Context, input *struct {
			DepotID string `path:"depot_id"`
			RunID   string `path:"run_id"`
			StopID  string `path:"stop_id"`
		}) (*struct {
			Body domain.ScheduleStop `json:"body"`
		}, error) {
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			stop, err := fn(ctx, input.StopID, actorID)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body domain.ScheduleStop `json:"body"`
			}{Body: stop}, nil
		})
	}
}

func registerBatches(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-batch",
		Method:        http.MethodPost,
		Path:          "/depots/{depot_id}/batches",
		Summary:       "Create refill batch",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		DepotID string             `path:"depot_id"`
		Body    CreateBatchRequest `json:"body"`
	}) (*struct {
		Body domain.RefillBatch `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetDepot(ctx, input.DepotID); err != nil {
			return nil, handleError(err)
		}
		b, err := e.CreateBatch(ctx, input.DepotID, domain.CylinderSize(input.Body.CylinderSize), input.Body.PlannedCount, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.RefillBatch `json:"body"`
		}{Body: b}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-batches",
		Method:      http.MethodGet,
		Path:        "/depots/{depot_id}/batches",
		Summary:     "List refill batches",
	}, func(ctx context.Context, input *struct {
		DepotID string `path:"depot_id"`
		Status  string `query:"status" enum:"created,inspecting,filling,qc,passed,failed,stocked"`
		Limit   int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.RefillBatch `json:"body"`
	}, error) {
		items, err := e.Repo.ListBatches(ctx, input.DepotID, input.Status, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.RefillBatch `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-batch",
		Method:      http.MethodGet,
		Path:        "/depots/{depot_id}/batches/{batch_id}",
		Summary:     "Get refill batch",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DepotID string `path:"depot_id"`
		BatchID string `path:"batch_id"`
	}) (*struct {
		Body domain.RefillBatch `json:"body"`
	}, error) {
		b, err := e.Repo.GetBatch(ctx, input.BatchID)
		if err != nil {
			return nil, handleError(err)
		}
		if b.DepotID != input.DepotID {
			return nil, handleError(repo.ErrNotFound)
		}
		return &struct {
			Body domain.RefillBatch `json:"body"`
		}{Body: b}, nil
	})

	type batchPath struct {
		DepotID string `path:"depot_id"`
		BatchID string `path:"batch_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "start-inspection",
		Method:      http.MethodPost,
		Path:        "/depots/{depot_id}/batches/{batch_id}/inspect",
		Summary:     "Start batch inspection",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *batchPath) (*struct {
		Body domain.RefillBatch `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.StartInspection(ctx, input.BatchID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.RefillBatch `json:"body"`
		}{Body: b}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-inspection",
		Method:      http.MethodPost,
		Path:        "/depots/{depot_id}/batches/{batch_id}/inspection",
		Summary:     "Complete batch inspection",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		DepotID string                    `path:"depot_id"`
		BatchID string                    `path:"batch_id"`
		Body    CompleteInspectionRequest `json:"body"`
	}) (*struct {
		Body domain.RefillBatch `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.CompleteInspection(ctx, input.BatchID, input.Body.InspectedCount, input.Body.PassedInspectionCount, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.RefillBatch `json:"body"`
		}{Body: b}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-filling",
		Method:      http.MethodPost,
		Path:        "/depots/{depot_id}/batches/{batch_id}/filling",
		Summary:     "Complete batch filling",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		DepotID string                 `path:"depot_id"`
		BatchID string                 `path:"batch_id"`
		Body    CompleteFillingRequest `json:"body"`
	}) (*struct {
		Body domain.RefillBatch `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.CompleteFilling(ctx, input.BatchID, input.Body.FilledCount, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.RefillBatch `json:"body"`
		}{Body: b}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-qc",
		Method:      http.MethodPost,
		Path:        "/depots/{depot_id}/batches/{batch_id}/qc",
		Summary:     "Complete batch quality control",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		DepotID string            `path:"depot_id"`
		BatchID string            `path:"batch_id"`
		Body    CompleteQCRequest `json:"body"`
	}) (*struct {
		Body domain.RefillBatch `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.CompleteQC(ctx, input.BatchID, input.Body.QCPassedCount, input.Body.Reason, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.RefillBatch `json:"body"`
		}{Body: b}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "fail-batch",
		Method:      http.MethodPost,
		Path:        "/depots/{depot_id}/batches/{batch_id}/fail",
		Summary:     "Fail batch",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		DepotID string           `path:"depot_id"`
		BatchID string           `path:"batch_id"`
		Body    FailBatchRequest `json:"body"`
	}) (*struct {
		Body domain.RefillBatch `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.FailBatch(ctx, input.BatchID, input.Body.Reason, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.RefillBatch `json:"body"`
		}{Body: b}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "stock-batch",
		Method:      http.MethodPost,
		Path:        "/depots/{depot_id}/batches/{batch_id}/stock",
		Summary:     "Stock qc-passed batch",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *batchPath) (*struct {
		Body domain.RefillBatch `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.StockBatch(ctx, input.BatchID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.RefillBatch `json:"body"`
		}{Body: b}, nil
	})
}

func registerCounts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-count",
		Method:        http.MethodPost,
		Path:          "/depots/{depot_id}/counts",
		Summary:       "Submit daily stock count",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		DepotID string             `path:"depot_id"`
		Body    SubmitCountRequest `json:"body"`
	}) (*struct {
		Body domain.DailyCount `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetDepot(ctx, input.DepotID); err != nil {
			return nil, handleError(err)
		}
		dc, err := e.SubmitDailyCount(ctx, input.DepotID, input.Body.CountDate, countLines(input.Body.Lines), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.DailyCount `json:"body"`
		}{Body: dc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-counts",
		Method:      http.MethodGet,
		Path:        "/depots/{depot_id}/counts",
		Summary:     "List daily stock counts",
	}, func(ctx context.Context, input *struct {
		DepotID string `path:"depot_id"`
		Status  string `query:"status" enum:"pending_review,approved,rejected,finalized"`
		Limit   int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.DailyCount `json:"body"`
	}, error) {
		items, err := e.Repo.ListDailyCounts(ctx, input.DepotID, input.Status, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.DailyCount `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-count",
		Method:      http.MethodGet,
		Path:        "/depots/{depot_id}/counts/{count_id}",
		Summary:     "Get daily stock count",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DepotID string `path:"depot_id"`
		CountID string `path:"count_id"`
	}) (*struct {
		Body domain.DailyCount `json:"body"`
	}, error) {
		dc, err := e.Repo.GetDailyCount(ctx, input.CountID)
		if err != nil {
			return nil, handleError(err)
		}
		if dc.DepotID != input.DepotID {
			return nil, handleError(repo.ErrNotFound)
		}
		return &struct {
			Body domain.DailyCount `json:"body"`
		}{Body: dc}, nil
	})

	for _, op := range []struct {
		id, pathSuffix, summary, perm string
		fn                            func(ctx context.Context, countID, actorID string) (domain.DailyCount, error)
	}{
		{"approve-count", "approve", "Approve count variance", "counts.approve", e.ApproveCount},
		{"reject-count", "reject", "Reject count variance", "counts.approve", e.RejectCount},
	} {
		fn, perm := op.fn, op.perm
		huma.Register(api, huma.Operation{
			OperationID: op.id,
			Method:      http.MethodPost,
			Path:        "/depots/{depot_id}/counts/{count_id}/" + op.pathSuffix,
			Summary:     op.summary,
			Errors:      writeErrors,
		}, func(ctx context.Context, input *struct {
			DepotID string `path:"depot_id"`
			CountID string `path:"count_id"`
		}) (*struct {
			Body domain.DailyCount `json:"body"`
		}, error) {
			if err := requirePermission(ctx, perm); err != nil {
				return nil, handleError(err)
			}
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			dc, err := fn(ctx, input.CountID, actorID)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body domain.DailyCount `json:"body"`
			}{Body: dc}, nil
		})
	}
}

func registerChecklists(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "start-checklist",
		Method:        http.MethodPost,
		Path:          "/depots/{depot_id}/checklists",
		Summary:       "Start checklist response",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		DepotID string                `path:"depot_id"`
		Body    StartChecklistRequest `json:"body"`
	}) (*struct {
		Body domain.ChecklistResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetDepot(ctx, input.DepotID); err != nil {
			return nil, handleError(err)
		}
		resp, err := e.StartChecklist(ctx, input.DepotID, input.Body.TemplateID, input.Body.EntityType, input.Body.EntityID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ChecklistResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-checklists",
		Method:      http.MethodGet,
		Path:        "/depots/{depot_id}/checklists",
		Summary:     "List checklist responses",
	}, func(ctx context.Context, input *struct {
		DepotID    string `path:"depot_id"`
		EntityType string `query:"entity_type" enum:"vehicle,driver,order"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.ChecklistResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListChecklistResponses(ctx, input.DepotID, input.EntityType, input.EntityID, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ChecklistResponse `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-checklist",
		Method:      http.MethodPost,
		Path:        "/depots/{depot_id}/checklists/{response_id}/complete",
		Summary:     "Complete checklist response",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		DepotID    string                   `path:"depot_id"`
		ResponseID string                   `path:"response_id"`
		Body       CompleteChecklistRequest `json:"body"`
	}) (*struct {
		Body domain.ChecklistResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		resp, err := e.CompleteChecklist(ctx, input.ResponseID, checklistAnswers(input.Body.Answers), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ChecklistResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-checklist",
		Method:      http.MethodPost,
		Path:        "/depots/{depot_id}/checklists/{response_id}/cancel",
		Summary:     "Cancel checklist response",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		DepotID    string `path:"depot_id"`
		ResponseID string `path:"response_id"`
	}) (*struct {
		Body domain.ChecklistResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		resp, err := e.CancelChecklist(ctx, input.ResponseID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ChecklistResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerFleet(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "upsert-driver",
		Method:      http.MethodPost,
		Path:        "/depots/{depot_id}/drivers",
		Summary:     "Create or update driver",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		DepotID string              `path:"depot_id"`
		Body    UpsertDriverRequest `json:"body"`
	}) (*struct {
		Body domain.Driver `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetDepot(ctx, input.DepotID); err != nil {
			return nil, handleError(err)
		}
		d, err := e.UpsertDriver(ctx, domain.Driver{
			ID:        input.Body.ID,
			DepotID:   input.DepotID,
			Name:      input.Body.Name,
			LicenseNo: input.Body.LicenseNo,
			Status:    input.Body.Status,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Driver `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-drivers",
		Method:      http.MethodGet,
		Path:        "/depots/{depot_id}/drivers",
		Summary:     "List drivers",
	}, func(ctx context.Context, input *depotPath) (*struct {
		Body []domain.Driver `json:"body"`
	}, error) {
		items, err := e.Repo.ListDrivers(ctx, input.DepotID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Driver `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "upsert-vehicle",
		Method:      http.MethodPost,
		Path:        "/depots/{depot_id}/vehicles",
		Summary:     "Create or update vehicle",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		DepotID string               `path:"depot_id"`
		Body    UpsertVehicleRequest `json:"body"`
	}) (*struct {
		Body domain.Vehicle `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetDepot(ctx, input.DepotID); err != nil {
			return nil, handleError(err)
		}
		v, err := e.UpsertVehicle(ctx, domain.Vehicle{
			ID:           input.Body.ID,
			DepotID:      input.DepotID,
			Registration: input.Body.Registration,
			CapacityKg:   input.Body.CapacityKg,
			Status:       input.Body.Status,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Vehicle `json:"body"`
		}{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-vehicles",
		Method:      http.MethodGet,
		Path:        "/depots/{depot_id}/vehicles",
		Summary:     "List vehicles",
	}, func(ctx context.Context, input *depotPath) (*struct {
		Body []domain.Vehicle `json:"body"`
	}, error) {
		items, err := e.Repo.ListVehicles(ctx, input.DepotID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Vehicle `json:"body"`
		}{Body: items}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/depots/{depot_id}/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		DepotID    string `path:"depot_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"depot,order,quote,run,stop,batch,count,checklist,movement,driver,vehicle"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Repo.LatestEventsFrom(ctx, limit+1, cursorID, input.DepotID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := signToken(authCfg.JWTSecret, actor, input.Body.Roles, input.Body.Permissions)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return parts[0], parts[1], nil
}

func composeCursor(ts, id string) string {
	if ts == "" || id == "" {
		return ""
	}
	return ts + "|" + id
}
