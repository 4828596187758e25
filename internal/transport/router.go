package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/vehicleflow/internal/capability"
	"github.com/pitabwire/vehicleflow/internal/config"
	"github.com/pitabwire/vehicleflow/internal/observability"
	"github.com/pitabwire/vehicleflow/internal/openapi"
	"github.com/pitabwire/vehicleflow/internal/workflow"
	"github.com/pitabwire/vehicleflow/model"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config       *config.Config
	Engine       *workflow.Engine
	Logger       *zap.Logger
	Metrics      *observability.Metrics
	Readiness    observability.ReadinessChecks
	Authenticate func(http.Handler) http.Handler
	Capabilities *capability.Resolver
	Contract     *openapi.Index
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, the API contract, and metrics
// endpoints bypass the authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(logger))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	r.Use(observability.TracingMiddleware)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.MetricsMiddleware)
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		WriteNotFound(w, "Route not found")
	})

	// Public routes.
	r.Get("/health", observability.HandleHealth())
	r.Get("/ready", observability.HandleReady(deps.Readiness))
	r.Get("/openapi.yaml", handleContract)
	if deps.Config.Observability.Metrics.Enabled {
		path := deps.Config.Observability.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, observability.Handler())
	}

	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Use(BuildRequestContext(deps.Config.Identity.RoleClaim))
		r.Use(ResolveCapabilities(deps.Capabilities))
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(logger))

		r.Route("/v1", func(r chi.Router) {
			read := RequireCapability(model.CapVehiclesRead)
			validate := func(operationID string) func(http.Handler) http.Handler {
				return ValidateRequestBody(deps.Contract, operationID)
			}

			r.With(RequireCapability(model.CapLocationsRead)).Get("/locations", handleLocations(deps.Engine))
			r.With(RequireCapability(model.CapVehiclesRegister), validate("registerVehicle")).Post("/vehicles", handleVehicleRegister(deps.Engine))

			r.Route("/vehicles/{vin}", func(r chi.Router) {
				r.With(read).Get("/", handleVehicleGet(deps.Engine))
				r.With(RequireCapability(model.CapAttributesWrite), validate("updateAttributes")).Patch("/attributes", handleAttributesUpdate(deps.Engine))
				r.With(read).Get("/moves", handleMovesList(deps.Engine))
				// The destination capability is checked once the body is decoded.
				r.With(validate("createMove")).Post("/moves", handleMoveCreate(deps.Engine))
				r.With(read).Get("/history", handleHistory(deps.Engine))
				r.With(read).Get("/recommendation", handleRecommendation(deps.Engine))
				r.With(read).Get("/verify", handleVerify(deps.Engine))
			})
		})
	})

	return r
}
