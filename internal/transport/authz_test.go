package transport

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/vehicleflow/internal/capability"
	"github.com/pitabwire/vehicleflow/internal/config"
	"github.com/pitabwire/vehicleflow/internal/definition"
	"github.com/pitabwire/vehicleflow/internal/workflow"
	"github.com/pitabwire/vehicleflow/model"
)

var testPolicy = map[string][]string{
	"porter": {
		model.CapVehiclesRead,
		model.CapVehiclesRegister,
		model.CapMoveInto(model.LocationCarInventory),
	},
	"viewer":  {model.CapVehiclesRead},
	"manager": {"*"},
}

func roleAuth(sub string, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rs := make([]any, len(roles))
			for i, role := range roles {
				rs[i] = role
			}
			claims := map[string]any{"sub": sub, "roles": rs}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func newAuthorizedRouter(t *testing.T, roles ...string) chi.Router {
	t.Helper()
	engine := workflow.NewEngine(definition.MustDefault(), workflow.NewMemoryStore())
	cfg := config.Defaults()
	cfg.Server.HandlerTimeout = 5 * time.Second
	return NewRouter(Dependencies{
		Config:       cfg,
		Engine:       engine,
		Authenticate: roleAuth("user-1", roles...),
		Capabilities: capability.NewResolver(capability.NewStaticPolicy(testPolicy), time.Minute),
	})
}

func TestRequireCapability_routes(t *testing.T) {
	tests := []struct {
		name   string
		roles  []string
		method string
		path   string
		body   any
		want   int
	}{
		{"viewer reads vehicle", []string{"viewer"}, "GET", vehiclePath(""), nil, http.StatusNotFound},
		{"viewer cannot list locations", []string{"viewer"}, "GET", "/v1/locations", nil, http.StatusForbidden},
		{"viewer cannot register", []string{"viewer"}, "POST", "/v1/vehicles",
			workflow.RegisterRequest{VIN: testVIN}, http.StatusForbidden},
		{"porter cannot write attributes", []string{"porter"}, "PATCH", vehiclePath("/attributes"),
			attributesBody{Attributes: map[string]any{"price": 1}, Version: 1}, http.StatusForbidden},
		{"no roles cannot read", nil, "GET", vehiclePath("/history"), nil, http.StatusForbidden},
		{"manager lists locations", []string{"manager"}, "GET", "/v1/locations", nil, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newAuthorizedRouter(t, tt.roles...)
			w := do(t, r, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			if tt.want == http.StatusForbidden {
				assert.Equal(t, model.ErrForbidden, decode[errorBody](t, w).Error.Code)
			}
		})
	}
}

func TestHandleMoveCreate_destinationCapability(t *testing.T) {
	r := newAuthorizedRouter(t, "porter")
	register(t, r, map[string]any{"model": "Golf"})

	w := do(t, r, "POST", vehiclePath("/moves"), moveBody{
		From: model.LocationNewArrivals,
		To:   model.LocationCarInventory,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, r, "POST", vehiclePath("/moves"), moveBody{
		From: model.LocationCarInventory,
		To:   model.LocationSold,
	})
	require.Equal(t, http.StatusForbidden, w.Code, w.Body.String())
	assert.Contains(t, decode[errorBody](t, w).Error.Message, "moves:enter:sold")
}

func TestResolveCapabilities_disabled(t *testing.T) {
	// newTestRouter has no resolver, so every route is open.
	r, _ := newTestRouter(t)
	w := do(t, r, "GET", "/v1/locations", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthorize_emptySetDenies(t *testing.T) {
	assert.NoError(t, authorize(t.Context(), model.CapVehiclesRead), "nil set means disabled")

	ctx := context.WithValue(t.Context(), capabilitiesKey{}, model.CapabilitySet{})
	err := authorize(ctx, model.CapVehiclesRead)
	assert.True(t, model.IsCode(err, model.ErrForbidden))
}
