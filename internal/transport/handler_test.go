package transport

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/vehicleflow/internal/config"
	"github.com/pitabwire/vehicleflow/internal/definition"
	"github.com/pitabwire/vehicleflow/internal/openapi"
	"github.com/pitabwire/vehicleflow/internal/workflow"
	"github.com/pitabwire/vehicleflow/model"
)

const testVIN = "1VGBH41JXMN109186"

// --- test helpers ---

// fakeAuth stands in for JWTAuthenticator and injects fixed claims.
func fakeAuth(sub string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := map[string]any{"sub": sub, "roles": []any{"porter"}}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func newTestRouter(t *testing.T) (chi.Router, *workflow.MemoryStore) {
	t.Helper()
	store := workflow.NewMemoryStore()
	engine := workflow.NewEngine(definition.MustDefault(), store,
		workflow.WithIdempotency(workflow.NewMemoryIdempotencyStore(), time.Hour),
	)
	cfg := config.Defaults()
	cfg.Server.HandlerTimeout = 5 * time.Second
	return NewRouter(Dependencies{
		Config:       cfg,
		Engine:       engine,
		Authenticate: fakeAuth("porter-7"),
		Contract:     testContract(t),
	}), store
}

func testContract(t *testing.T) *openapi.Index {
	t.Helper()
	idx, err := openapi.Default()
	require.NoError(t, err)
	return idx
}

func do(t *testing.T, r http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out), "body: %s", w.Body.String())
	return out
}

type errorBody struct {
	Error model.ErrorEnvelope `json:"error"`
}

func register(t *testing.T, r http.Handler, attrs map[string]any) model.Vehicle {
	t.Helper()
	w := do(t, r, "POST", "/v1/vehicles", workflow.RegisterRequest{VIN: testVIN, Attributes: attrs})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[model.Vehicle](t, w)
}

func vehiclePath(suffix string) string {
	return "/v1/vehicles/" + testVIN + suffix
}

// --- Locations ---

func TestHandleLocations(t *testing.T) {
	r, _ := newTestRouter(t)
	w := do(t, r, "GET", "/v1/locations", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode[locationsResponse](t, w)
	assert.Len(t, body.Data, len(model.AllLocations))
	assert.NotEmpty(t, body.Checksum)
	assert.Equal(t, model.LocationNewArrivals, body.Data[0].Location)
}

// --- Register ---

func TestHandleVehicleRegister(t *testing.T) {
	r, _ := newTestRouter(t)
	v := register(t, r, map[string]any{"model": "Golf"})

	assert.Equal(t, model.LocationNewArrivals, v.CurrentLocation)
	assert.Equal(t, model.StepArrival, v.CurrentStep)
	assert.EqualValues(t, 1, v.Version)
}

func TestHandleVehicleRegister_duplicate(t *testing.T) {
	r, _ := newTestRouter(t)
	register(t, r, nil)

	w := do(t, r, "POST", "/v1/vehicles", workflow.RegisterRequest{VIN: testVIN})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, model.ErrConflict, decode[errorBody](t, w).Error.Code)
}

func TestHandleVehicleRegister_badBody(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest("POST", "/v1/vehicles", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, "POST", "/v1/vehicles", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Request body is required", decode[errorBody](t, w).Error.Message)
}

func TestHandleVehicleRegister_contractViolation(t *testing.T) {
	r, store := newTestRouter(t)

	w := do(t, r, "POST", "/v1/vehicles", map[string]any{"location": "car_inventory", "attributes": "Golf"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	ee := decode[errorBody](t, w).Error
	assert.Equal(t, model.ErrBadRequest, ee.Code)
	assert.NotEmpty(t, ee.Details)
	assert.Equal(t, 0, store.Len())
}

func TestHandleAttributesUpdate_nonBooleanFlag(t *testing.T) {
	r, _ := newTestRouter(t)
	register(t, r, map[string]any{"model": "Golf"})

	w := do(t, r, "PATCH", vehiclePath("/attributes"), map[string]any{
		"attributes": map[string]any{"pdiCompleted": "false"},
		"version":    1,
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	ee := decode[errorBody](t, w).Error
	require.NotEmpty(t, ee.Details)
	assert.Equal(t, "attributes.pdiCompleted", ee.Details[0].Field)
}

func TestHandleMoveCreate_contractViolation(t *testing.T) {
	r, _ := newTestRouter(t)
	register(t, r, map[string]any{"model": "Golf"})

	w := do(t, r, "POST", vehiclePath("/moves"), map[string]any{"from": "new_arrivals"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotEmpty(t, decode[errorBody](t, w).Error.Details)
}

func TestHandleContract(t *testing.T) {
	r, _ := newTestRouter(t)
	w := do(t, r, "GET", "/openapi.yaml", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/yaml", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "operationId: createMove")
}

// --- Get ---

func TestHandleVehicleGet_unknown(t *testing.T) {
	r, _ := newTestRouter(t)
	w := do(t, r, "GET", vehiclePath(""), nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, model.ErrEntityNotFound, decode[errorBody](t, w).Error.Code)
}

// --- Moves ---

func TestHandleMoveCreate(t *testing.T) {
	r, _ := newTestRouter(t)
	register(t, r, map[string]any{"model": "Golf"})

	w := do(t, r, "POST", vehiclePath("/moves"), moveBody{
		From:   model.LocationNewArrivals,
		To:     model.LocationCarInventory,
		Reason: "unloaded",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	evt := decode[model.WorkflowEvent](t, w)
	assert.EqualValues(t, 1, evt.Sequence)
	assert.Equal(t, "porter-7", evt.Actor)
	assert.Equal(t, model.StepInitialInspection, evt.ToStep)
	assert.Equal(t, "unloaded", evt.Reason)

	w = do(t, r, "GET", vehiclePath(""), nil)
	require.Equal(t, http.StatusOK, w.Code)
	v := decode[model.Vehicle](t, w)
	assert.Equal(t, model.LocationCarInventory, v.CurrentLocation)
	assert.Len(t, v.LocationHistory, 1)
}

func TestHandleMoveCreate_rejections(t *testing.T) {
	r, _ := newTestRouter(t)
	register(t, r, map[string]any{"model": "Golf"})

	w := do(t, r, "POST", vehiclePath("/moves"), moveBody{From: model.LocationNewArrivals, To: model.LocationSold})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, model.ErrInvalidTransition, decode[errorBody](t, w).Error.Code)

	w = do(t, r, "POST", vehiclePath("/moves"), moveBody{From: model.LocationCarInventory, To: model.LocationShowroomFloor1})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, model.ErrConcurrentModification, decode[errorBody](t, w).Error.Code)

	w = do(t, r, "POST", vehiclePath("/moves"), moveBody{From: model.LocationNewArrivals, To: model.LocationCarInventory})
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(t, r, "POST", vehiclePath("/moves"), moveBody{From: model.LocationCarInventory, To: model.LocationShowroomFloor1})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	ee := decode[errorBody](t, w).Error
	assert.Equal(t, model.ErrMissingRequiredData, ee.Code)
	assert.ElementsMatch(t, []string{"pdiCompleted", "price"}, ee.MissingFields)
}

func TestHandleMoveCreate_idempotencyHeader(t *testing.T) {
	r, store := newTestRouter(t)
	register(t, r, map[string]any{"model": "Golf"})

	body := moveBody{From: model.LocationNewArrivals, To: model.LocationCarInventory}
	first := do(t, r, "POST", vehiclePath("/moves"), body, "Idempotency-Key", "scan-1")
	require.Equal(t, http.StatusCreated, first.Code)
	second := do(t, r, "POST", vehiclePath("/moves"), body, "Idempotency-Key", "scan-1")
	require.Equal(t, http.StatusCreated, second.Code)

	assert.Equal(t, decode[model.WorkflowEvent](t, first).ID, decode[model.WorkflowEvent](t, second).ID)
	assert.Equal(t, 1, store.EventCount())
}

func TestHandleMovesList(t *testing.T) {
	r, _ := newTestRouter(t)
	register(t, r, map[string]any{"model": "Golf"})
	require.Equal(t, http.StatusCreated, do(t, r, "POST", vehiclePath("/moves"),
		moveBody{From: model.LocationNewArrivals, To: model.LocationCarInventory}).Code)

	w := do(t, r, "GET", vehiclePath("/moves"), nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode[struct {
		Data []model.MoveOption `json:"data"`
	}](t, w)

	var floor1 *model.MoveOption
	for i := range body.Data {
		if body.Data[i].Location == model.LocationShowroomFloor1 {
			floor1 = &body.Data[i]
		}
	}
	require.NotNil(t, floor1, "showroom_floor_1 should be offered from car_inventory")
	assert.False(t, floor1.Allowed)
	assert.ElementsMatch(t, []string{"pdiCompleted", "price"}, floor1.MissingFields)
}

// --- Attributes ---

func TestHandleAttributesUpdate(t *testing.T) {
	r, _ := newTestRouter(t)
	register(t, r, map[string]any{"model": "Golf"})

	w := do(t, r, "PATCH", vehiclePath("/attributes"), attributesBody{
		Attributes: map[string]any{"price": 24999},
		Version:    1,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	v := decode[model.Vehicle](t, w)
	assert.EqualValues(t, 2, v.Version)
	assert.EqualValues(t, 24999, v.Attributes["price"])

	w = do(t, r, "PATCH", vehiclePath("/attributes"), attributesBody{
		Attributes: map[string]any{"price": 19999},
		Version:    1,
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, r, "PATCH", vehiclePath("/attributes"), attributesBody{
		Attributes: map[string]any{"price": 19999},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// --- History, recommendation, verify ---

func TestHandleHistory(t *testing.T) {
	r, _ := newTestRouter(t)
	register(t, r, map[string]any{"model": "Golf"})

	w := do(t, r, "GET", vehiclePath("/history"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":[]}`, w.Body.String())

	require.Equal(t, http.StatusCreated, do(t, r, "POST", vehiclePath("/moves"),
		moveBody{From: model.LocationNewArrivals, To: model.LocationCarInventory}).Code)

	w = do(t, r, "GET", vehiclePath("/history"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[struct {
		Data []model.WorkflowEvent `json:"data"`
	}](t, w)
	require.Len(t, body.Data, 1)
	assert.Equal(t, model.LocationCarInventory, body.Data[0].ToLocation)
}

func TestHandleRecommendation(t *testing.T) {
	r, _ := newTestRouter(t)
	register(t, r, map[string]any{"model": "Golf"})

	w := do(t, r, "GET", vehiclePath("/recommendation"), nil)
	require.Equal(t, http.StatusOK, w.Code)

	rec := decode[model.Recommendation](t, w)
	assert.Equal(t, workflow.ActionSchedulePDI, rec.Action)
	assert.Equal(t, model.LocationGarageInventory, rec.Location)
	assert.Equal(t, model.PriorityHigh, rec.Priority)
}

func TestHandleVerify(t *testing.T) {
	r, _ := newTestRouter(t)
	register(t, r, map[string]any{"model": "Golf"})
	require.Equal(t, http.StatusCreated, do(t, r, "POST", vehiclePath("/moves"),
		moveBody{From: model.LocationNewArrivals, To: model.LocationCarInventory}).Code)

	w := do(t, r, "GET", vehiclePath("/verify"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[verifyResponse](t, w)
	assert.True(t, body.Consistent, body.Detail)
}

func TestHandleVerify_unknown(t *testing.T) {
	r, _ := newTestRouter(t)
	w := do(t, r, "GET", vehiclePath("/verify"), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
