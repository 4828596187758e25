package integration

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/pitabwire/vehicleflow/internal/workflow"
	"github.com/pitabwire/vehicleflow/model"
)

const journeyVIN = "1VGBH41JXMN109186"

// ==========================================================================
// Helpers
// ==========================================================================

func move(t *testing.T, h *TestHarness, token, vin string, from, to model.Location) model.WorkflowEvent {
	t.Helper()
	var evt model.WorkflowEvent
	h.AssertJSON(t, h.POST(VehiclePath(vin, "/moves"), MoveBody(from, to), token), http.StatusCreated, &evt)
	return evt
}

func patchAttributes(t *testing.T, h *TestHarness, token, vin string, attrs map[string]any) model.Vehicle {
	t.Helper()
	var current model.Vehicle
	h.AssertJSON(t, h.GET(VehiclePath(vin, ""), token), http.StatusOK, &current)

	var updated model.Vehicle
	h.AssertJSON(t, h.PATCH(VehiclePath(vin, "/attributes"), map[string]any{
		"attributes": attrs,
		"version":    current.Version,
	}, token), http.StatusOK, &updated)
	return updated
}

// ==========================================================================
// Full lot journey
// ==========================================================================

func TestVehicle_FullJourney(t *testing.T) {
	h := NewTestHarness(t, WithRedis())
	porter := h.GenerateToken(PorterClaims())
	sales := h.GenerateToken(SalesClaims())

	// 1. Register at new_arrivals.
	var v model.Vehicle
	h.AssertJSON(t, h.POST("/v1/vehicles", VehicleFixture(journeyVIN), porter), http.StatusCreated, &v)
	assertEqual(t, v.CurrentStep, model.StepArrival, "registered step")

	// 2. Recommendation before PDI.
	var rec model.Recommendation
	h.AssertJSON(t, h.GET(VehiclePath(journeyVIN, "/recommendation"), porter), http.StatusOK, &rec)
	assertEqual(t, rec.Action, workflow.ActionSchedulePDI, "first recommendation")

	// 3. Walk the lot.
	evt := move(t, h, porter, journeyVIN, model.LocationNewArrivals, model.LocationGarageInventory)
	assertEqual(t, evt.ToStep, model.StepPDIPending, "garage step")

	patchAttributes(t, h, porter, journeyVIN, map[string]any{"pdiCompleted": true})
	evt = move(t, h, porter, journeyVIN, model.LocationGarageInventory, model.LocationQualityControl)
	assertEqual(t, evt.ToStep, model.StepQualityCheck, "quality control step")

	patchAttributes(t, h, porter, journeyVIN, map[string]any{"showroomReady": true, "price": 24999})
	move(t, h, porter, journeyVIN, model.LocationQualityControl, model.LocationShowroomInventory)
	evt = move(t, h, porter, journeyVIN, model.LocationShowroomInventory, model.LocationShowroomFloor2)
	assertEqual(t, evt.ToStep, model.StepShowroomDisplay, "showroom step")

	// 4. Sales closes the deal.
	patchAttributes(t, h, sales, journeyVIN, map[string]any{
		"customerName":    "Ada Lovelace",
		"deliveryAddress": "1 Analytical Way",
	})
	evt = move(t, h, sales, journeyVIN, model.LocationShowroomFloor2, model.LocationSold)
	assertEqual(t, evt.Actor, "sales-3", "sale actor")
	evt = move(t, h, porter, journeyVIN, model.LocationSold, model.LocationShipped)
	assertEqual(t, evt.ToStep, model.StepDelivered, "shipped step")
	assertEqual(t, evt.Sequence, int64(6), "final sequence")

	// 5. Terminal: nothing to recommend, nowhere to go.
	h.AssertJSON(t, h.GET(VehiclePath(journeyVIN, "/recommendation"), porter), http.StatusOK, &rec)
	assertEqual(t, rec.Action, workflow.ActionNone, "terminal recommendation")

	var moves struct {
		Data []model.MoveOption `json:"data"`
	}
	h.AssertJSON(t, h.GET(VehiclePath(journeyVIN, "/moves"), porter), http.StatusOK, &moves)
	if len(moves.Data) != 0 {
		t.Errorf("terminal vehicle offers %d moves, want 0", len(moves.Data))
	}

	// 6. Audit trail replays to the stored state.
	var history struct {
		Data []model.WorkflowEvent `json:"data"`
	}
	h.AssertJSON(t, h.GET(VehiclePath(journeyVIN, "/history"), porter), http.StatusOK, &history)
	if len(history.Data) != 6 {
		t.Fatalf("history length = %d, want 6", len(history.Data))
	}
	for i, e := range history.Data {
		assertEqual(t, e.Sequence, int64(i+1), "history sequence")
	}

	var verify struct {
		Consistent bool   `json:"consistent"`
		Detail     string `json:"detail"`
	}
	h.AssertJSON(t, h.GET(VehiclePath(journeyVIN, "/verify"), porter), http.StatusOK, &verify)
	if !verify.Consistent {
		t.Errorf("verify: %s", verify.Detail)
	}

	// 7. Every move reached the event streams.
	h.FlushNotifications()
	if got := len(h.StreamEvents("vehicle.moved")); got != 6 {
		t.Errorf("vehicle.moved entries = %d, want 6", got)
	}
	sold := h.StreamEvents("vehicle.sold")
	if len(sold) != 1 {
		t.Fatalf("vehicle.sold entries = %d, want 1", len(sold))
	}
	if got := len(h.StreamEvents("vehicle.shipped")); got != 1 {
		t.Errorf("vehicle.shipped entries = %d, want 1", got)
	}
	assertStreamVIN(t, sold[0].Values, journeyVIN)
}

func assertStreamVIN(t *testing.T, values []string, vin string) {
	t.Helper()
	fields := make(map[string]string, len(values)/2)
	for i := 0; i+1 < len(values); i += 2 {
		fields[values[i]] = values[i+1]
	}
	if fields["vin"] != vin {
		t.Errorf("stream vin = %q, want %q", fields["vin"], vin)
	}
	var msg struct {
		Event model.WorkflowEvent `json:"event"`
	}
	if err := json.Unmarshal([]byte(fields["data"]), &msg); err != nil {
		t.Fatalf("decode stream data: %v", err)
	}
	if msg.Event.VIN != vin {
		t.Errorf("stream event vin = %q, want %q", msg.Event.VIN, vin)
	}
}

// ==========================================================================
// Rejections
// ==========================================================================

func TestVehicle_RejectionsLeaveNoTrace(t *testing.T) {
	h := NewTestHarness(t, WithRedis(), WithVehicles(VehicleFixture(journeyVIN)))
	token := h.GenerateToken(PorterClaims())

	h.AssertErrorCode(t, h.POST(VehiclePath(journeyVIN, "/moves"),
		MoveBody(model.LocationNewArrivals, model.LocationSold), token),
		http.StatusUnprocessableEntity, model.ErrInvalidTransition)

	move(t, h, token, journeyVIN, model.LocationNewArrivals, model.LocationCarInventory)

	ee := h.AssertErrorCode(t, h.POST(VehiclePath(journeyVIN, "/moves"),
		MoveBody(model.LocationCarInventory, model.LocationShowroomFloor1), token),
		http.StatusUnprocessableEntity, model.ErrMissingRequiredData)
	if len(ee.MissingFields) != 2 {
		t.Errorf("missing fields = %v, want pdiCompleted and price", ee.MissingFields)
	}

	h.AssertErrorCode(t, h.POST(VehiclePath(journeyVIN, "/moves"),
		MoveBody(model.LocationNewArrivals, model.LocationCarInventory), token),
		http.StatusConflict, model.ErrConcurrentModification)

	if got := h.Store.EventCount(); got != 1 {
		t.Errorf("stored events = %d, want 1", got)
	}
	h.FlushNotifications()
	if got := len(h.StreamEvents("vehicle.moved")); got != 1 {
		t.Errorf("vehicle.moved entries = %d, want 1", got)
	}
}

func TestVehicle_UnknownVIN(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(PorterClaims())

	for _, suffix := range []string{"", "/history", "/moves", "/recommendation", "/verify"} {
		h.AssertErrorCode(t, h.GET(VehiclePath("WVWZZZ1JZXW000404", suffix), token),
			http.StatusNotFound, model.ErrEntityNotFound)
	}
}

// ==========================================================================
// Idempotency
// ==========================================================================

func TestVehicle_IdempotentRetryAcrossRedis(t *testing.T) {
	h := NewTestHarness(t, WithRedis(), WithVehicles(VehicleFixture(journeyVIN)))
	token := h.GenerateToken(PorterClaims())
	headers := map[string]string{"Idempotency-Key": "scanner-42-0001"}
	body := MoveBody(model.LocationNewArrivals, model.LocationCarInventory)

	var first, second model.WorkflowEvent
	h.AssertJSON(t, h.POSTWithHeaders(VehiclePath(journeyVIN, "/moves"), body, token, headers), http.StatusCreated, &first)
	h.AssertJSON(t, h.POSTWithHeaders(VehiclePath(journeyVIN, "/moves"), body, token, headers), http.StatusCreated, &second)

	assertEqual(t, second.ID, first.ID, "replayed event id")
	assertEqual(t, h.Store.EventCount(), 1, "stored events")

	if !h.Redis.Exists("idem:move:" + journeyVIN + ":scanner-42-0001") {
		t.Errorf("idempotency entry missing, redis keys = %v", h.Redis.Keys())
	}

	// Same key, different move.
	h.AssertErrorCode(t, h.POSTWithHeaders(VehiclePath(journeyVIN, "/moves"),
		MoveBody(model.LocationCarInventory, model.LocationRepairs), token, headers),
		http.StatusConflict, model.ErrConflict)
}
