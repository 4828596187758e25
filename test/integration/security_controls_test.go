package integration

import (
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/pitabwire/vehicleflow/model"
)

func TestSecurity_NoAuthHeader_Returns401(t *testing.T) {
	h := NewTestHarness(t)
	h.AssertErrorCode(t, h.GET("/v1/locations", ""), http.StatusUnauthorized, model.ErrUnauthorized)
}

func TestSecurity_ExpiredJWT_Returns401(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateExpiredToken(PorterClaims())
	ee := h.AssertErrorCode(t, h.GET("/v1/locations", token), http.StatusUnauthorized, model.ErrUnauthorized)
	assertEqual(t, ee.Message, "Token expired", "message")
}

func TestSecurity_ForeignSignature_Returns401(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateForeignToken(PorterClaims())
	h.AssertErrorCode(t, h.GET("/v1/locations", token), http.StatusUnauthorized, model.ErrUnauthorized)
}

func TestSecurity_NoneAlgorithm_Returns401(t *testing.T) {
	h := NewTestHarness(t)
	// {"alg":"none","typ":"JWT"} . {"sub":"porter-7"} . (empty signature)
	token := "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0.eyJzdWIiOiJwb3J0ZXItNyJ9."
	h.AssertErrorCode(t, h.GET("/v1/locations", token), http.StatusUnauthorized, model.ErrUnauthorized)
}

func TestSecurity_MissingSubject_Returns401(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(TestClaims{Roles: []string{"porter"}})
	h.AssertErrorCode(t, h.GET("/v1/locations", token), http.StatusUnauthorized, model.ErrUnauthorized)
}

func TestSecurity_ValidJWT_Returns200(t *testing.T) {
	h := NewTestHarness(t)
	h.AssertStatus(t, h.GET("/v1/locations", h.GenerateToken(PorterClaims())), http.StatusOK)
}

func TestSecurity_ActorComesFromToken(t *testing.T) {
	h := NewTestHarness(t, WithVehicles(VehicleFixture(journeyVIN)))
	token := h.GenerateToken(PorterClaims())

	// An actor smuggled into the body is ignored.
	body := MoveBody(model.LocationNewArrivals, model.LocationCarInventory)
	body["actor"] = "someone-else"

	var evt model.WorkflowEvent
	h.AssertJSON(t, h.POST(VehiclePath(journeyVIN, "/moves"), body, token), http.StatusCreated, &evt)
	assertEqual(t, evt.Actor, "porter-7", "actor")
}

func TestSecurity_HeadersOnErrorResponse(t *testing.T) {
	h := NewTestHarness(t)
	resp := h.GET("/v1/locations", "")
	defer resp.Body.Close()

	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
	}
	for header, value := range want {
		if got := resp.Header.Get(header); got != value {
			t.Errorf("%s = %q, want %q", header, got, value)
		}
	}
}

func TestSecurity_CorrelationIDReturned(t *testing.T) {
	h := NewTestHarness(t)
	resp := h.GET("/health", "")
	defer resp.Body.Close()

	if resp.Header.Get("X-Correlation-Id") == "" {
		t.Error("X-Correlation-Id header should be set")
	}
}

func TestSecurity_ErrorResponseNoStackTrace(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(PorterClaims())

	resp := h.POST("/v1/vehicles", map[string]any{"vin": 12345}, token)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	for _, leak := range []string{"goroutine", ".go:", "json: cannot unmarshal"} {
		if strings.Contains(string(body), leak) {
			t.Errorf("error body leaks %q: %s", leak, body)
		}
	}
}

func TestSecurity_PathTraversalInVIN(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(PorterClaims())

	resp := h.GET("/v1/vehicles/..%2F..%2Fetc%2Fpasswd", token)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

var lotPolicy = map[string][]string{
	"porter": {
		model.CapVehiclesRead,
		model.CapLocationsRead,
		model.CapMoveInto(model.LocationCarInventory),
	},
	"sales": {
		model.CapVehiclesRead,
		"moves:*",
	},
}

func TestSecurity_PorterCannotSell_Returns403(t *testing.T) {
	h := NewTestHarness(t, WithPolicy(lotPolicy), WithVehicles(VehicleFixture(journeyVIN)))
	token := h.GenerateToken(PorterClaims())

	h.AssertStatus(t, h.POST(VehiclePath(journeyVIN, "/moves"),
		MoveBody(model.LocationNewArrivals, model.LocationCarInventory), token), http.StatusCreated)

	resp := h.POST(VehiclePath(journeyVIN, "/moves"), MoveBody(model.LocationCarInventory, model.LocationSold), token)
	h.AssertErrorCode(t, resp, http.StatusForbidden, model.ErrForbidden)
}

func TestSecurity_RoleWithoutCapability_Returns403(t *testing.T) {
	h := NewTestHarness(t, WithPolicy(lotPolicy))
	token := h.GenerateToken(SalesClaims())
	h.AssertErrorCode(t, h.GET("/v1/locations", token), http.StatusForbidden, model.ErrForbidden)
}

func TestSecurity_ContractServedWithoutAuth(t *testing.T) {
	h := NewTestHarness(t)
	h.AssertStatus(t, h.GET("/openapi.yaml", ""), http.StatusOK)
}
