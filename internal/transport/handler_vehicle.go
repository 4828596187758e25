package transport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/vehicleflow/internal/observability"
	"github.com/pitabwire/vehicleflow/internal/workflow"
	"github.com/pitabwire/vehicleflow/model"
)

const maxBodyBytes = 1 << 20

// moveBody is the request body for POST /v1/vehicles/{vin}/moves.
type moveBody struct {
	From           model.Location `json:"from"`
	To             model.Location `json:"to"`
	Reason         string         `json:"reason,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// attributesBody is the request body for PATCH /v1/vehicles/{vin}/attributes.
type attributesBody struct {
	Attributes map[string]any `json:"attributes"`
	Version    int64          `json:"version"`
}

type dataResponse struct {
	Data any `json:"data"`
}

type locationsResponse struct {
	Data     []model.LocationConfig `json:"data"`
	Checksum string                 `json:"checksum"`
}

type verifyResponse struct {
	VIN        string `json:"vin"`
	Consistent bool   `json:"consistent"`
	Detail     string `json:"detail,omitempty"`
}

func handleLocations(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		reg := engine.Registry()
		WriteJSON(w, http.StatusOK, locationsResponse{
			Data:     reg.Locations(),
			Checksum: reg.Checksum(),
		})
	}
}

func handleVehicleRegister(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req workflow.RegisterRequest
		if !decodeBody(w, r, &req) {
			return
		}
		v, err := engine.Register(r.Context(), req)
		if err != nil {
			respondError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusCreated, v)
	}
}

func handleVehicleGet(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := engine.GetVehicle(r.Context(), chi.URLParam(r, "vin"))
		if err != nil {
			respondError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, v)
	}
}

func handleAttributesUpdate(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body attributesBody
		if !decodeBody(w, r, &body) {
			return
		}
		if body.Version < 1 {
			WriteError(w, model.NewBadRequestError("version is required"))
			return
		}
		v, err := engine.UpdateAttributes(r.Context(), chi.URLParam(r, "vin"), body.Attributes, body.Version)
		if err != nil {
			respondError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, v)
	}
}

func handleMoveCreate(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body moveBody
		if !decodeBody(w, r, &body) {
			return
		}
		if err := authorize(r.Context(), model.CapMoveInto(body.To)); err != nil {
			WriteError(w, err)
			return
		}

		key := body.IdempotencyKey
		if key == "" {
			key = r.Header.Get("Idempotency-Key")
		}

		req := model.MoveRequest{
			VIN:            chi.URLParam(r, "vin"),
			From:           body.From,
			To:             body.To,
			Reason:         body.Reason,
			Metadata:       body.Metadata,
			IdempotencyKey: key,
		}
		if rctx := model.RequestContextFrom(r.Context()); rctx != nil {
			req.Actor = rctx.Actor()
		}

		event, err := engine.Move(r.Context(), req)
		if err != nil {
			respondError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusCreated, event)
	}
}

func handleMovesList(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		options, err := engine.AvailableMoves(r.Context(), chi.URLParam(r, "vin"))
		if err != nil {
			respondError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, dataResponse{Data: options})
	}
}

func handleHistory(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		events, err := engine.History(r.Context(), chi.URLParam(r, "vin"))
		if err != nil {
			respondError(w, r, err)
			return
		}
		if events == nil {
			events = []model.WorkflowEvent{}
		}
		WriteJSON(w, http.StatusOK, dataResponse{Data: events})
	}
}

func handleRecommendation(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := engine.GetVehicle(r.Context(), chi.URLParam(r, "vin"))
		if err != nil {
			respondError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, engine.Recommend(v))
	}
}

func handleVerify(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vin := chi.URLParam(r, "vin")
		err := engine.Verify(r.Context(), vin)
		switch {
		case err == nil:
			WriteJSON(w, http.StatusOK, verifyResponse{VIN: vin, Consistent: true})
		case errors.Is(err, workflow.ErrAuditDrift):
			WriteJSON(w, http.StatusOK, verifyResponse{VIN: vin, Consistent: false, Detail: err.Error()})
		default:
			respondError(w, r, err)
		}
	}
}

// decodeBody reads a size-limited JSON body into dst. It writes a
// BAD_REQUEST response and returns false on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		msg := "Invalid JSON body"
		if errors.Is(err, io.EOF) {
			msg = "Request body is required"
		}
		WriteError(w, model.NewBadRequestError(msg))
		return false
	}
	return true
}

// respondError renders err and stamps the active trace ID on the envelope.
// Errors without an envelope are logged since the client only sees a
// generic message.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	ee, ok := model.AsEnvelope(err)
	if !ok {
		observability.RequestLogger(r.Context(), zap.NewNop()).Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		ee = model.NewInternalError()
	}
	out := *ee
	out.TraceID = observability.TraceIDFromContext(r.Context())
	writeEnvelope(w, &out)
}
