// Package transport contains the HTTP router, middleware chain, and request
// handlers exposing the vehicle workflow engine.
package transport

import (
	"encoding/json"
	"net/http"

	"github.com/pitabwire/vehicleflow/model"
)

// statusForCode maps ErrorEnvelope codes to HTTP status codes.
var statusForCode = map[string]int{
	model.ErrBadRequest:             http.StatusBadRequest,
	model.ErrUnauthorized:           http.StatusUnauthorized,
	model.ErrForbidden:              http.StatusForbidden,
	model.ErrNotFound:               http.StatusNotFound,
	model.ErrConflict:               http.StatusConflict,
	model.ErrInternalError:          http.StatusInternalServerError,
	model.ErrEntityNotFound:         http.StatusNotFound,
	model.ErrInvalidTransition:      http.StatusUnprocessableEntity,
	model.ErrMissingRequiredData:    http.StatusUnprocessableEntity,
	model.ErrConcurrentModification: http.StatusConflict,
}

type errorResponse struct {
	Error *model.ErrorEnvelope `json:"error"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

// WriteError writes err as a JSON error response with the matching HTTP
// status code. Errors that do not wrap an *ErrorEnvelope become a generic
// 500 so infrastructure details never reach the client.
func WriteError(w http.ResponseWriter, err error) {
	writeEnvelope(w, envelopeFor(err))
}

func envelopeFor(err error) *model.ErrorEnvelope {
	ee, ok := model.AsEnvelope(err)
	if !ok {
		return model.NewInternalError()
	}
	return ee
}

func writeEnvelope(w http.ResponseWriter, ee *model.ErrorEnvelope) {
	status := statusForCode[ee.Code]
	if status == 0 {
		status = http.StatusInternalServerError
	}
	WriteJSON(w, status, errorResponse{Error: ee})
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, msg string) {
	WriteError(w, model.NewNotFoundError(msg))
}
