package transport

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/pitabwire/vehicleflow/internal/openapi"
	"github.com/pitabwire/vehicleflow/model"
)

// ValidateRequestBody checks JSON bodies against the contract schema for
// operationID before the handler runs. Empty and malformed bodies pass
// through so the handler reports them. A nil index disables validation.
func ValidateRequestBody(idx *openapi.Index, operationID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if idx == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
			if err != nil {
				WriteError(w, model.NewBadRequestError("Request body too large"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(data))

			var body any
			if len(bytes.TrimSpace(data)) > 0 && json.Unmarshal(data, &body) == nil {
				if details := idx.ValidateBody(operationID, body); len(details) > 0 {
					ee := model.NewBadRequestError("Request body does not match the API contract")
					ee.Details = details
					WriteError(w, ee)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func handleContract(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openapi.Contract())
}
