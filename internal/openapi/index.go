// Package openapi indexes the published vehicleflow API contract and
// validates request bodies against its schemas.
package openapi

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/pitabwire/vehicleflow/model"
)

//go:embed vehicleflow.yaml
var contract []byte

// Contract returns the raw YAML API contract served to clients.
func Contract() []byte {
	return contract
}

// Operation holds a resolved contract operation.
type Operation struct {
	OperationID  string
	Method       string
	PathTemplate string
	RequestBody  *openapi3.RequestBody
}

// Index is an in-memory index of contract operations keyed by operationId.
type Index struct {
	operations map[string]Operation
}

// NewIndex parses and validates an OpenAPI document and indexes every
// operation that declares an operationId.
func NewIndex(data []byte) (*Index, error) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, fmt.Errorf("openapi: loading contract: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("openapi: validating contract: %w", err)
	}

	idx := &Index{operations: make(map[string]Operation)}
	for path, item := range doc.Paths.Map() {
		for method, op := range item.Operations() {
			if op.OperationID == "" {
				continue
			}
			if _, dup := idx.operations[op.OperationID]; dup {
				return nil, fmt.Errorf("openapi: duplicate operationId %s", op.OperationID)
			}
			var body *openapi3.RequestBody
			if op.RequestBody != nil {
				body = op.RequestBody.Value
			}
			idx.operations[op.OperationID] = Operation{
				OperationID:  op.OperationID,
				Method:       method,
				PathTemplate: path,
				RequestBody:  body,
			}
		}
	}
	return idx, nil
}

// Default indexes the embedded contract.
func Default() (*Index, error) {
	return NewIndex(contract)
}

// GetOperation returns the operation with the given operationId.
func (idx *Index) GetOperation(operationID string) (Operation, bool) {
	op, ok := idx.operations[operationID]
	return op, ok
}

// OperationIDs returns every indexed operationId, sorted.
func (idx *Index) OperationIDs() []string {
	ids := make([]string, 0, len(idx.operations))
	for id := range idx.operations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ValidateBody checks a decoded JSON body against the operation's request
// schema. It returns nil when the body conforms or the operation has no
// JSON body schema.
func (idx *Index) ValidateBody(operationID string, body any) []model.FieldError {
	op, ok := idx.operations[operationID]
	if !ok {
		return []model.FieldError{{Code: "UNKNOWN_OPERATION", Message: fmt.Sprintf("operation %s not found", operationID)}}
	}
	if op.RequestBody == nil {
		return nil
	}
	ct := op.RequestBody.Content.Get("application/json")
	if ct == nil || ct.Schema == nil || ct.Schema.Value == nil {
		return nil
	}

	err := ct.Schema.Value.VisitJSON(body, openapi3.MultiErrors())
	if err == nil {
		return nil
	}

	var multi openapi3.MultiError
	if !errors.As(err, &multi) {
		multi = openapi3.MultiError{err}
	}
	details := make([]model.FieldError, 0, len(multi))
	for _, e := range multi {
		details = append(details, fieldError(e))
	}
	return details
}

func fieldError(err error) model.FieldError {
	var se *openapi3.SchemaError
	if !errors.As(err, &se) {
		return model.FieldError{Code: "INVALID", Message: err.Error()}
	}
	return model.FieldError{
		Field:   strings.Join(se.JSONPointer(), "."),
		Code:    "INVALID",
		Message: se.Reason,
	}
}
