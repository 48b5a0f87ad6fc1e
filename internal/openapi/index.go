// Package openapi embeds the configurator API document, indexes its
// operations and validates incoming requests against it.
package openapi

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"
)

//go:embed configurator.yaml
var document []byte

// IndexedOperation holds a resolved API operation.
type IndexedOperation struct {
	OperationID  string
	Method       string
	PathTemplate string
	Parameters   []*openapi3.Parameter
	RequestBody  *openapi3.RequestBody
}

// ValidationError describes a schema validation error.
type ValidationError struct {
	Field   string
	Message string
}

// Index is an in-memory index of API operations keyed by operationId.
type Index struct {
	doc        *openapi3.T
	router     routers.Router
	operations map[string]IndexedOperation
}

// Load parses and indexes the embedded API document.
func Load() (*Index, error) {
	return LoadData(document)
}

// LoadData parses, validates and indexes an API document.
func LoadData(data []byte) (*Index, error) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, fmt.Errorf("openapi: loading document: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("openapi: validating document: %w", err)
	}

	router, err := legacy.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("openapi: building router: %w", err)
	}

	idx := &Index{
		doc:        doc,
		router:     router,
		operations: make(map[string]IndexedOperation),
	}

	for path, pathItem := range doc.Paths.Map() {
		for method, op := range pathItem.Operations() {
			if op.OperationID == "" {
				continue
			}

			// Merge path-level and operation-level parameters.
			params := make([]*openapi3.Parameter, 0)
			for _, ref := range pathItem.Parameters {
				if ref.Value != nil {
					params = append(params, ref.Value)
				}
			}
			for _, ref := range op.Parameters {
				if ref.Value != nil {
					params = append(params, ref.Value)
				}
			}

			var reqBody *openapi3.RequestBody
			if op.RequestBody != nil && op.RequestBody.Value != nil {
				reqBody = op.RequestBody.Value
			}

			idx.operations[op.OperationID] = IndexedOperation{
				OperationID:  op.OperationID,
				Method:       method,
				PathTemplate: path,
				Parameters:   params,
				RequestBody:  reqBody,
			}
		}
	}

	return idx, nil
}

// GetOperation returns the indexed operation with the given operationId.
func (idx *Index) GetOperation(operationID string) (IndexedOperation, bool) {
	op, ok := idx.operations[operationID]
	return op, ok
}

// OperationIDs returns all operation ids, sorted.
func (idx *Index) OperationIDs() []string {
	ids := make([]string, 0, len(idx.operations))
	for id := range idx.operations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// MarshalJSON renders the document as JSON.
func (idx *Index) MarshalJSON() ([]byte, error) {
	return idx.doc.MarshalJSON()
}

// ValidateRequest checks parameters and body of r against its documented
// operation. Requests that match no operation are not validated.
func (idx *Index) ValidateRequest(r *http.Request) []ValidationError {
	route, pathParams, err := idx.router.FindRoute(r)
	if err != nil {
		return nil
	}

	err = openapi3filter.ValidateRequest(r.Context(), &openapi3filter.RequestValidationInput{
		Request:    r,
		PathParams: pathParams,
		Route:      route,
		Options: &openapi3filter.Options{
			MultiError:         true,
			AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
		},
	})
	if err == nil {
		return nil
	}
	return flatten(err)
}

func flatten(err error) []ValidationError {
	var multi openapi3.MultiError
	if errors.As(err, &multi) {
		var out []ValidationError
		for _, e := range multi {
			out = append(out, flatten(e)...)
		}
		return out
	}

	var reqErr *openapi3filter.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.Err != nil {
			var nested openapi3.MultiError
			if errors.As(reqErr.Err, &nested) {
				out := make([]ValidationError, 0, len(nested))
				for _, e := range nested {
					out = append(out, describe(reqErr, e))
				}
				return out
			}
		}
		return []ValidationError{describe(reqErr, reqErr.Err)}
	}

	return []ValidationError{{Message: err.Error()}}
}

func describe(reqErr *openapi3filter.RequestError, cause error) ValidationError {
	field := "body"
	if reqErr.Parameter != nil {
		field = reqErr.Parameter.Name
	}

	var schemaErr *openapi3.SchemaError
	if cause != nil && errors.As(cause, &schemaErr) {
		if ptr := schemaErr.JSONPointer(); len(ptr) > 0 && reqErr.Parameter == nil {
			field = strings.Join(ptr, ".")
		}
		return ValidationError{Field: field, Message: schemaErr.Reason}
	}

	msg := reqErr.Reason
	if msg == "" && cause != nil {
		msg = cause.Error()
	}
	if msg == "" {
		msg = reqErr.Error()
	}
	return ValidationError{Field: field, Message: msg}
}
