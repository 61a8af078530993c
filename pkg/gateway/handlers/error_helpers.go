package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/vango-go/vai-forms/pkg/gateway/apierror"
	"github.com/vango-go/vai-forms/pkg/gateway/mw"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeAPIErrorJSON(w http.ResponseWriter, reqID string, apiErr *apierror.Error, status int) {
	if apiErr != nil && apiErr.RequestID == "" {
		apiErr.RequestID = reqID
	}
	writeJSON(w, status, apierror.Envelope{Error: apiErr})
}

// writeError maps err through apierror and writes the envelope.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	apiErr, status := apierror.FromError(err, reqID)
	writeAPIErrorJSON(w, reqID, apiErr, status)
}

func invalidRequest(message, param string) *apierror.Error {
	return &apierror.Error{Type: apierror.TypeInvalidRequest, Message: message, Param: param}
}

// decodeJSONBody strictly decodes one JSON object. An empty body leaves dst
// untouched when allowEmpty is set.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any, allowEmpty bool) error {
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		if errors.Is(err, io.EOF) {
			return invalidRequest("request body is required", "")
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return invalidRequest("request body too large", "")
		}
		return invalidRequest(fmt.Sprintf("invalid JSON body: %v", err), "")
	}
	if dec.More() {
		return invalidRequest("request body must contain a single JSON object", "")
	}
	return nil
}
