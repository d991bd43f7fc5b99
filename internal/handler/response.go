package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	apperrors "github.com/marketlens/gateway/internal/errors"
	"github.com/marketlens/gateway/internal/httputil"
	"github.com/marketlens/gateway/internal/service"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

// writeError renders err, letting backend translation errors keep the
// backend's own failure status.
func writeError(w http.ResponseWriter, err error) {
	if appErr, ok := apperrors.AsAppError(err); ok {
		if details, ok := appErr.Details.(service.InvalidResponseDetails); ok {
			httputil.WriteErrorWithStatus(w, details.HTTPStatus(), appErr)
			return
		}
	}
	httputil.WriteError(w, err)
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apperrors.InvalidInput("body", "request body too large")
		}
		return apperrors.InvalidInput("body", "must be a JSON object")
	}
	return nil
}

// readJSONBody returns the raw body, or nil when empty. Non-JSON bodies are
// rejected since the backend only speaks JSON.
func readJSONBody(r *http.Request) (json.RawMessage, error) {
	if r.Body == nil {
		return nil, nil
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, apperrors.InvalidInput("body", "request body too large")
		}
		return nil, apperrors.InvalidInput("body", "could not be read")
	}
	if len(raw) == 0 {
		return nil, nil
	}
	if !json.Valid(raw) {
		return nil, apperrors.InvalidInput("body", "must be valid JSON")
	}
	return raw, nil
}
