package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rendis/varflow/pkg/schema"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": map[string]string{"message": msg}})
}

// writeErr writes err with a status derived from its code.
func writeErr(w http.ResponseWriter, err error) {
	var verr *schema.VarflowError
	if !errors.As(err, &verr) {
		verr = schema.NewError(schema.ErrCodeExecution, err.Error())
	}
	writeJSON(w, httpStatus(verr.Code), map[string]any{"error": verr})
}

func httpStatus(code string) int {
	switch code {
	case schema.ErrCodeNotFound:
		return http.StatusNotFound
	case schema.ErrCodeConflict:
		return http.StatusConflict
	case schema.ErrCodeValidation, schema.ErrCodeCycleDetected, schema.ErrCodeInvalidSelector,
		schema.ErrCodeResolution, schema.ErrCodeUnsupportedMode, schema.ErrCodeAppendOnNonArray,
		schema.ErrCodeTypeMismatch:
		return http.StatusBadRequest
	case schema.ErrCodeCancelled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// queryInt extracts an integer query param with a default value.
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
