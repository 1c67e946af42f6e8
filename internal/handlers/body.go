package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

const defaultMaxBodySize = 16 << 10

var (
	errEmptyBody    = errors.New("request body is required")
	errBodyTooLarge = errors.New("request body too large")
	errInvalidJSON  = errors.New("request body must be valid JSON")
)

// decodeJSONBody fills dst from at most limit bytes of JSON and returns the status to answer with
// when it cannot.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, limit int64, dst any) (int, error) {
	if limit <= 0 {
		limit = defaultMaxBodySize
	}
	if r.Body == nil {
		return http.StatusBadRequest, errEmptyBody
	}
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, errBodyTooLarge
	case err != nil:
		return http.StatusBadRequest, err
	case len(bytes.TrimSpace(raw)) == 0:
		return http.StatusBadRequest, errEmptyBody
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return http.StatusBadRequest, errInvalidJSON
	}
	return http.StatusOK, nil
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
