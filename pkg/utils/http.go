package utils

import (
	"encoding/json"
	"net/http"
)

// JSONWrite encodes v as the response body. A zero status leaves the
// implicit 200 in place so callers can stream the default path cheaply.
func JSONWrite(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	return json.NewEncoder(w).Encode(v)
}

// JSONError writes an {"error": message} body with the given status.
func JSONError(w http.ResponseWriter, status int, message string) {
	_ = JSONWrite(w, status, map[string]string{"error": message})
}
