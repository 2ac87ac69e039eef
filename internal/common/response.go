package common

import (
	"encoding/json"
	"net/http"
)

// ErrorBody is the error envelope used by the non-gateway routes.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// JSON encodes v as the response body with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// JSONError renders {"error": {"code": ..., "message": ...}}.
func JSONError(w http.ResponseWriter, status int, code, message string) {
	JSON(w, status, map[string]ErrorBody{"error": {Code: code, Message: message}})
}
