package common

import (
	"encoding/json"
	"net/http"
)

// ErrorBody is the error payload returned by every payment endpoint.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// JSON writes the provided value to the response writer as JSON.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// JSONError renders an error response using the canonical error shape.
func JSONError(w http.ResponseWriter, status int, errMsg, message string) {
	JSON(w, status, ErrorBody{Error: errMsg, Message: message})
}

// WriteError maps err onto the taxonomy and renders it. Wrapped causes never reach the body.
func WriteError(w http.ResponseWriter, err error) {
	appErr := AsAppError(err)
	JSONError(w, appErr.Kind.HTTPStatus(), appErr.Public, appErr.Message)
}
