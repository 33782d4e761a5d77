package views

import (
	"encoding/json"
	"net/http"
)

// userError is an error with a client-safe message and a stable machine code.
// The code is part of the API surface; messages are not.
type userError struct {
	status  int
	code    string
	message string
}

func (e userError) Error() string {
	return e.message
}

func (e userError) output(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(e.status)
	json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"code":    e.code,
		"error":   e.message,
	})
}
