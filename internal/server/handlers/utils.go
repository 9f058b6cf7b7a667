package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/babelcloud/gbox-recorder/internal/recording"
)

// RespondJSON sends a JSON response with the given status code and data
func RespondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// RespondError writes {"error": msg}. Session state conflicts map to 409.
func RespondError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	if errors.Is(err, recording.ErrInvalidState) {
		code = http.StatusConflict
	}
	RespondJSON(w, code, map[string]string{"error": err.Error()})
}

func requireMethod(w http.ResponseWriter, req *http.Request, method string) bool {
	if req.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	RespondJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	return false
}
