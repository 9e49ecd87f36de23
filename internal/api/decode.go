package api

import (
	"encoding/json"
	"errors"
	"net/http"
)

// maxBodySize bounds JSON request bodies on these routes.
const maxBodySize = 1 << 20

// decodeJSON decodes the request body into v and writes the error reply
// itself when that fails.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
