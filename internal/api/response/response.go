package response

import (
	"encoding/json"
	"net/http"

	"github.com/ponyhq/pony/internal/model"
)

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}

// WriteOpStatus maps a mutation outcome onto the wire. 304 responses carry
// no body per RFC 9110.
func WriteOpStatus(w http.ResponseWriter, st model.OpStatus) {
	status := st.HTTPStatus()
	if status == http.StatusNotModified {
		w.WriteHeader(status)
		return
	}
	WriteJSON(w, status, st)
}
