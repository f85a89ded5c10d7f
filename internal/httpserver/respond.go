package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/wisbric/tellerdesk/internal/apierr"
)

// Respond writes a JSON response with the given status code.
func Respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

// RespondError writes the §6.1 error envelope for a plain kind/message pair.
func RespondError(w http.ResponseWriter, status int, kind apierr.Kind, message string) {
	Respond(w, status, apierr.Envelope{Error: apierr.EnvelopeBody{Kind: kind, Message: message}})
}

// RespondErr writes the §6.1 error envelope derived from err, mapping its
// Kind to an HTTP status automatically.
func RespondErr(w http.ResponseWriter, err error) {
	kind := apierr.KindOf(err)
	Respond(w, apierr.HTTPStatus(kind), apierr.ToEnvelope(err))
}
