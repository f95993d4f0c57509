package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"budgetd/internal/core"
)

// errMissingOwner reports that the request carried no usable owner identity.
var errMissingOwner = errors.New("missing or invalid owner identity")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

// writeError translates the core error taxonomy to HTTP statuses:
// validation 422, not found 404, forbidden 403, duplicate title 409 with the
// conflicting budget attached, anything else 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *core.ValidationError
	if errors.As(err, &ve) {
		writeMessage(w, http.StatusUnprocessableEntity, ve.Error())
		return
	}

	if existing, ok := core.IsDuplicateTitle(err); ok {
		writeJSON(w, http.StatusConflict, map[string]any{
			"message": "a budget with this title already exists; confirm to overwrite",
			"budget":  existing,
		})
		return
	}

	switch {
	case errors.Is(err, core.ErrNotFound):
		writeMessage(w, http.StatusNotFound, "budget not found")
	case errors.Is(err, core.ErrForbidden):
		writeMessage(w, http.StatusForbidden, "budget belongs to another user")
	case errors.Is(err, errMissingOwner):
		writeMessage(w, http.StatusUnauthorized, "missing or invalid owner identity")
	default:
		slog.ErrorContext(r.Context(), "Request failed",
			"error", err,
			"method", r.Method,
			"path", r.URL.Path)
		writeMessage(w, http.StatusInternalServerError, "internal server error")
	}
}
