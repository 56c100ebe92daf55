// Package apiutil provides the shared JSON response helpers used by every
// handler under internal/api: the flat error envelope of spec §6/§7, and a
// thin JSON decode wrapper that reports malformed bodies as apperr.
package apiutil

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/semanticweft/node/internal/apperr"
)

// errorBody is the wire shape of spec §6: { error: string, code: string }.
// This intentionally does not nest the message under "error" — the spec's
// envelope is flat, unlike the chat-style { error: { code, message } } shape.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// WriteJSON writes data as the response body with the given status, with no
// enclosing envelope — every handler response shape in spec §6 is already
// the full body (units, {units,cursor,has_more}, {peers}, ...).
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// EncodeJSON writes data as the response body without touching headers or
// status, for callers that need a non-default Content-Type (e.g. WebFinger's
// application/jrd+json).
func EncodeJSON(w http.ResponseWriter, data interface{}) {
	json.NewEncoder(w).Encode(data)
}

// WriteNoContent writes a 204 No Content response with no body.
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// WriteError writes the flat error envelope directly, for the few call
// sites that don't go through an apperr.Error (e.g. early request parsing
// before a Kind is known).
func WriteError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{Error: message, Code: code})
}

// WriteAppError maps err to the HTTP status/code/message of spec §7. Errors
// that are not an *apperr.Error are treated as internal faults and logged;
// their underlying cause is never serialised to the client.
func WriteAppError(w http.ResponseWriter, logger *slog.Logger, err error) {
	ae, ok := apperr.As(err)
	if !ok {
		logger.Error("unhandled error", slog.String("error", err.Error()))
		WriteError(w, http.StatusInternalServerError, "internal_error", "an unexpected error occurred")
		return
	}
	if ae.Kind == apperr.Internal {
		attrs := []slog.Attr{slog.String("code", ae.Code)}
		if ae.Wrapped != nil {
			attrs = append(attrs, slog.String("cause", ae.Wrapped.Error()))
		}
		logger.LogAttrs(context.Background(), slog.LevelError, ae.Message, attrs...)
	}
	WriteError(w, ae.Status(), ae.Code, ae.Message)
}

// DecodeJSON decodes r's body into dst, returning an apperr.InvalidJSON on
// failure so handlers can propagate it through WriteAppError uniformly.
func DecodeJSON(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperr.InvalidJSONf("request body is not valid JSON")
	}
	return nil
}
