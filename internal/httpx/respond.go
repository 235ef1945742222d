package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/nlambert/agrimarket/internal/market"
	"go.uber.org/zap"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errBody struct {
	Error string `json:"error"`
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return market.Validationf("invalid json")
	}
	return nil
}

// writeError is the single translation point from application errors to
// HTTP statuses. Unexpected errors are logged and surfaced as opaque 500s.
func writeError(log *zap.Logger, w http.ResponseWriter, r *http.Request, err error) {
	switch market.KindOf(err) {
	case market.KindValidation:
		writeJSON(w, http.StatusBadRequest, errBody{err.Error()})
	case market.KindNotFound:
		writeJSON(w, http.StatusNotFound, errBody{err.Error()})
	case market.KindForbidden:
		writeJSON(w, http.StatusForbidden, errBody{err.Error()})
	case market.KindConflict:
		writeJSON(w, http.StatusConflict, errBody{err.Error()})
	default:
		log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errBody{"internal error"})
	}
}
