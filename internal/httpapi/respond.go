package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"ecocredit.org/internal/action"
	"ecocredit.org/internal/audit"
	"ecocredit.org/internal/auth"
	"ecocredit.org/internal/ledger"
	"ecocredit.org/internal/market"
	"ecocredit.org/internal/obs"
	"ecocredit.org/internal/pipeline"
	"ecocredit.org/internal/registry"
	"ecocredit.org/internal/verify"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Field     string `json:"field,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorBody(w, r, code, errorBody{Error: msg})
}

func writeErrorBody(w http.ResponseWriter, r *http.Request, code int, body errorBody) {
	body.RequestID = audit.RequestIDFromContext(r.Context())
	if code == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="ecocredit"`)
	}
	writeJSON(w, code, body)
}

// writeDomainError maps package errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *pipeline.ValidationError
	var failure *verify.Failure
	switch {
	case errors.As(err, &verr):
		writeErrorBody(w, r, http.StatusBadRequest, errorBody{Error: verr.Error(), Code: "validation_error", Field: verr.Field})
	case errors.Is(err, pipeline.ErrDuplicateEvidence):
		writeErrorBody(w, r, http.StatusConflict, errorBody{Error: "this evidence has already been recorded", Code: "duplicate_evidence"})
	case errors.As(err, &failure):
		writeErrorBody(w, r, http.StatusUnprocessableEntity, errorBody{Error: failure.Error(), Code: "verification_failed"})
	case errors.Is(err, auth.ErrUnauthenticated), errors.Is(err, auth.ErrInvalidToken):
		writeError(w, r, http.StatusUnauthorized, err.Error())
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "forbidden")
	case errors.Is(err, action.ErrInvalidTransition):
		writeErrorBody(w, r, http.StatusConflict, errorBody{Error: err.Error(), Code: "invalid_transition"})
	case errors.Is(err, ledger.ErrInsufficientBalance):
		writeErrorBody(w, r, http.StatusConflict, errorBody{Error: err.Error(), Code: "insufficient_balance"})
	case errors.Is(err, market.ErrOutOfStock), errors.Is(err, market.ErrInactive):
		writeErrorBody(w, r, http.StatusConflict, errorBody{Error: err.Error(), Code: "unavailable"})
	case errors.Is(err, registry.ErrAlreadyClaimed):
		writeErrorBody(w, r, http.StatusConflict, errorBody{Error: "already exists", Code: "duplicate_evidence"})
	case errors.Is(err, action.ErrNotFound), errors.Is(err, ledger.ErrNotFound), errors.Is(err, market.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, action.ErrUnknownCategory), errors.Is(err, market.ErrInvalidItem),
		errors.Is(err, registry.ErrInvalidFingerprint), errors.Is(err, ledger.ErrInvalidAmount):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, registry.ErrUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, "registry unavailable")
	default:
		obs.Logger().ErrorContext(r.Context(), "request failed",
			slog.String("request_id", audit.RequestIDFromContext(r.Context())),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errors.New("request body too large")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func parseLimit(raw string, def, max int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < 1 || val > max {
		return 0, errors.New("limit must be between 1 and " + strconv.Itoa(max))
	}
	return val, nil
}
