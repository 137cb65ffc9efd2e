package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"ecocredit.org/internal/audit"
	"ecocredit.org/internal/obs"
	"ecocredit.org/internal/registry"
)

type claimRequest struct {
	Fingerprint string `json:"fingerprint"`
}

// claimBill registers a fingerprint directly, for collaborators that verify
// evidence outside this service.
func (a *API) claimBill(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, registry.ErrInvalidFingerprint.Error())
		return
	}
	c, err := a.deps.Registry.Claim(r.Context(), req.Fingerprint)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"fingerprint": c.Fingerprint,
		"claimedAt":   c.ClaimedAt.UTC().Format(time.RFC3339Nano),
	})
}

func (a *API) exportBills(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="bills.csv"`)
	w.WriteHeader(http.StatusOK)
	if err := registry.WriteCSV(r.Context(), w, a.deps.Registry); err != nil {
		// headers are gone; the truncated body is all the client gets
		obs.Logger().ErrorContext(r.Context(), "bills export aborted",
			slog.String("request_id", audit.RequestIDFromContext(r.Context())),
			slog.String("error", err.Error()))
	}
}
