package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"ecocredit.org/internal/action"
	"ecocredit.org/internal/audit"
	"ecocredit.org/internal/ledger"
)

type listEntriesResponse struct {
	Items     []ledger.Entry `json:"items"`
	NextAfter uint64         `json:"next_after"`
	AsOf      time.Time      `json:"as_of"`
}

// accountParam returns the path account id when the caller may act on it.
func accountParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if !canActFor(r, id) {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return "", false
	}
	return id, true
}

func (a *API) getAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := accountParam(w, r)
	if !ok {
		return
	}
	acc, err := a.deps.Ledger.GetAccount(r.Context(), id)
	if errors.Is(err, ledger.ErrNotFound) {
		// accounts exist from first sign-in; the ledger opens them lazily
		acc, err = a.deps.Ledger.OpenAccount(r.Context(), id)
	}
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (a *API) listAccountActions(w http.ResponseWriter, r *http.Request) {
	id, ok := accountParam(w, r)
	if !ok {
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"), 20, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	items, err := a.deps.Actions.ListByAccount(r.Context(), id, limit)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if items == nil {
		items = []action.Action{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) listEntries(w http.ResponseWriter, r *http.Request) {
	id, ok := accountParam(w, r)
	if !ok {
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"), 100, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var after uint64
	if raw := strings.TrimSpace(r.URL.Query().Get("after")); raw != "" {
		after, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "after must be a non-negative integer")
			return
		}
	}
	items, next, err := a.deps.Ledger.Entries(r.Context(), id, limit, after)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if items == nil {
		items = []ledger.Entry{}
	}
	writeJSON(w, http.StatusOK, listEntriesResponse{Items: items, NextAfter: next, AsOf: time.Now().UTC()})
}

type premiumRequest struct {
	Premium *bool `json:"premium"`
}

func (a *API) setPremium(w http.ResponseWriter, r *http.Request) {
	id, ok := accountParam(w, r)
	if !ok {
		return
	}
	req := premiumRequest{}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
	}
	premium := true
	if req.Premium != nil {
		premium = *req.Premium
	}
	if _, err := a.deps.Ledger.OpenAccount(r.Context(), id); err != nil {
		writeDomainError(w, r, err)
		return
	}
	acc, err := a.deps.Ledger.SetPremium(r.Context(), id, premium)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "account.premium.updated", map[string]any{
		"account_id": id,
		"premium":    premium,
	})
	writeJSON(w, http.StatusOK, acc)
}
