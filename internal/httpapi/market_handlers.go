package httpapi

import (
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"ecocredit.org/internal/audit"
	"ecocredit.org/internal/auth"
	"ecocredit.org/internal/market"
	"ecocredit.org/internal/obs"
	"ecocredit.org/internal/stream"
)

type createItemRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	CreditCost  decimal.Decimal `json:"creditCost"`
	Stock       *int            `json:"stock"`
	Active      *bool           `json:"isActive"`
}

type redeemRequest struct {
	AccountID string `json:"accountId"`
	ItemID    string `json:"itemId"`
}

func (a *API) listItems(w http.ResponseWriter, r *http.Request) {
	activeOnly := true
	if r.URL.Query().Get("all") == "true" && auth.HasRole(r.Context(), auth.RoleAdmin) {
		activeOnly = false
	}
	items, err := a.deps.Market.ListItems(r.Context(), activeOnly)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) createItem(w http.ResponseWriter, r *http.Request) {
	var req createItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	it := market.Item{
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		CreditCost:  req.CreditCost,
		Stock:       req.Stock,
		Active:      req.Active == nil || *req.Active,
	}
	created, err := a.deps.Market.CreateItem(r.Context(), it)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "marketplace.item.created", map[string]any{
		"item_id":     created.ID,
		"credit_cost": created.CreditCost.String(),
	})
	w.Header().Set("Location", "/v1/marketplace/items/"+created.ID)
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) redeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	itemID := strings.TrimSpace(req.ItemID)
	if itemID == "" {
		writeErrorBody(w, r, http.StatusBadRequest, errorBody{Error: "itemId is required", Field: "itemId"})
		return
	}
	accountID := strings.TrimSpace(req.AccountID)
	if accountID == "" {
		accountID, _ = auth.UserIDFromContext(r.Context())
	}
	if !canActFor(r, accountID) {
		writeError(w, r, http.StatusForbidden, "cannot redeem for another account")
		return
	}

	red, err := a.deps.Market.Redeem(r.Context(), accountID, itemID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	obs.ObservePosting("marketplace_redeem")
	_ = audit.LogEvent(r.Context(), "marketplace.redeemed", map[string]any{
		"redemption_id": red.ID,
		"account_id":    red.AccountID,
		"item_id":       red.ItemID,
		"cost":          red.Cost.String(),
		"entry_id":      red.EntryID,
	})
	cost := red.Cost
	stream.Publish(a.publisher(), stream.Event{
		Type:      stream.EventCreditRedeemed,
		AccountID: red.AccountID,
		ItemID:    red.ItemID,
		Amount:    &cost,
	})
	writeJSON(w, http.StatusCreated, red)
}
