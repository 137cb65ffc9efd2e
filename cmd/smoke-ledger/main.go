package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/shopspring/decimal"
)

// Smoke test against a running API started with auth.allow_dev_tokens:
// submit an energy action, approve it as an admin, and check the credit landed.
func main() {
	base := os.Getenv("ECOCREDIT_SMOKE_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	c := &client{base: base, http: &http.Client{Timeout: 5 * time.Second}}

	account := fmt.Sprintf("smoke-%d", time.Now().UnixNano())
	userToken := c.token(ctx, account, "", "user")
	adminToken := c.token(ctx, "smoke-admin", "", "admin")

	var before struct {
		CreditBalance decimal.Decimal `json:"creditBalance"`
	}
	c.call(ctx, http.MethodGet, "/v1/accounts/"+account, userToken, nil, http.StatusOK, &before)

	var submitted struct {
		Action struct {
			ID       string          `json:"id"`
			Status   string          `json:"status"`
			CO2Saved decimal.Decimal `json:"co2Saved"`
		} `json:"action"`
	}
	c.call(ctx, http.MethodPost, "/v1/actions", userToken, map[string]any{
		"category":    "energy",
		"description": "smoke test",
		"energySaved": 4.2,
	}, http.StatusCreated, &submitted)
	if submitted.Action.Status != "pending" {
		log.Fatalf("expected pending action, got %q", submitted.Action.Status)
	}

	c.call(ctx, http.MethodPost, "/v1/admin/actions/"+submitted.Action.ID+"/review", adminToken,
		map[string]any{"approve": true}, http.StatusOK, nil)
	c.call(ctx, http.MethodPost, "/v1/admin/actions/"+submitted.Action.ID+"/review", adminToken,
		map[string]any{"approve": true}, http.StatusConflict, nil)

	var after struct {
		CreditBalance decimal.Decimal `json:"creditBalance"`
	}
	c.call(ctx, http.MethodGet, "/v1/accounts/"+account, userToken, nil, http.StatusOK, &after)

	want := before.CreditBalance.Add(submitted.Action.CO2Saved)
	if !after.CreditBalance.Equal(want) {
		log.Fatalf("unexpected balance: got %s want %s", after.CreditBalance, want)
	}
	fmt.Printf("smoke test passed: account=%s action=%s balance=%s\n", account, submitted.Action.ID, after.CreditBalance)
}

type client struct {
	base string
	http *http.Client
}

func (c *client) token(ctx context.Context, user, email string, roles ...string) string {
	var out struct {
		Token string `json:"token"`
	}
	c.call(ctx, http.MethodPost, "/v1/auth/token", "", map[string]any{
		"user": user, "email": email, "roles": roles,
	}, http.StatusOK, &out)
	return out.Token
}

func (c *client) call(ctx context.Context, method, path, token string, body any, want int, out any) {
	var rdr *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			log.Fatalf("%s %s: marshal: %v", method, path, err)
		}
		rdr = bytes.NewReader(raw)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(resp.Body)
		log.Fatalf("%s %s: status %d, want %d: %s", method, path, resp.StatusCode, want, buf.String())
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			log.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
}
