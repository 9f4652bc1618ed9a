package api_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/xraph/betledger"
	"github.com/xraph/betledger/api"
	"github.com/xraph/betledger/authz"
	"github.com/xraph/betledger/id"
	"github.com/xraph/betledger/store/memory"
)

const tenant = "tnt_alpha"

var (
	admin  = authz.Actor{UserID: "admin-1", Role: authz.RoleTenantAdmin, TenantID: tenant}
	player = authz.Actor{UserID: "ply-1", Role: authz.RolePlayer, TenantID: tenant}
	agent  = authz.Actor{UserID: "agt-1", Role: authz.RoleAgent, TenantID: tenant}
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
	Field   string          `json:"field"`
}

type harness struct {
	t   *testing.T
	app *fiber.App
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	l := betledger.New(memory.New(),
		betledger.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		betledger.WithClock(func() time.Time { return now }),
	)
	srv := api.New(l, api.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	return &harness{t: t, app: srv.App()}
}

type call struct {
	method string
	path   string
	actor  *authz.Actor
	body   any
	header map[string]string
}

func (h *harness) do(c call) (*http.Response, envelope) {
	h.t.Helper()
	var body io.Reader
	if c.body != nil {
		raw, err := json.Marshal(c.body)
		if err != nil {
			h.t.Fatalf("marshal body: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(c.method, "/betledger"+c.path, body)
	if c.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.actor != nil {
		req.Header.Set(api.HeaderActorID, c.actor.UserID)
		req.Header.Set(api.HeaderActorRole, string(c.actor.Role))
		req.Header.Set(api.HeaderTenantID, c.actor.TenantID)
	}
	for k, v := range c.header {
		req.Header.Set(k, v)
	}

	resp, err := h.app.Test(req, -1)
	if err != nil {
		h.t.Fatalf("%s %s: %v", c.method, c.path, err)
	}
	defer resp.Body.Close()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		h.t.Fatalf("%s %s: decode response: %v", c.method, c.path, err)
	}
	return resp, env
}

// expect performs c and fails unless the response has status want. It
// decodes the data field into out when out is non-nil.
func (h *harness) expect(c call, want int, out any) envelope {
	h.t.Helper()
	resp, env := h.do(c)
	if resp.StatusCode != want {
		h.t.Fatalf("%s %s: status = %d, want %d (%s: %s)", c.method, c.path, resp.StatusCode, want, env.Error, env.Message)
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			h.t.Fatalf("%s %s: decode data: %v", c.method, c.path, err)
		}
	}
	return env
}

type accountView struct {
	ID string `json:"id"`
}

type moneyView struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type balanceView struct {
	Available moneyView `json:"available"`
}

type betView struct {
	ID           string    `json:"id"`
	Status       string    `json:"status"`
	ActualPayout moneyView `json:"actual_payout"`
}

func money(amount int64) map[string]any {
	return map[string]any{"amount": amount, "currency": "kes"}
}

func (h *harness) ensureAccount(ownerType, ownerID string) string {
	h.t.Helper()
	var a accountView
	h.expect(call{
		method: http.MethodPost, path: "/accounts", actor: &admin,
		body: map[string]any{"owner_type": ownerType, "owner_id": ownerID, "currency": "kes"},
	}, fiber.StatusOK, &a)
	return a.ID
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	h.expect(call{method: http.MethodGet, path: "/health"}, fiber.StatusOK, nil)
}

func TestIdentityRequired(t *testing.T) {
	h := newHarness(t)
	tests := []struct {
		name  string
		actor *authz.Actor
	}{
		{"no headers", nil},
		{"no role", &authz.Actor{UserID: "usr-1", TenantID: tenant}},
		{"no user", &authz.Actor{Role: authz.RoleTenantAdmin, TenantID: tenant}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := h.expect(call{method: http.MethodGet, path: "/accounts", actor: tt.actor}, fiber.StatusUnauthorized, nil)
			if env.Success {
				t.Error("success = true on rejected request")
			}
		})
	}
}

func TestPostTransactionIdempotency(t *testing.T) {
	h := newHarness(t)
	treasury := h.ensureAccount("tenant", tenant)
	wallet := h.ensureAccount("player", "ply-1")

	post := call{
		method: http.MethodPost, path: "/transactions", actor: &admin,
		header: map[string]string{api.HeaderIdempotencyKey: "adj-1"},
		body: map[string]any{
			"legs": []map[string]any{
				{"account_id": treasury, "direction": "debit", "amount": money(1000)},
				{"account_id": wallet, "direction": "credit", "amount": money(1000)},
			},
		},
	}

	var first struct {
		ID             string `json:"id"`
		IdempotencyKey string `json:"idempotency_key"`
	}
	h.expect(post, fiber.StatusCreated, &first)
	if first.IdempotencyKey != "adj-1" {
		t.Errorf("idempotency key = %q, want header value", first.IdempotencyKey)
	}

	resp, env := h.do(post)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("replay status = %d, want 200", resp.StatusCode)
	}
	if resp.Header.Get(api.HeaderReplayed) != "true" {
		t.Errorf("replay header missing")
	}
	var replay struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(env.Data, &replay); err != nil {
		t.Fatal(err)
	}
	if replay.ID != first.ID {
		t.Errorf("replay id = %s, want %s", replay.ID, first.ID)
	}

	var bal balanceView
	h.expect(call{method: http.MethodGet, path: "/accounts/" + wallet + "/balance", actor: &admin}, fiber.StatusOK, &bal)
	if bal.Available.Amount != 1000 {
		t.Errorf("available = %d, want 1000", bal.Available.Amount)
	}
}

func TestErrorStatus(t *testing.T) {
	h := newHarness(t)
	treasury := h.ensureAccount("tenant", tenant)
	wallet := h.ensureAccount("player", "ply-1")

	unbalanced := map[string]any{
		"idempotency_key": "adj-x",
		"legs": []map[string]any{
			{"account_id": treasury, "direction": "debit", "amount": money(1000)},
			{"account_id": wallet, "direction": "credit", "amount": money(900)},
		},
	}
	balanced := map[string]any{
		"idempotency_key": "adj-y",
		"legs": []map[string]any{
			{"account_id": treasury, "direction": "debit", "amount": money(10)},
			{"account_id": wallet, "direction": "credit", "amount": money(10)},
		},
	}

	tests := []struct {
		name string
		call call
		want int
		kind string
	}{
		{"unbalanced", call{method: http.MethodPost, path: "/transactions", actor: &admin, body: unbalanced}, fiber.StatusConflict, "consistency"},
		{"forbidden", call{method: http.MethodPost, path: "/transactions", actor: &player, body: balanced}, fiber.StatusForbidden, "authorization"},
		{"unknown bet", call{method: http.MethodGet, path: "/bets/" + id.NewBetID().String(), actor: &admin}, fiber.StatusNotFound, "not_found"},
		{"malformed id", call{method: http.MethodGet, path: "/accounts/not-an-id", actor: &admin}, fiber.StatusBadRequest, "validation"},
		{"bad limit", call{method: http.MethodGet, path: "/accounts?limit=-1", actor: &admin}, fiber.StatusBadRequest, "validation"},
		{"bad policy version", call{method: http.MethodGet, path: "/policies/zero", actor: &admin}, fiber.StatusBadRequest, "validation"},
		{"no policy", call{method: http.MethodGet, path: "/policies/current", actor: &admin}, fiber.StatusNotFound, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := h.expect(tt.call, tt.want, nil)
			if env.Error != tt.kind {
				t.Errorf("error kind = %q, want %q (%s)", env.Error, tt.kind, env.Message)
			}
		})
	}
}

func TestBetLifecycle(t *testing.T) {
	h := newHarness(t)
	h.ensureAccount("tenant", tenant)

	h.expect(call{
		method: http.MethodPost, path: "/policies", actor: &admin,
		body: map[string]any{"currency": "kes", "default_commission_rate": "0.1"},
	}, fiber.StatusCreated, nil)
	h.expect(call{
		method: http.MethodPost, path: "/agents", actor: &admin,
		body: map[string]any{"agent_id": "agt-1", "owner_type": "agent", "currency": "kes", "credit_limit": money(0)},
	}, fiber.StatusCreated, nil)
	h.expect(call{
		method: http.MethodPost, path: "/float/topup", actor: &admin,
		header: map[string]string{api.HeaderIdempotencyKey: "topup-1"},
		body:   map[string]any{"agent_id": "agt-1", "amount": money(100_000), "funding_type": "cash"},
	}, fiber.StatusCreated, nil)
	h.expect(call{
		method: http.MethodPost, path: "/players/topup", actor: &agent,
		header: map[string]string{api.HeaderIdempotencyKey: "cashin-1"},
		body:   map[string]any{"agent_id": "agt-1", "player_identifier": "ply-1", "amount": money(5_000)},
	}, fiber.StatusCreated, nil)

	var placed betView
	h.expect(call{
		method: http.MethodPost, path: "/bets", actor: &player,
		header: map[string]string{api.HeaderIdempotencyKey: "bet-1"},
		body: map[string]any{
			"player_id": "ply-1",
			"stake":     money(1_000),
			"selections": []map[string]any{
				{"event_id": "evt-1", "market_id": "1x2", "outcome_id": "home", "odds": "2.5"},
			},
		},
	}, fiber.StatusCreated, &placed)
	if placed.Status != "pending" {
		t.Fatalf("placed status = %s, want pending", placed.Status)
	}

	var settled betView
	h.expect(call{
		method: http.MethodPost, path: "/bets/" + placed.ID + "/settle", actor: &admin,
		body: map[string]any{"results": []map[string]any{{
			"event_id": "evt-1",
			"status":   "completed",
			"markets":  map[string]any{"1x2": map[string]any{"winning_outcomes": []string{"home"}}},
		}}},
	}, fiber.StatusOK, &settled)
	if settled.Status != "won" || settled.ActualPayout.Amount != 2_500 {
		t.Errorf("settled = %+v, want won paying 2500", settled)
	}

	var fetched betView
	h.expect(call{method: http.MethodGet, path: "/bets/" + placed.ID, actor: &player}, fiber.StatusOK, &fetched)
	if fetched.Status != "won" {
		t.Errorf("fetched status = %s", fetched.Status)
	}

	env := h.expect(call{
		method: http.MethodPost, path: "/bets/" + placed.ID + "/manual-settle", actor: &admin,
		body: map[string]any{"outcome": "lost", "reason": "late correction"},
	}, fiber.StatusConflict, nil)
	if env.Error != "consistency" {
		t.Errorf("manual settle of settled bet: kind = %q", env.Error)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{betledger.ValidationError{Field: "amount", Message: "must be positive"}, fiber.StatusBadRequest},
		{betledger.ErrInsufficientAuthority, fiber.StatusForbidden},
		{betledger.ErrBetNotFound, fiber.StatusNotFound},
		{fmt.Errorf("%w: lost race", betledger.ErrConflict), fiber.StatusConflict},
		{&betledger.BalanceError{Err: betledger.ErrInsufficientFunds}, fiber.StatusUnprocessableEntity},
		{betledger.ErrStoreClosed, fiber.StatusServiceUnavailable},
		{errors.New("boom"), fiber.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			if got := api.StatusFor(tt.err); got != tt.want {
				t.Errorf("StatusFor = %d, want %d", got, tt.want)
			}
		})
	}
}
