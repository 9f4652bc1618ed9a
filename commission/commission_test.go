package commission_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/betledger/commission"
	"github.com/xraph/betledger/id"
	"github.com/xraph/betledger/types"
)

func TestCompute(t *testing.T) {
	tests := []struct {
		name     string
		turnover int64
		payouts  int64
		rate     string
		want     int64
	}{
		{"positive ggr", 1_000_000, 400_000, "0.05", 30_000},
		{"truncates", 1_000, 1, "0.07", 69},
		{"zero ggr", 500, 500, "0.10", 0},
		{"negative ggr", 500, 900, "0.10", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := commission.Activity{AgentID: "a1", Turnover: types.KES(tt.turnover), Payouts: types.KES(tt.payouts)}
			got := commission.Compute(a, decimal.RequireFromString(tt.rate))
			if got.Amount != tt.want || got.Currency != "kes" {
				t.Errorf("got %v, want %d kes", got, tt.want)
			}
		})
	}
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to commission.Status
		ok       bool
	}{
		{commission.StatusPending, commission.StatusApproved, true},
		{commission.StatusPending, commission.StatusPaid, false},
		{commission.StatusApproved, commission.StatusPaid, true},
		{commission.StatusApproved, commission.StatusPending, false},
		{commission.StatusPaid, commission.StatusApproved, false},
		{commission.StatusPaid, commission.StatusReversed, true},
		{commission.StatusReversed, commission.StatusPending, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.ok {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
}

func TestWeekBounds(t *testing.T) {
	// Wednesday 2026-10-14.
	start, end := commission.WeekBounds(time.Date(2026, 10, 14, 15, 30, 0, 0, time.UTC))
	if want := time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC); !start.Equal(want) {
		t.Errorf("start = %v, want %v", start, want)
	}
	if want := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC); !end.Equal(want) {
		t.Errorf("end = %v, want %v", end, want)
	}

	// Sunday belongs to the week that started six days earlier.
	start, _ = commission.WeekBounds(time.Date(2026, 10, 18, 23, 0, 0, 0, time.UTC))
	if want := time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC); !start.Equal(want) {
		t.Errorf("sunday start = %v, want %v", start, want)
	}

	prevStart, prevEnd := commission.PreviousWeek(time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC), time.Monday)
	if !prevStart.Equal(time.Date(2026, 10, 5, 0, 0, 0, 0, time.UTC)) || !prevEnd.Equal(time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("previous week = %v..%v", prevStart, prevEnd)
	}
}

func TestWeekBoundsFrom(t *testing.T) {
	// Wednesday 2026-10-14, weeks starting Sunday.
	start, end := commission.WeekBoundsFrom(time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC), time.Sunday)
	if want := time.Date(2026, 10, 11, 0, 0, 0, 0, time.UTC); !start.Equal(want) {
		t.Errorf("start = %v, want %v", start, want)
	}
	if !end.Equal(start.AddDate(0, 0, 7)) {
		t.Errorf("end = %v", end)
	}
}

func TestKeys(t *testing.T) {
	start := time.Date(2026, 10, 5, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 7)
	if a, b := commission.PeriodKey("a1", start, end), commission.PeriodKey("a1", start, end); a != b {
		t.Error("period key not deterministic")
	}
	if commission.PeriodKey("a1", start, end) == commission.PeriodKey("a2", start, end) {
		t.Error("period key must include agent")
	}
	cid := id.NewCommissionID()
	if got := commission.CorrectionKey(cid); got != "correction:"+cid.String() {
		t.Errorf("correction key = %q", got)
	}
}
