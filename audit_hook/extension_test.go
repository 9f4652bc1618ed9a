package audithook_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/xraph/betledger"
	"github.com/xraph/betledger/account"
	audithook "github.com/xraph/betledger/audit_hook"
	"github.com/xraph/betledger/authz"
	"github.com/xraph/betledger/store/memory"
	"github.com/xraph/betledger/types"
)

type sink struct {
	mu     sync.Mutex
	events []*audithook.AuditEvent
}

func (s *sink) Record(_ context.Context, e *audithook.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *sink) actions() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int)
	for _, e := range s.events {
		out[e.Action]++
	}
	return out
}

func run(t *testing.T, opts ...audithook.Option) *sink {
	t.Helper()
	s := &sink{}
	ctx := context.Background()
	l := betledger.New(memory.New(),
		betledger.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		betledger.WithPlugin(audithook.New(s, opts...)),
	)
	admin := authz.Actor{UserID: "ops", Role: authz.RoleTenantAdmin, TenantID: "t1"}

	if _, err := l.SavePolicy(ctx, admin, betledger.SavePolicyInput{TenantID: "t1", Currency: "kes"}); err != nil {
		t.Fatal(err)
	}
	if _, err := l.RegisterAgent(ctx, admin, betledger.RegisterAgentInput{
		TenantID: "t1", AgentID: "a1", OwnerType: account.OwnerAgent, Currency: "kes",
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := l.TopupFloat(ctx, admin, betledger.TopupFloatInput{
		TenantID: "t1", IdempotencyKey: "f1", AgentID: "a1", Amount: types.KES(5000), FundingType: account.FundingBankTransfer,
	}); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestExtensionRecordsLifecycle(t *testing.T) {
	s := run(t)
	got := s.actions()
	for _, want := range []string{
		audithook.ActionPolicySaved,
		audithook.ActionAccountCreated,
		audithook.ActionTransactionPosted,
		audithook.ActionFloatMoved,
	} {
		if got[want] == 0 {
			t.Errorf("no %s event in %v", want, got)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e.Action != audithook.ActionFloatMoved {
			continue
		}
		if e.ResourceID != "a1" || e.TenantID != "t1" || e.Category != audithook.CategoryFloat {
			t.Errorf("float event = %+v", e)
		}
		if amount, _ := e.Metadata["amount"].(int64); amount != 5000 {
			t.Errorf("float amount = %v, want 5000", e.Metadata["amount"])
		}
	}
}

func TestExtensionActionFilters(t *testing.T) {
	tests := []struct {
		name    string
		opts    []audithook.Option
		present []string
		absent  []string
	}{
		{
			name:    "enabled only",
			opts:    []audithook.Option{audithook.WithEnabledActions(audithook.ActionPolicySaved)},
			present: []string{audithook.ActionPolicySaved},
			absent:  []string{audithook.ActionAccountCreated, audithook.ActionTransactionPosted},
		},
		{
			name:    "disabled",
			opts:    []audithook.Option{audithook.WithDisabledActions(audithook.ActionTransactionPosted)},
			present: []string{audithook.ActionPolicySaved, audithook.ActionFloatMoved},
			absent:  []string{audithook.ActionTransactionPosted},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := run(t, tt.opts...).actions()
			for _, a := range tt.present {
				if got[a] == 0 {
					t.Errorf("missing %s", a)
				}
			}
			for _, a := range tt.absent {
				if got[a] != 0 {
					t.Errorf("unexpected %s", a)
				}
			}
		})
	}
}
