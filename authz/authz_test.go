package authz_test

import (
	"context"
	"errors"
	"testing"

	"github.com/xraph/betledger/authz"
)

func TestRoleAuthorizer(t *testing.T) {
	a := authz.NewRoleAuthorizer(nil)
	ctx := context.Background()

	tests := []struct {
		name    string
		actor   authz.Actor
		cap     authz.Capability
		tenant  string
		wantErr error
	}{
		{"tenant admin topup", authz.Actor{UserID: "u1", Role: authz.RoleTenantAdmin, TenantID: "t1"}, authz.CanTopupAgent, "t1", nil},
		{"other tenant", authz.Actor{UserID: "u1", Role: authz.RoleTenantAdmin, TenantID: "t2"}, authz.CanTopupAgent, "t1", authz.ErrTenantMismatch},
		{"platform spans tenants", authz.Actor{UserID: "root", Role: authz.RolePlatformAdmin}, authz.CanTopupAgent, "t9", nil},
		{"agent cannot topup agent", authz.Actor{UserID: "a1", Role: authz.RoleAgent, TenantID: "t1"}, authz.CanTopupAgent, "t1", authz.ErrInsufficientAuthority},
		{"agent topup player", authz.Actor{UserID: "a1", Role: authz.RoleAgent, TenantID: "t1"}, authz.CanTopupPlayer, "t1", nil},
		{"sub agent cannot allocate", authz.Actor{UserID: "s1", Role: authz.RoleSubAgent, TenantID: "t1"}, authz.CanAllocateFloat, "t1", authz.ErrInsufficientAuthority},
		{"operator cannot manual settle", authz.Actor{UserID: "o1", Role: authz.RoleOperator, TenantID: "t1"}, authz.CanManualSettle, "t1", authz.ErrInsufficientAuthority},
		{"risk manager manual settle", authz.Actor{UserID: "r1", Role: authz.RoleRiskManager, TenantID: "t1"}, authz.CanManualSettle, "t1", nil},
		{"player places bet", authz.Actor{UserID: "p1", Role: authz.RolePlayer, TenantID: "t1"}, authz.CanPlaceBet, "t1", nil},
		{"unknown role", authz.Actor{UserID: "x", Role: "intern", TenantID: "t1"}, authz.CanViewBets, "t1", authz.ErrInsufficientAuthority},
		{"system settles", authz.System(), authz.CanSettleBet, "t1", nil},
		{"system cannot manual settle", authz.System(), authz.CanManualSettle, "t1", authz.ErrInsufficientAuthority},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := a.Authorize(ctx, tt.actor, tt.cap, tt.tenant)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRoleAuthorizerOverrides(t *testing.T) {
	a := authz.NewRoleAuthorizer(map[authz.Role][]authz.Capability{
		authz.RoleOperator: {authz.CanManualSettle},
	})
	actor := authz.Actor{UserID: "o1", Role: authz.RoleOperator, TenantID: "t1"}
	if err := a.Authorize(context.Background(), actor, authz.CanManualSettle, "t1"); err != nil {
		t.Fatalf("override not applied: %v", err)
	}
	if a.Capabilities(authz.RoleOperator).Has(authz.CanTopupAgent) {
		t.Error("override should replace the role's set")
	}
}

func TestActsAs(t *testing.T) {
	tests := []struct {
		name  string
		actor authz.Actor
		owner string
		ok    bool
	}{
		{"agent self", authz.Actor{UserID: "a1", Role: authz.RoleAgent}, "a1", true},
		{"agent other", authz.Actor{UserID: "a1", Role: authz.RoleAgent}, "a2", false},
		{"player other", authz.Actor{UserID: "p1", Role: authz.RolePlayer}, "p2", false},
		{"finance anyone", authz.Actor{UserID: "f1", Role: authz.RoleFinance}, "a2", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.actor.ActsAs(tt.owner)
			if (err == nil) != tt.ok {
				t.Fatalf("ActsAs(%q) = %v", tt.owner, err)
			}
			if err != nil && !errors.Is(err, authz.ErrInsufficientAuthority) {
				t.Errorf("wrong sentinel: %v", err)
			}
		})
	}
}

func TestAuthorizerFunc(t *testing.T) {
	denied := errors.New("nope")
	var a authz.Authorizer = authz.AuthorizerFunc(func(context.Context, authz.Actor, authz.Capability, string) error {
		return denied
	})
	if err := a.Authorize(context.Background(), authz.Actor{}, authz.CanViewBets, "t1"); !errors.Is(err, denied) {
		t.Fatalf("got %v", err)
	}
}
