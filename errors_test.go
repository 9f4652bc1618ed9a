package betledger_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/xraph/betledger"
	"github.com/xraph/betledger/authz"
)

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want betledger.ErrorKind
	}{
		{"nil", nil, betledger.KindUnknown},
		{"plain", errors.New("boom"), betledger.KindUnknown},
		{"validation error", betledger.ValidationError{Field: "x", Message: "bad"}, betledger.KindValidation},
		{"wrapped not found", fmt.Errorf("lookup: %w", betledger.ErrAgentNotFound), betledger.KindNotFound},
		{
			"authority over not found",
			fmt.Errorf("%w: %w", authz.ErrInsufficientAuthority, betledger.ErrAccountNotFound),
			betledger.KindAuthorization,
		},
		{
			"not found over authority",
			fmt.Errorf("%w: %w", betledger.ErrAccountNotFound, authz.ErrTenantMismatch),
			betledger.KindAuthorization,
		},
		{
			"conflict over resource",
			fmt.Errorf("%w: %w", betledger.ErrInsufficientFloat, betledger.ErrConflict),
			betledger.KindConsistency,
		},
		{
			"credit line exhausted",
			&betledger.BalanceError{Err: fmt.Errorf("%w: %w", betledger.ErrInsufficientFloat, betledger.ErrCreditLimitExceeded)},
			betledger.KindResource,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 50; i++ {
				if got := betledger.Kind(tt.err); got != tt.want {
					t.Fatalf("run %d: Kind = %s, want %s", i, got, tt.want)
				}
			}
		})
	}
}
