package betledger

import "github.com/xraph/betledger/types"

// Re-export common types for convenience so users don't have to import types package.

// Money is re-exported from types package.
type Money = types.Money

// Entity is re-exported from types package.
type Entity = types.Entity

// Re-export Money constructors
var (
	KES  = types.KES
	NGN  = types.NGN
	USD  = types.USD
	EUR  = types.EUR
	GBP  = types.GBP
	IDR  = types.IDR
	Zero = types.Zero
	Sum  = types.Sum
)

// Re-export Entity constructor
var NewEntity = types.NewEntity
