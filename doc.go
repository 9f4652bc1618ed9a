// Package betledger provides the financial core of a regulated betting
// platform: a double-entry ledger, agent float hierarchy, bet settlement
// with maximum winning limits, and weekly agent commission.
//
// Betledger is designed as a library, not a service. Import it directly into
// your Go application, or run cmd/betledgerd for the HTTP surface. It provides:
//
//   - Balanced, idempotent transactions over an append-only entry log
//   - Balance projections that can be rebuilt and reconciled from the log
//   - Agent and sub-agent float with credit limits and collateral
//   - Single and parlay settlement with per-tenant max-win policies
//   - GGR-based commission runs with approve, pay and reverse workflows
//   - Capability-based authorization scoped per tenant
//
// # Quick Start
//
// Create a ledger instance with your preferred store:
//
//	import (
//	    "github.com/xraph/betledger"
//	    "github.com/xraph/betledger/store/postgres"
//	)
//
//	s, err := postgres.Open(ctx, databaseURL)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	l := betledger.New(s)
//
//	// Start the reconciliation and commission workers.
//	if err := l.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer l.Stop()
//
// # Core Concepts
//
// Every money movement is a transaction of two or more legs whose debits and
// credits net to zero per currency. Transactions carry an idempotency key;
// replaying a key never posts twice:
//
//	txn, err := l.PostTransaction(ctx, actor, betledger.PostTransactionInput{
//	    TenantID:       "tnt_alpha",
//	    IdempotencyKey: "deposit-8812",
//	    Type:           entry.TypeAdjustment,
//	    Legs: []entry.Leg{
//	        entry.DebitLeg(treasury.ID, betledger.KES(50000)),
//	        entry.CreditLeg(wallet.ID, betledger.KES(50000)),
//	    },
//	})
//
// Float flows down the hierarchy, from tenant to agent to sub-agent to player:
//
//	l.TopupFloat(ctx, admin, betledger.TopupFloatInput{...})
//	l.AllocateFloat(ctx, agent, betledger.AllocateFloatInput{...})
//	l.TopupPlayer(ctx, subAgent, betledger.TopupPlayerInput{...})
//
// Bets are staked into escrow at placement and settled once against the
// policy version recorded on the bet:
//
//	b, err := l.PlaceBet(ctx, player, betledger.PlaceBetInput{...})
//	b, err = l.SettleBet(ctx, authz.System(), betledger.SettleBetInput{
//	    TenantID: "tnt_alpha",
//	    BetID:    b.ID,
//	    Results:  results,
//	})
//
// # Consistency
//
// All amounts are integer minor units. Writes touching the same accounts are
// serialized, locks are taken in account id order, and optimistic conflicts
// from the store are retried with backoff. Balance projections are a cache:
// RebuildBalance replays the entry log and freezes any account whose
// projection has drifted.
//
// # TypeID
//
// All entities use TypeID for globally unique, type-safe identifiers:
//
//	acct_01h2xcejqtf2nbrexx3vqjhp41  // Account ID
//	txn_01h2xcejqtf2nbrexx3vqjhp41   // Transaction ID
//	bet_01h455vb4pex5vsknk084sn02q   // Bet ID
//
// TypeIDs are K-sortable, making them ideal for database indexes and
// providing natural time-ordering of entities.
package betledger
