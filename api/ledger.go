package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/xraph/betledger"
	"github.com/xraph/betledger/entry"
)

func (s *Server) postTransaction(c *fiber.Ctx) error {
	var in betledger.PostTransactionInput
	if err := bind(c, &in); err != nil {
		return err
	}
	in.TenantID = tenant(c, in.TenantID)
	in.IdempotencyKey = idempotencyKey(c, in.IdempotencyKey)

	txn, err := s.ledger.PostTransaction(c.UserContext(), actor(c), in)
	if errors.Is(err, betledger.ErrDuplicateTransaction) && txn != nil {
		c.Set(HeaderReplayed, "true")
		return ok(c, txn)
	}
	if err != nil {
		return err
	}
	return created(c, txn)
}

func (s *Server) getTransaction(c *fiber.Ctx) error {
	txID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	txn, err := s.ledger.GetTransaction(c.UserContext(), actor(c), tenant(c, ""), txID)
	if err != nil {
		return err
	}
	return ok(c, txn)
}

func (s *Server) reverseTransaction(c *fiber.Ctx) error {
	txID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var in betledger.ReverseTransactionInput
	if err := bind(c, &in); err != nil {
		return err
	}
	in.TenantID = tenant(c, in.TenantID)
	in.TransactionID = txID
	txn, err := s.ledger.ReverseTransaction(c.UserContext(), actor(c), in)
	if err != nil {
		return err
	}
	return created(c, txn)
}

func (s *Server) queryLedger(c *fiber.Ctx) error {
	f := entry.Filter{TenantID: tenant(c, ""), Type: entry.Type(c.Query("type")), Reference: c.Query("reference")}
	var err error
	if f.AccountID, err = queryID(c, "account_id"); err != nil {
		return err
	}
	if f.TransactionID, err = queryID(c, "transaction_id"); err != nil {
		return err
	}
	if f.From, err = queryTime(c, "from"); err != nil {
		return err
	}
	if f.To, err = queryTime(c, "to"); err != nil {
		return err
	}
	limit, offset, err := paging(c)
	if err != nil {
		return err
	}
	entries, err := s.ledger.QueryLedger(c.UserContext(), actor(c), f, entry.Page{Limit: limit, Offset: offset})
	if err != nil {
		return err
	}
	return ok(c, entries)
}
