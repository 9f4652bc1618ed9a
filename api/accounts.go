package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/xraph/betledger"
	"github.com/xraph/betledger/account"
)

func (s *Server) ensureAccount(c *fiber.Ctx) error {
	var in betledger.EnsureAccountInput
	if err := bind(c, &in); err != nil {
		return err
	}
	in.TenantID = tenant(c, in.TenantID)
	a, err := s.ledger.EnsureAccount(c.UserContext(), actor(c), in)
	if err != nil {
		return err
	}
	return ok(c, a)
}

func (s *Server) listAccounts(c *fiber.Ctx) error {
	limit, offset, err := paging(c)
	if err != nil {
		return err
	}
	list, err := s.ledger.ListAccounts(c.UserContext(), actor(c), account.ListOpts{
		TenantID:  tenant(c, ""),
		OwnerType: account.OwnerType(c.Query("owner_type")),
		Status:    account.Status(c.Query("status")),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		return err
	}
	return ok(c, list)
}

func (s *Server) lookupAccount(c *fiber.Ctx) error {
	a, err := s.ledger.LookupAccount(c.UserContext(), actor(c), tenant(c, ""),
		account.OwnerType(c.Query("owner_type")), c.Query("owner_id"))
	if err != nil {
		return err
	}
	return ok(c, a)
}

func (s *Server) getAccount(c *fiber.Ctx) error {
	aid, err := pathID(c, "id")
	if err != nil {
		return err
	}
	a, err := s.ledger.GetAccount(c.UserContext(), actor(c), aid)
	if err != nil {
		return err
	}
	return ok(c, a)
}

func (s *Server) getBalance(c *fiber.Ctx) error {
	aid, err := pathID(c, "id")
	if err != nil {
		return err
	}
	b, err := s.ledger.GetBalance(c.UserContext(), actor(c), aid)
	if err != nil {
		return err
	}
	return ok(c, b)
}

func (s *Server) setAccountStatus(c *fiber.Ctx) error {
	aid, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var in betledger.SetAccountStatusInput
	if err := bind(c, &in); err != nil {
		return err
	}
	in.AccountID = aid
	a, err := s.ledger.SetAccountStatus(c.UserContext(), actor(c), in)
	if err != nil {
		return err
	}
	return ok(c, a)
}

func (s *Server) rebuildBalance(c *fiber.Ctx) error {
	aid, err := pathID(c, "id")
	if err != nil {
		return err
	}
	rec, err := s.ledger.RebuildBalance(c.UserContext(), actor(c), aid)
	if err != nil {
		return err
	}
	return ok(c, rec)
}

func (s *Server) reconcileAll(c *fiber.Ctx) error {
	recs, err := s.ledger.ReconcileAll(c.UserContext(), actor(c), tenant(c, ""))
	var me betledger.MultiError
	if errors.As(err, &me) {
		return partial(c, recs, me)
	}
	if err != nil {
		return err
	}
	return ok(c, recs)
}
