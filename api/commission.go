package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/xraph/betledger"
	"github.com/xraph/betledger/commission"
)

func (s *Server) runCommission(c *fiber.Ctx) error {
	var in betledger.RunCommissionInput
	if err := bind(c, &in); err != nil {
		return err
	}
	in.TenantID = tenant(c, in.TenantID)
	out, err := s.ledger.RunCommissionPeriod(c.UserContext(), actor(c), in)
	var me betledger.MultiError
	if errors.As(err, &me) {
		return partial(c, out, me)
	}
	if err != nil {
		return err
	}
	return ok(c, out)
}

func (s *Server) listCommissions(c *fiber.Ctx) error {
	limit, offset, err := paging(c)
	if err != nil {
		return err
	}
	opts := commission.ListOpts{
		TenantID: tenant(c, ""),
		AgentID:  c.Query("agent_id"),
		Status:   commission.Status(c.Query("status")),
		Limit:    limit,
		Offset:   offset,
	}
	if opts.From, err = queryTime(c, "from"); err != nil {
		return err
	}
	if opts.To, err = queryTime(c, "to"); err != nil {
		return err
	}
	list, err := s.ledger.ListCommissions(c.UserContext(), actor(c), opts)
	if err != nil {
		return err
	}
	return ok(c, list)
}

// commissionAction binds the shared body of approve, pay and reverse.
func (s *Server) commissionAction(c *fiber.Ctx) (betledger.CommissionActionInput, error) {
	var in betledger.CommissionActionInput
	cid, err := pathID(c, "id")
	if err != nil {
		return in, err
	}
	if len(c.Body()) > 0 {
		if err := bind(c, &in); err != nil {
			return in, err
		}
	}
	in.TenantID = tenant(c, in.TenantID)
	in.CommissionID = cid
	return in, nil
}

func (s *Server) approveCommission(c *fiber.Ctx) error {
	in, err := s.commissionAction(c)
	if err != nil {
		return err
	}
	out, err := s.ledger.ApproveCommission(c.UserContext(), actor(c), in)
	if err != nil {
		return err
	}
	return ok(c, out)
}

func (s *Server) payCommission(c *fiber.Ctx) error {
	in, err := s.commissionAction(c)
	if err != nil {
		return err
	}
	out, err := s.ledger.PayCommission(c.UserContext(), actor(c), in)
	if err != nil {
		return err
	}
	return ok(c, out)
}

func (s *Server) reverseCommission(c *fiber.Ctx) error {
	in, err := s.commissionAction(c)
	if err != nil {
		return err
	}
	out, err := s.ledger.ReverseCommission(c.UserContext(), actor(c), in)
	if err != nil {
		return err
	}
	return ok(c, out)
}

func (s *Server) withdrawCommission(c *fiber.Ctx) error {
	var in betledger.WithdrawCommissionInput
	if err := bind(c, &in); err != nil {
		return err
	}
	in.TenantID = tenant(c, in.TenantID)
	in.IdempotencyKey = idempotencyKey(c, in.IdempotencyKey)
	txn, err := s.ledger.WithdrawCommission(c.UserContext(), actor(c), in)
	if err != nil {
		return err
	}
	return created(c, txn)
}

func (s *Server) getCommissionBalance(c *fiber.Ctx) error {
	b, err := s.ledger.GetCommissionBalance(c.UserContext(), actor(c), tenant(c, ""), c.Params("agent"))
	if err != nil {
		return err
	}
	return ok(c, b)
}
