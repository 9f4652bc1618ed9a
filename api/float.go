package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/xraph/betledger"
)

func (s *Server) registerAgent(c *fiber.Ctx) error {
	var in betledger.RegisterAgentInput
	if err := bind(c, &in); err != nil {
		return err
	}
	in.TenantID = tenant(c, in.TenantID)
	line, err := s.ledger.RegisterAgent(c.UserContext(), actor(c), in)
	if err != nil {
		return err
	}
	return created(c, line)
}

func (s *Server) getFloatLine(c *fiber.Ctx) error {
	line, err := s.ledger.GetFloatLine(c.UserContext(), actor(c), tenant(c, ""), c.Params("agent"))
	if err != nil {
		return err
	}
	return ok(c, line)
}

func (s *Server) setCreditLimit(c *fiber.Ctx) error {
	var in betledger.SetCreditLimitInput
	if err := bind(c, &in); err != nil {
		return err
	}
	in.TenantID = tenant(c, in.TenantID)
	in.AgentID = c.Params("agent")
	line, err := s.ledger.SetCreditLimit(c.UserContext(), actor(c), in)
	if err != nil {
		return err
	}
	return ok(c, line)
}

func (s *Server) topupFloat(c *fiber.Ctx) error {
	var in betledger.TopupFloatInput
	if err := bind(c, &in); err != nil {
		return err
	}
	in.TenantID = tenant(c, in.TenantID)
	in.IdempotencyKey = idempotencyKey(c, in.IdempotencyKey)
	txn, err := s.ledger.TopupFloat(c.UserContext(), actor(c), in)
	if err != nil {
		return err
	}
	return created(c, txn)
}

func (s *Server) allocateFloat(c *fiber.Ctx) error {
	var in betledger.AllocateFloatInput
	if err := bind(c, &in); err != nil {
		return err
	}
	in.TenantID = tenant(c, in.TenantID)
	in.IdempotencyKey = idempotencyKey(c, in.IdempotencyKey)
	txn, err := s.ledger.AllocateFloat(c.UserContext(), actor(c), in)
	if err != nil {
		return err
	}
	return created(c, txn)
}

func (s *Server) returnFloat(c *fiber.Ctx) error {
	var in betledger.ReturnFloatInput
	if err := bind(c, &in); err != nil {
		return err
	}
	in.TenantID = tenant(c, in.TenantID)
	in.IdempotencyKey = idempotencyKey(c, in.IdempotencyKey)
	txn, err := s.ledger.ReturnFloatToParent(c.UserContext(), actor(c), in)
	if err != nil {
		return err
	}
	return created(c, txn)
}

func (s *Server) topupPlayer(c *fiber.Ctx) error {
	var in betledger.TopupPlayerInput
	if err := bind(c, &in); err != nil {
		return err
	}
	in.TenantID = tenant(c, in.TenantID)
	in.IdempotencyKey = idempotencyKey(c, in.IdempotencyKey)
	txn, err := s.ledger.TopupPlayer(c.UserContext(), actor(c), in)
	if err != nil {
		return err
	}
	return created(c, txn)
}

func (s *Server) withdrawFromAgent(c *fiber.Ctx) error {
	var in betledger.WithdrawFromAgentInput
	if err := bind(c, &in); err != nil {
		return err
	}
	in.TenantID = tenant(c, in.TenantID)
	in.IdempotencyKey = idempotencyKey(c, in.IdempotencyKey)
	txn, err := s.ledger.WithdrawFromAgent(c.UserContext(), actor(c), in)
	if err != nil {
		return err
	}
	return created(c, txn)
}
