package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/xraph/betledger"
	"github.com/xraph/betledger/bet"
)

func (s *Server) placeBet(c *fiber.Ctx) error {
	var in betledger.PlaceBetInput
	if err := bind(c, &in); err != nil {
		return err
	}
	in.TenantID = tenant(c, in.TenantID)
	in.IdempotencyKey = idempotencyKey(c, in.IdempotencyKey)
	b, err := s.ledger.PlaceBet(c.UserContext(), actor(c), in)
	if err != nil {
		return err
	}
	return created(c, b)
}

func (s *Server) listBets(c *fiber.Ctx) error {
	limit, offset, err := paging(c)
	if err != nil {
		return err
	}
	list, err := s.ledger.ListBets(c.UserContext(), actor(c), bet.ListOpts{
		TenantID: tenant(c, ""),
		PlayerID: c.Query("player_id"),
		AgentID:  c.Query("agent_id"),
		Status:   bet.Status(c.Query("status")),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		return err
	}
	return ok(c, list)
}

func (s *Server) getBet(c *fiber.Ctx) error {
	betID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	b, err := s.ledger.GetBet(c.UserContext(), actor(c), tenant(c, ""), betID)
	if err != nil {
		return err
	}
	return ok(c, b)
}

func (s *Server) validateMaxWin(c *fiber.Ctx) error {
	var in betledger.ValidateMaxWinInput
	if err := bind(c, &in); err != nil {
		return err
	}
	in.TenantID = tenant(c, in.TenantID)
	bd, err := s.ledger.ValidateMaxWin(c.UserContext(), actor(c), in)
	if err != nil {
		return err
	}
	return ok(c, bd)
}

func (s *Server) settleBet(c *fiber.Ctx) error {
	betID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var in betledger.SettleBetInput
	if err := bind(c, &in); err != nil {
		return err
	}
	in.TenantID = tenant(c, in.TenantID)
	in.BetID = betID
	b, err := s.ledger.SettleBet(c.UserContext(), actor(c), in)
	if err != nil {
		return err
	}
	return ok(c, b)
}

func (s *Server) manualSettleBet(c *fiber.Ctx) error {
	betID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var in betledger.ManualSettleInput
	if err := bind(c, &in); err != nil {
		return err
	}
	in.TenantID = tenant(c, in.TenantID)
	in.BetID = betID
	b, err := s.ledger.ManualSettleBet(c.UserContext(), actor(c), in)
	if err != nil {
		return err
	}
	return ok(c, b)
}

func (s *Server) cancelBet(c *fiber.Ctx) error {
	betID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var in betledger.CancelBetInput
	if err := bind(c, &in); err != nil {
		return err
	}
	in.TenantID = tenant(c, in.TenantID)
	in.BetID = betID
	b, err := s.ledger.CancelBet(c.UserContext(), actor(c), in)
	if err != nil {
		return err
	}
	return ok(c, b)
}
