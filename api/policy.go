package api

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/xraph/betledger"
)

func (s *Server) savePolicy(c *fiber.Ctx) error {
	var in betledger.SavePolicyInput
	if err := bind(c, &in); err != nil {
		return err
	}
	in.TenantID = tenant(c, in.TenantID)
	p, err := s.ledger.SavePolicy(c.UserContext(), actor(c), in)
	if err != nil {
		return err
	}
	return created(c, p)
}

func (s *Server) currentPolicy(c *fiber.Ctx) error {
	p, err := s.ledger.GetPolicy(c.UserContext(), actor(c), tenant(c, ""), 0)
	if err != nil {
		return err
	}
	return ok(c, p)
}

func (s *Server) getPolicy(c *fiber.Ctx) error {
	version, err := strconv.Atoi(c.Params("version"))
	if err != nil || version <= 0 {
		return betledger.ValidationError{Field: "version", Message: "must be a positive integer"}
	}
	p, err := s.ledger.GetPolicy(c.UserContext(), actor(c), tenant(c, ""), version)
	if err != nil {
		return err
	}
	return ok(c, p)
}
