package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/xraph/betledger"
	"github.com/xraph/betledger/authz"
	"github.com/xraph/betledger/id"
)

const actorKey = "betledger.actor"

func ok(c *fiber.Ctx, data any) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success": true,
		"data":    data,
	})
}

func created(c *fiber.Ctx, data any) error {
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data":    data,
	})
}

// partial answers a batch that completed for some items only.
func partial(c *fiber.Ctx, data any, me betledger.MultiError) error {
	msgs := make([]string, 0, len(me.Errors))
	for _, err := range me.Errors {
		msgs = append(msgs, err.Error())
	}
	return c.Status(fiber.StatusMultiStatus).JSON(fiber.Map{
		"success": false,
		"data":    data,
		"errors":  msgs,
	})
}

// StatusFor maps an engine error to an HTTP status by its kind.
func StatusFor(err error) int {
	if errors.Is(err, betledger.ErrStoreClosed) {
		return fiber.StatusServiceUnavailable
	}
	switch betledger.Kind(err) {
	case betledger.KindValidation:
		return fiber.StatusBadRequest
	case betledger.KindAuthorization:
		return fiber.StatusForbidden
	case betledger.KindNotFound:
		return fiber.StatusNotFound
	case betledger.KindConsistency:
		return fiber.StatusConflict
	case betledger.KindResource:
		return fiber.StatusUnprocessableEntity
	default:
		return fiber.StatusInternalServerError
	}
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{
			"success": false,
			"error":   http.StatusText(fe.Code),
			"message": fe.Message,
		})
	}

	status := StatusFor(err)
	if status >= fiber.StatusInternalServerError {
		s.logger.ErrorContext(c.UserContext(), "betledger api: request failed",
			"method", c.Method(),
			"path", c.Path(),
			"error", err,
		)
	}
	body := fiber.Map{
		"success": false,
		"error":   string(betledger.Kind(err)),
		"message": err.Error(),
	}
	var be *betledger.BalanceError
	if errors.As(err, &be) {
		body["available"] = be.Available
		body["requested"] = be.Requested
	}
	var ve betledger.ValidationError
	if errors.As(err, &ve) {
		body["field"] = ve.Field
	}
	return c.Status(status).JSON(body)
}

// identify reads the gateway identity headers into the request.
func (s *Server) identify(c *fiber.Ctx) error {
	a := authz.Actor{
		UserID:   c.Get(HeaderActorID),
		Role:     authz.Role(c.Get(HeaderActorRole)),
		TenantID: c.Get(HeaderTenantID),
	}
	if a.UserID == "" || a.Role == "" {
		return fiber.NewError(fiber.StatusUnauthorized, "missing actor identity")
	}
	c.Locals(actorKey, a)
	return c.Next()
}

func actor(c *fiber.Ctx) authz.Actor {
	a, _ := c.Locals(actorKey).(authz.Actor)
	return a
}

// tenant returns explicit when set, otherwise the caller's tenant.
func tenant(c *fiber.Ctx, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if q := c.Query("tenant_id"); q != "" {
		return q
	}
	return actor(c).TenantID
}

func idempotencyKey(c *fiber.Ctx, explicit string) string {
	if explicit != "" {
		return explicit
	}
	return c.Get(HeaderIdempotencyKey)
}

func bind(c *fiber.Ctx, v any) error {
	if err := c.BodyParser(v); err != nil {
		return betledger.ValidationError{Field: "body", Message: err.Error()}
	}
	return nil
}

func pathID(c *fiber.Ctx, name string) (id.ID, error) {
	v, err := id.Parse(c.Params(name))
	if err != nil {
		return id.Nil, betledger.ValidationError{Field: name, Message: err.Error()}
	}
	return v, nil
}

func queryID(c *fiber.Ctx, name string) (id.ID, error) {
	raw := c.Query(name)
	if raw == "" {
		return id.Nil, nil
	}
	v, err := id.Parse(raw)
	if err != nil {
		return id.Nil, betledger.ValidationError{Field: name, Message: err.Error()}
	}
	return v, nil
}

func queryInt(c *fiber.Ctx, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, betledger.ValidationError{Field: name, Message: "must be a non-negative integer"}
	}
	return n, nil
}

func queryTime(c *fiber.Ctx, name string) (time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, betledger.ValidationError{Field: name, Message: "must be an RFC 3339 timestamp"}
	}
	return t, nil
}

// paging reads limit and offset.
func paging(c *fiber.Ctx) (limit, offset int, err error) {
	if limit, err = queryInt(c, "limit"); err != nil {
		return 0, 0, err
	}
	if offset, err = queryInt(c, "offset"); err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}
