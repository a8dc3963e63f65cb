package controllers

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/AcademyPlans/app/repository"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/apperr"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/billing"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/lifecycle"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/lock"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/plans"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/quota"
)

// Services bundles what the HTTP handlers need.
type Services struct {
	Engine     *lifecycle.Engine
	Catalog    *plans.Catalog
	Quota      *quota.Enforcer
	Reconciler *billing.Reconciler
	Repos      *repository.Repositories
	Locker     lock.Locker
	// Stripe is nil when no secret key is configured.
	Stripe        *billing.Stripe
	WebhookSecret string
}

var validate = validator.New()

// respondError renders err with its stable code. Unexpected faults are
// logged and rendered without details.
func respondError(c *fiber.Ctx, err error) error {
	status := apperr.HTTPStatus(err)
	if !apperr.IsExpected(err) {
		log.Errorf("[API] %s %s: %v", c.Method(), c.Path(), err)
	}
	return c.Status(status).JSON(fiber.Map{
		"error":   apperr.Code(err),
		"message": apperr.PublicMessage(err),
	})
}

func academyIDParam(c *fiber.Ctx) (uint, error) {
	return uintParam(c, "id")
}

func uintParam(c *fiber.Ctx, name string) (uint, error) {
	raw := strings.TrimSpace(c.Params(name))
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", apperr.ErrInvalidInput, name)
	}
	return uint(id), nil
}

// parseBody decodes and validates a JSON request body into dst.
func parseBody(c *fiber.Ctx, dst interface{}) error {
	if err := c.BodyParser(dst); err != nil {
		return fmt.Errorf("%w: malformed request body", apperr.ErrInvalidInput)
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: field %s failed %s", apperr.ErrInvalidInput, strings.ToLower(fe.Field()), fe.Tag())
		}
		return fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
	}
	return nil
}
