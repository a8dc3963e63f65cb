package controllers

import (
	"github.com/gofiber/fiber/v2"
)

// UsageController reports player usage against the plan limit.
type UsageController struct {
	svc *Services
}

func NewUsageController(svc *Services) *UsageController {
	return &UsageController{svc: svc}
}

func (uc *UsageController) HandleGetUsage(c *fiber.Ctx) error {
	academyID, err := academyIDParam(c)
	if err != nil {
		return respondError(c, err)
	}
	snap, err := uc.svc.Quota.Usage(c.UserContext(), academyID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"usage": snap})
}
