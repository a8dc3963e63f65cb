package controllers

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/AcademyPlans/app/models"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/apperr"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/lock"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/quota"
)

// PlayerController manages academy rosters. Creating a player is the
// quota-enforced path.
type PlayerController struct {
	svc *Services
}

func NewPlayerController(svc *Services) *PlayerController {
	return &PlayerController{svc: svc}
}

type createPlayerRequest struct {
	Name     string `json:"name" validate:"required,min=2,max=150"`
	Position string `json:"position" validate:"max=50"`
}

// HandleCreatePlayer adds an active player if the plan has room. A full
// roster is answered with 402 and the plans that would fit.
func (pc *PlayerController) HandleCreatePlayer(c *fiber.Ctx) error {
	academyID, err := academyIDParam(c)
	if err != nil {
		return respondError(c, err)
	}
	var req createPlayerRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}

	ctx := c.UserContext()
	if pc.svc.Locker != nil {
		lockCtx, cancel := context.WithTimeout(ctx, pc.svc.Engine.LockTimeout())
		defer cancel()
		unlock, err := pc.svc.Locker.Lock(lockCtx, lock.RosterKey(academyID))
		if err != nil {
			if errors.Is(err, lock.ErrNotAcquired) {
				return respondError(c, fmt.Errorf("%w: roster of academy %d is busy", apperr.ErrConflict, academyID))
			}
			return respondError(c, fmt.Errorf("%w: lock roster of academy %d: %v", apperr.ErrUnavailable, academyID, err))
		}
		defer unlock()
	}

	if _, err := pc.svc.Quota.Guard(ctx, academyID); err != nil {
		var exceeded *quota.ExceededError
		if errors.As(err, &exceeded) {
			return pc.quotaExceeded(c, exceeded.Decision)
		}
		return respondError(c, err)
	}

	player := &models.Player{
		AcademyID: academyID,
		Name:      req.Name,
		Position:  req.Position,
		Status:    models.PLAYER_STATUS_ACTIVE,
	}
	if err := player.Validate(); err != nil {
		return respondError(c, fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err))
	}
	if err := pc.svc.Repos.Player.Create(ctx, player); err != nil {
		return respondError(c, fmt.Errorf("%w: create player: %v", apperr.ErrUnavailable, err))
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"player": player})
}

func (pc *PlayerController) quotaExceeded(c *fiber.Ctx, d *quota.Decision) error {
	options := []PlanView{}
	if list, err := pc.svc.Catalog.ListPlans(c.UserContext()); err == nil {
		for i := range list {
			p := &list[i]
			if p.ID == d.PlanID || p.IsFree() {
				continue
			}
			if p.IsUnlimited() || int64(p.PlayerLimit) > d.Usage.Count {
				options = append(options, planView(p))
			}
		}
	} else {
		log.Warnf("[API] Could not list upgrade options for academy %d: %v", d.Usage.AcademyID, err)
	}
	return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
		"error":           apperr.Code(apperr.ErrQuotaExceeded),
		"message":         apperr.PublicMessage(apperr.ErrQuotaExceeded),
		"reason":          d.Reason,
		"usage":           d.Usage,
		"upgrade_options": options,
	})
}

func (pc *PlayerController) HandleListPlayers(c *fiber.Ctx) error {
	academyID, err := academyIDParam(c)
	if err != nil {
		return respondError(c, err)
	}
	offset := c.QueryInt("offset", 0)
	limit := c.QueryInt("limit", 50)
	if offset < 0 || limit <= 0 || limit > 200 {
		return respondError(c, fmt.Errorf("%w: offset must be >= 0 and limit between 1 and 200", apperr.ErrInvalidInput))
	}
	players, err := pc.svc.Repos.Player.ListByAcademy(c.UserContext(), academyID, offset, limit)
	if err != nil {
		return respondError(c, fmt.Errorf("%w: list players: %v", apperr.ErrUnavailable, err))
	}
	return c.JSON(fiber.Map{"players": players})
}

// HandleDeactivatePlayer frees a quota slot.
func (pc *PlayerController) HandleDeactivatePlayer(c *fiber.Ctx) error {
	academyID, err := academyIDParam(c)
	if err != nil {
		return respondError(c, err)
	}
	playerID, err := uintParam(c, "playerId")
	if err != nil {
		return respondError(c, err)
	}

	ctx := c.UserContext()
	player, err := pc.svc.Repos.Player.GetByID(ctx, playerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return respondError(c, fmt.Errorf("%w: player %d", apperr.ErrNotFound, playerID))
		}
		return respondError(c, fmt.Errorf("%w: load player: %v", apperr.ErrUnavailable, err))
	}
	if player.AcademyID != academyID {
		return respondError(c, fmt.Errorf("%w: player %d", apperr.ErrNotFound, playerID))
	}
	if err := pc.svc.Repos.Player.Deactivate(ctx, playerID); err != nil {
		return respondError(c, fmt.Errorf("%w: deactivate player: %v", apperr.ErrUnavailable, err))
	}
	return c.SendStatus(fiber.StatusNoContent)
}
