// Package usage counts the players that consume an academy's quota.
package usage

import (
	"context"
	"fmt"

	"github.com/ManuelReschke/AcademyPlans/app/repository"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/apperr"
)

// Counter reports the current number of active players of an academy.
type Counter struct {
	players repository.PlayerRepository
}

func NewCounter(players repository.PlayerRepository) *Counter {
	return &Counter{players: players}
}

// CountActivePlayers returns the live count. An academy with no players
// yields zero; a failing player store yields apperr.ErrUnavailable.
func (c *Counter) CountActivePlayers(ctx context.Context, academyID uint) (int64, error) {
	n, err := c.players.CountActiveByAcademy(ctx, academyID)
	if err != nil {
		return 0, fmt.Errorf("%w: count players of academy %d: %v", apperr.ErrUnavailable, academyID, err)
	}
	return n, nil
}
