package usage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/AcademyPlans/app/models"
	"github.com/ManuelReschke/AcademyPlans/app/repository"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/apperr"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/database/dbtest"
)

type brokenPlayers struct {
	repository.PlayerRepository
}

func (brokenPlayers) CountActiveByAcademy(context.Context, uint) (int64, error) {
	return 0, errors.New("connection reset by peer")
}

func TestCountActivePlayers(t *testing.T) {
	ctx := context.Background()
	players := repository.NewPlayerRepository(dbtest.New(t))
	counter := NewCounter(players)

	n, err := counter.CountActivePlayers(ctx, 7)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, players.Create(ctx, &models.Player{AcademyID: 7, Name: "Ana", Status: models.PLAYER_STATUS_ACTIVE}))
	require.NoError(t, players.Create(ctx, &models.Player{AcademyID: 7, Name: "Ben", Status: models.PLAYER_STATUS_INACTIVE}))

	n, err = counter.CountActivePlayers(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestCountActivePlayersUnavailable(t *testing.T) {
	_, err := NewCounter(brokenPlayers{}).CountActivePlayers(context.Background(), 1)
	assert.ErrorIs(t, err, apperr.ErrUnavailable)
}
