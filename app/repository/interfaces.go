package repository

import (
	"context"

	"github.com/ManuelReschke/AcademyPlans/app/models"
	"gorm.io/gorm"
)

// AcademyRepository defines the academy lookups the subscription engine needs
type AcademyRepository interface {
	Create(ctx context.Context, academy *models.Academy) error
	GetByID(ctx context.Context, id uint) (*models.Academy, error)
	Exists(ctx context.Context, id uint) (bool, error)
	ListIDs(ctx context.Context, afterID uint, limit int) ([]uint, error)
}

// PlayerRepository defines the player-store operations used for quota checks
type PlayerRepository interface {
	Create(ctx context.Context, player *models.Player) error
	GetByID(ctx context.Context, id uint) (*models.Player, error)
	CountActiveByAcademy(ctx context.Context, academyID uint) (int64, error)
	ListByAcademy(ctx context.Context, academyID uint, offset, limit int) ([]models.Player, error)
	Deactivate(ctx context.Context, id uint) error
}

// PlanRepository defines the plan catalog storage
type PlanRepository interface {
	Create(ctx context.Context, plan *models.Plan) error
	GetByID(ctx context.Context, id uint) (*models.Plan, error)
	GetBySlug(ctx context.Context, slug string) (*models.Plan, error)
	GetActive(ctx context.Context) ([]models.Plan, error)
	Count(ctx context.Context) (int64, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	Academy AcademyRepository
	Player  PlayerRepository
	Plan    PlanRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Academy: NewAcademyRepository(db),
		Player:  NewPlayerRepository(db),
		Plan:    NewPlanRepository(db),
	}
}
