package repository

import (
	"context"

	"github.com/ManuelReschke/AcademyPlans/app/models"
	"gorm.io/gorm"
)

// playerRepository implements the PlayerRepository interface
type playerRepository struct {
	db *gorm.DB
}

// NewPlayerRepository creates a new player repository instance
func NewPlayerRepository(db *gorm.DB) PlayerRepository {
	return &playerRepository{db: db}
}

// Create creates a new player in the database
func (r *playerRepository) Create(ctx context.Context, player *models.Player) error {
	return r.db.WithContext(ctx).Create(player).Error
}

// GetByID retrieves a player by its ID
func (r *playerRepository) GetByID(ctx context.Context, id uint) (*models.Player, error) {
	var player models.Player
	err := r.db.WithContext(ctx).First(&player, id).Error
	if err != nil {
		return nil, err
	}
	return &player, nil
}

// CountActiveByAcademy counts the active players of an academy
func (r *playerRepository) CountActiveByAcademy(ctx context.Context, academyID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Player{}).
		Where("academy_id = ? AND status = ?", academyID, models.PLAYER_STATUS_ACTIVE).
		Count(&count).Error
	return count, err
}

// ListByAcademy retrieves the players of an academy with pagination
func (r *playerRepository) ListByAcademy(ctx context.Context, academyID uint, offset, limit int) ([]models.Player, error) {
	var players []models.Player
	err := r.db.WithContext(ctx).Where("academy_id = ?", academyID).
		Order("id ASC").
		Offset(offset).Limit(limit).
		Find(&players).Error
	return players, err
}

// Deactivate marks a player inactive so it no longer counts against the quota
func (r *playerRepository) Deactivate(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Model(&models.Player{}).
		Where("id = ?", id).
		Update("status", models.PLAYER_STATUS_INACTIVE).Error
}
