package repository

import (
	"context"

	"github.com/ManuelReschke/AcademyPlans/app/models"
	"gorm.io/gorm"
)

// academyRepository implements the AcademyRepository interface
type academyRepository struct {
	db *gorm.DB
}

// NewAcademyRepository creates a new academy repository instance
func NewAcademyRepository(db *gorm.DB) AcademyRepository {
	return &academyRepository{db: db}
}

// Create creates a new academy in the database
func (r *academyRepository) Create(ctx context.Context, academy *models.Academy) error {
	return r.db.WithContext(ctx).Create(academy).Error
}

// GetByID retrieves an academy by its ID
func (r *academyRepository) GetByID(ctx context.Context, id uint) (*models.Academy, error) {
	var academy models.Academy
	err := r.db.WithContext(ctx).First(&academy, id).Error
	if err != nil {
		return nil, err
	}
	return &academy, nil
}

// Exists reports whether a (not deleted) academy exists
func (r *academyRepository) Exists(ctx context.Context, id uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Academy{}).Where("id = ?", id).Count(&count).Error
	return count > 0, err
}

// ListIDs pages through academy IDs in ascending order
func (r *academyRepository) ListIDs(ctx context.Context, afterID uint, limit int) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.Academy{}).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}
