package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

const (
	PLAYER_STATUS_ACTIVE   = "active"
	PLAYER_STATUS_INACTIVE = "inactive"
)

// Player is a roster entry of an academy. Only active players count
// against the plan quota.
type Player struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	AcademyID uint           `gorm:"not null;index:idx_players_academy_status,priority:1" json:"academy_id" validate:"required"`
	Name      string         `gorm:"type:varchar(150);not null" json:"name" validate:"required,min=2,max=150"`
	Position  string         `gorm:"type:varchar(50);default:''" json:"position" validate:"max=50"`
	Status    string         `gorm:"type:varchar(20);not null;default:'active';index:idx_players_academy_status,priority:2" json:"status" validate:"oneof=active inactive"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (p *Player) Validate() error {
	v := validator.New()

	return v.Struct(p)
}
