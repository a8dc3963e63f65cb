package models

import (
	"errors"
	"fmt"
	"time"
)

// Billing cycle constants shared by plans, subscriptions and payment intents.
const (
	BillingCycleMonthly  = "monthly"
	BillingCycleYearly   = "yearly"
	BillingCycleLifetime = "lifetime"
	BillingCycleFree     = "free"
)

// UnlimitedPlayers marks a plan without a player ceiling.
const UnlimitedPlayers = -1

// ErrCycleNotOffered is returned when a plan cannot be bought with the requested cycle.
var ErrCycleNotOffered = errors.New("billing cycle not offered by plan")

// Plan is a priced tier. Rows are immutable once an active subscription
// references them; new pricing is a new row.
type Plan struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Slug         string    `gorm:"type:varchar(50);not null;uniqueIndex" json:"slug"`
	Name         string    `gorm:"type:varchar(100);not null" json:"name"`
	Price        int64     `gorm:"not null;default:0" json:"price"` // minor units, per month for monthly plans
	Currency     string    `gorm:"type:char(3);not null;default:'USD'" json:"currency"`
	BillingCycle string    `gorm:"type:varchar(16);not null;default:'monthly'" json:"billing_cycle"`
	YearlyPrice  *int64    `gorm:"default:null" json:"yearly_price,omitempty"` // explicit override, derived when nil
	PlayerLimit  int       `gorm:"not null;default:0" json:"player_limit"`
	Features     []string  `gorm:"serializer:json;type:text" json:"features"`
	IsActive     bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsFree reports whether the plan needs no payment.
func (p *Plan) IsFree() bool {
	return p.BillingCycle == BillingCycleFree
}

// IsUnlimited reports whether the plan has no player ceiling.
func (p *Plan) IsUnlimited() bool {
	return p.PlayerLimit == UnlimitedPlayers
}

// DerivedYearlyPrice applies the 20% annual discount to a monthly price:
// round(monthly * 12 * 0.8), rounding half up.
func DerivedYearlyPrice(monthly int64) int64 {
	return (monthly*96 + 5) / 10
}

// YearlyAmount returns the explicit yearly price or the derived discounted one.
func (p *Plan) YearlyAmount() int64 {
	if p.YearlyPrice != nil {
		return *p.YearlyPrice
	}
	if p.BillingCycle == BillingCycleYearly {
		return p.Price
	}
	return DerivedYearlyPrice(p.Price)
}

// AmountFor returns the amount charged for buying the plan with the given cycle.
func (p *Plan) AmountFor(cycle string) (int64, error) {
	switch p.BillingCycle {
	case BillingCycleMonthly:
		switch cycle {
		case BillingCycleMonthly:
			return p.Price, nil
		case BillingCycleYearly:
			return p.YearlyAmount(), nil
		}
	case BillingCycleYearly:
		if cycle == BillingCycleYearly {
			return p.YearlyAmount(), nil
		}
	case BillingCycleLifetime:
		if cycle == BillingCycleLifetime {
			return p.Price, nil
		}
	}
	return 0, fmt.Errorf("%w: plan %s, cycle %q", ErrCycleNotOffered, p.Slug, cycle)
}

// Rank orders plans for upgrade/downgrade classification. Unlimited outranks
// every finite limit; ties are broken by price.
func (p *Plan) Rank() int64 {
	limit := int64(p.PlayerLimit)
	if p.IsUnlimited() {
		limit = 1 << 40
	}
	return limit<<20 + p.Price
}

// CycleEnd returns the end of a billing period started at start. Lifetime
// periods have no end.
func CycleEnd(start time.Time, cycle string, freeWindow time.Duration) *time.Time {
	var end time.Time
	switch cycle {
	case BillingCycleMonthly:
		end = start.AddDate(0, 1, 0)
	case BillingCycleYearly:
		end = start.AddDate(1, 0, 0)
	case BillingCycleLifetime:
		return nil
	default:
		end = start.Add(freeWindow)
	}
	return &end
}
