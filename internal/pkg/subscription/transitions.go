package subscription

import (
	"fmt"
	"slices"

	"github.com/ManuelReschke/AcademyPlans/app/models"
	"github.com/ManuelReschke/AcademyPlans/internal/pkg/apperr"
)

// Transition is a status change of an academy subscription.
type Transition struct {
	From string
	To   string
}

var validTransitions = map[Transition]bool{
	{models.SubscriptionStatusFreeActive, models.SubscriptionStatusPendingUpgrade}:      true, // checkout started
	{models.SubscriptionStatusFreeActive, models.SubscriptionStatusFreeActive}:          true, // free window rolled forward
	{models.SubscriptionStatusPendingUpgrade, models.SubscriptionStatusActive}:          true, // payment confirmed
	{models.SubscriptionStatusPendingUpgrade, models.SubscriptionStatusPendingUpgrade}:  true, // checkout restarted
	{models.SubscriptionStatusPendingUpgrade, models.SubscriptionStatusFreeActive}:      true, // payment failed
	{models.SubscriptionStatusPendingUpgrade, models.SubscriptionStatusCancelRequested}: true, // payment failed, prior state restored
	{models.SubscriptionStatusActive, models.SubscriptionStatusPendingUpgrade}:          true, // plan change
	{models.SubscriptionStatusActive, models.SubscriptionStatusCancelRequested}:         true,
	{models.SubscriptionStatusActive, models.SubscriptionStatusExpired}:                 true,
	{models.SubscriptionStatusCancelRequested, models.SubscriptionStatusActive}:         true, // reactivated
	{models.SubscriptionStatusCancelRequested, models.SubscriptionStatusPendingUpgrade}: true,
	{models.SubscriptionStatusCancelRequested, models.SubscriptionStatusExpired}:        true,
	{models.SubscriptionStatusExpired, models.SubscriptionStatusFreeActive}:             true,
	{models.SubscriptionStatusExpired, models.SubscriptionStatusPendingUpgrade}:         true, // renewal
}

// CanTransition checks if a transition from one status to another is valid.
func CanTransition(from, to string) bool {
	return validTransitions[Transition{from, to}]
}

// CheckTransition returns apperr.ErrInvalidStateTransition for an illegal move.
func CheckTransition(from, to string) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", apperr.ErrInvalidStateTransition, from, to)
	}
	return nil
}

// ValidTransitionsFrom returns all valid target statuses from the given status.
func ValidTransitionsFrom(from string) []string {
	targets := make([]string, 0)
	for t := range validTransitions {
		if t.From == from {
			targets = append(targets, t.To)
		}
	}
	slices.Sort(targets)
	return targets
}
