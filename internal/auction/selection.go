package auction

import "github.com/openadx/adexchange/internal/domain"

// CreativeSelector picks one creative from the eligible set. The eligible
// slice preserves registration order.
type CreativeSelector interface {
	Select(eligible []domain.Creative) (domain.Creative, bool)
}

// FirstEligible picks the first eligible creative in registration order.
// This is a deliberate, documented tie-break policy, not an optimization;
// swap in another selector to change it.
type FirstEligible struct{}

// Select implements CreativeSelector.
func (FirstEligible) Select(eligible []domain.Creative) (domain.Creative, bool) {
	if len(eligible) == 0 {
		return domain.Creative{}, false
	}
	return eligible[0], true
}
