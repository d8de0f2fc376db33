package auction

import "github.com/openadx/adexchange/internal/domain"

// clear applies the auction type's clearing rule to the admissible offers.
// regOrder maps bidder id to registration index; ties on price are broken
// by the earliest registered bidder so clearing stays deterministic
// regardless of arrival order. Returns ok=false when offers is empty.
//
// The clearing price never exceeds the winner's submitted price: first-price
// charges the submitted price itself, second-price charges the highest
// losing price, or the winner's own price when it is the only valid offer.
func clear(offers []domain.Offer, typ domain.AuctionType, regOrder map[string]int) (winner domain.Offer, clearingPrice float64, ok bool) {
	if len(offers) == 0 {
		return domain.Offer{}, 0, false
	}

	winIdx := 0
	for i := 1; i < len(offers); i++ {
		if beats(offers[i], offers[winIdx], regOrder) {
			winIdx = i
		}
	}
	winner = offers[winIdx]

	switch typ {
	case domain.AuctionTypeSecondPrice:
		clearingPrice = winner.Price
		if len(offers) > 1 {
			second := -1.0
			for i, o := range offers {
				if i == winIdx {
					continue
				}
				if o.Price > second {
					second = o.Price
				}
			}
			clearingPrice = second
		}
	default:
		clearingPrice = winner.Price
	}
	return winner, clearingPrice, true
}

// beats reports whether offer a wins over offer b: higher price first,
// earlier bidder registration on equal prices.
func beats(a, b domain.Offer, regOrder map[string]int) bool {
	if a.Price != b.Price {
		return a.Price > b.Price
	}
	return regOrder[a.BidderID] < regOrder[b.BidderID]
}
