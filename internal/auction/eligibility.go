package auction

import "github.com/openadx/adexchange/internal/domain"

// IsEligible reports whether a creative may serve the opportunity for a user
// with the given segments. It is the conjunction of format, targeting, and
// brand-safety matching. Pure and deterministic; selection among multiple
// eligible creatives is a separate policy (see CreativeSelector).
func IsEligible(c domain.Creative, opp domain.Opportunity, userSegments []string) bool {
	return formatMatch(c, opp.Placement) &&
		targetMatch(c, userSegments) &&
		safetyMatch(c, opp.Placement)
}

// formatMatch requires the creative's format to equal the placement's slot.
func formatMatch(c domain.Creative, p domain.Placement) bool {
	return c.Size == p.Size && c.Type == p.Type
}

// targetMatch requires a non-empty intersection between the creative's
// target segments and the user's segments.
func targetMatch(c domain.Creative, userSegments []string) bool {
	return intersects(c.TargetSegments, userSegments)
}

// safetyMatch rejects creatives whose categories intersect the placement's
// brand-safety exclusion set.
func safetyMatch(c domain.Creative, p domain.Placement) bool {
	return !intersects(c.Categories, p.Context.BrandSafety.ExcludedCategories)
}

func intersects(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, s := range a {
		set[s] = struct{}{}
	}
	for _, s := range b {
		if _, ok := set[s]; ok {
			return true
		}
	}
	return false
}
