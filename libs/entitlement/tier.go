package entitlement

import (
	"cmp"
	"slices"
	"strings"
)

const (
	TierS = "S"
	TierM = "M"
	TierL = "L"

	PlanXL = "XL"
)

// tierRank orders restaurant service classes. XL is a plan type only and has
// no rank, so it sees no restaurants.
var tierRank = map[string]int{TierS: 1, TierM: 2, TierL: 3}

func normalize(t string) string {
	return strings.ToUpper(strings.TrimSpace(t))
}

// ValidTier reports whether t is a restaurant tier.
func ValidTier(t string) bool {
	_, ok := tierRank[normalize(t)]
	return ok
}

// ValidPlanType reports whether p is a membership plan.
func ValidPlanType(p string) bool {
	p = normalize(p)
	return p == PlanXL || ValidTier(p)
}

// NormalizeTier trims and upper-cases t.
func NormalizeTier(t string) string { return normalize(t) }

// IsRestaurantVisibleForTier reports whether a membership of membershipTier
// may see a restaurant of restaurantTier under the order S < M < L. Unknown
// tiers on either side see nothing.
func IsRestaurantVisibleForTier(restaurantTier, membershipTier string) bool {
	member, ok := tierRank[normalize(membershipTier)]
	if !ok {
		return false
	}
	rest, ok := tierRank[normalize(restaurantTier)]
	if !ok {
		return false
	}
	return rest <= member
}

// SortByDistance orders items nearest first. Items without a distance sort
// as 0 km. Equal distances keep their input order.
func SortByDistance[T any](items []T, distance func(T) *float64) {
	slices.SortStableFunc(items, func(a, b T) int {
		return cmp.Compare(orZero(distance(a)), orZero(distance(b)))
	})
}

func orZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
