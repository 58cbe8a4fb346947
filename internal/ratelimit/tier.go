package ratelimit

// Tier is a caller's subscription level. Higher tiers always get
// equal-or-looser limits for the same category.
type Tier string

const (
	TierFree       Tier = "free"
	TierBasic      Tier = "basic"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
)

// DefaultTier is used whenever a caller's tier cannot be resolved.
const DefaultTier = TierFree

// Tiers lists all known tiers in ascending order.
func Tiers() []Tier {
	return []Tier{TierFree, TierBasic, TierPremium, TierEnterprise}
}

// ParseTier maps a string to a known tier, falling back to DefaultTier
// for anything unrecognized. It never fails.
func ParseTier(s string) Tier {
	switch Tier(s) {
	case TierFree, TierBasic, TierPremium, TierEnterprise:
		return Tier(s)
	default:
		return DefaultTier
	}
}

func (t Tier) String() string {
	return string(t)
}
