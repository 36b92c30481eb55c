package user

// PlanConfig defines limits for a pricing tier.
type PlanConfig struct {
	Tier              Tier
	MaxApplications   int // 0 = unlimited
	MaxLicensesPerApp int // 0 = unlimited
	RateLimitRPM      int
	MonthlyPriceUSD   int
}

// Plans is the hardcoded plan catalogue.
var Plans = map[Tier]PlanConfig{
	TierFree: {
		Tier:              TierFree,
		MaxApplications:   3,
		MaxLicensesPerApp: 100,
		RateLimitRPM:      60,
		MonthlyPriceUSD:   0,
	},
	TierPro: {
		Tier:              TierPro,
		MaxApplications:   25,
		MaxLicensesPerApp: 10000,
		RateLimitRPM:      600,
		MonthlyPriceUSD:   29,
	},
	TierEnterprise: {
		Tier:              TierEnterprise,
		MaxApplications:   0,
		MaxLicensesPerApp: 0,
		RateLimitRPM:      5000,
		MonthlyPriceUSD:   199,
	},
}

// PlanFor returns the plan configuration for a tier, falling back to free
// for unrecognised values.
func PlanFor(t Tier) PlanConfig {
	cfg, ok := Plans[t]
	if !ok {
		return Plans[TierFree]
	}
	return cfg
}

// ValidTier returns true if the tier name is recognised.
func ValidTier(t Tier) bool {
	_, ok := Plans[t]
	return ok
}

// ValidRole returns true if the role name is recognised.
func ValidRole(r Role) bool {
	return r == RoleAdmin || r == RoleUser
}
