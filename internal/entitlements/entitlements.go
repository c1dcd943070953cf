package entitlements

// Plan identifies a user's subscription tier. It arrives in the access
// token claims; the billing system that assigns it is external.
type Plan string

const (
	PlanGuest   Plan = "guest"
	PlanRegular Plan = "regular"
)

// Entitlements describes what a plan tier is allowed to do.
type Entitlements struct {
	MaxMessagesPerDay int
	AvailableModels   []string
}

var byPlan = map[Plan]Entitlements{
	PlanGuest: {
		MaxMessagesPerDay: 20,
		AvailableModels: []string{
			"deepseek/deepseek-chat-v3-0324:free",
		},
	},
	PlanRegular: {
		MaxMessagesPerDay: 100,
		AvailableModels:   nil, // nil means every registered model
	},
}

// ForPlan returns the entitlements for a plan tier. Unknown tiers fall back
// to guest, the most restrictive set.
func ForPlan(p Plan) Entitlements {
	if e, ok := byPlan[p]; ok {
		return e
	}
	return byPlan[PlanGuest]
}

// DailyQuota returns the message ceiling for a plan tier. The quota gate
// captures this value into the day's ledger record at creation time; a
// mid-day tier change does not retroactively alter an existing record.
func DailyQuota(p Plan) int {
	return ForPlan(p).MaxMessagesPerDay
}

// ModelAllowed reports whether a plan tier may use the given model.
func ModelAllowed(p Plan, modelID string) bool {
	e := ForPlan(p)
	if e.AvailableModels == nil {
		return true
	}
	for _, id := range e.AvailableModels {
		if id == modelID {
			return true
		}
	}
	return false
}
