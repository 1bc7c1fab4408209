package strikes

import (
	"time"

	"github.com/aimerfeng/FinderMeister/internal/models"
)

// MaxLevel is the terminal strike level
const MaxLevel = 4

// Consequence is what a consequence level does to an account
type Consequence struct {
	Level       int                    `json:"level"`
	Name        string                 `json:"name"`
	Restriction models.RestrictionType `json:"restriction,omitempty"`
	// Duration of zero with a restriction means permanent
	Duration time.Duration         `json:"duration"`
	Training models.TrainingModule `json:"training,omitempty"`
}

var consequences = map[int]Consequence{
	1: {Level: 1, Name: "Warning"},
	2: {Level: 2, Name: "System Restrictions", Restriction: models.RestrictionLimitedFeatures, Duration: 7 * 24 * time.Hour, Training: models.TrainingCommunication},
	3: {Level: 3, Name: "Temporary Suspension", Restriction: models.RestrictionSuspended, Duration: 30 * 24 * time.Hour, Training: models.TrainingReliability},
	4: {Level: 4, Name: "Permanent Ban", Restriction: models.RestrictionBanned},
}

// ConsequenceFor returns the consequence for level, clamped to 1..MaxLevel
func ConsequenceFor(level int) Consequence {
	return consequences[clamp(level)]
}

// ConsequenceLevel combines the escalation level with the offense's own
// severity: whichever is higher applies
func ConsequenceLevel(strikeLevel, offenseLevel int) int {
	if offenseLevel > strikeLevel {
		return clamp(offenseLevel)
	}
	return clamp(strikeLevel)
}

// EndDate returns when a restriction from c issued at now ends; nil means permanent
func (c Consequence) EndDate(now time.Time) *time.Time {
	if c.Restriction == "" || c.Duration == 0 {
		return nil
	}
	end := now.Add(c.Duration)
	return &end
}

func clamp(level int) int {
	if level < 1 {
		return 1
	}
	if level > MaxLevel {
		return MaxLevel
	}
	return level
}

// Restrictions is the aggregated capability view of a user
type Restrictions struct {
	CanPost       bool                     `json:"can_post"`
	CanApply      bool                     `json:"can_apply"`
	CanMessage    bool                     `json:"can_message"`
	IsSuspended   bool                     `json:"is_suspended"`
	IsBanned      bool                     `json:"is_banned"`
	ActiveStrikes int                      `json:"active_strikes"`
	StrikeLevel   int                      `json:"strike_level"`
	Restrictions  []models.UserRestriction `json:"restrictions"`
}

// Allows reports whether the aggregate permits capability
func (r *Restrictions) Allows(capability models.Capability) bool {
	switch capability {
	case models.CapabilityPost:
		return r.CanPost
	case models.CapabilityApply:
		return r.CanApply
	case models.CapabilityMessage:
		return r.CanMessage
	}
	return false
}

// Aggregate folds restrictions and strikes into capabilities at now.
// Restrictions past their end date and strikes past their expiry are
// ignored even if the cleanup job has not yet marked them.
//
// suspended and banned block everything; limited_features blocks posting and
// applying but keeps messaging so users can resolve open work; posting,
// applications and messaging block only their own capability.
func Aggregate(restrictions []models.UserRestriction, strikes []models.Strike, now time.Time) Restrictions {
	agg := Restrictions{
		CanPost:      true,
		CanApply:     true,
		CanMessage:   true,
		Restrictions: []models.UserRestriction{},
	}

	for i := range restrictions {
		r := restrictions[i]
		if !r.InEffect(now) {
			continue
		}
		agg.Restrictions = append(agg.Restrictions, r)

		switch r.RestrictionType {
		case models.RestrictionBanned:
			agg.IsBanned = true
		case models.RestrictionSuspended:
			agg.IsSuspended = true
		case models.RestrictionLimitedFeatures:
			agg.CanPost = false
			agg.CanApply = false
		case models.RestrictionPosting:
			agg.CanPost = false
		case models.RestrictionApplications:
			agg.CanApply = false
		case models.RestrictionMessaging:
			agg.CanMessage = false
		}
	}

	for i := range strikes {
		if !strikes[i].Counts(now) {
			continue
		}
		agg.ActiveStrikes++
		if strikes[i].ConsequenceLevel > agg.StrikeLevel {
			agg.StrikeLevel = strikes[i].ConsequenceLevel
		}
	}

	if agg.IsBanned || agg.IsSuspended {
		agg.CanPost = false
		agg.CanApply = false
		agg.CanMessage = false
	}
	return agg
}

// BadgeEligible reports whether no strike was created within window before now
func BadgeEligible(strikeTimes []time.Time, now time.Time, window time.Duration) bool {
	cutoff := now.Add(-window)
	for _, t := range strikeTimes {
		if t.After(cutoff) {
			return false
		}
	}
	return true
}
