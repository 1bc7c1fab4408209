package strikes

import (
	"testing"
	"time"

	"github.com/aimerfeng/FinderMeister/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestFindOffense_RoleScoped(t *testing.T) {
	o, ok := FindOffense("Repeated no-shows", models.RoleFinder)
	assert.True(t, ok)
	assert.Equal(t, 2, o.Level)
	assert.Equal(t, "repeated_no_shows", o.Type)

	o, ok = FindOffense("REPEATED_NO_SHOWS", models.RoleFinder)
	assert.True(t, ok)
	assert.Equal(t, "Repeated no-shows", o.Name)

	_, ok = FindOffense("Repeated no-shows", models.RoleClient)
	assert.False(t, ok, "finder offense must not be issuable against a client")

	_, ok = FindOffense("non_payment", models.RoleFinder)
	assert.False(t, ok, "client offense must not be issuable against a finder")

	_, ok = FindOffense("fraud", models.RoleAdmin)
	assert.False(t, ok)
}

func TestCatalogs_WellFormed(t *testing.T) {
	for _, role := range []models.Role{models.RoleClient, models.RoleFinder} {
		seen := map[string]bool{}
		for _, o := range OffensesForRole(role) {
			assert.Equal(t, role, o.Role)
			assert.GreaterOrEqual(t, o.Level, 1)
			assert.LessOrEqual(t, o.Level, MaxLevel)
			assert.NotEmpty(t, o.Resolution)
			assert.False(t, seen[o.Type], "duplicate offense type %s", o.Type)
			seen[o.Type] = true
		}
	}
}

func TestConsequenceTable(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	warning := ConsequenceFor(1)
	assert.Equal(t, "Warning", warning.Name)
	assert.Empty(t, warning.Restriction)
	assert.Nil(t, warning.EndDate(now))

	limited := ConsequenceFor(2)
	assert.Equal(t, models.RestrictionLimitedFeatures, limited.Restriction)
	assert.Equal(t, models.TrainingCommunication, limited.Training)
	assert.Equal(t, now.Add(7*24*time.Hour), *limited.EndDate(now))

	suspended := ConsequenceFor(3)
	assert.Equal(t, models.RestrictionSuspended, suspended.Restriction)
	assert.Equal(t, models.TrainingReliability, suspended.Training)
	assert.Equal(t, now.Add(30*24*time.Hour), *suspended.EndDate(now))

	ban := ConsequenceFor(4)
	assert.Equal(t, models.RestrictionBanned, ban.Restriction)
	assert.Nil(t, ban.EndDate(now), "ban is permanent")
	assert.Empty(t, ban.Training)

	assert.Equal(t, ban, ConsequenceFor(9))
}

func TestProperty_ConsequenceLevel(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		strikeLevel := rapid.IntRange(1, 6).Draw(t, "strikeLevel")
		offenseLevel := rapid.IntRange(1, 4).Draw(t, "offenseLevel")

		got := ConsequenceLevel(strikeLevel, offenseLevel)
		if got < offenseLevel {
			t.Fatalf("consequence %d below offense severity %d", got, offenseLevel)
		}
		if got > MaxLevel {
			t.Fatalf("consequence %d above terminal level", got)
		}
		if strikeLevel <= MaxLevel && got < strikeLevel {
			t.Fatalf("consequence %d below escalation level %d", got, strikeLevel)
		}
	})
}

func restriction(rt models.RestrictionType, start time.Time, end *time.Time, active bool) models.UserRestriction {
	return models.UserRestriction{
		ID:              uuid.New(),
		RestrictionType: rt,
		StartDate:       start,
		EndDate:         end,
		IsActive:        active,
	}
}

func TestAggregate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	t.Run("clean user", func(t *testing.T) {
		agg := Aggregate(nil, nil, now)
		assert.True(t, agg.CanPost)
		assert.True(t, agg.CanApply)
		assert.True(t, agg.CanMessage)
		assert.Empty(t, agg.Restrictions)
	})

	t.Run("limited features keeps messaging", func(t *testing.T) {
		agg := Aggregate([]models.UserRestriction{restriction(models.RestrictionLimitedFeatures, past, &future, true)}, nil, now)
		assert.False(t, agg.CanPost)
		assert.False(t, agg.CanApply)
		assert.True(t, agg.CanMessage)
		assert.False(t, agg.IsSuspended)
	})

	t.Run("messaging only", func(t *testing.T) {
		agg := Aggregate([]models.UserRestriction{restriction(models.RestrictionMessaging, past, nil, true)}, nil, now)
		assert.True(t, agg.CanPost)
		assert.False(t, agg.CanMessage)
	})

	t.Run("expired restriction ignored before cleanup", func(t *testing.T) {
		agg := Aggregate([]models.UserRestriction{restriction(models.RestrictionSuspended, past.Add(-time.Hour), &past, true)}, nil, now)
		assert.False(t, agg.IsSuspended)
		assert.True(t, agg.CanPost)
	})

	t.Run("inactive restriction ignored", func(t *testing.T) {
		agg := Aggregate([]models.UserRestriction{restriction(models.RestrictionBanned, past, nil, false)}, nil, now)
		assert.False(t, agg.IsBanned)
	})

	t.Run("strikes counted lazily", func(t *testing.T) {
		strikes := []models.Strike{
			{Status: models.StrikeStatusActive, ConsequenceLevel: 2, ExpiresAt: future},
			{Status: models.StrikeStatusAppealed, ConsequenceLevel: 1, ExpiresAt: future},
			{Status: models.StrikeStatusActive, ConsequenceLevel: 3, ExpiresAt: past},
			{Status: models.StrikeStatusResolved, ConsequenceLevel: 4, ExpiresAt: future},
		}
		agg := Aggregate(nil, strikes, now)
		assert.Equal(t, 2, agg.ActiveStrikes)
		assert.Equal(t, 2, agg.StrikeLevel)
	})
}

// Suspension or ban never leaves any capability granted.
func TestProperty_AggregateBlockingRestrictions(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	types := []models.RestrictionType{
		models.RestrictionLimitedFeatures, models.RestrictionSuspended, models.RestrictionBanned,
		models.RestrictionPosting, models.RestrictionApplications, models.RestrictionMessaging,
	}

	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 6).Draw(t, "n")
		var rs []models.UserRestriction
		for i := 0; i < n; i++ {
			rt := rapid.SampledFrom(types).Draw(t, "type")
			startOffset := time.Duration(rapid.IntRange(-48, 2).Draw(t, "start")) * time.Hour
			var end *time.Time
			if rapid.Bool().Draw(t, "hasEnd") {
				e := now.Add(time.Duration(rapid.IntRange(-24, 48).Draw(t, "end")) * time.Hour)
				end = &e
			}
			rs = append(rs, restriction(rt, now.Add(startOffset), end, rapid.Bool().Draw(t, "active")))
		}

		agg := Aggregate(rs, nil, now)
		if (agg.IsBanned || agg.IsSuspended) && (agg.CanPost || agg.CanApply || agg.CanMessage) {
			t.Fatalf("blocked user still has capabilities: %+v", agg)
		}
		for _, r := range agg.Restrictions {
			if !r.InEffect(now) {
				t.Fatalf("aggregate surfaced a restriction not in effect: %+v", r)
			}
		}
	})
}

func TestBadgeEligible(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	window := 90 * 24 * time.Hour

	assert.True(t, BadgeEligible(nil, now, window))
	assert.False(t, BadgeEligible([]time.Time{now.Add(-10 * 24 * time.Hour)}, now, window))
	assert.True(t, BadgeEligible([]time.Time{now.Add(-91 * 24 * time.Hour)}, now, window))
}

func TestRecentStrikesMessage(t *testing.T) {
	assert.Equal(t, "User has strikes within the last 90 days", ErrRecentStrikes.Error())
}
