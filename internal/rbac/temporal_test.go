package rbac

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d, h, min int) time.Time {
	return time.Date(y, m, d, h, min, 0, 0, time.UTC)
}

func ptrTime(t time.Time) *time.Time { return &t }

func TestTemporalConstraintActive(t *testing.T) {
	// A Wednesday.
	now := date(2026, time.March, 4, 10, 30)

	cases := []struct {
		name       string
		constraint *TemporalConstraint
		want       bool
	}{
		{"nil permits everything", nil, true},
		{"zero value permits everything", &TemporalConstraint{}, true},
		{
			"inside date window",
			&TemporalConstraint{
				BeginDate: ptrTime(date(2026, time.January, 1, 0, 0)),
				EndDate:   ptrTime(date(2026, time.December, 31, 0, 0)),
			},
			true,
		},
		{
			"before begin date",
			&TemporalConstraint{BeginDate: ptrTime(date(2026, time.April, 1, 0, 0))},
			false,
		},
		{
			"after end date",
			&TemporalConstraint{EndDate: ptrTime(date(2026, time.February, 1, 0, 0))},
			false,
		},
		{
			"inside lock window overrides valid dates",
			&TemporalConstraint{
				BeginDate:     ptrTime(date(2026, time.January, 1, 0, 0)),
				EndDate:       ptrTime(date(2026, time.December, 31, 0, 0)),
				BeginLockDate: ptrTime(date(2026, time.March, 1, 0, 0)),
				EndLockDate:   ptrTime(date(2026, time.March, 31, 0, 0)),
			},
			false,
		},
		{
			"lock window elsewhere",
			&TemporalConstraint{
				BeginLockDate: ptrTime(date(2026, time.July, 1, 0, 0)),
				EndLockDate:   ptrTime(date(2026, time.July, 31, 0, 0)),
			},
			true,
		},
		{
			"half-open lock window is ignored",
			&TemporalConstraint{BeginLockDate: ptrTime(date(2026, time.March, 1, 0, 0))},
			true,
		},
		{
			"weekday mask permits wednesday",
			&TemporalConstraint{DayMask: Weekdays},
			true,
		},
		{
			"weekend-only mask rejects wednesday",
			&TemporalConstraint{DayMask: Saturday | Sunday},
			false,
		},
		{
			"inside time-of-day window",
			&TemporalConstraint{
				BeginTime: &TimeOfDay{Hour: 9},
				EndTime:   &TimeOfDay{Hour: 17},
			},
			true,
		},
		{
			"before time-of-day window",
			&TemporalConstraint{BeginTime: &TimeOfDay{Hour: 11}},
			false,
		},
		{
			"after time-of-day window",
			&TemporalConstraint{EndTime: &TimeOfDay{Hour: 10, Minute: 0}},
			false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, tc.constraint.Active(now))
			reason, inactive := tc.constraint.Inactive(now)
			require.Equal(t, !tc.want, inactive)
			if inactive {
				require.NotEmpty(t, reason)
			}
		})
	}
}

func TestDayMaskZeroAllowsEveryDay(t *testing.T) {
	var m DayMask
	for d := time.Sunday; d <= time.Saturday; d++ {
		require.True(t, m.Allows(d))
	}
	require.True(t, Weekdays.Allows(time.Monday))
	require.False(t, Weekdays.Allows(time.Sunday))
}

func TestExpiresWithin(t *testing.T) {
	now := date(2026, time.March, 4, 10, 30)

	var nilConstraint *TemporalConstraint
	require.False(t, nilConstraint.ExpiresWithin(now, time.Hour, time.Hour))

	endingSoon := &TemporalConstraint{EndDate: ptrTime(date(2026, time.March, 10, 0, 0))}
	require.True(t, endingSoon.ExpiresWithin(now, 30*24*time.Hour, 0))
	require.False(t, endingSoon.ExpiresWithin(now, 24*time.Hour, 0))

	// Already inactive constraints never report an upcoming expiry.
	ended := &TemporalConstraint{EndDate: ptrTime(date(2026, time.January, 1, 0, 0))}
	require.False(t, ended.ExpiresWithin(now, 30*24*time.Hour, 0))

	closingHour := &TemporalConstraint{EndTime: &TimeOfDay{Hour: 10, Minute: 35}}
	require.True(t, closingHour.ExpiresWithin(now, 0, 10*time.Minute))
	require.False(t, closingHour.ExpiresWithin(now, 0, time.Minute))
}

func TestTimeOfDayMinutes(t *testing.T) {
	tod := TimeOfDay{Hour: 13, Minute: 45}
	require.Equal(t, 13*60+45, tod.Minutes())
	require.Equal(t, "13:45", tod.String())
}
