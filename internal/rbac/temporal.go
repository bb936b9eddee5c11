package rbac

import (
	"fmt"
	"time"
)

// TimeOfDay is a wall-clock instant within a day, date-independent.
type TimeOfDay struct {
	Hour   int `json:"hour" validate:"gte=0,lte=23"`
	Minute int `json:"minute" validate:"gte=0,lte=59"`
}

// Minutes returns the offset from midnight.
func (t TimeOfDay) Minutes() int {
	return t.Hour*60 + t.Minute
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// DayMask selects permitted days of week, one bit per time.Weekday
// starting at Sunday. The zero mask permits every day.
type DayMask uint8

// Named day bits.
const (
	Sunday DayMask = 1 << iota
	Monday
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday

	// Weekdays covers Monday through Friday.
	Weekdays = Monday | Tuesday | Wednesday | Thursday | Friday
)

// Allows reports whether the mask permits the given weekday.
func (m DayMask) Allows(d time.Weekday) bool {
	return m == 0 || m&(1<<uint(d)) != 0
}

// TemporalConstraint restricts when a user-role assignment is usable.
// Every unset axis is unbounded.
type TemporalConstraint struct {
	BeginTime     *TimeOfDay    `json:"begin_time,omitempty"`
	EndTime       *TimeOfDay    `json:"end_time,omitempty"`
	BeginDate     *time.Time    `json:"begin_date,omitempty"`
	EndDate       *time.Time    `json:"end_date,omitempty"`
	BeginLockDate *time.Time    `json:"begin_lock_date,omitempty"`
	EndLockDate   *time.Time    `json:"end_lock_date,omitempty"`
	DayMask       DayMask       `json:"day_mask,omitempty"`
	Timeout       time.Duration `json:"timeout,omitempty" validate:"gte=0"`
}

// Active reports whether the constraint permits use at now. It is a pure
// predicate: no clock is consulted beyond the argument.
//
// A nil constraint permits everything. The lock window takes precedence
// over an otherwise valid date window since it models a temporary
// suspension of the assignment.
func (c *TemporalConstraint) Active(now time.Time) bool {
	if c == nil {
		return true
	}
	if c.BeginDate != nil && now.Before(*c.BeginDate) {
		return false
	}
	if c.EndDate != nil && now.After(*c.EndDate) {
		return false
	}
	if c.locked(now) {
		return false
	}
	if !c.DayMask.Allows(now.Weekday()) {
		return false
	}
	minute := now.Hour()*60 + now.Minute()
	if c.BeginTime != nil && minute < c.BeginTime.Minutes() {
		return false
	}
	if c.EndTime != nil && minute > c.EndTime.Minutes() {
		return false
	}
	return true
}

// Inactive mirrors Active and names the failed axis for diagnostics.
func (c *TemporalConstraint) Inactive(now time.Time) (string, bool) {
	switch {
	case c == nil:
		return "", false
	case c.BeginDate != nil && now.Before(*c.BeginDate):
		return "validity window has not begun", true
	case c.EndDate != nil && now.After(*c.EndDate):
		return "validity window has ended", true
	case c.locked(now):
		return "assignment is locked", true
	case !c.DayMask.Allows(now.Weekday()):
		return "day of week not permitted", true
	case c.BeginTime != nil && now.Hour()*60+now.Minute() < c.BeginTime.Minutes():
		return "before permitted time of day", true
	case c.EndTime != nil && now.Hour()*60+now.Minute() > c.EndTime.Minutes():
		return "after permitted time of day", true
	}
	return "", false
}

// ExpiresWithin reports whether the constraint remains active at now but
// its end-of-validity falls inside the given lookahead windows, so a
// caller can warn before the assignment goes dark.
func (c *TemporalConstraint) ExpiresWithin(now time.Time, dateLookahead, timeLookahead time.Duration) bool {
	if c == nil || !c.Active(now) {
		return false
	}
	if c.EndDate != nil && dateLookahead > 0 && !now.Add(dateLookahead).Before(*c.EndDate) {
		return true
	}
	if c.EndTime != nil && timeLookahead > 0 {
		remaining := time.Duration(c.EndTime.Minutes()-(now.Hour()*60+now.Minute())) * time.Minute
		if remaining <= timeLookahead {
			return true
		}
	}
	return false
}

func (c *TemporalConstraint) locked(now time.Time) bool {
	if c.BeginLockDate == nil || c.EndLockDate == nil {
		return false
	}
	return !now.Before(*c.BeginLockDate) && !now.After(*c.EndLockDate)
}
