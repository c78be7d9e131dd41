package enums

import "fmt"

// ReminderType identifies which payment reminder cadence fired for an enrollment.
type ReminderType string

const (
	ReminderSevenDayAdvance ReminderType = "seven_day_advance"
	ReminderThreeDayAdvance ReminderType = "three_day_advance"
	ReminderOneDayAdvance   ReminderType = "one_day_advance"
	ReminderDueToday        ReminderType = "due_today"
	ReminderOverdueWeekly   ReminderType = "overdue_weekly"
)

var validReminderTypes = []ReminderType{
	ReminderSevenDayAdvance,
	ReminderThreeDayAdvance,
	ReminderOneDayAdvance,
	ReminderDueToday,
	ReminderOverdueWeekly,
}

// String implements fmt.Stringer.
func (r ReminderType) String() string {
	return string(r)
}

// IsValid reports whether the value is a known ReminderType.
func (r ReminderType) IsValid() bool {
	for _, candidate := range validReminderTypes {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseReminderType converts raw input into a ReminderType.
func ParseReminderType(value string) (ReminderType, error) {
	for _, candidate := range validReminderTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid reminder type %q", value)
}
