package domain

import (
	"fmt"
	"time"
)

// DateLayout is the wire format for calendar days.
const DateLayout = "2006-01-02"

// RelativeDay marks days that render with a relative word instead of a date.
type RelativeDay string

const (
	RelativeNone     RelativeDay = ""
	RelativeToday    RelativeDay = "today"
	RelativeTomorrow RelativeDay = "tomorrow"
)

// DayLabel is the language agnostic description of a calendar day.
type DayLabel struct {
	Relative RelativeDay  `json:"relative,omitempty"`
	Weekday  time.Weekday `json:"weekday"`
	Day      int          `json:"day"`
	Month    time.Month   `json:"month"`
}

// DaySlot is an offerable delivery day. Date is midnight in the business timezone.
type DaySlot struct {
	Date  time.Time
	Label DayLabel
}

// Key returns the wire identifier of the day.
func (d DaySlot) Key() string {
	return d.Date.Format(DateLayout)
}

// TimeSlot is an hourly window starting at Hour.
type TimeSlot struct {
	Hour      int
	Available bool
}

// Label renders the slot window, e.g. "12:00-13:00".
func (s TimeSlot) Label() string {
	return fmt.Sprintf("%02d:00-%02d:00", s.Hour, (s.Hour+1)%24)
}

// Schedule is the chosen day and slot. Text is the rendered delivery time label.
type Schedule struct {
	Day   time.Time
	Hour  int
	Label DayLabel
	Text  string
}

// SlotLabel renders the chosen time window.
func (s Schedule) SlotLabel() string {
	return TimeSlot{Hour: s.Hour}.Label()
}
