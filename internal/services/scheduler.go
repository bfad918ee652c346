package services

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"strconv"
	"time"

	domain "github.com/korisu-sushi/sushi-bot/internal/domain"
)

// ScheduleConfig describes when the restaurant takes orders.
type ScheduleConfig struct {
	Location    *time.Location
	WorkingDays []time.Weekday
	OpenHour    int
	CloseHour   int
	SlotHours   []int
}

// Scheduler computes offerable days and hourly slots. It holds no mutable state.
type Scheduler struct {
	loc     *time.Location
	working [7]bool
	slots   []int
}

// NewScheduler validates cfg. Every slot must start inside [OpenHour, CloseHour).
func NewScheduler(cfg ScheduleConfig) (*Scheduler, error) {
	loc := cfg.Location
	if loc == nil {
		return nil, errors.New("scheduler: location is required")
	}
	if cfg.OpenHour < 0 || cfg.CloseHour > 24 || cfg.OpenHour >= cfg.CloseHour {
		return nil, fmt.Errorf("scheduler: invalid working hours [%d,%d)", cfg.OpenHour, cfg.CloseHour)
	}

	s := &Scheduler{loc: loc}
	for _, day := range cfg.WorkingDays {
		if day < time.Sunday || day > time.Saturday {
			return nil, fmt.Errorf("scheduler: invalid weekday %d", day)
		}
		s.working[day] = true
	}
	for _, hour := range cfg.SlotHours {
		if hour < cfg.OpenHour || hour >= cfg.CloseHour {
			return nil, fmt.Errorf("scheduler: slot %d outside working hours [%d,%d)", hour, cfg.OpenHour, cfg.CloseHour)
		}
		s.slots = append(s.slots, hour)
	}
	slices.Sort(s.slots)
	s.slots = slices.Compact(s.slots)
	return s, nil
}

// Location returns the business timezone.
func (s *Scheduler) Location() *time.Location { return s.loc }

// AvailableDays yields working days in [today, today+horizonDays). Today is yielded only while a slot
// remains. The sequence is finite and may be ranged over any number of times.
func (s *Scheduler) AvailableDays(now time.Time, horizonDays int) iter.Seq[domain.DaySlot] {
	now = now.In(s.loc)
	today := midnight(now)
	return func(yield func(domain.DaySlot) bool) {
		for offset := 0; offset < horizonDays; offset++ {
			day := today.AddDate(0, 0, offset)
			if !s.working[day.Weekday()] {
				continue
			}
			if offset == 0 && len(s.AvailableSlots(day, now)) == 0 {
				continue
			}
			if !yield(domain.DaySlot{Date: day, Label: s.Label(day, now)}) {
				return
			}
		}
	}
}

// AvailableSlots returns the configured slots for day. For today only hours strictly after the current hour remain.
func (s *Scheduler) AvailableSlots(day, now time.Time) []domain.TimeSlot {
	out := make([]domain.TimeSlot, 0, len(s.slots))
	for _, slot := range s.Slots(day, now) {
		if slot.Available {
			out = append(out, slot)
		}
	}
	return out
}

// Slots returns every configured slot for day with Available set.
func (s *Scheduler) Slots(day, now time.Time) []domain.TimeSlot {
	now = now.In(s.loc)
	isToday := sameDate(day.In(s.loc), now)
	out := make([]domain.TimeSlot, 0, len(s.slots))
	for _, hour := range s.slots {
		out = append(out, domain.TimeSlot{Hour: hour, Available: !isToday || hour > now.Hour()})
	}
	return out
}

// FindDay resolves a day key (YYYY-MM-DD) against the currently offered days.
func (s *Scheduler) FindDay(key string, now time.Time, horizonDays int) (domain.DaySlot, bool) {
	for day := range s.AvailableDays(now, horizonDays) {
		if day.Key() == key {
			return day, true
		}
	}
	return domain.DaySlot{}, false
}

// FindSlot resolves an hour against the slots still offered on day.
func (s *Scheduler) FindSlot(day time.Time, hour int, now time.Time) (domain.TimeSlot, bool) {
	for _, slot := range s.AvailableSlots(day, now) {
		if slot.Hour == hour {
			return slot, true
		}
	}
	return domain.TimeSlot{}, false
}

// Label describes day relative to now.
func (s *Scheduler) Label(day, now time.Time) domain.DayLabel {
	day = day.In(s.loc)
	now = now.In(s.loc)
	label := domain.DayLabel{Weekday: day.Weekday(), Day: day.Day(), Month: day.Month()}
	switch {
	case sameDate(day, now):
		label.Relative = domain.RelativeToday
	case sameDate(day, midnight(now).AddDate(0, 0, 1)):
		label.Relative = domain.RelativeTomorrow
	}
	return label
}

// RenderDayLabel composes the display string for label in lang using the
// day.today, day.tomorrow, weekday.N, month.N and day.format keys.
func RenderDayLabel(localizer Localizer, lang string, label domain.DayLabel) string {
	switch label.Relative {
	case domain.RelativeToday:
		return localizer.Render(lang, "day.today", nil)
	case domain.RelativeTomorrow:
		return localizer.Render(lang, "day.tomorrow", nil)
	}
	return localizer.Render(lang, "day.format", map[string]string{
		"weekday": localizer.Render(lang, "weekday."+strconv.Itoa(int(label.Weekday)), nil),
		"day":     strconv.Itoa(label.Day),
		"month":   localizer.Render(lang, "month."+strconv.Itoa(int(label.Month)), nil),
	})
}

// RenderDeliveryTime composes "<day label>, HH:00-HH:00".
func RenderDeliveryTime(localizer Localizer, lang string, label domain.DayLabel, slot domain.TimeSlot) string {
	return RenderDayLabel(localizer, lang, label) + ", " + slot.Label()
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
