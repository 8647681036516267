// Package temporal derives the urgency shown next to an order from its
// lifecycle state and timestamps. Everything here is a pure function of
// the order and a reference time.
package temporal

import (
	"fmt"
	"strings"
	"time"

	"github.com/kiwari-pos/orderdesk/internal/enum"
	"github.com/kiwari-pos/orderdesk/internal/lifecycle"
	"github.com/kiwari-pos/orderdesk/internal/order"
	"github.com/kiwari-pos/orderdesk/internal/timefmt"
)

const notApplicable = "N/A"

// State is the derived urgency of an order at a given instant.
type State struct {
	Label           string `json:"label"`
	SubLabel        string `json:"sub_label,omitempty"`
	IsLate          bool   `json:"is_late"`
	IsNearLimit     bool   `json:"is_near_limit"`
	IsNearScheduled bool   `json:"is_near_scheduled"`
	Minutes         int    `json:"minutes"`
	Classification  string `json:"classification"`
}

// Options tunes the warning windows.
type Options struct {
	// NearLimitPercent is the tail of the prep window, in percent, that
	// counts as near-limit.
	NearLimitPercent int
	// A scheduled order is near when NearScheduledMin <= minutes-to-target <= NearScheduledMax.
	NearScheduledMin int
	NearScheduledMax int
}

// DefaultOptions returns the windows used by the front desk.
func DefaultOptions() Options {
	return Options{
		NearLimitPercent: 20,
		NearScheduledMin: 10,
		NearScheduledMax: 15,
	}
}

// Calculator computes State with a fixed set of Options.
type Calculator struct {
	opts Options
}

// NewCalculator creates a Calculator. Zero fields fall back to the defaults.
func NewCalculator(opts Options) *Calculator {
	def := DefaultOptions()
	if opts.NearLimitPercent <= 0 {
		opts.NearLimitPercent = def.NearLimitPercent
	}
	if opts.NearScheduledMax <= 0 {
		opts.NearScheduledMin = def.NearScheduledMin
		opts.NearScheduledMax = def.NearScheduledMax
	}
	return &Calculator{opts: opts}
}

var defaultCalculator = NewCalculator(DefaultOptions())

// Calculate uses the default windows.
func Calculate(o *order.Order, now time.Time) State {
	return defaultCalculator.Calculate(o, now)
}

// Calculate derives the urgency of o at now. The first matching rule wins:
// kitchen with full prep data, kitchen without it, immediate, scheduled,
// then "N/A".
func (c *Calculator) Calculate(o *order.Order, now time.Time) State {
	if o == nil || !lifecycle.TracksTime(o) {
		return na()
	}

	if o.State == enum.OrderStateInKitchen {
		if o.HasPrepData() {
			return c.kitchen(o, now)
		}
		if !o.CreatedAt.IsZero() {
			m := minutesBetween(o.CreatedAt, now)
			return State{
				Label:          fmt.Sprintf("En prep. %dm", m),
				SubLabel:       "Sin estimado",
				Minutes:        m,
				Classification: enum.ClassOnTrack,
			}
		}
		return na()
	}

	switch o.Kind {
	case enum.OrderKindImmediate:
		if st, ok := created(o, now); ok {
			return st
		}
	case enum.OrderKindScheduled:
		return c.scheduled(o, now)
	}
	return na()
}

func (c *Calculator) kitchen(o *order.Order, now time.Time) State {
	start := *o.KitchenStart
	window := time.Duration(o.EstimatedPrepMinutes) * time.Minute
	expected := start.Add(window)
	sub := fmt.Sprintf("Estimado %dm", o.EstimatedPrepMinutes)

	if now.After(expected) {
		m := minutesBetween(expected, now)
		return State{
			Label:          fmt.Sprintf("Atrasado %dm", m),
			SubLabel:       sub,
			IsLate:         true,
			Minutes:        m,
			Classification: enum.ClassLate,
		}
	}

	m := minutesBetween(start, now)
	remaining := expected.Sub(now)
	near := int64(remaining)*100 <= int64(window)*int64(c.opts.NearLimitPercent)
	class := enum.ClassOnTrack
	if near {
		class = enum.ClassNearLimit
	}
	return State{
		Label:          fmt.Sprintf("En prep. %dm", m),
		SubLabel:       sub,
		IsNearLimit:    near,
		Minutes:        m,
		Classification: class,
	}
}

func (c *Calculator) scheduled(o *order.Order, now time.Time) State {
	target, ok := ScheduledTarget(o, now)
	if !ok {
		if st, ok := created(o, now); ok {
			return st
		}
		return na()
	}

	hhmm := target.Format("15:04")
	diff := target.Sub(now)
	if diff < 0 {
		m := int(-diff / time.Minute)
		return State{
			Label:          fmt.Sprintf("Atrasado %dm", m),
			SubLabel:       "Programado " + hhmm,
			IsLate:         true,
			Minutes:        m,
			Classification: enum.ClassLate,
		}
	}

	lo := time.Duration(c.opts.NearScheduledMin) * time.Minute
	hi := time.Duration(c.opts.NearScheduledMax) * time.Minute
	m := int(diff / time.Minute)
	return State{
		Label:           hhmm,
		SubLabel:        "Programado",
		IsNearScheduled: diff >= lo && diff <= hi,
		Minutes:         m,
		Classification:  enum.ClassScheduled,
	}
}

// ScheduledTarget resolves the instant a scheduled order is due.
//
// A value carrying a full date is used as-is. A bare clock is placed on the
// day the order was created (or today when that is unknown) and moved to the
// next day when it falls before that reference. Orders scheduled more than a
// day ahead with a bare clock cannot be told apart from next-day ones.
func ScheduledTarget(o *order.Order, now time.Time) (time.Time, bool) {
	loc := now.Location()
	raw := strings.TrimSpace(o.ScheduledTime)
	if raw == "" {
		return time.Time{}, false
	}
	if t, ok := timefmt.ParseDateTime(raw, loc); ok {
		return t, true
	}

	hhmm, ok := timefmt.Normalize(raw, loc)
	if !ok || !timefmt.IsClock(hhmm) {
		return time.Time{}, false
	}

	ref := now
	if !o.CreatedAt.IsZero() {
		ref = o.CreatedAt.In(loc)
	}
	target, _ := timefmt.ClockOn(hhmm, ref)
	if target.Before(ref) {
		target = target.AddDate(0, 0, 1)
	}
	return target, true
}

func created(o *order.Order, now time.Time) (State, bool) {
	if o.CreatedAt.IsZero() {
		return State{}, false
	}
	m := minutesBetween(o.CreatedAt, now)
	return State{
		Label:          "Creado " + timefmt.FormatMinutes(m),
		SubLabel:       "Inmediato",
		Minutes:        m,
		Classification: enum.ClassOnTrack,
	}, true
}

func na() State {
	return State{Label: notApplicable, Classification: enum.ClassNotApplicable}
}

// minutesBetween is floor((to-from)/1m), clamped at zero.
func minutesBetween(from, to time.Time) int {
	d := to.Sub(from)
	if d < 0 {
		return 0
	}
	return int(d / time.Minute)
}
