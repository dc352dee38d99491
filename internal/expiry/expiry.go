// Package expiry renders the remaining time of a subscription.
package expiry

import (
	"fmt"
	"strings"
	"time"

	"github.com/pro-subscriber/internal/types"
)

// NoActiveSubscription is returned by String when the expiry is not in the future
const NoActiveSubscription = "no active subscription"

// Calculator decomposes an expiry timestamp relative to a clock
type Calculator struct {
	Now      func() time.Time
	Location *time.Location
}

// NewCalculator creates a calculator on the wall clock in UTC
func NewCalculator() *Calculator {
	return &Calculator{Now: time.Now, Location: time.UTC}
}

// Describe returns the calendar-correct breakdown of the time left until expiryUnix.
// The bool is false when the expiry is at or before now.
func (c *Calculator) Describe(expiryUnix int64) (types.ExpiryView, bool) {
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	now := c.Now().In(loc)
	end := time.Unix(expiryUnix, 0).In(loc)

	if !end.After(now) {
		return types.ExpiryView{}, false
	}

	var view types.ExpiryView
	cursor := now

	for {
		next := cursor.AddDate(1, 0, 0)
		if next.After(end) {
			break
		}
		view.Years++
		cursor = next
	}

	// each month step starts from the previous one, so Jan 31 advances to Mar 3 and then Apr 3
	for {
		next := cursor.AddDate(0, 1, 0)
		if next.After(end) {
			break
		}
		view.Months++
		cursor = next
	}

	remaining := end.Sub(cursor)
	view.Days = int(remaining / (24 * time.Hour))
	remaining -= time.Duration(view.Days) * 24 * time.Hour

	if view.Years == 0 && view.Months == 0 && view.Days == 0 {
		view.Hours = int(remaining / time.Hour)
		remaining -= time.Duration(view.Hours) * time.Hour
		view.Minutes = int(remaining / time.Minute)
		remaining -= time.Duration(view.Minutes) * time.Minute
		view.Seconds = int(remaining / time.Second)
	}

	return view, true
}

// String renders the remaining time, e.g. "2 years, 1 month" or "3 hours, 12 minutes"
func (c *Calculator) String(expiryUnix int64) string {
	view, ok := c.Describe(expiryUnix)
	if !ok {
		return NoActiveSubscription
	}
	return Format(view)
}

// Format joins the non-zero parts of a view, largest unit first
func Format(view types.ExpiryView) string {
	units := []struct {
		n    int
		name string
	}{
		{view.Years, "year"},
		{view.Months, "month"},
		{view.Days, "day"},
		{view.Hours, "hour"},
		{view.Minutes, "minute"},
		{view.Seconds, "second"},
	}

	parts := make([]string, 0, len(units))
	for _, u := range units {
		if u.n == 0 {
			continue
		}
		if u.n == 1 {
			parts = append(parts, fmt.Sprintf("1 %s", u.name))
		} else {
			parts = append(parts, fmt.Sprintf("%d %ss", u.n, u.name))
		}
	}

	// a clock with sub-second precision can leave a remainder below one second
	if len(parts) == 0 {
		return "less than a second"
	}
	return strings.Join(parts, ", ")
}
