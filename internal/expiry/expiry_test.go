package expiry

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/pro-subscriber/internal/types"
)

func fixedCalculator(now time.Time) *Calculator {
	return &Calculator{Now: func() time.Time { return now }, Location: time.UTC}
}

func TestDescribeNoActiveSubscription(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	c := fixedCalculator(now)

	tests := []struct {
		name   string
		expiry int64
	}{
		{"exactly now", now.Unix()},
		{"in the past", now.Add(-time.Hour).Unix()},
		{"zero", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := c.Describe(tt.expiry)
			assert.False(t, ok)
			assert.Equal(t, NoActiveSubscription, c.String(tt.expiry))
		})
	}
}

func TestDescribeCalendarBreakdown(t *testing.T) {
	now := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	c := fixedCalculator(now)

	tests := []struct {
		name   string
		expiry time.Time
		want   string
	}{
		{"400 days", now.AddDate(0, 0, 400), "1 year, 1 month, 3 days"},
		{"two years one month", now.AddDate(2, 1, 0), "2 years, 1 month"},
		{"one month exactly", now.AddDate(0, 1, 0), "1 month"},
		{"days only hide hours", now.Add(3*24*time.Hour + 5*time.Hour), "3 days"},
		{"sub-day", now.Add(3*time.Hour + 12*time.Minute), "3 hours, 12 minutes"},
		{"seconds", now.Add(time.Minute + 1*time.Second), "1 minute, 1 second"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.String(tt.expiry.Unix()))
		})
	}
}

func TestDescribeMonthEndClamping(t *testing.T) {
	// Jan 31 + 1 month normalizes to Mar 2 in 2024, so Feb 29 is still under one month
	now := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	c := fixedCalculator(now)

	view, ok := c.Describe(time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC).Unix())
	assert.True(t, ok)
	assert.Equal(t, types.ExpiryView{Days: 29}, view)

	// Jan 31 advances to Mar 3 in 2027; the next step would land on Apr 3
	now = time.Date(2027, 1, 31, 0, 0, 0, 0, time.UTC)
	c = fixedCalculator(now)

	view, ok = c.Describe(time.Date(2027, 4, 1, 0, 0, 0, 0, time.UTC).Unix())
	assert.True(t, ok)
	assert.Equal(t, types.ExpiryView{Months: 1, Days: 29}, view)
	assert.Equal(t, "1 month, 29 days", Format(view))
}

func TestDescribeSubSecondRemainder(t *testing.T) {
	now := time.Date(2025, 6, 1, 8, 30, 0, 400*int(time.Millisecond), time.UTC)
	c := fixedCalculator(now)

	view, ok := c.Describe(now.Unix() + 1)
	assert.True(t, ok)
	assert.Equal(t, types.ExpiryView{}, view)
	assert.Equal(t, "less than a second", c.String(now.Unix()+1))
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "1 year", Format(types.ExpiryView{Years: 1}))
	assert.Equal(t, "2 months, 1 day", Format(types.ExpiryView{Months: 2, Days: 1}))
	assert.Equal(t, "less than a second", Format(types.ExpiryView{}))
}

func TestDescribeProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	now := time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC)
	c := fixedCalculator(now)

	properties.Property("sub-day units only appear when years, months and days are zero", prop.ForAll(
		func(offset int64) bool {
			view, ok := c.Describe(now.Unix() + offset)
			if !ok {
				return false
			}
			if view.Years > 0 || view.Months > 0 || view.Days > 0 {
				return view.Hours == 0 && view.Minutes == 0 && view.Seconds == 0
			}
			return true
		},
		gen.Int64Range(1, 10*365*24*3600),
	))

	properties.Property("breakdown never exceeds the remaining time", prop.ForAll(
		func(offset int64) bool {
			view, _ := c.Describe(now.Unix() + offset)
			advanced := now.AddDate(view.Years, view.Months, view.Days).
				Add(time.Duration(view.Hours)*time.Hour + time.Duration(view.Minutes)*time.Minute + time.Duration(view.Seconds)*time.Second)
			return !advanced.After(time.Unix(now.Unix()+offset, 0))
		},
		gen.Int64Range(1, 10*365*24*3600),
	))

	properties.Property("months stay below twelve", prop.ForAll(
		func(offset int64) bool {
			view, _ := c.Describe(now.Unix() + offset)
			return view.Months < 12
		},
		gen.Int64Range(1, 10*365*24*3600),
	))

	properties.TestingRun(t)
}
