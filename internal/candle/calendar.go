package candle

import (
	"log"
	"time"

	"github.com/scmhub/calendar"
)

// Calendar answers business-day questions for the scanned exchange. It
// wraps the MIC calendar with a weekday fallback so a missing calendar
// build never stops a scan.
type Calendar struct {
	cal      *calendar.Calendar
	fallback bool
	loc      *time.Location
}

// NewCalendar loads the calendar for a MIC code (ISO 10383), defaulting
// to XNYS for US equities.
func NewCalendar(mic string) *Calendar {
	if mic == "" {
		mic = "xnys"
	}
	cal := calendar.GetCalendar(mic)
	if cal == nil {
		cal = calendar.GetCalendar("xnys")
	}
	if cal == nil {
		log.Printf("[CALENDAR] no calendar for MIC %q, falling back to Mon-Fri", mic)
		loc, err := time.LoadLocation("America/New_York")
		if err != nil {
			loc = time.UTC
		}
		return &Calendar{fallback: true, loc: loc}
	}
	return &Calendar{cal: cal, loc: cal.Loc}
}

// Location returns the exchange's time zone.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// IsTradingDay reports whether the exchange is open on the given date.
func (c *Calendar) IsTradingDay(date time.Time) bool {
	date = date.In(c.loc)
	if c.fallback {
		wd := date.Weekday()
		return wd != time.Saturday && wd != time.Sunday
	}
	return c.cal.IsBusinessDay(date)
}

// BusinessDays returns the trading dates in [from, to], midnight-aligned
// in the exchange time zone, oldest first.
func (c *Calendar) BusinessDays(from, to time.Time) []time.Time {
	from = from.In(c.loc)
	to = to.In(c.loc)

	day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, c.loc)
	end := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, c.loc)

	var days []time.Time
	for !day.After(end) {
		if c.IsTradingDay(day) {
			days = append(days, day)
		}
		day = day.AddDate(0, 0, 1)
	}
	return days
}

// PriorTradingDay returns the last trading day strictly before date.
func (c *Calendar) PriorTradingDay(date time.Time) time.Time {
	day := date.In(c.loc)
	day = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, c.loc)
	for {
		day = day.AddDate(0, 0, -1)
		if c.IsTradingDay(day) {
			return day
		}
	}
}
