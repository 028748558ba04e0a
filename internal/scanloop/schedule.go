package scanloop

import (
	"fmt"
	"time"

	"gapscan/internal/candle"
)

// MarketSchedule is the scan window in exchange-local time.
type MarketSchedule struct {
	OpenHour  int
	OpenMin   int
	CloseHour int
	CloseMin  int
}

// DefaultMarketSchedule is the NYSE/NASDAQ regular session.
func DefaultMarketSchedule() MarketSchedule {
	return MarketSchedule{OpenHour: 9, OpenMin: 30, CloseHour: 16, CloseMin: 0}
}

// ExtendedMarketSchedule covers pre-market through after-hours.
func ExtendedMarketSchedule() MarketSchedule {
	return MarketSchedule{OpenHour: 4, OpenMin: 0, CloseHour: 20, CloseMin: 0}
}

// MarketStatus is a point-in-time view of the scan window.
type MarketStatus struct {
	IsOpen      bool
	Now         time.Time
	OpenTime    time.Time
	CloseTime   time.Time
	TimeToOpen  time.Duration
	TimeToClose time.Duration
	Reason      string // "open", "closed-day", "pre-market", "after-hours"
}

// GetMarketStatus evaluates the schedule against the calendar at now.
func GetMarketStatus(cal *candle.Calendar, schedule MarketSchedule, now time.Time) MarketStatus {
	local := now.In(cal.Location())
	status := MarketStatus{Now: local}

	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, cal.Location())
	status.OpenTime = today.Add(time.Duration(schedule.OpenHour)*time.Hour + time.Duration(schedule.OpenMin)*time.Minute)
	status.CloseTime = today.Add(time.Duration(schedule.CloseHour)*time.Hour + time.Duration(schedule.CloseMin)*time.Minute)

	if !cal.IsTradingDay(local) {
		status.Reason = "closed-day"
		status.TimeToOpen = nextOpen(cal, schedule, today).Sub(local)
		return status
	}

	switch {
	case local.Before(status.OpenTime):
		status.Reason = "pre-market"
		status.TimeToOpen = status.OpenTime.Sub(local)
	case !local.Before(status.CloseTime):
		status.Reason = "after-hours"
		status.TimeToOpen = nextOpen(cal, schedule, today).Sub(local)
	default:
		status.IsOpen = true
		status.Reason = "open"
		status.TimeToClose = status.CloseTime.Sub(local)
	}
	return status
}

// nextOpen finds the next trading day's open strictly after today.
func nextOpen(cal *candle.Calendar, schedule MarketSchedule, today time.Time) time.Time {
	day := today.AddDate(0, 0, 1)
	for i := 0; i < 10 && !cal.IsTradingDay(day); i++ {
		day = day.AddDate(0, 0, 1)
	}
	return day.Add(time.Duration(schedule.OpenHour)*time.Hour + time.Duration(schedule.OpenMin)*time.Minute)
}

// FormatDuration renders a wait for log lines.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		return "0s"
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
