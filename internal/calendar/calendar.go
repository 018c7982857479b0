// Package calendar provides Chinese A-share trading-calendar awareness.
//
// Design rules (adapted from the teacher's internal/market package):
//   - The system must know if today is a trading day.
//   - Do not rely only on weekday checks; consult exchange holiday data.
//   - One central calendar type, injected rather than a package global.
package calendar

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// CST is the China Standard Time location used by the Shanghai/Shenzhen
// exchanges.
var CST *time.Location

func init() {
	var err error
	CST, err = time.LoadLocation("Asia/Shanghai")
	if err != nil {
		panic(fmt.Sprintf("calendar: failed to load CST timezone: %v", err))
	}
}

// SSE/SZSE continuous trading session hours (CST), ignoring the lunch
// break for the purposes of a daily-frequency engine.
const (
	MarketOpenHour  = 9
	MarketOpenMin   = 30
	MarketCloseHour = 15
	MarketCloseMin  = 0
)

// Date is a trading-calendar day in YYYYMMDD form, as supplied by the
// external bar/calendar provider. It is comparable and sortable as a
// plain string because the YYYYMMDD encoding is lexicographically
// ordered.
type Date string

// ParseDate validates and returns a Date from an eight-digit YYYYMMDD
// string.
func ParseDate(s string) (Date, error) {
	if len(s) != 8 {
		return "", fmt.Errorf("calendar: invalid date %q: want YYYYMMDD", s)
	}
	if _, err := time.Parse("20060102", s); err != nil {
		return "", fmt.Errorf("calendar: invalid date %q: %w", s, err)
	}
	return Date(s), nil
}

// Time parses the Date into a time.Time at midnight CST.
func (d Date) Time() (time.Time, error) {
	return time.ParseInLocation("20060102", string(d), CST)
}

// FormatDate renders a time.Time as a YYYYMMDD Date.
func FormatDate(t time.Time) Date {
	return Date(t.In(CST).Format("20060102"))
}

// Calendar provides exchange holiday and trading-day information,
// independent of any particular backtest's date range.
type Calendar struct {
	holidays map[string]string // YYYY-MM-DD -> reason
}

// HolidayEntry represents a single exchange holiday.
type HolidayEntry struct {
	Date   string `json:"date"`   // YYYY-MM-DD
	Reason string `json:"reason"` // e.g. "Spring Festival", "National Day"
}

// NewCalendar creates a Calendar from a JSON holiday file: an array of
// HolidayEntry objects.
func NewCalendar(holidayFilePath string) (*Calendar, error) {
	data, err := os.ReadFile(holidayFilePath)
	if err != nil {
		return nil, fmt.Errorf("calendar: read holidays file: %w", err)
	}

	var entries []HolidayEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("calendar: parse holidays: %w", err)
	}

	holidays := make(map[string]string, len(entries))
	for _, e := range entries {
		holidays[e.Date] = e.Reason
	}
	return &Calendar{holidays: holidays}, nil
}

// NewCalendarFromHolidays creates a Calendar directly from a holiday map.
// Useful for tests and in-memory configuration.
func NewCalendarFromHolidays(holidays map[string]string) *Calendar {
	return &Calendar{holidays: holidays}
}

// IsTradingDay returns true if the given date is a trading day: a weekday
// that is not a listed exchange holiday.
func (c *Calendar) IsTradingDay(date time.Time) bool {
	d := date.In(CST)
	if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		return false
	}
	if _, isHoliday := c.holidays[d.Format("2006-01-02")]; isHoliday {
		return false
	}
	return true
}

// HolidayReason returns the reason for a holiday, or "" if date is not one.
func (c *Calendar) HolidayReason(date time.Time) string {
	return c.holidays[date.In(CST).Format("2006-01-02")]
}

// IsMarketOpen returns true if the exchange is currently in its trading
// session.
func (c *Calendar) IsMarketOpen(now time.Time) bool {
	t := now.In(CST)
	if !c.IsTradingDay(t) {
		return false
	}
	cur := t.Hour()*60 + t.Minute()
	open := MarketOpenHour*60 + MarketOpenMin
	close_ := MarketCloseHour*60 + MarketCloseMin
	return cur >= open && cur < close_
}

// NextTradingDay returns the next trading day strictly after date.
func (c *Calendar) NextTradingDay(date time.Time) time.Time {
	candidate := date.In(CST).AddDate(0, 0, 1)
	for i := 0; i < 15; i++ {
		if c.IsTradingDay(candidate) {
			return candidate
		}
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

// PreviousTradingDay returns the most recent trading day strictly before
// date.
func (c *Calendar) PreviousTradingDay(date time.Time) time.Time {
	candidate := date.In(CST).AddDate(0, 0, -1)
	for i := 0; i < 15; i++ {
		if c.IsTradingDay(candidate) {
			return candidate
		}
		candidate = candidate.AddDate(0, 0, -1)
	}
	return candidate
}

// RollForward normalizes a requested trade date to the next trading day
// if it is not itself one, per spec boundary behavior B2. A trading day
// is returned unchanged.
func (c *Calendar) RollForward(date time.Time) time.Time {
	if c.IsTradingDay(date) {
		return date
	}
	return c.NextTradingDay(date.AddDate(0, 0, -1))
}
