// Package expiry resolves which option expiry an underlying may trade right
// now, from a static per-underlying table of same-day-expiry weekdays and a
// days-to-expiry cap.
package expiry

import (
	"fmt"
	"time"

	"github.com/gregtusar/zerodte/pkg/models"
)

// Entry describes the expiries listed for one underlying.
type Entry struct {
	ZeroDTEDays []time.Weekday
	MaxDTE      int
	Class       models.UnderlyingClass
}

func (e Entry) hasZeroDTE(d time.Weekday) bool {
	for _, w := range e.ZeroDTEDays {
		if w == d {
			return true
		}
	}
	return false
}

// DefaultEntry applies to underlyings missing from the table.
var DefaultEntry = Entry{
	ZeroDTEDays: []time.Weekday{time.Friday},
	MaxDTE:      2,
	Class:       models.ClassUnknown,
}

func DefaultEntries() map[string]Entry {
	mwf := []time.Weekday{time.Monday, time.Wednesday, time.Friday}
	fri := []time.Weekday{time.Friday}
	return map[string]Entry{
		"SPY":  {ZeroDTEDays: mwf, MaxDTE: 2, Class: models.ClassLiquid},
		"QQQ":  {ZeroDTEDays: mwf, MaxDTE: 2, Class: models.ClassLiquid},
		"IWM":  {ZeroDTEDays: fri, MaxDTE: 2, Class: models.ClassStandard},
		"DIA":  {ZeroDTEDays: fri, MaxDTE: 2, Class: models.ClassStandard},
		"GLD":  {ZeroDTEDays: fri, MaxDTE: 2, Class: models.ClassStandard},
		"TLT":  {ZeroDTEDays: fri, MaxDTE: 2, Class: models.ClassStandard},
		"XLF":  {ZeroDTEDays: fri, MaxDTE: 3, Class: models.ClassSector},
		"XLK":  {ZeroDTEDays: fri, MaxDTE: 3, Class: models.ClassSector},
		"XLE":  {ZeroDTEDays: fri, MaxDTE: 3, Class: models.ClassSector},
		"UVXY": {ZeroDTEDays: fri, MaxDTE: 1, Class: models.ClassVolatility},
		"VIX":  {ZeroDTEDays: []time.Weekday{time.Wednesday, time.Friday}, MaxDTE: 1, Class: models.ClassVolatility},
	}
}

// Window bounds, in minutes after exchange-local midnight.
const (
	windowOpen  = 10 * 60
	entryCutoff = 15*60 + 15
	marketClose = 16 * 60
)

type Calendar struct {
	entries  map[string]Entry
	fallback Entry
	loc      *time.Location
}

// NewCalendar builds a calendar evaluated in loc (the exchange's zone).
// A nil loc keeps each timestamp's own location.
func NewCalendar(entries map[string]Entry, loc *time.Location) *Calendar {
	if entries == nil {
		entries = DefaultEntries()
	}
	return &Calendar{entries: entries, fallback: DefaultEntry, loc: loc}
}

func (c *Calendar) Entry(underlying string) Entry {
	if e, ok := c.entries[underlying]; ok {
		return e
	}
	return c.fallback
}

func (c *Calendar) Class(underlying string) models.UnderlyingClass {
	return c.Entry(underlying).Class
}

func (c *Calendar) local(t time.Time) time.Time {
	if c.loc == nil {
		return t
	}
	return t.In(c.loc)
}

// IsZeroDTEAvailable reports whether the underlying lists a same-day expiry
// on the given day.
func (c *Calendar) IsZeroDTEAvailable(underlying string, day time.Time) bool {
	return c.Entry(underlying).hasZeroDTE(c.local(day).Weekday())
}

// ResolvePolicy picks the expiry to trade at now. A PolicyNone result means
// the underlying must not be traded right now; there is no implicit default.
func (c *Calendar) ResolvePolicy(underlying string, now time.Time) models.ExpiryPolicy {
	now = c.local(now)
	entry := c.Entry(underlying)
	today := dateOf(now)

	if inEntryWindow(now) && entry.hasZeroDTE(now.Weekday()) {
		return models.ExpiryPolicy{Name: models.PolicyZeroDTE, Expiry: today}
	}

	dates := c.ValidExpiries(underlying, now)
	if len(dates) == 0 {
		return models.ExpiryPolicy{Name: models.PolicyNone}
	}
	nearest := dates[0]
	return models.ExpiryPolicy{Name: classify(DaysBetween(today, nearest)), Expiry: nearest}
}

// ValidExpiries lists every weekday date from today through MaxDTE on which
// the underlying has an expiry.
func (c *Calendar) ValidExpiries(underlying string, now time.Time) []time.Time {
	now = c.local(now)
	entry := c.Entry(underlying)
	today := dateOf(now)

	var out []time.Time
	for dte := 0; dte <= entry.MaxDTE; dte++ {
		d := today.AddDate(0, 0, dte)
		if isWeekend(d) {
			continue
		}
		if entry.hasZeroDTE(d.Weekday()) {
			out = append(out, d)
		}
	}
	return out
}

// ValidateExpiry re-checks a previously chosen expiry against the DTE cap,
// the weekday table and the 15:15 same-day entry cutoff.
func (c *Calendar) ValidateExpiry(underlying string, expiry, now time.Time) (bool, string) {
	now = c.local(now)
	entry := c.Entry(underlying)
	dte := DaysBetween(dateOf(now), dateOf(expiry))

	if dte < 0 {
		return false, fmt.Sprintf("expiry %s already passed", expiry.Format(models.DateLayout))
	}
	if dte > entry.MaxDTE {
		return false, fmt.Sprintf("DTE %d exceeds max %d for %s", dte, entry.MaxDTE, underlying)
	}
	if dte <= 2 && !entry.hasZeroDTE(expiry.Weekday()) {
		return false, fmt.Sprintf("expiry weekday %s not available for %s", expiry.Weekday(), underlying)
	}
	if dte == 0 && minuteOfDay(now) > entryCutoff {
		return false, "too late for 0DTE entry (after 15:15 ET)"
	}
	return true, "valid expiry"
}

// TradingTimeRemaining returns fractional trading days (6.5h each) until the
// 16:00 close on the expiry date.
func (c *Calendar) TradingTimeRemaining(expiry, now time.Time) float64 {
	now = c.local(now)
	d := dateOf(expiry)
	closeAt := time.Date(d.Year(), d.Month(), d.Day(), marketClose/60, 0, 0, 0, now.Location())
	if !now.Before(closeAt) {
		return 0
	}
	return closeAt.Sub(now).Hours() / 6.5
}

// InEntryWindow reports whether now falls in the 10:00-15:15 exchange-local
// entry window.
func (c *Calendar) InEntryWindow(now time.Time) bool {
	return inEntryWindow(c.local(now))
}

// PastEntryCutoff reports whether new entries are closed for the day.
func (c *Calendar) PastEntryCutoff(now time.Time) bool {
	return minuteOfDay(c.local(now)) > entryCutoff
}

// DTE is the number of calendar days from now's date to the expiry date.
func (c *Calendar) DTE(expiry, now time.Time) int {
	return DaysBetween(dateOf(c.local(now)), dateOf(expiry))
}

func classify(dte int) models.PolicyName {
	switch {
	case dte == 0:
		return models.PolicyZeroDTE
	case dte <= 2:
		return models.PolicyShortDTE
	default:
		return models.PolicyWeekly
	}
}

func inEntryWindow(t time.Time) bool {
	m := minuteOfDay(t)
	return m >= windowOpen && m <= entryCutoff
}

func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

func isWeekend(t time.Time) bool {
	return t.Weekday() == time.Saturday || t.Weekday() == time.Sunday
}

// dateOf truncates t to midnight in its own location.
func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// DaysBetween counts calendar days between two dates, ignoring clock time
// and DST shifts.
func DaysBetween(from, to time.Time) int {
	fy, fm, fd := from.Date()
	ty, tm, td := to.Date()
	a := time.Date(fy, fm, fd, 0, 0, 0, 0, time.UTC)
	b := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

// NextTradingDays returns the next n weekdays strictly after from.
func NextTradingDays(from time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	d := dateOf(from)
	for len(out) < n {
		d = d.AddDate(0, 0, 1)
		if !isWeekend(d) {
			out = append(out, d)
		}
	}
	return out
}
