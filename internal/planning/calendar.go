package planning

import (
	"math"
	"time"

	"triplab/internal/domain"
)

// CalendarView is what a traveler currently sees: one month, today's date
// and whether their selection is locked.
type CalendarView struct {
	Year   int
	Month  time.Month
	Today  domain.Date
	Locked bool
}

// NewCalendarView shows the month containing today.
func NewCalendarView(today domain.Date, locked bool) CalendarView {
	t := today.Time()
	return CalendarView{Year: t.Year(), Month: t.Month(), Today: today, Locked: locked}
}

// InMonth reports whether d belongs to the displayed month.
func (v CalendarView) InMonth(d domain.Date) bool {
	return d.SameMonth(v.Year, v.Month)
}

// IsPast reports whether d lies before today.
func (v CalendarView) IsPast(d domain.Date) bool {
	return v.Today != "" && d.Before(v.Today)
}

// CanToggle applies the click guards: not locked, not in the past.
func (v CalendarView) CanToggle(d domain.Date) bool {
	return d.Valid() && !v.Locked && !v.IsPast(d)
}

// Selectable applies the drag guards: CanToggle plus the displayed month.
func (v CalendarView) Selectable(d domain.Date) bool {
	return v.CanToggle(d) && v.InMonth(d)
}

// HitTester maps a pointer coordinate to a calendar cell.
type HitTester interface {
	DateAt(x, y float64) (domain.Date, bool)
}

// CalendarGrid is the geometry of a rendered month: seven Sunday-first columns
// of equally sized cells starting at (Left, Top). The grid includes the
// leading and trailing days of neighbouring months.
type CalendarGrid struct {
	Year       int
	Month      time.Month
	Left       float64
	Top        float64
	CellWidth  float64
	CellHeight float64
}

// Days lists every cell of the grid, row by row.
func (g CalendarGrid) Days() []domain.Date {
	first := time.Date(g.Year, g.Month, 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)
	start := first.AddDate(0, 0, -int(first.Weekday()))
	end := last.AddDate(0, 0, int(time.Saturday-last.Weekday()))

	var out []domain.Date
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		out = append(out, domain.DateOf(d))
	}
	return out
}

// Rows is the number of week rows.
func (g CalendarGrid) Rows() int { return len(g.Days()) / 7 }

// DateAt resolves a coordinate, false when it falls outside the grid.
func (g CalendarGrid) DateAt(x, y float64) (domain.Date, bool) {
	if g.CellWidth <= 0 || g.CellHeight <= 0 {
		return "", false
	}
	col := int(math.Floor((x - g.Left) / g.CellWidth))
	row := int(math.Floor((y - g.Top) / g.CellHeight))
	days := g.Days()
	if col < 0 || col >= 7 || row < 0 || row >= len(days)/7 {
		return "", false
	}
	return days[row*7+col], true
}
