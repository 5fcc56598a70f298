package planning

import (
	"sync"

	"triplab/internal/domain"
)

// DragMode decides whether touched dates are added or removed on commit.
type DragMode int

const (
	ModeSelect DragMode = iota
	ModeDeselect
)

func (m DragMode) String() string {
	if m == ModeDeselect {
		return "deselect"
	}
	return "select"
}

// SelectionTarget is the local selection a drag operates on.
type SelectionTarget interface {
	Selected() []domain.Date
	SetAll(dates []domain.Date)
}

// DragSelection is the press-drag-release selection state machine.
// It is idle until Start succeeds and returns to idle on Commit.
type DragSelection struct {
	mu       sync.Mutex
	target   SelectionTarget
	view     CalendarView
	hit      HitTester
	dragging bool
	mode     DragMode
	touched  map[domain.Date]struct{}
}

func NewDragSelection(target SelectionTarget, view CalendarView) *DragSelection {
	return &DragSelection{target: target, view: view}
}

// SetView changes the displayed month or lock state. An active drag keeps
// the dates it already touched.
func (d *DragSelection) SetView(view CalendarView) {
	d.mu.Lock()
	d.view = view
	d.mu.Unlock()
}

func (d *DragSelection) View() CalendarView {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.view
}

// SetHitTester installs the geometry used by PointerMove.
func (d *DragSelection) SetHitTester(h HitTester) {
	d.mu.Lock()
	d.hit = h
	d.mu.Unlock()
}

// Start begins a drag at anchor. The mode is deselect when anchor is already
// selected. Returns false when the anchor is not selectable.
func (d *DragSelection) Start(anchor domain.Date) bool {
	d.mu.Lock()
	view := d.view
	d.mu.Unlock()
	if !view.Selectable(anchor) {
		return false
	}

	mode := ModeSelect
	for _, s := range d.target.Selected() {
		if s == anchor {
			mode = ModeDeselect
			break
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.dragging = true
	d.mode = mode
	d.touched = map[domain.Date]struct{}{anchor: {}}
	return true
}

// Enter adds date to the drag when it is selectable.
func (d *DragSelection) Enter(date domain.Date) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.dragging || !d.view.Selectable(date) {
		return false
	}
	d.touched[date] = struct{}{}
	return true
}

// PointerMove resolves a coordinate through the hit tester and behaves as Enter.
func (d *DragSelection) PointerMove(x, y float64) bool {
	d.mu.Lock()
	hit := d.hit
	d.mu.Unlock()
	if hit == nil {
		return false
	}
	date, ok := hit.DateAt(x, y)
	if !ok {
		return false
	}
	return d.Enter(date)
}

// Commit ends the drag. Touched dates are merged into, or removed from, the
// target selection and SetAll is called with the result. Returns the committed
// selection, or nil when nothing was applied.
func (d *DragSelection) Commit() []domain.Date {
	d.mu.Lock()
	dragging, mode, touched := d.dragging, d.mode, d.touched
	d.dragging = false
	d.touched = nil
	d.mu.Unlock()

	if !dragging || len(touched) == 0 {
		return nil
	}

	current := d.target.Selected()
	next := make([]domain.Date, 0, len(current)+len(touched))
	switch mode {
	case ModeSelect:
		seen := make(map[domain.Date]struct{}, len(current))
		for _, c := range current {
			seen[c] = struct{}{}
			next = append(next, c)
		}
		for t := range touched {
			if _, ok := seen[t]; !ok {
				next = append(next, t)
			}
		}
	case ModeDeselect:
		for _, c := range current {
			if _, ok := touched[c]; !ok {
				next = append(next, c)
			}
		}
	}
	next = domain.UniqueSorted(next)
	d.target.SetAll(next)
	return next
}

// Dragging reports whether a drag is in progress.
func (d *DragSelection) Dragging() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dragging
}

// Mode is only meaningful while dragging.
func (d *DragSelection) Mode() DragMode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

// Touched returns the dates covered so far, sorted.
func (d *DragSelection) Touched() []domain.Date {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]domain.Date, 0, len(d.touched))
	for t := range d.touched {
		out = append(out, t)
	}
	domain.SortDates(out)
	return out
}
