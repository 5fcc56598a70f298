// Package planning holds the pure rules of trip planning: date overlap,
// lock status, vote tallies and the drag-selection state machine. Nothing
// here touches the store.
package planning

import (
	"fmt"

	"triplab/internal/domain"
)

// Overlap returns the dates present in every set, sorted ascending. No sets,
// or any empty set, yields an empty result.
func Overlap(sets [][]domain.Date) []domain.Date {
	if len(sets) == 0 {
		return []domain.Date{}
	}
	for _, s := range sets {
		if len(s) == 0 {
			return []domain.Date{}
		}
	}

	acc := make(map[domain.Date]struct{}, len(sets[0]))
	for _, d := range sets[0] {
		acc[d] = struct{}{}
	}
	for _, s := range sets[1:] {
		if len(acc) == 0 {
			break
		}
		member := make(map[domain.Date]struct{}, len(s))
		for _, d := range s {
			member[d] = struct{}{}
		}
		for d := range acc {
			if _, ok := member[d]; !ok {
				delete(acc, d)
			}
		}
	}

	out := make([]domain.Date, 0, len(acc))
	for d := range acc {
		out = append(out, d)
	}
	domain.SortDates(out)
	return out
}

// UsersOverlap runs Overlap over every user's selection.
func UsersOverlap(users map[string]*domain.UserState) []domain.Date {
	sets := make([][]domain.Date, 0, len(users))
	for _, u := range users {
		if u == nil {
			continue
		}
		sets = append(sets, u.SelectedDates)
	}
	return Overlap(sets)
}

// AllLocked is true when there is at least one user and every user is locked.
func AllLocked(users map[string]*domain.UserState) bool {
	if len(users) == 0 {
		return false
	}
	for _, u := range users {
		if u == nil || !u.LockedDates {
			return false
		}
	}
	return true
}

// EverySelectionNonEmpty reports whether each user picked at least one date.
func EverySelectionNonEmpty(users map[string]*domain.UserState) bool {
	for _, u := range users {
		if u == nil || len(u.SelectedDates) == 0 {
			return false
		}
	}
	return len(users) > 0
}

// Status summarizes where a trip stands on agreeing dates.
type Status struct {
	AllLocked   bool          `json:"all_locked"`
	Overlap     []domain.Date `json:"overlap"`
	ShowOverlap bool          `json:"show_overlap"`
}

// OverlapStatus derives the live status from user state alone.
func OverlapStatus(users map[string]*domain.UserState) Status {
	allLocked := AllLocked(users)
	overlap := UsersOverlap(users)
	return Status{
		AllLocked:   allLocked,
		Overlap:     overlap,
		ShowOverlap: allLocked && len(overlap) > 0,
	}
}

// CanPlan reports whether the trip may move on to activity planning.
func CanPlan(trip *domain.Trip) bool {
	return trip != nil && trip.AllUsersLocked && len(trip.OverlappedDates) > 0
}

const unknownName = "Unknown"

// UnlockedUsers returns the names of users still editing, in join order.
func UnlockedUsers(users map[string]*domain.UserState) []string {
	names := []string{}
	for _, u := range domain.OrderUsers(users) {
		if u.LockedDates {
			continue
		}
		names = append(names, displayName(u))
	}
	return names
}

// UserSummary is one row of the per-user selection overview.
type UserSummary struct {
	UserID    string        `json:"user_id"`
	Name      string        `json:"name"`
	DateCount int           `json:"date_count"`
	Locked    bool          `json:"locked"`
	Dates     []domain.Date `json:"dates"`
}

// DateSummary lists every user's selection in join order.
func DateSummary(users map[string]*domain.UserState) []UserSummary {
	ordered := domain.OrderUsers(users)
	out := make([]UserSummary, 0, len(ordered))
	for _, u := range ordered {
		dates := u.SelectedDates
		if dates == nil {
			dates = []domain.Date{}
		}
		out = append(out, UserSummary{
			UserID:    u.ID,
			Name:      displayName(u),
			DateCount: len(dates),
			Locked:    u.LockedDates,
			Dates:     dates,
		})
	}
	return out
}

func displayName(u *domain.UserState) string {
	if u.Name == "" {
		return unknownName
	}
	return u.Name
}

// DateRangeDescription renders a selection such as "Jul 1 - Jul 3, 2024 (3 days)".
func DateRangeDescription(dates []domain.Date) string {
	switch len(dates) {
	case 0:
		return "No dates selected"
	case 1:
		return formatDate(dates[0], "Jan 2, 2006")
	}
	sorted := append([]domain.Date(nil), dates...)
	domain.SortDates(sorted)
	first := formatDate(sorted[0], "Jan 2")
	last := formatDate(sorted[len(sorted)-1], "Jan 2, 2006")
	return fmt.Sprintf("%s - %s (%d days)", first, last, len(dates))
}

func formatDate(d domain.Date, layout string) string {
	t := d.Time()
	if t.IsZero() {
		return string(d)
	}
	return t.Format(layout)
}
