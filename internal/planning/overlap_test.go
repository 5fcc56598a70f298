package planning

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"triplab/internal/domain"
)

func dates(ds ...string) []domain.Date {
	out := make([]domain.Date, len(ds))
	for i, d := range ds {
		out[i] = domain.Date(d)
	}
	return out
}

func TestOverlap(t *testing.T) {
	tests := []struct {
		name string
		sets [][]domain.Date
		want []domain.Date
	}{
		{
			name: "no sets",
			sets: nil,
			want: []domain.Date{},
		},
		{
			name: "single set is sorted and deduplicated",
			sets: [][]domain.Date{dates("2024-07-03", "2024-07-01", "2024-07-03")},
			want: dates("2024-07-01", "2024-07-03"),
		},
		{
			name: "two users",
			sets: [][]domain.Date{
				dates("2024-07-01", "2024-07-02", "2024-07-03"),
				dates("2024-07-02", "2024-07-04"),
			},
			want: dates("2024-07-02"),
		},
		{
			name: "disjoint",
			sets: [][]domain.Date{dates("2024-07-01"), dates("2024-07-02")},
			want: []domain.Date{},
		},
		{
			name: "one empty set short-circuits",
			sets: [][]domain.Date{dates("2024-07-01"), {}, dates("2024-07-01")},
			want: []domain.Date{},
		},
		{
			name: "chronological across months and years",
			sets: [][]domain.Date{
				dates("2025-01-02", "2024-12-31", "2024-08-01"),
				dates("2024-08-01", "2025-01-02", "2024-12-31"),
			},
			want: dates("2024-08-01", "2024-12-31", "2025-01-02"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Overlap(tt.sets))
		})
	}
}

func TestOverlap_Symmetric(t *testing.T) {
	a := dates("2024-07-01", "2024-07-02", "2024-07-05", "2024-07-09")
	b := dates("2024-07-09", "2024-07-02", "2024-07-03")
	c := dates("2024-07-02", "2024-07-09", "2024-07-10")

	want := Overlap([][]domain.Date{a, b, c})
	perms := [][][]domain.Date{
		{a, c, b}, {b, a, c}, {b, c, a}, {c, a, b}, {c, b, a},
	}
	for _, p := range perms {
		assert.Equal(t, want, Overlap(p))
	}
	assert.Equal(t, dates("2024-07-02", "2024-07-09"), want)
}

func TestOverlap_IsExactIntersection(t *testing.T) {
	a := dates("2024-07-01", "2024-07-02", "2024-07-03", "2024-07-04")
	b := dates("2024-07-02", "2024-07-03", "2024-07-05")
	got := Overlap([][]domain.Date{a, b})

	inAll := func(d domain.Date) bool {
		return contains(a, d) && contains(b, d)
	}
	for _, d := range got {
		assert.True(t, inAll(d), "%s is in every set", d)
	}
	for _, d := range append(a, b...) {
		if inAll(d) {
			assert.Contains(t, got, d)
		}
	}
}

func contains(set []domain.Date, d domain.Date) bool {
	for _, s := range set {
		if s == d {
			return true
		}
	}
	return false
}

func usersFixture() map[string]*domain.UserState {
	return map[string]*domain.UserState{
		"u1": {Name: "Ada", SelectedDates: dates("2024-07-01", "2024-07-02"), LockedDates: true, JoinedAt: 1},
		"u2": {Name: "", SelectedDates: dates("2024-07-02", "2024-07-03"), LockedDates: false, JoinedAt: 2},
		"u3": {Name: "Cy", LockedDates: false, JoinedAt: 3},
	}
}

func TestAllLocked(t *testing.T) {
	assert.False(t, AllLocked(nil))
	assert.False(t, AllLocked(map[string]*domain.UserState{}))
	assert.False(t, AllLocked(usersFixture()))
	assert.True(t, AllLocked(map[string]*domain.UserState{
		"u1": {LockedDates: true},
		"u2": {LockedDates: true},
	}))
}

func TestOverlapStatus(t *testing.T) {
	users := usersFixture()
	status := OverlapStatus(users)
	assert.False(t, status.AllLocked)
	assert.False(t, status.ShowOverlap)
	assert.Empty(t, status.Overlap, "u3 has no dates")

	delete(users, "u3")
	for _, u := range users {
		u.LockedDates = true
	}
	status = OverlapStatus(users)
	assert.True(t, status.AllLocked)
	assert.True(t, status.ShowOverlap)
	assert.Equal(t, dates("2024-07-02"), status.Overlap)
}

func TestUnlockedUsersAndSummary(t *testing.T) {
	users := usersFixture()
	assert.Equal(t, []string{"Unknown", "Cy"}, UnlockedUsers(users))

	summary := DateSummary(users)
	assert.Len(t, summary, 3)
	assert.Equal(t, "u1", summary[0].UserID)
	assert.Equal(t, 2, summary[0].DateCount)
	assert.True(t, summary[0].Locked)
	assert.Equal(t, "Unknown", summary[1].Name)
	assert.Equal(t, []domain.Date{}, summary[2].Dates)
}

func TestCanPlan(t *testing.T) {
	assert.False(t, CanPlan(nil))
	assert.False(t, CanPlan(&domain.Trip{AllUsersLocked: true}))
	assert.False(t, CanPlan(&domain.Trip{OverlappedDates: dates("2024-07-02")}))
	assert.True(t, CanPlan(&domain.Trip{AllUsersLocked: true, OverlappedDates: dates("2024-07-02")}))
}

func TestDateRangeDescription(t *testing.T) {
	assert.Equal(t, "No dates selected", DateRangeDescription(nil))
	assert.Equal(t, "Jul 2, 2024", DateRangeDescription(dates("2024-07-02")))
	assert.Equal(t, "Jul 1 - Jul 3, 2024 (3 days)",
		DateRangeDescription(dates("2024-07-03", "2024-07-01", "2024-07-02")))
	assert.Equal(t, "Dec 30 - Jan 2, 2025 (2 days)",
		DateRangeDescription(dates("2025-01-02", "2024-12-30")))
}
