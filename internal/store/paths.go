package store

import "strings"

// Document tree layout.
//
//	trips/{tripId}
//	trips/{tripId}/users/{userId}/selectedDates
//	trips/{tripId}/users/{userId}/lockedDates
//	trips/{tripId}/allUsersLocked
//	trips/{tripId}/overlappedDates
//	trips/{tripId}/activities/{date}/{slot}/{activityId}/votes/{userId}
//	codes/{shareableCode}

func join(parts ...string) string { return strings.Join(parts, "/") }

func TripPath(tripID string) string { return join("trips", tripID) }

func UsersPath(tripID string) string { return join("trips", tripID, "users") }

func UserPath(tripID, userID string) string { return join("trips", tripID, "users", userID) }

func SelectedDatesPath(tripID, userID string) string {
	return join(UserPath(tripID, userID), "selectedDates")
}

func LockedDatesPath(tripID, userID string) string {
	return join(UserPath(tripID, userID), "lockedDates")
}

func AllUsersLockedPath(tripID string) string { return join("trips", tripID, "allUsersLocked") }

func OverlappedDatesPath(tripID string) string { return join("trips", tripID, "overlappedDates") }

func DayPath(tripID, date string) string { return join("trips", tripID, "activities", date) }

func SlotPath(tripID, date, slot string) string { return join(DayPath(tripID, date), slot) }

func ActivityPath(tripID, date, slot, activityID string) string {
	return join(SlotPath(tripID, date, slot), activityID)
}

func VotePath(tripID, date, slot, activityID, userID string) string {
	return join(ActivityPath(tripID, date, slot, activityID), "votes", userID)
}

func CodePath(code string) string { return join("codes", code) }
