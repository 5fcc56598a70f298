package service

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"triplab/internal/domain"
	"triplab/internal/planning"
)

type EventType string

const (
	EventUserJoined   EventType = "user_joined"
	EventUserLocked   EventType = "user_locked"
	EventUserUnlocked EventType = "user_unlocked"
	EventAllLocked    EventType = "all_locked"
)

// Event is a notable change another traveler made to a trip.
type Event struct {
	Type        EventType `json:"type"`
	TripID      string    `json:"trip_id"`
	UserID      string    `json:"user_id,omitempty"`
	Name        string    `json:"name,omitempty"`
	OverlapDays int       `json:"overlap_days,omitempty"`
	Message     string    `json:"message"`
	At          time.Time `json:"at"`
}

// Notifier receives trip events for one live session.
type Notifier interface {
	Notify(ev Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Event)

func (f NotifierFunc) Notify(ev Event) { f(ev) }

// LogNotifier writes events to the log.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ev Event) {
	n.logger.Info("trip_event",
		zap.String("type", string(ev.Type)),
		zap.String("trip_id", ev.TripID),
		zap.String("user_id", ev.UserID),
		zap.String("message", ev.Message))
}

// DiffEvents compares two trip states and lists the events worth telling
// viewer about. Changes by viewer are left out; prev nil yields nothing.
func DiffEvents(prev, next *domain.Trip, viewer string, at time.Time) []Event {
	if prev == nil || next == nil {
		return nil
	}

	var events []Event
	for _, u := range next.OrderedUsers() {
		if u.ID == viewer {
			continue
		}
		name := u.Name
		if name == "" {
			name = "Someone"
		}
		before := prev.Member(u.ID)
		ev := Event{TripID: next.ID, UserID: u.ID, Name: u.Name, At: at}
		switch {
		case before == nil:
			ev.Type = EventUserJoined
			ev.Message = fmt.Sprintf("%s joined the trip!", name)
		case !before.LockedDates && u.LockedDates:
			ev.Type = EventUserLocked
			ev.Message = fmt.Sprintf("%s locked their dates", name)
		case before.LockedDates && !u.LockedDates:
			ev.Type = EventUserUnlocked
			ev.Message = fmt.Sprintf("%s unlocked their dates", name)
		default:
			continue
		}
		events = append(events, ev)
	}

	if !prev.AllUsersLocked && next.AllUsersLocked {
		// The stored overlap may land in a later write; count from the users.
		n := len(planning.UsersOverlap(next.Users))
		events = append(events, Event{
			Type:        EventAllLocked,
			TripID:      next.ID,
			OverlapDays: n,
			Message:     fmt.Sprintf("Everyone's locked! %d days overlap", n),
			At:          at,
		})
	}
	return events
}
