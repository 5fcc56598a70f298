package domain

import (
	"encoding/json"
	"fmt"
	"sort"

	apperrors "triplab/pkg/errors"
)

// CurrentSchemaVersion is written into every new trip. Documents without a
// version predate versioning and are read as version 1.
const CurrentSchemaVersion = 1

// Trip is the root document shared by every traveler.
type Trip struct {
	ID              string                `json:"-"`
	SchemaVersion   int                   `json:"schemaVersion,omitempty"`
	Destination     string                `json:"destination"`
	ShareableCode   string                `json:"shareableCode"`
	CreatedBy       string                `json:"createdBy"`
	CreatedAt       Timestamp             `json:"createdAt"`
	Users           map[string]*UserState `json:"users,omitempty"`
	OverlappedDates []Date                `json:"overlappedDates,omitempty"`
	AllUsersLocked  bool                  `json:"allUsersLocked"`
	Activities      ActivityTree          `json:"activities,omitempty"`
}

// UserState is one traveler's entry in a trip.
type UserState struct {
	ID            string    `json:"-"`
	Name          string    `json:"name"`
	Color         Color     `json:"color"`
	SelectedDates []Date    `json:"selectedDates,omitempty"`
	LockedDates   bool      `json:"lockedDates"`
	JoinedAt      Timestamp `json:"joinedAt"`
}

// Activity is a proposal in one time slot of one day.
type Activity struct {
	ID            string         `json:"id"`
	Title         string         `json:"title"`
	Description   string         `json:"description,omitempty"`
	CreatedBy     string         `json:"createdBy"`
	CreatedByName string         `json:"createdByName"`
	CreatedAt     Timestamp      `json:"createdAt"`
	Votes         map[string]int `json:"votes,omitempty"`
}

// ActivityTree is date -> slot -> activity id -> activity.
type ActivityTree map[Date]map[TimeSlot]map[string]*Activity

// Member returns the user's state, or nil if userID has not joined.
func (t *Trip) Member(userID string) *UserState {
	if t == nil || t.Users == nil {
		return nil
	}
	return t.Users[userID]
}

// OrderedUsers returns users in join order. Ties on joinedAt fall back to user id.
func (t *Trip) OrderedUsers() []*UserState {
	if t == nil {
		return nil
	}
	return OrderUsers(t.Users)
}

// OrderUsers sorts a users map by join order.
func OrderUsers(users map[string]*UserState) []*UserState {
	out := make([]*UserState, 0, len(users))
	for id, u := range users {
		if u == nil {
			continue
		}
		if u.ID == "" {
			u.ID = id
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt != out[j].JoinedAt {
			return out[i].JoinedAt < out[j].JoinedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// JoinOrder returns user ids in join order.
func (t *Trip) JoinOrder() []string {
	users := t.OrderedUsers()
	ids := make([]string, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}
	return ids
}

// DecodeTrip validates a raw trip document. path is only used for error reporting.
func DecodeTrip(id, path string, raw json.RawMessage) (*Trip, error) {
	var t Trip
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, apperrors.NewSchemaMismatchError(path, err)
	}
	if t.SchemaVersion == 0 {
		t.SchemaVersion = 1
	}
	if t.SchemaVersion > CurrentSchemaVersion {
		return nil, apperrors.NewSchemaMismatchError(path,
			fmt.Errorf("unsupported schema version %d", t.SchemaVersion))
	}
	t.ID = id
	for uid, u := range t.Users {
		if u == nil {
			delete(t.Users, uid)
			continue
		}
		u.ID = uid
	}
	if err := t.Activities.normalize(); err != nil {
		return nil, apperrors.NewSchemaMismatchError(path, err)
	}
	return &t, nil
}

// DecodeUsers validates the users subtree of a trip.
func DecodeUsers(path string, raw json.RawMessage) (map[string]*UserState, error) {
	users := map[string]*UserState{}
	if len(raw) == 0 || string(raw) == "null" {
		return users, nil
	}
	if err := json.Unmarshal(raw, &users); err != nil {
		return nil, apperrors.NewSchemaMismatchError(path, err)
	}
	for uid, u := range users {
		if u == nil {
			delete(users, uid)
			continue
		}
		u.ID = uid
	}
	return users, nil
}

// DecodeDates validates a stored date sequence. An absent value is the empty set.
func DecodeDates(path string, raw json.RawMessage) ([]Date, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return []Date{}, nil
	}
	var dates []Date
	if err := json.Unmarshal(raw, &dates); err != nil {
		return nil, apperrors.NewSchemaMismatchError(path, err)
	}
	if dates == nil {
		dates = []Date{}
	}
	return dates, nil
}

// DecodeBool reads a stored flag; absent reads as false.
func DecodeBool(path string, raw json.RawMessage) (bool, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return false, nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false, apperrors.NewSchemaMismatchError(path, err)
	}
	return b, nil
}

// DecodeActivity validates one activity document.
func DecodeActivity(id, path string, raw json.RawMessage) (*Activity, error) {
	var a Activity
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, apperrors.NewSchemaMismatchError(path, err)
	}
	if a.ID == "" {
		a.ID = id
	}
	if err := a.checkVotes(); err != nil {
		return nil, apperrors.NewSchemaMismatchError(path, err)
	}
	return &a, nil
}

// DecodeDay validates the activities of one date.
func DecodeDay(path string, raw json.RawMessage) (map[TimeSlot]map[string]*Activity, error) {
	day := map[TimeSlot]map[string]*Activity{}
	if len(raw) == 0 || string(raw) == "null" {
		return day, nil
	}
	if err := json.Unmarshal(raw, &day); err != nil {
		return nil, apperrors.NewSchemaMismatchError(path, err)
	}
	for _, slot := range day {
		for id, a := range slot {
			if a == nil {
				delete(slot, id)
				continue
			}
			if a.ID == "" {
				a.ID = id
			}
			if err := a.checkVotes(); err != nil {
				return nil, apperrors.NewSchemaMismatchError(path, err)
			}
		}
	}
	return day, nil
}

func (a *Activity) checkVotes() error {
	for uid, v := range a.Votes {
		if v != 1 && v != -1 {
			return fmt.Errorf("vote of %s on %s is %d", uid, a.ID, v)
		}
	}
	return nil
}

func (tree ActivityTree) normalize() error {
	for _, day := range tree {
		for _, slot := range day {
			for id, a := range slot {
				if a == nil {
					delete(slot, id)
					continue
				}
				if a.ID == "" {
					a.ID = id
				}
				if err := a.checkVotes(); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
