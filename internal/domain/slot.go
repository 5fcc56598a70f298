package domain

import (
	"fmt"
	"strings"

	apperrors "triplab/pkg/errors"
)

// TimeSlot is one of the four parts of a planned day.
type TimeSlot string

const (
	SlotMorning   TimeSlot = "morning"
	SlotAfternoon TimeSlot = "afternoon"
	SlotEvening   TimeSlot = "evening"
	SlotNight     TimeSlot = "night"
)

// TimeSlots lists the slots in display order.
var TimeSlots = []TimeSlot{SlotMorning, SlotAfternoon, SlotEvening, SlotNight}

var slotLabels = map[TimeSlot]string{
	SlotMorning:   "Morning",
	SlotAfternoon: "Afternoon",
	SlotEvening:   "Evening",
	SlotNight:     "Night",
}

func (s TimeSlot) Valid() bool {
	_, ok := slotLabels[s]
	return ok
}

// Label is the display name, e.g. "Morning".
func (s TimeSlot) Label() string { return slotLabels[s] }

// ParseTimeSlot accepts a slot name in any case.
func ParseTimeSlot(s string) (TimeSlot, error) {
	slot := TimeSlot(strings.ToLower(strings.TrimSpace(s)))
	if !slot.Valid() {
		return "", apperrors.NewValidationError("invalid time slot", map[string]interface{}{
			"slot":    s,
			"allowed": TimeSlots,
		})
	}
	return slot, nil
}

func (s *TimeSlot) UnmarshalText(b []byte) error {
	slot := TimeSlot(b)
	if !slot.Valid() {
		return fmt.Errorf("unknown time slot %q", string(b))
	}
	*s = slot
	return nil
}
