package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"triplab/internal/domain"
	"triplab/internal/planning"
	"triplab/internal/store"
	apperrors "triplab/pkg/errors"
)

// ActivityInput is the editable part of an activity.
type ActivityInput struct {
	Title       string
	Description string
}

// ActivityView is an activity with its vote tally.
type ActivityView struct {
	*domain.Activity
	Up       int                `json:"up"`
	Down     int                `json:"down"`
	Score    int                `json:"score"`
	UserVote planning.Direction `json:"user_vote"`
}

// SlotPlan is one time slot of a day. Conflict is set when more than one
// activity competes for the slot.
type SlotPlan struct {
	Slot       domain.TimeSlot `json:"slot"`
	Label      string          `json:"label"`
	Activities []ActivityView  `json:"activities"`
	Conflict   bool            `json:"conflict"`
}

// DayPlan lists every slot of a date in display order.
type DayPlan struct {
	Date  domain.Date `json:"date"`
	Slots []SlotPlan  `json:"slots"`
}

// ActivityBoard manages activity proposals and votes per date and slot.
type ActivityBoard struct {
	store  store.Store
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

func NewActivityBoard(st store.Store, logger *zap.Logger) *ActivityBoard {
	return &ActivityBoard{store: st, logger: logger, now: time.Now, newID: newUUID}
}

func cleanInput(in ActivityInput) (ActivityInput, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	if in.Title == "" {
		return in, apperrors.NewValidationError("Title is required", nil)
	}
	return in, nil
}

func checkPlace(date domain.Date, slot domain.TimeSlot) error {
	if !date.Valid() {
		return apperrors.NewValidationError("invalid date", map[string]interface{}{"date": string(date)})
	}
	if !slot.Valid() {
		return apperrors.NewValidationError("invalid time slot", map[string]interface{}{"slot": string(slot)})
	}
	return nil
}

// Add proposes a new activity. The creator's name is denormalized into it.
func (b *ActivityBoard) Add(ctx context.Context, tripID string, actor domain.Identity, date domain.Date, slot domain.TimeSlot, in ActivityInput) (*domain.Activity, error) {
	if err := checkPlace(date, slot); err != nil {
		return nil, err
	}
	in, err := cleanInput(in)
	if err != nil {
		return nil, err
	}
	member, err := checkMember(ctx, b.store, tripID, actor.UserID)
	if err != nil {
		return nil, err
	}

	name := actor.Name
	if name == "" {
		name = member.Name
	}
	activity := &domain.Activity{
		ID:            b.newID(),
		Title:         in.Title,
		Description:   in.Description,
		CreatedBy:     actor.UserID,
		CreatedByName: name,
		CreatedAt:     domain.TimestampOf(b.now()),
		Votes:         map[string]int{},
	}
	path := store.ActivityPath(tripID, string(date), string(slot), activity.ID)
	if err := b.store.Set(ctx, path, activity); err != nil {
		return nil, err
	}

	b.logger.Info("activity_added",
		zap.String("trip_id", tripID),
		zap.String("date", string(date)),
		zap.String("slot", string(slot)),
		zap.String("activity_id", activity.ID))
	return activity, nil
}

// get loads one activity, NotFound when absent.
func (b *ActivityBoard) get(ctx context.Context, tripID string, date domain.Date, slot domain.TimeSlot, id string) (*domain.Activity, error) {
	path := store.ActivityPath(tripID, string(date), string(slot), id)
	snap, err := b.store.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	if !snap.Exists() {
		return nil, apperrors.NewNotFoundError("Activity not found")
	}
	return domain.DecodeActivity(id, path, snap.Value)
}

func (b *ActivityBoard) owned(ctx context.Context, tripID string, actor domain.Identity, date domain.Date, slot domain.TimeSlot, id string) (*domain.Activity, error) {
	if err := checkPlace(date, slot); err != nil {
		return nil, err
	}
	if _, err := checkMember(ctx, b.store, tripID, actor.UserID); err != nil {
		return nil, err
	}
	activity, err := b.get(ctx, tripID, date, slot, id)
	if err != nil {
		return nil, err
	}
	if activity.CreatedBy != actor.UserID {
		return nil, apperrors.NewNotAMemberError("Only the creator can change this activity")
	}
	return activity, nil
}

// Edit changes title and description. Only the creator may edit.
func (b *ActivityBoard) Edit(ctx context.Context, tripID string, actor domain.Identity, date domain.Date, slot domain.TimeSlot, id string, in ActivityInput) (*domain.Activity, error) {
	in, err := cleanInput(in)
	if err != nil {
		return nil, err
	}
	activity, err := b.owned(ctx, tripID, actor, date, slot, id)
	if err != nil {
		return nil, err
	}

	err = b.store.Update(ctx, store.ActivityPath(tripID, string(date), string(slot), id), map[string]interface{}{
		"title":       in.Title,
		"description": in.Description,
	})
	if err != nil {
		return nil, err
	}
	activity.Title = in.Title
	activity.Description = in.Description
	return activity, nil
}

// Delete removes an activity and its votes. Only the creator may delete.
func (b *ActivityBoard) Delete(ctx context.Context, tripID string, actor domain.Identity, date domain.Date, slot domain.TimeSlot, id string) error {
	if _, err := b.owned(ctx, tripID, actor, date, slot, id); err != nil {
		return err
	}
	if err := b.store.Delete(ctx, store.ActivityPath(tripID, string(date), string(slot), id)); err != nil {
		return err
	}
	b.logger.Info("activity_deleted",
		zap.String("trip_id", tripID),
		zap.String("activity_id", id))
	return nil
}

// Vote stores the actor's vote. None removes it. Only the actor's own entry
// is written so concurrent voters never overwrite each other.
func (b *ActivityBoard) Vote(ctx context.Context, tripID string, actor domain.Identity, date domain.Date, slot domain.TimeSlot, id string, d planning.Direction) (*ActivityView, error) {
	if err := checkPlace(date, slot); err != nil {
		return nil, err
	}
	if _, err := planning.ParseDirection(int(d)); err != nil {
		return nil, err
	}
	if _, err := checkMember(ctx, b.store, tripID, actor.UserID); err != nil {
		return nil, err
	}
	activity, err := b.get(ctx, tripID, date, slot, id)
	if err != nil {
		return nil, err
	}
	return b.writeVote(ctx, tripID, actor.UserID, date, slot, activity, d)
}

// ToggleVote applies the click rule against the actor's current vote.
func (b *ActivityBoard) ToggleVote(ctx context.Context, tripID string, actor domain.Identity, date domain.Date, slot domain.TimeSlot, id string, clicked planning.Direction) (*ActivityView, error) {
	if err := checkPlace(date, slot); err != nil {
		return nil, err
	}
	if clicked != planning.Up && clicked != planning.Down {
		return nil, apperrors.NewValidationError("vote must be -1 or 1", map[string]interface{}{"direction": int(clicked)})
	}
	if _, err := checkMember(ctx, b.store, tripID, actor.UserID); err != nil {
		return nil, err
	}
	activity, err := b.get(ctx, tripID, date, slot, id)
	if err != nil {
		return nil, err
	}
	next := planning.ResolveVote(planning.UserVote(activity.Votes, actor.UserID), clicked)
	return b.writeVote(ctx, tripID, actor.UserID, date, slot, activity, next)
}

func (b *ActivityBoard) writeVote(ctx context.Context, tripID, userID string, date domain.Date, slot domain.TimeSlot, activity *domain.Activity, d planning.Direction) (*ActivityView, error) {
	votes, err := planning.ApplyVote(activity.Votes, userID, d)
	if err != nil {
		return nil, err
	}

	var value interface{}
	if d != planning.None {
		value = int(d)
	}
	path := store.VotePath(tripID, string(date), string(slot), activity.ID, userID)
	if err := b.store.Set(ctx, path, value); err != nil {
		return nil, err
	}

	b.logger.Debug("vote_recorded",
		zap.String("trip_id", tripID),
		zap.String("activity_id", activity.ID),
		zap.String("user_id", userID),
		zap.Int("direction", int(d)))

	activity.Votes = votes
	view := newActivityView(activity, userID)
	return &view, nil
}

func newActivityView(a *domain.Activity, viewer string) ActivityView {
	t := planning.TallyVotes(a.Votes)
	return ActivityView{
		Activity: a,
		Up:       t.Up,
		Down:     t.Down,
		Score:    t.Score,
		UserVote: planning.UserVote(a.Votes, viewer),
	}
}

func slotPlan(slot domain.TimeSlot, activities map[string]*domain.Activity, viewer string) SlotPlan {
	views := make([]ActivityView, 0, len(activities))
	for _, a := range activities {
		views = append(views, newActivityView(a, viewer))
	}
	sort.Slice(views, func(i, j int) bool {
		if views[i].CreatedAt != views[j].CreatedAt {
			return views[i].CreatedAt < views[j].CreatedAt
		}
		return views[i].ID < views[j].ID
	})
	return SlotPlan{
		Slot:       slot,
		Label:      slot.Label(),
		Activities: views,
		Conflict:   len(views) > 1,
	}
}

func dayPlan(date domain.Date, day map[domain.TimeSlot]map[string]*domain.Activity, viewer string) *DayPlan {
	plan := &DayPlan{Date: date, Slots: make([]SlotPlan, 0, len(domain.TimeSlots))}
	for _, slot := range domain.TimeSlots {
		plan.Slots = append(plan.Slots, slotPlan(slot, day[slot], viewer))
	}
	return plan
}

// Slot lists a slot's activities oldest first.
func (b *ActivityBoard) Slot(ctx context.Context, tripID string, date domain.Date, slot domain.TimeSlot, viewer string) (*SlotPlan, error) {
	day, err := b.Day(ctx, tripID, date, viewer)
	if err != nil {
		return nil, err
	}
	if !slot.Valid() {
		return nil, apperrors.NewValidationError("invalid time slot", map[string]interface{}{"slot": string(slot)})
	}
	for i := range day.Slots {
		if day.Slots[i].Slot == slot {
			return &day.Slots[i], nil
		}
	}
	return nil, apperrors.NewNotFoundError("Slot not found")
}

// Conflict reports whether more than one activity is proposed for the slot.
func (b *ActivityBoard) Conflict(ctx context.Context, tripID string, date domain.Date, slot domain.TimeSlot) (bool, error) {
	plan, err := b.Slot(ctx, tripID, date, slot, "")
	if err != nil {
		return false, err
	}
	return plan.Conflict, nil
}

// Day reads all slots of a date.
func (b *ActivityBoard) Day(ctx context.Context, tripID string, date domain.Date, viewer string) (*DayPlan, error) {
	if !date.Valid() {
		return nil, apperrors.NewValidationError("invalid date", map[string]interface{}{"date": string(date)})
	}
	path := store.DayPath(tripID, string(date))
	snap, err := b.store.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	day, err := domain.DecodeDay(path, snap.Value)
	if err != nil {
		return nil, err
	}
	return dayPlan(date, day, viewer), nil
}

// WatchDay streams the day plan of a date as seen by viewer.
func (b *ActivityBoard) WatchDay(ctx context.Context, tripID string, date domain.Date, viewer string, fn func(*DayPlan, error)) (*store.Subscription, error) {
	if !date.Valid() {
		return nil, apperrors.NewValidationError("invalid date", map[string]interface{}{"date": string(date)})
	}
	path := store.DayPath(tripID, string(date))
	return b.store.Subscribe(ctx, path, func(snap store.Snapshot) {
		day, err := domain.DecodeDay(path, snap.Value)
		if err != nil {
			b.logger.Warn("day_decode_failed", zap.String("path", path), zap.Error(err))
			fn(nil, err)
			return
		}
		fn(dayPlan(date, day, viewer), nil)
	})
}
