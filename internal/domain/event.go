package domain

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventSeatHeld          EventType = "invite.seat_held"
	EventSeatReleased      EventType = "invite.seat_released"
	EventParticipantJoined EventType = "invite.participant_joined"
	EventParticipantLeft   EventType = "invite.participant_left"
	EventGroupCompleted    EventType = "invite.group_completed"
	EventGroupCancelled    EventType = "invite.group_cancelled"
)

// Event is published after the state change it describes has committed.
// Delivery is at-most-once from the publisher's side.
type Event struct {
	ID         uuid.UUID      `json:"id"`
	Type       EventType      `json:"type"`
	InviteCode string         `json:"invite_code"`
	ShowtimeID uuid.UUID      `json:"showtime_id"`
	UserID     uuid.UUID      `json:"user_id,omitempty"`
	Seats      []string       `json:"seats,omitempty"`
	Version    int64          `json:"version"`
	Data       map[string]any `json:"data,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

func NewEvent(t EventType, g *InviteGroup, userID uuid.UUID, seats []string, now time.Time) Event {
	return Event{
		ID:         uuid.New(),
		Type:       t,
		InviteCode: g.InviteCode,
		ShowtimeID: g.ShowtimeID,
		UserID:     userID,
		Seats:      seats,
		Version:    g.Version,
		OccurredAt: now,
	}
}

// Showtime is the slice of catalog data the booking core needs.
type Showtime struct {
	ID       uuid.UUID
	OwnerID  uuid.UUID
	StartsAt time.Time
	Seats    map[string]int64
}
