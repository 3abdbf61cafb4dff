package domain

import (
	"fmt"
	"github.com/google/uuid"
	"time"
)

// Event represents an event, either created locally or mirrored from a
// remote instance. Remote events are keyed by ExternalURI and carry no
// local owner (UserId is nil, AttributedTo holds the remote actor URI).
type Event struct {
	Id           uuid.UUID
	ExternalURI  string
	Title        string
	Summary      string
	Location     string
	StartTime    time.Time
	EndTime      *time.Time
	EventStatus  string
	AttributedTo string
	HeaderURL    string
	UserId       *uuid.UUID
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (e *Event) IsRemote() bool {
	return e.UserId == nil
}

func (e *Event) ToString() string {
	return fmt.Sprintf("\n\tId: %s \n\tTitle: %s \n\tStartTime: %s)", e.Id, e.Title, e.StartTime)
}

// Comment represents a comment on an event. Remote comments are keyed by
// ExternalURI.
type Comment struct {
	Id          uuid.UUID
	ExternalURI string
	Content     string
	EventId     uuid.UUID
	AuthorId    uuid.UUID
	CreatedAt   time.Time
}

// EventLike represents a like on an event, unique per (event, account)
type EventLike struct {
	Id        uuid.UUID
	EventId   uuid.UUID
	AccountId uuid.UUID
	URI       string // ActivityPub Like activity URI
	CreatedAt time.Time
}

// AttendanceStatus is a user's RSVP status on an event
type AttendanceStatus string

const (
	Attending    AttendanceStatus = "ATTENDING"
	Maybe        AttendanceStatus = "MAYBE"
	NotAttending AttendanceStatus = "NOT_ATTENDING"
)

func (s AttendanceStatus) Valid() bool {
	switch s {
	case Attending, Maybe, NotAttending:
		return true
	}
	return false
}

// EventAttendance represents a user's RSVP on an event, unique per
// (event, account). Status is last-write-wins across activities.
type EventAttendance struct {
	Id        uuid.UUID
	EventId   uuid.UUID
	AccountId uuid.UUID
	Status    AttendanceStatus
	URI       string
	CreatedAt time.Time
	UpdatedAt time.Time
}
