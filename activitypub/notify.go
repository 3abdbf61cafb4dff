package activitypub

import (
	"log"
	"time"

	"github.com/convoke-dev/convoke/domain"
)

// NotificationKind identifies a local state change broadcast to connected
// clients.
type NotificationKind string

const (
	KindFollowerAdded     NotificationKind = "follower-added"
	KindFollowerRemoved   NotificationKind = "follower-removed"
	KindFollowAccepted    NotificationKind = "follow-accepted"
	KindFollowRejected    NotificationKind = "follow-rejected"
	KindEventCreated      NotificationKind = "event-created"
	KindEventUpdated      NotificationKind = "event-updated"
	KindEventDeleted      NotificationKind = "event-deleted"
	KindCommentAdded      NotificationKind = "comment-added"
	KindCommentDeleted    NotificationKind = "comment-deleted"
	KindLikeAdded         NotificationKind = "like-added"
	KindLikeRemoved       NotificationKind = "like-removed"
	KindAttendanceUpdated NotificationKind = "attendance-updated"
	KindAttendanceRemoved NotificationKind = "attendance-removed"
)

// Notifier publishes state changes to locally connected clients. The engine
// only depends on this narrow capability; fan-out lives elsewhere.
type Notifier interface {
	Notify(kind NotificationKind, payload interface{})
}

// LogNotifier is a Notifier that only writes a log line. It is the default
// when no client fan-out is attached.
type LogNotifier struct{}

func (LogNotifier) Notify(kind NotificationKind, payload interface{}) {
	log.Printf("Notify: %s", kind)
}

// UserSummary carries enough denormalized user data for a client to render
// a notification without a follow-up query.
type UserSummary struct {
	Id          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl"`
	Remote      bool   `json:"remote"`
}

func remoteUserSummary(acc *domain.RemoteAccount) UserSummary {
	return UserSummary{
		Id:          acc.Id.String(),
		Username:    acc.Username,
		DisplayName: acc.DisplayName,
		AvatarURL:   acc.AvatarURL,
		Remote:      true,
	}
}

func localUserSummary(acc *domain.Account) UserSummary {
	return UserSummary{
		Id:          acc.Id.String(),
		Username:    acc.Username,
		DisplayName: acc.DisplayName,
		AvatarURL:   acc.AvatarURL,
	}
}

// EventSummary is the denormalized event slice attached to notifications
type EventSummary struct {
	Id          string    `json:"id"`
	ExternalURI string    `json:"externalUri,omitempty"`
	Title       string    `json:"title"`
	Location    string    `json:"location,omitempty"`
	StartTime   time.Time `json:"startTime"`
}

func eventSummary(event *domain.Event) EventSummary {
	return EventSummary{
		Id:          event.Id.String(),
		ExternalURI: event.ExternalURI,
		Title:       event.Title,
		Location:    event.Location,
		StartTime:   event.StartTime,
	}
}

// FollowerCountPayload accompanies follower-added / follower-removed
type FollowerCountPayload struct {
	User      UserSummary `json:"user"`
	Follower  UserSummary `json:"follower"`
	Followers int64       `json:"followers"`
}

// FollowDecisionPayload accompanies follow-accepted / follow-rejected.
// RemoteFollowers is -1 when the best-effort count lookup failed.
type FollowDecisionPayload struct {
	User            UserSummary `json:"user"`
	ActorURI        string      `json:"actorUri"`
	RemoteFollowers int64       `json:"remoteFollowers"`
}

// EventPayload accompanies event-created / event-updated / event-deleted
type EventPayload struct {
	Event    EventSummary `json:"event"`
	ActorURI string       `json:"actorUri"`
}

// CommentPayload accompanies comment-added / comment-deleted
type CommentPayload struct {
	Event     EventSummary `json:"event"`
	CommentId string       `json:"commentId"`
	Content   string       `json:"content,omitempty"`
	Author    UserSummary  `json:"author"`
}

// LikePayload accompanies like-added / like-removed
type LikePayload struct {
	Event EventSummary `json:"event"`
	User  UserSummary  `json:"user"`
	Likes int64        `json:"likes"`
}

// AttendancePayload accompanies attendance-updated / attendance-removed
type AttendancePayload struct {
	Event  EventSummary            `json:"event"`
	User   UserSummary             `json:"user"`
	Status domain.AttendanceStatus `json:"status,omitempty"`
}
