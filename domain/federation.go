package domain

import (
	"github.com/google/uuid"
	"time"
)

// FollowStatus is the state of a follow relationship. The zero history
// state ("no row") is implicit; a row always carries one of these.
type FollowStatus string

const (
	FollowPending  FollowStatus = "PENDING"
	FollowAccepted FollowStatus = "ACCEPTED"
	FollowRejected FollowStatus = "REJECTED"
)

// followTransitions is the allowed transition table. Accept or Reject on a
// relationship that was never recorded, or re-deciding a settled request,
// is not a legal transition and callers treat it as a no-op.
var followTransitions = map[FollowStatus][]FollowStatus{
	FollowPending:  {FollowAccepted, FollowRejected},
	FollowAccepted: {FollowAccepted},
	FollowRejected: {FollowRejected},
}

// CanTransition reports whether a follow may move from one status to another.
func (s FollowStatus) CanTransition(to FollowStatus) bool {
	for _, allowed := range followTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Follower represents a remote actor following a local account.
// Unique per (AccountId, ActorURI). Fields are denormalized from the actor
// cache so delivery and notifications need no extra lookup.
type Follower struct {
	Id             uuid.UUID
	AccountId      uuid.UUID // the local account being followed
	ActorURI       string    // the remote follower
	Username       string
	InboxURI       string
	SharedInboxURI string
	Status         FollowStatus
	URI            string // the Follow activity URI, echoed back in Accept
	CreatedAt      time.Time
}

// PreferredInbox returns the shared inbox when the follower's instance
// advertises one, otherwise the personal inbox.
func (f *Follower) PreferredInbox() string {
	if f.SharedInboxURI != "" {
		return f.SharedInboxURI
	}
	return f.InboxURI
}

// Following represents a local account following a remote actor.
// Unique per (AccountId, ActorURI).
type Following struct {
	Id        uuid.UUID
	AccountId uuid.UUID // the local follower
	ActorURI  string    // the remote account being followed
	Status    FollowStatus
	URI       string // the Follow activity URI we sent
	CreatedAt time.Time
}

// ProcessedActivity is the idempotency ledger record. The UNIQUE constraint
// on ActivityURI is the exactly-once gate: the first insert wins, every
// later attempt for the same URI is a duplicate.
type ProcessedActivity struct {
	Id           uuid.UUID
	ActivityURI  string
	ActivityType string
	ActorURI     string
	ExpiresAt    time.Time
	CreatedAt    time.Time
}

// LedgerTTL is how long a processed-activity record is retained before an
// external sweep may reclaim it.
const LedgerTTL = 30 * 24 * time.Hour

// DeliveryQueueItem represents an outbound activity waiting for delivery
type DeliveryQueueItem struct {
	Id           uuid.UUID
	InboxURI     string
	ActivityJSON string // the complete activity to deliver
	Attempts     int
	NextRetryAt  time.Time
	CreatedAt    time.Time
}
