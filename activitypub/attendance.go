package activitypub

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/convoke-dev/convoke/domain"
	"github.com/google/uuid"
)

// onRSVP records an attendance decision for a locally known event. An actor
// holds one attendance row per event, so a later decision replaces the
// earlier one regardless of order.
func (p *Processor) onRSVP(activity *Activity, ref ObjectRef, status domain.AttendanceStatus) error {
	event := p.resolveEventURI(ref.URI)
	if event == nil {
		log.Printf("Inbox: RSVP on unknown object %s, ignoring", ref.URI)
		return nil
	}

	actor, err := p.Resolver.GetOrFetch(activity.Actor)
	if err != nil || actor == nil {
		return fmt.Errorf("failed to resolve actor %s: %w", activity.Actor, err)
	}

	now := time.Now()
	attendance := &domain.EventAttendance{
		Id:        uuid.New(),
		EventId:   event.Id,
		AccountId: actor.Id,
		Status:    status,
		URI:       activity.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := p.DB.UpsertAttendance(attendance); err != nil {
		return fmt.Errorf("failed to store attendance: %w", err)
	}

	p.Notifier.Notify(KindAttendanceUpdated, AttendancePayload{
		Event:  eventSummary(event),
		User:   remoteUserSummary(actor),
		Status: status,
	})

	log.Printf("Inbox: %s set attendance %s on event %s", activity.Actor, status, event.Id)
	return nil
}

// onUndoAttendance withdraws an attendance decision entirely. The inner
// activity is matched by its object, so any of the actor's earlier RSVP
// activities can be undone, not just the most recent one.
func (p *Processor) onUndoAttendance(activity *Activity, ref ObjectRef) error {
	var inner EmbeddedActivity
	if err := json.Unmarshal(ref.Raw, &inner); err != nil {
		return fmt.Errorf("failed to parse Undo object: %w", err)
	}

	innerRef := ParseObjectRef(inner.Object)
	event := p.resolveEventURI(innerRef.URI)
	if event == nil {
		log.Printf("Inbox: Undo RSVP on unknown object %s, ignoring", innerRef.URI)
		return nil
	}

	// The actor must already be cached from the original RSVP
	err, actor := p.DB.ReadRemoteAccountByURI(activity.Actor)
	if err != nil || actor == nil {
		log.Printf("Inbox: Undo RSVP from unknown actor %s, ignoring", activity.Actor)
		return nil
	}

	err, existing := p.DB.ReadAttendance(event.Id, actor.Id)
	if err != nil || existing == nil {
		log.Printf("Inbox: Undo RSVP without a stored attendance from %s on %s, ignoring", activity.Actor, event.Id)
		return nil
	}

	if err := p.DB.DeleteAttendance(event.Id, actor.Id); err != nil {
		return fmt.Errorf("failed to delete attendance: %w", err)
	}

	p.Notifier.Notify(KindAttendanceRemoved, AttendancePayload{
		Event: eventSummary(event),
		User:  remoteUserSummary(actor),
	})

	log.Printf("Inbox: %s withdrew attendance on event %s", activity.Actor, event.Id)
	return nil
}
