package activitypub

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/convoke-dev/convoke/domain"
	"github.com/google/uuid"
)

// onLike records a remote like on a locally known event. Repeated likes
// from the same actor collapse onto the one existing row.
func (p *Processor) onLike(activity *Activity, ref ObjectRef) error {
	event := p.resolveEventURI(ref.URI)
	if event == nil {
		log.Printf("Inbox: Like on unknown object %s, ignoring", ref.URI)
		return nil
	}

	actor, err := p.Resolver.GetOrFetch(activity.Actor)
	if err != nil || actor == nil {
		return fmt.Errorf("failed to resolve actor %s: %w", activity.Actor, err)
	}

	like := &domain.EventLike{
		Id:        uuid.New(),
		EventId:   event.Id,
		AccountId: actor.Id,
		URI:       activity.ID,
		CreatedAt: time.Now(),
	}
	if err := p.DB.UpsertLike(like); err != nil {
		return fmt.Errorf("failed to store like: %w", err)
	}

	p.notifyLike(KindLikeAdded, event, actor)
	log.Printf("Inbox: %s liked event %s", activity.Actor, event.Id)
	return nil
}

// onUndoLike removes a previously recorded like. The inner Like is matched
// by its object (the event), not by activity URI, so an Undo still lands
// when the original Like arrived with a different id.
func (p *Processor) onUndoLike(activity *Activity, ref ObjectRef) error {
	var inner EmbeddedActivity
	if err := json.Unmarshal(ref.Raw, &inner); err != nil {
		return fmt.Errorf("failed to parse Undo object: %w", err)
	}

	innerRef := ParseObjectRef(inner.Object)
	event := p.resolveEventURI(innerRef.URI)
	if event == nil {
		log.Printf("Inbox: Undo Like on unknown object %s, ignoring", innerRef.URI)
		return nil
	}

	// An actor undoing a like must already be cached from the original
	// Like, so an unknown actor means there is nothing to undo.
	err, actor := p.DB.ReadRemoteAccountByURI(activity.Actor)
	if err != nil || actor == nil {
		log.Printf("Inbox: Undo Like from unknown actor %s, ignoring", activity.Actor)
		return nil
	}

	err, existing := p.DB.ReadLike(event.Id, actor.Id)
	if err != nil || existing == nil {
		log.Printf("Inbox: Undo Like without a stored like from %s on %s, ignoring", activity.Actor, event.Id)
		return nil
	}

	if err := p.DB.DeleteLike(event.Id, actor.Id); err != nil {
		return fmt.Errorf("failed to delete like: %w", err)
	}

	p.notifyLike(KindLikeRemoved, event, actor)
	log.Printf("Inbox: %s unliked event %s", activity.Actor, event.Id)
	return nil
}

func (p *Processor) notifyLike(kind NotificationKind, event *domain.Event, actor *domain.RemoteAccount) {
	err, likes := p.DB.CountLikes(event.Id)
	if err != nil {
		log.Printf("Inbox: Could not count likes on %s: %s", event.Id, err)
		likes = -1
	}
	p.Notifier.Notify(kind, LikePayload{
		Event: eventSummary(event),
		User:  remoteUserSummary(actor),
		Likes: likes,
	})
}
