package activitypub

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/convoke-dev/convoke/domain"
	"github.com/google/uuid"
)

// onUpsertEvent mirrors a remote Create(Event) or Update(Event). Events are
// keyed by their external URI; ownership stays with the originating
// instance, so the local user id is always nil.
func (p *Processor) onUpsertEvent(activity *Activity, ref ObjectRef, kind NotificationKind) error {
	var obj EventObject
	if err := json.Unmarshal(ref.Raw, &obj); err != nil {
		return fmt.Errorf("failed to parse Event object: %w", err)
	}

	if obj.ID == "" {
		log.Printf("Inbox: Event without id from %s, dropping", activity.Actor)
		return nil
	}
	if obj.StartTime == "" {
		log.Printf("Inbox: Event %s without startTime, dropping", obj.ID)
		return nil
	}
	startTime, err := time.Parse(time.RFC3339, obj.StartTime)
	if err != nil {
		log.Printf("Inbox: Event %s has invalid startTime %q, dropping", obj.ID, obj.StartTime)
		return nil
	}

	var endTime *time.Time
	if obj.EndTime != "" {
		if t, err := time.Parse(time.RFC3339, obj.EndTime); err == nil {
			endTime = &t
		}
	}

	summary := obj.Summary
	if summary == "" {
		summary = obj.Content
	}

	now := time.Now()
	event := &domain.Event{
		Id:           uuid.New(),
		ExternalURI:  obj.ID,
		Title:        obj.Name,
		Summary:      summary,
		Location:     obj.LocationString(),
		StartTime:    startTime,
		EndTime:      endTime,
		EventStatus:  obj.EventStatus,
		AttributedTo: activity.Actor,
		HeaderURL:    obj.HeaderImage(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := p.DB.UpsertEvent(event); err != nil {
		return fmt.Errorf("failed to upsert event: %w", err)
	}

	// Re-read so the notification carries the surviving row id on updates
	if err, stored := p.DB.ReadEventByExternalURI(obj.ID); err == nil && stored != nil {
		event = stored
	}

	p.Notifier.Notify(kind, EventPayload{
		Event:    eventSummary(event),
		ActorURI: activity.Actor,
	})

	log.Printf("Inbox: Mirrored event %s from %s", obj.ID, activity.Actor)
	return nil
}

// onCreateNote mirrors a remote comment. The note must reply to a known
// event; unresolved replies are dropped without error.
func (p *Processor) onCreateNote(activity *Activity, ref ObjectRef) error {
	var note NoteObject
	if err := json.Unmarshal(ref.Raw, &note); err != nil {
		return fmt.Errorf("failed to parse Note object: %w", err)
	}

	event := p.resolveEventURI(note.InReplyTo)
	if event == nil {
		log.Printf("Inbox: Note %s replies to unknown object %s, dropping", note.ID, note.InReplyTo)
		return nil
	}

	actor, err := p.Resolver.GetOrFetch(activity.Actor)
	if err != nil || actor == nil {
		return fmt.Errorf("failed to resolve actor %s: %w", activity.Actor, err)
	}

	comment := &domain.Comment{
		Id:          uuid.New(),
		ExternalURI: note.ID,
		Content:     note.Content,
		EventId:     event.Id,
		AuthorId:    actor.Id,
		CreatedAt:   time.Now(),
	}
	if err := p.DB.CreateComment(comment); err != nil {
		return fmt.Errorf("failed to store comment: %w", err)
	}

	p.Notifier.Notify(KindCommentAdded, CommentPayload{
		Event:     eventSummary(event),
		CommentId: comment.Id.String(),
		Content:   comment.Content,
		Author:    remoteUserSummary(actor),
	})

	log.Printf("Inbox: Added comment %s on event %s", note.ID, event.Id)
	return nil
}

// onUpdatePerson refreshes the cached profile of a remote actor from the
// embedded Person object.
func (p *Processor) onUpdatePerson(activity *Activity, ref ObjectRef) error {
	var person PersonObject
	if err := json.Unmarshal(ref.Raw, &person); err != nil {
		return fmt.Errorf("failed to parse Person object: %w", err)
	}

	actorURI := person.ID
	if actorURI == "" {
		actorURI = activity.Actor
	}

	err, cached := p.DB.ReadRemoteAccountByURI(actorURI)
	if err != nil || cached == nil {
		log.Printf("Inbox: Update for unknown actor %s, ignoring", actorURI)
		return nil
	}

	if person.PreferredUsername != "" {
		cached.Username = person.PreferredUsername
	}
	if person.Inbox != "" {
		cached.InboxURI = person.Inbox
	}
	cached.DisplayName = person.Name
	cached.Summary = person.Summary
	cached.AvatarURL = person.Icon.URL
	cached.HeaderURL = person.Image.URL
	cached.SharedInboxURI = person.Endpoints.SharedInbox
	cached.LastFetchedAt = time.Now()

	if err := p.DB.UpdateRemoteAccount(cached); err != nil {
		return fmt.Errorf("failed to update remote account: %w", err)
	}

	log.Printf("Inbox: Updated profile for %s@%s", cached.Username, cached.Domain)
	return nil
}

// onDelete removes a mirrored comment or event. The object is tried as a
// comment first (Tombstones keep the former type, comment URIs carry a
// /comments/ segment), then as an event external URI, deleting every local
// mirror of it.
func (p *Processor) onDelete(activity *Activity, ref ObjectRef) error {
	uri := ref.URI
	formerType := ""
	if ref.IsEmbedded() {
		var tombstone TombstoneObject
		if err := json.Unmarshal(ref.Raw, &tombstone); err == nil {
			if tombstone.ID != "" {
				uri = tombstone.ID
			}
			formerType = tombstone.FormerType
		}
	}
	if uri == "" {
		return fmt.Errorf("could not determine object URI from Delete activity")
	}

	if err, comment := p.DB.ReadCommentByExternalURI(uri); err == nil && comment != nil {
		return p.deleteComment(comment)
	}
	if formerType == TypeNote || strings.Contains(uri, "/comments/") {
		log.Printf("Inbox: Delete for unknown comment %s, ignoring", uri)
		return nil
	}

	err, event := p.DB.ReadEventByExternalURI(uri)
	if err != nil || event == nil {
		log.Printf("Inbox: Delete for unknown object %s, ignoring", uri)
		return nil
	}

	deleted, err := p.DB.DeleteEventsByExternalURI(uri)
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}

	p.Notifier.Notify(KindEventDeleted, EventPayload{
		Event:    eventSummary(event),
		ActorURI: activity.Actor,
	})

	log.Printf("Inbox: Deleted %d event mirror(s) of %s", deleted, uri)
	return nil
}

func (p *Processor) deleteComment(comment *domain.Comment) error {
	if err := p.DB.DeleteComment(comment.Id); err != nil {
		return fmt.Errorf("failed to delete comment: %w", err)
	}

	payload := CommentPayload{CommentId: comment.Id.String()}
	if err, event := p.DB.ReadEventById(comment.EventId); err == nil && event != nil {
		payload.Event = eventSummary(event)
	}
	if err, author := p.DB.ReadRemoteAccountById(comment.AuthorId); err == nil && author != nil {
		payload.Author = remoteUserSummary(author)
	}
	p.Notifier.Notify(KindCommentDeleted, payload)

	log.Printf("Inbox: Deleted comment %s", comment.ExternalURI)
	return nil
}
