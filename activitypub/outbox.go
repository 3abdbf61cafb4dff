package activitypub

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/convoke-dev/convoke/db"
	"github.com/convoke-dev/convoke/domain"
	"github.com/convoke-dev/convoke/util"
	"github.com/google/uuid"
)

const activityStreamsContext = "https://www.w3.org/ns/activitystreams"

// DeliveryGateway hands outbound activities off for delivery. The delivery
// itself is asynchronous; a nil error only means the activity was accepted
// for eventual delivery.
type DeliveryGateway interface {
	Deliver(activity map[string]interface{}, inboxURI string, from *domain.Account) error
}

// QueueGateway persists outbound activities to the delivery queue, where
// the delivery worker picks them up with retry and backoff.
type QueueGateway struct {
	DB *db.DB
}

func NewQueueGateway(database *db.DB) *QueueGateway {
	return &QueueGateway{DB: database}
}

func (g *QueueGateway) Deliver(activity map[string]interface{}, inboxURI string, from *domain.Account) error {
	activityJSON, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}

	item := &domain.DeliveryQueueItem{
		Id:           uuid.New(),
		InboxURI:     inboxURI,
		ActivityJSON: string(activityJSON),
		Attempts:     0,
		NextRetryAt:  time.Now(),
		CreatedAt:    time.Now(),
	}
	if err := g.DB.EnqueueDelivery(item); err != nil {
		return fmt.Errorf("failed to enqueue delivery: %w", err)
	}

	log.Printf("Outbox: Queued %v for %s", activity["type"], inboxURI)
	return nil
}

// ActorIRI returns the public actor IRI of a local account
func ActorIRI(conf *util.AppConfig, username string) string {
	return fmt.Sprintf("%s/users/%s", conf.BaseURL(), username)
}

func newActivityID(conf *util.AppConfig) string {
	return fmt.Sprintf("%s/activities/%s", conf.BaseURL(), uuid.New().String())
}

// BuildAccept builds an Accept for a received Follow request. The original
// Follow is echoed back as the object so the remote side can correlate it.
func BuildAccept(account *domain.Account, remoteActor *domain.RemoteAccount, followID string, conf *util.AppConfig) map[string]interface{} {
	actorURI := ActorIRI(conf, account.Username)
	return map[string]interface{}{
		"@context": activityStreamsContext,
		"id":       newActivityID(conf),
		"type":     TypeAccept,
		"actor":    actorURI,
		"object": map[string]interface{}{
			"id":     followID,
			"type":   TypeFollow,
			"actor":  remoteActor.ActorURI,
			"object": actorURI,
		},
	}
}

// BuildReject builds a Reject for a received Follow request
func BuildReject(account *domain.Account, remoteActor *domain.RemoteAccount, followID string, conf *util.AppConfig) map[string]interface{} {
	actorURI := ActorIRI(conf, account.Username)
	return map[string]interface{}{
		"@context": activityStreamsContext,
		"id":       newActivityID(conf),
		"type":     TypeReject,
		"actor":    actorURI,
		"object": map[string]interface{}{
			"id":     followID,
			"type":   TypeFollow,
			"actor":  remoteActor.ActorURI,
			"object": actorURI,
		},
	}
}

// BuildFollow builds a Follow request from a local account to a remote actor
func BuildFollow(account *domain.Account, remoteActorURI string, conf *util.AppConfig) map[string]interface{} {
	return map[string]interface{}{
		"@context": activityStreamsContext,
		"id":       newActivityID(conf),
		"type":     TypeFollow,
		"actor":    ActorIRI(conf, account.Username),
		"object":   remoteActorURI,
	}
}

// BuildUndoFollow builds an Undo of an earlier Follow request
func BuildUndoFollow(account *domain.Account, following *domain.Following, conf *util.AppConfig) map[string]interface{} {
	actorURI := ActorIRI(conf, account.Username)
	return map[string]interface{}{
		"@context": activityStreamsContext,
		"id":       newActivityID(conf),
		"type":     TypeUndo,
		"actor":    actorURI,
		"object": map[string]interface{}{
			"id":     following.URI,
			"type":   TypeFollow,
			"actor":  actorURI,
			"object": following.ActorURI,
		},
	}
}

// eventObjectJSON renders a local event as an ActivityStreams Event object
func eventObjectJSON(event *domain.Event, account *domain.Account, conf *util.AppConfig) map[string]interface{} {
	obj := map[string]interface{}{
		"id":           fmt.Sprintf("%s/events/%s", conf.BaseURL(), event.Id.String()),
		"type":         TypeEvent,
		"name":         event.Title,
		"summary":      event.Summary,
		"attributedTo": ActorIRI(conf, account.Username),
		"startTime":    event.StartTime.Format(time.RFC3339),
		"published":    event.CreatedAt.Format(time.RFC3339),
		"to": []string{
			activityStreamsContext + "#Public",
		},
	}
	if event.EndTime != nil {
		obj["endTime"] = event.EndTime.Format(time.RFC3339)
	}
	if event.Location != "" {
		obj["location"] = map[string]interface{}{
			"type": "Place",
			"name": event.Location,
		}
	}
	if event.EventStatus != "" {
		obj["eventStatus"] = event.EventStatus
	}
	return obj
}

// BuildCreateEvent builds a Create announcing a new local event
func BuildCreateEvent(event *domain.Event, account *domain.Account, conf *util.AppConfig) map[string]interface{} {
	return wrapEventActivity(TypeCreate, event, account, conf)
}

// BuildUpdateEvent builds an Update for a changed local event
func BuildUpdateEvent(event *domain.Event, account *domain.Account, conf *util.AppConfig) map[string]interface{} {
	return wrapEventActivity(TypeUpdate, event, account, conf)
}

// BuildDeleteEvent builds a Delete with a Tombstone for a removed local event
func BuildDeleteEvent(event *domain.Event, account *domain.Account, conf *util.AppConfig) map[string]interface{} {
	actorURI := ActorIRI(conf, account.Username)
	return map[string]interface{}{
		"@context": activityStreamsContext,
		"id":       newActivityID(conf),
		"type":     TypeDelete,
		"actor":    actorURI,
		"to": []string{
			activityStreamsContext + "#Public",
		},
		"object": map[string]interface{}{
			"id":         fmt.Sprintf("%s/events/%s", conf.BaseURL(), event.Id.String()),
			"type":       TypeTombstone,
			"formerType": TypeEvent,
		},
	}
}

func wrapEventActivity(activityType string, event *domain.Event, account *domain.Account, conf *util.AppConfig) map[string]interface{} {
	actorURI := ActorIRI(conf, account.Username)
	return map[string]interface{}{
		"@context":  activityStreamsContext,
		"id":        newActivityID(conf),
		"type":      activityType,
		"actor":     actorURI,
		"published": time.Now().Format(time.RFC3339),
		"to": []string{
			activityStreamsContext + "#Public",
		},
		"cc": []string{
			fmt.Sprintf("%s/followers", actorURI),
		},
		"object": eventObjectJSON(event, account, conf),
	}
}

// FanOut queues one delivery of the activity per accepted follower inbox.
// Followers sharing an inbox receive a single copy.
func FanOut(database *db.DB, account *domain.Account, activity map[string]interface{}, gateway DeliveryGateway) error {
	err, followers := database.ReadFollowersByAccountId(account.Id)
	if err != nil {
		return fmt.Errorf("failed to read followers: %w", err)
	}
	if followers == nil {
		return nil
	}

	seen := make(map[string]bool)
	for _, follower := range *followers {
		if follower.Status != domain.FollowAccepted {
			continue
		}
		inbox := follower.PreferredInbox()
		if inbox == "" || seen[inbox] {
			continue
		}
		seen[inbox] = true
		if err := gateway.Deliver(activity, inbox, account); err != nil {
			log.Printf("Outbox: Failed to queue delivery to %s: %v", inbox, err)
		}
	}
	return nil
}
