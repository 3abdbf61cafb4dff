package activitypub

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/convoke-dev/convoke/db"
	"github.com/convoke-dev/convoke/domain"
	"github.com/convoke-dev/convoke/util"
	"github.com/google/uuid"
)

// Processor is the federation activity processing engine. It admits each
// inbound activity through the idempotency ledger exactly once, routes it
// to a semantic handler, and emits notifications and outbound reactions
// through its collaborators.
type Processor struct {
	DB       *db.DB
	Conf     *util.AppConfig
	Resolver ActorResolver
	Gateway  DeliveryGateway
	Notifier Notifier
}

func NewProcessor(database *db.DB, conf *util.AppConfig, resolver ActorResolver, gateway DeliveryGateway, notifier Notifier) *Processor {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Processor{
		DB:       database,
		Conf:     conf,
		Resolver: resolver,
		Gateway:  gateway,
		Notifier: notifier,
	}
}

// Process handles one inbound activity. Duplicates are skipped silently.
// Handler failures are logged and the ledger entry is retained: the
// transport already acknowledged receipt, so reprocessing would risk
// double-applied side effects for nothing.
func (p *Processor) Process(body []byte) error {
	var activity Activity
	if err := json.Unmarshal(body, &activity); err != nil {
		return fmt.Errorf("failed to parse activity: %w", err)
	}

	if activity.ID == "" {
		log.Printf("Inbox: Activity without id from %s, ignoring", activity.Actor)
		return nil
	}

	now := time.Now()
	admitted, err := p.DB.AdmitActivity(&domain.ProcessedActivity{
		Id:           uuid.New(),
		ActivityURI:  activity.ID,
		ActivityType: activity.Type,
		ActorURI:     activity.Actor,
		ExpiresAt:    now.Add(domain.LedgerTTL),
		CreatedAt:    now,
	})
	if err != nil {
		return fmt.Errorf("failed to admit activity: %w", err)
	}
	if !admitted {
		log.Printf("Inbox: Activity %s already processed, skipping", activity.ID)
		return nil
	}

	if err := p.route(&activity); err != nil {
		log.Printf("Inbox: Failed to process %s %s: %v", activity.Type, activity.ID, err)
	}
	return nil
}

// route dispatches a validated activity to exactly one handler
func (p *Processor) route(activity *Activity) error {
	ref := ParseObjectRef(activity.Object)

	switch activity.Type {
	case TypeFollow:
		return p.onFollow(activity, ref)

	case TypeAccept:
		// A Follow object also carries an id, so the Follow shape must be
		// checked before the event-shaped fallback.
		if ref.IsFollow() {
			return p.onAcceptFollow(activity, ref)
		}
		return p.onRSVP(activity, ref, domain.Attending)

	case TypeReject:
		if ref.IsFollow() {
			return p.onRejectFollow(activity, ref)
		}
		return p.onRSVP(activity, ref, domain.NotAttending)

	case TypeTentativeAccept:
		return p.onRSVP(activity, ref, domain.Maybe)

	case TypeCreate:
		switch ref.Type {
		case TypeEvent:
			return p.onUpsertEvent(activity, ref, KindEventCreated)
		case TypeNote:
			return p.onCreateNote(activity, ref)
		default:
			log.Printf("Inbox: Unsupported Create object type: %s", ref.Type)
			return nil
		}

	case TypeUpdate:
		switch ref.Type {
		case TypeEvent:
			return p.onUpsertEvent(activity, ref, KindEventUpdated)
		case TypePerson:
			return p.onUpdatePerson(activity, ref)
		default:
			log.Printf("Inbox: Unsupported Update object type: %s", ref.Type)
			return nil
		}

	case TypeDelete:
		return p.onDelete(activity, ref)

	case TypeLike:
		return p.onLike(activity, ref)

	case TypeUndo:
		switch ref.Type {
		case TypeLike:
			return p.onUndoLike(activity, ref)
		case TypeFollow:
			return p.onUndoFollow(activity, ref)
		case TypeAccept, TypeTentativeAccept, TypeReject:
			return p.onUndoAttendance(activity, ref)
		default:
			log.Printf("Inbox: Unsupported Undo object type: %s", ref.Type)
			return nil
		}

	case TypeAnnounce:
		// Reserved for share/boost semantics
		log.Printf("Inbox: Announce from %s ignored", activity.Actor)
		return nil

	default:
		log.Printf("Inbox: Unsupported activity type: %s", activity.Type)
		return nil
	}
}

// localUsername resolves a URI to a local username when the URI lives
// under this instance's base URL, e.g. "https://events.example/users/alice".
func (p *Processor) localUsername(uri string) (string, bool) {
	prefix := p.Conf.BaseURL() + "/users/"
	if !strings.HasPrefix(uri, prefix) {
		return "", false
	}
	username := strings.TrimPrefix(uri, prefix)
	if idx := strings.Index(username, "/"); idx >= 0 {
		username = username[:idx]
	}
	if username == "" {
		return "", false
	}
	return username, true
}

// resolveEventURI resolves an object URI to a locally known event, first by
// external URI, then by treating the trailing path segment as a local id.
func (p *Processor) resolveEventURI(uri string) *domain.Event {
	if uri == "" {
		return nil
	}

	if err, event := p.DB.ReadEventByExternalURI(uri); err == nil && event != nil {
		return event
	}

	parts := strings.Split(strings.TrimSuffix(uri, "/"), "/")
	if len(parts) == 0 {
		return nil
	}
	id, err := uuid.Parse(parts[len(parts)-1])
	if err != nil {
		return nil
	}
	if err, event := p.DB.ReadEventById(id); err == nil && event != nil {
		return event
	}
	return nil
}

// HandleInbox processes an incoming ActivityPub POST. The signature is
// verified against the sender's cached public key before the activity is
// admitted.
func HandleInbox(w http.ResponseWriter, r *http.Request, p *Processor) {
	signature := r.Header.Get("Signature")
	if signature == "" {
		log.Printf("Inbox: Missing HTTP signature")
		http.Error(w, "Missing signature", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Printf("Inbox: Failed to read body: %v", err)
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var activity Activity
	if err := json.Unmarshal(body, &activity); err != nil {
		log.Printf("Inbox: Failed to parse activity: %v", err)
		http.Error(w, "Invalid activity", http.StatusBadRequest)
		return
	}

	log.Printf("Inbox: Received %s from %s", activity.Type, activity.Actor)

	// Fetch remote actor to verify and cache
	remoteActor, err := p.Resolver.GetOrFetch(activity.Actor)
	if err != nil {
		log.Printf("Inbox: Failed to fetch actor %s: %v", activity.Actor, err)
		http.Error(w, "Failed to verify actor", http.StatusBadRequest)
		return
	}

	// Verify HTTP signature with the actor's public key
	if _, err := VerifyRequest(r, remoteActor.PublicKeyPem); err != nil {
		log.Printf("Inbox: Signature verification failed: %v", err)
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	if err := p.Process(body); err != nil {
		log.Printf("Inbox: %v", err)
		http.Error(w, "Failed to process activity", http.StatusInternalServerError)
		return
	}

	// Return 202 Accepted
	w.WriteHeader(http.StatusAccepted)
}
