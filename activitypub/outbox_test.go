package activitypub

import (
	"strings"
	"testing"
	"time"

	"github.com/convoke-dev/convoke/domain"
	"github.com/google/uuid"
)

func TestBuildAcceptEchoesFollow(t *testing.T) {
	conf := testConf()
	account := &domain.Account{Id: uuid.New(), Username: "alice"}
	actor := remoteActor(remoteActorURI)
	followID := "https://remote.example/activities/f1"

	accept := BuildAccept(account, actor, followID, conf)

	if accept["type"] != TypeAccept {
		t.Errorf("Expected Accept, got %v", accept["type"])
	}
	if accept["@context"] != activityStreamsContext {
		t.Errorf("Missing ActivityStreams context: %v", accept["@context"])
	}
	if accept["actor"] != "https://"+localDomain+"/users/alice" {
		t.Errorf("Unexpected actor IRI: %v", accept["actor"])
	}

	object, ok := accept["object"].(map[string]interface{})
	if !ok {
		t.Fatal("Accept object should be an embedded Follow")
	}
	if object["id"] != followID {
		t.Errorf("Accept must echo the Follow id, got %v", object["id"])
	}
	if object["type"] != TypeFollow {
		t.Errorf("Expected embedded Follow, got %v", object["type"])
	}
	if object["actor"] != actor.ActorURI {
		t.Errorf("Expected remote actor %s, got %v", actor.ActorURI, object["actor"])
	}
}

func TestBuildRejectEchoesFollow(t *testing.T) {
	conf := testConf()
	account := &domain.Account{Id: uuid.New(), Username: "alice"}
	actor := remoteActor(remoteActorURI)

	reject := BuildReject(account, actor, "https://remote.example/activities/f1", conf)

	if reject["type"] != TypeReject {
		t.Errorf("Expected Reject, got %v", reject["type"])
	}
	object := reject["object"].(map[string]interface{})
	if object["id"] != "https://remote.example/activities/f1" {
		t.Errorf("Reject must echo the Follow id, got %v", object["id"])
	}
}

func TestBuildUndoFollowWrapsOriginal(t *testing.T) {
	conf := testConf()
	account := &domain.Account{Id: uuid.New(), Username: "alice"}
	following := &domain.Following{
		ActorURI: remoteActorURI,
		URI:      "https://" + localDomain + "/activities/follow-1",
	}

	undo := BuildUndoFollow(account, following, conf)

	if undo["type"] != TypeUndo {
		t.Errorf("Expected Undo, got %v", undo["type"])
	}
	object := undo["object"].(map[string]interface{})
	if object["id"] != following.URI {
		t.Errorf("Undo must reference the original Follow id, got %v", object["id"])
	}
	if object["object"] != remoteActorURI {
		t.Errorf("Inner Follow should target the remote actor, got %v", object["object"])
	}
}

func TestBuildCreateEventObject(t *testing.T) {
	conf := testConf()
	account := &domain.Account{Id: uuid.New(), Username: "alice"}
	end := time.Date(2026, 9, 12, 20, 0, 0, 0, time.UTC)
	event := &domain.Event{
		Id:          uuid.New(),
		Title:       "Garden meetup",
		Summary:     "Bring your own seeds",
		Location:    "Community garden",
		StartTime:   time.Date(2026, 9, 12, 18, 0, 0, 0, time.UTC),
		EndTime:     &end,
		EventStatus: "EventScheduled",
		CreatedAt:   time.Now(),
	}

	create := BuildCreateEvent(event, account, conf)

	if create["type"] != TypeCreate {
		t.Errorf("Expected Create, got %v", create["type"])
	}

	object := create["object"].(map[string]interface{})
	if object["type"] != TypeEvent {
		t.Errorf("Expected Event object, got %v", object["type"])
	}
	if object["name"] != "Garden meetup" {
		t.Errorf("Unexpected name: %v", object["name"])
	}
	if object["startTime"] != "2026-09-12T18:00:00Z" {
		t.Errorf("Unexpected startTime: %v", object["startTime"])
	}
	if object["endTime"] != "2026-09-12T20:00:00Z" {
		t.Errorf("Unexpected endTime: %v", object["endTime"])
	}

	location := object["location"].(map[string]interface{})
	if location["type"] != "Place" || location["name"] != "Community garden" {
		t.Errorf("Unexpected location: %v", location)
	}

	id, _ := object["id"].(string)
	if !strings.HasPrefix(id, "https://"+localDomain+"/events/") {
		t.Errorf("Event id should be a local object IRI, got %q", id)
	}
}

func TestBuildDeleteEventTombstone(t *testing.T) {
	conf := testConf()
	account := &domain.Account{Id: uuid.New(), Username: "alice"}
	event := &domain.Event{Id: uuid.New(), Title: "Garden meetup"}

	del := BuildDeleteEvent(event, account, conf)

	if del["type"] != TypeDelete {
		t.Errorf("Expected Delete, got %v", del["type"])
	}
	object := del["object"].(map[string]interface{})
	if object["type"] != TypeTombstone {
		t.Errorf("Expected Tombstone, got %v", object["type"])
	}
	if object["formerType"] != TypeEvent {
		t.Errorf("Expected formerType Event, got %v", object["formerType"])
	}
}

func TestFanOutDedupesSharedInbox(t *testing.T) {
	_, database, _, _, _ := setupProcessor(t)
	account := createLocalAccount(t, database, "alice", true)

	followers := []*domain.Follower{
		{
			Id: uuid.New(), AccountId: account.Id,
			ActorURI:       "https://remote.example/users/bob",
			InboxURI:       "https://remote.example/users/bob/inbox",
			SharedInboxURI: "https://remote.example/inbox",
			Status:         domain.FollowAccepted,
		},
		{
			Id: uuid.New(), AccountId: account.Id,
			ActorURI:       "https://remote.example/users/carol",
			InboxURI:       "https://remote.example/users/carol/inbox",
			SharedInboxURI: "https://remote.example/inbox",
			Status:         domain.FollowAccepted,
		},
		{
			Id: uuid.New(), AccountId: account.Id,
			ActorURI: "https://other.example/users/dan",
			InboxURI: "https://other.example/users/dan/inbox",
			Status:   domain.FollowAccepted,
		},
		{
			Id: uuid.New(), AccountId: account.Id,
			ActorURI: "https://pending.example/users/eve",
			InboxURI: "https://pending.example/users/eve/inbox",
			Status:   domain.FollowPending,
		},
	}
	for _, f := range followers {
		if err := database.UpsertFollower(f); err != nil {
			t.Fatalf("Failed to insert follower: %v", err)
		}
	}

	gateway := &fakeGateway{}
	activity := BuildCreateEvent(&domain.Event{Id: uuid.New(), Title: "Garden meetup", StartTime: time.Now()}, account, testConf())

	if err := FanOut(database, account, activity, gateway); err != nil {
		t.Fatalf("FanOut failed: %v", err)
	}

	if len(gateway.deliveries) != 2 {
		t.Fatalf("Expected 2 deliveries, got %d", len(gateway.deliveries))
	}

	inboxes := map[string]bool{}
	for _, d := range gateway.deliveries {
		inboxes[d.inboxURI] = true
	}
	if !inboxes["https://remote.example/inbox"] {
		t.Error("Shared inbox should receive one copy")
	}
	if !inboxes["https://other.example/users/dan/inbox"] {
		t.Error("Personal inbox should receive a copy")
	}
}

func TestQueueGatewayPersistsActivity(t *testing.T) {
	_, database, _, _, _ := setupProcessor(t)
	account := createLocalAccount(t, database, "alice", true)

	gateway := NewQueueGateway(database)
	activity := BuildFollow(account, remoteActorURI, testConf())

	if err := gateway.Deliver(activity, "https://remote.example/inbox", account); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	err, items := database.ReadPendingDeliveries(10)
	if err != nil {
		t.Fatalf("Failed to read deliveries: %v", err)
	}
	if items == nil || len(*items) != 1 {
		t.Fatalf("Expected 1 queued delivery, got %v", items)
	}

	item := (*items)[0]
	if item.InboxURI != "https://remote.example/inbox" {
		t.Errorf("Unexpected inbox: %s", item.InboxURI)
	}
	if !strings.Contains(item.ActivityJSON, `"type":"Follow"`) {
		t.Errorf("Queued JSON should carry the Follow activity: %s", item.ActivityJSON)
	}
}
