package activitypub

import (
	"fmt"
	"testing"
	"time"

	"github.com/convoke-dev/convoke/db"
	"github.com/convoke-dev/convoke/domain"
	"github.com/convoke-dev/convoke/util"
	"github.com/google/uuid"
)

const (
	localDomain    = "events.example"
	remoteActorURI = "https://remote.example/users/bob"
)

// fakeResolver serves canned actors and mimics the real resolver's caching
// by persisting them to the database on first fetch.
type fakeResolver struct {
	db       *db.DB
	actors   map[string]*domain.RemoteAccount
	count    int64
	countErr error
	fetches  int
}

func (f *fakeResolver) GetOrFetch(actorURI string) (*domain.RemoteAccount, error) {
	f.fetches++
	if err, cached := f.db.ReadRemoteAccountByURI(actorURI); err == nil && cached != nil {
		return cached, nil
	}
	actor, ok := f.actors[actorURI]
	if !ok {
		return nil, fmt.Errorf("unknown actor: %s", actorURI)
	}
	if err := f.db.CreateRemoteAccount(actor); err != nil {
		return nil, err
	}
	return actor, nil
}

func (f *fakeResolver) FollowerCount(actorURI string) (int64, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	return f.count, nil
}

type delivery struct {
	activity map[string]interface{}
	inboxURI string
}

type fakeGateway struct {
	deliveries []delivery
}

func (f *fakeGateway) Deliver(activity map[string]interface{}, inboxURI string, from *domain.Account) error {
	f.deliveries = append(f.deliveries, delivery{activity: activity, inboxURI: inboxURI})
	return nil
}

type notification struct {
	kind    NotificationKind
	payload interface{}
}

type fakeNotifier struct {
	notifications []notification
}

func (f *fakeNotifier) Notify(kind NotificationKind, payload interface{}) {
	f.notifications = append(f.notifications, notification{kind: kind, payload: payload})
}

func (f *fakeNotifier) kinds() []NotificationKind {
	var kinds []NotificationKind
	for _, n := range f.notifications {
		kinds = append(kinds, n.kind)
	}
	return kinds
}

func testConf() *util.AppConfig {
	conf := &util.AppConfig{}
	conf.Conf.Host = "127.0.0.1"
	conf.Conf.HttpPort = 8080
	conf.Conf.SslDomain = localDomain
	return conf
}

func remoteActor(uri string) *domain.RemoteAccount {
	return &domain.RemoteAccount{
		Id:            uuid.New(),
		Username:      "bob",
		Domain:        "remote.example",
		ActorURI:      uri,
		InboxURI:      uri + "/inbox",
		PublicKeyPem:  "dummy",
		LastFetchedAt: time.Now(),
	}
}

func setupProcessor(t *testing.T) (*Processor, *db.DB, *fakeResolver, *fakeGateway, *fakeNotifier) {
	database, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	if err := database.RunMigrations(); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	resolver := &fakeResolver{
		db:     database,
		actors: map[string]*domain.RemoteAccount{remoteActorURI: remoteActor(remoteActorURI)},
		count:  42,
	}
	gateway := &fakeGateway{}
	notifier := &fakeNotifier{}
	processor := NewProcessor(database, testConf(), resolver, gateway, notifier)
	return processor, database, resolver, gateway, notifier
}

func createLocalAccount(t *testing.T, database *db.DB, username string, autoAccept bool) *domain.Account {
	err, account := database.CreateAccount(username, autoAccept)
	if err != nil {
		t.Fatalf("Failed to create account: %v", err)
	}
	return account
}

func mirrorEvent(t *testing.T, database *db.DB, externalURI string) *domain.Event {
	now := time.Now()
	event := &domain.Event{
		Id:           uuid.New(),
		ExternalURI:  externalURI,
		Title:        "Garden party",
		StartTime:    now.Add(48 * time.Hour),
		AttributedTo: remoteActorURI,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := database.UpsertEvent(event); err != nil {
		t.Fatalf("Failed to seed event: %v", err)
	}
	return event
}

func followActivity(id string, target string) []byte {
	return followActivityFrom(id, remoteActorURI, target)
}

func followActivityFrom(id string, actor string, target string) []byte {
	return []byte(fmt.Sprintf(`{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id": %q,
		"type": "Follow",
		"actor": %q,
		"object": %q
	}`, id, actor, target))
}

func undoFollowActivity(id string, followID string, actor string, target string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": %q,
		"type": "Undo",
		"actor": %q,
		"object": {
			"id": %q,
			"type": "Follow",
			"actor": %q,
			"object": %q
		}
	}`, id, actor, followID, actor, target))
}

func TestProcessRejectsMissingID(t *testing.T) {
	p, database, _, _, notifier := setupProcessor(t)

	body := []byte(`{"type": "Like", "actor": "` + remoteActorURI + `", "object": "x"}`)
	if err := p.Process(body); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	err, found := database.HasProcessedActivity("")
	if err != nil {
		t.Fatalf("HasProcessedActivity failed: %v", err)
	}
	if found {
		t.Error("Activity without id must not reach the ledger")
	}
	if len(notifier.notifications) != 0 {
		t.Error("Activity without id must not notify")
	}
}

func TestProcessDuplicateIsSilent(t *testing.T) {
	p, database, _, _, notifier := setupProcessor(t)
	account := createLocalAccount(t, database, "alice", true)

	body := followActivity("https://remote.example/activities/f1",
		"https://"+localDomain+"/users/alice")

	if err := p.Process(body); err != nil {
		t.Fatalf("First Process failed: %v", err)
	}
	if err := p.Process(body); err != nil {
		t.Fatalf("Duplicate Process failed: %v", err)
	}

	err, followers := database.ReadFollowersByAccountId(account.Id)
	if err != nil {
		t.Fatalf("ReadFollowersByAccountId failed: %v", err)
	}
	if len(*followers) != 1 {
		t.Errorf("Expected 1 follower row, got %d", len(*followers))
	}

	// Only the first submission produced a notification
	if len(notifier.notifications) != 1 {
		t.Errorf("Expected 1 notification, got %d", len(notifier.notifications))
	}
}

func TestFollowAutoAccept(t *testing.T) {
	p, database, _, gateway, notifier := setupProcessor(t)
	account := createLocalAccount(t, database, "alice", true)

	body := followActivity("https://remote.example/activities/f1",
		"https://"+localDomain+"/users/alice")
	if err := p.Process(body); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	err, follower := database.ReadFollower(account.Id, remoteActorURI)
	if err != nil {
		t.Fatalf("ReadFollower failed: %v", err)
	}
	if follower.Status != domain.FollowAccepted {
		t.Errorf("Expected ACCEPTED, got %s", follower.Status)
	}
	if follower.URI != "https://remote.example/activities/f1" {
		t.Errorf("Follower should carry the Follow activity URI, got %s", follower.URI)
	}

	// An Accept went out to the follower's inbox
	if len(gateway.deliveries) != 1 {
		t.Fatalf("Expected 1 delivery, got %d", len(gateway.deliveries))
	}
	accept := gateway.deliveries[0]
	if accept.activity["type"] != TypeAccept {
		t.Errorf("Expected Accept, got %v", accept.activity["type"])
	}
	if accept.inboxURI != remoteActorURI+"/inbox" {
		t.Errorf("Accept went to wrong inbox: %s", accept.inboxURI)
	}
	object, ok := accept.activity["object"].(map[string]interface{})
	if !ok || object["id"] != "https://remote.example/activities/f1" {
		t.Error("Accept must echo the original Follow")
	}

	if kinds := notifier.kinds(); len(kinds) != 1 || kinds[0] != KindFollowerAdded {
		t.Errorf("Expected [follower-added], got %v", kinds)
	}
}

func TestFollowManualApproval(t *testing.T) {
	p, database, _, gateway, _ := setupProcessor(t)
	account := createLocalAccount(t, database, "alice", false)

	body := followActivity("https://remote.example/activities/f1",
		"https://"+localDomain+"/users/alice")
	if err := p.Process(body); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	err, follower := database.ReadFollower(account.Id, remoteActorURI)
	if err != nil {
		t.Fatalf("ReadFollower failed: %v", err)
	}
	if follower.Status != domain.FollowPending {
		t.Errorf("Expected PENDING, got %s", follower.Status)
	}
	if len(gateway.deliveries) != 0 {
		t.Error("No Accept should be sent while pending")
	}
}

func TestFollowNonLocalTargetIgnored(t *testing.T) {
	p, database, _, _, notifier := setupProcessor(t)
	createLocalAccount(t, database, "alice", true)

	body := followActivity("https://remote.example/activities/f1",
		"https://elsewhere.example/users/alice")
	if err := p.Process(body); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(notifier.notifications) != 0 {
		t.Error("Follow of a non-local actor should be a no-op")
	}
}

func acceptFollowActivity(id string, followURI string, localActor string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": %q,
		"type": "Accept",
		"actor": %q,
		"object": {
			"id": %q,
			"type": "Follow",
			"actor": %q,
			"object": %q
		}
	}`, id, remoteActorURI, followURI, localActor, remoteActorURI))
}

func TestAcceptFollowTransition(t *testing.T) {
	p, database, _, _, notifier := setupProcessor(t)
	account := createLocalAccount(t, database, "alice", true)
	localActor := "https://" + localDomain + "/users/alice"

	following := &domain.Following{
		Id:        uuid.New(),
		AccountId: account.Id,
		ActorURI:  remoteActorURI,
		Status:    domain.FollowPending,
		URI:       "https://" + localDomain + "/activities/out-1",
		CreatedAt: time.Now(),
	}
	if err := database.UpsertFollowing(following); err != nil {
		t.Fatalf("UpsertFollowing failed: %v", err)
	}

	body := acceptFollowActivity("https://remote.example/activities/a1", following.URI, localActor)
	if err := p.Process(body); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	err, stored := database.ReadFollowing(account.Id, remoteActorURI)
	if err != nil {
		t.Fatalf("ReadFollowing failed: %v", err)
	}
	if stored.Status != domain.FollowAccepted {
		t.Errorf("Expected ACCEPTED, got %s", stored.Status)
	}

	if len(notifier.notifications) != 1 {
		t.Fatalf("Expected 1 notification, got %d", len(notifier.notifications))
	}
	payload, ok := notifier.notifications[0].payload.(FollowDecisionPayload)
	if !ok {
		t.Fatalf("Unexpected payload type %T", notifier.notifications[0].payload)
	}
	if payload.RemoteFollowers != 42 {
		t.Errorf("Expected remote follower count 42, got %d", payload.RemoteFollowers)
	}
}

func TestAcceptFollowCountFailureDegrades(t *testing.T) {
	p, database, resolver, _, notifier := setupProcessor(t)
	account := createLocalAccount(t, database, "alice", true)
	resolver.countErr = fmt.Errorf("remote down")

	following := &domain.Following{
		Id:        uuid.New(),
		AccountId: account.Id,
		ActorURI:  remoteActorURI,
		Status:    domain.FollowPending,
		URI:       "https://" + localDomain + "/activities/out-1",
		CreatedAt: time.Now(),
	}
	if err := database.UpsertFollowing(following); err != nil {
		t.Fatalf("UpsertFollowing failed: %v", err)
	}

	body := acceptFollowActivity("https://remote.example/activities/a1", following.URI,
		"https://"+localDomain+"/users/alice")
	if err := p.Process(body); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	// The accept still lands, the count degrades to -1
	err, stored := database.ReadFollowing(account.Id, remoteActorURI)
	if err != nil {
		t.Fatalf("ReadFollowing failed: %v", err)
	}
	if stored.Status != domain.FollowAccepted {
		t.Errorf("Expected ACCEPTED, got %s", stored.Status)
	}
	payload := notifier.notifications[0].payload.(FollowDecisionPayload)
	if payload.RemoteFollowers != -1 {
		t.Errorf("Expected degraded count -1, got %d", payload.RemoteFollowers)
	}
}

func TestAcceptWithoutPriorFollowIsNoop(t *testing.T) {
	p, database, _, _, notifier := setupProcessor(t)
	account := createLocalAccount(t, database, "alice", true)

	body := acceptFollowActivity("https://remote.example/activities/a1",
		"https://"+localDomain+"/activities/never-sent",
		"https://"+localDomain+"/users/alice")
	if err := p.Process(body); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	_, stored := database.ReadFollowing(account.Id, remoteActorURI)
	if stored != nil {
		t.Error("No Following row should appear")
	}
	if len(notifier.notifications) != 0 {
		t.Error("Accept without prior Follow must not notify")
	}
}

func TestRejectFollowKeepsRow(t *testing.T) {
	p, database, _, _, notifier := setupProcessor(t)
	account := createLocalAccount(t, database, "alice", true)

	following := &domain.Following{
		Id:        uuid.New(),
		AccountId: account.Id,
		ActorURI:  remoteActorURI,
		Status:    domain.FollowPending,
		URI:       "https://" + localDomain + "/activities/out-1",
		CreatedAt: time.Now(),
	}
	if err := database.UpsertFollowing(following); err != nil {
		t.Fatalf("UpsertFollowing failed: %v", err)
	}

	body := []byte(fmt.Sprintf(`{
		"id": "https://remote.example/activities/r1",
		"type": "Reject",
		"actor": %q,
		"object": {
			"id": %q,
			"type": "Follow",
			"actor": "https://%s/users/alice",
			"object": %q
		}
	}`, remoteActorURI, following.URI, localDomain, remoteActorURI))
	if err := p.Process(body); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	err, stored := database.ReadFollowing(account.Id, remoteActorURI)
	if err != nil {
		t.Fatalf("ReadFollowing failed: %v", err)
	}
	if stored.Status != domain.FollowRejected {
		t.Errorf("Expected REJECTED, got %s", stored.Status)
	}

	if kinds := notifier.kinds(); len(kinds) != 1 || kinds[0] != KindFollowRejected {
		t.Errorf("Expected [follow-rejected], got %v", kinds)
	}
}

func TestUndoFollowRemovesFollower(t *testing.T) {
	p, database, _, _, notifier := setupProcessor(t)
	account := createLocalAccount(t, database, "alice", true)
	localActor := "https://" + localDomain + "/users/alice"

	if err := p.Process(followActivity("https://remote.example/activities/f1", localActor)); err != nil {
		t.Fatalf("Follow failed: %v", err)
	}

	undo := undoFollowActivity("https://remote.example/activities/u1",
		"https://remote.example/activities/f1", remoteActorURI, localActor)
	if err := p.Process(undo); err != nil {
		t.Fatalf("Undo failed: %v", err)
	}

	_, follower := database.ReadFollower(account.Id, remoteActorURI)
	if follower != nil {
		t.Error("Follower row should be gone")
	}

	kinds := notifier.kinds()
	if len(kinds) != 2 || kinds[1] != KindFollowerRemoved {
		t.Errorf("Expected follower-removed last, got %v", kinds)
	}
}

func TestFollowerCountTracksFollowsAndUndos(t *testing.T) {
	p, database, resolver, _, notifier := setupProcessor(t)
	account := createLocalAccount(t, database, "alice", true)
	localActor := "https://" + localDomain + "/users/alice"

	actors := []string{
		remoteActorURI,
		"https://remote.example/users/carol",
		"https://other.example/users/dave",
	}
	for _, uri := range actors[1:] {
		resolver.actors[uri] = remoteActor(uri)
	}

	// Three follows from distinct actors, then one of them undoes
	for i, uri := range actors {
		body := followActivityFrom(
			fmt.Sprintf("https://remote.example/activities/f%d", i+1), uri, localActor)
		if err := p.Process(body); err != nil {
			t.Fatalf("Follow from %s failed: %v", uri, err)
		}
	}
	undo := undoFollowActivity("https://remote.example/activities/u1",
		"https://remote.example/activities/f2", actors[1], localActor)
	if err := p.Process(undo); err != nil {
		t.Fatalf("Undo failed: %v", err)
	}

	var counts []int64
	for _, n := range notifier.notifications {
		if payload, ok := n.payload.(FollowerCountPayload); ok {
			counts = append(counts, payload.Followers)
		}
	}
	want := []int64{1, 2, 3, 2}
	if len(counts) != len(want) {
		t.Fatalf("Expected %d count broadcasts, got %d", len(want), len(counts))
	}
	for i := range want {
		if counts[i] != want[i] {
			t.Errorf("Broadcast %d carried count %d, want %d", i, counts[i], want[i])
		}
	}

	last := notifier.notifications[len(notifier.notifications)-1]
	if last.kind != KindFollowerRemoved {
		t.Errorf("Expected follower-removed last, got %s", last.kind)
	}

	err, stored := database.CountAcceptedFollowers(account.Id)
	if err != nil {
		t.Fatalf("CountAcceptedFollowers failed: %v", err)
	}
	if stored != 2 {
		t.Errorf("Expected 2 accepted followers, got %d", stored)
	}
}

func TestUnknownActivityTypeIsSafe(t *testing.T) {
	p, database, _, _, notifier := setupProcessor(t)

	body := []byte(`{
		"id": "https://remote.example/activities/arrive-1",
		"type": "Arrive",
		"actor": "` + remoteActorURI + `",
		"object": "https://remote.example/places/1"
	}`)
	if err := p.Process(body); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	// Admitted to the ledger but otherwise a no-op
	err, found := database.HasProcessedActivity("https://remote.example/activities/arrive-1")
	if err != nil {
		t.Fatalf("HasProcessedActivity failed: %v", err)
	}
	if !found {
		t.Error("Unknown type should still be admitted")
	}
	if len(notifier.notifications) != 0 {
		t.Error("Unknown type must not notify")
	}
}
