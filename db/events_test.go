package db

import (
	"testing"
	"time"

	"github.com/convoke-dev/convoke/domain"
	"github.com/google/uuid"
)

func testEvent(externalURI string) *domain.Event {
	now := time.Now()
	return &domain.Event{
		Id:           uuid.New(),
		ExternalURI:  externalURI,
		Title:        "Garden party",
		Summary:      "Bring a plant",
		Location:     "Community garden",
		StartTime:    now.Add(48 * time.Hour),
		AttributedTo: "https://remote.example/users/bob",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestUpsertEventByExternalURI(t *testing.T) {
	db := setupTestDB(t)
	uri := "https://remote.example/events/1"

	first := testEvent(uri)
	if err := db.UpsertEvent(first); err != nil {
		t.Fatalf("UpsertEvent failed: %v", err)
	}

	// An Update for the same external URI replaces fields on the same row
	second := testEvent(uri)
	second.Title = "Garden party (moved)"
	second.Location = "Town hall"
	if err := db.UpsertEvent(second); err != nil {
		t.Fatalf("Second UpsertEvent failed: %v", err)
	}

	err, stored := db.ReadEventByExternalURI(uri)
	if err != nil {
		t.Fatalf("ReadEventByExternalURI failed: %v", err)
	}
	if stored.Id != first.Id {
		t.Error("Upsert should keep the original row id")
	}
	if stored.Title != "Garden party (moved)" {
		t.Errorf("Expected updated title, got %q", stored.Title)
	}
	if stored.Location != "Town hall" {
		t.Errorf("Expected updated location, got %q", stored.Location)
	}
	if !stored.IsRemote() {
		t.Error("Mirrored event should be remote")
	}
}

func TestLocalEventsWithoutExternalURI(t *testing.T) {
	db := setupTestDB(t)
	userId := uuid.New()

	// Two local events both lack an external URI and must not collide
	for i := 0; i < 2; i++ {
		event := testEvent("")
		event.UserId = &userId
		event.AttributedTo = ""
		if err := db.UpsertEvent(event); err != nil {
			t.Fatalf("UpsertEvent %d failed: %v", i, err)
		}
	}

	err, events := db.ReadUpcomingEvents(time.Now(), 10)
	if err != nil {
		t.Fatalf("ReadUpcomingEvents failed: %v", err)
	}
	if len(*events) != 2 {
		t.Errorf("Expected 2 events, got %d", len(*events))
	}
	for _, event := range *events {
		if event.IsRemote() {
			t.Error("Local event should not be remote")
		}
	}
}

func TestDeleteEventsByExternalURI(t *testing.T) {
	db := setupTestDB(t)
	uri := "https://remote.example/events/gone"

	if err := db.UpsertEvent(testEvent(uri)); err != nil {
		t.Fatalf("UpsertEvent failed: %v", err)
	}

	deleted, err := db.DeleteEventsByExternalURI(uri)
	if err != nil {
		t.Fatalf("DeleteEventsByExternalURI failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 deleted row, got %d", deleted)
	}

	deleted, err = db.DeleteEventsByExternalURI(uri)
	if err != nil {
		t.Fatalf("Second delete failed: %v", err)
	}
	if deleted != 0 {
		t.Errorf("Expected 0 deleted rows, got %d", deleted)
	}
}

func TestCommentRoundtrip(t *testing.T) {
	db := setupTestDB(t)

	event := testEvent("https://remote.example/events/1")
	if err := db.UpsertEvent(event); err != nil {
		t.Fatalf("UpsertEvent failed: %v", err)
	}

	comment := &domain.Comment{
		Id:          uuid.New(),
		ExternalURI: "https://remote.example/comments/1",
		Content:     "See you there!",
		EventId:     event.Id,
		AuthorId:    uuid.New(),
		CreatedAt:   time.Now(),
	}
	if err := db.CreateComment(comment); err != nil {
		t.Fatalf("CreateComment failed: %v", err)
	}

	err, comments := db.ReadCommentsByEventId(event.Id)
	if err != nil {
		t.Fatalf("ReadCommentsByEventId failed: %v", err)
	}
	if len(*comments) != 1 {
		t.Fatalf("Expected 1 comment, got %d", len(*comments))
	}

	if err := db.DeleteComment(comment.Id); err != nil {
		t.Fatalf("DeleteComment failed: %v", err)
	}
	err, stored := db.ReadCommentByExternalURI(comment.ExternalURI)
	if stored != nil {
		t.Error("Comment should be gone after delete")
	}
}

func TestLikeUniquePerActor(t *testing.T) {
	db := setupTestDB(t)
	eventId := uuid.New()
	accountId := uuid.New()

	like := &domain.EventLike{
		Id:        uuid.New(),
		EventId:   eventId,
		AccountId: accountId,
		URI:       "https://remote.example/activities/like-1",
		CreatedAt: time.Now(),
	}
	if err := db.UpsertLike(like); err != nil {
		t.Fatalf("UpsertLike failed: %v", err)
	}

	// Repeated like from the same actor collapses onto one row
	repeat := *like
	repeat.Id = uuid.New()
	repeat.URI = "https://remote.example/activities/like-2"
	if err := db.UpsertLike(&repeat); err != nil {
		t.Fatalf("Second UpsertLike failed: %v", err)
	}

	err, count := db.CountLikes(eventId)
	if err != nil {
		t.Fatalf("CountLikes failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 like, got %d", count)
	}

	if err := db.DeleteLike(eventId, accountId); err != nil {
		t.Fatalf("DeleteLike failed: %v", err)
	}
	err, count = db.CountLikes(eventId)
	if err != nil {
		t.Fatalf("CountLikes failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected 0 likes after delete, got %d", count)
	}
}

func TestAttendanceLastWriteWins(t *testing.T) {
	db := setupTestDB(t)
	eventId := uuid.New()
	accountId := uuid.New()

	statuses := []domain.AttendanceStatus{domain.Maybe, domain.Attending, domain.NotAttending}
	for _, status := range statuses {
		attendance := &domain.EventAttendance{
			Id:        uuid.New(),
			EventId:   eventId,
			AccountId: accountId,
			Status:    status,
			URI:       "https://remote.example/activities/" + string(status),
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}
		if err := db.UpsertAttendance(attendance); err != nil {
			t.Fatalf("UpsertAttendance(%s) failed: %v", status, err)
		}
	}

	err, stored := db.ReadAttendance(eventId, accountId)
	if err != nil {
		t.Fatalf("ReadAttendance failed: %v", err)
	}
	if stored.Status != domain.NotAttending {
		t.Errorf("Expected final status NOT_ATTENDING, got %s", stored.Status)
	}

	err, count := db.CountAttendance(eventId, domain.NotAttending)
	if err != nil {
		t.Fatalf("CountAttendance failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected exactly 1 attendance row, got %d", count)
	}
	err, count = db.CountAttendance(eventId, domain.Attending)
	if err != nil {
		t.Fatalf("CountAttendance failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Earlier statuses should be replaced, got %d ATTENDING rows", count)
	}
}

func TestCreateAccountGeneratesKeypair(t *testing.T) {
	db := setupTestDB(t)

	err, acc := db.CreateAccount("alice", true)
	if err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	if acc.WebPublicKey == "" || acc.WebPrivateKey == "" {
		t.Error("Account should carry a federation keypair")
	}
	if !acc.AutoAccept {
		t.Error("Expected auto-accept to be set")
	}

	err, byName := db.ReadAccByUsername("alice")
	if err != nil {
		t.Fatalf("ReadAccByUsername failed: %v", err)
	}
	if byName.Id != acc.Id {
		t.Error("ReadAccByUsername returned a different account")
	}
}
