package web

import (
	"log"
	"net/http"
	"time"

	"github.com/convoke-dev/convoke/activitypub"
	"github.com/convoke-dev/convoke/db"
	"github.com/convoke-dev/convoke/domain"
	"github.com/convoke-dev/convoke/util"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// API is the local management surface: event publishing, outbound follows
// and manual follower decisions. Session handling is out of scope here, so
// the acting account is identified by username in the request.
type API struct {
	DB       *db.DB
	Conf     *util.AppConfig
	Gateway  activitypub.DeliveryGateway
	Notifier activitypub.Notifier
}

func NewAPI(database *db.DB, conf *util.AppConfig, gateway activitypub.DeliveryGateway, notifier activitypub.Notifier) *API {
	return &API{DB: database, Conf: conf, Gateway: gateway, Notifier: notifier}
}

type accountRequest struct {
	Username   string `json:"username" binding:"required"`
	AutoAccept *bool  `json:"autoAccept"`
}

// CreateAccount registers a local account with a fresh federation keypair.
// Closed instances refuse registration.
func (a *API) CreateAccount(c *gin.Context) {
	if a.Conf.Conf.Closed {
		c.JSON(http.StatusForbidden, gin.H{"error": "This instance is closed for registration"})
		return
	}

	var req accountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	username := util.NormalizeInput(req.Username)
	if username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid username"})
		return
	}
	if err, existing := a.DB.ReadAccByUsername(username); err == nil && existing != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Username already taken"})
		return
	}

	autoAccept := a.Conf.Conf.AutoAccept
	if req.AutoAccept != nil {
		autoAccept = *req.AutoAccept
	}

	err, account := a.DB.CreateAccount(username, autoAccept)
	if err != nil {
		log.Printf("API: Failed to create account %s: %v", username, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create account"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": account.Id.String(), "username": account.Username})
}

type profileRequest struct {
	DisplayName  string `json:"displayName"`
	Summary      string `json:"summary"`
	AvatarURL    string `json:"avatarUrl"`
	HeaderURL    string `json:"headerUrl"`
	DisplayColor string `json:"displayColor"`
	AutoAccept   *bool  `json:"autoAccept"`
}

// UpdateProfile changes the public profile of a local account
func (a *API) UpdateProfile(c *gin.Context) {
	err, account := a.DB.ReadAccByUsername(c.Param("username"))
	if err != nil || account == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown account"})
		return
	}

	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	account.DisplayName = util.NormalizeInput(req.DisplayName)
	account.Summary = util.NormalizeInput(req.Summary)
	account.AvatarURL = req.AvatarURL
	account.HeaderURL = req.HeaderURL
	account.DisplayColor = req.DisplayColor
	if req.AutoAccept != nil {
		account.AutoAccept = *req.AutoAccept
	}

	if err := a.DB.UpdateAccountProfile(account); err != nil {
		log.Printf("API: Failed to update profile of %s: %v", account.Username, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update profile"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"username": account.Username})
}

type eventRequest struct {
	Username    string `json:"username" binding:"required"`
	Title       string `json:"title" binding:"required"`
	Summary     string `json:"summary"`
	Location    string `json:"location"`
	StartTime   string `json:"startTime" binding:"required"`
	EndTime     string `json:"endTime"`
	EventStatus string `json:"eventStatus"`
}

// CreateEvent publishes a new local event and fans the Create out to every
// accepted follower.
func (a *API) CreateEvent(c *gin.Context) {
	var req eventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err, account := a.DB.ReadAccByUsername(req.Username)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown account"})
		return
	}

	startTime, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "startTime must be RFC3339"})
		return
	}
	var endTime *time.Time
	if req.EndTime != "" {
		t, err := time.Parse(time.RFC3339, req.EndTime)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "endTime must be RFC3339"})
			return
		}
		endTime = &t
	}

	now := time.Now()
	event := &domain.Event{
		Id:          uuid.New(),
		Title:       util.NormalizeInput(req.Title),
		Summary:     util.NormalizeInput(req.Summary),
		Location:    util.NormalizeInput(req.Location),
		StartTime:   startTime,
		EndTime:     endTime,
		EventStatus: req.EventStatus,
		UserId:      &account.Id,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := a.DB.UpsertEvent(event); err != nil {
		log.Printf("API: Failed to create event: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create event"})
		return
	}

	create := activitypub.BuildCreateEvent(event, account, a.Conf)
	if err := activitypub.FanOut(a.DB, account, create, a.Gateway); err != nil {
		log.Printf("API: Fan-out for event %s failed: %v", event.Id, err)
	}

	c.JSON(http.StatusCreated, gin.H{"id": event.Id.String()})
}

// UpdateEvent changes a local event and fans the Update out
func (a *API) UpdateEvent(c *gin.Context) {
	eventId, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Invalid event ID"})
		return
	}

	var req eventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	event, account, ok := a.ownedEvent(c, eventId, req.Username)
	if !ok {
		return
	}

	startTime, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "startTime must be RFC3339"})
		return
	}

	event.Title = util.NormalizeInput(req.Title)
	event.Summary = util.NormalizeInput(req.Summary)
	event.Location = util.NormalizeInput(req.Location)
	event.StartTime = startTime
	event.EventStatus = req.EventStatus
	event.EndTime = nil
	if req.EndTime != "" {
		if t, err := time.Parse(time.RFC3339, req.EndTime); err == nil {
			event.EndTime = &t
		}
	}
	event.UpdatedAt = time.Now()

	if err := a.DB.UpdateEvent(event); err != nil {
		log.Printf("API: Failed to update event %s: %v", eventId, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update event"})
		return
	}

	update := activitypub.BuildUpdateEvent(event, account, a.Conf)
	if err := activitypub.FanOut(a.DB, account, update, a.Gateway); err != nil {
		log.Printf("API: Fan-out for event %s failed: %v", event.Id, err)
	}

	c.JSON(http.StatusOK, gin.H{"id": event.Id.String()})
}

// DeleteEvent removes a local event and fans a Delete with a Tombstone out
func (a *API) DeleteEvent(c *gin.Context) {
	eventId, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Invalid event ID"})
		return
	}

	event, account, ok := a.ownedEvent(c, eventId, c.Query("username"))
	if !ok {
		return
	}

	del := activitypub.BuildDeleteEvent(event, account, a.Conf)
	if err := activitypub.FanOut(a.DB, account, del, a.Gateway); err != nil {
		log.Printf("API: Fan-out for event %s failed: %v", event.Id, err)
	}

	if err := a.DB.DeleteEventById(event.Id); err != nil {
		log.Printf("API: Failed to delete event %s: %v", eventId, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete event"})
		return
	}

	c.Status(http.StatusNoContent)
}

// ownedEvent loads the event and checks the requesting account owns it
func (a *API) ownedEvent(c *gin.Context, eventId uuid.UUID, username string) (*domain.Event, *domain.Account, bool) {
	err, account := a.DB.ReadAccByUsername(username)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown account"})
		return nil, nil, false
	}

	err, event := a.DB.ReadEventById(eventId)
	if err != nil || event == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Event not found"})
		return nil, nil, false
	}
	if event.IsRemote() || *event.UserId != account.Id {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not your event"})
		return nil, nil, false
	}

	return event, account, true
}

type followRequest struct {
	Username string `json:"username" binding:"required"`
	ActorURI string `json:"actorUri" binding:"required"`
}

// Follow sends a Follow request to a remote actor and records it pending
func (a *API) Follow(c *gin.Context) {
	var req followRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err, account := a.DB.ReadAccByUsername(req.Username)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown account"})
		return
	}

	err, remoteActor := a.DB.ReadRemoteAccountByURI(req.ActorURI)
	if err != nil || remoteActor == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown remote actor, resolve it first"})
		return
	}

	follow := activitypub.BuildFollow(account, remoteActor.ActorURI, a.Conf)
	following := &domain.Following{
		Id:        uuid.New(),
		AccountId: account.Id,
		ActorURI:  remoteActor.ActorURI,
		Status:    domain.FollowPending,
		URI:       follow["id"].(string),
		CreatedAt: time.Now(),
	}
	if err := a.DB.UpsertFollowing(following); err != nil {
		log.Printf("API: Failed to record follow: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record follow"})
		return
	}

	if err := a.Gateway.Deliver(follow, remoteActor.PreferredInbox(), account); err != nil {
		log.Printf("API: Failed to queue Follow to %s: %v", remoteActor.ActorURI, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to queue follow"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": string(domain.FollowPending)})
}

// Unfollow sends an Undo of an earlier Follow and removes the local record
func (a *API) Unfollow(c *gin.Context) {
	var req followRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err, account := a.DB.ReadAccByUsername(req.Username)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown account"})
		return
	}

	err, following := a.DB.ReadFollowing(account.Id, req.ActorURI)
	if err != nil || following == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not following this actor"})
		return
	}

	undo := activitypub.BuildUndoFollow(account, following, a.Conf)
	if err, remoteActor := a.DB.ReadRemoteAccountByURI(req.ActorURI); err == nil && remoteActor != nil {
		if err := a.Gateway.Deliver(undo, remoteActor.PreferredInbox(), account); err != nil {
			log.Printf("API: Failed to queue Undo Follow to %s: %v", req.ActorURI, err)
		}
	}

	if err := a.DB.DeleteFollowing(account.Id, req.ActorURI); err != nil {
		log.Printf("API: Failed to remove follow record: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to remove follow"})
		return
	}

	c.Status(http.StatusNoContent)
}

type decisionRequest struct {
	Username string `json:"username" binding:"required"`
	ActorURI string `json:"actorUri" binding:"required"`
	Accept   bool   `json:"accept"`
}

// DecideFollower accepts or rejects a pending follow request. Used when the
// account has auto-accept disabled.
func (a *API) DecideFollower(c *gin.Context) {
	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err, account := a.DB.ReadAccByUsername(req.Username)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown account"})
		return
	}

	err, follower := a.DB.ReadFollower(account.Id, req.ActorURI)
	if err != nil || follower == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No follow request from this actor"})
		return
	}

	target := domain.FollowRejected
	if req.Accept {
		target = domain.FollowAccepted
	}
	if !follower.Status.CanTransition(target) {
		c.JSON(http.StatusConflict, gin.H{"error": "Follow request already decided"})
		return
	}

	err, remoteActor := a.DB.ReadRemoteAccountByURI(req.ActorURI)
	if err != nil || remoteActor == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown remote actor"})
		return
	}

	if err := a.DB.UpdateFollowerStatus(account.Id, req.ActorURI, target); err != nil {
		log.Printf("API: Failed to update follower status: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update follower"})
		return
	}

	var activity map[string]interface{}
	if req.Accept {
		activity = activitypub.BuildAccept(account, remoteActor, follower.URI, a.Conf)
	} else {
		activity = activitypub.BuildReject(account, remoteActor, follower.URI, a.Conf)
	}
	if err := a.Gateway.Deliver(activity, remoteActor.PreferredInbox(), account); err != nil {
		log.Printf("API: Failed to queue decision to %s: %v", req.ActorURI, err)
	}

	c.JSON(http.StatusOK, gin.H{"status": string(target)})
}
