package web

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/convoke-dev/convoke/db"
	"github.com/convoke-dev/convoke/util"
	"github.com/google/uuid"
)

type action uint

const (
	id action = iota
	inbox
	outbox
	followers
	following
	sharedInbox
)

// GetActor renders the ActivityPub actor document for a local account
func GetActor(actor string, conf *util.AppConfig) (error, string) {
	err, acc := db.GetDB().ReadAccByUsername(actor)
	if err != nil {
		return err, "{}"
	}

	username := acc.Username
	displayName := acc.DisplayName
	if displayName == "" {
		displayName = username
	}

	actorObj := map[string]interface{}{
		"@context": []string{
			"https://www.w3.org/ns/activitystreams",
			"https://w3id.org/security/v1",
		},
		"id":                        getIRI(conf, username, id),
		"type":                      "Person",
		"preferredUsername":         username,
		"name":                      displayName,
		"summary":                   acc.Summary,
		"inbox":                     getIRI(conf, username, inbox),
		"outbox":                    getIRI(conf, username, outbox),
		"followers":                 getIRI(conf, username, followers),
		"following":                 getIRI(conf, username, following),
		"url":                       getIRI(conf, username, id),
		"manuallyApprovesFollowers": !acc.AutoAccept,
		"discoverable":              true,
		"endpoints": map[string]interface{}{
			"sharedInbox": getIRI(conf, username, sharedInbox),
		},
		"publicKey": map[string]interface{}{
			"id":           getIRI(conf, username, id) + "#main-key",
			"owner":        getIRI(conf, username, id),
			"publicKeyPem": acc.WebPublicKey,
		},
	}

	if acc.AvatarURL != "" {
		actorObj["icon"] = map[string]interface{}{
			"type": "Image",
			"url":  acc.AvatarURL,
		}
	}
	if acc.HeaderURL != "" {
		actorObj["image"] = map[string]interface{}{
			"type": "Image",
			"url":  acc.HeaderURL,
		}
	}

	jsonBytes, err := json.Marshal(actorObj)
	if err != nil {
		return err, "{}"
	}
	return nil, string(jsonBytes)
}

func getIRI(conf *util.AppConfig, username string, action action) string {
	prefix := fmt.Sprintf("%s/users/%s", conf.BaseURL(), username)
	switch action {
	case inbox:
		return prefix + "/inbox"
	case outbox:
		return prefix + "/outbox"
	case followers:
		return prefix + "/followers"
	case following:
		return prefix + "/following"
	case id:
		return prefix
	case sharedInbox:
		return conf.BaseURL() + "/inbox"
	default:
		return ""
	}
}

// GetEventObject renders a locally known event as an ActivityPub object.
// Remote mirrors redirect to their canonical URI via the "url" field.
func GetEventObject(eventId uuid.UUID, conf *util.AppConfig) (error, string) {
	database := db.GetDB()
	err, event := database.ReadEventById(eventId)
	if err != nil {
		return err, "{}"
	}

	eventURI := fmt.Sprintf("%s/events/%s", conf.BaseURL(), event.Id.String())
	attributedTo := event.AttributedTo
	if !event.IsRemote() {
		err, account := database.ReadAccById(*event.UserId)
		if err != nil {
			return err, "{}"
		}
		attributedTo = getIRI(conf, account.Username, id)
	}

	eventObj := map[string]interface{}{
		"@context":     "https://www.w3.org/ns/activitystreams",
		"id":           eventURI,
		"type":         "Event",
		"name":         event.Title,
		"summary":      event.Summary,
		"attributedTo": attributedTo,
		"startTime":    event.StartTime.Format(time.RFC3339),
		"published":    event.CreatedAt.Format(time.RFC3339),
		"to": []string{
			"https://www.w3.org/ns/activitystreams#Public",
		},
	}
	if event.EndTime != nil {
		eventObj["endTime"] = event.EndTime.Format(time.RFC3339)
	}
	if event.Location != "" {
		eventObj["location"] = map[string]interface{}{
			"type": "Place",
			"name": event.Location,
		}
	}
	if event.EventStatus != "" {
		eventObj["eventStatus"] = event.EventStatus
	}
	if event.IsRemote() {
		eventObj["url"] = event.ExternalURI
	}

	jsonBytes, err := json.Marshal(eventObj)
	if err != nil {
		return err, "{}"
	}
	return nil, string(jsonBytes)
}
