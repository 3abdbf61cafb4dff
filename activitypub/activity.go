package activitypub

import (
	"encoding/json"
	"strings"
)

// Activity types understood by the router
const (
	TypeFollow          = "Follow"
	TypeAccept          = "Accept"
	TypeReject          = "Reject"
	TypeTentativeAccept = "TentativeAccept"
	TypeCreate          = "Create"
	TypeUpdate          = "Update"
	TypeDelete          = "Delete"
	TypeLike            = "Like"
	TypeUndo            = "Undo"
	TypeAnnounce        = "Announce"
)

// Object types understood by the handlers
const (
	TypeEvent     = "Event"
	TypeNote      = "Note"
	TypePerson    = "Person"
	TypeTombstone = "Tombstone"
)

// Activity represents a generic ActivityPub activity. The object field is
// kept raw and parsed once into an ObjectRef.
type Activity struct {
	Context interface{}     `json:"@context"`
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Actor   string          `json:"actor"`
	Object  json.RawMessage `json:"object"`
}

// ObjectRef is the parsed form of the polymorphic object field, which on
// the wire is either a bare URI string or an embedded object. Raw is nil
// for bare strings; for embedded objects it holds the full object so the
// handlers can decode the type they expect.
type ObjectRef struct {
	URI  string
	Type string
	Raw  json.RawMessage
}

// ParseObjectRef normalizes an activity's object field. Parsing it once at
// the boundary keeps the Follow-vs-event shape decision in one place.
func ParseObjectRef(raw json.RawMessage) ObjectRef {
	if len(raw) == 0 {
		return ObjectRef{}
	}

	var uri string
	if err := json.Unmarshal(raw, &uri); err == nil {
		return ObjectRef{URI: uri}
	}

	var head struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return ObjectRef{}
	}
	return ObjectRef{URI: head.ID, Type: head.Type, Raw: raw}
}

// IsEmbedded reports whether the object was a full embedded object rather
// than a bare URI string.
func (ref ObjectRef) IsEmbedded() bool {
	return ref.Raw != nil
}

// IsFollow reports whether the object is an embedded Follow activity.
// A Follow object also carries an id, so callers must check this before
// falling back to any event-shaped interpretation.
func (ref ObjectRef) IsFollow() bool {
	return ref.IsEmbedded() && ref.Type == TypeFollow
}

// FollowObject is an embedded Follow activity carried inside Accept,
// Reject and Undo activities.
type FollowObject struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Actor  string `json:"actor"`
	Object string `json:"object"` // URI of the user being followed
}

// EventObject is the wire shape of a federated event
type EventObject struct {
	ID                      string          `json:"id"`
	Name                    string          `json:"name"`
	Summary                 string          `json:"summary"`
	Content                 string          `json:"content"`
	Location                json.RawMessage `json:"location"`
	StartTime               string          `json:"startTime"`
	EndTime                 string          `json:"endTime"`
	Duration                string          `json:"duration"`
	URL                     string          `json:"url"`
	EventStatus             string          `json:"eventStatus"`
	EventAttendanceMode     string          `json:"eventAttendanceMode"`
	MaximumAttendeeCapacity int             `json:"maximumAttendeeCapacity"`
	Attachment              []Attachment    `json:"attachment"`
}

type Attachment struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// LocationString flattens the polymorphic location field, which may be a
// bare string or a Place object with a name and/or address (itself a
// string or a postal-address object).
func (e *EventObject) LocationString() string {
	if len(e.Location) == 0 {
		return ""
	}

	var loc string
	if err := json.Unmarshal(e.Location, &loc); err == nil {
		return loc
	}

	var place struct {
		Name    string          `json:"name"`
		Address json.RawMessage `json:"address"`
	}
	if err := json.Unmarshal(e.Location, &place); err != nil {
		return ""
	}
	if place.Name != "" {
		return place.Name
	}

	var address string
	if err := json.Unmarshal(place.Address, &address); err == nil {
		return address
	}
	var postal struct {
		StreetAddress   string `json:"streetAddress"`
		AddressLocality string `json:"addressLocality"`
	}
	if err := json.Unmarshal(place.Address, &postal); err == nil {
		parts := []string{}
		if postal.StreetAddress != "" {
			parts = append(parts, postal.StreetAddress)
		}
		if postal.AddressLocality != "" {
			parts = append(parts, postal.AddressLocality)
		}
		return strings.Join(parts, ", ")
	}
	return ""
}

// HeaderImage returns the first attachment URL, used as the event header
func (e *EventObject) HeaderImage() string {
	if len(e.Attachment) == 0 {
		return ""
	}
	return e.Attachment[0].URL
}

// NoteObject is the wire shape of a federated comment
type NoteObject struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	InReplyTo string `json:"inReplyTo"`
}

// PersonObject is an embedded Person carried inside Update activities
type PersonObject struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Summary           string `json:"summary"`
	PreferredUsername string `json:"preferredUsername"`
	Inbox             string `json:"inbox"`
	Icon              struct {
		URL string `json:"url"`
	} `json:"icon"`
	Image struct {
		URL string `json:"url"`
	} `json:"image"`
	Endpoints struct {
		SharedInbox string `json:"sharedInbox"`
	} `json:"endpoints"`
}

// TombstoneObject signals that a previously federated object was deleted
type TombstoneObject struct {
	ID         string `json:"id"`
	FormerType string `json:"formerType"`
}

// EmbeddedActivity is the inner activity of an Undo object
// (Like, Accept, TentativeAccept, Reject)
type EmbeddedActivity struct {
	ID     string          `json:"id"`
	Type   string          `json:"type"`
	Actor  string          `json:"actor"`
	Object json.RawMessage `json:"object"`
}
