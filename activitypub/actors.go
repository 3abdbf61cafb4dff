package activitypub

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/convoke-dev/convoke/db"
	"github.com/convoke-dev/convoke/domain"
	"github.com/convoke-dev/convoke/util"
	"github.com/google/uuid"
)

// ActorResolver resolves remote actors to their cached profiles.
// FollowerCount is best-effort enrichment; callers tolerate its failure.
type ActorResolver interface {
	GetOrFetch(actorURI string) (*domain.RemoteAccount, error)
	FollowerCount(actorURI string) (int64, error)
}

// HTTPResolver fetches actors over HTTP and caches them in the database
type HTTPResolver struct {
	DB *db.DB
}

func NewHTTPResolver(database *db.DB) *HTTPResolver {
	return &HTTPResolver{DB: database}
}

// ActorResponse represents the JSON structure of an ActivityPub actor
type ActorResponse struct {
	Context           interface{} `json:"@context"`
	ID                string      `json:"id"`
	Type              string      `json:"type"`
	PreferredUsername string      `json:"preferredUsername"`
	Name              string      `json:"name"`
	Summary           string      `json:"summary"`
	Inbox             string      `json:"inbox"`
	Outbox            string      `json:"outbox"`
	Followers         string      `json:"followers"`
	Icon              struct {
		Type      string `json:"type"`
		MediaType string `json:"mediaType"`
		URL       string `json:"url"`
	} `json:"icon"`
	Image struct {
		Type string `json:"type"`
		URL  string `json:"url"`
	} `json:"image"`
	Endpoints struct {
		SharedInbox string `json:"sharedInbox"`
	} `json:"endpoints"`
	PublicKey struct {
		ID           string `json:"id"`
		Owner        string `json:"owner"`
		PublicKeyPem string `json:"publicKeyPem"`
	} `json:"publicKey"`
}

// GetOrFetch returns the actor from cache or fetches if not cached/stale
func (r *HTTPResolver) GetOrFetch(actorURI string) (*domain.RemoteAccount, error) {
	// Check cache first
	err, cached := r.DB.ReadRemoteAccountByURI(actorURI)
	if err == nil && cached != nil {
		// Check if cache is fresh (< 24 hours)
		if time.Since(cached.LastFetchedAt) < 24*time.Hour {
			return cached, nil
		}
	}

	// Fetch fresh data
	return r.fetchRemoteActor(actorURI)
}

// fetchRemoteActor fetches an actor from a remote server and stores it in
// the cache
func (r *HTTPResolver) fetchRemoteActor(actorURI string) (*domain.RemoteAccount, error) {
	req, err := http.NewRequest("GET", actorURI, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", fmt.Sprintf("%s ActivityPub", util.GetNameAndVersion()))

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("actor fetch failed with status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var actor ActorResponse
	if err := json.Unmarshal(body, &actor); err != nil {
		return nil, fmt.Errorf("failed to parse actor JSON: %w", err)
	}

	// Validate required fields
	if actor.ID == "" || actor.Inbox == "" || actor.PublicKey.PublicKeyPem == "" {
		return nil, fmt.Errorf("actor missing required fields")
	}

	domainName, err := extractDomain(actor.ID)
	if err != nil {
		return nil, err
	}

	remoteAcc := &domain.RemoteAccount{
		Id:             uuid.New(),
		Username:       actor.PreferredUsername,
		Domain:         domainName,
		ActorURI:       actor.ID,
		DisplayName:    actor.Name,
		Summary:        actor.Summary,
		InboxURI:       actor.Inbox,
		SharedInboxURI: actor.Endpoints.SharedInbox,
		OutboxURI:      actor.Outbox,
		FollowersURI:   actor.Followers,
		PublicKeyPem:   actor.PublicKey.PublicKeyPem,
		AvatarURL:      actor.Icon.URL,
		HeaderURL:      actor.Image.URL,
		LastFetchedAt:  time.Now(),
	}

	err = r.DB.CreateRemoteAccount(remoteAcc)
	if errors.Is(err, db.ErrDuplicate) {
		// Already cached, refresh the existing row instead
		if err := r.DB.UpdateRemoteAccount(remoteAcc); err != nil {
			return nil, fmt.Errorf("failed to refresh remote account: %w", err)
		}
		// Keep the id stable across refreshes
		if err, existing := r.DB.ReadRemoteAccountByURI(remoteAcc.ActorURI); err == nil && existing != nil {
			return existing, nil
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to store remote account: %w", err)
	}

	return remoteAcc, nil
}

// FollowerCount fetches the totalItems of an actor's followers collection.
// The collection URI advertised in the actor document wins; the
// conventional <actor>/followers path is the fallback for servers that
// omit it.
func (r *HTTPResolver) FollowerCount(actorURI string) (int64, error) {
	collectionURI := strings.TrimSuffix(actorURI, "/") + "/followers"
	if err, cached := r.DB.ReadRemoteAccountByURI(actorURI); err == nil && cached != nil && cached.FollowersURI != "" {
		collectionURI = cached.FollowersURI
	}

	req, err := http.NewRequest("GET", collectionURI, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", fmt.Sprintf("%s ActivityPub", util.GetNameAndVersion()))

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("followers fetch failed with status: %d", resp.StatusCode)
	}

	var collection struct {
		TotalItems int64 `json:"totalItems"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&collection); err != nil {
		return 0, fmt.Errorf("failed to parse followers collection: %w", err)
	}

	return collection.TotalItems, nil
}

// extractDomain extracts the domain from an actor URI
// Example: "https://mastodon.social/users/alice" -> "mastodon.social"
func extractDomain(actorURI string) (string, error) {
	parsed, err := url.Parse(actorURI)
	if err != nil {
		return "", fmt.Errorf("invalid actor URI: %w", err)
	}

	return parsed.Host, nil
}
