package domain

import (
	"fmt"
	"github.com/google/uuid"
	"time"
)

// Account represents a local user of this instance
type Account struct {
	Id            uuid.UUID
	Username      string
	CreatedAt     time.Time
	DisplayName   string
	Summary       string
	AvatarURL     string
	HeaderURL     string
	DisplayColor  string
	AutoAccept    bool // auto-accept incoming follow requests
	WebPublicKey  string
	WebPrivateKey string
}

func (acc *Account) ToString() string {
	return fmt.Sprintf("\n\tId: %s \n\tUsername: %s \n\tCreatedAt: %s)", acc.Id, acc.Username, acc.CreatedAt)
}

// RemoteAccount represents a cached federated user
type RemoteAccount struct {
	Id             uuid.UUID
	Username       string
	Domain         string
	ActorURI       string
	DisplayName    string
	Summary        string
	InboxURI       string
	SharedInboxURI string
	OutboxURI      string
	FollowersURI   string
	PublicKeyPem   string
	AvatarURL      string
	HeaderURL      string
	LastFetchedAt  time.Time
}

// PreferredInbox returns the shared inbox when the remote server advertises
// one, otherwise the personal inbox.
func (acc *RemoteAccount) PreferredInbox() string {
	if acc.SharedInboxURI != "" {
		return acc.SharedInboxURI
	}
	return acc.InboxURI
}
