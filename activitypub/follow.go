package activitypub

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/convoke-dev/convoke/domain"
	"github.com/google/uuid"
)

// onFollow processes an inbound follow request from a remote actor. The
// follower row is upserted with an explicit status and, when the local
// account auto-accepts, an Accept activity is delivered back.
func (p *Processor) onFollow(activity *Activity, ref ObjectRef) error {
	username, ok := p.localUsername(ref.URI)
	if !ok {
		log.Printf("Inbox: Follow target %s is not local, ignoring", ref.URI)
		return nil
	}

	err, account := p.DB.ReadAccByUsername(username)
	if err != nil || account == nil {
		return fmt.Errorf("local account %q not found", username)
	}

	actor, err := p.Resolver.GetOrFetch(activity.Actor)
	if err != nil || actor == nil {
		return fmt.Errorf("failed to resolve actor %s: %w", activity.Actor, err)
	}

	status := domain.FollowPending
	if account.AutoAccept {
		status = domain.FollowAccepted
	}

	follower := &domain.Follower{
		Id:             uuid.New(),
		AccountId:      account.Id,
		ActorURI:       actor.ActorURI,
		Username:       actor.Username,
		InboxURI:       actor.InboxURI,
		SharedInboxURI: actor.SharedInboxURI,
		Status:         status,
		URI:            activity.ID,
		CreatedAt:      time.Now(),
	}
	if err := p.DB.UpsertFollower(follower); err != nil {
		return fmt.Errorf("failed to store follower: %w", err)
	}

	p.broadcastFollowerCount(KindFollowerAdded, account, actor)

	if status == domain.FollowAccepted {
		accept := BuildAccept(account, actor, activity.ID, p.Conf)
		if err := p.Gateway.Deliver(accept, actor.PreferredInbox(), account); err != nil {
			return fmt.Errorf("failed to deliver Accept: %w", err)
		}
		log.Printf("Inbox: Accepted follow from %s@%s", actor.Username, actor.Domain)
	} else {
		log.Printf("Inbox: Follow from %s@%s awaiting approval", actor.Username, actor.Domain)
	}

	return nil
}

// onAcceptFollow processes a remote accept of a follow request we sent.
// The embedded Follow's actor identifies the local follower.
func (p *Processor) onAcceptFollow(activity *Activity, ref ObjectRef) error {
	account, ok := p.localFollowerFromObject(ref)
	if !ok {
		return nil
	}

	err, following := p.DB.ReadFollowing(account.Id, activity.Actor)
	if err != nil || following == nil {
		log.Printf("Inbox: Accept for unknown follow request %s -> %s, ignoring", account.Username, activity.Actor)
		return nil
	}
	if !following.Status.CanTransition(domain.FollowAccepted) {
		log.Printf("Inbox: Follow %s -> %s is %s, Accept ignored", account.Username, activity.Actor, following.Status)
		return nil
	}

	if err := p.DB.UpdateFollowingStatus(account.Id, activity.Actor, domain.FollowAccepted); err != nil {
		return fmt.Errorf("failed to accept follow: %w", err)
	}

	// Best-effort: the remote follower count enriches the notification but
	// must never abort the accept itself.
	count, err := p.Resolver.FollowerCount(activity.Actor)
	if err != nil {
		log.Printf("Inbox: Could not fetch follower count for %s: %v", activity.Actor, err)
		count = -1
	}

	p.Notifier.Notify(KindFollowAccepted, FollowDecisionPayload{
		User:            localUserSummary(account),
		ActorURI:        activity.Actor,
		RemoteFollowers: count,
	})

	log.Printf("Inbox: Follow %s -> %s accepted", account.Username, activity.Actor)
	return nil
}

// onRejectFollow marks a follow request we sent as rejected. The row is
// retained to preserve history.
func (p *Processor) onRejectFollow(activity *Activity, ref ObjectRef) error {
	account, ok := p.localFollowerFromObject(ref)
	if !ok {
		return nil
	}

	err, following := p.DB.ReadFollowing(account.Id, activity.Actor)
	if err != nil || following == nil {
		log.Printf("Inbox: Reject for unknown follow request %s -> %s, ignoring", account.Username, activity.Actor)
		return nil
	}
	if !following.Status.CanTransition(domain.FollowRejected) {
		log.Printf("Inbox: Follow %s -> %s is %s, Reject ignored", account.Username, activity.Actor, following.Status)
		return nil
	}

	if err := p.DB.UpdateFollowingStatus(account.Id, activity.Actor, domain.FollowRejected); err != nil {
		return fmt.Errorf("failed to reject follow: %w", err)
	}

	p.Notifier.Notify(KindFollowRejected, FollowDecisionPayload{
		User:            localUserSummary(account),
		ActorURI:        activity.Actor,
		RemoteFollowers: -1,
	})

	log.Printf("Inbox: Follow %s -> %s rejected", account.Username, activity.Actor)
	return nil
}

// onUndoFollow removes a remote actor's follow of a local account
func (p *Processor) onUndoFollow(activity *Activity, ref ObjectRef) error {
	var follow FollowObject
	if err := json.Unmarshal(ref.Raw, &follow); err != nil {
		return fmt.Errorf("failed to parse Follow object: %w", err)
	}

	username, ok := p.localUsername(follow.Object)
	if !ok {
		log.Printf("Inbox: Undo Follow target %s is not local, ignoring", follow.Object)
		return nil
	}

	err, account := p.DB.ReadAccByUsername(username)
	if err != nil || account == nil {
		return fmt.Errorf("local account %q not found", username)
	}

	if err := p.DB.DeleteFollower(account.Id, activity.Actor); err != nil {
		return fmt.Errorf("failed to delete follower: %w", err)
	}

	err, actor := p.DB.ReadRemoteAccountByURI(activity.Actor)
	if err != nil || actor == nil {
		actor = &domain.RemoteAccount{ActorURI: activity.Actor}
	}
	p.broadcastFollowerCount(KindFollowerRemoved, account, actor)

	log.Printf("Inbox: Removed follow of %s by %s", account.Username, activity.Actor)
	return nil
}

// localFollowerFromObject resolves the embedded Follow's actor to a local
// account. Accept/Reject for a non-local follower is a logged no-op.
func (p *Processor) localFollowerFromObject(ref ObjectRef) (*domain.Account, bool) {
	var follow FollowObject
	if err := json.Unmarshal(ref.Raw, &follow); err != nil {
		log.Printf("Inbox: Failed to parse Follow object: %v", err)
		return nil, false
	}

	username, ok := p.localUsername(follow.Actor)
	if !ok {
		log.Printf("Inbox: Follow actor %s is not local, ignoring", follow.Actor)
		return nil, false
	}

	err, account := p.DB.ReadAccByUsername(username)
	if err != nil || account == nil {
		log.Printf("Inbox: Local account %q not found, ignoring", username)
		return nil, false
	}
	return account, true
}

// broadcastFollowerCount recomputes the accepted-follower count and
// publishes it with the affected follower attached.
func (p *Processor) broadcastFollowerCount(kind NotificationKind, account *domain.Account, actor *domain.RemoteAccount) {
	err, count := p.DB.CountAcceptedFollowers(account.Id)
	if err != nil {
		log.Printf("Inbox: Failed to count followers of %s: %v", account.Username, err)
		return
	}

	p.Notifier.Notify(kind, FollowerCountPayload{
		User:      localUserSummary(account),
		Follower:  remoteUserSummary(actor),
		Followers: count,
	})
}
