package db

import (
	"database/sql"
	"time"

	"github.com/convoke-dev/convoke/domain"
	"github.com/google/uuid"
)

// Remote account queries
const (
	sqlInsertRemoteAccount = `INSERT INTO remote_accounts(id, username, domain, actor_uri, display_name, summary, inbox_uri, shared_inbox_uri, outbox_uri, followers_uri, public_key_pem, avatar_url, header_url, last_fetched_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlSelectRemoteAccountFields = `SELECT id, username, domain, actor_uri, display_name, summary, inbox_uri, shared_inbox_uri, outbox_uri, followers_uri, public_key_pem, avatar_url, header_url, last_fetched_at FROM remote_accounts`
	sqlSelectRemoteAccountByURI  = sqlSelectRemoteAccountFields + ` WHERE actor_uri = ?`
	sqlSelectRemoteAccountById   = sqlSelectRemoteAccountFields + ` WHERE id = ?`

	sqlUpdateRemoteAccount = `UPDATE remote_accounts SET username = ?, display_name = ?, summary = ?, inbox_uri = ?, shared_inbox_uri = ?, outbox_uri = ?, followers_uri = ?, public_key_pem = ?, avatar_url = ?, header_url = ?, last_fetched_at = ? WHERE actor_uri = ?`
)

func (db *DB) CreateRemoteAccount(acc *domain.RemoteAccount) error {
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertRemoteAccount,
			acc.Id.String(),
			acc.Username,
			acc.Domain,
			acc.ActorURI,
			acc.DisplayName,
			acc.Summary,
			acc.InboxURI,
			acc.SharedInboxURI,
			acc.OutboxURI,
			acc.FollowersURI,
			acc.PublicKeyPem,
			acc.AvatarURL,
			acc.HeaderURL,
			acc.LastFetchedAt,
		)
		return err
	})
	if err != nil && isConstraintErr(err) {
		return ErrDuplicate
	}
	return err
}

func (db *DB) UpdateRemoteAccount(acc *domain.RemoteAccount) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateRemoteAccount,
			acc.Username,
			acc.DisplayName,
			acc.Summary,
			acc.InboxURI,
			acc.SharedInboxURI,
			acc.OutboxURI,
			acc.FollowersURI,
			acc.PublicKeyPem,
			acc.AvatarURL,
			acc.HeaderURL,
			acc.LastFetchedAt,
			acc.ActorURI,
		)
		return err
	})
}

func (db *DB) ReadRemoteAccountByURI(uri string) (error, *domain.RemoteAccount) {
	return db.scanRemoteAccount(db.db.QueryRow(sqlSelectRemoteAccountByURI, uri))
}

func (db *DB) ReadRemoteAccountById(id uuid.UUID) (error, *domain.RemoteAccount) {
	return db.scanRemoteAccount(db.db.QueryRow(sqlSelectRemoteAccountById, id.String()))
}

func (db *DB) scanRemoteAccount(row *sql.Row) (error, *domain.RemoteAccount) {
	var acc domain.RemoteAccount
	var idStr string
	err := row.Scan(
		&idStr,
		&acc.Username,
		&acc.Domain,
		&acc.ActorURI,
		&acc.DisplayName,
		&acc.Summary,
		&acc.InboxURI,
		&acc.SharedInboxURI,
		&acc.OutboxURI,
		&acc.FollowersURI,
		&acc.PublicKeyPem,
		&acc.AvatarURL,
		&acc.HeaderURL,
		&acc.LastFetchedAt,
	)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	acc.Id, _ = uuid.Parse(idStr)
	return nil, &acc
}

// Follower queries
const (
	sqlUpsertFollower = `INSERT INTO followers(id, account_id, actor_uri, username, inbox_uri, shared_inbox_uri, status, uri, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, actor_uri) DO UPDATE SET username = excluded.username, inbox_uri = excluded.inbox_uri, shared_inbox_uri = excluded.shared_inbox_uri, status = excluded.status, uri = excluded.uri`

	sqlSelectFollowerFields = `SELECT id, account_id, actor_uri, username, inbox_uri, shared_inbox_uri, status, uri, created_at FROM followers`
	sqlSelectFollower       = sqlSelectFollowerFields + ` WHERE account_id = ? AND actor_uri = ?`
	sqlSelectFollowers      = sqlSelectFollowerFields + ` WHERE account_id = ? ORDER BY created_at ASC`

	sqlDeleteFollower         = `DELETE FROM followers WHERE account_id = ? AND actor_uri = ?`
	sqlCountAcceptedFollowers = `SELECT COUNT(*) FROM followers WHERE account_id = ? AND status = 'ACCEPTED'`
	sqlUpdateFollowerStatus   = `UPDATE followers SET status = ? WHERE account_id = ? AND actor_uri = ?`
)

func (db *DB) UpsertFollower(follower *domain.Follower) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpsertFollower,
			follower.Id.String(),
			follower.AccountId.String(),
			follower.ActorURI,
			follower.Username,
			follower.InboxURI,
			follower.SharedInboxURI,
			string(follower.Status),
			follower.URI,
			follower.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadFollower(accountId uuid.UUID, actorURI string) (error, *domain.Follower) {
	row := db.db.QueryRow(sqlSelectFollower, accountId.String(), actorURI)
	var follower domain.Follower
	var idStr, accountIdStr string
	err := row.Scan(
		&idStr,
		&accountIdStr,
		&follower.ActorURI,
		&follower.Username,
		&follower.InboxURI,
		&follower.SharedInboxURI,
		&follower.Status,
		&follower.URI,
		&follower.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	follower.Id, _ = uuid.Parse(idStr)
	follower.AccountId, _ = uuid.Parse(accountIdStr)
	return nil, &follower
}

func (db *DB) ReadFollowersByAccountId(accountId uuid.UUID) (error, *[]domain.Follower) {
	rows, err := db.db.Query(sqlSelectFollowers, accountId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var followers []domain.Follower
	for rows.Next() {
		var follower domain.Follower
		var idStr, accountIdStr string
		if err := rows.Scan(&idStr, &accountIdStr, &follower.ActorURI, &follower.Username, &follower.InboxURI, &follower.SharedInboxURI, &follower.Status, &follower.URI, &follower.CreatedAt); err != nil {
			return err, &followers
		}
		follower.Id, _ = uuid.Parse(idStr)
		follower.AccountId, _ = uuid.Parse(accountIdStr)
		followers = append(followers, follower)
	}
	if err = rows.Err(); err != nil {
		return err, &followers
	}
	return nil, &followers
}

func (db *DB) UpdateFollowerStatus(accountId uuid.UUID, actorURI string, status domain.FollowStatus) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateFollowerStatus, string(status), accountId.String(), actorURI)
		return err
	})
}

func (db *DB) DeleteFollower(accountId uuid.UUID, actorURI string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteFollower, accountId.String(), actorURI)
		return err
	})
}

func (db *DB) CountAcceptedFollowers(accountId uuid.UUID) (error, int64) {
	var count int64
	err := db.db.QueryRow(sqlCountAcceptedFollowers, accountId.String()).Scan(&count)
	return err, count
}

// Following queries
const (
	sqlUpsertFollowing = `INSERT INTO following(id, account_id, actor_uri, status, uri, created_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, actor_uri) DO UPDATE SET status = excluded.status, uri = excluded.uri`

	sqlSelectFollowing      = `SELECT id, account_id, actor_uri, status, uri, created_at FROM following WHERE account_id = ? AND actor_uri = ?`
	sqlUpdateFollowingState = `UPDATE following SET status = ? WHERE account_id = ? AND actor_uri = ?`
	sqlDeleteFollowing      = `DELETE FROM following WHERE account_id = ? AND actor_uri = ?`
)

func (db *DB) UpsertFollowing(following *domain.Following) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpsertFollowing,
			following.Id.String(),
			following.AccountId.String(),
			following.ActorURI,
			string(following.Status),
			following.URI,
			following.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadFollowing(accountId uuid.UUID, actorURI string) (error, *domain.Following) {
	row := db.db.QueryRow(sqlSelectFollowing, accountId.String(), actorURI)
	var following domain.Following
	var idStr, accountIdStr string
	err := row.Scan(
		&idStr,
		&accountIdStr,
		&following.ActorURI,
		&following.Status,
		&following.URI,
		&following.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	following.Id, _ = uuid.Parse(idStr)
	following.AccountId, _ = uuid.Parse(accountIdStr)
	return nil, &following
}

func (db *DB) UpdateFollowingStatus(accountId uuid.UUID, actorURI string, status domain.FollowStatus) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateFollowingState, string(status), accountId.String(), actorURI)
		return err
	})
}

func (db *DB) DeleteFollowing(accountId uuid.UUID, actorURI string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteFollowing, accountId.String(), actorURI)
		return err
	})
}

// Idempotency ledger queries
const (
	sqlInsertProcessedActivity = `INSERT INTO processed_activities(id, activity_uri, activity_type, actor_uri, expires_at, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	sqlCountProcessedActivity  = `SELECT COUNT(*) FROM processed_activities WHERE activity_uri = ?`
	sqlPurgeExpiredActivities  = `DELETE FROM processed_activities WHERE expires_at <= ?`
)

// AdmitActivity attempts the atomic insert-if-absent that gates all activity
// processing. It returns admitted=false when the activity URI was already
// recorded. The UNIQUE constraint provides the atomicity, so concurrent
// attempts across connections or processes race safely: exactly one wins.
func (db *DB) AdmitActivity(activity *domain.ProcessedActivity) (bool, error) {
	_, err := db.db.Exec(sqlInsertProcessedActivity,
		activity.Id.String(),
		activity.ActivityURI,
		activity.ActivityType,
		activity.ActorURI,
		activity.ExpiresAt,
		activity.CreatedAt,
	)
	if err != nil {
		if isConstraintErr(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// HasProcessedActivity reports whether an activity URI is in the ledger.
func (db *DB) HasProcessedActivity(activityURI string) (error, bool) {
	var count int64
	err := db.db.QueryRow(sqlCountProcessedActivity, activityURI).Scan(&count)
	return err, count > 0
}

// PurgeExpiredActivities removes ledger records past their retention window.
func (db *DB) PurgeExpiredActivities() (int64, error) {
	res, err := db.db.Exec(sqlPurgeExpiredActivities, time.Now())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Delivery queue queries
const (
	sqlInsertDeliveryQueue     = `INSERT INTO delivery_queue(id, inbox_uri, activity_json, attempts, next_retry_at, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	sqlSelectPendingDeliveries = `SELECT id, inbox_uri, activity_json, attempts, next_retry_at, created_at FROM delivery_queue WHERE next_retry_at <= ? ORDER BY created_at ASC LIMIT ?`
	sqlUpdateDeliveryAttempt   = `UPDATE delivery_queue SET attempts = ?, next_retry_at = ? WHERE id = ?`
	sqlDeleteDelivery          = `DELETE FROM delivery_queue WHERE id = ?`
)

func (db *DB) EnqueueDelivery(item *domain.DeliveryQueueItem) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertDeliveryQueue,
			item.Id.String(),
			item.InboxURI,
			item.ActivityJSON,
			item.Attempts,
			item.NextRetryAt,
			item.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadPendingDeliveries(limit int) (error, *[]domain.DeliveryQueueItem) {
	rows, err := db.db.Query(sqlSelectPendingDeliveries, time.Now(), limit)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var items []domain.DeliveryQueueItem
	for rows.Next() {
		var item domain.DeliveryQueueItem
		var idStr string
		if err := rows.Scan(&idStr, &item.InboxURI, &item.ActivityJSON, &item.Attempts, &item.NextRetryAt, &item.CreatedAt); err != nil {
			return err, &items
		}
		item.Id, _ = uuid.Parse(idStr)
		items = append(items, item)
	}
	if err = rows.Err(); err != nil {
		return err, &items
	}
	return nil, &items
}

func (db *DB) UpdateDeliveryAttempt(id uuid.UUID, attempts int, nextRetry time.Time) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateDeliveryAttempt, attempts, nextRetry, id.String())
		return err
	})
}

func (db *DB) DeleteDelivery(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteDelivery, id.String())
		return err
	})
}
