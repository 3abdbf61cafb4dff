package db

import (
	"database/sql"
	"log"
)

const (
	sqlCreateAccountsTable = `CREATE TABLE IF NOT EXISTS accounts (
		id TEXT NOT NULL PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		display_name TEXT DEFAULT '',
		summary TEXT DEFAULT '',
		avatar_url TEXT DEFAULT '',
		header_url TEXT DEFAULT '',
		display_color TEXT DEFAULT '',
		auto_accept INTEGER DEFAULT 1,
		web_public_key TEXT DEFAULT '',
		web_private_key TEXT DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	// Remote actor cache
	sqlCreateRemoteAccountsTable = `CREATE TABLE IF NOT EXISTS remote_accounts (
		id TEXT NOT NULL PRIMARY KEY,
		username TEXT NOT NULL,
		domain TEXT NOT NULL,
		actor_uri TEXT UNIQUE NOT NULL,
		display_name TEXT DEFAULT '',
		summary TEXT DEFAULT '',
		inbox_uri TEXT NOT NULL,
		shared_inbox_uri TEXT DEFAULT '',
		outbox_uri TEXT DEFAULT '',
		followers_uri TEXT DEFAULT '',
		public_key_pem TEXT DEFAULT '',
		avatar_url TEXT DEFAULT '',
		header_url TEXT DEFAULT '',
		last_fetched_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateRemoteAccountsIndices = `
		CREATE INDEX IF NOT EXISTS idx_remote_accounts_domain ON remote_accounts(domain);
	`

	// Remote actors following local accounts
	sqlCreateFollowersTable = `CREATE TABLE IF NOT EXISTS followers (
		id TEXT NOT NULL PRIMARY KEY,
		account_id TEXT NOT NULL,
		actor_uri TEXT NOT NULL,
		username TEXT DEFAULT '',
		inbox_uri TEXT DEFAULT '',
		shared_inbox_uri TEXT DEFAULT '',
		status TEXT NOT NULL DEFAULT 'PENDING',
		uri TEXT DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(account_id, actor_uri)
	)`

	sqlCreateFollowersIndices = `
		CREATE INDEX IF NOT EXISTS idx_followers_account_id ON followers(account_id);
		CREATE INDEX IF NOT EXISTS idx_followers_actor_uri ON followers(actor_uri);
	`

	// Local accounts following remote actors
	sqlCreateFollowingTable = `CREATE TABLE IF NOT EXISTS following (
		id TEXT NOT NULL PRIMARY KEY,
		account_id TEXT NOT NULL,
		actor_uri TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'PENDING',
		uri TEXT DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(account_id, actor_uri)
	)`

	sqlCreateFollowingIndices = `
		CREATE INDEX IF NOT EXISTS idx_following_account_id ON following(account_id);
	`

	// Events, local or mirrored from remote instances
	sqlCreateEventsTable = `CREATE TABLE IF NOT EXISTS events (
		id TEXT NOT NULL PRIMARY KEY,
		external_uri TEXT UNIQUE,
		title TEXT DEFAULT '',
		summary TEXT DEFAULT '',
		location TEXT DEFAULT '',
		start_time TIMESTAMP NOT NULL,
		end_time TIMESTAMP,
		event_status TEXT DEFAULT '',
		attributed_to TEXT DEFAULT '',
		header_url TEXT DEFAULT '',
		user_id TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateEventsIndices = `
		CREATE INDEX IF NOT EXISTS idx_events_start_time ON events(start_time);
		CREATE INDEX IF NOT EXISTS idx_events_user_id ON events(user_id);
	`

	sqlCreateCommentsTable = `CREATE TABLE IF NOT EXISTS comments (
		id TEXT NOT NULL PRIMARY KEY,
		external_uri TEXT UNIQUE,
		content TEXT DEFAULT '',
		event_id TEXT NOT NULL,
		author_id TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateCommentsIndices = `
		CREATE INDEX IF NOT EXISTS idx_comments_event_id ON comments(event_id);
	`

	sqlCreateEventLikesTable = `CREATE TABLE IF NOT EXISTS event_likes (
		id TEXT NOT NULL PRIMARY KEY,
		event_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		uri TEXT DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(event_id, account_id)
	)`

	sqlCreateEventLikesIndices = `
		CREATE INDEX IF NOT EXISTS idx_event_likes_event_id ON event_likes(event_id);
	`

	sqlCreateEventAttendanceTable = `CREATE TABLE IF NOT EXISTS event_attendance (
		id TEXT NOT NULL PRIMARY KEY,
		event_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		status TEXT NOT NULL,
		uri TEXT DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(event_id, account_id)
	)`

	sqlCreateEventAttendanceIndices = `
		CREATE INDEX IF NOT EXISTS idx_event_attendance_event_id ON event_attendance(event_id);
	`

	// Idempotency ledger. The UNIQUE activity_uri is what turns
	// at-least-once delivery into effectively-once processing.
	sqlCreateProcessedActivitiesTable = `CREATE TABLE IF NOT EXISTS processed_activities (
		id TEXT NOT NULL PRIMARY KEY,
		activity_uri TEXT UNIQUE NOT NULL,
		activity_type TEXT NOT NULL,
		actor_uri TEXT DEFAULT '',
		expires_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateProcessedActivitiesIndices = `
		CREATE INDEX IF NOT EXISTS idx_processed_activities_expires_at ON processed_activities(expires_at);
	`

	sqlCreateDeliveryQueueTable = `CREATE TABLE IF NOT EXISTS delivery_queue (
		id TEXT NOT NULL PRIMARY KEY,
		inbox_uri TEXT NOT NULL,
		activity_json TEXT NOT NULL,
		attempts INTEGER DEFAULT 0,
		next_retry_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateDeliveryQueueIndices = `
		CREATE INDEX IF NOT EXISTS idx_delivery_queue_next_retry ON delivery_queue(next_retry_at);
	`
)

// RunMigrations executes all database migrations
func (db *DB) RunMigrations() error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		tables := []struct {
			name string
			ddl  string
		}{
			{"accounts", sqlCreateAccountsTable},
			{"remote_accounts", sqlCreateRemoteAccountsTable},
			{"followers", sqlCreateFollowersTable},
			{"following", sqlCreateFollowingTable},
			{"events", sqlCreateEventsTable},
			{"comments", sqlCreateCommentsTable},
			{"event_likes", sqlCreateEventLikesTable},
			{"event_attendance", sqlCreateEventAttendanceTable},
			{"processed_activities", sqlCreateProcessedActivitiesTable},
			{"delivery_queue", sqlCreateDeliveryQueueTable},
		}
		for _, table := range tables {
			if err := db.createTableIfNotExists(tx, table.ddl, table.name); err != nil {
				return err
			}
		}

		indices := []string{
			sqlCreateRemoteAccountsIndices,
			sqlCreateFollowersIndices,
			sqlCreateFollowingIndices,
			sqlCreateEventsIndices,
			sqlCreateCommentsIndices,
			sqlCreateEventLikesIndices,
			sqlCreateEventAttendanceIndices,
			sqlCreateProcessedActivitiesIndices,
			sqlCreateDeliveryQueueIndices,
		}
		for _, ddl := range indices {
			if _, err := tx.Exec(ddl); err != nil {
				log.Printf("Warning: Failed to create indices: %v", err)
			}
		}

		return nil
	})
}

func (db *DB) createTableIfNotExists(tx *sql.Tx, createSQL string, tableName string) error {
	_, err := tx.Exec(createSQL)
	if err != nil {
		log.Printf("Error creating table %s: %v", tableName, err)
		return err
	}
	return nil
}
