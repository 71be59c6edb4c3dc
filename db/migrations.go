package db

import (
	"database/sql"
	"log"
)

const (
	// Activity envelopes, keyed by content address
	sqlCreateActivitiesTable = `CREATE TABLE IF NOT EXISTS activities (
		cid TEXT NOT NULL PRIMARY KEY,
		verb TEXT NOT NULL,
		actor_did TEXT NOT NULL,
		object_ref TEXT,
		addressing TEXT NOT NULL,
		published INTEGER NOT NULL,
		signature TEXT NOT NULL,
		raw_json TEXT NOT NULL,
		created_at timestamp default current_timestamp
	)`

	sqlCreateActivitiesIndices = `
		CREATE INDEX IF NOT EXISTS idx_activities_actor ON activities(actor_did, published DESC, cid DESC);
		CREATE INDEX IF NOT EXISTS idx_activities_object_ref ON activities(object_ref);
	`

	// Inbox fan-out rows, one per recipient per activity
	sqlCreateInboxEntriesTable = `CREATE TABLE IF NOT EXISTS inbox_entries (
		id TEXT NOT NULL PRIMARY KEY,
		recipient_did TEXT NOT NULL,
		activity_cid TEXT NOT NULL,
		received_at INTEGER NOT NULL,
		UNIQUE(recipient_did, activity_cid)
	)`

	sqlCreateInboxEntriesIndices = `
		CREATE INDEX IF NOT EXISTS idx_inbox_recipient ON inbox_entries(recipient_did, received_at DESC, activity_cid DESC);
	`

	// Follow edges backing the followers audience collection
	sqlCreateFollowsTable = `CREATE TABLE IF NOT EXISTS follows (
		id TEXT NOT NULL PRIMARY KEY,
		follower_did TEXT NOT NULL,
		followee_did TEXT NOT NULL,
		created_at timestamp default current_timestamp,
		UNIQUE(follower_did, followee_did)
	)`

	sqlCreateFollowsIndices = `
		CREATE INDEX IF NOT EXISTS idx_follows_followee ON follows(followee_did);
		CREATE INDEX IF NOT EXISTS idx_follows_follower ON follows(follower_did);
	`
)

// RunMigrations executes all database migrations
func (db *DB) RunMigrations() error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		if err := db.createTableIfNotExists(tx, sqlCreateActivitiesTable, "activities"); err != nil {
			return err
		}
		if err := db.createTableIfNotExists(tx, sqlCreateInboxEntriesTable, "inbox_entries"); err != nil {
			return err
		}
		if err := db.createTableIfNotExists(tx, sqlCreateFollowsTable, "follows"); err != nil {
			return err
		}

		if _, err := tx.Exec(sqlCreateActivitiesIndices); err != nil {
			log.Printf("Warning: Failed to create activities indices: %v", err)
		}
		if _, err := tx.Exec(sqlCreateInboxEntriesIndices); err != nil {
			log.Printf("Warning: Failed to create inbox_entries indices: %v", err)
		}
		if _, err := tx.Exec(sqlCreateFollowsIndices); err != nil {
			log.Printf("Warning: Failed to create follows indices: %v", err)
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
