package db

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/deemkeen/chatterpub/domain"
)

const (
	sqlInsertActivity = `INSERT OR IGNORE INTO activities(cid, verb, actor_did, object_ref, addressing, published, signature, raw_json, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlInsertInboxEntry = `INSERT OR IGNORE INTO inbox_entries(id, recipient_did, activity_cid, received_at) VALUES (?, ?, ?, ?)`

	sqlInsertFollow = `INSERT OR IGNORE INTO follows(id, follower_did, followee_did, created_at) VALUES (?, ?, ?, ?)`

	sqlSelectActivityByCID = `SELECT cid, verb, actor_did, object_ref, addressing, published, signature, raw_json, created_at FROM activities WHERE cid = ?`

	sqlSelectFollowersByFollowee = `SELECT follower_did FROM follows WHERE followee_did = ? ORDER BY follower_did`

	sqlSelectInboxFirst = `SELECT a.cid, a.verb, a.actor_did, a.object_ref, a.addressing, a.published, a.signature, a.raw_json, a.created_at, e.received_at
		FROM inbox_entries e INNER JOIN activities a ON a.cid = e.activity_cid
		WHERE e.recipient_did = ?
		ORDER BY e.received_at DESC, e.activity_cid DESC
		LIMIT ?`

	sqlSelectInboxAfter = `SELECT a.cid, a.verb, a.actor_did, a.object_ref, a.addressing, a.published, a.signature, a.raw_json, a.created_at, e.received_at
		FROM inbox_entries e INNER JOIN activities a ON a.cid = e.activity_cid
		WHERE e.recipient_did = ?
		AND (e.received_at < ? OR (e.received_at = ? AND e.activity_cid < ?))
		ORDER BY e.received_at DESC, e.activity_cid DESC
		LIMIT ?`

	sqlSelectOutboxFirst = `SELECT cid, verb, actor_did, object_ref, addressing, published, signature, raw_json, created_at
		FROM activities
		WHERE actor_did = ?
		ORDER BY published DESC, cid DESC
		LIMIT ?`

	sqlSelectOutboxAfter = `SELECT cid, verb, actor_did, object_ref, addressing, published, signature, raw_json, created_at
		FROM activities
		WHERE actor_did = ?
		AND (published < ? OR (published = ? AND cid < ?))
		ORDER BY published DESC, cid DESC
		LIMIT ?`
)

func (db *DB) ReadActivityByCID(cid string) (error, *domain.Activity) {
	row := db.db.QueryRow(sqlSelectActivityByCID, cid)
	activity, err := scanActivity(row.Scan, false)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	return nil, activity
}

func (db *DB) HasActivity(cid string) (error, bool) {
	err, activity := db.ReadActivityByCID(cid)
	if err == sql.ErrNoRows {
		return nil, false
	}
	if err != nil {
		return err, false
	}
	return nil, activity != nil
}

// ReadFollowersByDID returns the DIDs currently following the given actor,
// read at call time so audience expansion never sees stale membership.
func (db *DB) ReadFollowersByDID(followee string) (error, []string) {
	rows, err := db.db.Query(sqlSelectFollowersByFollowee, followee)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var followers []string
	for rows.Next() {
		var did string
		if err := rows.Scan(&did); err != nil {
			return err, followers
		}
		followers = append(followers, did)
	}
	if err = rows.Err(); err != nil {
		return err, followers
	}
	return nil, followers
}

// ReadInbox returns one page of activities delivered to the actor, newest
// first, keyset-paginated on (received_at, activity cid).
func (db *DB) ReadInbox(recipientDID string, cursor string, limit int) (error, *domain.Page) {
	var rows *sql.Rows
	var err error
	if cursor == "" {
		rows, err = db.db.Query(sqlSelectInboxFirst, recipientDID, limit+1)
	} else {
		after, afterCid, decodeErr := DecodeCursor(cursor)
		if decodeErr != nil {
			return decodeErr, nil
		}
		millis := after.UnixMilli()
		rows, err = db.db.Query(sqlSelectInboxAfter, recipientDID, millis, millis, afterCid, limit+1)
	}
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var activities []domain.Activity
	for rows.Next() {
		activity, err := scanActivity(rows.Scan, true)
		if err != nil {
			return err, nil
		}
		activities = append(activities, *activity)
	}
	if err = rows.Err(); err != nil {
		return err, nil
	}

	page := &domain.Page{Activities: activities}
	if len(activities) > limit {
		page.Activities = activities[:limit]
		last := page.Activities[limit-1]
		page.NextCursor = EncodeCursor(last.ReceivedAt, last.CID)
	}
	return nil, page
}

// ReadOutbox returns one page of activities authored by the actor, newest
// first, keyset-paginated on (published, cid).
func (db *DB) ReadOutbox(actorDID string, cursor string, limit int) (error, *domain.Page) {
	var rows *sql.Rows
	var err error
	if cursor == "" {
		rows, err = db.db.Query(sqlSelectOutboxFirst, actorDID, limit+1)
	} else {
		after, afterCid, decodeErr := DecodeCursor(cursor)
		if decodeErr != nil {
			return decodeErr, nil
		}
		millis := after.UnixMilli()
		rows, err = db.db.Query(sqlSelectOutboxAfter, actorDID, millis, millis, afterCid, limit+1)
	}
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var activities []domain.Activity
	for rows.Next() {
		activity, err := scanActivity(rows.Scan, false)
		if err != nil {
			return err, nil
		}
		activities = append(activities, *activity)
	}
	if err = rows.Err(); err != nil {
		return err, nil
	}

	page := &domain.Page{Activities: activities}
	if len(activities) > limit {
		page.Activities = activities[:limit]
		last := page.Activities[limit-1]
		page.NextCursor = EncodeCursor(last.Published, last.CID)
	}
	return nil, page
}

func scanActivity(scan func(...any) error, withReceived bool) (*domain.Activity, error) {
	var activity domain.Activity
	var addressing string
	var published int64
	var received int64

	dest := []any{
		&activity.CID,
		&activity.Verb,
		&activity.ActorDID,
		&activity.ObjectRef,
		&addressing,
		&published,
		&activity.Signature,
		&activity.RawJSON,
		&activity.CreatedAt,
	}
	if withReceived {
		dest = append(dest, &received)
	}
	if err := scan(dest...); err != nil {
		return nil, err
	}

	activity.Published = time.UnixMilli(published)
	if withReceived {
		activity.ReceivedAt = time.UnixMilli(received)
	}
	if err := json.Unmarshal([]byte(addressing), &activity.Addressing); err != nil {
		return nil, err
	}
	return &activity, nil
}
