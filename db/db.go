package db

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/deemkeen/chatterpub/domain"
	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// DB is the database struct. It exclusively owns all durable rows; every
// mutation goes through its transactional interface.
type DB struct {
	db *sql.DB
}

const (
	//Actors
	sqlCreateActorsTable = `CREATE TABLE IF NOT EXISTS actors(
                        did varchar(500) NOT NULL PRIMARY KEY,
                        name varchar(100),
                        created_at timestamp default current_timestamp
                        )`
	sqlInsertActor      = `INSERT OR IGNORE INTO actors(did, created_at) VALUES (?, ?)`
	sqlSelectActorByDID = `SELECT did, COALESCE(name, ''), created_at FROM actors WHERE did = ?`

	//Objects
	sqlCreateObjectsTable = `CREATE TABLE IF NOT EXISTS objects(
                        cid varchar(500) NOT NULL PRIMARY KEY,
                        object_type varchar(100) NOT NULL,
                        content text NOT NULL,
                        creator_did varchar(500) NOT NULL,
                        created_at timestamp default current_timestamp
                        )`
	sqlInsertObject      = `INSERT OR IGNORE INTO objects(cid, object_type, content, creator_did, created_at) VALUES (?, ?, ?, ?, ?)`
	sqlSelectObjectByCID = `SELECT cid, object_type, content, creator_did, created_at FROM objects WHERE cid = ?`
)

// Open opens the database at path and configures the connection pool for a
// concurrent ingestion workload.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if strings.Contains(path, ":memory:") {
		// every pool connection would get its own in-memory database
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	var journalMode string
	if err := sqlDB.QueryRow("PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
		log.Printf("Warning: Failed to enable WAL mode: %v", err)
	} else {
		log.Printf("Database journal mode: %s", journalMode)
	}

	sqlDB.Exec("PRAGMA synchronous = NORMAL")
	sqlDB.Exec("PRAGMA cache_size = -64000")
	sqlDB.Exec("PRAGMA temp_store = MEMORY")
	sqlDB.Exec("PRAGMA busy_timeout = 5000")
	sqlDB.Exec("PRAGMA foreign_keys = ON")

	database := &DB{db: sqlDB}
	if err := database.CreateDB(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return database, nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

// CreateDB creates the base tables.
func (db *DB) CreateDB() error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(sqlCreateActorsTable); err != nil {
			return err
		}
		if _, err := tx.Exec(sqlCreateObjectsTable); err != nil {
			return err
		}
		return nil
	})
}

// Ingestion is the durable state produced by one accepted activity: the
// object (when embedded), the activity envelope, its resolved audience and
// any follow edges it expressed. It becomes visible atomically.
type Ingestion struct {
	Object     *domain.Object
	Activity   domain.Activity
	Recipients []string
	Follows    []domain.Follow
	ReceivedAt time.Time
}

// StoreIngestion writes an accepted activity in a single transaction:
// actors are materialized lazily, object and activity rows are
// insert-if-absent by content address, and one inbox row lands per
// recipient. A failed write rolls everything back.
func (db *DB) StoreIngestion(ing *Ingestion) error {
	addressing, err := json.Marshal(ing.Activity.Addressing)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistenceFailed, err)
	}

	err = db.wrapTransaction(func(tx *sql.Tx) error {
		now := time.Now()

		if err := insertActor(tx, ing.Activity.ActorDID, now); err != nil {
			return err
		}
		for _, recipient := range ing.Recipients {
			if err := insertActor(tx, recipient, now); err != nil {
				return err
			}
		}
		for _, follow := range ing.Follows {
			if err := insertActor(tx, follow.FolloweeDID, now); err != nil {
				return err
			}
		}

		if ing.Object != nil {
			if _, err := tx.Exec(sqlInsertObject,
				ing.Object.CID,
				ing.Object.Type,
				ing.Object.Content,
				ing.Object.CreatorDID,
				now,
			); err != nil {
				return err
			}
		}

		res, err := tx.Exec(sqlInsertActivity,
			ing.Activity.CID,
			ing.Activity.Verb,
			ing.Activity.ActorDID,
			ing.Activity.ObjectRef,
			string(addressing),
			ing.Activity.Published.UnixMilli(),
			ing.Activity.Signature,
			ing.Activity.RawJSON,
			now,
		)
		if err != nil {
			return err
		}
		inserted, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if inserted == 0 {
			// resubmission of an already stored activity, nothing to fan out
			return nil
		}

		for _, recipient := range ing.Recipients {
			entry := domain.InboxEntry{
				Id:           uuid.New(),
				RecipientDID: recipient,
				ActivityCID:  ing.Activity.CID,
				ReceivedAt:   ing.ReceivedAt,
			}
			if _, err := tx.Exec(sqlInsertInboxEntry,
				entry.Id.String(),
				entry.RecipientDID,
				entry.ActivityCID,
				entry.ReceivedAt.UnixMilli(),
			); err != nil {
				return err
			}
		}

		for _, follow := range ing.Follows {
			if _, err := tx.Exec(sqlInsertFollow,
				uuid.New().String(),
				follow.FollowerDID,
				follow.FolloweeDID,
				now,
			); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistenceFailed, err)
	}
	return nil
}

func insertActor(tx *sql.Tx, did string, now time.Time) error {
	_, err := tx.Exec(sqlInsertActor, did, now)
	return err
}

func (db *DB) ReadActorByDID(did string) (error, *domain.Actor) {
	row := db.db.QueryRow(sqlSelectActorByDID, did)
	var actor domain.Actor
	err := row.Scan(&actor.DID, &actor.Name, &actor.CreatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	return nil, &actor
}

func (db *DB) ReadObjectByCID(cid string) (error, *domain.Object) {
	row := db.db.QueryRow(sqlSelectObjectByCID, cid)
	var object domain.Object
	err := row.Scan(&object.CID, &object.Type, &object.Content, &object.CreatorDID, &object.CreatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	return nil, &object
}

// EncodeCursor builds the opaque page token for keyset pagination: the
// millisecond timestamp plus the activity address as tie-break.
func EncodeCursor(t time.Time, cid string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.FormatInt(t.UnixMilli(), 10) + "|" + cid))
}

// DecodeCursor parses a page token produced by EncodeCursor.
func DecodeCursor(cursor string) (time.Time, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("malformed cursor: %w", err)
	}
	millis, cid, found := strings.Cut(string(raw), "|")
	if !found {
		return time.Time{}, "", fmt.Errorf("malformed cursor")
	}
	ms, err := strconv.ParseInt(millis, 10, 64)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("malformed cursor: %w", err)
	}
	return time.UnixMilli(ms), cid, nil
}

// wrapTransaction runs the given function within a transaction.
func (db *DB) wrapTransaction(f func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		log.Printf("error starting transaction: %s", err)
		return err
	}
	for {
		err = f(tx)
		if err != nil {
			serr, ok := err.(*sqlite.Error)
			if ok && serr.Code() == sqlitelib.SQLITE_BUSY {
				continue
			}
			tx.Rollback()
			log.Printf("error in transaction: %s", err)
			return err
		}
		err = tx.Commit()
		if err != nil {
			log.Printf("error committing transaction: %s", err)
			return err
		}
		break
	}
	return nil
}
