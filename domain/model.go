package domain

import (
	"github.com/google/uuid"
	"time"
)

// Verbs with server-side effects. Other verbs are stored as-is.
const (
	VerbPost   = "post"
	VerbFollow = "follow"
)

// Actor is a self-sovereign identity known to this server. Actors are never
// created by server fiat, a row is materialized the first time its DID shows
// up as author or addressee.
type Actor struct {
	DID       string
	Name      string
	CreatedAt time.Time
}

// Object is an immutable unit of content, identified by its content address.
type Object struct {
	CID        string
	Type       string
	Content    string // canonical JSON payload
	CreatorDID string
	CreatedAt  time.Time
}

// Activity is a signed envelope wrapping a verb applied to an object. The
// CID is derived from the canonical envelope (signature included, id
// excluded), so resubmitting the same signed activity maps to the same row.
type Activity struct {
	CID        string
	Verb       string
	ActorDID   string
	ObjectRef  string // object CID for posts, target DID for follows
	Addressing []string
	Published  time.Time
	Signature  string
	RawJSON    string
	CreatedAt  time.Time
	ReceivedAt time.Time // set on inbox reads, zero elsewhere
}

// InboxEntry is a denormalized fan-out row: one per recipient per activity.
type InboxEntry struct {
	Id           uuid.UUID
	RecipientDID string
	ActivityCID  string
	ReceivedAt   time.Time
}

// Follow records that FollowerDID follows FolloweeDID, backing the
// followers audience collection. The storage row id is minted on insert.
type Follow struct {
	FollowerDID string
	FolloweeDID string
	CreatedAt   time.Time
}

// Page is one cursor-delimited slice of an inbox or outbox. NextCursor is
// empty on the last page.
type Page struct {
	Activities []Activity
	NextCursor string
}
