package activitypub

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/deemkeen/chatterpub/canonical"
	"github.com/deemkeen/chatterpub/db"
	"github.com/deemkeen/chatterpub/domain"
	"github.com/deemkeen/chatterpub/identity"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Submission is an inbound activity: the signed envelope plus an optional
// embedded object payload.
type Submission struct {
	Activity map[string]any `json:"activity"`
	Object   map[string]any `json:"object,omitempty"`
}

// Engine orchestrates ingestion (encode, verify address, verify identity,
// resolve audience, persist) and the paginated inbox/outbox reads. It is
// safe for concurrent use.
type Engine struct {
	db       *db.DB
	verifier *identity.Verifier
	audience *AudienceResolver
}

func NewEngine(database *db.DB, verifier *identity.Verifier) *Engine {
	return &Engine{
		db:       database,
		verifier: verifier,
		audience: NewAudienceResolver(database),
	}
}

// parsed fields of a submitted envelope
type envelope struct {
	id         string
	verb       string
	actor      string
	objectRef  string
	addressing []string
	published  time.Time
	signature  string
}

// Ingest runs a submission through every gate and persists it atomically.
// It returns the activity's content address on success. Rejections carry
// one of the taxonomy errors; none of them leave partial state behind.
func (e *Engine) Ingest(ctx context.Context, sub Submission) (string, error) {
	env, err := parseEnvelope(sub.Activity)
	if err != nil {
		return "", err
	}

	// Received -> Encoded
	signingBytes, err := canonical.MarshalForSigning(sub.Activity)
	if err != nil {
		return "", err
	}
	var objectBytes []byte
	if sub.Object != nil {
		objectBytes, err = canonical.Marshal(sub.Object)
		if err != nil {
			return "", err
		}
	}

	// Encoded -> AddressVerified
	object, err := e.verifyObjectAddress(&env, sub.Object, objectBytes)
	if err != nil {
		return "", err
	}
	addressingBytes, err := canonical.MarshalForAddressing(sub.Activity)
	if err != nil {
		return "", err
	}
	activityCID := canonical.ComputeAddress(addressingBytes)
	if env.id != "" && env.id != activityCID {
		return "", fmt.Errorf("%w: claimed activity id %s, computed %s", domain.ErrAddressMismatch, env.id, activityCID)
	}

	// AddressVerified -> IdentityVerified
	if err := e.verifier.Verify(ctx, env.actor, signingBytes, env.signature); err != nil {
		return "", err
	}

	// IdentityVerified -> AudienceResolved. Resolution never fails the
	// activity; an empty audience is still accepted.
	recipients := e.audience.Resolve(env.addressing)

	var follows []domain.Follow
	if env.verb == domain.VerbFollow {
		follows = append(follows, domain.Follow{
			FollowerDID: env.actor,
			FolloweeDID: env.objectRef,
		})
	}

	raw, err := rawWithId(sub.Activity, activityCID)
	if err != nil {
		return "", err
	}

	// AudienceResolved -> Persisted
	ingestion := &db.Ingestion{
		Object: object,
		Activity: domain.Activity{
			CID:        activityCID,
			Verb:       env.verb,
			ActorDID:   env.actor,
			ObjectRef:  env.objectRef,
			Addressing: env.addressing,
			Published:  env.published,
			Signature:  env.signature,
			RawJSON:    raw,
		},
		Recipients: recipients,
		Follows:    follows,
		ReceivedAt: time.Now(),
	}
	if err := e.db.StoreIngestion(ingestion); err != nil {
		return "", err
	}

	log.Printf("Ingest: accepted %s activity %s from %s (%d recipients)", env.verb, activityCID, env.actor, len(recipients))
	return activityCID, nil
}

// verifyObjectAddress applies the object-side address gate and returns the
// object row to store, nil when the activity only references a known
// object or targets an actor.
func (e *Engine) verifyObjectAddress(env *envelope, payload map[string]any, objectBytes []byte) (*domain.Object, error) {
	if env.verb == domain.VerbFollow {
		if payload != nil {
			return nil, fmt.Errorf("%w: follow activities carry no object payload", domain.ErrInvalidActivity)
		}
		if !identity.ValidDID(env.objectRef) {
			return nil, fmt.Errorf("%w: follow target %q is not a DID", domain.ErrInvalidActivity, env.objectRef)
		}
		return nil, nil
	}

	if payload == nil {
		if env.objectRef == "" {
			return nil, fmt.Errorf("%w: activity names no object", domain.ErrInvalidActivity)
		}
		if !canonical.ValidAddress(env.objectRef) && !identity.ValidDID(env.objectRef) {
			return nil, fmt.Errorf("%w: object reference %q is not an address", domain.ErrInvalidActivity, env.objectRef)
		}
		return nil, nil
	}

	if env.objectRef != "" {
		// client supplied the object's address, verify it
		if !canonical.VerifyAddress(env.objectRef, objectBytes) {
			return nil, fmt.Errorf("%w: object address %s does not match payload", domain.ErrAddressMismatch, env.objectRef)
		}
	} else {
		env.objectRef = canonical.ComputeAddress(objectBytes)
	}

	objectType := "object"
	if t, ok := payload["type"].(string); ok && t != "" {
		objectType = t
	}
	return &domain.Object{
		CID:        env.objectRef,
		Type:       objectType,
		Content:    string(objectBytes),
		CreatorDID: env.actor,
	}, nil
}

// GetInbox returns one page of the actor's received activities, newest
// first. An unknown actor yields an empty page, a malformed or exhausted
// cursor is NotFound.
func (e *Engine) GetInbox(actorDID string, cursor string, limit int) (*domain.Page, error) {
	err, page := e.db.ReadInbox(actorDID, cursor, clampLimit(limit))
	return page, readErr(err, cursor)
}

// GetOutbox returns one page of the actor's authored activities, newest
// first.
func (e *Engine) GetOutbox(actorDID string, cursor string, limit int) (*domain.Page, error) {
	err, page := e.db.ReadOutbox(actorDID, cursor, clampLimit(limit))
	return page, readErr(err, cursor)
}

// GetObject returns a stored object by content address.
func (e *Engine) GetObject(cid string) (*domain.Object, error) {
	err, object := e.db.ReadObjectByCID(cid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: object %s", domain.ErrNotFound, cid)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistenceFailed, err)
	}
	return object, nil
}

// GetActivity returns a stored activity by content address.
func (e *Engine) GetActivity(cid string) (*domain.Activity, error) {
	err, activity := e.db.ReadActivityByCID(cid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: activity %s", domain.ErrNotFound, cid)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistenceFailed, err)
	}
	return activity, nil
}

// GetActor returns an actor record, NotFound when the DID was never seen.
func (e *Engine) GetActor(did string) (*domain.Actor, error) {
	err, actor := e.db.ReadActorByDID(did)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: actor %s", domain.ErrNotFound, did)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistenceFailed, err)
	}
	return actor, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}

func readErr(err error, cursor string) error {
	if err == nil {
		return nil
	}
	if cursor != "" {
		// a cursor that fails to decode names an unknown page
		if _, _, decodeErr := db.DecodeCursor(cursor); decodeErr != nil {
			return fmt.Errorf("%w: %v", domain.ErrNotFound, decodeErr)
		}
	}
	return fmt.Errorf("%w: %v", domain.ErrPersistenceFailed, err)
}

func parseEnvelope(activity map[string]any) (envelope, error) {
	var env envelope
	if activity == nil {
		return env, fmt.Errorf("%w: missing activity", domain.ErrInvalidActivity)
	}

	env.id, _ = activity[canonical.FieldId].(string)
	env.verb, _ = activity["verb"].(string)
	env.actor, _ = activity["actor"].(string)
	env.objectRef, _ = activity["object"].(string)
	env.signature, _ = activity[canonical.FieldSignature].(string)

	if env.verb == "" {
		return env, fmt.Errorf("%w: missing verb", domain.ErrInvalidActivity)
	}
	if !identity.ValidDID(env.actor) {
		return env, fmt.Errorf("%w: actor %q is not a valid DID", domain.ErrInvalidActivity, env.actor)
	}
	if env.signature == "" {
		return env, fmt.Errorf("%w: missing signature", domain.ErrInvalidActivity)
	}

	published, _ := activity["published"].(string)
	if published == "" {
		return env, fmt.Errorf("%w: missing published timestamp", domain.ErrInvalidActivity)
	}
	ts, err := time.Parse(time.RFC3339Nano, published)
	if err != nil {
		return env, fmt.Errorf("%w: bad published timestamp: %v", domain.ErrInvalidActivity, err)
	}
	env.published = ts.Truncate(time.Millisecond)

	if rawAddressing, ok := activity["addressing"]; ok {
		entries, ok := rawAddressing.([]any)
		if !ok {
			strs, ok := rawAddressing.([]string)
			if !ok {
				return env, fmt.Errorf("%w: addressing is not a list", domain.ErrInvalidActivity)
			}
			env.addressing = strs
		} else {
			for _, entry := range entries {
				s, ok := entry.(string)
				if !ok {
					return env, fmt.Errorf("%w: addressing entry is not a string", domain.ErrInvalidActivity)
				}
				env.addressing = append(env.addressing, s)
			}
		}
	}

	return env, nil
}

func rawWithId(activity map[string]any, id string) (string, error) {
	full := make(map[string]any, len(activity)+1)
	for k, v := range activity {
		full[k] = v
	}
	full[canonical.FieldId] = id
	raw, err := canonical.Marshal(full)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
