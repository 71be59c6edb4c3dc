package activitypub

import (
	"context"
	"crypto/ed25519"
	"errors"
	"testing"
	"time"

	"github.com/deemkeen/chatterpub/canonical"
	"github.com/deemkeen/chatterpub/db"
	"github.com/deemkeen/chatterpub/domain"
	"github.com/deemkeen/chatterpub/identity"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	database, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	if err := database.RunMigrations(); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	verifier := identity.NewVerifier(identity.NewRegistry(identity.DIDKeyResolver{}), 0, 0)
	return NewEngine(database, verifier)
}

func newActor(t *testing.T) (string, ed25519.PrivateKey) {
	t.Helper()
	did, priv, err := identity.GenerateKeyPair()
	if err != nil {
		t.Fatalf("Failed to generate key pair: %v", err)
	}
	return did, priv
}

// signActivity signs the envelope in place and returns it. The signature
// covers everything except the signature and id fields.
func signActivity(t *testing.T, priv ed25519.PrivateKey, activity map[string]any) map[string]any {
	t.Helper()
	signingBytes, err := canonical.MarshalForSigning(activity)
	if err != nil {
		t.Fatalf("Failed to build signing bytes: %v", err)
	}
	activity[canonical.FieldSignature] = identity.Sign(priv, signingBytes)
	return activity
}

func postSubmission(t *testing.T, actor string, priv ed25519.PrivateKey, content string, addressing []any) Submission {
	t.Helper()
	activity := map[string]any{
		"verb":      domain.VerbPost,
		"actor":     actor,
		"published": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if addressing != nil {
		activity["addressing"] = addressing
	}
	return Submission{
		Activity: signActivity(t, priv, activity),
		Object:   map[string]any{"type": "note", "content": content},
	}
}

func followSubmission(t *testing.T, follower string, priv ed25519.PrivateKey, followee string) Submission {
	t.Helper()
	activity := map[string]any{
		"verb":       domain.VerbFollow,
		"actor":      follower,
		"object":     followee,
		"published":  time.Now().UTC().Format(time.RFC3339Nano),
		"addressing": []any{followee},
	}
	return Submission{Activity: signActivity(t, priv, activity)}
}

func TestIngestDeliversToFollowers(t *testing.T) {
	engine := newTestEngine(t)
	author, authorPriv := newActor(t)
	follower, followerPriv := newActor(t)
	stranger, _ := newActor(t)

	if _, err := engine.Ingest(context.Background(), followSubmission(t, follower, followerPriv, author)); err != nil {
		t.Fatalf("Follow ingestion failed: %v", err)
	}

	id, err := engine.Ingest(context.Background(),
		postSubmission(t, author, authorPriv, "hello followers", []any{author + FollowersSuffix}))
	if err != nil {
		t.Fatalf("Post ingestion failed: %v", err)
	}

	outbox, err := engine.GetOutbox(author, "", 10)
	if err != nil {
		t.Fatalf("GetOutbox failed: %v", err)
	}
	if len(outbox.Activities) != 1 || outbox.Activities[0].CID != id {
		t.Errorf("Expected the post in the author's outbox, got %+v", outbox.Activities)
	}

	inbox, err := engine.GetInbox(follower, "", 10)
	if err != nil {
		t.Fatalf("GetInbox failed: %v", err)
	}
	if len(inbox.Activities) != 1 || inbox.Activities[0].CID != id {
		t.Errorf("Expected the post in the follower's inbox, got %+v", inbox.Activities)
	}

	empty, err := engine.GetInbox(stranger, "", 10)
	if err != nil {
		t.Fatalf("GetInbox failed: %v", err)
	}
	if len(empty.Activities) != 0 {
		t.Errorf("Expected an empty inbox for a non-follower, got %+v", empty.Activities)
	}
}

func TestIngestStoresObjectByAddress(t *testing.T) {
	engine := newTestEngine(t)
	author, priv := newActor(t)

	sub := postSubmission(t, author, priv, "content lives here", []any{author})
	id, err := engine.Ingest(context.Background(), sub)
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	activity, err := engine.GetActivity(id)
	if err != nil {
		t.Fatalf("GetActivity failed: %v", err)
	}
	object, err := engine.GetObject(activity.ObjectRef)
	if err != nil {
		t.Fatalf("GetObject failed: %v", err)
	}
	if object.Type != "note" || object.CreatorDID != author {
		t.Errorf("Unexpected stored object: %+v", object)
	}
	if !canonical.VerifyAddress(object.CID, []byte(object.Content)) {
		t.Error("Expected stored object content to verify against its address")
	}
}

func TestIngestAcceptsMatchingClaimedIds(t *testing.T) {
	engine := newTestEngine(t)
	author, priv := newActor(t)

	sub := postSubmission(t, author, priv, "claimed ids", []any{author})
	objectBytes, err := canonical.Marshal(sub.Object)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	sub.Activity["object"] = canonical.ComputeAddress(objectBytes)
	sub.Activity = signActivity(t, priv, sub.Activity)

	addressingBytes, err := canonical.MarshalForAddressing(sub.Activity)
	if err != nil {
		t.Fatalf("MarshalForAddressing failed: %v", err)
	}
	sub.Activity[canonical.FieldId] = canonical.ComputeAddress(addressingBytes)

	id, err := engine.Ingest(context.Background(), sub)
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if id != sub.Activity[canonical.FieldId] {
		t.Errorf("Expected returned id %s to equal the claimed id %v", id, sub.Activity[canonical.FieldId])
	}
}

func TestIngestRejectsClaimedIdMismatch(t *testing.T) {
	engine := newTestEngine(t)
	author, priv := newActor(t)

	sub := postSubmission(t, author, priv, "wrong id", []any{author})
	sub.Activity[canonical.FieldId] = "urn:cid:bafynot-the-right-one"

	if _, err := engine.Ingest(context.Background(), sub); !errors.Is(err, domain.ErrAddressMismatch) {
		t.Errorf("Expected ErrAddressMismatch, got %v", err)
	}
}

func TestIngestRejectsObjectAddressMismatch(t *testing.T) {
	engine := newTestEngine(t)
	author, priv := newActor(t)

	sub := postSubmission(t, author, priv, "payload", []any{author})
	sub.Activity["object"] = canonical.ComputeAddress([]byte("entirely different bytes"))
	sub.Activity = signActivity(t, priv, sub.Activity)

	if _, err := engine.Ingest(context.Background(), sub); !errors.Is(err, domain.ErrAddressMismatch) {
		t.Errorf("Expected ErrAddressMismatch, got %v", err)
	}
}

func TestIngestRejectsTamperedEnvelope(t *testing.T) {
	engine := newTestEngine(t)
	author, priv := newActor(t)

	sub := postSubmission(t, author, priv, "original", []any{author})
	sub.Activity["addressing"] = []any{author, "did:key:zInjectedRecipient"}

	if _, err := engine.Ingest(context.Background(), sub); !errors.Is(err, domain.ErrAuthenticationFailed) {
		t.Errorf("Expected ErrAuthenticationFailed, got %v", err)
	}
}

func TestIngestRejectsForeignSignature(t *testing.T) {
	engine := newTestEngine(t)
	author, _ := newActor(t)
	_, otherPriv := newActor(t)

	sub := postSubmission(t, author, otherPriv, "impersonation", []any{author})

	if _, err := engine.Ingest(context.Background(), sub); !errors.Is(err, domain.ErrAuthenticationFailed) {
		t.Errorf("Expected ErrAuthenticationFailed, got %v", err)
	}
}

func TestIngestResubmissionIsIdempotent(t *testing.T) {
	engine := newTestEngine(t)
	author, priv := newActor(t)

	sub := postSubmission(t, author, priv, "submitted twice", []any{author})
	first, err := engine.Ingest(context.Background(), sub)
	if err != nil {
		t.Fatalf("First ingestion failed: %v", err)
	}
	second, err := engine.Ingest(context.Background(), sub)
	if err != nil {
		t.Fatalf("Resubmission failed: %v", err)
	}
	if first != second {
		t.Errorf("Expected identical ids, got %s and %s", first, second)
	}

	inbox, err := engine.GetInbox(author, "", 10)
	if err != nil {
		t.Fatalf("GetInbox failed: %v", err)
	}
	if len(inbox.Activities) != 1 {
		t.Errorf("Expected a single delivery after resubmission, got %d", len(inbox.Activities))
	}
}

func TestIngestAcceptsEmptyAudience(t *testing.T) {
	engine := newTestEngine(t)
	author, priv := newActor(t)

	id, err := engine.Ingest(context.Background(), postSubmission(t, author, priv, "to nobody", nil))
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	outbox, err := engine.GetOutbox(author, "", 10)
	if err != nil {
		t.Fatalf("GetOutbox failed: %v", err)
	}
	if len(outbox.Activities) != 1 || outbox.Activities[0].CID != id {
		t.Errorf("Expected the unaddressed post in the outbox, got %+v", outbox.Activities)
	}
}

func TestIngestRejectsInvalidEnvelopes(t *testing.T) {
	engine := newTestEngine(t)
	author, priv := newActor(t)

	missingVerb := map[string]any{
		"actor":     author,
		"published": time.Now().UTC().Format(time.RFC3339Nano),
	}
	missingPublished := map[string]any{
		"verb":  domain.VerbPost,
		"actor": author,
	}
	badActor := map[string]any{
		"verb":      domain.VerbPost,
		"actor":     "not-a-did",
		"published": time.Now().UTC().Format(time.RFC3339Nano),
	}

	for name, activity := range map[string]map[string]any{
		"missing verb":      missingVerb,
		"missing published": missingPublished,
		"bad actor":         badActor,
	} {
		sub := Submission{
			Activity: signActivity(t, priv, activity),
			Object:   map[string]any{"type": "note", "content": "x"},
		}
		if _, err := engine.Ingest(context.Background(), sub); !errors.Is(err, domain.ErrInvalidActivity) {
			t.Errorf("Expected ErrInvalidActivity for %s, got %v", name, err)
		}
	}

	// a post with neither payload nor object reference has nothing to address
	bare := Submission{Activity: signActivity(t, priv, map[string]any{
		"verb":      domain.VerbPost,
		"actor":     author,
		"published": time.Now().UTC().Format(time.RFC3339Nano),
	})}
	if _, err := engine.Ingest(context.Background(), bare); !errors.Is(err, domain.ErrInvalidActivity) {
		t.Errorf("Expected ErrInvalidActivity for objectless post, got %v", err)
	}
}

func TestIngestRejectsFollowWithPayload(t *testing.T) {
	engine := newTestEngine(t)
	follower, priv := newActor(t)
	followee, _ := newActor(t)

	sub := followSubmission(t, follower, priv, followee)
	sub.Object = map[string]any{"type": "note", "content": "x"}

	if _, err := engine.Ingest(context.Background(), sub); !errors.Is(err, domain.ErrInvalidActivity) {
		t.Errorf("Expected ErrInvalidActivity, got %v", err)
	}
}

func TestIngestRejectsFollowOfNonDID(t *testing.T) {
	engine := newTestEngine(t)
	follower, priv := newActor(t)

	activity := map[string]any{
		"verb":      domain.VerbFollow,
		"actor":     follower,
		"object":    "urn:cid:not-an-actor",
		"published": time.Now().UTC().Format(time.RFC3339Nano),
	}
	sub := Submission{Activity: signActivity(t, priv, activity)}

	if _, err := engine.Ingest(context.Background(), sub); !errors.Is(err, domain.ErrInvalidActivity) {
		t.Errorf("Expected ErrInvalidActivity, got %v", err)
	}
}

func TestGetActor(t *testing.T) {
	engine := newTestEngine(t)
	author, priv := newActor(t)

	if _, err := engine.GetActor(author); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound before any activity, got %v", err)
	}

	if _, err := engine.Ingest(context.Background(), postSubmission(t, author, priv, "first post", nil)); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	actor, err := engine.GetActor(author)
	if err != nil {
		t.Fatalf("GetActor failed: %v", err)
	}
	if actor.DID != author {
		t.Errorf("Expected actor %s, got %s", author, actor.DID)
	}
}

func TestGetInboxBadCursor(t *testing.T) {
	engine := newTestEngine(t)
	author, _ := newActor(t)

	if _, err := engine.GetInbox(author, "@@not-a-cursor@@", 10); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for malformed cursor, got %v", err)
	}
}

func TestGetObjectNotFound(t *testing.T) {
	engine := newTestEngine(t)

	if _, err := engine.GetObject("urn:cid:missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if _, err := engine.GetActivity("urn:cid:missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
