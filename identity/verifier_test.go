package identity

import (
	"context"
	"encoding/base64"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/deemkeen/chatterpub/domain"
)

type countingResolver struct {
	calls    atomic.Int64
	material KeyMaterial
}

func (r *countingResolver) Method() string { return "count" }

func (r *countingResolver) Resolve(_ context.Context, _ string) (KeyMaterial, error) {
	r.calls.Add(1)
	return r.material, nil
}

type slowResolver struct {
	delay time.Duration
}

func (slowResolver) Method() string { return "slow" }

func (s slowResolver) Resolve(ctx context.Context, _ string) (KeyMaterial, error) {
	select {
	case <-time.After(s.delay):
		return KeyMaterial{Scheme: SchemeEd25519}, nil
	case <-ctx.Done():
		return KeyMaterial{}, ctx.Err()
	}
}

func TestVerifyAcceptsValidSignature(t *testing.T) {
	did, priv, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	verifier := NewVerifier(NewRegistry(DIDKeyResolver{}), 0, 0)

	payload := []byte(`{"content":"hello","verb":"post"}`)
	if err := verifier.Verify(context.Background(), did, payload, Sign(priv, payload)); err != nil {
		t.Errorf("Expected valid signature to verify, got %v", err)
	}
}

func TestVerifyRejectsTamperedBytes(t *testing.T) {
	did, priv, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	verifier := NewVerifier(NewRegistry(DIDKeyResolver{}), 0, 0)

	signature := Sign(priv, []byte(`{"content":"hello"}`))
	err = verifier.Verify(context.Background(), did, []byte(`{"content":"tampered"}`), signature)
	if !errors.Is(err, domain.ErrAuthenticationFailed) {
		t.Errorf("Expected ErrAuthenticationFailed, got %v", err)
	}
}

func TestVerifyRejectsWrongSigner(t *testing.T) {
	did, _, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	_, otherPriv, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	verifier := NewVerifier(NewRegistry(DIDKeyResolver{}), 0, 0)

	payload := []byte(`{"content":"hello"}`)
	err = verifier.Verify(context.Background(), did, payload, Sign(otherPriv, payload))
	if !errors.Is(err, domain.ErrAuthenticationFailed) {
		t.Errorf("Expected ErrAuthenticationFailed for foreign key, got %v", err)
	}
}

func TestVerifyRejectsMalformedSignature(t *testing.T) {
	did, _, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	verifier := NewVerifier(NewRegistry(DIDKeyResolver{}), 0, 0)

	cases := []string{
		"not base64 !!!",
		base64.StdEncoding.EncodeToString([]byte("too short")),
		"",
	}
	for _, sig := range cases {
		err := verifier.Verify(context.Background(), did, []byte("payload"), sig)
		if !errors.Is(err, domain.ErrAuthenticationFailed) {
			t.Errorf("Expected ErrAuthenticationFailed for signature %q, got %v", sig, err)
		}
	}
}

func TestResolveKeyCachesWithinTTL(t *testing.T) {
	resolver := &countingResolver{material: KeyMaterial{Scheme: SchemeEd25519}}
	verifier := NewVerifier(NewRegistry(resolver), time.Hour, 0)

	for i := 0; i < 3; i++ {
		if _, err := verifier.ResolveKey(context.Background(), "did:count:abc"); err != nil {
			t.Fatalf("ResolveKey failed: %v", err)
		}
	}
	if got := resolver.calls.Load(); got != 1 {
		t.Errorf("Expected a single resolution within the TTL, got %d", got)
	}
}

func TestResolveKeyRefreshesAfterTTL(t *testing.T) {
	resolver := &countingResolver{material: KeyMaterial{Scheme: SchemeEd25519}}
	verifier := NewVerifier(NewRegistry(resolver), time.Nanosecond, 0)

	if _, err := verifier.ResolveKey(context.Background(), "did:count:abc"); err != nil {
		t.Fatalf("ResolveKey failed: %v", err)
	}
	time.Sleep(time.Millisecond)
	if _, err := verifier.ResolveKey(context.Background(), "did:count:abc"); err != nil {
		t.Fatalf("ResolveKey failed: %v", err)
	}
	if got := resolver.calls.Load(); got != 2 {
		t.Errorf("Expected a second resolution after the TTL, got %d", got)
	}
}

func TestResolveKeyTimeout(t *testing.T) {
	verifier := NewVerifier(NewRegistry(slowResolver{delay: time.Second}), 0, 10*time.Millisecond)

	_, err := verifier.ResolveKey(context.Background(), "did:slow:abc")
	if !errors.Is(err, domain.ErrUnresolvableIdentity) {
		t.Errorf("Expected ErrUnresolvableIdentity on timeout, got %v", err)
	}
}
