package identity

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/deemkeen/chatterpub/domain"
)

const (
	DefaultCacheTTL       = 10 * time.Minute
	DefaultResolveTimeout = 5 * time.Second
)

type cachedKey struct {
	material  KeyMaterial
	fetchedAt time.Time
}

// Verifier checks detached signatures against resolved key material. The
// key cache is read-mostly and shared across concurrent verifications;
// stale entries only cost a spurious re-resolution, never a wrong result.
type Verifier struct {
	registry *Registry
	cacheTTL time.Duration
	timeout  time.Duration

	mu    sync.RWMutex
	cache map[string]cachedKey
}

func NewVerifier(registry *Registry, cacheTTL, timeout time.Duration) *Verifier {
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}
	if timeout <= 0 {
		timeout = DefaultResolveTimeout
	}
	return &Verifier{
		registry: registry,
		cacheTTL: cacheTTL,
		timeout:  timeout,
		cache:    make(map[string]cachedKey),
	}
}

// ResolveKey returns the current key material for did, from cache when
// fresh. Resolution is bounded by the verifier's timeout; hitting it is
// reported as an unresolvable identity, not a hang.
func (v *Verifier) ResolveKey(ctx context.Context, did string) (KeyMaterial, error) {
	v.mu.RLock()
	entry, ok := v.cache[did]
	v.mu.RUnlock()
	if ok && time.Since(entry.fetchedAt) < v.cacheTTL {
		return entry.material, nil
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	material, err := v.registry.Resolve(ctx, did)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return KeyMaterial{}, fmt.Errorf("%w: resolution timed out for %s", domain.ErrUnresolvableIdentity, did)
		}
		if !errors.Is(err, domain.ErrUnresolvableIdentity) {
			err = fmt.Errorf("%w: %v", domain.ErrUnresolvableIdentity, err)
		}
		return KeyMaterial{}, err
	}

	v.mu.Lock()
	v.cache[did] = cachedKey{material: material, fetchedAt: time.Now()}
	v.mu.Unlock()

	return material, nil
}

// Verify checks the detached signature over canonicalBytes against the
// claimed author's current key. Every failure path rejects, there is no
// best-effort pass.
func (v *Verifier) Verify(ctx context.Context, did string, canonicalBytes []byte, signature string) error {
	material, err := v.ResolveKey(ctx, did)
	if err != nil {
		return err
	}
	if material.Scheme != SchemeEd25519 {
		return fmt.Errorf("%w: unsupported signature scheme %q", domain.ErrAuthenticationFailed, material.Scheme)
	}
	if len(material.PublicKey) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: malformed key material", domain.ErrAuthenticationFailed)
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("%w: malformed signature", domain.ErrAuthenticationFailed)
	}
	if !ed25519.Verify(ed25519.PublicKey(material.PublicKey), canonicalBytes, sig) {
		return domain.ErrAuthenticationFailed
	}
	return nil
}
