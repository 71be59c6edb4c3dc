package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/deemkeen/chatterpub/domain"
)

// Signature schemes declared by DID methods.
const SchemeEd25519 = "ed25519"

// KeyMaterial is the resolved verification key of an actor.
type KeyMaterial struct {
	Scheme    string
	PublicKey []byte
}

// Resolver resolves DIDs of a single method to key material. New DID
// methods are supported by registering another implementation, not by
// touching the verifier.
type Resolver interface {
	Method() string
	Resolve(ctx context.Context, did string) (KeyMaterial, error)
}

// Registry dispatches resolution to the resolver matching the DID's method
// segment.
type Registry struct {
	resolvers map[string]Resolver
}

func NewRegistry(resolvers ...Resolver) *Registry {
	byMethod := make(map[string]Resolver, len(resolvers))
	for _, r := range resolvers {
		byMethod[r.Method()] = r
	}
	return &Registry{resolvers: byMethod}
}

func (r *Registry) Resolve(ctx context.Context, did string) (KeyMaterial, error) {
	method, ok := didMethod(did)
	if !ok {
		return KeyMaterial{}, fmt.Errorf("%w: %q is not a DID", domain.ErrUnresolvableIdentity, did)
	}
	resolver, ok := r.resolvers[method]
	if !ok {
		return KeyMaterial{}, fmt.Errorf("%w: unsupported DID method %q", domain.ErrUnresolvableIdentity, method)
	}
	return resolver.Resolve(ctx, did)
}

func didMethod(did string) (string, bool) {
	parts := strings.SplitN(did, ":", 3)
	if len(parts) != 3 || parts[0] != "did" || parts[1] == "" || parts[2] == "" {
		return "", false
	}
	return parts[1], true
}
