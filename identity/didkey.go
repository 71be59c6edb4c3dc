package identity

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"regexp"

	"github.com/deemkeen/chatterpub/domain"
	"github.com/multiformats/go-multibase"
)

const didKeyPrefix = "did:key:"

// multicodec prefix tagging an Ed25519 public key
var ed25519Prefix = []byte{0xed, 0x01}

var reDIDKey = regexp.MustCompile(`^did:key:z[a-km-zA-HJ-NP-Z1-9]+$`)

// ValidDID reports whether did is a well-formed did:key identifier.
func ValidDID(did string) bool {
	return reDIDKey.MatchString(did)
}

// DIDKeyResolver resolves did:key identifiers. The key material is embedded
// in the DID itself, so resolution is pure and needs no network.
type DIDKeyResolver struct{}

func (DIDKeyResolver) Method() string { return "key" }

func (DIDKeyResolver) Resolve(_ context.Context, did string) (KeyMaterial, error) {
	if !ValidDID(did) {
		return KeyMaterial{}, fmt.Errorf("%w: %q is not a valid did:key", domain.ErrUnresolvableIdentity, did)
	}
	encoding, decoded, err := multibase.Decode(did[len(didKeyPrefix):])
	if err != nil {
		return KeyMaterial{}, fmt.Errorf("%w: %v", domain.ErrUnresolvableIdentity, err)
	}
	if encoding != multibase.Base58BTC {
		return KeyMaterial{}, fmt.Errorf("%w: unexpected multibase encoding %c", domain.ErrUnresolvableIdentity, encoding)
	}
	if len(decoded) != len(ed25519Prefix)+ed25519.PublicKeySize ||
		decoded[0] != ed25519Prefix[0] || decoded[1] != ed25519Prefix[1] {
		return KeyMaterial{}, fmt.Errorf("%w: did:key does not carry an Ed25519 key", domain.ErrUnresolvableIdentity)
	}
	return KeyMaterial{
		Scheme:    SchemeEd25519,
		PublicKey: decoded[len(ed25519Prefix):],
	}, nil
}

// DIDFromPublicKey builds the did:key identifier for an Ed25519 public key.
func DIDFromPublicKey(pub ed25519.PublicKey) (string, error) {
	tagged := make([]byte, 0, len(ed25519Prefix)+len(pub))
	tagged = append(tagged, ed25519Prefix...)
	tagged = append(tagged, pub...)
	encoded, err := multibase.Encode(multibase.Base58BTC, tagged)
	if err != nil {
		return "", err
	}
	return didKeyPrefix + encoded, nil
}

// GenerateKeyPair mints a fresh identity: its did:key and the private key
// needed to sign activities as that actor.
func GenerateKeyPair() (string, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", nil, err
	}
	did, err := DIDFromPublicKey(pub)
	if err != nil {
		return "", nil, err
	}
	return did, priv, nil
}

// Sign produces the detached signature over canonical bytes, base64 encoded
// the way submissions carry it.
func Sign(priv ed25519.PrivateKey, canonicalBytes []byte) string {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(priv, canonicalBytes))
}
