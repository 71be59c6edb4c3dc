package canonical

import (
	"encoding/json"
	"fmt"

	"github.com/deemkeen/chatterpub/domain"
	"github.com/gowebpki/jcs"
)

// Field names excluded from the encodings used for signing and addressing.
const (
	FieldSignature = "signature"
	FieldId        = "id"
)

// Marshal returns the RFC 8785 canonical JSON encoding of v. The result is
// byte-identical for semantically identical inputs regardless of field
// insertion order, on every host.
func Marshal(v any) ([]byte, error) {
	plain, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEncoding, err)
	}
	out, err := jcs.Transform(plain)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEncoding, err)
	}
	return out, nil
}

// MarshalForSigning canonicalizes an activity envelope with the signature
// and id fields removed. These are the bytes a detached signature covers:
// the signature cannot cover itself and the id is derived after signing.
func MarshalForSigning(envelope map[string]any) ([]byte, error) {
	return Marshal(without(envelope, FieldSignature, FieldId))
}

// MarshalForAddressing canonicalizes an envelope with only the id field
// removed. The content address covers the signature, so two differently
// signed copies of the same payload get distinct addresses.
func MarshalForAddressing(envelope map[string]any) ([]byte, error) {
	return Marshal(without(envelope, FieldId))
}

func without(envelope map[string]any, fields ...string) map[string]any {
	trimmed := make(map[string]any, len(envelope))
	for k, v := range envelope {
		trimmed[k] = v
	}
	for _, f := range fields {
		delete(trimmed, f)
	}
	return trimmed
}
