package canonical

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/deemkeen/chatterpub/domain"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// Content addresses are CIDv1 with the raw codec over a sha2-256 digest,
// carried in URIs under an ad-hoc urn:cid namespace.
const (
	codecRaw  = 0x55
	uriPrefix = "urn:cid:"
)

// ComputeAddress derives the content address of data.
func ComputeAddress(data []byte) string {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		// sha2-256 over arbitrary bytes cannot fail
		panic(err)
	}
	return URIFromCID(cid.NewCidV1(codecRaw, sum))
}

// VerifyAddress recomputes the address of data and compares digests against
// the claimed URI. Malformed claims verify false, they never error out.
func VerifyAddress(claimed string, data []byte) bool {
	claimedCid, err := CIDFromURI(claimed)
	if err != nil {
		return false
	}
	decoded, err := multihash.Decode(claimedCid.Hash())
	if err != nil || decoded.Code != multihash.SHA2_256 {
		return false
	}
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return false
	}
	recomputed, err := multihash.Decode(sum)
	if err != nil {
		return false
	}
	return bytes.Equal(decoded.Digest, recomputed.Digest)
}

// URIFromCID renders a CID in its urn:cid URI form.
func URIFromCID(c cid.Cid) string {
	return uriPrefix + c.String()
}

// CIDFromURI parses a urn:cid URI back into a CID.
func CIDFromURI(uri string) (cid.Cid, error) {
	if !strings.HasPrefix(uri, uriPrefix) {
		return cid.Undef, fmt.Errorf("%w: URI %q does not contain a content address", domain.ErrAddressMismatch, uri)
	}
	c, err := cid.Decode(uri[len(uriPrefix):])
	if err != nil {
		return cid.Undef, fmt.Errorf("%w: %v", domain.ErrAddressMismatch, err)
	}
	return c, nil
}

// ValidAddress reports whether uri parses as a content address URI.
func ValidAddress(uri string) bool {
	_, err := CIDFromURI(uri)
	return err == nil
}
