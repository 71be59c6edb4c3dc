package canonical

import (
	"strings"
	"testing"
)

func TestComputeAddressDeterministic(t *testing.T) {
	data := []byte(`{"content":"hello","type":"note"}`)

	first := ComputeAddress(data)
	second := ComputeAddress(data)
	if first != second {
		t.Errorf("Expected identical addresses for identical bytes, got %s and %s", first, second)
	}
	if !strings.HasPrefix(first, "urn:cid:") {
		t.Errorf("Expected urn:cid: prefix, got %s", first)
	}
}

func TestComputeAddressDiffers(t *testing.T) {
	a := ComputeAddress([]byte(`{"content":"hello"}`))
	b := ComputeAddress([]byte(`{"content":"goodbye"}`))
	if a == b {
		t.Errorf("Expected different addresses for different bytes, got %s twice", a)
	}
}

func TestVerifyAddress(t *testing.T) {
	data := []byte(`{"content":"hello"}`)
	address := ComputeAddress(data)

	if !VerifyAddress(address, data) {
		t.Error("Expected address to verify against its own bytes")
	}
	if VerifyAddress(address, []byte(`{"content":"tampered"}`)) {
		t.Error("Expected verification to fail for different bytes")
	}
}

func TestVerifyAddressMalformed(t *testing.T) {
	data := []byte(`{"content":"hello"}`)

	if VerifyAddress("urn:cid:not-a-cid", data) {
		t.Error("Expected malformed address to fail verification")
	}
	if VerifyAddress("https://example.com/1", data) {
		t.Error("Expected non-urn address to fail verification")
	}
	if VerifyAddress("", data) {
		t.Error("Expected empty address to fail verification")
	}
}

func TestCIDFromURIRoundtrip(t *testing.T) {
	address := ComputeAddress([]byte("roundtrip"))

	c, err := CIDFromURI(address)
	if err != nil {
		t.Fatalf("CIDFromURI failed: %v", err)
	}
	if URIFromCID(c) != address {
		t.Errorf("Expected roundtrip to yield %s, got %s", address, URIFromCID(c))
	}
}

func TestValidAddress(t *testing.T) {
	if !ValidAddress(ComputeAddress([]byte("x"))) {
		t.Error("Expected computed address to be valid")
	}
	if ValidAddress("urn:cid:???") {
		t.Error("Expected garbage address to be invalid")
	}
	if ValidAddress("did:key:z6Mk") {
		t.Error("Expected DID to be an invalid address")
	}
}
