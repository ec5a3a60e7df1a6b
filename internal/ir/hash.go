package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainValue = "nodebook/value/v1"
	DomainChain = "nodebook/chain/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// PayloadHash returns the content hash of an already canonical payload.
// The payload must have been produced by MarshalCanonical.
func PayloadHash(payload []byte) string {
	return hashWithDomain(DomainValue, payload)
}

// ValueHash canonicalizes a value tree and returns its payload and hash.
// The payload is what the content store persists; the hash is its address.
func ValueHash(v IRValue) (payload []byte, hash string, err error) {
	payload, err = MarshalCanonical(v)
	if err != nil {
		return nil, "", fmt.Errorf("ValueHash: failed to marshal: %w", err)
	}
	return payload, PayloadHash(payload), nil
}

// ChainFingerprint computes a digest over a whole chain description, used by
// golden traces to pin the observable state of a session in one line.
func ChainFingerprint(chain IRObject) (string, error) {
	canonical, err := MarshalCanonical(chain)
	if err != nil {
		return "", fmt.Errorf("ChainFingerprint: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainChain, canonical), nil
}

// MustValueHash is like ValueHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustValueHash(v IRValue) string {
	_, hash, err := ValueHash(v)
	if err != nil {
		panic(err)
	}
	return hash
}
