package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity. The version suffix leaves
// room for changing the derivation later without colliding with old keys.
const (
	DomainEvent = "repairsync/event/v1"
	DomainTrace = "repairsync/trace/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data). The null byte keeps
// the domain/data boundary unambiguous.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// EventKey derives the deduplication key of a ledger event from its type,
// ledger timestamp and typed payload. The payload is canonicalized first, so
// field order and Unicode normalization never change the key.
func EventKey(eventType string, ledgerTimestamp uint64, payload Object) (string, error) {
	obj := Object{
		"type":      String(eventType),
		"timestamp": Int(int64(ledgerTimestamp)),
		"payload":   payload,
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("EventKey: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainEvent, canonical), nil
}

// MustEventKey is like EventKey but panics on error.
// Use only in tests or when the payload is known to be valid.
func MustEventKey(eventType string, ledgerTimestamp uint64, payload Object) string {
	key, err := EventKey(eventType, ledgerTimestamp, payload)
	if err != nil {
		panic(err)
	}
	return key
}

// TraceHash fingerprints a canonical trace so two runs can be compared
// without diffing the full document.
func TraceHash(trace any) (string, error) {
	canonical, err := MarshalCanonical(trace)
	if err != nil {
		return "", fmt.Errorf("TraceHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainTrace, canonical), nil
}
