// Package ir provides the canonical value representation used to derive
// stable identities for ledger events.
//
// ir imports nothing internal; every other package may depend on it.
//
// Key constraints:
//   - no float values, ledger quantities are Int
//   - no null values
//   - RFC 8785 canonical JSON is the only encoding fed to hashes
//   - hashes are domain separated: SHA256(domain + 0x00 + canonical)
package ir
