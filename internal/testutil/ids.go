package testutil

import (
	"fmt"
	"sync"

	"github.com/roach88/repairsync/internal/ledger"
)

// SequentialIDs generates "<prefix>-0001", "<prefix>-0002", ... so that
// traces containing generated ids compare byte for byte.
//
// Thread-safety: safe for concurrent use via internal mutex.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialIDs creates a generator. An empty prefix means "id".
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "id"
	}
	return &SequentialIDs{prefix: prefix}
}

// Generate returns the next id.
func (g *SequentialIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}

// Address returns a deterministic, non-zero account address for actor n:
// Address(1) is 0x000...0001.
func Address(n int) ledger.Address {
	return ledger.MustParseAddress(fmt.Sprintf("0x%040x", n))
}
