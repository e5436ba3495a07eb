package testutil

import (
	"fmt"
	"sync"
)

// SequenceIDs generates predictable ids: "<prefix>-0001", "<prefix>-0002", ...
//
// Ids sort lexically in generation order, which keeps tie-breaks on id
// deterministic in golden snapshots.
//
// Thread-safety: safe for concurrent use.
type SequenceIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceIDs creates a generator with the given prefix.
func NewSequenceIDs(prefix string) *SequenceIDs {
	return &SequenceIDs{prefix: prefix}
}

// Generate returns the next id.
func (g *SequenceIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}
