package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDs generates predictable mutation ids: "<prefix>-0001",
// "<prefix>-0002", and so on.
//
// This enables golden trace comparison: the same scenario produces the same
// ids on every run.
//
// Thread-safety: SequentialIDs is safe for concurrent use via internal mutex.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialIDs creates a generator. An empty prefix defaults to "m".
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "m"
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
