package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDs generates prefix-1, prefix-2, ... without ever running out,
// so scenarios need not know their number of entities up front.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialIDs creates a generator. An empty prefix means "client".
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "client"
	}
	return &SequentialIDs{prefix: prefix}
}

// Generate implements engine.IDGenerator.
func (g *SequentialIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
