package engine

import (
	"github.com/google/uuid"
)

// IDGenerator produces client-side entity ids. Optimistic entities carry
// one of these until the server assigns its own id.
// Tests use testutil.SequentialIDs for deterministic ids.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 ids.
//
// Stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7. Panics if the system random
// source fails.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
