package protocol

import (
	"math/rand"

	"github.com/google/uuid"

	"flagcache/internal/wire"
)

// NewNodeID returns the opaque per-process identity.
func NewNodeID() string {
	return uuid.NewString()
}

// NewMit picks a random positive 63-bit membership token. It never returns
// the reserved authoritative token, and never zero.
func NewMit() int64 {
	for {
		v := rand.Int63()
		if v > wire.AuthoritativeMit {
			return v
		}
	}
}
