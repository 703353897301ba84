package protocol

import "flagcache/internal/wire"

// refreshSource is the best known holder of a complete cache.
type refreshSource struct {
	id  string
	mit int64
}

func (s *refreshSource) authoritative() bool {
	return s.mit == wire.AuthoritativeMit
}

// betterSource reduces two sightings to the preferred refresh target. A
// complete peer always beats the authoritative source, which keeps bulk
// refresh load off the system of record. Between equals, the most recent
// sighting wins.
func betterSource(cur, cand *refreshSource) *refreshSource {
	if cur == nil {
		return cand
	}
	if cur.authoritative() && !cand.authoritative() {
		return cand
	}
	if !cur.authoritative() && cand.authoritative() {
		return cur
	}
	return cand
}
