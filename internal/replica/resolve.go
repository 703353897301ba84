package replica

import (
	"errors"

	"flagcache/internal/wire"
)

// ErrNotFound is returned when the API key or environment is unknown, or
// the account behind the key has no access to the environment. The caller
// cannot tell which, on purpose.
var ErrNotFound = errors.New("unknown api key or environment")

// Resolve returns the feature set visible to apiKey in environmentID.
func (s *Store) Resolve(environmentID, apiKey string) ([]wire.FeatureState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accountID, ok := s.apiKeys[apiKey]
	if !ok {
		return nil, ErrNotFound
	}

	entry, ok := s.envs[environmentID]
	if !ok {
		return nil, ErrNotFound
	}

	permitted := false
	for _, id := range entry.env.ServiceAccountIDs {
		if id == accountID {
			permitted = true
			break
		}
	}
	if !permitted {
		return nil, ErrNotFound
	}

	return entry.featureStates(), nil
}
