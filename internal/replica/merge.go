package replica

import (
	"log/slog"

	"flagcache/internal/metrics"
	"flagcache/internal/wire"
)

// ApplyEnvironment merges one environment record. Last writer wins on
// version, ties favor the incoming record, so duplicate delivery from an
// at-least-once transport is harmless.
func (s *Store) ApplyEnvironment(env wire.Environment) {
	s.mu.Lock()
	cb := s.applyEnvironmentLocked(env)
	s.mu.Unlock()

	if cb != nil {
		cb()
	}
}

func (s *Store) applyEnvironmentLocked(env wire.Environment) func() {
	switch env.Action {
	case wire.ActionEmpty:
		// The source has zero environments; the collection is closed.
		s.envCount = 0
		return s.recomputeLocked()

	case wire.ActionDelete:
		if env.ID == "" {
			return nil
		}
		delete(s.envs, env.ID)
		delete(s.pending, env.ID)
		metrics.PendingFeatureUpdates.Set(float64(s.pendingLenLocked()))
		return s.recomputeLocked()

	case wire.ActionCreate, wire.ActionUpdate:
		if env.ID == "" {
			slog.Warn("dropping environment with no id", "action", env.Action)
			return nil
		}
		if env.Count > 0 {
			s.envCount = env.Count
		}
		if held, ok := s.envs[env.ID]; ok && env.Version < held.env.Version {
			metrics.StaleUpdatesTotal.WithLabelValues("environment").Inc()
			return nil
		}

		entry := &envEntry{
			env:      env,
			features: make(map[string]*featureEntry, len(env.Features)),
		}
		entry.env.Features = nil
		for _, fs := range env.Features {
			if fs.Feature.Key == "" {
				continue
			}
			entry.features[fs.Feature.Key] = &featureEntry{
				feature:    fs.Feature,
				value:      fs.Value,
				strategies: fs.Strategies,
			}
			entry.order = append(entry.order, fs.Feature.Key)
		}
		s.envs[env.ID] = entry

		// An environment arriving unblocks any feature deltas that raced
		// ahead of it.
		if queued, ok := s.pending[env.ID]; ok {
			delete(s.pending, env.ID)
			for _, update := range queued {
				s.applyFeatureLocked(entry, update)
			}
			metrics.PendingFeatureUpdates.Set(float64(s.pendingLenLocked()))
		}
		return s.recomputeLocked()

	default:
		slog.Warn("dropping environment with unknown action", "action", env.Action, "id", env.ID)
		return nil
	}
}

// ApplyServiceAccount merges one service-account record and keeps the
// API-key lookup index in step with it.
func (s *Store) ApplyServiceAccount(acct wire.ServiceAccount) {
	s.mu.Lock()
	cb := s.applyServiceAccountLocked(acct)
	s.mu.Unlock()

	if cb != nil {
		cb()
	}
}

func (s *Store) applyServiceAccountLocked(acct wire.ServiceAccount) func() {
	switch acct.Action {
	case wire.ActionEmpty:
		s.accountCount = 0
		return s.recomputeLocked()

	case wire.ActionDelete:
		if acct.ID == "" {
			return nil
		}
		if held, ok := s.accounts[acct.ID]; ok {
			s.dropKeysLocked(held)
			delete(s.accounts, acct.ID)
		}
		return s.recomputeLocked()

	case wire.ActionCreate, wire.ActionUpdate:
		if acct.ID == "" {
			slog.Warn("dropping service account with no id", "action", acct.Action)
			return nil
		}
		if acct.Count > 0 {
			s.accountCount = acct.Count
		}
		if held, ok := s.accounts[acct.ID]; ok {
			if acct.Version < held.Version {
				metrics.StaleUpdatesTotal.WithLabelValues("service_account").Inc()
				return nil
			}
			s.dropKeysLocked(held)
		}

		stored := acct
		s.accounts[acct.ID] = &stored
		if stored.APIKeyClientSide != "" {
			s.apiKeys[stored.APIKeyClientSide] = stored.ID
		}
		if stored.APIKeyServerSide != "" {
			s.apiKeys[stored.APIKeyServerSide] = stored.ID
		}
		return s.recomputeLocked()

	default:
		slog.Warn("dropping service account with unknown action", "action", acct.Action, "id", acct.ID)
		return nil
	}
}

func (s *Store) dropKeysLocked(acct *wire.ServiceAccount) {
	if acct.APIKeyClientSide != "" {
		delete(s.apiKeys, acct.APIKeyClientSide)
	}
	if acct.APIKeyServerSide != "" {
		delete(s.apiKeys, acct.APIKeyServerSide)
	}
}

// ApplyFeatureValue merges a single-feature delta. A delta for an unknown
// environment is buffered until that environment arrives.
func (s *Store) ApplyFeatureValue(update wire.FeatureUpdate) {
	if update.EnvironmentID == "" {
		slog.Warn("dropping feature update with no environment id", "key", update.Feature.Key)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.envs[update.EnvironmentID]
	if !ok {
		s.pending[update.EnvironmentID] = append(s.pending[update.EnvironmentID], update)
		metrics.PendingFeatureUpdates.Set(float64(s.pendingLenLocked()))
		return
	}
	s.applyFeatureLocked(entry, update)
}

func (s *Store) applyFeatureLocked(entry *envEntry, update wire.FeatureUpdate) {
	key := update.Feature.Key
	if key == "" {
		slog.Warn("dropping feature update with no key", "environment", update.EnvironmentID)
		return
	}

	fe, known := entry.features[key]
	if !known {
		if update.Action != wire.ActionCreate {
			slog.Debug("ignoring update for unknown feature", "environment", update.EnvironmentID, "key", key)
			return
		}
		entry.features[key] = &featureEntry{
			feature:    update.Feature,
			value:      update.Value,
			strategies: update.Strategies,
		}
		entry.order = append(entry.order, key)
		return
	}

	// The definition and the value carry independent versions; merge each
	// on its own.
	if update.Feature.Version >= fe.feature.Version {
		fe.feature = update.Feature
		fe.strategies = update.Strategies
	} else {
		metrics.StaleUpdatesTotal.WithLabelValues("feature").Inc()
	}

	if update.Action == wire.ActionDelete {
		fe.value = nil
		return
	}
	if update.Value == nil {
		return
	}
	if fe.value == nil || update.Value.Version >= fe.value.Version {
		v := *update.Value
		fe.value = &v
	} else {
		metrics.StaleUpdatesTotal.WithLabelValues("feature_value").Inc()
	}
}

func (s *Store) pendingLenLocked() int {
	n := 0
	for _, queued := range s.pending {
		n += len(queued)
	}
	return n
}
