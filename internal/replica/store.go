package replica

import (
	"sync"

	"flagcache/internal/metrics"
	"flagcache/internal/wire"
)

// countUnknown means no snapshot has advertised a watermark for the
// collection yet, so it can never be deemed complete.
const countUnknown = -1

type featureEntry struct {
	feature    wire.Feature
	value      *wire.FeatureValue
	strategies []wire.RolloutStrategy
}

type envEntry struct {
	env      wire.Environment
	features map[string]*featureEntry
	order    []string
}

// Store is the node-local replica of one cache: environments with their
// features, service accounts, and the watermark bookkeeping that decides
// when the copy is complete. It is safe for concurrent use; entities merge
// independently, there is no cross-entity transaction.
type Store struct {
	mu sync.RWMutex

	envs     map[string]*envEntry
	accounts map[string]*wire.ServiceAccount
	apiKeys  map[string]string

	// pending holds feature deltas whose environment has not arrived yet,
	// keyed by environment id. Replayed and discarded when it does.
	pending map[string][]wire.FeatureUpdate

	envCount     int
	accountCount int

	envsComplete     bool
	accountsComplete bool

	completeCb    func()
	completeFired bool
}

func NewStore() *Store {
	return &Store{
		envs:         make(map[string]*envEntry),
		accounts:     make(map[string]*wire.ServiceAccount),
		apiKeys:      make(map[string]string),
		pending:      make(map[string][]wire.FeatureUpdate),
		envCount:     countUnknown,
		accountCount: countUnknown,
	}
}

// OnComplete registers the callback fired on the incomplete->complete edge.
// It fires at most once per completeness attainment; Clear re-arms it.
func (s *Store) OnComplete(cb func()) {
	s.mu.Lock()
	s.completeCb = cb
	s.mu.Unlock()
}

func (s *Store) IsComplete() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.envsComplete && s.accountsComplete
}

// Clear wipes both collections and the completeness state. Used when the
// node's identity collided and it must rebuild from scratch.
func (s *Store) Clear() {
	s.mu.Lock()
	s.envs = make(map[string]*envEntry)
	s.accounts = make(map[string]*wire.ServiceAccount)
	s.apiKeys = make(map[string]string)
	s.pending = make(map[string][]wire.FeatureUpdate)
	s.envCount = countUnknown
	s.accountCount = countUnknown
	s.envsComplete = false
	s.accountsComplete = false
	s.completeFired = false
	s.mu.Unlock()

	metrics.EnvironmentsTotal.Set(0)
	metrics.ServiceAccountsTotal.Set(0)
	metrics.PendingFeatureUpdates.Set(0)
	metrics.CacheComplete.Set(0)
}

// recomputeLocked refreshes both completeness flags and returns the
// callback to fire, non-nil only on the overall incomplete->complete edge.
// The caller must invoke it after releasing the lock.
func (s *Store) recomputeLocked() func() {
	s.envsComplete = s.envCount != countUnknown && len(s.envs) == s.envCount
	s.accountsComplete = s.accountCount != countUnknown && len(s.accounts) == s.accountCount

	metrics.EnvironmentsTotal.Set(float64(len(s.envs)))
	metrics.ServiceAccountsTotal.Set(float64(len(s.accounts)))

	if !(s.envsComplete && s.accountsComplete) {
		metrics.CacheComplete.Set(0)
		return nil
	}

	metrics.CacheComplete.Set(1)
	if s.completeFired {
		return nil
	}
	s.completeFired = true
	return s.completeCb
}

// SnapshotEnvironments returns the full environment collection annotated
// with the current count. An empty collection yields a single EMPTY
// placeholder so the receiver can tell it apart from silence.
func (s *Store) SnapshotEnvironments() []wire.Environment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.envs) == 0 {
		return []wire.Environment{{Action: wire.ActionEmpty, Count: 0}}
	}

	out := make([]wire.Environment, 0, len(s.envs))
	for _, entry := range s.envs {
		env := entry.env
		env.Action = wire.ActionCreate
		env.Features = entry.featureStates()
		env.Count = len(s.envs)
		out = append(out, env)
	}
	return out
}

// SnapshotServiceAccounts is the service-account analogue of
// SnapshotEnvironments.
func (s *Store) SnapshotServiceAccounts() []wire.ServiceAccount {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.accounts) == 0 {
		return []wire.ServiceAccount{{Action: wire.ActionEmpty, Count: 0}}
	}

	out := make([]wire.ServiceAccount, 0, len(s.accounts))
	for _, acct := range s.accounts {
		a := *acct
		a.Action = wire.ActionCreate
		a.Count = len(s.accounts)
		out = append(out, a)
	}
	return out
}

func (e *envEntry) featureStates() []wire.FeatureState {
	out := make([]wire.FeatureState, 0, len(e.order))
	for _, key := range e.order {
		fe, ok := e.features[key]
		if !ok {
			continue
		}
		out = append(out, wire.FeatureState{
			Feature:    fe.feature,
			Value:      fe.value,
			Strategies: fe.strategies,
		})
	}
	return out
}
