package protocol

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"flagcache/internal/bus"
	"flagcache/internal/replica"
	"flagcache/internal/wire"
)

type fakePublisher struct {
	mu   sync.Mutex
	msgs map[string][][]byte
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{msgs: make(map[string][][]byte)}
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs[subject] = append(f.msgs[subject], data)
	return nil
}

func (f *fakePublisher) count(subject string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs[subject])
}

func (f *fakePublisher) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = make(map[string][][]byte)
}

func (f *fakePublisher) management(t *testing.T, r *bus.Router) []wire.ManagementMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []wire.ManagementMessage
	for _, data := range f.msgs[r.Management()] {
		var msg wire.ManagementMessage
		require.NoError(t, wire.Decode(data, &msg))
		out = append(out, msg)
	}
	return out
}

func (f *fakePublisher) lastManagement(t *testing.T, r *bus.Router) wire.ManagementMessage {
	t.Helper()
	msgs := f.management(t, r)
	require.NotEmpty(t, msgs, "no management message published")
	return msgs[len(msgs)-1]
}

func newTestProtocol(t *testing.T, mit int64) (*Protocol, *fakePublisher) {
	t.Helper()

	f := newFakePublisher()
	p := New(replica.NewStore(), f, bus.NewRouter("default"), Config{
		Timeout:        100 * time.Millisecond,
		Jitter:         time.Millisecond,
		LongTimeout:    200 * time.Millisecond,
		MaxTimeout:     800 * time.Millisecond,
		PublishWorkers: 2,
	})
	p.mit = mit
	return p, f
}

func markComplete(s *replica.Store) {
	s.ApplyEnvironment(wire.Environment{Action: wire.ActionEmpty})
	s.ApplyServiceAccount(wire.ServiceAccount{Action: wire.ActionEmpty})
}

func TestProtocol_StartupSeeksCompleteCache(t *testing.T) {
	p, f := newTestProtocol(t, 500)

	p.requestCompleteCache()

	msg := f.lastManagement(t, p.router)
	require.Equal(t, wire.RequestSeekingCompleteCache, msg.RequestType)
	require.Equal(t, int64(500), msg.Mit)
	require.Equal(t, p.nodeID, msg.ID)
	require.Empty(t, msg.DestID)
	require.Equal(t, WaitingForCompleteSource, p.State())
}

func TestProtocol_StartupWithCompleteStoreRestsImmediately(t *testing.T) {
	p, f := newTestProtocol(t, 500)
	markComplete(p.store)

	p.requestCompleteCache()

	require.Equal(t, AtRest, p.State())
	require.Zero(t, f.count(p.router.Management()))
}

func TestProtocol_PeerAdvertTriggersRefreshRequest(t *testing.T) {
	p, f := newTestProtocol(t, 500)
	p.requestCompleteCache()
	f.reset()

	p.handleMessage(wire.ManagementMessage{
		ID: "peer-1", Mit: 77,
		RequestType: wire.RequestCacheSource,
		CacheState:  wire.CacheStateComplete,
	})

	msg := f.lastManagement(t, p.router)
	require.Equal(t, wire.RequestSeekingRefresh, msg.RequestType)
	require.Equal(t, "peer-1", msg.DestID)
	require.Equal(t, int64(77), msg.Mit, "refresh request must carry the responder's token")
	require.Equal(t, WaitingForCompleteCache, p.State())
}

func TestProtocol_AuthoritativeAdvertEscalatesToMastership(t *testing.T) {
	p, f := newTestProtocol(t, 500)
	p.requestCompleteCache()
	f.reset()

	p.handleMessage(wire.ManagementMessage{
		ID: "source-of-truth", Mit: wire.AuthoritativeMit,
		RequestType: wire.RequestCacheSource,
		CacheState:  wire.CacheStateComplete,
	})

	// No direct refresh from the authoritative source.
	require.Zero(t, f.count(p.router.Management()))
	require.Equal(t, WaitingForCompleteSource, p.State())

	p.handleTimeout(tagAction)
	require.Equal(t, AttemptingToBecomeMaster, p.State())
	require.Equal(t, wire.RequestClaimingMaster, f.lastManagement(t, p.router).RequestType)

	p.handleTimeout(tagAction)
	require.Equal(t, AmMaster, p.State())

	msg := f.lastManagement(t, p.router)
	require.Equal(t, wire.RequestSeekingRefresh, msg.RequestType)
	require.Equal(t, "source-of-truth", msg.DestID)
	require.Equal(t, wire.AuthoritativeMit, msg.Mit,
		"a master asks the authoritative source with the authoritative token")
}

func TestProtocol_PeerPreferredOverAuthoritative(t *testing.T) {
	p, _ := newTestProtocol(t, 500)
	p.requestCompleteCache()

	p.handleMessage(wire.ManagementMessage{
		ID: "source-of-truth", Mit: wire.AuthoritativeMit,
		RequestType: wire.RequestCacheSource, CacheState: wire.CacheStateComplete,
	})
	p.handleMessage(wire.ManagementMessage{
		ID: "peer-1", Mit: 77,
		RequestType: wire.RequestCacheSource, CacheState: wire.CacheStateComplete,
	})
	require.Equal(t, "peer-1", p.source.id)

	// A later authoritative sighting does not displace a known peer.
	p.source = betterSource(p.source, &refreshSource{id: "source-of-truth", mit: wire.AuthoritativeMit})
	require.Equal(t, "peer-1", p.source.id)
}

func TestProtocol_ConcedesToHigherToken(t *testing.T) {
	p, f := newTestProtocol(t, 42)
	p.sawAuthoritative = true
	p.requestMastership()
	f.reset()

	p.handleMessage(wire.ManagementMessage{
		ID: "rival", Mit: 100, RequestType: wire.RequestClaimingMaster,
	})

	require.Equal(t, WaitingForCompleteSource, p.State())
	require.Equal(t, 200*time.Millisecond, p.timeout, "timeout doubles on concession")
	require.Equal(t, wire.RequestSeekingCompleteCache, f.lastManagement(t, p.router).RequestType)
}

func TestProtocol_IgnoresLowerToken(t *testing.T) {
	p, f := newTestProtocol(t, 100)
	p.sawAuthoritative = true
	p.requestMastership()
	f.reset()

	p.handleMessage(wire.ManagementMessage{
		ID: "rival", Mit: 42, RequestType: wire.RequestClaimingMaster,
	})

	require.Equal(t, AttemptingToBecomeMaster, p.State())
	require.Zero(t, f.count(p.router.Management()))
}

func TestProtocol_ClaimWhileSeekingBacksOff(t *testing.T) {
	p, _ := newTestProtocol(t, 500)
	p.requestCompleteCache()

	p.handleMessage(wire.ManagementMessage{
		ID: "contender", Mit: 900, RequestType: wire.RequestClaimingMaster,
	})

	require.Equal(t, WaitingForCompleteSource, p.State())
	require.Equal(t, 200*time.Millisecond, p.timeout)
}

func TestProtocol_BackoffIsCapped(t *testing.T) {
	p, _ := newTestProtocol(t, 500)
	p.requestCompleteCache()

	for i := 0; i < 10; i++ {
		p.handleMessage(wire.ManagementMessage{
			ID: "contender", Mit: 900, RequestType: wire.RequestClaimingMaster,
		})
	}

	require.Equal(t, 800*time.Millisecond, p.timeout)
}

func TestProtocol_ReclaimTimerRebroadcastsClaim(t *testing.T) {
	p, f := newTestProtocol(t, 500)
	p.sawAuthoritative = true
	p.requestMastership()
	f.reset()

	p.handleTimeout(tagReclaim)

	require.Equal(t, AttemptingToBecomeMaster, p.State())
	require.Equal(t, wire.RequestClaimingMaster, f.lastManagement(t, p.router).RequestType)
}

func TestProtocol_DetectsDuplicateToken(t *testing.T) {
	p, f := newTestProtocol(t, 500)

	p.handleMessage(wire.ManagementMessage{
		ID: "impostor", Mit: 500,
		RequestType: wire.RequestSeekingCompleteCache,
	})

	msg := f.lastManagement(t, p.router)
	require.Equal(t, wire.RequestDuplicateMit, msg.RequestType)
	require.Equal(t, "impostor", msg.DestID)
}

func TestProtocol_RecoversFromDuplicateMit(t *testing.T) {
	p, f := newTestProtocol(t, 500)
	markComplete(p.store)
	require.True(t, p.store.IsComplete())

	p.handleMessage(wire.ManagementMessage{
		ID: "detector", DestID: p.nodeID, Mit: 500,
		RequestType: wire.RequestDuplicateMit,
	})

	require.NotEqual(t, int64(500), p.mit)
	require.Greater(t, p.mit, wire.AuthoritativeMit)
	require.False(t, p.store.IsComplete())
	require.Equal(t, WaitingForCompleteSource, p.State())
	require.Equal(t, wire.RequestSeekingCompleteCache, f.lastManagement(t, p.router).RequestType)
}

func TestProtocol_CompleteNodeAnswersSeekers(t *testing.T) {
	p, f := newTestProtocol(t, 500)
	markComplete(p.store)

	p.handleMessage(wire.ManagementMessage{
		ID: "newcomer", Mit: 7,
		RequestType: wire.RequestSeekingCompleteCache,
	})

	msg := f.lastManagement(t, p.router)
	require.Equal(t, wire.RequestCacheSource, msg.RequestType)
	require.Equal(t, wire.CacheStateComplete, msg.CacheState)
	require.Equal(t, int64(500), msg.Mit)
}

func TestProtocol_IncompleteMasterAnswersRequested(t *testing.T) {
	p, f := newTestProtocol(t, 500)
	p.state = AmMaster

	p.handleMessage(wire.ManagementMessage{
		ID: "newcomer", Mit: 7,
		RequestType: wire.RequestSeekingCompleteCache,
	})

	msg := f.lastManagement(t, p.router)
	require.Equal(t, wire.RequestCacheSource, msg.RequestType)
	require.Equal(t, wire.CacheStateRequested, msg.CacheState)
}

func TestProtocol_RequestedAdvertWaitsForNewMaster(t *testing.T) {
	p, f := newTestProtocol(t, 500)
	p.requestCompleteCache()
	f.reset()

	p.handleMessage(wire.ManagementMessage{
		ID: "busy-master", Mit: 60,
		RequestType: wire.RequestCacheSource,
		CacheState:  wire.CacheStateRequested,
	})
	require.Equal(t, WaitingForNewMaster, p.State())

	// The busy master never finished; start discovery over.
	p.handleTimeout(tagAction)
	require.Equal(t, WaitingForCompleteSource, p.State())
	require.Equal(t, wire.RequestSeekingCompleteCache, f.lastManagement(t, p.router).RequestType)
}

func TestProtocol_RefreshRequestPublishesSnapshot(t *testing.T) {
	p, f := newTestProtocol(t, 500)
	p.store.ApplyServiceAccount(wire.ServiceAccount{Action: wire.ActionCreate, ID: "sa1", Version: 1, Count: 1})
	p.store.ApplyEnvironment(wire.Environment{Action: wire.ActionCreate, ID: "e1", Version: 1, Count: 2})
	p.store.ApplyEnvironment(wire.Environment{Action: wire.ActionCreate, ID: "e2", Version: 1, Count: 2})
	require.True(t, p.store.IsComplete())

	p.handleMessage(wire.ManagementMessage{
		ID: "requester", DestID: p.nodeID, Mit: 500,
		RequestType: wire.RequestSeekingRefresh,
	})

	require.Eventually(t, func() bool {
		return f.count(p.router.Environments()) == 2 &&
			f.count(p.router.ServiceAccounts()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestProtocol_RefreshRequestWithForeignTokenIgnored(t *testing.T) {
	p, f := newTestProtocol(t, 500)
	markComplete(p.store)

	p.handleMessage(wire.ManagementMessage{
		ID: "requester", DestID: p.nodeID, Mit: 999,
		RequestType: wire.RequestSeekingRefresh,
	})

	time.Sleep(20 * time.Millisecond)
	require.Zero(t, f.count(p.router.Environments()))
}

func TestProtocol_RefreshRequestWhileContendingConcedes(t *testing.T) {
	p, _ := newTestProtocol(t, 500)
	p.sawAuthoritative = true
	p.requestMastership()

	p.handleMessage(wire.ManagementMessage{
		ID: "winner", DestID: p.nodeID, Mit: wire.AuthoritativeMit,
		RequestType: wire.RequestSeekingRefresh,
	})

	require.Equal(t, WaitingForCompleteSource, p.State())
}

func TestProtocol_IgnoresMessagesForOthers(t *testing.T) {
	p, f := newTestProtocol(t, 500)
	markComplete(p.store)

	p.handleMessage(wire.ManagementMessage{
		ID: "a", DestID: "someone-else", Mit: 7,
		RequestType: wire.RequestSeekingCompleteCache,
	})

	require.Zero(t, f.count(p.router.Management()))
}

func TestProtocol_IgnoresOwnEcho(t *testing.T) {
	p, f := newTestProtocol(t, 500)
	markComplete(p.store)

	p.handleMessage(wire.ManagementMessage{
		ID: p.nodeID, Mit: 500,
		RequestType: wire.RequestSeekingCompleteCache,
	})

	require.Zero(t, f.count(p.router.Management()))
}

func TestProtocol_CompletionRestsFromAnyState(t *testing.T) {
	p, _ := newTestProtocol(t, 500)
	p.sawAuthoritative = true
	p.requestMastership()
	p.timeout = 400 * time.Millisecond

	p.handleComplete()

	require.Equal(t, AtRest, p.State())
	require.Equal(t, 100*time.Millisecond, p.timeout, "rest resets the backoff")
}

func TestProtocol_MasterTimeoutWhileIncompleteRecontends(t *testing.T) {
	p, f := newTestProtocol(t, 500)
	p.sawAuthoritative = true
	p.source = &refreshSource{id: "source-of-truth", mit: wire.AuthoritativeMit}
	p.state = AmMaster
	f.reset()

	p.handleTimeout(tagAction)

	require.Equal(t, AttemptingToBecomeMaster, p.State())
	require.Equal(t, wire.RequestClaimingMaster, f.lastManagement(t, p.router).RequestType)
}

func TestProtocol_MasterTimeoutWhileCompleteRests(t *testing.T) {
	p, _ := newTestProtocol(t, 500)
	p.state = AmMaster
	markComplete(p.store)

	p.handleTimeout(tagAction)

	require.Equal(t, AtRest, p.State())
}

func TestProtocol_ElectionConverges(t *testing.T) {
	high, _ := newTestProtocol(t, 100)
	low, _ := newTestProtocol(t, 42)

	for _, p := range []*Protocol{high, low} {
		p.sawAuthoritative = true
		p.source = &refreshSource{id: "source-of-truth", mit: wire.AuthoritativeMit}
		p.requestMastership()
	}

	// Claims cross on the bus.
	low.handleMessage(wire.ManagementMessage{
		ID: high.nodeID, Mit: 100, RequestType: wire.RequestClaimingMaster,
	})
	high.handleMessage(wire.ManagementMessage{
		ID: low.nodeID, Mit: 42, RequestType: wire.RequestClaimingMaster,
	})

	require.Equal(t, WaitingForCompleteSource, low.State())
	require.Equal(t, AttemptingToBecomeMaster, high.State())

	high.handleTimeout(tagAction)
	require.Equal(t, AmMaster, high.State())
}

func TestProtocol_OnManagementDropsMalformed(t *testing.T) {
	p, _ := newTestProtocol(t, 500)

	p.OnManagement([]byte{0xff, 0xfe})
	require.Empty(t, p.inbox)

	data, err := wire.Encode(wire.ManagementMessage{ID: "a", Mit: 2, RequestType: wire.RequestSeekingCompleteCache})
	require.NoError(t, err)
	p.OnManagement(data)
	require.Len(t, p.inbox, 1)
}
