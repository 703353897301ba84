package protocol

import (
	"log/slog"

	"flagcache/internal/metrics"
	"flagcache/internal/wire"
)

func (p *Protocol) handleMessage(msg wire.ManagementMessage) {
	if msg.DestID != "" && msg.DestID != p.nodeID {
		return
	}

	metrics.ManagementMessagesTotal.WithLabelValues("in", string(msg.RequestType)).Inc()

	// A DUPLICATE_MIT addressed to us is processed even when the sender id
	// matches our own: a node sharing our id is exactly the collision being
	// reported.
	if msg.RequestType == wire.RequestDuplicateMit {
		if msg.DestID == p.nodeID {
			p.recoverIdentity()
		}
		return
	}

	if msg.ID == p.nodeID {
		return
	}

	// A refresh request legitimately carries the responder's token, so it
	// is exempt from collision detection.
	if msg.Mit == p.mit && msg.RequestType != wire.RequestSeekingRefresh {
		slog.Warn("another node advertises our membership token",
			"node_id", p.nodeID, "other_id", msg.ID, "mit", p.mit)
		p.sendManagement(wire.ManagementMessage{
			DestID:      msg.ID,
			Mit:         p.mit,
			RequestType: wire.RequestDuplicateMit,
		})
		return
	}

	switch msg.RequestType {
	case wire.RequestSeekingCompleteCache:
		p.answerSeeker()
	case wire.RequestCacheSource:
		p.handleSourceAdvert(msg)
	case wire.RequestClaimingMaster:
		p.handleClaim(msg)
	case wire.RequestSeekingRefresh:
		p.handleRefreshRequest(msg)
	default:
		slog.Debug("ignoring unknown management request", "type", msg.RequestType)
	}
}

// answerSeeker responds to a SEEKING_COMPLETE_CACHE broadcast. A complete
// node always advertises itself; an incomplete master tells the seeker a
// refresh is already underway so it waits instead of starting another.
func (p *Protocol) answerSeeker() {
	if p.store.IsComplete() {
		p.sendManagement(wire.ManagementMessage{
			Mit:         p.mit,
			RequestType: wire.RequestCacheSource,
			CacheState:  wire.CacheStateComplete,
		})
		return
	}
	if p.state == AmMaster {
		p.sendManagement(wire.ManagementMessage{
			Mit:         p.mit,
			RequestType: wire.RequestCacheSource,
			CacheState:  wire.CacheStateRequested,
		})
	}
}

func (p *Protocol) handleSourceAdvert(msg wire.ManagementMessage) {
	switch msg.CacheState {
	case wire.CacheStateComplete:
		if p.store.IsComplete() {
			return
		}

		if msg.Mit == wire.AuthoritativeMit {
			p.sawAuthoritative = true
		}
		p.source = betterSource(p.source, &refreshSource{id: msg.ID, mit: msg.Mit})

		// Only a peer gets an immediate refresh request; the authoritative
		// source is the fallback of last resort, reached via mastership.
		if p.state == WaitingForCompleteSource && msg.Mit != wire.AuthoritativeMit {
			p.sendManagement(wire.ManagementMessage{
				DestID:      msg.ID,
				Mit:         msg.Mit,
				RequestType: wire.RequestSeekingRefresh,
			})
			p.setState(WaitingForCompleteCache)
			p.armAction(p.timeout + p.jitter())
		}

	case wire.CacheStateRequested:
		// A master is mid-refresh; give the fetch room to finish.
		if p.state == WaitingForCompleteSource {
			p.setState(WaitingForNewMaster)
			p.armAction(p.cfg.LongTimeout + p.jitter())
		}
	}
}

// handleClaim is the bully election: a higher token always wins and the
// loser concedes unconditionally, so no comparison ever involves more than
// two tokens.
func (p *Protocol) handleClaim(msg wire.ManagementMessage) {
	switch p.state {
	case AttemptingToBecomeMaster:
		if msg.Mit > p.mit {
			p.concede()
		}
	case WaitingForCompleteSource:
		// Someone else is already contending; don't pile on.
		p.concede()
	}
}

func (p *Protocol) handleRefreshRequest(msg wire.ManagementMessage) {
	if msg.DestID != p.nodeID {
		return
	}

	if p.store.IsComplete() && msg.Mit == p.mit {
		p.publishFullCache()
		return
	}

	// Being chosen as a refresh source while still contending means another
	// contender already declared itself master.
	if p.state == AttemptingToBecomeMaster {
		p.concede()
	}
}

// requestCompleteCache starts (or restarts) discovery.
func (p *Protocol) requestCompleteCache() {
	if p.store.IsComplete() {
		p.enterAtRest()
		return
	}

	p.sendManagement(wire.ManagementMessage{
		Mit:         p.mit,
		RequestType: wire.RequestSeekingCompleteCache,
	})
	p.setState(WaitingForCompleteSource)
	p.armAction(p.timeout + p.jitter())
}

func (p *Protocol) handleTimeout(tag timerTag) {
	if tag == tagReclaim {
		if p.state == AttemptingToBecomeMaster {
			p.sendManagement(wire.ManagementMessage{
				Mit:         p.mit,
				RequestType: wire.RequestClaimingMaster,
			})
			p.timers.Arm(tagReclaim, p.timeout/2)
		}
		return
	}

	switch p.state {
	case WaitingForCompleteSource:
		if p.sawAuthoritative {
			// A complete source exists but never offered a direct refresh;
			// contend to become the one that asks it.
			p.requestMastership()
		} else {
			p.requestCompleteCache()
		}

	case WaitingForCompleteCache, WaitingForNewMaster:
		// The refresh or the busy master never delivered; start over.
		p.requestCompleteCache()

	case AttemptingToBecomeMaster:
		p.declareMaster()

	case AmMaster:
		if p.store.IsComplete() {
			p.enterAtRest()
		} else {
			p.requestMastership()
		}
	}
}

func (p *Protocol) requestMastership() {
	if !p.sawAuthoritative {
		p.requestCompleteCache()
		return
	}

	p.setState(AttemptingToBecomeMaster)
	p.sendManagement(wire.ManagementMessage{
		Mit:         p.mit,
		RequestType: wire.RequestClaimingMaster,
	})
	p.armAction(p.timeout + p.jitter())
	p.timers.Arm(tagReclaim, p.timeout/2)
}

func (p *Protocol) declareMaster() {
	p.timers.CancelAll()

	if p.source == nil {
		p.requestCompleteCache()
		return
	}

	p.setState(AmMaster)

	// The refresh request carries the authoritative token, not our own: the
	// responder only bulk-publishes when the requested mit matches its own
	// self-identification, and the system of record identifies as 1.
	p.sendManagement(wire.ManagementMessage{
		DestID:      p.source.id,
		Mit:         wire.AuthoritativeMit,
		RequestType: wire.RequestSeekingRefresh,
	})
	p.armAction(p.cfg.LongTimeout + p.jitter())
}

// concede backs out of contention (or declines to start one), doubles the
// timeout and restarts discovery. Duplicate masters converge through this
// path.
func (p *Protocol) concede() {
	p.timers.CancelAll()
	metrics.ElectionsConcededTotal.Inc()

	p.timeout *= 2
	if p.timeout > p.cfg.MaxTimeout {
		p.timeout = p.cfg.MaxTimeout
	}
	p.requestCompleteCache()
}

// recoverIdentity handles a DUPLICATE_MIT addressed to this node: pick a
// fresh token, drop everything we hold and rediscover from empty.
func (p *Protocol) recoverIdentity() {
	metrics.IdentityCollisionsTotal.Inc()

	old := p.mit
	p.mit = NewMit()
	slog.Warn("membership token collision, regenerated",
		"node_id", p.nodeID, "old_mit", old, "new_mit", p.mit)

	p.timers.CancelAll()
	p.store.Clear()
	p.source = nil
	p.sawAuthoritative = false
	p.timeout = p.cfg.Timeout
	p.requestCompleteCache()
}

// handleComplete fires when the store crosses into completeness, from any
// state.
func (p *Protocol) handleComplete() {
	slog.Info("local cache complete", "node_id", p.nodeID)
	p.enterAtRest()
}

func (p *Protocol) enterAtRest() {
	p.timers.CancelAll()
	p.timeout = p.cfg.Timeout
	p.setState(AtRest)
}
