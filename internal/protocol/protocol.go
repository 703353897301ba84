package protocol

import (
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"flagcache/internal/bus"
	"flagcache/internal/metrics"
	"flagcache/internal/replica"
	"flagcache/internal/wire"
)

// Publisher is the slice of the bus the protocol needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

type Config struct {
	// Timeout is the base action timeout; backoff doubles it up to
	// MaxTimeout and AT_REST resets it.
	Timeout time.Duration
	// Jitter is the maximum random addition to any armed timeout, enough
	// to desynchronize a fleet that starts simultaneously.
	Jitter time.Duration
	// LongTimeout covers waits on a bulk refresh, which may be slow.
	LongTimeout time.Duration
	MaxTimeout  time.Duration
	// PublishWorkers bounds the pool publishing full snapshots.
	PublishWorkers int
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.Jitter <= 0 {
		c.Jitter = 50 * time.Millisecond
	}
	if c.LongTimeout <= 0 {
		c.LongTimeout = 2 * c.Timeout
	}
	if c.MaxTimeout <= 0 {
		c.MaxTimeout = 8 * c.Timeout
	}
	if c.PublishWorkers <= 0 {
		c.PublishWorkers = 4
	}
	return c
}

// Protocol is the cache-population state machine. All state lives on one
// goroutine: bus messages, timer expiries and the store's completion
// signal are serialized through the run loop, so no transition races
// another within the node.
type Protocol struct {
	nodeID string
	mit    int64

	store  *replica.Store
	pub    Publisher
	router *bus.Router
	cfg    Config

	state            State
	source           *refreshSource
	sawAuthoritative bool
	timeout          time.Duration

	timers     *timerSet
	inbox      chan wire.ManagementMessage
	completeCh chan struct{}
	stopCh     chan struct{}
	stoppedWg  sync.WaitGroup
}

func New(store *replica.Store, pub Publisher, router *bus.Router, cfg Config) *Protocol {
	cfg = cfg.withDefaults()
	p := &Protocol{
		nodeID:     NewNodeID(),
		mit:        NewMit(),
		store:      store,
		pub:        pub,
		router:     router,
		cfg:        cfg,
		state:      WaitingForCompleteSource,
		timeout:    cfg.Timeout,
		timers:     newTimerSet(),
		inbox:      make(chan wire.ManagementMessage, 64),
		completeCh: make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
	}

	store.OnComplete(func() {
		select {
		case p.completeCh <- struct{}{}:
		default:
		}
	})

	return p
}

func (p *Protocol) NodeID() string { return p.nodeID }
func (p *Protocol) Mit() int64     { return p.mit }
func (p *Protocol) State() State   { return p.state }

func (p *Protocol) Start() {
	p.stoppedWg.Add(1)
	go p.run()
	slog.Info("cache sync protocol started",
		"node_id", p.nodeID, "mit", p.mit, "cache", p.router.CacheName())
}

func (p *Protocol) Stop() {
	close(p.stopCh)
	p.stoppedWg.Wait()
	p.timers.CancelAll()
	slog.Info("cache sync protocol stopped", "node_id", p.nodeID)
}

func (p *Protocol) run() {
	defer p.stoppedWg.Done()

	p.requestCompleteCache()

	for {
		select {
		case <-p.stopCh:
			return

		case msg := <-p.inbox:
			p.handleMessage(msg)

		case ev := <-p.timers.C():
			if p.timers.live(ev) {
				metrics.TimeoutsTotal.WithLabelValues(string(ev.tag)).Inc()
				p.handleTimeout(ev.tag)
			}

		case <-p.completeCh:
			p.handleComplete()
		}
	}
}

// OnManagement is the management-channel subscription handler. It decodes
// off the bus thread and enqueues onto the protocol loop; a full inbox
// drops the message, which the protocol's own timeouts absorb.
func (p *Protocol) OnManagement(data []byte) {
	var msg wire.ManagementMessage
	if err := wire.Decode(data, &msg); err != nil {
		metrics.MalformedMessagesTotal.WithLabelValues("management").Inc()
		slog.Warn("dropping undecodable management payload", "error", err)
		return
	}

	select {
	case p.inbox <- msg:
	default:
		slog.Warn("management inbox full, dropping message", "type", msg.RequestType)
	}
}

func (p *Protocol) setState(to State) {
	if p.state != to {
		slog.Debug("state transition", "node_id", p.nodeID, "from", p.state, "to", to)
	}
	p.state = to
	metrics.ProtocolState.Set(float64(to))
	metrics.StateTransitionsTotal.WithLabelValues(to.String()).Inc()
}

func (p *Protocol) sendManagement(msg wire.ManagementMessage) {
	msg.ID = p.nodeID
	if msg.CacheState == "" {
		msg.CacheState = wire.CacheStateNone
	}

	data, err := wire.Encode(msg)
	if err != nil {
		slog.Error("encode management message", "type", msg.RequestType, "error", err)
		return
	}

	metrics.ManagementMessagesTotal.WithLabelValues("out", string(msg.RequestType)).Inc()
	p.pub.Publish(p.router.Management(), data)
}

func (p *Protocol) jitter() time.Duration {
	return time.Duration(rand.Int63n(int64(p.cfg.Jitter)))
}

func (p *Protocol) armAction(d time.Duration) {
	p.timers.Arm(tagAction, d)
}
