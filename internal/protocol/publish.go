package protocol

import (
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"flagcache/internal/metrics"
	"flagcache/internal/wire"
)

// publishFullCache pushes the entire local dataset onto the data channels,
// one entity at a time. The work runs on a bounded pool off the protocol
// goroutine so a large snapshot never blocks message handling.
func (p *Protocol) publishFullCache() {
	envs := p.store.SnapshotEnvironments()
	accounts := p.store.SnapshotServiceAccounts()

	go p.publishSnapshot(envs, accounts)
}

func (p *Protocol) publishSnapshot(envs []wire.Environment, accounts []wire.ServiceAccount) {
	start := time.Now()

	var g errgroup.Group
	g.SetLimit(p.cfg.PublishWorkers)

	for _, env := range envs {
		env := env
		g.Go(func() error {
			p.publishEntity(p.router.Environments(), env)
			return nil
		})
	}
	for _, acct := range accounts {
		acct := acct
		g.Go(func() error {
			p.publishEntity(p.router.ServiceAccounts(), acct)
			return nil
		})
	}
	g.Wait()

	metrics.SnapshotPublishDuration.Observe(time.Since(start).Seconds())
	slog.Info("published full cache snapshot",
		"node_id", p.nodeID,
		"environments", len(envs),
		"service_accounts", len(accounts),
		"took", time.Since(start),
	)
}

func (p *Protocol) publishEntity(subject string, entity any) {
	data, err := wire.Encode(entity)
	if err != nil {
		slog.Error("encode snapshot entity", "subject", subject, "error", err)
		return
	}
	// Publish errors are logged by the bus and not retried here; a receiver
	// that misses entities will time out and re-request.
	p.pub.Publish(subject, data)
}
