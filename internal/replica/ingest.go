package replica

import (
	"log/slog"

	"flagcache/internal/metrics"
	"flagcache/internal/wire"
)

// The data channels feed the store directly, bypassing the sync protocol's
// state machine. A payload that does not decode is dropped; it must never
// take the merge path down.

func (s *Store) HandleEnvironment(data []byte) {
	var env wire.Environment
	if err := wire.Decode(data, &env); err != nil {
		metrics.MalformedMessagesTotal.WithLabelValues("environment").Inc()
		slog.Warn("dropping undecodable environment payload", "error", err)
		return
	}
	s.ApplyEnvironment(env)
}

func (s *Store) HandleServiceAccount(data []byte) {
	var acct wire.ServiceAccount
	if err := wire.Decode(data, &acct); err != nil {
		metrics.MalformedMessagesTotal.WithLabelValues("service_account").Inc()
		slog.Warn("dropping undecodable service account payload", "error", err)
		return
	}
	s.ApplyServiceAccount(acct)
}

func (s *Store) HandleFeatureValue(data []byte) {
	var update wire.FeatureUpdate
	if err := wire.Decode(data, &update); err != nil {
		metrics.MalformedMessagesTotal.WithLabelValues("feature").Inc()
		slog.Warn("dropping undecodable feature payload", "error", err)
		return
	}
	s.ApplyFeatureValue(update)
}
