package edge

import (
	"errors"
	"log/slog"

	"github.com/nats-io/nats.go"

	"flagcache/internal/bus"
	"flagcache/internal/metrics"
	"flagcache/internal/replica"
	"flagcache/internal/wire"
)

// Resolver answers feature-set lookups from edge-serving processes over
// the bus's request/reply subject, straight out of the local replica.
type Resolver struct {
	store  *replica.Store
	conn   *bus.Conn
	router *bus.Router
	sub    *nats.Subscription
}

func NewResolver(store *replica.Store, conn *bus.Conn, router *bus.Router) *Resolver {
	return &Resolver{store: store, conn: conn, router: router}
}

func (r *Resolver) Start() error {
	sub, err := r.conn.Subscribe(r.router.FeatureRequests(), func(msg *nats.Msg) {
		reply := r.respond(msg.Data)
		if err := msg.Respond(reply); err != nil {
			slog.Error("feature request reply failed", "error", err)
		}
	})
	if err != nil {
		return err
	}
	r.sub = sub
	slog.Info("edge resolver listening", "subject", r.router.FeatureRequests())
	return nil
}

func (r *Resolver) Stop() {
	if r.sub != nil {
		r.sub.Unsubscribe()
	}
}

func (r *Resolver) respond(data []byte) []byte {
	var req wire.FeatureRequest
	if err := wire.Decode(data, &req); err != nil {
		metrics.ResolveRequestsTotal.WithLabelValues("malformed").Inc()
		return encodeResponse(wire.FeatureResponse{Success: false, Error: "bad request"})
	}

	features, err := r.store.Resolve(req.EnvironmentID, req.APIKey)
	if err != nil {
		if errors.Is(err, replica.ErrNotFound) {
			metrics.ResolveRequestsTotal.WithLabelValues("not_found").Inc()
			return encodeResponse(wire.FeatureResponse{Success: false, Error: "not found"})
		}
		metrics.ResolveRequestsTotal.WithLabelValues("error").Inc()
		return encodeResponse(wire.FeatureResponse{Success: false, Error: "internal"})
	}

	metrics.ResolveRequestsTotal.WithLabelValues("ok").Inc()
	return encodeResponse(wire.FeatureResponse{Success: true, Features: features})
}

func encodeResponse(resp wire.FeatureResponse) []byte {
	data, err := wire.Encode(resp)
	if err != nil {
		slog.Error("encode feature response", "error", err)
		return []byte(`{"success":false,"error":"internal"}`)
	}
	return data
}
