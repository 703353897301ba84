package main

import (
	"github.com/nats-io/nats.go"

	"flagcache/internal/bus"
	"flagcache/internal/configuration"
	"flagcache/internal/edge"
	"flagcache/internal/protocol"
	"flagcache/internal/replica"
)

type services struct {
	conn     *bus.Conn
	router   *bus.Router
	store    *replica.Store
	proto    *protocol.Protocol
	resolver *edge.Resolver
	subs     []*nats.Subscription
}

func newServices(cfg *configuration.Config) (*services, error) {
	router := bus.NewRouter(cfg.Cache.Name)

	conn, err := bus.Connect(bus.Config{
		URL:             cfg.Nats.URL,
		Name:            cfg.Nats.Name,
		ReconnectWait:   cfg.Nats.ReconnectWait(),
		MaxReconnects:   cfg.Nats.MaxReconnects,
		ConnectAttempts: cfg.Nats.ConnectAttempts,
	})
	if err != nil {
		return nil, err
	}

	store := replica.NewStore()

	proto := protocol.New(store, conn, router, protocol.Config{
		Timeout:        cfg.Cache.Timeout(),
		Jitter:         cfg.Cache.Jitter(),
		LongTimeout:    cfg.Cache.LongTimeout(),
		MaxTimeout:     cfg.Cache.MaxTimeout(),
		PublishWorkers: cfg.Cache.PublishWorkers,
	})

	return &services{
		conn:     conn,
		router:   router,
		store:    store,
		proto:    proto,
		resolver: edge.NewResolver(store, conn, router),
	}, nil
}

// Start wires the bus subjects: data channels feed the store directly,
// the management channel drives the protocol state machine.
func (s *services) Start() error {
	handlers := map[string]func([]byte){
		s.router.Management():      s.proto.OnManagement,
		s.router.Environments():    s.store.HandleEnvironment,
		s.router.ServiceAccounts(): s.store.HandleServiceAccount,
		s.router.Features():        s.store.HandleFeatureValue,
	}

	for subject, handler := range handlers {
		sub, err := s.conn.Subscribe(subject, func(msg *nats.Msg) {
			handler(msg.Data)
		})
		if err != nil {
			return err
		}
		s.subs = append(s.subs, sub)
	}

	if err := s.resolver.Start(); err != nil {
		return err
	}

	s.proto.Start()
	return nil
}

func (s *services) Stop() {
	s.proto.Stop()
	s.resolver.Stop()
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.conn.Close()
}
