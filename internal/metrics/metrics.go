package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProtocolState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "flagcache",
		Subsystem: "protocol",
		Name:      "state",
		Help:      "Current protocol state (0=waiting-source, 1=waiting-cache, 2=attempting-master, 3=waiting-master, 4=master, 5=at-rest)",
	})

	StateTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flagcache",
		Subsystem: "protocol",
		Name:      "state_transitions_total",
		Help:      "Total protocol state transitions",
	}, []string{"to"})

	ManagementMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flagcache",
		Subsystem: "protocol",
		Name:      "management_messages_total",
		Help:      "Management messages processed/sent by request type",
	}, []string{"direction", "type"})

	ElectionsConcededTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "flagcache",
		Subsystem: "protocol",
		Name:      "elections_conceded_total",
		Help:      "Times this node backed out of mastership contention",
	})

	IdentityCollisionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "flagcache",
		Subsystem: "protocol",
		Name:      "identity_collisions_total",
		Help:      "Times this node regenerated its membership token",
	})

	TimeoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flagcache",
		Subsystem: "protocol",
		Name:      "timeouts_total",
		Help:      "Protocol timer expiries by timer tag",
	}, []string{"tag"})

	CacheComplete = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "flagcache",
		Subsystem: "replica",
		Name:      "complete",
		Help:      "Whether the local replica holds a complete dataset (1=complete)",
	})

	EnvironmentsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "flagcache",
		Subsystem: "replica",
		Name:      "environments_total",
		Help:      "Environments held in the local replica",
	})

	ServiceAccountsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "flagcache",
		Subsystem: "replica",
		Name:      "service_accounts_total",
		Help:      "Service accounts held in the local replica",
	})

	PendingFeatureUpdates = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "flagcache",
		Subsystem: "replica",
		Name:      "pending_feature_updates",
		Help:      "Feature deltas buffered for environments not yet received",
	})

	StaleUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flagcache",
		Subsystem: "replica",
		Name:      "stale_updates_total",
		Help:      "Updates ignored because the held version was newer",
	}, []string{"entity"})

	MalformedMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flagcache",
		Subsystem: "bus",
		Name:      "malformed_messages_total",
		Help:      "Undecodable payloads dropped, by channel",
	}, []string{"channel"})

	PublishesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flagcache",
		Subsystem: "bus",
		Name:      "publishes_total",
		Help:      "Bus publishes by subject class and outcome",
	}, []string{"channel", "status"})

	SnapshotPublishDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "flagcache",
		Subsystem: "bus",
		Name:      "snapshot_publish_duration_seconds",
		Help:      "Time to publish a full cache snapshot",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
	})

	ResolveRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flagcache",
		Subsystem: "edge",
		Name:      "resolve_requests_total",
		Help:      "Feature-set resolve requests by outcome",
	}, []string{"status"})
)
