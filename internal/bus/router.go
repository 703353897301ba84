package bus

// DefaultCacheName is used when no cache name is configured.
const DefaultCacheName = "default"

// Router resolves a logical cache name to the bus subjects a node uses.
// Subject names are versioned so incompatible protocol revisions can run
// side by side on one bus.
type Router struct {
	cache string
}

func NewRouter(cache string) *Router {
	if cache == "" {
		cache = DefaultCacheName
	}
	return &Router{cache: cache}
}

func (r *Router) CacheName() string { return r.cache }

func (r *Router) Management() string { return r.cache + "/cache-management-v2" }

func (r *Router) Environments() string { return r.cache + "/environment-updates-v2" }

func (r *Router) ServiceAccounts() string { return r.cache + "/service-account-channel-v2" }

func (r *Router) Features() string { return r.cache + "/feature-updates-v2" }

// FeatureRequests is the request/reply subject edge processes use to fetch
// the feature set for one API key.
func (r *Router) FeatureRequests() string { return r.cache + "/feature-request-v2" }
