package wire

// AuthoritativeMit is the reserved membership token of the system of record.
// A replica never selects it for itself; a refresh request carrying it is
// addressed to the authoritative source.
const AuthoritativeMit int64 = 1

type CacheState string

const (
	CacheStateNone      CacheState = "NONE"
	CacheStateRequested CacheState = "REQUESTED"
	CacheStateComplete  CacheState = "COMPLETE"
)

type RequestType string

const (
	RequestSeekingCompleteCache RequestType = "SEEKING_COMPLETE_CACHE"
	RequestClaimingMaster       RequestType = "CLAIMING_MASTER"
	RequestSeekingRefresh       RequestType = "SEEKING_REFRESH"
	RequestCacheSource          RequestType = "CACHE_SOURCE"
	RequestDuplicateMit         RequestType = "DUPLICATE_MIT"
)

type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
	// ActionEmpty marks a collection as closed with zero members, so a
	// receiver can tell "legitimately empty" apart from "no response".
	ActionEmpty Action = "EMPTY"
)

// ManagementMessage is the protocol envelope exchanged on the
// cache-management channel. DestID narrows a broadcast to one addressee.
type ManagementMessage struct {
	ID          string      `json:"id"`
	DestID      string      `json:"destId,omitempty"`
	Mit         int64       `json:"mit"`
	RequestType RequestType `json:"requestType"`
	CacheState  CacheState  `json:"cacheState"`
}

type StrategyAttribute struct {
	FieldName   string   `json:"fieldName"`
	Conditional string   `json:"conditional"`
	Values      []string `json:"values,omitempty"`
}

type RolloutStrategy struct {
	ID         string              `json:"id"`
	Name       string              `json:"name,omitempty"`
	Percentage int64               `json:"percentage,omitempty"`
	Value      any                 `json:"value,omitempty"`
	Attributes []StrategyAttribute `json:"attributes,omitempty"`
}

// Feature is a feature definition. Its version moves independently of the
// version of any value published for it.
type Feature struct {
	ID        string `json:"id"`
	Key       string `json:"key"`
	ValueType string `json:"valueType,omitempty"`
	Version   int64  `json:"version"`
}

type FeatureValue struct {
	ID      string `json:"id"`
	Key     string `json:"key"`
	Version int64  `json:"version"`
	Value   any    `json:"value,omitempty"`
	Locked  bool   `json:"locked,omitempty"`
}

// FeatureState bundles a feature definition with its current value and the
// rollout strategies that apply to it inside one environment.
type FeatureState struct {
	Feature    Feature           `json:"feature"`
	Value      *FeatureValue     `json:"value,omitempty"`
	Strategies []RolloutStrategy `json:"strategies,omitempty"`
}

// Environment is published on the environment-updates channel, either as a
// streamed delta or as part of a full snapshot. Count is the watermark: the
// total number of environments the sender believes exist.
type Environment struct {
	Action            Action         `json:"action"`
	ID                string         `json:"id"`
	Version           int64          `json:"version"`
	Features          []FeatureState `json:"features,omitempty"`
	ServiceAccountIDs []string       `json:"serviceAccountIds,omitempty"`
	Count             int            `json:"count,omitempty"`
}

// ServiceAccount is published on the service-account channel. Count is the
// watermark for the service-account collection.
type ServiceAccount struct {
	Action           Action `json:"action"`
	ID               string `json:"id"`
	Version          int64  `json:"version"`
	Name             string `json:"name,omitempty"`
	APIKeyClientSide string `json:"apiKeyClientSide,omitempty"`
	APIKeyServerSide string `json:"apiKeyServerSide,omitempty"`
	Count            int    `json:"count,omitempty"`
}

// FeatureUpdate is a delta for a single feature within one environment,
// published on the feature-updates channel.
type FeatureUpdate struct {
	Action        Action            `json:"action"`
	EnvironmentID string            `json:"environmentId"`
	Feature       Feature           `json:"feature"`
	Value         *FeatureValue     `json:"value,omitempty"`
	Strategies    []RolloutStrategy `json:"strategies,omitempty"`
}

// FeatureRequest asks for the feature set visible to one API key in one
// environment, over the request/reply subject.
type FeatureRequest struct {
	APIKey        string `json:"apiKey"`
	EnvironmentID string `json:"environmentId"`
}

type FeatureResponse struct {
	Success  bool           `json:"success"`
	Error    string         `json:"error,omitempty"`
	Features []FeatureState `json:"features,omitempty"`
}
