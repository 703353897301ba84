package protocol

// State is the node's position in the cache-population protocol. AtRest is
// the steady serving state but is re-entered whenever membership or data
// changes, never final.
type State int

const (
	WaitingForCompleteSource State = iota
	WaitingForCompleteCache
	AttemptingToBecomeMaster
	WaitingForNewMaster
	AmMaster
	AtRest
)

func (s State) String() string {
	switch s {
	case WaitingForCompleteSource:
		return "WAITING_FOR_COMPLETE_SOURCE"
	case WaitingForCompleteCache:
		return "WAITING_FOR_COMPLETE_CACHE"
	case AttemptingToBecomeMaster:
		return "ATTEMPTING_TO_BECOME_MASTER"
	case WaitingForNewMaster:
		return "WAITING_FOR_NEW_MASTER"
	case AmMaster:
		return "AM_MASTER"
	case AtRest:
		return "AT_REST"
	default:
		return "UNKNOWN"
	}
}
