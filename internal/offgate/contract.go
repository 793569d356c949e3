package offgate

// Header and body contracts shared between the gateway and portal pages.

const (
	// HeaderFromCache is added to an API response served from the API
	// partition after a network failure, so the UI can warn about stale data.
	HeaderFromCache = "X-From-Cache"

	// HeaderQueueOffline is the caller's opt-in for deferred delivery: a
	// mutating request carrying this header is queued instead of failing
	// when the network is down.
	HeaderQueueOffline = "X-Offline-Queue"
)

// OfflineError is the synthetic body returned for an API request that failed
// with no cached fallback.
type OfflineError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Offline bool   `json:"offline"`
}

// QueuedAck is the body of the 202 answer for a mutation accepted into the
// pending-action queue.
type QueuedAck struct {
	Queued bool  `json:"queued"`
	ID     int64 `json:"id"`
}
