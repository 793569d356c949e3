package worker

import (
	"net/http"

	"github.com/dentflow/offgate/internal/push"
)

// Event is the closed set of occurrences the worker reacts to. Handlers are
// selected by type; anything else is rejected at dispatch.
type Event interface {
	event()
}

// Install precaches the app-shell manifest into the STATIC partition.
type Install struct{}

// Activate sweeps partitions left over from older version tokens.
type Activate struct{}

// Fetch answers one outbound request through the caching policy.
type Fetch struct {
	Req *http.Request
}

// Sync replays both durable queues.
type Sync struct {
	Tag string
}

// PeriodicSync refreshes the cached events listing. It is a read-refresh
// trigger, distinct from Sync's queue replay.
type PeriodicSync struct {
	Tag string
}

// Push carries one raw payload from the push service.
type Push struct {
	Payload []byte
}

// NotificationClick carries a user interaction with a displayed notification.
type NotificationClick struct {
	Click push.Click
}

func (Install) event()           {}
func (Activate) event()          {}
func (Fetch) event()             {}
func (Sync) event()              {}
func (PeriodicSync) event()      {}
func (Push) event()              {}
func (NotificationClick) event() {}
