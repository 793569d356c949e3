package offgate

import (
	"encoding/json"
	"net/http"
	"time"
)

// PendingAction is a mutating request that failed while offline and waits in
// the durable store for replay. The id is assigned by the store and is
// monotonic.
type PendingAction struct {
	ID        int64       `json:"id"`
	URL       string      `json:"url"`
	Method    string      `json:"method"`
	Header    http.Header `json:"header"`
	Body      []byte      `json:"body"`
	CreatedAt time.Time   `json:"created_at"`
}

// OfflineReport is a user-submitted report captured while offline. Unlike a
// PendingAction it always targets the fixed report endpoint and raises a
// confirmation notification once delivered.
type OfflineReport struct {
	ID        int64           `json:"id"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}

// Event is one entry of the portal's events listing, kept locally so the
// schedule stays browsable offline. Date is the event date in ISO form and
// is indexed for range queries.
type Event struct {
	ID      string          `json:"id"`
	Date    string          `json:"date"`
	Payload json.RawMessage `json:"payload"`
}
