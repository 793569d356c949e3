package proxy

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/dentflow/offgate/internal/offgate"
)

// Synthetic responses manufactured when neither network nor cache can serve
// a request. These are the only bodies the gateway invents itself.

func synthetic(req *http.Request, status int, header http.Header, body []byte) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		StatusCode:    status,
		Status:        http.StatusText(status),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

func emptyUnavailable(req *http.Request) *http.Response {
	return synthetic(req, http.StatusServiceUnavailable, nil, nil)
}

func offlineJSON(req *http.Request) *http.Response {
	body, err := json.Marshal(offgate.OfflineError{
		Error:   "Offline",
		Message: "No network connection and no cached data available",
		Offline: true,
	})
	if err != nil {
		panic(err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	return synthetic(req, http.StatusServiceUnavailable, header, body)
}

func queuedResponse(req *http.Request, id int64) *http.Response {
	body, err := json.Marshal(offgate.QueuedAck{Queued: true, ID: id})
	if err != nil {
		panic(err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	return synthetic(req, http.StatusAccepted, header, body)
}
