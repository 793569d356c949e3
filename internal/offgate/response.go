package offgate

import (
	"bytes"
	"io"
	"net/http"

	"github.com/pkg/errors"
)

// CapturedResponse is a response body plus the metadata needed to replay it
// byte for byte: status line, headers and body. This is what partitions store.
type CapturedResponse struct {
	StatusCode int         `json:"status_code"`
	Status     string      `json:"status"`
	Header     http.Header `json:"header"`
	Body       []byte      `json:"body"`
}

// Capture drains resp.Body and returns the captured form. The original
// response body is closed; callers hand out Response() copies afterwards.
func Capture(resp *http.Response) (*CapturedResponse, error) {
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, errors.Wrap(err, "io.ReadAll")
	}

	return &CapturedResponse{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header.Clone(),
		Body:       body,
	}, nil
}

// Response materializes the captured data as an *http.Response for req.
// Every call returns an independent response with its own body reader.
func (cr *CapturedResponse) Response(req *http.Request) *http.Response {
	return &http.Response{
		StatusCode:    cr.StatusCode,
		Status:        cr.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        cr.Header.Clone(),
		Body:          io.NopCloser(bytes.NewReader(cr.Body)),
		ContentLength: int64(len(cr.Body)),
		Request:       req,
	}
}
