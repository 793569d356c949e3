package push

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// Listener keeps a websocket subscription to the push service open and hands
// every received frame to the handler. Connection loss is retried with
// exponential backoff; a connection that stayed healthy resets the backoff.
type Listener struct {
	url    string
	handle func(ctx context.Context, payload []byte)
	dialer *websocket.Dialer
}

// NewListener returns a Listener delivering frames from url to handle.
func NewListener(url string, handle func(ctx context.Context, payload []byte)) *Listener {
	return &Listener{
		url:    url,
		handle: handle,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// Run blocks until ctx is cancelled, reconnecting as needed.
func (l *Listener) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0 // keep retrying until ctx is cancelled

	for {
		started := time.Now()
		err := l.connect(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if time.Since(started) > time.Minute {
			bo.Reset()
		}

		wait := bo.NextBackOff()
		log.Warnf("push connection lost: %v, reconnecting in %v", err, wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (l *Listener) connect(ctx context.Context) error {
	conn, _, err := l.dialer.DialContext(ctx, l.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	log.Infof("subscribed to push service at %s", l.url)

	// Close the connection when ctx ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		l.handle(ctx, payload)
	}
}
