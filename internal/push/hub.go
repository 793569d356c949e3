package push

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The gateway listens on loopback; portal pages connect locally.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Envelope wraps every frame exchanged with portal pages.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

func envelope(typ string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: typ, Data: raw, Timestamp: time.Now().UnixMilli()})
}

// Page is one connected portal page. It satisfies Window: navigation and
// focus are frames the page acts on.
type Page struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	mu  sync.Mutex
	loc string
}

// URL returns the location the page last reported.
func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loc
}

func (p *Page) setURL(loc string) {
	p.mu.Lock()
	p.loc = loc
	p.mu.Unlock()
}

// Navigate asks the page to load url.
func (p *Page) Navigate(url string) error {
	return p.control("navigate", map[string]string{"url": url})
}

// Focus asks the page to bring itself to the foreground.
func (p *Page) Focus() error {
	return p.control("focus", nil)
}

func (p *Page) control(typ string, data interface{}) error {
	frame, err := envelope(typ, data)
	if err != nil {
		return err
	}
	select {
	case p.send <- frame:
		return nil
	default:
		return errors.New("page send buffer full")
	}
}

// Hub tracks connected portal pages. It is both the gateway's Notifier
// (intents are broadcast to every page) and its WindowRegistry (pages are
// the open windows click routing searches).
type Hub struct {
	mu    sync.RWMutex
	pages map[string]*Page

	// OnClick receives notification-click frames sent back by pages.
	OnClick func(click Click)

	// Opener opens a new window when no page is connected. Left nil, the
	// request is logged and dropped.
	Opener func(url string) error
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{pages: make(map[string]*Page)}
}

// ServeHTTP upgrades a portal page connection and serves it until the page
// goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("websocket upgrade: %v", err)
		return
	}

	page := &Page{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, 16),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	h.pages[page.id] = page
	h.mu.Unlock()
	log.Infof("portal page %s connected", page.id)

	go page.writePump()
	page.readPump()

	h.mu.Lock()
	delete(h.pages, page.id)
	h.mu.Unlock()
	close(page.done)
	log.Infof("portal page %s disconnected", page.id)
}

func (p *Page) writePump() {
	for {
		select {
		case frame := <-p.send:
			if err := p.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-p.done:
			return
		}
	}
}

func (p *Page) readPump() {
	defer p.conn.Close()

	for {
		_, raw, err := p.conn.ReadMessage()
		if err != nil {
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			log.Debugf("page %s sent malformed frame: %v", p.id, err)
			continue
		}

		switch env.Type {
		case "hello", "location":
			var data struct {
				URL string `json:"url"`
			}
			if err := json.Unmarshal(env.Data, &data); err == nil {
				p.setURL(data.URL)
			}
		case "notification-click":
			var click Click
			if err := json.Unmarshal(env.Data, &click); err != nil {
				log.Debugf("page %s sent malformed click: %v", p.id, err)
				continue
			}
			if p.hub.OnClick != nil {
				p.hub.OnClick(click)
			}
		default:
			log.Debugf("page %s sent unknown frame type %q", p.id, env.Type)
		}
	}
}

// Notify broadcasts a notification intent to every connected page.
func (h *Hub) Notify(ctx context.Context, intent Intent) error {
	frame, err := envelope("notification", intent)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, page := range h.pages {
		select {
		case page.send <- frame:
		default:
			log.Warnf("page %s send buffer full, dropping notification", page.id)
		}
	}
	return nil
}

// Windows returns the currently connected pages.
func (h *Hub) Windows(ctx context.Context) []Window {
	h.mu.RLock()
	defer h.mu.RUnlock()

	windows := make([]Window, 0, len(h.pages))
	for _, page := range h.pages {
		windows = append(windows, page)
	}
	return windows
}

// OpenWindow opens a new portal window via the configured opener.
func (h *Hub) OpenWindow(ctx context.Context, url string) error {
	if h.Opener == nil {
		log.Warnf("no opener configured, cannot open window at %s", url)
		return nil
	}
	return h.Opener(url)
}
