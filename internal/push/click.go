package push

import (
	"context"
	"net/url"

	log "github.com/sirupsen/logrus"
)

// Notifier displays a notification to the user. The hub-backed notifier
// forwards intents to connected portal pages; tests substitute a fake.
type Notifier interface {
	Notify(ctx context.Context, intent Intent) error
}

// Window is one open portal page.
type Window interface {
	// URL returns the page's current location.
	URL() string
	// Navigate points the page at url.
	Navigate(url string) error
	// Focus brings the page to the foreground.
	Focus() error
}

// WindowRegistry enumerates open portal pages and opens new ones. It is the
// gateway's view of the hosting runtime's client list.
type WindowRegistry interface {
	Windows(ctx context.Context) []Window
	OpenWindow(ctx context.Context, url string) error
}

// Click is a user interaction with a displayed notification.
type Click struct {
	Action string `json:"action"`
	Data   Data   `json:"data"`
}

// Router routes notification clicks back into the portal.
type Router struct {
	windows    WindowRegistry
	originHost string
	portalRoot string
}

// NewRouter returns a Router matching pages against the given origin.
func NewRouter(windows WindowRegistry, origin, portalRoot string) (*Router, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return nil, err
	}
	return &Router{windows: windows, originHost: u.Host, portalRoot: portalRoot}, nil
}

// HandleClick routes one click: dismiss does nothing further, any other
// interaction navigates the first open page matching the portal origin to
// the stored target and focuses it, or opens exactly one new window when no
// matching page is open.
func (r *Router) HandleClick(ctx context.Context, click Click) error {
	if click.Action == ActionDismiss {
		return nil
	}

	target := click.Data.URL
	if target == "" {
		target = r.portalRoot
	}

	for _, w := range r.windows.Windows(ctx) {
		if !r.matchesOrigin(w.URL()) {
			continue
		}

		log.Debugf("routing click to open page at %s", w.URL())
		if err := w.Navigate(target); err != nil {
			return err
		}
		return w.Focus()
	}

	log.Debugf("no open page, opening window at %s", target)
	return r.windows.OpenWindow(ctx, target)
}

// matchesOrigin reports whether a page location belongs to the portal.
// Relative locations always match.
func (r *Router) matchesOrigin(loc string) bool {
	u, err := url.Parse(loc)
	if err != nil {
		return false
	}
	return u.Host == "" || u.Host == r.originHost
}
