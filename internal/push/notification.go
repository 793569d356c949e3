// Package push turns opaque push payloads into notification intents, routes
// clicks back into the portal, and maintains the transports on both sides:
// the subscription to the push service and the hub of connected portal pages.
package push

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/dentflow/offgate/internal/offgate"
)

const (
	defaultTitle = "DentFlow"
	defaultIcon  = "/static/img/icon-192.png"
	defaultBadge = "/static/img/badge-72.png"
	defaultTag   = "dentflow-notification"

	ActionView    = "view"
	ActionDismiss = "dismiss"
)

var (
	normalVibration = []int{200, 100, 200}
	highVibration   = []int{200, 100, 200, 100, 200}
)

// Action is one button on a displayed notification.
type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// Data travels with a notification and is echoed back on click.
type Data struct {
	URL            string `json:"url"`
	JobID          string `json:"jobId,omitempty"`
	NotificationID string `json:"notificationId,omitempty"`
	Timestamp      int64  `json:"timestamp"`
}

// Intent is a fully resolved notification, ready for display. It lives only
// for the duration of one push event and any subsequent click.
type Intent struct {
	Title              string   `json:"title"`
	Body               string   `json:"body"`
	Icon               string   `json:"icon"`
	Badge              string   `json:"badge"`
	Image              string   `json:"image,omitempty"`
	Tag                string   `json:"tag"`
	Vibration          []int    `json:"vibration"`
	RequireInteraction bool     `json:"requireInteraction"`
	Actions            []Action `json:"actions"`
	Data               Data     `json:"data"`
}

// payload is the wire shape the push service sends. Identifiers may appear
// either at the top level or nested under data.
type payload struct {
	Title          string `json:"title"`
	Body           string `json:"body"`
	Icon           string `json:"icon"`
	Badge          string `json:"badge"`
	Image          string `json:"image"`
	Tag            string `json:"tag"`
	Priority       string `json:"priority"`
	URL            string `json:"url"`
	JobID          string `json:"jobId"`
	NotificationID string `json:"notificationId"`
	Data           struct {
		URL   string `json:"url"`
		JobID string `json:"jobId"`
	} `json:"data"`
}

// ParsePayload derives a notification intent from a raw push payload. A
// payload that is not valid JSON degrades to a plain-text notification with
// the default title instead of being dropped.
func ParsePayload(raw []byte, cfg offgate.Config) Intent {
	intent := Intent{
		Title:     defaultTitle,
		Icon:      defaultIcon,
		Badge:     defaultBadge,
		Tag:       defaultTag,
		Vibration: normalVibration,
		Actions: []Action{
			{Action: ActionView, Title: "View"},
			{Action: ActionDismiss, Title: "Dismiss"},
		},
		Data: Data{
			URL:       cfg.PortalRoot,
			Timestamp: time.Now().UnixMilli(),
		},
	}

	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		intent.Body = string(raw)
		return intent
	}

	if p.Title != "" {
		intent.Title = p.Title
	}
	intent.Body = p.Body
	if p.Icon != "" {
		intent.Icon = p.Icon
	}
	if p.Badge != "" {
		intent.Badge = p.Badge
	}
	intent.Image = p.Image
	if p.Tag != "" {
		intent.Tag = p.Tag
	}

	if strings.EqualFold(p.Priority, "high") {
		intent.Vibration = highVibration
		intent.RequireInteraction = true
	}

	if p.Data.URL != "" {
		intent.Data.URL = p.Data.URL
	} else if p.URL != "" {
		intent.Data.URL = p.URL
	}
	if p.Data.JobID != "" {
		intent.Data.JobID = p.Data.JobID
	} else {
		intent.Data.JobID = p.JobID
	}
	intent.Data.NotificationID = p.NotificationID

	return intent
}
