// Package events defines reportable events and the pure stages that prepare
// them for delivery: validation against a tenant event definition and
// normalization of parameter values.
package events

import (
	"maps"
	"strconv"
	"time"

	"github.com/solatis/relaykit/internal/types"
)

// Well-known event names. Tenants declare these in their event catalogue
// like any custom event.
const (
	NameSetUserID             = "set_user_id_event"
	NameSetEmail              = "set_email_event"
	NameNotificationDelivered = "notification_delivered"
	NameNotificationOpened    = "notification_opened"
	NameNotificationDismissed = "notification_dismissed"
	NamePageVisit             = "set_page_visit"
	NamePing                  = "sdk_ping"
)

// Event is a named, immutable bag of parameters.
type Event struct {
	name   string
	params types.Parameters
	kind   types.IdentityKind
}

// Custom builds an application event. The parameter map is copied.
func Custom(name string, params map[string]any) Event {
	return Event{name: name, params: copyParams(params)}
}

// SetUserID builds the identity event that links an anonymous visitor to a
// customer id.
func SetUserID(originalVisitorID, userID, updatedVisitorID string) Event {
	return Event{
		name: NameSetUserID,
		kind: types.IdentitySetUserID,
		params: types.Parameters{
			"originalVisitorId": originalVisitorID,
			"userId":            userID,
			"updatedVisitorId":  updatedVisitorID,
		},
	}
}

// SetEmail builds the identity event that records a user's email.
func SetEmail(email string) Event {
	return Event{
		name:   NameSetEmail,
		kind:   types.IdentitySetEmail,
		params: types.Parameters{"email": email},
	}
}

// Campaign identifies the campaign a notification belongs to.
type Campaign struct {
	CampaignID   string
	ActionSerial string
	TemplateID   string
	EngagementID string
	CampaignType string
}

func notificationEvent(name string, at time.Time, appNS string, c Campaign) Event {
	return Event{
		name: name,
		params: types.Parameters{
			"timestamp":     strconv.FormatInt(at.Unix(), 10),
			"app_ns":        appNS,
			"campaign_id":   c.CampaignID,
			"action_serial": c.ActionSerial,
			"template_id":   c.TemplateID,
			"engagement_id": c.EngagementID,
			"campaign_type": c.CampaignType,
		},
	}
}

// NotificationDelivered reports that a push notification reached the device.
func NotificationDelivered(at time.Time, appNS string, c Campaign) Event {
	return notificationEvent(NameNotificationDelivered, at, appNS, c)
}

// NotificationOpened reports that the user opened a notification.
func NotificationOpened(at time.Time, appNS string, c Campaign) Event {
	return notificationEvent(NameNotificationOpened, at, appNS, c)
}

// NotificationDismissed reports that the user dismissed a notification.
func NotificationDismissed(at time.Time, appNS string, c Campaign) Event {
	return notificationEvent(NameNotificationDismissed, at, appNS, c)
}

// PageVisit reports a screen visit. Category is omitted when empty.
func PageVisit(customURL, pageTitle, category string) Event {
	params := types.Parameters{
		"customURL": customURL,
		"pageTitle": pageTitle,
	}
	if category != "" {
		params["category"] = category
	}
	return Event{name: NamePageVisit, params: params}
}

// Ping answers a backend liveness command.
func Ping(at time.Time, platform, appNS, deviceID string) Event {
	return Event{
		name: NamePing,
		params: types.Parameters{
			"event_platform":      platform,
			"event_device_type":   "Mobile",
			"event_os":            platform,
			"event_native_mobile": true,
			"app_ns":              appNS,
			"device_id":           deviceID,
			"timestamp":           strconv.FormatInt(at.Unix(), 10),
		},
	}
}

// Name returns the event name.
func (e Event) Name() string { return e.name }

// Kind returns the identity kind, or IdentityNone for ordinary events.
func (e Event) Kind() types.IdentityKind { return e.kind }

// Parameters returns a copy of the parameter map.
func (e Event) Parameters() types.Parameters { return copyParams(e.params) }

// Param returns a single parameter value.
func (e Event) Param(key string) (any, bool) {
	v, ok := e.params[key]
	return v, ok
}

// Len is the number of parameters.
func (e Event) Len() int { return len(e.params) }

func copyParams(in map[string]any) types.Parameters {
	out := make(types.Parameters, len(in))
	maps.Copy(out, in)
	return out
}
