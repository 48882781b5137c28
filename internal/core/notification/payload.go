// Package notification handles inbound push payloads: augmenting displayed
// notifications under a deadline, answering backend commands, and reporting
// user responses.
package notification

import (
	"fmt"
	"maps"
	"strconv"

	"github.com/solatis/relaykit/internal/events"
	"github.com/solatis/relaykit/internal/types"
)

// Payload keys.
const (
	KeyIsOurs          = "is_optipush"
	KeyTitle           = "title"
	KeyBody            = "content"
	KeyCollapseKey     = "collapse_Key"
	KeyDynamicLinks    = "dynamic_links"
	KeyDynamicLink     = "dynamic_link"
	KeyPersonalization = "deep_link_personalization_values"
	KeyIsCommand       = "is_optimove_sdk_command"
	KeyCommand         = "command"

	KeyCampaignID   = "campaign_id"
	KeyActionSerial = "action_serial"
	KeyTemplateID   = "template_id"
	KeyEngagementID = "engagement_id"
	KeyCampaignType = "campaign_type"
)

// DismissCategory marks notifications whose dismissal is reported.
const DismissCategory = "dismiss"

// IsOurs reports whether raw was sent by our push backend.
func IsOurs(raw map[string]any) bool {
	return stringValue(raw, KeyIsOurs) == "true"
}

// IsCommand reports whether raw is a silent backend command.
func IsCommand(raw map[string]any) bool {
	return stringValue(raw, KeyIsCommand) == "true"
}

// Content is the notification as it will be displayed.
type Content struct {
	Title       string
	Body        string
	CollapseKey string
	Category    string
	UserInfo    map[string]any
}

// DynamicLink returns the resolved deep link attached during augmentation.
func (c Content) DynamicLink() (string, bool) {
	link, ok := c.UserInfo[KeyDynamicLink].(string)
	return link, ok && link != ""
}

func (c Content) clone() Content {
	c.UserInfo = maps.Clone(c.UserInfo)
	return c
}

// MinimalContent builds the displayable content from the payload alone.
func MinimalContent(raw map[string]any) Content {
	collapse := stringValue(raw, KeyCollapseKey)
	if collapse == "" {
		collapse = "default"
	}
	info := maps.Clone(raw)
	if info == nil {
		info = map[string]any{}
	}
	return Content{
		Title:       stringValue(raw, KeyTitle),
		Body:        stringValue(raw, KeyBody),
		CollapseKey: collapse,
		Category:    DismissCategory,
		UserInfo:    info,
	}
}

// CampaignFrom extracts campaign details. All five fields are required;
// otherwise ErrNoCampaign is returned.
func CampaignFrom(raw map[string]any) (events.Campaign, error) {
	fields := []string{KeyCampaignID, KeyActionSerial, KeyTemplateID, KeyEngagementID, KeyCampaignType}
	values := make([]string, len(fields))
	for i, key := range fields {
		values[i] = stringValue(raw, key)
		if values[i] == "" {
			return events.Campaign{}, fmt.Errorf("%w: missing %s", types.ErrNoCampaign, key)
		}
	}
	return events.Campaign{
		CampaignID:   values[0],
		ActionSerial: values[1],
		TemplateID:   values[2],
		EngagementID: values[3],
		CampaignType: values[4],
	}, nil
}

// stringValue reads a payload field. Numbers are rendered without a
// fractional part when they are integral.
func stringValue(raw map[string]any, key string) string {
	switch v := raw[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return ""
	}
}
