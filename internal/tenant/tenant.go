// Package tenant defines the versioned tenant configuration document: which
// components are enabled, their endpoint metadata, and the event catalogue.
//
// A Configuration is immutable after Parse and is shared by pointer between
// the bootstrapper, the delivery pipeline and the notification augmentor.
package tenant

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/tidwall/jsonc"

	"github.com/solatis/relaykit/internal/types"
)

// ParameterType is the declared wire type of an event parameter.
type ParameterType string

const (
	ParameterString  ParameterType = "String"
	ParameterNumber  ParameterType = "Number"
	ParameterBoolean ParameterType = "Boolean"
)

// ParameterDefinition describes one parameter of an event.
type ParameterDefinition struct {
	Type        ParameterType `json:"type"`
	Optional    bool          `json:"optional"`
	DimensionID int           `json:"dimensionId"`
}

// EventDefinition describes how a named event is validated and routed.
type EventDefinition struct {
	ID                  int                            `json:"id"`
	SupportedOnTracking bool                           `json:"supportedOnTracking"`
	SupportedOnRealtime bool                           `json:"supportedOnRealtime"`
	Parameters          map[string]ParameterDefinition `json:"parameters"`
}

// TrackingMetadata locates the tracking (analytics) backend.
type TrackingMetadata struct {
	Endpoint           string `json:"endpoint"`
	SiteID             int    `json:"siteId"`
	EventCategoryName  string `json:"eventCategoryName"`
	EventIDDimension   int    `json:"eventIdDimension"`
	EventNameDimension int    `json:"eventNameDimension"`
}

// RealtimeMetadata locates the realtime backend.
type RealtimeMetadata struct {
	Gateway string `json:"gateway"`
	Token   string `json:"token"`
}

// PushMetadata locates the push registration service.
type PushMetadata struct {
	RegistrationEndpoint string `json:"registrationEndpoint"`
	AppID                string `json:"appId"`
}

// Configuration is the parsed tenant configuration document.
type Configuration struct {
	Version        string                     `json:"version"`
	SiteID         int                        `json:"siteId"`
	EnableTracking bool                       `json:"enableTracking"`
	EnableRealtime bool                       `json:"enableRealtime"`
	EnablePush     bool                       `json:"enablePush"`
	Tracking       *TrackingMetadata          `json:"tracking,omitempty"`
	Realtime       *RealtimeMetadata          `json:"realtime,omitempty"`
	Push           *PushMetadata              `json:"push,omitempty"`
	Events         map[string]EventDefinition `json:"events"`
}

// Event looks up the definition of a named event. A missing definition
// means the tenant is not interested in the event.
func (c *Configuration) Event(name string) (EventDefinition, bool) {
	if c == nil {
		return EventDefinition{}, false
	}
	def, ok := c.Events[name]
	return def, ok
}

// Parse decodes and validates a configuration document. Comments and
// trailing commas are tolerated so hand-seeded fallback files can be
// annotated.
func Parse(data []byte) (*Configuration, error) {
	var cfg Configuration
	if err := json.Unmarshal(jsonc.ToJSON(data), &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrMalformedConfig, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrMalformedConfig, err)
	}
	if cfg.Events == nil {
		cfg.Events = map[string]EventDefinition{}
	}
	return &cfg, nil
}

// validate checks structural integrity only. Missing component metadata is
// not an error here; the owning component fails its own setup instead.
func (c *Configuration) validate() error {
	if c.Version == "" {
		return fmt.Errorf("version is required")
	}
	if c.Tracking != nil && c.Tracking.Endpoint != "" {
		if err := checkURL(c.Tracking.Endpoint); err != nil {
			return fmt.Errorf("tracking endpoint: %w", err)
		}
	}
	if c.Realtime != nil && c.Realtime.Gateway != "" {
		if err := checkURL(c.Realtime.Gateway); err != nil {
			return fmt.Errorf("realtime gateway: %w", err)
		}
	}
	for name, def := range c.Events {
		if name == "" {
			return fmt.Errorf("event with empty name")
		}
		if len(def.Parameters) > types.MaxParameters {
			return fmt.Errorf("event %s declares %d parameters (max %d)", name, len(def.Parameters), types.MaxParameters)
		}
		for pname, p := range def.Parameters {
			switch p.Type {
			case ParameterString, ParameterNumber, ParameterBoolean:
			default:
				return fmt.Errorf("event %s parameter %s: unknown type %q", name, pname, p.Type)
			}
		}
	}
	return nil
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}
