package models

import (
	"bytes"

	"github.com/goccy/go-json"
)

// EventDetails is the typed form of an event's additional_data payload.
// Implementations: SeekDetails, VisibilityDetails, EngagementDetails, RawDetails.
type EventDetails interface {
	Kind() string
}

type SeekDetails struct {
	PreviousTime float64 `json:"previous_time"`
	SeekDistance float64 `json:"seek_distance"`
}

func (SeekDetails) Kind() string { return "seek" }

// VisibilityDetails marks an event emitted because tab visibility or window focus changed.
type VisibilityDetails struct {
	VisibilityChange string `json:"visibility_change"` // "visible" or "hidden"
	Trigger          string `json:"trigger,omitempty"` // visibility_api, focus, blur, tab_switch
}

func (VisibilityDetails) Kind() string { return "visibility" }

type EngagementDetails struct {
	MouseDelta float64 `json:"mouse_delta"`
	IdleMillis int64   `json:"idle_ms"`
}

func (EngagementDetails) Kind() string { return "engagement" }

// RawDetails carries payloads this version does not understand.
type RawDetails json.RawMessage

func (RawDetails) Kind() string { return "raw" }

// EncodeDetails returns nil for an empty payload.
func EncodeDetails(d EventDetails) (json.RawMessage, error) {
	switch v := d.(type) {
	case nil:
		return nil, nil
	case RawDetails:
		if len(v) == 0 {
			return nil, nil
		}
		return json.RawMessage(v), nil
	default:
		return json.Marshal(v)
	}
}

// DecodeDetails picks the variant by the keys present in the payload.
func DecodeDetails(data []byte) EventDetails {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("{}")) {
		return nil
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &keys); err != nil {
		return RawDetails(append([]byte(nil), trimmed...))
	}

	switch {
	case has(keys, "seek_distance", "previous_time"):
		var d SeekDetails
		if json.Unmarshal(trimmed, &d) == nil {
			return d
		}
	case has(keys, "visibility_change"):
		var d VisibilityDetails
		if json.Unmarshal(trimmed, &d) == nil {
			return d
		}
	case has(keys, "mouse_delta", "idle_ms"):
		var d EngagementDetails
		if json.Unmarshal(trimmed, &d) == nil {
			return d
		}
	}
	return RawDetails(append([]byte(nil), trimmed...))
}

func has(keys map[string]json.RawMessage, names ...string) bool {
	for _, n := range names {
		if _, ok := keys[n]; ok {
			return true
		}
	}
	return false
}

// SeekDistance returns the reported seek distance, if the event carries one.
func (e ViewingEvent) SeekDistance() (float64, bool) {
	if d, ok := e.Details.(SeekDetails); ok {
		return d.SeekDistance, true
	}
	return 0, false
}

// IsVisibilityEvent reports whether the event was emitted by a visibility or focus change.
func (e ViewingEvent) IsVisibilityEvent() bool {
	_, ok := e.Details.(VisibilityDetails)
	return ok
}
