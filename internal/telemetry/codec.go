// Package telemetry is the client side of viewing-event delivery: the wire
// codec shared with the server, queue optimisation, batching and a retrying
// HTTP sender.
package telemetry

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"courseview-backend/internal/models"
)

// Defaults omitted from the compact schema.
const (
	DefaultTabVisible   = true
	DefaultPlaybackRate = 1.0
	DefaultVolumeLevel  = 1.0
)

// CompactEvent is the short-key wire form. Fields equal to their default are omitted.
type CompactEvent struct {
	T   models.EventType `json:"t"`
	TS  float64          `json:"ts"`
	CT  int64            `json:"ct"`
	V   *bool            `json:"v,omitempty"`
	R   *float64         `json:"r,omitempty"`
	Vol *float64         `json:"vol,omitempty"`
	D   json.RawMessage  `json:"d,omitempty"`
}

// VerboseEvent is the long-key wire form. Client timestamps are epoch milliseconds.
type VerboseEvent struct {
	EventType        models.EventType `json:"event_type"`
	TimestampInVideo float64          `json:"timestamp_in_video"`
	ClientTimestamp  int64            `json:"client_timestamp"`
	IsTabVisible     *bool            `json:"is_tab_visible,omitempty"`
	PlaybackRate     *float64         `json:"playback_rate,omitempty"`
	VolumeLevel      *float64         `json:"volume_level,omitempty"`
	AdditionalData   json.RawMessage  `json:"additional_data,omitempty"`
}

type Compressed struct {
	Events           []CompactEvent `json:"events"`
	OriginalSize     int            `json:"original_size"`
	CompressedSize   int            `json:"compressed_size"`
	CompressionRatio float64        `json:"compression_ratio"`
}

// BatchRequest is the body of POST /api/v1/tracking/events/batch. Events may be
// in either schema, event by event.
type BatchRequest struct {
	SessionToken string            `json:"session_token" validate:"required"`
	Events       []json.RawMessage `json:"events" validate:"required,min=1,max=500"`
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// Compact rewrites one event into the short-key form.
func Compact(e models.ViewingEvent) (CompactEvent, error) {
	d, err := models.EncodeDetails(e.Details)
	if err != nil {
		return CompactEvent{}, fmt.Errorf("encode details: %w", err)
	}
	c := CompactEvent{
		T:  e.EventType,
		TS: e.TimestampInVideo,
		CT: toMillis(e.ClientTimestamp),
		D:  d,
	}
	if e.IsTabVisible != DefaultTabVisible {
		v := e.IsTabVisible
		c.V = &v
	}
	if e.PlaybackRate != DefaultPlaybackRate {
		r := e.PlaybackRate
		c.R = &r
	}
	if e.VolumeLevel != DefaultVolumeLevel {
		vol := e.VolumeLevel
		c.Vol = &vol
	}
	return c, nil
}

// Expand is the inverse of Compact.
func Expand(c CompactEvent) models.ViewingEvent {
	e := models.ViewingEvent{
		EventType:        c.T,
		TimestampInVideo: c.TS,
		ClientTimestamp:  fromMillis(c.CT),
		IsTabVisible:     DefaultTabVisible,
		PlaybackRate:     DefaultPlaybackRate,
		VolumeLevel:      DefaultVolumeLevel,
		Details:          models.DecodeDetails(c.D),
	}
	if c.V != nil {
		e.IsTabVisible = *c.V
	}
	if c.R != nil {
		e.PlaybackRate = *c.R
	}
	if c.Vol != nil {
		e.VolumeLevel = *c.Vol
	}
	return e
}

// ToVerbose writes every field explicitly.
func ToVerbose(e models.ViewingEvent) (VerboseEvent, error) {
	d, err := models.EncodeDetails(e.Details)
	if err != nil {
		return VerboseEvent{}, fmt.Errorf("encode details: %w", err)
	}
	visible, rate, volume := e.IsTabVisible, e.PlaybackRate, e.VolumeLevel
	return VerboseEvent{
		EventType:        e.EventType,
		TimestampInVideo: e.TimestampInVideo,
		ClientTimestamp:  toMillis(e.ClientTimestamp),
		IsTabVisible:     &visible,
		PlaybackRate:     &rate,
		VolumeLevel:      &volume,
		AdditionalData:   d,
	}, nil
}

// FromVerbose applies the schema defaults to absent optional fields.
func FromVerbose(v VerboseEvent) models.ViewingEvent {
	e := models.ViewingEvent{
		EventType:        v.EventType,
		TimestampInVideo: v.TimestampInVideo,
		ClientTimestamp:  fromMillis(v.ClientTimestamp),
		IsTabVisible:     DefaultTabVisible,
		PlaybackRate:     DefaultPlaybackRate,
		VolumeLevel:      DefaultVolumeLevel,
		Details:          models.DecodeDetails(v.AdditionalData),
	}
	if v.IsTabVisible != nil {
		e.IsTabVisible = *v.IsTabVisible
	}
	if v.PlaybackRate != nil {
		e.PlaybackRate = *v.PlaybackRate
	}
	if v.VolumeLevel != nil {
		e.VolumeLevel = *v.VolumeLevel
	}
	return e
}

// CompressEvents converts events to the compact schema and reports the size
// saving against the verbose encoding.
func CompressEvents(events []models.ViewingEvent) (Compressed, error) {
	verbose := make([]VerboseEvent, 0, len(events))
	compact := make([]CompactEvent, 0, len(events))
	for i, e := range events {
		v, err := ToVerbose(e)
		if err != nil {
			return Compressed{}, fmt.Errorf("event %d: %w", i, err)
		}
		c, err := Compact(e)
		if err != nil {
			return Compressed{}, fmt.Errorf("event %d: %w", i, err)
		}
		verbose = append(verbose, v)
		compact = append(compact, c)
	}

	original, err := json.Marshal(verbose)
	if err != nil {
		return Compressed{}, fmt.Errorf("marshal verbose events: %w", err)
	}
	packed, err := json.Marshal(compact)
	if err != nil {
		return Compressed{}, fmt.Errorf("marshal compact events: %w", err)
	}

	out := Compressed{
		Events:         compact,
		OriginalSize:   len(original),
		CompressedSize: len(packed),
	}
	if out.OriginalSize > 0 {
		out.CompressionRatio = float64(out.CompressedSize) / float64(out.OriginalSize)
	}
	return out, nil
}

func DecompressEvents(events []CompactEvent) []models.ViewingEvent {
	out := make([]models.ViewingEvent, 0, len(events))
	for _, c := range events {
		out = append(out, Expand(c))
	}
	return out
}

type schemaProbe struct {
	T         *string `json:"t"`
	EventType *string `json:"event_type"`
}

// DecodeEvents parses a batch whose elements may use either schema.
func DecodeEvents(raw []json.RawMessage) ([]models.ViewingEvent, error) {
	out := make([]models.ViewingEvent, 0, len(raw))
	for i, item := range raw {
		var probe schemaProbe
		if err := json.Unmarshal(item, &probe); err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}

		var e models.ViewingEvent
		switch {
		case probe.T != nil:
			var c CompactEvent
			if err := json.Unmarshal(item, &c); err != nil {
				return nil, fmt.Errorf("event %d: %w", i, err)
			}
			e = Expand(c)
		case probe.EventType != nil:
			var v VerboseEvent
			if err := json.Unmarshal(item, &v); err != nil {
				return nil, fmt.Errorf("event %d: %w", i, err)
			}
			e = FromVerbose(v)
		default:
			return nil, fmt.Errorf("event %d: missing event type", i)
		}

		if !e.EventType.Valid() {
			return nil, fmt.Errorf("event %d: unknown event type %q", i, e.EventType)
		}
		out = append(out, e)
	}
	return out, nil
}

// EncodeBatch builds a request body in the compact or verbose schema.
func EncodeBatch(sessionToken string, events []models.ViewingEvent, compact bool) ([]byte, error) {
	raw := make([]json.RawMessage, 0, len(events))
	for i, e := range events {
		var (
			item interface{}
			err  error
		)
		if compact {
			item, err = Compact(e)
		} else {
			item, err = ToVerbose(e)
		}
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		b, err := json.Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		raw = append(raw, b)
	}
	return json.Marshal(BatchRequest{SessionToken: sessionToken, Events: raw})
}
