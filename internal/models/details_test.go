package models

import (
	"testing"
)

func TestDecodeDetailsVariants(t *testing.T) {
	tests := []struct {
		name string
		data string
		kind string
	}{
		{"seek", `{"previous_time":10,"seek_distance":40}`, "seek"},
		{"visibility", `{"visibility_change":"hidden","trigger":"blur"}`, "visibility"},
		{"engagement", `{"mouse_delta":120.5}`, "engagement"},
		{"unknown keys", `{"quality":"720p"}`, "raw"},
		{"not an object", `[1,2,3]`, "raw"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := DecodeDetails([]byte(tc.data))
			if d == nil {
				t.Fatalf("expected %s details, got nil", tc.kind)
			}
			if d.Kind() != tc.kind {
				t.Errorf("expected kind %q, got %q", tc.kind, d.Kind())
			}
		})
	}
}

func TestDecodeDetailsEmpty(t *testing.T) {
	for _, data := range []string{"", "null", "{}", "  "} {
		if d := DecodeDetails([]byte(data)); d != nil {
			t.Errorf("expected nil details for %q, got %#v", data, d)
		}
	}
}

func TestEncodeDecodeSeekDetails(t *testing.T) {
	raw, err := EncodeDetails(SeekDetails{PreviousTime: 12, SeekDistance: -8})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	d, ok := DecodeDetails(raw).(SeekDetails)
	if !ok {
		t.Fatalf("expected SeekDetails after round trip")
	}
	if d.PreviousTime != 12 || d.SeekDistance != -8 {
		t.Errorf("unexpected seek details %+v", d)
	}

	ev := ViewingEvent{EventType: EventSeek, Details: d}
	if dist, ok := ev.SeekDistance(); !ok || dist != -8 {
		t.Errorf("expected seek distance -8, got %v (%v)", dist, ok)
	}
}

func TestEncodeNilDetails(t *testing.T) {
	raw, err := EncodeDetails(nil)
	if err != nil || raw != nil {
		t.Fatalf("expected nil payload for nil details, got %s (%v)", raw, err)
	}
}
