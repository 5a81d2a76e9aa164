package progress

import (
	"math"
	"reflect"
	"testing"
	"time"

	"courseview-backend/internal/integrity"
	"courseview-backend/internal/models"
)

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func ev(t models.EventType, video float64, offset time.Duration, visible bool) models.ViewingEvent {
	return models.ViewingEvent{
		EventType:        t,
		TimestampInVideo: video,
		ClientTimestamp:  base.Add(offset),
		IsTabVisible:     visible,
		PlaybackRate:     1,
		VolumeLevel:      1,
	}
}

func newCalc() *Calculator {
	return NewCalculator(integrity.DefaultConfig().Progress)
}

func TestPlayPauseScenario(t *testing.T) {
	events := []models.ViewingEvent{
		ev(models.EventPlay, 0, 0, true),
		ev(models.EventPause, 30, 30*time.Second, true),
	}

	res := newCalc().Calculate(events, 60)

	if res.TotalWatchedSeconds != 30 {
		t.Errorf("expected 30 watched seconds, got %v", res.TotalWatchedSeconds)
	}
	if res.CompletionPercentage != 50 {
		t.Errorf("expected 50%% completion, got %v", res.CompletionPercentage)
	}
	if len(res.WatchedSegments) != 1 || res.WatchedSegments[0] != (models.TimeSegment{Start: 0, End: 30}) {
		t.Errorf("unexpected segments %+v", res.WatchedSegments)
	}
}

func TestSeekCreditsNoTime(t *testing.T) {
	events := []models.ViewingEvent{
		ev(models.EventPlay, 0, 0, true),
		ev(models.EventSeek, 50, time.Second, true),
	}

	res := newCalc().Calculate(events, 120)

	if res.TotalWatchedSeconds != 0 {
		t.Fatalf("expected no credited time for a seek without playback, got %v", res.TotalWatchedSeconds)
	}
	if len(res.WatchedSegments) != 0 {
		t.Errorf("expected no segments, got %+v", res.WatchedSegments)
	}
}

func TestInvisiblePlayDoesNotOpenSegment(t *testing.T) {
	events := []models.ViewingEvent{
		ev(models.EventPlay, 0, 0, false),
		ev(models.EventPause, 40, 40*time.Second, false),
	}

	res := newCalc().Calculate(events, 100)
	if res.TotalWatchedSeconds != 0 {
		t.Errorf("expected hidden-tab play to credit nothing, got %v", res.TotalWatchedSeconds)
	}
}

func TestInvisibleHeartbeatClosesSegment(t *testing.T) {
	events := []models.ViewingEvent{
		ev(models.EventPlay, 0, 0, true),
		ev(models.EventHeartbeat, 10, 10*time.Second, true),
		ev(models.EventHeartbeat, 20, 20*time.Second, false),
		ev(models.EventHeartbeat, 30, 30*time.Second, false),
	}

	res := newCalc().Calculate(events, 100)
	if res.TotalWatchedSeconds != 20 {
		t.Errorf("expected crediting to stop at the hidden heartbeat (20s), got %v", res.TotalWatchedSeconds)
	}
}

func TestTrailingOpenSegmentClosedAtLastPosition(t *testing.T) {
	events := []models.ViewingEvent{
		ev(models.EventPlay, 0, 0, true),
		ev(models.EventHeartbeat, 10, 10*time.Second, true),
		ev(models.EventHeartbeat, 20, 20*time.Second, true),
	}

	res := newCalc().Calculate(events, 100)
	if res.TotalWatchedSeconds != 20 {
		t.Errorf("expected open segment credited to 20s, got %v", res.TotalWatchedSeconds)
	}
}

func TestDoublePlayClosesPreviousSegment(t *testing.T) {
	events := []models.ViewingEvent{
		ev(models.EventPlay, 0, 0, true),
		ev(models.EventPlay, 10, 10*time.Second, true),
		ev(models.EventPause, 25, 25*time.Second, true),
	}

	segs := newCalc().CalculateWatchedSegments(events)
	if len(segs) != 1 || segs[0].Start != 0 || segs[0].End != 25 {
		t.Errorf("expected adjacent segments merged into [0,25], got %+v", segs)
	}
}

func TestMergeSegments(t *testing.T) {
	tests := []struct {
		name string
		in   []models.TimeSegment
		want []models.TimeSegment
	}{
		{"empty", nil, []models.TimeSegment{}},
		{"gap within tolerance", []models.TimeSegment{{Start: 0, End: 10}, {Start: 11.5, End: 20}}, []models.TimeSegment{{Start: 0, End: 20}}},
		{"gap beyond tolerance", []models.TimeSegment{{Start: 0, End: 10}, {Start: 13, End: 20}}, []models.TimeSegment{{Start: 0, End: 10}, {Start: 13, End: 20}}},
		{"unsorted and contained", []models.TimeSegment{{Start: 30, End: 40}, {Start: 0, End: 50}}, []models.TimeSegment{{Start: 0, End: 50}}},
	}

	c := newCalc()
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := c.MergeSegments(tc.in)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("expected %+v, got %+v", tc.want, got)
			}
		})
	}
}

func TestSegmentsStayOrderedAndDisjoint(t *testing.T) {
	var events []models.ViewingEvent
	types := []models.EventType{models.EventPlay, models.EventHeartbeat, models.EventPause, models.EventSeek, models.EventPlay, models.EventEnd}
	for i := 0; i < 60; i++ {
		video := math.Mod(float64(i*37), 300)
		events = append(events, ev(types[i%len(types)], video, time.Duration(i)*time.Second, i%7 != 0))
	}

	segs := newCalc().CalculateWatchedSegments(events)
	for i, s := range segs {
		if s.End <= s.Start {
			t.Fatalf("segment %d has end <= start: %+v", i, s)
		}
		if i > 0 && s.Start <= segs[i-1].End {
			t.Fatalf("segments %d and %d overlap: %+v %+v", i-1, i, segs[i-1], s)
		}
	}
}

func TestCalculateIsIdempotent(t *testing.T) {
	events := []models.ViewingEvent{
		ev(models.EventPlay, 0, 0, true),
		ev(models.EventHeartbeat, 10, 10*time.Second, true),
		ev(models.EventSeek, 60, 11*time.Second, true),
		ev(models.EventPlay, 60, 12*time.Second, true),
		ev(models.EventPause, 90, 42*time.Second, true),
	}

	c := newCalc()
	first := c.Calculate(events, 120)
	second := c.Calculate(events, 120)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical results, got %+v and %+v", first, second)
	}
}

func TestRapidForwardSeeksSaturate(t *testing.T) {
	var events []models.ViewingEvent
	for i := 0; i < 16; i++ {
		events = append(events, ev(models.EventSeek, float64((i+1)*40), time.Duration(i)*800*time.Millisecond, true))
	}

	sus := newCalc().SuspiciousActivityScore(events)

	// 16 rapid seeks at 2 points capped at 30, large-jump component capped at 25
	if sus.Score != 55 {
		t.Errorf("expected saturated score 55, got %v", sus.Score)
	}
	if len(sus.Indicators) != 2 {
		t.Errorf("expected rapid_seeking and large_jumps indicators, got %v", sus.Indicators)
	}
}

func TestRapidSeeksScoreEachSeekOnce(t *testing.T) {
	seeksAt := func(offsets ...time.Duration) []models.ViewingEvent {
		var events []models.ViewingEvent
		for i, off := range offsets {
			events = append(events, ev(models.EventSeek, float64((i+1)*10), off, true))
		}
		return events
	}

	tests := []struct {
		name      string
		events    []models.ViewingEvent
		wantScore float64
		wantCount int
	}{
		{"two seeks are not a burst", seeksAt(0, time.Second), 0, 0},
		{"three seeks", seeksAt(0, time.Second, 2*time.Second), 6, 3},
		{"five overlapping windows", seeksAt(0, time.Second, 2*time.Second, 3*time.Second, 4*time.Second), 10, 5},
		{"two separate bursts", seeksAt(0, time.Second, 2*time.Second, 30*time.Second, 31*time.Second, 32*time.Second), 12, 6},
		{"burst plus a lone seek", seeksAt(0, time.Second, 2*time.Second, 60*time.Second), 6, 3},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sus := newCalc().SuspiciousActivityScore(tc.events)
			if sus.Score != tc.wantScore {
				t.Errorf("expected score %v, got %v (%v)", tc.wantScore, sus.Score, sus.Indicators)
			}
			if sus.Count != tc.wantCount {
				t.Errorf("expected count %d, got %d", tc.wantCount, sus.Count)
			}
		})
	}
}

func TestErraticToggling(t *testing.T) {
	var events []models.ViewingEvent
	for i := 0; i < 30; i++ {
		typ := models.EventPlay
		if i%2 == 1 {
			typ = models.EventPause
		}
		events = append(events, ev(typ, float64(i), time.Duration(i)*time.Second, true))
	}

	sus := newCalc().SuspiciousActivityScore(events)
	if sus.Score != 5 {
		t.Errorf("expected 0.5 points for each of 10 toggles over 20, got %v", sus.Score)
	}
}

func TestQualityScore(t *testing.T) {
	c := newCalc()

	if q := c.QualityScore([]models.TimeSegment{{Start: 0, End: 100}}, 100, 100, 0); q != 100 {
		t.Errorf("expected perfect quality, got %v", q)
	}
	if q := c.QualityScore([]models.TimeSegment{{Start: 0, End: 40}}, 40, 100, 20); math.Abs(q-65) > 1e-9 {
		// 100 - 10 (suspicion) - 25 (half of the incomplete range)
		t.Errorf("expected 65, got %v", q)
	}
	if q := c.QualityScore(nil, 0, 100, 100); q != 0 {
		t.Errorf("expected quality floored at 0, got %v", q)
	}
}
