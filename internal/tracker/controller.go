// Package tracker binds one video player to a server-side viewing session and
// turns player callbacks into the event stream delivered by telemetry.
package tracker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"courseview-backend/internal/logging"
	"courseview-backend/internal/models"
	"courseview-backend/internal/telemetry"
)

type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateActive   State = "active"
	StateEnding   State = "ending"
)

// avgEventBytes approximates one compact event on the wire.
const avgEventBytes = 96

type Config struct {
	// BaseURL is the tracking API root, e.g. https://host/api/v1/tracking.
	BaseURL   string
	AuthToken string
	LessonID  uuid.UUID

	BatchInterval     time.Duration
	HeartbeatInterval time.Duration
	IdleCheckInterval time.Duration
	TabSwitchIdle     time.Duration
	MaxQueue          int

	HTTPClient    *http.Client
	SenderOptions []telemetry.Option
}

func (c *Config) applyDefaults() {
	if c.BatchInterval <= 0 {
		c.BatchInterval = 5 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 10 * time.Second
	}
	if c.IdleCheckInterval <= 0 {
		c.IdleCheckInterval = time.Second
	}
	if c.TabSwitchIdle <= 0 {
		c.TabSwitchIdle = 3 * time.Second
	}
	if c.MaxQueue <= 0 {
		c.MaxQueue = 1000
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
}

// SessionInfo is the server's answer to a session start.
type SessionInfo struct {
	SessionToken string             `json:"session_token"`
	VideoData    models.VideoLesson `json:"video_data"`
}

type Controller struct {
	cfg    Config
	client *http.Client
	sender *telemetry.Sender
	tabID  string
	now    func() time.Time

	mu           sync.Mutex
	state        State
	token        string
	queue        []models.ViewingEvent
	batchSize    int
	currentTime  float64
	playbackRate float64
	volume       float64
	playing      bool
	visible      bool
	focused      bool
	lastActivity time.Time
	awaySuspect  bool
	mouseDelta   float64

	stop    chan struct{}
	loops   sync.WaitGroup
	flushes sync.WaitGroup
}

func NewController(cfg Config) *Controller {
	cfg.applyDefaults()
	opts := append([]telemetry.Option{
		telemetry.WithHTTPClient(cfg.HTTPClient),
		telemetry.WithPingURL(cfg.BaseURL + "/ping"),
	}, cfg.SenderOptions...)

	return &Controller{
		cfg:          cfg,
		client:       cfg.HTTPClient,
		sender:       telemetry.NewSender(cfg.BaseURL+"/events/batch", opts...),
		tabID:        uuid.NewString(),
		now:          time.Now,
		state:        StateIdle,
		batchSize:    telemetry.DefaultMaxBatchSize,
		playbackRate: telemetry.DefaultPlaybackRate,
		volume:       telemetry.DefaultVolumeLevel,
		visible:      true,
		focused:      true,
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending is the number of events waiting for delivery.
func (c *Controller) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// StartSession requests a session token and starts the batch, heartbeat and
// idle timers. Failures are returned as *StartError.
func (c *Controller) StartSession(ctx context.Context) (*SessionInfo, error) {
	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		return nil, fmt.Errorf("cannot start session in state %s", state)
	}
	c.state = StateStarting
	c.mu.Unlock()

	info, err := c.requestSession(ctx)
	if err != nil {
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		return nil, err
	}

	c.mu.Lock()
	c.state = StateActive
	c.token = info.SessionToken
	c.queue = nil
	c.lastActivity = c.now()
	c.awaySuspect = false
	c.stop = make(chan struct{})
	stop := c.stop
	c.mu.Unlock()

	c.loops.Add(1)
	go c.run(stop)

	logging.Info().Str("lesson_id", c.cfg.LessonID.String()).Msg("viewing session started")
	return info, nil
}

func (c *Controller) requestSession(ctx context.Context) (*SessionInfo, error) {
	body, err := json.Marshal(map[string]string{
		"video_lesson_id": c.cfg.LessonID.String(),
		"browser_tab_id":  c.tabID,
	})
	if err != nil {
		return nil, &StartError{Kind: ErrGeneric, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/sessions", bytes.NewReader(body))
	if err != nil {
		return nil, &StartError{Kind: ErrGeneric, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &StartError{Kind: ErrGeneric, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classifyStatus(resp.StatusCode)
	}

	var info SessionInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, &StartError{Kind: ErrGeneric, Err: fmt.Errorf("decode session response: %w", err)}
	}
	if info.SessionToken == "" {
		return nil, &StartError{Kind: ErrGeneric, Err: errors.New("empty session token")}
	}
	return &info, nil
}

func (c *Controller) run(stop <-chan struct{}) {
	defer c.loops.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	latency := c.sender.EstimateNetworkLatency(ctx)
	c.mu.Lock()
	c.batchSize = telemetry.CalculateOptimalBatchSize(avgEventBytes, latency, telemetry.DefaultMaxPayload)
	c.mu.Unlock()

	batch := time.NewTicker(c.cfg.BatchInterval)
	defer batch.Stop()
	heartbeat := time.NewTicker(c.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	idle := time.NewTicker(c.cfg.IdleCheckInterval)
	defer idle.Stop()

	for {
		select {
		case <-stop:
			return
		case <-batch.C:
			c.Flush(ctx)
		case <-heartbeat.C:
			c.heartbeatTick()
		case <-idle.C:
			c.idleTick()
		}
	}
}

// EndSession emits the terminal end event, stops the timers and makes a final
// flush before releasing the server session.
func (c *Controller) EndSession(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return nil
	}
	c.state = StateEnding
	c.enqueueLocked(c.eventLocked(models.EventEnd, nil))
	c.playing = false
	close(c.stop)
	token := c.token
	c.mu.Unlock()

	c.loops.Wait()
	c.flushes.Wait()

	result := c.Flush(ctx)
	if err := c.releaseSession(ctx, token); err != nil {
		logging.Warn().Err(err).Msg("failed to release viewing session")
	}

	c.mu.Lock()
	c.state = StateIdle
	c.token = ""
	dropped := len(c.queue)
	c.queue = nil
	c.mu.Unlock()

	if !result.Success {
		return fmt.Errorf("final flush failed, %d events undelivered: %s", dropped, result.Error)
	}
	return nil
}

// Close is the teardown path: one best-effort EndSession with a short deadline.
func (c *Controller) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.EndSession(ctx); err != nil {
		logging.Warn().Err(err).Msg("session teardown incomplete")
	}
}

func (c *Controller) releaseSession(ctx context.Context, token string) error {
	body, err := json.Marshal(map[string]string{"session_token": token})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/sessions/end", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("end session returned status %d", resp.StatusCode)
	}
	return nil
}

// Flush drains the current queue snapshot. Undelivered events go back to the
// front of the queue.
func (c *Controller) Flush(ctx context.Context) telemetry.SendResult {
	c.mu.Lock()
	if c.token == "" || len(c.queue) == 0 {
		c.mu.Unlock()
		return telemetry.SendResult{Success: true}
	}
	batch := c.queue
	c.queue = nil
	token, size := c.token, c.batchSize
	c.mu.Unlock()

	result, unsent := c.sender.SendOptimized(ctx, token, batch, size)
	if len(unsent) > 0 {
		c.mu.Lock()
		c.queue = append(unsent, c.queue...)
		c.trimLocked()
		c.mu.Unlock()
	}
	return result
}

// flushCritical is the fast path for play and pause. The caller has already
// registered it with c.flushes.
func (c *Controller) flushCritical() {
	defer c.flushes.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	c.Flush(ctx)
}

func (c *Controller) UpdateTime(seconds float64) {
	c.mu.Lock()
	c.currentTime = seconds
	c.mu.Unlock()
}

// UpdatePlayState records play or pause and sends it without waiting for the batch timer.
func (c *Controller) UpdatePlayState(playing bool) {
	c.mu.Lock()
	if c.state != StateActive || c.playing == playing {
		c.mu.Unlock()
		return
	}
	c.playing = playing
	t := models.EventPause
	if playing {
		t = models.EventPlay
		c.lastActivity = c.now()
	}
	c.enqueueLocked(c.eventLocked(t, nil))
	c.flushes.Add(1)
	c.mu.Unlock()

	go c.flushCritical()
}

func (c *Controller) UpdateSeek(from, to float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentTime = to
	if c.state != StateActive {
		return
	}
	c.enqueueLocked(c.eventLocked(models.EventSeek, models.SeekDetails{
		PreviousTime: from,
		SeekDistance: to - from,
	}))
}

func (c *Controller) UpdatePlaybackRate(rate float64) {
	c.mu.Lock()
	c.playbackRate = rate
	c.mu.Unlock()
}

func (c *Controller) UpdateVolume(volume float64) {
	c.mu.Lock()
	c.volume = volume
	c.mu.Unlock()
}

// SetTabVisible mirrors the page visibility state.
func (c *Controller) SetTabVisible(visible bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.visible == visible {
		return
	}
	c.visible = visible
	if c.state == StateActive {
		c.enqueueLocked(c.eventLocked(models.EventHeartbeat, models.VisibilityDetails{
			VisibilityChange: visibilityWord(visible),
			Trigger:          "visibility_api",
		}))
	}
}

func (c *Controller) SetWindowFocus(focused bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.focused == focused {
		return
	}
	c.focused = focused
	if c.state != StateActive {
		return
	}
	trigger := "blur"
	if focused {
		trigger = "focus"
	}
	c.enqueueLocked(c.eventLocked(models.EventHeartbeat, models.VisibilityDetails{
		VisibilityChange: visibilityWord(focused),
		Trigger:          trigger,
	}))
}

// RecordActivity notes user input; mouseDelta accumulates into the next
// heartbeat's engagement payload.
func (c *Controller) RecordActivity(mouseDelta float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivity = c.now()
	c.mouseDelta += mouseDelta
	if c.awaySuspect && c.state == StateActive {
		c.awaySuspect = false
		c.enqueueLocked(c.eventLocked(models.EventHeartbeat, models.VisibilityDetails{
			VisibilityChange: "visible",
			Trigger:          "tab_switch",
		}))
	}
}

func (c *Controller) heartbeatTick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive || !c.playing || !c.visible {
		return
	}
	var details models.EventDetails
	if c.mouseDelta > 0 {
		details = models.EngagementDetails{
			MouseDelta: c.mouseDelta,
			IdleMillis: c.now().Sub(c.lastActivity).Milliseconds(),
		}
		c.mouseDelta = 0
	}
	c.enqueueLocked(c.eventLocked(models.EventHeartbeat, details))
}

// idleTick flags a probable tab switch after a stretch of no input while playing.
func (c *Controller) idleTick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive || !c.playing || c.awaySuspect {
		return
	}
	if c.now().Sub(c.lastActivity) <= c.cfg.TabSwitchIdle {
		return
	}
	c.awaySuspect = true
	c.enqueueLocked(c.eventLocked(models.EventHeartbeat, models.VisibilityDetails{
		VisibilityChange: "hidden",
		Trigger:          "tab_switch",
	}))
}

func (c *Controller) eventLocked(t models.EventType, details models.EventDetails) models.ViewingEvent {
	return models.ViewingEvent{
		EventType:        t,
		TimestampInVideo: c.currentTime,
		ClientTimestamp:  c.now(),
		IsTabVisible:     c.visible,
		PlaybackRate:     c.playbackRate,
		VolumeLevel:      c.volume,
		Details:          details,
	}
}

func (c *Controller) enqueueLocked(e models.ViewingEvent) {
	c.queue = append(c.queue, e)
	c.trimLocked()
}

// trimLocked drops the oldest events once the queue exceeds MaxQueue.
func (c *Controller) trimLocked() {
	if over := len(c.queue) - c.cfg.MaxQueue; over > 0 {
		c.queue = append([]models.ViewingEvent(nil), c.queue[over:]...)
	}
}

func visibilityWord(visible bool) string {
	if visible {
		return "visible"
	}
	return "hidden"
}
