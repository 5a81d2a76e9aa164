package handlers

import (
	"context"
	"net"
	"net/http"

	"github.com/google/uuid"

	"courseview-backend/internal/logging"
	"courseview-backend/internal/middleware"
	"courseview-backend/internal/models"
	"courseview-backend/internal/services"
	"courseview-backend/internal/telemetry"
)

type trackingService interface {
	CreateSession(ctx context.Context, in services.CreateSessionInput) (*services.SessionStart, error)
	ProcessViewingEvents(ctx context.Context, sessionToken string, events []models.ViewingEvent) (*services.BatchResult, error)
	EndSession(ctx context.Context, sessionToken string) error
	GetProgress(ctx context.Context, userID uuid.UUID, videoLessonID *uuid.UUID) ([]models.VideoProgress, error)
}

// eventLimiter budgets event batches per session token.
type eventLimiter interface {
	Allow(key string) bool
}

type TrackingHandler struct {
	tracking trackingService
	limiter  eventLimiter
}

func NewTrackingHandler(tracking trackingService, limiter eventLimiter) *TrackingHandler {
	return &TrackingHandler{tracking: tracking, limiter: limiter}
}

type createSessionRequest struct {
	VideoLessonID uuid.UUID `json:"video_lesson_id" validate:"required"`
	BrowserTabID  string    `json:"browser_tab_id" validate:"omitempty,max=128"`
}

type endSessionRequest struct {
	SessionToken string `json:"session_token" validate:"required"`
}

// batchResponse deliberately leaves the fraud report out.
type batchResponse struct {
	ProcessedEvents      int     `json:"processed_events"`
	CompletionPercentage float64 `json:"completion_percentage"`
	TotalWatchedSeconds  float64 `json:"total_watched_seconds"`
	IsCompleted          bool    `json:"is_completed"`
}

// CreateSession handles POST /api/v1/tracking/sessions
func (h *TrackingHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	start, err := h.tracking.CreateSession(r.Context(), services.CreateSessionInput{
		UserID:        middleware.GetUserID(r.Context()),
		VideoLessonID: req.VideoLessonID,
		BrowserTabID:  req.BrowserTabID,
		UserAgent:     r.UserAgent(),
		IPAddress:     clientIP(r),
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, start)
}

// SubmitEvents handles POST /api/v1/tracking/events/batch. The session
// token in the body is the only credential.
func (h *TrackingHandler) SubmitEvents(w http.ResponseWriter, r *http.Request) {
	var req telemetry.BatchRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if h.limiter != nil && !h.limiter.Allow(req.SessionToken) {
		handleServiceError(w, r, &services.RateLimitError{Message: "Too many event batches. Please slow down."})
		return
	}

	events, err := telemetry.DecodeEvents(req.Events)
	if err != nil {
		logging.Ctx(r.Context()).Debug().Err(err).Msg("rejected event batch")
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed",
			map[string]string{"events": err.Error()}, r))
		return
	}

	result, err := h.tracking.ProcessViewingEvents(r.Context(), req.SessionToken, events)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, batchResponse{
		ProcessedEvents:      result.ProcessedEvents,
		CompletionPercentage: result.Progress.CompletionPercentage,
		TotalWatchedSeconds:  result.Progress.TotalWatchedSeconds,
		IsCompleted:          result.Progress.IsCompleted,
	})
}

// EndSession handles POST /api/v1/tracking/sessions/end
func (h *TrackingHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	var req endSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.tracking.EndSession(r.Context(), req.SessionToken); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Session ended"})
}

// GetProgress handles GET /api/v1/tracking/progress[?video_lesson_id=]
func (h *TrackingHandler) GetProgress(w http.ResponseWriter, r *http.Request) {
	var lessonID *uuid.UUID
	if raw := r.URL.Query().Get("video_lesson_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed",
				map[string]string{"video_lesson_id": "Must be a valid UUID"}, r))
			return
		}
		lessonID = &id
	}

	rows, err := h.tracking.GetProgress(r.Context(), middleware.GetUserID(r.Context()), lessonID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"progress": rows})
}

// Ping answers the client's latency probe.
func (h *TrackingHandler) Ping(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
