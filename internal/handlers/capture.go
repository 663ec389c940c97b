package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/fabcam/internal/models"
	"github.com/mossy-p/fabcam/internal/scoring"
	"github.com/mossy-p/fabcam/internal/store"
	"github.com/rs/zerolog/log"
)

const (
	errNoFrame      = "No frame captured yet. Click 'Capture Frame' in the browser first."
	errCaptureInput = "Provide either 'frame' or 'score_latest: true'"
)

// CaptureHandler serves POST /signal/capture: viewers push frames into the
// single frame slot, scoring agents ask for the latest one to be scored.
type CaptureHandler struct {
	Frames store.FrameStore
	Scorer scoring.Scorer
	Events *EventHub

	now func() time.Time
}

func NewCaptureHandler(frames store.FrameStore, scorer scoring.Scorer, events *EventHub) *CaptureHandler {
	return &CaptureHandler{Frames: frames, Scorer: scorer, Events: events, now: time.Now}
}

func (h *CaptureHandler) Post(c *gin.Context) {
	var req models.CaptureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBody})
		return
	}

	ctx := c.Request.Context()
	logger := log.With().Str("module", "handlers.capture").Logger()

	switch {
	case req.Frame != "" && !req.ScoreLatest:
		frame, err := h.Frames.Capture(ctx, req.Frame)
		if err != nil {
			logger.Error().Err(err).Msg("store frame")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store frame"})
			return
		}
		logger.Info().Int64("captured_at", frame.CapturedAt).Int("bytes", len(req.Frame)).Msg("frame captured")
		if h.Events != nil {
			h.Events.Publish(models.FrameEvent{Type: "frame", CapturedAt: frame.CapturedAt})
		}

		c.JSON(http.StatusOK, models.CaptureResponse{
			OK:       true,
			Analysis: &models.Analysis{Scores: h.score(c, req.Frame, req.Reference), Timestamp: h.now().UnixMilli()},
		})

	case req.ScoreLatest:
		frame, err := h.Frames.Latest(ctx)
		if errors.Is(err, store.ErrNoFrame) {
			c.JSON(http.StatusNotFound, gin.H{"error": errNoFrame})
			return
		}
		if err != nil {
			logger.Error().Err(err).Msg("read frame")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read frame"})
			return
		}

		c.JSON(http.StatusOK, models.CaptureResponse{
			OK: true,
			Analysis: &models.Analysis{
				Scores:     h.score(c, frame.Data, req.Reference),
				Timestamp:  h.now().UnixMilli(),
				CapturedAt: frame.CapturedAt,
			},
		})

	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": errCaptureInput})
	}
}

func (h *CaptureHandler) score(c *gin.Context, frame, reference string) models.Scores {
	scores, err := h.Scorer.Score(c.Request.Context(), frame, reference)
	if err != nil {
		log.Warn().Err(err).Str("module", "handlers.capture").Msg("scorer failed, using neutral scores")
		return scoring.Neutral
	}
	return scores
}
