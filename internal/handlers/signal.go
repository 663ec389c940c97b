package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/fabcam/internal/models"
	"github.com/mossy-p/fabcam/internal/store"
	"github.com/rs/zerolog/log"
)

const (
	errRoleRequired = "role query param required (broadcaster|viewer)"
	errInvalidRole  = "invalid role"
	errInvalidType  = "invalid type"
	errInvalidBody  = "invalid request body"
	errStore        = "signal store unavailable"
)

// signalRequest is a SignalMessage whose type and role may hold any JSON
// value; anything but a known string is answered as an invalid type or role.
type signalRequest struct {
	Type      any             `json:"type"`
	Role      any             `json:"role"`
	SDP       json.RawMessage `json:"sdp"`
	Candidate json.RawMessage `json:"candidate"`
}

func (r signalRequest) message() models.SignalMessage {
	typ, _ := r.Type.(string)
	role, _ := r.Role.(string)
	return models.SignalMessage{
		Type:      models.SignalType(typ),
		Role:      models.Role(role),
		SDP:       r.SDP,
		Candidate: r.Candidate,
	}
}

// SignalHandler translates /signal requests into reads and writes on a
// SignalStore. It keeps no state of its own.
type SignalHandler struct {
	Store store.SignalStore
}

func NewSignalHandler(s store.SignalStore) *SignalHandler {
	return &SignalHandler{Store: s}
}

// Get answers GET /signal?role=viewer|broadcaster with what the other side
// has published so far.
func (h *SignalHandler) Get(c *gin.Context) {
	role := models.Role(c.Query("role"))
	if !role.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": errRoleRequired})
		return
	}

	sess, err := h.Store.Snapshot(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Str("module", "handlers.signal").Msg("snapshot failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": errStore})
		return
	}

	if role == models.RoleViewer {
		c.JSON(http.StatusOK, models.ViewerPoll{
			Offer:      sess.BroadcasterOffer,
			Candidates: sess.BroadcasterCandidates,
			Session:    sess.ID,
		})
		return
	}
	c.JSON(http.StatusOK, models.BroadcasterPoll{
		Answer:     sess.ViewerAnswer,
		Candidates: sess.ViewerCandidates,
		Session:    sess.ID,
	})
}

// Post applies one signaling message. An offer from the broadcaster always
// starts a clean session, discarding whatever was there before.
func (h *SignalHandler) Post(c *gin.Context) {
	var req signalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBody})
		return
	}
	msg := req.message()

	ctx := c.Request.Context()
	logger := log.With().Str("module", "handlers.signal").Str("type", string(msg.Type)).Str("role", string(msg.Role)).Logger()

	var err error
	switch {
	case msg.Type == models.SignalTypeOffer && msg.Role == models.RoleBroadcaster:
		var id string
		if id, err = h.Store.StartSession(ctx, msg.SDP); err == nil {
			logger.Info().Str("session", id).Msg("new broadcast session")
		}

	case msg.Type == models.SignalTypeAnswer && msg.Role == models.RoleViewer:
		if err = h.Store.SetAnswer(ctx, msg.SDP); err == nil {
			logger.Info().Msg("viewer answered")
		}

	case msg.Type == models.SignalTypeCandidate:
		if !msg.Role.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidRole})
			return
		}
		if err = h.Store.AppendCandidate(ctx, msg.Role, msg.Candidate); err == nil {
			logger.Debug().Msg("candidate appended")
		}

	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidType})
		return
	}

	if errors.Is(err, store.ErrInvalidRole) {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidRole})
		return
	}
	if err != nil {
		logger.Error().Err(err).Msg("store write failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": errStore})
		return
	}
	c.JSON(http.StatusOK, models.Ack{OK: true})
}
