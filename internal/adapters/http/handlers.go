package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kl0udx/THISTHAT-HACKATHONv1/internal/app"
	"github.com/kl0udx/THISTHAT-HACKATHONv1/internal/core"
	"github.com/kl0udx/THISTHAT-HACKATHONv1/internal/domain"
)

// Roster is the mutation side of presence, satisfied by both roster
// backends. Membership proper is owned externally; these endpoints
// stand in for it so the subsystem runs standalone.
type Roster interface {
	Join(ctx context.Context, roomID domain.RoomID, p domain.ParticipantID) error
	Leave(ctx context.Context, roomID domain.RoomID, p domain.ParticipantID) error
}

type Handlers struct {
	Relay       *app.Relay
	Coordinator *app.Coordinator
	Registry    *app.SessionRegistry
	Roster      Roster
}

// statusOf maps the service error classes onto HTTP codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, core.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrInvalidState):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrPermissionDenied):
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

func abortWith(c *gin.Context, err error) {
	c.JSON(statusOf(err), gin.H{"error": err.Error()})
}

type sendRequest struct {
	RoomID   string          `json:"roomId" binding:"required"`
	FromPeer string          `json:"fromPeer" binding:"required"`
	ToPeer   string          `json:"toPeer" binding:"required"`
	Kind     string          `json:"kind" binding:"required"`
	Payload  json.RawMessage `json:"payload" binding:"required"`
}

func (h *Handlers) RelaySend(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	_, err := h.Relay.Send(
		c.Request.Context(),
		domain.RoomID(req.RoomID),
		domain.ParticipantID(req.FromPeer),
		domain.ParticipantID(req.ToPeer),
		domain.EnvelopeKind(req.Kind),
		req.Payload,
	)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type receiveRequest struct {
	RoomID string `json:"roomId" binding:"required"`
	PeerID string `json:"peerId" binding:"required"`
}

func (h *Handlers) RelayReceive(c *gin.Context) {
	var req receiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	envs, err := h.Relay.Receive(c.Request.Context(), domain.RoomID(req.RoomID), domain.ParticipantID(req.PeerID))
	if err != nil {
		abortWith(c, err)
		return
	}
	if envs == nil {
		envs = []*domain.Envelope{}
	}
	c.JSON(http.StatusOK, gin.H{"envelopes": envs})
}

type requestSessionRequest struct {
	RoomID      string `json:"roomId" binding:"required"`
	InitiatorID string `json:"initiatorId" binding:"required"`
	Kind        string `json:"kind" binding:"required"`
}

func (h *Handlers) RequestSession(c *gin.Context) {
	var req requestSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sess, err := h.Coordinator.RequestSession(
		c.Request.Context(),
		domain.RoomID(req.RoomID),
		domain.ParticipantID(req.InitiatorID),
		domain.SessionKind(req.Kind),
	)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"sessionId":          sess.ID,
		"state":              sess.State,
		"onlineParticipants": sess.Participants,
	})
}

type ballotRequest struct {
	VoterID string `json:"voterId" binding:"required"`
	Granted *bool  `json:"granted" binding:"required"`
}

func (h *Handlers) CastBallot(c *gin.Context) {
	var req ballotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := h.Coordinator.CastBallot(
		c.Request.Context(),
		domain.SessionID(c.Param("sessionId")),
		domain.ParticipantID(req.VoterID),
		*req.Granted,
	)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type stopRequest struct {
	RequesterID     string         `json:"requesterId" binding:"required"`
	TerminationMeta map[string]any `json:"terminationMeta"`
}

func (h *Handlers) StopSession(c *gin.Context) {
	var req stopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sess, err := h.Coordinator.StopSession(
		c.Request.Context(),
		domain.SessionID(c.Param("sessionId")),
		domain.ParticipantID(req.RequesterID),
		req.TerminationMeta,
	)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *Handlers) GetSession(c *gin.Context) {
	sess, err := h.Registry.Get(c.Request.Context(), domain.SessionID(c.Param("sessionId")))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *Handlers) SessionHistory(c *gin.Context) {
	sessions, err := h.Registry.History(c.Request.Context(), domain.RoomID(c.Param("roomId")))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (h *Handlers) ActiveSession(c *gin.Context) {
	kind := domain.SessionKind(c.Query("kind"))
	if !kind.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown session kind"})
		return
	}
	sess, err := h.Registry.ActiveSessionOf(c.Request.Context(), domain.RoomID(c.Param("roomId")), kind)
	if errors.Is(err, core.ErrNotFound) {
		c.JSON(http.StatusOK, gin.H{"session": nil})
		return
	}
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess})
}

type presenceRequest struct {
	ParticipantID string `json:"participantId" binding:"required"`
}

func (h *Handlers) JoinRoom(c *gin.Context) {
	var req presenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.Roster.Join(c.Request.Context(), domain.RoomID(c.Param("roomId")), domain.ParticipantID(req.ParticipantID)); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handlers) LeaveRoom(c *gin.Context) {
	var req presenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.Roster.Leave(c.Request.Context(), domain.RoomID(c.Param("roomId")), domain.ParticipantID(req.ParticipantID)); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
