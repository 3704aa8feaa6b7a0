package http

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/freaksai/roomgate/internal/broker"
	"github.com/freaksai/roomgate/internal/domain"
	"github.com/freaksai/roomgate/internal/provider"
)

type handlers struct {
	broker *broker.Broker
	admin  provider.AdminAdapter
}

type tokenRequest struct {
	RoomID string `json:"roomId"`
}

type adminRequest struct {
	RoomID        string `json:"roomId"`
	ParticipantID string `json:"participantId"`
	TrackType     string `json:"trackType"`
}

type adminResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (h *handlers) issueToken(c *gin.Context) {
	var body tokenRequest
	// Body parse failures surface later as validation errors; the
	// method/origin checks must run first regardless.
	_ = c.ShouldBindJSON(&body)

	cred, err := h.broker.IssueToken(c.Request.Context(), broker.Request{
		Method:        c.Request.Method,
		Origin:        c.GetHeader("Origin"),
		Authorization: c.GetHeader("Authorization"),
		RoomID:        body.RoomID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cred)
}

// Admin endpoints authenticate the caller and check origin, but do not
// verify room ownership or role: any authenticated room member may
// moderate. This is a known trust-model limitation, not a guarantee.
func (h *handlers) adminIdentity(c *gin.Context) (domain.VerifiedIdentity, bool) {
	who, err := h.broker.Authenticate(c.Request.Context(), c.GetHeader("Origin"), c.GetHeader("Authorization"))
	if err != nil {
		writeError(c, err)
		return domain.VerifiedIdentity{}, false
	}
	return who, true
}

func (h *handlers) muteParticipant(c *gin.Context) {
	who, ok := h.adminIdentity(c)
	if !ok {
		return
	}
	var body adminRequest
	if err := c.ShouldBindJSON(&body); err != nil || body.RoomID == "" || body.ParticipantID == "" {
		writeError(c, domain.ErrValidation)
		return
	}
	kind := domain.TrackKind(body.TrackType)
	if kind != domain.TrackAudio && kind != domain.TrackVideo && kind != domain.TrackAll {
		writeError(c, domain.ErrValidation)
		return
	}
	room, err := domain.NormalizeRoomID(body.RoomID)
	if err != nil {
		writeError(c, domain.ErrValidation)
		return
	}
	if err := h.admin.MuteTrack(c.Request.Context(), room, body.ParticipantID, kind); err != nil {
		writeError(c, err)
		return
	}
	log.Info().Str("module", "adapters.http").Str("subject", string(who.Subject)).
		Str("room", string(room)).Str("target", body.ParticipantID).Str("kind", string(kind)).Msg("participant muted")
	c.JSON(http.StatusOK, adminResponse{Success: true, Message: "participant muted"})
}

func (h *handlers) kickParticipant(c *gin.Context) {
	who, ok := h.adminIdentity(c)
	if !ok {
		return
	}
	var body adminRequest
	if err := c.ShouldBindJSON(&body); err != nil || body.RoomID == "" || body.ParticipantID == "" {
		writeError(c, domain.ErrValidation)
		return
	}
	room, err := domain.NormalizeRoomID(body.RoomID)
	if err != nil {
		writeError(c, domain.ErrValidation)
		return
	}
	if err := h.admin.RemoveParticipant(c.Request.Context(), room, body.ParticipantID); err != nil {
		writeError(c, err)
		return
	}
	log.Info().Str("module", "adapters.http").Str("subject", string(who.Subject)).
		Str("room", string(room)).Str("target", body.ParticipantID).Msg("participant kicked")
	c.JSON(http.StatusOK, adminResponse{Success: true, Message: "participant removed"})
}

func (h *handlers) listParticipants(c *gin.Context) {
	if _, ok := h.adminIdentity(c); !ok {
		return
	}
	room, err := domain.NormalizeRoomID(c.Query("roomId"))
	if err != nil {
		writeError(c, domain.ErrValidation)
		return
	}
	participants, err := h.admin.ListParticipants(c.Request.Context(), room)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"roomId": string(room), "participants": participants})
}

// writeError maps the failure taxonomy to statuses. Bodies stay
// generic; the cause was already logged where it happened.
func writeError(c *gin.Context, err error) {
	var denied *broker.Denied
	if errors.As(err, &denied) {
		if errors.Is(denied.Err, domain.ErrRateLimited) {
			secs := int(math.Ceil(denied.RetryAfter.Seconds()))
			if secs < 1 {
				secs = 1
			}
			c.Header("Retry-After", strconv.Itoa(secs))
		}
		err = denied.Err
	}

	status, msg := http.StatusInternalServerError, "internal error"
	switch {
	case errors.Is(err, domain.ErrMethod):
		status, msg = http.StatusMethodNotAllowed, domain.ErrMethod.Error()
	case errors.Is(err, domain.ErrOrigin):
		status, msg = http.StatusForbidden, domain.ErrOrigin.Error()
	case errors.Is(err, domain.ErrAuthentication):
		status, msg = http.StatusUnauthorized, domain.ErrAuthentication.Error()
	case errors.Is(err, domain.ErrRateLimited):
		status, msg = http.StatusTooManyRequests, domain.ErrRateLimited.Error()
	case errors.Is(err, domain.ErrValidation):
		status, msg = http.StatusBadRequest, domain.ErrValidation.Error()
	case errors.Is(err, domain.ErrProvider):
		status, msg = http.StatusServiceUnavailable, domain.ErrProvider.Error()
	}
	c.JSON(status, gin.H{"error": msg})
}
