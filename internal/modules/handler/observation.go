package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/presencelabs/meetledger/internal/modules/model"
	"github.com/presencelabs/meetledger/internal/modules/serializer"
	"github.com/presencelabs/meetledger/internal/modules/service"
)

// ObservationHandler mirrors the queue contract over HTTP for sensors that
// POST instead of publishing.
type ObservationHandler struct {
	gw service.ReconciliationGateway
}

func NewObservationHandler(gw service.ReconciliationGateway) *ObservationHandler {
	return &ObservationHandler{gw: gw}
}

type ParticipantReq struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

type ObserveReq struct {
	MeetingID    string           `json:"meeting_id" binding:"required" example:"abc-defg-hij"`
	Title        string           `json:"title"`
	URL          string           `json:"url"`
	Participants []ParticipantReq `json:"participants"`
	DataSource   string           `json:"data_source" example:"dom"`
}

type MinuteTickReq struct {
	MeetingID    string           `json:"meeting_id" binding:"required"`
	Minute       *int             `json:"minute" binding:"required,min=0"`
	Participants []ParticipantReq `json:"participants"`
}

type EndSessionReq struct {
	MeetingID string `json:"meeting_id" binding:"required"`
	Reason    string `json:"reason" binding:"required" example:"user_left"`
}

func toModelParticipants(in []ParticipantReq) []model.Participant {
	out := make([]model.Participant, 0, len(in))
	for _, p := range in {
		if p.ID == "" && p.Name == "" {
			continue
		}
		out = append(out, model.Participant{
			ID:        p.ID,
			Name:      p.Name,
			AvatarURL: p.AvatarURL,
		})
	}
	return out
}

func rejected(err error) bool {
	return errors.Is(err, service.ErrInvalidObservation) ||
		errors.Is(err, service.ErrUnknownEndReason) ||
		errors.Is(err, service.ErrUnknownDataSource)
}

// Observe ingests one presence snapshot.
func (h *ObservationHandler) Observe(c *gin.Context) {
	req := ObserveReq{}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, serializer.ParamErr("", err))
		return
	}

	err := h.gw.Observe(c.Request.Context(), service.ObserveInput{
		MeetingID:    req.MeetingID,
		Title:        req.Title,
		URL:          req.URL,
		Participants: toModelParticipants(req.Participants),
		Source:       model.DataSource(req.DataSource),
	})
	if err != nil {
		if rejected(err) {
			c.JSON(http.StatusBadRequest, serializer.ParamErr("", err))
			return
		}
		c.JSON(http.StatusInternalServerError, serializer.DBErr("", err))
		return
	}

	c.JSON(http.StatusAccepted, serializer.Response{Msg: "ok"})
}

// MinuteTick appends one minute-log sample to the active session.
func (h *ObservationHandler) MinuteTick(c *gin.Context) {
	req := MinuteTickReq{}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, serializer.ParamErr("", err))
		return
	}

	err := h.gw.MinuteTick(c.Request.Context(), req.MeetingID, *req.Minute, toModelParticipants(req.Participants))
	if err != nil {
		if rejected(err) {
			c.JSON(http.StatusBadRequest, serializer.ParamErr("", err))
			return
		}
		c.JSON(http.StatusInternalServerError, serializer.DBErr("", err))
		return
	}

	c.JSON(http.StatusAccepted, serializer.Response{Msg: "ok"})
}

// EndSession closes the meeting's active session. Idempotent: a second call
// finds no session and reports closed=false.
func (h *ObservationHandler) EndSession(c *gin.Context) {
	req := EndSessionReq{}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, serializer.ParamErr("", err))
		return
	}

	closed, err := h.gw.EndSession(c.Request.Context(), req.MeetingID, model.EndReason(req.Reason))
	if err != nil {
		if rejected(err) {
			c.JSON(http.StatusBadRequest, serializer.ParamErr("", err))
			return
		}
		c.JSON(http.StatusInternalServerError, serializer.DBErr("", err))
		return
	}

	if closed == nil {
		c.JSON(http.StatusOK, serializer.Response{Msg: "no active session"})
		return
	}
	c.JSON(http.StatusOK, serializer.Response{Data: closed, Msg: "ok"})
}
