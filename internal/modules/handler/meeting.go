package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/presencelabs/meetledger/internal/modules/repo"
	"github.com/presencelabs/meetledger/internal/modules/serializer"
	"github.com/presencelabs/meetledger/internal/modules/service"
)

// MeetingHandler is the dashboard read surface plus the bulk clear.
type MeetingHandler struct {
	gw service.ReconciliationGateway
}

func NewMeetingHandler(gw service.ReconciliationGateway) *MeetingHandler {
	return &MeetingHandler{gw: gw}
}

type ListMeetingsReq struct {
	Filter string `form:"filter,default=all" json:"filter" example:"active"`
	Sort   string `form:"sort,default=startTime" json:"sort" example:"startTime"`
	Desc   bool   `form:"desc,default=true" json:"desc"`
	Limit  int    `form:"limit,default=50" json:"limit" binding:"min=0,max=500"`
}

// ListMeetings returns meetings filtered and sorted for the dashboard.
func (h *MeetingHandler) ListMeetings(c *gin.Context) {
	req := ListMeetingsReq{}
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, serializer.ParamErr("", err))
		return
	}

	meetings, err := h.gw.Query(c.Request.Context(), repo.ListMeetingsInput{
		Filter: repo.MeetingFilter(req.Filter),
		Sort:   repo.MeetingSort(req.Sort),
		Desc:   req.Desc,
		Limit:  req.Limit,
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidQuery) {
			c.JSON(http.StatusBadRequest, serializer.ParamErr("", err))
			return
		}
		c.JSON(http.StatusInternalServerError, serializer.DBErr("", err))
		return
	}

	c.JSON(http.StatusOK, serializer.Response{Data: meetings})
}

// GetMeeting returns one meeting with its sessions in start order.
func (h *MeetingHandler) GetMeeting(c *gin.Context) {
	meetingID := c.Param("meeting_id")
	if meetingID == "" {
		c.JSON(http.StatusBadRequest, serializer.ParamErr("meeting id required", nil))
		return
	}

	detail, err := h.gw.GetMeeting(c.Request.Context(), meetingID)
	if err != nil {
		if errors.Is(err, repo.ErrMeetingNotFound) {
			c.JSON(http.StatusNotFound, serializer.NotFoundErr("meeting not found", err))
			return
		}
		c.JSON(http.StatusInternalServerError, serializer.DBErr("", err))
		return
	}

	c.JSON(http.StatusOK, serializer.Response{Data: detail})
}

// GetCurrentState returns the live badge view.
func (h *MeetingHandler) GetCurrentState(c *gin.Context) {
	c.JSON(http.StatusOK, serializer.Response{Data: h.gw.CurrentState(c.Request.Context())})
}

// ClearAll wipes every meeting and session. The only destructive operation.
func (h *MeetingHandler) ClearAll(c *gin.Context) {
	if err := h.gw.ClearAll(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, serializer.DBErr("", err))
		return
	}
	c.JSON(http.StatusOK, serializer.Response{Msg: "ok"})
}
