package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/presencelabs/meetledger/internal/modules/model"
	"github.com/presencelabs/meetledger/internal/modules/repo"
	"github.com/presencelabs/meetledger/internal/modules/serializer"
	"github.com/presencelabs/meetledger/internal/modules/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newMeetingRouter(gw *MockGateway) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewMeetingHandler(gw)

	r := gin.New()
	r.GET("/meetings", h.ListMeetings)
	r.GET("/meetings/:meeting_id", h.GetMeeting)
	r.GET("/state", h.GetCurrentState)
	r.DELETE("/meetings", h.ClearAll)
	return r
}

func doGet(t *testing.T, r *gin.Engine, path string) (*httptest.ResponseRecorder, serializer.Response) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var res serializer.Response
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &res))
	return w, res
}

func TestMeetingHandler_ListMeetings(t *testing.T) {
	gw := new(MockGateway)
	r := newMeetingRouter(gw)

	gw.On("Query", mock.Anything, repo.ListMeetingsInput{
		Filter: repo.MeetingFilterActive,
		Sort:   repo.MeetingSortDuration,
		Desc:   true,
		Limit:  10,
	}).Return([]model.Meeting{{ID: "m", Title: "Sync"}}, nil)

	w, res := doGet(t, r, "/meetings?filter=active&sort=duration&desc=true&limit=10")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotNil(t, res.Data)
	gw.AssertExpectations(t)
}

func TestMeetingHandler_ListMeetingsDefaults(t *testing.T) {
	gw := new(MockGateway)
	r := newMeetingRouter(gw)

	gw.On("Query", mock.Anything, repo.ListMeetingsInput{
		Filter: repo.MeetingFilterAll,
		Sort:   repo.MeetingSortStartTime,
		Desc:   true,
		Limit:  50,
	}).Return([]model.Meeting{}, nil)

	w, _ := doGet(t, r, "/meetings")

	assert.Equal(t, http.StatusOK, w.Code)
	gw.AssertExpectations(t)
}

func TestMeetingHandler_ListMeetingsInvalidFilter(t *testing.T) {
	gw := new(MockGateway)
	r := newMeetingRouter(gw)

	gw.On("Query", mock.Anything, mock.Anything).Return(nil, service.ErrInvalidQuery)

	w, _ := doGet(t, r, "/meetings?filter=yesterday")

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMeetingHandler_ListMeetingsLimitTooLarge(t *testing.T) {
	gw := new(MockGateway)
	r := newMeetingRouter(gw)

	w, _ := doGet(t, r, "/meetings?limit=9999")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	gw.AssertNotCalled(t, "Query", mock.Anything, mock.Anything)
}

func TestMeetingHandler_GetMeeting(t *testing.T) {
	gw := new(MockGateway)
	r := newMeetingRouter(gw)

	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	gw.On("GetMeeting", mock.Anything, "abc-defg-hij").Return(&service.MeetingDetail{
		Meeting: model.Meeting{
			ID:        "abc-defg-hij",
			Title:     "Weekly Sync",
			StartTime: &start,
			Status:    model.MeetingStatusCompleted,
		},
		Sessions: []model.Session{{MeetingID: "abc-defg-hij", StartTime: start}},
	}, nil)

	w, res := doGet(t, r, "/meetings/abc-defg-hij")

	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, res.Data)

	detail := res.Data.(map[string]interface{})
	meeting := detail["meeting"].(map[string]interface{})
	assert.Equal(t, "Weekly Sync", meeting["title"])
	assert.Len(t, detail["sessions"], 1)
}

func TestMeetingHandler_GetMeetingNotFound(t *testing.T) {
	gw := new(MockGateway)
	r := newMeetingRouter(gw)

	gw.On("GetMeeting", mock.Anything, "missing").Return(nil, repo.ErrMeetingNotFound)

	w, res := doGet(t, r, "/meetings/missing")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "meeting not found", res.Msg)
}

func TestMeetingHandler_GetCurrentState(t *testing.T) {
	gw := new(MockGateway)
	r := newMeetingRouter(gw)

	gw.On("CurrentState", mock.Anything).Return(service.CurrentState{
		IsActive:         true,
		MeetingID:        "m",
		Participants:     []model.Participant{{ID: "a1", Name: "Alice"}},
		ParticipantCount: 1,
	})

	w, res := doGet(t, r, "/state")

	assert.Equal(t, http.StatusOK, w.Code)
	state := res.Data.(map[string]interface{})
	assert.Equal(t, true, state["is_active"])
	assert.Equal(t, "m", state["meeting_id"])
}

func TestMeetingHandler_ClearAll(t *testing.T) {
	gw := new(MockGateway)
	r := newMeetingRouter(gw)

	gw.On("ClearAll", mock.Anything).Return(nil)

	req := httptest.NewRequest(http.MethodDelete, "/meetings", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	gw.AssertExpectations(t)
}
