package handler

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/presencelabs/meetledger/internal/modules/model"
	"github.com/presencelabs/meetledger/internal/modules/serializer"
	"github.com/presencelabs/meetledger/internal/modules/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newObservationRouter(gw *MockGateway) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewObservationHandler(gw)

	r := gin.New()
	r.POST("/observations", h.Observe)
	r.POST("/observations/minute", h.MinuteTick)
	r.POST("/sessions/end", h.EndSession)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path, body string) (*httptest.ResponseRecorder, serializer.Response) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var res serializer.Response
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &res))
	return w, res
}

func TestObservationHandler_Observe(t *testing.T) {
	gw := new(MockGateway)
	r := newObservationRouter(gw)

	gw.On("Observe", mock.Anything, service.ObserveInput{
		MeetingID:    "abc-defg-hij",
		Title:        "Sync",
		Participants: []model.Participant{{ID: "a1", Name: "Alice"}},
		Source:       model.DataSourceDOM,
	}).Return(nil)

	w, res := doJSON(t, r, http.MethodPost, "/observations",
		`{"meeting_id":"abc-defg-hij","title":"Sync","participants":[{"id":"a1","name":"Alice"}],"data_source":"dom"}`)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "ok", res.Msg)
	gw.AssertExpectations(t)
}

func TestObservationHandler_ObserveMissingMeetingID(t *testing.T) {
	gw := new(MockGateway)
	r := newObservationRouter(gw)

	w, _ := doJSON(t, r, http.MethodPost, "/observations", `{"title":"Sync"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	gw.AssertNotCalled(t, "Observe", mock.Anything, mock.Anything)
}

func TestObservationHandler_ObserveRejectedSource(t *testing.T) {
	gw := new(MockGateway)
	r := newObservationRouter(gw)

	gw.On("Observe", mock.Anything, mock.Anything).Return(service.ErrUnknownDataSource)

	w, _ := doJSON(t, r, http.MethodPost, "/observations",
		`{"meeting_id":"m","data_source":"satellite"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestObservationHandler_MinuteTick(t *testing.T) {
	gw := new(MockGateway)
	r := newObservationRouter(gw)

	gw.On("MinuteTick", mock.Anything, "m", 0, []model.Participant{{ID: "a1", Name: "Alice"}}).Return(nil)

	w, _ := doJSON(t, r, http.MethodPost, "/observations/minute",
		`{"meeting_id":"m","minute":0,"participants":[{"id":"a1","name":"Alice"}]}`)

	// minute 0 is a valid index, not a missing field
	assert.Equal(t, http.StatusAccepted, w.Code)
	gw.AssertExpectations(t)
}

func TestObservationHandler_MinuteTickMissingMinute(t *testing.T) {
	gw := new(MockGateway)
	r := newObservationRouter(gw)

	w, _ := doJSON(t, r, http.MethodPost, "/observations/minute", `{"meeting_id":"m"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	gw.AssertNotCalled(t, "MinuteTick", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestObservationHandler_EndSession(t *testing.T) {
	gw := new(MockGateway)
	r := newObservationRouter(gw)

	end := time.Now()
	closed := &model.Session{
		ID:         uuid.New(),
		MeetingID:  "m",
		EndTime:    &end,
		DurationMS: 60_000,
		EndReason:  model.EndReasonUserLeft,
	}
	gw.On("EndSession", mock.Anything, "m", model.EndReasonUserLeft).Return(closed, nil)

	w, res := doJSON(t, r, http.MethodPost, "/sessions/end",
		`{"meeting_id":"m","reason":"user_left"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", res.Msg)
	assert.NotNil(t, res.Data)
}

func TestObservationHandler_EndSessionNoActive(t *testing.T) {
	gw := new(MockGateway)
	r := newObservationRouter(gw)

	gw.On("EndSession", mock.Anything, "m", model.EndReasonUserLeft).Return(nil, nil)

	w, res := doJSON(t, r, http.MethodPost, "/sessions/end",
		`{"meeting_id":"m","reason":"user_left"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "no active session", res.Msg)
}

func TestObservationHandler_EndSessionUnknownReason(t *testing.T) {
	gw := new(MockGateway)
	r := newObservationRouter(gw)

	gw.On("EndSession", mock.Anything, "m", model.EndReason("rage_quit")).
		Return(nil, service.ErrUnknownEndReason)

	w, _ := doJSON(t, r, http.MethodPost, "/sessions/end",
		`{"meeting_id":"m","reason":"rage_quit"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
