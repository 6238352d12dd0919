package handler

import (
	"context"

	"github.com/presencelabs/meetledger/internal/modules/model"
	"github.com/presencelabs/meetledger/internal/modules/repo"
	"github.com/presencelabs/meetledger/internal/modules/service"
	"github.com/stretchr/testify/mock"
)

// MockGateway is a mock implementation of service.ReconciliationGateway
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Observe(ctx context.Context, in service.ObserveInput) error {
	args := m.Called(ctx, in)
	return args.Error(0)
}

func (m *MockGateway) MinuteTick(ctx context.Context, meetingID string, minuteIndex int, participants []model.Participant) error {
	args := m.Called(ctx, meetingID, minuteIndex, participants)
	return args.Error(0)
}

func (m *MockGateway) EndSession(ctx context.Context, meetingID string, reason model.EndReason) (*model.Session, error) {
	args := m.Called(ctx, meetingID, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Session), args.Error(1)
}

func (m *MockGateway) CurrentState(ctx context.Context) service.CurrentState {
	args := m.Called(ctx)
	return args.Get(0).(service.CurrentState)
}

func (m *MockGateway) Query(ctx context.Context, in repo.ListMeetingsInput) ([]model.Meeting, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Meeting), args.Error(1)
}

func (m *MockGateway) GetMeeting(ctx context.Context, meetingID string) (*service.MeetingDetail, error) {
	args := m.Called(ctx, meetingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.MeetingDetail), args.Error(1)
}

func (m *MockGateway) RecoverOnStartup(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockGateway) Sweep(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockGateway) ClearAll(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockGateway) HandleObservationMessage(ctx context.Context, body []byte) error {
	args := m.Called(ctx, body)
	return args.Error(0)
}
