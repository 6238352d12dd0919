package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/presencelabs/meetledger/internal/modules/model"
	"github.com/presencelabs/meetledger/internal/modules/repo"
	"github.com/presencelabs/meetledger/internal/telemetry"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// MeetingAggregator keeps each meeting record a correct fold over its
// sessions. Recompute is deterministic and idempotent: with unchanged
// sessions it produces an unchanged meeting, timestamps aside.
type MeetingAggregator interface {
	Recompute(ctx context.Context, meetingID string) (*model.Meeting, error)
}

type meetingAggregator struct {
	sessions repo.SessionRepo
	meetings repo.MeetingRepo
	log      *zap.Logger
	now      func() time.Time
}

func NewMeetingAggregator(sessions repo.SessionRepo, meetings repo.MeetingRepo, log *zap.Logger) MeetingAggregator {
	return &meetingAggregator{
		sessions: sessions,
		meetings: meetings,
		log:      log,
		now:      time.Now,
	}
}

func (a *meetingAggregator) Recompute(ctx context.Context, meetingID string) (*model.Meeting, error) {
	started := a.now()

	sessions, err := a.sessions.ListByMeeting(ctx, meetingID)
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}

	// The repo already orders by start time; re-assert the (startTime, id)
	// tie-break so the fold never depends on storage behavior.
	sort.SliceStable(sessions, func(i, j int) bool {
		if sessions[i].StartTime.Equal(sessions[j].StartTime) {
			return sessions[i].ID.String() < sessions[j].ID.String()
		}
		return sessions[i].StartTime.Before(sessions[j].StartTime)
	})

	meeting, err := a.meetings.Get(ctx, meetingID)
	if err != nil {
		if !errors.Is(err, repo.ErrMeetingNotFound) {
			return nil, fmt.Errorf("load meeting: %w", err)
		}
		// A session pointing at a missing meeting record is self-healed here.
		meeting = &model.Meeting{ID: meetingID}
	}

	fold(meeting, sessions)

	if err := a.meetings.Put(ctx, meeting); err != nil {
		return nil, fmt.Errorf("store meeting: %w", err)
	}

	telemetry.RecordRecompute(ctx, float64(a.now().Sub(started).Milliseconds()))
	a.log.Debug("meeting recomputed",
		zap.String("meeting_id", meetingID),
		zap.Int("session_count", meeting.SessionCount),
		zap.String("status", string(meeting.Status)))
	return meeting, nil
}

// fold derives every meeting field from the session list. Sessions must
// already be in (startTime, id) order.
func fold(m *model.Meeting, sessions []model.Session) {
	m.SessionCount = len(sessions)
	m.TotalDurationMS = 0
	m.StartTime = nil
	m.EndTime = nil
	m.Status = model.MeetingStatusCompleted

	participants := make(map[string]model.Participant)
	joinCounts := make(map[string]int)

	anyOpen := false
	var maxEnd *time.Time

	for i := range sessions {
		s := &sessions[i]

		if m.StartTime == nil || s.StartTime.Before(*m.StartTime) {
			st := s.StartTime
			m.StartTime = &st
		}

		if s.Open() {
			anyOpen = true
		} else {
			m.TotalDurationMS += s.DurationMS
			if maxEnd == nil || s.EndTime.After(*maxEnd) {
				end := *s.EndTime
				maxEnd = &end
			}
		}

		if s.Title != "" {
			m.Title = s.Title
		}
		if s.URL != "" {
			m.URL = s.URL
		}

		// Later-started sessions win on field drift; join counts tally every
		// session the participant appeared in regardless.
		for _, p := range s.Participants.Data() {
			key := p.Key()
			if key == "" {
				continue
			}
			participants[key] = p
			joinCounts[key]++
		}
	}

	if anyOpen {
		m.Status = model.MeetingStatusActive
	} else {
		m.EndTime = maxEnd
	}

	m.Participants = datatypes.NewJSONType(participants)
	m.ParticipantJoinCounts = datatypes.NewJSONType(joinCounts)
	m.ParticipantCount = len(participants)
}
