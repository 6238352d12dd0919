package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/presencelabs/meetledger/internal/modules/model"
	"github.com/presencelabs/meetledger/internal/modules/repo"
	"github.com/presencelabs/meetledger/internal/telemetry"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// ObserveInput is one presence snapshot from the sensor.
type ObserveInput struct {
	MeetingID    string
	Title        string
	URL          string
	Participants []model.Participant
	Source       model.DataSource
}

// CurrentState is the live badge view: the most recently active open session,
// if any.
type CurrentState struct {
	IsActive         bool                `json:"is_active"`
	MeetingID        string              `json:"meeting_id,omitempty"`
	Participants     []model.Participant `json:"participants"`
	ParticipantCount int                 `json:"participant_count"`
}

// SessionTracker owns the meetingID -> open-session mapping and decides when
// sessions start and end. A meeting has at most one open session at any
// instant; the tracker enforces that by closing the previous session before
// registering a new one.
//
// Callers must serialize operations per meetingID (the gateway does); the
// tracker's own mutex only guards the map against cross-meeting access.
type SessionTracker interface {
	StartSession(ctx context.Context, meetingID, title, url string) (*model.Session, error)
	Observe(ctx context.Context, in ObserveInput) (*model.Session, error)
	RecordMinute(ctx context.Context, meetingID string, minuteIndex int, participants []model.Participant) error
	// EndSession returns nil when no session is open, so duplicate end
	// signals are harmless.
	EndSession(ctx context.Context, meetingID string, reason model.EndReason) (*model.Session, error)

	// StaleMeetings lists meetings whose open session saw no activity within
	// the timeout. EndSessionIfStale re-checks under the caller's per-meeting
	// lock before closing, so a sweep cannot race a fresh observation.
	StaleMeetings(timeout time.Duration) []string
	EndSessionIfStale(ctx context.Context, meetingID string, timeout time.Duration) (*model.Session, error)

	// CloseOrphan closes a stored open session that is not in the in-memory
	// map (a previous process crashed while it was active).
	CloseOrphan(ctx context.Context, s *model.Session, reason model.EndReason) error

	Snapshot() CurrentState
	SnapshotMeeting(meetingID string) CurrentState
	Reset()
}

type sessionTracker struct {
	sessions repo.SessionRepo
	agg      MeetingAggregator
	log      *zap.Logger
	now      func() time.Time

	mu           sync.Mutex
	active       map[string]*model.Session
	lastActivity map[string]time.Time
}

func NewSessionTracker(sessions repo.SessionRepo, agg MeetingAggregator, log *zap.Logger) SessionTracker {
	return &sessionTracker{
		sessions:     sessions,
		agg:          agg,
		log:          log,
		now:          time.Now,
		active:       make(map[string]*model.Session),
		lastActivity: make(map[string]time.Time),
	}
}

func (t *sessionTracker) activeSession(meetingID string) *model.Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active[meetingID]
}

func (t *sessionTracker) touch(meetingID string) {
	t.mu.Lock()
	t.lastActivity[meetingID] = t.now()
	t.mu.Unlock()
}

func (t *sessionTracker) StartSession(ctx context.Context, meetingID, title, url string) (*model.Session, error) {
	if prev := t.activeSession(meetingID); prev != nil {
		if _, err := t.EndSession(ctx, meetingID, model.EndReasonNewSessionStarted); err != nil {
			return nil, fmt.Errorf("close previous session: %w", err)
		}
	}

	now := t.now()
	s := &model.Session{
		ID:        uuid.New(),
		MeetingID: meetingID,
		Title:     title,
		URL:       url,
		StartTime: now,
	}

	// Register before persisting: on a storage failure the caller retries the
	// whole operation and the in-memory state is already where it should be.
	t.mu.Lock()
	t.active[meetingID] = s
	t.lastActivity[meetingID] = now
	t.mu.Unlock()

	if err := t.sessions.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("persist new session: %w", err)
	}

	telemetry.RecordSessionOpened(ctx)
	t.log.Info("session started",
		zap.String("meeting_id", meetingID),
		zap.String("session_id", s.ID.String()))

	if _, err := t.agg.Recompute(ctx, meetingID); err != nil {
		return nil, err
	}
	return s, nil
}

func (t *sessionTracker) Observe(ctx context.Context, in ObserveInput) (*model.Session, error) {
	s := t.activeSession(in.MeetingID)
	if s == nil {
		title := in.Title
		if title == "" {
			title = in.MeetingID
		}
		var err error
		if s, err = t.StartSession(ctx, in.MeetingID, title, in.URL); err != nil {
			return nil, err
		}
	}

	now := t.now()
	t.touch(in.MeetingID)

	roster := s.Participants.Data()

	// Empty snapshots happen mid-meeting (panel closed, transient DOM churn)
	// and unchanged ones are just heartbeats; neither warrants a write.
	if len(in.Participants) == 0 || model.SameRoster(roster, in.Participants) {
		for i := range roster {
			roster[i].LastSeen = now
		}
		s.Participants = datatypes.NewJSONType(roster)
		return s, nil
	}

	s.Participants = datatypes.NewJSONType(mergeRoster(roster, in.Participants, now, in.Source))
	s.DataSource = mergeSource(s.DataSource, in.Source)
	if in.Title != "" {
		s.Title = in.Title
	}
	if in.URL != "" {
		s.URL = in.URL
	}

	if err := t.sessions.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("persist observation: %w", err)
	}
	return s, nil
}

func (t *sessionTracker) RecordMinute(ctx context.Context, meetingID string, minuteIndex int, participants []model.Participant) error {
	s := t.activeSession(meetingID)
	if s == nil {
		t.log.Debug("minute tick without active session",
			zap.String("meeting_id", meetingID),
			zap.Int("minute", minuteIndex))
		return nil
	}

	now := t.now()
	t.touch(meetingID)

	entry := model.MinuteEntry{
		Minute:           minuteIndex,
		Timestamp:        now,
		Participants:     participants,
		ParticipantCount: len(model.CanonicalKeys(participants)),
	}

	log := s.MinuteLog.Data()
	switch {
	case len(log) == 0 || minuteIndex > log[len(log)-1].Minute:
		log = append(log, entry)
	case minuteIndex == log[len(log)-1].Minute:
		// The current minute may be replaced until it has passed.
		log[len(log)-1] = entry
	default:
		// Past minutes are immutable; a late duplicate is dropped.
		t.log.Debug("stale minute tick ignored",
			zap.String("meeting_id", meetingID),
			zap.Int("minute", minuteIndex))
		return nil
	}
	s.MinuteLog = datatypes.NewJSONType(log)

	if err := t.sessions.Save(ctx, s); err != nil {
		return fmt.Errorf("persist minute log: %w", err)
	}
	return nil
}

func (t *sessionTracker) EndSession(ctx context.Context, meetingID string, reason model.EndReason) (*model.Session, error) {
	s := t.activeSession(meetingID)
	if s == nil {
		return nil, nil
	}

	if !s.Close(t.now(), reason) {
		// Already closed but still registered: drop the stale entry.
		t.forget(meetingID)
		return nil, nil
	}

	if err := t.sessions.Save(ctx, s); err != nil {
		// Leave the session registered; a retried end call will find it.
		s.EndTime = nil
		s.DurationMS = 0
		s.EndReason = ""
		return nil, fmt.Errorf("persist session close: %w", err)
	}

	t.forget(meetingID)

	telemetry.RecordSessionClosed(ctx, string(reason))
	t.log.Info("session ended",
		zap.String("meeting_id", meetingID),
		zap.String("session_id", s.ID.String()),
		zap.String("reason", string(reason)),
		zap.Int64("duration_ms", s.DurationMS))

	if _, err := t.agg.Recompute(ctx, meetingID); err != nil {
		return nil, err
	}
	return s, nil
}

func (t *sessionTracker) forget(meetingID string) {
	t.mu.Lock()
	delete(t.active, meetingID)
	delete(t.lastActivity, meetingID)
	t.mu.Unlock()
}

func (t *sessionTracker) StaleMeetings(timeout time.Duration) []string {
	cutoff := t.now().Add(-timeout)

	t.mu.Lock()
	defer t.mu.Unlock()

	var stale []string
	for meetingID, s := range t.active {
		last, ok := t.lastActivity[meetingID]
		if !ok {
			last = s.StartTime
		}
		if last.Before(cutoff) {
			stale = append(stale, meetingID)
		}
	}
	return stale
}

func (t *sessionTracker) EndSessionIfStale(ctx context.Context, meetingID string, timeout time.Duration) (*model.Session, error) {
	cutoff := t.now().Add(-timeout)

	t.mu.Lock()
	s, ok := t.active[meetingID]
	var last time.Time
	if ok {
		last = t.lastActivity[meetingID]
		if last.IsZero() {
			last = s.StartTime
		}
	}
	t.mu.Unlock()

	if !ok || !last.Before(cutoff) {
		return nil, nil
	}
	return t.EndSession(ctx, meetingID, model.EndReasonZombieCleanup)
}

func (t *sessionTracker) CloseOrphan(ctx context.Context, s *model.Session, reason model.EndReason) error {
	if !s.Close(t.now(), reason) {
		return nil
	}
	if err := t.sessions.Save(ctx, s); err != nil {
		return fmt.Errorf("persist orphan close: %w", err)
	}

	telemetry.RecordSessionClosed(ctx, string(reason))
	t.log.Warn("orphaned session closed",
		zap.String("meeting_id", s.MeetingID),
		zap.String("session_id", s.ID.String()),
		zap.String("reason", string(reason)))

	_, err := t.agg.Recompute(ctx, s.MeetingID)
	return err
}

func (t *sessionTracker) Snapshot() CurrentState {
	t.mu.Lock()
	defer t.mu.Unlock()

	var (
		best     *model.Session
		bestSeen time.Time
	)
	for meetingID, s := range t.active {
		seen := t.lastActivity[meetingID]
		if seen.IsZero() {
			seen = s.StartTime
		}
		if best == nil || seen.After(bestSeen) {
			best, bestSeen = s, seen
		}
	}

	if best == nil {
		return CurrentState{Participants: []model.Participant{}}
	}
	roster := best.Participants.Data()
	if roster == nil {
		roster = []model.Participant{}
	}
	return CurrentState{
		IsActive:         true,
		MeetingID:        best.MeetingID,
		Participants:     roster,
		ParticipantCount: len(model.CanonicalKeys(roster)),
	}
}

// SnapshotMeeting is the badge view narrowed to one meeting.
func (t *sessionTracker) SnapshotMeeting(meetingID string) CurrentState {
	s := t.activeSession(meetingID)
	if s == nil {
		return CurrentState{MeetingID: meetingID, Participants: []model.Participant{}}
	}
	roster := s.Participants.Data()
	if roster == nil {
		roster = []model.Participant{}
	}
	return CurrentState{
		IsActive:         true,
		MeetingID:        meetingID,
		Participants:     roster,
		ParticipantCount: len(model.CanonicalKeys(roster)),
	}
}

// Reset drops all in-memory state. Used by the bulk clear.
func (t *sessionTracker) Reset() {
	t.mu.Lock()
	t.active = make(map[string]*model.Session)
	t.lastActivity = make(map[string]time.Time)
	t.mu.Unlock()
}

// mergeRoster folds an incoming snapshot into the session's cumulative,
// discovery-ordered roster. Known participants keep their join time; people
// missing from the snapshot stay on the roster (the sensor under-reports).
func mergeRoster(roster, incoming []model.Participant, now time.Time, source model.DataSource) []model.Participant {
	index := make(map[string]int, len(roster))
	for i, p := range roster {
		index[p.Key()] = i
	}

	for _, in := range incoming {
		key := in.Key()
		if key == "" {
			continue
		}
		if i, ok := index[key]; ok {
			if in.Name != "" {
				roster[i].Name = in.Name
			}
			if in.AvatarURL != "" {
				roster[i].AvatarURL = in.AvatarURL
			}
			roster[i].LastSeen = now
			if source.Valid() {
				roster[i].Source = source
			}
			continue
		}
		p := in
		if p.ID == "" {
			p.ID = p.Name
		}
		p.JoinTime = now
		p.LastSeen = now
		if source.Valid() {
			p.Source = source
		}
		index[key] = len(roster)
		roster = append(roster, p)
	}
	return roster
}

// mergeSource upgrades the session provenance to hybrid once observations
// from more than one source have contributed.
func mergeSource(current, incoming model.DataSource) model.DataSource {
	if !incoming.Valid() {
		return current
	}
	if current == "" || current == incoming {
		return incoming
	}
	return model.DataSourceHybrid
}
