package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/presencelabs/meetledger/internal/config"
	mq "github.com/presencelabs/meetledger/internal/infra/queue"
	"github.com/presencelabs/meetledger/internal/modules/model"
	"github.com/presencelabs/meetledger/internal/modules/repo"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// Redis keys the badge consumers poll.
	stateKeyLast   = "presence:state:last"
	stateKeyPrefix = "presence:state:"
	stateKeyTTL    = 24 * time.Hour
)

// MeetingDetail is a meeting plus its sessions in start order, for the
// dashboard drill-down.
type MeetingDetail struct {
	Meeting  model.Meeting   `json:"meeting"`
	Sessions []model.Session `json:"sessions"`
}

// ReconciliationGateway is the only entry surface of the engine. It validates
// payloads at the boundary, serializes operations per meetingID, recovers
// zombie sessions left behind by a dead process, and mirrors the live state
// to redis for badge consumers.
type ReconciliationGateway interface {
	Observe(ctx context.Context, in ObserveInput) error
	MinuteTick(ctx context.Context, meetingID string, minuteIndex int, participants []model.Participant) error
	EndSession(ctx context.Context, meetingID string, reason model.EndReason) (*model.Session, error)

	CurrentState(ctx context.Context) CurrentState
	Query(ctx context.Context, in repo.ListMeetingsInput) ([]model.Meeting, error)
	GetMeeting(ctx context.Context, meetingID string) (*MeetingDetail, error)

	RecoverOnStartup(ctx context.Context) error
	Sweep(ctx context.Context) (int, error)
	ClearAll(ctx context.Context) error

	// HandleObservationMessage is the queue binding: one tagged JSON envelope
	// per inbound sensor operation.
	HandleObservationMessage(ctx context.Context, body []byte) error
}

type reconciliationGateway struct {
	tracker  SessionTracker
	sessions repo.SessionRepo
	meetings repo.MeetingRepo
	rdb      *redis.Client
	pub      *mq.Publisher
	cfg      *config.Config
	log      *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewReconciliationGateway(
	tracker SessionTracker,
	sessions repo.SessionRepo,
	meetings repo.MeetingRepo,
	rdb *redis.Client,
	pub *mq.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) ReconciliationGateway {
	return &reconciliationGateway{
		tracker:  tracker,
		sessions: sessions,
		meetings: meetings,
		rdb:      rdb,
		pub:      pub,
		cfg:      cfg,
		log:      log,
		locks:    make(map[string]*sync.Mutex),
	}
}

// lockMeeting serializes all engine operations for one meetingID; operations
// on different meetings proceed independently.
func (g *reconciliationGateway) lockMeeting(meetingID string) func() {
	g.mu.Lock()
	l, ok := g.locks[meetingID]
	if !ok {
		l = &sync.Mutex{}
		g.locks[meetingID] = l
	}
	g.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (g *reconciliationGateway) Observe(ctx context.Context, in ObserveInput) error {
	if in.MeetingID == "" {
		g.log.Warn("observation without meeting id rejected")
		return ErrInvalidObservation
	}
	if in.Source == "" {
		in.Source = model.DataSourceDOM
	}
	if !in.Source.Valid() {
		g.log.Warn("observation with unknown data source rejected",
			zap.String("meeting_id", in.MeetingID),
			zap.String("data_source", string(in.Source)))
		return ErrUnknownDataSource
	}

	unlock := g.lockMeeting(in.MeetingID)
	defer unlock()

	if _, err := g.tracker.Observe(ctx, in); err != nil {
		return err
	}
	g.publishState(ctx, in.MeetingID)
	return nil
}

func (g *reconciliationGateway) MinuteTick(ctx context.Context, meetingID string, minuteIndex int, participants []model.Participant) error {
	if meetingID == "" || minuteIndex < 0 {
		g.log.Warn("malformed minute tick rejected",
			zap.String("meeting_id", meetingID),
			zap.Int("minute", minuteIndex))
		return ErrInvalidObservation
	}

	unlock := g.lockMeeting(meetingID)
	defer unlock()

	return g.tracker.RecordMinute(ctx, meetingID, minuteIndex, participants)
}

func (g *reconciliationGateway) EndSession(ctx context.Context, meetingID string, reason model.EndReason) (*model.Session, error) {
	if meetingID == "" {
		g.log.Warn("end signal without meeting id rejected")
		return nil, ErrInvalidObservation
	}
	if !reason.Valid() {
		g.log.Warn("end signal with unknown reason rejected",
			zap.String("meeting_id", meetingID),
			zap.String("reason", string(reason)))
		return nil, ErrUnknownEndReason
	}

	unlock := g.lockMeeting(meetingID)
	defer unlock()

	closed, err := g.tracker.EndSession(ctx, meetingID, reason)
	if err != nil {
		return nil, err
	}
	g.publishState(ctx, meetingID)
	return closed, nil
}

func (g *reconciliationGateway) CurrentState(ctx context.Context) CurrentState {
	return g.tracker.Snapshot()
}

func (g *reconciliationGateway) Query(ctx context.Context, in repo.ListMeetingsInput) ([]model.Meeting, error) {
	if in.Filter != "" && !in.Filter.Valid() {
		return nil, fmt.Errorf("%w: filter %q", ErrInvalidQuery, in.Filter)
	}
	if in.Sort != "" && !in.Sort.Valid() {
		return nil, fmt.Errorf("%w: sort %q", ErrInvalidQuery, in.Sort)
	}
	return g.meetings.List(ctx, in)
}

func (g *reconciliationGateway) GetMeeting(ctx context.Context, meetingID string) (*MeetingDetail, error) {
	meeting, err := g.meetings.Get(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	sessions, err := g.sessions.ListByMeeting(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	return &MeetingDetail{Meeting: *meeting, Sessions: sessions}, nil
}

// RecoverOnStartup closes every stored open session. The active-session map
// is volatile; after a restart the persisted open records are the only truth
// left, and whatever they describe is over by definition.
func (g *reconciliationGateway) RecoverOnStartup(ctx context.Context) error {
	open, err := g.sessions.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("scan open sessions: %w", err)
	}

	for i := range open {
		s := &open[i]
		unlock := g.lockMeeting(s.MeetingID)
		err := g.tracker.CloseOrphan(ctx, s, model.EndReasonZombieCleanup)
		unlock()
		if err != nil {
			return fmt.Errorf("recover session %s: %w", s.ID, err)
		}
	}

	if len(open) > 0 {
		g.log.Info("startup recovery closed zombie sessions", zap.Int("count", len(open)))
	}
	g.publishState(ctx, "")
	return nil
}

// Sweep closes open sessions whose last activity is older than the configured
// zombie timeout. Staleness is re-checked under the per-meeting lock so the
// sweep never races a fresh observation.
func (g *reconciliationGateway) Sweep(ctx context.Context) (int, error) {
	timeout := g.cfg.Tracker.ZombieTimeout
	closed := 0
	for _, meetingID := range g.tracker.StaleMeetings(timeout) {
		unlock := g.lockMeeting(meetingID)
		s, err := g.tracker.EndSessionIfStale(ctx, meetingID, timeout)
		unlock()
		if err != nil {
			return closed, err
		}
		if s != nil {
			closed++
			g.publishState(ctx, meetingID)
		}
	}
	return closed, nil
}

func (g *reconciliationGateway) ClearAll(ctx context.Context) error {
	g.tracker.Reset()
	if err := g.sessions.DeleteAll(ctx); err != nil {
		return fmt.Errorf("clear sessions: %w", err)
	}
	if err := g.meetings.DeleteAll(ctx); err != nil {
		return fmt.Errorf("clear meetings: %w", err)
	}
	if g.rdb != nil {
		if err := g.rdb.Del(ctx, stateKeyLast).Err(); err != nil {
			g.log.Warn("clear badge state failed", zap.Error(err))
		}
	}
	g.log.Info("all meetings and sessions cleared")
	return nil
}

// publishState mirrors the badge view to redis and emits a badge event.
// Best-effort: presentation plumbing never fails an engine operation.
func (g *reconciliationGateway) publishState(ctx context.Context, meetingID string) {
	state := g.tracker.Snapshot()

	if g.rdb != nil {
		if b, err := sonic.Marshal(state); err == nil {
			if err := g.rdb.Set(ctx, stateKeyLast, b, stateKeyTTL).Err(); err != nil {
				g.log.Warn("badge state write failed", zap.Error(err))
			}
		}
		if meetingID != "" {
			meetingState := g.tracker.SnapshotMeeting(meetingID)
			if b, err := sonic.Marshal(meetingState); err == nil {
				if err := g.rdb.Set(ctx, stateKeyPrefix+meetingID, b, stateKeyTTL).Err(); err != nil {
					g.log.Warn("badge state write failed",
						zap.String("meeting_id", meetingID), zap.Error(err))
				}
			}
		}
	}

	if g.pub != nil {
		err := g.pub.PublishJSON(ctx, g.cfg.RabbitMQ.BadgeExchange, g.cfg.RabbitMQ.BadgeRoutingKey, state)
		if err != nil {
			g.log.Warn("badge publish failed", zap.Error(err))
		}
	}
}

// observationEnvelope is the closed, tagged wire form of the three inbound
// sensor operations. Anything outside the three cases is dropped at the
// boundary.
type observationEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type participantIn struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

type observePayload struct {
	MeetingID    string          `json:"meeting_id"`
	Title        string          `json:"title"`
	URL          string          `json:"url"`
	Participants []participantIn `json:"participants"`
	DataSource   string          `json:"data_source"`
}

type minuteTickPayload struct {
	MeetingID    string          `json:"meeting_id"`
	Minute       int             `json:"minute"`
	Participants []participantIn `json:"participants"`
}

type endSessionPayload struct {
	MeetingID string `json:"meeting_id"`
	Reason    string `json:"reason"`
}

const (
	msgTypeObserve    = "observe"
	msgTypeMinuteTick = "minute_tick"
	msgTypeEndSession = "end_session"
)

func toParticipants(in []participantIn) []model.Participant {
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

// HandleObservationMessage decodes and dispatches one sensor envelope.
// Malformed envelopes and boundary rejections return nil so the delivery is
// acked instead of requeued forever; only storage failures propagate, which
// nacks the message for a retry of the whole idempotent operation.
func (g *reconciliationGateway) HandleObservationMessage(ctx context.Context, body []byte) error {
	var env observationEnvelope
	if err := sonic.Unmarshal(body, &env); err != nil {
		g.log.Warn("undecodable observation message dropped", zap.Error(err))
		return nil
	}

	var err error
	switch env.Type {
	case msgTypeObserve:
		var p observePayload
		if err := sonic.Unmarshal(env.Data, &p); err != nil {
			g.log.Warn("malformed observe payload dropped", zap.Error(err))
			return nil
		}
		err = g.Observe(ctx, ObserveInput{
			MeetingID:    p.MeetingID,
			Title:        p.Title,
			URL:          p.URL,
			Participants: toParticipants(p.Participants),
			Source:       model.DataSource(p.DataSource),
		})
	case msgTypeMinuteTick:
		var p minuteTickPayload
		if err := sonic.Unmarshal(env.Data, &p); err != nil {
			g.log.Warn("malformed minute tick payload dropped", zap.Error(err))
			return nil
		}
		err = g.MinuteTick(ctx, p.MeetingID, p.Minute, toParticipants(p.Participants))
	case msgTypeEndSession:
		var p endSessionPayload
		if err := sonic.Unmarshal(env.Data, &p); err != nil {
			g.log.Warn("malformed end session payload dropped", zap.Error(err))
			return nil
		}
		_, err = g.EndSession(ctx, p.MeetingID, model.EndReason(p.Reason))
	default:
		g.log.Warn("unknown observation message type dropped", zap.String("type", env.Type))
		return nil
	}

	if errors.Is(err, ErrInvalidObservation) || errors.Is(err, ErrUnknownEndReason) || errors.Is(err, ErrUnknownDataSource) {
		return nil
	}
	return err
}
