package repo

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/presencelabs/meetledger/internal/modules/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrSessionNotFound = errors.New("session not found")

type SessionRepo interface {
	Create(ctx context.Context, s *model.Session) error
	// Save replaces the whole stored record; partial updates are never issued.
	Save(ctx context.Context, s *model.Session) error
	Get(ctx context.Context, id uuid.UUID) (*model.Session, error)
	// ListByMeeting returns the meeting's sessions ordered by
	// (start_time ASC, id ASC) so folds over them are deterministic.
	ListByMeeting(ctx context.Context, meetingID string) ([]model.Session, error)
	// ListOpen returns every session with no end time, across all meetings.
	ListOpen(ctx context.Context) ([]model.Session, error)
	DeleteAll(ctx context.Context) error
}

type sessionRepo struct {
	db *gorm.DB
}

func NewSessionRepo(db *gorm.DB) SessionRepo {
	return &sessionRepo{db: db}
}

func (r *sessionRepo) Create(ctx context.Context, s *model.Session) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *sessionRepo) Save(ctx context.Context, s *model.Session) error {
	// Upsert keeps retried creates idempotent under at-least-once delivery.
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(s).Error
}

func (r *sessionRepo) Get(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	var s model.Session
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&s).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *sessionRepo) ListByMeeting(ctx context.Context, meetingID string) ([]model.Session, error) {
	var sessions []model.Session
	err := r.db.WithContext(ctx).
		Where("meeting_id = ?", meetingID).
		Order("start_time ASC, id ASC").
		Find(&sessions).Error
	return sessions, err
}

func (r *sessionRepo) ListOpen(ctx context.Context) ([]model.Session, error) {
	var sessions []model.Session
	err := r.db.WithContext(ctx).
		Where("end_time IS NULL").
		Order("start_time ASC, id ASC").
		Find(&sessions).Error
	return sessions, err
}

func (r *sessionRepo) DeleteAll(ctx context.Context) error {
	return r.db.WithContext(ctx).Where("1 = 1").Delete(&model.Session{}).Error
}
