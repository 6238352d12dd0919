package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/presencelabs/meetledger/internal/modules/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrMeetingNotFound = errors.New("meeting not found")

// MeetingFilter narrows a dashboard listing.
type MeetingFilter string

const (
	MeetingFilterAll       MeetingFilter = "all"
	MeetingFilterActive    MeetingFilter = "active"
	MeetingFilterCompleted MeetingFilter = "completed"
	MeetingFilterToday     MeetingFilter = "today"
)

func (f MeetingFilter) Valid() bool {
	switch f {
	case MeetingFilterAll, MeetingFilterActive, MeetingFilterCompleted, MeetingFilterToday:
		return true
	}
	return false
}

// MeetingSort names a sortable column of the listing.
type MeetingSort string

const (
	MeetingSortStartTime        MeetingSort = "startTime"
	MeetingSortDuration         MeetingSort = "duration"
	MeetingSortSessionCount     MeetingSort = "sessionCount"
	MeetingSortParticipantCount MeetingSort = "participantCount"
	MeetingSortTitle            MeetingSort = "title"
)

// sortColumns maps sort keys onto stored columns; keeping the mapping closed
// also keeps user input out of the ORDER BY clause.
var sortColumns = map[MeetingSort]string{
	MeetingSortStartTime:        "start_time",
	MeetingSortDuration:         "total_duration_ms",
	MeetingSortSessionCount:     "session_count",
	MeetingSortParticipantCount: "participant_count",
	MeetingSortTitle:            "title",
}

func (s MeetingSort) Valid() bool {
	_, ok := sortColumns[s]
	return ok
}

type ListMeetingsInput struct {
	Filter MeetingFilter
	Sort   MeetingSort
	Desc   bool
	Limit  int
}

type MeetingRepo interface {
	Get(ctx context.Context, meetingID string) (*model.Meeting, error)
	// Put replaces the whole meeting record (insert-or-update by id).
	Put(ctx context.Context, m *model.Meeting) error
	List(ctx context.Context, in ListMeetingsInput) ([]model.Meeting, error)
	DeleteAll(ctx context.Context) error
}

type meetingRepo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewMeetingRepo(db *gorm.DB) MeetingRepo {
	return &meetingRepo{db: db, now: time.Now}
}

func (r *meetingRepo) Get(ctx context.Context, meetingID string) (*model.Meeting, error) {
	var m model.Meeting
	if err := r.db.WithContext(ctx).Where("id = ?", meetingID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMeetingNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (r *meetingRepo) Put(ctx context.Context, m *model.Meeting) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(m).Error
}

func (r *meetingRepo) List(ctx context.Context, in ListMeetingsInput) ([]model.Meeting, error) {
	q := r.db.WithContext(ctx).Model(&model.Meeting{})

	switch in.Filter {
	case MeetingFilterActive:
		q = q.Where("status = ?", model.MeetingStatusActive)
	case MeetingFilterCompleted:
		q = q.Where("status = ?", model.MeetingStatusCompleted)
	case MeetingFilterToday:
		now := r.now()
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		q = q.Where("start_time >= ?", midnight)
	case MeetingFilterAll, "":
	default:
		return nil, fmt.Errorf("unknown meeting filter %q", in.Filter)
	}

	sortKey := in.Sort
	if sortKey == "" {
		sortKey = MeetingSortStartTime
	}
	col, ok := sortColumns[sortKey]
	if !ok {
		return nil, fmt.Errorf("unknown meeting sort %q", in.Sort)
	}
	dir := "ASC"
	if in.Desc {
		dir = "DESC"
	}
	// id tie-break keeps pagination stable for equal sort values.
	q = q.Order(fmt.Sprintf("%s %s, id ASC", col, dir))

	if in.Limit > 0 {
		q = q.Limit(in.Limit)
	}

	var meetings []model.Meeting
	return meetings, q.Find(&meetings).Error
}

func (r *meetingRepo) DeleteAll(ctx context.Context) error {
	return r.db.WithContext(ctx).Where("1 = 1").Delete(&model.Meeting{}).Error
}
