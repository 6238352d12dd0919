package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// EndReason is the enumerated cause of a session closure.
type EndReason string

const (
	EndReasonUserLeft          EndReason = "user_left"
	EndReasonNavigation        EndReason = "navigation"
	EndReasonNewSessionStarted EndReason = "new_session_started"
	EndReasonZombieCleanup     EndReason = "zombie_cleanup"
	EndReasonForceCleanup      EndReason = "force_cleanup"
	EndReasonManualDashboard   EndReason = "manual_dashboard_end"
)

func (r EndReason) Valid() bool {
	switch r {
	case EndReasonUserLeft, EndReasonNavigation, EndReasonNewSessionStarted,
		EndReasonZombieCleanup, EndReasonForceCleanup, EndReasonManualDashboard:
		return true
	}
	return false
}

// DataSource tags the provenance of an observation. Carried for diagnostics
// only; it never changes engine behavior.
type DataSource string

const (
	DataSourceDOM      DataSource = "dom"
	DataSourceNetwork  DataSource = "network"
	DataSourceHybrid   DataSource = "hybrid"
	DataSourceMigrated DataSource = "migrated"
)

func (s DataSource) Valid() bool {
	switch s {
	case DataSourceDOM, DataSourceNetwork, DataSourceHybrid, DataSourceMigrated:
		return true
	}
	return false
}

// MinuteEntry is one minute-log sample: who was visible during that minute.
// Entries are append-only once the minute has passed; only the current
// minute's entry may be replaced.
type MinuteEntry struct {
	Minute           int           `json:"minute"`
	Timestamp        time.Time     `json:"timestamp"`
	Participants     []Participant `json:"participants"`
	ParticipantCount int           `json:"participant_count"`
}

// Session is one continuous join-to-leave interval in a room. EndTime is nil
// exactly while the session is the meeting's unique open session.
type Session struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	MeetingID  string     `gorm:"not null;index" json:"meeting_id"`
	Title      string     `json:"title"`
	URL        string     `json:"url"`
	StartTime  time.Time  `gorm:"not null;index" json:"start_time"`
	EndTime    *time.Time `gorm:"index" json:"end_time"`
	DurationMS int64      `gorm:"not null;default:0" json:"duration_ms"`
	EndReason  EndReason  `json:"end_reason,omitempty"`
	DataSource DataSource `json:"data_source"`

	Participants datatypes.JSONType[[]Participant] `gorm:"type:jsonb" json:"participants"`
	MinuteLog    datatypes.JSONType[[]MinuteEntry] `gorm:"type:jsonb" json:"minute_log"`

	CreatedAt time.Time `gorm:"autoCreateTime;not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime;not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Session) TableName() string { return "sessions" }

// Open reports whether the session is still active.
func (s *Session) Open() bool { return s.EndTime == nil }

// Close marks the session ended at the given instant. Closing an already
// closed session is a no-op so duplicate end signals stay harmless.
func (s *Session) Close(at time.Time, reason EndReason) bool {
	if s.EndTime != nil {
		return false
	}
	end := at
	s.EndTime = &end
	s.DurationMS = end.Sub(s.StartTime).Milliseconds()
	s.EndReason = reason
	return true
}
