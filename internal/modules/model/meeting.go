package model

import (
	"time"

	"gorm.io/datatypes"
)

// MeetingStatus is active while at least one child session is open.
type MeetingStatus string

const (
	MeetingStatusActive    MeetingStatus = "active"
	MeetingStatusCompleted MeetingStatus = "completed"
)

// Meeting aggregates every session that ever happened in one room. All of its
// derived fields are a pure fold over the room's sessions; the aggregator
// recomputes them from storage instead of patching them in place.
type Meeting struct {
	ID    string `gorm:"primaryKey" json:"meeting_id"`
	Title string `json:"title"`
	URL   string `json:"url"`

	SessionCount     int           `gorm:"not null;default:0" json:"session_count"`
	TotalDurationMS  int64         `gorm:"not null;default:0" json:"total_duration_ms"`
	ParticipantCount int           `gorm:"not null;default:0" json:"participant_count"`
	StartTime        *time.Time    `gorm:"index" json:"start_time"`
	EndTime          *time.Time    `json:"end_time"`
	Status           MeetingStatus `gorm:"not null;default:'completed';index" json:"status"`

	Participants          datatypes.JSONType[map[string]Participant] `gorm:"type:jsonb" json:"participants"`
	ParticipantJoinCounts datatypes.JSONType[map[string]int]         `gorm:"type:jsonb" json:"participant_join_counts"`

	CreatedAt time.Time `gorm:"autoCreateTime;not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime;not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Meeting) TableName() string { return "meetings" }
