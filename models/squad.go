package models

import (
	"time"

	"gorm.io/gorm"
)

// Squad is a group of players whose combined match history is tracked together.
type Squad struct {
	ID               string `gorm:"primaryKey;type:uuid" json:"id"`
	Name             string `gorm:"size:100;not null" json:"name"`
	DiscordChannelID string `gorm:"size:50" json:"discord_channel_id,omitempty"`

	// Materialized pointer to the session that holds the squad's latest match.
	LastSessionID *string `gorm:"type:uuid" json:"last_session_id,omitempty"`

	Members []SquadMembership `gorm:"foreignKey:SquadID" json:"members,omitempty"`

	Timestamps
}

func (s *Squad) BeforeCreate(tx *gorm.DB) error {
	ensureID(&s.ID)
	return nil
}

func (m *SquadMembership) BeforeCreate(tx *gorm.DB) error {
	ensureID(&m.ID)
	return nil
}

// GamingSession is a temporally bounded cluster of a squad's matches.
// StartedAt, LastMatchAt and EndedAt are maintained as matches are attached.
type GamingSession struct {
	ID           string  `gorm:"primaryKey;type:uuid" json:"id"`
	SquadID      string  `gorm:"index;not null;type:uuid" json:"squad_id"`
	IsClosed     bool    `gorm:"index;not null" json:"is_closed"`
	RisingStarID *string `gorm:"size:30" json:"rising_star_id,omitempty"`

	StartedAt   *int64 `json:"started_at,omitempty"`    // timestamp of the first match
	LastMatchAt *int64 `json:"last_match_at,omitempty"` // timestamp of the latest match
	EndedAt     *int64 `json:"ended_at,omitempty"`      // end of the latest match

	Timestamps
}

func (s *GamingSession) BeforeCreate(tx *gorm.DB) error {
	ensureID(&s.ID)
	return nil
}

func (s *GamingSession) HasMatches() bool {
	return s.EndedAt != nil
}

// WeeklyChallenge is one squad's outcome for one 7-day window ending at Timestamp.
type WeeklyChallenge struct {
	ID        string  `gorm:"primaryKey;type:uuid" json:"id"`
	SquadID   string  `gorm:"index;not null;type:uuid" json:"squad_id"`
	Timestamp int64   `gorm:"index;not null" json:"timestamp"`
	Player1ID *string `gorm:"size:30" json:"player1_id,omitempty"` // gold
	Player2ID *string `gorm:"size:30" json:"player2_id,omitempty"` // silver
	Player3ID *string `gorm:"size:30" json:"player3_id,omitempty"` // bronze
	Mode      string  `gorm:"size:20;not null" json:"mode"`
}

func (w *WeeklyChallenge) BeforeCreate(tx *gorm.DB) error {
	ensureID(&w.ID)
	return nil
}

func (w *WeeklyChallenge) End() time.Time {
	return time.Unix(w.Timestamp, 0).UTC()
}

// Week is the ISO week the competition ran in (the week before its end).
func (w *WeeklyChallenge) Week() (year, week int) {
	year, week = w.End().ISOWeek()
	return year, week - 1
}

// Notification is a message queued for delivery to a squad's chat channel.
type Notification struct {
	ID            string    `gorm:"primaryKey;type:uuid" json:"id"`
	SquadID       string    `gorm:"index;not null;type:uuid" json:"squad_id"`
	Text          string    `gorm:"type:text;not null" json:"text"`
	AttachmentURL string    `gorm:"type:text" json:"attachment_url,omitempty"`
	ScheduledAt   time.Time `gorm:"autoCreateTime" json:"scheduled_at"`
}

func (n *Notification) BeforeCreate(tx *gorm.DB) error {
	ensureID(&n.ID)
	return nil
}

func (t *UpdateTask) BeforeCreate(tx *gorm.DB) error {
	ensureID(&t.ID)
	return nil
}
