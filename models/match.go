package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Match types, derived from the rank-update events of a demo.
const (
	MTypeUnknown     = ""
	MTypeCompetitive = "Competitive"
	MTypeWingman     = "Wingman"
	MTypeDangerZone  = "Danger Zone"
	MTypePremier     = "Premier"
)

// Match records one finished game. (Sharecode, Timestamp) is globally unique.
type Match struct {
	ID         string `gorm:"primaryKey;type:uuid" json:"id"`
	Sharecode  string `gorm:"uniqueIndex:idx_sharecode_timestamp;not null;size:50" json:"sharecode"`
	Timestamp  int64  `gorm:"uniqueIndex:idx_sharecode_timestamp;index;not null" json:"timestamp"` // unix seconds
	ScoreTeam1 int    `gorm:"not null" json:"score_team1"`
	ScoreTeam2 int    `gorm:"not null" json:"score_team2"`
	Duration   int    `gorm:"not null" json:"duration"` // seconds
	MapName    string `gorm:"size:64" json:"map_name"`
	MType      string `gorm:"column:mtype;size:20" json:"mtype"`

	Participations []Participation `gorm:"foreignKey:MatchID" json:"participations,omitempty"`

	Timestamps
}

func (m *Match) BeforeCreate(tx *gorm.DB) error {
	ensureID(&m.ID)
	return nil
}

func (m *Match) Rounds() int {
	return m.ScoreTeam1 + m.ScoreTeam2
}

func (m *Match) TimestampEnd() int64 {
	return m.Timestamp + int64(m.Duration)
}

// SessionMatch is the membership of a match in a gaming session.
type SessionMatch struct {
	GamingSessionID string `gorm:"primaryKey;type:uuid"`
	MatchID         string `gorm:"primaryKey;type:uuid;index"`
}

// KillEvent is one enemy kill within a match.
type KillEvent struct {
	ID       string `gorm:"primaryKey;type:uuid" json:"id"`
	KillerID string `gorm:"index;not null;type:uuid" json:"killer_id"` // Participation.ID
	VictimID string `gorm:"index;not null;type:uuid" json:"victim_id"` // Participation.ID

	Round       *int   `json:"round,omitempty"`
	Weapon      string `gorm:"size:40;index" json:"weapon"`
	KillType    int    `json:"kill_type"` // 1 if T kills CT and 2 if CT kills T
	BombPlanted bool   `gorm:"not null" json:"bomb_planted"`

	KillerX float64 `json:"killer_x"`
	KillerY float64 `json:"killer_y"`
	KillerZ float64 `json:"killer_z"`
	VictimX float64 `json:"victim_x"`
	VictimY float64 `json:"victim_y"`
	VictimZ float64 `json:"victim_z"`
}

func (k *KillEvent) BeforeCreate(tx *gorm.DB) error {
	ensureID(&k.ID)
	return nil
}

func ensureID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}
