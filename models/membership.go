package models

import (
	"time"

	"gorm.io/datatypes"
)

// SquadMembership is the rolling per-member cache of a squad (denormalized for performance).
// Stats and Trends are recomputed by the stats refresh job.
type SquadMembership struct {
	ID      string `gorm:"primaryKey;type:uuid" json:"id"`
	SquadID string `gorm:"uniqueIndex:idx_squad_member;not null" json:"squad_id"`
	SteamID string `gorm:"uniqueIndex:idx_squad_member;index;not null;size:30" json:"steam_id"`

	Stats  datatypes.JSONType[FeatureValues] `json:"stats"`
	Trends datatypes.JSONType[FeatureValues] `json:"trends"`

	// Leaderboard position by player value, nil until the member has a value.
	Position *int `json:"position,omitempty"`

	LastRefreshAt *time.Time `json:"last_refresh_at,omitempty"`

	Timestamps
}

func (m *SquadMembership) Stat(id FeatureID) (float64, bool) {
	return m.Stats.Data().Get(id)
}

func (m *SquadMembership) Trend(id FeatureID) (float64, bool) {
	return m.Trends.Data().Get(id)
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
