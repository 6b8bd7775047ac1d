package models

import (
	"gorm.io/gorm"
)

// Participation results.
const (
	ResultWin  = "w"
	ResultLoss = "l"
	ResultTie  = "t"
)

// Participation is one player's scoreboard row within one match.
type Participation struct {
	ID      string `gorm:"primaryKey;type:uuid" json:"id"`
	MatchID string `gorm:"uniqueIndex:idx_player_match;uniqueIndex:idx_match_team_position;not null;type:uuid" json:"match_id"`
	SteamID string `gorm:"uniqueIndex:idx_player_match;index;not null;size:30" json:"steam_id"`
	Match   *Match `gorm:"foreignKey:MatchID" json:"match,omitempty"`

	Position int    `gorm:"uniqueIndex:idx_match_team_position;not null" json:"position"` // scoreboard slot within the team
	Team     int    `gorm:"uniqueIndex:idx_match_team_position;not null" json:"team"`     // 1 or 2
	Result   string `gorm:"type:varchar(1);not null" json:"result"`

	Kills     int     `gorm:"not null" json:"kills"` // enemy kills
	Assists   int     `gorm:"not null" json:"assists"`
	Deaths    int     `gorm:"not null" json:"deaths"`
	Score     int     `gorm:"not null" json:"score"`
	MVPs      int     `gorm:"column:mvps;not null" json:"mvps"`
	Headshots int     `gorm:"not null" json:"headshots"` // enemy headshots
	ADR       float64 `gorm:"column:adr;not null" json:"adr"`

	OldRank *int `json:"old_rank,omitempty"`
	NewRank *int `json:"new_rank,omitempty"`
}

func (p *Participation) BeforeCreate(tx *gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

// KD is the kills/death ratio, with deaths floored at one.
func (p *Participation) KD() float64 {
	return float64(p.Kills) / float64(max(1, p.Deaths))
}

// MatchResult returns the result for the team with the given index (0 or 1).
func MatchResult(teamIdx int, scores [2]int) string {
	own, opp := scores[teamIdx], scores[(teamIdx+1)%2]
	switch {
	case own < opp:
		return ResultLoss
	case own > opp:
		return ResultWin
	default:
		return ResultTie
	}
}
