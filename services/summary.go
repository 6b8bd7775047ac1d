package services

import (
	"strconv"

	"squad-stats/models"
)

// steamID64Base converts 32-bit account ids into 64-bit steam ids.
const steamID64Base = 76561197960265728

// RankChange is a player's rank before and after a match; nil means unranked.
type RankChange struct {
	Old *int `json:"old"`
	New *int `json:"new"`
}

// MatchSummary is a resolved sharecode. The demo-derived fields are filled in by
// the enrichment step.
type MatchSummary struct {
	Sharecode string     `json:"sharecode"`
	Timestamp int64      `json:"timestamp"`
	SteamIDs  []uint64   `json:"steam_ids"` // 10 slots, 0 marks an empty slot
	Summary   RoundStats `json:"summary"`

	MapName string                `json:"map,omitempty"`
	Kills   []DemoKill            `json:"kills,omitempty"`
	Damage  map[string]int        `json:"dmg,omitempty"`
	ADR     map[string]float64    `json:"adr,omitempty"`
	MType   string                `json:"type,omitempty"`
	Ranks   map[string]RankChange `json:"ranks,omitempty"`
}

// NewMatchSummary builds the summary of a resolved match.
func NewMatchSummary(sharecode string, info *MatchInfo) *MatchSummary {
	ids := make([]uint64, len(info.Stats.Reservation.AccountIDs))
	for i, accountID := range info.Stats.Reservation.AccountIDs {
		if accountID != 0 {
			ids[i] = steamID64Base + uint64(accountID)
		}
	}
	return &MatchSummary{
		Sharecode: sharecode,
		Timestamp: info.MatchTime,
		SteamIDs:  ids,
		Summary:   info.Stats,
	}
}

// IsWingman tells the two-versus-two variant apart: its reservation keeps ten
// slots but six of them are empty.
func (s *MatchSummary) IsWingman() bool {
	zeros := 0
	for _, id := range s.SteamIDs {
		if id == 0 {
			zeros++
		}
	}
	return zeros == 6
}

func (s *MatchSummary) Rounds() int {
	return s.Summary.TeamScores[0] + s.Summary.TeamScores[1]
}

// DemoURL is where the demo file of the match can be downloaded.
func (s *MatchSummary) DemoURL() string {
	return s.Summary.Map
}

func (s *MatchSummary) SteamIDString(pos int) string {
	return strconv.FormatUint(s.SteamIDs[pos], 10)
}

// FetchedMatch is one entry of a fetch result: either a cached match, or a freshly
// resolved summary. DemoErr is set when the demo of the summary could not be used.
type FetchedMatch struct {
	Sharecode string
	Match     *models.Match
	Summary   *MatchSummary
	DemoErr   error
}
