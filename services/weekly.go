package services

import (
	"cmp"
	"errors"
	"fmt"
	"log"
	"slices"
	"time"

	"gorm.io/gorm"

	"squad-stats/models"
)

// WeeklyWindow is the length of one weekly challenge.
const WeeklyWindow = 7 * 24 * time.Hour

// ModeStats is the per-player accumulator of a weekly challenge.
type ModeStats map[string]float64

// Mode is one scoring rule of the weekly challenge rotation.
type Mode struct {
	ID          string
	Name        string
	Description string

	// Accumulate adds one participation (with its match loaded) to stats.
	Accumulate func(tx *gorm.DB, stats ModeStats, p *models.Participation) error
	// Aggregate turns the accumulated stats into the player's score.
	Aggregate func(stats ModeStats) float64
	// Requirement returns why the player cannot be placed, or "".
	Requirement func(stats ModeStats) string
}

func atLeast(key string, n float64, reason string) func(ModeStats) string {
	return func(stats ModeStats) string {
		if stats[key] < n {
			return reason
		}
		return ""
	}
}

// Modes is the fixed rotation, in order.
var Modes = []Mode{
	{
		ID:          "k/d",
		Name:        "K/D Challenge",
		Description: "Max out your kill/death ratio!",
		Accumulate: func(_ *gorm.DB, stats ModeStats, p *models.Participation) error {
			stats["kills"] += float64(p.Kills)
			stats["deaths"] += float64(p.Deaths)
			return nil
		},
		Aggregate: func(stats ModeStats) float64 {
			return stats["kills"] / max(1, stats["deaths"])
		},
		Requirement: atLeast("matches", 3, "Requires at least 3 matches."),
	},
	{
		ID:          "streaks",
		Name:        "Streak Challenge",
		Description: "Score two-kills, three-kills, quad-kills, and aces!",
		Accumulate: func(tx *gorm.DB, stats ModeStats, p *models.Participation) error {
			for n, weight := range map[int]float64{2: 1, 3: 5, 4: 20, 5: 50} {
				count, err := Streaks(tx, p.ID, n)
				if err != nil {
					return err
				}
				stats["score"] += weight * float64(count)
			}
			return nil
		},
		Aggregate:   func(stats ModeStats) float64 { return stats["score"] },
		Requirement: atLeast("matches", 2, "Requires at least 2 matches."),
	},
	{
		ID:          "adr",
		Name:        "ADR Challenge",
		Description: "Max out your average damage per round!",
		Accumulate: func(_ *gorm.DB, stats ModeStats, p *models.Participation) error {
			rounds := float64(p.Match.Rounds())
			stats["damage"] += p.ADR * rounds
			stats["rounds"] += rounds
			return nil
		},
		Aggregate: func(stats ModeStats) float64 {
			return stats["damage"] / max(1, stats["rounds"])
		},
		Requirement: atLeast("rounds", 50, "Requires at least 50 rounds."),
	},
	{
		ID:          "accuracy",
		Name:        "Headshot Challenge",
		Description: "Max out your headshots per kill!",
		Accumulate: func(_ *gorm.DB, stats ModeStats, p *models.Participation) error {
			stats["kills"] += float64(p.Kills)
			stats["headshots"] += float64(p.Headshots)
			return nil
		},
		Aggregate: func(stats ModeStats) float64 {
			return stats["headshots"] / max(1, stats["kills"])
		},
		Requirement: atLeast("kills", 25, "Requires at least 25 kills."),
	},
}

func GetModeByID(id string) (*Mode, error) {
	for i := range Modes {
		if Modes[i].ID == id {
			return &Modes[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownMode, id)
}

// GetNextMode returns the mode after id, wrapping around after the last one.
func GetNextMode(id string) (*Mode, error) {
	for i := range Modes {
		if Modes[i].ID == id {
			return &Modes[(i+1)%len(Modes)], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownMode, id)
}

// LeaderboardEntry is one player's standing in a weekly challenge.
type LeaderboardEntry struct {
	SteamID     string    `json:"steam_id"`
	Score       float64   `json:"score"`
	Stats       ModeStats `json:"stats"`
	Place       *int      `json:"place,omitempty"`
	Unfulfilled string    `json:"unfulfilled_requirement,omitempty"`
}

// BadgeData is the evaluation of the next weekly challenge of a squad.
type BadgeData struct {
	SquadID     string             `json:"squad_id"`
	Timestamp   int64              `json:"timestamp"` // end of the window
	Mode        string             `json:"mode"`
	Week        int                `json:"week"`
	Year        int                `json:"year"`
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
	Unfulfilled string             `json:"unfulfilled_requirement,omitempty"`
}

func (d *BadgeData) Placed(place int) *LeaderboardEntry {
	for i := range d.Leaderboard {
		if e := &d.Leaderboard[i]; e.Place != nil && *e.Place == place {
			return e
		}
	}
	return nil
}

// WeeklyService runs the weekly challenge rotation.
type WeeklyService struct {
	DB       *gorm.DB
	Notifier Notifier
	Badges   *BadgeService

	now func() time.Time
}

func NewWeeklyService(db *gorm.DB, notifier Notifier, badges *BadgeService) *WeeklyService {
	return &WeeklyService{DB: db, Notifier: notifier, Badges: badges, now: time.Now}
}

func memberIDs(tx *gorm.DB, squadID string) ([]string, error) {
	var ids []string
	err := tx.Model(&models.SquadMembership{}).Where("squad_id = ?", squadID).Pluck("steam_id", &ids).Error
	return ids, err
}

// PrehistoricChallenge is the synthetic challenge preceding the first real one:
// it ends on Monday 04:00 UTC of the week of the squad's earliest match.
func PrehistoricChallenge(tx *gorm.DB, squadID string) (*models.WeeklyChallenge, error) {
	ids, err := memberIDs(tx, squadID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, ErrNoMatches
	}
	var m models.Match
	err = tx.Joins("JOIN participations ON participations.match_id = matches.id").
		Where("participations.steam_id IN ?", ids).
		Order("matches.timestamp ASC").First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoMatches
	}
	if err != nil {
		return nil, err
	}

	day := time.Unix(m.Timestamp, 0).UTC()
	offset := (int(day.Weekday()) + 6) % 7 // days since Monday
	monday := time.Date(day.Year(), day.Month(), day.Day()-offset, 4, 0, 0, 0, time.UTC)
	return &models.WeeklyChallenge{
		SquadID:   squadID,
		Timestamp: monday.Unix(),
		Mode:      Modes[len(Modes)-1].ID,
	}, nil
}

func latestChallenge(tx *gorm.DB, squadID string) (*models.WeeklyChallenge, error) {
	var c models.WeeklyChallenge
	err := tx.Where("squad_id = ?", squadID).Order("timestamp DESC").First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return PrehistoricChallenge(tx, squadID)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetNextBadgeData evaluates the window following the squad's latest challenge.
// forceMode overrides the rotation when non-empty.
func (s *WeeklyService) GetNextBadgeData(squadID, forceMode string) (*BadgeData, error) {
	return s.nextBadgeData(s.DB, squadID, forceMode)
}

func (s *WeeklyService) nextBadgeData(tx *gorm.DB, squadID, forceMode string) (*BadgeData, error) {
	prev, err := latestChallenge(tx, squadID)
	if err != nil {
		return nil, err
	}
	var mode *Mode
	if forceMode != "" {
		mode, err = GetModeByID(forceMode)
	} else {
		mode, err = GetNextMode(prev.Mode)
	}
	if err != nil {
		return nil, err
	}

	next := prev.End().Add(WeeklyWindow).Unix()
	ids, err := memberIDs(tx, squadID)
	if err != nil {
		return nil, err
	}
	var ps []models.Participation
	if len(ids) > 0 {
		if err := tx.Joins("JOIN matches ON matches.id = participations.match_id").
			Where("participations.steam_id IN ? AND matches.timestamp > ? AND matches.timestamp <= ?", ids, prev.Timestamp, next).
			Order("matches.timestamp ASC").
			Preload("Match").
			Find(&ps).Error; err != nil {
			return nil, err
		}
	}

	stats := make(map[string]ModeStats)
	var order []string
	for i := range ps {
		p := &ps[i]
		st, ok := stats[p.SteamID]
		if !ok {
			st = ModeStats{"wins": 0, "matches": 0}
			stats[p.SteamID] = st
			order = append(order, p.SteamID)
		}
		if err := mode.Accumulate(tx, st, p); err != nil {
			return nil, err
		}
		st["matches"]++
		if p.Result == models.ResultWin {
			st["wins"]++
		}
	}

	data := &BadgeData{SquadID: squadID, Timestamp: next, Mode: mode.ID}
	draft := models.WeeklyChallenge{Timestamp: next}
	data.Year, data.Week = draft.Week()

	entries := make([]LeaderboardEntry, 0, len(order))
	for _, id := range order {
		entries = append(entries, LeaderboardEntry{SteamID: id, Score: mode.Aggregate(stats[id]), Stats: stats[id]})
	}
	slices.SortStableFunc(entries, func(a, b LeaderboardEntry) int { return cmp.Compare(b.Score, a.Score) })

	if len(entries) < 2 {
		data.Unfulfilled = "Will not be awarded unless at least two players participate."
		data.Leaderboard = []LeaderboardEntry{}
		return data, nil
	}
	nextPlace := 1
	for i := range entries {
		e := &entries[i]
		if e.Stats["wins"] < 1 {
			e.Unfulfilled = "Requires at least one win."
		} else if reason := mode.Requirement(e.Stats); reason != "" {
			e.Unfulfilled = reason
		} else if nextPlace <= 3 && len(entries) > nextPlace {
			place := nextPlace
			e.Place = &place
			nextPlace++
		}
	}
	data.Leaderboard = entries
	return data, nil
}

var weeklyBadges = map[int]string{1: models.BadgeWeekly1, 2: models.BadgeWeekly2, 3: models.BadgeWeekly3}

// CreateBadge persists the challenge of data. It returns nil when the window has not ended yet.
func (s *WeeklyService) CreateBadge(data *BadgeData) (*models.WeeklyChallenge, error) {
	var created *models.WeeklyChallenge
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		created, err = s.createBadge(tx, data)
		return err
	})
	return created, err
}

func (s *WeeklyService) createBadge(tx *gorm.DB, data *BadgeData) (*models.WeeklyChallenge, error) {
	if data.Timestamp > s.now().Unix() {
		return nil, nil
	}
	mode, err := GetModeByID(data.Mode)
	if err != nil {
		return nil, err
	}
	c := &models.WeeklyChallenge{SquadID: data.SquadID, Timestamp: data.Timestamp, Mode: data.Mode}
	players := []**string{&c.Player1ID, &c.Player2ID, &c.Player3ID}
	for place, field := range players {
		if e := data.Placed(place + 1); e != nil {
			id := e.SteamID
			*field = &id
		}
	}
	if err := tx.Create(c).Error; err != nil {
		return nil, fmt.Errorf("failed to create weekly challenge of squad %s: %w", data.SquadID, err)
	}

	start := c.End().Add(-WeeklyWindow).Unix()
	for place, field := range players {
		if *field == nil {
			continue
		}
		if err := s.awardPlacement(tx, **field, start, c.Timestamp, weeklyBadges[place+1]); err != nil {
			return nil, err
		}
	}

	if c.Player1ID != nil {
		notifySquad(tx, s.Notifier, c.SquadID, weeklyText(mode, c), nil)
	}
	year, week := c.Week()
	log.Printf("🏆 [WEEKLY] Created %s challenge %d/%d of squad %s", c.Mode, week, year, c.SquadID)
	return c, nil
}

// awardPlacement ties the placement badge to the player's last participation in the window.
func (s *WeeklyService) awardPlacement(tx *gorm.DB, steamID string, start, end int64, slug string) error {
	if s.Badges == nil {
		return nil
	}
	var p models.Participation
	err := tx.Joins("JOIN matches ON matches.id = participations.match_id").
		Where("participations.steam_id = ? AND matches.timestamp > ? AND matches.timestamp <= ?", steamID, start, end).
		Order("matches.timestamp DESC").First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = s.Badges.award(tx, &p, slug, 1)
	return err
}

func weeklyText(mode *Mode, c *models.WeeklyChallenge) string {
	year, week := c.Week()
	text := fmt.Sprintf("Attention now, the results of the *%s* are in! 🥇 <%s> is the **Player of the Week %d/%d**!",
		mode.Name, *c.Player1ID, week, year)
	switch {
	case c.Player2ID != nil && c.Player3ID != nil:
		text += fmt.Sprintf(" Second and third places go to 🥈 <%s> and 🥉 <%s>, respectively.", *c.Player2ID, *c.Player3ID)
	case c.Player2ID != nil:
		text += fmt.Sprintf(" Second place goes to 🥈 <%s>.", *c.Player2ID)
	}
	return text
}

// CreateMissing creates every challenge of the squad whose window has already ended.
func (s *WeeklyService) CreateMissing(squadID string) (int, error) {
	count := 0
	for {
		var created *models.WeeklyChallenge
		err := s.DB.Transaction(func(tx *gorm.DB) error {
			data, err := s.nextBadgeData(tx, squadID, "")
			if err != nil {
				return err
			}
			created, err = s.createBadge(tx, data)
			return err
		})
		if errors.Is(err, ErrNoMatches) {
			return count, nil
		}
		if err != nil {
			return count, err
		}
		if created == nil {
			return count, nil
		}
		count++
	}
}

// CreateMissingAll catches up the challenges of every squad; failures are logged per squad.
func (s *WeeklyService) CreateMissingAll() {
	var squadIDs []string
	if err := s.DB.Model(&models.Squad{}).Pluck("id", &squadIDs).Error; err != nil {
		log.Printf("❌ [WEEKLY] Failed to list squads: %v", err)
		return
	}
	for _, id := range squadIDs {
		n, err := s.CreateMissing(id)
		if err != nil {
			log.Printf("❌ [WEEKLY] Failed to create missing challenges of squad %s: %v", id, err)
			continue
		}
		if n > 0 {
			log.Printf("✅ [WEEKLY] Created %d missing challenge(s) of squad %s", n, id)
		}
	}
}
