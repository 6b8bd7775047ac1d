package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"

	"gorm.io/gorm"

	"squad-stats/models"
)

// MatchService persists resolved matches.
type MatchService struct {
	DB       *gorm.DB
	Profiles *ProfileService
	Sessions *SessionService
	Badges   *BadgeService
}

func NewMatchService(db *gorm.DB, profiles *ProfileService, sessions *SessionService, badges *BadgeService) *MatchService {
	return &MatchService{DB: db, Profiles: profiles, Sessions: sessions, Badges: badges}
}

// FindMatch looks up a match by its identity.
func FindMatch(tx *gorm.DB, sharecode string, timestamp int64) (*models.Match, error) {
	var m models.Match
	err := tx.Where("sharecode = ? AND timestamp = ?", sharecode, timestamp).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// FromSummary creates the match of an enriched summary. A match with the same
// (sharecode, timestamp) is returned unchanged. Creation is atomic: match,
// participations, kill events, session assignment and per-match badges.
func (s *MatchService) FromSummary(ctx context.Context, sum *MatchSummary) (*models.Match, error) {
	existing, err := FindMatch(s.DB, sum.Sharecode, sum.Timestamp)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	var created *models.Match
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		m := &models.Match{
			Sharecode:  sum.Sharecode,
			Timestamp:  sum.Timestamp,
			ScoreTeam1: sum.Summary.TeamScores[0],
			ScoreTeam2: sum.Summary.TeamScores[1],
			Duration:   sum.Summary.MatchDuration,
			MapName:    sum.MapName,
			MType:      sum.MType,
		}
		if err := tx.Create(m).Error; err != nil {
			return fmt.Errorf("failed to create match %s: %w", sum.Sharecode, err)
		}

		participations, err := s.createParticipations(ctx, tx, m, sum)
		if err != nil {
			return err
		}
		if err := createKillEvents(tx, sum, participations); err != nil {
			return err
		}

		squadIDs, err := squadsOfAccounts(tx, participations)
		if err != nil {
			return err
		}
		for _, squadID := range squadIDs {
			if err := s.Sessions.HandleNewMatch(tx, squadID, m); err != nil {
				return fmt.Errorf("failed to assign match %s of squad %s: %w", m.ID, squadID, err)
			}
		}

		for _, p := range participations {
			p.Match = m
			if err := s.Badges.AwardMatchBadges(tx, p, false); err != nil {
				return err
			}
		}

		m.Participations = make([]models.Participation, len(participations))
		for i, p := range participations {
			m.Participations[i] = *p
			m.Participations[i].Match = nil
		}
		created = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("✅ [INGEST] Created match %s (%s, %d:%d)", created.Sharecode, created.MapName, created.ScoreTeam1, created.ScoreTeam2)
	return created, nil
}

func statAt(values []int, pos int) int {
	if pos < len(values) {
		return values[pos]
	}
	return 0
}

func (s *MatchService) createParticipations(ctx context.Context, tx *gorm.DB, m *models.Match, sum *MatchSummary) ([]*models.Participation, error) {
	out := make([]*models.Participation, 0, len(sum.SteamIDs))
	scores := [2]int{m.ScoreTeam1, m.ScoreTeam2}
	for pos, id := range sum.SteamIDs {
		if id == 0 {
			continue
		}
		steamID := strconv.FormatUint(id, 10)
		if _, err := s.Profiles.Ensure(ctx, tx, steamID); err != nil {
			return nil, err
		}

		p := &models.Participation{
			MatchID:   m.ID,
			SteamID:   steamID,
			Position:  pos % 5,
			Team:      1 + pos/5,
			Kills:     statAt(sum.Summary.EnemyKills, pos),
			Assists:   statAt(sum.Summary.Assists, pos),
			Deaths:    statAt(sum.Summary.Deaths, pos),
			Score:     statAt(sum.Summary.Scores, pos),
			MVPs:      statAt(sum.Summary.MVPs, pos),
			Headshots: statAt(sum.Summary.EnemyHeadshots, pos),
			ADR:       sum.ADR[steamID],
		}
		p.Result = models.MatchResult(p.Team-1, scores)
		if rank, ok := sum.Ranks[steamID]; ok {
			p.OldRank, p.NewRank = rank.Old, rank.New
		}
		if err := tx.Create(p).Error; err != nil {
			return nil, fmt.Errorf("failed to create participation of %s: %w", steamID, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// createKillEvents stores the enemy kills; team kills and kills without an attacker are left out.
func createKillEvents(tx *gorm.DB, sum *MatchSummary, ps []*models.Participation) error {
	participations := make(map[string]*models.Participation, len(ps))
	for _, p := range ps {
		participations[p.SteamID] = p
	}
	var events []models.KillEvent
	for _, k := range sum.Kills {
		if k.AttackerSteamID == nil || k.AttackerTeam == k.VictimTeam {
			continue
		}
		killer, ok1 := participations[*k.AttackerSteamID]
		victim, ok2 := participations[k.VictimSteamID]
		if !ok1 || !ok2 {
			continue
		}
		killType := 2
		if k.AttackerTeam == "TERRORIST" {
			killType = 1
		}
		events = append(events, models.KillEvent{
			KillerID:    killer.ID,
			VictimID:    victim.ID,
			Round:       k.Round,
			Weapon:      k.Weapon,
			KillType:    killType,
			BombPlanted: k.BombPlanted,
			KillerX:     k.AttackerX,
			KillerY:     k.AttackerY,
			KillerZ:     k.AttackerZ,
			VictimX:     k.VictimX,
			VictimY:     k.VictimY,
			VictimZ:     k.VictimZ,
		})
	}
	if len(events) == 0 {
		return nil
	}
	if err := tx.CreateInBatches(&events, 200).Error; err != nil {
		return fmt.Errorf("failed to create kill events: %w", err)
	}
	return nil
}

// squadsOfAccounts returns every squad one of the tracked participants belongs to.
func squadsOfAccounts(tx *gorm.DB, ps []*models.Participation) ([]string, error) {
	if len(ps) == 0 {
		return nil, nil
	}
	steamIDs := make([]string, len(ps))
	for i, p := range ps {
		steamIDs[i] = p.SteamID
	}
	var squadIDs []string
	err := tx.Model(&models.SquadMembership{}).
		Joins("JOIN accounts ON accounts.steam_id = squad_memberships.steam_id").
		Where("squad_memberships.steam_id IN ?", steamIDs).
		Distinct("squad_memberships.squad_id").
		Order("squad_memberships.squad_id").
		Pluck("squad_memberships.squad_id", &squadIDs).Error
	return squadIDs, err
}
