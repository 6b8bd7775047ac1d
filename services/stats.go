package services

import (
	"cmp"
	"fmt"
	"log"
	"math"
	"slices"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"squad-stats/models"
)

// StatsWindow is the trailing period the member statistics are computed over.
const StatsWindow = 30 * 24 * time.Hour

// ComputeFeatures evaluates the feature registry over a set of participations
// (with their match loaded). peaches is the number of those participations that
// earned the peach badge. universe holds the participations of the whole squad
// over the same period; the participation effect needs it. Per-participation
// ratios floor deaths at one.
func ComputeFeatures(ps []models.Participation, peaches int, universe []models.Participation) models.FeatureValues {
	out := make(models.FeatureValues, len(models.Features))
	for _, f := range models.Features {
		out[f.ID] = nil
	}
	if len(ps) == 0 {
		return out
	}

	avg := func(value func(p *models.Participation) (float64, bool)) *float64 {
		var sum float64
		n := 0
		for i := range ps {
			if v, ok := value(&ps[i]); ok {
				sum += v
				n++
			}
		}
		if n == 0 {
			return nil
		}
		mean := max(0, sum/float64(n))
		return &mean
	}

	out[models.FeatureKillsPerDeath] = avg(func(p *models.Participation) (float64, bool) { return p.KD(), true })
	out[models.FeatureDamagePerRound] = avg(func(p *models.Participation) (float64, bool) { return p.ADR, true })
	out[models.FeatureAssistsPerDeath] = avg(func(p *models.Participation) (float64, bool) {
		return float64(p.Assists) / float64(max(1, p.Deaths)), true
	})
	out[models.FeatureHeadshotRate] = avg(func(p *models.Participation) (float64, bool) {
		if p.Kills == 0 {
			return 0, false
		}
		return float64(p.Headshots) / float64(p.Kills), true
	})
	out[models.FeaturePlayerValue] = avg(func(p *models.Participation) (float64, bool) { return PlayerValue(p), true })

	rate := float64(peaches) / float64(len(ps))
	out[models.FeaturePeachRate] = &rate
	out[models.FeatureParticipation] = ParticipationEffect(ps, universe)

	var latest *models.Participation
	for i := range ps {
		p := &ps[i]
		if p.Match == nil || p.Match.MType != models.MTypePremier || p.NewRank == nil {
			continue
		}
		if latest == nil || p.Match.Timestamp > latest.Match.Timestamp {
			latest = p
		}
	}
	if latest != nil {
		rank := float64(*latest.NewRank) / 1000
		out[models.FeaturePremierRank] = &rank
	}
	return out
}

// participationEffectMinMatches is the number of decided matches needed both
// with and without the player.
const participationEffectMinMatches = 2

// ParticipationEffect estimates how taking part in a match changes the squad's
// chance to win it: the win rate of the player's matches minus the win rate of
// the squad's matches without the player, mapped from [-1, 1] to [0, 1]. Ties
// are not counted. It is nil while either side has too few matches.
func ParticipationEffect(ps, universe []models.Participation) *float64 {
	played := make(map[string]bool, len(ps))
	var wins, decided int
	for i := range ps {
		played[ps[i].MatchID] = true
		switch ps[i].Result {
		case models.ResultWin:
			wins++
			decided++
		case models.ResultLoss:
			decided++
		}
	}

	// one entry per (match, result) as squad members may have played on both sides
	type outcome struct{ match, result string }
	seen := make(map[outcome]bool)
	var otherWins, otherDecided int
	for i := range universe {
		p := &universe[i]
		o := outcome{p.MatchID, p.Result}
		if played[p.MatchID] || p.Result == models.ResultTie || seen[o] {
			continue
		}
		seen[o] = true
		otherDecided++
		if p.Result == models.ResultWin {
			otherWins++
		}
	}

	if decided < participationEffectMinMatches || otherDecided < participationEffectMinMatches {
		return nil
	}
	effect := float64(wins)/float64(decided) - float64(otherWins)/float64(otherDecided)
	v := (1 + effect) / 2
	return &v
}

// PlayerValue is the geometric mean of K/D and ADR/100 for one participation.
func PlayerValue(p *models.Participation) float64 {
	return math.Sqrt(p.KD() * p.ADR / 100)
}

// StatsService recomputes the rolling per-member statistics of squads.
type StatsService struct {
	DB  *gorm.DB
	now func() time.Time
}

func NewStatsService(db *gorm.DB) *StatsService {
	return &StatsService{DB: db, now: time.Now}
}

func participationsSince(tx *gorm.DB, steamID string, since, until int64) ([]models.Participation, error) {
	var ps []models.Participation
	err := tx.Joins("JOIN matches ON matches.id = participations.match_id").
		Where("participations.steam_id = ? AND matches.timestamp >= ? AND matches.timestamp <= ?", steamID, since, until).
		Order("matches.timestamp ASC").
		Preload("Match").
		Find(&ps).Error
	return ps, err
}

func countPeaches(tx *gorm.DB, ps []models.Participation) (int, error) {
	if len(ps) == 0 {
		return 0, nil
	}
	ids := make([]string, len(ps))
	for i := range ps {
		ids[i] = ps[i].ID
	}
	var n int64
	err := tx.Model(&models.Badge{}).
		Where("badge_type_slug = ? AND participation_id IN ?", models.BadgePeach, ids).
		Count(&n).Error
	return int(n), err
}

// RefreshSquad recomputes stats, trends and leaderboard positions of every member.
func (s *StatsService) RefreshSquad(squadID string) error {
	now := s.now()
	until := now.Unix()
	since := now.Add(-StatsWindow).Unix()

	return s.DB.Transaction(func(tx *gorm.DB) error {
		var members []models.SquadMembership
		if err := tx.Where("squad_id = ?", squadID).Find(&members).Error; err != nil {
			return err
		}

		byMember := make([][]models.Participation, len(members))
		var universe []models.Participation
		for i := range members {
			ps, err := participationsSince(tx, members[i].SteamID, since, until)
			if err != nil {
				return fmt.Errorf("failed to load participations of %s: %w", members[i].SteamID, err)
			}
			byMember[i] = ps
			universe = append(universe, ps...)
		}

		for i := range members {
			m := &members[i]
			ps := byMember[i]
			peaches, err := countPeaches(tx, ps)
			if err != nil {
				return err
			}
			stats := ComputeFeatures(ps, peaches, universe)
			m.Trends = datatypes.NewJSONType(stats.Delta(m.Stats.Data()))
			m.Stats = datatypes.NewJSONType(stats)
			m.LastRefreshAt = &now
		}

		rankByPlayerValue(members)

		for i := range members {
			if err := tx.Model(&members[i]).Select("stats", "trends", "position", "last_refresh_at").
				Updates(&members[i]).Error; err != nil {
				return fmt.Errorf("failed to save stats of %s: %w", members[i].SteamID, err)
			}
		}
		log.Printf("📊 [STATS] Refreshed %d member(s) of squad %s", len(members), squadID)
		return nil
	})
}

// rankByPlayerValue sets Position (1 = best); members without a value get none.
func rankByPlayerValue(members []models.SquadMembership) {
	order := make([]int, 0, len(members))
	for i := range members {
		members[i].Position = nil
		if _, ok := members[i].Stat(models.FeaturePlayerValue); ok {
			order = append(order, i)
		}
	}
	slices.SortStableFunc(order, func(a, b int) int {
		va, _ := members[a].Stat(models.FeaturePlayerValue)
		vb, _ := members[b].Stat(models.FeaturePlayerValue)
		return cmp.Compare(vb, va)
	})
	for rank, idx := range order {
		pos := rank + 1
		members[idx].Position = &pos
	}
}

// RefreshAll refreshes every squad; failures are logged per squad.
func (s *StatsService) RefreshAll() {
	var squadIDs []string
	if err := s.DB.Model(&models.Squad{}).Pluck("id", &squadIDs).Error; err != nil {
		log.Printf("❌ [STATS] Failed to list squads: %v", err)
		return
	}
	for _, id := range squadIDs {
		if err := s.RefreshSquad(id); err != nil {
			log.Printf("❌ [STATS] Failed to refresh squad %s: %v", id, err)
		}
	}
}
