package services

import (
	"errors"
	"fmt"
	"log"
	"math"
	"slices"
	"strings"

	"gorm.io/gorm"

	"squad-stats/models"
)

// MarginRule awards the teammate with the extreme KPI value when it is far off the runner-up.
type MarginRule struct {
	Slug       string
	Descending bool    // true: the highest value is the extreme one
	Margin     float64 // descending: v0 >= Margin*v1, ascending: v0 <= Margin*v1
	KPI        func(p *models.Participation) float64
	// Bounds are absolute checks of which at least one must hold, when set.
	Bounds []func(p *models.Participation) bool
}

var (
	CarrierRule = MarginRule{
		Slug:       models.BadgeCarrier,
		Descending: true,
		Margin:     1.8,
		KPI:        func(p *models.Participation) float64 { return p.ADR },
	}
	PeachRule = MarginRule{
		Slug:   models.BadgePeach,
		Margin: 0.67,
		KPI:    func(p *models.Participation) float64 { return p.ADR },
		Bounds: []func(p *models.Participation) bool{
			func(p *models.Participation) bool { return p.ADR <= 50 },
			func(p *models.Participation) bool { return p.KD() <= 0.5 },
		},
	}
)

// knifeWeapons are the weapon names counted for the John Wick award.
var knifeWeapons = []string{"knife", "knife_t", "bayonet"}

func isKnife(weapon string) bool {
	w := strings.ToLower(weapon)
	return slices.Contains(knifeWeapons, w) || strings.HasPrefix(w, "knife_")
}

const (
	surpassMinHistory = 10
	surpassWindow     = 20
)

// BadgeService evaluates the achievement rules. Every award is idempotent per
// (participation, badge type).
type BadgeService struct {
	DB       *gorm.DB
	Notifier Notifier
}

func NewBadgeService(db *gorm.DB, notifier Notifier) *BadgeService {
	return &BadgeService{DB: db, Notifier: notifier}
}

func (s *BadgeService) exists(tx *gorm.DB, participationID, slug string) (bool, error) {
	var count int64
	if err := tx.Model(&models.Badge{}).
		Where("participation_id = ? AND badge_type_slug = ?", participationID, slug).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// award creates the badge unless it already exists and reports whether it did.
func (s *BadgeService) award(tx *gorm.DB, p *models.Participation, slug string, frequency int) (bool, error) {
	if _, ok := models.LookupBadgeType(slug); !ok {
		return false, fmt.Errorf("%w: %s", ErrBadgeTypeMissing, slug)
	}
	found, err := s.exists(tx, p.ID, slug)
	if err != nil || found {
		return false, err
	}
	badge := models.Badge{ParticipationID: p.ID, BadgeTypeSlug: slug, Frequency: frequency}
	if err := tx.Create(&badge).Error; err != nil {
		return false, fmt.Errorf("failed to award %s to %s: %w", slug, p.SteamID, err)
	}
	return true, nil
}

func (s *BadgeService) notify(tx *gorm.DB, p *models.Participation, mute bool, text string) {
	if mute {
		return
	}
	notifySquads(tx, s.Notifier, p.SteamID, text)
}

func loadMatch(tx *gorm.DB, p *models.Participation) (*models.Match, error) {
	if p.Match != nil {
		return p.Match, nil
	}
	var m models.Match
	if err := tx.First(&m, "id = ?", p.MatchID).Error; err != nil {
		return nil, fmt.Errorf("failed to load match of participation %s: %w", p.ID, err)
	}
	p.Match = &m
	return &m, nil
}

// AwardMatchBadges runs the per-match rules for one participation.
func (s *BadgeService) AwardMatchBadges(tx *gorm.DB, p *models.Participation, mute bool) error {
	m, err := loadMatch(tx, p)
	if err != nil {
		return err
	}
	if err := s.AwardStreakBadge(tx, p, m, 5, models.BadgeAce, mute); err != nil {
		return err
	}
	if err := s.AwardStreakBadge(tx, p, m, 4, models.BadgeQuadKill, mute); err != nil {
		return err
	}
	if err := s.AwardMarginBadge(tx, p, m, CarrierRule, "🍆", mute); err != nil {
		return err
	}
	if err := s.AwardMarginBadge(tx, p, m, PeachRule, "🍑", mute); err != nil {
		return err
	}
	return s.AwardWeaponBadge(tx, p, m, models.BadgeJohnWick, isKnife, mute)
}

// Streaks counts the rounds in which the participation scored exactly n kills.
func Streaks(tx *gorm.DB, participationID string, n int) (int, error) {
	var rows []struct {
		Round int
		Kills int
	}
	if err := tx.Model(&models.KillEvent{}).
		Select("round, COUNT(*) AS kills").
		Where("killer_id = ? AND round IS NOT NULL", participationID).
		Group("round").
		Scan(&rows).Error; err != nil {
		return 0, err
	}
	count := 0
	for _, r := range rows {
		if r.Kills == n {
			count++
		}
	}
	return count, nil
}

func (s *BadgeService) AwardStreakBadge(tx *gorm.DB, p *models.Participation, m *models.Match, n int, slug string, mute bool) error {
	found, err := s.exists(tx, p.ID, slug)
	if err != nil || found {
		return err
	}
	number, err := Streaks(tx, p.ID, n)
	if err != nil || number == 0 {
		return err
	}
	created, err := s.award(tx, p, slug, number)
	if err != nil || !created {
		return err
	}
	bt, _ := models.LookupBadgeType(slug)
	log.Printf("🎖️ [BADGE] %s achieved %s %d time(s)", displayName(tx, p.SteamID), bt.Name, number)
	frequency := ""
	if number > 1 {
		frequency = fmt.Sprintf(" %d times", number)
	}
	s.notify(tx, p, mute, fmt.Sprintf("<%s> has achieved **%s**%s on *%s* recently!", p.SteamID, bt.Name, frequency, m.MapName))
	return nil
}

// qualifies applies the margin rule to the team, ordered with the extreme first.
func (r MarginRule) qualifies(p *models.Participation, team []models.Participation) bool {
	if len(team) < 2 {
		return false
	}
	slices.SortStableFunc(team, func(a, b models.Participation) int {
		va, vb := r.KPI(&a), r.KPI(&b)
		if r.Descending {
			va, vb = vb, va
		}
		switch {
		case va < vb:
			return -1
		case va > vb:
			return 1
		default:
			return 0
		}
	})
	if team[0].ID != p.ID {
		return false
	}
	v0, v1 := r.KPI(&team[0]), r.KPI(&team[1])
	if v0 == v1 {
		return false
	}
	if r.Descending {
		if v0 <= 0 || v0 < r.Margin*v1 {
			return false
		}
	} else if v0 > r.Margin*v1 {
		return false
	}
	if len(r.Bounds) == 0 {
		return true
	}
	for _, bound := range r.Bounds {
		if bound(p) {
			return true
		}
	}
	return false
}

func (s *BadgeService) AwardMarginBadge(tx *gorm.DB, p *models.Participation, m *models.Match, rule MarginRule, emoji string, mute bool) error {
	found, err := s.exists(tx, p.ID, rule.Slug)
	if err != nil || found {
		return err
	}
	var team []models.Participation
	if err := tx.Where("match_id = ? AND team = ?", p.MatchID, p.Team).Find(&team).Error; err != nil {
		return err
	}
	if !rule.qualifies(p, team) {
		return nil
	}
	created, err := s.award(tx, p, rule.Slug, 1)
	if err != nil || !created {
		return err
	}
	bt, _ := models.LookupBadgeType(rule.Slug)
	log.Printf("🎖️ [BADGE] %s received the %s", displayName(tx, p.SteamID), bt.Name)
	s.notify(tx, p, mute, fmt.Sprintf("%s <%s> has qualified for the **%s** on *%s*!", emoji, p.SteamID, bt.Name, m.MapName))
	return nil
}

func (s *BadgeService) AwardWeaponBadge(tx *gorm.DB, p *models.Participation, m *models.Match, slug string, match func(weapon string) bool, mute bool) error {
	found, err := s.exists(tx, p.ID, slug)
	if err != nil || found {
		return err
	}
	var weapons []string
	if err := tx.Model(&models.KillEvent{}).Where("killer_id = ?", p.ID).Pluck("weapon", &weapons).Error; err != nil {
		return err
	}
	number := 0
	for _, w := range weapons {
		if match(w) {
			number++
		}
	}
	if number == 0 {
		return nil
	}
	created, err := s.award(tx, p, slug, number)
	if err != nil || !created {
		return err
	}
	bt, _ := models.LookupBadgeType(slug)
	log.Printf("🎖️ [BADGE] %s received the %s (%d kills)", displayName(tx, p.SteamID), bt.Name, number)
	s.notify(tx, p, mute, fmt.Sprintf("%s <%s> has earned the **%s** on *%s*!", bt.Emoji, p.SteamID, bt.Name, m.MapName))
	return nil
}

// AwardHistoryBadges runs the rules that compare a participation against the
// player's earlier participations, given in match-timestamp order.
func (s *BadgeService) AwardHistoryBadges(tx *gorm.DB, p *models.Participation, old []models.Participation, mute bool) error {
	if len(old) < surpassMinHistory {
		return nil
	}
	return s.AwardSurpassYourself(tx, p, old[max(0, len(old)-surpassWindow):], mute)
}

func (s *BadgeService) AwardSurpassYourself(tx *gorm.DB, p *models.Participation, recent []models.Participation, mute bool) error {
	found, err := s.exists(tx, p.ID, models.BadgeSurpassYourself)
	if err != nil || found {
		return err
	}
	kd := make([]float64, len(recent))
	for i := range recent {
		kd[i] = recent[i].KD()
	}
	mean, std := meanStd(kd)
	threshold := mean + 2*std
	if p.KD() <= threshold {
		return nil
	}
	created, err := s.award(tx, p, models.BadgeSurpassYourself, 1)
	if err != nil || !created {
		return err
	}
	m, err := loadMatch(tx, p)
	if err != nil {
		return err
	}
	log.Printf("🎖️ [BADGE] Surpass-yourself badge awarded to %s for K/D %.2f where threshold was %.2f", displayName(tx, p.SteamID), p.KD(), threshold)
	s.notify(tx, p, mute, fmt.Sprintf("🎖️ <%s> has been awarded the **Surpass-yourself Badge** in recognition of their far-above average performance on *%s* recently!", p.SteamID, m.MapName))
	return nil
}

// AwardRisingStar gives the rising-star badge of a session to the player's last participation in it.
func (s *BadgeService) AwardRisingStar(tx *gorm.DB, sessionID, steamID string) error {
	var p models.Participation
	err := tx.Joins("JOIN session_matches ON session_matches.match_id = participations.match_id").
		Joins("JOIN matches ON matches.id = participations.match_id").
		Where("session_matches.gaming_session_id = ? AND participations.steam_id = ?", sessionID, steamID).
		Order("matches.timestamp DESC").
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = s.award(tx, &p, models.BadgeRisingStar, 1)
	return err
}

// RerunMatch evaluates the per-match rules of every participation of a match again, muted.
func (s *BadgeService) RerunMatch(matchID string) (int, error) {
	var count int
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var m models.Match
		if err := tx.Preload("Participations").First(&m, "id = ?", matchID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMatchNotFound
			}
			return err
		}
		for i := range m.Participations {
			p := &m.Participations[i]
			p.Match = &m
			if err := s.AwardMatchBadges(tx, p, true); err != nil {
				return err
			}
		}
		count = len(m.Participations)
		return nil
	})
	return count, err
}

// meanStd returns the mean and the population standard deviation.
func meanStd(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var sq float64
	for _, x := range xs {
		sq += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(sq / float64(len(xs)))
}
