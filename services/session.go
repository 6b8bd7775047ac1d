package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"squad-stats/models"
)

// SessionBreak is the longest pause between two matches of one gaming session, in seconds.
const SessionBreak int64 = 2 * 60 * 60

const risingStarMinTrend = 0.01

// TrendPlotter renders the trend visualization attached to the rising-star message.
type TrendPlotter interface {
	PlotTrends(ctx context.Context, squadID, steamID string) ([]byte, error)
}

// SessionService clusters a squad's matches into gaming sessions.
type SessionService struct {
	DB       *gorm.DB
	Notifier Notifier
	Badges   *BadgeService
	Plotter  TrendPlotter // optional

	printer *message.Printer
}

func NewSessionService(db *gorm.DB, notifier Notifier, badges *BadgeService) *SessionService {
	return &SessionService{
		DB:       db,
		Notifier: notifier,
		Badges:   badges,
		printer:  message.NewPrinter(language.English),
	}
}

func loadSession(tx *gorm.DB, id string) (*models.GamingSession, error) {
	var s models.GamingSession
	if err := tx.First(&s, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &s, nil
}

// LastSession returns the session holding the squad's latest match, or nil.
func (s *SessionService) LastSession(tx *gorm.DB, squad *models.Squad) (*models.GamingSession, error) {
	if squad.LastSessionID == nil {
		return nil, nil
	}
	session, err := loadSession(tx, *squad.LastSessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, nil
	}
	return session, err
}

// HandleNewMatch assigns m to the squad's current session, opening a new one
// after a break. Matches that predate the end of a session that already has
// matches are not assigned at all.
func (s *SessionService) HandleNewMatch(tx *gorm.DB, squadID string, m *models.Match) error {
	var squad models.Squad
	if err := tx.First(&squad, "id = ?", squadID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSquadNotFound
		}
		return err
	}

	last, err := s.LastSession(tx, &squad)
	if err != nil {
		return err
	}

	target := last
	if last == nil || last.IsClosed || (last.HasMatches() && m.Timestamp-*last.EndedAt > SessionBreak) {
		if last != nil {
			if err := s.Close(tx, last); err != nil {
				return err
			}
		}
		log.Printf("[SESSION] Assigning match %s to new gaming session", m.ID)
		target = &models.GamingSession{SquadID: squad.ID}
		if err := tx.Create(target).Error; err != nil {
			return fmt.Errorf("failed to create gaming session: %w", err)
		}
	} else {
		log.Printf("[SESSION] Assigning match %s to current gaming session", m.ID)
	}

	if target.HasMatches() && m.Timestamp < *target.EndedAt {
		log.Printf("[SESSION] Not assigning match %s to any gaming session (it was in the past)", m.ID)
		return nil
	}

	if err := s.repair(tx, &squad, target, m); err != nil {
		return err
	}
	if err := s.attach(tx, target, m); err != nil {
		return err
	}
	return s.advancePointer(tx, &squad, last, target)
}

// repair flags open sessions of the squad as closed when a closed session
// already holds matches beyond the end of m.
func (s *SessionService) repair(tx *gorm.DB, squad *models.Squad, target *models.GamingSession, m *models.Match) error {
	var later int64
	if err := tx.Model(&models.GamingSession{}).
		Where("squad_id = ? AND is_closed = ? AND last_match_at > ?", squad.ID, true, m.TimestampEnd()).
		Count(&later).Error; err != nil {
		return err
	}
	if later == 0 {
		return nil
	}

	var open []models.GamingSession
	if err := tx.Where("squad_id = ? AND is_closed = ?", squad.ID, false).Find(&open).Error; err != nil {
		return err
	}
	for i := range open {
		log.Printf("[SESSION] Setting session %s to closed since a later closed session of the same squad exists", open[i].ID)
		if err := tx.Model(&open[i]).Update("is_closed", true).Error; err != nil {
			return err
		}
		if open[i].ID == target.ID {
			target.IsClosed = true
		}
	}
	return nil
}

func (s *SessionService) attach(tx *gorm.DB, session *models.GamingSession, m *models.Match) error {
	link := models.SessionMatch{GamingSessionID: session.ID, MatchID: m.ID}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&link).Error; err != nil {
		return fmt.Errorf("failed to attach match %s to session %s: %w", m.ID, session.ID, err)
	}

	ts, end := m.Timestamp, m.TimestampEnd()
	if session.StartedAt == nil || ts < *session.StartedAt {
		session.StartedAt = &ts
	}
	if session.LastMatchAt == nil || ts >= *session.LastMatchAt {
		session.LastMatchAt = &ts
		session.EndedAt = &end
	}
	return tx.Model(session).Select("started_at", "last_match_at", "ended_at").Updates(session).Error
}

// advancePointer moves the squad's last-session pointer to target unless the
// current one holds a later match.
func (s *SessionService) advancePointer(tx *gorm.DB, squad *models.Squad, last, target *models.GamingSession) error {
	if last != nil && last.ID != target.ID && last.LastMatchAt != nil &&
		*last.LastMatchAt > *target.LastMatchAt {
		return nil
	}
	squad.LastSessionID = &target.ID
	return tx.Model(squad).Update("last_session_id", target.ID).Error
}

// SessionMatches returns the matches of a session ordered by timestamp.
func SessionMatches(tx *gorm.DB, sessionID string) ([]models.Match, error) {
	var matches []models.Match
	err := tx.Joins("JOIN session_matches ON session_matches.match_id = matches.id").
		Where("session_matches.gaming_session_id = ?", sessionID).
		Order("matches.timestamp ASC").
		Preload("Participations").
		Find(&matches).Error
	return matches, err
}

type memberTrend struct {
	steamID  string
	value    float64
	trendRel float64
}

// Close closes the session and posts its summary. Closing a closed session does nothing.
func (s *SessionService) Close(tx *gorm.DB, session *models.GamingSession) error {
	if session.IsClosed {
		return nil
	}
	session.IsClosed = true
	if err := tx.Model(session).Update("is_closed", true).Error; err != nil {
		return fmt.Errorf("failed to close session %s: %w", session.ID, err)
	}

	matches, err := SessionMatches(tx, session.ID)
	if err != nil {
		return err
	}
	byPlayer := make(map[string][]models.Participation)
	for _, m := range matches {
		for _, p := range m.Participations {
			byPlayer[p.SteamID] = append(byPlayer[p.SteamID], p)
		}
	}

	var members []models.SquadMembership
	if err := tx.Where("squad_id = ?", session.SquadID).Order("steam_id").Find(&members).Error; err != nil {
		return err
	}

	var trends []memberTrend
	top := -1
	participated := 0
	for _, member := range members {
		ps, ok := byPlayer[member.SteamID]
		if !ok {
			continue
		}
		participated++
		today, ok1 := sessionPlayerValue(ps)
		baseline, ok2 := member.Stat(models.FeaturePlayerValue)
		if !ok1 || !ok2 {
			continue
		}
		t := memberTrend{steamID: member.SteamID, value: today, trendRel: relativeTrend(today, baseline)}
		trends = append(trends, t)
		if top < 0 || t.trendRel > trends[top].trendRel {
			top = len(trends) - 1
		}
	}

	notifySquad(tx, s.Notifier, session.SquadID, s.performanceText(trends), nil)
	notifySquad(tx, s.Notifier, session.SquadID, matchListText(matches, members), nil)

	if participated > 1 && top >= 0 && trends[top].trendRel > risingStarMinTrend {
		star := trends[top].steamID
		var plot []byte
		if s.Plotter != nil {
			if plot, err = s.Plotter.PlotTrends(context.Background(), session.SquadID, star); err != nil {
				log.Printf("⚠️ [SESSION] Failed to plot trends of %s: %v", star, err)
				plot = nil
			}
		}
		log.Printf("🌟 [SESSION] Rising star of session %s: %s (%+.1f%%)", session.ID, displayName(tx, star), 100*trends[top].trendRel)
		notifySquad(tx, s.Notifier, session.SquadID, fmt.Sprintf("And today's **rising star** was: 🌟 <%s>!", star), plot)
		session.RisingStarID = &star
		if err := tx.Model(session).Update("rising_star_id", star).Error; err != nil {
			return err
		}
		if s.Badges != nil {
			if err := s.Badges.AwardRisingStar(tx, session.ID, star); err != nil {
				return err
			}
		}
	}
	log.Printf("✅ [SESSION] Closed session %s (%d match(es))", session.ID, len(matches))
	return nil
}

// sessionPlayerValue is the mean player value over the given participations.
func sessionPlayerValue(ps []models.Participation) (float64, bool) {
	pv := ComputeFeatures(ps, 0, nil)
	return pv.Get(models.FeaturePlayerValue)
}

func relativeTrend(today, baseline float64) float64 {
	trend := today - baseline
	switch {
	case trend == 0:
		return 0
	case baseline > 0:
		return trend / baseline
	default:
		return math.Inf(1)
	}
}

func (s *SessionService) performanceText(trends []memberTrend) string {
	text := "Looks like your session has ended!"
	if len(trends) == 0 {
		return text
	}
	comments := make([]string, len(trends))
	for i, t := range trends {
		if math.Abs(t.trendRel) > 0.0005 {
			icon := "📉"
			if t.trendRel > 0 {
				icon = "📈"
			}
			comments[i] = s.printer.Sprintf(" <%s> %s %+.1f%% (%.2f)", t.steamID, icon, 100*t.trendRel, t.value)
		} else {
			comments[i] = s.printer.Sprintf(" <%s> ±0.00%% (%.2f)", t.steamID, t.value)
		}
	}
	text += " Here is your current performance compared to your 30-days average: " + strings.Join(comments, ",")
	kpi, _ := models.LookupFeature(models.FeaturePlayerValue)
	return text + ", with respect to the *" + strings.ToLower(kpi.Name) + "*."
}

var resultText = map[string]string{
	models.ResultWin:  "won 🤘",
	models.ResultLoss: "lost 💩",
	models.ResultTie:  "ended in a draw 🥵",
}

func matchListText(matches []models.Match, members []models.SquadMembership) string {
	isMember := make(map[string]bool, len(members))
	for _, m := range members {
		isMember[m.SteamID] = true
	}
	var b strings.Builder
	b.WriteString("Matches played in this session:")
	for _, m := range matches {
		for _, p := range m.Participations {
			if !isMember[p.SteamID] {
				continue
			}
			fmt.Fprintf(&b, "\n- *%s*, **%d:%d**, %s", m.MapName, m.ScoreTeam1, m.ScoreTeam2, resultText[p.Result])
			break
		}
	}
	return b.String()
}

// CloseByID closes a session in its own transaction.
func (s *SessionService) CloseByID(id string) (*models.GamingSession, error) {
	var session *models.GamingSession
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		if session, err = loadSession(tx, id); err != nil {
			return err
		}
		return s.Close(tx, session)
	})
	return session, err
}

// CloseIdle closes the last session of each squad the player belongs to, once
// every account of that squad had a break since its last match.
func (s *SessionService) CloseIdle(steamID string) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		var squadIDs []string
		if err := tx.Model(&models.SquadMembership{}).Where("steam_id = ?", steamID).
			Pluck("squad_id", &squadIDs).Error; err != nil {
			return err
		}
		for _, squadID := range squadIDs {
			var squad models.Squad
			if err := tx.First(&squad, "id = ?", squadID).Error; err != nil {
				return err
			}
			last, err := s.LastSession(tx, &squad)
			if err != nil {
				return err
			}
			if last == nil || last.IsClosed {
				continue
			}
			ended, err := squadHadBreak(tx, squadID)
			if err != nil {
				return err
			}
			if ended {
				if err := s.Close(tx, last); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func squadHadBreak(tx *gorm.DB, squadID string) (bool, error) {
	var accountIDs []string
	if err := tx.Model(&models.Account{}).
		Joins("JOIN squad_memberships ON squad_memberships.steam_id = accounts.steam_id").
		Where("squad_memberships.squad_id = ?", squadID).
		Pluck("accounts.steam_id", &accountIDs).Error; err != nil {
		return false, err
	}
	for _, id := range accountIDs {
		ok, err := hadBreakAfterLastMatch(tx, id)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// hadBreakAfterLastMatch reports whether the last completed update of the account
// finished at least SessionBreak after the end of its last match.
func hadBreakAfterLastMatch(tx *gorm.DB, steamID string) (bool, error) {
	var task models.UpdateTask
	err := tx.Where("account_id = ? AND completed_at IS NOT NULL", steamID).
		Order("scheduled_at DESC").First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var m models.Match
	err = tx.Joins("JOIN participations ON participations.match_id = matches.id").
		Where("participations.steam_id = ?", steamID).
		Order("matches.timestamp DESC").First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return task.CompletedAt.Unix()-m.TimestampEnd() >= SessionBreak, nil
}
