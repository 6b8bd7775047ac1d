package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"squad-stats/models"
)

// MaxTasks is the number of update tasks kept after a task completes.
const MaxTasks = 100

// MatchFetcher walks and resolves a player's new matches.
type MatchFetcher interface {
	FetchMatches(ctx context.Context, first string, user SteamUser, recent []models.Match, skipFirst bool) ([]FetchedMatch, error)
}

// AuthProber checks an authentication code against the match history service.
type AuthProber interface {
	TestAuth(ctx context.Context, code string, user SteamUser) bool
}

// UpdateService runs update tasks: it pulls the new matches of an account,
// ingests them and advances the account's cursor.
type UpdateService struct {
	DB       *gorm.DB
	Client   MatchFetcher
	Auth     AuthProber
	Matches  *MatchService
	Badges   *BadgeService
	Sessions *SessionService

	now func() time.Time
}

func NewUpdateService(db *gorm.DB, client MatchFetcher, auth AuthProber, matches *MatchService, badges *BadgeService, sessions *SessionService) *UpdateService {
	return &UpdateService{
		DB:       db,
		Client:   client,
		Auth:     auth,
		Matches:  matches,
		Badges:   badges,
		Sessions: sessions,
		now:      time.Now,
	}
}

func loadAccount(tx *gorm.DB, steamID string) (*models.Account, error) {
	var a models.Account
	if err := tx.First(&a, "steam_id = ?", steamID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &a, nil
}

// firstSharecode is the cursor of the account, or the sharecode of the earliest
// match the player took part in when no cursor is set.
func firstSharecode(tx *gorm.DB, a *models.Account) (string, bool, error) {
	if a.LastSharecode != "" {
		return a.LastSharecode, true, nil
	}
	var m models.Match
	err := tx.Joins("JOIN participations ON participations.match_id = matches.id").
		Where("participations.steam_id = ?", a.SteamID).
		Order("matches.timestamp ASC").First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return m.Sharecode, false, nil
}

func oldParticipations(tx *gorm.DB, steamID string) ([]models.Participation, error) {
	var ps []models.Participation
	err := tx.Joins("JOIN matches ON matches.id = participations.match_id").
		Where("participations.steam_id = ?", steamID).
		Order("matches.timestamp ASC").
		Find(&ps).Error
	return ps, err
}

// RunTask executes one update task. recent holds matches ingested earlier in the
// same drain; the returned slice is recent plus the matches of this task. A task
// that fails with an error is left incomplete.
func (s *UpdateService) RunTask(ctx context.Context, task *models.UpdateTask, recent []models.Match) ([]models.Match, error) {
	now := s.now()
	task.ExecutionAt = &now
	if err := s.DB.Model(task).Update("execution_at", now).Error; err != nil {
		return recent, err
	}

	account, err := loadAccount(s.DB, task.AccountID)
	if err != nil {
		return recent, err
	}

	if account.Enabled {
		recent, err = s.update(ctx, account, recent)
		if err != nil {
			return recent, err
		}
	} else {
		log.Printf("[UPDATE] Skipping disabled account %s", account.SteamID)
	}

	done := s.now()
	task.CompletedAt = &done
	if err := s.DB.Model(task).Update("completed_at", done).Error; err != nil {
		return recent, err
	}
	if err := s.Sessions.CloseIdle(account.SteamID); err != nil {
		return recent, fmt.Errorf("failed to close idle sessions of %s: %w", account.SteamID, err)
	}
	if err := s.PruneTasks(); err != nil {
		log.Printf("⚠️ [UPDATE] Failed to prune update tasks: %v", err)
	}
	return recent, nil
}

func (s *UpdateService) update(ctx context.Context, account *models.Account, recent []models.Match) ([]models.Match, error) {
	first, skipFirst, err := firstSharecode(s.DB, account)
	if err != nil {
		return recent, err
	}
	if first == "" {
		log.Printf("⚠️ [UPDATE] Account %s has no sharecode to start from", account.SteamID)
		return recent, nil
	}

	user := SteamUser{SteamID: account.SteamID, SteamAuth: account.SteamAuth}
	fetched, err := s.Client.FetchMatches(ctx, first, user, recent, skipFirst)
	if err != nil {
		var invalid *InvalidSharecodeError
		if errors.As(err, &invalid) {
			log.Printf("⚠️ [UPDATE] Disabling account %s: %v", account.SteamID, err)
			account.Enabled = false
			return recent, s.DB.Model(account).Update("enabled", false).Error
		}
		return recent, err
	}

	old, err := oldParticipations(s.DB, account.SteamID)
	if err != nil {
		return recent, err
	}

	for _, entry := range fetched {
		if entry.DemoErr != nil {
			log.Printf("⚠️ [UPDATE] Skipping match %s: %v", entry.Sharecode, entry.DemoErr)
			if err := s.advanceCursor(account, entry.Sharecode); err != nil {
				return recent, err
			}
			continue
		}

		m := entry.Match
		if m == nil {
			if m, err = s.Matches.FromSummary(ctx, entry.Summary); err != nil {
				return recent, err
			}
			recent = append(recent, *m)
		}
		if err := s.advanceCursor(account, entry.Sharecode); err != nil {
			return recent, err
		}

		var p models.Participation
		err := s.DB.Where("match_id = ? AND steam_id = ?", m.ID, account.SteamID).First(&p).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return recent, err
		}
		p.Match = m
		if err := s.DB.Transaction(func(tx *gorm.DB) error {
			return s.Badges.AwardHistoryBadges(tx, &p, old, false)
		}); err != nil {
			return recent, err
		}
		old = append(old, p)
	}
	return recent, nil
}

func (s *UpdateService) advanceCursor(account *models.Account, sharecode string) error {
	account.LastSharecode = sharecode
	if err := s.DB.Model(account).Update("last_sharecode", sharecode).Error; err != nil {
		return fmt.Errorf("failed to advance cursor of %s: %w", account.SteamID, err)
	}
	return nil
}

// PruneTasks deletes all but the MaxTasks most recently scheduled tasks.
func (s *UpdateService) PruneTasks() error {
	keep := s.DB.Model(&models.UpdateTask{}).Select("id").Order("scheduled_at DESC").Limit(MaxTasks)
	res := s.DB.Where("id NOT IN (?)", keep).Delete(&models.UpdateTask{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		log.Printf("🧹 [UPDATE] Pruned %d update task(s)", res.RowsAffected)
	}
	return nil
}

// EnableAccount re-enables a disabled account when its authentication code is
// accepted again. It reports whether the account is enabled afterwards.
func (s *UpdateService) EnableAccount(ctx context.Context, steamID, steamAuth string) (bool, error) {
	account, err := loadAccount(s.DB, steamID)
	if err != nil {
		return false, err
	}
	if steamAuth != "" {
		account.SteamAuth = steamAuth
	}
	code, _, err := firstSharecode(s.DB, account)
	if err != nil {
		return false, err
	}
	if code == "" || !s.Auth.TestAuth(ctx, code, SteamUser{SteamID: account.SteamID, SteamAuth: account.SteamAuth}) {
		return false, nil
	}
	account.Enabled = true
	if err := s.DB.Model(account).Select("steam_auth", "enabled").Updates(account).Error; err != nil {
		return false, err
	}
	log.Printf("✅ [UPDATE] Account %s enabled", steamID)
	return true, nil
}
