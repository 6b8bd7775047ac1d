package services

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"squad-stats/models"
)

// ProfileFetcher is the profile service.
type ProfileFetcher interface {
	FetchProfile(ctx context.Context, steamID string) (*SteamProfile, error)
}

// ProfileService keeps the local profile snapshots in sync with the profile service.
type ProfileService struct {
	DB      *gorm.DB
	Fetcher ProfileFetcher

	group singleflight.Group
}

func NewProfileService(db *gorm.DB, fetcher ProfileFetcher) *ProfileService {
	return &ProfileService{DB: db, Fetcher: fetcher}
}

func (s *ProfileService) fetch(ctx context.Context, steamID string) (*SteamProfile, error) {
	v, err, _ := s.group.Do(steamID, func() (any, error) {
		return s.Fetcher.FetchProfile(ctx, steamID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*SteamProfile), nil
}

// Ensure creates or refreshes the profile of steamID using tx. Display data is
// fetched every time the profile is saved.
func (s *ProfileService) Ensure(ctx context.Context, tx *gorm.DB, steamID string) (*models.Profile, error) {
	remote, err := s.fetch(ctx, steamID)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh profile %s: %w", steamID, err)
	}

	profile := models.Profile{
		SteamID: steamID,
		Name:    remote.Name,
		AvatarS: remote.AvatarS,
		AvatarM: remote.AvatarM,
		AvatarL: remote.AvatarL,
	}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "steam_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "avatar_s", "avatar_m", "avatar_l", "updated_at"}),
	}).Create(&profile).Error; err != nil {
		return nil, fmt.Errorf("failed to save profile %s: %w", steamID, err)
	}
	return &profile, nil
}

// displayName is the ASCII name used in log lines; it falls back to the steam id.
func displayName(tx *gorm.DB, steamID string) string {
	var p models.Profile
	if err := tx.Preload("Account").First(&p, "steam_id = ?", steamID).Error; err != nil {
		return steamID
	}
	return p.CleanName()
}
