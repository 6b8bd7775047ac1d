package models

import (
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AutoMigrate creates or updates every table and seeds the badge catalog.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&Profile{},
		&Account{},
		&Squad{},
		&SquadMembership{},
		&Match{},
		&Participation{},
		&KillEvent{},
		&GamingSession{},
		&SessionMatch{},
		&UpdateTask{},
		&BadgeType{},
		&Badge{},
		&WeeklyChallenge{},
		&Notification{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	types := BadgeTypes()
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "slug"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "description", "emoji", "is_minor"}),
	}).Create(&types).Error; err != nil {
		return fmt.Errorf("failed to seed badge types: %w", err)
	}
	return nil
}
