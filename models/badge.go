package models

import (
	"time"

	"github.com/gosimple/slug"
	"gorm.io/gorm"
)

// Badge type slugs referenced from code.
const (
	BadgeAce             = "ace"
	BadgeQuadKill        = "quad-kill"
	BadgeCarrier         = "carrier"
	BadgePeach           = "peach"
	BadgeSurpassYourself = "surpass-yourself"
	BadgeJohnWick        = "john-wick-award"
	BadgeRisingStar      = "rising-star"
	BadgeWeekly1         = "potw-1"
	BadgeWeekly2         = "potw-2"
	BadgeWeekly3         = "potw-3"
)

// BadgeType: static catalog entry
type BadgeType struct {
	Slug        string    `gorm:"primaryKey;size:40" json:"slug"`
	Name        string    `gorm:"uniqueIndex;not null;size:100" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	Emoji       string    `gorm:"size:16" json:"emoji,omitempty"`
	IsMinor     bool      `gorm:"not null" json:"is_minor"` // minor badges are not announced on their own page
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// Badge: awarded instance, unique per (participation, badge type)
type Badge struct {
	ID              string    `gorm:"primaryKey;type:uuid" json:"id"`
	ParticipationID string    `gorm:"uniqueIndex:idx_participation_badge_type;not null;type:uuid" json:"participation_id"`
	BadgeTypeSlug   string    `gorm:"uniqueIndex:idx_participation_badge_type;index;not null;size:40" json:"badge_type"`
	Frequency       int       `gorm:"not null" json:"frequency"`
	AwardedAt       time.Time `gorm:"autoCreateTime" json:"awarded_at"`
}

func (b *Badge) BeforeCreate(tx *gorm.DB) error {
	ensureID(&b.ID)
	return nil
}

// BadgeCatalog is the fixed set of achievement kinds. Entries without a Slug get one from their Name.
var BadgeCatalog = []BadgeType{
	{Name: "Ace", Description: "Five kills in one round.", IsMinor: true},
	{Name: "Quad-kill", Description: "Four kills in one round.", IsMinor: true},
	{Slug: BadgeCarrier, Name: "Carrier Credential", Description: "Out-damaged every teammate by a wide margin.", Emoji: "🍆"},
	{Slug: BadgePeach, Name: "Peach Price", Description: "Trailed every teammate by a wide margin.", Emoji: "🍑"},
	{Slug: BadgeSurpassYourself, Name: "Surpass-yourself Performance", Description: "K/D far above the recent personal average.", Emoji: "🎖️"},
	{Name: "John Wick Award", Description: "Kills with the knife.", Emoji: "🔪"},
	{Name: "Rising Star", Description: "Largest performance gain of a gaming session.", Emoji: "🌟"},
	{Slug: BadgeWeekly1, Name: "Player of the Week", Description: "First place of the weekly challenge.", Emoji: "🥇"},
	{Slug: BadgeWeekly2, Name: "Player of the Week (Silver)", Description: "Second place of the weekly challenge.", Emoji: "🥈"},
	{Slug: BadgeWeekly3, Name: "Player of the Week (Bronze)", Description: "Third place of the weekly challenge.", Emoji: "🥉"},
}

// CatalogSlug returns the slug of a catalog entry.
func CatalogSlug(bt BadgeType) string {
	if bt.Slug != "" {
		return bt.Slug
	}
	return slug.Make(bt.Name)
}

// BadgeTypes returns the catalog with every slug resolved.
func BadgeTypes() []BadgeType {
	out := make([]BadgeType, len(BadgeCatalog))
	for i, bt := range BadgeCatalog {
		bt.Slug = CatalogSlug(bt)
		out[i] = bt
	}
	return out
}

// LookupBadgeType finds a catalog entry by slug.
func LookupBadgeType(s string) (BadgeType, bool) {
	for _, bt := range BadgeTypes() {
		if bt.Slug == s {
			return bt, true
		}
	}
	return BadgeType{}, false
}
