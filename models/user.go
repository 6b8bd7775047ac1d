package models

import (
	"strings"
	"time"

	"github.com/gosimple/unidecode"
)

// Profile is a local snapshot of a player's public profile.
// Display data is refreshed from the profile service whenever the row is saved.
type Profile struct {
	SteamID string `gorm:"primaryKey;size:30" json:"steam_id"`
	Name    string `gorm:"index;size:64" json:"name"`
	AvatarS string `gorm:"size:200" json:"avatar_s"`
	AvatarM string `gorm:"size:200" json:"avatar_m"`
	AvatarL string `gorm:"size:200" json:"avatar_l"`

	Account *Account `gorm:"foreignKey:SteamID;references:SteamID" json:"account,omitempty"`

	Timestamps
}

// CleanName is the ASCII display name: the account's clean name when set, else
// the transliterated profile name.
func (p *Profile) CleanName() string {
	if p.Account != nil && p.Account.CleanName != "" {
		return p.Account.CleanName
	}
	if name := strings.TrimSpace(unidecode.Unidecode(p.Name)); name != "" {
		return name
	}
	return p.SteamID
}

// Account is a tracked player identity with match history access.
type Account struct {
	SteamID     string `gorm:"primaryKey;size:30" json:"steam_id"`
	SteamAuth   string `gorm:"size:30;not null" json:"-"` // match history authentication code
	DiscordName string `gorm:"size:30" json:"discord_name,omitempty"`
	CleanName   string `gorm:"size:30" json:"clean_name,omitempty"`

	// Cursor into the match history: the last share-code that was processed.
	LastSharecode string `gorm:"size:50" json:"last_sharecode"`

	// Turned off when the external service refuses the cursor share-code.
	Enabled bool `gorm:"not null" json:"enabled"`

	Timestamps
}

// NewAccount returns an enabled account.
func NewAccount(steamID, steamAuth string) *Account {
	return &Account{SteamID: steamID, SteamAuth: steamAuth, Enabled: true}
}

// UpdateTask is one scheduled "check this account for new matches" unit.
type UpdateTask struct {
	ID          string     `gorm:"primaryKey;type:uuid" json:"id"`
	AccountID   string     `gorm:"index;not null;size:30" json:"account_id"`
	ScheduledAt time.Time  `gorm:"index;not null" json:"scheduled_at"`
	ExecutionAt *time.Time `json:"execution_at,omitempty"`
	CompletedAt *time.Time `gorm:"index" json:"completed_at,omitempty"`
}

func (t *UpdateTask) IsCompleted() bool {
	return t.CompletedAt != nil
}
