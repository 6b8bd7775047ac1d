package services

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"squad-stats/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type fakeProfiles struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeProfiles) FetchProfile(ctx context.Context, steamID string) (*SteamProfile, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return &SteamProfile{Name: "Plâyer " + steamID[len(steamID)-2:], AvatarS: "s.png"}, nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (n *recordingNotifier) Notify(tx *gorm.DB, squadID, text string, attachment []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.texts = append(n.texts, text)
	return nil
}

func (n *recordingNotifier) count(substr string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, t := range n.texts {
		if strings.Contains(t, substr) {
			c++
		}
	}
	return c
}

type fixture struct {
	db       *gorm.DB
	notifier *recordingNotifier
	profiles *fakeProfiles
	badges   *BadgeService
	sessions *SessionService
	matches  *MatchService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newTestDB(t)
	f := &fixture{db: db, notifier: &recordingNotifier{}, profiles: &fakeProfiles{}}
	f.badges = NewBadgeService(db, f.notifier)
	f.sessions = NewSessionService(db, f.notifier, f.badges)
	f.matches = NewMatchService(db, NewProfileService(db, f.profiles), f.sessions, f.badges)
	return f
}

// sid returns the steam id of test player n.
func sid(n int) uint64 {
	return steamID64Base + uint64(n)
}

func sidStr(n int) string {
	return strconv.FormatUint(sid(n), 10)
}

// addSquad creates a squad whose members have accounts.
func (f *fixture) addSquad(t *testing.T, members ...int) *models.Squad {
	t.Helper()
	squad := &models.Squad{Name: "Squad"}
	if err := f.db.Create(squad).Error; err != nil {
		t.Fatalf("create squad: %v", err)
	}
	for _, n := range members {
		id := sidStr(n)
		if err := f.db.Create(&models.Profile{SteamID: id, Name: "member"}).Error; err != nil {
			t.Fatalf("create profile: %v", err)
		}
		if err := f.db.Create(models.NewAccount(id, "AAAA-BBBBB-CCCC")).Error; err != nil {
			t.Fatalf("create account: %v", err)
		}
		if err := f.db.Create(&models.SquadMembership{SquadID: squad.ID, SteamID: id}).Error; err != nil {
			t.Fatalf("create membership: %v", err)
		}
	}
	return squad
}

func (f *fixture) setBaseline(t *testing.T, n int, pv float64) {
	t.Helper()
	values := models.FeatureValues{models.FeaturePlayerValue: &pv}
	if err := f.db.Model(&models.SquadMembership{}).Where("steam_id = ?", sidStr(n)).
		Update("stats", datatypes.NewJSONType(values)).Error; err != nil {
		t.Fatalf("set baseline: %v", err)
	}
}

// newSummary returns an enriched 5v5 summary of players 1..10 (team 1 wins 13:7)
// where everybody has 10 kills, 10 deaths and 80 ADR.
func newSummary(code string, ts int64) *MatchSummary {
	s := &MatchSummary{
		Sharecode: code,
		Timestamp: ts,
		MapName:   "de_inferno",
		MType:     models.MTypeCompetitive,
		ADR:       map[string]float64{},
	}
	s.Summary.MatchDuration = 1800
	s.Summary.TeamScores = [2]int{13, 7}
	for i := 0; i < 10; i++ {
		s.SteamIDs = append(s.SteamIDs, sid(i+1))
		s.Summary.EnemyKills = append(s.Summary.EnemyKills, 10)
		s.Summary.EnemyHeadshots = append(s.Summary.EnemyHeadshots, 4)
		s.Summary.Assists = append(s.Summary.Assists, 2)
		s.Summary.Deaths = append(s.Summary.Deaths, 10)
		s.Summary.Scores = append(s.Summary.Scores, 20)
		s.Summary.MVPs = append(s.Summary.MVPs, 1)
		s.ADR[sidStr(i+1)] = 80
	}
	return s
}

// addKills appends n enemy kills of player killer (team 1) in round.
func addKills(s *MatchSummary, killer, round, n int, weapon string) {
	for i := 0; i < n; i++ {
		r := round
		attacker := sidStr(killer)
		s.Kills = append(s.Kills, DemoKill{
			Round:           &r,
			AttackerSteamID: &attacker,
			AttackerTeam:    "CT",
			VictimSteamID:   sidStr(6 + i%5),
			VictimTeam:      "TERRORIST",
			Weapon:          weapon,
		})
	}
}

func (f *fixture) ingest(t *testing.T, s *MatchSummary) *models.Match {
	t.Helper()
	m, err := f.matches.FromSummary(context.Background(), s)
	if err != nil {
		t.Fatalf("FromSummary(%s): %v", s.Sharecode, err)
	}
	return m
}

func (f *fixture) participation(t *testing.T, m *models.Match, n int) *models.Participation {
	t.Helper()
	var p models.Participation
	if err := f.db.Where("match_id = ? AND steam_id = ?", m.ID, sidStr(n)).First(&p).Error; err != nil {
		t.Fatalf("participation of %d: %v", n, err)
	}
	return &p
}

func (f *fixture) badgesOf(t *testing.T, participationID, slug string) []models.Badge {
	t.Helper()
	var out []models.Badge
	if err := f.db.Where("participation_id = ? AND badge_type_slug = ?", participationID, slug).Find(&out).Error; err != nil {
		t.Fatalf("load badges: %v", err)
	}
	return out
}
