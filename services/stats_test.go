package services

import (
	"math"
	"testing"
	"time"

	"squad-stats/models"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestComputeFeatures(t *testing.T) {
	rank := 15000
	ps := []models.Participation{
		{Kills: 20, Deaths: 10, Assists: 5, Headshots: 10, ADR: 100,
			Match: &models.Match{Timestamp: 100, MType: models.MTypePremier}, NewRank: &rank},
		{Kills: 0, Deaths: 0, Assists: 1, ADR: 50, Match: &models.Match{Timestamp: 200, MType: models.MTypeCompetitive}},
	}

	got := ComputeFeatures(ps, 1, ps)

	checks := []struct {
		id   models.FeatureID
		want float64
	}{
		{models.FeatureKillsPerDeath, 1},
		{models.FeatureDamagePerRound, 75},
		{models.FeatureAssistsPerDeath, 0.75},
		{models.FeatureHeadshotRate, 0.5},
		{models.FeaturePlayerValue, math.Sqrt(2) / 2},
		{models.FeaturePeachRate, 0.5},
		{models.FeaturePremierRank, 15},
	}
	for _, c := range checks {
		v, ok := got.Get(c.id)
		if !ok || !approx(v, c.want) {
			t.Errorf("%s = %v (%v), want %v", c.id, v, ok, c.want)
		}
	}
	if v, ok := got.Get(models.FeatureParticipation); ok {
		t.Errorf("participation effect without squad matches = %v, want nil", v)
	}
}

func TestParticipationEffect(t *testing.T) {
	mine := []models.Participation{
		{MatchID: "m1", Result: models.ResultWin},
		{MatchID: "m2", Result: models.ResultWin},
		{MatchID: "m3", Result: models.ResultLoss},
		{MatchID: "m4", Result: models.ResultTie},
	}
	others := []models.Participation{
		{MatchID: "m5", Result: models.ResultLoss},
		{MatchID: "m6", Result: models.ResultWin},
		{MatchID: "m6", Result: models.ResultWin}, // two members in one match count once
		{MatchID: "m7", Result: models.ResultLoss},
		{MatchID: "m8", Result: models.ResultTie},
	}
	universe := append(append([]models.Participation{}, mine...), others...)

	tests := []struct {
		name     string
		ps       []models.Participation
		universe []models.Participation
		want     *float64
	}{
		// with: 2/3 wins, without: 1/3 wins
		{"effect", mine, universe, ptr((1 + 2.0/3 - 1.0/3) / 2)},
		{"too few matches without the player", mine, append(append([]models.Participation{}, mine...), others[:1]...), nil},
		{"too few decided matches", mine[2:], universe, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParticipationEffect(tt.ps, tt.universe)
			switch {
			case tt.want == nil && got != nil:
				t.Errorf("effect = %v, want nil", *got)
			case tt.want != nil && (got == nil || !approx(*got, *tt.want)):
				t.Errorf("effect = %v, want %v", got, *tt.want)
			}
		})
	}
}

func ptr(v float64) *float64 {
	return &v
}

func TestComputeFeaturesEmpty(t *testing.T) {
	got := ComputeFeatures(nil, 0, nil)
	if len(got) != len(models.Features) {
		t.Fatalf("got %d features, want %d", len(got), len(models.Features))
	}
	for id, v := range got {
		if v != nil {
			t.Errorf("%s = %v, want nil", id, *v)
		}
	}
}

func TestRefreshSquad(t *testing.T) {
	f := newFixture(t)
	squad := f.addSquad(t, 1, 2, 11)

	now := time.Unix(10*24*3600, 0)
	s := newSummary("CSGO-stat1", now.Add(-24*time.Hour).Unix())
	s.Summary.EnemyKills[1] = 20
	f.ingest(t, s)
	// outside the window
	old := newSummary("CSGO-stat0", now.Add(-40*24*time.Hour).Unix())
	old.Summary.EnemyKills[0] = 40
	f.ingest(t, old)

	stats := NewStatsService(f.db)
	stats.now = func() time.Time { return now }
	for i := 0; i < 2; i++ {
		if err := stats.RefreshSquad(squad.ID); err != nil {
			t.Fatalf("RefreshSquad: %v", err)
		}
	}

	var members []models.SquadMembership
	f.db.Where("squad_id = ?", squad.ID).Order("steam_id").Find(&members)
	if len(members) != 3 {
		t.Fatalf("got %d members", len(members))
	}
	positions := map[string]*int{}
	for i := range members {
		positions[members[i].SteamID] = members[i].Position
	}
	if p := positions[sidStr(2)]; p == nil || *p != 1 {
		t.Errorf("position of player 2 = %v, want 1", p)
	}
	if p := positions[sidStr(1)]; p == nil || *p != 2 {
		t.Errorf("position of player 1 = %v, want 2", p)
	}
	if p := positions[sidStr(11)]; p != nil {
		t.Errorf("player without matches ranked %d", *p)
	}

	kd, ok := members[0].Stat(models.FeatureKillsPerDeath)
	if !ok || kd != 1 {
		t.Errorf("k/d of player 1 = %v (%v), want 1", kd, ok)
	}
	if trend, ok := members[0].Trend(models.FeaturePlayerValue); !ok || trend != 0 {
		t.Errorf("trend of player 1 = %v (%v), want 0", trend, ok)
	}
	if members[0].LastRefreshAt == nil {
		t.Error("last refresh not set")
	}
}
