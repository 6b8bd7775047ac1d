package services

import (
	"testing"
	"time"

	"squad-stats/models"
)

func (f *fixture) sessionsOf(t *testing.T, squad *models.Squad) []models.GamingSession {
	t.Helper()
	var out []models.GamingSession
	if err := f.db.Where("squad_id = ?", squad.ID).Order("started_at ASC").Find(&out).Error; err != nil {
		t.Fatalf("load sessions: %v", err)
	}
	return out
}

func TestSessionContinuesAfterShortBreak(t *testing.T) {
	f := newFixture(t)
	squad := f.addSquad(t, 1)

	f.ingest(t, newSummary("CSGO-sess1", 1000))
	f.ingest(t, newSummary("CSGO-sess2", 1000+1800+10))

	sessions := f.sessionsOf(t, squad)
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", len(sessions))
	}
	if sessions[0].IsClosed {
		t.Error("session closed")
	}
}

func TestSessionSplitsAfterLongBreak(t *testing.T) {
	f := newFixture(t)
	squad := f.addSquad(t, 1)

	f.ingest(t, newSummary("CSGO-sess1", 10))
	f.ingest(t, newSummary("CSGO-sess2", 10+3*3600))

	sessions := f.sessionsOf(t, squad)
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(sessions))
	}
	if !sessions[0].IsClosed || sessions[1].IsClosed {
		t.Errorf("closed flags = %v, %v; want true, false", sessions[0].IsClosed, sessions[1].IsClosed)
	}
	f.db.First(squad, "id = ?", squad.ID)
	if squad.LastSessionID == nil || *squad.LastSessionID != sessions[1].ID {
		t.Errorf("last session pointer = %v, want %s", squad.LastSessionID, sessions[1].ID)
	}
	if n := f.notifier.count("Looks like your session has ended!"); n != 1 {
		t.Errorf("got %d session summaries, want 1", n)
	}
}

func TestSessionSpan(t *testing.T) {
	f := newFixture(t)
	squad := f.addSquad(t, 1)

	f.ingest(t, newSummary("CSGO-sess1", 10))
	f.ingest(t, newSummary("CSGO-sess2", 3600))

	sessions := f.sessionsOf(t, squad)
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", len(sessions))
	}
	s := sessions[0]
	if *s.StartedAt != 10 || *s.LastMatchAt != 3600 || *s.EndedAt != 5400 {
		t.Errorf("span = [%d, %d], last match %d; want [10, 5400], 3600", *s.StartedAt, *s.EndedAt, *s.LastMatchAt)
	}
}

func TestSessionDropsOutOfOrderMatch(t *testing.T) {
	f := newFixture(t)
	squad := f.addSquad(t, 1)

	f.ingest(t, newSummary("CSGO-sess1", 5000))
	late := f.ingest(t, newSummary("CSGO-sess0", 100))

	var links int64
	f.db.Model(&models.SessionMatch{}).Where("match_id = ?", late.ID).Count(&links)
	if links != 0 {
		t.Errorf("out-of-order match attached to %d session(s)", links)
	}
	if sessions := f.sessionsOf(t, squad); len(sessions) != 1 || *sessions[0].StartedAt != 5000 {
		t.Errorf("sessions = %+v", sessions)
	}
}

func TestSessionRepairClosesStaleOpenSessions(t *testing.T) {
	f := newFixture(t)
	squad := f.addSquad(t, 1)

	f.ingest(t, newSummary("CSGO-late", 100000))
	latest := f.sessionsOf(t, squad)[0].ID
	if _, err := f.sessions.CloseByID(latest); err != nil {
		t.Fatalf("CloseByID: %v", err)
	}
	f.ingest(t, newSummary("CSGO-early1", 10))
	f.ingest(t, newSummary("CSGO-early2", 4000))

	sessions := f.sessionsOf(t, squad)
	if len(sessions) != 3 {
		t.Fatalf("got %d sessions, want 3", len(sessions))
	}
	for i, start := range []int64{10, 4000, 100000} {
		if *sessions[i].StartedAt != start || !sessions[i].IsClosed {
			t.Errorf("session %d: start = %d, closed = %v; want %d, true",
				i, *sessions[i].StartedAt, sessions[i].IsClosed, start)
		}
	}
	f.db.First(squad, "id = ?", squad.ID)
	if squad.LastSessionID == nil || *squad.LastSessionID != latest {
		t.Errorf("last session pointer = %v, want %s", squad.LastSessionID, latest)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	f := newFixture(t)
	squad := f.addSquad(t, 1)
	f.ingest(t, newSummary("CSGO-sess1", 1000))

	id := f.sessionsOf(t, squad)[0].ID
	for i := 0; i < 2; i++ {
		if _, err := f.sessions.CloseByID(id); err != nil {
			t.Fatalf("CloseByID: %v", err)
		}
	}
	if n := f.notifier.count("Looks like your session has ended!"); n != 1 {
		t.Errorf("got %d session summaries, want 1", n)
	}
	if _, err := f.sessions.CloseByID("00000000-0000-0000-0000-000000000000"); err != ErrSessionNotFound {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestRisingStar(t *testing.T) {
	f := newFixture(t)
	squad := f.addSquad(t, 1, 2)
	f.setBaseline(t, 1, 1.0)
	f.setBaseline(t, 2, 1.0)

	s := newSummary("CSGO-star1", 1000)
	s.Summary.EnemyKills[0] = 20
	s.ADR[sidStr(1)] = 100
	s.ADR[sidStr(2)] = 100
	m := f.ingest(t, s)

	session, err := f.sessions.CloseByID(f.sessionsOf(t, squad)[0].ID)
	if err != nil {
		t.Fatalf("CloseByID: %v", err)
	}
	if session.RisingStarID == nil || *session.RisingStarID != sidStr(1) {
		t.Fatalf("rising star = %v, want %s", session.RisingStarID, sidStr(1))
	}
	if len(f.badgesOf(t, f.participation(t, m, 1).ID, models.BadgeRisingStar)) != 1 {
		t.Error("rising-star badge not awarded")
	}
	if f.notifier.count("**rising star**") != 1 {
		t.Error("rising star not announced")
	}
	if f.notifier.count("📈 +41.4%") != 1 {
		t.Errorf("performance summary missing trend: %v", f.notifier.texts)
	}
}

func TestNoRisingStarForSinglePlayer(t *testing.T) {
	f := newFixture(t)
	squad := f.addSquad(t, 1)
	f.setBaseline(t, 1, 0.5)
	f.ingest(t, newSummary("CSGO-star1", 1000))

	session, err := f.sessions.CloseByID(f.sessionsOf(t, squad)[0].ID)
	if err != nil {
		t.Fatalf("CloseByID: %v", err)
	}
	if session.RisingStarID != nil {
		t.Errorf("rising star = %s, want none", *session.RisingStarID)
	}
}

func TestCloseIdle(t *testing.T) {
	tests := []struct {
		name      string
		completed int64
		want      bool
	}{
		{"break", 1000 + 1800 + 7200, true},
		{"still playing", 1000 + 1800 + 600, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			squad := f.addSquad(t, 1)
			f.ingest(t, newSummary("CSGO-idle1", 1000))

			done := time.Unix(tt.completed, 0)
			task := &models.UpdateTask{AccountID: sidStr(1), ScheduledAt: done, CompletedAt: &done}
			if err := f.db.Create(task).Error; err != nil {
				t.Fatalf("create task: %v", err)
			}
			if err := f.sessions.CloseIdle(sidStr(1)); err != nil {
				t.Fatalf("CloseIdle: %v", err)
			}
			if got := f.sessionsOf(t, squad)[0].IsClosed; got != tt.want {
				t.Errorf("closed = %v, want %v", got, tt.want)
			}
		})
	}
}
