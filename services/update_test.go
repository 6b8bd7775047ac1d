package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"squad-stats/models"
)

type fakeFetcher struct {
	fetched []FetchedMatch
	err     error

	calls     int
	first     string
	skipFirst bool
	recent    int
}

func (f *fakeFetcher) FetchMatches(ctx context.Context, first string, user SteamUser, recent []models.Match, skipFirst bool) ([]FetchedMatch, error) {
	f.calls++
	f.first, f.skipFirst, f.recent = first, skipFirst, len(recent)
	return f.fetched, f.err
}

type fakeProber struct {
	accept bool
	code   string
}

func (p *fakeProber) TestAuth(ctx context.Context, code string, user SteamUser) bool {
	p.code = code
	return p.accept
}

func (f *fixture) updateService(fetcher MatchFetcher, prober AuthProber) *UpdateService {
	return NewUpdateService(f.db, fetcher, prober, f.matches, f.badges, f.sessions)
}

func (f *fixture) newTask(t *testing.T, n int) *models.UpdateTask {
	t.Helper()
	task := &models.UpdateTask{AccountID: sidStr(n), ScheduledAt: time.Now()}
	if err := f.db.Create(task).Error; err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func (f *fixture) account(t *testing.T, n int) *models.Account {
	t.Helper()
	var a models.Account
	if err := f.db.First(&a, "steam_id = ?", sidStr(n)).Error; err != nil {
		t.Fatalf("load account: %v", err)
	}
	return &a
}

func (f *fixture) setCursor(t *testing.T, n int, code string) {
	t.Helper()
	if err := f.db.Model(&models.Account{}).Where("steam_id = ?", sidStr(n)).Update("last_sharecode", code).Error; err != nil {
		t.Fatalf("set cursor: %v", err)
	}
}

func (f *fixture) reloadTask(t *testing.T, task *models.UpdateTask) *models.UpdateTask {
	t.Helper()
	var out models.UpdateTask
	if err := f.db.First(&out, "id = ?", task.ID).Error; err != nil {
		t.Fatalf("load task: %v", err)
	}
	return &out
}

func TestRunTaskIngestsAndAdvancesCursor(t *testing.T) {
	f := newFixture(t)
	f.addSquad(t, 1)
	f.setCursor(t, 1, "CSGO-start")
	fetcher := &fakeFetcher{fetched: []FetchedMatch{
		{Sharecode: "CSGO-next1", Summary: newSummary("CSGO-next1", 1000)},
		{Sharecode: "CSGO-next2", Summary: newSummary("CSGO-next2", 5000)},
	}}
	updates := f.updateService(fetcher, nil)

	prior := []models.Match{{Sharecode: "CSGO-other"}}
	task := f.newTask(t, 1)
	recent, err := updates.RunTask(context.Background(), task, prior)
	if err != nil {
		t.Fatalf("RunTask: %v", err)
	}

	if fetcher.first != "CSGO-start" || !fetcher.skipFirst || fetcher.recent != 1 {
		t.Errorf("fetch called with %q skipFirst=%v recent=%d", fetcher.first, fetcher.skipFirst, fetcher.recent)
	}
	if len(recent) != 3 {
		t.Errorf("got %d recent matches, want 3", len(recent))
	}
	if got := f.account(t, 1).LastSharecode; got != "CSGO-next2" {
		t.Errorf("cursor = %q, want CSGO-next2", got)
	}
	var matches int64
	f.db.Model(&models.Match{}).Count(&matches)
	if matches != 2 {
		t.Errorf("got %d matches, want 2", matches)
	}
	stored := f.reloadTask(t, task)
	if stored.ExecutionAt == nil || stored.CompletedAt == nil {
		t.Errorf("task not completed: %+v", stored)
	}
}

func TestRunTaskStartsFromEarliestMatch(t *testing.T) {
	f := newFixture(t)
	f.addSquad(t, 1)
	f.ingest(t, newSummary("CSGO-late", 9000))
	f.ingest(t, newSummary("CSGO-early", 1000))
	fetcher := &fakeFetcher{}

	if _, err := f.updateService(fetcher, nil).RunTask(context.Background(), f.newTask(t, 1), nil); err != nil {
		t.Fatalf("RunTask: %v", err)
	}
	if fetcher.first != "CSGO-early" || fetcher.skipFirst {
		t.Errorf("fetch called with %q skipFirst=%v, want CSGO-early without skip", fetcher.first, fetcher.skipFirst)
	}
}

func TestRunTaskWithoutSharecode(t *testing.T) {
	f := newFixture(t)
	f.addSquad(t, 1)
	fetcher := &fakeFetcher{}

	task := f.newTask(t, 1)
	if _, err := f.updateService(fetcher, nil).RunTask(context.Background(), task, nil); err != nil {
		t.Fatalf("RunTask: %v", err)
	}
	if fetcher.calls != 0 {
		t.Error("fetched without a sharecode")
	}
	if f.reloadTask(t, task).CompletedAt == nil {
		t.Error("task not completed")
	}
}

func TestRunTaskDisablesAccountOnRefusedSharecode(t *testing.T) {
	f := newFixture(t)
	f.addSquad(t, 1)
	f.setCursor(t, 1, "CSGO-start")
	fetcher := &fakeFetcher{err: &InvalidSharecodeError{SteamID: sidStr(1), Sharecode: "CSGO-start"}}

	task := f.newTask(t, 1)
	if _, err := f.updateService(fetcher, nil).RunTask(context.Background(), task, nil); err != nil {
		t.Fatalf("RunTask: %v", err)
	}
	if f.account(t, 1).Enabled {
		t.Error("account still enabled")
	}
	if f.reloadTask(t, task).CompletedAt == nil {
		t.Error("task not completed")
	}

	// disabled accounts are skipped
	fetcher.calls = 0
	if _, err := f.updateService(fetcher, nil).RunTask(context.Background(), f.newTask(t, 1), nil); err != nil {
		t.Fatalf("RunTask: %v", err)
	}
	if fetcher.calls != 0 {
		t.Error("fetched for a disabled account")
	}
}

func TestRunTaskLeavesTaskIncompleteOnClientError(t *testing.T) {
	f := newFixture(t)
	f.addSquad(t, 1)
	f.setCursor(t, 1, "CSGO-start")
	fetcher := &fakeFetcher{err: &ClientError{Op: "request full match info", Err: ErrCoordinatorDisabled}}

	task := f.newTask(t, 1)
	_, err := f.updateService(fetcher, nil).RunTask(context.Background(), task, nil)
	if KindOf(err) != KindRetryable {
		t.Fatalf("err = %v (%s), want a retryable error", err, KindOf(err))
	}
	stored := f.reloadTask(t, task)
	if stored.ExecutionAt == nil || stored.CompletedAt != nil {
		t.Errorf("task = %+v, want executed but incomplete", stored)
	}
	if got := f.account(t, 1); !got.Enabled || got.LastSharecode != "CSGO-start" {
		t.Errorf("account = %+v", got)
	}
}

func TestRunTaskSkipsInvalidDemo(t *testing.T) {
	f := newFixture(t)
	f.addSquad(t, 1)
	f.setCursor(t, 1, "CSGO-start")
	fetcher := &fakeFetcher{fetched: []FetchedMatch{
		{Sharecode: "CSGO-bad", Summary: newSummary("CSGO-bad", 1000), DemoErr: &InvalidDemoError{Sharecode: "CSGO-bad"}},
	}}

	if _, err := f.updateService(fetcher, nil).RunTask(context.Background(), f.newTask(t, 1), nil); err != nil {
		t.Fatalf("RunTask: %v", err)
	}
	if got := f.account(t, 1).LastSharecode; got != "CSGO-bad" {
		t.Errorf("cursor = %q, want CSGO-bad", got)
	}
	var matches int64
	f.db.Model(&models.Match{}).Count(&matches)
	if matches != 0 {
		t.Errorf("got %d matches, want 0", matches)
	}
}

func TestRunTaskReusesRecentMatch(t *testing.T) {
	f := newFixture(t)
	f.addSquad(t, 1, 2)
	m := f.ingest(t, newSummary("CSGO-shared", 1000))
	f.setCursor(t, 2, "CSGO-start")
	fetcher := &fakeFetcher{fetched: []FetchedMatch{{Sharecode: "CSGO-shared", Match: m}}}

	recent, err := f.updateService(fetcher, nil).RunTask(context.Background(), f.newTask(t, 2), []models.Match{*m})
	if err != nil {
		t.Fatalf("RunTask: %v", err)
	}
	if len(recent) != 1 {
		t.Errorf("got %d recent matches, want 1", len(recent))
	}
	if got := f.account(t, 2).LastSharecode; got != "CSGO-shared" {
		t.Errorf("cursor = %q, want CSGO-shared", got)
	}
}

func TestRunTaskUnknownAccount(t *testing.T) {
	f := newFixture(t)
	task := f.newTask(t, 1)
	if _, err := f.updateService(&fakeFetcher{}, nil).RunTask(context.Background(), task, nil); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("err = %v, want ErrAccountNotFound", err)
	}
}

func TestPruneTasks(t *testing.T) {
	f := newFixture(t)
	base := time.Unix(1_700_000_000, 0)
	for i := 0; i < MaxTasks+5; i++ {
		task := &models.UpdateTask{AccountID: sidStr(1), ScheduledAt: base.Add(time.Duration(i) * time.Minute)}
		if err := f.db.Create(task).Error; err != nil {
			t.Fatalf("create task: %v", err)
		}
	}

	if err := f.updateService(nil, nil).PruneTasks(); err != nil {
		t.Fatalf("PruneTasks: %v", err)
	}

	var count int64
	f.db.Model(&models.UpdateTask{}).Count(&count)
	if count != MaxTasks {
		t.Fatalf("got %d tasks, want %d", count, MaxTasks)
	}
	var oldest models.UpdateTask
	f.db.Order("scheduled_at ASC").First(&oldest)
	if !oldest.ScheduledAt.Equal(base.Add(5 * time.Minute)) {
		t.Errorf("oldest kept task scheduled at %s", oldest.ScheduledAt)
	}
}

func TestEnableAccount(t *testing.T) {
	f := newFixture(t)
	f.addSquad(t, 1)
	f.setCursor(t, 1, "CSGO-start")
	f.db.Model(&models.Account{}).Where("steam_id = ?", sidStr(1)).Update("enabled", false)

	prober := &fakeProber{}
	updates := f.updateService(nil, prober)

	enabled, err := updates.EnableAccount(context.Background(), sidStr(1), "NEWA-UTHCO-DEXX")
	if err != nil || enabled {
		t.Fatalf("EnableAccount = %v, %v; want false, nil", enabled, err)
	}
	if f.account(t, 1).Enabled {
		t.Fatal("rejected account enabled")
	}

	prober.accept = true
	enabled, err = updates.EnableAccount(context.Background(), sidStr(1), "NEWA-UTHCO-DEXX")
	if err != nil || !enabled {
		t.Fatalf("EnableAccount = %v, %v; want true, nil", enabled, err)
	}
	a := f.account(t, 1)
	if !a.Enabled || a.SteamAuth != "NEWA-UTHCO-DEXX" {
		t.Errorf("account = %+v", a)
	}
	if prober.code != "CSGO-start" {
		t.Errorf("probed with %q, want the cursor", prober.code)
	}

	if _, err := updates.EnableAccount(context.Background(), sidStr(99), ""); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("err = %v, want ErrAccountNotFound", err)
	}
}
