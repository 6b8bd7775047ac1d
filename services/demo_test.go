package services

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"squad-stats/models"
)

func strPtr(s string) *string { return &s }

func TestApplyDemo(t *testing.T) {
	s := newSummary("CSGO-demo1", 1000)
	s.ADR = nil
	demo := &Demo{
		Kills: []DemoKill{{AttackerSteamID: strPtr(sidStr(1)), VictimSteamID: sidStr(6), Weapon: "ak47"}},
		Damages: []DemoDamage{
			{AttackerSteamID: strPtr(sidStr(1)), HealthDamage: 1000},
			{AttackerSteamID: strPtr(sidStr(1)), HealthDamage: 1000},
			{AttackerSteamID: nil, HealthDamage: 50},
		},
		RankUpdates: []DemoRankUpdate{
			{SteamID: sidStr(1), RankTypeID: 11, RankOld: 0, RankNew: 15000},
			{SteamID: sidStr(2), RankTypeID: 11, RankOld: 14000, RankNew: 14100},
		},
	}
	demo.Header.MapName = "de_ancient"

	ApplyDemo(s, demo)

	if s.MapName != "de_ancient" || len(s.Kills) != 1 {
		t.Errorf("map %q, %d kills", s.MapName, len(s.Kills))
	}
	if s.Damage[sidStr(1)] != 2000 || s.ADR[sidStr(1)] != 100 {
		t.Errorf("player 1: damage %d adr %v, want 2000 and 100", s.Damage[sidStr(1)], s.ADR[sidStr(1)])
	}
	if s.ADR[sidStr(2)] != 0 {
		t.Errorf("player 2 adr = %v, want 0", s.ADR[sidStr(2)])
	}
	if s.MType != models.MTypePremier {
		t.Errorf("type = %q, want premier", s.MType)
	}
	if r := s.Ranks[sidStr(1)]; r.Old != nil || r.New == nil || *r.New != 15000 {
		t.Errorf("rank of player 1 = %+v", r)
	}
}

func TestApplyDemoWithoutRankUpdates(t *testing.T) {
	s := newSummary("CSGO-demo1", 1000)
	ApplyDemo(s, &Demo{})
	if s.MType != models.MTypeUnknown || len(s.Ranks) != 0 {
		t.Errorf("type %q, ranks %v", s.MType, s.Ranks)
	}
}

type flakyParser struct {
	fails int
	calls int
}

func (p *flakyParser) Parse(ctx context.Context, path string) (*Demo, error) {
	p.calls++
	if p.calls <= p.fails {
		return nil, errors.New("parser crashed")
	}
	demo := &Demo{}
	demo.Header.MapName = "de_mirage"
	return demo, nil
}

func newTestEnricher(parser DemoParser, fetcher *DemoFetcher) (*Enricher, *[]time.Duration) {
	e := NewEnricher(parser, fetcher)
	var waits []time.Duration
	e.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	return e, &waits
}

func localDemo(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "match.dem")
	if err := os.WriteFile(path, []byte("demo"), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestEnricherRetriesWithLinearBackoff(t *testing.T) {
	parser := &flakyParser{fails: 2}
	e, waits := newTestEnricher(parser, &DemoFetcher{})

	s := newSummary("CSGO-demo1", 1000)
	s.Summary.Map = localDemo(t)
	if err := e.Enrich(context.Background(), s); err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if s.MapName != "de_mirage" {
		t.Errorf("map = %q", s.MapName)
	}
	want := []time.Duration{0, 10 * time.Second, 20 * time.Second}
	if len(*waits) != len(want) {
		t.Fatalf("waits = %v, want %v", *waits, want)
	}
	for i := range want {
		if (*waits)[i] != want[i] {
			t.Errorf("wait %d = %v, want %v", i, (*waits)[i], want[i])
		}
	}
}

func TestEnricherGivesUp(t *testing.T) {
	parser := &flakyParser{fails: 100}
	e, waits := newTestEnricher(parser, &DemoFetcher{})

	s := newSummary("CSGO-demo1", 1000)
	s.Summary.Map = localDemo(t)
	err := e.Enrich(context.Background(), s)

	var demoErr *InvalidDemoError
	if !errors.As(err, &demoErr) || demoErr.Sharecode != "CSGO-demo1" || demoErr.URL != s.Summary.Map {
		t.Fatalf("err = %v, want InvalidDemoError", err)
	}
	if parser.calls != 4 || len(*waits) != 4 || (*waits)[3] != 30*time.Second {
		t.Errorf("%d attempts, waits %v", parser.calls, *waits)
	}
}

type memoryStore struct {
	keys []string
}

func (m *memoryStore) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	m.keys = append(m.keys, key)
	return "https://cdn.example.com/" + key, nil
}

func TestDemoFetcherArchivesDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// not a bzip2 stream
		w.Write(bytes.Repeat([]byte("x"), 64))
	}))
	defer srv.Close()

	store := &memoryStore{}
	f := &DemoFetcher{Client: srv.Client(), Archive: store}
	if _, _, err := f.Fetch(context.Background(), "CSGO-demo1", srv.URL+"/match.dem.bz2"); err == nil {
		t.Error("garbage archive decompressed")
	}
	if len(store.keys) != 1 || store.keys[0] != "demos/CSGO-demo1.dem.bz2" {
		t.Errorf("archived keys = %v", store.keys)
	}
}

func TestDemoFetcherFailedDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	store := &memoryStore{}
	f := &DemoFetcher{Client: srv.Client(), Archive: store}
	if _, _, err := f.Fetch(context.Background(), "CSGO-demo1", srv.URL+"/match.dem.bz2"); err == nil {
		t.Error("missing demo fetched")
	}
	if len(store.keys) != 0 {
		t.Errorf("archived %v", store.keys)
	}
}

func TestDemoFetcherLocalFile(t *testing.T) {
	path := localDemo(t)
	got, cleanup, err := (&DemoFetcher{}).Fetch(context.Background(), "CSGO-demo1", path)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	cleanup()
	if got != path {
		t.Errorf("path = %q, want %q", got, path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("local demo removed by cleanup: %v", err)
	}
}
