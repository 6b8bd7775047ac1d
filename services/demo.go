package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"squad-stats/models"
	"squad-stats/utils"
)

const maxDemoSize = 1 << 30

// DemoKill is one kill event of a parsed demo.
type DemoKill struct {
	Round           *int    `json:"round"`
	AttackerSteamID *string `json:"attacker_steamid"`
	AttackerTeam    string  `json:"attacker_side"`
	VictimSteamID   string  `json:"victim_steamid"`
	VictimTeam      string  `json:"victim_side"`
	Weapon          string  `json:"weapon"`
	BombPlanted     bool    `json:"is_bomb_planted"`

	AttackerX float64 `json:"attacker_X"`
	AttackerY float64 `json:"attacker_Y"`
	AttackerZ float64 `json:"attacker_Z"`
	VictimX   float64 `json:"victim_X"`
	VictimY   float64 `json:"victim_Y"`
	VictimZ   float64 `json:"victim_Z"`
}

// DemoDamage is one damage event of a parsed demo.
type DemoDamage struct {
	AttackerSteamID *string `json:"attacker_steamid"`
	AttackerTeam    string  `json:"attacker_side"`
	VictimTeam      string  `json:"victim_side"`
	HealthDamage    int     `json:"dmg_health_real"`
}

// DemoRankUpdate is one rank-update event of a parsed demo. Rank 0 means unranked.
type DemoRankUpdate struct {
	SteamID    string `json:"user_steamid"`
	RankTypeID int    `json:"rank_type_id"`
	RankOld    int    `json:"rank_old"`
	RankNew    int    `json:"rank_new"`
}

// Demo is the subset of a parsed replay file the service consumes.
type Demo struct {
	Header struct {
		MapName string `json:"map_name"`
	} `json:"header"`
	Kills       []DemoKill       `json:"kills"`
	Damages     []DemoDamage     `json:"damages"`
	RankUpdates []DemoRankUpdate `json:"rank_updates"`
}

// DemoParser turns a demo file into events.
type DemoParser interface {
	Parse(ctx context.Context, path string) (*Demo, error)
}

// ExecParser runs an external parser binary that prints the demo as JSON.
type ExecParser struct {
	Bin  string
	Args []string
}

func (p *ExecParser) Parse(ctx context.Context, path string) (*Demo, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.Bin, append(append([]string{}, p.Args...), path)...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("demo parser failed on %s: %w (%s)", path, err, strings.TrimSpace(stderr.String()))
	}

	var demo Demo
	if err := json.Unmarshal(stdout.Bytes(), &demo); err != nil {
		return nil, fmt.Errorf("failed to decode parser output for %s: %w", path, err)
	}
	return &demo, nil
}

// ObjectStore archives files and returns their public URL.
type ObjectStore interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// DemoFetcher resolves a demo location to a local, uncompressed file.
type DemoFetcher struct {
	Client  *http.Client
	Archive ObjectStore // optional
}

// Fetch returns the local path of the demo and a cleanup func.
func (f *DemoFetcher) Fetch(ctx context.Context, sharecode, location string) (string, func(), error) {
	if !strings.HasPrefix(location, "http://") && !strings.HasPrefix(location, "https://") {
		path, isTemp, err := utils.LocalDemo(location)
		if err != nil {
			return "", nil, err
		}
		cleanup := func() {}
		if isTemp {
			cleanup = func() { utils.RemoveQuietly(path) }
		}
		return path, cleanup, nil
	}

	log.Printf("📥 [DEMO] Downloading demo: %s", location)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return "", nil, err
	}
	client := f.Client
	if client == nil {
		client = utils.HTTPClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("demo download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("demo download returned %d", resp.StatusCode)
	}
	archive, err := utils.ReadAllLimited(resp.Body, maxDemoSize)
	if err != nil {
		return "", nil, fmt.Errorf("demo download failed: %w", err)
	}

	if f.Archive != nil {
		key := fmt.Sprintf("demos/%s.dem.bz2", sharecode)
		if url, err := f.Archive.Upload(ctx, key, archive, "application/x-bzip2"); err != nil {
			log.Printf("⚠️ [DEMO] Failed to archive demo of %s: %v", sharecode, err)
		} else {
			log.Printf("🗄️ [DEMO] Archived demo of %s at %s", sharecode, url)
		}
	}

	path, err := utils.DecompressBz2(archive)
	if err != nil {
		return "", nil, err
	}
	return path, func() { utils.RemoveQuietly(path) }, nil
}

// Enricher adds demo-derived data to match summaries.
type Enricher struct {
	Parser      DemoParser
	Fetcher     *DemoFetcher
	MaxAttempts int
	RetryDelay  time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

func NewEnricher(parser DemoParser, fetcher *DemoFetcher) *Enricher {
	return &Enricher{
		Parser:      parser,
		Fetcher:     fetcher,
		MaxAttempts: 4,
		RetryDelay:  10 * time.Second,
		sleep:       sleepContext,
	}
}

func (e *Enricher) load(ctx context.Context, s *MatchSummary) (*Demo, error) {
	path, cleanup, err := e.Fetcher.Fetch(ctx, s.Sharecode, s.DemoURL())
	if err != nil {
		return nil, err
	}
	defer cleanup()
	log.Printf("🔍 [DEMO] Parsing demo: %s", path)
	return e.Parser.Parse(ctx, path)
}

// Enrich fetches and parses the demo of s, retrying with a linear backoff, and
// fills in map, kills, damage, ADR, match type and ranks.
func (e *Enricher) Enrich(ctx context.Context, s *MatchSummary) error {
	var demo *Demo
	var lastErr error
	for attempt := 0; attempt < e.MaxAttempts; attempt++ {
		if err := e.sleep(ctx, time.Duration(attempt)*e.RetryDelay); err != nil {
			return err
		}
		demo, lastErr = e.load(ctx, s)
		if lastErr == nil {
			break
		}
		log.Printf("⚠️ [DEMO] Failed to fetch match details (attempt: %d / %d): %v", attempt+1, e.MaxAttempts, lastErr)
	}
	if lastErr != nil {
		return &InvalidDemoError{Sharecode: s.Sharecode, URL: s.DemoURL(), Err: lastErr}
	}

	ApplyDemo(s, demo)
	return nil
}

var rankTypes = map[int]string{
	6:  models.MTypeCompetitive,
	7:  models.MTypeWingman,
	10: models.MTypeDangerZone,
	11: models.MTypePremier,
}

// ApplyDemo derives the enriched fields of s from a parsed demo.
func ApplyDemo(s *MatchSummary, demo *Demo) {
	s.MapName = demo.Header.MapName
	s.Kills = demo.Kills

	dmg := make(map[string]int)
	for _, d := range demo.Damages {
		if d.AttackerSteamID == nil {
			continue
		}
		dmg[*d.AttackerSteamID] += d.HealthDamage
	}

	rounds := max(1, s.Rounds())
	s.Damage = make(map[string]int, len(s.SteamIDs))
	s.ADR = make(map[string]float64, len(s.SteamIDs))
	for _, id := range s.SteamIDs {
		key := strconv.FormatUint(id, 10)
		s.Damage[key] = dmg[key]
		s.ADR[key] = float64(dmg[key]) / float64(rounds)
	}

	s.MType = models.MTypeUnknown
	if len(demo.RankUpdates) > 0 {
		s.MType = rankTypes[demo.RankUpdates[0].RankTypeID]
	}
	s.Ranks = make(map[string]RankChange, len(demo.RankUpdates))
	for _, ru := range demo.RankUpdates {
		s.Ranks[ru.SteamID] = RankChange{Old: zeroToNil(ru.RankOld), New: zeroToNil(ru.RankNew)}
	}
}

func zeroToNil(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}
