package services

import (
	"context"
	"errors"
	"iter"
	"log"
	"time"

	"squad-stats/models"
)

// SharecodeSource walks a player's match history.
type SharecodeSource interface {
	FetchSharecodes(ctx context.Context, first string, user SteamUser) iter.Seq2[string, error]
}

// DetailsFetcher enriches a summary with demo data.
type DetailsFetcher interface {
	FetchMatchDetails(ctx context.Context, s *MatchSummary) (*MatchSummary, error)
}

// MatchClient resolves sharecodes into matches.
type MatchClient struct {
	API         SharecodeSource
	Coordinator Coordinator
	Details     DetailsFetcher
	WaitTimeout time.Duration
}

func NewMatchClient(api SharecodeSource, gc Coordinator, details DetailsFetcher) *MatchClient {
	return &MatchClient{API: api, Coordinator: gc, Details: details, WaitTimeout: 10 * time.Second}
}

// FetchMatches returns the matches following first in the user's history, in
// history order. Codes matching a recently ingested match are returned as that
// match without any network call. With skipFirst, first itself is left out.
func (c *MatchClient) FetchMatches(ctx context.Context, first string, user SteamUser, recent []models.Match, skipFirst bool) ([]FetchedMatch, error) {
	log.Printf("🔎 [CLIENT] Fetching sharecodes (for Steam ID: %s)", user.SteamID)
	var codes []string
	for code, err := range c.API.FetchSharecodes(ctx, first, user) {
		if err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	if skipFirst && len(codes) > 0 {
		codes = codes[1:]
	}

	byCode := make(map[string]*models.Match, len(recent))
	for i := range recent {
		byCode[recent[i].Sharecode] = &recent[i]
	}

	var out []FetchedMatch
	for _, code := range codes {
		if m, ok := byCode[code]; ok {
			out = append(out, FetchedMatch{Sharecode: code, Match: m})
			continue
		}

		info, err := ResolveSharecode(ctx, c.Coordinator, code, c.WaitTimeout)
		if err != nil {
			return nil, err
		}
		summary := NewMatchSummary(code, info)
		if summary.IsWingman() {
			log.Printf("[CLIENT] Skipping wingman match %s", code)
			continue
		}

		enriched, err := c.Details.FetchMatchDetails(ctx, summary)
		if err != nil {
			var demoErr *InvalidDemoError
			if errors.As(err, &demoErr) {
				out = append(out, FetchedMatch{Sharecode: code, Summary: summary, DemoErr: err})
				continue
			}
			return nil, err
		}
		out = append(out, FetchedMatch{Sharecode: code, Summary: enriched})
	}
	log.Printf("✅ [CLIENT] All matches fetched (%d)", len(out))
	return out, nil
}
