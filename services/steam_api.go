package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log"
	"net/http"
	"net/url"
)

const defaultSteamAPIBase = "https://api.steampowered.com"

// SteamUser is the pair of credentials needed to walk a player's match history.
type SteamUser struct {
	SteamID   string
	SteamAuth string
}

// SteamProfile is the display data returned by the profile service.
type SteamProfile struct {
	Name    string `json:"personaname"`
	AvatarS string `json:"avatar"`
	AvatarM string `json:"avatarmedium"`
	AvatarL string `json:"avatarfull"`
}

// SteamAPI wraps the public web API. Every endpoint class uses its own limiter.
type SteamAPI struct {
	BaseURL string
	Key     string

	sharecodes *Ratelimiter
	profiles   *Ratelimiter
	authProbe  *Ratelimiter
}

func NewSteamAPI(key string, client *http.Client) *SteamAPI {
	return &SteamAPI{
		BaseURL:    defaultSteamAPIBase,
		Key:        key,
		sharecodes: NewRatelimiter("Steam API (sharecodes)", client),
		profiles:   NewRatelimiter("Steam API (profiles)", client),
		authProbe:  NewRatelimiter("Steam Auth Test", client).WithMaxTries(2),
	}
}

func (a *SteamAPI) nextCodeURL(user SteamUser, known string) string {
	q := url.Values{}
	q.Set("key", a.Key)
	q.Set("steamid", user.SteamID)
	q.Set("steamidkey", user.SteamAuth)
	q.Set("knowncode", known)
	return a.BaseURL + "/ICSGOPlayers_730/GetNextMatchSharingCode/v1?" + q.Encode()
}

// FetchSharecodes lazily walks the match history, starting with (and yielding) first.
// The walk stops when the service answers 202. A 412 on the first lookup yields an
// *InvalidSharecodeError; any other failure ends the sequence with that error.
func (a *SteamAPI) FetchSharecodes(ctx context.Context, first string, user SteamUser) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		code := first
		for code != "" {
			if !yield(code, nil) {
				return
			}

			resp, err := a.sharecodes.Request(ctx, a.nextCodeURL(user, code), http.StatusOK, http.StatusAccepted)
			if err != nil {
				var reqErr *RequestError
				if errors.As(err, &reqErr) && reqErr.StatusCode != nil &&
					*reqErr.StatusCode == http.StatusPreconditionFailed && code == first {
					yield("", &InvalidSharecodeError{SteamID: user.SteamID, Sharecode: code})
					return
				}
				yield("", err)
				return
			}

			next, err := decodeNextCode(resp)
			if err != nil {
				yield("", &ClientError{Op: "decode next sharecode", Err: err})
				return
			}
			code = next
		}
	}
}

func decodeNextCode(resp *http.Response) (string, error) {
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusAccepted {
		return "", nil
	}
	var body struct {
		Result struct {
			NextCode string `json:"nextcode"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	// the service answers "n/a" once no newer code exists yet
	if body.Result.NextCode == "n/a" {
		return "", nil
	}
	return body.Result.NextCode, nil
}

// TestAuth reports whether the credentials are able to query the history from code.
func (a *SteamAPI) TestAuth(ctx context.Context, code string, user SteamUser) bool {
	resp, err := a.authProbe.Request(ctx, a.nextCodeURL(user, code), http.StatusOK, http.StatusAccepted)
	if err != nil {
		log.Printf("⚠️ [STEAM] Auth probe failed for %s: %v", user.SteamID, err)
		return false
	}
	resp.Body.Close()
	return true
}

// FetchProfile returns the display data of a player.
func (a *SteamAPI) FetchProfile(ctx context.Context, steamID string) (*SteamProfile, error) {
	q := url.Values{}
	q.Set("key", a.Key)
	q.Set("steamids", steamID)
	resp, err := a.profiles.Request(ctx, a.BaseURL+"/ISteamUser/GetPlayerSummaries/v0002/?"+q.Encode())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body struct {
		Response struct {
			Players []SteamProfile `json:"players"`
		} `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode profile of %s: %w", steamID, err)
	}
	if len(body.Response.Players) == 0 {
		log.Printf("❌ [STEAM] CRITICAL: failed to fetch steam profile: %s", steamID)
		return nil, fmt.Errorf("no profile returned for %s", steamID)
	}
	return &body.Response.Players[0], nil
}
