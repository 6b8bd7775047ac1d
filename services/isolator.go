package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
)

// FetchDetailsCommand is the sub-command under which the binary runs the isolated demo step.
const FetchDetailsCommand = "fetch-details"

// Error kinds carried by the envelope.
const (
	envelopeInvalidDemo = "invalid_demo"
	envelopeClient      = "client"
)

// Envelope is the message the child writes back to the parent.
type Envelope struct {
	OK     bool           `json:"ok"`
	Result *MatchSummary  `json:"result,omitempty"`
	Error  *EnvelopeError `json:"error,omitempty"`
}

type EnvelopeError struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Sharecode string `json:"sharecode,omitempty"`
	URL       string `json:"url,omitempty"`
}

func (e *EnvelopeError) cause() error {
	if e.Kind == envelopeInvalidDemo {
		return &InvalidDemoError{Sharecode: e.Sharecode, URL: e.URL, Err: errors.New(e.Message)}
	}
	return errors.New(e.Message)
}

// Isolator runs demo enrichment in a child process, since the parser keeps
// memory across repeated in-process runs.
type Isolator struct {
	Path string   // binary to run, usually os.Executable()
	Args []string // arguments placed before the sub-command
	Env  []string // extra environment
}

func NewIsolator() (*Isolator, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate executable: %w", err)
	}
	return &Isolator{Path: exe}, nil
}

// FetchMatchDetails returns the enriched copy of s. A failing child surfaces as
// *ClientError wrapping the propagated cause.
func (iso *Isolator) FetchMatchDetails(ctx context.Context, s *MatchSummary) (*MatchSummary, error) {
	dir, err := os.MkdirTemp("", "fetch-details-*")
	if err != nil {
		return nil, &ClientError{Op: FetchDetailsCommand, Err: err}
	}
	defer os.RemoveAll(dir)

	in, out := filepath.Join(dir, "in.json"), filepath.Join(dir, "out.json")
	data, err := json.Marshal(s)
	if err != nil {
		return nil, &ClientError{Op: FetchDetailsCommand, Err: err}
	}
	if err := os.WriteFile(in, data, 0o600); err != nil {
		return nil, &ClientError{Op: FetchDetailsCommand, Err: err}
	}

	args := append(append([]string{}, iso.Args...), FetchDetailsCommand, in, out)
	cmd := exec.CommandContext(ctx, iso.Path, args...)
	cmd.Env = append(os.Environ(), iso.Env...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	runErr := cmd.Run()
	log.Printf("[ISOLATOR] %s subprocess finished for %s (exit code %d)",
		FetchDetailsCommand, s.Sharecode, cmd.ProcessState.ExitCode())

	env, readErr := readEnvelope(out)
	if runErr != nil {
		cause := runErr
		if readErr == nil && env.Error != nil {
			cause = env.Error.cause()
		}
		return nil, &ClientError{Op: FetchDetailsCommand, Err: cause}
	}
	if readErr != nil {
		return nil, &ClientError{Op: FetchDetailsCommand, Err: readErr}
	}
	if !env.OK || env.Result == nil {
		return nil, &ClientError{Op: FetchDetailsCommand, Err: errors.New("child reported no result")}
	}
	return env.Result, nil
}

func readEnvelope(path string) (*Envelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed result envelope: %w", err)
	}
	return &env, nil
}

// SummaryEnricher is the work done inside the child.
type SummaryEnricher interface {
	Enrich(ctx context.Context, s *MatchSummary) error
}

// RunDetailsChild is the child side: it reads the summary from in, enriches it,
// writes the envelope to out and returns the process exit code.
func RunDetailsChild(ctx context.Context, in, out string, enricher SummaryEnricher) int {
	env := runDetails(ctx, in, enricher)
	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("❌ [ISOLATOR] CRITICAL: failed to encode result: %v", err)
		return 2
	}
	if err := os.WriteFile(out, data, 0o600); err != nil {
		log.Printf("❌ [ISOLATOR] CRITICAL: failed to write result: %v", err)
		return 2
	}
	if !env.OK {
		return 1
	}
	return 0
}

func runDetails(ctx context.Context, in string, enricher SummaryEnricher) Envelope {
	data, err := os.ReadFile(in)
	if err != nil {
		return failure(err)
	}
	var s MatchSummary
	if err := json.Unmarshal(data, &s); err != nil {
		return failure(err)
	}
	if err := enricher.Enrich(ctx, &s); err != nil {
		log.Printf("❌ [ISOLATOR] An error occurred while fetching match details: %v", err)
		return failure(err)
	}
	return Envelope{OK: true, Result: &s}
}

func failure(err error) Envelope {
	e := &EnvelopeError{Kind: envelopeClient, Message: err.Error()}
	var demoErr *InvalidDemoError
	if errors.As(err, &demoErr) {
		e.Kind = envelopeInvalidDemo
		e.Sharecode = demoErr.Sharecode
		e.URL = demoErr.URL
	}
	return Envelope{Error: e}
}
