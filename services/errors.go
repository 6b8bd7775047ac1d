package services

import (
	"errors"
	"fmt"
)

var (
	ErrAccountNotFound  = errors.New("account not found")
	ErrSquadNotFound    = errors.New("squad not found")
	ErrSessionNotFound  = errors.New("gaming session not found")
	ErrMatchNotFound    = errors.New("match not found")
	ErrNoMatches        = errors.New("no matches recorded")
	ErrBadgeTypeMissing = errors.New("badge type missing from catalog")
	ErrUnknownMode      = errors.New("unknown weekly challenge mode")
	ErrInvalidSharecode = errors.New("malformed sharecode")
)

// RequestError is returned by the rate limiter. StatusCode is nil when the
// attempts were exhausted without a usable response.
type RequestError struct {
	URL        string
	StatusCode *int
}

func (e *RequestError) Error() string {
	if e.StatusCode == nil {
		return fmt.Sprintf("request to %s failed: attempts exhausted", e.URL)
	}
	return fmt.Sprintf("request to %s failed with status %d", e.URL, *e.StatusCode)
}

// ClientError is a generic transport or worker-process fault.
type ClientError struct {
	Op  string
	Err error
}

func (e *ClientError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("client error during %s", e.Op)
	}
	return fmt.Sprintf("client error during %s: %v", e.Op, e.Err)
}

func (e *ClientError) Unwrap() error { return e.Err }

// InvalidSharecodeError is raised when the first sharecode of a walk is refused for the account.
type InvalidSharecodeError struct {
	SteamID   string
	Sharecode string
}

func (e *InvalidSharecodeError) Error() string {
	return fmt.Sprintf("sharecode %s refused for steam id %s", e.Sharecode, e.SteamID)
}

// InvalidDemoError is raised when a demo could not be fetched or parsed after all attempts.
type InvalidDemoError struct {
	Sharecode string
	URL       string
	Err       error
}

func (e *InvalidDemoError) Error() string {
	return fmt.Sprintf("invalid demo for %s (%s)", e.Sharecode, e.URL)
}

func (e *InvalidDemoError) Unwrap() error { return e.Err }

// ErrorKind tells the task boundary what to do with a failure.
type ErrorKind int

const (
	KindNone      ErrorKind = iota
	KindTerminal            // disable the account
	KindSkip                // give up on one match, advance the cursor
	KindRetryable           // leave the task incomplete
	KindFatal               // propagate
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindTerminal:
		return "terminal"
	case KindSkip:
		return "skip"
	case KindRetryable:
		return "retryable"
	default:
		return "fatal"
	}
}

// KindOf classifies an error chain.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var sharecodeErr *InvalidSharecodeError
	if errors.As(err, &sharecodeErr) {
		return KindTerminal
	}
	var demoErr *InvalidDemoError
	if errors.As(err, &demoErr) {
		return KindSkip
	}
	var clientErr *ClientError
	var requestErr *RequestError
	if errors.As(err, &clientErr) || errors.As(err, &requestErr) {
		return KindRetryable
	}
	return KindFatal
}
