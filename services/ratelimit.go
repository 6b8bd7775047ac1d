package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"
)

// Ratelimiter performs HTTP requests with an adaptive request rate.
// Each endpoint class owns its own instance.
type Ratelimiter struct {
	Name      string
	BaseRate  float64 // requests per second
	Accel     float64
	RateDecay float64
	RateBreak time.Duration
	MaxTries  int

	client *http.Client
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error

	mu          sync.Mutex
	rate        float64
	lastRequest time.Time
}

// NewRatelimiter returns a limiter with the default tuning (10 req/s base, x1.1 on success, x0.5 on throttling).
func NewRatelimiter(name string, client *http.Client) *Ratelimiter {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Ratelimiter{
		Name:      name,
		BaseRate:  10,
		Accel:     1.1,
		RateDecay: 0.5,
		RateBreak: 2 * time.Second,
		MaxTries:  10,
		client:    client,
		now:       time.Now,
		sleep:     sleepContext,
		rate:      10,
	}
}

// WithMaxTries sets the attempt count and returns the limiter.
func (r *Ratelimiter) WithMaxTries(n int) *Ratelimiter {
	r.MaxTries = n
	return r
}

// Rate is the current request rate.
func (r *Ratelimiter) Rate() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rate
}

func (r *Ratelimiter) String() string {
	if r.Name == "" {
		return "Rate limit"
	}
	return "Rate limit for " + r.Name
}

// Request performs a GET request. accept lists the status codes treated as
// success (200 when empty). A status outside accept fails at once, unless it
// signals throttling, in which case the rate decays and the request is retried.
func (r *Ratelimiter) Request(ctx context.Context, url string, accept ...int) (*http.Response, error) {
	if len(accept) == 0 {
		accept = []int{http.StatusOK}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// enforce the rate limit
	minGap := time.Duration(float64(time.Second) / r.rate)
	if wait := minGap - r.now().Sub(r.lastRequest); wait > 0 {
		if err := r.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	r.lastRequest = r.now()

	for attempt := 1; attempt <= r.MaxTries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request to %s: %w", url, err)
		}

		resp, err := r.client.Do(req)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil && !isTimeout(err):
			return nil, &ClientError{Op: "GET " + url, Err: err}
		case err == nil && !isThrottled(resp.StatusCode):
			if !slices.Contains(accept, resp.StatusCode) {
				resp.Body.Close()
				status := resp.StatusCode
				return nil, &RequestError{URL: url, StatusCode: &status}
			}
			if resp.StatusCode < 400 {
				r.accelerate()
				return resp, nil
			}
			// accepted error status: treat like throttling
			resp.Body.Close()
		case err == nil:
			resp.Body.Close()
		}

		wait := time.Duration(attempt) * r.RateBreak
		log.Printf("⏳ [RATELIMIT] %s hit at %.0f req/s, waiting %.1f s (attempt %d/%d)",
			r, r.rate, wait.Seconds(), attempt, r.MaxTries)
		r.rate = max(r.BaseRate, r.rate*r.RateDecay)
		if err := r.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	return nil, &RequestError{URL: url}
}

// accelerate increases the rate without exceeding the rate actually observed.
// The rate never drops on success.
func (r *Ratelimiter) accelerate() {
	gap := r.now().Sub(r.lastRequest).Seconds()
	next := r.rate * r.Accel
	if gap > 0 {
		next = min(next, 1/gap)
	}
	r.rate = max(r.rate, next)
}

func isThrottled(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
