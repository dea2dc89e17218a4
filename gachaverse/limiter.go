package gachaverse

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Operation classes throttled by the rate limiter.
const (
	RateClassSpin     = "spin"
	RateClassSell     = "sell"
	RateClassTrade    = "trade"
	RateClassClaim    = "claim"
	RateClassConvert  = "convert"
	RateClassHarvest  = "harvest"
	RateClassUpgrade  = "upgrade"
	RateClassExchange = "exchange"
)

// A RateLimiter throttles mutating operations per account. It is
// process-local and advisory, a restart clears all windows.
type RateLimiter interface {
	// Allow records one attempt and reports whether it is admitted, along
	// with how many attempts remain in the current window.
	Allow(class, key string) (bool, int)
}

// defaultRateLimits is the per-minute budget for each operation class.
func defaultRateLimits() map[string]int {
	return map[string]int{
		RateClassSpin:     20,
		RateClassSell:     30,
		RateClassTrade:    20,
		RateClassClaim:    10,
		RateClassConvert:  20,
		RateClassHarvest:  12,
		RateClassUpgrade:  5,
		RateClassExchange: 5,
	}
}

type rateWindow struct {
	count   int
	resetAt time.Time
}

// windowRateLimiter implements fixed one-minute windows behind a mutex,
// with a cron driven sweep that drops expired windows.
type windowRateLimiter struct {
	sync.Mutex

	limits  map[string]int
	window  time.Duration
	entries map[string]*rateWindow
	cron    *cron.Cron

	// nowFn is swapped out in tests.
	nowFn func() time.Time
}

// NewWindowRateLimiter builds a limiter with the given per-class limits,
// falling back to the defaults when nil, and starts the background sweep.
func NewWindowRateLimiter(limits map[string]int) *windowRateLimiter {
	if limits == nil {
		limits = defaultRateLimits()
	}
	limiter := &windowRateLimiter{
		limits:  limits,
		window:  time.Minute,
		entries: make(map[string]*rateWindow),
		nowFn:   time.Now,
	}

	limiter.cron = cron.New()
	limiter.cron.AddFunc("@every 1m", limiter.sweep)
	limiter.cron.Start()

	return limiter
}

// Allow records one attempt against the class window for key.
func (w *windowRateLimiter) Allow(class, key string) (bool, int) {
	limit, ok := w.limits[class]
	if !ok {
		return true, -1
	}

	w.Lock()
	defer w.Unlock()

	now := w.nowFn()
	entryKey := class + "|" + key
	entry, ok := w.entries[entryKey]
	if !ok || now.After(entry.resetAt) {
		w.entries[entryKey] = &rateWindow{count: 1, resetAt: now.Add(w.window)}
		return true, limit - 1
	}
	if entry.count >= limit {
		return false, 0
	}
	entry.count++
	return true, limit - entry.count
}

// Stop halts the background sweep.
func (w *windowRateLimiter) Stop() {
	if w.cron != nil {
		w.cron.Stop()
	}
}

// sweep drops windows that have expired, bounding memory to accounts active
// in the last minute.
func (w *windowRateLimiter) sweep() {
	w.Lock()
	defer w.Unlock()

	now := w.nowFn()
	for key, entry := range w.entries {
		if now.After(entry.resetAt) {
			delete(w.entries, key)
		}
	}
}
