package gachaverse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiterBlocksAboveBudget(t *testing.T) {
	limiter := NewWindowRateLimiter(map[string]int{RateClassUpgrade: 5})
	defer limiter.Stop()

	for i := 0; i < 5; i++ {
		allowed, remaining := limiter.Allow(RateClassUpgrade, testAddress)
		assert.True(t, allowed)
		assert.Equal(t, 4-i, remaining)
	}

	allowed, remaining := limiter.Allow(RateClassUpgrade, testAddress)
	assert.False(t, allowed)
	assert.Equal(t, 0, remaining)
}

func TestLimiterWindowsArePerAccountAndClass(t *testing.T) {
	limiter := NewWindowRateLimiter(map[string]int{RateClassSpin: 1, RateClassSell: 1})
	defer limiter.Stop()

	allowed, _ := limiter.Allow(RateClassSpin, testAddress)
	assert.True(t, allowed)
	allowed, _ = limiter.Allow(RateClassSpin, testAddress)
	assert.False(t, allowed)

	// A different account and a different class are untouched.
	allowed, _ = limiter.Allow(RateClassSpin, testOtherAddress)
	assert.True(t, allowed)
	allowed, _ = limiter.Allow(RateClassSell, testAddress)
	assert.True(t, allowed)
}

func TestLimiterWindowResets(t *testing.T) {
	limiter := NewWindowRateLimiter(map[string]int{RateClassSpin: 1})
	defer limiter.Stop()

	now := time.Now()
	limiter.nowFn = func() time.Time { return now }

	allowed, _ := limiter.Allow(RateClassSpin, testAddress)
	assert.True(t, allowed)
	allowed, _ = limiter.Allow(RateClassSpin, testAddress)
	assert.False(t, allowed)

	limiter.nowFn = func() time.Time { return now.Add(61 * time.Second) }
	allowed, _ = limiter.Allow(RateClassSpin, testAddress)
	assert.True(t, allowed)
}

func TestLimiterUnknownClassIsUnlimited(t *testing.T) {
	limiter := NewWindowRateLimiter(map[string]int{})
	defer limiter.Stop()

	for i := 0; i < 100; i++ {
		allowed, remaining := limiter.Allow("unthrottled", testAddress)
		assert.True(t, allowed)
		assert.Equal(t, -1, remaining)
	}
}

func TestLimiterSweepDropsExpiredWindows(t *testing.T) {
	limiter := NewWindowRateLimiter(map[string]int{RateClassSpin: 1})
	defer limiter.Stop()

	now := time.Now()
	limiter.nowFn = func() time.Time { return now }
	limiter.Allow(RateClassSpin, testAddress)
	limiter.Allow(RateClassSpin, testOtherAddress)

	limiter.nowFn = func() time.Time { return now.Add(2 * time.Minute) }
	limiter.sweep()

	limiter.Lock()
	assert.Empty(t, limiter.entries)
	limiter.Unlock()
}

func TestLimiterDefaultBudgets(t *testing.T) {
	limiter := NewWindowRateLimiter(nil)
	defer limiter.Stop()

	// The tightest budgets guard the upgrade and exchange classes.
	for i := 0; i < 5; i++ {
		allowed, _ := limiter.Allow(RateClassExchange, testAddress)
		assert.True(t, allowed)
	}
	allowed, _ := limiter.Allow(RateClassExchange, testAddress)
	assert.False(t, allowed)
}
