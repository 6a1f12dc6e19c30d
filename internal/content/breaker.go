package content

import (
	"sync"
	"time"
)

type breakerState int

const (
	closed breakerState = iota
	open
	halfOpen
)

// Breaker opens after a run of consecutive failures and, once the open period has passed,
// lets exactly one trial call through to decide whether to close again.
type Breaker struct {
	mu            sync.Mutex
	st            breakerState
	fails         int
	threshold     int
	openFor       time.Duration
	retryAt   time.Time
	trialInFlight bool
	now           func() time.Time
}

func NewBreaker(threshold int, openFor time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 3
	}
	if openFor <= 0 {
		openFor = 15 * time.Second
	}
	return &Breaker{threshold: threshold, openFor: openFor, now: time.Now}
}

// Ready reports whether Acquire could succeed right now, without taking the trial slot.
func (b *Breaker) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.st {
	case open:
		return !b.now().Before(b.retryAt) && !b.trialInFlight
	case halfOpen:
		return !b.trialInFlight
	default:
		return true
	}
}

// Acquire admits a call. In the open state the first caller after the open period becomes
// the trial call; everyone else is refused until it reports back.
func (b *Breaker) Acquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.st {
	case open:
		if b.now().Before(b.retryAt) || b.trialInFlight {
			return false
		}
		b.st = halfOpen
		b.trialInFlight = true
		return true
	case halfOpen:
		if b.trialInFlight {
			return false
		}
		b.trialInFlight = true
		return true
	default:
		return true
	}
}

func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fails = 0
	b.st = closed
	b.trialInFlight = false
}

func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.st == halfOpen {
		b.trip()
		return
	}
	b.fails++
	if b.fails >= b.threshold {
		b.trip()
	}
}

// Release gives back an admitted call whose outcome says nothing about the endpoint, such as
// one the caller abandoned. The state is left as it was.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trialInFlight = false
}

func (b *Breaker) trip() {
	b.st = open
	b.retryAt = b.now().Add(b.openFor)
	b.trialInFlight = false
}
