// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package metrics

import (
	"sync"
	"time"

	"github.com/gammazero/deque"
)

type sample struct {
	bytes int64
	at    time.Time
}

// RateCalculator keeps a sliding window of per-second byte buckets and
// reports throughput over it. Used for progress logging of image writes.
type RateCalculator struct {
	mu          sync.Mutex
	dq          deque.Deque[sample]
	windowBytes int64
	window      time.Duration
	now         func() time.Time
}

// NewRateCalculator creates a calculator over the given window.
func NewRateCalculator(window time.Duration) *RateCalculator {
	return &RateCalculator{
		window: window,
		now:    time.Now,
	}
}

// Add records n bytes at the current time.
func (rc *RateCalculator) Add(n int64) {
	now := rc.now().Truncate(time.Second)

	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.dq.Len() > 0 && rc.dq.Back().at.Equal(now) {
		last := rc.dq.PopBack()
		last.bytes += n
		rc.dq.PushBack(last)
	} else {
		rc.dq.PushBack(sample{bytes: n, at: now})
	}
	rc.windowBytes += n
	rc.prune(now)
}

// Rate returns bytes per second across the populated part of the window.
func (rc *RateCalculator) Rate() float64 {
	now := rc.now().Truncate(time.Second)

	rc.mu.Lock()
	defer rc.mu.Unlock()

	rc.prune(now)
	if rc.dq.Len() == 0 {
		return 0
	}
	span := now.Sub(rc.dq.Front().at) + time.Second
	return float64(rc.windowBytes) / span.Seconds()
}

func (rc *RateCalculator) prune(now time.Time) {
	for rc.dq.Len() > 0 && now.Sub(rc.dq.Front().at) >= rc.window {
		rc.windowBytes -= rc.dq.PopFront().bytes
	}
}
