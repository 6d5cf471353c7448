package lifecycle

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

type DelayKind string

const (
	DelayFast   DelayKind = "fast"
	DelayNormal DelayKind = "normal"
	DelaySlow   DelayKind = "slow"
)

// DelayFunc returns how long to pause after a UI step of the given kind.
type DelayFunc func(kind DelayKind) time.Duration

func NoDelay(DelayKind) time.Duration { return 0 }

// JitteredDelay draws uniformly from the configured range for each kind.
// Unknown kinds use the normal range; a missing normal range means no pause.
func JitteredDelay(ranges map[string]DelayRange, rng *rand.Rand) DelayFunc {
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x6d62))
	}
	var mu sync.Mutex

	return func(kind DelayKind) time.Duration {
		window, ok := ranges[string(kind)]
		if !ok {
			window, ok = ranges[string(DelayNormal)]
		}
		if !ok || window.MaxMillis <= 0 {
			return 0
		}

		spread := window.MaxMillis - window.MinMillis
		millis := window.MinMillis
		if spread > 0 {
			mu.Lock()
			millis += rng.IntN(spread + 1)
			mu.Unlock()
		}
		return time.Duration(millis) * time.Millisecond
	}
}

// Sleeper blocks for d or until ctx ends.
type Sleeper func(ctx context.Context, d time.Duration) error

func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
