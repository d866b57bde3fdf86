package price

import (
	"time"

	"github.com/0xd3bs/buysmart/internal/model"
)

// Epoch values at or above this are already milliseconds.
const msThreshold = 1_000_000_000_000

// Timestamp sources, in priority order.
const (
	TimeFromTx    = "timestamp"
	TimeFromBlock = "block_timestamp"
	TimeFromClock = "clock"
)

// ResolveTimestamp picks the time a swap happened: the transaction time, then
// the block time, then now. It also returns which source won.
func ResolveTimestamp(swap model.SwapResult, now func() time.Time) (time.Time, string) {
	steps := []struct {
		name string
		v    *int64
	}{
		{TimeFromTx, swap.Timestamp},
		{TimeFromBlock, swap.BlockTimestamp},
	}
	for _, s := range steps {
		if s.v == nil || *s.v <= 0 {
			continue
		}
		return time.UnixMilli(toMillis(*s.v)).UTC(), s.name
	}
	if now == nil {
		now = time.Now
	}
	return now().UTC(), TimeFromClock
}

func toMillis(v int64) int64 {
	if v >= msThreshold {
		return v
	}
	return v * 1000
}
