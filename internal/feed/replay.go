package feed

import (
	"context"
	"log"
	"time"

	"pumpwatch/internal/model"
	sqlitestore "pumpwatch/internal/store/sqlite"
)

// Replayer reads archived ticks from SQLite and replays them into a tick
// channel at a configurable speed multiplier. Backtests run it at speed 0
// (as fast as possible); paper sessions can run it near real-time to
// rehearse against recorded market conditions.
type Replayer struct {
	reader *sqlitestore.TickReader
}

// NewReplayer creates a Replayer backed by a tick archive reader.
func NewReplayer(reader *sqlitestore.TickReader) *Replayer {
	return &Replayer{reader: reader}
}

// Run replays all ticks for the given symbols, emitting them into outCh in
// timestamp order. speed controls playback: 1.0 = real-time, 10.0 = 10x,
// 0 = as fast as possible. fromTS filters ticks (zero = all).
func (r *Replayer) Run(ctx context.Context, symbols []string, fromTS time.Time, speed float64, outCh chan<- model.Tick) error {
	var all []model.Tick
	for _, sym := range symbols {
		ticks, err := r.reader.ReadTicks(sym, fromTS)
		if err != nil {
			return err
		}
		all = append(all, ticks...)
	}

	if len(all) == 0 {
		log.Println("[replay] no ticks found in archive")
		return nil
	}

	// Per-symbol reads are ordered; interleave across symbols.
	sortTicks(all)

	log.Printf("[replay] loaded %d ticks across %d symbols, speed=%.1fx", len(all), len(symbols), speed)

	var prevTS time.Time
	emitted := 0

	for _, t := range all {
		select {
		case <-ctx.Done():
			log.Printf("[replay] cancelled after %d ticks", emitted)
			return ctx.Err()
		default:
		}

		// Simulate time gaps between ticks.
		if speed > 0 && !prevTS.IsZero() {
			gap := t.TS.Sub(prevTS)
			if gap > 0 {
				scaledGap := time.Duration(float64(gap) / speed)
				// Cap max sleep so overnight gaps don't stall the run.
				if scaledGap > 5*time.Second {
					scaledGap = 5 * time.Second
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(scaledGap):
				}
			}
		}
		prevTS = t.TS

		select {
		case <-ctx.Done():
			return ctx.Err()
		case outCh <- t:
		}
		emitted++
	}

	log.Printf("[replay] completed: %d ticks replayed", emitted)
	return nil
}

// sortTicks sorts by timestamp (stable insertion sort, input is nearly
// sorted already).
func sortTicks(ticks []model.Tick) {
	for i := 1; i < len(ticks); i++ {
		for j := i; j > 0 && ticks[j].TS.Before(ticks[j-1].TS); j-- {
			ticks[j], ticks[j-1] = ticks[j-1], ticks[j]
		}
	}
}
