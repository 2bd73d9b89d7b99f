// Package processors hosts the long-running stream processors that consume
// the streaming engine and materialise windowed aggregates into the feature
// store.
package processors

import (
	"sync"
	"time"
)

// WindowStats accumulates values for one window slot.
type WindowStats struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Count int64     `json:"count"`
	Sum   float64   `json:"sum"`
	Min   float64   `json:"min"`
	Max   float64   `json:"max"`
	Avg   float64   `json:"avg"`
}

func (w *WindowStats) add(value float64) {
	if w.Count == 0 || value < w.Min {
		w.Min = value
	}
	if w.Count == 0 || value > w.Max {
		w.Max = value
	}
	w.Count++
	w.Sum += value
	w.Avg = w.Sum / float64(w.Count)
}

// WindowedAggregator maintains per-key windowed aggregates. When slide equals
// window the windows are tumbling; smaller slides produce overlapping sliding
// windows. Memory is bounded by active keys times windows per key; Cleanup
// drops windows that ended more than one window length ago.
type WindowedAggregator struct {
	window time.Duration
	slide  time.Duration

	// windows maps key -> window start (epoch ms) -> stats.
	windows map[string]map[int64]*WindowStats
	mu      sync.RWMutex
}

// NewWindowedAggregator creates an aggregator. A non-positive slide defaults
// to the window size (tumbling).
func NewWindowedAggregator(window, slide time.Duration) *WindowedAggregator {
	if slide <= 0 {
		slide = window
	}
	return &WindowedAggregator{
		window:  window,
		slide:   slide,
		windows: make(map[string]map[int64]*WindowStats),
	}
}

// Add accumulates a value into every window slot whose [start, start+window)
// interval contains ts.
func (a *WindowedAggregator) Add(key string, value float64, ts time.Time) {
	tsMs := ts.UnixMilli()
	windowMs := a.window.Milliseconds()
	slideMs := a.slide.Milliseconds()

	a.mu.Lock()
	defer a.mu.Unlock()

	slots, ok := a.windows[key]
	if !ok {
		slots = make(map[int64]*WindowStats)
		a.windows[key] = slots
	}

	// Latest slot whose start is <= ts, then walk back while ts still falls
	// inside [start, start+window).
	start := (tsMs / slideMs) * slideMs
	for ; start > tsMs-windowMs; start -= slideMs {
		stats, ok := slots[start]
		if !ok {
			stats = &WindowStats{
				Start: time.UnixMilli(start),
				End:   time.UnixMilli(start + windowMs),
			}
			slots[start] = stats
		}
		stats.add(value)
	}
}

// Current returns the stats for the window containing ts, or nil if no
// values have been recorded in it.
func (a *WindowedAggregator) Current(key string, ts time.Time) *WindowStats {
	tsMs := ts.UnixMilli()
	slideMs := a.slide.Milliseconds()
	start := (tsMs / slideMs) * slideMs

	a.mu.RLock()
	defer a.mu.RUnlock()

	slots, ok := a.windows[key]
	if !ok {
		return nil
	}
	stats, ok := slots[start]
	if !ok {
		return nil
	}
	copy := *stats
	return &copy
}

// Windows returns all window slots for a key, unordered.
func (a *WindowedAggregator) Windows(key string) []*WindowStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	slots := a.windows[key]
	out := make([]*WindowStats, 0, len(slots))
	for _, stats := range slots {
		copy := *stats
		out = append(out, &copy)
	}
	return out
}

// Cleanup drops windows whose end is older than now minus one window length.
func (a *WindowedAggregator) Cleanup(now time.Time) {
	cutoff := now.Add(-a.window)

	a.mu.Lock()
	defer a.mu.Unlock()

	for key, slots := range a.windows {
		for start, stats := range slots {
			if stats.End.Before(cutoff) {
				delete(slots, start)
			}
		}
		if len(slots) == 0 {
			delete(a.windows, key)
		}
	}
}
