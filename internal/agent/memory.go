package agent

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Observation is one item of working memory.
type Observation struct {
	Subject   string                 `json:"subject"`
	Content   map[string]interface{} `json:"content"`
	Timestamp time.Time              `json:"timestamp"`
}

// Episode is a remembered past case: the input signature it matched, the
// outcome reached and whether it later proved correct.
type Episode struct {
	Signature  string                 `json:"signature"`
	Outcome    string                 `json:"outcome"`
	Confidence float64                `json:"confidence"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Correct    *bool                  `json:"correct,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// Memory combines a short-term observation ring with long-term episodic
// recall keyed by feature signature.
type Memory struct {
	capacity     int
	observations []Observation
	episodes     map[string][]Episode
	mu           sync.RWMutex
}

// NewMemory creates a memory holding at most capacity recent observations.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = 50
	}
	return &Memory{
		capacity: capacity,
		episodes: make(map[string][]Episode),
	}
}

// Observe appends to the short-term ring, evicting the oldest entry when
// full.
func (m *Memory) Observe(subject string, content map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observations = append(m.observations, Observation{
		Subject:   subject,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
	if len(m.observations) > m.capacity {
		m.observations = m.observations[len(m.observations)-m.capacity:]
	}
}

// Recent returns up to n most recent observations, newest first.
func (m *Memory) Recent(n int) []Observation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n <= 0 || n > len(m.observations) {
		n = len(m.observations)
	}
	out := make([]Observation, 0, n)
	for i := len(m.observations) - 1; i >= len(m.observations)-n; i-- {
		out = append(out, m.observations[i])
	}
	return out
}

// Remember stores an episode under its feature signature.
func (m *Memory) Remember(episode Episode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if episode.Timestamp.IsZero() {
		episode.Timestamp = time.Now().UTC()
	}
	m.episodes[episode.Signature] = append(m.episodes[episode.Signature], episode)
}

// RecallSimilar returns past episodes for a signature, newest first.
func (m *Memory) RecallSimilar(signature string) []Episode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	episodes := m.episodes[signature]
	out := make([]Episode, len(episodes))
	copy(out, episodes)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

// Signature derives a stable pattern-matching key from reasoning input.
// It picks out the coarse features that make cases comparable: the seller,
// the domains touched and the bucketed event volume.
func Signature(input map[string]interface{}) string {
	var parts []string
	if sellerID, ok := input["seller_id"].(string); ok && sellerID != "" {
		parts = append(parts, "seller="+sellerID)
	}
	switch domains := input["domains"].(type) {
	case []string:
		sorted := append([]string(nil), domains...)
		sort.Strings(sorted)
		parts = append(parts, "domains="+strings.Join(sorted, ","))
	case []interface{}:
		var sorted []string
		for _, d := range domains {
			if s, ok := d.(string); ok {
				sorted = append(sorted, s)
			}
		}
		sort.Strings(sorted)
		parts = append(parts, "domains="+strings.Join(sorted, ","))
	}
	if count, ok := toFloat(input["event_count"]); ok {
		parts = append(parts, fmt.Sprintf("volume=%s", volumeBucket(count)))
	}
	if len(parts) == 0 {
		return "generic"
	}
	return strings.Join(parts, "|")
}

func volumeBucket(count float64) string {
	switch {
	case count < 5:
		return "low"
	case count < 25:
		return "medium"
	default:
		return "high"
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
