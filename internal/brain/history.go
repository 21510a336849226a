package brain

import (
	"strings"
	"sync"
)

// CoveredPointsHistory is the append-only multiset of fact strings used
// across sections. The frequency cap consults it before each section is
// generated. Sections run concurrently, so the cap is best-effort: a
// section that reads the history before a sibling's append lands may
// under-count by one use. Appends themselves are safe under the mutex.
type CoveredPointsHistory struct {
	mu     sync.Mutex
	counts map[string]int
	cap    int
}

// NewCoveredPointsHistory creates a history with the given per-fact use
// cap. A cap of 0 defaults to 2.
func NewCoveredPointsHistory(usageCap int) *CoveredPointsHistory {
	if usageCap <= 0 {
		usageCap = 2
	}
	return &CoveredPointsHistory{
		counts: make(map[string]int),
		cap:    usageCap,
	}
}

// Append records that facts were used by a completed section.
func (h *CoveredPointsHistory) Append(facts []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, f := range facts {
		h.counts[normalizeFact(f)]++
	}
}

// Eligible filters candidates down to facts whose usage count has not
// reached the cap, preserving order.
func (h *CoveredPointsHistory) Eligible(candidates []string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	eligible := make([]string, 0, len(candidates))
	for _, f := range candidates {
		if h.counts[normalizeFact(f)] < h.cap {
			eligible = append(eligible, f)
		}
	}
	return eligible
}

// Count returns the recorded use count for a fact.
func (h *CoveredPointsHistory) Count(fact string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.counts[normalizeFact(fact)]
}

func normalizeFact(f string) string {
	return strings.ToLower(strings.TrimSpace(f))
}
