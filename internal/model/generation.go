package model

// SectionResult is the per-section output of the content generator.
// Indexed by section position; written exactly once per section unless
// retried. A failed section keeps an empty body — never an error string.
type SectionResult struct {
	Index            int      `json:"index"`
	Title            string   `json:"title"`
	Body             string   `json:"body"`
	UsedFacts        []string `json:"used_facts"`
	InjectedMentions int      `json:"injected_mentions"`
	Failed           bool     `json:"failed,omitempty"`
}

// HeadingRevision records the outcome of heading refinement for one
// heading. When the best candidate is effectively the original wording,
// NeedsManual flags it for human review instead of silently keeping a
// non-change.
type HeadingRevision struct {
	Original    string  `json:"original"`
	After       string  `json:"after"`
	Rationale   string  `json:"rationale,omitempty"`
	Similarity  float64 `json:"similarity"`
	NeedsManual bool    `json:"needs_manual,omitempty"`
}

// TermChange is one before/after pair applied by a rewrite pass, kept
// for auditability.
type TermChange struct {
	Before string `json:"before"`
	After  string `json:"after"`
}
