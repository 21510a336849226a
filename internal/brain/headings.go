package brain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"copyforge.app/pipeline/common/llm"
	"copyforge.app/pipeline/internal/model"
)

// Above this cosine similarity a candidate is considered a non-change
// and routed to manual review.
const similarityCeiling = 0.995

type headingCandidate struct {
	Text      string `json:"text" jsonschema_description:"Rewritten heading"`
	Rationale string `json:"rationale" jsonschema_description:"Why this rewrite works"`
}

type headingRewrite struct {
	Original   string             `json:"original" jsonschema_description:"The input heading, copied exactly"`
	Candidates []headingCandidate `json:"candidates" jsonschema_description:"Up to five candidate rewrites"`
	BestPick   string             `json:"best_pick" jsonschema_description:"The candidate text you consider strongest"`
}

type headingBatchResponse struct {
	Headings []headingRewrite `json:"headings" jsonschema_description:"One entry per input heading"`
}

var headingBatchSchema = llm.GenerateSchema[headingBatchResponse]()

type HeadingResult struct {
	Revisions []model.HeadingRevision
	Usage     llm.TokenUsage
	Cost      llm.CostBreakdown
}

// HeadingRefiner rewrites all headings in one batch call, then re-ranks
// each heading's candidates by embedding distance from the original so
// the chosen rewrite is a genuine change, not a paraphrase of itself.
type HeadingRefiner struct {
	llm llm.Client
}

func NewHeadingRefiner(client llm.Client) *HeadingRefiner {
	return &HeadingRefiner{llm: client}
}

func (r *HeadingRefiner) Refine(ctx context.Context, headings []string, audience model.Audience, cancel *CancelToken) HeadingResult {
	result := HeadingResult{Revisions: []model.HeadingRevision{}}
	if len(headings) == 0 || cancel.Cancelled() {
		return result
	}

	region := RegionFor(audience)
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Language\n%s\n\n## Headings\n", region.Language)
	for _, h := range headings {
		fmt.Fprintf(&sb, "- %s\n", h)
	}

	var response headingBatchResponse
	resp, err := r.llm.Chat(ctx, llm.Request{
		SystemPrompt: headingSystemPrompt,
		UserPrompt:   sb.String(),
		SchemaName:   "heading_rewrites",
		Schema:       headingBatchSchema,
		Temperature:  llm.Temp(0.8),
	}, &response)
	result.Usage = result.Usage.Add(usageOf(resp))
	if err != nil {
		slog.WarnContext(ctx, "heading rewrite batch failed, keeping originals", "error", err)
		for _, h := range headings {
			result.Revisions = append(result.Revisions, model.HeadingRevision{
				Original:    h,
				After:       h,
				NeedsManual: true,
			})
		}
		result.Cost = llm.Cost(result.Usage, r.llm.Model())
		return result
	}

	rewrites := make(map[string]headingRewrite, len(response.Headings))
	for _, hr := range response.Headings {
		rewrites[strings.TrimSpace(hr.Original)] = hr
	}

	for _, h := range headings {
		if cancel.Cancelled() {
			result.Revisions = append(result.Revisions, model.HeadingRevision{Original: h, After: h, NeedsManual: true})
			continue
		}
		hr, ok := rewrites[strings.TrimSpace(h)]
		if !ok || len(hr.Candidates) == 0 {
			result.Revisions = append(result.Revisions, model.HeadingRevision{Original: h, After: h, NeedsManual: true})
			continue
		}
		result.Revisions = append(result.Revisions, r.rerank(ctx, h, hr.Candidates))
	}

	result.Cost = llm.Cost(result.Usage, r.llm.Model())
	return result
}

// rerank embeds the original and every distinct candidate, scores each
// candidate by cosine similarity to the original, and picks the most
// different one. Near-identical picks go to manual review instead.
func (r *HeadingRefiner) rerank(ctx context.Context, original string, candidates []headingCandidate) model.HeadingRevision {
	distinct := distinctCandidates(original, candidates)
	if len(distinct) == 0 {
		return model.HeadingRevision{Original: original, After: original, NeedsManual: true}
	}

	texts := make([]string, 0, len(distinct)+1)
	texts = append(texts, original)
	for _, c := range distinct {
		texts = append(texts, c.Text)
	}

	vectors, err := r.llm.Embed(ctx, texts)
	if err != nil || len(vectors) != len(texts) {
		slog.WarnContext(ctx, "heading embedding failed, falling back to first candidate",
			"heading", original,
			"error", err)
		return model.HeadingRevision{
			Original:    original,
			After:       distinct[0].Text,
			Rationale:   distinct[0].Rationale,
			NeedsManual: true,
		}
	}

	best := 0
	bestSim := 2.0
	for i := range distinct {
		sim := llm.CosineSimilarity(vectors[0], vectors[i+1])
		if sim < bestSim {
			bestSim = sim
			best = i
		}
	}

	chosen := distinct[best]
	if bestSim > similarityCeiling {
		return model.HeadingRevision{
			Original:    original,
			After:       original,
			Similarity:  bestSim,
			NeedsManual: true,
		}
	}
	return model.HeadingRevision{
		Original:   original,
		After:      chosen.Text,
		Rationale:  chosen.Rationale,
		Similarity: bestSim,
	}
}

// distinctCandidates drops candidates textually identical to the
// original or to an earlier candidate.
func distinctCandidates(original string, candidates []headingCandidate) []headingCandidate {
	seen := map[string]bool{strings.TrimSpace(original): true}
	out := make([]headingCandidate, 0, len(candidates))
	for _, c := range candidates {
		key := strings.TrimSpace(c.Text)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}

const headingSystemPrompt = `You rewrite article headings to be more engaging without changing meaning.

For EVERY input heading return up to five candidate rewrites with a one-line rationale each, plus your best pick. Keep the language of the input. Never return the original wording as a candidate.`
