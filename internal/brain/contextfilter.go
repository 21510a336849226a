package brain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"copyforge.app/pipeline/common/llm"
	"copyforge.app/pipeline/common/text"
	"copyforge.app/pipeline/internal/model"
)

// cheapPathLimit is the candidate-list size below which filtering buys
// nothing worth a network round trip.
const cheapPathLimit = 5

type FilterInput struct {
	SectionTitle   string
	KeyPoints      []string
	AuthorityTerms []string
	BrandKnowledge string
	AuthorityText  string
	SourceText     string
	Audience       model.Audience
}

// FilteredContext is what the section generator actually sees. On any
// model failure it holds the unfiltered candidates with no insights —
// callers never block on the filter failing.
type FilteredContext struct {
	KeyPoints      []string
	AuthorityTerms []string
	Insights       []string
	Usage          llm.TokenUsage
	Cost           llm.CostBreakdown
}

type filterResponse struct {
	KeyPoints      []string `json:"key_points" jsonschema_description:"Candidate key points relevant to this section, verbatim from the input"`
	AuthorityTerms []string `json:"authority_terms" jsonschema_description:"Candidate authority terms relevant to this section, verbatim from the input"`
	Insights       []string `json:"insights" jsonschema_description:"Short knowledge-base insights worth citing in this section"`
}

var filterSchema = llm.GenerateSchema[filterResponse]()

// ContextFilter selects the subset of available facts and knowledge
// relevant to the section currently being written.
type ContextFilter struct {
	llm             llm.Client
	knowledgeTokens int
}

func NewContextFilter(client llm.Client, knowledgeTokens int) *ContextFilter {
	if knowledgeTokens <= 0 {
		knowledgeTokens = 6000
	}
	return &ContextFilter{llm: client, knowledgeTokens: knowledgeTokens}
}

// Filter narrows the candidate pools for one section. Small pools with
// no knowledge text skip the model call entirely at zero cost.
func (f *ContextFilter) Filter(ctx context.Context, in FilterInput) FilteredContext {
	if in.BrandKnowledge == "" && in.AuthorityText == "" &&
		len(in.KeyPoints) <= cheapPathLimit &&
		len(in.AuthorityTerms) <= cheapPathLimit {
		return FilteredContext{
			KeyPoints:      in.KeyPoints,
			AuthorityTerms: in.AuthorityTerms,
			Insights:       []string{},
		}
	}

	prompt := f.buildPrompt(in)

	var response filterResponse
	resp, err := f.llm.Chat(ctx, llm.Request{
		SystemPrompt: contextFilterSystemPrompt,
		UserPrompt:   prompt,
		SchemaName:   "context_filter",
		Schema:       filterSchema,
		Temperature:  llm.Temp(0.1),
	}, &response)
	if err != nil {
		slog.WarnContext(ctx, "context filter failed, using unfiltered candidates",
			"section", in.SectionTitle,
			"error", err)
		out := FilteredContext{
			KeyPoints:      in.KeyPoints,
			AuthorityTerms: in.AuthorityTerms,
			Insights:       []string{},
		}
		if resp != nil {
			out.Usage = resp.Usage
			out.Cost = llm.Cost(resp.Usage, f.llm.Model())
		}
		return out
	}

	return FilteredContext{
		KeyPoints:      nonNil(response.KeyPoints),
		AuthorityTerms: nonNil(response.AuthorityTerms),
		Insights:       nonNil(response.Insights),
		Usage:          resp.Usage,
		Cost:           llm.Cost(resp.Usage, f.llm.Model()),
	}
}

func (f *ContextFilter) buildPrompt(in FilterInput) string {
	var sb strings.Builder
	region := RegionFor(in.Audience)

	fmt.Fprintf(&sb, "## Section\n%s\n\n", in.SectionTitle)

	if len(in.KeyPoints) > 0 {
		sb.WriteString("## Candidate key points\n")
		for _, p := range in.KeyPoints {
			fmt.Fprintf(&sb, "- %s\n", p)
		}
		sb.WriteString("\n")
	}
	if len(in.AuthorityTerms) > 0 {
		sb.WriteString("## Candidate authority terms\n")
		for _, t := range in.AuthorityTerms {
			fmt.Fprintf(&sb, "- %s\n", t)
		}
		sb.WriteString("\n")
	}
	if in.BrandKnowledge != "" {
		// Token-accurate truncation: character budgets silently cut
		// mid-sentence in CJK text and can blow the context window.
		sb.WriteString("## Brand knowledge\n")
		sb.WriteString(text.TruncateTokens(in.BrandKnowledge, f.knowledgeTokens))
		sb.WriteString("\n\n")
	}
	if in.AuthorityText != "" {
		sb.WriteString("## Authority material\n")
		sb.WriteString(text.TruncateTokens(in.AuthorityText, f.knowledgeTokens))
		sb.WriteString("\n\n")
	}
	if in.SourceText != "" {
		sb.WriteString("## Reference text\n")
		sb.WriteString(text.TruncateTokens(in.SourceText, f.knowledgeTokens))
		sb.WriteString("\n\n")
	}
	fmt.Fprintf(&sb, "## Audience\n%s\n", region.RegionName)

	return sb.String()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

const contextFilterSystemPrompt = `You select the context relevant to one article section.

Given a section title, candidate key points, candidate authority terms, and optional knowledge and authority material, return ONLY the candidates a writer would actually use in this section. Copy candidates verbatim — never rephrase them. From the knowledge and authority material, extract at most 3 short insights worth citing.

Drop candidates that belong to other sections. When unsure, keep the candidate.`
