package brain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"copyforge.app/pipeline/common/llm"
	"copyforge.app/pipeline/common/logger"
	"copyforge.app/pipeline/internal/model"
)

const (
	defaultSectionConcurrency = 4

	// Sections in the closing window force-inject the brand when the
	// article so far has injected at most this many mentions.
	forceInjectWindow    = 2
	forceInjectThreshold = 2
)

type sectionResponse struct {
	Body             string   `json:"body" jsonschema_description:"The section body in markdown, no heading line"`
	UsedFacts        []string `json:"used_facts" jsonschema_description:"Key facts actually worked into the body, verbatim from the input"`
	InjectedMentions int      `json:"injected_mentions" jsonschema_description:"How many full brand/product name mentions the body contains"`
}

var sectionSchema = llm.GenerateSchema[sectionResponse]()

type GenerateInput struct {
	Request  model.AnalysisRequest
	Analysis model.ReferenceAnalysis
	Product  *model.ProductBrief
	Keywords []model.KeywordActionPlan
}

type GenerationResult struct {
	Sections []model.SectionResult
	Usage    llm.TokenUsage
	Cost     llm.CostBreakdown
}

// SectionGenerator writes every planned section in parallel. Fact reuse
// is bounded by a shared history; the bound is best-effort because
// sibling sections read the history while others are still writing.
type SectionGenerator struct {
	llm         llm.Client
	filter      *ContextFilter
	concurrency int
}

func NewSectionGenerator(client llm.Client, filter *ContextFilter, concurrency int) *SectionGenerator {
	if concurrency <= 0 {
		concurrency = defaultSectionConcurrency
	}
	return &SectionGenerator{llm: client, filter: filter, concurrency: concurrency}
}

// Generate produces one result per planned section, indexed by plan
// position. A failed section yields an empty body and leaves its
// siblings untouched; error text never reaches the article.
func (g *SectionGenerator) Generate(ctx context.Context, in GenerateInput, history *CoveredPointsHistory, cancel *CancelToken) GenerationResult {
	sections := in.Analysis.Sections
	result := GenerationResult{Sections: make([]model.SectionResult, len(sections))}
	if len(sections) == 0 {
		return result
	}

	var (
		mu               sync.Mutex
		injectedMentions atomic.Int64
	)

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(g.concurrency)
	for i := range sections {
		group.Go(func() error {
			plan := sections[i]
			result.Sections[i] = model.SectionResult{Index: i, Title: plan.Title}
			if cancel.Cancelled() {
				return nil
			}
			sctx := logger.WithLogFields(gctx, logger.LogFields{Section: logger.Ptr(i)})

			eligible := history.Eligible(plan.KeyFacts)
			filtered := g.filter.Filter(sctx, FilterInput{
				SectionTitle:   plan.Title,
				KeyPoints:      eligible,
				AuthorityTerms: keywordWords(in.Keywords),
				BrandKnowledge: in.Request.BrandText,
				AuthorityText:  in.Request.AuthorityText,
				SourceText:     in.Request.SourceText,
				Audience:       in.Request.Audience,
			})

			injection := buildInjectionPlan(in.Product, in.Analysis, i, len(sections), int(injectedMentions.Load()))
			prompt := g.buildPrompt(in, plan, filtered, injection)

			var response sectionResponse
			resp, err := g.llm.Chat(sctx, llm.Request{
				SystemPrompt: sectionSystemPrompt,
				UserPrompt:   prompt,
				SchemaName:   "section_content",
				Schema:       sectionSchema,
				Temperature:  llm.Temp(0.7),
			}, &response)

			mu.Lock()
			result.Usage = result.Usage.Add(filtered.Usage)
			result.Cost = result.Cost.Add(filtered.Cost)
			if resp != nil {
				result.Usage = result.Usage.Add(resp.Usage)
				result.Cost = result.Cost.Add(llm.Cost(resp.Usage, g.llm.Model()))
			}
			mu.Unlock()

			if err != nil {
				slog.WarnContext(sctx, "section generation failed, leaving section empty",
					"section", plan.Title,
					"index", i,
					"error", err)
				result.Sections[i].Failed = true
				return nil
			}

			history.Append(response.UsedFacts)
			injectedMentions.Add(int64(response.InjectedMentions))

			result.Sections[i].Body = response.Body
			result.Sections[i].UsedFacts = response.UsedFacts
			result.Sections[i].InjectedMentions = response.InjectedMentions
			return nil
		})
	}
	group.Wait()

	return result
}

func (g *SectionGenerator) buildPrompt(in GenerateInput, plan model.SectionPlan, filtered FilteredContext, injection string) string {
	var sb strings.Builder
	region := RegionFor(in.Request.Audience)

	fmt.Fprintf(&sb, "## Article\n%s\n\n## Section to write\n%s\n\n", in.Analysis.H1Title, plan.Title)
	fmt.Fprintf(&sb, "## Language\n%s\n\n", region.Language)

	if len(plan.NarrativePlan) > 0 {
		sb.WriteString("## Narrative plan\n")
		for _, step := range plan.NarrativePlan {
			fmt.Fprintf(&sb, "- %s\n", step)
		}
		sb.WriteString("\n")
	}
	if plan.CoreFocus != "" {
		fmt.Fprintf(&sb, "## Core focus\n%s\n\n", plan.CoreFocus)
	}
	if plan.CoreQuestion != "" {
		fmt.Fprintf(&sb, "## Core question\n%s\n\n", plan.CoreQuestion)
	}
	if plan.WritingMode != "" {
		fmt.Fprintf(&sb, "## Writing mode\n%s\n\n", plan.WritingMode)
	}
	if len(plan.Subheadings) > 0 {
		fmt.Fprintf(&sb, "## Subheadings\n%s\n\n", strings.Join(plan.Subheadings, "\n"))
	}
	if len(filtered.KeyPoints) > 0 {
		sb.WriteString("## Key facts to cover\n")
		for _, f := range filtered.KeyPoints {
			fmt.Fprintf(&sb, "- %s\n", f)
		}
		sb.WriteString("\n")
	}
	if len(filtered.Insights) > 0 {
		sb.WriteString("## Supporting insights\n")
		for _, ins := range filtered.Insights {
			fmt.Fprintf(&sb, "- %s\n", ins)
		}
		sb.WriteString("\n")
	}
	if len(filtered.AuthorityTerms) > 0 {
		sb.WriteString("## Keywords to weave in naturally\n")
		for _, p := range keywordPlansFor(filtered.AuthorityTerms, in.Keywords) {
			fmt.Fprintf(&sb, "- %s\n", p.Word)
			for _, rule := range p.UsageRules {
				fmt.Fprintf(&sb, "  - %s\n", rule)
			}
			for _, snippet := range p.Snippets {
				fmt.Fprintf(&sb, "  - 原文用例: %s\n", snippet)
			}
		}
		sb.WriteString("\n")
	}
	if len(in.Analysis.RegionalReplacements) > 0 {
		sb.WriteString("## Regional substitutions\n")
		for _, r := range in.Analysis.RegionalReplacements {
			if r.Replacement != "" {
				fmt.Fprintf(&sb, "- Write %s, never %s.\n", r.Replacement, r.Original)
			} else {
				fmt.Fprintf(&sb, "- Do not mention %s; it has no local equivalent.\n", r.Original)
			}
		}
		sb.WriteString("\n")
	}
	if in.Analysis.HumanVoice != "" {
		fmt.Fprintf(&sb, "## Voice\n%s\n\n", in.Analysis.HumanVoice)
	}
	if injection != "" {
		fmt.Fprintf(&sb, "## Commercial instructions\n%s\n", injection)
	}
	return sb.String()
}

// buildInjectionPlan composes the commercial rewrite instructions for
// one section. Competitor names are removed via a subject-swap rewrite
// of the whole sentence, never a literal find-replace.
func buildInjectionPlan(product *model.ProductBrief, analysis model.ReferenceAnalysis, index, total, priorMentions int) string {
	if product == nil {
		return ""
	}

	var sb strings.Builder
	brand := product.BrandName
	if product.ProductName != "" {
		brand = fmt.Sprintf("%s %s", product.BrandName, product.ProductName)
	}

	competitors := append(append([]string{}, analysis.CompetitorBrands...), analysis.CompetitorProducts...)
	if len(competitors) > 0 {
		fmt.Fprintf(&sb, "Never name these competitors: %s. Where the reference material discusses one, rewrite the sentence with %s as the subject — restructure the claim around our product's behavior instead of substituting the name.\n",
			strings.Join(competitors, "、"), brand)
	}

	fmt.Fprintf(&sb, "Mention the full name %q at most once in this section. Any further reference must vary: pronoun, brand alone, or a generic noun.\n", brand)

	if total-index <= forceInjectWindow && priorMentions <= forceInjectThreshold {
		fmt.Fprintf(&sb, "This is a closing section and the article has mentioned the product sparsely so far. Work in one natural mention of %q tied to a reader pain point.\n", brand)
		for _, m := range product.Mappings {
			fmt.Fprintf(&sb, "- %s → %s\n", m.Problem, m.Feature)
		}
	}
	return sb.String()
}

// keywordPlansFor resolves the filtered term list back to its action
// plans. The filter returns terms verbatim, so a case-insensitive
// match suffices; a term with no plan gets a bare entry.
func keywordPlansFor(terms []string, plans []model.KeywordActionPlan) []model.KeywordActionPlan {
	byWord := make(map[string]model.KeywordActionPlan, len(plans))
	for _, p := range plans {
		byWord[strings.ToLower(p.Word)] = p
	}
	out := make([]model.KeywordActionPlan, 0, len(terms))
	for _, t := range terms {
		if p, ok := byWord[strings.ToLower(t)]; ok {
			out = append(out, p)
			continue
		}
		out = append(out, model.KeywordActionPlan{Word: t})
	}
	return out
}

func keywordWords(plans []model.KeywordActionPlan) []string {
	words := make([]string, 0, len(plans))
	for _, p := range plans {
		words = append(words, p.Word)
	}
	return words
}

const sectionSystemPrompt = `You write one section of a localized article.

Write fluent, natural prose in the requested language following the narrative plan. Cover the listed key facts where they fit; report exactly which ones you used. Follow the commercial instructions precisely. Output body text only, without the section heading.`
