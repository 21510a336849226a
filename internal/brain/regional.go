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

// deletionSentinel is what the model returns when an entity should be
// removed outright. It is normalized to an empty replacement — never
// treated as literal text.
const deletionSentinel = "[REMOVE]"

type regionalEntity struct {
	Name   string `json:"name" jsonschema_description:"The foreign entity as it appears in the text"`
	Origin string `json:"origin" jsonschema_description:"Where the entity belongs (region/market)"`
	Kind   string `json:"kind" jsonschema:"enum=brand,enum=product,enum=place,enum=service" jsonschema_description:"Entity type"`
}

type detectResponse struct {
	Entities []regionalEntity `json:"entities" jsonschema_description:"Entities foreign to the target region"`
}

type equivalentMapping struct {
	Original    string `json:"original" jsonschema_description:"The foreign entity, copied exactly"`
	Replacement string `json:"replacement" jsonschema_description:"Region-appropriate equivalent, or [REMOVE] when none exists"`
	Reason      string `json:"reason" jsonschema_description:"Why this replacement (or why none)"`
}

type equivalentsResponse struct {
	Mappings []equivalentMapping `json:"mappings" jsonschema_description:"Exactly one mapping per input entity"`
}

type rewriteChange struct {
	Before string `json:"before"`
	After  string `json:"after"`
}

type rewriteResponse struct {
	Content string          `json:"content" jsonschema_description:"Rewritten content with mappings applied"`
	Changes []rewriteChange `json:"changes" jsonschema_description:"Every before/after pair that was applied"`
}

var (
	detectSchema      = llm.GenerateSchema[detectResponse]()
	equivalentsSchema = llm.GenerateSchema[equivalentsResponse]()
	rewriteSchema     = llm.GenerateSchema[rewriteResponse]()
)

// BrandSearcher looks up region-local candidates for a foreign entity.
// Implementations may be backed by a search index; a nil searcher
// disables grounding and the model answers from its own knowledge.
type BrandSearcher interface {
	Search(ctx context.Context, entity string, region string) ([]string, error)
}

type RegionalResult struct {
	Replacements []model.RegionalReplacement
	Content      string // rewritten content; empty means unchanged
	Changes      []model.TermChange
	Relevance    int
	Usage        llm.TokenUsage
	Cost         llm.CostBreakdown
}

// RegionalEngine runs the Detect → FindEquivalents → Rewrite pipeline.
// Each step is bypassed entirely (zero cost) when its precondition is
// empty.
type RegionalEngine struct {
	llm    llm.Client
	search BrandSearcher
}

func NewRegionalEngine(client llm.Client, search BrandSearcher) *RegionalEngine {
	return &RegionalEngine{llm: client, search: search}
}

func (e *RegionalEngine) Ground(ctx context.Context, content string, audience model.Audience, cancel *CancelToken) RegionalResult {
	result := RegionalResult{
		Replacements: []model.RegionalReplacement{},
		Changes:      []model.TermChange{},
		Relevance:    100,
	}
	if content == "" || cancel.Cancelled() {
		return result
	}

	region := RegionFor(audience)

	entities, usage, err := e.detect(ctx, content, region)
	result.Usage = result.Usage.Add(usage)
	if err != nil {
		slog.WarnContext(ctx, "regional entity detection failed", "error", err)
		result.Cost = llm.Cost(result.Usage, e.llm.Model())
		return result
	}
	if len(entities) == 0 || cancel.Cancelled() {
		result.Cost = llm.Cost(result.Usage, e.llm.Model())
		return result
	}

	replacements, usage, err := e.findEquivalents(ctx, entities, region)
	result.Usage = result.Usage.Add(usage)
	if err != nil {
		slog.WarnContext(ctx, "regional equivalents lookup failed", "error", err)
		result.Cost = llm.Cost(result.Usage, e.llm.Model())
		return result
	}
	result.Replacements = replacements
	result.Relevance = relevanceScore(replacements)

	resolved := resolvedMappings(replacements)
	if len(resolved) == 0 || cancel.Cancelled() {
		result.Cost = llm.Cost(result.Usage, e.llm.Model())
		return result
	}

	rewritten, changes, usage, err := e.rewrite(ctx, content, resolved, region)
	result.Usage = result.Usage.Add(usage)
	result.Cost = llm.Cost(result.Usage, e.llm.Model())
	if err != nil {
		// Localization failure leaves pre-rewrite content intact.
		slog.WarnContext(ctx, "regional rewrite failed, keeping original content", "error", err)
		return result
	}
	result.Content = rewritten
	result.Changes = changes

	slog.InfoContext(ctx, "regional grounding completed",
		"entities", len(entities),
		"resolved", len(resolved),
		"relevance", result.Relevance)

	return result
}

func (e *RegionalEngine) detect(ctx context.Context, content string, region RegionConfig) ([]regionalEntity, llm.TokenUsage, error) {
	prompt := fmt.Sprintf(
		"## Target region\n%s\n\n## Origins to treat as foreign\n%s\n\n## Local brand examples\n%s\n\n## Content\n%s",
		region.RegionName,
		strings.Join(region.ExcludedOrigins, "、"),
		strings.Join(region.LocalBrands, "、"),
		text.TruncateTokens(content, 10000),
	)

	var response detectResponse
	resp, err := e.llm.Chat(ctx, llm.Request{
		SystemPrompt: detectSystemPrompt,
		UserPrompt:   prompt,
		SchemaName:   "regional_detect",
		Schema:       detectSchema,
		Temperature:  llm.Temp(0.1),
	}, &response)
	if err != nil {
		return nil, usageOf(resp), err
	}
	return response.Entities, resp.Usage, nil
}

// findEquivalents returns exactly one replacement per input entity.
// Entities without a confident replacement get an explicit empty
// replacement with a reason — never silently dropped.
func (e *RegionalEngine) findEquivalents(ctx context.Context, entities []regionalEntity, region RegionConfig) ([]model.RegionalReplacement, llm.TokenUsage, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Target region\n%s\n\n## Foreign entities\n", region.RegionName)
	for _, ent := range entities {
		fmt.Fprintf(&sb, "- %s (%s, %s)\n", ent.Name, ent.Kind, ent.Origin)
		if e.search != nil {
			candidates, err := e.search.Search(ctx, ent.Name, region.RegionName)
			if err != nil {
				slog.DebugContext(ctx, "brand directory lookup failed", "entity", ent.Name, "error", err)
			} else if len(candidates) > 0 {
				fmt.Fprintf(&sb, "  directory candidates: %s\n", strings.Join(candidates, "、"))
			}
		}
	}

	var response equivalentsResponse
	resp, err := e.llm.Chat(ctx, llm.Request{
		SystemPrompt: equivalentsSystemPrompt,
		UserPrompt:   sb.String(),
		SchemaName:   "regional_equivalents",
		Schema:       equivalentsSchema,
		Temperature:  llm.Temp(0.1),
	}, &response)
	if err != nil {
		return nil, usageOf(resp), err
	}

	return normalizeMappings(entities, response.Mappings), resp.Usage, nil
}

func (e *RegionalEngine) rewrite(ctx context.Context, content string, resolved []model.RegionalReplacement, region RegionConfig) (string, []model.TermChange, llm.TokenUsage, error) {
	var sb strings.Builder
	sb.WriteString("## Replacements to apply\n")
	for _, r := range resolved {
		fmt.Fprintf(&sb, "- %s → %s\n", r.Original, r.Replacement)
	}
	fmt.Fprintf(&sb, "\n## Language\n%s\n\n## Content\n%s", region.Language, content)

	var response rewriteResponse
	resp, err := e.llm.Chat(ctx, llm.Request{
		SystemPrompt: rewriteSystemPrompt,
		UserPrompt:   sb.String(),
		SchemaName:   "regional_rewrite",
		Schema:       rewriteSchema,
		Temperature:  llm.Temp(0.2),
	}, &response)
	if err != nil {
		return "", nil, usageOf(resp), err
	}

	changes := make([]model.TermChange, 0, len(response.Changes))
	for _, c := range response.Changes {
		changes = append(changes, model.TermChange{Before: c.Before, After: c.After})
	}
	return response.Content, changes, resp.Usage, nil
}

// normalizeMappings guarantees output length equals input entity count
// and normalizes the deletion sentinel to an empty replacement.
func normalizeMappings(entities []regionalEntity, mappings []equivalentMapping) []model.RegionalReplacement {
	byOriginal := make(map[string]equivalentMapping, len(mappings))
	for _, m := range mappings {
		byOriginal[strings.ToLower(strings.TrimSpace(m.Original))] = m
	}

	out := make([]model.RegionalReplacement, 0, len(entities))
	for _, ent := range entities {
		m, ok := byOriginal[strings.ToLower(strings.TrimSpace(ent.Name))]
		if !ok {
			out = append(out, model.RegionalReplacement{
				Original: ent.Name,
				Reason:   "no mapping returned",
			})
			continue
		}
		replacement := strings.TrimSpace(m.Replacement)
		if strings.EqualFold(replacement, deletionSentinel) {
			replacement = ""
		}
		out = append(out, model.RegionalReplacement{
			Original:    ent.Name,
			Replacement: replacement,
			Reason:      m.Reason,
		})
	}
	return out
}

func resolvedMappings(replacements []model.RegionalReplacement) []model.RegionalReplacement {
	resolved := make([]model.RegionalReplacement, 0, len(replacements))
	for _, r := range replacements {
		if r.Replacement != "" {
			resolved = append(resolved, r)
		}
	}
	return resolved
}

// relevanceScore is 100 − 10 per unresolved entity, floored at 0.
func relevanceScore(replacements []model.RegionalReplacement) int {
	unresolved := 0
	for _, r := range replacements {
		if r.Replacement == "" {
			unresolved++
		}
	}
	score := 100 - 10*unresolved
	if score < 0 {
		score = 0
	}
	return score
}

func usageOf(resp *llm.Response) llm.TokenUsage {
	if resp == nil {
		return llm.TokenUsage{}
	}
	return resp.Usage
}

const detectSystemPrompt = `You detect entities that are foreign to a target region.

Scan the content for brands, products, places, and services that belong to the listed foreign origins. The local brand examples show what IS appropriate — never flag those or entities like them. Only flag entities a reader in the target region would find out of place.`

const equivalentsSystemPrompt = `You find region-appropriate equivalents for foreign entities.

Return EXACTLY one mapping per input entity. Prefer directory candidates when provided. If no confident equivalent exists, set replacement to [REMOVE] and explain why in reason. Never drop an entity and never invent brands that do not exist in the target region.`

const rewriteSystemPrompt = `You rewrite content applying entity replacements.

Apply every replacement naturally — rewrite the surrounding sentence when a direct swap reads awkwardly. Report every change as a before/after pair. Do not alter content unrelated to the replacements.`
