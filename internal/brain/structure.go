package brain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"copyforge.app/pipeline/common/llm"
	"copyforge.app/pipeline/common/text"
	"copyforge.app/pipeline/internal/model"
)

// introSectionTitle is the synthesized first section injected when the
// outline carries intro text.
const introSectionTitle = "前言"

// navigationalStoplist drops short navigational titles that slip
// through without an explicit exclude flag.
var navigationalStoplist = map[string]bool{
	"目錄":                true,
	"目录":                true,
	"table of contents": true,
	"contents":          true,
}

type voiceResponse struct {
	GeneralPlan        string   `json:"general_plan" jsonschema_description:"Overall narrative plan of the source article"`
	ConversionPlan     string   `json:"conversion_plan" jsonschema_description:"How the article moves readers toward action"`
	BrandPoints        []string `json:"brand_points" jsonschema_description:"Brand-exclusive selling points found in the text"`
	CompetitorBrands   []string `json:"competitor_brands" jsonschema_description:"Competitor brand names mentioned"`
	CompetitorProducts []string `json:"competitor_products" jsonschema_description:"Competitor product names mentioned"`
	RegionalVoice      string   `json:"regional_voice" jsonschema_description:"Regional voice signal of the writing"`
	HumanVoice         string   `json:"human_voice" jsonschema_description:"What makes the writing read as human-authored"`
}

type outlineSection struct {
	Title       string   `json:"title" jsonschema_description:"Section title (H2)"`
	Subheadings []string `json:"subheadings" jsonschema_description:"Ordered subheadings under this section"`
	Exclude     bool     `json:"exclude" jsonschema_description:"True for boilerplate/navigational sections that should not be rewritten"`
}

type outlineResponse struct {
	H1Title   string           `json:"h1_title" jsonschema_description:"The article H1 title"`
	IntroText string           `json:"intro_text" jsonschema_description:"Introduction paragraph text, empty if none"`
	Sections  []outlineSection `json:"sections" jsonschema_description:"Ordered section skeleton"`
}

type narrativeSubsection struct {
	Title    string   `json:"title"`
	KeyFacts []string `json:"key_facts" jsonschema_description:"Facts that belong specifically to this subsection"`
}

type narrativeSection struct {
	Title         string                `json:"title" jsonschema_description:"Section title, copied exactly from the input outline"`
	NarrativePlan []string              `json:"narrative_plan" jsonschema_description:"Ordered narrative hints for rewriting this section"`
	LogicalFlow   string                `json:"logical_flow" jsonschema_description:"How the section's argument flows"`
	CoreFocus     string                `json:"core_focus"`
	KeyFacts      []string              `json:"key_facts" jsonschema_description:"Concrete facts the rewrite must preserve"`
	CoreQuestion  string                `json:"core_question" jsonschema_description:"The reader question this section answers"`
	Difficulty    string                `json:"difficulty" jsonschema:"enum=easy,enum=medium,enum=unclear"`
	WritingMode   string                `json:"writing_mode" jsonschema:"enum=direct,enum=multi_solutions"`
	Subsections   []narrativeSubsection `json:"subsections"`
}

type narrativeResponse struct {
	Sections []narrativeSection `json:"sections"`
}

var (
	voiceSchema     = llm.GenerateSchema[voiceResponse]()
	outlineSchema   = llm.GenerateSchema[outlineResponse]()
	narrativeSchema = llm.GenerateSchema[narrativeResponse]()
)

type StructureResult struct {
	Analysis model.ReferenceAnalysis
	Usage    llm.TokenUsage
	Cost     llm.CostBreakdown
}

// StructureAnalyzer runs the voice extraction and the two-phase
// structural extraction concurrently and merges them into one analysis
// record.
type StructureAnalyzer struct {
	llm llm.Client
}

func NewStructureAnalyzer(client llm.Client) *StructureAnalyzer {
	return &StructureAnalyzer{llm: client}
}

// Analyze extracts the reference analysis from source text. Any stage
// failure degrades to a fully-empty-but-valid analysis shape so
// downstream consumers operate without nil checks.
func (a *StructureAnalyzer) Analyze(ctx context.Context, req model.AnalysisRequest, cancel *CancelToken) StructureResult {
	result := StructureResult{Analysis: model.EmptyReferenceAnalysis()}
	if cancel.Cancelled() {
		return result
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		voice     voiceResponse
		voiceOK   bool
		structure []model.SectionPlan
		h1        string
		intro     string
	)

	addUsage := func(u llm.TokenUsage) {
		mu.Lock()
		result.Usage = result.Usage.Add(u)
		mu.Unlock()
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		v, usage, err := a.extractVoice(ctx, req)
		addUsage(usage)
		if err != nil {
			slog.WarnContext(ctx, "voice extraction failed", "error", err)
			return
		}
		mu.Lock()
		voice, voiceOK = v, true
		mu.Unlock()
	}()
	go func() {
		defer wg.Done()
		sections, title, introText, usage, err := a.extractStructure(ctx, req, cancel)
		addUsage(usage)
		if err != nil {
			slog.WarnContext(ctx, "structure extraction failed", "error", err)
			return
		}
		mu.Lock()
		structure, h1, intro = sections, title, introText
		mu.Unlock()
	}()
	wg.Wait()

	result.Cost = llm.Cost(result.Usage, a.llm.Model())

	result.Analysis.H1Title = h1
	result.Analysis.IntroText = intro
	if structure != nil {
		result.Analysis.Sections = structure
	}
	if voiceOK {
		result.Analysis.GeneralPlan = voice.GeneralPlan
		result.Analysis.ConversionPlan = voice.ConversionPlan
		result.Analysis.BrandPoints = nonNil(voice.BrandPoints)
		result.Analysis.CompetitorBrands = nonNil(voice.CompetitorBrands)
		result.Analysis.CompetitorProducts = nonNil(voice.CompetitorProducts)
		result.Analysis.RegionalVoice = voice.RegionalVoice
		result.Analysis.HumanVoice = voice.HumanVoice
	}

	slog.InfoContext(ctx, "structure analysis completed",
		"sections", len(result.Analysis.Sections),
		"voice_ok", voiceOK,
		"prompt_tokens", result.Usage.PromptTokens)

	return result
}

func (a *StructureAnalyzer) extractVoice(ctx context.Context, req model.AnalysisRequest) (voiceResponse, llm.TokenUsage, error) {
	region := RegionFor(req.Audience)

	var response voiceResponse
	resp, err := a.llm.Chat(ctx, llm.Request{
		SystemPrompt: voiceSystemPrompt,
		UserPrompt: fmt.Sprintf("## Audience\n%s\n\n## Source article\n%s",
			region.RegionName, text.TruncateTokens(req.SourceText, 12000)),
		SchemaName:  "voice_analysis",
		Schema:      voiceSchema,
		Temperature: llm.Temp(0.2),
	}, &response)
	if err != nil {
		var usage llm.TokenUsage
		if resp != nil {
			usage = resp.Usage
		}
		return voiceResponse{}, usage, err
	}
	return response, resp.Usage, nil
}

// extractStructure runs outline extraction (phase 1), filters the
// skeleton, then runs the deep narrative pass (phase 2) keyed off the
// surviving section list.
func (a *StructureAnalyzer) extractStructure(ctx context.Context, req model.AnalysisRequest, cancel *CancelToken) ([]model.SectionPlan, string, string, llm.TokenUsage, error) {
	var usage llm.TokenUsage

	var outline outlineResponse
	prompt := fmt.Sprintf("## Source article\n%s", text.TruncateTokens(req.SourceText, 12000))
	if req.SampleOutline != "" {
		prompt = fmt.Sprintf("## Sample outline to follow\n%s\n\n%s", req.SampleOutline, prompt)
	}
	resp, err := a.llm.Chat(ctx, llm.Request{
		SystemPrompt: outlineSystemPrompt,
		UserPrompt:   prompt,
		SchemaName:   "outline",
		Schema:       outlineSchema,
		Temperature:  llm.Temp(0.1),
	}, &outline)
	if resp != nil {
		usage = usage.Add(resp.Usage)
	}
	if err != nil {
		return nil, "", "", usage, fmt.Errorf("outline extraction: %w", err)
	}

	kept := filterOutlineSections(outline.Sections)

	plans := make([]model.SectionPlan, 0, len(kept)+1)
	if outline.IntroText != "" {
		plans = append(plans, model.SectionPlan{
			Title:         introSectionTitle,
			NarrativePlan: []string{"以文章引言開場，點出讀者的核心疑問"},
			Subheadings:   []string{},
			KeyFacts:      []string{},
			WritingMode:   model.WritingModeDirect,
			Difficulty:    model.DifficultyEasy,
		})
	}
	for _, s := range kept {
		plans = append(plans, model.SectionPlan{
			Title:       s.Title,
			Subheadings: nonNil(s.Subheadings),
			KeyFacts:    []string{},
		})
	}

	if len(kept) == 0 || cancel.Cancelled() {
		return plans, outline.H1Title, outline.IntroText, usage, nil
	}

	narrative, narrativeUsage, err := a.extractNarrative(ctx, req, kept)
	usage = usage.Add(narrativeUsage)
	if err != nil {
		// Keep the skeleton: a missing deep pass degrades quality, not validity.
		slog.WarnContext(ctx, "narrative extraction failed, keeping outline skeleton", "error", err)
		return plans, outline.H1Title, outline.IntroText, usage, nil
	}

	mergeNarrative(plans, narrative.Sections)
	return plans, outline.H1Title, outline.IntroText, usage, nil
}

func (a *StructureAnalyzer) extractNarrative(ctx context.Context, req model.AnalysisRequest, kept []outlineSection) (narrativeResponse, llm.TokenUsage, error) {
	var sb strings.Builder
	sb.WriteString("## Sections to analyze\n")
	for _, s := range kept {
		fmt.Fprintf(&sb, "- %s\n", s.Title)
		for _, sub := range s.Subheadings {
			fmt.Fprintf(&sb, "  - %s\n", sub)
		}
	}
	sb.WriteString("\n## Source article\n")
	sb.WriteString(text.TruncateTokens(req.SourceText, 12000))

	var response narrativeResponse
	resp, err := a.llm.Chat(ctx, llm.Request{
		SystemPrompt: narrativeSystemPrompt,
		UserPrompt:   sb.String(),
		SchemaName:   "narrative_analysis",
		Schema:       narrativeSchema,
		Temperature:  llm.Temp(0.2),
	}, &response)
	if err != nil {
		var usage llm.TokenUsage
		if resp != nil {
			usage = resp.Usage
		}
		return narrativeResponse{}, usage, err
	}
	return response, resp.Usage, nil
}

// filterOutlineSections drops excluded sections and stoplisted
// navigational titles, preserving original relative order.
func filterOutlineSections(sections []outlineSection) []outlineSection {
	kept := make([]outlineSection, 0, len(sections))
	for _, s := range sections {
		if s.Exclude {
			continue
		}
		if navigationalStoplist[strings.ToLower(strings.TrimSpace(s.Title))] {
			continue
		}
		kept = append(kept, s)
	}
	return kept
}

// mergeNarrative merges phase-2 narrative data onto phase-1 plans by
// exact title match. Unmatched narrative sections are dropped; unmatched
// plans keep their skeleton.
func mergeNarrative(plans []model.SectionPlan, narrative []narrativeSection) {
	byTitle := make(map[string]narrativeSection, len(narrative))
	for _, n := range narrative {
		byTitle[strings.TrimSpace(n.Title)] = n
	}
	for i := range plans {
		n, ok := byTitle[strings.TrimSpace(plans[i].Title)]
		if !ok {
			continue
		}
		plans[i].NarrativePlan = nonNil(n.NarrativePlan)
		plans[i].LogicalFlow = n.LogicalFlow
		plans[i].CoreFocus = n.CoreFocus
		plans[i].KeyFacts = nonNil(n.KeyFacts)
		plans[i].CoreQuestion = n.CoreQuestion
		plans[i].Difficulty = normalizeDifficulty(n.Difficulty)
		plans[i].WritingMode = normalizeWritingMode(n.WritingMode)
		for _, sub := range n.Subsections {
			plans[i].Subsections = append(plans[i].Subsections, model.Subsection{
				Title:    sub.Title,
				KeyFacts: nonNil(sub.KeyFacts),
			})
		}
	}
}

func normalizeDifficulty(s string) model.Difficulty {
	switch model.Difficulty(s) {
	case model.DifficultyEasy, model.DifficultyMedium, model.DifficultyUnclear:
		return model.Difficulty(s)
	}
	return model.DifficultyUnclear
}

func normalizeWritingMode(s string) model.WritingMode {
	switch model.WritingMode(s) {
	case model.WritingModeDirect, model.WritingModeMultiSolutions:
		return model.WritingMode(s)
	}
	return model.WritingModeDirect
}

const voiceSystemPrompt = `You analyze a reference article's voice and commercial strategy.

Extract:
- general_plan: the overall narrative arc in 2-3 sentences
- conversion_plan: how the article moves readers toward a purchase or action
- brand_points: selling points exclusive to the article's own brand
- competitor_brands / competitor_products: every competing brand and product named (used later for sanitization — be exhaustive)
- regional_voice: regional vocabulary/register signals in the writing
- human_voice: what makes this text read as human-authored (rhythm, asides, hedging)`

const outlineSystemPrompt = `You extract the skeleton of an article.

Return the H1 title, the introduction paragraph text (empty string if there is none), and the ordered list of H2 sections with their subheadings.

Mark exclude=true for boilerplate that should not be rewritten: tables of contents, author bios, related-article lists, footers, CTAs with no body content.`

const narrativeSystemPrompt = `You perform a deep narrative analysis of specific article sections.

For EVERY section in the given list (match titles exactly):
- narrative_plan: ordered hints for how the section develops its point
- logical_flow: one sentence on how the argument flows
- core_focus: what the section is really about
- key_facts: concrete facts, numbers, names the rewrite must preserve
- core_question: the single reader question the section answers
- difficulty: easy / medium / unclear — how settled the answer is
- writing_mode: direct when one clear answer exists, multi_solutions when the section weighs alternatives
- subsections: nested blocks with their own key facts, when present`
