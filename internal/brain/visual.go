package brain

import (
	"context"
	"fmt"
	"log/slog"

	"copyforge.app/pipeline/common/llm"
	"copyforge.app/pipeline/common/text"
	"copyforge.app/pipeline/internal/model"
)

type visualResponse struct {
	Style     string   `json:"style" jsonschema_description:"Overall illustration/photography style in a short phrase"`
	Palette   []string `json:"palette" jsonschema_description:"Dominant colors as plain words"`
	Mood      string   `json:"mood"`
	Subjects  []string `json:"subjects" jsonschema_description:"Recurring visual subjects"`
	AvoidList []string `json:"avoid_list" jsonschema_description:"Visual elements to avoid for this audience"`
}

var visualSchema = llm.GenerateSchema[visualResponse]()

type VisualResult struct {
	Style model.VisualStyle
	Usage llm.TokenUsage
	Cost  llm.CostBreakdown
}

// VisualAnalyzer infers the visual direction for article imagery from
// the source text. Failures degrade to an empty style.
type VisualAnalyzer struct {
	llm llm.Client
}

func NewVisualAnalyzer(client llm.Client) *VisualAnalyzer {
	return &VisualAnalyzer{llm: client}
}

func (a *VisualAnalyzer) Analyze(ctx context.Context, req model.AnalysisRequest, cancel *CancelToken) VisualResult {
	if cancel.Cancelled() {
		return VisualResult{}
	}

	region := RegionFor(req.Audience)

	var response visualResponse
	resp, err := a.llm.Chat(ctx, llm.Request{
		SystemPrompt: visualSystemPrompt,
		UserPrompt: fmt.Sprintf("## Audience\n%s\n\n## Source article\n%s",
			region.RegionName, text.TruncateTokens(req.SourceText, 6000)),
		SchemaName:  "visual_style",
		Schema:      visualSchema,
		Temperature: llm.Temp(0.3),
	}, &response)

	result := VisualResult{}
	if resp != nil {
		result.Usage = resp.Usage
		result.Cost = llm.Cost(resp.Usage, a.llm.Model())
	}
	if err != nil {
		slog.WarnContext(ctx, "visual style inference failed", "error", err)
		return result
	}

	result.Style = model.VisualStyle{
		Style:     response.Style,
		Palette:   response.Palette,
		Mood:      response.Mood,
		Subjects:  response.Subjects,
		AvoidList: response.AvoidList,
	}
	return result
}

const visualSystemPrompt = `You infer the visual direction for a rewritten article's imagery.

From the article's topic and tone, describe a coherent style (photography or illustration), a color palette, the mood, recurring subjects, and anything to avoid for the target region.`
