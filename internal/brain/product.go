package brain

import (
	"context"
	"fmt"
	"log/slog"

	"copyforge.app/pipeline/common/llm"
	"copyforge.app/pipeline/common/text"
	"copyforge.app/pipeline/internal/model"
)

type productResponse struct {
	BrandName   string   `json:"brand_name" jsonschema_description:"The brand name"`
	ProductName string   `json:"product_name" jsonschema_description:"The primary product name"`
	USPs        []string `json:"usps" jsonschema_description:"Unique selling points"`
	Mappings    []struct {
		Problem string `json:"problem" jsonschema_description:"A reader pain point"`
		Feature string `json:"feature" jsonschema_description:"The product feature that answers it"`
	} `json:"mappings" jsonschema_description:"Pain-point to feature mappings"`
}

var productSchema = llm.GenerateSchema[productResponse]()

type ProductResult struct {
	Brief *model.ProductBrief
	Usage llm.TokenUsage
	Cost  llm.CostBreakdown
}

// ProductParser turns raw product text into a structured brief used for
// commercial injection. The brief is never mutated after creation.
type ProductParser struct {
	llm llm.Client
}

func NewProductParser(client llm.Client) *ProductParser {
	return &ProductParser{llm: client}
}

// Parse returns a nil brief when there is no product text or the model
// fails — section generation then simply skips commercial injection.
func (p *ProductParser) Parse(ctx context.Context, productText string, cancel *CancelToken) ProductResult {
	if productText == "" || cancel.Cancelled() {
		return ProductResult{}
	}

	var response productResponse
	resp, err := p.llm.Chat(ctx, llm.Request{
		SystemPrompt: productSystemPrompt,
		UserPrompt:   fmt.Sprintf("## Product text\n%s", text.TruncateTokens(productText, 6000)),
		SchemaName:   "product_brief",
		Schema:       productSchema,
		Temperature:  llm.Temp(0.1),
	}, &response)

	result := ProductResult{}
	if resp != nil {
		result.Usage = resp.Usage
		result.Cost = llm.Cost(resp.Usage, p.llm.Model())
	}
	if err != nil {
		slog.WarnContext(ctx, "product parsing failed, skipping commercial injection", "error", err)
		return result
	}

	brief := &model.ProductBrief{
		BrandName:   response.BrandName,
		ProductName: response.ProductName,
		USPs:        nonNil(response.USPs),
	}
	for _, m := range response.Mappings {
		brief.Mappings = append(brief.Mappings, model.ProblemProductMapping{
			Problem: m.Problem,
			Feature: m.Feature,
		})
	}
	result.Brief = brief
	return result
}

const productSystemPrompt = `You extract a commercial brief from raw product/brand text.

Return the brand name, the primary product name, its unique selling points, and pain-point → feature mappings (which reader problem each feature answers). Only use what the text supports — never invent features.`
