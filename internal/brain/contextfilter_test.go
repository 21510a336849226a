package brain_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"copyforge.app/pipeline/common/llm"
	"copyforge.app/pipeline/internal/brain"
	"copyforge.app/pipeline/internal/model"
)

var _ = Describe("ContextFilter", func() {
	var (
		mockLLM *mockLLMClient
		filter  *brain.ContextFilter
		ctx     context.Context
	)

	BeforeEach(func() {
		mockLLM = &mockLLMClient{}
		filter = brain.NewContextFilter(mockLLM, 0)
		ctx = context.Background()
	})

	It("skips the model call for small pools with no knowledge text", func() {
		in := brain.FilterInput{
			SectionTitle:   "吸力怎麼看",
			KeyPoints:      []string{"p1", "p2", "p3", "p4", "p5"},
			AuthorityTerms: []string{"t1", "t2"},
			Audience:       model.AudienceTW,
		}

		out := filter.Filter(ctx, in)

		Expect(mockLLM.calls()).To(Equal(0))
		Expect(out.KeyPoints).To(Equal(in.KeyPoints))
		Expect(out.AuthorityTerms).To(Equal(in.AuthorityTerms))
		Expect(out.Insights).To(BeEmpty())
		Expect(out.Usage).To(Equal(llm.TokenUsage{}))
	})

	It("calls the model when a candidate pool exceeds the cheap-path limit", func() {
		mockLLM.chatFn = func(_ context.Context, _ llm.Request, result any) (*llm.Response, error) {
			respondJSON(result, map[string]any{
				"key_points":      []string{"p1"},
				"authority_terms": []string{},
				"insights":        []string{"insight"},
			})
			return &llm.Response{Usage: llm.TokenUsage{PromptTokens: 10, CompletionTokens: 5}}, nil
		}

		out := filter.Filter(ctx, brain.FilterInput{
			SectionTitle: "A",
			KeyPoints:    []string{"p1", "p2", "p3", "p4", "p5", "p6"},
			Audience:     model.AudienceTW,
		})

		Expect(mockLLM.calls()).To(Equal(1))
		Expect(out.KeyPoints).To(ConsistOf("p1"))
		Expect(out.Insights).To(ConsistOf("insight"))
		Expect(out.Usage.PromptTokens).To(Equal(10))
	})

	It("calls the model whenever knowledge text is present", func() {
		mockLLM.chatFn = func(_ context.Context, _ llm.Request, result any) (*llm.Response, error) {
			respondJSON(result, map[string]any{"key_points": []string{}, "authority_terms": []string{}, "insights": []string{}})
			return &llm.Response{}, nil
		}

		filter.Filter(ctx, brain.FilterInput{
			SectionTitle:   "A",
			KeyPoints:      []string{"p1"},
			BrandKnowledge: "品牌知識庫內容",
			Audience:       model.AudienceTW,
		})

		Expect(mockLLM.calls()).To(Equal(1))
	})

	It("calls the model whenever authority material is present", func() {
		var prompt string
		mockLLM.chatFn = func(_ context.Context, req llm.Request, result any) (*llm.Response, error) {
			prompt = req.UserPrompt
			respondJSON(result, map[string]any{"key_points": []string{}, "authority_terms": []string{}, "insights": []string{}})
			return &llm.Response{}, nil
		}

		filter.Filter(ctx, brain.FilterInput{
			SectionTitle:  "A",
			KeyPoints:     []string{"p1"},
			AuthorityText: "權威媒體引用素材",
			Audience:      model.AudienceTW,
		})

		Expect(mockLLM.calls()).To(Equal(1))
		Expect(prompt).To(ContainSubstring("## Authority material"))
		Expect(prompt).To(ContainSubstring("權威媒體引用素材"))
	})

	It("falls back to unfiltered candidates when the model fails", func() {
		mockLLM.chatFn = func(_ context.Context, _ llm.Request, _ any) (*llm.Response, error) {
			return &llm.Response{Usage: llm.TokenUsage{PromptTokens: 7}}, errors.New("model unavailable")
		}

		in := brain.FilterInput{
			SectionTitle: "A",
			KeyPoints:    []string{"p1", "p2", "p3", "p4", "p5", "p6"},
			Audience:     model.AudienceTW,
		}
		out := filter.Filter(ctx, in)

		Expect(out.KeyPoints).To(Equal(in.KeyPoints))
		Expect(out.Insights).To(BeEmpty())
		Expect(out.Usage.PromptTokens).To(Equal(7))
	})
})
