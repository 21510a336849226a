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

var _ = Describe("HeadingRefiner", func() {
	var (
		mockLLM *mockLLMClient
		refiner *brain.HeadingRefiner
		ctx     context.Context
	)

	BeforeEach(func() {
		mockLLM = &mockLLMClient{}
		refiner = brain.NewHeadingRefiner(mockLLM)
		ctx = context.Background()
	})

	rewriteBatch := func(headings []map[string]any) func(context.Context, llm.Request, any) (*llm.Response, error) {
		return func(_ context.Context, _ llm.Request, result any) (*llm.Response, error) {
			respondJSON(result, map[string]any{"headings": headings})
			return &llm.Response{Usage: llm.TokenUsage{PromptTokens: 10, CompletionTokens: 5}}, nil
		}
	}

	It("does nothing for an empty heading list", func() {
		result := refiner.Refine(ctx, nil, model.AudienceTW, nil)

		Expect(mockLLM.calls()).To(Equal(0))
		Expect(result.Revisions).To(BeEmpty())
	})

	It("picks the candidate least similar to the original", func() {
		mockLLM.chatFn = rewriteBatch([]map[string]any{
			{
				"original": "吸力怎麼看",
				"candidates": []map[string]any{
					{"text": "吸力規格解讀", "rationale": "close paraphrase"},
					{"text": "別再被吸力數字騙了", "rationale": "hooks the reader"},
				},
				"best_pick": "吸力規格解讀",
			},
		})
		mockLLM.embedFn = func(_ context.Context, texts []string) ([][]float64, error) {
			// Original, near-identical candidate, distant candidate.
			return [][]float64{{1, 0}, {0.99, 0.14}, {0.1, 0.99}}, nil
		}

		result := refiner.Refine(ctx, []string{"吸力怎麼看"}, model.AudienceTW, nil)

		Expect(result.Revisions).To(HaveLen(1))
		rev := result.Revisions[0]
		Expect(rev.After).To(Equal("別再被吸力數字騙了"))
		Expect(rev.Rationale).To(Equal("hooks the reader"))
		Expect(rev.NeedsManual).To(BeFalse())
		Expect(rev.Similarity).To(BeNumerically("<", 0.5))
	})

	It("routes near-identical rewrites to manual review", func() {
		mockLLM.chatFn = rewriteBatch([]map[string]any{
			{
				"original":   "常見問題",
				"candidates": []map[string]any{{"text": "常見問題一覽", "rationale": "adds nothing"}},
			},
		})
		mockLLM.embedFn = func(_ context.Context, texts []string) ([][]float64, error) {
			return [][]float64{{1, 0}, {1, 0.0001}}, nil
		}

		result := refiner.Refine(ctx, []string{"常見問題"}, model.AudienceTW, nil)

		rev := result.Revisions[0]
		Expect(rev.After).To(Equal("常見問題"))
		Expect(rev.NeedsManual).To(BeTrue())
		Expect(rev.Similarity).To(BeNumerically(">", 0.995))
	})

	It("drops candidates textually identical to the original", func() {
		mockLLM.chatFn = rewriteBatch([]map[string]any{
			{
				"original": "前言",
				"candidates": []map[string]any{
					{"text": "前言", "rationale": "echoed the input"},
					{"text": " 前言 ", "rationale": "echoed with whitespace"},
				},
			},
		})

		result := refiner.Refine(ctx, []string{"前言"}, model.AudienceTW, nil)

		// All candidates collapse to the original, so no embed happens.
		rev := result.Revisions[0]
		Expect(rev.After).To(Equal("前言"))
		Expect(rev.NeedsManual).To(BeTrue())
	})

	It("falls back to the first candidate when embedding fails", func() {
		mockLLM.chatFn = rewriteBatch([]map[string]any{
			{
				"original": "保固說明",
				"candidates": []map[string]any{
					{"text": "十年保固值得嗎", "rationale": "frames the question"},
					{"text": "保固條款全解析", "rationale": "broader"},
				},
			},
		})
		mockLLM.embedFn = func(_ context.Context, _ []string) ([][]float64, error) {
			return nil, errors.New("embedding unavailable")
		}

		result := refiner.Refine(ctx, []string{"保固說明"}, model.AudienceTW, nil)

		rev := result.Revisions[0]
		Expect(rev.After).To(Equal("十年保固值得嗎"))
		Expect(rev.NeedsManual).To(BeTrue())
	})

	It("keeps every original when the batch call fails", func() {
		mockLLM.chatFn = func(_ context.Context, _ llm.Request, _ any) (*llm.Response, error) {
			return nil, errors.New("model unavailable")
		}

		result := refiner.Refine(ctx, []string{"A", "B"}, model.AudienceTW, nil)

		Expect(result.Revisions).To(HaveLen(2))
		for _, rev := range result.Revisions {
			Expect(rev.After).To(Equal(rev.Original))
			Expect(rev.NeedsManual).To(BeTrue())
		}
	})

	It("marks headings missing from the response for manual review", func() {
		mockLLM.chatFn = rewriteBatch([]map[string]any{
			{
				"original":   "A",
				"candidates": []map[string]any{{"text": "A 改寫", "rationale": "ok"}},
			},
		})
		mockLLM.embedFn = func(_ context.Context, texts []string) ([][]float64, error) {
			return [][]float64{{1, 0}, {0, 1}}, nil
		}

		result := refiner.Refine(ctx, []string{"A", "B"}, model.AudienceTW, nil)

		Expect(result.Revisions).To(HaveLen(2))
		Expect(result.Revisions[0].After).To(Equal("A 改寫"))
		Expect(result.Revisions[1].After).To(Equal("B"))
		Expect(result.Revisions[1].NeedsManual).To(BeTrue())
	})
})
