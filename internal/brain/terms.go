package brain

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"copyforge.app/pipeline/core/config"
	"copyforge.app/pipeline/internal/model"
)

const defaultTermCacheTTL = 5 * time.Minute

// TermReplacer applies a remotely managed original→replacement term
// table to generated content. The table is a two-column CSV fetched
// over HTTP and cached; fetch failures degrade to the last fetched
// table so the pass never blocks generation.
type TermReplacer struct {
	url        string
	ttl        time.Duration
	httpClient *http.Client

	mu        sync.Mutex
	mapping   map[string]string
	pattern   *regexp.Regexp
	fetchedAt time.Time
}

func NewTermReplacer(cfg config.TermsConfig) *TermReplacer {
	ttl := defaultTermCacheTTL
	if cfg.CacheTTLMs > 0 {
		ttl = time.Duration(cfg.CacheTTLMs) * time.Millisecond
	}
	return &TermReplacer{
		url:        cfg.CSVURL,
		ttl:        ttl,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Replace substitutes every mapped term in content, longest match
// first, and reports the distinct substitutions made. With no source
// configured or no table available the content passes through
// unchanged.
func (t *TermReplacer) Replace(ctx context.Context, content string) (string, []model.TermChange) {
	if t.url == "" || content == "" {
		return content, []model.TermChange{}
	}

	t.mu.Lock()
	t.refreshLocked(ctx)
	mapping, pattern := t.mapping, t.pattern
	t.mu.Unlock()

	if pattern == nil || len(mapping) == 0 {
		return content, []model.TermChange{}
	}

	seen := map[string]bool{}
	changes := []model.TermChange{}
	replaced := pattern.ReplaceAllStringFunc(content, func(match string) string {
		replacement, ok := mapping[match]
		if !ok {
			return match
		}
		if !seen[match] {
			seen[match] = true
			changes = append(changes, model.TermChange{Before: match, After: replacement})
		}
		return replacement
	})
	return replaced, changes
}

func (t *TermReplacer) refreshLocked(ctx context.Context) {
	if time.Since(t.fetchedAt) < t.ttl && t.pattern != nil {
		return
	}

	mapping, err := t.fetch(ctx)
	if err != nil {
		// Keep serving the last fetched table.
		slog.WarnContext(ctx, "term table fetch failed, using cached table",
			"url", t.url,
			"cached_terms", len(t.mapping),
			"error", err)
		t.fetchedAt = time.Now()
		return
	}

	t.mapping = mapping
	t.pattern = compileTermPattern(mapping)
	t.fetchedAt = time.Now()
	slog.DebugContext(ctx, "term table refreshed", "terms", len(mapping))
}

func (t *TermReplacer) fetch(ctx context.Context) (map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch term csv: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch term csv: status %d", resp.StatusCode)
	}
	return parseTermCSV(resp.Body)
}

func parseTermCSV(r io.Reader) (map[string]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	mapping := map[string]string{}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse term csv: %w", err)
		}
		if len(record) < 2 {
			continue
		}
		original := strings.TrimSpace(record[0])
		replacement := strings.TrimSpace(record[1])
		if original == "" || original == replacement {
			continue
		}
		mapping[original] = replacement
	}
	return mapping, nil
}

// compileTermPattern builds one alternation over every original term,
// longest first so overlapping terms match greedily.
func compileTermPattern(mapping map[string]string) *regexp.Regexp {
	if len(mapping) == 0 {
		return nil
	}
	terms := make([]string, 0, len(mapping))
	for original := range mapping {
		terms = append(terms, original)
	}
	sort.Slice(terms, func(i, j int) bool {
		if len(terms[i]) != len(terms[j]) {
			return len(terms[i]) > len(terms[j])
		}
		return terms[i] < terms[j]
	})
	quoted := make([]string, len(terms))
	for i, term := range terms {
		quoted[i] = regexp.QuoteMeta(term)
	}
	return regexp.MustCompile(strings.Join(quoted, "|"))
}
