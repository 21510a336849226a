package brain

import (
	"context"
	"fmt"

	"github.com/typesense/typesense-go/v4/typesense"
	"github.com/typesense/typesense-go/v4/typesense/api"
	"github.com/typesense/typesense-go/v4/typesense/api/pointer"

	"copyforge.app/pipeline/core/config"
)

const brandSearchLimit = 5

// TypesenseSearcher resolves foreign entities against a brand directory
// collection. Documents carry name, aliases and region fields.
type TypesenseSearcher struct {
	client     *typesense.Client
	collection string
}

func NewTypesenseSearcher(cfg config.TypesenseConfig) *TypesenseSearcher {
	return &TypesenseSearcher{
		client: typesense.NewClient(
			typesense.WithServer(cfg.URL),
			typesense.WithAPIKey(cfg.APIKey),
		),
		collection: cfg.Collection,
	}
}

func (s *TypesenseSearcher) Search(ctx context.Context, entity string, region string) ([]string, error) {
	result, err := s.client.Collection(s.collection).Documents().Search(ctx, &api.SearchCollectionParams{
		Q:        pointer.String(entity),
		QueryBy:  pointer.String("name,aliases,category"),
		FilterBy: pointer.String(fmt.Sprintf("region:=%s", region)),
		PerPage:  pointer.Int(brandSearchLimit),
	})
	if err != nil {
		return nil, fmt.Errorf("brand directory search: %w", err)
	}
	if result.Hits == nil {
		return nil, nil
	}

	names := make([]string, 0, len(*result.Hits))
	for _, hit := range *result.Hits {
		if hit.Document == nil {
			continue
		}
		if name, ok := (*hit.Document)["name"].(string); ok && name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}
