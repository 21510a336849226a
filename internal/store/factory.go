package store

import (
	"copyforge.app/pipeline/core/db"
)

type Stores struct {
	db *db.DB
}

func NewStores(database *db.DB) *Stores {
	return &Stores{db: database}
}

func (s *Stores) Runs() RunStore {
	return newRunStore(s.db)
}

func (s *Stores) Articles() ArticleStore {
	return newArticleStore(s.db)
}
