// Package repo is the postgres backend of store.Store. Embeddings live in a
// pgvector column so nearest-neighbour queries run inside the database.
package repo

import (
	"database/sql"

	"github.com/xxxsen/birdsearch/internal/store"
)

type Store struct {
	*EmbeddingRepo
	*SessionRepo
	*ResultRepo
	*ResultTagRepo
	*DistributionRepo
	*CustomModelRepo
}

var (
	_ store.Store           = (*Store)(nil)
	_ store.VectorSearcher  = (*Store)(nil)
	_ store.EmbeddingWriter = (*Store)(nil)
)

func New(db *sql.DB) *Store {
	tags := NewResultTagRepo(db)
	return &Store{
		EmbeddingRepo:    NewEmbeddingRepo(db),
		SessionRepo:      NewSessionRepo(db),
		ResultRepo:       NewResultRepo(db, tags),
		ResultTagRepo:    tags,
		DistributionRepo: NewDistributionRepo(db),
		CustomModelRepo:  NewCustomModelRepo(db),
	}
}
