package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/didi/gendry/builder"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/xxxsen/birdsearch/internal/model"
	"github.com/xxxsen/birdsearch/internal/pkg/dbutil"
	"github.com/xxxsen/birdsearch/internal/vecmath"
)

const embeddingLookupChunk = 1000

type EmbeddingRepo struct {
	db *sql.DB
}

func NewEmbeddingRepo(db *sql.DB) *EmbeddingRepo {
	return &EmbeddingRepo{db: db}
}

func (r *EmbeddingRepo) PutEmbeddings(ctx context.Context, items []model.ClipEmbedding) error {
	if len(items) == 0 {
		return nil
	}
	const query = `
		INSERT INTO clip_embeddings (clip_id, model_run_id, dataset_id, embedding)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (model_run_id, clip_id) DO UPDATE SET
			dataset_id = EXCLUDED.dataset_id,
			embedding = EXCLUDED.embedding
	`
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, item := range items {
		if _, err := stmt.ExecContext(ctx, item.ClipID, item.ModelRunID, item.DatasetID, pgvector.NewVector(item.Vector)); err != nil {
			return fmt.Errorf("upsert embedding %s: %w", item.ClipID, err)
		}
	}
	return tx.Commit()
}

func (r *EmbeddingRepo) GetEmbedding(ctx context.Context, clipID, modelRunID string) ([]float32, bool, error) {
	const query = `SELECT embedding FROM clip_embeddings WHERE model_run_id = $1 AND clip_id = $2`
	var embedding pgvector.Vector
	if err := r.db.QueryRowContext(ctx, query, modelRunID, clipID).Scan(&embedding); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	return embedding.Slice(), true, nil
}

func (r *EmbeddingRepo) GetEmbeddings(ctx context.Context, modelRunID string, clipIDs []string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(clipIDs))
	for start := 0; start < len(clipIDs); start += embeddingLookupChunk {
		end := min(start+embeddingLookupChunk, len(clipIDs))
		query, args, err := sqlx.In(`SELECT clip_id, embedding FROM clip_embeddings WHERE model_run_id = ? AND clip_id IN (?)`,
			modelRunID, clipIDs[start:end])
		if err != nil {
			return nil, err
		}
		query = sqlx.Rebind(sqlx.DOLLAR, query)
		rows, err := r.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var clipID string
			var embedding pgvector.Vector
			if err := rows.Scan(&clipID, &embedding); err != nil {
				rows.Close()
				return nil, err
			}
			out[clipID] = embedding.Slice()
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ScanPool pages through the pool in clip id order.
func (r *EmbeddingRepo) ScanPool(ctx context.Context, scope model.DatasetScope, modelRunID string, batchSize int, fn func([]model.ClipEmbedding) error) error {
	if batchSize <= 0 {
		batchSize = 1000
	}
	if !scope.All && len(scope.DatasetIDs) == 0 {
		return nil
	}
	last := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		where := map[string]interface{}{
			"model_run_id": modelRunID,
			"clip_id >":    last,
			"_orderby":     "clip_id asc",
			"_limit":       []uint{0, uint(batchSize)},
		}
		if !scope.All {
			where["dataset_id in"] = toInterfaces(scope.DatasetIDs)
		}
		sqlStr, args, err := builder.BuildSelect("clip_embeddings", where, []string{"clip_id", "model_run_id", "dataset_id", "embedding"})
		if err != nil {
			return err
		}
		sqlStr, args = dbutil.Finalize(sqlStr, args)
		batch, err := r.scanBatch(ctx, sqlStr, args)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		last = batch[len(batch)-1].ClipID
		if err := fn(batch); err != nil {
			return err
		}
		if len(batch) < batchSize {
			return nil
		}
	}
}

func (r *EmbeddingRepo) scanBatch(ctx context.Context, sqlStr string, args []interface{}) ([]model.ClipEmbedding, error) {
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	batch := make([]model.ClipEmbedding, 0)
	for rows.Next() {
		var item model.ClipEmbedding
		var embedding pgvector.Vector
		if err := rows.Scan(&item.ClipID, &item.ModelRunID, &item.DatasetID, &embedding); err != nil {
			return nil, err
		}
		item.Vector = embedding.Slice()
		batch = append(batch, item)
	}
	return batch, rows.Err()
}

// NearestClips runs the top-K query in the vector index, skipping degenerate
// rows and excluded clips.
func (r *EmbeddingRepo) NearestClips(ctx context.Context, scope model.DatasetScope, modelRunID string, query []float32, metric model.DistanceMetric, limit int, exclude []string) ([]model.ScoredClip, error) {
	if limit <= 0 || (!scope.All && len(scope.DatasetIDs) == 0) {
		return []model.ScoredClip{}, nil
	}
	op := "<=>"
	if metric == model.DistanceEuclidean {
		op = "<->"
	}
	var sb strings.Builder
	sb.WriteString("SELECT clip_id, embedding, embedding " + op + " $1 AS d FROM clip_embeddings WHERE model_run_id = $2 AND vector_norm(embedding) > $3")
	args := []interface{}{pgvector.NewVector(query), modelRunID, vecmath.DegenerateNorm}
	if !scope.All {
		args = append(args, pq.Array(scope.DatasetIDs))
		fmt.Fprintf(&sb, " AND dataset_id = ANY($%d)", len(args))
	}
	if len(exclude) > 0 {
		args = append(args, pq.Array(exclude))
		fmt.Fprintf(&sb, " AND NOT (clip_id = ANY($%d))", len(args))
	}
	args = append(args, limit)
	fmt.Fprintf(&sb, " ORDER BY d ASC, clip_id ASC LIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.ScoredClip, 0, limit)
	for rows.Next() {
		var item model.ScoredClip
		var embedding pgvector.Vector
		var d float64
		if err := rows.Scan(&item.ClipID, &embedding, &d); err != nil {
			return nil, err
		}
		item.Vector = embedding.Slice()
		if metric == model.DistanceEuclidean {
			item.Raw = d
			item.Score = -d
		} else {
			item.Raw = 1 - d
			item.Score = 1 - d
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func toInterfaces(ids []string) []interface{} {
	out := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		out = append(out, id)
	}
	return out
}
