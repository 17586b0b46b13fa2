package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/xxxsen/birdsearch/internal/model"
	"github.com/xxxsen/birdsearch/internal/pkg/dbutil"
	appErr "github.com/xxxsen/birdsearch/internal/pkg/errors"
)

type distributionRow struct {
	ID             string  `db:"id"`
	SessionID      string  `db:"session_id"`
	TagID          string  `db:"tag_id"`
	Iteration      int     `db:"iteration"`
	BinEdges       string  `db:"bin_edges"`
	BinCounts      string  `db:"bin_counts"`
	PositiveCount  int     `db:"positive_count"`
	NegativeCount  int     `db:"negative_count"`
	MeanScore      float64 `db:"mean_score"`
	PositiveScores string  `db:"positive_scores"`
	NegativeScores string  `db:"negative_scores"`
	Ctime          int64   `db:"ctime"`
}

func (row *distributionRow) toModel() (model.IterationScoreDistribution, error) {
	dist := model.IterationScoreDistribution{
		ID:            row.ID,
		SessionID:     row.SessionID,
		TagID:         row.TagID,
		Iteration:     row.Iteration,
		PositiveCount: row.PositiveCount,
		NegativeCount: row.NegativeCount,
		MeanScore:     row.MeanScore,
		Ctime:         row.Ctime,
	}
	fields := []struct {
		raw string
		dst interface{}
	}{
		{row.BinEdges, &dist.BinEdges},
		{row.BinCounts, &dist.BinCounts},
		{row.PositiveScores, &dist.PositiveScores},
		{row.NegativeScores, &dist.NegativeScores},
	}
	for _, f := range fields {
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return dist, fmt.Errorf("decode distribution %s: %w", row.ID, err)
		}
	}
	return dist, nil
}

type DistributionRepo struct {
	db *sqlx.DB
}

func NewDistributionRepo(db *sql.DB) *DistributionRepo {
	return &DistributionRepo{db: sqlx.NewDb(db, "postgres")}
}

func (r *DistributionRepo) AppendDistribution(ctx context.Context, dist *model.IterationScoreDistribution) error {
	edges, _ := json.Marshal(dist.BinEdges)
	counts, _ := json.Marshal(dist.BinCounts)
	pos, _ := json.Marshal(dist.PositiveScores)
	neg, _ := json.Marshal(dist.NegativeScores)
	row := distributionRow{
		ID:             dist.ID,
		SessionID:      dist.SessionID,
		TagID:          dist.TagID,
		Iteration:      dist.Iteration,
		BinEdges:       string(edges),
		BinCounts:      string(counts),
		PositiveCount:  dist.PositiveCount,
		NegativeCount:  dist.NegativeCount,
		MeanScore:      dist.MeanScore,
		PositiveScores: string(pos),
		NegativeScores: string(neg),
		Ctime:          dist.Ctime,
	}
	const query = `
		INSERT INTO iteration_score_distributions
			(id, session_id, tag_id, iteration, bin_edges, bin_counts, positive_count, negative_count,
			 mean_score, positive_scores, negative_scores, ctime)
		VALUES
			(:id, :session_id, :tag_id, :iteration, :bin_edges, :bin_counts, :positive_count, :negative_count,
			 :mean_score, :positive_scores, :negative_scores, :ctime)
	`
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		if dbutil.IsConflict(err) {
			return appErr.ErrConflict
		}
		return err
	}
	return nil
}

func (r *DistributionRepo) ListDistributions(ctx context.Context, sessionID string) ([]model.IterationScoreDistribution, error) {
	const query = `
		SELECT id, session_id, tag_id, iteration, bin_edges, bin_counts, positive_count, negative_count,
			mean_score, positive_scores, negative_scores, ctime
		FROM iteration_score_distributions
		WHERE session_id = $1
		ORDER BY iteration ASC, tag_id ASC
	`
	var rows []distributionRow
	if err := r.db.SelectContext(ctx, &rows, query, sessionID); err != nil {
		return nil, err
	}
	out := make([]model.IterationScoreDistribution, 0, len(rows))
	for i := range rows {
		dist, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, dist)
	}
	return out, nil
}
