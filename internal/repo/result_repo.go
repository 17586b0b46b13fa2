package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/birdsearch/internal/model"
	"github.com/xxxsen/birdsearch/internal/pkg/dbutil"
	appErr "github.com/xxxsen/birdsearch/internal/pkg/errors"
)

var resultFields = []string{
	"id", "session_id", "clip_id", "similarity", "rank", "sample_type", "iteration_added",
	"model_score", "source_tag_id", "is_negative", "is_uncertain", "is_skipped",
	"labeled_by", "labeled_on", "ctime",
}

type ResultRepo struct {
	db   *sql.DB
	tags *ResultTagRepo
}

func NewResultRepo(db *sql.DB, tags *ResultTagRepo) *ResultRepo {
	return &ResultRepo{db: db, tags: tags}
}

func (r *ResultRepo) CreateResults(ctx context.Context, results []model.SearchResult) error {
	if len(results) == 0 {
		return nil
	}
	rows := make([]map[string]interface{}, 0, len(results))
	for _, item := range results {
		var score interface{}
		if item.ModelScore != nil {
			score = *item.ModelScore
		}
		rows = append(rows, map[string]interface{}{
			"id":              item.ID,
			"session_id":      item.SessionID,
			"clip_id":         item.ClipID,
			"similarity":      item.Similarity,
			"rank":            item.Rank,
			"sample_type":     string(item.SampleType),
			"iteration_added": item.IterationAdded,
			"model_score":     score,
			"source_tag_id":   item.SourceTagID,
			"is_negative":     item.IsNegative,
			"is_uncertain":    item.IsUncertain,
			"is_skipped":      item.IsSkipped,
			"labeled_by":      item.LabeledBy,
			"labeled_on":      item.LabeledOn,
			"ctime":           item.Ctime,
		})
	}
	sqlStr, args, err := builder.BuildInsert("search_results", rows)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	if _, err := r.db.ExecContext(ctx, sqlStr, args...); err != nil {
		if dbutil.IsConflict(err) {
			return appErr.ErrConflict
		}
		return err
	}
	return nil
}

func (r *ResultRepo) GetResult(ctx context.Context, sessionID, resultID string) (*model.SearchResult, error) {
	where := map[string]interface{}{"session_id": sessionID, "id": resultID}
	items, err := r.query(ctx, where)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, appErr.ErrNotFound
	}
	tags, err := r.tags.listForResult(ctx, resultID)
	if err != nil {
		return nil, err
	}
	items[0].TagIDs = tags
	return &items[0], nil
}

// ListResults filters on iteration and sample type in SQL and on the
// labeled state after tags are attached.
func (r *ResultRepo) ListResults(ctx context.Context, sessionID string, filter model.ResultFilter) ([]model.SearchResult, error) {
	where := map[string]interface{}{
		"session_id": sessionID,
		"_orderby":   "iteration_added asc, rank asc, id asc",
	}
	if filter.Iteration != nil {
		where["iteration_added"] = *filter.Iteration
	}
	if filter.SampleType != "" {
		where["sample_type"] = string(filter.SampleType)
	}
	items, err := r.query(ctx, where)
	if err != nil {
		return nil, err
	}
	tags, err := r.tags.ListResultTags(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]model.SearchResult, 0, len(items))
	for _, item := range items {
		item.TagIDs = tags[item.ID]
		if item.TagIDs == nil {
			item.TagIDs = []string{}
		}
		if filter.Labeled != nil && item.IsLabeled() != *filter.Labeled {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

func (r *ResultRepo) ListClipIDs(ctx context.Context, sessionID string) ([]string, error) {
	where := map[string]interface{}{"session_id": sessionID}
	sqlStr, args, err := builder.BuildSelect("search_results", where, []string{"clip_id"})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *ResultRepo) UpdateLabelState(ctx context.Context, sessionID, resultID string, state model.LabelState) error {
	where := map[string]interface{}{"session_id": sessionID, "id": resultID}
	update := map[string]interface{}{
		"is_negative":  state.IsNegative,
		"is_uncertain": state.IsUncertain,
		"is_skipped":   state.IsSkipped,
		"labeled_by":   state.LabeledBy,
		"labeled_on":   state.LabeledOn,
	}
	sqlStr, args, err := builder.BuildUpdate("search_results", where, update)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	res, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}

func (r *ResultRepo) query(ctx context.Context, where map[string]interface{}) ([]model.SearchResult, error) {
	sqlStr, args, err := builder.BuildSelect("search_results", where, resultFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]model.SearchResult, 0)
	for rows.Next() {
		var (
			item       model.SearchResult
			sampleType string
			score      sql.NullFloat64
		)
		if err := rows.Scan(&item.ID, &item.SessionID, &item.ClipID, &item.Similarity, &item.Rank, &sampleType,
			&item.IterationAdded, &score, &item.SourceTagID, &item.IsNegative, &item.IsUncertain, &item.IsSkipped,
			&item.LabeledBy, &item.LabeledOn, &item.Ctime); err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		item.SampleType = model.SampleType(sampleType)
		if score.Valid {
			v := score.Float64
			item.ModelScore = &v
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
