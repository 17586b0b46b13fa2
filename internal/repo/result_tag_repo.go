package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/didi/gendry/builder"
	"github.com/lib/pq"

	"github.com/xxxsen/birdsearch/internal/pkg/dbutil"
	appErr "github.com/xxxsen/birdsearch/internal/pkg/errors"
	"github.com/xxxsen/birdsearch/internal/pkg/timeutil"
)

type ResultTagRepo struct {
	db *sql.DB
}

func NewResultTagRepo(db *sql.DB) *ResultTagRepo {
	return &ResultTagRepo{db: db}
}

func (r *ResultTagRepo) AddResultTag(ctx context.Context, sessionID, resultID, tagID string) error {
	data := map[string]interface{}{
		"result_id":  resultID,
		"session_id": sessionID,
		"tag_id":     tagID,
		"ctime":      timeutil.NowUnix(),
	}
	sqlStr, args, err := builder.BuildInsert("search_result_tags", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	if _, err := r.db.ExecContext(ctx, sqlStr, args...); err != nil {
		var pgErr *pq.Error
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return appErr.ErrDuplicateLabel
			case "23503":
				return appErr.ErrNotFound
			}
		}
		return err
	}
	return nil
}

func (r *ResultTagRepo) RemoveResultTag(ctx context.Context, sessionID, resultID, tagID string) error {
	where := map[string]interface{}{
		"session_id": sessionID,
		"result_id":  resultID,
		"tag_id":     tagID,
	}
	sqlStr, args, err := builder.BuildDelete("search_result_tags", where)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

func (r *ResultTagRepo) ListResultTags(ctx context.Context, sessionID string) (map[string][]string, error) {
	where := map[string]interface{}{
		"session_id": sessionID,
		"_orderby":   "ctime asc",
	}
	sqlStr, args, err := builder.BuildSelect("search_result_tags", where, []string{"result_id", "tag_id"})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string][]string)
	for rows.Next() {
		var resultID, tagID string
		if err := rows.Scan(&resultID, &tagID); err != nil {
			return nil, err
		}
		out[resultID] = append(out[resultID], tagID)
	}
	return out, rows.Err()
}

func (r *ResultTagRepo) listForResult(ctx context.Context, resultID string) ([]string, error) {
	where := map[string]interface{}{
		"result_id": resultID,
		"_orderby":  "ctime asc",
	}
	sqlStr, args, err := builder.BuildSelect("search_result_tags", where, []string{"tag_id"})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tags := make([]string, 0)
	for rows.Next() {
		var tagID string
		if err := rows.Scan(&tagID); err != nil {
			return nil, err
		}
		tags = append(tags, tagID)
	}
	return tags, rows.Err()
}
