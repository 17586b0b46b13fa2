package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/didi/gendry/builder"
	"github.com/pgvector/pgvector-go"

	"github.com/xxxsen/birdsearch/internal/model"
	"github.com/xxxsen/birdsearch/internal/pkg/dbutil"
	appErr "github.com/xxxsen/birdsearch/internal/pkg/errors"
)

var sessionFields = []string{
	"id", "project_id", "name", "tags", "params", "distance_metric", "model_run_id", "scope",
	"current_iteration", "is_search_complete", "is_labeling_complete", "is_finalized",
	"finalized_model_id", "created_by", "ctime", "mtime",
}

type SessionRepo struct {
	db *sql.DB
}

func NewSessionRepo(db *sql.DB) *SessionRepo {
	return &SessionRepo{db: db}
}

// CreateSession stores the session and its reference sounds in one
// transaction.
func (r *SessionRepo) CreateSession(ctx context.Context, sess *model.SearchSession) error {
	tagsJSON, _ := json.Marshal(sess.Tags)
	paramsJSON, _ := json.Marshal(sess.Params)
	scopeJSON, _ := json.Marshal(sess.Scope)
	data := map[string]interface{}{
		"id":                   sess.ID,
		"project_id":           sess.ProjectID,
		"name":                 sess.Name,
		"tags":                 string(tagsJSON),
		"params":               string(paramsJSON),
		"distance_metric":      string(sess.DistanceMetric),
		"model_run_id":         sess.ModelRunID,
		"scope":                string(scopeJSON),
		"current_iteration":    sess.CurrentIteration,
		"is_search_complete":   sess.IsSearchComplete,
		"is_labeling_complete": sess.IsLabelingComplete,
		"is_finalized":         sess.IsFinalized,
		"finalized_model_id":   sess.FinalizedModelID,
		"created_by":           sess.CreatedBy,
		"ctime":                sess.Ctime,
		"mtime":                sess.Mtime,
	}
	sqlStr, args, err := builder.BuildInsert("search_sessions", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
		if dbutil.IsConflict(err) {
			return appErr.ErrConflict
		}
		return err
	}
	const refQuery = `
		INSERT INTO search_references (id, session_id, tag_id, clip_id, embedding, position)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	for i, ref := range sess.References {
		if _, err := tx.ExecContext(ctx, refQuery, ref.ID, sess.ID, ref.TagID, ref.ClipID, pgvector.NewVector(ref.Embedding), i); err != nil {
			return fmt.Errorf("insert reference: %w", err)
		}
	}
	return tx.Commit()
}

func (r *SessionRepo) GetSession(ctx context.Context, sessionID string) (*model.SearchSession, error) {
	where := map[string]interface{}{"id": sessionID}
	sqlStr, args, err := builder.BuildSelect("search_sessions", where, sessionFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	var (
		sess                            model.SearchSession
		tagsJSON, paramsJSON, scopeJSON []byte
		metric                          string
	)
	err = r.db.QueryRowContext(ctx, sqlStr, args...).Scan(
		&sess.ID, &sess.ProjectID, &sess.Name, &tagsJSON, &paramsJSON, &metric, &sess.ModelRunID, &scopeJSON,
		&sess.CurrentIteration, &sess.IsSearchComplete, &sess.IsLabelingComplete, &sess.IsFinalized,
		&sess.FinalizedModelID, &sess.CreatedBy, &sess.Ctime, &sess.Mtime,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErr.ErrNotFound
		}
		return nil, err
	}
	sess.DistanceMetric = model.DistanceMetric(metric)
	if err := json.Unmarshal(tagsJSON, &sess.Tags); err != nil {
		return nil, fmt.Errorf("decode session tags: %w", err)
	}
	if err := json.Unmarshal(paramsJSON, &sess.Params); err != nil {
		return nil, fmt.Errorf("decode session params: %w", err)
	}
	if err := json.Unmarshal(scopeJSON, &sess.Scope); err != nil {
		return nil, fmt.Errorf("decode session scope: %w", err)
	}
	refs, err := r.listReferences(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sess.References = refs
	return &sess, nil
}

// DeleteSession removes the session row; dependent rows go with it through
// ON DELETE CASCADE.
func (r *SessionRepo) DeleteSession(ctx context.Context, sessionID string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM search_sessions WHERE id = $1", sessionID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return appErr.ErrNotFound
	}
	return nil
}

func (r *SessionRepo) listReferences(ctx context.Context, sessionID string) ([]model.ReferenceSound, error) {
	const query = `
		SELECT id, session_id, tag_id, clip_id, embedding
		FROM search_references
		WHERE session_id = $1
		ORDER BY position ASC
	`
	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	refs := make([]model.ReferenceSound, 0)
	for rows.Next() {
		var ref model.ReferenceSound
		var embedding pgvector.Vector
		if err := rows.Scan(&ref.ID, &ref.SessionID, &ref.TagID, &ref.ClipID, &embedding); err != nil {
			return nil, err
		}
		ref.Embedding = embedding.Slice()
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (r *SessionRepo) UpdateProgress(ctx context.Context, sess *model.SearchSession) error {
	where := map[string]interface{}{"id": sess.ID}
	update := map[string]interface{}{
		"current_iteration":    sess.CurrentIteration,
		"is_search_complete":   sess.IsSearchComplete,
		"is_labeling_complete": sess.IsLabelingComplete,
		"is_finalized":         sess.IsFinalized,
		"finalized_model_id":   sess.FinalizedModelID,
		"mtime":                sess.Mtime,
	}
	sqlStr, args, err := builder.BuildUpdate("search_sessions", where, update)
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
