package repo

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/xxxsen/birdsearch/internal/model"
	"github.com/xxxsen/birdsearch/internal/pkg/dbutil"
	appErr "github.com/xxxsen/birdsearch/internal/pkg/errors"
)

const customModelColumns = `id, project_id, session_id, name, tag_id, artifact_path, kind,
	positive_count, negative_count, status, error_message, ctime, mtime`

type CustomModelRepo struct {
	db *sqlx.DB
}

func NewCustomModelRepo(db *sql.DB) *CustomModelRepo {
	return &CustomModelRepo{db: sqlx.NewDb(db, "postgres")}
}

func (r *CustomModelRepo) CreateCustomModel(ctx context.Context, m *model.CustomModel) error {
	const query = `
		INSERT INTO custom_models (` + customModelColumns + `)
		VALUES (:id, :project_id, :session_id, :name, :tag_id, :artifact_path, :kind,
			:positive_count, :negative_count, :status, :error_message, :ctime, :mtime)
	`
	if _, err := r.db.NamedExecContext(ctx, query, m); err != nil {
		if dbutil.IsConflict(err) {
			return appErr.ErrConflict
		}
		return err
	}
	return nil
}

func (r *CustomModelRepo) GetCustomModel(ctx context.Context, modelID string) (*model.CustomModel, error) {
	const query = `SELECT ` + customModelColumns + ` FROM custom_models WHERE id = $1`
	var m model.CustomModel
	if err := r.db.GetContext(ctx, &m, query, modelID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErr.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (r *CustomModelRepo) UpdateCustomModel(ctx context.Context, m *model.CustomModel) error {
	const query = `
		UPDATE custom_models
		SET name = :name, artifact_path = :artifact_path, positive_count = :positive_count,
			negative_count = :negative_count, status = :status, error_message = :error_message, mtime = :mtime
		WHERE id = :id
	`
	res, err := r.db.NamedExecContext(ctx, query, m)
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

func (r *CustomModelRepo) ListCustomModelsBySession(ctx context.Context, sessionID string) ([]model.CustomModel, error) {
	const query = `SELECT ` + customModelColumns + ` FROM custom_models WHERE session_id = $1 ORDER BY ctime ASC, id ASC`
	out := make([]model.CustomModel, 0)
	if err := r.db.SelectContext(ctx, &out, query, sessionID); err != nil {
		return nil, err
	}
	return out, nil
}
