package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/xxxsen/birdsearch/internal/filestore"
	"github.com/xxxsen/birdsearch/internal/model"
	"github.com/xxxsen/birdsearch/internal/pkg/timeutil"
)

// SnapshotExporter writes the labeled results behind a finalized model
// somewhere durable and returns its location.
type SnapshotExporter interface {
	Export(ctx context.Context, sess *model.SearchSession, cm *model.CustomModel, results []model.SearchResult) (string, error)
}

type snapshotItem struct {
	ClipID         string           `json:"clip_id"`
	TagIDs         []string         `json:"tag_ids"`
	IsNegative     bool             `json:"is_negative"`
	IsUncertain    bool             `json:"is_uncertain"`
	IsSkipped      bool             `json:"is_skipped"`
	SampleType     model.SampleType `json:"sample_type"`
	IterationAdded int              `json:"iteration_added"`
	LabeledBy      string           `json:"labeled_by,omitempty"`
	LabeledOn      int64            `json:"labeled_on,omitempty"`
}

type snapshot struct {
	SessionID  string         `json:"session_id"`
	ModelID    string         `json:"model_id"`
	TagID      string         `json:"tag_id"`
	ModelRunID string         `json:"model_run_id"`
	Iteration  int            `json:"iteration"`
	ExportedAt int64          `json:"exported_at"`
	Items      []snapshotItem `json:"items"`
}

// FileSnapshotExporter stores a JSON snapshot in the artifact store.
type FileSnapshotExporter struct {
	files filestore.Store
}

func NewFileSnapshotExporter(files filestore.Store) *FileSnapshotExporter {
	return &FileSnapshotExporter{files: files}
}

func snapshotKey(sessionID, modelID string) string {
	return fmt.Sprintf("snapshots/%s/%s.json", sessionID, modelID)
}

func (e *FileSnapshotExporter) Export(ctx context.Context, sess *model.SearchSession, cm *model.CustomModel, results []model.SearchResult) (string, error) {
	snap := snapshot{
		SessionID:  sess.ID,
		ModelID:    cm.ID,
		TagID:      cm.TagID,
		ModelRunID: sess.ModelRunID,
		Iteration:  sess.CurrentIteration,
		ExportedAt: timeutil.NowUnix(),
		Items:      make([]snapshotItem, 0, len(results)),
	}
	for _, r := range results {
		if !r.IsLabeled() && !r.IsUncertain && !r.IsSkipped {
			continue
		}
		snap.Items = append(snap.Items, snapshotItem{
			ClipID:         r.ClipID,
			TagIDs:         r.TagIDs,
			IsNegative:     r.IsNegative,
			IsUncertain:    r.IsUncertain,
			IsSkipped:      r.IsSkipped,
			SampleType:     r.SampleType,
			IterationAdded: r.IterationAdded,
			LabeledBy:      r.LabeledBy,
			LabeledOn:      r.LabeledOn,
		})
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	key := snapshotKey(sess.ID, cm.ID)
	if err := e.files.Save(ctx, key, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("save snapshot: %w", err)
	}
	return key, nil
}
