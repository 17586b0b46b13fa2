package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/xxxsen/birdsearch/internal/model"
	"github.com/xxxsen/birdsearch/internal/store"
)

const importBatchSize = 1000

type embeddingLine struct {
	ClipID     string    `json:"clip_id"`
	ModelRunID string    `json:"model_run_id"`
	DatasetID  string    `json:"dataset_id"`
	Embedding  []float32 `json:"embedding"`
}

// importEmbeddings reads one JSON object per line and writes them in
// batches.
func importEmbeddings(ctx context.Context, w store.EmbeddingWriter, path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open embeddings: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 1<<20), 64<<20)
	batch := make([]model.ClipEmbedding, 0, importBatchSize)
	total := 0
	lineNo := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := w.PutEmbeddings(ctx, batch); err != nil {
			return err
		}
		total += len(batch)
		batch = batch[:0]
		return nil
	}
	for scanner.Scan() {
		lineNo++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var line embeddingLine
		if err := json.Unmarshal(raw, &line); err != nil {
			return total, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if line.ClipID == "" || line.ModelRunID == "" || len(line.Embedding) == 0 {
			return total, fmt.Errorf("line %d: clip_id, model_run_id and embedding are required", lineNo)
		}
		batch = append(batch, model.ClipEmbedding{
			ClipID:     line.ClipID,
			ModelRunID: line.ModelRunID,
			DatasetID:  line.DatasetID,
			Vector:     line.Embedding,
		})
		if len(batch) >= importBatchSize {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return total, err
	}
	return total, flush()
}
