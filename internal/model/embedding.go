package model

type ClipEmbedding struct {
	ClipID     string    `json:"clip_id"`
	ModelRunID string    `json:"model_run_id"`
	DatasetID  string    `json:"dataset_id"`
	Vector     []float32 `json:"vector"`
}

// ScoredClip is a ranked candidate. Score is higher-is-better for every
// metric; Raw is the metric value itself (similarity or distance).
type ScoredClip struct {
	ClipID string    `json:"clip_id"`
	Score  float64   `json:"score"`
	Raw    float64   `json:"raw"`
	Vector []float32 `json:"-"`
}
