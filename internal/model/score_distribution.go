package model

const HistogramBins = 20

type IterationScoreDistribution struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	TagID          string    `json:"tag_id"`
	Iteration      int       `json:"iteration"`
	BinEdges       []float64 `json:"bin_edges"`
	BinCounts      []int     `json:"bin_counts"`
	PositiveCount  int       `json:"positive_count"`
	NegativeCount  int       `json:"negative_count"`
	MeanScore      float64   `json:"mean_score"`
	PositiveScores []float64 `json:"positive_scores"`
	NegativeScores []float64 `json:"negative_scores"`
	Ctime          int64     `json:"ctime"`
}
