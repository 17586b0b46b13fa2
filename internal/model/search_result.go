package model

type SampleType string

const (
	SampleEasyPositive   SampleType = "easy_positive"
	SampleBoundary       SampleType = "boundary"
	SampleOthers         SampleType = "others"
	SampleActiveLearning SampleType = "active_learning"
	// SampleSeed marks results created from labels supplied at session creation.
	SampleSeed SampleType = "seed"
)

type SearchResult struct {
	ID             string     `json:"id"`
	SessionID      string     `json:"session_id"`
	ClipID         string     `json:"clip_id"`
	Similarity     float64    `json:"similarity"`
	Rank           int        `json:"rank"`
	SampleType     SampleType `json:"sample_type"`
	IterationAdded int        `json:"iteration_added"`
	ModelScore     *float64   `json:"model_score,omitempty"`
	SourceTagID    string     `json:"source_tag_id,omitempty"`
	IsNegative     bool       `json:"is_negative"`
	IsUncertain    bool       `json:"is_uncertain"`
	IsSkipped      bool       `json:"is_skipped"`
	TagIDs         []string   `json:"tag_ids"`
	LabeledBy      string     `json:"labeled_by,omitempty"`
	LabeledOn      int64      `json:"labeled_on,omitempty"`
	Ctime          int64      `json:"ctime"`
}

func (r *SearchResult) IsLabeled() bool {
	return len(r.TagIDs) > 0 || r.IsNegative
}

// IsTrainable reports whether the result may feed a training set.
func (r *SearchResult) IsTrainable() bool {
	return r.IsLabeled() && !r.IsUncertain && !r.IsSkipped
}

func (r *SearchResult) HasTag(tagID string) bool {
	for _, id := range r.TagIDs {
		if id == tagID {
			return true
		}
	}
	return false
}

type LabelState struct {
	IsNegative  bool   `json:"is_negative"`
	IsUncertain bool   `json:"is_uncertain"`
	IsSkipped   bool   `json:"is_skipped"`
	LabeledBy   string `json:"labeled_by"`
	LabeledOn   int64  `json:"labeled_on"`
}

type ResultFilter struct {
	Iteration  *int
	SampleType SampleType
	Labeled    *bool
}
