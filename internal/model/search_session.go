package model

type DistanceMetric string

const (
	DistanceCosine    DistanceMetric = "cosine"
	DistanceEuclidean DistanceMetric = "euclidean"
)

func (m DistanceMetric) Valid() bool {
	return m == DistanceCosine || m == DistanceEuclidean
}

type DatasetScope struct {
	All        bool     `json:"all"`
	DatasetIDs []string `json:"dataset_ids"`
}

type TargetTag struct {
	TagID    string `json:"tag_id"`
	Name     string `json:"name"`
	Shortcut int    `json:"shortcut"`
}

type ReferenceSound struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	TagID     string    `json:"tag_id"`
	ClipID    string    `json:"clip_id"`
	Embedding []float32 `json:"-"`
}

type SamplingParams struct {
	EasyPositiveK int `json:"easy_positive_k"`
	BoundaryN     int `json:"boundary_n"`
	BoundaryM     int `json:"boundary_m"`
	OthersP       int `json:"others_p"`
}

type SearchSession struct {
	ID                 string           `json:"id"`
	ProjectID          string           `json:"project_id"`
	Name               string           `json:"name"`
	Tags               []TargetTag      `json:"tags"`
	References         []ReferenceSound `json:"references"`
	Params             SamplingParams   `json:"params"`
	DistanceMetric     DistanceMetric   `json:"distance_metric"`
	ModelRunID         string           `json:"model_run_id"`
	Scope              DatasetScope     `json:"scope"`
	CurrentIteration   int              `json:"current_iteration"`
	IsSearchComplete   bool             `json:"is_search_complete"`
	IsLabelingComplete bool             `json:"is_labeling_complete"`
	IsFinalized        bool             `json:"is_finalized"`
	FinalizedModelID   string           `json:"finalized_model_id"`
	CreatedBy          string           `json:"created_by"`
	Ctime              int64            `json:"ctime"`
	Mtime              int64            `json:"mtime"`
}

// PrimaryTag returns the tag with the lowest shortcut.
func (s *SearchSession) PrimaryTag() (TargetTag, bool) {
	if len(s.Tags) == 0 {
		return TargetTag{}, false
	}
	best := s.Tags[0]
	for _, tag := range s.Tags[1:] {
		if tag.Shortcut < best.Shortcut {
			best = tag
		}
	}
	return best, true
}

func (s *SearchSession) HasTag(tagID string) bool {
	for _, tag := range s.Tags {
		if tag.TagID == tagID {
			return true
		}
	}
	return false
}
