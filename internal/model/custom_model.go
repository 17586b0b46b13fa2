package model

type CustomModelStatus string

const (
	CustomModelPending  CustomModelStatus = "pending"
	CustomModelTraining CustomModelStatus = "training"
	CustomModelTrained  CustomModelStatus = "trained"
	CustomModelDeployed CustomModelStatus = "deployed"
	CustomModelFailed   CustomModelStatus = "failed"
	CustomModelArchived CustomModelStatus = "archived"
)

type CustomModel struct {
	ID            string            `json:"id" db:"id"`
	ProjectID     string            `json:"project_id" db:"project_id"`
	SessionID     string            `json:"session_id" db:"session_id"`
	Name          string            `json:"name" db:"name"`
	TagID         string            `json:"tag_id" db:"tag_id"`
	ArtifactPath  string            `json:"artifact_path" db:"artifact_path"`
	Kind          string            `json:"kind" db:"kind"`
	PositiveCount int               `json:"positive_count" db:"positive_count"`
	NegativeCount int               `json:"negative_count" db:"negative_count"`
	Status        CustomModelStatus `json:"status" db:"status"`
	ErrorMessage  string            `json:"error_message,omitempty" db:"error_message"`
	Ctime         int64             `json:"ctime" db:"ctime"`
	Mtime         int64             `json:"mtime" db:"mtime"`
}
