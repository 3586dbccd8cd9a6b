package model

import "time"

// JobID is the backend's identifier of a training job.
type JobID int

// JobState is the server-driven status of a job.
type JobState string

const (
	// JobPending has been created but not started.
	JobPending JobState = "pending"
	// JobInProgress is being trained.
	JobInProgress JobState = "in_progress"
	// JobCompleted finished and carries metrics.
	JobCompleted JobState = "completed"
	// JobFailed stopped with an error or was cancelled.
	JobFailed JobState = "failed"
)

// Label is the human readable status shown in lists.
func (s JobState) Label() string {
	switch s {
	case JobPending:
		return "Pending"
	case JobInProgress:
		return "In Progress"
	case JobCompleted:
		return "Completed"
	case JobFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Terminal reports whether no further transitions are expected.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Job is a training job binding a model configuration to a dataset.
type Job struct {
	ID             JobID                  `json:"id"`
	Name           string                 `json:"name"`
	Description    string                 `json:"description,omitempty"`
	ModelID        ModelID                `json:"model_id"`
	DatasetID      DatasetID              `json:"dataset_id"`
	TargetColumn   string                 `json:"target_column,omitempty"`
	FeatureColumns []string               `json:"feature_columns,omitempty"`
	Status         JobState               `json:"status"`
	Progress       float64                `json:"progress"`
	CreatedAt      time.Time              `json:"created_at"`
	StartedAt      *time.Time             `json:"started_at,omitempty"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty"`
	Metrics        map[string]interface{} `json:"metrics,omitempty"`
}

// JobCreate is the body of POST /jobs/.
type JobCreate struct {
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	ModelID        ModelID   `json:"model_id"`
	DatasetID      DatasetID `json:"dataset_id"`
	TargetColumn   string    `json:"target_column,omitempty"`
	FeatureColumns []string  `json:"feature_columns"`
}

// FeatureColumns returns every column except the target, preserving order.
func FeatureColumns(columns []string, target string) []string {
	features := make([]string, 0, len(columns))
	for _, c := range columns {
		if c != target {
			features = append(features, c)
		}
	}
	return features
}
