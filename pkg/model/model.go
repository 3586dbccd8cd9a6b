package model

import (
	"sort"
	"time"
)

// ModelID is the backend's identifier of a model configuration.
type ModelID int

// TaskType is the learning task a model family solves.
type TaskType string

const (
	// TaskClassification predicts a discrete label.
	TaskClassification TaskType = "classification"
	// TaskRegression predicts a continuous value.
	TaskRegression TaskType = "regression"
	// TaskClustering groups rows without a target.
	TaskClustering TaskType = "clustering"
	// TaskDimensionalityReduction projects rows onto fewer features.
	TaskDimensionalityReduction TaskType = "dimensionality_reduction"
)

// TaskTypes lists every task type the backend accepts.
var TaskTypes = []TaskType{
	TaskClassification, TaskRegression, TaskClustering, TaskDimensionalityReduction,
}

// Supervised reports whether jobs of this task need a target column.
func (t TaskType) Supervised() bool {
	return t == TaskClassification || t == TaskRegression
}

// Hyperparameters maps a hyperparameter name to its value. The shape depends on the family.
type Hyperparameters map[string]interface{}

// Model is a saved model configuration.
type Model struct {
	ID              ModelID         `json:"id"`
	Name            string          `json:"name"`
	Description     string          `json:"description,omitempty"`
	ModelType       string          `json:"model_type"`
	TaskType        TaskType        `json:"task_type"`
	Hyperparameters Hyperparameters `json:"hyperparameters,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       *time.Time      `json:"updated_at,omitempty"`
}

// ModelCreate is the body of POST /models/ and PUT /models/{id}.
type ModelCreate struct {
	Name            string          `json:"name"`
	Description     string          `json:"description,omitempty"`
	ModelType       string          `json:"model_type"`
	TaskType        TaskType        `json:"task_type"`
	Hyperparameters Hyperparameters `json:"hyperparameters"`
}

// Family describes a model family the dashboard knows how to configure.
type Family struct {
	Name     string
	TaskType TaskType
	Defaults Hyperparameters
}

// Families is the catalog of configurable model families, keyed by model_type.
var Families = map[string]Family{
	"logistic_regression": {
		Name: "Logistic Regression", TaskType: TaskClassification,
		Defaults: Hyperparameters{"C": 1.0, "penalty": "l2", "max_iter": 100},
	},
	"svc": {
		Name: "Support Vector Classifier", TaskType: TaskClassification,
		Defaults: Hyperparameters{"C": 1.0, "kernel": "rbf", "gamma": "scale"},
	},
	"random_forest_classifier": {
		Name: "Random Forest Classifier", TaskType: TaskClassification,
		Defaults: Hyperparameters{"n_estimators": 100, "max_depth": nil},
	},
	"mlp_classifier": {
		Name: "Neural Network Classifier", TaskType: TaskClassification,
		Defaults: Hyperparameters{
			"hidden_layer_sizes": []int{100}, "activation": "relu", "learning_rate_init": 0.001,
		},
	},
	"linear_regression": {
		Name: "Linear Regression", TaskType: TaskRegression,
		Defaults: Hyperparameters{"fit_intercept": true},
	},
	"svr": {
		Name: "Support Vector Regressor", TaskType: TaskRegression,
		Defaults: Hyperparameters{"C": 1.0, "kernel": "rbf", "epsilon": 0.1},
	},
	"mlp_regressor": {
		Name: "Neural Network Regressor", TaskType: TaskRegression,
		Defaults: Hyperparameters{
			"hidden_layer_sizes": []int{100}, "activation": "relu", "learning_rate_init": 0.001,
		},
	},
	"kmeans": {
		Name: "K-Means", TaskType: TaskClustering,
		Defaults: Hyperparameters{"n_clusters": 8, "init": "k-means++"},
	},
	"dbscan": {
		Name: "DBSCAN", TaskType: TaskClustering,
		Defaults: Hyperparameters{"eps": 0.5, "min_samples": 5},
	},
	"pca": {
		Name: "PCA", TaskType: TaskDimensionalityReduction,
		Defaults: Hyperparameters{"n_components": 2},
	},
	"tsne": {
		Name: "t-SNE", TaskType: TaskDimensionalityReduction,
		Defaults: Hyperparameters{"n_components": 2, "perplexity": 30.0},
	},
}

// FamilyNames returns the catalog keys in sorted order.
func FamilyNames() []string {
	names := make([]string, 0, len(Families))
	for k := range Families {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// WithDefaults returns a copy of hp with the family's defaults filled in for missing keys.
// Unknown families return hp unchanged.
func (f Family) WithDefaults(hp Hyperparameters) Hyperparameters {
	out := Hyperparameters{}
	for k, v := range f.Defaults {
		out[k] = v
	}
	for k, v := range hp {
		out[k] = v
	}
	return out
}
