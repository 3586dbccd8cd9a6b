package model

import "time"

// DatasetID is the backend's identifier of a dataset.
type DatasetID int

// Dataset is one entry of GET /datasets/.
type Dataset struct {
	ID            DatasetID  `json:"id"`
	Name          string     `json:"name"`
	Description   string     `json:"description,omitempty"`
	Tags          string     `json:"tags,omitempty"`
	Filename      string     `json:"filename"`
	Rows          int        `json:"rows"`
	Columns       int        `json:"columns"`
	Size          int64      `json:"size"`
	FileType      string     `json:"file_type"`
	MissingValues int        `json:"missing_values"`
	UsedInJobs    int        `json:"used_in_jobs"`
	UserID        UserID     `json:"user_id"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     *time.Time `json:"updated_at,omitempty"`
}

// ColumnSchema describes one column as inferred by the backend.
type ColumnSchema struct {
	Name    string  `json:"name"`
	Type    string  `json:"type"`
	Missing int     `json:"missing"`
	Example *string `json:"example"`
}

// DatasetDetail is the response of GET /datasets/{id}.
type DatasetDetail struct {
	Dataset
	ColumnSchema []ColumnSchema           `json:"column_schema"`
	SampleData   []map[string]interface{} `json:"sample_data"`
}

// ColumnNames returns the schema's column names in order.
func (d DatasetDetail) ColumnNames() []string {
	names := make([]string, 0, len(d.ColumnSchema))
	for _, c := range d.ColumnSchema {
		names = append(names, c.Name)
	}
	return names
}

// DatasetCreate is the JSON body of POST /datasets/.
type DatasetCreate struct {
	Name        string                   `json:"name"`
	Description string                   `json:"description,omitempty"`
	Tags        string                   `json:"tags,omitempty"`
	Filename    string                   `json:"filename"`
	FileType    string                   `json:"file_type"`
	Data        []map[string]interface{} `json:"data"`
}

// Random dataset templates offered by POST /datasets/randomize/.
const (
	RandomCustomerData   = "Customer Data"
	RandomSalesData      = "Sales Data"
	RandomProductCatalog = "Product Catalog"
)

// RandomDatasetTypes lists the templates the backend can generate.
var RandomDatasetTypes = []string{RandomCustomerData, RandomSalesData, RandomProductCatalog}

// Bounds on the number of generated rows.
const (
	MinRandomRows = 1
	MaxRandomRows = 2000
)

// RandomDatasetRequest is the body of POST /datasets/randomize/.
type RandomDatasetRequest struct {
	DatasetType string `json:"dataset_type"`
	NumRows     int    `json:"num_rows"`
}
