package models

// DatasetStatus tracks the loading lifecycle of a dataset.
type DatasetStatus string

const (
	DatasetLoading DatasetStatus = "loading"
	DatasetReady   DatasetStatus = "ready"
	DatasetError   DatasetStatus = "error"
)

// Dataset is a data source attached to a conversation.
type Dataset struct {
	ID           string         `json:"id" yaml:"id"`
	Name         string         `json:"name" yaml:"name"`
	URL          string         `json:"url,omitempty" yaml:"url,omitempty"`
	RowCount     int            `json:"row_count,omitempty" yaml:"row_count,omitempty"`
	ColumnCount  int            `json:"column_count,omitempty" yaml:"column_count,omitempty"`
	Schema       []ColumnSchema `json:"schema,omitempty" yaml:"schema,omitempty"`
	Status       DatasetStatus  `json:"status" yaml:"status"`
	ErrorMessage *string        `json:"error_message,omitempty" yaml:"error_message,omitempty"`
}

// ColumnSchema describes one column of a dataset.
type ColumnSchema struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
}
