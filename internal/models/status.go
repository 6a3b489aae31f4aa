package models

// Status summarizes the session log and the memory index.
type Status struct {
	Sessions       int64  `json:"sessions"`
	Turns          int64  `json:"turns"`
	IndexSize      int    `json:"index_size"`
	IndexDimension int    `json:"index_dimension"`
	Provider       string `json:"embedding_provider"`
	DatabasePath   string `json:"database_path"`
	IndexPath      string `json:"index_path"`
	DiskUsageBytes *int64 `json:"disk_usage_bytes,omitempty"`
}
