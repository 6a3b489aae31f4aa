package models

// Hit is one recalled memory with its scores. Distance is the Euclidean distance
// from the query embedding, or -1 when the memory was found by keyword only.
type Hit struct {
	Memory        Memory  `json:"memory"`
	Score         float64 `json:"score"`
	KeywordScore  float64 `json:"keyword_score"`
	SemanticScore float64 `json:"semantic_score"`
	Distance      float64 `json:"distance"`
	Rank          int     `json:"rank"`
}

// RecallResponse is the result of a recall request.
type RecallResponse struct {
	Hits      []*Hit `json:"hits"`
	Total     int    `json:"total"`
	QueryTime int64  `json:"query_time_ms"`
	Query     string `json:"query"`
}
