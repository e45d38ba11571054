package domain

// SearchResult is a single transient search hit returned by a node.
type SearchResult struct {
	ID             string                 `json:"id"`
	Content        string                 `json:"content"`
	Score          float64                `json:"score"`
	ModelClass     string                 `json:"modelClass,omitempty"`
	ModelType      string                 `json:"modelType,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	SourceNode     string                 `json:"sourceNode,omitempty"`
	SourceNodeName string                 `json:"sourceNodeName,omitempty"`
}

// SearchOptions is the typed option struct for a search call (spec §9:
// "dynamic configuration objects → explicit option structs").
type SearchOptions struct {
	Collections    []string               `json:"collections,omitempty"`
	Filters        map[string]interface{} `json:"filters,omitempty"`
	Threshold      float64                `json:"threshold,omitempty"`
	UserID         string                 `json:"userId,omitempty"`
	SkipUserFilter bool                   `json:"skipUserFilter,omitempty"`
	Strategy       string                 `json:"strategy,omitempty"`
	MaxNodes       int                    `json:"maxNodes,omitempty"`
}

// MergeStats summarizes a merged result set (spec §4.7).
type MergeStats struct {
	ByNode   map[string]int `json:"byNode"`
	ByType   map[string]int `json:"byType"`
	AvgScore float64        `json:"avgScore"`
	MinScore float64        `json:"minScore"`
	MaxScore float64        `json:"maxScore"`
}

// SearchResponse is the payload returned by Federated Search (C12).
type SearchResponse struct {
	Query         string         `json:"query"`
	TotalResults  int            `json:"totalResults"`
	Results       []SearchResult `json:"results"`
	NodesSearched int            `json:"nodesSearched"`
	NodeBreakdown map[string]int `json:"nodeBreakdown"`
	TypeBreakdown map[string]int `json:"typeBreakdown,omitempty"`
	MergeStrategy string         `json:"mergeStrategy,omitempty"`
	AvgScore      float64        `json:"avgScore,omitempty"`
	Fallback      bool           `json:"fallback,omitempty"`
	Partial       bool           `json:"partial,omitempty"`
}

// AggregateEntry is a single collection's summary in an Aggregate response.
type AggregateEntry struct {
	Count        int    `json:"count"`
	IndexedCount int    `json:"indexedCount"`
	DisplayName  string `json:"displayName,omitempty"`
	Description  string `json:"description,omitempty"`
}

// AggregateResponse is the payload returned by Federated Aggregate.
type AggregateResponse struct {
	AggregateData map[string]AggregateEntry `json:"aggregateData"`
}
