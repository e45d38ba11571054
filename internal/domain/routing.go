package domain

// RoutingDecision is the transient result of a Router.Route call (spec §3).
type RoutingDecision struct {
	Node        *Node    `json:"node,omitempty"`
	IsLocal     bool     `json:"isLocal"`
	Reason      string   `json:"reason"`
	Collections []string `json:"collections,omitempty"`
}

// NodeScore pairs a node with the keyword/AI score that produced a
// routing decision, returned by Router.ExplainRouting for observability.
type NodeScore struct {
	NodeSlug string  `json:"nodeSlug"`
	Score    float64 `json:"score"`
	Reason   string  `json:"reason,omitempty"`
}

// RoutingExplanation is ExplainRouting's return value.
type RoutingExplanation struct {
	Decision RoutingDecision `json:"decision"`
	Scores   []NodeScore     `json:"scores"`
}

// NodeDigest is a per-node compact routing summary, cached by
// discovery.Digester until it is marked dirty.
type NodeDigest struct {
	NodeSlug  string `json:"nodeSlug"`
	Text      string `json:"text"`
	Mode      string `json:"mode"` // "template" | "ai"
	Dirty     bool   `json:"-"`
}
