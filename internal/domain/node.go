// Package domain holds the federated node fabric's shared types: the
// node record, circuit breaker state, cache entries, search results,
// routing decisions, and the boundary interfaces the core consumes.
package domain

import (
	"net/url"
	"strings"
	"sync"
	"time"
)

// NodeType distinguishes the master from its children.
type NodeType string

const (
	NodeMaster NodeType = "master"
	NodeChild  NodeType = "child"
)

// NodeStatus is the operational status of a Node.
type NodeStatus string

const (
	StatusActive   NodeStatus = "active"
	StatusInactive NodeStatus = "inactive"
	StatusError    NodeStatus = "error"
)

// DefaultPingFailureThreshold is the pingFailures count at or above which a
// node is no longer considered healthy, independent of its breaker state.
const DefaultPingFailureThreshold = 3

// DefaultFreshnessWindow bounds how stale LastPingAt may be for a node
// to still count as healthy.
const DefaultFreshnessWindow = 2 * time.Minute

// Collection describes a single searchable corpus owned by a node.
type Collection struct {
	ModelClass  string `json:"modelClass"`
	DisplayName string `json:"displayName,omitempty"`
	Description string `json:"description,omitempty"`
}

// Node is the persistent record of a peer in the fleet. Mutable
// operational counters (ActiveConnections, SuccessCount, FailureCount,
// PingFailures, AvgResponseTime) are guarded by mu — callers must use
// the accessor methods below rather than touching the fields directly
// from more than one goroutine.
type Node struct {
	mu sync.Mutex

	ID      string   `json:"id"`
	Slug    string   `json:"slug"`
	Name    string   `json:"name"`
	Type    NodeType `json:"type"`
	Version string   `json:"version"`

	BaseURL               string    `json:"baseUrl"`
	APIKey                string    `json:"apiKey,omitempty"`
	RefreshTokenHash      string    `json:"-"`
	RefreshTokenExpiresAt time.Time `json:"refreshTokenExpiresAt,omitempty"`

	Capabilities         []string     `json:"capabilities,omitempty"`
	Collections          []Collection `json:"collections,omitempty"`
	Domains              []string     `json:"domains,omitempty"`
	DataTypes            []string     `json:"dataTypes,omitempty"`
	Keywords             []string     `json:"keywords,omitempty"`
	Workflows            []string     `json:"workflows,omitempty"`
	AutonomousCollectors []string     `json:"autonomousCollectors,omitempty"`
	Description          string       `json:"description,omitempty"`

	Status          NodeStatus `json:"status"`
	Weight          int        `json:"weight"`
	ActiveConns     int64      `json:"activeConnections"`
	AvgResponseTime float64    `json:"avgResponseTime"`
	PingFailures    int        `json:"pingFailures"`
	LastPingAt      time.Time  `json:"lastPingAt,omitempty"`
	SuccessCount    int64      `json:"successCount"`
	FailureCount    int64      `json:"failureCount"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate checks the Node invariants from spec §3.
func (n *Node) Validate() error {
	if strings.TrimSpace(n.Slug) == "" {
		return ErrInvalidNode
	}
	if _, err := url.ParseRequestURI(n.BaseURL); err != nil {
		return ErrInvalidBaseURL
	}
	if n.Weight < 1 {
		return ErrInvalidWeight
	}
	return nil
}

// Snapshot returns a copy of the node safe to read without holding mu,
// suitable for serialization or for handing to a load-balancer pass.
func (n *Node) Snapshot() Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	cp := *n
	cp.Capabilities = append([]string(nil), n.Capabilities...)
	cp.Collections = append([]Collection(nil), n.Collections...)
	cp.Domains = append([]string(nil), n.Domains...)
	cp.DataTypes = append([]string(nil), n.DataTypes...)
	cp.Keywords = append([]string(nil), n.Keywords...)
	cp.Workflows = append([]string(nil), n.Workflows...)
	cp.AutonomousCollectors = append([]string(nil), n.AutonomousCollectors...)
	return cp
}

// IncrActiveConns increments the active-connection counter. Must be
// paired with DecrActiveConns on every exit path (success, error, panic
// recovery) per spec §5.
func (n *Node) IncrActiveConns() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ActiveConns++
	return n.ActiveConns
}

// DecrActiveConns decrements the active-connection counter, floored at 0.
func (n *Node) DecrActiveConns() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ActiveConns > 0 {
		n.ActiveConns--
	}
	return n.ActiveConns
}

// ActiveConnections returns the current connection count.
func (n *Node) ActiveConnections() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ActiveConns
}

// RecordSuccess records a successful call against the node, updating the
// exponentially-smoothed average response time (alpha=0.2, matching the
// teacher's latency smoothing in the registry ping loop).
func (n *Node) RecordSuccess(latency time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.SuccessCount++
	n.observeLatency(latency)
}

// RecordFailure records a failed call against the node.
func (n *Node) RecordFailure() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.FailureCount++
}

func (n *Node) observeLatency(latency time.Duration) {
	const alpha = 0.2
	ms := float64(latency.Microseconds()) / 1000.0
	if n.AvgResponseTime == 0 {
		n.AvgResponseTime = ms
		return
	}
	n.AvgResponseTime = alpha*ms + (1-alpha)*n.AvgResponseTime
}

// SuccessRate returns successes / (successes+failures), defaulting to 1
// when there is no history (optimistic default for a fresh node).
func (n *Node) SuccessRate() float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := n.SuccessCount + n.FailureCount
	if total == 0 {
		return 1
	}
	return float64(n.SuccessCount) / float64(total)
}

// RecordPingFailure increments PingFailures; RecordPingSuccess clears it.
func (n *Node) RecordPingFailure() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.PingFailures++
}

func (n *Node) RecordPingSuccess(at time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.PingFailures = 0
	n.LastPingAt = at
}

// IsHealthy reports whether the node is active, below the ping-failure
// threshold, and has been pinged within the freshness window.
func (n *Node) IsHealthy(threshold int, freshness time.Duration) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Status != StatusActive {
		return false
	}
	if n.PingFailures >= threshold {
		return false
	}
	if n.LastPingAt.IsZero() {
		return false
	}
	return time.Since(n.LastPingAt) <= freshness
}

// SetStatus sets the node's status under lock.
func (n *Node) SetStatus(s NodeStatus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Status = s
}

// GetStatus reads the node's status under lock.
func (n *Node) GetStatus() NodeStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.Status
}

// MergeAdvertisedMetadata merges metadata advertised by a peer's health
// response into this node record (spec §4.8 ping behavior).
func (n *Node) MergeAdvertisedMetadata(m AdvertisedMetadata) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if m.Version != "" {
		n.Version = m.Version
	}
	if m.Description != "" {
		n.Description = m.Description
	}
	if m.Capabilities != nil {
		n.Capabilities = m.Capabilities
	}
	if m.Collections != nil {
		n.Collections = m.Collections
	}
	if m.Domains != nil {
		n.Domains = m.Domains
	}
	if m.DataTypes != nil {
		n.DataTypes = m.DataTypes
	}
	if m.Keywords != nil {
		n.Keywords = m.Keywords
	}
	if m.Workflows != nil {
		n.Workflows = m.Workflows
	}
	if m.AutonomousCollectors != nil {
		n.AutonomousCollectors = m.AutonomousCollectors
	}
}

// AdvertisedMetadata is the payload a node's health endpoint returns,
// shared by the local discovery (C10) and remote ping (C8) paths.
type AdvertisedMetadata struct {
	Status               string       `json:"status"`
	Version              string       `json:"version"`
	Capabilities         []string     `json:"capabilities,omitempty"`
	Description          string       `json:"description,omitempty"`
	Domains              []string     `json:"domains,omitempty"`
	DataTypes            []string     `json:"dataTypes,omitempty"`
	Keywords             []string     `json:"keywords,omitempty"`
	Collections          []Collection `json:"collections,omitempty"`
	Workflows            []string     `json:"workflows,omitempty"`
	AutonomousCollectors []string     `json:"autonomousCollectors,omitempty"`
}
