// Package graph implements the in-memory property graph used to detect
// relationship-based fraud rings: typed nodes, canonical undirected edges,
// property indexes, traversal, risk propagation, clustering and centrality.
package graph

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"dev.helix.sentinel/internal/errs"
)

// NodeType classifies a graph node.
type NodeType string

const (
	NodeTypeSeller  NodeType = "seller"
	NodeTypeBuyer   NodeType = "buyer"
	NodeTypeDevice  NodeType = "device"
	NodeTypeAccount NodeType = "account"
)

// EdgeType classifies a relationship between two nodes.
type EdgeType string

const (
	EdgeSharedEmail    EdgeType = "SHARED_EMAIL"
	EdgeSharedPhone    EdgeType = "SHARED_PHONE"
	EdgeSharedIP       EdgeType = "SHARED_IP"
	EdgeSharedBank     EdgeType = "SHARED_BANK"
	EdgeSharedTaxID    EdgeType = "SHARED_TAX_ID"
	EdgeSharedDevice   EdgeType = "SHARED_DEVICE"
	EdgeSimilarAddress EdgeType = "SIMILAR_ADDRESS"
)

// Node is a typed property node. Edges reference nodes by id only.
type Node struct {
	ID         string                 `json:"id"`
	Type       NodeType               `json:"type"`
	Properties map[string]interface{} `json:"properties"`
}

// Edge is an undirected weighted relationship. The id is canonical: the
// lexicographically smaller endpoint comes first, so one undirected edge
// exists per (pair, type).
type Edge struct {
	ID         string                 `json:"id"`
	Source     string                 `json:"source"`
	Target     string                 `json:"target"`
	Type       EdgeType               `json:"type"`
	Weight     float64                `json:"weight"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// indexedProperties is the fixed set of node properties maintained in the
// co-occurrence index.
var indexedProperties = []string{
	"email", "phone", "ipAddress", "accountNumber", "taxId", "deviceFingerprint", "address",
}

// Graph is the in-memory property graph.
type Graph struct {
	nodes map[string]*Node
	edges map[string]*Edge
	// adjacency maps node id to the set of incident edge ids.
	adjacency map[string]map[string]struct{}
	// index maps property name -> normalized value -> node id set.
	index  map[string]map[string]map[string]struct{}
	logger *zap.Logger
	mu     sync.RWMutex
}

// NewGraph creates an empty graph.
func NewGraph(logger *zap.Logger) *Graph {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Graph{
		nodes:     make(map[string]*Node),
		edges:     make(map[string]*Edge),
		adjacency: make(map[string]map[string]struct{}),
		index:     make(map[string]map[string]map[string]struct{}),
		logger:    logger,
	}
	for _, prop := range indexedProperties {
		g.index[prop] = make(map[string]map[string]struct{})
	}
	return g
}

// normalizeValue trims and lowercases an indexed property value.
func normalizeValue(v interface{}) string {
	s, ok := v.(string)
	if !ok {
		s = fmt.Sprintf("%v", v)
	}
	return strings.ToLower(strings.TrimSpace(s))
}

// CanonicalEdgeID builds the deduplicating edge id for an undirected pair.
func CanonicalEdgeID(a, b string, edgeType EdgeType) string {
	if b < a {
		a, b = b, a
	}
	return fmt.Sprintf("E-%s-%s-%s", a, b, edgeType)
}

// AddNode inserts a node or merges properties into an existing one.
// Index entries for changed indexed properties are moved to the new value.
// Calling it twice with the same arguments is a no-op on the structure.
func (g *Graph) AddNode(id string, nodeType NodeType, properties map[string]interface{}) *Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addNodeLocked(id, nodeType, properties)
}

func (g *Graph) addNodeLocked(id string, nodeType NodeType, properties map[string]interface{}) *Node {
	node, exists := g.nodes[id]
	if !exists {
		node = &Node{ID: id, Type: nodeType, Properties: make(map[string]interface{})}
		g.nodes[id] = node
		g.adjacency[id] = make(map[string]struct{})
	}

	for k, v := range properties {
		if g.isIndexed(k) {
			if old, ok := node.Properties[k]; ok {
				g.deindexLocked(k, normalizeValue(old), id)
			}
			g.indexLocked(k, normalizeValue(v), id)
		}
		node.Properties[k] = v
	}
	return node
}

// GetNode returns a node by id.
func (g *Graph) GetNode(id string) (*Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	node, ok := g.nodes[id]
	return node, ok
}

// DeleteNode removes a node, its index entries and incident edges.
func (g *Graph) DeleteNode(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	node, ok := g.nodes[id]
	if !ok {
		return errs.NotFound("node", id)
	}

	for k, v := range node.Properties {
		if g.isIndexed(k) {
			g.deindexLocked(k, normalizeValue(v), id)
		}
	}
	for edgeID := range g.adjacency[id] {
		edge := g.edges[edgeID]
		other := edge.Source
		if other == id {
			other = edge.Target
		}
		delete(g.adjacency[other], edgeID)
		delete(g.edges, edgeID)
	}
	delete(g.adjacency, id)
	delete(g.nodes, id)
	return nil
}

// AddEdge creates an undirected edge between two existing nodes. The
// canonical edge id deduplicates: adding the same (pair, type) again returns
// the existing edge.
func (g *Graph) AddEdge(source, target string, edgeType EdgeType, weight float64, properties map[string]interface{}) (*Edge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addEdgeLocked(source, target, edgeType, weight, properties)
}

func (g *Graph) addEdgeLocked(source, target string, edgeType EdgeType, weight float64, properties map[string]interface{}) (*Edge, error) {
	if source == target {
		return nil, errs.InvalidArgument("self-edges are not allowed")
	}
	if _, ok := g.nodes[source]; !ok {
		return nil, errs.NotFound("node", source)
	}
	if _, ok := g.nodes[target]; !ok {
		return nil, errs.NotFound("node", target)
	}
	if weight <= 0 || weight > 1 {
		return nil, errs.InvalidArgument(fmt.Sprintf("edge weight out of range (0,1]: %v", weight))
	}

	id := CanonicalEdgeID(source, target, edgeType)
	if edge, ok := g.edges[id]; ok {
		return edge, nil
	}

	a, b := source, target
	if b < a {
		a, b = b, a
	}
	edge := &Edge{
		ID:         id,
		Source:     a,
		Target:     b,
		Type:       edgeType,
		Weight:     weight,
		Properties: properties,
	}
	g.edges[id] = edge
	g.adjacency[source][id] = struct{}{}
	g.adjacency[target][id] = struct{}{}
	return edge, nil
}

// GetEdge returns an edge by its canonical id.
func (g *Graph) GetEdge(id string) (*Edge, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	edge, ok := g.edges[id]
	return edge, ok
}

// NodesByProperty returns the ids of nodes whose indexed property matches
// the normalized value.
func (g *Graph) NodesByProperty(property string, value interface{}) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	byValue, ok := g.index[property]
	if !ok {
		return nil
	}
	set := byValue[normalizeValue(value)]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}

func (g *Graph) isIndexed(property string) bool {
	_, ok := g.index[property]
	return ok
}

func (g *Graph) indexLocked(property, value, nodeID string) {
	if value == "" {
		return
	}
	set, ok := g.index[property][value]
	if !ok {
		set = make(map[string]struct{})
		g.index[property][value] = set
	}
	set[nodeID] = struct{}{}
}

func (g *Graph) deindexLocked(property, value, nodeID string) {
	if set, ok := g.index[property][value]; ok {
		delete(set, nodeID)
		if len(set) == 0 {
			delete(g.index[property], value)
		}
	}
}

// floatProperty reads a numeric property, tolerating ints and json floats.
func floatProperty(node *Node, key string) (float64, bool) {
	v, ok := node.Properties[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func boolProperty(node *Node, key string) bool {
	v, ok := node.Properties[key]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

func stringProperty(node *Node, key string) string {
	v, ok := node.Properties[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
