package graph

import (
	"sort"

	"dev.helix.sentinel/internal/errs"
)

// Subgraph is the result of a neighborhood traversal.
type Subgraph struct {
	Nodes []*Node `json:"nodes"`
	Edges []*Edge `json:"edges"`
}

// propagationDecay is the per-hop dampening applied on top of edge weights
// when risk flows through the graph.
const propagationDecay = 0.7

// Neighbors runs a breadth-first traversal from a start node up to maxHops
// away, optionally restricted to a set of edge types. The start node is
// included in the result.
func (g *Graph) Neighbors(startID string, maxHops int, edgeTypes []EdgeType) (*Subgraph, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.nodes[startID]; !ok {
		return nil, errs.NotFound("node", startID)
	}
	if maxHops < 1 {
		maxHops = 1
	}

	allowed := map[EdgeType]bool{}
	for _, t := range edgeTypes {
		allowed[t] = true
	}

	visited := map[string]bool{startID: true}
	seenEdges := map[string]bool{}
	sub := &Subgraph{Nodes: []*Node{g.nodes[startID]}}

	frontier := []string{startID}
	for hop := 0; hop < maxHops && len(frontier) > 0; hop++ {
		var next []string
		for _, id := range frontier {
			for edgeID := range g.adjacency[id] {
				edge := g.edges[edgeID]
				if len(allowed) > 0 && !allowed[edge.Type] {
					continue
				}
				if !seenEdges[edgeID] {
					seenEdges[edgeID] = true
					sub.Edges = append(sub.Edges, edge)
				}
				other := edge.Source
				if other == id {
					other = edge.Target
				}
				if !visited[other] {
					visited[other] = true
					sub.Nodes = append(sub.Nodes, g.nodes[other])
					next = append(next, other)
				}
			}
		}
		frontier = next
	}
	return sub, nil
}

// PropagatedRisk is one node's share of risk flowing from a source.
type PropagatedRisk struct {
	NodeID     string  `json:"node_id"`
	Score      float64 `json:"score"`
	Hops       int     `json:"hops"`
	PathWeight float64 `json:"path_weight"`
}

// PropagateRisk spreads a risk score outward from a source node. Each hop
// multiplies by the edge weight and a fixed per-hop decay; a node reached by
// several paths keeps the score from the nearest hop, breaking ties on the
// larger accumulated path weight.
func (g *Graph) PropagateRisk(sourceID string, sourceRisk float64, maxHops int) ([]PropagatedRisk, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.nodes[sourceID]; !ok {
		return nil, errs.NotFound("node", sourceID)
	}
	if maxHops < 1 {
		maxHops = 1
	}

	type reach struct {
		hop        int
		pathWeight float64
	}
	best := map[string]reach{sourceID: {hop: 0, pathWeight: 1}}

	frontier := map[string]float64{sourceID: 1}
	for hop := 1; hop <= maxHops && len(frontier) > 0; hop++ {
		next := map[string]float64{}
		for id, pathWeight := range frontier {
			for edgeID := range g.adjacency[id] {
				edge := g.edges[edgeID]
				other := edge.Source
				if other == id {
					other = edge.Target
				}
				w := pathWeight * edge.Weight
				prev, seen := best[other]
				if seen && (prev.hop < hop || (prev.hop == hop && prev.pathWeight >= w)) {
					continue
				}
				best[other] = reach{hop: hop, pathWeight: w}
				if next[other] < w {
					next[other] = w
				}
			}
		}
		frontier = next
	}

	results := make([]PropagatedRisk, 0, len(best)-1)
	decay := 1.0
	decayAt := make([]float64, maxHops+1)
	for h := 0; h <= maxHops; h++ {
		decayAt[h] = decay
		decay *= propagationDecay
	}
	for id, r := range best {
		if id == sourceID {
			continue
		}
		results = append(results, PropagatedRisk{
			NodeID:     id,
			Score:      sourceRisk * r.pathWeight * decayAt[r.hop],
			Hops:       r.hop,
			PathWeight: r.pathWeight,
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].NodeID < results[j].NodeID
	})
	return results, nil
}

// Evidence is one node surfaced by a multi-hop investigation, with the risk
// signals observed on it.
type Evidence struct {
	NodeID      string   `json:"node_id"`
	Hops        int      `json:"hops"`
	Via         EdgeType `json:"via"`
	RiskSignals []string `json:"risk_signals"`
	Node        *Node    `json:"node"`
}

// Investigate walks outward from a start node across edges at or above a
// minimum weight and collects risk signals on every reached node. Nodes with
// no signals are still returned so a caller sees the full neighborhood.
func (g *Graph) Investigate(startID string, maxHops int, minWeight float64) ([]Evidence, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.nodes[startID]; !ok {
		return nil, errs.NotFound("node", startID)
	}
	if maxHops < 1 {
		maxHops = 1
	}

	type entry struct {
		hop int
		via EdgeType
	}
	visited := map[string]entry{startID: {}}

	frontier := []string{startID}
	for hop := 1; hop <= maxHops && len(frontier) > 0; hop++ {
		var next []string
		for _, id := range frontier {
			for edgeID := range g.adjacency[id] {
				edge := g.edges[edgeID]
				if edge.Weight < minWeight {
					continue
				}
				other := edge.Source
				if other == id {
					other = edge.Target
				}
				if _, seen := visited[other]; seen {
					continue
				}
				visited[other] = entry{hop: hop, via: edge.Type}
				next = append(next, other)
			}
		}
		frontier = next
	}

	evidence := make([]Evidence, 0, len(visited)-1)
	for id, e := range visited {
		if id == startID {
			continue
		}
		node := g.nodes[id]
		evidence = append(evidence, Evidence{
			NodeID:      id,
			Hops:        e.hop,
			Via:         e.via,
			RiskSignals: riskSignals(node),
			Node:        node,
		})
	}
	sort.Slice(evidence, func(i, j int) bool {
		if evidence[i].Hops != evidence[j].Hops {
			return evidence[i].Hops < evidence[j].Hops
		}
		return evidence[i].NodeID < evidence[j].NodeID
	})
	return evidence, nil
}

// riskSignals extracts the investigation signals carried on a node's
// properties.
func riskSignals(node *Node) []string {
	var signals []string
	if score, ok := floatProperty(node, "riskScore"); ok && score >= 70 {
		signals = append(signals, "high-risk-score")
	}
	if boolProperty(node, "fraudHistory") {
		signals = append(signals, "fraud-history")
	}
	if boolProperty(node, "watchlistMatch") {
		signals = append(signals, "watchlist-match")
	}
	if stringProperty(node, "status") == "REJECTED" {
		signals = append(signals, "rejected-entity")
	}
	return signals
}
