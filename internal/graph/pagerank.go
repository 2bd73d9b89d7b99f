package graph

import "sort"

const (
	pagerankDamping    = 0.85
	pagerankIterations = 30
)

// RankedNode is one node with its centrality score.
type RankedNode struct {
	NodeID string  `json:"node_id"`
	Score  float64 `json:"score"`
}

// PageRank computes weighted PageRank over the undirected graph. Central
// nodes in a fraud ring (the coordinator sharing attributes with many shells)
// rank highest. Returns all nodes, highest score first.
func (g *Graph) PageRank() []RankedNode {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n := len(g.nodes)
	if n == 0 {
		return nil
	}

	// outWeight is the total incident edge weight per node; isolated nodes
	// distribute nothing.
	outWeight := make(map[string]float64, n)
	for _, edge := range g.edges {
		outWeight[edge.Source] += edge.Weight
		outWeight[edge.Target] += edge.Weight
	}

	rank := make(map[string]float64, n)
	initial := 1.0 / float64(n)
	for id := range g.nodes {
		rank[id] = initial
	}

	base := (1 - pagerankDamping) / float64(n)
	for i := 0; i < pagerankIterations; i++ {
		next := make(map[string]float64, n)
		var dangling float64
		for id := range g.nodes {
			if outWeight[id] == 0 {
				dangling += rank[id]
			}
		}
		danglingShare := pagerankDamping * dangling / float64(n)

		for id := range g.nodes {
			next[id] = base + danglingShare
		}
		for _, edge := range g.edges {
			if w := outWeight[edge.Source]; w > 0 {
				next[edge.Target] += pagerankDamping * rank[edge.Source] * edge.Weight / w
			}
			if w := outWeight[edge.Target]; w > 0 {
				next[edge.Source] += pagerankDamping * rank[edge.Target] * edge.Weight / w
			}
		}
		rank = next
	}

	ranked := make([]RankedNode, 0, n)
	for id, score := range rank {
		ranked = append(ranked, RankedNode{NodeID: id, Score: score})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].NodeID < ranked[j].NodeID
	})
	return ranked
}
