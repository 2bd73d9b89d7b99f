package graph

import (
	"fmt"
	"sort"
)

// Cluster is a connected component of the graph, the unit suspected fraud
// rings are reported in.
type Cluster struct {
	ID       string   `json:"id"`
	NodeIDs  []string `json:"node_ids"`
	Size     int      `json:"size"`
	AvgRisk  float64  `json:"avg_risk"`
	MaxRisk  float64  `json:"max_risk"`
	EdgeSum  float64  `json:"edge_weight_sum"`
	Suspect  bool     `json:"suspect"`
}

// suspectClusterSize is the component size at which a cluster is flagged.
const suspectClusterSize = 3

// suspectClusterAvgRisk flags smaller components when their members are
// already individually risky.
const suspectClusterAvgRisk = 60.0

// Clusters finds connected components with at least minSize members using
// union-find over the edge set. Components are ordered largest first.
func (g *Graph) Clusters(minSize int) []Cluster {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if minSize < 2 {
		minSize = 2
	}

	parent := make(map[string]string, len(g.nodes))
	for id := range g.nodes {
		parent[id] = id
	}
	var find func(id string) string
	find = func(id string) string {
		if parent[id] != id {
			parent[id] = find(parent[id])
		}
		return parent[id]
	}
	union := func(a, b string) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}

	for _, edge := range g.edges {
		union(edge.Source, edge.Target)
	}

	members := map[string][]string{}
	for id := range g.nodes {
		root := find(id)
		members[root] = append(members[root], id)
	}

	var clusters []Cluster
	for _, ids := range members {
		if len(ids) < minSize {
			continue
		}
		sort.Strings(ids)

		var riskSum, maxRisk float64
		var scored int
		for _, id := range ids {
			if score, ok := floatProperty(g.nodes[id], "riskScore"); ok {
				riskSum += score
				scored++
				if score > maxRisk {
					maxRisk = score
				}
			}
		}
		avgRisk := 0.0
		if scored > 0 {
			avgRisk = riskSum / float64(scored)
		}

		var edgeSum float64
		seen := map[string]bool{}
		for _, id := range ids {
			for edgeID := range g.adjacency[id] {
				if !seen[edgeID] {
					seen[edgeID] = true
					edgeSum += g.edges[edgeID].Weight
				}
			}
		}

		clusters = append(clusters, Cluster{
			ID:      fmt.Sprintf("cluster-%s", ids[0]),
			NodeIDs: ids,
			Size:    len(ids),
			AvgRisk: avgRisk,
			MaxRisk: maxRisk,
			EdgeSum: edgeSum,
			Suspect: len(ids) >= suspectClusterSize || avgRisk >= suspectClusterAvgRisk,
		})
	}

	sort.Slice(clusters, func(i, j int) bool {
		if clusters[i].Size != clusters[j].Size {
			return clusters[i].Size > clusters[j].Size
		}
		return clusters[i].ID < clusters[j].ID
	})
	return clusters
}
