package graph

import (
	"go.uber.org/zap"
)

// relationshipRules maps each indexed property to the edge it yields and the
// confidence weight of that connection. Bank accounts and tax ids are near
// certain identity links; shared IPs and similar addresses are weaker.
var relationshipRules = []struct {
	Property string
	EdgeType EdgeType
	Weight   float64
}{
	{"accountNumber", EdgeSharedBank, 0.95},
	{"taxId", EdgeSharedTaxID, 0.95},
	{"email", EdgeSharedEmail, 0.90},
	{"phone", EdgeSharedPhone, 0.85},
	{"deviceFingerprint", EdgeSharedDevice, 0.80},
	{"ipAddress", EdgeSharedIP, 0.70},
	{"address", EdgeSimilarAddress, 0.60},
}

// AddSeller inserts a seller node and automatically discovers relationship
// edges to every existing node sharing an indexed attribute value. Returns
// the edges created or reused by this call.
func (g *Graph) AddSeller(sellerID string, properties map[string]interface{}) (*Node, []*Edge) {
	g.mu.Lock()
	defer g.mu.Unlock()

	node := g.addNodeLocked(sellerID, NodeTypeSeller, properties)

	var edges []*Edge
	for _, rule := range relationshipRules {
		raw, ok := node.Properties[rule.Property]
		if !ok {
			continue
		}
		value := normalizeValue(raw)
		if value == "" {
			continue
		}
		for otherID := range g.index[rule.Property][value] {
			if otherID == sellerID {
				continue
			}
			edge, err := g.addEdgeLocked(sellerID, otherID, rule.EdgeType, rule.Weight, nil)
			if err != nil {
				g.logger.Warn("Relationship discovery skipped edge",
					zap.String("seller_id", sellerID),
					zap.String("other_id", otherID),
					zap.String("edge_type", string(rule.EdgeType)),
					zap.Error(err))
				continue
			}
			edges = append(edges, edge)
		}
	}

	if len(edges) > 0 {
		g.logger.Debug("Discovered seller relationships",
			zap.String("seller_id", sellerID),
			zap.Int("edges", len(edges)))
	}
	return node, edges
}
