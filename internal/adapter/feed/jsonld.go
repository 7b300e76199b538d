package feed

import (
	"errors"
	"fmt"

	"github.com/couchcryptid/hml-forecast-producer/internal/domain"
)

const (
	keyGraph = "@graph"
	keyValue = "@value"
)

// decodeCatalog extracts listing nodes from a compacted JSON-LD document. The
// catalog normally carries them under @graph; a document with a single node
// has no @graph and is that node. Value objects ({"@value": ...}) are reduced
// to their value. Context terms are not expanded: the catalog's @context maps
// every term to itself under its @vocab.
func decodeCatalog(doc map[string]any) ([]domain.RawProduct, error) {
	graph, ok := doc[keyGraph]
	if !ok {
		if _, hasID := doc[domain.FieldID]; hasID {
			return []domain.RawProduct{flattenNode(doc)}, nil
		}
		if _, hasIRI := doc[domain.FieldURI]; hasIRI {
			return []domain.RawProduct{flattenNode(doc)}, nil
		}
		return nil, errors.New("catalog document has no @graph")
	}

	nodes, ok := graph.([]any)
	if !ok {
		return nil, fmt.Errorf("catalog @graph is %T, not an array", graph)
	}
	products := make([]domain.RawProduct, 0, len(nodes))
	for i, n := range nodes {
		node, ok := n.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("catalog @graph[%d] is %T, not an object", i, n)
		}
		products = append(products, flattenNode(node))
	}
	return products, nil
}

func flattenNode(node map[string]any) domain.RawProduct {
	p := make(domain.RawProduct, len(node))
	for k, v := range node {
		if k == "@context" {
			continue
		}
		if obj, ok := v.(map[string]any); ok {
			if inner, ok := obj[keyValue]; ok {
				v = inner
			}
		}
		p[k] = v
	}
	return p
}
