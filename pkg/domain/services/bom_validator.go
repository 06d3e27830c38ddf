package services

import (
	"fmt"
	"sort"

	"github.com/vsinha/bomengine/pkg/domain/entities"
)

// BOMValidator audits a flat set of composition edges, e.g. before a bulk import
type BOMValidator struct{}

// NewBOMValidator creates a new BOM validator
func NewBOMValidator() *BOMValidator {
	return &BOMValidator{}
}

// ValidationResult contains the results of BOM validation
type ValidationResult struct {
	HasCycles      bool
	CyclePaths     [][]entities.ProductID
	DuplicateLines []*entities.CompositionEdge
	Errors         []string
}

// Valid reports whether the audit found nothing to complain about
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// ValidateGraph checks a set of edges that are meant to be valid at the same
// instant: no cycles, no repeated parent/child pair, every edge well formed.
func (v *BOMValidator) ValidateGraph(edges []*entities.CompositionEdge) *ValidationResult {
	result := &ValidationResult{
		CyclePaths:     make([][]entities.ProductID, 0),
		DuplicateLines: make([]*entities.CompositionEdge, 0),
		Errors:         make([]string, 0),
	}

	for _, edge := range edges {
		if err := edge.ValidateLine(); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("invalid line %s -> %s: %v",
				edge.ParentProductID, edge.ChildProductID, err))
		}
	}

	cycles := v.detectCycles(NewCompositionGraph(edges))
	result.HasCycles = len(cycles) > 0
	result.CyclePaths = cycles
	for _, cycle := range cycles {
		result.Errors = append(result.Errors, fmt.Sprintf("BOM cycle detected: %v", cycle))
	}

	result.DuplicateLines = v.detectDuplicateLines(edges)
	if len(result.DuplicateLines) > 0 {
		result.Errors = append(result.Errors, fmt.Sprintf("Found %d duplicate BOM lines", len(result.DuplicateLines)))
	}

	return result
}

// detectCycles uses DFS to find cycles in the BOM structure
func (v *BOMValidator) detectCycles(graph CompositionGraph) [][]entities.ProductID {
	visited := make(map[entities.ProductID]bool)
	recursionStack := make(map[entities.ProductID]bool)
	cycles := make([][]entities.ProductID, 0)

	parents := make([]entities.ProductID, 0, len(graph))
	for parent := range graph {
		parents = append(parents, parent)
	}
	sort.Slice(parents, func(i, j int) bool { return parents[i] < parents[j] })

	for _, parent := range parents {
		if !visited[parent] {
			v.dfsDetectCycle(parent, graph, visited, recursionStack, nil, &cycles)
		}
	}

	return cycles
}

func (v *BOMValidator) dfsDetectCycle(
	current entities.ProductID,
	graph CompositionGraph,
	visited map[entities.ProductID]bool,
	recursionStack map[entities.ProductID]bool,
	path []entities.ProductID,
	cycles *[][]entities.ProductID,
) {
	visited[current] = true
	recursionStack[current] = true
	path = append(path, current)

	for _, child := range graph[current] {
		if !visited[child] {
			v.dfsDetectCycle(child, graph, visited, recursionStack, path, cycles)
			continue
		}
		if !recursionStack[child] {
			continue
		}
		for i, part := range path {
			if part == child {
				cycle := make([]entities.ProductID, 0, len(path)-i+1)
				cycle = append(cycle, path[i:]...)
				cycle = append(cycle, child) // close the cycle
				*cycles = append(*cycles, cycle)
				break
			}
		}
	}

	recursionStack[current] = false
}

// detectDuplicateLines finds edges repeating a parent/child pair within one generation
func (v *BOMValidator) detectDuplicateLines(edges []*entities.CompositionEdge) []*entities.CompositionEdge {
	seen := make(map[string]*entities.CompositionEdge)
	duplicates := make([]*entities.CompositionEdge, 0)

	for _, edge := range edges {
		key := fmt.Sprintf("%s|%s|%d|%d", edge.ParentProductID, edge.ChildProductID, edge.Version, edge.ValidFrom.UnixNano())
		if existing, exists := seen[key]; exists {
			duplicates = append(duplicates, edge, existing)
		} else {
			seen[key] = edge
		}
	}

	return duplicates
}
