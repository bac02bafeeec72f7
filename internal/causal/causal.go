// Package causal implements the Causal Graph component (C5): a directed
// multigraph over memory ids with inverted from/to indexes, cycle
// detection, and causal-chain tracing.
package causal

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Relationship names an edge's semantic kind.
type Relationship string

const (
	RelCauses      Relationship = "causes"
	RelEnables     Relationship = "enables"
	RelRequires    Relationship = "requires"
	RelContradicts Relationship = "contradicts"
	RelRefutes     Relationship = "refutes"
)

// Edge is one causal link between two memory ids.
type Edge struct {
	ID           string
	From         string
	To           string
	Relationship Relationship
	Strength     float64
	Evidence     []string
	Cyclic       bool
	CreatedAt    time.Time
}

// Direction constrains Trace's traversal.
type Direction string

const (
	DirForward  Direction = "forward"
	DirBackward Direction = "backward"
	DirBoth     Direction = "both"
)

const defaultTraceDepth = 5

// Graph is the causal multigraph: edges plus two inverted indexes for O(1)
// neighbour lookup.
type Graph struct {
	mu             sync.RWMutex
	edges          map[string]Edge
	fromIndex      map[string][]string // from id -> edge ids
	toIndex        map[string][]string // to id -> edge ids
	cyclesDetected int
}

// NewGraph constructs an empty causal graph.
func NewGraph() *Graph {
	return &Graph{
		edges:     make(map[string]Edge),
		fromIndex: make(map[string][]string),
		toIndex:   make(map[string][]string),
	}
}

// Link creates (or merges) a causal edge from -> to. If a triple with the
// same (from, to, relationship) already exists, its strength becomes
// max(existing, new) and evidence is appended. Before insertion, a BFS from
// `to` checks whether `from` is reachable; if so the new edge is stored but
// flagged Cyclic.
func (g *Graph) Link(from, to string, relationship Relationship, strength float64, evidence []string) Edge {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, id := range g.fromIndex[from] {
		e := g.edges[id]
		if e.To == to && e.Relationship == relationship {
			if strength > e.Strength {
				e.Strength = strength
			}
			e.Evidence = append(e.Evidence, evidence...)
			g.edges[id] = e
			return e
		}
	}

	cyclic := g.reachableLocked(to, from)
	if cyclic {
		g.cyclesDetected++
	}

	edge := Edge{
		ID:           uuid.NewString(),
		From:         from,
		To:           to,
		Relationship: relationship,
		Strength:     strength,
		Evidence:     evidence,
		Cyclic:       cyclic,
		CreatedAt:    time.Now().UTC(),
	}
	g.edges[edge.ID] = edge
	g.fromIndex[from] = append(g.fromIndex[from], edge.ID)
	g.toIndex[to] = append(g.toIndex[to], edge.ID)
	return edge
}

// reachableLocked reports whether target is reachable from start via a BFS
// over the from-index. Callers must hold g.mu.
func (g *Graph) reachableLocked(start, target string) bool {
	if start == target {
		return true
	}
	visited := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, edgeID := range g.fromIndex[cur] {
			next := g.edges[edgeID].To
			if next == target {
				return true
			}
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}

// Unlink removes a single edge by id.
func (g *Graph) Unlink(edgeID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	edge, ok := g.edges[edgeID]
	if !ok {
		return false
	}
	delete(g.edges, edgeID)
	g.fromIndex[edge.From] = removeID(g.fromIndex[edge.From], edgeID)
	g.toIndex[edge.To] = removeID(g.toIndex[edge.To], edgeID)
	return true
}

// RemoveMemory drops every edge touching id.
func (g *Graph) RemoveMemory(id string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	touching := append([]string(nil), g.fromIndex[id]...)
	touching = append(touching, g.toIndex[id]...)
	removed := make(map[string]bool)
	for _, edgeID := range touching {
		if removed[edgeID] {
			continue
		}
		removed[edgeID] = true
		edge, ok := g.edges[edgeID]
		if !ok {
			continue
		}
		delete(g.edges, edgeID)
		g.fromIndex[edge.From] = removeID(g.fromIndex[edge.From], edgeID)
		g.toIndex[edge.To] = removeID(g.toIndex[edge.To], edgeID)
	}
	return len(removed)
}

func removeID(ids []string, target string) []string {
	for i, id := range ids {
		if id == target {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

// TraceOptions configures Trace.
type TraceOptions struct {
	Depth         int
	Direction     Direction
	MinStrength   float64
	RelationTypes []Relationship
}

// TraceResult is Trace's bounded-DFS output.
type TraceResult struct {
	Visited        []string
	TotalStrength  float64
	HasCycle       bool
	EdgesFollowed  []Edge
}

// Trace performs a bounded DFS from memoryId, following edges matching the
// direction/strength/relationship filters. totalStrength is the product of
// edge strengths along the discovered chain.
func (g *Graph) Trace(memoryID string, opts TraceOptions) TraceResult {
	g.mu.RLock()
	defer g.mu.RUnlock()

	depth := opts.Depth
	if depth <= 0 {
		depth = defaultTraceDepth
	}
	direction := opts.Direction
	if direction == "" {
		direction = DirForward
	}

	visited := map[string]bool{memoryID: true}
	result := TraceResult{Visited: []string{memoryID}, TotalStrength: 1}

	var walk func(node string, remaining int) bool
	walk = func(node string, remaining int) bool {
		if remaining <= 0 {
			return false
		}
		cycle := false
		if direction == DirForward || direction == DirBoth {
			for _, edgeID := range g.fromIndex[node] {
				edge := g.edges[edgeID]
				if !g.edgeMatches(edge, opts.MinStrength, opts.RelationTypes) {
					continue
				}
				result.EdgesFollowed = append(result.EdgesFollowed, edge)
				result.TotalStrength *= edge.Strength
				if visited[edge.To] {
					cycle = true
					continue
				}
				visited[edge.To] = true
				result.Visited = append(result.Visited, edge.To)
				if walk(edge.To, remaining-1) {
					cycle = true
				}
			}
		}
		if direction == DirBackward || direction == DirBoth {
			for _, edgeID := range g.toIndex[node] {
				edge := g.edges[edgeID]
				if !g.edgeMatches(edge, opts.MinStrength, opts.RelationTypes) {
					continue
				}
				result.EdgesFollowed = append(result.EdgesFollowed, edge)
				result.TotalStrength *= edge.Strength
				if visited[edge.From] {
					cycle = true
					continue
				}
				visited[edge.From] = true
				result.Visited = append(result.Visited, edge.From)
				if walk(edge.From, remaining-1) {
					cycle = true
				}
			}
		}
		return cycle
	}
	result.HasCycle = walk(memoryID, depth)
	return result
}

func (g *Graph) edgeMatches(edge Edge, minStrength float64, relationTypes []Relationship) bool {
	if edge.Strength < minStrength {
		return false
	}
	if len(relationTypes) == 0 {
		return true
	}
	for _, rt := range relationTypes {
		if edge.Relationship == rt {
			return true
		}
	}
	return false
}

// WhyResult is why's output: the causal explanation for a memory.
type WhyResult struct {
	DirectCauses   []string
	IndirectCauses []string
	RootCauses     []string
	Confidence     float64
}

var causalRelations = []Relationship{RelCauses, RelEnables, RelRequires}

// Why restricts traversal to {causes, enables, requires} edges (backward
// from memoryId) and classifies predecessors into direct causes, the BFS
// frontier of indirect causes, and root causes (no further matching
// predecessors). Confidence is the mean strength of all discovered edges.
func (g *Graph) Why(memoryID string, maxDepth int) WhyResult {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if maxDepth <= 0 {
		maxDepth = defaultTraceDepth
	}

	var direct []string
	for _, edgeID := range g.toIndex[memoryID] {
		edge := g.edges[edgeID]
		if relationMatches(edge.Relationship, causalRelations) {
			direct = append(direct, edge.From)
		}
	}

	visited := map[string]bool{memoryID: true}
	for _, d := range direct {
		visited[d] = true
	}

	var indirect []string
	var allStrengths []float64
	frontier := append([]string(nil), direct...)
	for depth := 1; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, node := range frontier {
			for _, edgeID := range g.toIndex[node] {
				edge := g.edges[edgeID]
				if !relationMatches(edge.Relationship, causalRelations) {
					continue
				}
				allStrengths = append(allStrengths, edge.Strength)
				if visited[edge.From] {
					continue
				}
				visited[edge.From] = true
				indirect = append(indirect, edge.From)
				next = append(next, edge.From)
			}
		}
		frontier = next
	}

	var roots []string
	for _, node := range append(append([]string(nil), direct...), indirect...) {
		hasPredecessor := false
		for _, edgeID := range g.toIndex[node] {
			if relationMatches(g.edges[edgeID].Relationship, causalRelations) {
				hasPredecessor = true
				break
			}
		}
		if !hasPredecessor {
			roots = append(roots, node)
		}
	}

	for _, edgeID := range g.toIndex[memoryID] {
		edge := g.edges[edgeID]
		if relationMatches(edge.Relationship, causalRelations) {
			allStrengths = append(allStrengths, edge.Strength)
		}
	}

	return WhyResult{
		DirectCauses:   direct,
		IndirectCauses: indirect,
		RootCauses:     roots,
		Confidence:     mean(allStrengths),
	}
}

func relationMatches(rel Relationship, allowed []Relationship) bool {
	for _, r := range allowed {
		if rel == r {
			return true
		}
	}
	return false
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

var contradictionRelations = []Relationship{RelContradicts, RelRefutes}

// FindContradictions returns every edge touching id whose relationship is
// contradicts or refutes.
func (g *Graph) FindContradictions(id string) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []Edge
	seen := make(map[string]bool)
	for _, edgeID := range append(append([]string(nil), g.fromIndex[id]...), g.toIndex[id]...) {
		if seen[edgeID] {
			continue
		}
		seen[edgeID] = true
		edge := g.edges[edgeID]
		if relationMatches(edge.Relationship, contradictionRelations) {
			out = append(out, edge)
		}
	}
	return out
}

// CyclesDetected returns the running count of edges inserted that closed a
// cycle.
func (g *Graph) CyclesDetected() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cyclesDetected
}

// EdgeCount returns the number of edges currently in the graph, used by
// getStats.
func (g *Graph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}
