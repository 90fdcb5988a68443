// Package depgraph holds the per-job stage dependency graph.
//
// A Graph is not safe for concurrent use; the scheduler serializes access
// per job.
package depgraph

import (
	"fmt"
	"sort"

	"github.com/zulandar/shopyard/internal/models"
	"github.com/zulandar/shopyard/internal/schederr"
)

// Edge is a dependency: Stage cannot leave blocked until Required completes.
type Edge struct {
	Stage    string
	Required string
	Type     string
}

// Graph is the directed must-finish-before graph for one job's stages.
type Graph struct {
	JobID string

	requires   map[string]map[string]string // stage -> required -> dep type
	dependents map[string]map[string]bool   // required -> stages
}

// New returns an empty graph for jobID.
func New(jobID string) *Graph {
	return &Graph{
		JobID:      jobID,
		requires:   make(map[string]map[string]string),
		dependents: make(map[string]map[string]bool),
	}
}

// FromDeps builds a graph from persisted edges, validating each one as if
// it were added fresh.
func FromDeps(jobID string, deps []models.StageDep) (*Graph, error) {
	g := New(jobID)
	for _, d := range deps {
		if err := g.AddDependency(d.StageID, d.RequiredStageID, d.DepType); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// NormalizeType maps a dependency type tag to a known one. Unknown and empty
// tags become finish_to_start.
func NormalizeType(depType string) string {
	switch depType {
	case models.DepFinishToStart, models.DepStartToStart, models.DepFinishToFinish:
		return depType
	default:
		return models.DepFinishToStart
	}
}

// AddDependency records that dependent cannot start until required
// completes. Self edges and edges that would close a cycle are rejected and
// leave the graph unchanged. Re-adding an existing edge updates its type.
func (g *Graph) AddDependency(dependent, required, depType string) error {
	if dependent == required {
		return fmt.Errorf("depgraph: %s cannot depend on itself: %w", dependent, schederr.ErrSelfReference)
	}

	// Walk from required along its own requirements; reaching dependent means
	// the new edge would close a loop.
	if g.reachable(required, dependent, make(map[string]bool)) {
		return fmt.Errorf("depgraph: adding %s -> %s would create a cycle: %w", dependent, required, schederr.ErrCycleDetected)
	}

	if g.requires[dependent] == nil {
		g.requires[dependent] = make(map[string]string)
	}
	g.requires[dependent][required] = NormalizeType(depType)
	if g.dependents[required] == nil {
		g.dependents[required] = make(map[string]bool)
	}
	g.dependents[required][dependent] = true
	return nil
}

// RemoveDependency deletes the edge dependent -> required.
func (g *Graph) RemoveDependency(dependent, required string) error {
	if _, ok := g.requires[dependent][required]; !ok {
		return fmt.Errorf("depgraph: dependency %s -> %s: %w", dependent, required, schederr.ErrNotFound)
	}
	delete(g.requires[dependent], required)
	if len(g.requires[dependent]) == 0 {
		delete(g.requires, dependent)
	}
	delete(g.dependents[required], dependent)
	if len(g.dependents[required]) == 0 {
		delete(g.dependents, required)
	}
	return nil
}

// HasDependency reports whether the edge dependent -> required exists.
func (g *Graph) HasDependency(dependent, required string) bool {
	_, ok := g.requires[dependent][required]
	return ok
}

// Type returns the dependency type of the edge dependent -> required.
func (g *Graph) Type(dependent, required string) (string, bool) {
	t, ok := g.requires[dependent][required]
	return t, ok
}

// RequiredBy returns the stages stageID waits on, sorted.
func (g *Graph) RequiredBy(stageID string) []string {
	return sortedKeys(g.requires[stageID])
}

// DownstreamOf returns the stages that directly wait on stageID, sorted.
func (g *Graph) DownstreamOf(stageID string) []string {
	return sortedKeys(g.dependents[stageID])
}

// IsUnblocked reports whether every stage that stageID requires has
// completed. Every dependency type is evaluated as finish_to_start.
func (g *Graph) IsUnblocked(stageID string, statusOf func(string) string) bool {
	for req := range g.requires[stageID] {
		if statusOf(req) != models.StatusCompleted {
			return false
		}
	}
	return true
}

// Edges returns every edge, ordered by stage then required stage.
func (g *Graph) Edges() []Edge {
	var edges []Edge
	for _, stage := range sortedKeys(g.requires) {
		for _, req := range sortedKeys(g.requires[stage]) {
			edges = append(edges, Edge{Stage: stage, Required: req, Type: g.requires[stage][req]})
		}
	}
	return edges
}

// Deps returns the edges as persistable rows.
func (g *Graph) Deps() []models.StageDep {
	edges := g.Edges()
	deps := make([]models.StageDep, 0, len(edges))
	for _, e := range edges {
		deps = append(deps, models.StageDep{StageID: e.Stage, RequiredStageID: e.Required, JobID: g.JobID, DepType: e.Type})
	}
	return deps
}

// TopoOrder returns stages in an order where every stage follows the stages
// it requires. Stages with no edges are included when listed in extra.
// Ties are broken by ID so the order is stable.
func (g *Graph) TopoOrder(extra ...string) []string {
	nodes := make(map[string]bool)
	for _, id := range extra {
		nodes[id] = true
	}
	for s, reqs := range g.requires {
		nodes[s] = true
		for r := range reqs {
			nodes[r] = true
		}
	}

	indegree := make(map[string]int, len(nodes))
	for n := range nodes {
		indegree[n] = len(g.requires[n])
	}

	var ready []string
	for n, d := range indegree {
		if d == 0 {
			ready = append(ready, n)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(nodes))
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)
		var next []string
		for _, dep := range g.DownstreamOf(n) {
			indegree[dep]--
			if indegree[dep] == 0 {
				next = append(next, dep)
			}
		}
		ready = append(ready, next...)
		sort.Strings(ready)
	}
	return order
}

// reachable performs a DFS from current following requirement edges to
// determine whether target is reachable.
func (g *Graph) reachable(current, target string, visited map[string]bool) bool {
	if current == target {
		return true
	}
	if visited[current] {
		return false
	}
	visited[current] = true

	for req := range g.requires[current] {
		if g.reachable(req, target, visited) {
			return true
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
