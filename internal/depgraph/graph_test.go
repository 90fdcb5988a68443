package depgraph

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/zulandar/shopyard/internal/models"
	"github.com/zulandar/shopyard/internal/schederr"
)

func statuses(m map[string]string) func(string) string {
	return func(id string) string { return m[id] }
}

// isAcyclic checks that a topological order covers every node.
func isAcyclic(g *Graph) bool {
	nodes := make(map[string]bool)
	for _, e := range g.Edges() {
		nodes[e.Stage] = true
		nodes[e.Required] = true
	}
	return len(g.TopoOrder()) == len(nodes)
}

func TestAddDependency_SelfReference(t *testing.T) {
	g := New("job-1")
	err := g.AddDependency("A", "A", models.DepFinishToStart)
	if !errors.Is(err, schederr.ErrSelfReference) {
		t.Fatalf("err = %v, want self reference", err)
	}
	if len(g.Edges()) != 0 {
		t.Error("rejected edge should not be stored")
	}
}

func TestAddDependency_TwoNodeCycle(t *testing.T) {
	g := New("job-1")
	if err := g.AddDependency("A", "B", ""); err != nil {
		t.Fatalf("AddDependency(A, B): %v", err)
	}
	err := g.AddDependency("B", "A", "")
	if !errors.Is(err, schederr.ErrCycleDetected) {
		t.Fatalf("err = %v, want cycle detected", err)
	}
	if g.HasDependency("B", "A") {
		t.Error("rejected edge B -> A should not be stored")
	}
}

func TestAddDependency_TransitiveCycle(t *testing.T) {
	g := New("job-1")
	// print <- coat <- machine <- inspect
	for _, e := range [][2]string{{"coat", "print"}, {"machine", "coat"}, {"inspect", "machine"}} {
		if err := g.AddDependency(e[0], e[1], models.DepFinishToStart); err != nil {
			t.Fatalf("AddDependency(%s, %s): %v", e[0], e[1], err)
		}
	}

	err := g.AddDependency("print", "inspect", models.DepFinishToStart)
	if !errors.Is(err, schederr.ErrCycleDetected) {
		t.Fatalf("err = %v, want cycle detected", err)
	}

	// A diamond is fine.
	if err := g.AddDependency("inspect", "print", models.DepFinishToStart); err != nil {
		t.Errorf("diamond edge rejected: %v", err)
	}
}

func TestAddDependency_UnknownTypeNormalized(t *testing.T) {
	g := New("job-1")
	if err := g.AddDependency("B", "A", "blocks"); err != nil {
		t.Fatalf("AddDependency: %v", err)
	}
	if err := g.AddDependency("C", "A", models.DepStartToStart); err != nil {
		t.Fatalf("AddDependency: %v", err)
	}
	if typ, ok := g.Type("C", "A"); !ok || typ != models.DepStartToStart {
		t.Errorf("Type(C, A) = %q, %v", typ, ok)
	}
	if _, ok := g.Type("A", "C"); ok {
		t.Error("Type(A, C) should not exist")
	}
	edges := g.Edges()
	if edges[0].Type != models.DepFinishToStart {
		t.Errorf("B -> A type = %q, want finish_to_start", edges[0].Type)
	}
	if edges[1].Type != models.DepStartToStart {
		t.Errorf("C -> A type = %q, want start_to_start", edges[1].Type)
	}
}

func TestIsUnblocked(t *testing.T) {
	g := New("job-1")
	g.AddDependency("C", "A", "")
	g.AddDependency("C", "B", models.DepStartToStart)

	st := map[string]string{"A": models.StatusCompleted, "B": models.StatusInProgress}
	if g.IsUnblocked("C", statuses(st)) {
		t.Error("C should be blocked while B is in progress, even for start_to_start")
	}
	st["B"] = models.StatusCompleted
	if !g.IsUnblocked("C", statuses(st)) {
		t.Error("C should be unblocked once A and B completed")
	}
	st["B"] = models.StatusCancelled
	if g.IsUnblocked("C", statuses(st)) {
		t.Error("a cancelled requirement never satisfies a dependent")
	}
	if !g.IsUnblocked("A", statuses(st)) {
		t.Error("stage without requirements should be unblocked")
	}
}

func TestDownstreamAndRequiredBy(t *testing.T) {
	g := New("job-1")
	g.AddDependency("coat", "print", "")
	g.AddDependency("machine", "print", "")
	g.AddDependency("inspect", "coat", "")

	down := g.DownstreamOf("print")
	if len(down) != 2 || down[0] != "coat" || down[1] != "machine" {
		t.Errorf("DownstreamOf(print) = %v, want [coat machine]", down)
	}
	req := g.RequiredBy("inspect")
	if len(req) != 1 || req[0] != "coat" {
		t.Errorf("RequiredBy(inspect) = %v, want [coat]", req)
	}
	if d := g.DownstreamOf("inspect"); len(d) != 0 {
		t.Errorf("DownstreamOf(inspect) = %v, want empty", d)
	}
}

func TestRemoveDependency(t *testing.T) {
	g := New("job-1")
	g.AddDependency("B", "A", "")

	if err := g.RemoveDependency("B", "A"); err != nil {
		t.Fatalf("RemoveDependency: %v", err)
	}
	if g.HasDependency("B", "A") || len(g.DownstreamOf("A")) != 0 {
		t.Error("edge still present after removal")
	}
	if err := g.RemoveDependency("B", "A"); !errors.Is(err, schederr.ErrNotFound) {
		t.Errorf("second removal err = %v, want not found", err)
	}
	// The reverse edge is now legal.
	if err := g.AddDependency("A", "B", ""); err != nil {
		t.Errorf("AddDependency(A, B) after removal: %v", err)
	}
}

func TestTopoOrder(t *testing.T) {
	g := New("job-1")
	g.AddDependency("inspect", "machine", "")
	g.AddDependency("machine", "coat", "")
	g.AddDependency("coat", "print", "")

	got := g.TopoOrder("pack")
	want := []string{"pack", "print", "coat", "machine", "inspect"}
	if len(got) != len(want) {
		t.Fatalf("TopoOrder = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("TopoOrder[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestFromDeps(t *testing.T) {
	g, err := FromDeps("job-1", []models.StageDep{
		{StageID: "B", RequiredStageID: "A", JobID: "job-1"},
		{StageID: "C", RequiredStageID: "B", JobID: "job-1", DepType: models.DepFinishToFinish},
	})
	if err != nil {
		t.Fatalf("FromDeps: %v", err)
	}
	deps := g.Deps()
	if len(deps) != 2 {
		t.Fatalf("Deps = %d, want 2", len(deps))
	}
	if deps[0].DepType != models.DepFinishToStart || deps[0].JobID != "job-1" {
		t.Errorf("deps[0] = %+v", deps[0])
	}

	_, err = FromDeps("job-1", []models.StageDep{
		{StageID: "B", RequiredStageID: "A"},
		{StageID: "A", RequiredStageID: "B"},
	})
	if !errors.Is(err, schederr.ErrCycleDetected) {
		t.Errorf("cyclic deps err = %v, want cycle detected", err)
	}
}

func TestRandomEdges_StayAcyclic(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	g := New("job-1")
	for i := 0; i < 400; i++ {
		a := fmt.Sprintf("S%d", r.Intn(25))
		b := fmt.Sprintf("S%d", r.Intn(25))
		err := g.AddDependency(a, b, "")
		if err != nil && !errors.Is(err, schederr.ErrCycleDetected) && !errors.Is(err, schederr.ErrSelfReference) {
			t.Fatalf("unexpected error: %v", err)
		}
		if !isAcyclic(g) {
			t.Fatalf("graph has a cycle after adding %s -> %s", a, b)
		}
	}
}
