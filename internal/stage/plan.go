package stage

import (
	"sort"
	"strings"

	"github.com/zulandar/shopyard/internal/depgraph"
	"github.com/zulandar/shopyard/internal/models"
)

// NewStage is a stage the planner wants created. Stage has no ID yet; once
// one is assigned, the stage depends on Requires.
type NewStage struct {
	Stage    models.Stage
	Requires string
}

// Plan is what completing a stage unlocks.
type Plan struct {
	// Unblock lists existing blocked stages whose requirements are now all
	// completed, sorted by ID.
	Unblock []string
	// Create lists stages to synthesize for cohort jobs that have no stage
	// in the next routed department, in job ID order.
	Create []NewStage
}

// Empty reports whether the plan does nothing.
func (p Plan) Empty() bool {
	return len(p.Unblock) == 0 && len(p.Create) == 0
}

// PlanDownstream decides what follows the completion of completed. It reads
// and mutates nothing.
//
// graphs holds the dependency graph of the completed stage's job and of
// every cohort job; existing holds their stages. completed must already
// carry status completed. cohortJobs is every job in the completed stage's
// cohort, including its own job; it is ignored when the stage has no cohort.
func PlanDownstream(completed models.Stage, graphs []*depgraph.Graph, existing []models.Stage, cohortJobs []models.Job, routing Routing) Plan {
	byID := make(map[string]models.Stage, len(existing)+1)
	for _, s := range existing {
		byID[s.ID] = s
	}
	byID[completed.ID] = completed
	statusOf := func(id string) string { return byID[id].Status }

	graphOf := make(map[string]*depgraph.Graph, len(graphs))
	for _, g := range graphs {
		graphOf[g.JobID] = g
	}

	var plan Plan
	seen := make(map[string]bool)
	for _, g := range graphs {
		for _, id := range g.DownstreamOf(completed.ID) {
			s, ok := byID[id]
			if !ok || seen[id] || s.Status != models.StatusBlocked {
				continue
			}
			// Requirements live in the dependent's own job graph.
			own := graphOf[s.JobID]
			if own == nil {
				own = g
			}
			if own.IsUnblocked(id, statusOf) {
				seen[id] = true
				plan.Unblock = append(plan.Unblock, id)
			}
		}
	}
	sort.Strings(plan.Unblock)

	if completed.CohortID == "" {
		return plan
	}
	next, ok := routing.Next(completed.Department)
	if !ok {
		return plan
	}

	has := make(map[string]bool)
	for _, s := range byID {
		if s.Status != models.StatusCancelled && strings.EqualFold(s.Department, next.Department) {
			has[s.JobID] = true
		}
	}

	jobs := make([]models.Job, 0, len(cohortJobs))
	for _, j := range cohortJobs {
		if j.CohortID == completed.CohortID {
			jobs = append(jobs, j)
		}
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].ID < jobs[k].ID })

	for _, j := range jobs {
		if has[j.ID] {
			continue
		}
		has[j.ID] = true
		plan.Create = append(plan.Create, NewStage{
			Stage: models.Stage{
				JobID:        j.ID,
				Department:   next.Department,
				CohortID:     completed.CohortID,
				Status:       models.StatusBlocked,
				PlannedHours: next.Hours,
			},
			Requires: completed.ID,
		})
	}
	return plan
}
