package dashboard

import (
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zulandar/shopyard/internal/models"
	"github.com/zulandar/shopyard/internal/scheduler"
	"github.com/zulandar/shopyard/internal/schederr"
)

// StageRow is the API view of a stage.
type StageRow struct {
	ID             string           `json:"id"`
	JobID          string           `json:"job_id"`
	Department     string           `json:"department"`
	MachineID      string           `json:"machine_id,omitempty"`
	CohortID       string           `json:"cohort_id,omitempty"`
	Status         string           `json:"status"`
	Operator       string           `json:"operator,omitempty"`
	Progress       int              `json:"progress"`
	PlannedHours   decimal.Decimal  `json:"planned_hours"`
	ScheduledStart *time.Time       `json:"scheduled_start,omitempty"`
	ScheduledEnd   *time.Time       `json:"scheduled_end,omitempty"`
	ActualStart    *time.Time       `json:"actual_start,omitempty"`
	CompletionDate *time.Time       `json:"completion_date,omitempty"`
	ActualHours    *decimal.Decimal `json:"actual_hours,omitempty"`
	ActualCost     *decimal.Decimal `json:"actual_cost,omitempty"`
}

func newStageRow(s models.Stage) StageRow {
	row := StageRow{
		ID:             s.ID,
		JobID:          s.JobID,
		Department:     s.Department,
		MachineID:      s.MachineID,
		CohortID:       s.CohortID,
		Status:         s.Status,
		Operator:       s.Operator,
		Progress:       s.Progress,
		PlannedHours:   s.PlannedHours,
		ScheduledStart: s.ScheduledStart,
		ScheduledEnd:   s.ScheduledEnd,
		ActualStart:    s.ActualStart,
		CompletionDate: s.CompletionDate,
	}
	if s.ActualHours.Valid {
		h := s.ActualHours.Decimal
		row.ActualHours = &h
	}
	if s.ActualCost.Valid {
		c := s.ActualCost.Decimal
		row.ActualCost = &c
	}
	return row
}

func stageRows(stages []models.Stage) []StageRow {
	rows := make([]StageRow, len(stages))
	for i, s := range stages {
		rows[i] = newStageRow(s)
	}
	return rows
}

// DepartmentStatusCount holds stage counts by status for one department.
type DepartmentStatusCount struct {
	Department string `json:"department"`
	Blocked    int    `json:"blocked"`
	Scheduled  int    `json:"scheduled"`
	InProgress int    `json:"in_progress"`
	Completed  int    `json:"completed"`
	Cancelled  int    `json:"cancelled"`
	Total      int    `json:"total"`
}

// DepartmentSummary counts every job's stages per department and status.
func DepartmentSummary(e *scheduler.Engine) []DepartmentStatusCount {
	byDept := make(map[string]*DepartmentStatusCount)
	for _, jobID := range e.JobIDs() {
		stages, err := e.Stages(jobID)
		if err != nil {
			continue
		}
		for _, s := range stages {
			key := strings.ToLower(s.Department)
			c, ok := byDept[key]
			if !ok {
				c = &DepartmentStatusCount{Department: key}
				byDept[key] = c
			}
			switch s.Status {
			case models.StatusBlocked:
				c.Blocked++
			case models.StatusScheduled:
				c.Scheduled++
			case models.StatusInProgress:
				c.InProgress++
			case models.StatusCompleted:
				c.Completed++
			case models.StatusCancelled:
				c.Cancelled++
			}
			c.Total++
		}
	}

	out := make([]DepartmentStatusCount, 0, len(byDept))
	for _, c := range byDept {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Department < out[j].Department })
	return out
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error     string   `json:"error"`
	Code      string   `json:"code"`
	Transient bool     `json:"transient,omitempty"`
	Conflicts []string `json:"conflicts,omitempty"`
}

var errorCodes = []struct {
	err    error
	code   string
	status int
}{
	{schederr.ErrNotAuthorized, "not_authorized", http.StatusForbidden},
	{schederr.ErrNotFound, "not_found", http.StatusNotFound},
	{schederr.ErrSlotConflict, "slot_conflict", http.StatusConflict},
	{schederr.ErrAlreadyActive, "already_active", http.StatusConflict},
	{schederr.ErrInvalidDuration, "invalid_duration", http.StatusUnprocessableEntity},
	{schederr.ErrCapacityUnavailable, "capacity_unavailable", http.StatusUnprocessableEntity},
	{schederr.ErrNotUnblocked, "not_unblocked", http.StatusUnprocessableEntity},
	{schederr.ErrNotInProgress, "not_in_progress", http.StatusUnprocessableEntity},
	{schederr.ErrProgressMustAdvance, "progress_must_advance", http.StatusUnprocessableEntity},
	{schederr.ErrProgressOutOfRange, "progress_out_of_range", http.StatusUnprocessableEntity},
	{schederr.ErrInvalidTransition, "invalid_transition", http.StatusUnprocessableEntity},
	{schederr.ErrSelfReference, "self_reference", http.StatusUnprocessableEntity},
	{schederr.ErrCycleDetected, "cycle_detected", http.StatusUnprocessableEntity},
	{schederr.ErrCrossJob, "cross_job", http.StatusUnprocessableEntity},
}

// classify maps an engine error to an HTTP status and response body.
func classify(err error) (int, errorBody) {
	body := errorBody{Error: err.Error(), Code: "internal", Transient: schederr.Transient(err)}
	status := http.StatusInternalServerError
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			body.Code, status = ec.code, ec.status
			break
		}
	}
	body.Conflicts = schederr.ConflictingStages(err)
	return status, body
}
