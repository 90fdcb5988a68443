package dashboard

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/zulandar/shopyard/internal/models"
	"github.com/zulandar/shopyard/internal/scheduler"
)

// operatorHeader carries the acting operator on mutating requests.
const operatorHeader = "X-Operator-ID"

// registerRoutes sets up all API routes on the Gin router.
func registerRoutes(router *gin.Engine, s *server) {
	api := router.Group("/api")

	// Reads.
	api.GET("/summary", handleSummary(s))
	api.GET("/overdue", handleOverdue(s))
	api.GET("/utilization", handleUtilization(s))
	api.GET("/jobs/:id/stages", handleJobStages(s))
	api.GET("/stages/:id", handleStage(s))
	api.GET("/machines/:id/bookings", handleBookings(s))
	api.GET("/machines/:id/next-slot", handleNextSlot(s))
	api.GET("/shifts", handleShifts(s))

	// Stage transitions.
	api.POST("/stages/:id/start", handleTransition(s, func(e *scheduler.Engine, id, op string) (scheduler.Outcome, error) {
		return e.StartStage(id, op)
	}))
	api.POST("/stages/:id/complete", handleComplete(s))
	api.POST("/stages/:id/progress", handleProgress(s))
	api.POST("/stages/:id/reschedule", handleReschedule(s))
	api.POST("/stages/:id/cancel", handleTransition(s, func(e *scheduler.Engine, id, op string) (scheduler.Outcome, error) {
		return e.CancelStage(id, op)
	}))
	api.POST("/stages/:id/abort", handleTransition(s, func(e *scheduler.Engine, id, op string) (scheduler.Outcome, error) {
		return e.AbortStage(id, op)
	}))

	api.POST("/shifts/validate", handleValidateShift(s))

	api.GET("/events", handleSSE(s.events))
}

func respondError(c *gin.Context, err error) {
	status, body := classify(err)
	c.JSON(status, body)
}

func badRequest(c *gin.Context, format string, args ...any) {
	c.JSON(http.StatusBadRequest, errorBody{Error: fmt.Sprintf(format, args...), Code: "bad_request"})
}

// respondOutcome commits out and returns the targeted stage with every
// stage the call changed.
func respondOutcome(c *gin.Context, s *server, out scheduler.Outcome) {
	s.commit(out)
	c.JSON(http.StatusOK, gin.H{
		"stage":   newStageRow(out.Stage),
		"changed": stageRows(out.Changed),
	})
}

// parseTimeQuery reads an RFC 3339 query parameter, falling back to def.
func parseTimeQuery(c *gin.Context, name string, def time.Time) (time.Time, error) {
	v := c.Query(name)
	if v == "" {
		return def, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: want RFC 3339 time, got %q", name, v)
	}
	return t, nil
}

func handleSummary(s *server) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, DepartmentSummary(s.engine))
	}
}

func handleOverdue(s *server) gin.HandlerFunc {
	return func(c *gin.Context) {
		at, err := parseTimeQuery(c, "at", time.Now())
		if err != nil {
			badRequest(c, "%v", err)
			return
		}
		c.JSON(http.StatusOK, stageRows(s.engine.OverdueStages(at)))
	}
}

func handleUtilization(s *server) gin.HandlerFunc {
	return func(c *gin.Context) {
		now := time.Now()
		from, err := parseTimeQuery(c, "from", now.Add(-7*24*time.Hour))
		if err != nil {
			badRequest(c, "%v", err)
			return
		}
		to, err := parseTimeQuery(c, "to", now)
		if err != nil {
			badRequest(c, "%v", err)
			return
		}
		util, err := s.engine.DepartmentUtilization(from, to)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"from": from, "to": to, "departments": util})
	}
}

func handleJobStages(s *server) gin.HandlerFunc {
	return func(c *gin.Context) {
		stages, err := s.engine.Stages(c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		deps, err := s.engine.Dependencies(c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"stages": stageRows(stages), "dependencies": deps})
	}
}

func handleStage(s *server) gin.HandlerFunc {
	return func(c *gin.Context) {
		st, err := s.engine.Stage(c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, newStageRow(st))
	}
}

func handleBookings(s *server) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, s.engine.Bookings(c.Param("id")))
	}
}

func handleNextSlot(s *server) gin.HandlerFunc {
	return func(c *gin.Context) {
		hours, err := decimal.NewFromString(c.DefaultQuery("hours", "1"))
		if err != nil {
			badRequest(c, "hours: %v", err)
			return
		}
		notBefore, err := parseTimeQuery(c, "not_before", time.Now())
		if err != nil {
			badRequest(c, "%v", err)
			return
		}
		start, end, err := s.engine.NextAvailableSlot(c.Param("id"), notBefore, hours)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"machine_id": c.Param("id"), "start": start, "end": end})
	}
}

func handleShifts(s *server) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, s.engine.Shifts())
	}
}

type transitionFunc func(e *scheduler.Engine, stageID, operatorID string) (scheduler.Outcome, error)

// handleTransition runs fn for the operator named in the request header.
func handleTransition(s *server, fn transitionFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := fn(s.engine, c.Param("id"), c.GetHeader(operatorHeader))
		if err != nil {
			respondError(c, err)
			return
		}
		respondOutcome(c, s, out)
	}
}

type completeRequest struct {
	ActualCost *decimal.Decimal `json:"actual_cost"`
}

func handleComplete(s *server) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req completeRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, "%v", err)
				return
			}
		}
		out, err := s.engine.CompleteStage(c.Param("id"), c.GetHeader(operatorHeader), req.ActualCost)
		if err != nil {
			respondError(c, err)
			return
		}
		respondOutcome(c, s, out)
	}
}

type progressRequest struct {
	Percent *int `json:"percent" binding:"required"`
}

func handleProgress(s *server) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req progressRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "%v", err)
			return
		}
		out, err := s.engine.UpdateProgress(c.Param("id"), c.GetHeader(operatorHeader), *req.Percent)
		if err != nil {
			respondError(c, err)
			return
		}
		respondOutcome(c, s, out)
	}
}

type rescheduleRequest struct {
	Start time.Time `json:"start" binding:"required"`
	End   time.Time `json:"end" binding:"required"`
}

func handleReschedule(s *server) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req rescheduleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "%v", err)
			return
		}
		out, err := s.engine.RescheduleStage(c.Param("id"), c.GetHeader(operatorHeader), req.Start, req.End)
		if err != nil {
			respondError(c, err)
			return
		}
		respondOutcome(c, s, out)
	}
}

type shiftRequest struct {
	Calendar    string `json:"calendar"`
	Name        string `json:"name"`
	Weekday     *int   `json:"weekday"`
	Date        string `json:"date"`
	Start       string `json:"start" binding:"required"`
	End         string `json:"end" binding:"required"`
	ExcludingID uint   `json:"excluding_id"`
}

func handleValidateShift(s *server) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req shiftRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "%v", err)
			return
		}
		proposed := models.ShiftWindow{
			Name:     req.Name,
			Calendar: req.Calendar,
			Weekday:  req.Weekday,
			Date:     req.Date,
			Start:    req.Start,
			End:      req.End,
			Active:   true,
		}
		conflicts, err := s.engine.ValidateShift(proposed, req.ExcludingID)
		if err != nil {
			badRequest(c, "%v", err)
			return
		}
		if conflicts == nil {
			conflicts = []models.ShiftWindow{}
		}
		c.JSON(http.StatusOK, gin.H{"ok": len(conflicts) == 0, "conflicts": conflicts})
	}
}
