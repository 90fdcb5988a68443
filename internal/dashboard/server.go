// Package dashboard serves the scheduler over a JSON HTTP API.
package dashboard

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/shopyard/internal/scheduler"
	"github.com/zulandar/shopyard/internal/store"
	"gorm.io/gorm"
)

// StartOpts holds configuration for the dashboard server.
type StartOpts struct {
	Engine *scheduler.Engine
	// DB receives every outcome; nil keeps changes in memory only.
	DB   *gorm.DB
	Port int
	Out  io.Writer
}

// Start launches the dashboard HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Engine == nil {
		return fmt.Errorf("dashboard: engine is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	gin.SetMode(gin.ReleaseMode)
	router := NewRouter(opts.Engine, opts.DB)

	addr := fmt.Sprintf(":%d", opts.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Dashboard running at http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

// NewRouter builds the API router over e. Outcomes are written to db when
// it is non-nil.
func NewRouter(e *scheduler.Engine, db *gorm.DB) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, &server{engine: e, db: db, events: newHub()})
	return router
}

type server struct {
	engine *scheduler.Engine
	db     *gorm.DB
	events *hub
}

// commit stores an outcome and announces the changed stages. A store
// failure is logged; the engine has already moved on.
func (s *server) commit(out scheduler.Outcome) {
	if s.db != nil {
		if err := store.Apply(s.db, out); err != nil {
			log.Printf("dashboard: store outcome for %s: %v", out.Stage.ID, err)
		}
	}
	for _, st := range out.Changed {
		s.events.publish(newStageRow(st))
	}
}
