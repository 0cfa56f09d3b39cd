package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/watchdogd/internal/events"
	"github.com/loykin/watchdogd/internal/history"
	"github.com/loykin/watchdogd/internal/supervisor"
)

// Controller is the part of the supervisor the API drives. Tracked
// processes are exposed only as State.Tracked, never as pid lists.
type Controller interface {
	States() []supervisor.State
	State(name string) (supervisor.State, error)
	StartService(ctx context.Context, name string) error
	StopService(ctx context.Context, name string) error
	RestartService(ctx context.Context, name string) error
}

// EventSource serves recent in-memory events, oldest first.
type EventSource interface {
	Recent(n int) []events.Event
	Filter(service string, n int) []events.Event
}

// HistoryReader serves persisted events, newest first.
type HistoryReader interface {
	Recent(ctx context.Context, service string, limit int) ([]history.Record, error)
}

// Options configures a Router. Events and History are optional; their
// endpoints answer 404 when unset.
type Options struct {
	BasePath string
	Events   EventSource
	History  HistoryReader
	Logger   *slog.Logger
	// CommandTimeout bounds start/stop/restart requests. Zero means the
	// request context alone.
	CommandTimeout time.Duration
}

// Router provides embeddable HTTP handlers for the supervisor.
// Endpoints, relative to BasePath:
//
//	GET  /healthz
//	GET  /services
//	GET  /services/:name
//	POST /services/:name/start
//	POST /services/:name/stop
//	POST /services/:name/restart
//	GET  /events?service=&limit=
//	GET  /history?service=&limit=
type Router struct {
	ctl      Controller
	opts     Options
	basePath string
}

func NewRouter(ctl Controller, opts Options) *Router {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Router{ctl: ctl, opts: opts, basePath: sanitizeBase(opts.BasePath)}
}

// BasePath returns the sanitized mount prefix.
func (r *Router) BasePath() string { return r.basePath }

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), r.accessLog())
	r.Register(g.Group(r.basePath))
	return g
}

// Register adds the API routes to an existing gin router or group.
func (r *Router) Register(group gin.IRoutes) {
	group.GET("/healthz", r.handleHealth)
	group.GET("/services", r.handleList)
	group.GET("/services/:name", r.handleGet)
	group.POST("/services/:name/start", r.command(Controller.StartService))
	group.POST("/services/:name/stop", r.command(Controller.StopService))
	group.POST("/services/:name/restart", r.command(Controller.RestartService))
	group.GET("/events", r.handleEvents)
	group.GET("/history", r.handleHistory)
}

func (r *Router) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		r.opts.Logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// --- Responses ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type healthResp struct {
	Status   string `json:"status"`
	Services int    `json:"services"`
	Running  int    `json:"running"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, supervisor.ErrUnknownService):
		return http.StatusNotFound
	case errors.Is(err, supervisor.ErrShuttingDown):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeErr(c *gin.Context, err error) {
	writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
}

// --- Handlers ---

func (r *Router) handleHealth(c *gin.Context) {
	states := r.ctl.States()
	h := healthResp{Status: "ok", Services: len(states)}
	for _, st := range states {
		if st.Phase == supervisor.PhaseRunning {
			h.Running++
		}
	}
	writeJSON(c, http.StatusOK, h)
}

func (r *Router) handleList(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.ctl.States())
}

func (r *Router) handleGet(c *gin.Context) {
	name := c.Param("name")
	st, err := r.ctl.State(name)
	if err != nil {
		writeErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) command(fn func(Controller, context.Context, string) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if r.opts.CommandTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, r.opts.CommandTimeout)
			defer cancel()
		}
		if err := fn(r.ctl, ctx, c.Param("name")); err != nil {
			writeErr(c, err)
			return
		}
		writeJSON(c, http.StatusOK, okResp{OK: true})
	}
}

func (r *Router) handleEvents(c *gin.Context) {
	if r.opts.Events == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "event buffer not enabled"})
		return
	}
	limit, ok := parseLimit(c.Query("limit"), defaultLimit)
	if !ok {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "limit must be a positive integer"})
		return
	}
	var evs []events.Event
	if svc := c.Query("service"); svc != "" {
		evs = r.opts.Events.Filter(svc, limit)
	} else {
		evs = r.opts.Events.Recent(limit)
	}
	if evs == nil {
		evs = []events.Event{}
	}
	writeJSON(c, http.StatusOK, evs)
}

func (r *Router) handleHistory(c *gin.Context) {
	if r.opts.History == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "history store not configured"})
		return
	}
	limit, ok := parseLimit(c.Query("limit"), defaultLimit)
	if !ok {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "limit must be a positive integer"})
		return
	}
	recs, err := r.opts.History.Recent(c.Request.Context(), c.Query("service"), limit)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if recs == nil {
		recs = []history.Record{}
	}
	writeJSON(c, http.StatusOK, recs)
}
