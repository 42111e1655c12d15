package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/zapm/internal/manager"
	"github.com/loykin/zapm/internal/process"
)

// Router exposes the supervisor over HTTP.
// Endpoints:
//
//	GET    /api/processes                 all records, keyed by name
//	GET    /api/processes/{name}          one record, 404 if absent
//	POST   /api/processes/{name}/start    optional JSON overrides
//	POST   /api/processes/{name}/stop
//	POST   /api/processes/{name}/restart
//	POST   /api/processes/{name}          JSON definition, create or replace
//	DELETE /api/processes/{name}          stop then remove
//	GET    /metrics                       when metrics are enabled
type Router struct {
	sup     *manager.Supervisor
	logger  *slog.Logger
	metrics http.Handler
}

type Option func(*Router)

// WithMetrics mounts h at /metrics.
func WithMetrics(h http.Handler) Option { return func(r *Router) { r.metrics = h } }

func WithLogger(l *slog.Logger) Option { return func(r *Router) { r.logger = l } }

func NewRouter(sup *manager.Supervisor, opts ...Option) *Router {
	r := &Router{sup: sup, logger: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	r.logger = r.logger.With("component", "http")
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), r.logRequests)
	api := g.Group("/api/processes")
	api.GET("", r.handleList)
	api.GET("/:name", r.requireName, r.handleGet)
	api.POST("/:name/start", r.requireName, r.handleStart)
	api.POST("/:name/stop", r.requireName, r.handleStop)
	api.POST("/:name/restart", r.requireName, r.handleRestart)
	api.POST("/:name", r.requireName, r.handleUpsert)
	api.DELETE("/:name", r.requireName, r.handleDelete)
	if r.metrics != nil {
		g.GET("/metrics", gin.WrapH(r.metrics))
	}
	return g
}

// NewServer wraps h in an http.Server with conservative timeouts.
func NewServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func (r *Router) logRequests(c *gin.Context) {
	began := time.Now()
	c.Next()
	r.logger.Debug("request",
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"status", c.Writer.Status(),
		"duration", time.Since(began))
}

func (r *Router) requireName(c *gin.Context) {
	if !process.ValidName(c.Param("name")) {
		c.String(http.StatusBadRequest, "invalid process name")
		c.Abort()
	}
}

// --- Handlers ---

func (r *Router) handleList(c *gin.Context) {
	views, err := r.sup.Status(c.Request.Context(), "")
	if err != nil {
		c.String(http.StatusInternalServerError, err.Error())
		return
	}
	out := make(map[string]manager.View, len(views))
	for _, v := range views {
		out[v.Name] = v
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleGet(c *gin.Context) {
	v, err := r.sup.Show(c.Request.Context(), c.Param("name"))
	if err != nil {
		r.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, v)
}

func (r *Router) handleStart(c *gin.Context) {
	name := c.Param("name")
	if !isJSON(c) {
		c.String(http.StatusUnsupportedMediaType, "Unsupported Media Type: Content-Type must be application/json")
		return
	}
	var req manager.StartRequest
	if !r.decode(c, &req, true) {
		return
	}
	if req.WorkingDir != nil && !isSafeAbsPath(*req.WorkingDir) {
		c.String(http.StatusBadRequest, "working_dir must be an absolute, clean path")
		return
	}
	rec, err := r.sup.Launch(c.Request.Context(), name, req)
	if err != nil {
		c.String(http.StatusInternalServerError, err.Error())
		return
	}
	c.String(http.StatusOK, fmt.Sprintf("Process %s started successfully (pid %d)", name, rec.PID))
}

func (r *Router) handleStop(c *gin.Context) {
	if _, err := r.sup.Stop(c.Request.Context(), c.Param("name")); err != nil {
		r.internalError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (r *Router) handleRestart(c *gin.Context) {
	if _, err := r.sup.Restart(c.Request.Context(), c.Param("name")); err != nil {
		r.internalError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

type upsertRequest struct {
	Command     string            `json:"command"`
	WorkingDir  string            `json:"working_dir"`
	Env         map[string]string `json:"env"`
	AutoRestart bool              `json:"auto_restart"`
}

func (r *Router) handleUpsert(c *gin.Context) {
	if !isJSON(c) {
		c.String(http.StatusUnsupportedMediaType, "Unsupported Media Type: Content-Type must be application/json")
		return
	}
	var req upsertRequest
	if !r.decode(c, &req, false) {
		return
	}
	if !isSafeAbsPath(req.WorkingDir) {
		c.String(http.StatusBadRequest, "working_dir must be an absolute, clean path")
		return
	}
	rec, err := r.sup.Upsert(c.Request.Context(), manager.Definition{
		Name:        c.Param("name"),
		Command:     req.Command,
		WorkingDir:  req.WorkingDir,
		Env:         req.Env,
		AutoRestart: req.AutoRestart,
	})
	if err != nil {
		c.String(http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(c, http.StatusOK, rec)
}

func (r *Router) handleDelete(c *gin.Context) {
	if err := r.sup.Remove(c.Request.Context(), c.Param("name"), false); err != nil {
		r.internalError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// decode reads a JSON body into v. An empty body is accepted when allowEmpty.
func (r *Router) decode(c *gin.Context, v any, allowEmpty bool) bool {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.String(http.StatusBadRequest, "Failed to read request body")
		return false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		if allowEmpty {
			return true
		}
		c.String(http.StatusBadRequest, "Invalid JSON payload")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		c.String(http.StatusBadRequest, "Invalid JSON payload")
		return false
	}
	return true
}

// fail answers a lookup: a missing record is 404.
func (r *Router) fail(c *gin.Context, err error) {
	if errors.Is(err, process.ErrNotFound) {
		c.String(http.StatusNotFound, "Process not found")
		return
	}
	r.internalError(c, err)
}

// internalError answers a failed lifecycle operation, unknown names included.
func (r *Router) internalError(c *gin.Context, err error) {
	r.logger.Warn("request failed", "path", c.Request.URL.Path, "error", err)
	c.String(http.StatusInternalServerError, err.Error())
}
