// Package api is the HTTP surface over the store and the engine: pipeline
// CRUD, execution start/cancel/inspect, file upload, and metrics.
package api

import (
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tabflow/tabflow/pkg/codec"
	"github.com/tabflow/tabflow/pkg/engine"
	"github.com/tabflow/tabflow/pkg/models"
	"github.com/tabflow/tabflow/pkg/store"
)

type Server struct {
	store     store.Store
	engine    *engine.Engine
	log       *slog.Logger
	uploadDir string
}

func NewServer(st store.Store, eng *engine.Engine, log *slog.Logger, uploadDir string) *Server {
	return &Server{store: st, engine: eng, log: log, uploadDir: uploadDir}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.engine.Metrics().Snapshot())
	})

	apiGroup := r.Group("/api")
	{
		apiGroup.POST("/pipelines", s.createPipeline)
		apiGroup.GET("/pipelines", s.listPipelines)
		apiGroup.GET("/pipelines/:id", s.getPipeline)
		apiGroup.PUT("/pipelines/:id", s.updatePipeline)
		apiGroup.DELETE("/pipelines/:id", s.deletePipeline)
		apiGroup.POST("/pipelines/:id/execute", s.executePipeline)

		apiGroup.GET("/executions", s.listExecutions)
		apiGroup.GET("/executions/:id", s.getExecution)
		apiGroup.POST("/executions/:id/cancel", s.cancelExecution)
		apiGroup.GET("/executions/:id/logs", s.getExecutionLogs)

		apiGroup.POST("/files/upload", s.uploadFile)
		apiGroup.GET("/files", s.listFiles)
	}
	return r
}

func (s *Server) createPipeline(c *gin.Context) {
	var p models.Pipeline
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if p.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pipeline name is required"})
		return
	}
	if len(p.Steps) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pipeline requires at least one step"})
		return
	}
	if err := s.store.CreatePipeline(&p); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (s *Server) listPipelines(c *gin.Context) {
	pipelines, err := s.store.ListPipelines()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pipelines": pipelines, "total": len(pipelines)})
}

func (s *Server) getPipeline(c *gin.Context) {
	p, err := s.store.GetPipeline(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) updatePipeline(c *gin.Context) {
	p, err := s.store.GetPipeline(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	var update models.Pipeline
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	update.ID = p.ID
	update.CreatedAt = p.CreatedAt
	if err := s.store.UpdatePipeline(&update); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, update)
}

func (s *Server) deletePipeline(c *gin.Context) {
	if err := s.store.DeletePipeline(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

type executeRequest struct {
	Parameters  map[string]string `json:"parameters"`
	TriggeredBy string            `json:"triggered_by"`
}

func (s *Server) executePipeline(c *gin.Context) {
	p, err := s.store.GetPipeline(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if p.Status == models.PipelineInactive {
		c.JSON(http.StatusConflict, gin.H{"error": "pipeline is inactive"})
		return
	}

	var req executeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.TriggeredBy == "" {
		req.TriggeredBy = "api"
	}

	id, err := s.engine.StartExecution(p, req.Parameters, req.TriggeredBy)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"execution_id": id})
}

func (s *Server) listExecutions(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}
	execs, err := s.store.ListExecutions(c.Query("pipeline_id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": execs, "total": len(execs)})
}

func (s *Server) getExecution(c *gin.Context) {
	exec, err := s.store.GetExecution(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, exec)
}

func (s *Server) cancelExecution(c *gin.Context) {
	found := s.engine.CancelExecution(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"cancelled": found})
}

func (s *Server) getExecutionLogs(c *gin.Context) {
	logs, err := s.store.GetExecutionLogs(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

func (s *Server) uploadFile(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file field"})
		return
	}
	format, err := codec.DetectFormat(file.Filename)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	dst := filepath.Join(s.uploadDir, filepath.Base(file.Filename))
	if err := c.SaveUploadedFile(file, dst); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	info := models.FileInfo{
		Name:       filepath.Base(file.Filename),
		Path:       dst,
		Size:       file.Size,
		Format:     format,
		UploadedAt: time.Now().UTC(),
	}
	if err := s.store.RegisterFile(info); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, info)
}

func (s *Server) listFiles(c *gin.Context) {
	files, err := s.store.ListFiles()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": files, "total": len(files)})
}
