package handler

import (
	"net/http"
	"strconv"

	"mace-freeze/internal/apperr"
	"mace-freeze/internal/service"

	"github.com/gin-gonic/gin"
)

type RunHandler struct {
	runs        *service.RunService
	convergence *service.ConvergenceService
}

func NewRunHandler(runs *service.RunService, convergence *service.ConvergenceService) *RunHandler {
	return &RunHandler{
		runs:        runs,
		convergence: convergence,
	}
}

// CreateRun 新建一次主动学习 run
func (h *RunHandler) CreateRun(c *gin.Context) {
	runID, err := h.runs.CreateRun()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"run_id": runID,
	})
}

// ListIterations 列出已有迭代
func (h *RunHandler) ListIterations(c *gin.Context) {
	runID := c.Param("runId")
	iters, err := h.runs.ListIterations(runID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"run_id":     runID,
		"iterations": iters,
	})
}

// EnsureIteration 创建迭代目录（已存在时直接返回）
func (h *RunHandler) EnsureIteration(c *gin.Context) {
	iter, err := iterParam(c)
	if err != nil {
		respondError(c, err)
		return
	}
	path, err := h.runs.EnsureIteration(c.Param("runId"), iter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"iter": iter,
		"path": path,
	})
}

// IterationStatus 迭代产物概览
func (h *RunHandler) IterationStatus(c *gin.Context) {
	iter, err := iterParam(c)
	if err != nil {
		respondError(c, err)
		return
	}
	st, err := h.runs.IterationStatus(c.Param("runId"), iter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": st,
	})
}

// Convergence 收敛检查；format=markdown 时返回 markdown 文本
func (h *RunHandler) Convergence(c *gin.Context) {
	iter, err := iterParam(c)
	if err != nil {
		respondError(c, err)
		return
	}
	committee := 0
	if raw := c.Query("committee_size"); raw != "" {
		committee, err = strconv.Atoi(raw)
		if err != nil || committee < 0 {
			respondError(c, apperr.InvalidArgument("非法的委员会规模: %q", raw))
			return
		}
	}

	rep, err := h.convergence.Check(c.Param("runId"), iter, committee)
	if err != nil {
		respondError(c, err)
		return
	}
	if c.Query("format") == "markdown" {
		c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(service.RenderConvergenceMarkdown(rep)))
		return
	}
	c.JSON(http.StatusOK, rep)
}
