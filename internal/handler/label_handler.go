package handler

import (
	"net/http"

	"mace-freeze/internal/labeling"
	"mace-freeze/internal/service"

	"github.com/gin-gonic/gin"
)

type LabelHandler struct {
	labels *service.LabelService
}

func NewLabelHandler(labels *service.LabelService) *LabelHandler {
	return &LabelHandler{labels: labels}
}

// Label 对一轮迭代的候选结构做参考标注。
// 默认同步等待进程结束（客户端断开会终止进程）；async=1 时提交后台任务并返回 202。
func (h *LabelHandler) Label(c *gin.Context) {
	iter, err := iterParam(c)
	if err != nil {
		respondError(c, err)
		return
	}
	var opts labeling.Options
	if err := bindOptionalJSON(c, &opts); err != nil {
		respondError(c, err)
		return
	}
	req := service.LabelRequest{RunID: c.Param("runId"), Iter: iter, Options: opts}

	if truthy(c.Query("async")) {
		job, err := h.labels.Submit(c.Request.Context(), req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"job": job,
		})
		return
	}

	res, err := h.labels.Label(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"output_path":      res.OutputPath,
		"reference_method": res.ReferenceMethod,
		"device":           res.Device,
		"duration_ms":      res.Duration.Milliseconds(),
	})
}

const jobPollSeconds = "5"

// GetJob 查询异步标注任务
func (h *LabelHandler) GetJob(c *gin.Context) {
	job, err := h.labels.Job(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		respondError(c, err)
		return
	}
	if !job.Done() {
		// 提示轮询间隔
		c.Header("Retry-After", jobPollSeconds)
	}
	c.JSON(http.StatusOK, gin.H{
		"job": job,
	})
}

// ListJobs 一轮迭代的全部标注任务
func (h *LabelHandler) ListJobs(c *gin.Context) {
	iter, err := iterParam(c)
	if err != nil {
		respondError(c, err)
		return
	}
	jobs, err := h.labels.Jobs(c.Request.Context(), c.Param("runId"), iter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"jobs": jobs,
	})
}
