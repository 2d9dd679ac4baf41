package handler

import (
	"fmt"
	"net/http"

	"mace-freeze/internal/checkpoint"

	"github.com/gin-gonic/gin"
)

type CheckpointHandler struct {
	resolver       *checkpoint.Resolver
	defaultRunName string
}

func NewCheckpointHandler(resolver *checkpoint.Resolver, defaultRunName string) *CheckpointHandler {
	return &CheckpointHandler{resolver: resolver, defaultRunName: defaultRunName}
}

func (h *CheckpointHandler) runName(c *gin.Context) string {
	if name := c.Query("run_name"); name != "" {
		return name
	}
	return h.defaultRunName
}

// Download 流式下载最佳检查点
func (h *CheckpointHandler) Download(c *gin.Context) {
	iter, err := optionalIterQuery(c)
	if err != nil {
		respondError(c, err)
		return
	}
	art, err := h.resolver.Open(c.Param("runId"), h.runName(c), iter)
	if err != nil {
		respondError(c, err)
		return
	}
	defer art.Close()

	c.DataFromReader(http.StatusOK, art.Size, "application/octet-stream", art, map[string]string{
		"Content-Disposition": fmt.Sprintf(`attachment; filename="%s"`, art.DownloadName),
		"X-Checkpoint-Source": art.Name,
	})
}

// List 按选择优先级列出全部检查点
func (h *CheckpointHandler) List(c *gin.Context) {
	iter, err := optionalIterQuery(c)
	if err != nil {
		respondError(c, err)
		return
	}
	list, err := h.resolver.List(c.Param("runId"), h.runName(c), iter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"checkpoints": list,
	})
}
