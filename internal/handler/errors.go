package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"mace-freeze/internal/apperr"

	"github.com/gin-gonic/gin"
)

func statusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.KindInvalidIdentifier, apperr.KindInvalidArgument:
		return http.StatusBadRequest
	case apperr.KindPrecursorMissing, apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError 统一错误响应：{"error": ..., "kind": ..., "detail": ...}
func respondError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	body := gin.H{
		"error": err.Error(),
		"kind":  kind,
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		body["error"] = ae.Message
	}
	if detail := apperr.DetailOf(err); detail != "" {
		body["detail"] = detail
	}
	c.JSON(statusOf(kind), body)
}

func iterParam(c *gin.Context) (int, error) {
	raw := c.Param("iter")
	iter, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.InvalidArgument("非法的迭代序号: %q", raw)
	}
	return iter, nil
}

// optionalIterQuery 没有 iter 参数时返回 nil（run 级子运行）
func optionalIterQuery(c *gin.Context) (*int, error) {
	raw, ok := c.GetQuery("iter")
	if !ok || raw == "" {
		return nil, nil
	}
	iter, err := strconv.Atoi(raw)
	if err != nil {
		return nil, apperr.InvalidArgument("非法的迭代序号: %q", raw)
	}
	return &iter, nil
}

// bindOptionalJSON 请求体为空时保持零值
func bindOptionalJSON(c *gin.Context, obj any) error {
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		return apperr.InvalidArgument("请求体格式错误: %v", err)
	}
	return nil
}

func truthy(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}
