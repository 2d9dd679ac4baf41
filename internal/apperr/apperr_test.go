package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesByKind(t *testing.T) {
	err := fmt.Errorf("resolve: %w", NotFound("checkpoints 目录不存在: %s", "/x"))

	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrLabelingFailed))
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestLabelingFailedPrefersDetail(t *testing.T) {
	cause := errors.New("exit status 1")
	err := LabelingFailed("标注进程失败", "RuntimeError: SCF not converged", cause)

	assert.Equal(t, "标注进程失败: RuntimeError: SCF not converged", err.Error())
	assert.Equal(t, "RuntimeError: SCF not converged", DetailOf(err))
	assert.ErrorIs(t, err, cause)

	noDetail := LabelingFailed("标注进程失败", "", cause)
	assert.Equal(t, "标注进程失败: exit status 1", noDetail.Error())
	assert.Equal(t, "exit status 1", DetailOf(noDetail))
	assert.Empty(t, DetailOf(NotFound("x")))
	assert.Empty(t, DetailOf(errors.New("boom")))
}
