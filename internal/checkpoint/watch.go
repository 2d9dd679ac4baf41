package checkpoint

import (
	"context"
	"fmt"
	"time"

	"mace-freeze/internal/apperr"

	"github.com/fsnotify/fsnotify"
)

// Watch 监听 checkpoints 目录，最佳检查点变化（路径或修改时间）时回调 fn。
// 启动时先回调一次当前结果（若已有）。阻塞直到 ctx 结束，正常结束返回 nil。
func (r *Resolver) Watch(ctx context.Context, runID, runName string, iter *int, debounce time.Duration, fn func(Candidate)) error {
	dir, err := r.Dir(runID, runName, iter)
	if err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("创建文件监听失败: %w", err)
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return apperr.NotFound("无法监听 checkpoints 目录 %s: %v", dir, err)
	}

	var last *Candidate
	emit := func() {
		cand, err := r.ResolveDir(dir)
		if err != nil {
			return
		}
		if last != nil && last.Path == cand.Path && last.ModTime.Equal(cand.ModTime) {
			return
		}
		last = cand
		fn(*cand)
	}
	emit()

	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op == fsnotify.Chmod {
				continue
			}
			// 训练进程写检查点时会连续触发多个事件，合并后再解析
			timer.Reset(debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("文件监听出错: %w", err)
		case <-timer.C:
			emit()
		}
	}
}
