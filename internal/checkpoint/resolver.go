// Package checkpoint 在一次训练子运行的 checkpoints 目录中挑出唯一的"最佳"检查点。
//
// 规则分两级：训练进程自己写出的 best 文件无条件胜出；
// 否则按 epoch 降序、修改时间降序排序取第一个（例如训练被中途杀掉、没来得及写 best）。
// 每次调用都重新读目录，不做缓存。
package checkpoint

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"mace-freeze/internal/apperr"
	"mace-freeze/internal/workspace"
)

type Candidate struct {
	Path    string    `json:"path"`
	Name    string    `json:"name"`
	Epoch   int       `json:"epoch"`
	ModTime time.Time `json:"mod_time"`
	Size    int64     `json:"size"`
	// 是否为训练进程写出的 best 文件
	Best bool `json:"best"`
}

// Artifact 可流式下载的检查点；调用方负责 Close
type Artifact struct {
	io.ReadCloser
	Candidate
	// 建议的下载文件名：mace-<runName>-best.<ext>
	DownloadName string
}

type Resolver struct {
	layout   *workspace.Layout
	bestName string
	ext      string
}

func NewResolver(layout *workspace.Layout, bestName, ext string) *Resolver {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		ext = "pt"
	}
	if bestName == "" {
		bestName = "best." + ext
	}
	return &Resolver{layout: layout, bestName: bestName, ext: ext}
}

func (r *Resolver) Dir(runID, runName string, iter *int) (string, error) {
	return r.layout.CheckpointsDir(runID, runName, iter)
}

// Resolve 返回最佳检查点
func (r *Resolver) Resolve(runID, runName string, iter *int) (*Candidate, error) {
	dir, err := r.Dir(runID, runName, iter)
	if err != nil {
		return nil, err
	}
	return r.ResolveDir(dir)
}

// ResolveDir 对已定位好的目录执行选择规则
func (r *Resolver) ResolveDir(dir string) (*Candidate, error) {
	if best, ok := r.bestIn(dir); ok {
		return best, nil
	}

	cands, err := r.scan(dir)
	if err != nil {
		return nil, err
	}
	if len(cands) == 0 {
		return nil, apperr.NotFound("没有可用的检查点: %s", dir)
	}
	Rank(cands)
	return &cands[0], nil
}

// List 返回目录中的全部检查点，按选择优先级排序（best 在最前）
func (r *Resolver) List(runID, runName string, iter *int) ([]Candidate, error) {
	dir, err := r.Dir(runID, runName, iter)
	if err != nil {
		return nil, err
	}
	cands, err := r.scan(dir)
	if err != nil {
		return nil, err
	}
	Rank(cands)

	if best, ok := r.bestIn(dir); ok {
		cands = append([]Candidate{*best}, cands...)
	}
	if len(cands) == 0 {
		return nil, apperr.NotFound("没有可用的检查点: %s", dir)
	}
	return cands, nil
}

// Open 解析并打开最佳检查点。
// 解析和打开之间文件可能被删除（训练进程在轮换检查点），此时返回 NotFound。
func (r *Resolver) Open(runID, runName string, iter *int) (*Artifact, error) {
	if runName == "" {
		runName = workspace.DefaultRunName
	}
	cand, err := r.Resolve(runID, runName, iter)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(cand.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperr.NotFound("检查点已不存在: %s", cand.Path)
		}
		return nil, fmt.Errorf("打开检查点失败: %w", err)
	}
	if info, err := f.Stat(); err == nil {
		cand.Size = info.Size()
	}
	return &Artifact{
		ReadCloser:   f,
		Candidate:    *cand,
		DownloadName: r.DownloadName(runName),
	}, nil
}

func (r *Resolver) DownloadName(runName string) string {
	return fmt.Sprintf("mace-%s-best.%s", runName, r.ext)
}

func (r *Resolver) bestIn(dir string) (*Candidate, bool) {
	path := filepath.Join(dir, r.bestName)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return nil, false
	}
	epoch, _ := ParseEpoch(r.bestName)
	return &Candidate{
		Path:    path,
		Name:    r.bestName,
		Epoch:   epoch,
		ModTime: info.ModTime(),
		Size:    info.Size(),
		Best:    true,
	}, true
}

// scan 列出带扩展名的普通文件（不含 best 文件）
func (r *Resolver) scan(dir string) ([]Candidate, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperr.NotFound("checkpoints 目录不存在: %s", dir)
		}
		return nil, fmt.Errorf("读取 checkpoints 目录失败: %w", err)
	}

	suffix := "." + r.ext
	var cands []Candidate
	for _, e := range entries {
		name := e.Name()
		if name == r.bestName || !strings.HasSuffix(name, suffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// 列目录与 stat 之间被删掉了
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}
		epoch, _ := ParseEpoch(name)
		cands = append(cands, Candidate{
			Path:    filepath.Join(dir, name),
			Name:    name,
			Epoch:   epoch,
			ModTime: info.ModTime(),
			Size:    info.Size(),
		})
	}
	return cands, nil
}

// Rank epoch 降序，其次修改时间降序；文件名兜底保证结果稳定
func Rank(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.Epoch != b.Epoch {
			return a.Epoch > b.Epoch
		}
		if !a.ModTime.Equal(b.ModTime) {
			return a.ModTime.After(b.ModTime)
		}
		return a.Name < b.Name
	})
}
