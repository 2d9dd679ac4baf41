package labeling

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"sync"
	"time"
	"unicode/utf8"
)

// 诊断输出只保留尾部，防止长时间运行的求解器把内存撑爆
const maxCapture = 64 << 10

// 进程被杀后等待输出管道关闭的上限
const waitDelay = 5 * time.Second

// Command 一次外部进程调用
type Command struct {
	Name string
	Args []string
	Dir  string
	Env  []string
}

// Outcome 进程退出后的结果；ExitCode 为 -1 表示被信号终止
type Outcome struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Runner 启动外部进程并阻塞到其退出。
// 返回 error 表示进程没能启动或被取消；正常退出（包括非零退出码）只体现在 Outcome 中。
type Runner interface {
	Run(ctx context.Context, cmd Command) (Outcome, error)
}

type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, c Command) (Outcome, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	if c.Dir != "" {
		cmd.Dir = c.Dir
	}
	if len(c.Env) > 0 {
		cmd.Env = append(cmd.Environ(), c.Env...)
	}
	// 取消时杀掉整个进程组（python 会再拉起 pw.x），避免留下孤儿进程
	killProcessGroup(cmd)
	cmd.WaitDelay = waitDelay

	stdout := &tailBuffer{limit: maxCapture}
	stderr := &tailBuffer{limit: maxCapture}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	out := Outcome{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return out, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		out.ExitCode = -1
		return out, ctxErr
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
		return out, nil
	}
	return out, err
}

// tailBuffer 只保留最后 limit 字节
type tailBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(p)
	if len(p) >= b.limit {
		b.buf.Reset()
		b.buf.Write(p[len(p)-b.limit:])
		b.trimPartialRune()
		return n, nil
	}
	if over := b.buf.Len() + len(p) - b.limit; over > 0 {
		b.buf.Next(over)
		b.buf.Write(p)
		b.trimPartialRune()
		return n, nil
	}
	b.buf.Write(p)
	return n, nil
}

// trimPartialRune 截断后开头可能是半个多字节字符，跳到下一个字符边界
func (b *tailBuffer) trimPartialRune() {
	for i := 0; i < utf8.UTFMax-1 && b.buf.Len() > 0 && !utf8.RuneStart(b.buf.Bytes()[0]); i++ {
		b.buf.Next(1)
	}
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
