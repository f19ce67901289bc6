package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"servercheck/internal/model"
)

// ErrInvalidTarget 目标地址无法构造
var ErrInvalidTarget = errors.New("invalid target")

// Target 检测目标
type Target struct {
	Host string
	Port int
}

// Address 返回 host:port，未指定端口时使用 80
func (t Target) Address() string {
	port := t.Port
	if port <= 0 {
		// 兼容直接写成 host:port 的旧配置
		if h, p, err := net.SplitHostPort(t.Host); err == nil && h != "" {
			return net.JoinHostPort(h, p)
		}
		port = model.DefaultPort
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(port))
}

// Result 单次检测结果，生成后不再修改
type Result struct {
	Type       model.CheckType
	Target     string
	Success    bool
	Latency    time.Duration
	Measured   bool // Latency 是否有效
	Category   Category
	Error      string // 已翻译的错误信息
	StatusCode int    // 仅 HTTP
}

// LatencyMS 返回毫秒延迟，未测得时为 nil
func (r *Result) LatencyMS() *float64 {
	if !r.Measured {
		return nil
	}
	ms := float64(r.Latency) / float64(time.Millisecond)
	return &ms
}

// Status 返回对应的端点状态
func (r *Result) Status() model.Status {
	if r.Success {
		return model.StatusUp
	}
	return model.StatusDown
}

func (r *Result) String() string {
	switch {
	case r.Success:
		return fmt.Sprintf("%s %s up (%v)", r.Type, r.Target, r.Latency)
	case r.StatusCode != 0:
		return fmt.Sprintf("%s %s down (HTTP %d)", r.Type, r.Target, r.StatusCode)
	default:
		return fmt.Sprintf("%s %s down (%s)", r.Type, r.Target, r.Error)
	}
}

// Prober 协议检测器接口
type Prober interface {
	// Type 返回检测类型
	Type() model.CheckType
	// Probe 对单个目标执行一次检测，在 timeout 内必定返回
	Probe(ctx context.Context, target Target, timeout time.Duration) *Result
}

func succeeded(t model.CheckType, target string, latency time.Duration) *Result {
	return &Result{Type: t, Target: target, Success: true, Latency: latency, Measured: true}
}

func failed(t model.CheckType, target string, err error) *Result {
	cat, msg := describe(err)
	return &Result{Type: t, Target: target, Category: cat, Error: msg}
}

// resolveFirst 让网络事件与超时竞争，只采纳先发生的一方，之后到达的结果被丢弃
func resolveFirst(ctx context.Context, t model.CheckType, target string, timeout time.Duration,
	attempt func(ctx context.Context) *Result) *Result {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// 容量为 1，迟到的结果不会阻塞检测协程
	done := make(chan *Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- failed(t, target, fmt.Errorf("probe panic: %v", r))
			}
		}()
		done <- attempt(ctx)
	}()

	select {
	case r := <-done:
		return r
	case <-ctx.Done():
		return failed(t, target, ctx.Err())
	}
}
