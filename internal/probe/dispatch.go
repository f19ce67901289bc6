package probe

import (
	"context"
	"fmt"
	"time"

	"servercheck/internal/model"
)

// Dispatcher 按检测类型把端点路由到对应的检测器
type Dispatcher struct {
	checkers map[model.CheckType]Prober
}

// NewDispatcher 创建路由器
func NewDispatcher(checkers ...Prober) *Dispatcher {
	d := &Dispatcher{checkers: make(map[model.CheckType]Prober, len(checkers))}
	for _, c := range checkers {
		d.checkers[c.Type()] = c
	}
	return d
}

// NewDefaultDispatcher 使用三种内置检测器
func NewDefaultDispatcher(pingPrivileged, httpInsecure bool) *Dispatcher {
	return NewDispatcher(
		NewPingChecker(pingPrivileged),
		NewTCPChecker(),
		NewHTTPChecker(httpInsecure),
	)
}

// Dispatch 检测单个端点
func (d *Dispatcher) Dispatch(ctx context.Context, ep model.Endpoint, timeout time.Duration) *Result {
	checker, ok := d.checkers[ep.Type]
	if !ok {
		return failed(ep.Type, ep.Host, fmt.Errorf("%w: 未知的检测类型 %q", ErrInvalidTarget, ep.Type))
	}
	return checker.Probe(ctx, Target{Host: ep.Host, Port: ep.Port}, timeout)
}
