package probe

import (
	"context"
	"net"
	"time"

	"servercheck/internal/model"
)

// Dialer 建立网络连接
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// TCPChecker TCP端口检测器
type TCPChecker struct {
	dialer Dialer
}

// NewTCPChecker 创建TCP检测器
func NewTCPChecker() *TCPChecker {
	return &TCPChecker{dialer: &net.Dialer{}}
}

// Type 返回检测类型
func (c *TCPChecker) Type() model.CheckType {
	return model.CheckTypeTCP
}

// Probe 执行TCP端口检测，连接建立即视为成功
func (c *TCPChecker) Probe(ctx context.Context, target Target, timeout time.Duration) *Result {
	if target.Host == "" {
		return failed(model.CheckTypeTCP, "", ErrInvalidTarget)
	}
	addr := target.Address()

	return resolveFirst(ctx, model.CheckTypeTCP, addr, timeout, func(ctx context.Context) *Result {
		start := time.Now()
		conn, err := c.dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return failed(model.CheckTypeTCP, addr, err)
		}
		latency := time.Since(start)
		conn.Close()
		return succeeded(model.CheckTypeTCP, addr, latency)
	})
}
