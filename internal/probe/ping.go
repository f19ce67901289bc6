package probe

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	goping "github.com/go-ping/ping"

	"servercheck/internal/model"
)

// Resolver 域名解析
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Echoer 发送一次 ICMP echo 并返回往返时间
type Echoer interface {
	Echo(ctx context.Context, addr string, timeout time.Duration) (time.Duration, error)
}

// PingChecker ICMP Ping检测器
type PingChecker struct {
	resolver Resolver
	echoer   Echoer
}

// NewPingChecker 创建Ping检测器
func NewPingChecker(privileged bool) *PingChecker {
	return &PingChecker{
		resolver: net.DefaultResolver,
		echoer:   &icmpEchoer{privileged: privileged},
	}
}

// Type 返回检测类型
func (c *PingChecker) Type() model.CheckType {
	return model.CheckTypePing
}

// Probe 执行ICMP Ping检测，只发送一个包，不重试
func (c *PingChecker) Probe(ctx context.Context, target Target, timeout time.Duration) *Result {
	host := target.Host
	if host == "" {
		return failed(model.CheckTypePing, host, ErrInvalidTarget)
	}

	return resolveFirst(ctx, model.CheckTypePing, host, timeout, func(ctx context.Context) *Result {
		// 如果是域名，先使用系统 DNS 解析
		ipAddr, err := c.resolve(ctx, host)
		if err != nil {
			return failed(model.CheckTypePing, host, err)
		}

		remaining := timeout
		if deadline, ok := ctx.Deadline(); ok {
			remaining = time.Until(deadline)
		}

		rtt, err := c.echoer.Echo(ctx, ipAddr, remaining)
		if err != nil {
			return failed(model.CheckTypePing, host, err)
		}
		return succeeded(model.CheckTypePing, host, rtt)
	})
}

func (c *PingChecker) resolve(ctx context.Context, host string) (string, error) {
	if net.ParseIP(host) != nil {
		return host, nil
	}
	ips, err := c.resolver.LookupHost(ctx, host)
	if err != nil {
		return "", err
	}
	if len(ips) == 0 {
		return "", &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}
	return ips[0], nil // 使用第一个IP
}

// icmpEchoer 基于 go-ping 的实现
type icmpEchoer struct {
	privileged bool
}

func (e *icmpEchoer) Echo(ctx context.Context, addr string, timeout time.Duration) (time.Duration, error) {
	pinger, err := goping.NewPinger(addr)
	if err != nil {
		return 0, fmt.Errorf("创建pinger失败: %w", err)
	}

	// Linux系统使用特权模式（ICMP）
	pinger.SetPrivileged(e.privileged)
	pinger.Count = 1
	pinger.Timeout = timeout

	stop := context.AfterFunc(ctx, pinger.Stop)
	defer stop()

	if err := pinger.Run(); err != nil {
		return 0, err
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return 0, fmt.Errorf("ICMP应答超时 (发送: %d): %w", stats.PacketsSent, os.ErrDeadlineExceeded)
	}
	return stats.AvgRtt, nil
}
