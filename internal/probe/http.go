package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"servercheck/internal/model"
)

// HTTPChecker HTTP检测器
type HTTPChecker struct {
	client *http.Client
}

// NewHTTPChecker 创建HTTP检测器
func NewHTTPChecker(insecureSkipVerify bool) *HTTPChecker {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if insecureSkipVerify {
		// 跳过证书验证（用于自签名证书的内部服务）
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &HTTPChecker{
		client: &http.Client{Transport: transport},
	}
}

// Type 返回检测类型
func (c *HTTPChecker) Type() model.CheckType {
	return model.CheckTypeHTTP
}

// BuildURL 构造检测地址
//
//	https://example.com/status  -> 原样使用
//	example.com/health, 8080    -> http://example.com:8080/health
//	example.com, 8080           -> http://example.com:8080/
//	example.com:8080, 0         -> http://example.com:8080/
func BuildURL(host string, port int) (string, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return "", fmt.Errorf("%w: 主机为空", ErrInvalidTarget)
	}
	// 未指定端口时兼容 host:port 写法，与 TCP 检测一致
	hostPort := func(h string) string {
		if port <= 0 {
			if name, p, err := net.SplitHostPort(h); err == nil && name != "" {
				return net.JoinHostPort(name, p)
			}
			return net.JoinHostPort(h, strconv.Itoa(model.DefaultPort))
		}
		return net.JoinHostPort(h, strconv.Itoa(port))
	}

	var raw string
	lower := strings.ToLower(host)
	switch {
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		raw = host
	case strings.Contains(host, "/"):
		i := strings.Index(host, "/")
		raw = "http://" + hostPort(host[:i]) + host[i:]
	default:
		raw = "http://" + hostPort(host) + "/"
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("%w: %s", ErrInvalidTarget, raw)
	}
	return raw, nil
}

// Probe 发送 HEAD 请求，2xx 为成功
//
// 收到响应时无论状态码如何都记录耗时；非 2xx 只携带状态码，不附带错误信息。
func (c *HTTPChecker) Probe(ctx context.Context, target Target, timeout time.Duration) *Result {
	rawURL, err := BuildURL(target.Host, target.Port)
	if err != nil {
		return failed(model.CheckTypeHTTP, target.Host, err)
	}

	return resolveFirst(ctx, model.CheckTypeHTTP, rawURL, timeout, func(ctx context.Context) *Result {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
		if err != nil {
			return failed(model.CheckTypeHTTP, rawURL, fmt.Errorf("%w: %v", ErrInvalidTarget, err))
		}

		start := time.Now()
		resp, err := c.client.Do(req)
		if err != nil {
			return failed(model.CheckTypeHTTP, rawURL, err)
		}
		latency := time.Since(start)
		resp.Body.Close()

		result := &Result{
			Type:       model.CheckTypeHTTP,
			Target:     rawURL,
			Latency:    latency,
			Measured:   true,
			StatusCode: resp.StatusCode,
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			result.Success = true
		} else {
			result.Category = CategoryHTTPStatus
		}
		return result
	})
}
