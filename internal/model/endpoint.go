package model

import (
	"fmt"
	"strings"
)

// CheckType 检测类型
type CheckType string

const (
	CheckTypePing CheckType = "ping"
	CheckTypeTCP  CheckType = "tcp"
	CheckTypeHTTP CheckType = "http"
)

// ParseCheckType 解析检测类型（不区分大小写，兼容 PING/TCP/HTTP 写法）
func ParseCheckType(s string) (CheckType, error) {
	switch CheckType(strings.ToLower(strings.TrimSpace(s))) {
	case CheckTypePing:
		return CheckTypePing, nil
	case CheckTypeTCP:
		return CheckTypeTCP, nil
	case CheckTypeHTTP:
		return CheckTypeHTTP, nil
	}
	return "", fmt.Errorf("未知的检测类型: %q", s)
}

// Status 端点状态
type Status string

const (
	StatusChecking Status = "checking"
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusUnknown  Status = "unknown"
)

// DefaultPort 未指定端口时 TCP/HTTP 使用的端口
const DefaultPort = 80

// Endpoint 被检测的网络目标
//
// ID 在编辑前后保持不变；引擎只读取 Type/Host/Port，只写入 Status 及三个结果字段。
type Endpoint struct {
	ID                 string    `json:"id" yaml:"id"`
	Name               string    `json:"name" yaml:"name"`
	Type               CheckType `json:"type" yaml:"type"`
	Host               string    `json:"host" yaml:"host"`
	Port               int       `json:"port,omitempty" yaml:"port,omitempty"`
	Status             Status    `json:"status" yaml:"-"`
	ResponseTime       *float64  `json:"response_time,omitempty" yaml:"-"` // 毫秒
	ResponseError      string    `json:"response_error,omitempty" yaml:"-"`
	ResponseStatusCode int       `json:"response_status_code,omitempty" yaml:"-"`
}

// EffectivePort 返回实际使用的端口
func (e Endpoint) EffectivePort() int {
	if e.Port > 0 {
		return e.Port
	}
	return DefaultPort
}

// SameTarget 判断两个端点的检测配置是否一致
func (e Endpoint) SameTarget(o Endpoint) bool {
	return e.Type == o.Type && e.Host == o.Host && e.Port == o.Port
}

// ClearResult 清除上一次的检测结果
func (e *Endpoint) ClearResult() {
	e.ResponseTime = nil
	e.ResponseError = ""
	e.ResponseStatusCode = 0
}

// Reason 返回失败原因：HTTP 失败优先展示状态码，其次是错误信息
func (e Endpoint) Reason() string {
	if e.Status != StatusDown {
		return ""
	}
	if e.Type == CheckTypeHTTP && e.ResponseStatusCode != 0 {
		return fmt.Sprintf("HTTP %d", e.ResponseStatusCode)
	}
	return e.ResponseError
}

// Validate 校验端点配置
func (e Endpoint) Validate() error {
	if strings.TrimSpace(e.Host) == "" {
		return fmt.Errorf("主机地址不能为空")
	}
	if _, err := ParseCheckType(string(e.Type)); err != nil {
		return err
	}
	if e.Port < 0 || e.Port > 65535 {
		return fmt.Errorf("端口超出范围: %d", e.Port)
	}
	return nil
}

// Group 端点分组
type Group struct {
	ID        string     `json:"id" yaml:"id"`
	Name      string     `json:"name" yaml:"name"`
	Endpoints []Endpoint `json:"servers" yaml:"endpoints"`
}

// Clone 深拷贝分组
func (g Group) Clone() Group {
	out := Group{ID: g.ID, Name: g.Name, Endpoints: make([]Endpoint, len(g.Endpoints))}
	for i, ep := range g.Endpoints {
		out.Endpoints[i] = ep.Clone()
	}
	return out
}

// Clone 深拷贝端点
func (e Endpoint) Clone() Endpoint {
	if e.ResponseTime != nil {
		rt := *e.ResponseTime
		e.ResponseTime = &rt
	}
	return e
}
