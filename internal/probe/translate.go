package probe

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"syscall"
)

// Category 错误分类
type Category string

const (
	CategoryNone               Category = ""
	CategoryTimeout            Category = "timeout"
	CategoryConnectionRefused  Category = "connection-refused"
	CategoryNetworkUnreachable Category = "network-unreachable"
	CategoryHostNotFound       Category = "host-not-found"
	CategoryInvalidTarget      Category = "invalid-target"
	CategoryNoResponse         Category = "no-response"
	CategoryHTTPStatus         Category = "http-status"
	CategoryOther              Category = "other"
)

var categoryMessages = map[Category]string{
	CategoryTimeout:            "连接超时",
	CategoryConnectionRefused:  "连接被拒绝",
	CategoryNetworkUnreachable: "网络不可达",
	CategoryHostNotFound:       "找不到主机",
	CategoryInvalidTarget:      "无效的目标地址",
	CategoryNoResponse:         "无响应",
}

// Message 返回分类对应的展示文本，other/http-status 没有固定文本
func (c Category) Message() string {
	return categoryMessages[c]
}

// 域名解析失败的特征片段，优先级最高
var resolutionFragments = []string{
	"kcferrordomaincfnetwork error 2",
	"no such host",
	"nodename nor servname provided",
	"name or service not known",
	"temporary failure in name resolution",
}

var messageRules = []struct {
	needle   string
	category Category
}{
	{"timeout", CategoryTimeout},
	{"timed out", CategoryTimeout},
	{"deadline exceeded", CategoryTimeout},
	{"connection refused", CategoryConnectionRefused},
	{"network is unreachable", CategoryNetworkUnreachable},
	{"no route to host", CategoryNetworkUnreachable},
	{"host not found", CategoryHostNotFound},
	{"invalid url", CategoryInvalidTarget},
	{"no response", CategoryNoResponse},
}

// Classify 根据原始错误文本判断分类，无法识别时返回 other
func Classify(raw string) Category {
	lower := strings.ToLower(raw)
	for _, frag := range resolutionFragments {
		if strings.Contains(lower, frag) {
			return CategoryHostNotFound
		}
	}
	for _, rule := range messageRules {
		if strings.Contains(lower, rule.needle) {
			return rule.category
		}
	}
	return CategoryOther
}

// Translate 把底层错误文本转换为用户可读的文本；无法识别时原样返回
func Translate(raw string) string {
	if msg := Classify(raw).Message(); msg != "" {
		return msg
	}
	return raw
}

// ClassifyError 优先按错误类型分类，再回退到文本匹配
func ClassifyError(err error) Category {
	if err == nil {
		return CategoryNone
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return CategoryTimeout
		}
		return CategoryHostNotFound
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return CategoryTimeout
	case errors.Is(err, syscall.ECONNREFUSED):
		return CategoryConnectionRefused
	case errors.Is(err, syscall.ENETUNREACH), errors.Is(err, syscall.EHOSTUNREACH):
		return CategoryNetworkUnreachable
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return CategoryNoResponse
	case errors.Is(err, ErrInvalidTarget):
		return CategoryInvalidTarget
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CategoryTimeout
	}

	return Classify(err.Error())
}

// describe 返回错误的分类和展示文本
func describe(err error) (Category, string) {
	cat := ClassifyError(err)
	if msg := cat.Message(); msg != "" {
		return cat, msg
	}
	return cat, err.Error()
}
