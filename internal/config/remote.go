package config

import (
	"fmt"
	"io"
	"net/http"
	"time"
)

// RemoteTimeout 拉取远程端点列表的超时时间
var RemoteTimeout = 30 * time.Second

// maxRemoteSize 远程端点文件大小上限
const maxRemoteSize = 4 << 20

// FetchRemoteEndpoints 从远程URL拉取端点文件内容
func FetchRemoteEndpoints(url string) ([]byte, error) {
	// 创建HTTP客户端，设置超时
	client := &http.Client{
		Timeout: RemoteTimeout,
	}

	// 发起GET请求
	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("请求远程端点列表失败: %w", err)
	}
	defer resp.Body.Close()

	// 检查HTTP状态码
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("远程端点列表HTTP状态错误: %d", resp.StatusCode)
	}

	// 读取响应体
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteSize))
	if err != nil {
		return nil, fmt.Errorf("读取远程端点列表失败: %w", err)
	}
	return body, nil
}
