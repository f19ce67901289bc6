package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"servercheck/internal/config"
	"servercheck/internal/logger"
	"servercheck/internal/model"
	"servercheck/internal/monitor"
)

// AlertType 告警类型
type AlertType string

const (
	AlertTypeDown     AlertType = "down"     // 目标不可达
	AlertTypeRecovery AlertType = "recovery" // 目标恢复
)

// Alert 告警信息
type Alert struct {
	Type       AlertType       `json:"type"`        // 告警类型
	EndpointID string          `json:"endpoint_id"` // 端点ID
	Name       string          `json:"name"`        // 端点名称
	CheckType  model.CheckType `json:"check_type"`  // 检测类型 (ping/tcp/http)
	Target     string          `json:"target"`      // 检测目标
	Reason     string          `json:"reason"`      // 失败原因
	Round      uint64          `json:"round"`       // 检测轮次
	Timestamp  int64           `json:"timestamp"`   // 时间戳
	Message    string          `json:"message"`     // 可读消息
}

// Client Webhook 客户端
type Client struct {
	mu         sync.RWMutex
	cfg        config.WebhookConfig
	httpClient *http.Client
	pending    sync.WaitGroup
}

// NewClient 创建 Webhook 客户端
func NewClient(cfg config.WebhookConfig) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: timeoutOf(cfg),
		},
	}
}

func timeoutOf(cfg config.WebhookConfig) time.Duration {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return timeout
}

// Enabled 是否配置了回调地址
func (c *Client) Enabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg.URL != ""
}

// SendAlert 发送告警
func (c *Client) SendAlert(ctx context.Context, alert *Alert) error {
	c.mu.RLock()
	cfg, httpClient := c.cfg, c.httpClient
	c.mu.RUnlock()

	if cfg.URL == "" {
		logger.Warn("[WEBHOOK] URL 未配置，无法发送告警通知")
		return nil
	}

	// 设置时间戳
	alert.Timestamp = time.Now().Unix()

	// 生成可读消息
	if alert.Type == AlertTypeDown {
		alert.Message = fmt.Sprintf("[%s] %s (%s) 检测失败: %s",
			alert.CheckType, alert.Name, alert.Target, alert.Reason)
	} else {
		alert.Message = fmt.Sprintf("[%s] %s (%s) 已恢复正常",
			alert.CheckType, alert.Name, alert.Target)
	}

	// 序列化 JSON
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("序列化告警失败: %w", err)
	}

	// 创建请求
	method := cfg.Method
	if method == "" {
		method = http.MethodPost
	}

	req, err := http.NewRequestWithContext(ctx, method, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}

	// 设置 Headers
	req.Header.Set("Content-Type", "application/json")
	for key, value := range cfg.Headers {
		req.Header.Set(key, value)
	}

	logger.Infof("[WEBHOOK] 发送通知: %s %s (%s) %s", method, cfg.URL, alert.Type, alert.Message)
	logger.Debugf("[WEBHOOK] Body: %s", string(body))

	// 发送请求
	resp, err := httpClient.Do(req)
	if err != nil {
		logger.Errorf("[WEBHOOK] ✗ 发送失败: %v", err)
		return fmt.Errorf("发送请求失败: %w", err)
	}
	defer resp.Body.Close()

	// 检查响应状态
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Warnf("[WEBHOOK] 响应状态码异常: %d", resp.StatusCode)
		return fmt.Errorf("响应状态码异常: %d", resp.StatusCode)
	}

	logger.Infof("[WEBHOOK] ✓ 告警发送成功: %s (状态码: %d)", alert.Target, resp.StatusCode)
	return nil
}

// AlertsFor 把一轮检测中的状态变化转换为告警
func AlertsFor(report *monitor.RoundReport) []*Alert {
	alerts := make([]*Alert, 0, len(report.Transitions))
	for _, tr := range report.Transitions {
		alert := &Alert{
			EndpointID: tr.EndpointID,
			Name:       tr.Name,
			CheckType:  tr.Type,
			Target:     tr.Host,
			Round:      report.Seq,
		}
		switch tr.To {
		case model.StatusDown:
			alert.Type = AlertTypeDown
			alert.Reason = tr.Reason
		case model.StatusUp:
			alert.Type = AlertTypeRecovery
		default:
			continue
		}
		alerts = append(alerts, alert)
	}
	return alerts
}

// HandleRound 每轮检测结束后的回调，异步发送状态变化告警
func (c *Client) HandleRound(report *monitor.RoundReport) {
	if !c.Enabled() {
		return
	}
	alerts := AlertsFor(report)
	if len(alerts) == 0 {
		return
	}

	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		for _, alert := range alerts {
			ctx, cancel := context.WithTimeout(context.Background(), timeoutOf(c.currentConfig()))
			if err := c.SendAlert(ctx, alert); err != nil {
				logger.Errorf("[WEBHOOK] %s 告警发送失败: %v", alert.Name, err)
			}
			cancel()
		}
	}()
}

// Wait 等待已排队的告警发送完成
func (c *Client) Wait() {
	c.pending.Wait()
}

func (c *Client) currentConfig() config.WebhookConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// UpdateConfig 更新配置
func (c *Client) UpdateConfig(cfg config.WebhookConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
	c.httpClient = &http.Client{Timeout: timeoutOf(cfg)}
}
