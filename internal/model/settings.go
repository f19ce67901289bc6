package model

import (
	"fmt"
	"time"
)

// RefreshMode 刷新模式
type RefreshMode string

const (
	RefreshManual     RefreshMode = "manual"
	RefreshContinuous RefreshMode = "continuous"
	RefreshPeriodic   RefreshMode = "periodic"
)

// ContinuousInterval "实时" 模式下的实际间隔
const ContinuousInterval = 500 * time.Millisecond

// DefaultProbeTimeout 单次探测默认超时
const DefaultProbeTimeout = 3 * time.Second

// RefreshOption 可选刷新间隔
type RefreshOption struct {
	Label   string  `json:"label"`
	Seconds float64 `json:"seconds"`
}

// RefreshOptions 预设的刷新间隔列表
var RefreshOptions = []RefreshOption{
	{"关闭", 0},
	{"实时(BETA)", 0.5},
	{"3秒", 3},
	{"5秒", 5},
	{"10秒", 10},
	{"15秒", 15},
	{"30秒", 30},
	{"1分钟", 60},
	{"3分钟", 180},
	{"5分钟", 300},
}

// Settings 全局设置
type Settings struct {
	RefreshInterval float64 `json:"refresh_interval"` // 秒；0 表示仅手动，小于 1 表示实时
	ProbeTimeoutMS  int     `json:"probe_timeout_ms"`
}

// DefaultSettings 默认设置
func DefaultSettings() Settings {
	return Settings{
		RefreshInterval: 60,
		ProbeTimeoutMS:  int(DefaultProbeTimeout / time.Millisecond),
	}
}

// Validate 校验设置
func (s Settings) Validate() error {
	if s.RefreshInterval < 0 {
		return fmt.Errorf("刷新间隔不能为负数: %v", s.RefreshInterval)
	}
	if s.ProbeTimeoutMS < 0 {
		return fmt.Errorf("探测超时不能为负数: %d", s.ProbeTimeoutMS)
	}
	return nil
}

// Interval 返回刷新模式和对应的间隔
func (s Settings) Interval() (RefreshMode, time.Duration) {
	switch {
	case s.RefreshInterval <= 0:
		return RefreshManual, 0
	case s.RefreshInterval < 1:
		return RefreshContinuous, ContinuousInterval
	default:
		return RefreshPeriodic, time.Duration(s.RefreshInterval * float64(time.Second))
	}
}

// ProbeTimeout 返回探测超时，未设置时使用默认值
func (s Settings) ProbeTimeout() time.Duration {
	if s.ProbeTimeoutMS <= 0 {
		return DefaultProbeTimeout
	}
	return time.Duration(s.ProbeTimeoutMS) * time.Millisecond
}

// Label 返回刷新间隔的展示文本
func (s Settings) Label() string {
	for _, opt := range RefreshOptions {
		if opt.Seconds == s.RefreshInterval {
			return opt.Label
		}
	}
	return fmt.Sprintf("%d秒", int(s.RefreshInterval))
}
