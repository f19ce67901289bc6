package schedule

import (
	"context"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"servercheck/internal/model"
)

// Runner 触发整轮检测
type Runner interface {
	TriggerRound(trigger string) bool
}

// TriggerStore 定时触发器的持久化
type TriggerStore interface {
	SaveTrigger(ctx context.Context, trigger model.CronTrigger) error
	LoadTriggers(ctx context.Context) ([]model.CronTrigger, error)
	DeleteTrigger(ctx context.Context, id string) error
}

// 与 cron.WithSeconds() 相同的六段式解析器
var parser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateSpec 校验秒级 cron 表达式（支持 @every 1m 等描述符）
func ValidateSpec(spec string) error {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return fmt.Errorf("cron 表达式不能为空")
	}
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("无效的 cron 表达式: %w", err)
	}
	return nil
}
