package model

import "time"

// CronTrigger 按 cron 表达式触发整轮检测的定时触发器
type CronTrigger struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Spec      string     `json:"spec"` // 秒级 cron 表达式，如 "0 */5 * * * *"
	Enabled   bool       `json:"enabled"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	// Transient 来自环境变量的触发器不写入存储
	Transient bool `json:"transient,omitempty"`
}
