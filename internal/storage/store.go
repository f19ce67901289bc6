package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"servercheck/internal/model"
)

// 存储键，沿用客户端的偏好设置键名
const (
	KeyGroups   = "server_groups"
	KeySettings = "settings"
	KeyTriggers = "cron_triggers"
)

// ErrNotFound 键不存在
var ErrNotFound = errors.New("存储中不存在")

// Store 端点列表、设置和定时触发器的持久化
type Store interface {
	SaveGroups(ctx context.Context, groups []model.Group) error
	LoadGroups(ctx context.Context) ([]model.Group, error)
	SaveSettings(ctx context.Context, settings model.Settings) error
	LoadSettings(ctx context.Context) (model.Settings, error)
	SaveTrigger(ctx context.Context, trigger model.CronTrigger) error
	LoadTriggers(ctx context.Context) ([]model.CronTrigger, error)
	DeleteTrigger(ctx context.Context, id string) error
	Close() error
}

// Options 存储后端选项
type Options struct {
	Backend  string // sqlite | s3
	DBPath   string
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string
}

// Open 按配置打开存储后端
func Open(ctx context.Context, opts Options) (Store, error) {
	switch strings.ToLower(opts.Backend) {
	case "", "sqlite":
		return OpenSQLite(opts.DBPath)
	case "s3":
		return OpenS3(ctx, opts)
	default:
		return nil, fmt.Errorf("未知的存储后端: %s", opts.Backend)
	}
}
