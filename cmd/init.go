package cmd

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"

	"servercheck/internal/config"
	"servercheck/internal/logger"
	"servercheck/internal/monitor"
	"servercheck/internal/probe"
	"servercheck/internal/storage"
)

var (
	globalConfig *config.Config
	globalStore  storage.Store
	initOnce     sync.Once
	initError    error
)

// InitSystem 加载配置、初始化日志并打开存储
func InitSystem(ctx context.Context) error {
	initOnce.Do(func() {
		cfg, err := config.Load(envFile)
		if err != nil {
			initError = fmt.Errorf("加载配置失败: %w", err)
			return
		}
		globalConfig = cfg

		// 根据配置决定是否启用文件日志
		if cfg.Log.Enabled {
			if err := logger.Init(cfg.Log.Level, cfg.Log.Path, cfg.Log.MaxDays); err != nil {
				initError = fmt.Errorf("日志初始化失败: %w", err)
				return
			}
			logger.Info("日志系统初始化成功（文件+控制台）")
		} else {
			logger.InitConsoleOnly(cfg.Log.Level)
			logger.Info("日志系统初始化成功（仅控制台）")
		}

		store, err := storage.Open(ctx, storage.Options{
			Backend:  cfg.Store.Backend,
			DBPath:   cfg.Store.DBPath,
			Bucket:   cfg.Store.Bucket,
			Prefix:   cfg.Store.Prefix,
			Region:   cfg.Store.Region,
			Endpoint: cfg.Store.Endpoint,
		})
		if err != nil {
			initError = fmt.Errorf("打开存储失败: %w", err)
			return
		}
		globalStore = store
		logger.Infof("存储后端: %s", cfg.Store.Backend)
	})
	return initError
}

// GetConfig 获取全局配置
func GetConfig() *config.Config {
	return globalConfig
}

// GetStore 获取全局存储
func GetStore() storage.Store {
	return globalStore
}

// loadState 从存储恢复端点列表
func loadState(ctx context.Context) (*monitor.StateManager, error) {
	groups, err := config.LoadGroupsFromStore(ctx, globalStore)
	if err != nil {
		return nil, err
	}
	return monitor.NewStateManager(groups), nil
}

// newScheduler 按配置和存储中的设置创建检测调度器
func newScheduler(ctx context.Context) (*monitor.Scheduler, error) {
	cfg := globalConfig

	state, err := loadState(ctx)
	if err != nil {
		return nil, err
	}

	settings, err := config.LoadSettingsFromStore(ctx, globalStore, cfg.Settings())
	if err != nil {
		logger.Warnf("%v，使用默认设置", err)
	}

	dispatcher := probe.NewDefaultDispatcher(cfg.Probe.PingPrivileged, cfg.Probe.InsecureSkipVerify)
	logger.Infof("已加载 %d 个端点，刷新间隔: %s", state.Count(), settings.Label())
	return monitor.NewScheduler(state, dispatcher, globalStore, settings, cfg.Probe.MaxConcurrent), nil
}

// saveState 保存端点列表
func saveState(ctx context.Context, state *monitor.StateManager) error {
	if err := globalStore.SaveGroups(ctx, state.Snapshot()); err != nil {
		return fmt.Errorf("保存端点列表失败: %w", err)
	}
	return nil
}

// CloseSystem 关闭存储和日志文件
func CloseSystem() error {
	var err error
	if globalStore != nil {
		err = multierr.Append(err, globalStore.Close())
	}
	return multierr.Append(err, logger.Close())
}
