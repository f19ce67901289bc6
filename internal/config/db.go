package config

import (
	"context"
	"errors"
	"fmt"

	"servercheck/internal/model"
	"servercheck/internal/storage"
)

// SettingsStore 设置的持久化
type SettingsStore interface {
	SaveSettings(ctx context.Context, settings model.Settings) error
	LoadSettings(ctx context.Context) (model.Settings, error)
}

// LoadSettingsFromStore 从存储加载检测设置，存储中没有设置时写入并返回默认值
func LoadSettingsFromStore(ctx context.Context, store SettingsStore, defaults model.Settings) (model.Settings, error) {
	settings, err := store.LoadSettings(ctx)
	if err == nil {
		if verr := settings.Validate(); verr != nil {
			return defaults, fmt.Errorf("存储中的设置无效: %w", verr)
		}
		return settings, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return defaults, fmt.Errorf("加载设置失败: %w", err)
	}

	// 如果没有设置，保存默认设置
	if err := defaults.Validate(); err != nil {
		return model.DefaultSettings(), fmt.Errorf("默认设置无效: %w", err)
	}
	if err := store.SaveSettings(ctx, defaults); err != nil {
		return defaults, fmt.Errorf("保存默认设置失败: %w", err)
	}
	return defaults, nil
}

// LoadGroupsFromStore 从存储加载端点列表，首次运行时返回空列表
func LoadGroupsFromStore(ctx context.Context, store storage.Store) ([]model.Group, error) {
	groups, err := store.LoadGroups(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("加载端点列表失败: %w", err)
	}
	return groups, nil
}
