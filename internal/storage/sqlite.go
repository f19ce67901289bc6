package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"servercheck/internal/model"
)

// SQLiteStore SQLite 存储
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// OpenSQLite 打开（必要时创建）SQLite 数据库
func OpenSQLite(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("创建数据目录失败: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("初始化 SQLite 失败: %w", err)
	}
	db.SetMaxOpenConns(1)

	// 测试连接
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化 SQLite 失败: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("创建数据表失败: %w", err)
	}
	return s, nil
}

// createTables 创建数据库表
func (s *SQLiteStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS config (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS cron_triggers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		spec TEXT NOT NULL,
		enabled INTEGER DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		last_run_at TEXT
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close 关闭数据库连接
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) put(ctx context.Context, key string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("序列化 %s 失败: %w", key, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO config (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
	`, key, string(data))
	if err != nil {
		return fmt.Errorf("保存 %s 到 SQLite 失败: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) get(ctx context.Context, key string, v any) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return fmt.Errorf("从 SQLite 读取 %s 失败: %w", key, err)
	}

	if err := json.Unmarshal([]byte(value), v); err != nil {
		return fmt.Errorf("解析 %s JSON 失败: %w", key, err)
	}
	return nil
}

// SaveGroups 保存端点列表
func (s *SQLiteStore) SaveGroups(ctx context.Context, groups []model.Group) error {
	return s.put(ctx, KeyGroups, groups)
}

// LoadGroups 加载端点列表
func (s *SQLiteStore) LoadGroups(ctx context.Context) ([]model.Group, error) {
	var groups []model.Group
	if err := s.get(ctx, KeyGroups, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

// SaveSettings 保存检测设置
func (s *SQLiteStore) SaveSettings(ctx context.Context, settings model.Settings) error {
	return s.put(ctx, KeySettings, settings)
}

// LoadSettings 加载检测设置
func (s *SQLiteStore) LoadSettings(ctx context.Context) (model.Settings, error) {
	var settings model.Settings
	err := s.get(ctx, KeySettings, &settings)
	return settings, err
}

// SaveTrigger 保存定时触发器
func (s *SQLiteStore) SaveTrigger(ctx context.Context, t model.CronTrigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var lastRunAt sql.NullString
	if t.LastRunAt != nil {
		lastRunAt = sql.NullString{String: t.LastRunAt.Format(time.RFC3339Nano), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO cron_triggers
		(id, name, spec, enabled, created_at, updated_at, last_run_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Name, t.Spec, t.Enabled,
		t.CreatedAt.Format(time.RFC3339Nano), t.UpdatedAt.Format(time.RFC3339Nano), lastRunAt)
	if err != nil {
		return fmt.Errorf("保存定时触发器失败: %w", err)
	}
	return nil
}

// LoadTriggers 按创建时间获取所有定时触发器
func (s *SQLiteStore) LoadTriggers(ctx context.Context) ([]model.CronTrigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, spec, enabled, created_at, updated_at, last_run_at
		FROM cron_triggers ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("查询定时触发器失败: %w", err)
	}
	defer rows.Close()

	var triggers []model.CronTrigger
	for rows.Next() {
		var t model.CronTrigger
		var enabled int
		var createdAt, updatedAt string
		var lastRunAt sql.NullString

		if err := rows.Scan(&t.ID, &t.Name, &t.Spec, &enabled, &createdAt, &updatedAt, &lastRunAt); err != nil {
			return nil, fmt.Errorf("读取定时触发器失败: %w", err)
		}

		t.Enabled = enabled == 1
		t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		t.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		if lastRunAt.Valid {
			if at, err := time.Parse(time.RFC3339Nano, lastRunAt.String); err == nil {
				t.LastRunAt = &at
			}
		}
		triggers = append(triggers, t)
	}
	return triggers, rows.Err()
}

// DeleteTrigger 删除定时触发器
func (s *SQLiteStore) DeleteTrigger(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, `DELETE FROM cron_triggers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("删除定时触发器失败: %w", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("%w: 定时触发器 %s", ErrNotFound, id)
	}
	return nil
}
