package schedule

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"servercheck/internal/logger"
	"servercheck/internal/model"
	"servercheck/internal/monitor"
)

// Manager 定时触发器管理器，到点时触发一轮完整检测
type Manager struct {
	cron      *cron.Cron
	triggers  map[string]*model.CronTrigger
	cronIDs   map[string]cron.EntryID // 触发器ID -> cron EntryID 映射
	mu        sync.RWMutex
	isRunning bool

	runner Runner
	store  TriggerStore
}

// NewManager 创建定时触发器管理器，store 为 nil 时不持久化
func NewManager(runner Runner, store TriggerStore) *Manager {
	return &Manager{
		cron:     cron.New(cron.WithParser(parser)), // 支持秒级精度
		triggers: make(map[string]*model.CronTrigger),
		cronIDs:  make(map[string]cron.EntryID),
		runner:   runner,
		store:    store,
	}
}

// Load 从存储恢复触发器
func (m *Manager) Load(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	triggers, err := m.store.LoadTriggers(ctx)
	if err != nil {
		return fmt.Errorf("加载定时触发器失败: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range triggers {
		t := t
		if err := m.register(&t); err != nil {
			logger.Warnf("[Schedule] 跳过无效触发器 %s (%s): %v", t.Name, t.Spec, err)
			continue
		}
	}
	logger.Infof("[Schedule] 已加载 %d 个定时触发器", len(m.triggers))
	return nil
}

// AddSpec 添加一个启用的触发器，transient 为 true 时不写入存储
func (m *Manager) AddSpec(ctx context.Context, name, spec string, transient bool) (model.CronTrigger, error) {
	return m.Add(ctx, model.CronTrigger{Name: name, Spec: spec, Enabled: true, Transient: transient})
}

// Add 添加或替换触发器
func (m *Manager) Add(ctx context.Context, t model.CronTrigger) (model.CronTrigger, error) {
	t.Spec = strings.TrimSpace(t.Spec)
	if err := ValidateSpec(t.Spec); err != nil {
		return model.CronTrigger{}, err
	}

	now := time.Now()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Name == "" {
		t.Name = t.Spec
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	m.mu.Lock()
	if err := m.register(&t); err != nil {
		m.mu.Unlock()
		return model.CronTrigger{}, err
	}
	m.mu.Unlock()

	logger.Infof("[Schedule] 触发器已添加: %s (%s) - %s", t.Name, t.ID, t.Spec)
	return t, m.persist(ctx, t)
}

// register 登记触发器，调用方持有写锁
func (m *Manager) register(t *model.CronTrigger) error {
	// 如果触发器已存在，先移除
	if oldID, exists := m.cronIDs[t.ID]; exists {
		m.cron.Remove(oldID)
		delete(m.cronIDs, t.ID)
	}

	if t.Enabled {
		id := t.ID
		entryID, err := m.cron.AddFunc(t.Spec, func() {
			m.fire(id)
		})
		if err != nil {
			return fmt.Errorf("添加 cron 任务失败: %w", err)
		}
		m.cronIDs[t.ID] = entryID
	}

	stored := *t
	m.triggers[t.ID] = &stored
	return nil
}

// Remove 移除触发器
func (m *Manager) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	t, exists := m.triggers[id]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("触发器不存在: %s", id)
	}
	if entryID, ok := m.cronIDs[id]; ok {
		m.cron.Remove(entryID)
		delete(m.cronIDs, id)
	}
	delete(m.triggers, id)
	transient := t.Transient
	m.mu.Unlock()

	logger.Infof("[Schedule] 触发器已移除: %s", id)
	if m.store == nil || transient {
		return nil
	}
	return m.store.DeleteTrigger(ctx, id)
}

// SetEnabled 启用或禁用触发器
func (m *Manager) SetEnabled(ctx context.Context, id string, enabled bool) (model.CronTrigger, error) {
	m.mu.Lock()
	cur, exists := m.triggers[id]
	if !exists {
		m.mu.Unlock()
		return model.CronTrigger{}, fmt.Errorf("触发器不存在: %s", id)
	}
	if cur.Enabled == enabled {
		t := *cur
		m.mu.Unlock()
		return t, nil
	}

	t := *cur
	t.Enabled = enabled
	t.UpdatedAt = time.Now()
	if err := m.register(&t); err != nil {
		m.mu.Unlock()
		return model.CronTrigger{}, err
	}
	m.mu.Unlock()

	if enabled {
		logger.Infof("[Schedule] 触发器已启用: %s", t.Name)
	} else {
		logger.Infof("[Schedule] 触发器已禁用: %s", t.Name)
	}
	return t, m.persist(ctx, t)
}

// Get 获取触发器
func (m *Manager) Get(id string) (model.CronTrigger, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, exists := m.triggers[id]
	if !exists {
		return model.CronTrigger{}, false
	}
	return *t, true
}

// List 按创建时间返回所有触发器
func (m *Manager) List() []model.CronTrigger {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.CronTrigger, 0, len(m.triggers))
	for _, t := range m.triggers {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// NextRun 触发器下一次执行时间，未启用或调度器未运行时为零值
func (m *Manager) NextRun(id string) time.Time {
	m.mu.RLock()
	entryID, ok := m.cronIDs[id]
	m.mu.RUnlock()
	if !ok {
		return time.Time{}
	}
	return m.cron.Entry(entryID).Next
}

// RunNow 立即触发一次（手动执行）
func (m *Manager) RunNow(id string) error {
	if _, ok := m.Get(id); !ok {
		return fmt.Errorf("触发器不存在: %s", id)
	}
	logger.Infof("[Schedule] 手动执行触发器: %s", id)
	m.fire(id)
	return nil
}

// fire 触发一轮检测并记录执行时间
func (m *Manager) fire(id string) {
	m.mu.Lock()
	t, exists := m.triggers[id]
	if !exists {
		m.mu.Unlock()
		return
	}
	now := time.Now()
	t.LastRunAt = &now
	snapshot := *t
	m.mu.Unlock()

	if m.runner.TriggerRound(monitor.TriggerCron) {
		logger.Infof("[Schedule] %s 触发检测", snapshot.Name)
	} else {
		logger.Infof("[Schedule] %s 触发检测（已合并到进行中的一轮）", snapshot.Name)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.persist(ctx, snapshot); err != nil {
		logger.Errorf("[Schedule] 更新触发器状态失败: %v", err)
	}
}

func (m *Manager) persist(ctx context.Context, t model.CronTrigger) error {
	if m.store == nil || t.Transient {
		return nil
	}
	if err := m.store.SaveTrigger(ctx, t); err != nil {
		return fmt.Errorf("保存触发器失败: %w", err)
	}
	return nil
}

// Start 启动调度器
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isRunning {
		return
	}

	m.cron.Start()
	m.isRunning = true
	logger.Info("[Schedule] 定时触发调度器已启动")
}

// Stop 停止调度器并等待正在执行的触发结束
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.isRunning {
		m.mu.Unlock()
		return
	}
	m.isRunning = false
	m.mu.Unlock()

	<-m.cron.Stop().Done()
	logger.Info("[Schedule] 定时触发调度器已停止")
}

// IsRunning 检查是否在运行
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isRunning
}

// Count 获取触发器数量
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.triggers)
}
