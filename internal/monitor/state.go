package monitor

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"servercheck/internal/model"
	"servercheck/internal/probe"
)

var (
	ErrEndpointNotFound = errors.New("端点不存在")
	ErrGroupNotFound    = errors.New("分组不存在")
)

// LastCheckedLayout 最近检测时间的展示格式
const LastCheckedLayout = "2006-01-02 15:04:05"

type groupEntry struct {
	id        string
	name      string
	endpoints []*model.Endpoint
}

// StateManager 端点列表的权威状态（仅存在于内存中，由调度器负责持久化）
//
// 结果合并始终按端点 ID 查找，不缓存位置下标，检测期间的增删改和排序都不会写错位置。
type StateManager struct {
	mu          sync.RWMutex
	groups      []*groupEntry
	index       map[string]*model.Endpoint
	pending     map[string]uint64 // 端点ID -> 等待结果的轮次
	lastChecked time.Time
	lastRound   uint64
}

// NewStateManager 创建状态管理器
func NewStateManager(groups []model.Group) *StateManager {
	sm := &StateManager{}
	sm.Load(groups)
	return sm
}

// Load 用持久化的快照替换当前状态
func (sm *StateManager) Load(groups []model.Group) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.groups = make([]*groupEntry, 0, len(groups))
	sm.index = make(map[string]*model.Endpoint)
	sm.pending = make(map[string]uint64)

	for _, g := range groups {
		entry := &groupEntry{id: g.ID, name: g.Name}
		if entry.id == "" {
			entry.id = uuid.NewString()
		}
		for _, ep := range g.Endpoints {
			ep := ep.Clone()
			if ep.ID == "" {
				ep.ID = uuid.NewString()
			}
			if _, dup := sm.index[ep.ID]; dup {
				continue
			}
			// 上次退出时未完成的检测不再可信
			if ep.Status == "" || ep.Status == model.StatusChecking {
				ep.Status = model.StatusUnknown
			}
			entry.endpoints = append(entry.endpoints, &ep)
			sm.index[ep.ID] = &ep
		}
		sm.groups = append(sm.groups, entry)
	}
}

// Snapshot 返回全部分组的深拷贝
func (sm *StateManager) Snapshot() []model.Group {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	out := make([]model.Group, 0, len(sm.groups))
	for _, g := range sm.groups {
		mg := model.Group{ID: g.id, Name: g.name, Endpoints: make([]model.Endpoint, 0, len(g.endpoints))}
		for _, ep := range g.endpoints {
			mg.Endpoints = append(mg.Endpoints, ep.Clone())
		}
		out = append(out, mg)
	}
	return out
}

// Endpoints 按展示顺序返回所有端点
func (sm *StateManager) Endpoints() []model.Endpoint {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	out := make([]model.Endpoint, 0, len(sm.index))
	for _, g := range sm.groups {
		for _, ep := range g.endpoints {
			out = append(out, ep.Clone())
		}
	}
	return out
}

// Endpoint 按 ID 获取端点
func (sm *StateManager) Endpoint(id string) (model.Endpoint, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	ep, ok := sm.index[id]
	if !ok {
		return model.Endpoint{}, false
	}
	return ep.Clone(), true
}

// Count 端点数量
func (sm *StateManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.index)
}

// LastChecked 最近一轮完整检测的完成时间
func (sm *StateManager) LastChecked() time.Time {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.lastChecked
}

// LastCheckedText 最近检测时间的展示文本，从未检测时为空
func (sm *StateManager) LastCheckedText() string {
	t := sm.LastChecked()
	if t.IsZero() {
		return ""
	}
	return t.Format(LastCheckedLayout)
}

// AddGroup 新建分组
func (sm *StateManager) AddGroup(name string) (model.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Group{}, fmt.Errorf("分组名称不能为空")
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	g := &groupEntry{id: uuid.NewString(), name: name}
	sm.groups = append(sm.groups, g)
	return model.Group{ID: g.id, Name: g.name}, nil
}

// RenameGroup 重命名分组
func (sm *StateManager) RenameGroup(id, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("分组名称不能为空")
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	g := sm.findGroup(id)
	if g == nil {
		return fmt.Errorf("%w: %s", ErrGroupNotFound, id)
	}
	g.name = name
	return nil
}

// MoveGroup 调整分组顺序
func (sm *StateManager) MoveGroup(from, to int) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if from < 0 || from >= len(sm.groups) || to < 0 || to >= len(sm.groups) {
		return fmt.Errorf("分组位置超出范围: %d -> %d", from, to)
	}
	sm.groups = move(sm.groups, from, to)
	return nil
}

// MoveEndpoint 调整分组内端点顺序
func (sm *StateManager) MoveEndpoint(groupID string, from, to int) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	g := sm.findGroup(groupID)
	if g == nil {
		return fmt.Errorf("%w: %s", ErrGroupNotFound, groupID)
	}
	if from < 0 || from >= len(g.endpoints) || to < 0 || to >= len(g.endpoints) {
		return fmt.Errorf("端点位置超出范围: %d -> %d", from, to)
	}
	g.endpoints = move(g.endpoints, from, to)
	return nil
}

// AddEndpoint 添加端点
//
// groupID 为空时加入第一个分组，没有分组时自动创建 "Group 1"。
func (sm *StateManager) AddEndpoint(groupID string, ep model.Endpoint) (model.Endpoint, error) {
	ct, err := model.ParseCheckType(string(ep.Type))
	if err != nil {
		return model.Endpoint{}, err
	}
	ep.Type = ct
	ep.Host = strings.TrimSpace(ep.Host)
	if err := ep.Validate(); err != nil {
		return model.Endpoint{}, err
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	var g *groupEntry
	switch {
	case groupID != "":
		if g = sm.findGroup(groupID); g == nil {
			return model.Endpoint{}, fmt.Errorf("%w: %s", ErrGroupNotFound, groupID)
		}
	case len(sm.groups) == 0:
		g = &groupEntry{id: uuid.NewString(), name: "Group 1"}
		sm.groups = append(sm.groups, g)
	default:
		g = sm.groups[0]
	}

	if ep.ID == "" {
		ep.ID = uuid.NewString()
	}
	if _, dup := sm.index[ep.ID]; dup {
		return model.Endpoint{}, fmt.Errorf("端点ID重复: %s", ep.ID)
	}
	if ep.Name == "" {
		ep.Name = ep.Host
	}
	ep.Status = model.StatusUnknown
	ep.ClearResult()

	stored := ep.Clone()
	g.endpoints = append(g.endpoints, &stored)
	sm.index[stored.ID] = &stored
	return stored.Clone(), nil
}

// UpdateEndpoint 修改端点配置（名称、类型、主机、端口），结果字段由调度器维护
//
// 检测目标发生变化时，正在进行中的检测结果作废。
func (sm *StateManager) UpdateEndpoint(ep model.Endpoint) (model.Endpoint, error) {
	ct, err := model.ParseCheckType(string(ep.Type))
	if err != nil {
		return model.Endpoint{}, err
	}
	ep.Type = ct
	ep.Host = strings.TrimSpace(ep.Host)
	if err := ep.Validate(); err != nil {
		return model.Endpoint{}, err
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	cur, ok := sm.index[ep.ID]
	if !ok {
		return model.Endpoint{}, fmt.Errorf("%w: %s", ErrEndpointNotFound, ep.ID)
	}

	retargeted := !cur.SameTarget(ep)
	cur.Name = ep.Name
	cur.Type = ep.Type
	cur.Host = ep.Host
	cur.Port = ep.Port
	if retargeted {
		delete(sm.pending, cur.ID)
		cur.Status = model.StatusUnknown
		cur.ClearResult()
	}
	return cur.Clone(), nil
}

// DeleteEndpoint 删除端点，分组变空时一并删除
func (sm *StateManager) DeleteEndpoint(id string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if _, ok := sm.index[id]; !ok {
		return fmt.Errorf("%w: %s", ErrEndpointNotFound, id)
	}
	delete(sm.index, id)
	delete(sm.pending, id)

	for gi, g := range sm.groups {
		for si, ep := range g.endpoints {
			if ep.ID != id {
				continue
			}
			g.endpoints = append(g.endpoints[:si], g.endpoints[si+1:]...)
			if len(g.endpoints) == 0 {
				sm.groups = append(sm.groups[:gi], sm.groups[gi+1:]...)
			}
			return nil
		}
	}
	return nil
}

// BeginRound 把所有端点标记为检测中并清空旧结果，返回标记前的快照
func (sm *StateManager) BeginRound(seq uint64) []model.Endpoint {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	targets := make([]model.Endpoint, 0, len(sm.index))
	for _, g := range sm.groups {
		for _, ep := range g.endpoints {
			targets = append(targets, ep.Clone())
			ep.Status = model.StatusChecking
			ep.ClearResult()
			sm.pending[ep.ID] = seq
		}
	}
	return targets
}

// Apply 把一个检测结果写回端点
//
// 端点已被删除、检测目标已被修改或结果不属于该端点当前等待的轮次时，结果被丢弃并返回 false。
func (sm *StateManager) Apply(seq uint64, id string, res *probe.Result) (model.Endpoint, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ep, ok := sm.index[id]
	if !ok {
		return model.Endpoint{}, false
	}
	if want, waiting := sm.pending[id]; !waiting || want != seq {
		return model.Endpoint{}, false
	}
	delete(sm.pending, id)

	ep.Status = res.Status()
	ep.ResponseTime = res.LatencyMS()
	ep.ResponseError = res.Error
	ep.ResponseStatusCode = res.StatusCode
	return ep.Clone(), true
}

// FinishRound 记录一轮检测的完成时间，旧轮次不会覆盖新轮次
func (sm *StateManager) FinishRound(seq uint64, at time.Time) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if seq < sm.lastRound {
		return false
	}
	sm.lastRound = seq
	sm.lastChecked = at
	return true
}

func (sm *StateManager) findGroup(id string) *groupEntry {
	for _, g := range sm.groups {
		if g.id == id {
			return g
		}
	}
	return nil
}

func move[T any](s []T, from, to int) []T {
	item := s[from]
	s = append(s[:from], s[from+1:]...)
	s = append(s[:to], append([]T{item}, s[to:]...)...)
	return s
}
