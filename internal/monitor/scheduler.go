package monitor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/puzpuzpuz/xsync/v4"

	"servercheck/internal/logger"
	"servercheck/internal/model"
	"servercheck/internal/probe"
)

// 触发来源
const (
	TriggerManual  = "manual"
	TriggerTimer   = "timer"
	TriggerStartup = "startup"
	TriggerCron    = "cron"
	TriggerEdit    = "edit"
)

// DefaultMaxConcurrentProbes 同时进行的检测上限
const DefaultMaxConcurrentProbes = 64

// Dispatcher 按类型检测单个端点
type Dispatcher interface {
	Dispatch(ctx context.Context, ep model.Endpoint, timeout time.Duration) *probe.Result
}

// Persister 保存端点列表
type Persister interface {
	SaveGroups(ctx context.Context, groups []model.Group) error
}

// Transition 端点在两轮之间发生的 up/down 变化
type Transition struct {
	EndpointID string
	Name       string
	Type       model.CheckType
	Host       string
	From       model.Status
	To         model.Status
	Reason     string
}

// RoundReport 一轮检测的汇总
type RoundReport struct {
	Seq         uint64
	Trigger     string
	StartedAt   time.Time
	FinishedAt  time.Time
	Total       int
	Merged      int
	Discarded   int
	Up          int
	Down        int
	Transitions []Transition
}

// Stats 调度器累计统计
type Stats struct {
	Rounds    int64 `json:"rounds"`
	Probes    int64 `json:"probes"`
	Discarded int64 `json:"discarded"`
}

type outcome struct {
	endpoint model.Endpoint
	result   *probe.Result
}

// Scheduler 检测调度器：触发一轮检测，并发检测所有端点，全部完成后合并结果并持久化
type Scheduler struct {
	state      *StateManager
	dispatcher Dispatcher
	persister  Persister
	pool       pond.Pool
	closed     atomic.Bool

	settingsMu sync.RWMutex
	settings   model.Settings

	seq     atomic.Uint64
	roundMu sync.Mutex // 同一时间只执行一轮

	triggerMu sync.Mutex
	inFlight  bool
	queued    bool
	rounds    sync.WaitGroup

	roundCount     *xsync.Counter
	probeCount     *xsync.Counter
	discardedCount *xsync.Counter

	observersMu sync.RWMutex
	observers   []func(*RoundReport)

	mu        sync.Mutex
	isRunning bool
	ctx       context.Context
	cancel    context.CancelFunc
	loopDone  chan struct{}
	resetChan chan struct{}
	nextRunAt time.Time
}

// NewScheduler 创建检测调度器
func NewScheduler(state *StateManager, dispatcher Dispatcher, persister Persister, settings model.Settings, maxConcurrent int) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentProbes
	}
	return &Scheduler{
		state:          state,
		dispatcher:     dispatcher,
		persister:      persister,
		pool:           pond.NewPool(maxConcurrent),
		settings:       settings,
		roundCount:     xsync.NewCounter(),
		probeCount:     xsync.NewCounter(),
		discardedCount: xsync.NewCounter(),
		resetChan:      make(chan struct{}, 1),
	}
}

// State 返回权威状态
func (s *Scheduler) State() *StateManager {
	return s.state
}

// Settings 当前设置
func (s *Scheduler) Settings() model.Settings {
	s.settingsMu.RLock()
	defer s.settingsMu.RUnlock()
	return s.settings
}

// UpdateSettings 更新设置，新的刷新间隔立即生效
func (s *Scheduler) UpdateSettings(settings model.Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	s.settingsMu.Lock()
	s.settings = settings
	s.settingsMu.Unlock()

	mode, d := settings.Interval()
	logger.Infof("[Round] 刷新间隔已更新: %s (%s %v)", settings.Label(), mode, d)
	s.resetCountdown()
	return nil
}

// OnRound 注册每轮完成后的回调，回调在调度协程中同步执行
func (s *Scheduler) OnRound(fn func(*RoundReport)) {
	s.observersMu.Lock()
	defer s.observersMu.Unlock()
	s.observers = append(s.observers, fn)
}

// Stats 返回累计统计
func (s *Scheduler) Stats() Stats {
	return Stats{
		Rounds:    s.roundCount.Value(),
		Probes:    s.probeCount.Value(),
		Discarded: s.discardedCount.Value(),
	}
}

// TriggerRound 请求立即执行一轮检测，不等待结果
//
// 已有一轮在执行时不会并行启动新的一轮，而是在当前轮结束后补执行一次（多次请求合并为一次）。
// 返回 false 表示请求被合并。
func (s *Scheduler) TriggerRound(trigger string) bool {
	if trigger != TriggerTimer {
		s.resetCountdown()
	}

	s.triggerMu.Lock()
	if s.inFlight {
		s.queued = true
		s.triggerMu.Unlock()
		logger.Debugf("[Round] 上一轮尚未完成，合并本次触发 (%s)", trigger)
		return false
	}
	s.inFlight = true
	s.rounds.Add(1)
	s.triggerMu.Unlock()

	go func() {
		defer s.rounds.Done()
		for {
			s.RunRound(s.baseContext(), trigger)

			s.triggerMu.Lock()
			if !s.queued {
				s.inFlight = false
				s.triggerMu.Unlock()
				return
			}
			s.queued = false
			s.triggerMu.Unlock()
		}
	}()
	return true
}

// Wait 等待所有后台轮次结束
func (s *Scheduler) Wait() {
	s.rounds.Wait()
}

// RunRound 同步执行一轮检测
func (s *Scheduler) RunRound(ctx context.Context, trigger string) *RoundReport {
	s.roundMu.Lock()
	defer s.roundMu.Unlock()

	seq := s.seq.Add(1)
	report := &RoundReport{Seq: seq, Trigger: trigger, StartedAt: time.Now()}

	if s.closed.Load() || ctx.Err() != nil {
		logger.Warnf("[Round] #%d 调度器已停止，跳过检测", seq)
		report.FinishedAt = report.StartedAt
		return report
	}

	timeout := s.Settings().ProbeTimeout()
	targets := s.state.BeginRound(seq)
	report.Total = len(targets)
	logger.Infof("[Round] #%d 开始检测 %d 个端点 (触发: %s, 超时: %v)", seq, len(targets), trigger, timeout)

	// 停止服务不打断进行中的检测，每个检测由自身超时约束
	probeCtx := context.WithoutCancel(ctx)

	// 每个端点一个任务，结果通过通道回到当前协程串行合并
	outcomes := make(chan outcome, len(targets))
	group := s.pool.NewGroup()
	for _, ep := range targets {
		ep := ep
		group.Submit(func() {
			outcomes <- outcome{endpoint: ep, result: s.probe(probeCtx, ep, timeout)}
		})
	}

	for range targets {
		s.merge(seq, <-outcomes, report)
	}
	if err := group.Wait(); err != nil {
		logger.Warnf("[Round] #%d 任务组异常: %v", seq, err)
	}

	report.FinishedAt = time.Now()
	s.state.FinishRound(seq, report.FinishedAt)
	s.roundCount.Inc()

	logger.Infof("[Round] #%d 检测完成: 正常 %d, 异常 %d, 丢弃 %d (耗时: %v)",
		seq, report.Up, report.Down, report.Discarded, report.FinishedAt.Sub(report.StartedAt))

	s.persist(ctx)
	s.notify(report)
	return report
}

// probe 执行单个检测，检测器 panic 也会转换为失败结果
func (s *Scheduler) probe(ctx context.Context, ep model.Endpoint, timeout time.Duration) (res *probe.Result) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[Probe] %s (%s) 检测异常: %v", ep.Name, ep.Host, r)
			res = &probe.Result{Type: ep.Type, Target: ep.Host, Category: probe.CategoryOther, Error: fmt.Sprint(r)}
		}
	}()
	return s.dispatcher.Dispatch(ctx, ep, timeout)
}

func (s *Scheduler) merge(seq uint64, o outcome, report *RoundReport) {
	s.probeCount.Inc()

	updated, ok := s.state.Apply(seq, o.endpoint.ID, o.result)
	if !ok {
		report.Discarded++
		s.discardedCount.Inc()
		logger.Debugf("[Round] #%d 丢弃结果: %s (端点已删除或已修改)", seq, o.endpoint.ID)
		return
	}
	report.Merged++

	if o.result.Success {
		report.Up++
		logger.Debugf("[Probe] ✓ %s 正常 (%s)", updated.Name, o.result)
	} else {
		report.Down++
		logger.Debugf("[Probe] ✗ %s 异常 (%s)", updated.Name, o.result)
	}

	prev := o.endpoint.Status
	if (prev == model.StatusUp && updated.Status == model.StatusDown) ||
		(prev == model.StatusDown && updated.Status == model.StatusUp) {
		report.Transitions = append(report.Transitions, Transition{
			EndpointID: updated.ID,
			Name:       updated.Name,
			Type:       updated.Type,
			Host:       updated.Host,
			From:       prev,
			To:         updated.Status,
			Reason:     updated.Reason(),
		})
	}
}

func (s *Scheduler) persist(ctx context.Context) {
	if s.persister == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := s.persister.SaveGroups(ctx, s.state.Snapshot()); err != nil {
		logger.Errorf("[Round] 保存端点列表失败: %v", err)
	}
}

func (s *Scheduler) notify(report *RoundReport) {
	s.observersMu.RLock()
	observers := append([]func(*RoundReport){}, s.observers...)
	s.observersMu.RUnlock()

	for _, fn := range observers {
		fn(report)
	}
}

func (s *Scheduler) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}

func (s *Scheduler) resetCountdown() {
	select {
	case s.resetChan <- struct{}{}:
	default:
	}
}

// NextRunAt 下一次定时检测的时间，手动模式或未启动时为零值
func (s *Scheduler) NextRunAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRunAt
}

// Countdown 距离下一次定时检测的剩余时间
func (s *Scheduler) Countdown() time.Duration {
	next := s.NextRunAt()
	if next.IsZero() {
		return 0
	}
	if d := time.Until(next); d > 0 {
		return d
	}
	return 0
}

// Start 启动定时检测
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("检测服务已经在运行中")
	}
	if s.closed.Load() {
		return fmt.Errorf("检测服务已关闭")
	}

	mode, d := s.Settings().Interval()
	logger.Info("==========================================")
	logger.Info("启动端点检测服务")
	logger.Infof("端点数量: %d", s.state.Count())
	logger.Infof("刷新模式: %s (%v)", mode, d)
	logger.Info("==========================================")

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.loopDone = make(chan struct{})
	s.isRunning = true

	go s.loop(s.ctx, s.loopDone)
	return nil
}

// Stop 停止定时检测并等待进行中的检测结束
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("检测服务未在运行")
	}
	logger.Info("正在停止检测服务...")
	s.cancel()
	done := s.loopDone
	s.isRunning = false
	s.mu.Unlock()

	<-done
	s.rounds.Wait()

	s.mu.Lock()
	s.ctx = nil
	s.nextRunAt = time.Time{}
	s.mu.Unlock()

	logger.Info("检测服务已停止")
	return nil
}

// IsRunning 检查是否正在运行
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// Close 停止调度器并释放工作池
func (s *Scheduler) Close() {
	if s.IsRunning() {
		_ = s.Stop()
	}
	s.rounds.Wait()
	if s.closed.CompareAndSwap(false, true) {
		s.pool.StopAndWait()
	}
}

// loop 倒计时循环：倒计时归零触发一轮检测，手动触发会重置倒计时
func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	arm := func() {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		mode, d := s.Settings().Interval()

		s.mu.Lock()
		defer s.mu.Unlock()
		if mode == model.RefreshManual {
			s.nextRunAt = time.Time{}
			return
		}
		timer.Reset(d)
		s.nextRunAt = time.Now().Add(d)
	}

	// 启动后立即执行一次检测
	s.TriggerRound(TriggerStartup)
	arm()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.TriggerRound(TriggerTimer)
			arm()
		case <-s.resetChan:
			arm()
		}
	}
}
