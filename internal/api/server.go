package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"servercheck/internal/logger"
	"servercheck/internal/model"
	"servercheck/internal/monitor"
	"servercheck/internal/schedule"
	"servercheck/internal/storage"
	"servercheck/internal/webhook"
)

// Server Web API 服务器
type Server struct {
	scheduler *monitor.Scheduler
	schedules *schedule.Manager
	store     storage.Store
	webhook   *webhook.Client
	hub       *Hub
	router    *mux.Router
	server    *http.Server
}

// Options API 服务器依赖，除 Scheduler 外均可为空
type Options struct {
	Scheduler *monitor.Scheduler
	Schedules *schedule.Manager
	Store     storage.Store
	Webhook   *webhook.Client
	Port      int
}

// NewServer 创建 API 服务器
func NewServer(opts Options) *Server {
	s := &Server{
		scheduler: opts.Scheduler,
		schedules: opts.Schedules,
		store:     opts.Store,
		webhook:   opts.Webhook,
		hub:       NewHub(),
		router:    mux.NewRouter(),
	}

	// 注册路由
	s.registerRoutes()

	// 每轮结束后推送最新快照
	s.scheduler.OnRound(s.broadcastRound)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", opts.Port),
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

// registerRoutes 注册路由
func (s *Server) registerRoutes() {
	// 启用 CORS
	s.router.Use(corsMiddleware)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleGetStatus).Methods("GET")
	api.HandleFunc("/check", s.handleCheck).Methods("POST")
	api.HandleFunc("/settings", s.handleGetSettings).Methods("GET")
	api.HandleFunc("/settings", s.handleUpdateSettings).Methods("PUT")
	api.HandleFunc("/logs", s.handleGetLogs).Methods("GET")
	api.HandleFunc("/logs/clear", s.handleClearLogs).Methods("POST")
	api.HandleFunc("/ws", s.handleWS).Methods("GET")

	// 分组与端点
	api.HandleFunc("/groups", s.handleGetGroups).Methods("GET")
	api.HandleFunc("/groups", s.handleCreateGroup).Methods("POST")
	api.HandleFunc("/groups/move", s.handleMoveGroup).Methods("POST")
	api.HandleFunc("/groups/{id}", s.handleRenameGroup).Methods("PUT")
	api.HandleFunc("/groups/{id}/endpoints", s.handleCreateEndpoint).Methods("POST")
	api.HandleFunc("/groups/{id}/endpoints/move", s.handleMoveEndpoint).Methods("POST")
	api.HandleFunc("/endpoints", s.handleCreateEndpoint).Methods("POST")
	api.HandleFunc("/endpoints/{id}", s.handleGetEndpoint).Methods("GET")
	api.HandleFunc("/endpoints/{id}", s.handleUpdateEndpoint).Methods("PUT")
	api.HandleFunc("/endpoints/{id}", s.handleDeleteEndpoint).Methods("DELETE")

	// 定时触发器
	api.HandleFunc("/schedules", s.handleGetSchedules).Methods("GET")
	api.HandleFunc("/schedules", s.handleCreateSchedule).Methods("POST")
	api.HandleFunc("/schedules/{id}", s.handleDeleteSchedule).Methods("DELETE")
	api.HandleFunc("/schedules/{id}/run", s.handleRunSchedule).Methods("POST")
	api.HandleFunc("/schedules/{id}/enable", s.handleEnableSchedule).Methods("POST")
	api.HandleFunc("/schedules/{id}/disable", s.handleDisableSchedule).Methods("POST")

	// Webhook 测试路由
	api.HandleFunc("/webhook/test", s.handleTestWebhook).Methods("POST")
}

// Handler 返回路由，便于嵌入其他服务或测试
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub 返回实时推送中心
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start 启动 API 服务器
func (s *Server) Start() error {
	logger.Infof("[API] 服务启动: http://localhost%s", s.server.Addr)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("[API] 服务器错误: %v", err)
		}
	}()
	return nil
}

// Stop 停止 API 服务器
func (s *Server) Stop(ctx context.Context) error {
	logger.Info("[API] 正在停止 Web 服务器...")
	s.hub.Close()
	return s.server.Shutdown(ctx)
}

// corsMiddleware CORS 中间件
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// StatusResponse 运行状态
type StatusResponse struct {
	Running          bool           `json:"running"`
	Timestamp        int64          `json:"timestamp"`
	LastChecked      string         `json:"last_checked"`
	NextRunAt        *time.Time     `json:"next_run_at,omitempty"`
	CountdownSeconds float64        `json:"countdown_seconds"`
	RefreshLabel     string         `json:"refresh_label"`
	Settings         model.Settings `json:"settings"`
	Stats            monitor.Stats  `json:"stats"`
	Endpoints        int            `json:"endpoints"`
	Up               int            `json:"up"`
	Down             int            `json:"down"`
	Checking         int            `json:"checking"`
	Clients          int            `json:"ws_clients"`
	WebhookEnabled   bool           `json:"webhook_enabled"`
}

// handleGetStatus 获取运行状态
func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	settings := s.scheduler.Settings()
	status := StatusResponse{
		Running:          s.scheduler.IsRunning(),
		Timestamp:        time.Now().Unix(),
		LastChecked:      s.scheduler.State().LastCheckedText(),
		CountdownSeconds: s.scheduler.Countdown().Seconds(),
		RefreshLabel:     settings.Label(),
		Settings:         settings,
		Stats:            s.scheduler.Stats(),
		Clients:          s.hub.Count(),
		WebhookEnabled:   s.webhook != nil && s.webhook.Enabled(),
	}
	if next := s.scheduler.NextRunAt(); !next.IsZero() {
		status.NextRunAt = &next
	}
	for _, ep := range s.scheduler.State().Endpoints() {
		status.Endpoints++
		switch ep.Status {
		case model.StatusUp:
			status.Up++
		case model.StatusDown:
			status.Down++
		case model.StatusChecking:
			status.Checking++
		}
	}

	respondSuccess(w, "获取状态成功", status)
}

// handleCheck 立即触发一轮检测
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	started := s.scheduler.TriggerRound(monitor.TriggerManual)
	respondJSON(w, http.StatusAccepted, true, "检测已触发", map[string]interface{}{
		"started":   started,
		"coalesced": !started,
	})
}

// handleGetSettings 获取检测设置
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, "获取设置成功", map[string]interface{}{
		"settings": s.scheduler.Settings(),
		"options":  model.RefreshOptions,
	})
}

// handleUpdateSettings 更新检测设置
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	settings := s.scheduler.Settings()
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		respondError(w, "无效的JSON格式", http.StatusBadRequest)
		return
	}
	if err := s.scheduler.UpdateSettings(settings); err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if s.store != nil {
		if err := s.store.SaveSettings(r.Context(), settings); err != nil {
			respondError(w, fmt.Sprintf("保存设置失败: %v", err), http.StatusInternalServerError)
			return
		}
	}

	logger.Infof("[API] 刷新间隔: %s, 超时: %dms", settings.Label(), settings.ProbeTimeoutMS)
	respondSuccess(w, "设置更新成功", settings)
}

// handleGetLogs 获取内存日志
func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	lines := 100 // 默认返回最后100行
	if v, err := strconv.Atoi(r.URL.Query().Get("lines")); err == nil && v > 0 {
		lines = v
	}

	// 从内存缓冲区获取日志
	buffer := logger.GetBuffer()
	if buffer == nil {
		respondError(w, "日志缓冲区未初始化", http.StatusInternalServerError)
		return
	}

	logs := buffer.GetLogs(lines)

	// 格式化日志为字符串
	var content string
	for _, log := range logs {
		content += fmt.Sprintf("[%s] [%s] %s\n",
			log.Timestamp.Format("2006-01-02 15:04:05"),
			log.Level,
			log.Message)
	}

	respondSuccess(w, "获取日志成功", map[string]interface{}{
		"content": content,
		"entries": logs,
		"count":   len(logs),
		"lines":   lines,
	})
}

// handleClearLogs 清空内存日志
func (s *Server) handleClearLogs(w http.ResponseWriter, r *http.Request) {
	buffer := logger.GetBuffer()
	if buffer == nil {
		respondError(w, "日志缓冲区未初始化", http.StatusInternalServerError)
		return
	}

	buffer.Clear()
	logger.Info("[API] 内存日志已清空")
	respondSuccess(w, "日志清理成功", nil)
}

// handleTestWebhook 发送一条测试告警
func (s *Server) handleTestWebhook(w http.ResponseWriter, r *http.Request) {
	if s.webhook == nil || !s.webhook.Enabled() {
		respondError(w, "Webhook URL 未配置", http.StatusBadRequest)
		return
	}

	alert := &webhook.Alert{
		Type:      webhook.AlertTypeDown,
		Name:      "webhook-test",
		CheckType: model.CheckTypeHTTP,
		Target:    "test.example.com",
		Reason:    "这是一条 Webhook 测试消息",
	}
	if err := s.webhook.SendAlert(r.Context(), alert); err != nil {
		respondError(w, "发送失败: "+err.Error(), http.StatusBadGateway)
		return
	}
	respondSuccess(w, "发送成功", alert)
}

// persistGroups 编辑后立即保存端点列表
func (s *Server) persistGroups(ctx context.Context) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveGroups(ctx, s.scheduler.State().Snapshot()); err != nil {
		logger.Errorf("[API] 保存端点列表失败: %v", err)
	}
}

// statusFor 把状态层错误映射为 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, monitor.ErrEndpointNotFound), errors.Is(err, monitor.ErrGroupNotFound):
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}

// respondSuccess 成功响应
func respondSuccess(w http.ResponseWriter, message string, data interface{}) {
	respondJSON(w, http.StatusOK, true, message, data)
}

// respondError 错误响应
func respondError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"message": message,
	})
}

func respondJSON(w http.ResponseWriter, code int, success bool, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": success,
		"message": message,
		"data":    data,
	})
}
