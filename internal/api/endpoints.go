package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"servercheck/internal/logger"
	"servercheck/internal/model"
	"servercheck/internal/monitor"
)

// EndpointRequest 新增或修改端点的请求
type EndpointRequest struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (req EndpointRequest) endpoint(id string) model.Endpoint {
	return model.Endpoint{
		ID:   id,
		Name: req.Name,
		Type: model.CheckType(req.Type),
		Host: req.Host,
		Port: req.Port,
	}
}

type moveRequest struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// handleGetGroups 获取全部分组和端点状态
func (s *Server) handleGetGroups(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, "获取成功", map[string]interface{}{
		"groups":       s.scheduler.State().Snapshot(),
		"last_checked": s.scheduler.State().LastCheckedText(),
	})
}

// handleCreateGroup 新建分组
func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "无效的 JSON 格式", http.StatusBadRequest)
		return
	}

	g, err := s.scheduler.State().AddGroup(req.Name)
	if err != nil {
		respondError(w, err.Error(), statusFor(err))
		return
	}
	s.persistGroups(r.Context())

	logger.Infof("[API] 分组已创建: %s", g.Name)
	respondJSON(w, http.StatusCreated, true, "创建成功", g)
}

// handleRenameGroup 重命名分组
func (s *Server) handleRenameGroup(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "无效的 JSON 格式", http.StatusBadRequest)
		return
	}

	if err := s.scheduler.State().RenameGroup(id, req.Name); err != nil {
		respondError(w, err.Error(), statusFor(err))
		return
	}
	s.persistGroups(r.Context())
	respondSuccess(w, "更新成功", nil)
}

// handleMoveGroup 调整分组顺序
func (s *Server) handleMoveGroup(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "无效的 JSON 格式", http.StatusBadRequest)
		return
	}
	if err := s.scheduler.State().MoveGroup(req.From, req.To); err != nil {
		respondError(w, err.Error(), statusFor(err))
		return
	}
	s.persistGroups(r.Context())
	respondSuccess(w, "移动成功", nil)
}

// handleMoveEndpoint 调整分组内端点顺序
func (s *Server) handleMoveEndpoint(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "无效的 JSON 格式", http.StatusBadRequest)
		return
	}
	if err := s.scheduler.State().MoveEndpoint(mux.Vars(r)["id"], req.From, req.To); err != nil {
		respondError(w, err.Error(), statusFor(err))
		return
	}
	s.persistGroups(r.Context())
	respondSuccess(w, "移动成功", nil)
}

// handleCreateEndpoint 添加端点，添加后立即触发一轮检测
func (s *Server) handleCreateEndpoint(w http.ResponseWriter, r *http.Request) {
	var req EndpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "无效的 JSON 格式", http.StatusBadRequest)
		return
	}

	ep, err := s.scheduler.State().AddEndpoint(mux.Vars(r)["id"], req.endpoint(""))
	if err != nil {
		respondError(w, err.Error(), statusFor(err))
		return
	}
	s.persistGroups(r.Context())
	s.scheduler.TriggerRound(monitor.TriggerEdit)

	logger.Infof("[API] 端点已添加: %s (%s %s)", ep.Name, ep.Type, ep.Host)
	respondJSON(w, http.StatusCreated, true, "创建成功", ep)
}

// handleGetEndpoint 获取单个端点
func (s *Server) handleGetEndpoint(w http.ResponseWriter, r *http.Request) {
	ep, ok := s.scheduler.State().Endpoint(mux.Vars(r)["id"])
	if !ok {
		respondError(w, "端点不存在", http.StatusNotFound)
		return
	}
	respondSuccess(w, "获取成功", ep)
}

// handleUpdateEndpoint 修改端点
func (s *Server) handleUpdateEndpoint(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	cur, ok := s.scheduler.State().Endpoint(id)
	if !ok {
		respondError(w, "端点不存在", http.StatusNotFound)
		return
	}

	// 未提供的字段保持原值
	req := EndpointRequest{Name: cur.Name, Type: string(cur.Type), Host: cur.Host, Port: cur.Port}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "无效的 JSON 格式", http.StatusBadRequest)
		return
	}

	ep, err := s.scheduler.State().UpdateEndpoint(req.endpoint(id))
	if err != nil {
		respondError(w, err.Error(), statusFor(err))
		return
	}
	s.persistGroups(r.Context())

	logger.Infof("[API] 端点已修改: %s (%s %s)", ep.Name, ep.Type, ep.Host)
	respondSuccess(w, "更新成功", ep)
}

// handleDeleteEndpoint 删除端点
func (s *Server) handleDeleteEndpoint(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.scheduler.State().DeleteEndpoint(id); err != nil {
		respondError(w, err.Error(), statusFor(err))
		return
	}
	s.persistGroups(r.Context())

	logger.Infof("[API] 端点已删除: %s", id)
	respondSuccess(w, "删除成功", nil)
}
