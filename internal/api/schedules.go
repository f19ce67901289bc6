package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"servercheck/internal/model"
)

// ScheduleRequest 定时触发器请求结构
type ScheduleRequest struct {
	Name    string `json:"name"`
	Spec    string `json:"spec"`
	Enabled *bool  `json:"enabled"`
}

type scheduleView struct {
	model.CronTrigger
	NextRunAt *string `json:"next_run_at,omitempty"`
}

func (s *Server) view(t model.CronTrigger) scheduleView {
	v := scheduleView{CronTrigger: t}
	if next := s.schedules.NextRun(t.ID); !next.IsZero() {
		text := next.Format("2006-01-02 15:04:05")
		v.NextRunAt = &text
	}
	return v
}

func (s *Server) requireSchedules(w http.ResponseWriter) bool {
	if s.schedules == nil {
		respondError(w, "定时触发器未启用", http.StatusServiceUnavailable)
		return false
	}
	return true
}

// handleGetSchedules 获取所有定时触发器
func (s *Server) handleGetSchedules(w http.ResponseWriter, r *http.Request) {
	if !s.requireSchedules(w) {
		return
	}
	list := s.schedules.List()
	views := make([]scheduleView, 0, len(list))
	for _, t := range list {
		views = append(views, s.view(t))
	}
	respondSuccess(w, "获取成功", views)
}

// handleCreateSchedule 创建定时触发器
func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	if !s.requireSchedules(w) {
		return
	}
	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "无效的 JSON 格式", http.StatusBadRequest)
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	t, err := s.schedules.Add(r.Context(), model.CronTrigger{Name: req.Name, Spec: req.Spec, Enabled: enabled})
	if err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}
	respondJSON(w, http.StatusCreated, true, "创建成功", s.view(t))
}

// handleDeleteSchedule 删除定时触发器
func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	if !s.requireSchedules(w) {
		return
	}
	id := mux.Vars(r)["id"]
	if _, ok := s.schedules.Get(id); !ok {
		respondError(w, "触发器不存在", http.StatusNotFound)
		return
	}
	if err := s.schedules.Remove(r.Context(), id); err != nil {
		respondError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondSuccess(w, "删除成功", nil)
}

// handleRunSchedule 立即执行定时触发器
func (s *Server) handleRunSchedule(w http.ResponseWriter, r *http.Request) {
	if !s.requireSchedules(w) {
		return
	}
	if err := s.schedules.RunNow(mux.Vars(r)["id"]); err != nil {
		respondError(w, err.Error(), http.StatusNotFound)
		return
	}
	respondJSON(w, http.StatusAccepted, true, "检测已触发", nil)
}

// handleEnableSchedule 启用定时触发器
func (s *Server) handleEnableSchedule(w http.ResponseWriter, r *http.Request) {
	s.setScheduleEnabled(w, r, true)
}

// handleDisableSchedule 禁用定时触发器
func (s *Server) handleDisableSchedule(w http.ResponseWriter, r *http.Request) {
	s.setScheduleEnabled(w, r, false)
}

func (s *Server) setScheduleEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	if !s.requireSchedules(w) {
		return
	}
	id := mux.Vars(r)["id"]
	if _, ok := s.schedules.Get(id); !ok {
		respondError(w, "触发器不存在", http.StatusNotFound)
		return
	}
	t, err := s.schedules.SetEnabled(r.Context(), id, enabled)
	if err != nil {
		respondError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if enabled {
		respondSuccess(w, "已启用", s.view(t))
	} else {
		respondSuccess(w, "已禁用", s.view(t))
	}
}
