package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"servercheck/internal/logger"
	"servercheck/internal/model"
	"servercheck/internal/monitor"
	"servercheck/internal/probe"
	"servercheck/internal/schedule"
	"servercheck/internal/storage"
)

type upDispatcher struct{}

func (upDispatcher) Dispatch(ctx context.Context, ep model.Endpoint, timeout time.Duration) *probe.Result {
	return &probe.Result{Type: ep.Type, Target: ep.Host, Success: true, Latency: 2 * time.Millisecond, Measured: true}
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type fixture struct {
	t         *testing.T
	srv       *Server
	http      *httptest.Server
	store     *storage.SQLiteStore
	scheduler *monitor.Scheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "servercheck.db"))
	require.NoError(t, err)

	sched := monitor.NewScheduler(monitor.NewStateManager(nil), upDispatcher{}, st, model.DefaultSettings(), 4)
	srv := NewServer(Options{
		Scheduler: sched,
		Schedules: schedule.NewManager(sched, st),
		Store:     st,
	})
	ts := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		srv.Hub().Close()
		ts.Close()
		sched.Close()
		st.Close()
	})
	return &fixture{t: t, srv: srv, http: ts, store: st, scheduler: sched}
}

func (f *fixture) do(method, path string, body interface{}) (int, envelope) {
	f.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(f.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.http.URL+path, &buf)
	require.NoError(f.t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(f.t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(f.t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func TestEndpointLifecycle(t *testing.T) {
	f := newFixture(t)

	code, env := f.do("POST", "/api/endpoints", EndpointRequest{Type: "HTTP", Host: "example.com"})
	require.Equal(t, http.StatusCreated, code, env.Message)
	var ep model.Endpoint
	require.NoError(t, json.Unmarshal(env.Data, &ep))
	assert.Equal(t, model.CheckTypeHTTP, ep.Type)
	assert.Equal(t, "example.com", ep.Name)

	// 添加端点会触发一轮检测
	f.scheduler.Wait()
	got, ok := f.scheduler.State().Endpoint(ep.ID)
	require.True(t, ok)
	assert.Equal(t, model.StatusUp, got.Status)

	saved, err := f.store.LoadGroups(context.Background())
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, "Group 1", saved[0].Name)

	code, env = f.do("PUT", "/api/endpoints/"+ep.ID, map[string]interface{}{"name": "官网"})
	require.Equal(t, http.StatusOK, code, env.Message)
	got, _ = f.scheduler.State().Endpoint(ep.ID)
	assert.Equal(t, "官网", got.Name)
	assert.Equal(t, "example.com", got.Host)

	code, _ = f.do("PUT", "/api/endpoints/"+ep.ID, map[string]interface{}{"type": "smtp"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do("DELETE", "/api/endpoints/"+ep.ID, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, f.scheduler.State().Snapshot())

	code, _ = f.do("DELETE", "/api/endpoints/"+ep.ID, nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = f.do("GET", "/api/endpoints/"+ep.ID, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestGroupRoutes(t *testing.T) {
	f := newFixture(t)

	code, env := f.do("POST", "/api/groups", map[string]string{"name": "生产"})
	require.Equal(t, http.StatusCreated, code)
	var g model.Group
	require.NoError(t, json.Unmarshal(env.Data, &g))

	code, _ = f.do("POST", "/api/groups/"+g.ID+"/endpoints", EndpointRequest{Type: "tcp", Host: "10.0.0.5", Port: 5432})
	require.Equal(t, http.StatusCreated, code)
	code, _ = f.do("POST", "/api/groups/missing/endpoints", EndpointRequest{Type: "tcp", Host: "x"})
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = f.do("PUT", "/api/groups/"+g.ID, map[string]string{"name": "prod"})
	assert.Equal(t, http.StatusOK, code)
	code, _ = f.do("PUT", "/api/groups/"+g.ID, map[string]string{"name": ""})
	assert.Equal(t, http.StatusBadRequest, code)

	_, _ = f.do("POST", "/api/groups", map[string]string{"name": "测试"})
	code, _ = f.do("POST", "/api/groups/move", moveRequest{From: 1, To: 0})
	assert.Equal(t, http.StatusOK, code)

	f.scheduler.Wait()
	code, env = f.do("GET", "/api/groups", nil)
	require.Equal(t, http.StatusOK, code)
	var body struct {
		Groups      []model.Group `json:"groups"`
		LastChecked string        `json:"last_checked"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &body))
	require.Len(t, body.Groups, 2)
	assert.Equal(t, "测试", body.Groups[0].Name)
	assert.Equal(t, "prod", body.Groups[1].Name)
	assert.NotEmpty(t, body.LastChecked)
}

func TestCheckAndStatus(t *testing.T) {
	f := newFixture(t)
	_, err := f.scheduler.State().AddEndpoint("", model.Endpoint{Type: model.CheckTypePing, Host: "1.1.1.1"})
	require.NoError(t, err)

	code, env := f.do("POST", "/api/check", nil)
	assert.Equal(t, http.StatusAccepted, code)
	assert.True(t, env.Success)
	f.scheduler.Wait()

	code, env = f.do("GET", "/api/status", nil)
	require.Equal(t, http.StatusOK, code)
	var status StatusResponse
	require.NoError(t, json.Unmarshal(env.Data, &status))
	assert.Equal(t, 1, status.Endpoints)
	assert.Equal(t, 1, status.Up)
	assert.Equal(t, int64(1), status.Stats.Rounds)
	assert.Equal(t, "1分钟", status.RefreshLabel)
	assert.False(t, status.Running)
}

func TestSettingsRoutes(t *testing.T) {
	f := newFixture(t)

	code, _ := f.do("PUT", "/api/settings", map[string]interface{}{"refresh_interval": -1})
	assert.Equal(t, http.StatusBadRequest, code)

	code, env := f.do("PUT", "/api/settings", map[string]interface{}{"refresh_interval": 0.5})
	require.Equal(t, http.StatusOK, code, env.Message)
	assert.Equal(t, 0.5, f.scheduler.Settings().RefreshInterval)
	assert.Equal(t, 3000, f.scheduler.Settings().ProbeTimeoutMS)

	saved, err := f.store.LoadSettings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.5, saved.RefreshInterval)

	code, env = f.do("GET", "/api/settings", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), "实时(BETA)")
}

func TestScheduleRoutes(t *testing.T) {
	f := newFixture(t)

	code, _ := f.do("POST", "/api/schedules", ScheduleRequest{Spec: "*/5 * * * *"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, env := f.do("POST", "/api/schedules", ScheduleRequest{Name: "整点", Spec: "0 0 * * * *"})
	require.Equal(t, http.StatusCreated, code, env.Message)
	var tr model.CronTrigger
	require.NoError(t, json.Unmarshal(env.Data, &tr))
	assert.True(t, tr.Enabled)

	code, _ = f.do("POST", "/api/schedules/"+tr.ID+"/disable", nil)
	assert.Equal(t, http.StatusOK, code)
	code, env = f.do("GET", "/api/schedules", nil)
	require.Equal(t, http.StatusOK, code)
	var list []model.CronTrigger
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 1)
	assert.False(t, list[0].Enabled)

	code, _ = f.do("POST", "/api/schedules/"+tr.ID+"/run", nil)
	assert.Equal(t, http.StatusAccepted, code)
	f.scheduler.Wait()

	code, _ = f.do("DELETE", "/api/schedules/"+tr.ID, nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = f.do("DELETE", "/api/schedules/"+tr.ID, nil)
	assert.Equal(t, http.StatusNotFound, code)

	stored, err := f.store.LoadTriggers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestLogsRoutes(t *testing.T) {
	f := newFixture(t)
	logger.InitBuffer(10)
	logger.GetBuffer().AddLog("info", "[Round] #1 检测完成")

	code, env := f.do("GET", "/api/logs?lines=5", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), "检测完成")

	code, _ = f.do("POST", "/api/logs/clear", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, logger.GetBuffer().GetLogs(10))
}

func TestWebhookTestWithoutClient(t *testing.T) {
	f := newFixture(t)
	code, _ := f.do("POST", "/api/webhook/test", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestWebsocketPushesRounds(t *testing.T) {
	f := newFixture(t)
	_, err := f.scheduler.State().AddEndpoint("", model.Endpoint{Type: model.CheckTypeTCP, Host: "db", Port: 5432})
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var msg RoundMessage
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "snapshot", msg.Type)
	require.Len(t, msg.Groups, 1)
	assert.Equal(t, model.StatusUnknown, msg.Groups[0].Endpoints[0].Status)

	require.Eventually(t, func() bool { return f.srv.Hub().Count() == 1 }, time.Second, 10*time.Millisecond)
	f.scheduler.RunRound(context.Background(), monitor.TriggerManual)

	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "round", msg.Type)
	assert.Equal(t, monitor.TriggerManual, msg.Trigger)
	assert.Equal(t, 1, msg.Up)
	assert.Equal(t, model.StatusUp, msg.Groups[0].Endpoints[0].Status)
	assert.NotEmpty(t, msg.LastChecked)
}
