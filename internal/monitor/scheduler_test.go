package monitor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"servercheck/internal/model"
	"servercheck/internal/probe"
)

type fakeDispatcher struct {
	mu      sync.Mutex
	calls   map[string]int
	results map[string]*probe.Result // host -> result
	gate    chan struct{}
	started chan string
	panics  map[string]bool
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{
		calls:   make(map[string]int),
		results: make(map[string]*probe.Result),
		panics:  make(map[string]bool),
	}
}

func (d *fakeDispatcher) set(host string, res *probe.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results[host] = res
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, ep model.Endpoint, timeout time.Duration) *probe.Result {
	d.mu.Lock()
	d.calls[ep.ID]++
	res := d.results[ep.Host]
	gate, started, boom := d.gate, d.started, d.panics[ep.Host]
	d.mu.Unlock()

	if started != nil {
		started <- ep.ID
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return &probe.Result{Type: ep.Type, Target: ep.Host, Category: probe.CategoryOther, Error: ctx.Err().Error()}
		}
	}
	if boom {
		panic("dispatcher exploded")
	}
	if res == nil {
		res = &probe.Result{Type: ep.Type, Target: ep.Host, Success: true, Latency: 5 * time.Millisecond, Measured: true}
	}
	return res
}

type memPersister struct {
	mu    sync.Mutex
	saves int
	last  []model.Group
}

func (p *memPersister) SaveGroups(ctx context.Context, groups []model.Group) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saves++
	p.last = groups
	return nil
}

func (p *memPersister) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saves
}

func up(host string) *probe.Result {
	return &probe.Result{Type: model.CheckTypeTCP, Target: host, Success: true, Latency: 7 * time.Millisecond, Measured: true}
}

func refused(host string) *probe.Result {
	return &probe.Result{Type: model.CheckTypeTCP, Target: host, Category: probe.CategoryConnectionRefused, Error: "连接被拒绝"}
}

func newTestScheduler(t *testing.T, d Dispatcher, p Persister, eps ...model.Endpoint) (*Scheduler, []model.Endpoint) {
	t.Helper()
	state := NewStateManager(nil)
	added := make([]model.Endpoint, 0, len(eps))
	for _, ep := range eps {
		a, err := state.AddEndpoint("", ep)
		require.NoError(t, err)
		added = append(added, a)
	}
	s := NewScheduler(state, d, p, model.Settings{RefreshInterval: 0, ProbeTimeoutMS: 500}, 8)
	t.Cleanup(s.Close)
	return s, added
}

func waitStarted(t *testing.T, ch chan string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of %d probes started", i, n)
		}
	}
}

func TestRunRoundMergesEveryEndpoint(t *testing.T) {
	d := newFakeDispatcher()
	d.set("db", refused("db"))
	d.set("web", &probe.Result{Type: model.CheckTypeHTTP, Target: "web", Latency: 3 * time.Millisecond, Measured: true, StatusCode: 404, Category: probe.CategoryHTTPStatus})
	p := &memPersister{}

	s, eps := newTestScheduler(t, d, p,
		model.Endpoint{Name: "api", Type: model.CheckTypeTCP, Host: "api", Port: 443},
		model.Endpoint{Name: "db", Type: model.CheckTypeTCP, Host: "db", Port: 5432},
		model.Endpoint{Name: "web", Type: model.CheckTypeHTTP, Host: "web"},
	)

	report := s.RunRound(context.Background(), TriggerManual)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 3, report.Merged)
	assert.Equal(t, 1, report.Up)
	assert.Equal(t, 2, report.Down)
	assert.Zero(t, report.Discarded)

	api, _ := s.State().Endpoint(eps[0].ID)
	assert.Equal(t, model.StatusUp, api.Status)
	require.NotNil(t, api.ResponseTime)
	assert.InDelta(t, 7.0, *api.ResponseTime, 0.001)

	db, _ := s.State().Endpoint(eps[1].ID)
	assert.Equal(t, model.StatusDown, db.Status)
	assert.Equal(t, "连接被拒绝", db.ResponseError)
	assert.Nil(t, db.ResponseTime)

	web, _ := s.State().Endpoint(eps[2].ID)
	assert.Equal(t, model.StatusDown, web.Status)
	assert.Equal(t, 404, web.ResponseStatusCode)
	assert.Empty(t, web.ResponseError)
	assert.NotNil(t, web.ResponseTime)
	assert.Equal(t, "HTTP 404", web.Reason())

	assert.Equal(t, 1, p.count())
	assert.NotEmpty(t, s.State().LastCheckedText())
	assert.Equal(t, Stats{Rounds: 1, Probes: 3}, s.Stats())
}

func TestRunRoundMarksCheckingAndClearsStaleFields(t *testing.T) {
	d := newFakeDispatcher()
	d.set("db", refused("db"))
	s, eps := newTestScheduler(t, d, nil, model.Endpoint{Type: model.CheckTypeTCP, Host: "db"})
	s.RunRound(context.Background(), TriggerManual)

	d.gate = make(chan struct{})
	d.started = make(chan string, 1)
	done := make(chan struct{})
	go func() {
		s.RunRound(context.Background(), TriggerManual)
		close(done)
	}()
	waitStarted(t, d.started, 1)

	ep, _ := s.State().Endpoint(eps[0].ID)
	assert.Equal(t, model.StatusChecking, ep.Status)
	assert.Empty(t, ep.ResponseError)
	assert.Nil(t, ep.ResponseTime)

	close(d.gate)
	<-done
}

func TestRunRoundTwiceKeepsOnlyLatestResult(t *testing.T) {
	d := newFakeDispatcher()
	d.set("a", refused("a"))
	d.set("b", refused("b"))
	s, eps := newTestScheduler(t, d, nil,
		model.Endpoint{Type: model.CheckTypeTCP, Host: "a"},
		model.Endpoint{Type: model.CheckTypeTCP, Host: "b"},
	)

	first := s.RunRound(context.Background(), TriggerManual)
	assert.Equal(t, 2, first.Down)
	assert.Empty(t, first.Transitions, "unknown -> down is not a transition")

	d.set("a", up("a"))
	second := s.RunRound(context.Background(), TriggerManual)
	assert.Equal(t, 1, second.Up)
	require.Len(t, second.Transitions, 1)
	assert.Equal(t, eps[0].ID, second.Transitions[0].EndpointID)
	assert.Equal(t, model.StatusDown, second.Transitions[0].From)
	assert.Equal(t, model.StatusUp, second.Transitions[0].To)

	all := s.State().Endpoints()
	require.Len(t, all, 2)
	assert.Equal(t, model.StatusUp, all[0].Status)
	assert.Empty(t, all[0].ResponseError)
	assert.Equal(t, model.StatusDown, all[1].Status)
	assert.Greater(t, second.Seq, first.Seq)
}

func TestDeleteDuringRoundDiscardsLateResult(t *testing.T) {
	d := newFakeDispatcher()
	d.gate = make(chan struct{})
	d.started = make(chan string, 2)
	p := &memPersister{}
	s, eps := newTestScheduler(t, d, p,
		model.Endpoint{Type: model.CheckTypeTCP, Host: "keep"},
		model.Endpoint{Type: model.CheckTypeTCP, Host: "drop"},
	)

	reports := make(chan *RoundReport, 1)
	go func() { reports <- s.RunRound(context.Background(), TriggerManual) }()
	waitStarted(t, d.started, 2)

	require.NoError(t, s.State().DeleteEndpoint(eps[1].ID))
	close(d.gate)
	report := <-reports

	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 1, report.Merged)
	assert.Equal(t, 1, report.Discarded)
	assert.Equal(t, 1, s.State().Count())
	_, ok := s.State().Endpoint(eps[1].ID)
	assert.False(t, ok)

	require.Len(t, p.last, 1)
	require.Len(t, p.last[0].Endpoints, 1)
	assert.Equal(t, eps[0].ID, p.last[0].Endpoints[0].ID)
}

func TestReorderDuringRoundMergesByIdentity(t *testing.T) {
	d := newFakeDispatcher()
	d.set("first", refused("first"))
	d.set("second", up("second"))
	d.gate = make(chan struct{})
	d.started = make(chan string, 2)
	s, eps := newTestScheduler(t, d, nil,
		model.Endpoint{Type: model.CheckTypeTCP, Host: "first"},
		model.Endpoint{Type: model.CheckTypeTCP, Host: "second"},
	)
	groupID := s.State().Snapshot()[0].ID

	done := make(chan struct{})
	go func() {
		s.RunRound(context.Background(), TriggerManual)
		close(done)
	}()
	waitStarted(t, d.started, 2)
	require.NoError(t, s.State().MoveEndpoint(groupID, 0, 1))
	close(d.gate)
	<-done

	all := s.State().Endpoints()
	require.Len(t, all, 2)
	assert.Equal(t, eps[1].ID, all[0].ID)
	assert.Equal(t, model.StatusUp, all[0].Status)
	assert.Equal(t, eps[0].ID, all[1].ID)
	assert.Equal(t, model.StatusDown, all[1].Status)
}

func TestRetargetDuringRoundDiscardsResult(t *testing.T) {
	d := newFakeDispatcher()
	d.gate = make(chan struct{})
	d.started = make(chan string, 1)
	s, eps := newTestScheduler(t, d, nil, model.Endpoint{Name: "svc", Type: model.CheckTypeTCP, Host: "old"})

	reports := make(chan *RoundReport, 1)
	go func() { reports <- s.RunRound(context.Background(), TriggerManual) }()
	waitStarted(t, d.started, 1)

	edited := eps[0]
	edited.Host = "new"
	_, err := s.State().UpdateEndpoint(edited)
	require.NoError(t, err)
	close(d.gate)

	report := <-reports
	assert.Equal(t, 1, report.Discarded)
	ep, _ := s.State().Endpoint(eps[0].ID)
	assert.Equal(t, "new", ep.Host)
	assert.Equal(t, model.StatusUnknown, ep.Status)
}

func TestRenameDuringRoundKeepsResult(t *testing.T) {
	d := newFakeDispatcher()
	d.gate = make(chan struct{})
	d.started = make(chan string, 1)
	s, eps := newTestScheduler(t, d, nil, model.Endpoint{Name: "svc", Type: model.CheckTypeTCP, Host: "h"})

	reports := make(chan *RoundReport, 1)
	go func() { reports <- s.RunRound(context.Background(), TriggerManual) }()
	waitStarted(t, d.started, 1)

	edited := eps[0]
	edited.Name = "renamed"
	_, err := s.State().UpdateEndpoint(edited)
	require.NoError(t, err)
	close(d.gate)

	assert.Equal(t, 1, (<-reports).Merged)
	ep, _ := s.State().Endpoint(eps[0].ID)
	assert.Equal(t, "renamed", ep.Name)
	assert.Equal(t, model.StatusUp, ep.Status)
}

type checkingPersister struct {
	sawChecking bool
	saves       int
}

func (p *checkingPersister) SaveGroups(ctx context.Context, groups []model.Group) error {
	p.saves++
	for _, g := range groups {
		for _, ep := range g.Endpoints {
			if ep.Status == model.StatusChecking {
				p.sawChecking = true
			}
		}
	}
	return nil
}

func TestPersistHappensAfterAllMerges(t *testing.T) {
	p := &checkingPersister{}
	eps := make([]model.Endpoint, 0, 20)
	for i := 0; i < 20; i++ {
		eps = append(eps, model.Endpoint{Type: model.CheckTypePing, Host: fmt.Sprintf("10.0.0.%d", i+1)})
	}
	s, _ := newTestScheduler(t, newFakeDispatcher(), p, eps...)

	s.RunRound(context.Background(), TriggerManual)
	assert.Equal(t, 1, p.saves)
	assert.False(t, p.sawChecking)
}

func TestPanickingDispatcherStillCompletesRound(t *testing.T) {
	d := newFakeDispatcher()
	d.panics["bad"] = true
	s, eps := newTestScheduler(t, d, nil,
		model.Endpoint{Type: model.CheckTypeTCP, Host: "bad"},
		model.Endpoint{Type: model.CheckTypeTCP, Host: "good"},
	)

	report := s.RunRound(context.Background(), TriggerManual)
	assert.Equal(t, 2, report.Merged)
	bad, _ := s.State().Endpoint(eps[0].ID)
	assert.Equal(t, model.StatusDown, bad.Status)
	assert.Contains(t, bad.ResponseError, "dispatcher exploded")
	good, _ := s.State().Endpoint(eps[1].ID)
	assert.Equal(t, model.StatusUp, good.Status)
}

func TestTriggerRoundCoalescesWhileInFlight(t *testing.T) {
	d := newFakeDispatcher()
	d.gate = make(chan struct{})
	d.started = make(chan string, 16)
	s, _ := newTestScheduler(t, d, nil, model.Endpoint{Type: model.CheckTypeTCP, Host: "h"})

	assert.True(t, s.TriggerRound(TriggerManual))
	waitStarted(t, d.started, 1)
	assert.False(t, s.TriggerRound(TriggerManual))
	assert.False(t, s.TriggerRound(TriggerManual))

	close(d.gate)
	s.Wait()
	assert.Equal(t, int64(2), s.Stats().Rounds)
}

func TestObserversReceiveReport(t *testing.T) {
	s, _ := newTestScheduler(t, newFakeDispatcher(), nil, model.Endpoint{Type: model.CheckTypeTCP, Host: "h"})

	var got []*RoundReport
	s.OnRound(func(r *RoundReport) { got = append(got, r) })
	s.RunRound(context.Background(), TriggerCron)

	require.Len(t, got, 1)
	assert.Equal(t, TriggerCron, got[0].Trigger)
	assert.Equal(t, 1, got[0].Merged)
}

func TestCancelledContextSkipsRound(t *testing.T) {
	d := newFakeDispatcher()
	s, eps := newTestScheduler(t, d, nil, model.Endpoint{Type: model.CheckTypeTCP, Host: "h"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report := s.RunRound(ctx, TriggerManual)
	assert.Zero(t, report.Total)
	ep, _ := s.State().Endpoint(eps[0].ID)
	assert.Equal(t, model.StatusUnknown, ep.Status)
}

func TestStopDuringRoundKeepsRealResults(t *testing.T) {
	d := newFakeDispatcher()
	p := &memPersister{}
	s, eps := newTestScheduler(t, d, p,
		model.Endpoint{Type: model.CheckTypeTCP, Host: "a"},
		model.Endpoint{Type: model.CheckTypeHTTP, Host: "b"},
	)
	s.RunRound(context.Background(), TriggerManual)

	var mu sync.Mutex
	var reports []*RoundReport
	s.OnRound(func(r *RoundReport) {
		mu.Lock()
		defer mu.Unlock()
		reports = append(reports, r)
	})

	d.mu.Lock()
	d.gate = make(chan struct{})
	d.started = make(chan string, 2)
	d.mu.Unlock()

	require.NoError(t, s.Start(context.Background()))
	waitStarted(t, d.started, 2)

	stopped := make(chan error, 1)
	go func() { stopped <- s.Stop() }()
	time.Sleep(50 * time.Millisecond)
	close(d.gate)

	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	for _, ep := range eps {
		got, _ := s.State().Endpoint(ep.ID)
		assert.Equal(t, model.StatusUp, got.Status)
		assert.Empty(t, got.ResponseError)
	}

	p.mu.Lock()
	for _, g := range p.last {
		for _, ep := range g.Endpoints {
			assert.Equal(t, model.StatusUp, ep.Status, ep.Host)
		}
	}
	p.mu.Unlock()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reports, 1)
	assert.Zero(t, reports[0].Down)
	assert.Empty(t, reports[0].Transitions)
}

func TestStartManualModeRunsOnce(t *testing.T) {
	s, _ := newTestScheduler(t, newFakeDispatcher(), nil, model.Endpoint{Type: model.CheckTypeTCP, Host: "h"})

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))

	require.Eventually(t, func() bool { return s.Stats().Rounds == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, s.NextRunAt().IsZero())
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int64(1), s.Stats().Rounds)

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
	assert.Error(t, s.Stop())
}

func TestStartContinuousModeRepeats(t *testing.T) {
	s, _ := newTestScheduler(t, newFakeDispatcher(), nil, model.Endpoint{Type: model.CheckTypeTCP, Host: "h"})
	require.NoError(t, s.UpdateSettings(model.Settings{RefreshInterval: 0.5, ProbeTimeoutMS: 100}))

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.Eventually(t, func() bool { return s.Stats().Rounds >= 3 }, 5*time.Second, 20*time.Millisecond)
}

func TestUpdateSettingsResetsCountdown(t *testing.T) {
	s, _ := newTestScheduler(t, newFakeDispatcher(), nil, model.Endpoint{Type: model.CheckTypeTCP, Host: "h"})
	require.NoError(t, s.UpdateSettings(model.Settings{RefreshInterval: 300}))

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.Eventually(t, func() bool { return s.Countdown() > 200*time.Second }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, s.UpdateSettings(model.Settings{RefreshInterval: 30}))
	require.Eventually(t, func() bool {
		c := s.Countdown()
		return c > 0 && c <= 30*time.Second
	}, 2*time.Second, 10*time.Millisecond)

	assert.Error(t, s.UpdateSettings(model.Settings{RefreshInterval: -1}))
}
