package control

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	apperrors "github.com/Tayen15/KZT-sub000/pkg/errors"
	"github.com/Tayen15/KZT-sub000/pkg/monitor"
	"github.com/Tayen15/KZT-sub000/pkg/runtimeapply"
	"github.com/Tayen15/KZT-sub000/pkg/service"
	"github.com/Tayen15/KZT-sub000/pkg/sessions"
)

type fakeService struct {
	*fakeMonitors
	refreshed []string
}

func (f *fakeService) Targets() []monitor.MonitorTarget {
	f.mu.Lock()
	defer f.mu.Unlock()
	return []monitor.MonitorTarget{f.targets["mc"], f.targets["panel"]}
}

func (f *fakeService) Observe(key string) (monitor.Observation, bool) {
	t, ok := f.Target(key)
	if !ok {
		return monitor.Observation{}, false
	}
	obs := monitor.Observation{Target: t}
	if status, ok := f.LastStatus(key); ok {
		obs.HasBaseline = true
		obs.Snapshot = monitor.StatusSnapshot{
			Online:     status == monitor.StatusRunning,
			Attributes: map[string]any{monitor.AttrStatus: status},
			FetchedAt:  time.Now(),
		}
		obs.LastTick = time.Now()
		obs.Transition = monitor.Unchanged
	}
	return obs, true
}

func (f *fakeService) Refresh(key string) error {
	if _, ok := f.Target(key); !ok {
		return apperrors.ErrUnknownMonitor
	}
	f.mu.Lock()
	f.refreshed = append(f.refreshed, key)
	f.mu.Unlock()
	return nil
}

type fakeSessions struct {
	mu      sync.Mutex
	handles map[string]sessions.Handle
}

func (f *fakeSessions) Start(ctx context.Context, ownerKey, targetID string) (sessions.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := sessions.Handle{OwnerKey: ownerKey, TargetID: targetID}
	f.handles[ownerKey] = h
	return h, nil
}

func (f *fakeSessions) Stop(ctx context.Context, ownerKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handles, ownerKey)
	return nil
}

func (f *fakeSessions) Handles() []sessions.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sessions.Handle, 0, len(f.handles))
	for _, h := range f.handles {
		out = append(out, h)
	}
	return out
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeService, *fakeSessions) {
	t.Helper()
	svc := &fakeService{fakeMonitors: newFakeMonitors()}
	svc.setStatus("panel", monitor.StatusOffline)
	h := NewHandler(svc, Config{CallTimeout: time.Second, ActionsPerMinute: 600, Burst: 10})
	h.RegisterAdapter(monitor.KindPanelResource, &fakeAdapter{outcome: ActionOutcome{Success: true, Message: "ok"}})
	voice := &fakeSessions{handles: map[string]sessions.Handle{}}

	s := NewServer("127.0.0.1:0", svc, h, voice)
	if s == nil {
		t.Fatalf("expected server")
	}
	ts := httptest.NewServer(s.Routes())
	t.Cleanup(ts.Close)
	return ts, svc, voice
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestNewServerEmptyAddr(t *testing.T) {
	if NewServer("  ", &fakeService{fakeMonitors: newFakeMonitors()}, nil, nil) != nil {
		t.Fatalf("expected nil server for empty addr")
	}
}

func TestListAndGetMonitors(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp := do(t, http.MethodGet, ts.URL+"/v1/monitors", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status %d", resp.StatusCode)
	}
	var list struct {
		Items []monitorView `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Items) != 2 {
		t.Fatalf("expected two monitors, got %+v", list.Items)
	}

	resp = do(t, http.MethodGet, ts.URL+"/v1/monitors/panel", "")
	var detail monitorView
	if err := json.NewDecoder(resp.Body).Decode(&detail); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if detail.Status != monitor.StatusOffline || detail.Online == nil || *detail.Online {
		t.Fatalf("unexpected detail %+v", detail)
	}

	if resp := do(t, http.MethodGet, ts.URL+"/v1/monitors/missing", ""); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestRefreshRoute(t *testing.T) {
	ts, svc, _ := newTestServer(t)
	if resp := do(t, http.MethodPost, ts.URL+"/v1/monitors/mc/refresh", ""); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	if len(svc.refreshed) != 1 || svc.refreshed[0] != "mc" {
		t.Fatalf("expected refresh of mc, got %v", svc.refreshed)
	}
	if resp := do(t, http.MethodPost, ts.URL+"/v1/monitors/none/refresh", ""); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestActionRouteStatusCodes(t *testing.T) {
	ts, _, _ := newTestServer(t)
	tests := []struct {
		path string
		want int
	}{
		{"/v1/monitors/panel/actions/start", http.StatusOK},
		{"/v1/monitors/panel/actions/stop", http.StatusConflict},
		{"/v1/monitors/panel/actions/launch", http.StatusBadRequest},
		{"/v1/monitors/none/actions/start", http.StatusNotFound},
		{"/v1/monitors/mc/actions/start", http.StatusBadGateway},
	}
	for _, tt := range tests {
		resp := do(t, http.MethodPost, ts.URL+tt.path, "")
		if resp.StatusCode != tt.want {
			t.Fatalf("%s: got %d want %d", tt.path, resp.StatusCode, tt.want)
		}
	}
}

func TestSessionRoutes(t *testing.T) {
	ts, _, voice := newTestServer(t)

	if resp := do(t, http.MethodPost, ts.URL+"/v1/sessions/g1", `{"target_id":""}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without target, got %d", resp.StatusCode)
	}
	if resp := do(t, http.MethodPost, ts.URL+"/v1/sessions/g1", `{"target_id":"vc-9"}`); resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if len(voice.Handles()) != 1 {
		t.Fatalf("expected session started")
	}
	if resp := do(t, http.MethodGet, ts.URL+"/v1/sessions", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp := do(t, http.MethodDelete, ts.URL+"/v1/sessions/g1", ""); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if len(voice.Handles()) != 0 {
		t.Fatalf("expected session stopped")
	}
}

func TestMetricsRoute(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp := do(t, http.MethodGet, ts.URL+"/metrics", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

type fakeReloader struct {
	mu    sync.Mutex
	res   runtimeapply.Result
	err   error
	calls int
}

func (f *fakeReloader) Reload(context.Context) (runtimeapply.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.res, f.err
}

func (f *fakeReloader) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

type fakeServices struct {
	mu      sync.Mutex
	healthy bool
}

func (f *fakeServices) Snapshot() []service.ServiceStatus {
	return []service.ServiceStatus{{Name: "monitoring", State: service.StateRunning}}
}

func (f *fakeServices) CheckHealth(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthy
}

func (f *fakeServices) set(healthy bool) {
	f.mu.Lock()
	f.healthy = healthy
	f.mu.Unlock()
}

// bareServer has no reloader or service reporter.
func bareServer(t *testing.T, setup func(*Server)) *httptest.Server {
	t.Helper()
	s := NewServer("127.0.0.1:0", &fakeService{fakeMonitors: newFakeMonitors()}, nil, nil)
	if setup != nil {
		setup(s)
	}
	ts := httptest.NewServer(s.Routes())
	t.Cleanup(ts.Close)
	return ts
}

func TestOptionalRoutesUnavailable(t *testing.T) {
	ts := bareServer(t, nil)
	if resp := do(t, http.MethodPost, ts.URL+"/v1/reload", ""); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("reload without reloader = %d", resp.StatusCode)
	}
	if resp := do(t, http.MethodGet, ts.URL+"/v1/services", ""); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("services without reporter = %d", resp.StatusCode)
	}
	if resp := do(t, http.MethodGet, ts.URL+"/healthz", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz without reporter = %d", resp.StatusCode)
	}
}

func TestReloadRoute(t *testing.T) {
	r := &fakeReloader{res: runtimeapply.Result{Added: []string{"panel"}}}
	ts := bareServer(t, func(s *Server) { s.SetReloader(r) })

	resp := do(t, http.MethodPost, ts.URL+"/v1/reload", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var got runtimeapply.Result
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Added) != 1 || got.Added[0] != "panel" {
		t.Fatalf("unexpected result %+v", got)
	}

	r.fail(apperrors.ErrInvalidAction)
	if resp := do(t, http.MethodPost, ts.URL+"/v1/reload", ""); resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
}

func TestServicesAndHealthRoutes(t *testing.T) {
	rep := &fakeServices{healthy: true}
	ts := bareServer(t, func(s *Server) { s.SetServices(rep) })

	resp := do(t, http.MethodGet, ts.URL+"/v1/services", "")
	var body struct {
		Items []service.ServiceStatus `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Items) != 1 || body.Items[0].Name != "monitoring" {
		t.Fatalf("unexpected services %+v", body.Items)
	}
	if resp := do(t, http.MethodGet, ts.URL+"/healthz", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz healthy = %d", resp.StatusCode)
	}

	rep.set(false)
	if resp := do(t, http.MethodGet, ts.URL+"/healthz", ""); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("healthz unhealthy = %d", resp.StatusCode)
	}
}
