package hostbridge_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/coder/websocket"

	"github.com/MrWong99/ringer/internal/ambient"
	"github.com/MrWong99/ringer/internal/call"
	"github.com/MrWong99/ringer/internal/credentials"
	"github.com/MrWong99/ringer/internal/health"
	"github.com/MrWong99/ringer/internal/hostbridge"
	"github.com/MrWong99/ringer/internal/phase"
	"github.com/MrWong99/ringer/internal/playback"
	audiomock "github.com/MrWong99/ringer/pkg/audio/mock"
	"github.com/MrWong99/ringer/pkg/kv"
	"github.com/MrWong99/ringer/pkg/notify"
)

// fakeEngine returns err from every operation and records calls.
type fakeEngine struct {
	mu    sync.Mutex
	err   error
	calls []string
	delay time.Duration
}

func (e *fakeEngine) record(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, name)
	return e.err
}

func (e *fakeEngine) ScheduleCall(_ context.Context, d time.Duration) error {
	e.mu.Lock()
	e.delay = d
	e.mu.Unlock()
	return e.record("schedule")
}
func (e *fakeEngine) TriggerTestCall(context.Context) error   { return e.record("test") }
func (e *fakeEngine) TriggerCall(context.Context) error       { return e.record("trigger") }
func (e *fakeEngine) StopCall(context.Context) error          { return e.record("stop") }
func (e *fakeEngine) ForceStopCall(context.Context) error     { return e.record("force-stop") }
func (e *fakeEngine) ForceStopAnyAudio(context.Context) error { return e.record("audio-force-stop") }
func (e *fakeEngine) DisableAllAudio(context.Context) error   { return e.record("disable") }
func (e *fakeEngine) StopAllAudio(context.Context) error      { return e.record("stop-all") }
func (e *fakeEngine) IsCallActive(context.Context) bool       { return false }
func (e *fakeEngine) IsCallStopping() bool                    { return false }
func (e *fakeEngine) State() call.State                       { return call.Idle }
func (e *fakeEngine) CallID() string                          { return "" }
func (e *fakeEngine) Tier() string                            { return "" }

func (e *fakeEngine) last() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.calls) == 0 {
		return ""
	}
	return e.calls[len(e.calls)-1]
}

func newServer(t *testing.T, cfg hostbridge.Config) *httptest.Server {
	t.Helper()
	s, err := hostbridge.NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	var out map[string]any
	if len(data) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatalf("decode %s: %v", data, err)
		}
	}
	return resp, out
}

func TestNewServer_RequiresEngine(t *testing.T) {
	if _, err := hostbridge.NewServer(hostbridge.Config{}); err == nil {
		t.Error("expected error without engine")
	}
}

func TestServer_Routes(t *testing.T) {
	eng := &fakeEngine{}
	srv := newServer(t, hostbridge.Config{Engine: eng})

	routes := map[string]string{
		"/v1/call/test":              "test",
		"/v1/call/stop":              "stop",
		"/v1/call/force-stop":        "force-stop",
		"/v1/audio/force-stop":       "audio-force-stop",
		"/v1/audio/disable":          "disable",
		"/v1/audio/stop-all":         "stop-all",
		"/v1/call/schedule?delay=2s": "schedule",
	}
	for path, want := range routes {
		t.Run(want, func(t *testing.T) {
			resp, body := do(t, http.MethodPost, srv.URL+path, "")
			if resp.StatusCode != http.StatusOK {
				t.Errorf("status = %d", resp.StatusCode)
			}
			if body["ok"] != true || body["state"] != "idle" {
				t.Errorf("body = %v", body)
			}
			if got := eng.last(); got != want {
				t.Errorf("engine call = %q, want %q", got, want)
			}
		})
	}

	resp, _ := do(t, http.MethodGet, srv.URL+"/v1/call/stop", "")
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET on a POST route = %d", resp.StatusCode)
	}
	if resp, _ := do(t, http.MethodPost, srv.URL+"/v1/ambient/test", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("ambient route without notifier = %d, want 404", resp.StatusCode)
	}
}

func TestServer_ErrorMapping(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantCode    int
		wantOK      bool
		wantPlaying bool
	}{
		{"still playing", call.ErrStillPlaying, http.StatusOK, false, true},
		{"stopping", fmt.Errorf("wrapped: %w", call.ErrStopping), http.StatusConflict, false, false},
		{"closed", call.ErrClosed, http.StatusServiceUnavailable, false, false},
		{"no tier", fmt.Errorf("%w: boom", playback.ErrAllTiersFailed), http.StatusBadGateway, false, false},
		{"store", errors.New("disk full"), http.StatusInternalServerError, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t, hostbridge.Config{Engine: &fakeEngine{err: tt.err}})
			resp, body := do(t, http.MethodPost, srv.URL+"/v1/call/stop", "")
			if resp.StatusCode != tt.wantCode {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantCode)
			}
			if body["ok"] != tt.wantOK {
				t.Errorf("ok = %v", body["ok"])
			}
			playing, _ := body["still_playing"].(bool)
			if playing != tt.wantPlaying {
				t.Errorf("still_playing = %v", playing)
			}
			if body["error"] == nil {
				t.Error("error missing from body")
			}
		})
	}
}

func TestServer_ScheduleDelay(t *testing.T) {
	tests := []struct {
		query    string
		wantCode int
		want     time.Duration
	}{
		{"delay=2s", http.StatusOK, 2 * time.Second},
		{"delay=2.5", http.StatusOK, 2500 * time.Millisecond},
		{"delay=0", http.StatusOK, 0},
		{"", http.StatusBadRequest, 0},
		{"delay=soon", http.StatusBadRequest, 0},
		{"delay=-1s", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			eng := &fakeEngine{}
			srv := newServer(t, hostbridge.Config{Engine: eng})
			resp, _ := do(t, http.MethodPost, srv.URL+"/v1/call/schedule?"+tt.query, "")
			if resp.StatusCode != tt.wantCode {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantCode)
			}
			if tt.wantCode == http.StatusOK && eng.delay != tt.want {
				t.Errorf("delay = %v, want %v", eng.delay, tt.want)
			}
		})
	}
}

func TestServer_Credentials(t *testing.T) {
	creds := credentials.New(kv.NewMemStore())
	srv := newServer(t, hostbridge.Config{Engine: &fakeEngine{}, Credentials: creds})
	url := srv.URL + "/v1/credentials"

	if _, body := do(t, http.MethodGet, url, ""); len(body) != 0 {
		t.Errorf("empty credentials = %v", body)
	}
	resp, _ := do(t, http.MethodPut, url, `{"token":"t1","user":{"id":"7","name":"Ada"}}`)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("PUT = %d", resp.StatusCode)
	}
	_, body := do(t, http.MethodGet, url, "")
	user, _ := body["user"].(map[string]any)
	if body["token"] != "t1" || user["id"] != "7" {
		t.Errorf("credentials = %v", body)
	}

	for _, bad := range []string{`{}`, `{"password":"x"}`, `not json`} {
		if resp, _ := do(t, http.MethodPut, url, bad); resp.StatusCode != http.StatusBadRequest {
			t.Errorf("PUT %s = %d, want 400", bad, resp.StatusCode)
		}
	}

	if resp, _ := do(t, http.MethodDelete, url, ""); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("DELETE = %d", resp.StatusCode)
	}
	if tok, _ := creds.Token(context.Background()); tok != "" {
		t.Errorf("token after DELETE = %q", tok)
	}
}

func TestServer_HealthAndMetrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, "ringer_calls_scheduled_total 0")
	})
	srv := newServer(t, hostbridge.Config{
		Engine:         &fakeEngine{},
		Health:         health.New(health.Checker{Name: "store", Check: func(context.Context) error { return nil }}),
		MetricsHandler: metrics,
	})
	if resp, body := do(t, http.MethodGet, srv.URL+"/readyz", ""); resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Errorf("readyz = %d %v", resp.StatusCode, body)
	}
	if resp, _ := do(t, http.MethodGet, srv.URL+"/metrics", ""); resp.StatusCode != http.StatusOK {
		t.Errorf("metrics = %d", resp.StatusCode)
	}
}

// TestServer_EndToEnd drives a real controller and ambient notifier through
// the HTTP API and the host websocket.
func TestServer_EndToEnd(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock()
	backend := &audiomock.Backend{}
	arb := playback.NewArbiter()
	phases := phase.NewBroadcaster(phase.Active)
	hub := hostbridge.NewHub(hostbridge.HubConfig{Phases: phases})

	ctl, err := call.New(call.Config{
		Store:    kv.NewMemStore(),
		Backend:  backend,
		Notifier: hub,
		Phases:   phases,
		Arbiter:  arb,
	}, call.WithClock(clk))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = ctl.Close(ctx) }()
	amb, err := ambient.New(ambient.Config{
		Backend:  backend,
		Calls:    ctl,
		Guard:    ctl.Guard(),
		Arbiter:  arb,
		Notifier: hub,
		Phases:   phases,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = amb.Close(ctx) }()
	ctl.SetAmbient(amb)

	srv := newServer(t, hostbridge.Config{Engine: ctl, Ambient: amb, Hub: hub, Phases: phases})
	t.Cleanup(hub.Close)
	conn, _, err := websocket.Dial(ctx, wsURL(srv)+"/v1/host", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")
	waitFor(t, "host", func() bool { return hub.Hosts() == 1 })

	if resp, body := do(t, http.MethodPost, srv.URL+"/v1/call/test", ""); resp.StatusCode != http.StatusOK || body["state"] != "ringing" {
		t.Fatalf("test call = %d %v", resp.StatusCode, body)
	}
	f := recv(t, conn)
	if f.Notification == nil || f.Notification.Priority != notify.PriorityHigh {
		t.Fatalf("host got %+v, want the incoming-call notification", f)
	}

	_, status := do(t, http.MethodGet, srv.URL+"/v1/call/status", "")
	if status["active"] != true || status["call_id"] == "" || status["tier"] != playback.TierQuickBeep || status["phase"] != "active" {
		t.Errorf("status = %v", status)
	}

	if resp, _ := do(t, http.MethodPost, srv.URL+"/v1/ambient/test", ""); resp.StatusCode != http.StatusConflict {
		t.Errorf("ambient test while ringing = %d, want 409", resp.StatusCode)
	}

	if resp, body := do(t, http.MethodPost, srv.URL+"/v1/call/stop", ""); resp.StatusCode != http.StatusOK || body["ok"] != true {
		t.Fatalf("stop = %d %v", resp.StatusCode, body)
	}
	if resp, _ := do(t, http.MethodPost, srv.URL+"/v1/call/test", ""); resp.StatusCode != http.StatusConflict {
		t.Errorf("test call inside the stop window = %d, want 409", resp.StatusCode)
	}

	clk.Add(time.Second)
	send(t, conn, hostbridge.Frame{Type: hostbridge.FramePhase, Phase: "background"})
	f = recv(t, conn)
	if f.Notification == nil || f.Notification.Title != "App Background" {
		t.Errorf("host got %+v, want the background notification", f)
	}
	_, status = do(t, http.MethodGet, srv.URL+"/v1/call/status", "")
	if _, ok := status["tier"]; ok || status["state"] != "idle" || status["phase"] != "background" {
		t.Errorf("status = %v", status)
	}
}
