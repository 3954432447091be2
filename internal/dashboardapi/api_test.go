package dashboardapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/opsfocus/internal/dashboard"
	"github.com/linnemanlabs/opsfocus/internal/signal"
	"github.com/linnemanlabs/opsfocus/internal/signal/memstore"
	"github.com/linnemanlabs/opsfocus/internal/signal/seed"
	"github.com/linnemanlabs/opsfocus/internal/triage"
)

type fakeEscalator struct {
	mu    sync.Mutex
	err   error
	calls []string
}

func (f *fakeEscalator) SendEscalation(_ context.Context, sig *signal.Signal, _ *triage.Analysis) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sig.ID)
	return f.err
}

func newTestController(t *testing.T, opts ...dashboard.Option) *dashboard.Controller {
	t.Helper()
	sigs, err := seed.Default(time.Now())
	if err != nil {
		t.Fatalf("seed.Default: %v", err)
	}
	store, err := memstore.New(sigs)
	if err != nil {
		t.Fatalf("memstore.New: %v", err)
	}
	ctrl := dashboard.New(store, triage.NewMock(time.Millisecond, triage.Hooks{}), log.Nop(), opts...)
	t.Cleanup(ctrl.Close)
	return ctrl
}

func newTestRouter(t *testing.T, opts ...dashboard.Option) (chi.Router, *dashboard.Controller) {
	t.Helper()
	ctrl := newTestController(t, opts...)
	r := chi.NewRouter()
	New(nil, ctrl).RegisterRoutes(r)
	return r, ctrl
}

func do(t *testing.T, r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return v
}

//  New / constructor

func TestNew_NilLogger(t *testing.T) {
	t.Parallel()

	api := New(nil, newTestController(t))
	if api == nil {
		t.Fatal("New(nil, ctrl) returned nil API")
	}
	if api.logger == nil {
		t.Fatal("New(nil, ctrl) left logger nil; expected Nop logger")
	}
}

func TestNew_NilDashboard_Panics(t *testing.T) {
	t.Parallel()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("New(nil, nil) did not panic; expected panic for nil dashboard")
		}
	}()
	New(log.Nop(), nil)
}

// Routing

func TestRegisterRoutes_Methods(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{"GET signals", http.MethodGet, "/api/v1/signals", "", http.StatusOK},
		{"POST signals not allowed", http.MethodPost, "/api/v1/signals", "", http.StatusMethodNotAllowed},
		{"GET one signal", http.MethodGet, "/api/v1/signals/sig-002", "", http.StatusOK},
		{"DELETE signal not allowed", http.MethodDelete, "/api/v1/signals/sig-002", "", http.StatusMethodNotAllowed},
		{"GET status not allowed", http.MethodGet, "/api/v1/signals/sig-002/status", "", http.StatusMethodNotAllowed},
		{"GET escalate not allowed", http.MethodGet, "/api/v1/signals/sig-002/escalate", "", http.StatusMethodNotAllowed},
		{"GET focus", http.MethodGet, "/api/v1/focus", "", http.StatusOK},
		{"POST focus not allowed", http.MethodPost, "/api/v1/focus", `{"mode":"Off"}`, http.StatusMethodNotAllowed},
		{"GET selection", http.MethodGet, "/api/v1/selection", "", http.StatusOK},
		{"POST selection not allowed", http.MethodPost, "/api/v1/selection", `{"id":"sig-001"}`, http.StatusMethodNotAllowed},
		{"GET stats", http.MethodGet, "/api/v1/stats", "", http.StatusOK},
		{"PUT stats not allowed", http.MethodPut, "/api/v1/stats", "", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := do(t, r, tt.method, tt.path, tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("%s %s = %d, want %d", tt.method, tt.path, rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestRegisterRoutes_NotFound(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t)

	paths := []string{
		"/",
		"/api/v1",
		"/api/v2/signals",
		"/api/v1/unknown",
		"/api/v1/signals/sig-999",
	}

	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			t.Parallel()

			rec := do(t, r, http.MethodGet, path, "")
			if rec.Code != http.StatusNotFound {
				t.Errorf("GET %s = %d, want %d", path, rec.Code, http.StatusNotFound)
			}
		})
	}
}

// Signals

func TestListSignals_FollowsFocusMode(t *testing.T) {
	t.Parallel()

	r, ctrl := newTestRouter(t)

	view := decode[dashboard.View](t, do(t, r, http.MethodGet, "/api/v1/signals", ""))
	if view.Mode != signal.FocusNormal || view.Total != 5 || view.Visible != 5 {
		t.Fatalf("normal view = mode %q total %d visible %d, want Normal 5 5", view.Mode, view.Total, view.Visible)
	}
	for i := 1; i < len(view.Signals); i++ {
		if view.Signals[i].Timestamp.After(view.Signals[i-1].Timestamp) {
			t.Fatalf("signals not newest first at index %d", i)
		}
	}

	if err := ctrl.SetMode(context.Background(), signal.FocusDeepFocus); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	view = decode[dashboard.View](t, do(t, r, http.MethodGet, "/api/v1/signals", ""))
	if view.Total != 5 || view.Visible != 2 {
		t.Fatalf("deep focus total/visible = %d/%d, want 5/2", view.Total, view.Visible)
	}
	if view.Signals[0].ID != "sig-005" || view.Signals[1].ID != "sig-001" {
		t.Errorf("deep focus order = %s, %s; want sig-005, sig-001", view.Signals[0].ID, view.Signals[1].ID)
	}
}

func TestListSignals_ModeOverride(t *testing.T) {
	t.Parallel()

	r, ctrl := newTestRouter(t)

	rec := do(t, r, http.MethodGet, "/api/v1/signals?mode=DeepFocus", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	view := decode[dashboard.View](t, rec)
	if view.Mode != signal.FocusDeepFocus || view.Visible != 2 {
		t.Errorf("override view = %q/%d, want DeepFocus/2", view.Mode, view.Visible)
	}
	if got := ctrl.Mode(); got != signal.FocusNormal {
		t.Errorf("mode after override read = %q, want Normal", got)
	}

	rec = do(t, r, http.MethodGet, "/api/v1/signals?mode=Chill", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid mode status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestGetSignal(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t)

	rec := do(t, r, http.MethodGet, "/api/v1/signals/sig-001", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	sig := decode[signal.Signal](t, rec)
	if sig.ID != "sig-001" || sig.CalculatedSeverity != signal.SeverityP1 {
		t.Errorf("got %s/%s, want sig-001/P1", sig.ID, sig.CalculatedSeverity)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q", got)
	}
}

func TestSetStatus(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t)

	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
	}{
		{"suppress", "/api/v1/signals/sig-002/status", `{"status":"Suppressed"}`, http.StatusOK},
		{"unknown status", "/api/v1/signals/sig-002/status", `{"status":"Snoozed"}`, http.StatusBadRequest},
		{"unknown field", "/api/v1/signals/sig-002/status", `{"status":"Open","extra":1}`, http.StatusBadRequest},
		{"invalid JSON", "/api/v1/signals/sig-002/status", `{bad`, http.StatusBadRequest},
		{"trailing data", "/api/v1/signals/sig-002/status", `{"status":"Open"}{}`, http.StatusBadRequest},
		{"unknown signal", "/api/v1/signals/sig-999/status", `{"status":"Resolved"}`, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, r, http.MethodPost, tt.path, tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("POST %s %s = %d, want %d", tt.path, tt.body, rec.Code, tt.wantStatus)
			}
		})
	}

	sig := decode[signal.Signal](t, do(t, r, http.MethodGet, "/api/v1/signals/sig-002", ""))
	if sig.Status != signal.StatusSuppressed {
		t.Errorf("status = %q, want Suppressed", sig.Status)
	}
	if sig.SuppressedUntil == nil {
		t.Error("suppressed_until not set")
	}
}

func TestEscalate(t *testing.T) {
	t.Parallel()

	t.Run("not configured", func(t *testing.T) {
		t.Parallel()
		r, _ := newTestRouter(t)
		rec := do(t, r, http.MethodPost, "/api/v1/signals/sig-001/escalate", "")
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
		}
	})

	t.Run("accepted", func(t *testing.T) {
		t.Parallel()
		esc := &fakeEscalator{}
		r, _ := newTestRouter(t, dashboard.WithEscalator(esc))
		rec := do(t, r, http.MethodPost, "/api/v1/signals/sig-001/escalate", "")
		if rec.Code != http.StatusAccepted {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusAccepted)
		}
		resp := decode[map[string]string](t, rec)
		if resp["escalated"] != "sig-001" {
			t.Errorf("escalated = %q, want sig-001", resp["escalated"])
		}
		esc.mu.Lock()
		defer esc.mu.Unlock()
		if len(esc.calls) != 1 || esc.calls[0] != "sig-001" {
			t.Errorf("escalator calls = %v", esc.calls)
		}
	})

	t.Run("unknown signal", func(t *testing.T) {
		t.Parallel()
		r, _ := newTestRouter(t, dashboard.WithEscalator(&fakeEscalator{}))
		rec := do(t, r, http.MethodPost, "/api/v1/signals/sig-999/escalate", "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
		}
	})

	t.Run("upstream failure", func(t *testing.T) {
		t.Parallel()
		r, _ := newTestRouter(t, dashboard.WithEscalator(&fakeEscalator{err: errors.New("webhook down")}))
		rec := do(t, r, http.MethodPost, "/api/v1/signals/sig-001/escalate", "")
		if rec.Code != http.StatusBadGateway {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusBadGateway)
		}
	})
}

// Focus

func TestFocus_GetAndPut(t *testing.T) {
	t.Parallel()

	r, ctrl := newTestRouter(t)

	resp := decode[focusResponse](t, do(t, r, http.MethodGet, "/api/v1/focus", ""))
	if resp.Mode != signal.FocusNormal {
		t.Errorf("initial mode = %q, want Normal", resp.Mode)
	}
	if len(resp.Modes) != 3 {
		t.Errorf("modes = %v, want 3 entries", resp.Modes)
	}

	rec := do(t, r, http.MethodPut, "/api/v1/focus", `{"mode":"DeepFocus"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT focus = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := ctrl.Mode(); got != signal.FocusDeepFocus {
		t.Errorf("mode = %q, want DeepFocus", got)
	}

	for _, body := range []string{`{"mode":"Chill"}`, `{"mode":""}`, `{bad`, `{"mode":"Off","x":1}`} {
		rec := do(t, r, http.MethodPut, "/api/v1/focus", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("PUT focus %s = %d, want %d", body, rec.Code, http.StatusBadRequest)
		}
	}
	if got := ctrl.Mode(); got != signal.FocusDeepFocus {
		t.Errorf("mode after rejected writes = %q, want DeepFocus", got)
	}
}

// Selection

func waitReady(t *testing.T, r http.Handler) dashboard.Detail {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		d := decode[dashboard.Detail](t, do(t, r, http.MethodGet, "/api/v1/selection", ""))
		if d.State == dashboard.StateReady {
			return d
		}
		if time.Now().After(deadline) {
			t.Fatalf("detail state = %q, want ready", d.State)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSelection_Lifecycle(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t)

	d := decode[dashboard.Detail](t, do(t, r, http.MethodGet, "/api/v1/selection", ""))
	if d.State != dashboard.StateEmpty {
		t.Fatalf("initial state = %q, want empty", d.State)
	}

	rec := do(t, r, http.MethodPut, "/api/v1/selection", `{"id":"sig-002"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("PUT selection = %d, want %d", rec.Code, http.StatusAccepted)
	}
	d = decode[dashboard.Detail](t, rec)
	if d.State != dashboard.StateLoading || d.SignalID != "sig-002" || d.RequestID == "" {
		t.Fatalf("select response = %+v", d)
	}

	d = waitReady(t, r)
	if d.Analysis == nil || d.Analysis.Origin != triage.OriginMock {
		t.Fatalf("analysis = %+v, want mock analysis", d.Analysis)
	}
	if d.Signal == nil || !d.Signal.IsRead {
		t.Error("selected signal not marked read")
	}

	rec = do(t, r, http.MethodDelete, "/api/v1/selection", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("DELETE selection = %d, want %d", rec.Code, http.StatusNoContent)
	}
	d = decode[dashboard.Detail](t, do(t, r, http.MethodGet, "/api/v1/selection", ""))
	if d.State != dashboard.StateEmpty || d.Analysis != nil {
		t.Errorf("after deselect = %+v, want empty", d)
	}
}

func TestSelection_UnknownID(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t)

	rec := do(t, r, http.MethodPut, "/api/v1/selection", `{"id":"sig-999"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("PUT unknown selection = %d, want %d", rec.Code, http.StatusNotFound)
	}
	d := decode[dashboard.Detail](t, do(t, r, http.MethodGet, "/api/v1/selection", ""))
	if d.State != dashboard.StateEmpty {
		t.Errorf("state = %q, want empty", d.State)
	}
}

func TestSelection_BadPayload(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t)

	for _, body := range []string{``, `{}`, `{"id":""}`, `{bad`, `[]`, `{"id":"sig-001","mode":"Off"}`} {
		rec := do(t, r, http.MethodPut, "/api/v1/selection", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("PUT selection %q = %d, want %d", body, rec.Code, http.StatusBadRequest)
		}
	}
}

// Stats

func TestStats(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t)

	rec := do(t, r, http.MethodGet, "/api/v1/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	st := decode[signal.Stats](t, rec)
	if st.Total != 5 {
		t.Errorf("total = %d, want 5", st.Total)
	}
	if len(st.Volume) != 24 {
		t.Errorf("volume buckets = %d, want 24", len(st.Volume))
	}
}

// Fuzz

func FuzzSelectionAndFocus(f *testing.F) {
	sigs, err := seed.Default(time.Now())
	if err != nil {
		f.Fatalf("seed.Default: %v", err)
	}
	store, err := memstore.New(sigs)
	if err != nil {
		f.Fatalf("memstore.New: %v", err)
	}
	ctrl := dashboard.New(store, triage.NewMock(time.Millisecond, triage.Hooks{}), log.Nop())
	f.Cleanup(ctrl.Close)
	r := chi.NewRouter()
	New(nil, ctrl).RegisterRoutes(r)

	seeds := [][]byte{
		nil,
		[]byte("{}"),
		[]byte(`{"id":"sig-001"}`),
		[]byte(`{"id":"sig-999"}`),
		[]byte(`{"mode":"DeepFocus"}`),
		[]byte(`{"mode":"deepfocus"}`),
		[]byte("{invalid json"),
		[]byte("\x00\x01\x02\xff\xfe"),
		[]byte(strings.Repeat("a", 10000)),
	}
	for _, s := range seeds {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, body []byte) {
		// Must not panic
		rec := do(t, r, http.MethodPut, "/api/v1/selection", string(body))
		switch rec.Code {
		case http.StatusAccepted, http.StatusBadRequest, http.StatusNotFound:
		default:
			t.Errorf("PUT /api/v1/selection body len=%d = %d, want 202, 400 or 404", len(body), rec.Code)
		}

		rec = do(t, r, http.MethodPut, "/api/v1/focus", string(body))
		if rec.Code != http.StatusOK && rec.Code != http.StatusBadRequest {
			t.Errorf("PUT /api/v1/focus body len=%d = %d, want 200 or 400", len(body), rec.Code)
		}
	})
}
