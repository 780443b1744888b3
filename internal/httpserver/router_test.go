package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"mailpipeline/internal/model"
	"mailpipeline/internal/scheduler"
	"mailpipeline/pkg/alert"
	"mailpipeline/pkg/apperr"
	"mailpipeline/pkg/metrics"
	"mailpipeline/pkg/outbox"
	"mailpipeline/pkg/rbac"
	"mailpipeline/pkg/util"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeReplayer struct {
	failed   []*outbox.Event
	replayed []int64
	err      error
}

func (f *fakeReplayer) ListFailed(ctx context.Context, limit int) ([]*outbox.Event, error) {
	if len(f.failed) > limit {
		return f.failed[:limit], nil
	}
	return f.failed, nil
}

func (f *fakeReplayer) ReplayEvent(ctx context.Context, eventID int64) error {
	if f.err != nil {
		return f.err
	}
	f.replayed = append(f.replayed, eventID)
	return nil
}

type fakeTrigger struct {
	stats model.RunStats
	err   error
	calls int
}

func (f *fakeTrigger) RunOnce(ctx context.Context) (model.RunStats, error) {
	f.calls++
	return f.stats, f.err
}

type testEnv struct {
	router   *Router
	alerts   *alert.Dispatcher
	metrics  *metrics.Collector
	replayer *fakeReplayer
	trigger  *fakeTrigger
	dbErr    error
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		alerts:   alert.NewDispatcher(zap.NewNop()),
		metrics:  metrics.NewCollector(),
		replayer: &fakeReplayer{},
		trigger:  &fakeTrigger{},
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(env.metrics)

	env.router = NewRouter(Deps{
		Alerts:   env.alerts,
		Metrics:  env.metrics,
		Gatherer: reg,
		Outbox:   env.replayer,
		Trigger:  env.trigger,
		Checks: map[string]Pinger{
			"db": PingFunc(func(ctx context.Context) error { return env.dbErr }),
		},
		JWTSecret: testSecret,
		Logger:    zap.NewNop(),
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path, role string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if role != "" {
		token, err := util.GenerateJWT("tester", role, testSecret, time.Hour)
		if err != nil {
			t.Fatalf("GenerateJWT: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.Engine.ServeHTTP(w, req)
	return w
}

func TestHealthAndReadiness(t *testing.T) {
	env := newTestEnv(t)

	if w := env.do(t, http.MethodGet, "/healthz", ""); w.Code != http.StatusOK {
		t.Errorf("/healthz = %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/readyz", ""); w.Code != http.StatusOK {
		t.Errorf("/readyz = %d", w.Code)
	}

	env.dbErr = errors.New("connection refused")
	w := env.do(t, http.MethodGet, "/readyz", "")
	if w.Code != http.StatusServiceUnavailable || !strings.Contains(w.Body.String(), "db_not_ready") {
		t.Errorf("/readyz with db down = %d %s", w.Code, w.Body.String())
	}
}

func TestPrometheusEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.metrics.IncrementCounter(metrics.EmailsProcessed, 3, nil)

	w := env.do(t, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("/metrics = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "emails_processed_total 3") {
		t.Errorf("body missing counter:\n%s", w.Body.String())
	}
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	if w := env.do(t, http.MethodGet, "/alerts", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("no token = %d, want 401", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/alerts", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	w := httptest.NewRecorder()
	env.router.Engine.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad token = %d, want 401", w.Code)
	}
}

func TestRecentAlertsReturnsTwenty(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 25; i++ {
		env.alerts.SendAlert(context.Background(), fmt.Sprintf("a%d", i), alert.SeverityInfo, "m", nil)
	}

	w := env.do(t, http.MethodGet, "/alerts", rbac.RoleViewer)
	if w.Code != http.StatusOK {
		t.Fatalf("/alerts = %d", w.Code)
	}
	var body struct {
		Alerts []alert.Alert `json:"alerts"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Alerts) != 20 || body.Alerts[0].Name != "a24" {
		t.Errorf("got %d alerts, first = %+v", len(body.Alerts), body.Alerts[0])
	}
}

func TestMetricsSnapshot(t *testing.T) {
	env := newTestEnv(t)
	env.metrics.RecordHistogram(metrics.IngestionDuration, 100, nil)

	w := env.do(t, http.MethodGet, "/metrics/snapshot", rbac.RoleViewer)
	if w.Code != http.StatusOK {
		t.Fatalf("/metrics/snapshot = %d", w.Code)
	}
	var snap metrics.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Histograms[metrics.IngestionDuration].Avg != 100 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestTriggerIngestion(t *testing.T) {
	tests := []struct {
		name     string
		role     string
		err      error
		wantCode int
	}{
		{"viewer forbidden", rbac.RoleViewer, nil, http.StatusForbidden},
		{"operator ok", rbac.RoleOperator, nil, http.StatusOK},
		{"already running", rbac.RoleOperator, scheduler.ErrRunInProgress, http.StatusConflict},
		{"run failed", rbac.RoleAdmin, errors.New("imap down"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.trigger.err = tt.err
			env.trigger.stats = model.RunStats{Processed: 2}

			w := env.do(t, http.MethodPost, "/ingestion/run", tt.role)
			if w.Code != tt.wantCode {
				t.Errorf("code = %d, want %d (%s)", w.Code, tt.wantCode, w.Body.String())
			}
		})
	}
}

func TestOutboxEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.replayer.failed = []*outbox.Event{{ID: 1, RoutingKey: "email.classified", Status: outbox.StatusFailed}}

	w := env.do(t, http.MethodGet, "/outbox/failed", rbac.RoleOperator)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"routing_key":"email.classified"`) {
		t.Errorf("/outbox/failed = %d %s", w.Code, w.Body.String())
	}
	if w := env.do(t, http.MethodGet, "/outbox/failed?limit=abc", rbac.RoleOperator); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit = %d", w.Code)
	}

	if w := env.do(t, http.MethodPost, "/outbox/1/replay", rbac.RoleOperator); w.Code != http.StatusForbidden {
		t.Errorf("operator replay = %d, want 403", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/outbox/1/replay", rbac.RoleAdmin); w.Code != http.StatusOK {
		t.Errorf("admin replay = %d", w.Code)
	}
	if len(env.replayer.replayed) != 1 || env.replayer.replayed[0] != 1 {
		t.Errorf("replayed = %v", env.replayer.replayed)
	}
	if w := env.do(t, http.MethodPost, "/outbox/x/replay", rbac.RoleAdmin); w.Code != http.StatusBadRequest {
		t.Errorf("bad id = %d", w.Code)
	}

	env.replayer.err = fmt.Errorf("outbox event 9: %w", apperr.ErrNotFound)
	if w := env.do(t, http.MethodPost, "/outbox/9/replay", rbac.RoleAdmin); w.Code != http.StatusNotFound {
		t.Errorf("missing event = %d, want 404", w.Code)
	}
}

func TestOutboxRoutesAbsentWithoutStore(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRouter(Deps{
		Alerts:    alert.NewDispatcher(zap.NewNop()),
		Metrics:   metrics.NewCollector(),
		Gatherer:  reg,
		Trigger:   &fakeTrigger{},
		JWTSecret: testSecret,
		Logger:    zap.NewNop(),
	})

	token, _ := util.GenerateJWT("tester", rbac.RoleAdmin, testSecret, time.Hour)
	req := httptest.NewRequest(http.MethodGet, "/outbox/failed", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.Engine.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("/outbox/failed = %d, want 404", w.Code)
	}
}
