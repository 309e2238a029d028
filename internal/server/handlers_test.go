package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/ninebot-ops/vmboard/internal/environment"
	"github.com/ninebot-ops/vmboard/internal/inventory"
	"github.com/ninebot-ops/vmboard/internal/metrics"
	"github.com/ninebot-ops/vmboard/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "data.db"))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := zap.NewNop()
	prom, err := metrics.NewClient("", logger) // unconfigured backend
	if err != nil {
		t.Fatalf("metrics.NewClient failed: %v", err)
	}
	return New(environment.NewDefaultClassifier(), st, prom, logger), st
}

func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response not JSON: %v\n%s", err, rec.Body.String())
	}
	return body
}

// seedDevInventory stores the end-to-end scenario: one machine tagged
// nacos/gateway in a dev resource group.
func seedDevInventory(t *testing.T, st *store.Store) {
	t.Helper()
	vm := inventory.VM{Name: "vm-1", IP: "10.0.0.5", ResourceGroup: "NINEBOT-DEV-01"}
	snap := inventory.Snapshot{Services: []inventory.Service{
		{Name: "nacos", ResourceGroup: "NINEBOT-DEV-01", VMs: []inventory.VM{vm}},
		{Name: "gateway", ResourceGroup: "NINEBOT-DEV-01", VMs: []inventory.VM{vm}},
	}}
	if err := st.SaveSnapshot(context.Background(), "dev", snap); err != nil {
		t.Fatalf("seed snapshot failed: %v", err)
	}
	if err := st.SaveSnapshot(context.Background(), "release", inventory.Snapshot{Services: []inventory.Service{}}); err != nil {
		t.Fatalf("seed release snapshot failed: %v", err)
	}
}

// TestGetVMs_PopulatedEnvironment tests the end-to-end dev scenario
func TestGetVMs_PopulatedEnvironment(t *testing.T) {
	s, st := newTestServer(t)
	seedDevInventory(t, st)

	rec := doRequest(t, s, http.MethodGet, "/api/dev/vms", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	body := decodeBody(t, rec)
	if body["environment"] != "dev" {
		t.Errorf("environment = %v, want dev", body["environment"])
	}
	if _, hasErr := body["error"]; hasErr {
		t.Error("populated environment must not carry an error marker")
	}
	services, ok := body["services"].([]any)
	if !ok || len(services) != 2 {
		t.Fatalf("services = %v, want nacos and gateway", body["services"])
	}
	for _, raw := range services {
		svc := raw.(map[string]any)
		vms := svc["vms"].([]any)
		if len(vms) != 1 {
			t.Fatalf("service %v has %d VMs, want 1", svc["service"], len(vms))
		}
		if ip := vms[0].(map[string]any)["ip"]; ip != "10.0.0.5" {
			t.Errorf("vm ip = %v, want 10.0.0.5", ip)
		}
	}
}

// TestGetVMs_EmptyEnvironment verifies a populated-but-empty environment
// returns no services and no error marker.
func TestGetVMs_EmptyEnvironment(t *testing.T) {
	s, st := newTestServer(t)
	seedDevInventory(t, st)

	rec := doRequest(t, s, http.MethodGet, "/api/release/vms", "")
	body := decodeBody(t, rec)
	if services := body["services"].([]any); len(services) != 0 {
		t.Errorf("release services = %v, want []", services)
	}
	if body["environment"] != "release" {
		t.Errorf("environment = %v, want release", body["environment"])
	}
}

// TestGetVMs_NeverPopulated verifies the explicit empty-with-marker response
func TestGetVMs_NeverPopulated(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/dev/vms", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 even with no data", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["error"] != "No data available yet" {
		t.Errorf("error marker = %v", body["error"])
	}
	if services := body["services"].([]any); len(services) != 0 {
		t.Errorf("services = %v, want []", services)
	}
}

// TestGetVMs_InvalidEnvironmentCoerced verifies unknown tags fall back to
// the default environment instead of a 4xx.
func TestGetVMs_InvalidEnvironmentCoerced(t *testing.T) {
	s, st := newTestServer(t)
	seedDevInventory(t, st)

	rec := doRequest(t, s, http.MethodGet, "/api/staging/vms", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["environment"] != "dev" {
		t.Errorf("environment = %v, want coerced default dev", body["environment"])
	}
	if services := body["services"].([]any); len(services) != 2 {
		t.Errorf("coerced request lost the dev data: %v", services)
	}
}

// TestGetMetrics tests populated and absent metric sets
func TestGetMetrics(t *testing.T) {
	s, st := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/dev/metrics", "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "{}" {
		t.Errorf("absent metrics = %d %q, want 200 {}", rec.Code, rec.Body.String())
	}

	peak := 91.5
	set := metrics.Set{"10.0.0.5": {CPU: metrics.Usage{Peak: &peak}}}
	if err := st.SaveMetrics(context.Background(), "dev", set); err != nil {
		t.Fatalf("SaveMetrics failed: %v", err)
	}

	rec = doRequest(t, s, http.MethodGet, "/api/dev/metrics", "")
	body := decodeBody(t, rec)
	bundle, ok := body["10.0.0.5"].(map[string]any)
	if !ok {
		t.Fatalf("body = %v, want keyed by address", body)
	}
	cpu := bundle["cpu"].(map[string]any)
	if cpu["peak"] != 91.5 {
		t.Errorf("cpu.peak = %v, want 91.5", cpu["peak"])
	}
	if cpu["avg"] != nil {
		t.Errorf("cpu.avg = %v, want null", cpu["avg"])
	}
}

// TestLayoutLifecycle tests POST, GET, DELETE and idempotent DELETE
func TestLayoutLifecycle(t *testing.T) {
	s, _ := newTestServer(t)

	// Absent layout reads as {}.
	rec := doRequest(t, s, http.MethodGet, "/api/dev/layout", "")
	if strings.TrimSpace(rec.Body.String()) != "{}" {
		t.Errorf("absent layout = %q, want {}", rec.Body.String())
	}

	doc := `{"panels":[{"id":1}],"zoom":0.8}`
	rec = doRequest(t, s, http.MethodPost, "/api/dev/layout", doc)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["success"] != true || body["environment"] != "dev" {
		t.Errorf("POST response = %v", body)
	}

	// Stored verbatim.
	rec = doRequest(t, s, http.MethodGet, "/api/dev/layout", "")
	if rec.Body.String() != doc {
		t.Errorf("GET layout = %q, want verbatim %q", rec.Body.String(), doc)
	}

	// Other environments unaffected.
	rec = doRequest(t, s, http.MethodGet, "/api/release/layout", "")
	if strings.TrimSpace(rec.Body.String()) != "{}" {
		t.Errorf("release layout = %q, want {}", rec.Body.String())
	}

	rec = doRequest(t, s, http.MethodDelete, "/api/dev/layout", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("DELETE status = %d, want 200", rec.Code)
	}
	rec = doRequest(t, s, http.MethodGet, "/api/dev/layout", "")
	if strings.TrimSpace(rec.Body.String()) != "{}" {
		t.Errorf("layout after delete = %q, want {}", rec.Body.String())
	}

	// Idempotent delete.
	rec = doRequest(t, s, http.MethodDelete, "/api/dev/layout", "")
	if rec.Code != http.StatusOK {
		t.Errorf("second DELETE status = %d, want 200", rec.Code)
	}
	if body := decodeBody(t, rec); body["success"] != true {
		t.Errorf("second DELETE response = %v", body)
	}
}

// TestSaveLayout_MalformedBody verifies the only surfaced request error
func TestSaveLayout_MalformedBody(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/dev/layout", `{"broken":`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

// TestPrometheusStatus_Unconfigured verifies the status probe shape
func TestPrometheusStatus_Unconfigured(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/prometheus/status", "")
	body := decodeBody(t, rec)
	if body["available"] != false {
		t.Errorf("available = %v, want false", body["available"])
	}
	if body["url"] != nil {
		t.Errorf("url = %v, want null", body["url"])
	}
}

// TestListEnvironments verifies the closed set and default
func TestListEnvironments(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/environments", "")
	body := decodeBody(t, rec)
	envs, ok := body["environments"].([]any)
	if !ok || len(envs) != 3 {
		t.Fatalf("environments = %v, want 3", body["environments"])
	}
	want := []any{"dev", "fra", "release"}
	for i := range want {
		if envs[i] != want[i] {
			t.Errorf("environments[%d] = %v, want %v", i, envs[i], want[i])
		}
	}
	if body["default"] != "dev" {
		t.Errorf("default = %v, want dev", body["default"])
	}
}
