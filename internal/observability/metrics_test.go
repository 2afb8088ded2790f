package observability

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/sip2gate/internal/testutil/testlog"
)

type fakeStatus struct {
	ready bool
}

func (f fakeStatus) Ready() bool { return f.ready }
func (f fakeStatus) ActiveSessions() int { return 3 }
func (f fakeStatus) MaxClients() int { return 8 }
func (f fakeStatus) AccountNames() []string { return []string{"kiosk-1", "kiosk-2"} }

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)

	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("GET", "/health", 200, 12*time.Millisecond)
	RecordConnection(true)
	RecordConnection(false)
	SessionStarted()
	SessionEnded()
	RecordMessage("93", "ok", time.Millisecond)
	RecordBackendCall("open-ils.pcrud.search.au.atomic", 3*time.Millisecond, true)
	RecordPayment("overpayment")
	RecordMonitorEvent("add_account")
}

func TestAdminRoutes(t *testing.T) {
	testlog.Start(t)

	admin := NewAdmin(fakeStatus{ready: true}, nil)

	rec := httptest.NewRecorder()
	admin.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected ready status: %d", rec.Code)
	}
	var body struct {
		Ready    bool `json:"ready"`
		Sessions int  `json:"sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode ready: %v", err)
	}
	if !body.Ready || body.Sessions != 3 {
		t.Fatalf("unexpected ready body: %+v", body)
	}

	rec = httptest.NewRecorder()
	admin.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/accounts", nil))
	if !strings.Contains(rec.Body.String(), "kiosk-2") {
		t.Fatalf("unexpected accounts body: %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	admin.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "sipgw_admin_http_requests_total") {
		t.Fatalf("metrics output missing admin counter")
	}
}

func TestAdminReadyReportsUnavailable(t *testing.T) {
	admin := NewAdmin(fakeStatus{ready: false}, []string{"http://localhost:3000"})
	rec := httptest.NewRecorder()
	admin.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestAdminServeStopsOnCancel(t *testing.T) {
	testlog.Start(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	admin := NewAdmin(fakeStatus{ready: true}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- admin.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected health status: %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("admin server did not stop")
	}
}
