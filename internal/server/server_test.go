package server

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/danmuck/sip2gate/internal/account"
	"github.com/danmuck/sip2gate/internal/config"
	"github.com/danmuck/sip2gate/internal/monitor"
	"github.com/danmuck/sip2gate/internal/sip2"
	"github.com/danmuck/sip2gate/internal/testutil/testlog"
)

type fakeWatcher struct {
	queue  *monitor.Queue
	events []monitor.Event
	die    bool
}

func newFakeWatcher(events ...monitor.Event) *fakeWatcher {
	return &fakeWatcher{queue: monitor.NewQueue(), events: events}
}

func (w *fakeWatcher) Queue() *monitor.Queue {
	return w.queue
}

func (w *fakeWatcher) Run(ctx context.Context) error {
	defer w.queue.Close()
	for _, ev := range w.events {
		w.queue.Push(ev)
	}
	if w.die {
		return nil
	}
	<-ctx.Done()
	return nil
}

func testConfig(maxClients int) config.Config {
	cfg := config.Default()
	cfg.Server.ListenAddr = "127.0.0.1:0"
	cfg.Server.MaxClients = maxClients
	cfg.Server.AcceptPoll = 20 * time.Millisecond
	cfg.Server.RecvTimeout = 50 * time.Millisecond
	cfg.Server.Framing = sip2.FramingBinary
	cfg.Accounts = []account.Account{{
		Username: "sip", Password: "pw", Institution: "br1", Framing: sip2.FramingBinary, Enabled: true,
	}}
	return cfg
}

type running struct {
	srv  *Server
	addr string
	done chan struct{}
	err  error
}

func start(t *testing.T, ctx context.Context, cfg config.Config, w Watcher) *running {
	t.Helper()
	ln, err := net.Listen("tcp", cfg.Server.ListenAddr)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := New(cfg, WithWatcher(w))
	r := &running{srv: srv, addr: ln.Addr().String(), done: make(chan struct{})}
	go func() {
		r.err = srv.ServeListener(ctx, ln)
		close(r.done)
	}()
	t.Cleanup(func() {
		srv.Shutdown()
		select {
		case <-r.done:
		case <-time.After(3 * time.Second):
		}
	})
	return r
}

func (r *running) wait(t *testing.T, within time.Duration) error {
	t.Helper()
	select {
	case <-r.done:
		return r.err
	case <-time.After(within):
		t.Fatalf("server did not stop within %s", within)
		return nil
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// statusRoundTrip proves the connection is served by a live session.
func statusRoundTrip(t *testing.T, conn net.Conn) {
	t.Helper()
	c := sip2.NewConn(conn, sip2.FramingBinary)
	req, err := sip2.Parse("9900302.00")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := c.Send(req); err != nil {
		t.Fatalf("send: %v", err)
	}
	resp, err := c.RecvWithTimeout(2 * time.Second)
	if err != nil || resp == nil {
		t.Fatalf("expected a response, got resp=%v err=%v", resp, err)
	}
	if resp.Code() != sip2.CodeACSStatus {
		t.Fatalf("expected 98, got %s", resp)
	}
}

func expectClosed(t *testing.T, conn net.Conn) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	_, err := conn.Read(buf)
	if err == nil {
		t.Fatalf("expected closed connection, read succeeded")
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		t.Fatalf("connection was left open")
	}
}

func TestAdmissionRejectsAtCapacity(t *testing.T) {
	testlog.Start(t)

	r := start(t, context.Background(), testConfig(2), newFakeWatcher())

	first := dial(t, r.addr)
	second := dial(t, r.addr)
	waitFor(t, "two sessions", func() bool { return r.srv.ActiveSessions() == 2 })
	statusRoundTrip(t, first)
	statusRoundTrip(t, second)

	rejected := dial(t, r.addr)
	expectClosed(t, rejected)
	if n := r.srv.ActiveSessions(); n != 2 {
		t.Fatalf("rejected connection changed session count: %d", n)
	}

	_ = first.Close()
	// The monitor holds one worker slot.
	waitFor(t, "slot freed", func() bool { return r.srv.pool.Workers() == 2 })

	third := dial(t, r.addr)
	waitFor(t, "slot reused", func() bool { return r.srv.ActiveSessions() == 2 })
	statusRoundTrip(t, third)
}

func TestShutdownStopsWithinReceiveTimeout(t *testing.T) {
	testlog.Start(t)

	cfg := testConfig(4)
	r := start(t, context.Background(), cfg, newFakeWatcher())

	conn := dial(t, r.addr)
	waitFor(t, "session", func() bool { return r.srv.ActiveSessions() == 1 })

	r.srv.Shutdown()
	if err := r.wait(t, cfg.Server.RecvTimeout+cfg.Server.AcceptPoll+time.Second); err != nil {
		t.Fatalf("serve returned %v", err)
	}
	expectClosed(t, conn)

	if c, err := net.DialTimeout("tcp", r.addr, 200*time.Millisecond); err == nil {
		_ = c.Close()
		t.Fatalf("listener still accepting after shutdown")
	}
}

func TestContextCancelStops(t *testing.T) {
	testlog.Start(t)

	ctx, cancel := context.WithCancel(context.Background())
	r := start(t, ctx, testConfig(4), newFakeWatcher())
	cancel()
	if err := r.wait(t, 2*time.Second); err != nil {
		t.Fatalf("serve returned %v", err)
	}
}

func TestMonitorDisconnectIsFatal(t *testing.T) {
	testlog.Start(t)

	w := newFakeWatcher()
	w.die = true
	r := start(t, context.Background(), testConfig(4), w)
	if err := r.wait(t, 2*time.Second); !errors.Is(err, ErrMonitorDied) {
		t.Fatalf("expected ErrMonitorDied, got %v", err)
	}
}

func TestMonitorEventsUpdateLiveTable(t *testing.T) {
	testlog.Start(t)

	added := account.Account{Username: "kiosk", Password: "k", Institution: "br2", Enabled: true}
	r := start(t, context.Background(), testConfig(4), newFakeWatcher(
		monitor.AddAccount(added),
		monitor.DisableAccount("sip"),
	))

	waitFor(t, "table update", func() bool {
		_, hasKiosk := r.srv.Accounts().Lookup("kiosk")
		_, hasSip := r.srv.Accounts().Lookup("sip")
		return hasKiosk && !hasSip
	})
	if names := r.srv.AccountNames(); len(names) != 1 || names[0] != "kiosk" {
		t.Fatalf("unexpected accounts: %v", names)
	}
}

func TestMonitorShutdownEventStopsCleanly(t *testing.T) {
	testlog.Start(t)

	r := start(t, context.Background(), testConfig(4), newFakeWatcher(monitor.Shutdown()))
	if err := r.wait(t, 2*time.Second); err != nil {
		t.Fatalf("expected clean stop, got %v", err)
	}
}

func TestPoolCounts(t *testing.T) {
	var p pool
	release := make(chan struct{})
	for i := 0; i < 3; i++ {
		p.Go(func() { <-release })
	}
	if n := p.Workers(); n != 3 {
		t.Fatalf("expected 3 workers, got %d", n)
	}
	close(release)
	p.Wait()
	if p.Active() != 0 || p.Queued() != 0 {
		t.Fatalf("expected idle pool, active=%d queued=%d", p.Active(), p.Queued())
	}
}
