package main

import (
	"bytes"
	"context"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/sip2gate/internal/account"
	"github.com/danmuck/sip2gate/internal/backend"
	"github.com/danmuck/sip2gate/internal/backend/backendtest"
	"github.com/danmuck/sip2gate/internal/config"
	"github.com/danmuck/sip2gate/internal/server"
	"github.com/danmuck/sip2gate/internal/sip2"
	"github.com/danmuck/sip2gate/internal/testutil/testlog"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestInitThenCheck(t *testing.T) {
	testlog.Start(t)

	path := filepath.Join(t.TempDir(), "sipgw.toml")
	if _, err := run(t, "init", "--config", path); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := run(t, "init", "--config", path); err == nil {
		t.Fatalf("expected init to refuse an existing file")
	}
	if _, err := run(t, "init", "--config", path, "--force"); err != nil {
		t.Fatalf("init --force: %v", err)
	}

	out, err := run(t, "check", "-c", path)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !strings.Contains(out, "config ok") || !strings.Contains(out, "account sip-user") {
		t.Fatalf("unexpected check output:\n%s", out)
	}
}

func TestCheckReportsBadConfig(t *testing.T) {
	testlog.Start(t)

	if _, err := run(t, "check", "--config", filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected error for missing config")
	}
}

func TestProbeAgainstRunningGateway(t *testing.T) {
	testlog.Start(t)

	lib := backendtest.NewLibrary()
	lib.Patrons = []backendtest.Patron{{ID: 7, Barcode: "p7", First: "Grace", Last: "Hopper", Active: true, CardActive: true}}
	lib.Copies = []backendtest.Copy{{ID: 70, Barcode: "i7", Title: "Compilers", CircLib: "BR1", MediaType: "book"}}
	backendSrv := backendtest.New(t)
	lib.Install(backendSrv)

	cfg := config.Default()
	cfg.Server.MaxClients = 2
	cfg.Server.AcceptPoll = 20 * time.Millisecond
	cfg.Server.RecvTimeout = 50 * time.Millisecond
	cfg.Accounts = []account.Account{{
		Username: "sip", Password: "pw", Institution: "br1", BackendUsername: "admin",
		Framing: sip2.FramingBinary, Enabled: true,
	}}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	gw := server.New(cfg, server.WithClientFactory(func(string) backend.Client { return backendSrv.Client() }))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.ServeListener(ctx, ln) }()
	defer func() {
		cancel()
		<-done
	}()

	conn, err := sip2.Dial(ln.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var out bytes.Buffer
	err = probe(&out, conn, probeOptions{
		username: "sip",
		password: "pw",
		patron:   "p7",
		item:     "i7",
		timeout:  2 * time.Second,
	})
	if err != nil {
		t.Fatalf("probe: %v\n%s", err, out.String())
	}
	for _, want := range []string{"< 941", "< 98Y", "AJCompilers|", "AEGrace Hopper|"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("probe output missing %q:\n%s", want, out.String())
		}
	}
}

func TestProbeStopsOnRejectedLogin(t *testing.T) {
	testlog.Start(t)

	cfg := config.Default()
	cfg.Server.AcceptPoll = 20 * time.Millisecond
	cfg.Server.RecvTimeout = 50 * time.Millisecond
	cfg.Accounts = []account.Account{{Username: "sip", Password: "pw", Institution: "br1", Enabled: true}}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	gw := server.New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.ServeListener(ctx, ln) }()
	defer func() {
		cancel()
		<-done
	}()

	conn, err := sip2.Dial(ln.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var out bytes.Buffer
	err = probe(&out, conn, probeOptions{username: "sip", password: "nope", timeout: 2 * time.Second})
	if err == nil || !strings.Contains(err.Error(), "login rejected") {
		t.Fatalf("expected rejected login, got %v", err)
	}
}
