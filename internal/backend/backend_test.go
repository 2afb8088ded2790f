package backend_test

import (
	"context"
	"errors"
	"testing"

	"github.com/danmuck/sip2gate/internal/backend"
	"github.com/danmuck/sip2gate/internal/backend/backendtest"
	"github.com/danmuck/sip2gate/internal/testutil/testlog"
	"github.com/tidwall/gjson"
)

func TestParamCountMatches(t *testing.T) {
	tests := []struct {
		name  string
		pc    backend.ParamCount
		count int
		want  bool
	}{
		{name: "any zero", pc: backend.AnyParams(), count: 0, want: true},
		{name: "any many", pc: backend.AnyParams(), count: 9, want: true},
		{name: "zero ok", pc: backend.ZeroParams(), count: 0, want: true},
		{name: "zero one", pc: backend.ZeroParams(), count: 1, want: false},
		{name: "exactly match", pc: backend.Exactly(1), count: 1, want: true},
		{name: "exactly over", pc: backend.Exactly(1), count: 10, want: false},
		{name: "at least above", pc: backend.AtLeast(10), count: 20, want: true},
		{name: "at least equal", pc: backend.AtLeast(10), count: 10, want: true},
		{name: "at least below", pc: backend.AtLeast(20), count: 10, want: false},
		{name: "range inside", pc: backend.Range(4, 6), count: 5, want: true},
		{name: "range low bound", pc: backend.Range(4, 6), count: 4, want: true},
		{name: "range high bound", pc: backend.Range(4, 6), count: 6, want: true},
		{name: "range below", pc: backend.Range(4, 6), count: 3, want: false},
		{name: "range above", pc: backend.Range(4, 6), count: 7, want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.pc.Matches(tc.count); got != tc.want {
				t.Fatalf("%s.Matches(%d) = %v, want %v", tc.pc, tc.count, got, tc.want)
			}
		})
	}
}

func TestParamCountString(t *testing.T) {
	if s := backend.Range(2, 3).String(); s != "Range 2..3" {
		t.Fatalf("unexpected string: %q", s)
	}
	if s := backend.AtLeast(1).String(); s != "AtLeast 1" {
		t.Fatalf("unexpected string: %q", s)
	}
}

func TestLookupMethodAndService(t *testing.T) {
	def, ok := backend.LookupMethod(backend.SearchMethod("acp"))
	if !ok || !def.Params.Matches(2) || def.Params.Matches(4) {
		t.Fatalf("unexpected pcrud search def: %+v ok=%v", def, ok)
	}
	if _, ok := backend.LookupMethod("open-ils.nope.method"); ok {
		t.Fatalf("unexpected lookup hit")
	}
	if svc := backend.Service(backend.MethodPayment); svc != "open-ils.circ" {
		t.Fatalf("unexpected service: %q", svc)
	}
}

func TestCallRejectsBadArityBeforeSending(t *testing.T) {
	testlog.Start(t)

	srv := backendtest.New(t)
	client := srv.Client()

	_, err := client.Call(context.Background(), backend.MethodSessionCreate)
	if !errors.Is(err, backend.ErrParamCount) {
		t.Fatalf("expected ErrParamCount, got %v", err)
	}
	_, err = client.Call(context.Background(), "open-ils.unknown.method", 1)
	if !errors.Is(err, backend.ErrUnknownMethod) {
		t.Fatalf("expected ErrUnknownMethod, got %v", err)
	}
	if n := len(srv.Calls()); n != 0 {
		t.Fatalf("invalid calls must not reach the backend, got %d", n)
	}
}

func TestCallReturnsEventErrors(t *testing.T) {
	testlog.Start(t)

	srv := backendtest.New(t)
	srv.Handle(backend.MethodSessionRetrieve, func([]gjson.Result) any {
		return backendtest.Event(backend.TextCodeNoSession)
	})
	srv.Handle(backend.MethodFinesSummary, func(p []gjson.Result) any {
		return map[string]any{"balance_owed": "4.50", "usr": p[1].Int()}
	})

	client := backend.NewHTTPClient(srv.URL, 0, backend.WithTraceID("trace-1"))
	_, err := client.Call(context.Background(), backend.MethodSessionRetrieve, "tok")
	if !backend.IsNoSession(err) {
		t.Fatalf("expected NO_SESSION event, got %v", err)
	}

	res, err := client.Call(context.Background(), backend.MethodFinesSummary, "tok", 42)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if res.Get("balance_owed").String() != "4.50" || res.Get("usr").Int() != 42 {
		t.Fatalf("unexpected payload: %s", res.Raw)
	}
	calls := srv.Calls()
	if calls[len(calls)-1].Trace != "trace-1" {
		t.Fatalf("trace header missing: %+v", calls[len(calls)-1])
	}
}

func TestCallMissingHandlerIsBadResponse(t *testing.T) {
	srv := backendtest.New(t)
	_, err := srv.Client().Call(context.Background(), backend.MethodHoldCount, "tok", 1)
	if !errors.Is(err, backend.ErrBadResponse) {
		t.Fatalf("expected ErrBadResponse, got %v", err)
	}
}

func TestStaffLoginAndEditor(t *testing.T) {
	testlog.Start(t)

	srv := backendtest.New(t)
	lib := backendtest.NewLibrary()
	lib.Xacts = []backendtest.Xact{{ID: 7, PatronID: 3, BalanceOwed: "2.00"}}
	lib.Install(srv)

	ctx := context.Background()
	ed := backend.NewEditor(srv.Client())
	if _, err := ed.Request(ctx, backend.MethodSessionRetrieve); !errors.Is(err, backend.ErrNoAuthToken) {
		t.Fatalf("expected ErrNoAuthToken, got %v", err)
	}

	if err := backend.StaffLogin(ctx, ed, "nobody", ""); !errors.Is(err, backend.ErrNoSuchUser) {
		t.Fatalf("expected ErrNoSuchUser, got %v", err)
	}
	if err := backend.StaffLogin(ctx, ed, "admin", "BR1-sip"); err != nil {
		t.Fatalf("staff login: %v", err)
	}
	if ok, err := ed.CheckAuth(ctx); !ok || err != nil {
		t.Fatalf("check auth: ok=%v err=%v", ok, err)
	}

	row, found, err := ed.Retrieve(ctx, "mbts", 7)
	if err != nil || !found || row.Get("balance_owed").String() != "2.00" {
		t.Fatalf("retrieve: row=%s found=%v err=%v", row.Raw, found, err)
	}
	if _, found, err := ed.Retrieve(ctx, "mbts", 99); found || err != nil {
		t.Fatalf("expected missing row, found=%v err=%v", found, err)
	}

	if err := ed.Begin(ctx); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := ed.Rollback(ctx); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if err := ed.Rollback(ctx); err != nil {
		t.Fatalf("second rollback must be a no-op: %v", err)
	}
	if lib.Rollbacks() != 1 {
		t.Fatalf("unexpected rollbacks: %d", lib.Rollbacks())
	}

	lib.ExpireSessions()
	if ok, err := ed.CheckAuth(ctx); ok || err != nil {
		t.Fatalf("expired token: ok=%v err=%v", ok, err)
	}
	if ed.AuthToken() != "" {
		t.Fatalf("expired token must be cleared")
	}
}
