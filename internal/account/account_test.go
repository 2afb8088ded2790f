package account

import (
	"errors"
	"sync"
	"testing"

	"github.com/danmuck/sip2gate/internal/sip2"
	"github.com/danmuck/sip2gate/internal/testutil/testlog"
)

func sample(name string) Account {
	return Account{
		Username:    name,
		Password:    name + "-pw",
		Institution: "example",
		Framing:     sip2.FramingASCII,
		Enabled:     true,
	}
}

func TestTableWithAndWithoutCopy(t *testing.T) {
	testlog.Start(t)

	base := NewTable(sample("a"), sample("b"))
	added := base.With(sample("c"))
	removed := added.Without("a")

	if base.Len() != 2 {
		t.Fatalf("base table mutated: %v", base.Usernames())
	}
	if added.Len() != 3 {
		t.Fatalf("unexpected added table: %v", added.Usernames())
	}
	if _, ok := removed.Get("a"); ok {
		t.Fatalf("expected a removed")
	}
	if _, ok := added.Get("a"); !ok {
		t.Fatalf("remove must not touch the source table")
	}
}

func TestTableWithDisabledRemoves(t *testing.T) {
	testlog.Start(t)

	base := NewTable(sample("a"))
	off := sample("a")
	off.Enabled = false
	if _, ok := base.With(off).Get("a"); ok {
		t.Fatalf("disabled account must not be live")
	}
	if _, ok := NewTable(off).Get("a"); ok {
		t.Fatalf("disabled account must be dropped on build")
	}
}

func TestStorePublishIsWholeTable(t *testing.T) {
	testlog.Start(t)

	store := NewStore(NewTable(sample("a"), sample("b")))
	next := NewTable(sample("x"), sample("y"))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := store.Load()
				_, a := snap.Get("a")
				_, x := snap.Get("x")
				if a == x {
					t.Errorf("observed mixed table: %v", snap.Usernames())
					return
				}
			}
		}()
	}
	for i := 0; i < 100; i++ {
		if i%2 == 0 {
			store.Publish(next)
		} else {
			store.Publish(NewTable(sample("a"), sample("b")))
		}
	}
	close(stop)
	wg.Wait()
}

func TestStoreNilPublishIsEmpty(t *testing.T) {
	store := NewStore(nil)
	if store.Load() == nil || store.Load().Len() != 0 {
		t.Fatalf("expected empty initial table")
	}
	store.Publish(nil)
	if _, ok := store.Lookup("a"); ok {
		t.Fatalf("expected empty table after nil publish")
	}
}

func TestAccountValidate(t *testing.T) {
	if err := sample("a").Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	bad := sample("a")
	bad.Institution = " "
	if err := bad.Validate(); !errors.Is(err, ErrMissingInstitution) {
		t.Fatalf("expected ErrMissingInstitution, got %v", err)
	}
	if err := (Account{}).Validate(); !errors.Is(err, ErrMissingUsername) {
		t.Fatalf("expected ErrMissingUsername, got %v", err)
	}
}

func TestStaffUsernameFallsBack(t *testing.T) {
	a := sample("kiosk")
	if a.StaffUsername() != "kiosk" {
		t.Fatalf("unexpected staff username: %q", a.StaffUsername())
	}
	a.BackendUsername = "admin"
	if a.StaffUsername() != "admin" {
		t.Fatalf("unexpected staff username: %q", a.StaffUsername())
	}
}
