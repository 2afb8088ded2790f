// Package account holds terminal accounts and the live account table.
//
// A Table is never mutated once published. Writers derive a new table with
// With/Without and swap it into the Store; readers Load the current pointer
// and see one complete snapshot.
package account

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/danmuck/sip2gate/internal/sip2"
)

var (
	ErrMissingUsername    = errors.New("account: missing username")
	ErrMissingPassword    = errors.New("account: missing password")
	ErrMissingInstitution = errors.New("account: missing institution")
)

// Account is one SIP terminal login.
type Account struct {
	Username    string
	Password    string
	Institution string
	Workstation string
	// BackendUsername is the staff identity the gateway logs in as on the
	// terminal's behalf.
	BackendUsername string
	Framing         sip2.Framing
	Enabled         bool
}

func (a Account) Validate() error {
	if strings.TrimSpace(a.Username) == "" {
		return ErrMissingUsername
	}
	if a.Password == "" {
		return fmt.Errorf("%w: %s", ErrMissingPassword, a.Username)
	}
	if strings.TrimSpace(a.Institution) == "" {
		return fmt.Errorf("%w: %s", ErrMissingInstitution, a.Username)
	}
	return nil
}

// StaffUsername returns the backend identity for this account.
func (a Account) StaffUsername() string {
	if a.BackendUsername != "" {
		return a.BackendUsername
	}
	return a.Username
}

// Table is an immutable username -> Account snapshot.
type Table struct {
	accounts map[string]Account
}

// NewTable builds a table from accounts; disabled accounts are dropped and
// later duplicates win.
func NewTable(accounts ...Account) *Table {
	t := &Table{accounts: make(map[string]Account, len(accounts))}
	for _, a := range accounts {
		if !a.Enabled {
			continue
		}
		t.accounts[a.Username] = a
	}
	return t
}

func (t *Table) Get(username string) (Account, bool) {
	if t == nil {
		return Account{}, false
	}
	a, ok := t.accounts[username]
	return a, ok
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.accounts)
}

// Usernames returns the sorted account names.
func (t *Table) Usernames() []string {
	if t == nil {
		return nil
	}
	out := make([]string, 0, len(t.accounts))
	for name := range t.accounts {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// With returns a copy of t with a added or replaced.
func (t *Table) With(a Account) *Table {
	next := t.clone(len(t.accountsOrNil()) + 1)
	if a.Enabled {
		next.accounts[a.Username] = a
	} else {
		delete(next.accounts, a.Username)
	}
	return next
}

// Without returns a copy of t with username removed.
func (t *Table) Without(username string) *Table {
	next := t.clone(len(t.accountsOrNil()))
	delete(next.accounts, username)
	return next
}

func (t *Table) clone(capacity int) *Table {
	next := &Table{accounts: make(map[string]Account, capacity)}
	for k, v := range t.accountsOrNil() {
		next.accounts[k] = v
	}
	return next
}

func (t *Table) accountsOrNil() map[string]Account {
	if t == nil {
		return nil
	}
	return t.accounts
}

// Store publishes the live Table.
type Store struct {
	live atomic.Pointer[Table]
}

func NewStore(initial *Table) *Store {
	s := &Store{}
	if initial == nil {
		initial = NewTable()
	}
	s.live.Store(initial)
	return s
}

// Load returns the current snapshot. Never nil.
func (s *Store) Load() *Table {
	return s.live.Load()
}

// Publish swaps in a whole new table.
func (s *Store) Publish(t *Table) {
	if t == nil {
		t = NewTable()
	}
	s.live.Store(t)
}

// Lookup reads one account from the current snapshot.
func (s *Store) Lookup(username string) (Account, bool) {
	return s.Load().Get(username)
}
