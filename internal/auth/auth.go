// Package auth checks SIP login credentials against the live account table.
package auth

import (
	"crypto/subtle"
	"errors"

	"github.com/danmuck/sip2gate/internal/account"
)

var ErrUnauthorized = errors.New("auth: unauthorized")

// Validator checks a SIP login and returns the account it binds to.
type Validator interface {
	Validate(username, password string) (account.Account, error)
}

// StoreValidator reads accounts from a live store on every call, so a
// disabled account stops validating as soon as the table is republished.
type StoreValidator struct {
	Store *account.Store
}

func (v StoreValidator) Validate(username, password string) (account.Account, error) {
	if v.Store == nil || username == "" {
		return account.Account{}, ErrUnauthorized
	}
	acct, ok := v.Store.Lookup(username)
	if !ok {
		return account.Account{}, ErrUnauthorized
	}
	if !Equal(acct.Password, password) {
		return account.Account{}, ErrUnauthorized
	}
	return acct, nil
}

// Equal compares secrets in constant time. An empty stored secret never
// matches.
func Equal(stored, given string) bool {
	if stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(given)) == 1
}

// FuncValidator adapts a function into a Validator.
type FuncValidator func(username, password string) (account.Account, error)

func (f FuncValidator) Validate(username, password string) (account.Account, error) {
	return f(username, password)
}
