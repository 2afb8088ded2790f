package auth

import (
	"errors"
	"testing"

	"github.com/danmuck/sip2gate/internal/account"
	"github.com/danmuck/sip2gate/internal/testutil/testlog"
)

func TestStoreValidatorValidate(t *testing.T) {
	testlog.Start(t)

	store := account.NewStore(account.NewTable(
		account.Account{Username: "sip", Password: "secret", Institution: "br1", Enabled: true},
		account.Account{Username: "blank", Password: "", Institution: "br1", Enabled: true},
	))
	v := StoreValidator{Store: store}

	tests := []struct {
		name     string
		username string
		password string
		wantErr  error
	}{
		{name: "matching password accepted", username: "sip", password: "secret"},
		{name: "wrong password denied", username: "sip", password: "nope", wantErr: ErrUnauthorized},
		{name: "unknown user denied", username: "ghost", password: "secret", wantErr: ErrUnauthorized},
		{name: "empty username denied", username: "", password: "", wantErr: ErrUnauthorized},
		{name: "empty stored password denied", username: "blank", password: "", wantErr: ErrUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			acct, err := v.Validate(tc.username, tc.password)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected err %v, got %v", tc.wantErr, err)
			}
			if err == nil && acct.Username != tc.username {
				t.Fatalf("expected account %q, got %q", tc.username, acct.Username)
			}
		})
	}
}

func TestStoreValidatorSeesRepublish(t *testing.T) {
	testlog.Start(t)

	store := account.NewStore(account.NewTable(
		account.Account{Username: "sip", Password: "secret", Institution: "br1", Enabled: true},
	))
	v := StoreValidator{Store: store}
	if _, err := v.Validate("sip", "secret"); err != nil {
		t.Fatalf("expected success before disable, got %v", err)
	}

	store.Publish(store.Load().Without("sip"))
	if _, err := v.Validate("sip", "secret"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized after disable, got %v", err)
	}
}

func TestFuncValidator(t *testing.T) {
	testlog.Start(t)

	validator := FuncValidator(func(username, password string) (account.Account, error) {
		if password != "ok" {
			return account.Account{}, ErrUnauthorized
		}
		return account.Account{Username: username}, nil
	})

	if _, err := validator.Validate("u", "bad"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized for bad password, got %v", err)
	}
	if acct, err := validator.Validate("u", "ok"); err != nil || acct.Username != "u" {
		t.Fatalf("expected success, got acct=%+v err=%v", acct, err)
	}
}
