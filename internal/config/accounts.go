package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/sip2gate/internal/account"
	"github.com/danmuck/sip2gate/internal/sip2"
	"github.com/pelletier/go-toml/v2"
)

var ErrDuplicateAccount = errors.New("config: duplicate account")

type accountEntry struct {
	Username        string `toml:"username"`
	Password        string `toml:"password"`
	Institution     string `toml:"institution"`
	Workstation     string `toml:"workstation"`
	BackendUsername string `toml:"backend_username"`
	Framing         string `toml:"framing"`
	Enabled         *bool  `toml:"enabled"`
}

type accountsFile struct {
	Accounts []accountEntry `toml:"accounts"`
}

// LoadAccounts reads only the [[accounts]] tables of path. Other keys in
// the file are ignored so the main config file can double as the source.
func LoadAccounts(path string) ([]account.Account, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("accounts load failed (%s): %w", path, err)
	}
	var raw accountsFile
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("accounts parse failed (%s): %w", path, err)
	}
	return toAccounts(raw.Accounts)
}

func toAccounts(entries []accountEntry) ([]account.Account, error) {
	out := make([]account.Account, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for i, entry := range entries {
		a, err := entry.toAccount()
		if err != nil {
			return nil, fmt.Errorf("accounts[%d] invalid: %w", i, err)
		}
		if _, dup := seen[a.Username]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateAccount, a.Username)
		}
		seen[a.Username] = struct{}{}
		out = append(out, a)
	}
	return out, nil
}

func (e accountEntry) toAccount() (account.Account, error) {
	framing, err := sip2.ParseFraming(e.Framing)
	if err != nil {
		return account.Account{}, err
	}
	a := account.Account{
		Username:        strings.TrimSpace(e.Username),
		Password:        e.Password,
		Institution:     strings.TrimSpace(e.Institution),
		Workstation:     strings.TrimSpace(e.Workstation),
		BackendUsername: strings.TrimSpace(e.BackendUsername),
		Framing:         framing,
		Enabled:         e.Enabled == nil || *e.Enabled,
	}
	if err := a.Validate(); err != nil {
		return account.Account{}, err
	}
	return a, nil
}
