package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

var (
	ErrNoSuchUser  = errors.New("backend: no such user")
	ErrLoginFailed = errors.New("backend: internal login failed")
)

const LoginTypeStaff = "staff"

// InternalLoginArgs identifies who the gateway logs in as.
type InternalLoginArgs struct {
	UserID      int64  `json:"user_id"`
	LoginType   string `json:"login_type"`
	Workstation string `json:"workstation,omitempty"`
}

// InternalLogin creates a backend session without a password and returns
// its authtoken.
func InternalLogin(ctx context.Context, c Client, args InternalLoginArgs) (string, error) {
	if args.LoginType == "" {
		args.LoginType = LoginTypeStaff
	}
	res, err := c.Call(ctx, MethodSessionCreate, args)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}
	token := res.Get("authtoken").String()
	if token == "" {
		return "", fmt.Errorf("%w: no authtoken in response", ErrLoginFailed)
	}
	return token, nil
}

// StaffLogin looks up username and logs the editor in as that user.
func StaffLogin(ctx context.Context, e *Editor, username, workstation string) error {
	e.ClearAuthToken()
	users, err := e.searchUnauthenticated(ctx, "au", map[string]any{
		"usrname": username,
		"deleted": "f",
	})
	if err != nil {
		return fmt.Errorf("%w: user lookup: %w", ErrLoginFailed, err)
	}
	if len(users) == 0 {
		return fmt.Errorf("%w: %s", ErrNoSuchUser, username)
	}
	id := users[0].Get("id").Int()
	if id == 0 {
		return fmt.Errorf("%w: user %s has no id", ErrBadResponse, username)
	}

	token, err := InternalLogin(ctx, e.client, InternalLoginArgs{
		UserID:      id,
		LoginType:   LoginTypeStaff,
		Workstation: workstation,
	})
	if err != nil {
		return err
	}
	e.SetAuthToken(token)
	return nil
}

// searchUnauthenticated runs a pcrud search with an empty token; the
// internal auth service accepts user lookups from trusted callers.
func (e *Editor) searchUnauthenticated(ctx context.Context, class string, query any) ([]gjson.Result, error) {
	res, err := e.client.Call(ctx, SearchMethod(class), "", query)
	if err != nil {
		return nil, err
	}
	if !res.IsArray() {
		return nil, nil
	}
	return res.Array(), nil
}
