package backend

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"
)

// Editor wraps a Client with an authtoken and the pcrud helpers.
type Editor struct {
	client Client
	token  string
	inXact bool
}

func NewEditor(c Client) *Editor {
	return &Editor{client: c}
}

func (e *Editor) Client() Client {
	return e.client
}

func (e *Editor) AuthToken() string {
	return e.token
}

func (e *Editor) SetAuthToken(token string) {
	e.token = token
}

func (e *Editor) ClearAuthToken() {
	e.token = ""
	e.inXact = false
}

// Request calls method with the authtoken as the first parameter.
func (e *Editor) Request(ctx context.Context, method string, params ...any) (gjson.Result, error) {
	if e.token == "" {
		return gjson.Result{}, ErrNoAuthToken
	}
	args := make([]any, 0, len(params)+1)
	args = append(args, e.token)
	args = append(args, params...)
	return e.client.Call(ctx, method, args...)
}

// CheckAuth reports whether the current token is still accepted.
func (e *Editor) CheckAuth(ctx context.Context) (bool, error) {
	if e.token == "" {
		return false, nil
	}
	_, err := e.Request(ctx, MethodSessionRetrieve)
	if IsNoSession(err) {
		e.token = ""
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Search returns every class row matching query. ops may be nil.
func (e *Editor) Search(ctx context.Context, class string, query any, ops any) ([]gjson.Result, error) {
	params := []any{query}
	if ops != nil {
		params = append(params, ops)
	}
	res, err := e.Request(ctx, SearchMethod(class), params...)
	if err != nil {
		return nil, err
	}
	if res.Type == gjson.Null || !res.Exists() {
		return nil, nil
	}
	if !res.IsArray() {
		return nil, fmt.Errorf("%w: search %s returned %s", ErrBadResponse, class, res.Type)
	}
	return res.Array(), nil
}

// Retrieve fetches one row by id. The bool is false when no row exists.
func (e *Editor) Retrieve(ctx context.Context, class string, id any) (gjson.Result, bool, error) {
	res, err := e.Request(ctx, RetrieveMethod(class), id)
	if err != nil {
		return gjson.Result{}, false, err
	}
	if !res.Exists() || res.Type == gjson.Null {
		return gjson.Result{}, false, nil
	}
	return res, true, nil
}

func (e *Editor) Begin(ctx context.Context) error {
	if _, err := e.Request(ctx, MethodXactBegin); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	e.inXact = true
	return nil
}

func (e *Editor) Commit(ctx context.Context) error {
	e.inXact = false
	if _, err := e.Request(ctx, MethodXactCommit); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Rollback is a no-op outside a transaction.
func (e *Editor) Rollback(ctx context.Context) error {
	if !e.inXact {
		return nil
	}
	e.inXact = false
	if _, err := e.Request(ctx, MethodXactRollback); err != nil {
		return fmt.Errorf("rollback transaction: %w", err)
	}
	return nil
}

func (e *Editor) InTransaction() bool {
	return e.inXact
}
