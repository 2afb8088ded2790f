// Package session runs one SIP2 terminal connection.
//
// A session starts Unauthenticated. A successful 93 login binds it to one
// account from the live table; every request after that re-checks the
// account is still live. Backend work runs under a staff login made on the
// account's behalf.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/danmuck/sip2gate/internal/account"
	"github.com/danmuck/sip2gate/internal/backend"
	logs "github.com/danmuck/sip2gate/internal/logging"
	"github.com/danmuck/sip2gate/internal/observability"
	"github.com/danmuck/sip2gate/internal/sip2"
	"github.com/google/uuid"
)

type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticated
)

func (s State) String() string {
	if s == StateAuthenticated {
		return "authenticated"
	}
	return "unauthenticated"
}

type Config struct {
	RecvTimeout         time.Duration
	SCStatusBeforeLogin bool
	// Framing is used until a login selects the account's mode.
	Framing sip2.Framing
}

func DefaultConfig() Config {
	return Config{
		RecvTimeout: 5 * time.Second,
		Framing:     sip2.FramingASCII,
	}
}

// ClientFactory opens a backend client for one session.
type ClientFactory func(traceID string) backend.Client

type Session struct {
	id       uint64
	trace    string
	cfg      Config
	conn     *sip2.Conn
	accounts *account.Store
	shutdown *atomic.Bool
	editor   *backend.Editor

	account *account.Account
	last    *sip2.Message
}

func New(id uint64, conn net.Conn, cfg Config, accounts *account.Store, newClient ClientFactory, shutdown *atomic.Bool) *Session {
	if cfg.RecvTimeout <= 0 {
		cfg.RecvTimeout = DefaultConfig().RecvTimeout
	}
	if shutdown == nil {
		shutdown = &atomic.Bool{}
	}
	trace := uuid.NewString()
	return &Session{
		id:       id,
		trace:    trace,
		cfg:      cfg,
		conn:     sip2.NewConn(conn, cfg.Framing),
		accounts: accounts,
		shutdown: shutdown,
		editor:   backend.NewEditor(newClient(trace)),
	}
}

func (s *Session) String() string {
	return fmt.Sprintf("Session %d", s.id)
}

func (s *Session) State() State {
	if s.account == nil {
		return StateUnauthenticated
	}
	return StateAuthenticated
}

// Account returns the bound account, if any.
func (s *Session) Account() (account.Account, bool) {
	if s.account == nil {
		return account.Account{}, false
	}
	return *s.account, true
}

// Run serves requests until the peer disconnects, an IO error occurs, or
// the shutdown flag or a cancelled ctx is seen on a receive timeout. The
// connection is closed on return.
func (s *Session) Run(ctx context.Context) error {
	defer s.conn.Close()
	logs.Infof("session.Session.Run sesid=%d trace=%s peer=%s", s.id, s.trace, s.conn.RemoteAddr())

	for {
		req, err := s.conn.RecvWithTimeout(s.cfg.RecvTimeout)
		if err != nil {
			var perr *sip2.ParseError
			switch {
			case errors.As(err, &perr), errors.Is(err, sip2.ErrMessageTooLarge):
				logs.Warnf("session.Session.Run sesid=%d malformed err=%v", s.id, err)
				observability.RecordMessage("??", "protocol", 0)
				if err := s.send(requestResend()); err != nil {
					return err
				}
				continue
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
				logs.Infof("session.Session.Run sesid=%d peer closed", s.id)
				return nil
			default:
				return fmt.Errorf("%w: recv: %w", ErrIO, err)
			}
		}

		if req == nil {
			if s.shutdown.Load() || ctx.Err() != nil {
				logs.Infof("session.Session.Run sesid=%d shutting down", s.id)
				return nil
			}
			continue
		}

		resp := s.Handle(ctx, req)
		if err := s.send(resp); err != nil {
			return err
		}
	}
}

func (s *Session) send(msg *sip2.Message) error {
	if err := s.conn.Send(msg); err != nil {
		return fmt.Errorf("%w: send: %w", ErrIO, err)
	}
	return nil
}

// Handle produces exactly one response for req. Cancelling ctx does not
// interrupt backend work already started for req.
func (s *Session) Handle(ctx context.Context, req *sip2.Message) *sip2.Message {
	ctx = context.WithoutCancel(ctx)
	start := time.Now()
	logs.Tracef("session.Session.Handle sesid=%d req=%q", s.id, req.String())

	resp, err := s.dispatch(ctx, req)
	if err != nil {
		level := logs.Warnf
		if kind(err) == ErrBackend {
			level = logs.Errorf
		}
		level("session.Session.Handle sesid=%d code=%s err=%v", s.id, req.Code(), err)
		resp = s.failureResponse(req, err)
	}

	if req.Code() != sip2.CodeRequestACSResend {
		if req.Seq >= 0 && resp.Code() != sip2.CodeRequestSCResend {
			resp.Seq = req.Seq
		}
		s.last = resp
	}

	observability.RecordMessage(string(req.Code()), outcome(err), time.Since(start))
	return resp
}

func (s *Session) dispatch(ctx context.Context, req *sip2.Message) (*sip2.Message, error) {
	switch req.Code() {
	case sip2.CodeSCStatus:
		return s.handleSCStatus(req)
	case sip2.CodeLogin:
		return s.handleLogin(req)
	case sip2.CodeRequestACSResend:
		return s.handleResend()
	case sip2.CodeItemInfo:
		return s.authenticated(ctx, req, s.handleItemInfo)
	case sip2.CodePatronStatus:
		return s.authenticated(ctx, req, s.handlePatronStatus)
	case sip2.CodePatronInfo:
		return s.authenticated(ctx, req, s.handlePatronInfo)
	case sip2.CodeFeePaid:
		return s.authenticated(ctx, req, s.handleFeePaid)
	default:
		return nil, fmt.Errorf("%w: unsupported code %s", ErrProtocol, req.Code())
	}
}

type handlerFunc func(ctx context.Context, req *sip2.Message, acct account.Account) (*sip2.Message, error)

// authenticated runs h only for a session bound to a still-live account.
func (s *Session) authenticated(ctx context.Context, req *sip2.Message, h handlerFunc) (*sip2.Message, error) {
	acct, err := s.liveAccount()
	if err != nil {
		return nil, err
	}
	return h(ctx, req, acct)
}

// liveAccount re-reads the bound account from the live table. An account
// the monitor has disabled drops the session back to Unauthenticated.
func (s *Session) liveAccount() (account.Account, error) {
	if s.account == nil {
		return account.Account{}, ErrAuth
	}
	live, ok := s.accounts.Lookup(s.account.Username)
	if !ok {
		logs.Warnf("session.Session.liveAccount sesid=%d username=%q disabled", s.id, s.account.Username)
		s.logout()
		return account.Account{}, fmt.Errorf("%w: account disabled", ErrAuth)
	}
	if live != *s.account {
		if live.StaffUsername() != s.account.StaffUsername() || live.Workstation != s.account.Workstation {
			s.editor.ClearAuthToken()
		}
		s.account = &live
	}
	return live, nil
}

func (s *Session) logout() {
	s.account = nil
	s.editor.ClearAuthToken()
}

func (s *Session) institution() string {
	if s.account == nil {
		return ""
	}
	return s.account.Institution
}

// withAuth runs fn under a staff backend session. A NO_SESSION event from
// fn triggers one re-login and one retry.
func (s *Session) withAuth(ctx context.Context, acct account.Account, fn func(ctx context.Context) error) error {
	if s.editor.AuthToken() == "" {
		if err := s.staffLogin(ctx, acct); err != nil {
			return err
		}
	}

	err := fn(ctx)
	if !backend.IsNoSession(err) {
		return err
	}

	logs.Infof("session.Session.withAuth sesid=%d backend session expired, logging in again", s.id)
	if err := s.staffLogin(ctx, acct); err != nil {
		return err
	}
	err = fn(ctx)
	if backend.IsNoSession(err) {
		return fmt.Errorf("%w: backend session: %w", ErrAuth, err)
	}
	return err
}

func (s *Session) staffLogin(ctx context.Context, acct account.Account) error {
	if err := backend.StaffLogin(ctx, s.editor, acct.StaffUsername(), acct.Workstation); err != nil {
		return fmt.Errorf("%w: staff login %s: %w", ErrBackend, acct.StaffUsername(), err)
	}
	logs.Debugf("session.Session.staffLogin sesid=%d staff=%q", s.id, acct.StaffUsername())
	return nil
}
